package rclone

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/slok/xferd/internal/model"
)

// RemoteName is the remote section name used in the generated configs.
const RemoteName = "remote"

// NormalizePathInput trims a key or prefix. A leading "/" is removed unless
// preserved, otherwise rclone would create an empty path component.
func NormalizePathInput(value string, preserveLeadingSlash bool) string {
	value = strings.TrimSpace(value)
	if preserveLeadingSlash {
		return value
	}
	return strings.TrimPrefix(value, "/")
}

// NormalizePrefix normalizes a directory like prefix, non empty prefixes end with "/".
func NormalizePrefix(prefix string, preserveLeadingSlash bool) string {
	p := NormalizePathInput(prefix, preserveLeadingSlash)
	if p != "" && !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// RemoteBucket returns `remote:bucket`.
func RemoteBucket(bucket string) string {
	return fmt.Sprintf("%s:%s", RemoteName, strings.TrimSpace(bucket))
}

// RemoteDir returns `remote:bucket/prefix/`.
func RemoteDir(bucket, prefix string, preserveLeadingSlash bool) string {
	p := NormalizePrefix(prefix, preserveLeadingSlash)
	if p == "" {
		return RemoteBucket(bucket)
	}
	return fmt.Sprintf("%s:%s/%s", RemoteName, strings.TrimSpace(bucket), p)
}

// RemoteObject returns `remote:bucket/key`.
func RemoteObject(bucket, key string, preserveLeadingSlash bool) string {
	k := NormalizePathInput(key, preserveLeadingSlash)
	if k == "" {
		return RemoteBucket(bucket)
	}
	return fmt.Sprintf("%s:%s/%s", RemoteName, strings.TrimSpace(bucket), k)
}

// ObjectKey joins a listing prefix and an entry name into an object key.
func ObjectKey(prefix, name string, preserveLeadingSlash bool) string {
	prefix = NormalizePathInput(prefix, preserveLeadingSlash)
	name = NormalizePathInput(name, preserveLeadingSlash)
	switch {
	case prefix == "":
		return name
	case name == "":
		return strings.TrimSuffix(prefix, "/")
	case strings.HasSuffix(prefix, "/"):
		return prefix + name
	}
	return prefix + "/" + name
}

// RenderConfig renders the rclone config of a profile.
func RenderConfig(p model.Profile) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]\n", RemoteName)

	switch p.Provider {
	case model.ProfileProviderAWS:
		b.WriteString("type = s3\nprovider = AWS\n")
	case model.ProfileProviderS3Compatible:
		b.WriteString("type = s3\nprovider = Other\n")
	default:
		return "", fmt.Errorf("unsupported provider %q: %w", p.Provider, model.ErrNotValid)
	}

	if endpoint := strings.TrimSpace(p.Endpoint); endpoint != "" {
		fmt.Fprintf(&b, "endpoint = %s\n", endpoint)
	}
	if region := strings.TrimSpace(p.Region); region != "" {
		fmt.Fprintf(&b, "region = %s\n", region)
	}
	fmt.Fprintf(&b, "access_key_id = %s\n", p.AccessKeyID)
	fmt.Fprintf(&b, "secret_access_key = %s\n", p.SecretAccessKey)
	if token := strings.TrimSpace(p.SessionToken); token != "" {
		fmt.Fprintf(&b, "session_token = %s\n", token)
	}
	fmt.Fprintf(&b, "force_path_style = %t\n", p.ForcePathStyle)

	return b.String(), nil
}

// WriteConfigFile writes the profile config with owner only permissions.
func WriteConfigFile(path string, p model.Profile) error {
	cfg, err := RenderConfig(p)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("could not create config directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("could not write rclone config: %w", err)
	}
	return nil
}

// TLSFlags returns the TLS flags of a profile and a cleanup for the temporary
// certificate material.
func TLSFlags(p model.Profile) (flags []string, cleanup func(), err error) {
	cleanup = func() {}

	if p.TLSInsecureSkipVerify {
		flags = append(flags, "--no-check-certificate")
	}
	if p.TLS == nil {
		return flags, cleanup, nil
	}

	switch model.TLSMode(strings.ToLower(strings.TrimSpace(string(p.TLS.Mode)))) {
	case "", model.TLSModeDisabled:
		return flags, cleanup, nil
	case model.TLSModeMTLS:
	default:
		return nil, cleanup, fmt.Errorf("unsupported tls mode: %s", p.TLS.Mode)
	}

	certPEM := strings.TrimSpace(p.TLS.ClientCertPEM)
	keyPEM := strings.TrimSpace(p.TLS.ClientKeyPEM)
	if certPEM == "" || keyPEM == "" {
		return nil, cleanup, fmt.Errorf("mtls requires client certificate and key")
	}

	dir, err := os.MkdirTemp("", "rclone-tls-")
	if err != nil {
		return nil, cleanup, fmt.Errorf("could not create tls dir: %w", err)
	}
	rm := func() { _ = os.RemoveAll(dir) }

	files := []struct {
		flag, name, data string
	}{
		{"--client-cert", "client-cert.pem", certPEM},
		{"--client-key", "client-key.pem", keyPEM},
		{"--ca-cert", "ca.pem", strings.TrimSpace(p.TLS.CACertPEM)},
	}
	for _, f := range files {
		if f.data == "" {
			continue
		}
		path := filepath.Join(dir, f.name)
		if err := os.WriteFile(path, []byte(f.data), 0o600); err != nil {
			rm()
			return nil, func() {}, fmt.Errorf("could not write %s: %w", f.name, err)
		}
		flags = append(flags, f.flag, path)
	}

	return flags, rm, nil
}
