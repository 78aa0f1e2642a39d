package model

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ProfileProvider is the kind of S3 service a profile connects to.
type ProfileProvider string

const (
	ProfileProviderAWS          ProfileProvider = "aws_s3"
	ProfileProviderS3Compatible ProfileProvider = "s3_compatible"
)

// TLSMode is the TLS client authentication mode of a profile.
type TLSMode string

const (
	TLSModeDisabled TLSMode = "disabled"
	TLSModeMTLS     TLSMode = "mtls"
)

// TLSConfig is the client TLS material of a profile.
type TLSConfig struct {
	Mode          TLSMode
	ClientCertPEM string
	ClientKeyPEM  string
	CACertPEM     string
}

// Profile has the connection settings and credentials of an S3 endpoint.
type Profile struct {
	ID                    string
	Name                  string
	Provider              ProfileProvider
	Endpoint              string
	Region                string
	ForcePathStyle        bool
	AccessKeyID           string
	SecretAccessKey       string
	SessionToken          string
	TLSInsecureSkipVerify bool
	TLS                   *TLSConfig
	// PreserveLeadingSlash keeps a leading "/" on keys and prefixes.
	PreserveLeadingSlash bool
	CreatedAt            time.Time
}

// Validate validates the profile.
func (p Profile) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("id is required: %w", ErrNotValid)
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("name is required: %w", ErrNotValid)
	}
	switch p.Provider {
	case ProfileProviderAWS, ProfileProviderS3Compatible:
	default:
		return fmt.Errorf("unsupported provider %q: %w", p.Provider, ErrNotValid)
	}
	if p.Region == "" {
		return fmt.Errorf("region is required: %w", ErrNotValid)
	}
	if p.Endpoint != "" {
		if _, err := url.Parse(p.Endpoint); err != nil {
			return fmt.Errorf("invalid endpoint %q: %w", p.Endpoint, ErrNotValid)
		}
	}
	if p.TLS != nil && p.TLS.Mode == TLSModeMTLS {
		if strings.TrimSpace(p.TLS.ClientCertPEM) == "" || strings.TrimSpace(p.TLS.ClientKeyPEM) == "" {
			return fmt.Errorf("mtls requires client certificate and key: %w", ErrNotValid)
		}
	}
	return nil
}

// UploadSession is a pre-commit staging area for uploaded files.
type UploadSession struct {
	ID         string
	ProfileID  string
	Bucket     string
	Prefix     string
	StagingDir string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// Expired returns true if the session expired at the moment t.
func (u UploadSession) Expired(t time.Time) bool {
	return !u.ExpiresAt.IsZero() && t.After(u.ExpiresAt)
}

// ObjectIndexEntry is an indexed S3 object.
type ObjectIndexEntry struct {
	Key          string
	Size         int64
	ETag         string
	LastModified *time.Time
}
