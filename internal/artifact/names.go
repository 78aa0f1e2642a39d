package artifact

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrUnsafeName is returned for entry names that can't be safely extracted.
var ErrUnsafeName = errors.New("unsafe zip entry name")

// SanitizeEntryName normalizes an entry name with "/" separators and without
// leading slashes. Empty, null byte and path traversal names are rejected.
func SanitizeEntryName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: empty", ErrUnsafeName)
	}
	if strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("%w: null byte", ErrUnsafeName)
	}
	name = strings.TrimLeft(strings.ReplaceAll(name, "\\", "/"), "/")

	clean := path.Clean(name)
	switch {
	case clean == "." || clean == ".." || clean == "":
		return "", fmt.Errorf("%w: invalid", ErrUnsafeName)
	case strings.HasPrefix(clean, "../"):
		return "", fmt.Errorf("%w: traversal", ErrUnsafeName)
	}

	for _, p := range strings.Split(clean, "/") {
		if p == "" || p == "." || p == ".." {
			return "", fmt.Errorf("%w: invalid segment", ErrUnsafeName)
		}
	}

	return clean, nil
}

const maxUniqueSuffix = 10_000

// UniqueEntryName returns name, or `base-N.ext` (N >= 2) when already used, and
// marks the result as used.
func UniqueEntryName(used map[string]struct{}, name string) string {
	if _, ok := used[name]; !ok {
		used[name] = struct{}{}
		return name
	}

	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 2; i < maxUniqueSuffix; i++ {
		candidate := fmt.Sprintf("%s-%d%s", base, i, ext)
		if _, ok := used[candidate]; ok {
			continue
		}
		used[candidate] = struct{}{}
		return candidate
	}

	return name
}

// DefaultZipNameFromPrefix returns the download name of a prefix zip.
func DefaultZipNameFromPrefix(bucket, prefix string) string {
	bucket = strings.TrimSpace(bucket)
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	switch {
	case bucket == "":
		return "download.zip"
	case prefix == "":
		return SafeZipFilename(bucket) + ".zip"
	}
	return SafeZipFilename(bucket+"-"+prefix) + ".zip"
}

// DefaultZipNameFromKeys returns the download name of a zip of keys.
func DefaultZipNameFromKeys(bucket, stripPrefix string, keys []string) string {
	bucket = strings.TrimSpace(bucket)
	stripPrefix = strings.Trim(strings.TrimSpace(stripPrefix), "/")
	switch {
	case bucket == "":
		return "download.zip"
	case stripPrefix != "":
		return SafeZipFilename(bucket+"-"+stripPrefix) + ".zip"
	case len(keys) == 1:
		return SafeZipFilename(bucket+"-"+path.Base(keys[0])) + ".zip"
	}
	return SafeZipFilename(bucket+"-selection") + ".zip"
}

const maxZipFilenameLen = 120

// SafeZipFilename keeps letters, numbers and `-_.`, the rest are replaced by "-".
func SafeZipFilename(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "download"
	}

	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.' || r == ' ':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}

	out := strings.Trim(strings.TrimSpace(b.String()), ".")
	out = strings.Trim(strings.ReplaceAll(out, " ", "-"), "-")
	if out == "" {
		return "download"
	}
	if len(out) > maxZipFilenameLen {
		cut := maxZipFilenameLen
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		out = out[:cut]
	}
	return out
}
