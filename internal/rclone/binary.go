package rclone

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/slok/xferd/internal/model"
)

// MinSupportedVersion is the minimum rclone version. `--files-from-raw` was
// added in v1.52.0 and `--use-json-log` in v1.49.0.
const MinSupportedVersion = "1.52.0"

// ErrNotFound is returned when the rclone binary can't be resolved.
var ErrNotFound = errors.New("rclone not found in PATH (or set RCLONE_PATH)")

// IncompatibleError is returned when rclone exists but its version is not usable.
type IncompatibleError struct {
	CurrentVersion string
	MinVersion     string
	Reason         string
}

func (e *IncompatibleError) Error() string {
	cur := strings.TrimPrefix(strings.TrimSpace(e.CurrentVersion), "rclone ")
	minV := strings.TrimSpace(e.MinVersion)
	reason := strings.TrimSpace(e.Reason)
	if minV == "" {
		minV = MinSupportedVersion
	}

	msg := fmt.Sprintf("rclone is incompatible (requires >= %s)", minV)
	if cur != "" {
		msg = fmt.Sprintf("rclone %s is incompatible (requires >= %s)", cur, minV)
	}
	if reason != "" {
		msg += ": " + reason
	}
	return msg
}

// TransferEngineError maps binary resolution errors to classified job errors.
func TransferEngineError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return model.NewJobError(model.ErrorCodeTransferEngineMissing, err.Error(), err)
	}
	var ie *IncompatibleError
	if errors.As(err, &ie) {
		return model.NewJobError(model.ErrorCodeTransferEngineIncompatible, ie.Error(), err)
	}
	return err
}

// Version is a parsed rclone version.
type Version struct {
	Major, Minor, Patch int
}

// Compare returns -1, 0 or 1.
func (v Version) Compare(o Version) int {
	switch {
	case v.Major != o.Major:
		return cmpInt(v.Major, o.Major)
	case v.Minor != o.Minor:
		return cmpInt(v.Minor, o.Minor)
	default:
		return cmpInt(v.Patch, o.Patch)
	}
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

var versionRegexp = regexp.MustCompile(`(?i)\bv?(\d+)\.(\d+)(?:\.(\d+))?`)

// ParseVersion extracts the first version found in s (e.g. `rclone v1.66.0`).
func ParseVersion(s string) (Version, bool) {
	m := versionRegexp.FindStringSubmatch(s)
	if len(m) < 3 {
		return Version{}, false
	}

	var v Version
	var err error
	if v.Major, err = strconv.Atoi(m[1]); err != nil {
		return Version{}, false
	}
	if v.Minor, err = strconv.Atoi(m[2]); err != nil {
		return Version{}, false
	}
	if len(m) >= 4 && m[3] != "" {
		if v.Patch, err = strconv.Atoi(m[3]); err != nil {
			return Version{}, false
		}
	}

	return v, true
}

// IsVersionCompatible returns true if the version line satisfies MinSupportedVersion.
func IsVersionCompatible(versionLine string) bool {
	cur, ok := ParseVersion(versionLine)
	if !ok {
		return false
	}
	minV, _ := ParseVersion(MinSupportedVersion)
	return cur.Compare(minV) >= 0
}

const versionTimeout = 2 * time.Second

// Binary resolves the rclone executable and checks its compatibility. A positive
// check is cached, failures are checked again on the next call.
type Binary struct {
	// Path is an explicit binary path, when empty local candidates and PATH are used.
	Path string

	mu       sync.Mutex
	resolved string
	version  string
}

// Resolve returns the binary path.
func (b *Binary) Resolve() (string, error) {
	if b.Path != "" {
		if _, err := os.Stat(b.Path); err != nil {
			return "", fmt.Errorf("invalid rclone path %q: %w", b.Path, err)
		}
		return b.Path, nil
	}

	if p, ok := findLocal(); ok {
		return p, nil
	}

	p, err := exec.LookPath("rclone")
	if err != nil {
		return "", ErrNotFound
	}
	return p, nil
}

// EnsureCompatible resolves the binary and checks its version.
func (b *Binary) EnsureCompatible(ctx context.Context) (path string, version string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.resolved != "" {
		return b.resolved, b.version, nil
	}

	path, err = b.Resolve()
	if err != nil {
		return "", "", err
	}

	ver, ok := DetectVersion(ctx, path)
	if !ok {
		return path, "", &IncompatibleError{MinVersion: MinSupportedVersion, Reason: "unable to determine rclone version"}
	}
	if !IsVersionCompatible(ver) {
		return path, ver, &IncompatibleError{CurrentVersion: ver, MinVersion: MinSupportedVersion, Reason: "version too old"}
	}

	b.resolved, b.version = path, ver
	return path, ver, nil
}

// DetectVersion returns the first line of `rclone version`.
func DetectVersion(ctx context.Context, path string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, "version").Output()
	if err != nil {
		return "", false
	}

	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	line = strings.TrimSpace(line)
	return line, line != ""
}

func findLocal() (string, bool) {
	candidates := []string{}
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		candidates = append(candidates,
			filepath.Join(exeDir, binaryName),
			filepath.Join(exeDir, "bin", binaryName),
		)
	}
	candidates = append(candidates,
		filepath.Join(".tools", "bin", binaryName),
		filepath.Join("..", ".tools", "bin", binaryName),
		filepath.Join("dist", "bin", binaryName),
		filepath.Join("..", "dist", "bin", binaryName),
	)

	for _, p := range candidates {
		info, err := os.Stat(p)
		if err != nil || info.IsDir() {
			continue
		}
		return p, true
	}
	return "", false
}
