// Package env handles the extra environment passed to the transfer engine.
package env

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

var keyRegexp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ParseSpecs parses `KEY=VALUE` specs. A bare `KEY` takes the value from the
// current environment.
func ParseSpecs(specs []string) (map[string]string, error) {
	vars := make(map[string]string, len(specs))

	for _, spec := range specs {
		if spec == "" {
			return nil, fmt.Errorf("environment variable spec cannot be empty")
		}

		key, value, hasValue := strings.Cut(spec, "=")
		if !keyRegexp.MatchString(key) {
			return nil, fmt.Errorf("invalid environment variable key %q", key)
		}

		if !hasValue {
			v, ok := os.LookupEnv(key)
			if !ok {
				return nil, fmt.Errorf("environment variable %q is not set", key)
			}
			value = v
		}

		vars[key] = value
	}

	return vars, nil
}

// Merge returns a new map with the override values on top of base.
func Merge(base, override map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}

// Environ appends the vars to a `KEY=VALUE` environment list in key order.
// Earlier entries of the same key are shadowed because the last one wins.
func Environ(base []string, vars map[string]string) []string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(base)+len(keys))
	out = append(out, base...)
	for _, k := range keys {
		out = append(out, k+"="+vars[k])
	}
	return out
}
