package semver

import (
	"fmt"
	"slices"
	"strings"

	goversion "github.com/hashicorp/go-version"
)

// Zero is the applied version of an instance that has nothing installed.
const Zero = "0.0.0"

// Version is a parsed semantic version.
type Version = goversion.Version

// Parse parses a version string such as "1.2.3", "v1.2.3" or "1.2.3-beta.1".
// An empty string parses as Zero.
func Parse(v string) (*Version, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		v = Zero
	}
	parsed, err := goversion.NewVersion(v)
	if err != nil {
		return nil, fmt.Errorf("invalid version %q: %w", v, err)
	}
	return parsed, nil
}

// IsZero reports whether v is the "nothing installed" version.
func IsZero(v *Version) bool {
	return v == nil || v.Equal(goversion.Must(goversion.NewVersion(Zero)))
}

// Compare compares two version strings semantically.
// Returns -1 if a < b, 0 if a == b, +1 if a > b.
func Compare(a, b string) (int, error) {
	av, err := Parse(a)
	if err != nil {
		return 0, err
	}
	bv, err := Parse(b)
	if err != nil {
		return 0, err
	}
	return av.Compare(bv), nil
}

// Keyed pairs an original map key with its parsed version.
type Keyed struct {
	Key     string
	Version *Version
}

// SortKeys parses every key and returns them in ascending version order.
// Keys that compare equal keep lexical order so the result is deterministic.
// The first unparsable key (in lexical order) is reported as an error.
func SortKeys(keys []string) ([]Keyed, error) {
	sorted := slices.Sorted(slices.Values(keys))
	out := make([]Keyed, 0, len(sorted))
	for _, k := range sorted {
		v, err := goversion.NewVersion(strings.TrimSpace(k))
		if err != nil {
			return nil, fmt.Errorf("invalid version key %q: %w", k, err)
		}
		out = append(out, Keyed{Key: k, Version: v})
	}
	slices.SortStableFunc(out, func(a, b Keyed) int {
		return a.Version.Compare(b.Version)
	})
	return out, nil
}
