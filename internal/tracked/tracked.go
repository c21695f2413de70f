// Package tracked records content hashes of the files a sync wrote so later
// local edits can be reported.
package tracked

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/caedis/pack-sync/internal/checksum"
)

type Status string

const (
	Removed   Status = "removed"
	Modified  Status = "modified"
	Unchanged Status = "unchanged"
)

type Change struct {
	Path   string
	Status Status
}

// Hash returns the sha256 of each slash-separated path under gameDir.
// Paths that no longer exist are left out.
func Hash(gameDir string, paths []string) (map[string]string, error) {
	hashes := make(map[string]string, len(paths))
	for _, p := range paths {
		sum, err := checksum.FileSHA256(filepath.Join(gameDir, filepath.FromSlash(p)))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("hashing %s: %w", p, err)
		}
		hashes[p] = sum
	}
	return hashes, nil
}

// Merge returns baseline with updates applied. Neither input is modified.
func Merge(baseline, updates map[string]string) map[string]string {
	if len(baseline) == 0 && len(updates) == 0 {
		return baseline
	}
	out := maps.Clone(baseline)
	if out == nil {
		out = make(map[string]string, len(updates))
	}
	maps.Copy(out, updates)
	return out
}

// Diff compares the files under gameDir against the recorded hashes, in path
// order. Unchanged files are reported only when includeUnchanged is set.
func Diff(gameDir string, baseline map[string]string, includeUnchanged bool) ([]Change, error) {
	var changes []Change
	for _, p := range slices.Sorted(maps.Keys(baseline)) {
		sum, err := checksum.FileSHA256(filepath.Join(gameDir, filepath.FromSlash(p)))
		var status Status
		switch {
		case errors.Is(err, os.ErrNotExist):
			status = Removed
		case err != nil:
			return nil, fmt.Errorf("hashing %s: %w", p, err)
		case sum != baseline[p]:
			status = Modified
		default:
			status = Unchanged
		}
		if status == Unchanged && !includeUnchanged {
			continue
		}
		changes = append(changes, Change{Path: p, Status: status})
	}
	return changes, nil
}
