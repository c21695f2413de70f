package patch

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/aymanbagabas/go-udiff"
	"github.com/caedis/pack-sync/internal/planner"
)

// FileChange describes what a step would do to one file.
type FileChange struct {
	Path string
	// Action is "replace", "download", "remove" or "install".
	Action string
	// Diff is a unified diff for config replacements; empty otherwise.
	Diff string
}

// Preview reports the changes Apply would make for step without touching
// the tree. Config replacements are rendered as unified diffs.
func (a *Applier) Preview(step planner.Step) ([]FileChange, error) {
	var changes []FileChange

	for _, id := range step.Mods() {
		change := step.Patch.Mods[id]
		if change.Removes() {
			m, err := RemovalMatcher(id, change.Pattern)
			if err != nil {
				return nil, err
			}
			entries, _ := os.ReadDir(a.modsDir())
			for _, e := range entries {
				if !e.IsDir() && m.Match(e.Name()) {
					changes = append(changes, FileChange{Path: ModsDir + "/" + e.Name(), Action: "remove"})
				}
			}
		}
		if change.Installs() {
			name, err := InstallName(id, change.URL)
			if err != nil {
				return nil, err
			}
			changes = append(changes, FileChange{Path: ModsDir + "/" + name, Action: "install"})
		}
	}

	for _, rel := range slices.Sorted(maps.Keys(step.Patch.Configs)) {
		dest, err := a.resolve(rel)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(dest)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", rel, err)
		}
		current := string(bytes.TrimPrefix(data, utf8BOM))
		updated, err := ReplaceText(current, step.Patch.Configs[rel])
		if err != nil {
			return nil, fmt.Errorf("config %s: %w", rel, err)
		}
		if updated == current {
			continue
		}
		diff := strings.TrimSpace(udiff.Unified(rel+" (current)", rel+" (patched)", current, updated))
		changes = append(changes, FileChange{Path: rel, Action: "replace", Diff: diff})
	}

	for _, rel := range slices.Sorted(maps.Keys(step.Patch.Files)) {
		changes = append(changes, FileChange{Path: rel, Action: "download"})
	}
	return changes, nil
}

func (a *Applier) modsDir() string {
	return filepath.Join(a.GameDir, ModsDir)
}
