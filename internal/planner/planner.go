// Package planner decides which version patches a sync applies and whether
// the base archive has to be rebuilt first.
package planner

import (
	"fmt"
	"maps"
	"slices"

	"github.com/caedis/pack-sync/internal/checksum"
	"github.com/caedis/pack-sync/internal/manifest"
	"github.com/caedis/pack-sync/internal/semver"
)

// Step is one patch to apply, in order.
type Step struct {
	Version string
	Patch   manifest.VersionPatch
	// Suppressed lists mods whose install in this patch is skipped because a
	// later step installs them again.
	Suppressed map[string]bool
}

// Mods returns the mod ids of the step in lexical order, with the changes
// that should actually run. Suppressed mods are left out.
func (s Step) Mods() []string {
	var ids []string
	for _, id := range slices.Sorted(maps.Keys(s.Patch.Mods)) {
		if !s.Suppressed[id] {
			ids = append(ids, id)
		}
	}
	return ids
}

// Plan returns the patches with current < version <= target in ascending
// version order. An unparsable key fails the whole plan.
func Plan(current, target string, versions map[string]manifest.VersionPatch) ([]Step, error) {
	cur, err := semver.Parse(current)
	if err != nil {
		return nil, &manifest.ConfigurationError{Key: "current version", Err: err}
	}
	tgt, err := semver.Parse(target)
	if err != nil {
		return nil, &manifest.ConfigurationError{Key: "target version", Err: err}
	}
	keys, err := semver.SortKeys(slices.Collect(maps.Keys(versions)))
	if err != nil {
		return nil, &manifest.ConfigurationError{Key: "versions", Err: err}
	}

	var steps []Step
	for _, k := range keys {
		if k.Version.GreaterThan(cur) && k.Version.LessThanOrEqual(tgt) {
			steps = append(steps, Step{Version: k.Key, Patch: versions[k.Key]})
		}
	}

	// Walk backwards so each step knows which mods a later step installs.
	installedLater := make(map[string]bool)
	for i := len(steps) - 1; i >= 0; i-- {
		for id, change := range steps[i].Patch.Mods {
			if change.Installs() && installedLater[id] {
				if steps[i].Suppressed == nil {
					steps[i].Suppressed = make(map[string]bool)
				}
				steps[i].Suppressed[id] = true
			}
		}
		for id, change := range steps[i].Patch.Mods {
			if change.Installs() {
				installedLater[id] = true
			}
		}
	}
	return steps, nil
}

// RebuildInput is what the rebuild decision compares.
type RebuildInput struct {
	Force bool
	// Previous is the recorded state, zero when none was usable.
	PreviousVersion       string
	PreviousServerPackURL string
	PreviousServerPackMD5 string
	PreviousMinecraft     string
	PreviousLoader        string
	PreviousOverridesURL  string
	PreviousSide          string

	ServerPackURL string
	Minecraft     string
	Loader        string
	OverridesURL  string
	Side          string
	// VerifyChecksum enables the checksum comparison below.
	VerifyChecksum bool
	// RemoteMD5 is the current digest of the base archive, when known.
	RemoteMD5 string
}

// NeedsRebuild returns every reason the base archive must be re-extracted.
// An empty result means the existing tree can be patched incrementally.
func NeedsRebuild(in RebuildInput) []string {
	var reasons []string
	if in.Force {
		reasons = append(reasons, "forced")
	}
	if cur, err := semver.Parse(in.PreviousVersion); err != nil || semver.IsZero(cur) {
		reasons = append(reasons, "no previous sync")
	}
	if in.PreviousServerPackURL != in.ServerPackURL {
		reasons = append(reasons, fmt.Sprintf("server pack changed (%s -> %s)", orNone(in.PreviousServerPackURL), in.ServerPackURL))
	}
	if in.PreviousMinecraft != in.Minecraft {
		reasons = append(reasons, fmt.Sprintf("game version changed (%s -> %s)", orNone(in.PreviousMinecraft), in.Minecraft))
	}
	if in.PreviousLoader != in.Loader {
		reasons = append(reasons, fmt.Sprintf("loader version changed (%s -> %s)", orNone(in.PreviousLoader), orNone(in.Loader)))
	}
	if in.PreviousOverridesURL != in.OverridesURL {
		reasons = append(reasons, fmt.Sprintf("client overrides changed (%s -> %s)", orNone(in.PreviousOverridesURL), orNone(in.OverridesURL)))
	}
	if in.PreviousSide != in.Side {
		reasons = append(reasons, fmt.Sprintf("side changed (%s -> %s)", orNone(in.PreviousSide), in.Side))
	}
	if in.VerifyChecksum && in.RemoteMD5 != "" && !checksum.Equal(in.PreviousServerPackMD5, in.RemoteMD5) {
		reasons = append(reasons, "server pack checksum changed")
	}
	return reasons
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
