package updater

import (
	"context"
	"maps"
	"slices"

	"github.com/caedis/pack-sync/internal/config"
	"github.com/caedis/pack-sync/internal/patch"
	"github.com/caedis/pack-sync/internal/planner"
	"github.com/caedis/pack-sync/internal/semver"
)

// Report describes what a sync would do.
type Report struct {
	CurrentVersion string
	TargetVersion  string
	RebuildReasons []string
	// ChecksumUnknown is set when the manifest asks for verification but
	// publishes no digest, so a rebuild can only be decided by downloading.
	ChecksumUnknown bool
	Steps           []StepPreview
}

type StepPreview struct {
	Version    string
	Suppressed []string
	Changes    []patch.FileChange
}

// Preview plans a sync without downloading archives or touching the
// instance. Config diffs for steps after a rebuild are computed against
// the current tree and may differ once the base archive is re-extracted.
func Preview(ctx context.Context, opts Options) (*Report, error) {
	opts, err := normalizeRunOptions(opts)
	if err != nil {
		return nil, err
	}
	m, err := resolveManifest(ctx, opts, opts.Progress)
	if err != nil {
		return nil, err
	}
	prev, err := loadAndLogState(opts.InstanceDir)
	if err != nil {
		return nil, err
	}

	rep := &Report{CurrentVersion: semver.Zero, TargetVersion: m.TargetVersion(opts.Canary)}
	if prev != nil {
		rep.CurrentVersion = prev.Version
	}
	in := rebuildInput(m, prev, opts)
	rep.RebuildReasons = planner.NeedsRebuild(in)
	rep.ChecksumUnknown = in.VerifyChecksum && in.RemoteMD5 == ""

	from := rep.CurrentVersion
	if len(rep.RebuildReasons) > 0 {
		from = semver.Zero
	}
	steps, err := planner.Plan(from, rep.TargetVersion, m.Versions)
	if err != nil {
		return nil, err
	}

	applier := &patch.Applier{GameDir: config.GameDir(opts.InstanceDir)}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		changes, err := applier.Preview(step)
		if err != nil {
			return nil, err
		}
		rep.Steps = append(rep.Steps, StepPreview{
			Version:    step.Version,
			Suppressed: slices.Sorted(maps.Keys(step.Suppressed)),
			Changes:    changes,
		})
	}
	return rep, nil
}
