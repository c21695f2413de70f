package updater

import (
	"context"
	"fmt"
	"os"

	"github.com/caedis/pack-sync/internal/config"
	"github.com/caedis/pack-sync/internal/logging"
	"github.com/caedis/pack-sync/internal/progress"
	"github.com/caedis/pack-sync/internal/runlock"
	"github.com/caedis/pack-sync/internal/semver"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// run carries the working data of one Run call.
type run struct {
	opts   Options
	result *Result
	sink   progress.Sink
	log    *logrus.Entry

	gameDir    string
	scratchDir string
	// serverPack is the downloaded base archive, once fetched.
	serverPack string
}

// Run syncs the instance to the manifest's target version. The state file
// is written only after every earlier phase succeeded; any error or
// cancellation ends the run in PhaseAborted with the state file untouched.
func Run(ctx context.Context, opts Options) (*Result, error) {
	opts, err := normalizeRunOptions(opts)
	if err != nil {
		return nil, err
	}

	r := &run{
		opts:   opts,
		result: &Result{RunID: uuid.NewString()},
		sink:   progress.Serialize(opts.Progress),
	}
	r.log = logging.WithFields(logrus.Fields{"run": r.result.RunID})
	r.result.Phases = append(r.result.Phases, PhaseIdle)
	logRunStart(r)

	lock, err := runlock.Acquire(opts.InstanceDir)
	if err != nil {
		return r.abort(err)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logging.Warnf("%v\n", err)
		}
	}()
	defer r.removeScratch()

	if err := r.execute(ctx); err != nil {
		return r.abort(err)
	}
	return r.result, nil
}

func (r *run) execute(ctx context.Context) error {
	if err := r.enter(ctx, PhaseFetchManifest); err != nil {
		return err
	}
	m, err := resolveManifest(ctx, r.opts, r.sink)
	if err != nil {
		return err
	}

	if err := r.enter(ctx, PhaseLoadState); err != nil {
		return err
	}
	prev, err := loadAndLogState(r.opts.InstanceDir)
	if err != nil {
		return err
	}
	r.gameDir = config.GameDir(r.opts.InstanceDir)

	next := &config.InstanceState{FileVersion: config.FileVersion, Version: semver.Zero}
	if prev != nil {
		next = prev.Clone()
	}
	current := next.Version
	target := m.TargetVersion(r.opts.Canary)
	r.result.OldVersion, r.result.NewVersion = current, current

	reasons, err := r.rebuildReasons(ctx, m, prev)
	if err != nil {
		return err
	}
	if len(reasons) > 0 {
		if err := r.enter(ctx, PhaseRebuildBase); err != nil {
			return err
		}
		r.result.Rebuilt, r.result.RebuildReasons = true, reasons
		logging.Infof("Rebuilding base pack: %s\n", joinReasons(reasons))
		if err := r.rebuildBase(ctx, m, next); err != nil {
			return fmt.Errorf("rebuilding base pack: %w", err)
		}
		// A fresh base tree has none of the patches applied.
		current = semver.Zero
	} else if err := r.enter(ctx, PhaseSkipRebuild); err != nil {
		return err
	}

	if err := r.enter(ctx, PhaseApplyPatches); err != nil {
		return err
	}
	if err := r.applyPatches(ctx, m, current, target, next); err != nil {
		return err
	}

	if err := r.enter(ctx, PhaseInstallExtension); err != nil {
		return err
	}
	if err := r.installExtension(ctx, m, next); err != nil {
		return fmt.Errorf("installing launch variants: %w", err)
	}

	if err := recordManifest(next, m, r.opts, current, target); err != nil {
		return err
	}
	r.result.NewVersion = next.Version

	if err := r.enter(ctx, PhasePersistState); err != nil {
		return err
	}
	if err := r.persist(prev, next); err != nil {
		return err
	}

	r.result.Phases = append(r.result.Phases, PhaseCleanup)
	r.sink.Report(progress.Indeterminate, PhaseCleanup.label())
	r.removeScratch()

	r.result.Phases = append(r.result.Phases, PhaseDone)
	r.sink.Report(1, PhaseDone.label())
	r.log.Debugf("sync finished version=%s rebuilt=%t applied=%d state-written=%t", next.Version, r.result.Rebuilt, len(r.result.Applied), r.result.StateWritten)
	return nil
}

// enter records phase and stops the run if ctx is already done.
func (r *run) enter(ctx context.Context, phase Phase) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.result.Phases = append(r.result.Phases, phase)
	r.sink.Report(progress.Indeterminate, phase.label())
	r.log.WithField("phase", phase.String()).Debugf("entering phase")
	return nil
}

func (r *run) abort(cause error) (*Result, error) {
	last := r.result.Final()
	r.result.Phases = append(r.result.Phases, PhaseAborted)
	r.sink.Report(progress.Indeterminate, PhaseAborted.label())
	r.log.WithField("phase", last.String()).Debugf("run aborted: %v", cause)
	return r.result, fmt.Errorf("%w during %s: %w", ErrAborted, last, cause)
}

// scratch returns the run's temporary directory, creating it on first use.
func (r *run) scratch() (string, error) {
	if r.scratchDir != "" {
		return r.scratchDir, nil
	}
	base := ""
	if r.opts.Settings != nil {
		base = r.opts.Settings.ScratchDir
	}
	if base != "" {
		if err := os.MkdirAll(base, 0o755); err != nil {
			return "", fmt.Errorf("creating scratch directory: %w", err)
		}
	}
	dir, err := os.MkdirTemp(base, "pack-sync-*")
	if err != nil {
		return "", fmt.Errorf("creating scratch directory: %w", err)
	}
	r.scratchDir = dir
	return dir, nil
}

// removeScratch deletes the scratch directory. Failures are only logged.
func (r *run) removeScratch() {
	if r.scratchDir == "" {
		return
	}
	if err := os.RemoveAll(r.scratchDir); err != nil {
		logging.Warnf("could not remove scratch directory %s: %v\n", r.scratchDir, err)
		return
	}
	r.scratchDir, r.serverPack = "", ""
}

// FetchManifest fetches the manifest of packURL for reuse across runs.
func FetchManifest(ctx context.Context, packURL string, sink progress.Sink) (*SharedData, error) {
	m, err := fetchAndLogManifest(ctx, packURL, sink)
	if err != nil {
		return nil, err
	}
	return &SharedData{PackURL: packURL, Manifest: m}, nil
}
