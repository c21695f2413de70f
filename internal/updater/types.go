package updater

import (
	"errors"

	"github.com/caedis/pack-sync/internal/manifest"
	"github.com/caedis/pack-sync/internal/progress"
	"github.com/caedis/pack-sync/internal/settings"
	"github.com/caedis/pack-sync/internal/side"
	"github.com/caedis/pack-sync/internal/toolchain"
)

// ErrAborted wraps every error that ends a run before its state is saved.
var ErrAborted = errors.New("sync aborted")

type Options struct {
	InstanceDir string
	PackURL     string
	Canary      bool
	Force       bool
	Side        side.Side
	Concurrency int
	Settings    *settings.Settings

	Installer toolchain.Installer
	ModLookup toolchain.ModLookup
	Extension toolchain.ExtensionInstaller

	Progress progress.Sink
	// Shared, when set, supplies an already fetched manifest for PackURL.
	Shared *SharedData
}

// SharedData is fetched once and reused across sequential profile syncs
// that point at the same pack.
type SharedData struct {
	PackURL  string
	Manifest *manifest.PackManifest
}

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseFetchManifest
	PhaseLoadState
	PhaseRebuildBase
	PhaseSkipRebuild
	PhaseApplyPatches
	PhaseInstallExtension
	PhasePersistState
	PhaseCleanup
	PhaseDone
	PhaseAborted
)

var phaseNames = [...]string{
	PhaseIdle:             "idle",
	PhaseFetchManifest:    "fetch-manifest",
	PhaseLoadState:        "load-state",
	PhaseRebuildBase:      "rebuild-base",
	PhaseSkipRebuild:      "skip-rebuild",
	PhaseApplyPatches:     "apply-patches",
	PhaseInstallExtension: "install-extension",
	PhasePersistState:     "persist-state",
	PhaseCleanup:          "cleanup",
	PhaseDone:             "done",
	PhaseAborted:          "aborted",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// label is what progress sinks show while a phase runs.
func (p Phase) label() string {
	switch p {
	case PhaseFetchManifest:
		return "Fetching manifest"
	case PhaseLoadState:
		return "Reading instance state"
	case PhaseRebuildBase:
		return "Rebuilding base pack"
	case PhaseSkipRebuild:
		return "Base pack is current"
	case PhaseApplyPatches:
		return "Applying patches"
	case PhaseInstallExtension:
		return "Installing launch variants"
	case PhasePersistState:
		return "Saving state"
	case PhaseCleanup:
		return "Cleaning up"
	case PhaseDone:
		return "Done"
	case PhaseAborted:
		return "Aborted"
	default:
		return "Starting"
	}
}

type Result struct {
	RunID string
	// Phases is every phase the run entered, in order.
	Phases         []Phase
	OldVersion     string
	NewVersion     string
	Rebuilt        bool
	RebuildReasons []string
	Applied        []string
	ModsInstalled  int
	ModsRemoved    int
	FilesTouched   int
	StateWritten   bool
}

// Final is the last phase entered, PhaseIdle before any.
func (r *Result) Final() Phase {
	if len(r.Phases) == 0 {
		return PhaseIdle
	}
	return r.Phases[len(r.Phases)-1]
}
