// Package toolchain holds the collaborators a sync calls out to: the runtime
// installer, the mod metadata lookup and the optional launch-variant
// installer.
package toolchain

import (
	"context"
	"fmt"
	"strings"

	"github.com/caedis/pack-sync/internal/manifest"
	"github.com/caedis/pack-sync/internal/side"
)

// InstallRequest describes the runtime a rebuilt instance needs.
type InstallRequest struct {
	InstanceDir      string
	GameDir          string
	MinecraftVersion string
	LoaderVersion    string
	Side             side.Side
}

// Installer installs the game runtime and mod loader, returning the launch
// identifier of the installed profile.
type Installer interface {
	Install(ctx context.Context, req InstallRequest) (launchID string, err error)
}

// ModFile is a resolved entry of an externally described mod list.
type ModFile struct {
	URL      string
	FileName string
	// Subfolder is the GameDir-relative directory the file belongs in.
	Subfolder string
}

// ModLookup resolves external project/file ids to downloadable files.
type ModLookup interface {
	Resolve(ctx context.Context, projectID, fileID int64) (ModFile, error)
}

// ExtensionInstaller adds the optional launch variants of a pack.
type ExtensionInstaller interface {
	Install(ctx context.Context, instanceDir string, m *manifest.PackManifest, baseLaunchID string) (vrID, nonVRID string, err error)
}

// LaunchIDFor is the launch identifier used when no installer reports one.
func LaunchIDFor(minecraftVersion, loaderVersion string) string {
	minecraftVersion = strings.TrimSpace(minecraftVersion)
	loaderVersion = strings.TrimSpace(loaderVersion)
	if loaderVersion == "" {
		return minecraftVersion
	}
	return fmt.Sprintf("%s-forge-%s", minecraftVersion, loaderVersion)
}
