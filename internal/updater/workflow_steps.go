package updater

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/caedis/pack-sync/internal/archive"
	"github.com/caedis/pack-sync/internal/checksum"
	"github.com/caedis/pack-sync/internal/config"
	"github.com/caedis/pack-sync/internal/downloader"
	"github.com/caedis/pack-sync/internal/logging"
	"github.com/caedis/pack-sync/internal/manifest"
	"github.com/caedis/pack-sync/internal/patch"
	"github.com/caedis/pack-sync/internal/planner"
	"github.com/caedis/pack-sync/internal/progress"
	"github.com/caedis/pack-sync/internal/semver"
	"github.com/caedis/pack-sync/internal/side"
	"github.com/caedis/pack-sync/internal/toolchain"
	"github.com/caedis/pack-sync/internal/tracked"
	securejoin "github.com/cyphar/filepath-securejoin"
)

// teardownDirs are emptied before a base rebuild. Files outside them, such
// as options.txt, servers.dat and assets/, survive.
var teardownDirs = []string{"mods", "config", "resources", "scripts"}

// extractSection is one part of the base archive and its overwrite policy.
type extractSection struct {
	subfolder string
	overwrite bool
	optional  bool
}

var baseSections = []extractSection{
	{subfolder: "config", overwrite: true},
	{subfolder: "mods", overwrite: true},
	{subfolder: "resources", optional: true},
	{subfolder: "scripts", optional: true},
}

const (
	serverPackFile = "server-pack.zip"
	overridesFile  = "client-overrides.zip"
	modListFile    = "modlist.json"
)

func normalizeRunOptions(opts Options) (Options, error) {
	if strings.TrimSpace(opts.InstanceDir) == "" {
		return opts, errors.New("instance directory is required")
	}
	abs, err := filepath.Abs(opts.InstanceDir)
	if err != nil {
		return opts, fmt.Errorf("resolving instance directory: %w", err)
	}
	opts.InstanceDir = abs
	if opts.Shared == nil && strings.TrimSpace(opts.PackURL) == "" {
		return opts, errors.New("pack URL is required")
	}
	if opts.Side == "" {
		opts.Side = side.Client
	}
	if opts.Concurrency < 1 && opts.Settings != nil {
		opts.Concurrency = opts.Settings.Concurrency
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = downloader.DefaultConcurrency
	}
	return opts, nil
}

func logRunStart(r *run) {
	r.log.Debugf(
		"sync start instance=%q pack=%q side=%s canary=%t force=%t concurrency=%d installer=%t lookup=%t extension=%t",
		r.opts.InstanceDir,
		r.opts.PackURL,
		r.opts.Side,
		r.opts.Canary,
		r.opts.Force,
		r.opts.Concurrency,
		r.opts.Installer != nil,
		r.opts.ModLookup != nil,
		r.opts.Extension != nil,
	)
}

func fetchAndLogManifest(ctx context.Context, packURL string, sink progress.Sink) (*manifest.PackManifest, error) {
	url := manifest.URLFor(packURL)
	logging.Infof("Fetching manifest from %s...\n", url)
	m, err := manifest.Fetch(ctx, url, sink)
	if err != nil {
		return nil, fmt.Errorf("fetching manifest: %w", err)
	}
	logging.Debugf(
		"fetched manifest current=%s canary=%s minecraft=%s loader=%s versions=%d vr=%t\n",
		m.CurrentVersion,
		m.CanaryVersion,
		m.MinecraftVersion,
		m.LoaderVersion,
		len(m.Versions),
		m.VRSupport,
	)
	return m, nil
}

func resolveManifest(ctx context.Context, opts Options, sink progress.Sink) (*manifest.PackManifest, error) {
	if opts.Shared != nil && opts.Shared.Manifest != nil {
		logging.Debugf("using shared manifest for %s\n", opts.Shared.PackURL)
		return opts.Shared.Manifest, nil
	}
	return fetchAndLogManifest(ctx, opts.PackURL, sink)
}

func loadAndLogState(instanceDir string) (*config.InstanceState, error) {
	state, err := config.Load(instanceDir)
	if err != nil {
		return nil, err
	}
	if state == nil {
		logging.Debugf("no usable state in %s\n", instanceDir)
		return nil, nil
	}
	logging.Debugf(
		"loaded state version=%s side=%s server-pack=%q minecraft=%s tracked=%d\n",
		state.Version,
		state.Side,
		state.ServerPackURL,
		state.MinecraftVersion,
		len(state.TrackedHashes),
	)
	return state, nil
}

func overridesURLFor(m *manifest.PackManifest, s side.Side) string {
	if !s.WantsOverrides() {
		return ""
	}
	return m.OverridesURL()
}

func rebuildInput(m *manifest.PackManifest, prev *config.InstanceState, opts Options) planner.RebuildInput {
	in := planner.RebuildInput{
		Force:          opts.Force,
		ServerPackURL:  m.ServerPack.URL,
		Minecraft:      m.MinecraftVersion,
		Loader:         m.LoaderVersion,
		OverridesURL:   overridesURLFor(m, opts.Side),
		Side:           opts.Side.String(),
		VerifyChecksum: m.ServerPack.VerifyChecksum,
		RemoteMD5:      m.ServerPack.MD5,
	}
	if prev != nil {
		in.PreviousVersion = prev.Version
		in.PreviousServerPackURL = prev.ServerPackURL
		in.PreviousServerPackMD5 = prev.ServerPackMD5
		in.PreviousMinecraft = prev.MinecraftVersion
		in.PreviousLoader = prev.LoaderVersion
		in.PreviousOverridesURL = prev.OverridesURL
		in.PreviousSide = prev.Side
	}
	return in
}

// rebuildReasons decides whether the base pack is re-extracted. When the
// manifest asks for verification without publishing a digest, the archive
// is downloaded to scratch and hashed; a rebuild reuses that download.
func (r *run) rebuildReasons(ctx context.Context, m *manifest.PackManifest, prev *config.InstanceState) ([]string, error) {
	in := rebuildInput(m, prev, r.opts)
	reasons := planner.NeedsRebuild(in)
	if len(reasons) > 0 || !in.VerifyChecksum || in.RemoteMD5 != "" {
		return reasons, nil
	}

	path, err := r.downloadServerPack(ctx, m)
	if err != nil {
		return nil, err
	}
	sum, err := checksum.FileMD5(path)
	if err != nil {
		return nil, err
	}
	in.RemoteMD5 = sum
	return planner.NeedsRebuild(in), nil
}

func (r *run) downloadServerPack(ctx context.Context, m *manifest.PackManifest) (string, error) {
	if r.serverPack != "" {
		return r.serverPack, nil
	}
	dir, err := r.scratch()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, serverPackFile)
	logging.Infof("Downloading server pack...\n")
	err = downloader.DownloadToFile(ctx, m.ServerPack.URL, path, func(written, total int64) {
		if total > 0 {
			r.sink.Report(float64(written)/float64(total), "Downloading server pack")
		}
	})
	if err != nil {
		return "", fmt.Errorf("downloading server pack: %w", err)
	}
	r.serverPack = path
	return path, nil
}

func (r *run) rebuildBase(ctx context.Context, m *manifest.PackManifest, next *config.InstanceState) error {
	serverPack, err := r.downloadServerPack(ctx, m)
	if err != nil {
		return err
	}
	overrides, err := r.downloadOverrides(ctx, m)
	if err != nil {
		return err
	}

	sum, err := checksum.FileMD5(serverPack)
	if err != nil {
		return err
	}
	if m.ServerPack.MD5 != "" && !checksum.Equal(sum, m.ServerPack.MD5) {
		return fmt.Errorf("server pack checksum %s does not match published %s", sum, m.ServerPack.MD5)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := teardown(r.gameDir); err != nil {
		return err
	}

	for _, sec := range baseSections {
		opts := archive.Options{Subfolder: sec.subfolder, Overwrite: sec.overwrite, Progress: r.sink}
		extract := archive.Extract
		if sec.optional {
			extract = archive.TryExtract
		}
		if _, err := extract(ctx, serverPack, r.gameDir, opts); err != nil {
			return fmt.Errorf("extracting %s: %w", sec.subfolder, err)
		}
	}
	for _, pat := range m.ExtraFiles {
		opts := archive.Options{Pattern: pat, Overwrite: true, Progress: r.sink}
		if _, err := archive.TryExtract(ctx, serverPack, r.gameDir, opts); err != nil {
			return fmt.Errorf("extracting extra files %q: %w", pat, err)
		}
	}

	if overrides != "" {
		if err := extractOverrides(ctx, overrides, r.gameDir, m.ClientOverrides.Folders, r.sink); err != nil {
			return err
		}
	}

	if err := r.installModList(ctx, serverPack); err != nil {
		return err
	}

	launchID, err := r.installRuntime(ctx, m)
	if err != nil {
		return err
	}

	next.ServerPackMD5 = sum
	next.LaunchID = launchID
	next.VRLaunchID, next.NonVRLaunchID = "", ""
	next.TrackedHashes = nil
	return nil
}

func (r *run) downloadOverrides(ctx context.Context, m *manifest.PackManifest) (string, error) {
	url := overridesURLFor(m, r.opts.Side)
	if url == "" {
		return "", nil
	}
	dir, err := r.scratch()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, overridesFile)
	logging.Infof("Downloading client overrides...\n")
	if err := downloader.DownloadToFile(ctx, url, path, nil); err != nil {
		return "", fmt.Errorf("downloading client overrides: %w", err)
	}
	return path, nil
}

// teardown empties the pack-managed directories of gameDir.
func teardown(gameDir string) error {
	for _, dir := range teardownDirs {
		path := filepath.Join(gameDir, dir)
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("removing %s: %w", dir, err)
		}
		logging.Debugf("removed %s\n", path)
	}
	return nil
}

// extractOverrides applies the override archive on top of the base tree.
// Without a folder list the whole archive is applied.
func extractOverrides(ctx context.Context, archivePath, gameDir string, folders []string, sink progress.Sink) error {
	if len(folders) == 0 {
		if _, err := archive.Extract(ctx, archivePath, gameDir, archive.Options{Overwrite: true, Progress: sink}); err != nil {
			return fmt.Errorf("extracting client overrides: %w", err)
		}
		return nil
	}
	for _, folder := range folders {
		if _, err := archive.TryExtract(ctx, archivePath, gameDir, archive.Options{Subfolder: folder, Overwrite: true, Progress: sink}); err != nil {
			return fmt.Errorf("extracting client overrides %s: %w", folder, err)
		}
	}
	return nil
}

type modList struct {
	Files []struct {
		ProjectID int64 `json:"projectID"`
		FileID    int64 `json:"fileID"`
		Required  *bool `json:"required"`
	} `json:"files"`
}

// installModList downloads the files listed in the base archive's
// modlist.json through the configured lookup.
func (r *run) installModList(ctx context.Context, serverPack string) error {
	data, found, err := archive.ReadFile(serverPack, modListFile)
	if err != nil {
		return fmt.Errorf("reading %s: %w", modListFile, err)
	}
	if !found {
		return nil
	}
	var list modList
	if err := json.Unmarshal(data, &list); err != nil {
		return &manifest.ParseError{Source: modListFile, Err: err}
	}
	if len(list.Files) == 0 {
		return nil
	}
	if r.opts.ModLookup == nil {
		logging.Warnf("%s lists %d files but no mod lookup is configured; skipping them\n", modListFile, len(list.Files))
		return nil
	}

	var downloads []downloader.Download
	for _, f := range list.Files {
		if f.Required != nil && !*f.Required {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		file, err := r.opts.ModLookup.Resolve(ctx, f.ProjectID, f.FileID)
		if err != nil {
			return err
		}
		subfolder := file.Subfolder
		if subfolder == "" {
			subfolder = patch.ModsDir
		}
		rel := path.Join(subfolder, file.FileName)
		if !filepath.IsLocal(filepath.FromSlash(rel)) {
			return fmt.Errorf("mod list entry %s escapes the game directory", rel)
		}
		dest, err := securejoin.SecureJoin(r.gameDir, rel)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", rel, err)
		}
		downloads = append(downloads, downloader.Download{URL: file.URL, Path: dest})
	}

	if len(downloads) == 0 {
		return nil
	}
	logging.Infof("Downloading %d files from %s...\n", len(downloads), modListFile)
	total := float64(len(downloads))
	results := downloader.Run(ctx, downloads, r.opts.Concurrency, func(p downloader.Progress) {
		r.sink.Report(float64(p.Completed)/total, "Downloading mod list")
	})
	if err := ctx.Err(); err != nil {
		return err
	}
	return downloader.FirstError(results)
}

func (r *run) installRuntime(ctx context.Context, m *manifest.PackManifest) (string, error) {
	if r.opts.Installer == nil {
		logging.Debugf("no install tool configured; recording default launch id\n")
		return toolchain.LaunchIDFor(m.MinecraftVersion, m.LoaderVersion), nil
	}
	logging.Infof("Installing Minecraft %s with loader %s...\n", m.MinecraftVersion, m.LoaderVersion)
	id, err := r.opts.Installer.Install(ctx, toolchain.InstallRequest{
		InstanceDir:      r.opts.InstanceDir,
		GameDir:          r.gameDir,
		MinecraftVersion: m.MinecraftVersion,
		LoaderVersion:    m.LoaderVersion,
		Side:             r.opts.Side,
	})
	if err != nil {
		return "", fmt.Errorf("installing runtime: %w", err)
	}
	return id, nil
}

func (r *run) applyPatches(ctx context.Context, m *manifest.PackManifest, current, target string, next *config.InstanceState) error {
	steps, err := planner.Plan(current, target, m.Versions)
	if err != nil {
		return err
	}
	if len(steps) == 0 {
		logging.Debugf("no patches between %s and %s\n", current, target)
		return nil
	}

	var touched []string
	for i, step := range steps {
		logging.Infof("Applying patch %s (%d/%d)...\n", step.Version, i+1, len(steps))
		lo, hi := float64(i)/float64(len(steps)), float64(i+1)/float64(len(steps))
		applier := &patch.Applier{
			GameDir:     r.gameDir,
			Concurrency: r.opts.Concurrency,
			Progress:    progress.Scale(r.sink, lo, hi),
		}
		out, err := applier.Apply(ctx, step)
		if err != nil {
			return err
		}
		r.result.Applied = append(r.result.Applied, step.Version)
		r.result.ModsInstalled += len(out.Mods)
		r.result.ModsRemoved += len(out.Removed)
		r.result.FilesTouched += len(out.Touched)
		touched = append(touched, out.Touched...)
	}

	hashes, err := tracked.Hash(r.gameDir, touched)
	if err != nil {
		return err
	}
	next.TrackedHashes = tracked.Merge(next.TrackedHashes, hashes)
	return nil
}

func (r *run) installExtension(ctx context.Context, m *manifest.PackManifest, next *config.InstanceState) error {
	if !m.VRSupport || !r.opts.Side.WantsExtension() {
		next.VRLaunchID, next.NonVRLaunchID = "", ""
		return nil
	}
	if r.opts.Extension == nil {
		logging.Debugf("pack supports launch variants but no installer is configured\n")
		return nil
	}
	if !r.result.Rebuilt && next.VRLaunchID != "" && next.NonVRLaunchID != "" {
		return nil
	}
	vrID, nonVRID, err := r.opts.Extension.Install(ctx, r.opts.InstanceDir, m, next.LaunchID)
	if err != nil {
		return err
	}
	next.VRLaunchID, next.NonVRLaunchID = vrID, nonVRID
	return nil
}

// recordManifest copies what the run synced against into next.
func recordManifest(next *config.InstanceState, m *manifest.PackManifest, opts Options, current, target string) error {
	cmp, err := semver.Compare(current, target)
	if err != nil {
		return &manifest.ConfigurationError{Key: "version", Err: err}
	}
	switch {
	case cmp < 0:
		next.Version = target
	case cmp > 0:
		logging.Warnf("instance is at %s, ahead of target %s; keeping it\n", current, target)
		next.Version = current
	}

	next.Side = opts.Side.String()
	next.Canary = opts.Canary
	if opts.Shared != nil && opts.Shared.PackURL != "" {
		next.PackURL = opts.Shared.PackURL
	} else {
		next.PackURL = opts.PackURL
	}
	next.ServerPackURL = m.ServerPack.URL
	next.OverridesURL = overridesURLFor(m, opts.Side)
	next.MinecraftVersion = m.MinecraftVersion
	next.LoaderVersion = m.LoaderVersion
	return nil
}

func (r *run) persist(prev, next *config.InstanceState) error {
	if prev != nil && next.Equal(prev) {
		logging.Debugf("state unchanged; not rewriting %s\n", config.StatePath(r.opts.InstanceDir))
		return nil
	}
	if err := config.Save(r.opts.InstanceDir, next); err != nil {
		return fmt.Errorf("saving state: %w", err)
	}
	r.result.StateWritten = true
	return nil
}

func joinReasons(reasons []string) string {
	return strings.Join(reasons, "; ")
}
