// Package patch applies one planned version patch to an instance tree.
package patch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/caedis/pack-sync/internal/downloader"
	"github.com/caedis/pack-sync/internal/logging"
	"github.com/caedis/pack-sync/internal/manifest"
	"github.com/caedis/pack-sync/internal/pattern"
	"github.com/caedis/pack-sync/internal/planner"
	"github.com/caedis/pack-sync/internal/progress"
	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/sirupsen/logrus"
)

const (
	ModsDir     = "mods"
	regexPrefix = "regex:"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ExtraFileError names the extra file that could not be fetched.
type ExtraFileError struct {
	Path string
	URL  string
	Err  error
}

func (e *ExtraFileError) Error() string {
	return fmt.Sprintf("downloading extra file %s from %s: %v", e.Path, e.URL, e.Err)
}

func (e *ExtraFileError) Unwrap() error { return e.Err }

type Applier struct {
	// GameDir is the root every patch path is relative to.
	GameDir     string
	Concurrency int
	Progress    progress.Sink
}

// Outcome lists what a patch wrote.
type Outcome struct {
	// Touched holds slash-separated GameDir-relative paths of config files
	// rewritten and extra files downloaded.
	Touched []string
	Removed []string
	Mods    []string
}

// Apply runs the mod, config and extra-file operations of step in that order.
func (a *Applier) Apply(ctx context.Context, step planner.Step) (Outcome, error) {
	var out Outcome
	sink := progress.OrNop(a.Progress)
	log := logging.WithFields(logrus.Fields{"version": step.Version})

	sink.Report(0, "Applying "+step.Version+": mods")
	removed, installed, err := a.applyMods(ctx, step)
	if err != nil {
		return out, fmt.Errorf("patch %s: %w", step.Version, err)
	}
	out.Removed, out.Mods = removed, installed

	sink.Report(0.5, "Applying "+step.Version+": configs")
	touched, err := a.applyConfigs(ctx, step.Patch.Configs)
	if err != nil {
		return out, fmt.Errorf("patch %s: %w", step.Version, err)
	}
	out.Touched = append(out.Touched, touched...)

	sink.Report(0.75, "Applying "+step.Version+": files")
	files, err := a.applyFiles(ctx, step.Patch.Files)
	if err != nil {
		return out, fmt.Errorf("patch %s: %w", step.Version, err)
	}
	out.Touched = append(out.Touched, files...)
	sink.Report(1, "Applying "+step.Version)

	log.Debugf("patch applied removed=%d installed=%d touched=%d", len(out.Removed), len(out.Mods), len(out.Touched))
	return out, nil
}

func (a *Applier) applyMods(ctx context.Context, step planner.Step) (removed, installed []string, err error) {
	modsDir := a.modsDir()
	if err := checkInstallNames(step); err != nil {
		return nil, nil, err
	}
	var downloads []downloader.Download

	// Removals all happen before any download so a removal pattern never
	// catches a jar installed by the same patch.
	for _, id := range step.Mods() {
		change := step.Patch.Mods[id]
		if change.Removes() {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
			names, err := RemoveMatching(modsDir, id, change.Pattern)
			if err != nil {
				return nil, nil, fmt.Errorf("removing %s: %w", id, err)
			}
			removed = append(removed, names...)
		}
		if change.Installs() {
			name, err := InstallName(id, change.URL)
			if err != nil {
				return nil, nil, err
			}
			downloads = append(downloads, downloader.Download{URL: change.URL, Path: filepath.Join(modsDir, name), Name: id})
			installed = append(installed, name)
		}
	}
	for id := range step.Suppressed {
		logging.Debugf("skipping %s in %s: installed again by a later patch\n", id, step.Version)
	}

	if len(downloads) == 0 {
		return removed, installed, nil
	}
	results := downloader.Run(ctx, downloads, a.Concurrency, nil)
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if err := downloader.FirstError(results); err != nil {
		return nil, nil, fmt.Errorf("installing mods: %w", err)
	}
	return removed, installed, nil
}

// checkInstallNames rejects a step in which two mods would download to the
// same file.
func checkInstallNames(step planner.Step) error {
	owner := make(map[string]string)
	for _, id := range step.Mods() {
		change := step.Patch.Mods[id]
		if !change.Installs() {
			continue
		}
		name, err := InstallName(id, change.URL)
		if err != nil {
			return err
		}
		if prev, ok := owner[name]; ok {
			return fmt.Errorf("mods %s and %s both install %s", prev, id, name)
		}
		owner[name] = id
	}
	return nil
}

// RemoveMatching deletes files in dir whose base name matches expr, or the
// default "<modID>." prefix when expr is empty. Regular expressions match
// as substrings; a "glob:" prefix selects a glob. Returns the removed names.
func RemoveMatching(dir, modID, expr string) ([]string, error) {
	m, err := RemovalMatcher(modID, expr)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, e := range entries {
		if e.IsDir() || !m.Match(e.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, err
		}
		logging.Debugf("removed %s\n", filepath.Join(ModsDir, e.Name()))
		removed = append(removed, e.Name())
	}
	return removed, nil
}

// RemovalMatcher compiles the removal pattern for a mod.
func RemovalMatcher(modID, expr string) (pattern.Matcher, error) {
	if strings.TrimSpace(expr) == "" {
		expr = regexPrefix + "^" + regexp.QuoteMeta(modID) + `\.`
	}
	m, err := pattern.Compile(expr, pattern.Regex)
	if err != nil {
		return nil, fmt.Errorf("removal pattern for %s: %w", modID, err)
	}
	return m, nil
}

// InstallName is the file name a mod download is saved as: the last path
// segment of its URL, or "<modID>.jar" when the URL has none.
func InstallName(modID, rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("mod %s: invalid url %q: %w", modID, rawURL, err)
	}
	name := path.Base(u.Path)
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	if name == "" || name == "." || name == "/" || strings.ContainsAny(name, `/\`) || !filepath.IsLocal(name) {
		name = modID + ".jar"
	}
	return name, nil
}

func (a *Applier) applyConfigs(ctx context.Context, configs map[string][]manifest.ConfigReplacement) ([]string, error) {
	var touched []string
	for _, rel := range slices.Sorted(maps.Keys(configs)) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dest, err := a.resolve(rel)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(dest)
		if errors.Is(err, os.ErrNotExist) {
			logging.Debugf("config %s not installed; skipping replacements\n", rel)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", rel, err)
		}

		updated, err := ReplaceText(string(bytes.TrimPrefix(data, utf8BOM)), configs[rel])
		if err != nil {
			return nil, fmt.Errorf("config %s: %w", rel, err)
		}
		if updated == string(data) {
			continue
		}
		if err := writeFileAtomic(dest, []byte(updated)); err != nil {
			return nil, fmt.Errorf("writing config %s: %w", rel, err)
		}
		touched = append(touched, filepath.ToSlash(cleanRel(rel)))
	}
	return touched, nil
}

// ReplaceText applies replacements in order, each to the result of the one
// before. A match is a literal substring unless prefixed with "regex:";
// replacement text is always literal.
func ReplaceText(content string, replacements []manifest.ConfigReplacement) (string, error) {
	for _, r := range replacements {
		if expr, ok := strings.CutPrefix(r.Match, regexPrefix); ok {
			re, err := regexp.Compile(expr)
			if err != nil {
				return "", fmt.Errorf("compiling %q: %w", expr, err)
			}
			content = re.ReplaceAllLiteralString(content, r.Replace)
			continue
		}
		if r.Match == "" {
			continue
		}
		content = strings.ReplaceAll(content, r.Match, r.Replace)
	}
	return content, nil
}

func (a *Applier) applyFiles(ctx context.Context, files map[string]string) ([]string, error) {
	if len(files) == 0 {
		return nil, nil
	}
	rels := slices.Sorted(maps.Keys(files))
	downloads := make([]downloader.Download, 0, len(rels))
	for _, rel := range rels {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dest, err := a.resolve(rel)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return nil, fmt.Errorf("creating directory for %s: %w", rel, err)
		}
		if err := os.Remove(dest); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("removing %s: %w", rel, err)
		}
		downloads = append(downloads, downloader.Download{URL: files[rel], Path: dest, Name: rel})
	}

	results := downloader.Run(ctx, downloads, a.Concurrency, nil)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var errs []error
	touched := make([]string, 0, len(results))
	for i, r := range results {
		if r.Err != nil {
			errs = append(errs, &ExtraFileError{Path: rels[i], URL: r.Download.URL, Err: r.Err})
			continue
		}
		touched = append(touched, filepath.ToSlash(cleanRel(rels[i])))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return touched, nil
}

func (a *Applier) resolve(rel string) (string, error) {
	clean := cleanRel(rel)
	if !filepath.IsLocal(clean) {
		return "", fmt.Errorf("path %q escapes the instance directory", rel)
	}
	return securejoin.SecureJoin(a.GameDir, clean)
}

func cleanRel(rel string) string {
	return filepath.Clean(filepath.FromSlash(strings.ReplaceAll(rel, `\`, "/")))
}

func writeFileAtomic(dest string, data []byte) error {
	mode := os.FileMode(0o644)
	if info, err := os.Stat(dest); err == nil {
		mode = info.Mode().Perm()
	}
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, data, mode); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
