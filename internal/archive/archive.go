// Package archive extracts selected entries of zip pack archives into an
// instance tree.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/caedis/pack-sync/internal/logging"
	"github.com/caedis/pack-sync/internal/pattern"
	"github.com/caedis/pack-sync/internal/progress"
	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/klauspost/compress/zip"
)

// ErrNoEntries is returned by Extract when no archive entry matched the options.
var ErrNoEntries = errors.New("no matching archive entries")

// SecurityError reports an entry whose path would land outside the
// destination root, or an entry that cannot be read.
type SecurityError struct {
	Archive string
	Entry   string
	Reason  string
	Err     error
}

func (e *SecurityError) Error() string {
	msg := fmt.Sprintf("unsafe archive entry %q in %s: %s", e.Entry, filepath.Base(e.Archive), e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SecurityError) Unwrap() error { return e.Err }

type Options struct {
	// Subfolder limits extraction to entries under this archive directory
	// ("config" selects "config/..."). Entries keep their full archive path.
	Subfolder string
	// Overwrite replaces destination files that already exist. When false,
	// existing files are left untouched and only missing ones are written.
	Overwrite bool
	// Pattern, when set, selects entries by their archive path. It is a glob
	// unless prefixed with "regex:".
	Pattern  string
	Progress progress.Sink
}

type entry struct {
	file *zip.File
	name string
}

// Extract writes the entries selected by opts below destRoot. It returns
// ErrNoEntries (wrapped) when nothing matched, and a *SecurityError before
// writing anything if any selected entry is unsafe.
func Extract(ctx context.Context, archivePath, destRoot string, opts Options) (bool, error) {
	r, err := openReader(archivePath)
	if err != nil {
		return false, err
	}
	defer r.Close()

	entries, err := selectEntries(r.File, archivePath, opts)
	if err != nil {
		return false, err
	}
	if len(entries) == 0 {
		return false, fmt.Errorf("%s (subfolder=%q pattern=%q): %w", filepath.Base(archivePath), opts.Subfolder, opts.Pattern, ErrNoEntries)
	}

	sink := progress.OrNop(opts.Progress)
	label := "Extracting " + filepath.Base(archivePath)
	if opts.Subfolder != "" {
		label += " (" + opts.Subfolder + ")"
	}

	var written, skipped int
	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		sink.Report(float64(i)/float64(len(entries)), label)

		dest, err := securejoin.SecureJoin(destRoot, filepath.FromSlash(e.name))
		if err != nil {
			return false, &SecurityError{Archive: archivePath, Entry: e.file.Name, Reason: "resolving destination", Err: err}
		}

		if e.file.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return false, fmt.Errorf("creating %s: %w", dest, err)
			}
			continue
		}

		if !opts.Overwrite {
			if _, err := os.Lstat(dest); err == nil {
				skipped++
				continue
			}
		}

		if err := writeEntry(e.file, dest); err != nil {
			return false, &SecurityError{Archive: archivePath, Entry: e.file.Name, Reason: "corrupt entry", Err: err}
		}
		written++
	}
	sink.Report(1, label)

	logging.Debugf("extracted %s subfolder=%q written=%d skipped=%d\n", filepath.Base(archivePath), opts.Subfolder, written, skipped)
	return true, nil
}

// TryExtract is Extract for optional archive sections: an archive without
// matching entries yields (false, nil) instead of an error.
func TryExtract(ctx context.Context, archivePath, destRoot string, opts Options) (bool, error) {
	ok, err := Extract(ctx, archivePath, destRoot, opts)
	if errors.Is(err, ErrNoEntries) {
		logging.Debugf("archive %s has no %q section\n", filepath.Base(archivePath), opts.Subfolder)
		return false, nil
	}
	return ok, err
}

// ReadFile returns the content of a single archive entry. found is false when
// the archive has no such entry.
func ReadFile(archivePath, name string) (data []byte, found bool, err error) {
	r, err := openReader(archivePath)
	if err != nil {
		return nil, false, err
	}
	defer r.Close()

	for _, f := range r.File {
		if normalizeName(f.Name) != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, true, err
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		return data, true, err
	}
	return nil, false, nil
}

// openReader tolerates readers that flag insecure entry names while still
// returning a usable archive; entry paths are checked in selectEntries.
func openReader(archivePath string) (*zip.ReadCloser, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil && r == nil {
		return nil, fmt.Errorf("opening archive %s: %w", archivePath, err)
	}
	return r, nil
}

func selectEntries(files []*zip.File, archivePath string, opts Options) ([]entry, error) {
	var match pattern.Matcher
	if opts.Pattern != "" {
		m, err := pattern.Compile(opts.Pattern, pattern.Glob)
		if err != nil {
			return nil, err
		}
		match = m
	}
	prefix := strings.Trim(normalizeName(opts.Subfolder), "/")

	var out []entry
	for _, f := range files {
		name := normalizeName(f.Name)
		if name == "" {
			continue
		}
		if prefix != "" && name != prefix && !strings.HasPrefix(name, prefix+"/") {
			continue
		}
		if match != nil && !match.Match(strings.TrimSuffix(name, "/")) {
			continue
		}
		if f.Mode()&os.ModeSymlink != 0 {
			logging.Debugf("skipping symlink entry %s in %s\n", f.Name, filepath.Base(archivePath))
			continue
		}
		if !isLocal(name) {
			return nil, &SecurityError{Archive: archivePath, Entry: f.Name, Reason: "path escapes destination"}
		}
		out = append(out, entry{file: f, name: strings.TrimSuffix(name, "/")})
	}
	return out, nil
}

// normalizeName converts Windows separators and strips a leading "./".
func normalizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	for strings.HasPrefix(name, "./") {
		name = strings.TrimPrefix(name, "./")
	}
	return name
}

func isLocal(name string) bool {
	trimmed := strings.TrimSuffix(name, "/")
	if trimmed == "" || strings.HasPrefix(name, "/") || strings.Contains(trimmed, ":") {
		return false
	}
	if cleaned := path.Clean(trimmed); cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return false
	}
	return filepath.IsLocal(filepath.FromSlash(trimmed))
}

func writeEntry(f *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	tmpPath := dest + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, rc)
	closeErr := out.Close()
	if err != nil {
		os.Remove(tmpPath)
		return err
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return closeErr
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
