package patch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/caedis/pack-sync/internal/downloader"
	"github.com/caedis/pack-sync/internal/manifest"
	"github.com/caedis/pack-sync/internal/planner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.json" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, "content of "+r.URL.Path)
	}))
	old := downloader.HTTPClient
	downloader.HTTPClient = server.Client()
	t.Cleanup(func() {
		server.Close()
		downloader.HTTPClient = old
	})
	return server
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestReplaceText(t *testing.T) {
	tests := []struct {
		name    string
		content string
		reps    []manifest.ConfigReplacement
		want    string
	}{
		{
			name:    "literal",
			content: "foo=old\nbar=1",
			reps:    []manifest.ConfigReplacement{{Match: "foo=old", Replace: "foo=new"}},
			want:    "foo=new\nbar=1",
		},
		{
			name:    "ordered on running content",
			content: "a=1",
			reps:    []manifest.ConfigReplacement{{Match: "a=1", Replace: "a=2"}, {Match: "a=2", Replace: "a=3"}},
			want:    "a=3",
		},
		{
			name:    "regex match literal replacement",
			content: "limit=10\nlimit=20",
			reps:    []manifest.ConfigReplacement{{Match: `regex:limit=\d+`, Replace: "limit=$1"}},
			want:    "limit=$1\nlimit=$1",
		},
		{
			name:    "literal match is not a regex",
			content: "x.y=1",
			reps:    []manifest.ConfigReplacement{{Match: "x.y", Replace: "z"}},
			want:    "z=1",
		},
		{
			name:    "no match",
			content: "keep",
			reps:    []manifest.ConfigReplacement{{Match: "absent", Replace: "x"}},
			want:    "keep",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReplaceText(tt.content, tt.reps)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ReplaceText("x", []manifest.ConfigReplacement{{Match: "regex:(", Replace: ""}})
	assert.Error(t, err)
}

func TestInstallName(t *testing.T) {
	tests := map[string]string{
		"https://cdn.test/files/jei-1.2.3.jar":        "jei-1.2.3.jar",
		"https://cdn.test/files/with%20space.jar?x=1": "with space.jar",
		"https://cdn.test/":                           "jei.jar",
		"https://cdn.test":                            "jei.jar",
		"https://cdn.test/a/..%2F..%2Fevil.jar":       "evil.jar",
	}
	for in, want := range tests {
		got, err := InstallName("jei", in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
}

func TestRemoveMatching(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"jei.jar", "jei.disabled", "jei-addon.jar", "justenoughitems-1.0.jar", "other.jar"} {
		writeFile(t, filepath.Join(dir, name), "x")
	}

	removed, err := RemoveMatching(dir, "jei", "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"jei.jar", "jei.disabled"}, removed)
	assert.Equal(t, []string{"jei-addon.jar", "justenoughitems-1.0.jar", "other.jar"}, listDir(t, dir))

	removed, err = RemoveMatching(dir, "jei", "enough")
	require.NoError(t, err)
	assert.Equal(t, []string{"justenoughitems-1.0.jar"}, removed, "regex patterns match substrings")

	removed, err = RemoveMatching(dir, "jei", "glob:jei-*.jar")
	require.NoError(t, err)
	assert.Equal(t, []string{"jei-addon.jar"}, removed)

	removed, err = RemoveMatching(filepath.Join(dir, "absent"), "jei", "")
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestApply(t *testing.T) {
	server := useServer(t)
	gameDir := t.TempDir()
	writeFile(t, filepath.Join(gameDir, "mods", "jei-1.0.jar"), "old")
	writeFile(t, filepath.Join(gameDir, "mods", "stale.jar"), "old")
	writeFile(t, filepath.Join(gameDir, "mods", "keep.jar"), "keep")
	writeFile(t, filepath.Join(gameDir, "config", "jei.cfg"), "\xEF\xBB\xBFfoo=old\nbar=1")
	writeFile(t, filepath.Join(gameDir, "config", "extra.json"), "stale")

	step := planner.Step{
		Version: "1.3.0",
		Patch: manifest.VersionPatch{
			Mods: map[string]manifest.ModChange{
				"jei":   {URL: server.URL + "/dl/jei-2.0.jar", Pattern: "^jei-"},
				"stale": {Remove: true},
				"skip":  {URL: server.URL + "/dl/skip-1.jar"},
			},
			Configs: map[string][]manifest.ConfigReplacement{
				"config/jei.cfg":     {{Match: "foo=old", Replace: "foo=new"}},
				"config/missing.cfg": {{Match: "a", Replace: "b"}},
			},
			Files: map[string]string{
				"config/extra.json":      server.URL + "/extra.json",
				"defaults/nested/a.json": server.URL + "/a.json",
			},
		},
		Suppressed: map[string]bool{"skip": true},
	}

	applier := &Applier{GameDir: gameDir, Concurrency: 2}
	out, err := applier.Apply(context.Background(), step)
	require.NoError(t, err)

	assert.Equal(t, []string{"jei-2.0.jar", "keep.jar"}, listDir(t, filepath.Join(gameDir, "mods")))
	assert.ElementsMatch(t, []string{"jei-1.0.jar", "stale.jar"}, out.Removed)
	assert.Equal(t, []string{"jei-2.0.jar"}, out.Mods)

	cfg, err := os.ReadFile(filepath.Join(gameDir, "config", "jei.cfg"))
	require.NoError(t, err)
	assert.Equal(t, "foo=new\nbar=1", string(cfg), "written without a byte order mark")
	assert.NoFileExists(t, filepath.Join(gameDir, "config", "missing.cfg"))

	extra, err := os.ReadFile(filepath.Join(gameDir, "config", "extra.json"))
	require.NoError(t, err)
	assert.Equal(t, "content of /extra.json", string(extra))
	assert.FileExists(t, filepath.Join(gameDir, "defaults", "nested", "a.json"))

	assert.Equal(t, []string{"config/jei.cfg", "config/extra.json", "defaults/nested/a.json"}, out.Touched)
}

func TestApplyExtraFileFailure(t *testing.T) {
	server := useServer(t)
	gameDir := t.TempDir()

	step := planner.Step{
		Version: "1.4.0",
		Patch: manifest.VersionPatch{Files: map[string]string{
			"config/ok.json":   server.URL + "/ok.json",
			"config/gone.json": server.URL + "/missing.json",
		}},
	}

	_, err := (&Applier{GameDir: gameDir}).Apply(context.Background(), step)
	var extraErr *ExtraFileError
	require.ErrorAs(t, err, &extraErr)
	assert.Equal(t, "config/gone.json", extraErr.Path)
	assert.Equal(t, server.URL+"/missing.json", extraErr.URL)
	assert.Contains(t, err.Error(), "1.4.0")
}

func TestApplyRejectsEscapingPaths(t *testing.T) {
	gameDir := t.TempDir()
	step := planner.Step{
		Version: "1.0.0",
		Patch: manifest.VersionPatch{Configs: map[string][]manifest.ConfigReplacement{
			"../outside.cfg": {{Match: "a", Replace: "b"}},
		}},
	}
	_, err := (&Applier{GameDir: gameDir}).Apply(context.Background(), step)
	assert.Error(t, err)
}

func TestApplyRejectsDuplicateInstallNames(t *testing.T) {
	gameDir := t.TempDir()
	writeFile(t, filepath.Join(gameDir, "mods", "old.jar"), "old")

	step := planner.Step{
		Version: "1.0.0",
		Patch: manifest.VersionPatch{Mods: map[string]manifest.ModChange{
			"alpha": {URL: "https://a.example/dl/mod.jar"},
			"beta":  {URL: "https://b.example/files/mod.jar"},
			"old":   {Remove: true},
		}},
	}
	_, err := (&Applier{GameDir: gameDir}).Apply(context.Background(), step)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mods alpha and beta both install mod.jar")
	assert.FileExists(t, filepath.Join(gameDir, "mods", "old.jar"), "nothing removed before the check")
}

func TestApplyCancelled(t *testing.T) {
	gameDir := t.TempDir()
	writeFile(t, filepath.Join(gameDir, "mods", "a.jar"), "a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	step := planner.Step{
		Version: "1.0.0",
		Patch:   manifest.VersionPatch{Mods: map[string]manifest.ModChange{"a": {Remove: true}}},
	}
	_, err := (&Applier{GameDir: gameDir}).Apply(ctx, step)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.FileExists(t, filepath.Join(gameDir, "mods", "a.jar"))
}

func TestPreview(t *testing.T) {
	gameDir := t.TempDir()
	writeFile(t, filepath.Join(gameDir, "mods", "a.jar"), "a")
	writeFile(t, filepath.Join(gameDir, "config", "a.cfg"), "foo=old\nbar=1\n")

	step := planner.Step{
		Version: "1.0.0",
		Patch: manifest.VersionPatch{
			Mods:    map[string]manifest.ModChange{"a": {Remove: true, URL: "https://cdn.test/a-2.jar"}},
			Configs: map[string][]manifest.ConfigReplacement{"config/a.cfg": {{Match: "foo=old", Replace: "foo=new"}}},
			Files:   map[string]string{"x.txt": "https://cdn.test/x.txt"},
		},
	}

	changes, err := (&Applier{GameDir: gameDir}).Preview(step)
	require.NoError(t, err)
	require.Len(t, changes, 4)
	assert.Equal(t, FileChange{Path: "mods/a.jar", Action: "remove"}, changes[0])
	assert.Equal(t, FileChange{Path: "mods/a-2.jar", Action: "install"}, changes[1])
	assert.Equal(t, "replace", changes[2].Action)
	assert.Contains(t, changes[2].Diff, "-foo=old")
	assert.Contains(t, changes[2].Diff, "+foo=new")
	assert.Equal(t, FileChange{Path: "x.txt", Action: "download"}, changes[3])

	cfg, err := os.ReadFile(filepath.Join(gameDir, "config", "a.cfg"))
	require.NoError(t, err)
	assert.Equal(t, "foo=old\nbar=1\n", string(cfg), "preview must not write")
}
