package toolchain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/caedis/pack-sync/internal/downloader"
	"github.com/caedis/pack-sync/internal/manifest"
	"github.com/caedis/pack-sync/internal/side"
)

func TestLaunchIDFor(t *testing.T) {
	t.Parallel()

	if got := LaunchIDFor("1.20.1", "47.2.0"); got != "1.20.1-forge-47.2.0" {
		t.Fatalf("LaunchIDFor=%q", got)
	}
	if got := LaunchIDFor("1.20.1", ""); got != "1.20.1" {
		t.Fatalf("LaunchIDFor without loader=%q", got)
	}
}

func TestExecInstaller(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a shell script")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "install.sh")
	body := "#!/bin/sh\necho installing \"$@\"\necho custom-launch-id\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	inst := &ExecInstaller{Path: script}
	id, err := inst.Install(context.Background(), InstallRequest{
		InstanceDir:      dir,
		GameDir:          dir,
		MinecraftVersion: "1.20.1",
		LoaderVersion:    "47.2.0",
		Side:             side.Client,
	})
	if err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	if id != "custom-launch-id" {
		t.Fatalf("launch id=%q", id)
	}
}

func TestExecInstallerFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a shell script")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "install.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho broken >&2\nexit 3\n"), 0o755); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	_, err := (&ExecInstaller{Path: script}).Install(context.Background(), InstallRequest{InstanceDir: dir, GameDir: dir, Side: side.Server})
	if err == nil {
		t.Fatalf("expected failure")
	}

	if _, err := (&ExecInstaller{}).Install(context.Background(), InstallRequest{}); err == nil {
		t.Fatalf("expected error without a tool path")
	}
}

func TestHTTPModLookup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/v1/mods/10/files/20":
			fmt.Fprint(w, `{"data":{"fileName":"jei-1.0.jar","downloadUrl":"https://cdn.test/jei-1.0.jar"}}`)
		case "/v1/mods/11/files/21":
			fmt.Fprint(w, `{"data":{"fileName":"textures.zip","downloadUrl":"https://cdn.test/textures.zip"}}`)
		case "/v1/mods/12/files/22":
			fmt.Fprint(w, `{"data":{"fileName":"hidden.jar","downloadUrl":""}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()
	old := downloader.HTTPClient
	downloader.HTTPClient = server.Client()
	defer func() { downloader.HTTPClient = old }()

	lookup := &HTTPModLookup{BaseURL: server.URL + "/v1/", APIKey: "secret"}

	got, err := lookup.Resolve(context.Background(), 10, 20)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	want := ModFile{URL: "https://cdn.test/jei-1.0.jar", FileName: "jei-1.0.jar", Subfolder: "mods"}
	if got != want {
		t.Fatalf("Resolve=%+v want=%+v", got, want)
	}

	got, err = lookup.Resolve(context.Background(), 11, 21)
	if err != nil || got.Subfolder != "resourcepacks" {
		t.Fatalf("zip should land in resourcepacks: %+v %v", got, err)
	}

	if _, err := lookup.Resolve(context.Background(), 12, 22); err == nil {
		t.Fatalf("expected error for file without download url")
	}
	if _, err := lookup.Resolve(context.Background(), 99, 99); err == nil {
		t.Fatalf("expected error for unknown file")
	}
}

func TestVariantInstaller(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	stale := filepath.Join(dir, ProfilesDir, "old-vr.json")
	keep := filepath.Join(dir, ProfilesDir, "net.minecraft.json")
	for _, p := range []string{stale, keep} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("MkdirAll failed: %v", err)
		}
		if err := os.WriteFile(p, []byte("{}"), 0o644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}

	m := &manifest.PackManifest{MinecraftVersion: "1.20.1", VRSupport: true}
	vrID, nonVRID, err := VariantInstaller{}.Install(context.Background(), dir, m, "1.20.1-forge-47.2.0")
	if err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	if vrID != "1.20.1-forge-47.2.0-vr" || nonVRID != "1.20.1-forge-47.2.0-nonvr" {
		t.Fatalf("ids=%q,%q", vrID, nonVRID)
	}

	data, err := os.ReadFile(filepath.Join(dir, ProfilesDir, vrID+".json"))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	var p variantProfile
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("profile is not JSON: %v", err)
	}
	if !p.VR || p.InheritsFrom != "1.20.1-forge-47.2.0" {
		t.Fatalf("unexpected profile: %+v", p)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("stale variant should be removed")
	}
	if _, err := os.Stat(keep); err != nil {
		t.Fatalf("unrelated profile removed: %v", err)
	}

	if _, _, err := (VariantInstaller{}).Install(context.Background(), dir, m, ""); err == nil {
		t.Fatalf("expected error without base launch id")
	}
}
