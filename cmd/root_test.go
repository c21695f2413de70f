package cmd

import (
	"errors"
	"testing"

	"github.com/caedis/pack-sync/internal/profile"
	"github.com/caedis/pack-sync/internal/settings"
	"github.com/caedis/pack-sync/internal/side"
	"github.com/caedis/pack-sync/internal/toolchain"
	"github.com/spf13/cobra"
)

func TestUsageArgsWrapsValidationErrors(t *testing.T) {
	wrapped := usageArgs(cobra.ExactArgs(1))
	cmd := &cobra.Command{Use: "test"}

	if err := wrapped(cmd, []string{"ok"}); err != nil {
		t.Fatalf("usageArgs returned unexpected error for valid args: %v", err)
	}

	err := wrapped(cmd, nil)
	if err == nil {
		t.Fatalf("usageArgs should return an error for invalid args")
	}
	if !isUsageError(err) {
		t.Fatalf("usageArgs error should be marked as usage error: %v", err)
	}
}

func TestIsUsageError(t *testing.T) {
	if !isUsageError(wrapUsageError(errors.New("bad args"))) {
		t.Fatalf("wrapped usage error not detected")
	}
	if !isUsageError(errors.New(`unknown command "foo" for "pack-sync"`)) {
		t.Fatalf("unknown command error should be treated as usage error")
	}
	if isUsageError(errors.New("runtime failure")) {
		t.Fatalf("runtime failure should not be treated as usage error")
	}
}

func TestSyncOptions(t *testing.T) {
	old := appSettings
	defer func() { appSettings = old }()
	appSettings = &settings.Settings{InstallTool: "/opt/install", ModLookupURL: "https://lookup.test/v1", ModLookupKey: "k"}

	opts, err := syncOptions(t.TempDir(), "https://packs.test/pack", "server", true, false, 3)
	if err != nil {
		t.Fatalf("syncOptions failed: %v", err)
	}
	if opts.Side != side.Server || !opts.Canary || opts.Concurrency != 3 {
		t.Fatalf("unexpected options: %+v", opts)
	}
	inst, ok := opts.Installer.(*toolchain.ExecInstaller)
	if !ok || inst.Path != "/opt/install" {
		t.Fatalf("installer not configured: %#v", opts.Installer)
	}
	if _, ok := opts.ModLookup.(*toolchain.HTTPModLookup); !ok {
		t.Fatalf("mod lookup not configured: %#v", opts.ModLookup)
	}

	if _, err := syncOptions(t.TempDir(), "", "", false, false, 0); !isUsageError(err) {
		t.Fatalf("missing pack url should be a usage error: %v", err)
	}
	if _, err := syncOptions(t.TempDir(), "https://packs.test", "both", false, false, 0); !isUsageError(err) {
		t.Fatalf("bad side should be a usage error: %v", err)
	}
}

func TestApplyProfileKeepsChangedFlags(t *testing.T) {
	oldDir, oldURL, oldSide := instanceDir, packURL, sideName
	defer func() { instanceDir, packURL, sideName = oldDir, oldURL, oldSide }()

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().StringVar(&instanceDir, "instance-dir", ".", "")
	cmd.Flags().StringVar(&packURL, "pack-url", "", "")
	cmd.Flags().StringVar(&sideName, "side", "", "")
	if err := cmd.Flags().Parse([]string{"--side", "server"}); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	dir, url, s := "/srv/pack", "https://packs.test", "client"
	applyProfile(cmd, &profile.Profile{InstanceDir: &dir, PackURL: &url, Side: &s})

	if instanceDir != dir || packURL != url {
		t.Fatalf("profile values not applied: dir=%q url=%q", instanceDir, packURL)
	}
	if sideName != "server" {
		t.Fatalf("explicit --side overridden by profile: %q", sideName)
	}
}
