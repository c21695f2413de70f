package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/caedis/pack-sync/internal/logging"
	"github.com/caedis/pack-sync/internal/progress"
	"github.com/caedis/pack-sync/internal/side"
	"github.com/caedis/pack-sync/internal/toolchain"
	"github.com/caedis/pack-sync/internal/updater"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	packURL     string
	canary      bool
	force       bool
	sideName    string
	concurrency int
	dryRun      bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync the instance to the manifest's current (or canary) version",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := syncOptions(instanceDir, packURL, sideName, canary, force, concurrency)
		if err != nil {
			return err
		}
		ctx := commandContext(cmd)

		if dryRun {
			rep, err := updater.Preview(ctx, opts)
			if err != nil {
				return err
			}
			printReport(rep, true)
			return nil
		}

		sink, done := newProgressSink()
		opts.Progress = sink
		res, err := updater.Run(ctx, opts)
		done()
		if err != nil {
			return err
		}
		printResult(res)
		return nil
	},
}

func init() {
	addSyncFlags(syncCmd)
	syncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would change without modifying anything")
	rootCmd.AddCommand(syncCmd)
}

// addSyncFlags registers the flags sync and status share.
func addSyncFlags(c *cobra.Command) {
	c.Flags().StringVar(&packURL, "pack-url", "", "Pack base URL or manifest URL")
	c.Flags().BoolVar(&canary, "canary", false, "Track the manifest's canary version")
	c.Flags().BoolVar(&force, "force", false, "Rebuild the base pack even if nothing changed")
	c.Flags().StringVar(&sideName, "side", "", "Install side: client or server (default client)")
	c.Flags().IntVar(&concurrency, "concurrency", 0, "Number of concurrent downloads (default from settings)")
}

// syncOptions builds run options from flag values and the loaded settings.
func syncOptions(dir, url, sideValue string, canary, force bool, workers int) (updater.Options, error) {
	s, err := side.Parse(sideValue)
	if err != nil {
		return updater.Options{}, wrapUsageError(err)
	}
	dir, err = homedir.Expand(dir)
	if err != nil {
		return updater.Options{}, err
	}
	opts := updater.Options{
		InstanceDir: dir,
		PackURL:     url,
		Canary:      canary,
		Force:       force,
		Side:        s,
		Concurrency: workers,
		Settings:    appSettings,
		Extension:   toolchain.VariantInstaller{},
	}
	if appSettings != nil {
		if appSettings.InstallTool != "" {
			opts.Installer = &toolchain.ExecInstaller{Path: appSettings.InstallTool, JavaPath: appSettings.JavaPath}
		}
		if appSettings.ModLookupURL != "" {
			opts.ModLookup = &toolchain.HTTPModLookup{BaseURL: appSettings.ModLookupURL, APIKey: appSettings.ModLookupKey}
		}
	}
	if opts.PackURL == "" {
		return opts, wrapUsageError(errors.New("--pack-url is required (or set pack-url in a profile)"))
	}
	return opts, nil
}

// newProgressSink renders progress as a bar on a terminal and as plain
// lines otherwise. done must be called once the run returns.
func newProgressSink() (progress.Sink, func()) {
	var w io.Writer = os.Stderr
	if verbose || logFile != "" || !term.IsTerminal(int(os.Stderr.Fd())) {
		return progress.Lines(w), func() {}
	}
	bar := progress.NewBar(w)
	return progress.Throttle(bar, 100*time.Millisecond), func() { _ = bar.Close() }
}

func printResult(res *updater.Result) {
	if res.OldVersion == res.NewVersion && !res.Rebuilt && len(res.Applied) == 0 {
		logging.Infof("Already up to date at %s.\n", res.NewVersion)
		return
	}
	logging.Infof("\nSync complete: %s → %s\n", res.OldVersion, res.NewVersion)
	if res.Rebuilt {
		logging.Infof("  Base pack rebuilt: %s\n", strings.Join(res.RebuildReasons, "; "))
	}
	if len(res.Applied) > 0 {
		logging.Infof("  Patches: %s\n", strings.Join(res.Applied, ", "))
	}
	logging.Infof("  Mods: %d installed, %d removed; %d files updated\n", res.ModsInstalled, res.ModsRemoved, res.FilesTouched)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
