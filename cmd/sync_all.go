package cmd

import (
	"fmt"

	"github.com/caedis/pack-sync/internal/logging"
	"github.com/caedis/pack-sync/internal/profile"
	"github.com/caedis/pack-sync/internal/updater"
	"github.com/spf13/cobra"
)

var (
	forceAll       bool
	concurrencyAll int
)

var syncAllCmd = &cobra.Command{
	Use:   "sync-all <profile> [profile...]",
	Short: "Sync multiple profiles sequentially, fetching each pack's manifest once",
	Args:  usageArgs(cobra.MinimumNArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)

		type profileResult struct {
			name   string
			result *updater.Result
			err    error
		}
		results := make([]profileResult, 0, len(args))
		shared := make(map[string]*updater.SharedData)

		var firstErr error
		fail := func(name string, err error) {
			results = append(results, profileResult{name: name, err: err})
			if firstErr == nil {
				firstErr = err
			}
		}

		for _, name := range args {
			if ctx.Err() != nil {
				fail(name, ctx.Err())
				continue
			}
			p, err := profile.Load(name)
			if err != nil {
				fail(name, err)
				continue
			}
			if p.InstanceDir == nil || p.PackURL == nil {
				fail(name, fmt.Errorf("profile %q needs instance-dir and pack-url", name))
				continue
			}

			sideValue, canaryValue := "", false
			if p.Side != nil {
				sideValue = *p.Side
			}
			if p.Canary != nil {
				canaryValue = *p.Canary
			}
			// CLI flag wins over the profile value.
			workers := concurrencyAll
			if !cmd.Flags().Changed("concurrency") && p.Concurrency != nil {
				workers = *p.Concurrency
			}
			opts, err := syncOptions(*p.InstanceDir, *p.PackURL, sideValue, canaryValue, forceAll, workers)
			if err != nil {
				fail(name, err)
				continue
			}

			data, ok := shared[opts.PackURL]
			if !ok {
				data, err = updater.FetchManifest(ctx, opts.PackURL, nil)
				if err != nil {
					fail(name, err)
					continue
				}
				shared[opts.PackURL] = data
			}
			opts.Shared = data

			// Per-profile verbose setting; CLI wins.
			profileVerbose := verbose
			if p.Verbose != nil && !cmd.Flags().Changed("verbose") {
				profileVerbose = *p.Verbose
			}
			logging.SetVerbose(profileVerbose)

			logging.Infof("\n=== Profile %q (%s) ===\n", name, *p.InstanceDir)

			sink, done := newProgressSink()
			opts.Progress = sink
			res, runErr := updater.Run(ctx, opts)
			done()
			if runErr != nil {
				logging.Infof("  Error: %v\n", runErr)
				fail(name, runErr)
				continue
			}
			results = append(results, profileResult{name: name, result: res})
			printResult(res)
		}

		logging.Infoln("\n=== Summary ===")
		for _, r := range results {
			if r.err != nil {
				logging.Infof("  %-20s  ERROR  %v\n", r.name, r.err)
				continue
			}
			logging.Infof("  %-20s  OK     %s → %s   %d patches\n",
				r.name, r.result.OldVersion, r.result.NewVersion, len(r.result.Applied))
		}

		return firstErr
	},
}

func init() {
	syncAllCmd.Flags().BoolVar(&forceAll, "force", false, "Rebuild the base pack of every profile")
	syncAllCmd.Flags().IntVar(&concurrencyAll, "concurrency", 0, "Number of concurrent downloads")
	rootCmd.AddCommand(syncAllCmd)
}
