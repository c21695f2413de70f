package cmd

import (
	"errors"
	"fmt"

	stateconfig "github.com/caedis/pack-sync/internal/config"
	"github.com/caedis/pack-sync/internal/logging"
	"github.com/caedis/pack-sync/internal/tracked"
	"github.com/spf13/cobra"
)

var configDiffAll bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect files written by patches",
}

var configDiffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Show patched files that changed since the last sync",
	Long: `Compare files written by config replacements and extra-file downloads
against the hashes saved in .pack-sync.json at the end of the last sync.`,
	Args: usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		state, err := stateconfig.Load(instanceDir)
		if err != nil {
			return err
		}
		if state == nil {
			return errors.New("instance has not been synced yet")
		}

		gameDir := stateconfig.GameDir(instanceDir)
		changes, err := tracked.Diff(gameDir, state.TrackedHashes, configDiffAll)
		if err != nil {
			return fmt.Errorf("diffing tracked files: %w", err)
		}

		if len(changes) == 0 {
			logging.Infoln("No tracked file differences from the last sync.")
			return nil
		}

		removed := 0
		modified := 0
		unchanged := 0

		logging.Infoln("Tracked file differences:")
		for _, c := range changes {
			switch c.Status {
			case tracked.Removed:
				removed++
				logging.Infof("  %s\n", removeColor.Sprintf("- %s", c.Path))
			case tracked.Modified:
				modified++
				logging.Infof("  ~ %s\n", c.Path)
			case tracked.Unchanged:
				unchanged++
				logging.Infof("  = %s\n", c.Path)
			}
		}

		logging.Infof("\nSummary: %d removed, %d modified", removed, modified)
		if configDiffAll {
			logging.Infof(", %d unchanged", unchanged)
		}
		logging.Infoln()

		return nil
	},
}

func init() {
	configDiffCmd.Flags().BoolVar(&configDiffAll, "all", false, "Include unchanged files")

	configCmd.AddCommand(configDiffCmd)
	rootCmd.AddCommand(configCmd)
}
