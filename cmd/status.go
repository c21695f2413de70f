package cmd

import (
	"fmt"
	"strings"

	"github.com/caedis/pack-sync/internal/logging"
	"github.com/caedis/pack-sync/internal/updater"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var statusDiffs bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current vs target version and the patches a sync would apply",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := syncOptions(instanceDir, packURL, sideName, canary, force, concurrency)
		if err != nil {
			return err
		}
		rep, err := updater.Preview(commandContext(cmd), opts)
		if err != nil {
			return err
		}
		printReport(rep, statusDiffs)
		return nil
	},
}

func init() {
	addSyncFlags(statusCmd)
	statusCmd.Flags().BoolVar(&statusDiffs, "diff", false, "Show config replacement diffs")
	rootCmd.AddCommand(statusCmd)
}

var (
	addColor    = color.New(color.FgGreen)
	removeColor = color.New(color.FgRed)
	headerColor = color.New(color.Bold)
	noteColor   = color.New(color.FgYellow)
)

func printReport(rep *updater.Report, diffs bool) {
	logging.Infof("Installed: %s\n", rep.CurrentVersion)
	logging.Infof("Target:    %s\n", rep.TargetVersion)

	if len(rep.RebuildReasons) > 0 {
		logging.Infof("%s\n", noteColor.Sprintf("Base pack will be rebuilt: %s", strings.Join(rep.RebuildReasons, "; ")))
	} else if rep.ChecksumUnknown {
		logging.Infof("%s\n", noteColor.Sprint("Server pack checksum is not published; a sync downloads it to check for changes."))
	}

	if len(rep.Steps) == 0 {
		logging.Infoln("No patches to apply.")
		return
	}
	for _, step := range rep.Steps {
		logging.Infof("\n%s\n", headerColor.Sprintf("Patch %s", step.Version))
		if len(step.Suppressed) > 0 {
			logging.Infof("  skipped (installed by a later patch): %s\n", strings.Join(step.Suppressed, ", "))
		}
		for _, c := range step.Changes {
			logging.Infof("  %s\n", changeLine(c.Action, c.Path))
			if diffs && c.Diff != "" {
				logging.Infof("%s\n", colorDiff(c.Diff))
			}
		}
	}
}

func changeLine(action, path string) string {
	switch action {
	case "remove":
		return removeColor.Sprintf("- %s", path)
	case "install", "download":
		return addColor.Sprintf("+ %s", path)
	default:
		return fmt.Sprintf("~ %s", path)
	}
}

func colorDiff(diff string) string {
	lines := strings.Split(diff, "\n")
	for i, l := range lines {
		switch {
		case strings.HasPrefix(l, "+++"), strings.HasPrefix(l, "---"):
			lines[i] = "    " + headerColor.Sprint(l)
		case strings.HasPrefix(l, "+"):
			lines[i] = "    " + addColor.Sprint(l)
		case strings.HasPrefix(l, "-"):
			lines[i] = "    " + removeColor.Sprint(l)
		default:
			lines[i] = "    " + l
		}
	}
	return strings.Join(lines, "\n")
}
