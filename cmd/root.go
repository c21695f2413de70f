package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/caedis/pack-sync/internal/logging"
	"github.com/caedis/pack-sync/internal/profile"
	"github.com/caedis/pack-sync/internal/settings"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
)

var (
	instanceDir  string
	profileName  string
	settingsPath string
	verbose      bool
	logFile      string

	appSettings *settings.Settings
)

var rootCmd = &cobra.Command{
	Use:           "pack-sync",
	Short:         "Keep a modpack instance in sync with its published manifest",
	Long:          "Rebuild and patch modpack instances from a remote manifest: base archive extraction, version patches, config replacements and launch profiles.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Apply profile defaults for flags not explicitly set by the user.
		if profileName != "" {
			p, err := profile.Load(profileName)
			if err != nil {
				return err
			}
			applyProfile(cmd, p)
		}

		logging.SetVerbose(verbose)
		if err := logging.SetOutputFile(logFile); err != nil {
			return fmt.Errorf("opening log file %q: %w", logFile, err)
		}

		dir, err := homedir.Expand(instanceDir)
		if err != nil {
			return fmt.Errorf("expanding instance directory %q: %w", instanceDir, err)
		}
		instanceDir = dir

		s, err := settings.Load(settingsPath)
		if err != nil {
			return err
		}
		appSettings = s
		return nil
	},
}

func applyProfile(cmd *cobra.Command, p *profile.Profile) {
	unset := func(name string) bool { return !cmd.Flags().Changed(name) }

	if p.InstanceDir != nil && unset("instance-dir") {
		instanceDir = *p.InstanceDir
	}
	if p.PackURL != nil && unset("pack-url") {
		packURL = *p.PackURL
	}
	if p.Side != nil && unset("side") {
		sideName = *p.Side
	}
	if p.Canary != nil && unset("canary") {
		canary = *p.Canary
	}
	if p.Concurrency != nil && unset("concurrency") {
		concurrency = *p.Concurrency
	}
	if p.Verbose != nil && unset("verbose") {
		verbose = *p.Verbose
	}
	if p.LogFile != nil && unset("log-file") {
		logFile = *p.LogFile
	}
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	closeErr := logging.Close()
	if closeErr != nil {
		fmt.Fprintf(os.Stderr, "Error closing log file: %v\n", closeErr)
		if err == nil {
			os.Exit(1)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if isUsageError(err) {
			if cmd, _, findErr := rootCmd.Find(os.Args[1:]); findErr == nil && cmd != nil {
				_ = cmd.Usage()
			} else {
				_ = rootCmd.Usage()
			}
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return wrapUsageError(err)
	})

	rootCmd.PersistentFlags().StringVarP(&instanceDir, "instance-dir", "d", ".", "Instance root directory")
	rootCmd.PersistentFlags().StringVar(&profileName, "profile", "", "Load a saved option profile by name")
	rootCmd.PersistentFlags().StringVar(&settingsPath, "settings", settings.Path(), "Settings file (install tool, mod lookup, scratch directory)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write command output to a log file")
}

type usageError struct {
	err error
}

func (e *usageError) Error() string {
	return e.err.Error()
}

func (e *usageError) Unwrap() error {
	return e.err
}

func wrapUsageError(err error) error {
	if err == nil {
		return nil
	}
	return &usageError{err: err}
}

func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if validate == nil {
			return nil
		}
		if err := validate(cmd, args); err != nil {
			return wrapUsageError(err)
		}
		return nil
	}
}

func isUsageError(err error) bool {
	var ue *usageError
	if errors.As(err, &ue) {
		return true
	}

	msg := err.Error()
	return strings.HasPrefix(msg, "unknown command ")
}
