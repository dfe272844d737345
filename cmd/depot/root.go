package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/terassyi/depot/internal/depoterr"
	"github.com/terassyi/depot/internal/diagnostic"
	"github.com/terassyi/depot/internal/installation"
	"github.com/terassyi/depot/internal/path"
)

// errNoChange signals the "nothing to do" condition that maps to exit 42
// (spec §6: "42 reserved for no change skip").
var errNoChange = errors.New("no change")

// logLevelFlag implements pflag.Value for slog.Level, grounded on
// cmd/tomei/root.go's own logLevelFlag.
type logLevelFlag struct {
	level slog.Level
}

func (f *logLevelFlag) String() string { return strings.ToLower(f.level.String()) }
func (f *logLevelFlag) Type() string   { return "string" }
func (f *logLevelFlag) Set(s string) error {
	switch strings.ToLower(s) {
	case "debug":
		f.level = slog.LevelDebug
	case "info":
		f.level = slog.LevelInfo
	case "warn":
		f.level = slog.LevelWarn
	case "error":
		f.level = slog.LevelError
	default:
		return fmt.Errorf("unknown log level %q (valid: debug, info, warn, error)", s)
	}
	return nil
}

func (f *logLevelFlag) Level() slog.Level { return f.level }

var (
	globalLogLevel     = &logLevelFlag{level: slog.LevelWarn}
	globalNoColor      bool
	globalSystem       bool
	globalInstallation string
	globalDataDir      string
)

var rootCmd = &cobra.Command{
	Use:           "depot",
	Short:         "Content-addressed desktop app and runtime distribution manager",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		if globalNoColor || !isatty.IsTerminal(os.Stdout.Fd()) {
			color.NoColor = true
		}
		diagnostic.Init(globalLogLevel.Level(), diagnosticDir())
		return nil
	},
	PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
		if sink := diagnostic.Get(); sink != nil {
			return sink.Flush()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Var(globalLogLevel, "log-level", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&globalNoColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&globalSystem, "system", false, "Operate on the system-wide installation (requires root)")
	rootCmd.PersistentFlags().StringVar(&globalInstallation, "installation", "", "Named installation to operate on (default: user)")
	rootCmd.PersistentFlags().StringVar(&globalDataDir, "data-dir", "", "Override the installation's data directory")
	_ = rootCmd.RegisterFlagCompletionFunc("log-level", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"debug", "info", "warn", "error"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(
		installCmd,
		uninstallCmd,
		updateCmd,
		preinstallCmd,
		repairCmd,
		configCmd,
		documentInfoCmd,
		versionCmd,
	)
}

func diagnosticDir() string {
	roots, err := openRoots()
	if err != nil {
		home, _ := os.UserHomeDir()
		return home + "/.local/state/depot"
	}
	return roots.DataDir() + "/log"
}

// openRoots resolves the path.Roots for the installation selected by the
// --system/--installation/--data-dir flags.
func openRoots() (*path.Roots, error) {
	var opts []path.Option
	if globalDataDir != "" {
		opts = append(opts, path.WithDataDir(globalDataDir))
	}
	switch {
	case globalSystem:
		return path.ForSystem(opts...), nil
	case globalInstallation != "":
		dataDir := globalDataDir
		if dataDir == "" {
			return nil, fmt.Errorf("--installation requires --data-dir")
		}
		return path.ForNamed(globalInstallation, dataDir, opts...), nil
	default:
		return path.ForUser(opts...)
	}
}

// openInstallation resolves roots and opens the installation, ensuring the
// on-disk repo layout exists.
func openInstallation() (*installation.Installation, error) {
	roots, err := openRoots()
	if err != nil {
		return nil, fmt.Errorf("resolve installation roots: %w", err)
	}
	inst := installation.Open(roots)
	if err := inst.MaybeEnsureRepo(); err != nil {
		return nil, fmt.Errorf("ensure installation repo: %w", err)
	}
	return inst, nil
}

// exitCodeFor maps a command error to the CLI's three-valued exit status
// (spec §6: 0 success, 1 error, 42 no-change).
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, errNoChange) {
		return 42
	}
	if depoterr.IsAborted(err) {
		return 1
	}
	fmt.Fprintln(os.Stderr, color.New(color.FgRed).Sprint("error:"), err)
	var derr *depoterr.Error
	if errors.As(err, &derr) && derr.Hint != "" {
		fmt.Fprintln(os.Stderr, "hint:", derr.Hint)
	}
	return 1
}
