// Lumen CLI - runs, inspects and profiles compiled lumen chunks
package main

import (
	"fmt"
	"os"

	"github.com/chazu/lumen/config"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("lumen.cli")

var (
	errorColor = color.New(color.FgRed, color.Bold)
	traceColor = color.New(color.Faint)
	labelColor = color.New(color.FgCyan)
)

// newRootCmd builds the command tree. Each call returns fresh commands so
// flags never leak between invocations.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "lumen",
		Short:         "Lumen bytecode interpreter",
		Long:          `Lumen runs precompiled chunks on a register-based virtual machine with an incremental garbage collector`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupOutput(cmd)
		},
	}

	root.PersistentFlags().String("color", "auto", "colorize output (auto|on|off)")
	root.PersistentFlags().CountP("verbose", "v", "increase log verbosity (repeatable)")
	root.PersistentFlags().String("config", "", "directory containing lumen.toml (default: search upward from the working directory)")

	root.AddCommand(newRunCmd())
	root.AddCommand(newDisasmCmd())
	root.AddCommand(newGCStatsCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// setupOutput applies the color and verbosity flags.
func setupOutput(cmd *cobra.Command) error {
	mode, err := cmd.Flags().GetString("color")
	if err != nil {
		return fmt.Errorf("failed to get color flag: %w", err)
	}
	switch mode {
	case "on":
		color.NoColor = false
	case "off":
		color.NoColor = true
	case "auto":
	default:
		return fmt.Errorf("invalid --color value %q (want auto, on or off)", mode)
	}
	return nil
}

// loadConfig reads lumen.toml from --config, or searches upward from the
// working directory, and configures logging from it. Each -v raises the
// configured verbosity by one.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	dir, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	var cfg *config.Config
	if dir != "" {
		cfg, err = config.Load(dir)
	} else {
		cfg, err = config.FindAndLoad(".")
	}
	if err != nil {
		return nil, err
	}

	verbose, err := cmd.Flags().GetCount("verbose")
	if err != nil {
		return nil, fmt.Errorf("failed to get verbose flag: %w", err)
	}
	commonlog.Configure(cfg.Log.Verbosity+verbose, nil)
	if cfg.Path != "" {
		log.Info("using configuration", "path", cfg.Path)
	}
	return cfg, nil
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		reportError(root.ErrOrStderr(), err)
		os.Exit(1)
	}
}
