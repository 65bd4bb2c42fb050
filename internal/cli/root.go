// internal/cli/root.go
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/arc-language/reloc/internal/logger"
	"github.com/arc-language/reloc/internal/version"
	"github.com/arc-language/reloc/pkg/core"
)

var (
	cfgFile  string
	debug    bool
	logLevel string
	config   *core.Config
)

// annotationNoConfig marks commands that run without loading the config file
const annotationNoConfig = "reloc/no-config"

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "reloc",
	Short: "Relocatable Nix store archives",
	Long: `reloc - relocatable Nix store archives

Packs the closure of a set of Nix store paths into an archive that installs
under a different prefix, rewriting ELF interpreters on the way, and
installs such archives on the target device.`,
	Version:           version.Short(),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initConfig,
}

// Execute executes the root command
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext executes the root command with ctx
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(logger.ToContext(ctx, logger.Logger()))
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/reloc/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	// Add commands
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(closureCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig(cmd *cobra.Command, _ []string) error {
	if cmd.Annotations[annotationNoConfig] != "" {
		config = core.DefaultConfig()
	} else {
		var err error
		if config, err = core.LoadConfig(cfgFile); err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	}

	// Override config with flags
	if debug {
		config.Debug = true
	}
	if logLevel != "" {
		config.LogLevel = logLevel
	}

	lvl, ok := logger.ParseLogLevel(config.LogLevel)
	if !ok {
		return fmt.Errorf("%w: unknown log level %q", core.ErrInvalidConfig, config.LogLevel)
	}
	if config.Debug {
		lvl = zapcore.DebugLevel
	}
	logger.SetLevel(lvl)
	return nil
}
