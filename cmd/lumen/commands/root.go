// Package commands implements the lumen command line.
package commands

import (
	"context"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lumen-pipeline/internal/config"
	"lumen-pipeline/pkg/logging/logging"
)

// CLI is the lumen command tree.
type CLI struct {
	rootCmd    *cobra.Command
	configPath string
	logLevel   string

	// newLogger is swapped in tests.
	newLogger func(level string) *zap.Logger
}

// New builds the command tree.
func New() *CLI {
	c := &CLI{
		newLogger: func(level string) *zap.Logger {
			opts := logging.OptionsFromEnv()
			if level != "" {
				opts.Level = level
			}
			return logging.NewLogger(opts)
		},
	}

	c.rootCmd = &cobra.Command{
		Use:           "lumen",
		Short:         "Turn text concepts into part-labeled point clouds",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	c.rootCmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "Path to a YAML config file")
	c.rootCmd.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Log level (overrides LOG_LEVEL)")

	c.rootCmd.AddCommand(c.newServeCmd())
	c.rootCmd.AddCommand(c.newGenerateCmd())
	c.rootCmd.AddCommand(c.newTemplatesCmd())
	return c
}

// Execute runs the command selected by the process arguments.
func (c *CLI) Execute(ctx context.Context) error {
	c.rootCmd.SetContext(ctx)
	return c.rootCmd.Execute()
}

// SetArgs overrides the process arguments. Used for testing.
func (c *CLI) SetArgs(args []string) {
	c.rootCmd.SetArgs(args)
}

// SetOutput redirects command output. Used for testing.
func (c *CLI) SetOutput(w io.Writer) {
	c.rootCmd.SetOut(w)
	c.rootCmd.SetErr(w)
}

func (c *CLI) loadConfig() (config.Config, error) {
	return config.Load(c.configPath)
}
