package main

import (
	"log/slog"
	"sync"

	"github.com/spf13/cobra"

	"github.com/keggin-CHN/Magic-Mirror/internal/config"
	"github.com/keggin-CHN/Magic-Mirror/internal/logging"
	"github.com/keggin-CHN/Magic-Mirror/internal/swap"
)

// commandContext lazily builds the pieces every command needs. The
// service is constructed at most once; models load on first use.
type commandContext struct {
	configFlag *string

	once    sync.Once
	cfg     config.Config
	logger  *slog.Logger
	service *swap.Service
	err     error
}

func (c *commandContext) ensure() (*swap.Service, *slog.Logger, error) {
	c.once.Do(func() {
		path := "magicmirror.toml"
		if c.configFlag != nil && *c.configFlag != "" {
			path = *c.configFlag
		}
		cfg, err := config.Load(path)
		if err != nil {
			c.err = err
			return
		}
		logger, err := logging.New(logging.Options{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
		})
		if err != nil {
			c.err = err
			return
		}
		c.cfg = cfg
		c.logger = logger
		c.service = swap.New(cfg, logger)
	})
	return c.service, c.logger, c.err
}

func newRootCommand() *cobra.Command {
	var configFlag string
	ctx := &commandContext{configFlag: &configFlag}

	rootCmd := &cobra.Command{
		Use:           "magicmirror",
		Short:         "Face substitution for videos and images",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(newSwapImageCommand(ctx))
	rootCmd.AddCommand(newSwapVideoCommand(ctx))
	rootCmd.AddCommand(newDetectCommand(ctx))

	return rootCmd
}
