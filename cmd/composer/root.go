package main

import (
	"sync"

	"github.com/nextconvert/shorts/internal/modules/compose"
	"github.com/nextconvert/shorts/internal/modules/media"
	"github.com/nextconvert/shorts/internal/shared/config"
	"github.com/nextconvert/shorts/internal/shared/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type commandContext struct {
	logLevel *string

	once      sync.Once
	config    *config.Config
	logger    *zap.Logger
	processor *media.Processor
	composer  *compose.Composer
	err       error
}

func newCommandContext(logLevel *string) *commandContext {
	return &commandContext{logLevel: logLevel}
}

// ensure builds the composer from the environment the first time a command
// needs it.
func (c *commandContext) ensure() (*compose.Composer, error) {
	c.once.Do(func() {
		cfg, err := config.Load()
		if err != nil {
			c.err = err
			return
		}
		level := cfg.LogLevel
		if c.logLevel != nil && *c.logLevel != "" {
			level = *c.logLevel
		}
		logger, err := logging.NewLogger(level, "development")
		if err != nil {
			c.err = err
			return
		}

		c.config = cfg
		c.logger = logger
		c.processor = media.NewProcessorWithConfig(media.ProcessorConfig{
			FFmpegPath:        cfg.FFmpegPath,
			MaxThreads:        cfg.FFmpegMaxThreads,
			UseHardwareAccel:  cfg.FFmpegHardwareAccel,
			PreferFastPresets: cfg.FFmpegFastPresets,
			Timeout:           cfg.RenderTimeout,
			MaxConcurrent:     1,
		}, nil, logger)
		c.composer = compose.NewComposer(
			media.NewProber(cfg.FFprobePath, cfg.ProbeTimeout, logger),
			c.processor,
			nil,
			logger,
		)
	})
	return c.composer, c.err
}

func newRootCommand() *cobra.Command {
	var logLevel string
	ctx := newCommandContext(&logLevel)

	rootCmd := &cobra.Command{
		Use:           "composer",
		Short:         "Compose short-form videos from local media",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newImagesCommand(ctx))
	rootCmd.AddCommand(newVideosCommand(ctx))
	rootCmd.AddCommand(newMergeAudioCommand(ctx))
	rootCmd.AddCommand(newCaptionsCommand(ctx))
	rootCmd.AddCommand(newPlanCommand(ctx))

	return rootCmd
}
