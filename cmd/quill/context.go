package main

import (
	"log/slog"
	"strings"
	"sync"

	"quill/internal/config"
	"quill/internal/logging"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) ensureLogger() (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	c.loggerOnce.Do(func() {
		logger, logErr := logging.New(logging.Options{
			Level:   cfg.Logging.Level,
			Format:  cfg.Logging.Format,
			LogFile: cfg.BootstrapLogPath(),
		})
		if logErr != nil {
			c.logger = logging.NewNop()
			return
		}
		c.logger = logger
	})
	return c.logger, nil
}
