package main

import (
	"strings"
	"sync"

	"github.com/spartis/scanviewer/internal/config"
	"github.com/spartis/scanviewer/internal/logging"
)

type commandContext struct {
	configFlag   *string
	backendFlag  *string
	logLevelFlag *string

	configOnce sync.Once
	config     *config.AppConfig
	configErr  error
}

func newCommandContext(configFlag, backendFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		backendFlag:  backendFlag,
		logLevelFlag: logLevelFlag,
	}
}

// ensureConfig loads the named config file, or the defaults with environment
// overrides when none is named.
func (c *commandContext) ensureConfig() (*config.AppConfig, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg := config.FromEnvironment()
		if path != "" {
			loaded, err := config.LoadConfig(path)
			if err != nil {
				c.configErr = err
				return
			}
			cfg = loaded
		}
		if c.logLevelFlag != nil && *c.logLevelFlag != "" {
			cfg.Advanced.LogLevel = *c.logLevelFlag
		}
		logging.SetLevel(cfg.Advanced.LogLevel)
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) backendURL() string {
	if c.backendFlag != nil {
		if b := strings.TrimSpace(*c.backendFlag); b != "" {
			return strings.TrimSuffix(b, "/")
		}
	}
	cfg, err := c.ensureConfig()
	if err != nil || cfg == nil {
		return config.DefaultConfig().Client.BackendURL
	}
	return strings.TrimSuffix(cfg.Client.BackendURL, "/")
}
