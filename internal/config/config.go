package config

import (
	"sync"

	"github.com/systmms/envlock/internal/logging"
)

// Config holds the runtime configuration shared by every command.
type Config struct {
	Path           string
	Logger         *logging.Logger
	NonInteractive bool
	Settings       Settings

	once     sync.Once
	store    *Store
	storeErr error
}

// Store returns the ConfigStore for Path, resolving the default location
// when Path is empty.
func (c *Config) Store() (*Store, error) {
	c.once.Do(func() {
		path := c.Path
		if path == "" {
			path = c.Settings.ConfigPath
		}
		if path == "" {
			path, c.storeErr = DefaultPath()
			if c.storeErr != nil {
				return
			}
		}
		c.store = NewStore(path, c.Logger)
	})
	return c.store, c.storeErr
}
