package config

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"

	"github.com/mikerobots/cube-builder/logging"
)

// Read reads a config from the given file, expanding environment variables first.
func Read(filePath string, logger logging.Logger) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	return FromReader(filePath, bytes.NewReader(buf), logger)
}

// FromReader reads a config from the given reader and specifies
// where, if applicable, the file the reader originated from.
// Sections missing from the input keep their defaults.
func FromReader(originalPath string, r io.Reader, logger logging.Logger) (*Config, error) {
	cfg := Default()
	if err := json.NewDecoder(r).Decode(cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to decode Config from json")
	}
	cfg.ConfigFilePath = originalPath

	if err := cfg.Ensure(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %q", originalPath)
	}
	logger.Debugw("config read", "path", originalPath, "cache_budget", cfg.Cache.Budget, "lod", cfg.Surface.LOD)
	return cfg, nil
}

// NewLogger creates the process logger described by the logging section. The returned closer
// releases the log file, if any.
func (c *Config) NewLogger(name string) (logging.Logger, io.Closer) {
	logger := logging.NewLogger(name)
	logger.SetLevel(c.Logging.Level)
	if c.Logging.File == nil {
		return logger, io.NopCloser(nil)
	}
	appender, closer := logging.NewFileAppender(*c.Logging.File)
	logger.AddAppender(appender)
	return logger, closer
}
