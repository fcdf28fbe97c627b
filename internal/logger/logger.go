// Package logger sets up the process-wide logrus logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"ppe-sentinel/config"

	log "github.com/sirupsen/logrus"
)

// Init applies level and output settings to the global logger. Entries are
// always written to stdout and, when cfg.File is set, appended to that file.
//
// The returned closer is the log file, or nil when no file is in use. A file
// that cannot be opened is reported as an error while stdout logging stays on.
func Init(cfg config.LogConfig) (io.Closer, error) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(levelOf(cfg.Level))
	log.SetOutput(os.Stdout)

	if cfg.File == "" {
		log.Debug("Logging to stdout only")
		return nil, nil
	}

	f, err := openAppend(cfg.File)
	if err != nil {
		return nil, err
	}
	log.SetOutput(io.MultiWriter(os.Stdout, f))
	log.WithField("file", cfg.File).Info("Logging to stdout and file")
	return f, nil
}

// levelOf parses name, using info for unknown levels
func levelOf(name string) log.Level {
	level, err := log.ParseLevel(name)
	if err != nil {
		log.WithField("level", name).Warn("Unknown log level, using info")
		return log.InfoLevel
	}
	return level
}

func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0660)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}
