// Package log configures the process-wide logrus logger.
package log

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// InitFromConfig sets the formatter and level of the standard logrus
// logger and, when a path is configured, attaches a rotating file hook.
func InitFromConfig(c Config) error {
	formatter := newFormatter(c.Formatter)
	logrus.SetFormatter(formatter)

	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return errors.Wrapf(err, "无效的日志级别 %q", c.Level)
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stderr)

	if c.Path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.Path), 0o755); err != nil {
		return errors.Wrapf(err, "无法创建日志目录 %s", filepath.Dir(c.Path))
	}
	if !c.LogStderr {
		logrus.SetOutput(io.Discard)
	}
	logrus.AddHook(newFileHook(c, level, formatter))
	return nil
}

func newFormatter(name string) logrus.Formatter {
	if name == "json" {
		return &logrus.JSONFormatter{}
	}
	return &logrus.TextFormatter{FullTimestamp: true}
}

// newFileHook routes every enabled level to one lumberjack writer.
func newFileHook(c Config, level logrus.Level, formatter logrus.Formatter) logrus.Hook {
	w := &lumberjack.Logger{
		Filename:   c.Path,
		MaxSize:    c.MaxSize,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAge,
	}
	writers := make(lfshook.WriterMap)
	for _, lvl := range logrus.AllLevels[:level+1] {
		writers[lvl] = w
	}
	return lfshook.NewHook(writers, formatter)
}
