package log

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	logLevel      = "logging.level"
	logFormatter  = "logging.formatter"
	logPath       = "logging.path"
	logMaxAge     = "logging.max-age"
	logMaxBackups = "logging.max-backups"
	logMaxSize    = "logging.max-size"
	logStderr     = "logging.log-stderr"
)

// Config controls the logging system.
type Config struct {
	// Level is the minimum level written.
	Level string `json:"logging.level" yaml:"logging.level"`
	// Formatter is json or text.
	Formatter string `json:"logging.formatter" yaml:"logging.formatter"`
	// Path is the log file. No file is written when empty.
	Path string `json:"logging.path" yaml:"logging.path"`
	// MaxAge is the number of days rotated files are kept.
	MaxAge int `json:"logging.max-age" yaml:"logging.max-age"`
	// MaxBackups is the number of rotated files kept.
	MaxBackups int `json:"logging.max-backups" yaml:"logging.max-backups"`
	// MaxSize is the size in megabytes at which the file is rotated.
	MaxSize int `json:"logging.max-size" yaml:"logging.max-size"`
	// LogStderr keeps writing to standard error when a file is configured.
	LogStderr bool `json:"logging.log-stderr" yaml:"logging.log-stderr"`
}

// InitFromViper initializes logging configuration from Viper.
func (c *Config) InitFromViper(v *viper.Viper) {
	c.Level = v.GetString(logLevel)
	c.Formatter = v.GetString(logFormatter)
	c.Path = v.GetString(logPath)
	c.MaxAge = v.GetInt(logMaxAge)
	c.MaxBackups = v.GetInt(logMaxBackups)
	c.MaxSize = v.GetInt(logMaxSize)
	c.LogStderr = v.GetBool(logStderr)
}

// AddFlags registers persistent logging flags.
func AddFlags(flags *pflag.FlagSet) {
	flags.String(logLevel, "warn", "日志最低级别 (trace|debug|info|warn|error)")
	flags.String(logFormatter, "text", "日志格式 (json|text)")
	flags.String(logPath, "", "日志文件路径，留空则不写文件")
	flags.Int(logMaxAge, 0, "轮转日志保留天数，0 表示不按时间删除")
	flags.Int(logMaxBackups, 5, "保留的轮转日志文件数量")
	flags.Int(logMaxSize, 50, "日志文件轮转大小（MB）")
	flags.Bool(logStderr, true, "写日志文件时同时输出到标准错误")
}
