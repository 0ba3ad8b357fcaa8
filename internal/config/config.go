// Package config gathers pescope settings from flags, environment
// variables and an optional configuration file.
package config

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ko4life-net/pe/internal/log"
	"github.com/ko4life-net/pe/internal/resources"
)

const (
	configFile       = "config-file"
	resourceLanguage = "resources.language"
	maxEntries       = "resources.max-entries"
	outputFormat     = "output.format"
	extractDir       = "extract.dir"
	extractWorkers   = "extract.workers"
	extractRaw       = "extract.raw"
)

// Output formats.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// ResourcesConfig controls resource lookups.
type ResourcesConfig struct {
	// Language is the language id used for resource data, or
	// resources.LanguageDefault.
	Language uint32 `json:"resources.language" yaml:"resources.language"`
	// MaxEntries caps the entries of one resource directory.
	MaxEntries int `json:"resources.max-entries" yaml:"resources.max-entries"`
}

// ExtractConfig controls resource extraction.
type ExtractConfig struct {
	Dir     string `json:"extract.dir" yaml:"extract.dir"`
	Workers int    `json:"extract.workers" yaml:"extract.workers"`
	// Raw writes group resources as stored instead of as .cur/.ico files.
	Raw bool `json:"extract.raw" yaml:"extract.raw"`
}

// Config stores the settings of one pescope invocation.
type Config struct {
	Log       log.Config      `json:"logging" yaml:"logging"`
	Resources ResourcesConfig `json:"resources" yaml:"resources"`
	Extract   ExtractConfig   `json:"extract" yaml:"extract"`
	// Output is the report format (table|json|yaml).
	Output string `json:"output.format" yaml:"output.format"`

	viper *viper.Viper
	flags *pflag.FlagSet
}

// New builds a configuration store backed by flags and PESCOPE_*
// environment variables.
func New() *Config {
	v := viper.New()
	v.SetEnvPrefix("pescope")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	c := &Config{
		viper: v,
		flags: new(pflag.FlagSet),
	}
	log.AddFlags(c.flags)
	c.addFlags()
	return c
}

func (c *Config) addFlags() {
	c.flags.String(configFile, "", "配置文件路径 (yaml|json)")
	c.flags.String(resourceLanguage, "default", "资源语言ID (default、neutral 或数字，如 0x0409)")
	c.flags.Int(maxEntries, 4096, "单个资源目录允许的最大条目数")
	c.flags.StringP(outputFormat, "o", FormatTable, "输出格式 (table|json|yaml)")
	c.flags.String(extractDir, ".", "资源导出目录")
	c.flags.Int(extractWorkers, runtime.NumCPU(), "并发导出的工作协程数")
	c.flags.Bool(extractRaw, false, "按原始格式导出组资源，不重建 .cur/.ico")
}

// MustViperize adds the flag set to the command and binds it within Viper.
func (c *Config) MustViperize(cmd *cobra.Command) {
	cmd.PersistentFlags().AddFlagSet(c.flags)
	if err := c.viper.BindPFlags(cmd.PersistentFlags()); err != nil {
		panic(err)
	}
}

// ConfigFile returns the configured path of the configuration file.
func (c *Config) ConfigFile() string {
	return c.viper.GetString(configFile)
}

// TryLoadFile merges the settings of file into the store.
func (c *Config) TryLoadFile(file string) error {
	c.viper.SetConfigFile(file)
	if err := c.viper.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "无法读取配置文件 %s", file)
	}
	return nil
}

// Init loads the configuration file, if any, and populates the settings.
func (c *Config) Init() error {
	if file := c.ConfigFile(); file != "" {
		if err := c.TryLoadFile(file); err != nil {
			return err
		}
	}
	c.Log.InitFromViper(c.viper)

	lang, err := ParseLanguage(c.viper.GetString(resourceLanguage))
	if err != nil {
		return err
	}
	c.Resources.Language = lang
	c.Resources.MaxEntries = c.viper.GetInt(maxEntries)

	c.Output = c.viper.GetString(outputFormat)
	c.Extract.Dir = c.viper.GetString(extractDir)
	c.Extract.Workers = c.viper.GetInt(extractWorkers)
	c.Extract.Raw = c.viper.GetBool(extractRaw)
	return c.Validate()
}

// Validate checks option values.
func (c *Config) Validate() error {
	switch c.Output {
	case FormatTable, FormatJSON, FormatYAML:
	default:
		return fmt.Errorf("%s: 不支持的输出格式 %q", outputFormat, c.Output)
	}
	if c.Extract.Workers < 1 {
		return fmt.Errorf("%s: 工作协程数必须大于 0", extractWorkers)
	}
	if c.Resources.MaxEntries < 1 {
		return fmt.Errorf("%s: 最大条目数必须大于 0", maxEntries)
	}
	return nil
}

// ParseLanguage converts "default", "neutral" or a numeric language id
// (decimal or 0x-prefixed hex) into a resource language selector.
func ParseLanguage(s string) (uint32, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return resources.LanguageDefault, nil
	case "neutral":
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("%s: 无效的语言ID %q", resourceLanguage, s)
	}
	return uint32(v), nil
}
