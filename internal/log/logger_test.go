package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetLogger(t *testing.T) {
	t.Cleanup(func() {
		logrus.StandardLogger().ReplaceHooks(make(logrus.LevelHooks))
		logrus.SetOutput(os.Stderr)
		logrus.SetLevel(logrus.InfoLevel)
		logrus.SetFormatter(&logrus.TextFormatter{})
	})
}

func TestConfigFromFlags(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddFlags(flags)
	require.NoError(t, flags.Parse([]string{"--logging.level=debug", "--logging.formatter=json"}))

	v := viper.New()
	require.NoError(t, v.BindPFlags(flags))
	var c Config
	c.InitFromViper(v)

	assert.Equal(t, "debug", c.Level)
	assert.Equal(t, "json", c.Formatter)
	assert.Empty(t, c.Path)
	assert.Equal(t, 5, c.MaxBackups)
	assert.True(t, c.LogStderr)
}

func TestInitFromConfig(t *testing.T) {
	resetLogger(t)

	path := filepath.Join(t.TempDir(), "logs", "pescope.log")
	require.NoError(t, InitFromConfig(Config{Level: "info", Formatter: "json", Path: path, MaxSize: 1}))
	assert.Equal(t, logrus.InfoLevel, logrus.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logrus.StandardLogger().Formatter)

	logrus.WithField("section", ".rsrc").Info("written")
	logrus.Debug("dropped")

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"section":".rsrc"`)
	assert.NotContains(t, string(b), "dropped")
}

func TestInitFromConfigBadLevel(t *testing.T) {
	resetLogger(t)
	assert.Error(t, InitFromConfig(Config{Level: "loud"}))
}
