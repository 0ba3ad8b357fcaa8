package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ko4life-net/pe/internal/resources"
)

func newCommand(t *testing.T, args ...string) *Config {
	t.Helper()
	c := New()
	cmd := &cobra.Command{Use: "test"}
	c.MustViperize(cmd)
	require.NoError(t, cmd.PersistentFlags().Parse(args))
	return c
}

func TestDefaults(t *testing.T) {
	c := newCommand(t)
	require.NoError(t, c.Init())

	assert.Equal(t, FormatTable, c.Output)
	assert.Equal(t, resources.LanguageDefault, c.Resources.Language)
	assert.Equal(t, 4096, c.Resources.MaxEntries)
	assert.Equal(t, ".", c.Extract.Dir)
	assert.GreaterOrEqual(t, c.Extract.Workers, 1)
	assert.Equal(t, "warn", c.Log.Level)
}

func TestFlags(t *testing.T) {
	c := newCommand(t, "-o", "json", "--resources.language=0x0419", "--extract.workers=2", "--extract.raw")
	require.NoError(t, c.Init())

	assert.Equal(t, FormatJSON, c.Output)
	assert.Equal(t, uint32(0x0419), c.Resources.Language)
	assert.Equal(t, 2, c.Extract.Workers)
	assert.True(t, c.Extract.Raw)
}

func TestConfigFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "pescope.yml")
	content := "output:\n  format: yaml\nresources:\n  language: neutral\nlogging:\n  level: debug\n"
	require.NoError(t, os.WriteFile(file, []byte(content), 0o600))

	c := newCommand(t, "--config-file", file)
	require.NoError(t, c.Init())

	assert.Equal(t, FormatYAML, c.Output)
	assert.Equal(t, uint32(0), c.Resources.Language)
	assert.Equal(t, "debug", c.Log.Level)
}

func TestInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"format", []string{"-o", "xml"}},
		{"workers", []string{"--extract.workers=0"}},
		{"language", []string{"--resources.language=english"}},
		{"missing file", []string{"--config-file", "/nonexistent/pescope.yml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, newCommand(t, tt.args...).Init())
		})
	}
}

func TestParseLanguage(t *testing.T) {
	tests := []struct {
		in   string
		want uint32
	}{
		{"default", resources.LanguageDefault},
		{"", resources.LanguageDefault},
		{"Neutral", 0},
		{"1033", 1033},
		{"0x0409", 0x0409},
	}
	for _, tt := range tests {
		got, err := ParseLanguage(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
	_, err := ParseLanguage("0x10000")
	assert.Error(t, err)
}
