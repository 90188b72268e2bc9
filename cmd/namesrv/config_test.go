package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig_Defaults(t *testing.T) {
	cfg, worker, err := parseConfig(nil)
	require.NoError(t, err)
	assert.False(t, worker)
	assert.Equal(t, defaultConfig(), cfg)
	assert.Equal(t, 5555, cfg.Port)
	assert.Equal(t, 4, cfg.Workers)
}

func TestParseConfig_FileThenFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "namesrv.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
port = 7000
workers = 2
log_level = "debug"
conn_timeout = "3s"
stats_every = 10

[admission]
window = "1m"
max = 5
`), 0o600))

	cfg, worker, err := parseConfig([]string{"-config", path, "-workers", "8", "-worker"})
	require.NoError(t, err)
	assert.True(t, worker)
	assert.Equal(t, 7000, cfg.Port)
	assert.Equal(t, 8, cfg.Workers, "flags override the file")
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 3*time.Second, cfg.ConnTimeout)
	assert.Equal(t, 10, cfg.StatsEvery)
	assert.Equal(t, AdmissionConfig{Window: time.Minute, Max: 5}, cfg.Admission)
	// unset keys keep their defaults
	assert.Equal(t, 10, cfg.Backlog)
}

func TestParseConfig_Invalid(t *testing.T) {
	for _, args := range [][]string{
		{"-port", "0"},
		{"-port", "70000"},
		{"-workers", "0"},
		{"-log-level", "loud"},
		{"-config", filepath.Join(t.TempDir(), "missing.toml")},
		{"extra"},
	} {
		_, _, err := parseConfig(args)
		assert.Error(t, err, "%q", args)
	}
}

func TestParseLevel(t *testing.T) {
	for s, want := range map[string]logiface.Level{
		"info":     logiface.LevelInformational,
		"INFO":     logiface.LevelInformational,
		"err":      logiface.LevelError,
		"error":    logiface.LevelError,
		"warn":     logiface.LevelWarning,
		"trace":    logiface.LevelTrace,
		"disabled": logiface.LevelDisabled,
	} {
		got, err := parseLevel(s)
		if assert.NoError(t, err, s) {
			assert.Equal(t, want, got, s)
		}
	}
}
