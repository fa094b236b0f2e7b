package config

import (
	"errors"
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(nil, []string{})
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
	assert.Equal(t, ":8080", cfg.Addr())
}

func TestLoadPort(t *testing.T) {
	cfg, err := load([]string{"9090"}, []string{})
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)

	for _, arg := range []string{"0", "65536", "1x", "http", ""} {
		_, err := load([]string{arg}, []string{})
		assert.ErrorIs(t, err, ErrInvalidPort, "port %q", arg)
	}

	_, err = load([]string{"80", "81"}, []string{})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoadFlags(t *testing.T) {
	cfg, err := load([]string{
		"-workers", "2",
		"-root", "/srv/www",
		"-idle-timeout", "750ms",
		"-file-workers", "0",
		"-log-level", "debug",
		"8081",
	}, []string{})
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, "/srv/www", cfg.DocRoot)
	assert.Equal(t, 750*time.Millisecond, cfg.IdleTimeout)
	assert.Equal(t, 0, cfg.FileWorkers)
	assert.Equal(t, 8081, cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadPrecedence(t *testing.T) {
	file := filepath.Join(t.TempDir(), "fast-static.json")
	require.NoError(t, os.WriteFile(file, []byte(`{
		"workers": 3,
		"root": "/from/json",
		"idle": {"timeout": "2s"},
		"max": {"connections": 50},
		"stable.after": 1500
	}`), 0o644))

	env := []string{
		"FAST_STATIC_WORKERS=6",
		"FAST_STATIC_MAX_HEADER_BYTES=4096",
		"OTHER_WORKERS=99",
	}

	cfg, err := load([]string{"-config", file, "-workers", "5"}, env)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Workers, "flag beats env and json")
	assert.Equal(t, "/from/json", cfg.DocRoot)
	assert.Equal(t, 2*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 50, cfg.MaxConnections)
	assert.Equal(t, 1500*time.Millisecond, cfg.StableAfter)
	assert.Equal(t, 4096, cfg.MaxHeaderBytes)

	cfg, err = load([]string{"-config", file}, env)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Workers, "env beats json")
}

func TestLoadErrors(t *testing.T) {
	_, err := load([]string{"-config", filepath.Join(t.TempDir(), "missing.json")}, []string{})
	assert.Error(t, err)

	_, err = load(nil, []string{"FAST_STATIC_WORKERS=many"})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = load([]string{"-workers", "0"}, []string{})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = load([]string{"-bogus"}, []string{})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = load([]string{"-h"}, []string{})
	assert.True(t, errors.Is(err, flag.ErrHelp))
}

func TestSlogLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "warn"
	assert.Equal(t, "WARN", cfg.SlogLevel().String())

	cfg.LogLevel = "loud"
	assert.Equal(t, "INFO", cfg.SlogLevel().String())
}

func TestManagerUnmarshal(t *testing.T) {
	type section struct {
		Name    string
		Enabled bool          `config:"enabled"`
		Timeout time.Duration `config:"timeout"`
		Skip    int           `config:"-"`
	}

	m := NewManager()
	m.Set("svc.name", "files")
	m.Set("svc.enabled", "true")
	m.Set("svc.timeout", "3s")
	m.Set("svc.skip", 7)

	v, ok := m.Get("svc.name")
	require.True(t, ok)
	assert.Equal(t, "files", v)
	m.Delete("svc.name")
	_, ok = m.Get("svc.name")
	assert.False(t, ok)
	m.Set("svc.name", "files")

	var s section
	require.NoError(t, m.Unmarshal("svc", &s))
	assert.Equal(t, section{Name: "files", Enabled: true, Timeout: 3 * time.Second}, s)

	assert.Error(t, m.Unmarshal("svc", s))

	m.Set("svc.enabled", 1.0)
	assert.Error(t, m.Unmarshal("svc", &s))
}
