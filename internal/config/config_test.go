// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearArchivistEnv unsets every ARCHIVIST_* variable for the duration of
// one test, restoring each on cleanup, so Load()'s env layer only sees
// what that test itself sets.
func clearArchivistEnv(t *testing.T) {
	t.Helper()
	for _, e := range os.Environ() {
		key, val, ok := strings.Cut(e, "=")
		if !ok || !strings.HasPrefix(key, "ARCHIVIST_") {
			continue
		}
		os.Unsetenv(key)
		t.Cleanup(func() { os.Setenv(key, val) })
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearArchivistEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "./dbs/archivist.db", cfg.StorePath)
	assert.Equal(t, 180, cfg.AutoschedulerTickSeconds)
	assert.Equal(t, 60, cfg.DownloaderTickSeconds)
	assert.Equal(t, 120, cfg.GracePeriodSeconds)
	assert.Equal(t, "yt-dlp", cfg.YTDLPBinary)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.False(t, cfg.OTLPEnabled)
}

func TestLoad_FileOverridesDefault(t *testing.T) {
	clearArchivistEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store_path: /data/from-file.db\nautoscheduler_tick_seconds: 300\n"), 0o600))
	os.Setenv("ARCHIVIST_CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/data/from-file.db", cfg.StorePath)
	assert.Equal(t, 300, cfg.AutoschedulerTickSeconds)
	// Untouched-by-file fields still fall back to the compiled-in default.
	assert.Equal(t, 60, cfg.DownloaderTickSeconds)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearArchivistEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store_path: /data/from-file.db\n"), 0o600))
	os.Setenv("ARCHIVIST_CONFIG_FILE", path)
	os.Setenv("ARCHIVIST_STORE_PATH", "/data/from-env.db")
	t.Cleanup(func() { os.Unsetenv("ARCHIVIST_STORE_PATH") })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/data/from-env.db", cfg.StorePath)
}

func TestLoad_MissingConfigFileIsNotAnError(t *testing.T) {
	clearArchivistEnv(t)

	os.Setenv("ARCHIVIST_CONFIG_FILE", filepath.Join(t.TempDir(), "does-not-exist.yaml"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "./dbs/archivist.db", cfg.StorePath)
}

func TestLoad_MalformedConfigFileIsAnError(t *testing.T) {
	clearArchivistEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: valid: yaml: ["), 0o600))
	os.Setenv("ARCHIVIST_CONFIG_FILE", path)

	_, err := Load()
	assert.Error(t, err)
}
