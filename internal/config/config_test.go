package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, RegistrationOpen, cfg.RegistrationMode)
	assert.Equal(t, 3600, cfg.BlockCleanupInterval)
}

func TestLoadPrecedenceFileEnvFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "united.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: \"9000\"\ndata_dir: /from/file\n"), 0o600))

	t.Setenv("UNITED_DATA_DIR", "/from/env")

	cfg, err := Load([]string{"--config", path, "--port", "9001"})
	require.NoError(t, err)
	assert.Equal(t, "9001", cfg.Port, "CLI flag wins over file")
	assert.Equal(t, "/from/env", cfg.DataDir, "environment wins over file")
}

func TestLoadEnvRegistrationMode(t *testing.T) {
	t.Setenv("UNITED_REGISTRATION_MODE", "invite-only")
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, RegistrationInviteOnly, cfg.RegistrationMode)
}
