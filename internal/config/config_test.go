package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoad_NoPathUsesDefaults(t *testing.T) {
	h, err := Load("", nil, testLogger())
	require.NoError(t, err)
	assert.Equal(t, Defaults(), h.Get())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("device_nickname: MyAgent\nauto_open_links: true\n"), 0o600))

	h, err := Load(path, nil, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "MyAgent", h.Get().DeviceNickname)
	assert.True(t, h.Get().AutoOpenLinks)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("device_nickname: FromFile\n"), 0o600))

	t.Setenv("PB_AGENT_DEVICE_NICKNAME", "FromEnv")

	h, err := Load(path, nil, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "FromEnv", h.Get().DeviceNickname)
}

func TestLoad_FlagOverridesEnvAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("device_nickname: FromFile\n"), 0o600))
	t.Setenv("PB_AGENT_DEVICE_NICKNAME", "FromEnv")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("device_nickname", "", "")
	require.NoError(t, flags.Set("device_nickname", "FromFlag"))

	h, err := Load(path, flags, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "FromFlag", h.Get().DeviceNickname)
}

func TestReload_PicksUpChangedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("device_nickname: First\n"), 0o600))

	h, err := Load(path, nil, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "First", h.Get().DeviceNickname)

	require.NoError(t, os.WriteFile(path, []byte("device_nickname: Second\n"), 0o600))
	require.NoError(t, h.Reload())
	assert.Equal(t, "Second", h.Get().DeviceNickname)
}
