package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	require := require.New(t)
	c, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(err)
	require.Equal(DefaultConfig().PortBegin, c.PortBegin)
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	require := require.New(t)
	path := filepath.Join(t.TempDir(), "ember.toml")
	content := "PortBegin = 12000\nPortEnd = 13000\nDHTEnabled = false\n"
	require.NoError(os.WriteFile(path, []byte(content), 0644))

	c, err := LoadConfig(path)
	require.NoError(err)
	require.Equal(12000, c.PortBegin)
	require.Equal(13000, c.PortEnd)
	require.False(c.DHTEnabled)
	require.Equal(DefaultConfig().MaxPeerAccept, c.MaxPeerAccept)
}
