package rpc

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStartAndSendCommand(t *testing.T) {
	require := require.New(t)
	path := filepath.Join(t.TempDir(), "ember.sock")

	var got string
	s, err := Start(path, func(command string) (string, error) {
		got = command
		return "ok", nil
	})
	require.NoError(err)
	defer s.Stop(time.Second)

	reply, err := SendCommand(path, "add magnet:?xt=urn:btih:0123456789abcdef0123456789abcdef01234567", time.Second)
	require.NoError(err)
	require.Equal("ok", reply)
	require.Contains(got, "add magnet:")
}

func TestSendCommandNoRunningInstance(t *testing.T) {
	require := require.New(t)
	path := filepath.Join(t.TempDir(), "missing.sock")
	_, err := SendCommand(path, "stop", 200*time.Millisecond)
	require.ErrorIs(err, ErrNoRunningInstance)
}
