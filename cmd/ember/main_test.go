package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/embertorrent/ember/internal/rpc"
)

func TestForwardTranslatesStopClient(t *testing.T) {
	require := require.New(t)

	var got string
	socketPath := filepath.Join(t.TempDir(), "ember.sock")
	srv, err := rpc.Start(socketPath, func(line string) (string, error) {
		got = line
		return "ok", nil
	})
	require.NoError(err)
	defer srv.Stop(time.Second)

	code := forward(socketPath, "stop-client")
	require.Equal(0, code)
	require.Equal("stop", got)
}

func TestForwardPassesAddThrough(t *testing.T) {
	require := require.New(t)

	var got string
	socketPath := filepath.Join(t.TempDir(), "ember.sock")
	srv, err := rpc.Start(socketPath, func(line string) (string, error) {
		got = line
		return "id123", nil
	})
	require.NoError(err)
	defer srv.Stop(time.Second)

	code := forward(socketPath, "magnet:?xt=urn:btih:abc")
	require.Equal(0, code)
	require.Equal("add magnet:?xt=urn:btih:abc", got)
}

func TestForwardNoRunningInstance(t *testing.T) {
	require := require.New(t)

	socketPath := filepath.Join(t.TempDir(), "does-not-exist.sock")
	code := forward(socketPath, "stop-client")
	require.Equal(2, code)
}
