package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRPCServerHandleUnknownAndEmpty(t *testing.T) {
	require := require.New(t)

	r := newRPCServer(&Session{torrents: make(map[string]*Torrent)})

	_, err := r.handle("")
	require.Error(err)

	_, err = r.handle("frobnicate")
	require.Error(err)
}

func TestRPCServerHandleAddUsage(t *testing.T) {
	require := require.New(t)

	r := newRPCServer(&Session{torrents: make(map[string]*Torrent)})

	_, err := r.handle("add")
	require.Error(err)

	_, err = r.handle("add one two")
	require.Error(err)
}

func TestRPCServerHandleList(t *testing.T) {
	require := require.New(t)

	s := &Session{torrents: make(map[string]*Torrent)}
	r := newRPCServer(s)

	out, err := r.handle("list")
	require.NoError(err)
	require.Empty(out)
}

func TestRPCServerHandleStop(t *testing.T) {
	require := require.New(t)

	r := newRPCServer(&Session{torrents: make(map[string]*Torrent)})

	out, err := r.handle("stop")
	require.NoError(err)
	require.Equal("stopping", out)

	select {
	case <-r.ShutdownC:
	case <-time.After(time.Second):
		t.Fatal("stop command did not signal ShutdownC")
	}
}
