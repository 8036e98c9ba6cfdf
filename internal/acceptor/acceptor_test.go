package acceptor

import (
	"net"
	"testing"
	"time"

	"github.com/embertorrent/ember/internal/logger"
	"github.com/stretchr/testify/require"
)

func TestAcceptFeedsConnC(t *testing.T) {
	require := require.New(t)
	connC := make(chan net.Conn, 1)
	a, err := New("127.0.0.1:0", connC, logger.New("test"))
	require.NoError(err)
	go a.Run()
	defer a.Close()

	client, err := net.Dial("tcp", a.Addr().String())
	require.NoError(err)
	defer client.Close()

	select {
	case conn := <-connC:
		require.NotNil(conn)
		conn.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accepted connection")
	}
}

func TestCloseStopsRun(t *testing.T) {
	require := require.New(t)
	connC := make(chan net.Conn)
	a, err := New("127.0.0.1:0", connC, logger.New("test"))
	require.NoError(err)
	done := make(chan struct{})
	go func() {
		a.Run()
		close(done)
	}()
	require.NoError(a.Close())
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}
