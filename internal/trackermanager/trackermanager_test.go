package trackermanager

import (
	"testing"
	"time"

	"github.com/embertorrent/ember/internal/blocklist"
	"github.com/embertorrent/ember/internal/tracker"
	"github.com/stretchr/testify/require"
)

func TestGetDispatchesByScheme(t *testing.T) {
	require := require.New(t)
	m := New(blocklist.New())

	tr, err := m.Get("http://example.com/announce", time.Second, "ember/1.0")
	require.NoError(err)
	_, ok := tr.(*tracker.HTTPTracker)
	require.True(ok)

	tr, err = m.Get("udp://example.com:80/announce", time.Second, "")
	require.NoError(err)
	_, ok = tr.(*tracker.UDPTracker)
	require.True(ok)

	_, err = m.Get("ftp://example.com/announce", time.Second, "")
	require.Error(err)
}
