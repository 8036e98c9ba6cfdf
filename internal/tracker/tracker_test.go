package tracker

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/embertorrent/ember/internal/bencode"
	"github.com/stretchr/testify/require"
)

func TestHTTPTrackerAnnounce(t *testing.T) {
	require := require.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal("1", r.URL.Query().Get("compact"))
		peers := []byte{127, 0, 0, 1, 0x1A, 0xE1}
		body, err := bencode.Marshal(httpAnnounceResponse{
			Interval: 1800,
			Complete: 3,
			Peers:    string(peers),
		})
		require.NoError(err)
		w.Write(body)
	}))
	defer srv.Close()

	tr := NewHTTPTracker(srv.URL, 5*time.Second, "ember/1.0")
	resp, err := tr.Announce(context.Background(), AnnounceRequest{Port: 6881})
	require.NoError(err)
	require.Equal(1800*time.Second, resp.Interval)
	require.Equal(int32(3), resp.Seeders)
	require.Len(resp.Peers, 1)
	require.Equal("127.0.0.1", resp.Peers[0].IP.String())
	require.Equal(0x1AE1, resp.Peers[0].Port)
}

func TestHTTPTrackerFailureReason(t *testing.T) {
	require := require.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := bencode.Marshal(httpAnnounceResponse{FailureReason: "unregistered torrent"})
		w.Write(body)
	}))
	defer srv.Close()

	tr := NewHTTPTracker(srv.URL, 5*time.Second, "")
	_, err := tr.Announce(context.Background(), AnnounceRequest{})
	require.Error(err)
}

func TestUDPTrackerAnnounce(t *testing.T) {
	require := require.New(t)
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(err)
	defer pc.Close()

	go func() {
		buf := make([]byte, 2048)
		for {
			n, addr, err := pc.ReadFrom(buf)
			if err != nil {
				return
			}
			pkt := buf[:n]
			action := be32(pkt[8:12])
			txID := pkt[12:16]
			if action == udpActionConnect {
				resp := make([]byte, 16)
				copy(resp[0:4], []byte{0, 0, 0, 0})
				copy(resp[4:8], txID)
				copy(resp[8:16], []byte{1, 2, 3, 4, 5, 6, 7, 8})
				pc.WriteTo(resp, addr)
			} else if action == udpActionAnnounce {
				resp := make([]byte, 26)
				copy(resp[0:4], []byte{0, 0, 0, 1})
				copy(resp[4:8], txID)
				copy(resp[8:12], []byte{0, 0, 7, 8})
				copy(resp[12:16], []byte{0, 0, 0, 1})
				copy(resp[16:20], []byte{0, 0, 0, 2})
				copy(resp[20:26], []byte{10, 0, 0, 1, 0x1A, 0xE1})
				pc.WriteTo(resp, addr)
			}
		}
	}()

	tr, err := NewUDPTracker("udp://"+pc.LocalAddr().String()+"/announce", 2*time.Second)
	require.NoError(err)
	resp, err := tr.Announce(context.Background(), AnnounceRequest{Port: 6881})
	require.NoError(err)
	require.Equal(int32(2), resp.Seeders)
	require.Len(resp.Peers, 1)
	require.Equal("10.0.0.1", resp.Peers[0].IP.String())
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
