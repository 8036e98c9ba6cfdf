package tracker

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/embertorrent/ember/internal/bencode"
)

// httpAnnounceResponse is the bencoded reply BEP 3 defines; Peers is read as
// the 6-bytes-per-peer compact form (BEP 23) only, and a reply that lists
// peers as bencoded dicts is not supported.
type httpAnnounceResponse struct {
	FailureReason string             `bencode:"failure reason,omitempty"`
	WarningMsg    string             `bencode:"warning message,omitempty"`
	Interval      int64              `bencode:"interval"`
	MinInterval   int64              `bencode:"min interval,omitempty"`
	Complete      int32              `bencode:"complete,omitempty"`
	Incomplete    int32              `bencode:"incomplete,omitempty"`
	Peers         string             `bencode:"peers"`
}

// HTTPTracker announces over HTTP(S) GET per BEP 3.
type HTTPTracker struct {
	rawURL     string
	httpClient *http.Client
	userAgent  string
}

// NewHTTPTracker returns an HTTPTracker for rawURL, timing out each
// announce after timeout and identifying itself with userAgent.
func NewHTTPTracker(rawURL string, timeout time.Duration, userAgent string) *HTTPTracker {
	return &HTTPTracker{
		rawURL:     rawURL,
		httpClient: &http.Client{Timeout: timeout},
		userAgent:  userAgent,
	}
}

func (t *HTTPTracker) URL() string { return t.rawURL }

// Announce builds the query string BEP 3 specifies and decodes the
// bencoded reply.
func (t *HTTPTracker) Announce(ctx context.Context, req AnnounceRequest) (*AnnounceResponse, error) {
	u, err := url.Parse(t.rawURL)
	if err != nil {
		return nil, fmt.Errorf("tracker: invalid url: %w", err)
	}
	q := u.Query()
	q.Set("info_hash", string(req.InfoHash[:]))
	q.Set("peer_id", string(req.PeerID[:]))
	q.Set("port", strconv.Itoa(req.Port))
	q.Set("uploaded", strconv.FormatInt(req.BytesUploaded, 10))
	q.Set("downloaded", strconv.FormatInt(req.BytesDownloaded, 10))
	q.Set("left", strconv.FormatInt(req.BytesLeft, 10))
	q.Set("compact", "1")
	if req.NumWant > 0 {
		q.Set("numwant", strconv.Itoa(req.NumWant))
	}
	if s := req.Event.String(); s != "" {
		q.Set("event", s)
	}
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if t.userAgent != "" {
		httpReq.Header.Set("User-Agent", t.userAgent)
	}
	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tracker: http status %d", resp.StatusCode)
	}

	var decoded httpAnnounceResponse
	if err := bencode.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("tracker: invalid announce response: %w", err)
	}
	if decoded.FailureReason != "" {
		return nil, fmt.Errorf("tracker: %s", decoded.FailureReason)
	}
	peers, err := decodeCompactPeers([]byte(decoded.Peers))
	if err != nil {
		return nil, err
	}
	return &AnnounceResponse{
		Interval:    time.Duration(decoded.Interval) * time.Second,
		MinInterval: time.Duration(decoded.MinInterval) * time.Second,
		Peers:       peers,
		Seeders:     decoded.Complete,
		Leechers:    decoded.Incomplete,
		WarningMsg:  decoded.WarningMsg,
	}, nil
}

// decodeCompactPeers parses BEP 23's 6-bytes-per-peer (4-byte IPv4 + 2-byte
// big-endian port) compact list.
func decodeCompactPeers(b []byte) ([]*net.TCPAddr, error) {
	if len(b)%6 != 0 {
		return nil, fmt.Errorf("tracker: compact peers length %d not a multiple of 6", len(b))
	}
	peers := make([]*net.TCPAddr, 0, len(b)/6)
	for i := 0; i < len(b); i += 6 {
		ip := net.IPv4(b[i], b[i+1], b[i+2], b[i+3])
		port := binary.BigEndian.Uint16(b[i+4 : i+6])
		peers = append(peers, &net.TCPAddr{IP: ip, Port: int(port)})
	}
	return peers, nil
}
