// Package magnet parses magnet URIs (BEP 9): an infohash plus a display
// name and tracker hints, with the piece layout acquired later over the
// wire via the ut_metadata extension.
package magnet

import (
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// Magnet is the decoded form of a "magnet:?xt=urn:btih:..." URI.
type Magnet struct {
	InfoHash [20]byte
	Name     string
	Trackers []string
}

// New parses uri into a Magnet. The infohash may be hex (40 chars) or
// base32 (32 chars) per BEP 9.
func New(uri string) (*Magnet, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "magnet" {
		return nil, fmt.Errorf("magnet: invalid scheme %q", u.Scheme)
	}
	q := u.Query()
	var m Magnet
	var found bool
	for _, xt := range q["xt"] {
		const prefix = "urn:btih:"
		if !strings.HasPrefix(xt, prefix) {
			continue
		}
		hashStr := strings.TrimPrefix(xt, prefix)
		hash, err := decodeInfoHash(hashStr)
		if err != nil {
			return nil, err
		}
		m.InfoHash = hash
		found = true
		break
	}
	if !found {
		return nil, fmt.Errorf("magnet: no urn:btih in %q", uri)
	}
	m.Name = q.Get("dn")
	m.Trackers = q["tr"]
	return &m, nil
}

func decodeInfoHash(s string) ([20]byte, error) {
	var h [20]byte
	switch len(s) {
	case 40:
		b, err := hex.DecodeString(s)
		if err != nil {
			return h, fmt.Errorf("magnet: invalid hex infohash: %w", err)
		}
		copy(h[:], b)
		return h, nil
	case 32:
		b, err := base32.StdEncoding.DecodeString(strings.ToUpper(s))
		if err != nil {
			return h, fmt.Errorf("magnet: invalid base32 infohash: %w", err)
		}
		copy(h[:], b)
		return h, nil
	default:
		return h, fmt.Errorf("magnet: infohash %q has unexpected length %d", s, len(s))
	}
}

// String renders the canonical magnet URI form (hex infohash, dn and tr
// params in that order), used when persisting the original source text.
func (m *Magnet) String() string {
	s := "magnet:?xt=urn:btih:" + hex.EncodeToString(m.InfoHash[:])
	if m.Name != "" {
		s += "&dn=" + url.QueryEscape(m.Name)
	}
	for _, tr := range m.Trackers {
		s += "&tr=" + url.QueryEscape(tr)
	}
	return s
}
