// Package trackermanager resolves an announce URL to a tracker.Tracker
// implementation, rejecting any URL whose host appears on the blocklist.
package trackermanager

import (
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/embertorrent/ember/internal/blocklist"
	"github.com/embertorrent/ember/internal/tracker"
)

// TrackerManager is a factory for tracker.Tracker instances, shared across
// every torrent in a session so blocklist checks happen in one place.
type TrackerManager struct {
	blocklist *blocklist.Blocklist
}

// New returns a TrackerManager that rejects trackers on bl.
func New(bl *blocklist.Blocklist) *TrackerManager {
	return &TrackerManager{blocklist: bl}
}

// Get returns a Tracker for rawURL, dispatching on scheme (http/https vs.
// udp), bounding each announce by httpTimeout and identifying HTTP
// requests with userAgent.
func (m *TrackerManager) Get(rawURL string, httpTimeout time.Duration, userAgent string) (tracker.Tracker, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("trackermanager: invalid url %q: %w", rawURL, err)
	}
	if m.blocklist != nil {
		if ips, err := net.LookupIP(u.Hostname()); err == nil {
			for _, ip := range ips {
				if m.blocklist.Blocked(ip) {
					return nil, fmt.Errorf("trackermanager: host %q is blocklisted", u.Hostname())
				}
			}
		}
	}
	switch u.Scheme {
	case "http", "https":
		return tracker.NewHTTPTracker(rawURL, httpTimeout, userAgent), nil
	case "udp":
		return tracker.NewUDPTracker(rawURL, httpTimeout)
	default:
		return nil, fmt.Errorf("trackermanager: unsupported tracker scheme %q", u.Scheme)
	}
}
