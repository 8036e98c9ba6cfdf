// Package tracker implements BEP 3/12/15 tracker announces: HTTP(S) and
// UDP trackers behind a single interface, as one entry of a multi-tracker
// tier list.
package tracker

import (
	"context"
	"errors"
	"net"
	"time"
)

// Event is the BEP 3 "event" announce parameter.
type Event int

const (
	EventNone Event = iota
	EventStarted
	EventStopped
	EventCompleted
)

func (e Event) String() string {
	switch e {
	case EventStarted:
		return "started"
	case EventStopped:
		return "stopped"
	case EventCompleted:
		return "completed"
	default:
		return ""
	}
}

// AnnounceRequest carries everything a tracker needs to answer an
// announce, folding in what the teacher's tracker.Torrent stats struct
// held (bytes uploaded/downloaded/left) alongside the announce event.
type AnnounceRequest struct {
	InfoHash        [20]byte
	PeerID          [20]byte
	Port            int
	BytesUploaded   int64
	BytesDownloaded int64
	BytesLeft       int64
	Event           Event
	NumWant         int
}

// AnnounceResponse is a tracker's reply: a peer list plus how soon to
// announce again.
type AnnounceResponse struct {
	Interval    time.Duration
	MinInterval time.Duration
	Peers       []*net.TCPAddr
	Leechers    int32
	Seeders     int32
	WarningMsg  string
}

// ErrNotAnnouncing is returned by Announce when called after Close.
var ErrNotAnnouncing = errors.New("tracker: closed")

// Tracker announces to a single tracker URL.
type Tracker interface {
	// Announce performs one announce call, blocking until the tracker
	// replies, ctx is canceled, or an error occurs.
	Announce(ctx context.Context, req AnnounceRequest) (*AnnounceResponse, error)
	// URL returns the tracker's announce URL, for logging and dedup.
	URL() string
}
