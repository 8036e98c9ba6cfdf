// Package announcer drives tracker announces for one torrent: a periodic
// announcer per tracker tier entry, plus a one-shot "stopped" announcer run
// at shutdown. Each announcer pulls the current torrent stats through a
// request/response channel pair rather than touching the torrent's state
// directly, keeping it off the run loop except for that one handoff.
package announcer

import (
	"context"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/embertorrent/ember/internal/logger"
	"github.com/embertorrent/ember/internal/tracker"
)

// Request is sent by an announcer to the torrent's run loop to fetch the
// stats needed for the next announce call.
type Request struct {
	Response chan Response
	Cancel   chan struct{}
}

// Response answers a Request with the stats snapshot to announce.
type Response struct {
	Torrent tracker.AnnounceRequest
}

// minAnnounceInterval is used when a tracker does not specify one.
const minAnnounceInterval = 15 * time.Second

// maxBackoff caps the retry delay after consecutive announce failures.
const maxBackoff = 30 * time.Minute

// PeriodicalAnnouncer announces to a single tracker on a loop, following
// the interval the tracker returns and backing off exponentially on
// errors.
type PeriodicalAnnouncer struct {
	tracker     tracker.Tracker
	requestC    chan *Request
	peersC      chan []tracker.AnnounceResponse
	log         logger.Logger
	closeC      chan struct{}
	doneC       chan struct{}
	lastAnnounce time.Time
}

// New returns a PeriodicalAnnouncer for t; requestC is used to pull stats
// from the owning torrent, resultC receives every successful response.
func New(t tracker.Tracker, requestC chan *Request, resultC chan []tracker.AnnounceResponse, log logger.Logger) *PeriodicalAnnouncer {
	return &PeriodicalAnnouncer{
		tracker:  t,
		requestC: requestC,
		peersC:   resultC,
		log:      log,
		closeC:   make(chan struct{}),
		doneC:    make(chan struct{}),
	}
}

// Run announces in a loop, starting immediately, until Close is called.
func (a *PeriodicalAnnouncer) Run() {
	defer close(a.doneC)
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = minAnnounceInterval
	bo.MaxInterval = maxBackoff
	bo.MaxElapsedTime = 0

	interval := time.Duration(0)
	for {
		select {
		case <-a.closeC:
			return
		case <-time.After(interval):
		}

		req := &Request{Response: make(chan Response, 1), Cancel: make(chan struct{})}
		select {
		case a.requestC <- req:
		case <-a.closeC:
			return
		}
		var resp Response
		select {
		case resp = <-req.Response:
		case <-a.closeC:
			close(req.Cancel)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		result, err := a.tracker.Announce(ctx, resp.Torrent)
		cancel()
		if err != nil {
			a.log.Debugln("announce error:", err)
			interval = bo.NextBackOff()
			continue
		}
		bo.Reset()
		a.lastAnnounce = time.Now()
		select {
		case a.peersC <- []tracker.AnnounceResponse{*result}:
		case <-a.closeC:
			return
		}
		interval = result.Interval
		if result.MinInterval > 0 && interval < result.MinInterval {
			interval = result.MinInterval
		}
		if interval < minAnnounceInterval {
			interval = minAnnounceInterval
		}
		// Jitter avoids every torrent's announcer syncing up after a
		// restart.
		interval += time.Duration(rand.Int63n(int64(time.Second)))
	}
}

// Close stops the announce loop; Run returns once any in-flight announce
// finishes.
func (a *PeriodicalAnnouncer) Close() {
	close(a.closeC)
	<-a.doneC
}

// StopAnnouncer sends a single best-effort "stopped" event announce,
// bounded by timeout, used during torrent shutdown.
type StopAnnouncer struct {
	doneC chan struct{}
}

// NewStopAnnouncer fires the stopped announce in the background and
// returns immediately; Close waits for it (or timeout) to finish.
func NewStopAnnouncer(t tracker.Tracker, req tracker.AnnounceRequest, timeout time.Duration, log logger.Logger) *StopAnnouncer {
	s := &StopAnnouncer{doneC: make(chan struct{})}
	go func() {
		defer close(s.doneC)
		req.Event = tracker.EventStopped
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if _, err := t.Announce(ctx, req); err != nil {
			log.Debugln("stopped announce error:", err)
		}
	}()
	return s
}

// Close blocks until the stopped announce completes.
func (s *StopAnnouncer) Close() {
	<-s.doneC
}
