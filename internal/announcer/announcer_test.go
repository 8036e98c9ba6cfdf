package announcer

import (
	"context"
	"testing"
	"time"

	"github.com/embertorrent/ember/internal/logger"
	"github.com/embertorrent/ember/internal/tracker"
	"github.com/stretchr/testify/require"
)

type fakeTracker struct {
	calls chan tracker.AnnounceRequest
}

func (f *fakeTracker) URL() string { return "fake://tracker" }

func (f *fakeTracker) Announce(ctx context.Context, req tracker.AnnounceRequest) (*tracker.AnnounceResponse, error) {
	f.calls <- req
	return &tracker.AnnounceResponse{Interval: time.Hour}, nil
}

func TestPeriodicalAnnouncerAnswersRequestAndForwardsResult(t *testing.T) {
	require := require.New(t)
	ft := &fakeTracker{calls: make(chan tracker.AnnounceRequest, 1)}
	requestC := make(chan *Request)
	resultC := make(chan []tracker.AnnounceResponse, 1)
	a := New(ft, requestC, resultC, logger.New("test"))
	go a.Run()
	defer a.Close()

	select {
	case req := <-requestC:
		req.Response <- Response{Torrent: tracker.AnnounceRequest{Port: 6881}}
	case <-time.After(2 * time.Second):
		t.Fatal("announcer did not send a request")
	}

	select {
	case call := <-ft.calls:
		require.Equal(6881, call.Port)
	case <-time.After(2 * time.Second):
		t.Fatal("tracker was not called")
	}

	select {
	case results := <-resultC:
		require.Len(results, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("result was not forwarded")
	}
}

func TestStopAnnouncerSendsStoppedEvent(t *testing.T) {
	require := require.New(t)
	ft := &fakeTracker{calls: make(chan tracker.AnnounceRequest, 1)}
	s := NewStopAnnouncer(ft, tracker.AnnounceRequest{Port: 6881}, time.Second, logger.New("test"))
	s.Close()

	select {
	case call := <-ft.calls:
		require.Equal(tracker.EventStopped, call.Event)
	default:
		t.Fatal("expected stopped announce to have been sent")
	}
}
