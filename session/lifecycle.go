package session

import (
	"time"

	"github.com/embertorrent/ember/internal/allocator"
	"github.com/embertorrent/ember/internal/announcer"
	"github.com/embertorrent/ember/internal/tracker"
	"github.com/embertorrent/ember/internal/verifier"
)

// status reports the torrent's current high-level lifecycle state.
func (t *torrent) status() Status {
	if t.stoppedEventAnnouncer != nil || (len(t.announcers) == 0 && t.dhtAnnouncer == nil && t.info == nil && t.lastError != nil) {
		return Stopped
	}
	if t.lastError != nil && len(t.announcers) == 0 {
		return Stopped
	}
	if t.info == nil {
		if len(t.infoDownloaders) > 0 || len(t.announcers) > 0 || t.dhtAnnouncer != nil {
			return DownloadingMetadata
		}
		return Stopped
	}
	if t.piecePicker == nil && !t.completed {
		if t.files == nil {
			return Allocating
		}
		return Verifying
	}
	if t.completed {
		return Seeding
	}
	if len(t.announcers) > 0 || t.dhtAnnouncer != nil || len(t.peers) > 0 {
		return Downloading
	}
	return Stopped
}

// start brings up announcing and (once metadata/files are ready) peer
// discovery for this torrent; safe to call when already running.
func (t *torrent) start() {
	t.lastError = nil
	if t.stoppedEventAnnouncer != nil {
		t.stoppedEventAnnouncer.Close()
		t.stoppedEventAnnouncer = nil
	}
	if len(t.announcers) == 0 {
		for _, tr := range t.trackers {
			an := announcer.New(tr, t.announcerRequestC, t.announcerResultC, t.log)
			t.announcers = append(t.announcers, an)
			go an.Run()
		}
	}
	if t.dhtAnnouncer != nil {
		go t.dhtAnnouncer.Run()
	}
	if t.info != nil && t.files == nil {
		t.startAllocator()
	}
	t.ensureUnchokeTimers()
	t.ensureStatsWriteTicker()
	t.ensureSpeedCounterTicker()
	if t.config.PEXEnabled {
		t.ensurePEXTicker()
	}
}

// stop tears the torrent down to its resting state: every periodic
// announcer is closed, all connections are dropped, and err (nil for a
// user-requested stop) is recorded for status reporting. A final "stopped"
// event is sent to the first tracker only, and not at all when err is
// errClosed (session shutdown).
func (t *torrent) stop(err error) {
	t.lastError = err

	for _, an := range t.announcers {
		an.Close()
	}
	t.announcers = nil
	if t.dhtAnnouncer != nil {
		t.dhtAnnouncer.Close()
	}

	if len(t.trackers) > 0 && err != errClosed {
		tr := t.trackers[0]
		t.stoppedEventAnnouncer = announcer.NewStopAnnouncer(tr, t.announcerFields(), 5*time.Second, t.log)
		go func() {
			t.stoppedEventAnnouncer.Close()
			select {
			case t.announcersStoppedC <- struct{}{}:
			default:
			}
		}()
	}

	for pe := range t.peers {
		pe.Close()
	}
	for h := range t.incomingHandshakers {
		h.Close()
	}
	for h := range t.outgoingHandshakers {
		h.Close()
	}
	if t.allocatorStopC != nil {
		close(t.allocatorStopC)
		t.allocatorStopC = make(chan struct{})
	}
	if t.verifierStopC != nil {
		close(t.verifierStopC)
		t.verifierStopC = make(chan struct{})
	}
	t.stopUnchokeTimers()
	t.stopStatsWriteTicker()
	t.stopSpeedCounterTicker()
	t.stopPEXTicker()
}

func (t *torrent) ensureUnchokeTimers() {
	if t.unchokeTimer == nil {
		t.unchokeTimer = time.NewTimer(t.config.UnchokeInterval)
		t.unchokeTimerC = t.unchokeTimer.C
	}
	if t.optimisticUnchokeTimer == nil {
		t.optimisticUnchokeTimer = time.NewTimer(t.config.OptimisticUnchokeInterval)
		t.optimisticUnchokeTimerC = t.optimisticUnchokeTimer.C
	}
}

func (t *torrent) stopUnchokeTimers() {
	if t.unchokeTimer != nil {
		t.unchokeTimer.Stop()
		t.unchokeTimer = nil
		t.unchokeTimerC = nil
	}
	if t.optimisticUnchokeTimer != nil {
		t.optimisticUnchokeTimer.Stop()
		t.optimisticUnchokeTimer = nil
		t.optimisticUnchokeTimerC = nil
	}
}

func (t *torrent) ensureStatsWriteTicker() {
	if t.statsWriteTicker == nil {
		t.statsWriteTicker = time.NewTicker(t.config.StatsWriteInterval)
		t.statsWriteTickerC = t.statsWriteTicker.C
	}
}

func (t *torrent) stopStatsWriteTicker() {
	if t.statsWriteTicker != nil {
		t.statsWriteTicker.Stop()
		t.statsWriteTicker = nil
		t.statsWriteTickerC = nil
	}
}

func (t *torrent) ensureSpeedCounterTicker() {
	if t.speedCounterTicker == nil {
		t.speedCounterTicker = time.NewTicker(t.config.SpeedCounterInterval)
		t.speedCounterTickerC = t.speedCounterTicker.C
	}
}

func (t *torrent) stopSpeedCounterTicker() {
	if t.speedCounterTicker != nil {
		t.speedCounterTicker.Stop()
		t.speedCounterTicker = nil
		t.speedCounterTickerC = nil
	}
}

func (t *torrent) ensurePEXTicker() {
	if t.pexTicker == nil {
		t.pexTicker = time.NewTicker(t.config.PEXFlushInterval)
		t.pexTickerC = t.pexTicker.C
	}
}

func (t *torrent) stopPEXTicker() {
	if t.pexTicker != nil {
		t.pexTicker.Stop()
		t.pexTicker = nil
		t.pexTickerC = nil
	}
}

// announcerFields extracts the subset of torrent state an announcer needs
// to build its next AnnounceRequest, without giving it direct field access.
func (t *torrent) announcerFields() tracker.AnnounceRequest {
	var left int64
	if t.info != nil {
		left = t.info.TotalLength()
		for i := range t.pieces {
			if t.bitfield.Test(uint32(i)) {
				left -= t.pieces[i].Length
			}
		}
	}
	return tracker.AnnounceRequest{
		InfoHash:        t.infoHash,
		PeerID:          t.peerID,
		Port:            t.port,
		BytesUploaded:   t.resumerStats.BytesUploaded,
		BytesDownloaded: t.resumerStats.BytesDownloaded,
		BytesLeft:       left,
		NumWant:         50,
	}
}

func (t *torrent) startAllocator() {
	if t.info == nil {
		return
	}
	a := allocator.New(t.info, t.storage)
	go a.Run(t.allocatorProgressC, t.allocatorResultC, t.allocatorStopC)
}

func (t *torrent) handleAllocationDone(a *allocator.Allocator) {
	if a.Error != nil {
		t.log.Errorln("allocation error:", a.Error)
		t.stop(a.Error)
		return
	}
	t.files = a.Files
	v := verifier.New(t.info, t.files)
	go v.Run(t.verifierProgressC, t.verifierResultC, t.verifierStopC)
}

func (t *torrent) handleVerificationDone(v *verifier.Verifier) {
	if v.Error != nil {
		t.log.Errorln("verification error:", v.Error)
		t.stop(v.Error)
		return
	}
	t.bitfield = v.Bitfield
	t.piecePicker.OnBitfield(t.bitfield)
	t.checkCompletion()
	t.processQueuedMessages()
}
