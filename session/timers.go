package session

import (
	"math/rand"
	"sort"

	"github.com/embertorrent/ember/internal/peer"
	"github.com/embertorrent/ember/internal/peerprotocol"
)

// unchokeRate picks the per-peer counter this window's ranking is sorted
// by: upload rate once we're seeding (there's nothing left to download), our
// download rate from them otherwise — the standard tit-for-tat metric.
func (t *torrent) unchokeRate(pe *peer.Peer) int64 {
	if t.completed {
		return pe.BytesUploadedInChokePeriod
	}
	return pe.BytesDownloadedInChokePeriod
}

// tickUnchoke re-ranks interested peers by this window's tit-for-tat rate
// and keeps the top config.UnchokedPeers of them unchoked. A peer already
// holding the optimistic-unchoke slot is left out of the ranking so the
// optimistic pass isn't immediately undone, and a snubbed peer is excluded
// outright: it earned no rate this window and has no claim on a slot a
// responsive peer could use instead.
func (t *torrent) tickUnchoke() {
	t.unchokeTimer.Reset(t.config.UnchokeInterval)

	var candidates []*peer.Peer
	for pe := range t.peers {
		if pe.PeerInterested && !pe.OptimisticUnchoked && !pe.Snubbed {
			candidates = append(candidates, pe)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return t.unchokeRate(candidates[i]) > t.unchokeRate(candidates[j])
	})

	for pe := range t.peers {
		pe.BytesDownloadedInChokePeriod = 0
		pe.BytesUploadedInChokePeriod = 0
	}

	for i, pe := range candidates {
		if i >= t.config.UnchokedPeers {
			t.chokePeer(pe)
			continue
		}
		t.unchokePeer(pe)
		// It earned its slot on its own rate now, no longer needs
		// protection from the next optimistic-unchoke pass choking it.
		pe.OptimisticUnchoked = false
	}
}

func (t *torrent) tickOptimisticUnchoke() {
	t.optimisticUnchokeTimer.Reset(t.config.OptimisticUnchokeInterval)

	peers := make([]*peer.Peer, 0, len(t.peers))
	for pe := range t.peers {
		if pe.PeerInterested && !pe.OptimisticUnchoked && pe.AmChoking {
			peers = append(peers, pe)
		}
	}

	// Choke previously optimistic unchoked peers.
	for _, pe := range t.optimisticUnchokedPeers {
		if pe.OptimisticUnchoked {
			t.chokePeer(pe)
		}
	}
	t.optimisticUnchokedPeers = t.optimisticUnchokedPeers[:0]

	for i := 0; i < t.config.OptimisticUnchokedPeers; i++ {
		if len(peers) == 0 {
			break
		}
		pe := peers[rand.Intn(len(peers))]
		pe.OptimisticUnchoked = true
		t.unchokePeer(pe)
		t.optimisticUnchokedPeers = append(t.optimisticUnchokedPeers, pe)
	}
}

// tickPEX flushes every peer's accumulated ut_pex delta and sends it as an
// extension message, so connected peers learn about swarm members they
// haven't discovered from a tracker or the DHT themselves.
func (t *torrent) tickPEX() {
	for pe := range t.peers {
		if pe.PEX == nil {
			continue
		}
		msg, ok := pe.PEX.Flush()
		if !ok {
			continue
		}
		extID, ok := pe.ExtensionID(peerprotocol.ExtensionKeyPEX)
		if !ok {
			continue
		}
		pe.SendMessage(peerprotocol.ExtensionMessage{ExtendedMessageID: extID, Payload: msg})
	}
}
