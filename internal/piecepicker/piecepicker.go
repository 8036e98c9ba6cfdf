// Package piecepicker selects which piece/block to request next: strict
// priority for the first few pieces, rarest-first afterward, with endgame
// duplication once few pieces remain and a reservation timeout that frees
// stalled requests.
package piecepicker

import (
	"math/rand"
	"time"

	"github.com/embertorrent/ember/internal/bitfield"
	"github.com/embertorrent/ember/internal/peer"
	"github.com/embertorrent/ember/internal/piece"
)

// StrictPriorityPieces is how many of the torrent's first pieces are
// requested uniformly at random, ignoring rarity, to seed peers quickly.
const StrictPriorityPieces = 4

// ReservationTimeout is the reservation lifetime OnBlockTimeout is written
// for. The picker starts no timer of its own and nothing calls
// OnBlockTimeout, so a reservation is freed only by OnBlockReceived,
// Release or OnPeerGone.
const ReservationTimeout = 60 * time.Second

// endgameThreshold switches into endgame (duplicated reservations) once the
// number of missing pieces drops to at most this fraction/constant of P.
func endgameThreshold(numPieces uint32) uint32 {
	t := numPieces / 100 // 1%
	if t > 20 {
		t = 20
	}
	if t < 1 {
		t = 1
	}
	return t
}

type reservation struct {
	peer  *peer.Peer
	since time.Time
}

// PiecePicker tracks piece availability and in-flight block reservations
// for one torrent.
type PiecePicker struct {
	numPieces   uint32
	have        *bitfield.Bitfield
	availability []uint32 // per-piece count of peers known to have it

	// reservations[pieceIndex][blockIndex] holds every peer a block is
	// currently reserved to (len > 1 only during endgame).
	reservations map[uint32]map[uint32][]reservation

	rnd *rand.Rand
}

// New returns a PiecePicker for a torrent with numPieces pieces, seeded
// with the bitfield of pieces we already hold (e.g. from a resumed
// session).
func New(numPieces uint32, have *bitfield.Bitfield) *PiecePicker {
	return &PiecePicker{
		numPieces:    numPieces,
		have:         have,
		availability: make([]uint32, numPieces),
		reservations: make(map[uint32]map[uint32][]reservation),
		rnd:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// OnHave records that a peer announced (via have or bitfield) that it now
// holds index.
func (p *PiecePicker) OnHave(index uint32) {
	if index < p.numPieces {
		p.availability[index]++
	}
}

// OnBitfield applies every bit of bf as an OnHave.
func (p *PiecePicker) OnBitfield(bf *bitfield.Bitfield) {
	for i := uint32(0); i < p.numPieces; i++ {
		if bf.Test(i) {
			p.OnHave(i)
		}
	}
}

// OnPeerGone undoes OnHave/OnBitfield for every piece a departing peer's
// bitfield claimed, and releases any blocks it held in reservation.
func (p *PiecePicker) OnPeerGone(pe *peer.Peer, bf *bitfield.Bitfield) {
	if bf != nil {
		for i := uint32(0); i < p.numPieces; i++ {
			if bf.Test(i) && p.availability[i] > 0 {
				p.availability[i]--
			}
		}
	}
	for pieceIdx, blocks := range p.reservations {
		for blockIdx, holders := range blocks {
			out := holders[:0]
			for _, h := range holders {
				if h.peer != pe {
					out = append(out, h)
				}
			}
			if len(out) == 0 {
				delete(blocks, blockIdx)
			} else {
				blocks[blockIdx] = out
			}
		}
		if len(blocks) == 0 {
			delete(p.reservations, pieceIdx)
		}
	}
}

// missingCount returns how many pieces we still lack.
func (p *PiecePicker) missingCount() uint32 {
	return p.numPieces - p.have.Count()
}

// endgame reports whether duplicated reservations are allowed right now.
func (p *PiecePicker) endgame() bool {
	return p.missingCount() <= endgameThreshold(p.numPieces)
}

// Reserve returns up to budget new block requests for pe, drawn from pieces
// pe's bitfield claims to have and we still lack, following strict
// priority / rarest-first / endgame policy.
func (p *PiecePicker) Reserve(pe *peer.Peer, peerHas *bitfield.Bitfield, pieces []piece.Piece, budget int) []piece.Block {
	if budget <= 0 {
		return nil
	}
	candidates := p.candidatePieces(peerHas)
	if len(candidates) == 0 {
		return nil
	}
	var out []piece.Block
	for _, idx := range candidates {
		if len(out) >= budget {
			break
		}
		pc := &pieces[idx]
		if p.reservations[idx] == nil {
			p.reservations[idx] = make(map[uint32][]reservation)
		}
		for _, b := range pc.Blocks {
			if len(out) >= budget {
				break
			}
			holders := p.reservations[idx][b.Index]
			if len(holders) > 0 {
				if !p.endgame() {
					continue
				}
				if hasPeer(holders, pe) {
					continue
				}
			}
			p.reservations[idx][b.Index] = append(holders, reservation{peer: pe, since: time.Now()})
			out = append(out, b)
		}
	}
	return out
}

func hasPeer(holders []reservation, pe *peer.Peer) bool {
	for _, h := range holders {
		if h.peer == pe {
			return true
		}
	}
	return false
}

// candidatePieces returns piece indices we lack and peerHas claims,
// ordered per policy: a uniformly-shuffled slice of the strict-priority
// pieces first (if still missing), then rarest-first for the rest.
func (p *PiecePicker) candidatePieces(peerHas *bitfield.Bitfield) []uint32 {
	var strict, rest []uint32
	for i := uint32(0); i < p.numPieces; i++ {
		if p.have.Test(i) || !peerHas.Test(i) {
			continue
		}
		if i < StrictPriorityPieces {
			strict = append(strict, i)
		} else {
			rest = append(rest, i)
		}
	}
	p.rnd.Shuffle(len(strict), func(i, j int) { strict[i], strict[j] = strict[j], strict[i] })
	// Rarest-first, random tie-break via pre-shuffle.
	p.rnd.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })
	sortByAvailability(rest, p.availability)
	return append(strict, rest...)
}

func sortByAvailability(idx []uint32, availability []uint32) {
	// Insertion sort: these slices are small (bounded by missing pieces,
	// typically far smaller than the torrent's total piece count).
	for i := 1; i < len(idx); i++ {
		for j := i; j > 0 && availability[idx[j]] < availability[idx[j-1]]; j-- {
			idx[j], idx[j-1] = idx[j-1], idx[j]
		}
	}
}

// OnBlockReceived clears a block's reservation (all holders, cancelling
// the others is the caller's job since it owns the connections) once the
// data has arrived. It reports the peers that should receive a cancel
// (every holder other than from).
func (p *PiecePicker) OnBlockReceived(from *peer.Peer, index, blockIndex uint32) []*peer.Peer {
	blocks, ok := p.reservations[index]
	if !ok {
		return nil
	}
	holders := blocks[blockIndex]
	delete(blocks, blockIndex)
	if len(blocks) == 0 {
		delete(p.reservations, index)
	}
	var others []*peer.Peer
	for _, h := range holders {
		if h.peer != from {
			others = append(others, h.peer)
		}
	}
	return others
}

// Release clears every reservation pe holds for piece index, used when a
// download is abandoned (e.g. the peer is being disconnected, or another
// peer finished the piece first during endgame) without pe itself going
// away.
func (p *PiecePicker) Release(pe *peer.Peer, index uint32) {
	blocks, ok := p.reservations[index]
	if !ok {
		return
	}
	for blockIdx, holders := range blocks {
		out := holders[:0]
		for _, h := range holders {
			if h.peer != pe {
				out = append(out, h)
			}
		}
		if len(out) == 0 {
			delete(blocks, blockIdx)
		} else {
			blocks[blockIdx] = out
		}
	}
	if len(blocks) == 0 {
		delete(p.reservations, index)
	}
}

// OnBlockTimeout frees a block's reservation to pe after ReservationTimeout
// expires without data; the caller is responsible for flagging pe snubbed
// for the choking scheduler.
func (p *PiecePicker) OnBlockTimeout(pe *peer.Peer, index, blockIndex uint32) {
	blocks, ok := p.reservations[index]
	if !ok {
		return
	}
	holders := blocks[blockIndex]
	out := holders[:0]
	for _, h := range holders {
		if h.peer != pe {
			out = append(out, h)
		}
	}
	if len(out) == 0 {
		delete(blocks, blockIndex)
	} else {
		blocks[blockIndex] = out
	}
}

// DoesHave reports whether peerHas already has index, used to skip sending
// a redundant have message.
func DoesHave(peerHas *bitfield.Bitfield, index uint32) bool {
	return peerHas != nil && peerHas.Test(index)
}
