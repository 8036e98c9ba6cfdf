package session

import (
	"crypto/rand"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rcrowley/go-metrics"

	"github.com/embertorrent/ember/internal/acceptor"
	"github.com/embertorrent/ember/internal/addrlist"
	"github.com/embertorrent/ember/internal/allocator"
	"github.com/embertorrent/ember/internal/announcer"
	"github.com/embertorrent/ember/internal/bitfield"
	"github.com/embertorrent/ember/internal/blocklist"
	"github.com/embertorrent/ember/internal/config"
	"github.com/embertorrent/ember/internal/handshaker/incominghandshaker"
	"github.com/embertorrent/ember/internal/handshaker/outgoinghandshaker"
	"github.com/embertorrent/ember/internal/infodownloader"
	"github.com/embertorrent/ember/internal/logger"
	"github.com/embertorrent/ember/internal/metainfo"
	"github.com/embertorrent/ember/internal/peer"
	"github.com/embertorrent/ember/internal/peerprotocol"
	"github.com/embertorrent/ember/internal/piece"
	"github.com/embertorrent/ember/internal/piececache"
	"github.com/embertorrent/ember/internal/piecedownloader"
	"github.com/embertorrent/ember/internal/piecepicker"
	"github.com/embertorrent/ember/internal/piecewriter"
	"github.com/embertorrent/ember/internal/ratelimit"
	"github.com/embertorrent/ember/internal/resumer"
	"github.com/embertorrent/ember/internal/storage"
	"github.com/embertorrent/ember/internal/tracker"
	"github.com/embertorrent/ember/internal/verifier"
)

// ourExtensions holds the reserved-byte bits peerprotocol's handshake sets
// for every peer: BEP 10 (extension protocol), which is fully supported, and
// BEP 6 (Fast Extension), advertised for compatibility although none of its
// messages (HaveAll/HaveNone/Reject/AllowedFast) are implemented. Nothing
// reads this value; the handshake sets the bits itself.
var ourExtensions = newOurExtensions()

func newOurExtensions() *bitfield.Bitfield {
	bf := bitfield.New(64)
	bf.Set(peerprotocol.ExtensionBitIndex)
	bf.Set(peerprotocol.FastExtensionBitIndex)
	return bf
}

// torrent drives one swarm: a single goroutine (run) owns every field below,
// reached only through the channels other goroutines (peer connections,
// handshakers, announcers, disk workers) send on.
type torrent struct {
	config    *config.Config
	infoHash  [20]byte
	trackers  []tracker.Tracker
	name      string
	storage   storage.Storage
	port      int
	resume    resumer.Resumer
	blocklist *blocklist.Blocklist
	limiter   *ratelimit.Limiter

	info     *metainfo.Info
	bitfield *bitfield.Bitfield
	peerID   [20]byte

	files       []storage.File
	pieces      []piece.Piece
	piecePicker *piecepicker.PiecePicker

	messages           chan peer.Message
	pieceMessages      chan peer.PieceMessage
	blockPieceMessages chan peer.PieceMessage

	peers            map[*peer.Peer]struct{}
	incomingPeers    map[*peer.Peer]struct{}
	outgoingPeers    map[*peer.Peer]struct{}
	peersSnubbed     map[*peer.Peer]struct{}
	peerIDs          map[[20]byte]struct{}
	connectedPeerIPs map[string]struct{}

	pieceDownloaders        map[*peer.Peer]*piecedownloader.PieceDownloader
	pieceDownloadersSnubbed map[*peer.Peer]*piecedownloader.PieceDownloader
	pieceDownloadersChoked  map[*peer.Peer]*piecedownloader.PieceDownloader

	infoDownloaders        map[*peer.Peer]*infodownloader.InfoDownloader
	infoDownloadersSnubbed map[*peer.Peer]*infodownloader.InfoDownloader

	optimisticUnchokedPeers []*peer.Peer

	completeC chan struct{}
	completed bool

	errC      chan error
	lastError error
	portC     chan int

	closeC chan chan struct{}

	statsCommandC        chan *statsRequest
	trackersCommandC     chan *trackersRequest
	peersCommandC        chan *peersRequest
	startCommandC        chan struct{}
	stopCommandC         chan struct{}
	notifyErrorCommandC  chan notifyErrorCommand
	notifyListenCommandC chan notifyListenCommand
	addPeersCommandC     chan []*net.TCPAddr

	addrsFromTrackers chan []*net.TCPAddr
	addrList          *addrlist.AddrList

	incomingConnC chan net.Conn
	acceptor      *acceptor.Acceptor

	announcers            []*announcer.PeriodicalAnnouncer
	stoppedEventAnnouncer *announcer.StopAnnouncer
	announcerRequestC     chan *announcer.Request
	announcerResultC      chan []tracker.AnnounceResponse

	dhtAnnouncer *dhtAnnouncer
	dhtPeersC    chan []*net.TCPAddr

	incomingHandshakers       map[*incominghandshaker.IncomingHandshaker]struct{}
	outgoingHandshakers       map[*outgoinghandshaker.OutgoingHandshaker]struct{}
	incomingHandshakerResultC chan *incominghandshaker.IncomingHandshaker
	outgoingHandshakerResultC chan *outgoinghandshaker.OutgoingHandshaker

	infoDownloaderResultC chan *infodownloader.InfoDownloader

	unchokeTimer            *time.Timer
	unchokeTimerC           <-chan time.Time
	optimisticUnchokeTimer  *time.Timer
	optimisticUnchokeTimerC <-chan time.Time

	allocatorProgressC chan allocator.Progress
	allocatorResultC   chan *allocator.Allocator
	allocatorStopC     chan struct{}
	bytesAllocated     int64

	verifierProgressC chan verifier.Progress
	verifierResultC   chan *verifier.Verifier
	verifierStopC     chan struct{}
	checkedPieces     uint32

	resumerStats          resumer.Stats
	seedDurationUpdatedAt time.Time

	announcersStoppedC chan struct{}

	piecePool sync.Pool

	resumeWriteTimer  *time.Timer
	resumeWriteTimerC <-chan time.Time

	statsWriteTicker  *time.Ticker
	statsWriteTickerC <-chan time.Time

	pieceCache *piececache.Cache

	readMutex sync.Mutex

	downloadSpeed       metrics.EWMA
	uploadSpeed         metrics.EWMA
	speedCounterTicker  *time.Ticker
	speedCounterTickerC <-chan time.Time

	pexTicker  *time.Ticker
	pexTickerC <-chan time.Time

	peerSnubbedC      chan *peer.Peer
	peerDisconnectedC chan *peer.Peer

	pieceWriterResultC chan *piecewriter.PieceWriter

	log logger.Logger
}

type statsRequest struct{ Response chan Stats }
type trackersRequest struct{ Response chan []TrackerStatus }
type peersRequest struct{ Response chan []PeerStatus }
type notifyErrorCommand struct{ errCC chan chan error }
type notifyListenCommand struct{ portCC chan chan int }

// newTorrent allocates and wires every channel/map a fresh torrent needs,
// starts its acceptor and run loop, but does not yet open files or verify
// anything — that happens once start() is called.
func newTorrent(cfg *config.Config, infoHash []byte, trackers []tracker.Tracker, name string, sto storage.Storage, port int, res resumer.Resumer, bl *blocklist.Blocklist, lim *ratelimit.Limiter, info *metainfo.Info, bf *bitfield.Bitfield, dht *dhtAnnouncer, stats resumer.Stats) (*torrent, error) {
	var ih [20]byte
	copy(ih[:], infoHash)

	t := &torrent{
		config:       cfg,
		infoHash:     ih,
		trackers:     trackers,
		name:         name,
		storage:      sto,
		port:         port,
		resume:       res,
		blocklist:    bl,
		limiter:      lim,
		info:         info,
		bitfield:     bf,
		dhtAnnouncer: dht,

		messages:           make(chan peer.Message),
		pieceMessages:      make(chan peer.PieceMessage),
		blockPieceMessages: nil,

		peers:            make(map[*peer.Peer]struct{}),
		incomingPeers:    make(map[*peer.Peer]struct{}),
		outgoingPeers:    make(map[*peer.Peer]struct{}),
		peersSnubbed:     make(map[*peer.Peer]struct{}),
		peerIDs:          make(map[[20]byte]struct{}),
		connectedPeerIPs: make(map[string]struct{}),

		pieceDownloaders:        make(map[*peer.Peer]*piecedownloader.PieceDownloader),
		pieceDownloadersSnubbed: make(map[*peer.Peer]*piecedownloader.PieceDownloader),
		pieceDownloadersChoked:  make(map[*peer.Peer]*piecedownloader.PieceDownloader),

		infoDownloaders:        make(map[*peer.Peer]*infodownloader.InfoDownloader),
		infoDownloadersSnubbed: make(map[*peer.Peer]*infodownloader.InfoDownloader),

		completeC: make(chan struct{}),
		errC:      make(chan error, 1),
		portC:     make(chan int, 1),

		closeC: make(chan chan struct{}),

		statsCommandC:        make(chan *statsRequest),
		trackersCommandC:     make(chan *trackersRequest),
		peersCommandC:        make(chan *peersRequest),
		startCommandC:        make(chan struct{}),
		stopCommandC:         make(chan struct{}),
		notifyErrorCommandC:  make(chan notifyErrorCommand),
		notifyListenCommandC: make(chan notifyListenCommand),
		addPeersCommandC:     make(chan []*net.TCPAddr),

		addrsFromTrackers: make(chan []*net.TCPAddr),
		addrList:          addrlist.New(2000),

		incomingConnC: make(chan net.Conn),

		announcerRequestC: make(chan *announcer.Request),
		announcerResultC:  make(chan []tracker.AnnounceResponse),

		incomingHandshakers:       make(map[*incominghandshaker.IncomingHandshaker]struct{}),
		outgoingHandshakers:       make(map[*outgoinghandshaker.OutgoingHandshaker]struct{}),
		incomingHandshakerResultC: make(chan *incominghandshaker.IncomingHandshaker),
		outgoingHandshakerResultC: make(chan *outgoinghandshaker.OutgoingHandshaker),

		infoDownloaderResultC: make(chan *infodownloader.InfoDownloader),

		allocatorProgressC: make(chan allocator.Progress),
		allocatorResultC:   make(chan *allocator.Allocator),
		allocatorStopC:     make(chan struct{}),

		verifierProgressC: make(chan verifier.Progress),
		verifierResultC:   make(chan *verifier.Verifier),
		verifierStopC:     make(chan struct{}),

		resumerStats: stats,

		announcersStoppedC: make(chan struct{}),

		pieceCache: piececache.New(cfg.PieceCacheSize),

		downloadSpeed: metrics.NewEWMA1(),
		uploadSpeed:   metrics.NewEWMA1(),

		peerSnubbedC:      make(chan *peer.Peer),
		peerDisconnectedC: make(chan *peer.Peer),

		pieceWriterResultC: make(chan *piecewriter.PieceWriter),

		log: logger.New(fmt.Sprintf("torrent %x", ih[:4])),
	}
	if dht != nil {
		t.dhtPeersC = dht.peersC
	}
	if _, err := rand.Read(t.peerID[:]); err != nil {
		return nil, err
	}
	copy(t.peerID[:8], []byte("-EM0100-"))

	if info != nil {
		t.prepareInfo(info)
	}

	acc, err := acceptor.New(fmt.Sprintf(":%d", port), t.incomingConnC, t.log)
	if err != nil {
		return nil, err
	}
	t.acceptor = acc
	go t.acceptor.Run()

	go t.run()
	return t, nil
}

// prepareInfo builds the piece list and piece picker from a known info
// dict; called either at construction (torrent file / resumed magnet) or
// once a magnet download finishes fetching its metadata.
func (t *torrent) prepareInfo(info *metainfo.Info) {
	t.info = info
	t.pieces = make([]piece.Piece, info.NumPieces())
	for i := range t.pieces {
		t.pieces[i] = piece.New(info, uint32(i))
	}
	if t.bitfield == nil {
		t.bitfield = bitfield.New(info.NumPieces())
	}
	t.piecePicker = piecepicker.New(info.NumPieces(), t.bitfield)
}

// Name returns the torrent's display name, "" until metadata is known.
func (t *torrent) Name() string { return t.name }

// InfoHash returns the 20-byte infohash.
func (t *torrent) InfoHash() []byte { return t.infoHash[:] }

// checkInfoHash reports whether ih is the infohash this torrent serves,
// used by an incoming handshake to decide whether to accept the peer.
func (t *torrent) checkInfoHash(ih [20]byte) bool { return ih == t.infoHash }

// close requests the run loop to stop and blocks until it has.
func (t *torrent) close() {
	doneC := make(chan struct{})
	t.closeC <- doneC
	<-doneC
}

// startTorrent requests the torrent begin (or resume) downloading/seeding.
func (t *torrent) startTorrent() {
	t.startCommandC <- struct{}{}
}

// stopTorrent requests the torrent pause: trackers get a "stopped"
// announce and all peer connections are torn down, but metadata/progress
// is kept.
func (t *torrent) stopTorrent() {
	t.stopCommandC <- struct{}{}
}
