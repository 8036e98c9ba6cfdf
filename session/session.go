// Package session is the top-level client: it owns the bolt resume
// database, the shared DHT node, the blocklist, and every active torrent,
// and exposes the operations a CLI or RPC frontend calls into.
package session

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/boltdb/bolt"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/nictuku/dht"
	uuid "github.com/satori/go.uuid"

	"github.com/embertorrent/ember/internal/bitfield"
	"github.com/embertorrent/ember/internal/blocklist"
	"github.com/embertorrent/ember/internal/config"
	"github.com/embertorrent/ember/internal/logger"
	"github.com/embertorrent/ember/internal/magnet"
	"github.com/embertorrent/ember/internal/metainfo"
	"github.com/embertorrent/ember/internal/ratelimit"
	"github.com/embertorrent/ember/internal/resumer"
	"github.com/embertorrent/ember/internal/resumer/boltdbresumer"
	"github.com/embertorrent/ember/internal/storage/filestorage"
	"github.com/embertorrent/ember/internal/tracker"
	"github.com/embertorrent/ember/internal/trackermanager"
)

// Config is the session's full set of tunables.
type Config = config.Config

var torrentsBucket = "torrents"

// dhtRouters seeds the routing table on a cold start.
const dhtRouters = "router.bittorrent.com:6881,dht.transmissionbt.com:6881,router.utorrent.com:6881,dht.libtorrent.org:25401,dht.aelitis.com:6881"

// Session owns every torrent and the resources they share: the resume
// database, the blocklist, the tracker manager, and (if enabled) one DHT
// node and its rendezvous RPC socket.
type Session struct {
	config         Config
	db             *bolt.DB
	log            logger.Logger
	dhtNode        *dht.DHT
	blocklist      *blocklist.Blocklist
	trackerManager *trackermanager.TrackerManager
	limiter        *ratelimit.Limiter
	closeC         chan struct{}

	dhtMu          sync.Mutex
	dhtSubscribers map[dht.InfoHash]*dhtAnnouncer
	dhtWanted      map[dht.InfoHash]struct{}

	m        sync.RWMutex
	torrents map[string]*Torrent

	mPorts         sync.Mutex
	availablePorts map[uint16]struct{}

	rpc *rpcServer
}

// New brings up a Session: opens the resume database, starts the DHT node
// if configured, creates an empty blocklist (nothing loads ranges into it),
// reloads every torrent the database already knows about, and finally
// starts the RPC rendezvous socket.
func New(cfg Config) (*Session, error) {
	if cfg.PortBegin >= cfg.PortEnd {
		return nil, errors.New("session: invalid port range")
	}
	var err error
	cfg.Database, err = homedir.Expand(cfg.Database)
	if err != nil {
		return nil, err
	}
	cfg.DataDir, err = homedir.Expand(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Database), 0750); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		return nil, err
	}

	db, err := bolt.Open(cfg.Database, 0640, &bolt.Options{Timeout: time.Second})
	if err == bolt.ErrTimeout {
		return nil, errors.New("session: resume database is locked by another process")
	} else if err != nil {
		return nil, err
	}
	closeDB := true
	defer func() {
		if closeDB {
			db.Close()
		}
	}()

	ids, err := boltdbresumer.List(db, torrentsBucket)
	if err != nil {
		return nil, err
	}

	var dhtNode *dht.DHT
	if cfg.DHTEnabled {
		dhtConfig := dht.NewConfig()
		dhtConfig.Address = cfg.DHTAddress
		dhtConfig.Port = cfg.DHTPort
		dhtConfig.DHTRouters = dhtRouters
		dhtConfig.SaveRoutingTable = true
		dhtConfig.RoutingTableFilename = filepath.Join(filepath.Dir(cfg.Database), "dht.dat")
		dhtNode, err = dht.New(dhtConfig)
		if err != nil {
			return nil, err
		}
		if err := dhtNode.Start(); err != nil {
			return nil, err
		}
	}

	ports := make(map[uint16]struct{})
	for p := cfg.PortBegin; p < cfg.PortEnd; p++ {
		ports[uint16(p)] = struct{}{}
	}

	bl := blocklist.New()
	s := &Session{
		config:         cfg,
		db:             db,
		log:            logger.New("session"),
		dhtNode:        dhtNode,
		blocklist:      bl,
		trackerManager: trackermanager.New(bl),
		limiter:        ratelimit.New(cfg.SpeedLimitDownload, cfg.SpeedLimitUpload),
		closeC:         make(chan struct{}),
		dhtSubscribers: make(map[dht.InfoHash]*dhtAnnouncer),
		dhtWanted:      make(map[dht.InfoHash]struct{}),
		torrents:       make(map[string]*Torrent),
		availablePorts: ports,
	}

	if cfg.DHTEnabled {
		go s.processDHTResults()
	}

	if err := s.loadExistingTorrents(ids); err != nil {
		return nil, err
	}

	socketPath := filepath.Join(filepath.Dir(cfg.Database), "ember.sock")
	s.rpc = newRPCServer(s)
	if err := s.rpc.Start(socketPath); err != nil {
		return nil, err
	}

	closeDB = false
	return s, nil
}

// processDHTResults is the single goroutine allowed to read the DHT node's
// PeersRequestResults channel, since nictuku/dht hands it out once; results
// are fanned out to every torrent subscribed for that infohash.
func (s *Session) processDHTResults() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.handleDHTtick()
		case res := <-s.dhtNode.PeersRequestResults:
			for ih, peers := range res {
				s.dhtMu.Lock()
				d, ok := s.dhtSubscribers[ih]
				s.dhtMu.Unlock()
				if !ok {
					continue
				}
				addrs := parseDHTPeers(peers)
				select {
				case d.peersC <- addrs:
				case <-s.closeC:
					return
				}
			}
		case <-s.closeC:
			return
		}
	}
}

// handleDHTtick issues one PeersRequest per tick for a subscriber still
// wanting more peers, round-robining so no single torrent starves the
// others of DHT lookup bandwidth.
func (s *Session) handleDHTtick() {
	s.dhtMu.Lock()
	defer s.dhtMu.Unlock()
	for ih := range s.dhtWanted {
		s.dhtNode.PeersRequest(string(ih), true)
		delete(s.dhtWanted, ih)
		return
	}
}

func (s *Session) registerDHTAnnouncer(d *dhtAnnouncer) {
	s.dhtMu.Lock()
	defer s.dhtMu.Unlock()
	s.dhtSubscribers[d.infoHash] = d
}

func (s *Session) unregisterDHTAnnouncer(d *dhtAnnouncer) {
	s.dhtMu.Lock()
	defer s.dhtMu.Unlock()
	delete(s.dhtSubscribers, d.infoHash)
	delete(s.dhtWanted, d.infoHash)
}

func (s *Session) setDHTWanted(ih dht.InfoHash, val bool) {
	s.dhtMu.Lock()
	defer s.dhtMu.Unlock()
	if val {
		s.dhtWanted[ih] = struct{}{}
	} else {
		delete(s.dhtWanted, ih)
	}
}

func parseDHTPeers(peers []string) []*net.TCPAddr {
	addrs := make([]*net.TCPAddr, 0, len(peers))
	for _, p := range peers {
		if len(p) != 6 {
			continue // only IPv4 compact peers are supported
		}
		addrs = append(addrs, &net.TCPAddr{
			IP:   net.IP([]byte(p[:4])),
			Port: int(p[4])<<8 | int(p[5]),
		})
	}
	return addrs
}

func (s *Session) parseTrackers(urls []string) []tracker.Tracker {
	var out []tracker.Tracker
	for _, u := range urls {
		tr, err := s.trackerManager.Get(u, s.config.TrackerHTTPTimeout, s.config.TrackerHTTPUserAgent)
		if err != nil {
			s.log.Warningln("cannot parse tracker url:", err)
			continue
		}
		out = append(out, tr)
	}
	return out
}

func (s *Session) loadExistingTorrents(ids []string) error {
	var started []*Torrent
	for _, id := range ids {
		res, err := boltdbresumer.New(s.db, torrentsBucket, id)
		if err != nil {
			s.log.Errorln("cannot open resume record:", err)
			continue
		}
		spec, err := res.Read()
		if err != nil {
			s.log.Errorln("cannot read resume record:", err)
			continue
		}

		var info *metainfo.Info
		var bf *bitfield.Bitfield
		var private bool
		if len(spec.Info) > 0 {
			info, err = metainfo.NewInfo(spec.Info)
			if err != nil {
				s.log.Errorln("cannot parse stored info dict:", err)
				continue
			}
			private = info.IsPrivate()
			if len(spec.Bitfield) > 0 {
				if len(spec.Bitfield) != int((info.NumPieces()+7)/8) {
					s.log.Errorln("cannot parse stored bitfield: wrong length", len(spec.Bitfield))
					continue
				}
				bf = bitfield.NewBytes(spec.Bitfield, info.NumPieces())
			}
		}

		var ann *dhtAnnouncer
		var ih [20]byte
		copy(ih[:], spec.InfoHash)
		if s.config.DHTEnabled && !private {
			ann = newDHTAnnouncer(s, ih)
		}

		sto, err := filestorage.New(spec.Dest)
		if err != nil {
			s.log.Errorln("cannot open storage:", err)
			continue
		}

		t, err := newTorrent(&s.config, spec.InfoHash, s.parseTrackers(flattenTiers(spec.Trackers)), spec.Name, sto, spec.Port, res, s.blocklist, s.limiter, info, bf, ann, resumer.Stats{
			BytesDownloaded: spec.BytesDownloaded,
			BytesUploaded:   spec.BytesUploaded,
			BytesWasted:     spec.BytesWasted,
			SeededFor:       spec.SeededFor,
		})
		if err != nil {
			s.log.Errorln("cannot create torrent:", err)
			continue
		}
		delete(s.availablePorts, uint16(spec.Port))

		t2 := s.registerTorrent(t, id, uint16(spec.Port), spec.CreatedAt)
		if spec.Started {
			started = append(started, t2)
		}
	}
	s.log.Infof("loaded %d existing torrents", len(s.torrents))
	for _, t := range started {
		t.Start()
	}
	return nil
}

// flattenTiers drops BEP 12's tier grouping: each tracker URL then gets its
// own announcer, with no tier order or failover between them.
func flattenTiers(tiers [][]string) []string {
	var out []string
	for _, tier := range tiers {
		out = append(out, tier...)
	}
	return out
}

// Close stops the DHT node, every torrent, the RPC socket, and the resume
// database, in that order.
func (s *Session) Close() error {
	close(s.closeC)
	if s.dhtNode != nil {
		s.dhtNode.Stop()
	}

	s.m.Lock()
	var wg sync.WaitGroup
	wg.Add(len(s.torrents))
	for _, t := range s.torrents {
		go func(t *Torrent) {
			defer wg.Done()
			t.torrent.close()
		}(t)
	}
	s.torrents = nil
	s.m.Unlock()
	wg.Wait()

	if s.rpc != nil {
		if err := s.rpc.Stop(s.config.RPCShutdownTimeout); err != nil {
			s.log.Errorln("cannot stop rpc server:", err)
		}
	}
	return s.db.Close()
}

// ShutdownRequested receives a value when a "stop" command (what
// `ember stop-client` sends) arrives on the rendezvous socket, so main() can
// treat it the same as a signal.
func (s *Session) ShutdownRequested() <-chan struct{} {
	return s.rpc.ShutdownC
}

// ListTorrents returns every torrent known to the session.
func (s *Session) ListTorrents() []*Torrent {
	s.m.RLock()
	defer s.m.RUnlock()
	out := make([]*Torrent, 0, len(s.torrents))
	for _, t := range s.torrents {
		out = append(out, t)
	}
	return out
}

// AddTorrent adds a new torrent from a .torrent file's raw bytes.
func (s *Session) AddTorrent(r io.Reader) (*Torrent, error) {
	mi, err := metainfo.New(r)
	if err != nil {
		return nil, err
	}
	port, id, sto, err := s.newTorrentSlot()
	if err != nil {
		return nil, err
	}
	var ann *dhtAnnouncer
	if s.config.DHTEnabled && !mi.Info.IsPrivate() {
		ann = newDHTAnnouncer(s, mi.Info.Hash())
	}
	return s.finishAdd(id, port, sto, mi.Info.Hash(), mi.Info.Name, mi.Info, mi.Trackers(), ann)
}

// Add accepts a magnet URI, an http(s) .torrent URL, or a filesystem path
// to a .torrent file, and adds the torrent it identifies.
func (s *Session) Add(arg string) (*Torrent, error) {
	if strings.HasPrefix(arg, "magnet:") || strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://") {
		return s.AddURI(arg)
	}
	f, err := os.Open(arg)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return s.AddTorrent(f)
}

// AddURI adds a torrent from an http(s) .torrent URL or a magnet link.
func (s *Session) AddURI(uri string) (*Torrent, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http", "https":
		return s.addURL(uri)
	case "magnet":
		return s.addMagnet(uri)
	default:
		return nil, fmt.Errorf("session: unsupported uri scheme %q", u.Scheme)
	}
}

func (s *Session) addURL(u string) (*Torrent, error) {
	resp, err := http.Get(u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return s.AddTorrent(resp.Body)
}

func (s *Session) addMagnet(link string) (*Torrent, error) {
	ma, err := magnet.New(link)
	if err != nil {
		return nil, err
	}
	port, id, sto, err := s.newTorrentSlot()
	if err != nil {
		return nil, err
	}
	var ann *dhtAnnouncer
	if s.config.DHTEnabled {
		ann = newDHTAnnouncer(s, ma.InfoHash)
	}
	trackers := make([][]string, len(ma.Trackers))
	for i, tr := range ma.Trackers {
		trackers[i] = []string{tr}
	}
	return s.finishAdd(id, port, sto, ma.InfoHash, ma.Name, nil, trackers, ann)
}

func (s *Session) newTorrentSlot() (int, string, *filestorage.FileStorage, error) {
	port, err := s.getPort()
	if err != nil {
		return 0, "", nil, err
	}
	ok := false
	defer func() {
		if !ok {
			s.releasePort(port)
		}
	}()
	u := uuid.NewV1()
	id := base64.RawURLEncoding.EncodeToString(u[:])
	dest := filepath.Join(s.config.DataDir, id)
	sto, err := filestorage.New(dest)
	if err != nil {
		return 0, "", nil, err
	}
	ok = true
	return int(port), id, sto, nil
}

func (s *Session) finishAdd(id string, port int, sto *filestorage.FileStorage, infoHash [20]byte, name string, info *metainfo.Info, tierURLs [][]string, ann *dhtAnnouncer) (t *Torrent, err error) {
	defer func() {
		if err != nil {
			s.releasePort(uint16(port))
		}
	}()
	res, err := boltdbresumer.New(s.db, torrentsBucket, id)
	if err != nil {
		return nil, err
	}
	var infoBytes []byte
	if info != nil {
		infoBytes = info.Bytes
	}
	rspec := boltdbresumer.Spec{
		InfoHash:  infoHash[:],
		Dest:      sto.Dest(),
		Port:      port,
		Name:      name,
		Trackers:  tierURLs,
		Info:      infoBytes,
		CreatedAt: time.Now().UTC(),
	}
	if err := res.Write(rspec); err != nil {
		return nil, err
	}

	tr, err := newTorrent(&s.config, infoHash[:], s.parseTrackers(flattenTiers(tierURLs)), name, sto, port, res, s.blocklist, s.limiter, info, nil, ann, resumer.Stats{})
	if err != nil {
		return nil, err
	}
	t2 := s.registerTorrent(tr, id, uint16(port), rspec.CreatedAt)
	return t2, t2.Start()
}

func (s *Session) registerTorrent(t *torrent, id string, port uint16, createdAt time.Time) *Torrent {
	t2 := &Torrent{
		session:   s,
		torrent:   t,
		id:        id,
		port:      port,
		createdAt: createdAt,
	}
	s.m.Lock()
	defer s.m.Unlock()
	s.torrents[id] = t2
	return t2
}

func (s *Session) getPort() (uint16, error) {
	s.mPorts.Lock()
	defer s.mPorts.Unlock()
	for p := range s.availablePorts {
		delete(s.availablePorts, p)
		return p, nil
	}
	return 0, errors.New("session: no free port")
}

func (s *Session) releasePort(port uint16) {
	s.mPorts.Lock()
	defer s.mPorts.Unlock()
	s.availablePorts[port] = struct{}{}
}

// GetTorrent looks up a torrent by id.
func (s *Session) GetTorrent(id string) *Torrent {
	s.m.RLock()
	defer s.m.RUnlock()
	return s.torrents[id]
}

// RemoveTorrent stops and forgets a torrent, deleting its resume record and
// downloaded files.
func (s *Session) RemoveTorrent(id string) error {
	s.m.Lock()
	t, ok := s.torrents[id]
	if ok {
		delete(s.torrents, id)
	}
	s.m.Unlock()
	if !ok {
		return nil
	}
	t.torrent.close()
	s.releasePort(t.port)
	dest := t.torrent.storage.Dest()
	if err := t.torrent.resume.(*boltdbresumer.Resumer).Delete(); err != nil {
		return err
	}
	return os.RemoveAll(dest)
}
