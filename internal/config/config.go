// Package config loads ember's TOML configuration file and supplies the
// defaults a fresh install starts with.
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
	homedir "github.com/mitchellh/go-homedir"
)

// Config holds every tunable the session and its torrents read from, with
// field names matching their TOML keys (BurntSushi/toml maps
// case-insensitively by default, but we spell keys out below for
// clarity).
type Config struct {
	// Network
	PortBegin int `toml:"PortBegin"`
	PortEnd   int `toml:"PortEnd"`

	// Storage
	Database     string `toml:"Database"`
	DataDir      string `toml:"DataDir"`
	MaxOpenFiles int    `toml:"MaxOpenFiles"`

	// DHT
	DHTEnabled bool   `toml:"DHTEnabled"`
	DHTAddress string `toml:"DHTAddress"`
	DHTPort    int    `toml:"DHTPort"`

	// RPC (unix-domain control socket)
	RPCHost            string        `toml:"RPCHost"`
	RPCPort            int           `toml:"RPCPort"`
	RPCShutdownTimeout time.Duration `toml:"RPCShutdownTimeout"`

	// Peer limits
	MaxPeerAccept int `toml:"MaxPeerAccept"`
	MaxPeerDial   int `toml:"MaxPeerDial"`

	// Choking scheduler
	UnchokedPeers           int           `toml:"UnchokedPeers"`
	OptimisticUnchokedPeers int           `toml:"OptimisticUnchokedPeers"`
	UnchokeInterval         time.Duration `toml:"UnchokeInterval"`
	OptimisticUnchokeInterval time.Duration `toml:"OptimisticUnchokeInterval"`

	// RequestQueueLength bounds how many blocks a piecedownloader/
	// infodownloader keeps outstanding against a single peer at once.
	RequestQueueLength int `toml:"RequestQueueLength"`

	// Timeouts
	PeerHandshakeTimeout time.Duration `toml:"PeerHandshakeTimeout"`
	PeerConnectTimeout   time.Duration `toml:"PeerConnectTimeout"`
	PieceTimeout         time.Duration `toml:"PieceTimeout"`
	RequestTimeout       time.Duration `toml:"RequestTimeout"`

	PeerReadBufferSize    int           `toml:"PeerReadBufferSize"`
	BitfieldWriteInterval time.Duration `toml:"BitfieldWriteInterval"`
	StatsWriteInterval    time.Duration `toml:"StatsWriteInterval"`
	SpeedCounterInterval  time.Duration `toml:"SpeedCounterInterval"`

	// Tracker
	TrackerHTTPTimeout   time.Duration `toml:"TrackerHTTPTimeout"`
	TrackerHTTPUserAgent string        `toml:"TrackerHTTPUserAgent"`

	// Extensions
	PEXEnabled                      bool          `toml:"PEXEnabled"`
	PEXFlushInterval                time.Duration `toml:"PEXFlushInterval"`
	ExtensionHandshakeClientVersion string        `toml:"ExtensionHandshakeClientVersion"`

	// Rate limits, bytes per second; 0 means unlimited.
	SpeedLimitDownload int `toml:"SpeedLimitDownload"`
	SpeedLimitUpload   int `toml:"SpeedLimitUpload"`

	// PieceCacheSize bounds, in bytes, the in-memory read cache shared by
	// every torrent's piececache.Cache.
	PieceCacheSize int64 `toml:"PieceCacheSize"`
}

// DefaultConfig returns the configuration a fresh install starts with,
// rooted at the user's home directory.
func DefaultConfig() Config {
	home, err := homedir.Dir()
	if err != nil {
		home = "."
	}
	base := home + "/.ember"
	return Config{
		PortBegin: 50000,
		PortEnd:   60000,

		Database:     base + "/ember.db",
		DataDir:      base + "/downloads",
		MaxOpenFiles: 1000,

		DHTEnabled: true,
		DHTAddress: "0.0.0.0",
		DHTPort:    7246,

		RPCHost:            "127.0.0.1",
		RPCPort:            7246,
		RPCShutdownTimeout: 5 * time.Second,

		MaxPeerAccept: 50,
		MaxPeerDial:   80,

		UnchokedPeers:             4,
		OptimisticUnchokedPeers:   1,
		UnchokeInterval:           10 * time.Second,
		OptimisticUnchokeInterval: 30 * time.Second,

		RequestQueueLength: 10,

		PeerHandshakeTimeout: 10 * time.Second,
		PeerConnectTimeout:   5 * time.Second,
		PieceTimeout:         30 * time.Second,
		RequestTimeout:       60 * time.Second,

		PeerReadBufferSize:    4096,
		BitfieldWriteInterval: 30 * time.Second,
		StatsWriteInterval:    30 * time.Second,
		SpeedCounterInterval:  5 * time.Second,

		TrackerHTTPTimeout:   30 * time.Second,
		TrackerHTTPUserAgent: "ember/1.0",

		PEXEnabled:                      true,
		PEXFlushInterval:                60 * time.Second,
		ExtensionHandshakeClientVersion: "ember 1.0",

		SpeedLimitDownload: 0,
		SpeedLimitUpload:   0,

		PieceCacheSize: 256 * 1024 * 1024,
	}
}

// LoadConfig reads a TOML file at path, merging it over DefaultConfig so a
// partial file only overrides the fields it sets.
func LoadConfig(path string) (Config, error) {
	c := DefaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return c, nil
	}
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return c, err
	}
	return c, nil
}
