// Package boltdbresumer persists one torrent's resume state (spec,
// bitfield, stats) as a bolt bucket keyed by torrent id, so a restarted
// session can skip re-verifying and re-adding torrents it already knew
// about.
package boltdbresumer

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/boltdb/bolt"

	"github.com/embertorrent/ember/internal/resumer"
)

// Spec and Stats are the shared resumer.Spec/resumer.Stats types; this
// package only adds the bolt-backed storage for them.
type Spec = resumer.Spec
type Stats = resumer.Stats

var (
	keySpec     = []byte("spec")
	keyBitfield = []byte("bitfield")
	keyStats    = []byte("stats")
	keyStarted  = []byte("started")
)

// Resumer reads and incrementally updates one torrent's resume record,
// stored under bucket/id in db.
type Resumer struct {
	db     *bolt.DB
	bucket []byte
	id     []byte
}

// New returns a Resumer for torrent id, creating bucket if it doesn't
// already exist.
func New(db *bolt.DB, bucket string, id string) (*Resumer, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Resumer{db: db, bucket: []byte(bucket), id: []byte(id)}, nil
}

// Write stores (or replaces) spec's full record.
func (r *Resumer) Write(spec Spec) error {
	data, err := json.Marshal(spec)
	if err != nil {
		return err
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		b, err := r.subBucket(tx)
		if err != nil {
			return err
		}
		return b.Put(keySpec, data)
	})
}

// WriteBitfield updates only the bitfield bytes of an existing record.
func (r *Resumer) WriteBitfield(bitfield []byte) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b, err := r.subBucket(tx)
		if err != nil {
			return err
		}
		return b.Put(keyBitfield, bitfield)
	})
}

// WriteStats updates only the cumulative stats of an existing record.
func (r *Resumer) WriteStats(stats Stats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		b, err := r.subBucket(tx)
		if err != nil {
			return err
		}
		return b.Put(keyStats, data)
	})
}

// WriteStarted records whether the torrent should be auto-started the next
// time the session loads its resume records.
func (r *Resumer) WriteStarted(started bool) error {
	val := []byte("0")
	if started {
		val = []byte("1")
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		b, err := r.subBucket(tx)
		if err != nil {
			return err
		}
		return b.Put(keyStarted, val)
	})
}

// Read reassembles the full Spec: the last full Write, with any bitfield or
// stats stored by WriteBitfield/WriteStats laid over it, and the flag stored
// by WriteStarted.
func (r *Resumer) Read() (Spec, error) {
	var spec Spec
	err := r.db.View(func(tx *bolt.Tx) error {
		top := tx.Bucket(r.bucket)
		if top == nil {
			return fmt.Errorf("boltdbresumer: bucket %q not found", r.bucket)
		}
		sub := top.Bucket(r.id)
		if sub == nil {
			return fmt.Errorf("boltdbresumer: no resume record for %q", r.id)
		}
		if data := sub.Get(keySpec); data != nil {
			if err := json.Unmarshal(data, &spec); err != nil {
				return err
			}
		}
		if data := sub.Get(keyBitfield); data != nil {
			spec.Bitfield = append([]byte(nil), data...)
		}
		if data := sub.Get(keyStats); data != nil {
			var stats Stats
			if err := json.Unmarshal(data, &stats); err != nil {
				return err
			}
			spec.BytesDownloaded = stats.BytesDownloaded
			spec.BytesUploaded = stats.BytesUploaded
			spec.BytesWasted = stats.BytesWasted
			spec.SeededFor = stats.SeededFor
		}
		spec.Started = bytes.Equal(sub.Get(keyStarted), []byte("1"))
		return nil
	})
	return spec, err
}

// Delete removes this torrent's entire resume record.
func (r *Resumer) Delete() error {
	return r.db.Update(func(tx *bolt.Tx) error {
		top := tx.Bucket(r.bucket)
		if top == nil {
			return nil
		}
		return top.DeleteBucket(r.id)
	})
}

func (r *Resumer) subBucket(tx *bolt.Tx) (*bolt.Bucket, error) {
	top, err := tx.CreateBucketIfNotExists(r.bucket)
	if err != nil {
		return nil, err
	}
	return top.CreateBucketIfNotExists(r.id)
}

// List returns every torrent id with a resume record in bucket.
func List(db *bolt.DB, bucket string) ([]string, error) {
	var ids []string
	err := db.View(func(tx *bolt.Tx) error {
		top := tx.Bucket([]byte(bucket))
		if top == nil {
			return nil
		}
		return top.ForEach(func(k, v []byte) error {
			if v == nil { // nested bucket, i.e. a torrent id
				ids = append(ids, string(k))
			}
			return nil
		})
	})
	return ids, err
}
