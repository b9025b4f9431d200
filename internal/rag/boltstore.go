package rag

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketVectors = []byte("vectors")
	bucketMeta    = []byte("meta")
	metaKey       = []byte("index")
)

// boltMeta describes the stored index-wide invariants.
type boltMeta struct {
	Dim   int `json:"dim"`
	Count int `json:"count"`
}

// boltEntry is one stored chunk with its vector. Keys in the vectors bucket
// are the big-endian chunk sequence numbers, so a cursor walk restores
// document order.
type boltEntry struct {
	ID     string    `json:"id"`
	Source string    `json:"src,omitempty"`
	Text   string    `json:"t"`
	Vector []float32 `json:"v"`
}

// BoltStore persists the index in a single-file bbolt database. Writes are
// transactional, which gives the atomic-persist contract for free.
// The database is opened per operation so no file lock outlives a call.
type BoltStore struct {
	path string
}

// NewBoltStore constructs a BoltStore for the given database path.
func NewBoltStore(path string) (*BoltStore, error) {
	if path == "" {
		return nil, fmt.Errorf("rag: %w: index path must not be empty", ErrInvalidConfiguration)
	}
	return &BoltStore{path: path}, nil
}

// Location returns the database path.
func (s *BoltStore) Location() string { return s.path }

// Exists reports whether the database file is present, without opening it.
func (s *BoltStore) Exists(ctx context.Context) (bool, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("rag: stat index %q: %w", s.path, err)
	}
	if info.IsDir() {
		return false, fmt.Errorf("rag: %w: index path %q is a directory", ErrInvalidConfiguration, s.path)
	}
	return true, nil
}

// Load opens the database read-only and restores the whole index. Files that
// bbolt cannot open, missing buckets, undecodable entries, and meta/entry
// inconsistencies all fail with ErrCorruptIndex. The open carries a timeout
// so a locked or damaged file fails instead of hanging.
func (s *BoltStore) Load(ctx context.Context) (*Index, error) {
	db, err := bbolt.Open(s.path, 0o600, &bbolt.Options{ReadOnly: true, Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("rag: %w: open %q: %v", ErrCorruptIndex, s.path, err)
	}
	defer db.Close()

	var chunks []Chunk
	var vecs [][]float32
	var meta boltMeta

	err = db.View(func(tx *bbolt.Tx) error {
		mb := tx.Bucket(bucketMeta)
		if mb == nil {
			return fmt.Errorf("meta bucket missing")
		}
		raw := mb.Get(metaKey)
		if raw == nil {
			return fmt.Errorf("meta record missing")
		}
		if err := json.Unmarshal(raw, &meta); err != nil {
			return fmt.Errorf("meta record undecodable: %v", err)
		}

		vb := tx.Bucket(bucketVectors)
		if vb == nil {
			return fmt.Errorf("vectors bucket missing")
		}

		chunks = make([]Chunk, 0, meta.Count)
		vecs = make([][]float32, 0, meta.Count)
		return vb.ForEach(func(k, v []byte) error {
			if len(k) != 4 {
				return fmt.Errorf("entry key has %d bytes, want 4", len(k))
			}
			var e boltEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("entry undecodable: %v", err)
			}
			if meta.Dim > 0 && len(e.Vector) != meta.Dim {
				return fmt.Errorf("entry vector has dimension %d, want %d", len(e.Vector), meta.Dim)
			}
			seq := int(binary.BigEndian.Uint32(k))
			chunks = append(chunks, Chunk{ID: e.ID, Seq: seq, Source: e.Source, Text: e.Text})
			vecs = append(vecs, e.Vector)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("rag: load index %q: %w: %v", s.path, ErrCorruptIndex, err)
	}
	if len(chunks) != meta.Count {
		return nil, fmt.Errorf("rag: load index %q: %w: %d entries stored, meta says %d", s.path, ErrCorruptIndex, len(chunks), meta.Count)
	}

	ix, err := newIndex(chunks, vecs)
	if err != nil {
		return nil, fmt.Errorf("rag: load index %q: %w: %v", s.path, ErrCorruptIndex, err)
	}
	return ix, nil
}

// Persist replaces the stored index in one write transaction.
func (s *BoltStore) Persist(ctx context.Context, ix *Index) error {
	if ix == nil {
		return fmt.Errorf("rag: persist: index must not be nil")
	}

	db, err := bbolt.Open(s.path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return fmt.Errorf("rag: open %q for write: %w", s.path, err)
	}
	defer db.Close()

	return db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketVectors, bucketMeta} {
			if tx.Bucket(name) != nil {
				if err := tx.DeleteBucket(name); err != nil {
					return fmt.Errorf("rag: reset bucket %q: %w", name, err)
				}
			}
		}

		vb, err := tx.CreateBucket(bucketVectors)
		if err != nil {
			return fmt.Errorf("rag: create vectors bucket: %w", err)
		}
		for i := 0; i < ix.Len(); i++ {
			c := ix.Chunk(i)
			var key [4]byte
			binary.BigEndian.PutUint32(key[:], uint32(c.Seq))
			val, err := json.Marshal(boltEntry{ID: c.ID, Source: c.Source, Text: c.Text, Vector: ix.Vector(i)})
			if err != nil {
				return fmt.Errorf("rag: encode entry %d: %w", i, err)
			}
			if err := vb.Put(key[:], val); err != nil {
				return fmt.Errorf("rag: store entry %d: %w", i, err)
			}
		}

		mb, err := tx.CreateBucket(bucketMeta)
		if err != nil {
			return fmt.Errorf("rag: create meta bucket: %w", err)
		}
		meta, err := json.Marshal(boltMeta{Dim: ix.Dimension(), Count: ix.Len()})
		if err != nil {
			return fmt.Errorf("rag: encode meta: %w", err)
		}
		return mb.Put(metaKey, meta)
	})
}

// Drop removes the database file. Missing files are not an error.
func (s *BoltStore) Drop(ctx context.Context) error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rag: remove index %q: %w", s.path, err)
	}
	return nil
}
