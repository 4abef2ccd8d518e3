// Package embedcache provides a disk-backed second cache tier for
// embedding generation, sitting behind the embed package's in-process LRU
// (internal/embed/cached.go). A cold process still avoids recomputing
// embeddings for content it has already embedded on a previous run.
package embedcache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/codectx/codectx/internal/embed"
)

var (
	vectorsBucket = []byte("vectors")
	evictBucket   = []byte("evict_order")
)

// DefaultMaxBytes is the default on-disk cache size cap (256MB).
const DefaultMaxBytes = 256 * 1024 * 1024

// DiskCache is the on-disk tier of the embedding cache: a bbolt keyed
// store, SHA-256(content_hash || ':' || model_id) -> packed float32
// vector. A process-local LRU (hashicorp/golang-lru/v2) sits in front of
// it to absorb repeated lookups within one run without a disk read.
type DiskCache struct {
	db       *bolt.DB
	hot      *lru.Cache[string, []float32]
	maxBytes int64
}

// Open opens (creating if needed) a disk cache at path, sized maxBytes.
// A maxBytes of 0 uses DefaultMaxBytes.
func Open(path string, maxBytes int64) (*DiskCache, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0644, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open embedding disk cache: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(vectorsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(evictBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize cache buckets: %w", err)
	}

	hot, _ := lru.New[string, []float32](embed.DefaultEmbeddingCacheSize)

	return &DiskCache{db: db, hot: hot, maxBytes: maxBytes}, nil
}

// Key derives the cache key for a piece of content under a given model.
func Key(contentHash, modelID string) string {
	sum := sha256.Sum256([]byte(contentHash + ":" + modelID))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached vector for key, if present.
func (c *DiskCache) Get(key string) ([]float32, bool) {
	if vec, ok := c.hot.Get(key); ok {
		return vec, true
	}

	var vec []float32
	err := c.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(vectorsBucket).Get([]byte(key))
		if raw == nil {
			return nil
		}
		vec = unpackFloat32s(raw)
		return nil
	})
	if err != nil || vec == nil {
		return nil, false
	}

	c.hot.Add(key, vec)
	return vec, true
}

// PutBatch writes a batch of key/vector pairs in a single bbolt
// transaction, then enforces the byte cap via insertion-order eviction:
// entries recorded earliest in the eviction bucket are dropped first.
func (c *DiskCache) PutBatch(entries map[string][]float32) error {
	if len(entries) == 0 {
		return nil
	}

	err := c.db.Update(func(tx *bolt.Tx) error {
		vb := tx.Bucket(vectorsBucket)
		eb := tx.Bucket(evictBucket)

		for key, vec := range entries {
			if err := vb.Put([]byte(key), packFloat32s(vec)); err != nil {
				return err
			}
			seq, err := eb.NextSequence()
			if err != nil {
				return err
			}
			seqKey := make([]byte, 8)
			binary.BigEndian.PutUint64(seqKey, seq)
			if err := eb.Put(seqKey, []byte(key)); err != nil {
				return err
			}
			c.hot.Add(key, vec)
		}

		return evictOverCap(vb, eb, c.maxBytes)
	})
	if err != nil {
		return fmt.Errorf("failed to write embedding cache batch: %w", err)
	}
	return nil
}

// evictOverCap drops the oldest entries (by insertion order recorded in
// eb) until the vectors bucket's total byte size is back under maxBytes.
func evictOverCap(vb, eb *bolt.Bucket, maxBytes int64) error {
	if maxBytes <= 0 {
		return nil
	}

	size := bucketByteSize(vb)
	if size <= maxBytes {
		return nil
	}

	cursor := eb.Cursor()
	for k, v := cursor.First(); k != nil && size > maxBytes; k, v = cursor.Next() {
		if raw := vb.Get(v); raw != nil {
			size -= int64(len(raw))
			if err := vb.Delete(v); err != nil {
				return err
			}
		}
		if err := eb.Delete(k); err != nil {
			return err
		}
	}

	return nil
}

func bucketByteSize(b *bolt.Bucket) int64 {
	var total int64
	_ = b.ForEach(func(k, v []byte) error {
		total += int64(len(v))
		return nil
	})
	return total
}

// Close closes the underlying bbolt database.
func (c *DiskCache) Close() error {
	return c.db.Close()
}

func packFloat32s(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func unpackFloat32s(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
