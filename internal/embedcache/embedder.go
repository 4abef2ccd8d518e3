package embedcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/codectx/codectx/internal/embed"
)

// Embedder wraps an embed.Embedder with the disk cache tier. It is meant
// to sit around whatever embed.NewEmbedder returns (which already has the
// in-process LRU tier from internal/embed/cached.go): a miss here still
// checks disk before falling through to actual inference.
type Embedder struct {
	inner embed.Embedder
	disk  *DiskCache
}

// New wraps inner with the already opened disk cache.
func New(inner embed.Embedder, disk *DiskCache) *Embedder {
	return &Embedder{inner: inner, disk: disk}
}

func (e *Embedder) contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Embed returns the disk-cached embedding if present, otherwise computes
// and persists it.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := Key(e.contentHash(text), e.inner.ModelName())
	if vec, ok := e.disk.Get(key); ok {
		return vec, nil
	}

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	_ = e.disk.PutBatch(map[string][]float32{key: vec})
	return vec, nil
}

// EmbedBatch checks the disk cache per-text, then embeds only the misses.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	missIdx := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))

	for i, text := range texts {
		key := Key(e.contentHash(text), e.inner.ModelName())
		keys[i] = key
		if vec, ok := e.disk.Get(key); ok {
			results[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	computed, err := e.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	toPersist := make(map[string][]float32, len(computed))
	for j, idx := range missIdx {
		results[idx] = computed[j]
		toPersist[keys[idx]] = computed[j]
	}
	_ = e.disk.PutBatch(toPersist)

	return results, nil
}

// Dimensions passes through to the inner embedder.
func (e *Embedder) Dimensions() int { return e.inner.Dimensions() }

// ModelName passes through to the inner embedder.
func (e *Embedder) ModelName() string { return e.inner.ModelName() }

// Available passes through to the inner embedder.
func (e *Embedder) Available(ctx context.Context) bool { return e.inner.Available(ctx) }

// Close closes the disk cache, then the inner embedder.
func (e *Embedder) Close() error {
	diskErr := e.disk.Close()
	if innerErr := e.inner.Close(); innerErr != nil {
		return innerErr
	}
	return diskErr
}

// Inner returns the wrapped embedder.
func (e *Embedder) Inner() embed.Embedder { return e.inner }

// SetBatchIndex passes through to the inner embedder.
func (e *Embedder) SetBatchIndex(idx int) { e.inner.SetBatchIndex(idx) }

// SetFinalBatch passes through to the inner embedder.
func (e *Embedder) SetFinalBatch(isFinal bool) { e.inner.SetFinalBatch(isFinal) }

// FormatQuery passes through to the inner embedder.
func (e *Embedder) FormatQuery(text string) string { return e.inner.FormatQuery(text) }

// FormatPassage passes through to the inner embedder.
func (e *Embedder) FormatPassage(text string) string { return e.inner.FormatPassage(text) }

var _ embed.Embedder = (*Embedder)(nil)
