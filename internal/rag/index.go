package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
)

// Index is an immutable in-memory collection of (chunk, embedding) pairs
// supporting exact nearest-neighbor search under cosine similarity.
// All entries share one dimensionality. Entries are stored as parallel
// slices; magnitudes are precomputed at construction time so Search does
// no per-call allocation beyond the result slice.
//
// An Index is read-only once built and safe for concurrent Search calls.
type Index struct {
	dim     int
	ids     []string
	seqs    []int
	sources []string
	texts   []string
	vecs    [][]float32
	mags    []float64
}

// BuildIndex embeds every chunk in one batched call and assembles a new
// in-memory Index. Any embedding error aborts the whole build wrapped in
// ErrEmbeddingFailure — partial indexes are never produced. Building from
// zero chunks yields an empty index.
func BuildIndex(ctx context.Context, chunks []Chunk, embedder Embedder) (*Index, error) {
	if len(chunks) == 0 {
		return &Index{}, nil
	}
	if embedder == nil {
		return nil, fmt.Errorf("rag: %w: embedder must not be nil", ErrInvalidConfiguration)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vecs, err := embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("rag: %w: embedding %d chunks: %w", ErrEmbeddingFailure, len(chunks), err)
	}
	if len(vecs) != len(chunks) {
		return nil, fmt.Errorf("rag: %w: embedder returned %d vectors for %d chunks", ErrEmbeddingFailure, len(vecs), len(chunks))
	}

	ix, err := newIndex(chunks, vecs)
	if err != nil {
		return nil, fmt.Errorf("rag: %w: %w", ErrEmbeddingFailure, err)
	}
	return ix, nil
}

// newIndex assembles an Index from parallel chunk and vector slices,
// enforcing length and dimensionality consistency.
func newIndex(chunks []Chunk, vecs [][]float32) (*Index, error) {
	if len(chunks) != len(vecs) {
		return nil, fmt.Errorf("chunk count %d does not match vector count %d", len(chunks), len(vecs))
	}
	if len(chunks) == 0 {
		return &Index{}, nil
	}

	dim := len(vecs[0])
	if dim == 0 {
		return nil, fmt.Errorf("vectors must not be empty")
	}

	ix := &Index{
		dim:     dim,
		ids:     make([]string, len(chunks)),
		seqs:    make([]int, len(chunks)),
		sources: make([]string, len(chunks)),
		texts:   make([]string, len(chunks)),
		vecs:    make([][]float32, len(chunks)),
		mags:    make([]float64, len(chunks)),
	}
	for i, c := range chunks {
		if len(vecs[i]) != dim {
			return nil, fmt.Errorf("vector %d has dimension %d, want %d", i, len(vecs[i]), dim)
		}
		ix.ids[i] = c.ID
		ix.seqs[i] = c.Seq
		ix.sources[i] = c.Source
		ix.texts[i] = c.Text
		ix.vecs[i] = vecs[i]
		ix.mags[i] = magnitude(vecs[i])
	}
	return ix, nil
}

// Len returns the number of entries in the index.
func (ix *Index) Len() int { return len(ix.ids) }

// Dimension returns the fixed dimensionality of the index vectors.
// Zero for an empty index.
func (ix *Index) Dimension() int { return ix.dim }

// Chunk returns the i-th chunk stored in the index.
func (ix *Index) Chunk(i int) Chunk {
	return Chunk{ID: ix.ids[i], Seq: ix.seqs[i], Source: ix.sources[i], Text: ix.texts[i]}
}

// Vector returns the i-th embedding vector. Callers must not mutate it.
func (ix *Index) Vector(i int) []float32 { return ix.vecs[i] }

// Search returns the k nearest entries to queryVec by cosine similarity,
// best match first. It returns fewer than k results if the index holds fewer
// entries, and an empty slice for an empty index or k <= 0. A query vector
// whose dimensionality does not match the index is an invariant violation.
func (ix *Index) Search(queryVec []float32, k int) ([]ScoredChunk, error) {
	if ix.Len() == 0 || k <= 0 {
		return []ScoredChunk{}, nil
	}
	if len(queryVec) != ix.dim {
		return nil, fmt.Errorf("rag: query vector dimension %d does not match index dimension %d", len(queryVec), ix.dim)
	}

	qmag := magnitude(queryVec)

	scored := make([]ScoredChunk, ix.Len())
	for i := range ix.vecs {
		scored[i] = ScoredChunk{Chunk: ix.Chunk(i), Score: cosine(queryVec, qmag, ix.vecs[i], ix.mags[i])}
	}

	// Ties (including the all-zero scores of a degenerate query vector) fall
	// back to document order so repeated queries stay deterministic.
	sort.Slice(scored, func(a, b int) bool {
		if scored[a].Score != scored[b].Score {
			return scored[a].Score > scored[b].Score
		}
		return scored[a].Chunk.Seq < scored[b].Chunk.Seq
	})

	if k > len(scored) {
		k = len(scored)
	}
	return scored[:k], nil
}

// cosine computes the cosine similarity between two vectors given their
// precomputed magnitudes. Zero-magnitude vectors score zero rather than NaN.
func cosine(a []float32, amag float64, b []float32, bmag float64) float32 {
	if amag == 0 || bmag == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(dot / (amag * bmag))
}

// magnitude returns the Euclidean norm of v.
func magnitude(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
