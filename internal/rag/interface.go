// Package rag implements the persistent vector-index-backed retrieval core:
// chunk and index types, the index artifact stores (file, bolt, qdrant), and
// the retrieval service that owns the build-if-absent index lifecycle.
// The agent layer only ever sees read-only query results, never the index.
package rag

import (
	"context"
)

// Chunk is a contiguous span of document text — the unit of retrieval.
type Chunk struct {
	// ID is the stable identifier for this chunk (hash of source + sequence).
	ID string

	// Seq is the zero-based position of the chunk within its document.
	Seq int

	// Text is the raw chunk text, at most the configured maximum length.
	Text string

	// Source is the path of the document the chunk was split from.
	Source string
}

// ScoredChunk pairs a chunk with its relevance score for one query.
// Scores are cosine similarities; higher is more relevant.
type ScoredChunk struct {
	Chunk Chunk

	// Score is the similarity between the query vector and the chunk vector.
	Score float32
}

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// DocumentLoader reads a source document and splits it into ordered chunks.
// Implementations must not mutate chunks after returning them.
type DocumentLoader interface {
	// LoadAndSplit extracts the document text at path and partitions it into
	// overlapping chunks in original order. Fails with ErrDocumentUnreadable
	// if the path is missing, unreadable, or unparseable, and with
	// ErrInvalidConfiguration if the chunking constraints are violated.
	LoadAndSplit(ctx context.Context, path string) ([]Chunk, error)
}

// ArtifactStore persists and restores a whole Index at one storage location.
// The lifecycle is ABSENT → (build+persist) → PERSISTED → (load) → IN_MEMORY:
// there is no delete transition and no partial update path. Implementations
// must be safe to call from multiple goroutines.
type ArtifactStore interface {
	// Exists reports whether a previously persisted index is present at the
	// storage location, without loading it. Absence is not an error.
	Exists(ctx context.Context) (bool, error)

	// Load deserializes the persisted index wholesale. Fails with
	// ErrCorruptIndex if the stored format or dimensionality is unreadable
	// or inconsistent.
	Load(ctx context.Context) (*Index, error)

	// Persist serializes the index to durable storage, atomically from a
	// reader's perspective: a concurrent Load never observes a partial write.
	Persist(ctx context.Context, ix *Index) error

	// Location describes where the artifact lives, for logs and errors.
	Location() string
}

// Retriever is the read-only view of the retrieval service handed to the
// agent layer. Implementations must be safe to call from multiple goroutines.
type Retriever interface {
	// Query returns the topK most relevant chunks for the question, best
	// match first. An empty result is not an error.
	Query(ctx context.Context, question string, topK int) ([]ScoredChunk, error)
}

// droppable is implemented by stores that support discarding the persisted
// artifact wholesale. Only forced rebuilds use it.
type droppable interface {
	Drop(ctx context.Context) error
}
