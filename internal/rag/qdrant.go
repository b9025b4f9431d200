package rag

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig holds connection parameters for a Qdrant-backed index.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name holding the index.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore is the remote ArtifactStore backend. Persist upserts every
// entry into the collection (durable server-side, so no separate write step),
// and Load scrolls the whole collection back into an in-memory Index so
// search behaves identically to the local backends.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this store.
	cfg *QdrantConfig
}

// NewQdrantStore creates a QdrantStore. The collection is not created here —
// an absent collection is the ABSENT index state, and Persist creates it.
func NewQdrantStore(cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Collection == "" {
		return nil, fmt.Errorf("rag: %w: qdrant collection must not be empty", ErrInvalidConfiguration)
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("rag: qdrant: failed to create client: %w", err)
	}

	return &QdrantStore{client: client, cfg: cfg}, nil
}

// Client exposes the underlying gRPC client for health probes.
func (s *QdrantStore) Client() *qdrant.Client { return s.client }

// Location describes the collection for logs and errors.
func (s *QdrantStore) Location() string {
	return fmt.Sprintf("qdrant://%s:%d/%s", s.cfg.Host, s.cfg.Port, s.cfg.Collection)
}

// Exists reports whether the collection is present and holds at least one
// point. An empty collection counts as absent so an interrupted first build
// is retried rather than loaded.
func (s *QdrantStore) Exists(ctx context.Context) (bool, error) {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return false, fmt.Errorf("rag: qdrant: failed to check collection existence: %w", err)
	}
	if !exists {
		return false, nil
	}
	count, err := s.client.Count(ctx, &qdrant.CountPoints{CollectionName: s.cfg.Collection})
	if err != nil {
		return false, fmt.Errorf("rag: qdrant: failed to count points: %w", err)
	}
	return count > 0, nil
}

// Load scrolls every point out of the collection and rebuilds the in-memory
// Index. Point IDs are the chunk sequence numbers, so scroll order restores
// document order. Shape problems (missing payload fields, dimension drift
// against the configured vector size) fail with ErrCorruptIndex.
func (s *QdrantStore) Load(ctx context.Context) (*Index, error) {
	count, err := s.client.Count(ctx, &qdrant.CountPoints{CollectionName: s.cfg.Collection})
	if err != nil {
		return nil, fmt.Errorf("rag: qdrant: failed to count points: %w", err)
	}
	if count == 0 {
		return nil, fmt.Errorf("rag: load %s: %w: collection is empty", s.Location(), ErrCorruptIndex)
	}
	if count > 1<<20 {
		return nil, fmt.Errorf("rag: load %s: %w: %d points exceeds single-document sanity bound", s.Location(), ErrCorruptIndex, count)
	}

	limit := uint32(count)
	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.cfg.Collection,
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("rag: qdrant: scroll failed: %w", err)
	}

	chunks := make([]Chunk, 0, len(points))
	vecs := make([][]float32, 0, len(points))
	for _, p := range points {
		vec := p.GetVectors().GetVector().GetData()
		if len(vec) == 0 {
			return nil, fmt.Errorf("rag: load %s: %w: point %d has no vector", s.Location(), ErrCorruptIndex, p.GetId().GetNum())
		}
		if s.cfg.VectorSize > 0 && uint64(len(vec)) != s.cfg.VectorSize {
			return nil, fmt.Errorf("rag: load %s: %w: point vector has dimension %d, want %d", s.Location(), ErrCorruptIndex, len(vec), s.cfg.VectorSize)
		}

		c := Chunk{Seq: int(p.GetId().GetNum())}
		if payload := p.GetPayload(); payload != nil {
			if v, ok := payload["id"]; ok {
				c.ID = v.GetStringValue()
			}
			if v, ok := payload["content"]; ok {
				c.Text = v.GetStringValue()
			}
			if v, ok := payload["source"]; ok {
				c.Source = v.GetStringValue()
			}
		}
		if c.ID == "" || c.Text == "" {
			return nil, fmt.Errorf("rag: load %s: %w: point %d payload is incomplete", s.Location(), ErrCorruptIndex, p.GetId().GetNum())
		}

		chunks = append(chunks, c)
		vecs = append(vecs, vec)
	}

	ix, err := newIndex(chunks, vecs)
	if err != nil {
		return nil, fmt.Errorf("rag: load %s: %w: %v", s.Location(), ErrCorruptIndex, err)
	}
	return ix, nil
}

// Persist creates the collection if needed and upserts every index entry,
// waiting for the write to be applied before returning.
func (s *QdrantStore) Persist(ctx context.Context, ix *Index) error {
	if ix == nil {
		return fmt.Errorf("rag: persist: index must not be nil")
	}

	size := s.cfg.VectorSize
	if size == 0 {
		size = uint64(ix.Dimension())
	}
	if err := s.ensureCollection(ctx, size); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, 0, ix.Len())
	for i := 0; i < ix.Len(); i++ {
		c := ix.Chunk(i)
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(uint64(c.Seq)),
			Vectors: qdrant.NewVectors(ix.Vector(i)...),
			Payload: qdrant.NewValueMap(map[string]any{
				"id":      c.ID,
				"content": c.Text,
				"source":  c.Source,
			}),
		})
	}

	wait := true
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Points:         points,
		Wait:           &wait,
	})
	if err != nil {
		return fmt.Errorf("rag: qdrant: upsert failed: %w", err)
	}
	return nil
}

// Drop deletes the collection wholesale. Used only by forced rebuilds.
func (s *QdrantStore) Drop(ctx context.Context) error {
	if err := s.client.DeleteCollection(ctx, s.cfg.Collection); err != nil {
		return fmt.Errorf("rag: qdrant: failed to delete collection %q: %w", s.cfg.Collection, err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// ensureCollection creates the Qdrant collection if it does not already exist.
func (s *QdrantStore) ensureCollection(ctx context.Context, vectorSize uint64) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("rag: qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     vectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("rag: qdrant: failed to create collection %q: %w", s.cfg.Collection, err)
	}
	return nil
}
