package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/54b3r/polai-go/internal/logging"
)

// ServiceConfig holds the collaborators and defaults for a Service.
type ServiceConfig struct {
	// Loader reads and splits the source document. Only builds use it; once
	// an artifact exists the source document is never touched again.
	Loader DocumentLoader

	// Embedder produces chunk and question vectors. The same embedder must
	// be used for building and querying — the index dimensionality is fixed.
	Embedder Embedder

	// Store persists and restores the index artifact.
	Store ArtifactStore

	// DocumentPath is the source document used when no artifact exists yet.
	DocumentPath string

	// DefaultTopK is the result count when a caller passes topK <= 0.
	// Defaults to 5.
	DefaultTopK int

	// Cache optionally memoizes query results. May be nil.
	Cache *QueryCache
}

// Service is the retrieval core. It owns the index lifecycle — build-if-absent,
// persist, load — and exposes a single Query operation returning the top-k
// most relevant chunks. The service never repairs a corrupt artifact and never
// rebuilds on its own: ABSENT is the only state that triggers construction.
type Service struct {
	loader      DocumentLoader
	embedder    Embedder
	store       ArtifactStore
	docPath     string
	defaultTopK int
	cache       *QueryCache

	// mu serializes the ensure step so concurrent first queries in one
	// process build at most once. The index is read-only once set and is
	// searched without locking.
	mu    sync.Mutex
	index *Index
}

// NewService constructs a Service from the given configuration.
func NewService(cfg *ServiceConfig) (*Service, error) {
	if cfg.Loader == nil {
		return nil, fmt.Errorf("rag: %w: loader must not be nil", ErrInvalidConfiguration)
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("rag: %w: embedder must not be nil", ErrInvalidConfiguration)
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("rag: %w: store must not be nil", ErrInvalidConfiguration)
	}
	if cfg.DocumentPath == "" {
		return nil, fmt.Errorf("rag: %w: document path must not be empty", ErrInvalidConfiguration)
	}

	topK := cfg.DefaultTopK
	if topK <= 0 {
		topK = 5
	}

	return &Service{
		loader:      cfg.Loader,
		embedder:    cfg.Embedder,
		store:       cfg.Store,
		docPath:     cfg.DocumentPath,
		defaultTopK: topK,
		cache:       cfg.Cache,
	}, nil
}

// Query returns the topK chunks most relevant to the question, best match
// first. The first call per storage location pays for document loading,
// embedding, and persistence; every later call — in this process or any
// other — reuses the artifact. An empty question is permitted and searches
// with a zero vector. An empty result is not an error.
func (s *Service) Query(ctx context.Context, question string, topK int) ([]ScoredChunk, error) {
	if topK <= 0 {
		topK = s.defaultTopK
	}

	if s.cache != nil {
		if results, ok := s.cache.Get(question, topK); ok {
			return results, nil
		}
	}

	ix, err := s.ensureIndex(ctx)
	if err != nil {
		return nil, err
	}

	queryVec, err := s.embedQuestion(ctx, question, ix)
	if err != nil {
		return nil, err
	}

	results, err := ix.Search(queryVec, topK)
	if err != nil {
		return nil, fmt.Errorf("rag: search failed: %w", err)
	}

	if s.cache != nil {
		s.cache.Put(question, topK, results)
	}
	return results, nil
}

// Warm ensures the index is in memory, building and persisting it first if
// no artifact exists. Front-ends that want startup-time construction call
// this; Query ensures lazily otherwise.
func (s *Service) Warm(ctx context.Context) error {
	_, err := s.ensureIndex(ctx)
	return err
}

// Rebuild discards the persisted artifact and the in-memory index, then runs
// a fresh build. This is the only sanctioned path out of the PERSISTED state;
// a corrupt artifact is never rebuilt implicitly.
func (s *Service) Rebuild(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d, ok := s.store.(droppable); ok {
		if err := d.Drop(ctx); err != nil {
			return fmt.Errorf("rag: rebuild: %w", err)
		}
	}
	s.index = nil
	if s.cache != nil {
		s.cache.Invalidate()
	}

	ix, err := s.buildLocked(ctx)
	if err != nil {
		return err
	}
	s.index = ix
	return nil
}

// Loaded reports whether the index is held in memory.
func (s *Service) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index != nil
}

// Store exposes the artifact store for status probes.
func (s *Service) Store() ArtifactStore { return s.store }

// ensureIndex returns the in-memory index, loading the persisted artifact or
// building a new one as required. State is checked explicitly — absence and
// corruption are distinguishable conditions, and a corrupt artifact
// propagates without triggering a rebuild.
func (s *Service) ensureIndex(ctx context.Context) (*Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.index != nil {
		return s.index, nil
	}

	log := logging.FromContext(ctx)

	exists, err := s.store.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("rag: check index presence: %w", err)
	}

	if exists {
		ix, err := s.store.Load(ctx)
		if err != nil {
			return nil, err
		}
		log.Info("index loaded",
			slog.String("location", s.store.Location()),
			slog.Int("entries", ix.Len()),
			slog.Int("dimension", ix.Dimension()),
		)
		s.index = ix
		return ix, nil
	}

	ix, err := s.buildLocked(ctx)
	if err != nil {
		return nil, err
	}
	s.index = ix
	return ix, nil
}

// buildLocked runs the full build: load and split the source document, embed
// all chunks, persist the artifact. Callers hold s.mu.
func (s *Service) buildLocked(ctx context.Context) (*Index, error) {
	log := logging.FromContext(ctx)

	chunks, err := s.loader.LoadAndSplit(ctx, s.docPath)
	if err != nil {
		return nil, err
	}

	ix, err := BuildIndex(ctx, chunks, s.embedder)
	if err != nil {
		return nil, err
	}

	if err := s.store.Persist(ctx, ix); err != nil {
		return nil, err
	}

	log.Info("index built and persisted",
		slog.String("document", s.docPath),
		slog.String("location", s.store.Location()),
		slog.Int("entries", ix.Len()),
		slog.Int("dimension", ix.Dimension()),
	)
	return ix, nil
}

// embedQuestion produces the query vector. An empty question embeds nothing
// and searches with a zero vector — providers are not called for input that
// carries no semantic content. The dimensionality invariant between embedder
// and index is guarded here.
func (s *Service) embedQuestion(ctx context.Context, question string, ix *Index) ([]float32, error) {
	if question == "" {
		return make([]float32, ix.Dimension()), nil
	}

	vecs, err := s.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("rag: embedding question failed: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("rag: embedder returned %d vectors for one question", len(vecs))
	}
	if ix.Len() > 0 && len(vecs[0]) != ix.Dimension() {
		return nil, fmt.Errorf("rag: question vector dimension %d does not match index dimension %d", len(vecs[0]), ix.Dimension())
	}
	return vecs[0], nil
}
