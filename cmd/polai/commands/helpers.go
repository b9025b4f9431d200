package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cloudwego/eino/components/model"

	"github.com/54b3r/polai-go/internal/embedder"
	"github.com/54b3r/polai-go/internal/loader"
	"github.com/54b3r/polai-go/internal/provider"
	"github.com/54b3r/polai-go/internal/rag"
	"github.com/54b3r/polai-go/internal/server"
	"github.com/54b3r/polai-go/internal/store"
)

// Retrieval defaults, applied when neither YAML config nor environment
// variables override them.
const (
	defaultDocumentPath  = "Sample Policies.pdf"
	defaultChunkSize     = 1000
	defaultChunkOverlap  = 150
	defaultTopK          = 5
	defaultIndexPath     = "policy_index.bin"
	defaultBoltIndexPath = "policy_index.db"
	defaultCollection    = "polai-policy"
)

// retrievalStack bundles the assembled retrieval pipeline with the handles
// the commands need for probes, previews, and shutdown.
type retrievalStack struct {
	// service is the retrieval core shared by every front-end.
	service *rag.Service
	// store is the artifact store backing the service.
	store rag.ArtifactStore
	// qdrant is set only for the qdrant backend, which holds a gRPC
	// connection the caller must close and may want to health-check.
	qdrant *rag.QdrantStore
	// runner extracts PDF text; nil when pdftotext is not installed.
	runner loader.Runner
	// docPath is the configured source document path.
	docPath string
}

// close releases backend connections held by the stack.
func (s *retrievalStack) close() {
	if s.qdrant != nil {
		_ = s.qdrant.Close()
	}
}

// documentDir resolves the directory containing the source document, used by
// the server as its document listing root. Empty when unresolvable.
func (s *retrievalStack) documentDir() string {
	abs, err := filepath.Abs(s.docPath)
	if err != nil {
		return ""
	}
	return filepath.Dir(abs)
}

// newRetrievalStack assembles the document loader, artifact store, and
// retrieval service from the environment. The embedder is a parameter so the
// build command can wrap it with progress reporting; cache may be nil for
// the one-shot commands that never repeat a query.
func newRetrievalStack(log *slog.Logger, emb rag.Embedder, cache *rag.QueryCache) (*retrievalStack, error) {
	// pdftotext is optional: plain-text documents load without it, and PDF
	// extraction fails with an install hint when it is missing.
	var runner loader.Runner
	if r, err := loader.NewExecRunner(); err != nil {
		log.Warn("pdftotext not found; PDF extraction unavailable", slog.Any("error", err))
	} else {
		runner = r
	}

	ldr, err := loader.New(&loader.Config{
		MaxChunkSize: getEnvInt("CHUNK_SIZE", defaultChunkSize),
		Overlap:      getEnvInt("CHUNK_OVERLAP", defaultChunkOverlap),
	}, runner)
	if err != nil {
		return nil, err
	}

	artifacts, qdrantStore, err := newArtifactStore()
	if err != nil {
		return nil, err
	}

	docPath := getEnvOrDefault("POLICY_DOCUMENT", defaultDocumentPath)
	svc, err := rag.NewService(&rag.ServiceConfig{
		Loader:       ldr,
		Embedder:     emb,
		Store:        artifacts,
		DocumentPath: docPath,
		DefaultTopK:  getEnvInt("RETRIEVAL_TOP_K", defaultTopK),
		Cache:        cache,
	})
	if err != nil {
		if qdrantStore != nil {
			_ = qdrantStore.Close()
		}
		return nil, err
	}

	return &retrievalStack{
		service: svc,
		store:   artifacts,
		qdrant:  qdrantStore,
		runner:  runner,
		docPath: docPath,
	}, nil
}

// newArtifactStore selects the index backend from INDEX_BACKEND. The second
// return value is non-nil only for the qdrant backend.
func newArtifactStore() (rag.ArtifactStore, *rag.QdrantStore, error) {
	backend := getEnvOrDefault("INDEX_BACKEND", "file")
	switch backend {
	case "file":
		s, err := rag.NewFileStore(getEnvOrDefault("INDEX_PATH", defaultIndexPath))
		return s, nil, err
	case "bolt":
		s, err := rag.NewBoltStore(getEnvOrDefault("INDEX_PATH", defaultBoltIndexPath))
		return s, nil, err
	case "qdrant":
		// The collection's vector size must match whatever embedding
		// backend is active, or upserts are rejected server-side.
		s, err := rag.NewQdrantStore(&rag.QdrantConfig{
			Host:       getEnvOrDefault("QDRANT_HOST", "localhost"),
			Port:       getEnvInt("QDRANT_PORT", 6334),
			Collection: getEnvOrDefault("QDRANT_COLLECTION", defaultCollection),
			VectorSize: uint64(embedder.DefaultDimensions(embedder.ResolveBackend())),
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			UseTLS:     os.Getenv("QDRANT_TLS") == "true",
		})
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown INDEX_BACKEND %q (valid values: file, bolt, qdrant): %w",
			backend, rag.ErrInvalidConfiguration)
	}
}

// openHistory opens the conversation store configured by POLAI_HISTORY_DB.
// The default path is ~/.polai/history.db; the value "disabled" turns
// persistence off. Failures disable history with a warning rather than
// aborting the command — an unusable history DB should not block answers.
func openHistory(log *slog.Logger) store.ConversationStore {
	dbPath := os.Getenv("POLAI_HISTORY_DB")
	if dbPath == "disabled" {
		log.Info("conversation history disabled via POLAI_HISTORY_DB")
		return nil
	}
	if dbPath == "" {
		p, err := store.DefaultDBPath()
		if err != nil {
			log.Warn("could not resolve history DB path; history disabled", slog.Any("error", err))
			return nil
		}
		dbPath = p
	}
	hs, err := store.Open(dbPath)
	if err != nil {
		log.Warn("could not open history DB; history disabled",
			slog.String("path", dbPath),
			slog.Any("error", err))
		return nil
	}
	log.Info("conversation history enabled", slog.String("path", dbPath))
	return hs
}

// buildPingers assembles the readiness probes the server aggregates: the
// model backend, the index artifact, and the Qdrant connection when that
// backend is active.
func buildPingers(chatModel model.ToolCallingChatModel, cfg *provider.Config, stack *retrievalStack) []server.Pinger {
	pingers := []server.Pinger{
		server.NewModelPinger(provider.NewHealthCheck(cfg), chatModel, string(cfg.Backend)),
		server.NewIndexPinger(stack.store),
	}
	if stack.qdrant != nil {
		pingers = append(pingers, server.NewQdrantPinger(stack.qdrant.Client()))
	}
	return pingers
}

// getEnvOrDefault returns the environment variable value, or fallback when
// unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt parses an integer environment variable, returning fallback when
// unset or malformed.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
