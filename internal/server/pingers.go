package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/polai-go/internal/provider"
	"github.com/54b3r/polai-go/internal/rag"
)

// ModelPinger probes the configured LLM backend. When the provider exposes a
// token-free HTTP health check it is used exclusively; otherwise Ping falls
// back to a minimal single-token Generate call, which consumes tokens.
type ModelPinger struct {
	// healthCheck is the token-free probe, when the backend has one.
	healthCheck provider.HealthChecker
	// model is the chat model used by the Generate fallback. Only consulted
	// when healthCheck is nil.
	model model.ToolCallingChatModel
	// name identifies the backend in readiness responses (e.g. "ollama").
	name string
}

// NewModelPinger constructs a ModelPinger for the given backend name.
// hc may be nil; m is only used when hc is nil.
func NewModelPinger(hc provider.HealthChecker, m model.ToolCallingChatModel, name string) *ModelPinger {
	return &ModelPinger{healthCheck: hc, model: m, name: name}
}

// Name returns the backend label used in readiness responses.
func (p *ModelPinger) Name() string { return p.name }

// Ping probes the LLM backend for readiness.
func (p *ModelPinger) Ping(ctx context.Context) error {
	if p.healthCheck != nil {
		if err := p.healthCheck.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s health check failed: %w", p.name, err)
		}
		return nil
	}

	if p.model == nil {
		return fmt.Errorf("no probe configured for %s", p.name)
	}

	// Fallback burns tokens on every readiness poll.
	// TODO: drop once provider.NewHealthCheck covers azure, ark, and gemini.
	slog.Warn("pinger: falling back to Generate-based health check; tokens will be consumed",
		slog.String("backend", p.name),
	)
	msgs := []*schema.Message{
		schema.UserMessage("ping"),
	}
	resp, err := p.model.Generate(ctx, msgs)
	if err != nil {
		return fmt.Errorf("generate failed: %w", err)
	}
	if resp == nil {
		return fmt.Errorf("generate returned nil response")
	}
	return nil
}

// IndexPinger reports whether a persisted vector index artifact exists.
// A missing artifact makes /api/ready fail so orchestrators hold traffic
// until `polai build` has run.
type IndexPinger struct {
	// store is the artifact store to check.
	store rag.ArtifactStore
}

// NewIndexPinger constructs an IndexPinger for the given artifact store.
func NewIndexPinger(store rag.ArtifactStore) *IndexPinger {
	return &IndexPinger{store: store}
}

// Name returns the dependency label used in readiness responses.
func (p *IndexPinger) Name() string { return "index" }

// Ping checks that the index artifact exists without loading it.
func (p *IndexPinger) Ping(ctx context.Context) error {
	ok, err := p.store.Exists(ctx)
	if err != nil {
		return fmt.Errorf("artifact check failed: %w", err)
	}
	if !ok {
		return fmt.Errorf("index artifact not found at %s (run `polai build`)", p.store.Location())
	}
	return nil
}

// QdrantPinger probes a Qdrant instance using its native HealthCheck RPC.
// It satisfies the Pinger interface and is used by GET /api/ready.
type QdrantPinger struct {
	// client is the Qdrant gRPC client to probe.
	client *qdrant.Client
}

// NewQdrantPinger constructs a QdrantPinger for the given Qdrant client.
func NewQdrantPinger(client *qdrant.Client) *QdrantPinger {
	return &QdrantPinger{client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
// Returns nil if Qdrant is reachable, or a descriptive error otherwise.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	_, err := p.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
