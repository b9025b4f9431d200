package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// healthTimeout bounds each backend reachability probe.
const healthTimeout = 5 * time.Second

// HealthChecker reports whether a model backend is reachable without
// consuming any tokens.
type HealthChecker interface {
	// HealthCheck returns nil when the backend responds, an error otherwise.
	HealthCheck(ctx context.Context) error
}

// httpHealthCheck probes a backend's lightweight metadata endpoint.
type httpHealthCheck struct {
	// url is the metadata endpoint to probe.
	url string
	// headers carries auth headers required by the endpoint.
	headers map[string]string
	// client is the HTTP client used for the probe.
	client *http.Client
}

// HealthCheck issues a GET against the metadata endpoint. Any response below
// 400 counts as healthy.
func (h *httpHealthCheck) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return fmt.Errorf("provider: health request: %w", err)
	}
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider: backend unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("provider: backend returned %s", resp.Status)
	}
	return nil
}

// NewHealthCheck returns a zero-cost reachability probe for the configured
// backend. Returns nil when the backend exposes no free metadata endpoint;
// callers then fall back to a single-token Generate probe.
// TODO: add probes for azure, ark, and gemini once their metadata endpoints
// are confirmed token-free across API versions.
func NewHealthCheck(cfg *Config) HealthChecker {
	client := &http.Client{Timeout: healthTimeout}

	switch cfg.Backend {
	case BackendOllama:
		host := cfg.Ollama.Host
		if host == "" {
			host = "http://localhost:11434"
		}
		return &httpHealthCheck{
			url:    strings.TrimRight(host, "/") + "/api/tags",
			client: client,
		}
	case BackendOpenAI:
		return &httpHealthCheck{
			url:     "https://api.openai.com/v1/models",
			headers: map[string]string{"Authorization": "Bearer " + cfg.OpenAI.APIKey},
			client:  client,
		}
	default:
		return nil
	}
}
