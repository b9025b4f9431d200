package server

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// fakeHealthCheck is a test double for provider.HealthChecker.
type fakeHealthCheck struct {
	err   error
	calls int
}

func (f *fakeHealthCheck) HealthCheck(_ context.Context) error {
	f.calls++
	return f.err
}

func TestModelPinger_UsesHealthChecker(t *testing.T) {
	t.Parallel()

	hc := &fakeHealthCheck{}
	p := NewModelPinger(hc, nil, "ollama")

	if err := p.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if hc.calls != 1 {
		t.Errorf("expected 1 health check call, got %d", hc.calls)
	}
}

func TestModelPinger_WrapsHealthCheckFailureWithBackendName(t *testing.T) {
	t.Parallel()

	hc := &fakeHealthCheck{err: errors.New("connection refused")}
	p := NewModelPinger(hc, nil, "openai")

	err := p.Ping(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "openai") {
		t.Errorf("error must name the backend, got %q", err.Error())
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("error must carry the cause, got %q", err.Error())
	}
}

func TestModelPinger_NoProbeConfigured(t *testing.T) {
	t.Parallel()

	// Neither a health check nor a model: the pinger cannot probe anything.
	p := NewModelPinger(nil, nil, "gemini")

	if err := p.Ping(context.Background()); err == nil {
		t.Fatal("expected an error when no probe is configured")
	}
}

func TestIndexPinger_HealthyWhenArtifactExists(t *testing.T) {
	t.Parallel()

	p := NewIndexPinger(&fakeArtifactStore{exists: true, location: "/tmp/ix.bin"})

	if err := p.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if p.Name() != "index" {
		t.Errorf("Name: got %q", p.Name())
	}
}

func TestIndexPinger_MissingArtifactNamesTheFix(t *testing.T) {
	t.Parallel()

	p := NewIndexPinger(&fakeArtifactStore{exists: false, location: "policy_index.bin"})

	err := p.Ping(context.Background())
	if err == nil {
		t.Fatal("expected an error for a missing artifact")
	}
	if !strings.Contains(err.Error(), "polai build") {
		t.Errorf("error should tell the operator to run the build, got %q", err.Error())
	}
	if !strings.Contains(err.Error(), "policy_index.bin") {
		t.Errorf("error should name the artifact location, got %q", err.Error())
	}
}

func TestIndexPinger_StoreErrorPropagates(t *testing.T) {
	t.Parallel()

	p := NewIndexPinger(&fakeArtifactStore{existsErr: errors.New("bolt file locked")})

	err := p.Ping(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "bolt file locked") {
		t.Errorf("error must carry the cause, got %q", err.Error())
	}
}
