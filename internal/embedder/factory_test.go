package embedder

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/54b3r/polai-go/internal/rag"
)

// clearEmbedderEnv blanks every env var the factory cascade reads so tests
// are isolated from the developer's shell.
func clearEmbedderEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"EMBEDDING_PROVIDER", "EMBEDDING_MODEL", "EMBEDDING_API_KEY",
		"EMBEDDING_ENDPOINT", "EMBEDDING_DIMENSIONS",
		"MODEL_PROVIDER", "OLLAMA_HOST",
		"OPENAI_API_KEY", "AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT",
	} {
		t.Setenv(key, "")
	}
}

func Test_NewFromEnv_DefaultsToOllama(t *testing.T) {
	clearEmbedderEnv(t)

	emb, err := NewFromEnv()
	if err != nil {
		t.Fatalf("NewFromEnv: %v", err)
	}
	if _, ok := emb.(*OllamaEmbedder); !ok {
		t.Fatalf("got %T, want *OllamaEmbedder", emb)
	}
}

func Test_NewFromEnv_InheritsModelProvider(t *testing.T) {
	clearEmbedderEnv(t)
	t.Setenv("MODEL_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	emb, err := NewFromEnv()
	if err != nil {
		t.Fatalf("NewFromEnv: %v", err)
	}
	if _, ok := emb.(*OpenAIEmbedder); !ok {
		t.Fatalf("got %T, want *OpenAIEmbedder", emb)
	}
}

func Test_NewFromEnv_EmbeddingProviderOverridesModelProvider(t *testing.T) {
	clearEmbedderEnv(t)
	t.Setenv("MODEL_PROVIDER", "openai")
	t.Setenv("EMBEDDING_PROVIDER", "ollama")

	emb, err := NewFromEnv()
	if err != nil {
		t.Fatalf("NewFromEnv: %v", err)
	}
	if _, ok := emb.(*OllamaEmbedder); !ok {
		t.Fatalf("got %T, want *OllamaEmbedder", emb)
	}
}

func Test_NewFromEnv_MissingCredentialsAreInvalidConfiguration(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"openai without key", map[string]string{"EMBEDDING_PROVIDER": "openai"}},
		{"azure without key", map[string]string{"EMBEDDING_PROVIDER": "azure"}},
		{"azure without endpoint", map[string]string{
			"EMBEDDING_PROVIDER":   "azure",
			"AZURE_OPENAI_API_KEY": "k",
		}},
		{"unknown backend", map[string]string{"EMBEDDING_PROVIDER": "watson"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearEmbedderEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := NewFromEnv(); !errors.Is(err, rag.ErrInvalidConfiguration) {
				t.Fatalf("NewFromEnv = %v, want ErrInvalidConfiguration", err)
			}
		})
	}
}

func Test_DefaultDimensions_PerBackend(t *testing.T) {
	clearEmbedderEnv(t)

	if got := DefaultDimensions("ollama"); got != 768 {
		t.Errorf("ollama dimensions = %d, want 768", got)
	}
	if got := DefaultDimensions("openai"); got != 1536 {
		t.Errorf("openai dimensions = %d, want 1536", got)
	}

	t.Setenv("EMBEDDING_DIMENSIONS", "3072")
	if got := DefaultDimensions("ollama"); got != 3072 {
		t.Errorf("override dimensions = %d, want 3072", got)
	}
}

func Test_Validate_FlagsBrokenConfigurations(t *testing.T) {
	log := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	t.Run("ollama passes", func(t *testing.T) {
		clearEmbedderEnv(t)
		if err := Validate(log); err != nil {
			t.Fatalf("Validate = %v, want nil", err)
		}
	})

	t.Run("openai without key fails", func(t *testing.T) {
		clearEmbedderEnv(t)
		t.Setenv("EMBEDDING_PROVIDER", "openai")
		if err := Validate(log); err == nil {
			t.Fatal("Validate = nil, want missing-key error")
		}
	})
}

func Test_Validate_WarnsOnChatModelAsEmbedder(t *testing.T) {
	clearEmbedderEnv(t)
	t.Setenv("EMBEDDING_MODEL", "llama3.2")

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	if err := Validate(log); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !strings.Contains(buf.String(), "looks like a chat model") {
		t.Fatalf("expected chat-model warning, log output:\n%s", buf.String())
	}
}
