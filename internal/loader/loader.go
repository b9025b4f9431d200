// Package loader reads a policy document from disk and splits it into
// overlapping chunks sized for embedding. PDFs are converted through the
// poppler pdftotext utility behind an injectable Runner; plain-text and
// markdown files are read directly.
package loader

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"strings"

	"github.com/54b3r/polai-go/internal/rag"
)

// Config holds the chunking parameters for a Loader.
type Config struct {
	// MaxChunkSize is the maximum number of characters per chunk.
	MaxChunkSize int

	// Overlap is the number of characters consecutive chunks share.
	Overlap int
}

// Loader extracts document text and produces overlapping chunks in document
// order. It implements rag.DocumentLoader.
type Loader struct {
	maxChunkSize int
	overlap      int
	runner       Runner
}

// New constructs a Loader. The chunking constraint is strict: MaxChunkSize
// must be positive and 0 <= Overlap < MaxChunkSize. Violations return
// ErrInvalidConfiguration rather than being clamped, so a bad config is
// caught at startup instead of silently producing different chunks.
//
// runner may be nil when pdftotext is not installed; plain-text documents
// still load, and PDF extraction fails with ErrDocumentUnreadable.
func New(cfg *Config, runner Runner) (*Loader, error) {
	if cfg == nil {
		return nil, fmt.Errorf("loader: config must not be nil: %w", rag.ErrInvalidConfiguration)
	}
	if cfg.MaxChunkSize <= 0 {
		return nil, fmt.Errorf("loader: max chunk size %d must be positive: %w",
			cfg.MaxChunkSize, rag.ErrInvalidConfiguration)
	}
	if cfg.Overlap < 0 {
		return nil, fmt.Errorf("loader: overlap %d must not be negative: %w",
			cfg.Overlap, rag.ErrInvalidConfiguration)
	}
	if cfg.Overlap >= cfg.MaxChunkSize {
		return nil, fmt.Errorf("loader: overlap %d must be smaller than max chunk size %d: %w",
			cfg.Overlap, cfg.MaxChunkSize, rag.ErrInvalidConfiguration)
	}
	return &Loader{
		maxChunkSize: cfg.MaxChunkSize,
		overlap:      cfg.Overlap,
		runner:       runner,
	}, nil
}

// LoadAndSplit extracts the text of the document at path and splits it into
// overlapping chunks. Chunk IDs are deterministic for a given path and
// position, so repeated runs over the same document produce identical chunks.
func (l *Loader) LoadAndSplit(ctx context.Context, path string) ([]rag.Chunk, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("loader: %w: %w", err, rag.ErrDocumentUnreadable)
	}

	text, err := extractText(ctx, l.runner, path)
	if err != nil {
		return nil, err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("loader: %s contains no extractable text: %w",
			path, rag.ErrDocumentUnreadable)
	}

	pieces := splitText(text, l.maxChunkSize, l.overlap)
	chunks := make([]rag.Chunk, 0, len(pieces))
	for i, piece := range pieces {
		chunks = append(chunks, rag.Chunk{
			ID:     chunkID(path, i),
			Seq:    i,
			Text:   piece,
			Source: path,
		})
	}
	return chunks, nil
}

// splitText partitions text into chunks of at most size runes, each chunk
// after the first starting overlap runes before the previous chunk's end.
// Rune indexing keeps multi-byte characters intact at chunk boundaries.
func splitText(text string, size, overlap int) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var chunks []string
	for start := 0; start < len(runes); start += size - overlap {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// chunkID derives a deterministic chunk identifier from the document path
// and the chunk's position within it.
func chunkID(path string, index int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s#%d", path, index)))
	return fmt.Sprintf("%x", h[:16])
}
