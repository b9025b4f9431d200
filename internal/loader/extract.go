package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/54b3r/polai-go/internal/rag"
)

// ExtractText pulls the full plain text out of the document at path without
// chunking it. Callers that want chunks should use Loader.LoadAndSplit; this
// entry point exists for previews and diagnostics.
func ExtractText(ctx context.Context, runner Runner, path string) (string, error) {
	return extractText(ctx, runner, path)
}

// extractText pulls the full plain text out of the document at path. PDF
// extraction shells out to pdftotext through the runner; plain-text formats
// are read directly.
func extractText(ctx context.Context, runner Runner, path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return extractPDF(ctx, runner, path)
	case ".txt", ".md", ".markdown":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("loader: %w: %w", err, rag.ErrDocumentUnreadable)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("loader: unsupported document type %q: %w",
			filepath.Ext(path), rag.ErrDocumentUnreadable)
	}
}

// extractPDF converts a PDF with `pdftotext -layout -enc UTF-8 <path> -`.
// The trailing dash sends the text to stdout so nothing is written next to
// the source document.
func extractPDF(ctx context.Context, runner Runner, path string) (string, error) {
	if runner == nil {
		return "", fmt.Errorf("loader: %s is required to read PDF documents but was not found on PATH (install poppler-utils via apt, or poppler via brew): %w",
			pdfToTextBinary, rag.ErrDocumentUnreadable)
	}
	res, err := runner.Run(ctx, "-layout", "-enc", "UTF-8", path, "-")
	if err != nil {
		return "", fmt.Errorf("loader: pdftotext: %w: %w", err, rag.ErrDocumentUnreadable)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("loader: pdftotext exited %d (%s): %w",
			res.ExitCode, firstLine(res.Stderr), rag.ErrDocumentUnreadable)
	}
	return res.Stdout, nil
}

// firstLine trims stderr down to its first non-empty line for error messages.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			return t
		}
	}
	return "no stderr output"
}
