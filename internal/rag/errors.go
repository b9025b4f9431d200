package rag

import "errors"

// Sentinel errors for the retrieval pipeline. Every layer wraps these with
// fmt.Errorf("...: %w", ...) so callers can classify failures with errors.Is
// regardless of how deep they originated.
var (
	// ErrDocumentUnreadable indicates the source document is missing,
	// unreadable, unparseable, or yielded no extractable text.
	ErrDocumentUnreadable = errors.New("document unreadable")

	// ErrInvalidConfiguration indicates a constraint violation in the
	// caller-supplied configuration (chunk sizing, paths, dimensions).
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrEmbeddingFailure indicates an embedding call failed during index
	// construction. The whole build is aborted; partial indexes are never
	// persisted.
	ErrEmbeddingFailure = errors.New("embedding failure")

	// ErrCorruptIndex indicates a persisted index artifact could not be
	// decoded or is internally inconsistent. Corruption is never auto-repaired;
	// the caller must explicitly rebuild.
	ErrCorruptIndex = errors.New("corrupt index")

	// ErrProviderUnavailable indicates a network, auth, or rate-limit failure
	// talking to an external model or embedding provider.
	ErrProviderUnavailable = errors.New("provider unavailable")
)
