// Package server — documents.go contains the document discovery and preview
// handlers plus the session history handler.
package server

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/54b3r/polai-go/internal/loader"
	"github.com/54b3r/polai-go/internal/logging"
)

const (
	// documentGlob matches the document types the loader can extract.
	documentGlob = "**/*.{pdf,txt,md,markdown}"

	// previewByteLimit caps GET /api/document responses so a large PDF cannot
	// produce a multi-megabyte JSON body.
	previewByteLimit = 64 * 1024

	// sessionTurnLimit caps how many turns GET /api/sessions/{id} returns.
	sessionTurnLimit = 200
)

// resolveAbsDir cleans and validates that the given path is absolute.
// Returns the cleaned path or an error suitable for returning to the client.
func resolveAbsDir(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("dir is required")
	}
	dir := filepath.Clean(raw)
	if !filepath.IsAbs(dir) {
		return "", fmt.Errorf("dir must be an absolute path")
	}
	return dir, nil
}

// writeJSONError writes a JSON-formatted error response with the given status code.
func writeJSONError(w http.ResponseWriter, msg string, status int) {
	http.Error(w, `{"error":"`+msg+`"}`, status)
}

// confineToDir validates that target resolves to a path inside root after
// cleaning both. This prevents path traversal attacks (e.g. "../../etc/passwd").
// Returns the cleaned absolute target path or an error.
func confineToDir(root, target string) (string, error) {
	root = filepath.Clean(root)
	target = filepath.Clean(target)
	if !strings.HasPrefix(target+string(filepath.Separator), root+string(filepath.Separator)) {
		return "", fmt.Errorf("path is outside the document directory")
	}
	return target, nil
}

// handleDocuments handles GET /api/documents?dir=<path>.
// It lists candidate policy documents under dir (or the configured document
// directory) and reports whether a persisted index artifact exists, so a
// client can tell which documents could be asked about right now.
func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	raw := r.URL.Query().Get("dir")
	if raw == "" {
		raw = s.cfg.DocumentDir
	}
	dir, err := resolveAbsDir(raw)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		writeJSONError(w, "directory not found", http.StatusNotFound)
		return
	}

	fsys := os.DirFS(dir)
	matches, err := doublestar.Glob(fsys, documentGlob)
	if err != nil {
		log.Error("document scan failed", slog.String("dir", dir), slog.Any("error", err))
		writeJSONError(w, "document scan failed", http.StatusInternalServerError)
		return
	}
	sort.Strings(matches)

	resp := documentsResponse{Dir: dir, Documents: []documentEntry{}}
	for _, m := range matches {
		entry := documentEntry{Path: m}
		if info, err := fs.Stat(fsys, m); err == nil {
			entry.SizeBytes = info.Size()
		}
		resp.Documents = append(resp.Documents, entry)
	}

	if s.index != nil {
		exists, err := s.index.Exists(r.Context())
		if err != nil {
			log.Warn("index presence check failed", slog.Any("error", err))
		}
		resp.Indexed = err == nil && exists
		resp.IndexLocation = s.index.Location()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error("documents encode error", slog.Any("error", err))
	}
}

// handleDocumentPreview handles GET /api/document?path=<rel-or-abs>&dir=<root>.
// It returns the extracted plain text of one document. The path must resolve
// within dir (or the configured document directory) to prevent path traversal.
func (s *Server) handleDocumentPreview(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	rawPath := r.URL.Query().Get("path")
	if rawPath == "" {
		writeJSONError(w, "path is required", http.StatusBadRequest)
		return
	}
	rawDir := r.URL.Query().Get("dir")
	if rawDir == "" {
		rawDir = s.cfg.DocumentDir
	}
	dir, err := resolveAbsDir(rawDir)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if !filepath.IsAbs(rawPath) {
		rawPath = filepath.Join(dir, rawPath)
	}
	path, err := confineToDir(dir, rawPath)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusForbidden)
		return
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		writeJSONError(w, "document not found", http.StatusNotFound)
		return
	}
	if s.runner == nil && strings.EqualFold(filepath.Ext(path), ".pdf") {
		writeJSONError(w, "pdf preview unavailable: pdftotext is not installed", http.StatusServiceUnavailable)
		return
	}

	text, err := loader.ExtractText(r.Context(), s.runner, path)
	if err != nil {
		log.Warn("document preview failed", slog.String("path", path), slog.Any("error", err))
		writeJSONError(w, "failed to extract document text", http.StatusInternalServerError)
		return
	}

	resp := documentResponse{Path: path, Content: text}
	if len(text) > previewByteLimit {
		cut := previewByteLimit
		// Back up to a rune boundary so truncation never splits a UTF-8 sequence.
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		resp.Content = text[:cut]
		resp.Truncated = true
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error("document preview encode error", slog.Any("error", err))
	}
}

// handleSession handles GET /api/sessions/{id}.
// It returns the persisted conversation turns for one session, oldest first.
// An unknown session ID yields an empty turn list, not a 404, since session
// IDs are client-generated and a session exists once its first turn persists.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	id := r.PathValue("id")
	if strings.TrimSpace(id) == "" {
		writeJSONError(w, "session id is required", http.StatusBadRequest)
		return
	}
	if s.history == nil {
		writeJSONError(w, "conversation history is disabled", http.StatusNotFound)
		return
	}

	msgs, err := s.history.Recent(r.Context(), id, sessionTurnLimit)
	if err != nil {
		log.Error("session history read failed",
			slog.String("session_id", id),
			slog.Any("error", err),
		)
		writeJSONError(w, "failed to read session history", http.StatusInternalServerError)
		return
	}

	resp := sessionResponse{SessionID: id, Turns: []sessionTurn{}}
	for _, m := range msgs {
		resp.Turns = append(resp.Turns, sessionTurn{
			Role:      string(m.Role),
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error("session encode error", slog.Any("error", err))
	}
}
