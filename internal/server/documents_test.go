package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/polai-go/internal/rag"
	"github.com/54b3r/polai-go/internal/store"
)

// newTestServer builds a bare *Server for handler tests that do not need the
// full New() wiring.
func newTestServer() *Server {
	return &Server{
		cfg:     &Config{},
		log:     slog.Default(),
		metrics: newServerMetrics(prometheus.NewRegistry()),
	}
}

// mustWriteFile writes content to path, creating parent directories, and
// fails the test immediately on error.
func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mustWriteFile mkdir(%q): %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("mustWriteFile(%q): %v", path, err)
	}
}

// fakeArtifactStore implements rag.ArtifactStore for index-presence tests.
type fakeArtifactStore struct {
	exists    bool
	existsErr error
	location  string
}

func (f *fakeArtifactStore) Exists(context.Context) (bool, error)    { return f.exists, f.existsErr }
func (f *fakeArtifactStore) Load(context.Context) (*rag.Index, error) { return nil, nil }
func (f *fakeArtifactStore) Persist(context.Context, *rag.Index) error { return nil }
func (f *fakeArtifactStore) Location() string                         { return f.location }

// fakeHistory implements store.ConversationStore for session handler tests.
type fakeHistory struct {
	msgs       []store.Message
	err        error
	gotSession string
	gotLimit   int
}

func (f *fakeHistory) Append(context.Context, string, store.Role, string) error { return nil }

func (f *fakeHistory) Recent(_ context.Context, sessionID string, n int) ([]store.Message, error) {
	f.gotSession = sessionID
	f.gotLimit = n
	return f.msgs, f.err
}

func (f *fakeHistory) Close() error { return nil }

// ---------------------------------------------------------------------------
// Pure function tests
// ---------------------------------------------------------------------------

func TestResolveAbsDir(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "empty string", input: "", wantErr: true},
		{name: "relative path", input: "relative/path", wantErr: true},
		{name: "absolute path", input: "/tmp/some-dir", wantErr: false},
		// filepath.Clean strips the trailing slash, so this must still pass.
		{name: "absolute with trailing slash", input: "/tmp/some-dir/", wantErr: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := resolveAbsDir(tc.input)
			if (err != nil) != tc.wantErr {
				t.Errorf("resolveAbsDir(%q) error = %v, wantErr %v", tc.input, err, tc.wantErr)
			}
		})
	}
}

func TestConfineToDir(t *testing.T) {
	t.Parallel()

	const root = "/data/policies"

	tests := []struct {
		name    string
		target  string
		wantErr bool
	}{
		{name: "direct child", target: "/data/policies/handbook.pdf", wantErr: false},
		{name: "nested child", target: "/data/policies/archive/2024.pdf", wantErr: false},
		{name: "root itself", target: "/data/policies", wantErr: false},
		{name: "dotdot escape", target: "/data/policies/../../etc/passwd", wantErr: true},
		// "/data/policies-old" shares the string prefix but is a sibling.
		{name: "sibling with shared prefix", target: "/data/policies-old/doc.pdf", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := confineToDir(root, tc.target)
			if (err != nil) != tc.wantErr {
				t.Errorf("confineToDir(%q, %q) error = %v, wantErr %v", root, tc.target, err, tc.wantErr)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// GET /api/documents
// ---------------------------------------------------------------------------

func TestHandleDocuments_ListsSupportedTypes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "handbook.pdf"), "%PDF-1.4 fake")
	mustWriteFile(t, filepath.Join(dir, "notes.txt"), "plain notes")
	mustWriteFile(t, filepath.Join(dir, "archive", "2024.md"), "# archived")
	mustWriteFile(t, filepath.Join(dir, "payroll.xlsx"), "not a document we read")

	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/documents?dir="+url.QueryEscape(dir), nil)
	w := httptest.NewRecorder()

	s.handleDocuments(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}

	var resp documentsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Dir != dir {
		t.Errorf("Dir: expected %q, got %q", dir, resp.Dir)
	}

	want := []string{"archive/2024.md", "handbook.pdf", "notes.txt"}
	if len(resp.Documents) != len(want) {
		t.Fatalf("expected %d documents, got %d: %+v", len(want), len(resp.Documents), resp.Documents)
	}
	for i, entry := range resp.Documents {
		if entry.Path != want[i] {
			t.Errorf("document[%d]: expected %q, got %q", i, want[i], entry.Path)
		}
		if entry.SizeBytes == 0 {
			t.Errorf("document[%d] %q: expected non-zero size", i, entry.Path)
		}
	}

	// No artifact store configured, so the index must report absent.
	if resp.Indexed {
		t.Error("Indexed: expected false with no index store configured")
	}
}

func TestHandleDocuments_DefaultsToConfiguredDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "handbook.pdf"), "%PDF-1.4 fake")

	s := newTestServer()
	s.cfg.DocumentDir = dir

	req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	w := httptest.NewRecorder()

	s.handleDocuments(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}
	var resp documentsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Dir != dir {
		t.Errorf("Dir: expected configured %q, got %q", dir, resp.Dir)
	}
}

func TestHandleDocuments_MissingDir(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet,
		"/api/documents?dir="+url.QueryEscape(filepath.Join(t.TempDir(), "gone")), nil)
	w := httptest.NewRecorder()

	s.handleDocuments(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestHandleDocuments_RelativeDir(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/documents?dir=relative/path", nil)
	w := httptest.NewRecorder()

	s.handleDocuments(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHandleDocuments_ReportsIndexPresence(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "handbook.pdf"), "%PDF-1.4 fake")

	s := newTestServer()
	s.index = &fakeArtifactStore{exists: true, location: "/var/lib/polai/policy_index.bin"}

	req := httptest.NewRequest(http.MethodGet, "/api/documents?dir="+url.QueryEscape(dir), nil)
	w := httptest.NewRecorder()

	s.handleDocuments(w, req)

	var resp documentsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Indexed {
		t.Error("Indexed: expected true")
	}
	if resp.IndexLocation != "/var/lib/polai/policy_index.bin" {
		t.Errorf("IndexLocation: got %q", resp.IndexLocation)
	}
}

func TestHandleDocuments_IndexCheckFailureReportsNotIndexed(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	s := newTestServer()
	s.index = &fakeArtifactStore{existsErr: errors.New("bolt file locked")}

	req := httptest.NewRequest(http.MethodGet, "/api/documents?dir="+url.QueryEscape(dir), nil)
	w := httptest.NewRecorder()

	s.handleDocuments(w, req)

	// The listing still succeeds; only the index flag degrades.
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp documentsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Indexed {
		t.Error("Indexed: expected false when the presence check errors")
	}
}

// ---------------------------------------------------------------------------
// GET /api/document
// ---------------------------------------------------------------------------

func TestHandleDocumentPreview_ReturnsExtractedText(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	const content = "Vacation policy: full-time employees accrue 25 days per year."
	mustWriteFile(t, filepath.Join(dir, "notes.txt"), content)

	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet,
		"/api/document?path=notes.txt&dir="+url.QueryEscape(dir), nil)
	w := httptest.NewRecorder()

	s.handleDocumentPreview(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}
	var resp documentResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Content != content {
		t.Errorf("Content: expected %q, got %q", content, resp.Content)
	}
	if resp.Truncated {
		t.Error("Truncated: expected false for a short document")
	}
	if resp.Path != filepath.Join(dir, "notes.txt") {
		t.Errorf("Path: got %q", resp.Path)
	}
}

func TestHandleDocumentPreview_ConfinesPathToDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet,
		"/api/document?path="+url.QueryEscape("../../etc/passwd")+"&dir="+url.QueryEscape(dir), nil)
	w := httptest.NewRecorder()

	s.handleDocumentPreview(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for a traversal attempt, got %d", w.Code)
	}
}

func TestHandleDocumentPreview_MissingDocument(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet,
		"/api/document?path=gone.txt&dir="+url.QueryEscape(dir), nil)
	w := httptest.NewRecorder()

	s.handleDocumentPreview(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestHandleDocumentPreview_PDFWithoutRunner(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "handbook.pdf"), "%PDF-1.4 fake")

	s := newTestServer() // runner is nil: pdftotext unavailable
	req := httptest.NewRequest(http.MethodGet,
		"/api/document?path=handbook.pdf&dir="+url.QueryEscape(dir), nil)
	w := httptest.NewRecorder()

	s.handleDocumentPreview(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d — body: %s", w.Code, w.Body.String())
	}
}

func TestHandleDocumentPreview_TruncatesLongDocuments(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	long := strings.Repeat("a", previewByteLimit+100)
	mustWriteFile(t, filepath.Join(dir, "long.txt"), long)

	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet,
		"/api/document?path=long.txt&dir="+url.QueryEscape(dir), nil)
	w := httptest.NewRecorder()

	s.handleDocumentPreview(w, req)

	var resp documentResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Truncated {
		t.Error("Truncated: expected true")
	}
	if len(resp.Content) != previewByteLimit {
		t.Errorf("Content length: expected %d, got %d", previewByteLimit, len(resp.Content))
	}
}

// ---------------------------------------------------------------------------
// GET /api/sessions/{id}
// ---------------------------------------------------------------------------

func TestHandleSession_ReturnsTurnsOldestFirst(t *testing.T) {
	t.Parallel()

	asked := time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)
	hist := &fakeHistory{msgs: []store.Message{
		{Role: store.RoleUser, Content: "how many sick days?", CreatedAt: asked},
		{Role: store.RoleAssistant, Content: "Ten paid sick days per year.", CreatedAt: asked.Add(3 * time.Second)},
	}}

	s := newTestServer()
	s.history = hist

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/sess-42", nil)
	req.SetPathValue("id", "sess-42")
	w := httptest.NewRecorder()

	s.handleSession(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}

	var resp sessionResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.SessionID != "sess-42" {
		t.Errorf("SessionID: got %q", resp.SessionID)
	}
	if hist.gotSession != "sess-42" {
		t.Errorf("store queried with session %q", hist.gotSession)
	}
	if len(resp.Turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(resp.Turns))
	}
	if resp.Turns[0].Role != "user" || resp.Turns[1].Role != "assistant" {
		t.Errorf("turn roles out of order: %+v", resp.Turns)
	}
	if resp.Turns[1].Content != "Ten paid sick days per year." {
		t.Errorf("turn content: got %q", resp.Turns[1].Content)
	}
}

func TestHandleSession_UnknownSessionIsEmpty(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	s.history = &fakeHistory{}

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/never-seen", nil)
	req.SetPathValue("id", "never-seen")
	w := httptest.NewRecorder()

	s.handleSession(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp sessionResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Turns) != 0 {
		t.Errorf("expected empty turns, got %d", len(resp.Turns))
	}
}

func TestHandleSession_HistoryDisabled(t *testing.T) {
	t.Parallel()

	s := newTestServer() // history is nil
	req := httptest.NewRequest(http.MethodGet, "/api/sessions/sess-1", nil)
	req.SetPathValue("id", "sess-1")
	w := httptest.NewRecorder()

	s.handleSession(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 when history is disabled, got %d", w.Code)
	}
}

func TestHandleSession_StoreError(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	s.history = &fakeHistory{err: errors.New("database is locked")}

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/sess-1", nil)
	req.SetPathValue("id", "sess-1")
	w := httptest.NewRecorder()

	s.handleSession(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

func TestHandleSession_MissingID(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	s.history = &fakeHistory{}

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/", nil)
	w := httptest.NewRecorder()

	s.handleSession(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}
