package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/dkeye/Telecare/internal/adapters/storage/blob"
	"github.com/dkeye/Telecare/internal/adapters/storage/sqlite"
	"github.com/dkeye/Telecare/internal/app"
	"github.com/dkeye/Telecare/internal/app/chat"
	"github.com/dkeye/Telecare/internal/app/files"
	"github.com/dkeye/Telecare/internal/app/signaling"
	"github.com/dkeye/Telecare/internal/config"
	"github.com/dkeye/Telecare/internal/domain"
	transporthttp "github.com/dkeye/Telecare/internal/transport/http"
	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
)

const testMaxUpload = 1024

type recordedAudit struct {
	mu     sync.Mutex
	events []domain.AuditType
}

func (r *recordedAudit) Log(_ domain.SessionID, _ domain.UserID, typ domain.AuditType, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, typ)
}

func (r *recordedAudit) has(typ domain.AuditType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == typ {
			return true
		}
	}
	return false
}

type testServer struct {
	router *gin.Engine
	audit  *recordedAudit
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	fs := afero.NewMemMapFs()
	blobs, err := blob.New(fs, "/blobs", "/blobs")
	if err != nil {
		t.Fatalf("blob store: %v", err)
	}

	rec := &recordedAudit{}
	cfg := config.Defaults()
	cfg.Mode = "test"

	r := SetupRouter(context.Background(), cfg, Deps{
		Hub:   signaling.NewHub(app.SimplePolicy{}, rec),
		Chat:  chat.NewStore(db.Chat()),
		Notes: db.Notes(),
		Files: files.NewRegistry(blobs, db.Files(), testMaxUpload, rec),
		Audit: rec,
		Blobs: blobs.Dir(),
		Health: []transporthttp.Check{{
			Name: "db",
			Run:  func(context.Context) error { return db.Ping() },
		}},
	})
	return &testServer{router: r, audit: rec}
}

func (s *testServer) do(t *testing.T, method, path, user, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-ID", user)
		req.Header.Set("X-User-Role", role)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) upload(t *testing.T, sid, user, name string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write(data)
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+sid+"/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-User-ID", user)
	req.Header.Set("X-User-Role", "client")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestIdentityRequired(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/api/sessions/s1/chat", "", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestIdentityRejectsUnknownRole(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/api/identity", "u1", "admin", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestChatPostAndHistory(t *testing.T) {
	s := newTestServer(t)

	for _, text := range []string{"hello", "how are you"} {
		w := s.do(t, http.MethodPost, "/api/sessions/s1/chat", "c1", "client", gin.H{"text": text})
		if w.Code != http.StatusCreated {
			t.Fatalf("post status = %d, body %s", w.Code, w.Body.String())
		}
	}
	w := s.do(t, http.MethodGet, "/api/sessions/s1/chat", "t1", "practitioner", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	got := decode[struct {
		Messages []domain.ChatMessage `json:"messages"`
	}](t, w)
	if len(got.Messages) != 2 || got.Messages[0].Text != "hello" || got.Messages[1].Text != "how are you" {
		t.Errorf("messages = %+v", got.Messages)
	}
	if got.Messages[0].SenderRole != domain.Client {
		t.Errorf("sender = %q, want client", got.Messages[0].SenderRole)
	}
	if !s.audit.has(domain.AuditChatSent) {
		t.Error("chat_sent not audited")
	}

	other := s.do(t, http.MethodGet, "/api/sessions/s2/chat", "t1", "practitioner", nil)
	if n := len(decode[struct {
		Messages []domain.ChatMessage `json:"messages"`
	}](t, other).Messages); n != 0 {
		t.Errorf("other session has %d messages, want 0", n)
	}
}

func TestChatRejectsBadPayload(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		name string
		body any
	}{
		{"empty text", gin.H{"text": ""}},
		{"bad id", gin.H{"id": "not-a-uuid", "text": "hi"}},
		{"too long", gin.H{"text": string(bytes.Repeat([]byte("a"), domain.MaxChatTextLen+1))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/api/sessions/s1/chat", "c1", "client", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestChatResendIsIdempotent(t *testing.T) {
	s := newTestServer(t)
	body := gin.H{"id": "0b6f8f4e-2d0a-4f59-9a57-5c1c3c1f6c11", "text": "once"}
	for i := 0; i < 2; i++ {
		if w := s.do(t, http.MethodPost, "/api/sessions/s1/chat", "c1", "client", body); w.Code != http.StatusCreated {
			t.Fatalf("post %d status = %d", i, w.Code)
		}
	}
	w := s.do(t, http.MethodGet, "/api/sessions/s1/chat", "c1", "client", nil)
	if n := len(decode[struct {
		Messages []domain.ChatMessage `json:"messages"`
	}](t, w).Messages); n != 1 {
		t.Errorf("messages = %d, want 1", n)
	}
}

func TestNotesPractitionerOnly(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodPut, "/api/sessions/s1/notes", "c1", "client", gin.H{"clientId": "c1", "text": "x"})
	if w.Code != http.StatusForbidden {
		t.Errorf("client put status = %d, want 403", w.Code)
	}
	w = s.do(t, http.MethodGet, "/api/sessions/s1/notes", "c1", "client", nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("client get status = %d, want 403", w.Code)
	}
}

func TestNotesRoundTripAndOwnership(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/sessions/s1/notes", "t1", "practitioner", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing notes status = %d, want 404", w.Code)
	}

	w = s.do(t, http.MethodPut, "/api/sessions/s1/notes", "t1", "practitioner", gin.H{"clientId": "c1", "text": "progress"})
	if w.Code != http.StatusOK {
		t.Fatalf("put status = %d, body %s", w.Code, w.Body.String())
	}
	w = s.do(t, http.MethodGet, "/api/sessions/s1/notes", "t1", "practitioner", nil)
	doc := decode[domain.NotesDocument](t, w)
	if doc.Text != "progress" || doc.TherapistID != "t1" {
		t.Errorf("doc = %+v", doc)
	}

	if w := s.do(t, http.MethodGet, "/api/sessions/s1/notes", "t2", "practitioner", nil); w.Code != http.StatusForbidden {
		t.Errorf("foreign get status = %d, want 403", w.Code)
	}
	if w := s.do(t, http.MethodPut, "/api/sessions/s1/notes", "t2", "practitioner", gin.H{"clientId": "c1", "text": "mine"}); w.Code != http.StatusForbidden {
		t.Errorf("foreign put status = %d, want 403", w.Code)
	}
}

func TestFileUploadAndList(t *testing.T) {
	s := newTestServer(t)

	w := s.upload(t, "s1", "c1", "notes.txt", []byte("plain text body"))
	if w.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body %s", w.Code, w.Body.String())
	}
	rec := decode[domain.FileRecord](t, w)
	if rec.Name != "notes.txt" || rec.UploaderID != "c1" || rec.SizeBytes != 15 {
		t.Errorf("record = %+v", rec)
	}
	if !s.audit.has(domain.AuditFileUploaded) {
		t.Error("file_uploaded not audited")
	}

	w = s.do(t, http.MethodGet, "/api/sessions/s1/files", "t1", "practitioner", nil)
	list := decode[struct {
		Files []domain.FileRecord `json:"files"`
	}](t, w)
	if len(list.Files) != 1 || list.Files[0].ID != rec.ID {
		t.Errorf("files = %+v", list.Files)
	}
}

func TestFileUploadTooLarge(t *testing.T) {
	s := newTestServer(t)
	w := s.upload(t, "s1", "c1", "big.bin", bytes.Repeat([]byte{1}, testMaxUpload+1))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", w.Code)
	}
	list := decode[struct {
		Files []domain.FileRecord `json:"files"`
	}](t, s.do(t, http.MethodGet, "/api/sessions/s1/files", "c1", "client", nil))
	if len(list.Files) != 0 {
		t.Errorf("files = %+v, want none", list.Files)
	}
}

func TestAuditEndpoint(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodPost, "/api/sessions/s1/audit", "c1", "client", gin.H{"type": "audio_toggled", "metadata": gin.H{"enabled": false}})
	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", w.Code)
	}
	if !s.audit.has(domain.AuditAudioToggled) {
		t.Error("audio_toggled not recorded")
	}
	w = s.do(t, http.MethodPost, "/api/sessions/s1/audit", "c1", "client", gin.H{"type": "teleport"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown type status = %d, want 400", w.Code)
	}
}

func TestHealthAndTopics(t *testing.T) {
	s := newTestServer(t)
	if w := s.do(t, http.MethodGet, "/healthz", "", "", nil); w.Code != http.StatusOK {
		t.Errorf("healthz status = %d", w.Code)
	}
	w := s.do(t, http.MethodGet, "/api/topics", "", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("topics status = %d", w.Code)
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("upload: %w", domain.ErrFileTooLarge), http.StatusRequestEntityTooLarge},
		{domain.ErrInvalidMessage, http.StatusBadRequest},
		{domain.ErrSessionIDEmpty, http.StatusBadRequest},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrForbidden, http.StatusForbidden},
		{domain.Persistence(errors.New("disk full")), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got, _ := statusOf(tt.err); got != tt.want {
			t.Errorf("statusOf(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestBadPayloadNamesFields(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodPost, "/api/sessions/s1/chat", "c1", "client", gin.H{})
	got := decode[struct {
		Error  string   `json:"error"`
		Fields []string `json:"fields"`
	}](t, w)
	if got.Error != "bad_payload" || len(got.Fields) != 1 || got.Fields[0] != "Text:required" {
		t.Errorf("body = %+v", got)
	}
}
