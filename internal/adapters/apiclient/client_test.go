package apiclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	router "github.com/dkeye/Telecare/internal/adapters/http"
	"github.com/dkeye/Telecare/internal/adapters/storage/sqlite"
	"github.com/dkeye/Telecare/internal/app"
	"github.com/dkeye/Telecare/internal/app/chat"
	"github.com/dkeye/Telecare/internal/app/signaling"
	"github.com/dkeye/Telecare/internal/config"
	"github.com/dkeye/Telecare/internal/domain"
	"github.com/gin-gonic/gin"
)

type directAudit struct{ sink *sqlite.AuditSink }

func (d directAudit) Log(sid domain.SessionID, uid domain.UserID, typ domain.AuditType, md map[string]any) {
	_ = d.sink.WriteAudit(context.Background(), domain.AuditEvent{
		SessionID: sid, UserID: uid, Type: typ, Metadata: md, Timestamp: time.Now(),
	})
}

func newServer(t *testing.T) (*httptest.Server, *sqlite.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	cfg := config.Defaults()
	cfg.Mode = "test"
	audit := directAudit{db.Audit()}
	r := router.SetupRouter(context.Background(), cfg, router.Deps{
		Hub:   signaling.NewHub(app.SimplePolicy{}, audit),
		Chat:  chat.NewStore(db.Chat()),
		Notes: db.Notes(),
		Audit: audit,
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, db
}

func TestNotesThroughServer(t *testing.T) {
	srv, _ := newServer(t)
	ctx := context.Background()

	c, err := New(srv.URL, "t1", domain.Practitioner)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetNotes(ctx, "s1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing notes err = %v, want ErrNotFound", err)
	}
	doc := domain.NotesDocument{SessionID: "s1", TherapistID: "t1", ClientID: "c1", Text: "first"}
	if err := c.UpsertNotes(ctx, doc); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := c.GetNotes(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Text != "first" || got.TherapistID != "t1" {
		t.Errorf("got = %+v", got)
	}

	other, _ := New(srv.URL, "t2", domain.Practitioner)
	if err := other.UpsertNotes(ctx, domain.NotesDocument{SessionID: "s1", ClientID: "c1", Text: "x"}); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("foreign upsert err = %v, want ErrForbidden", err)
	}
}

func TestWriteAuditThroughServer(t *testing.T) {
	srv, db := newServer(t)
	c, _ := New(srv.URL, "c1", domain.Client)

	ev := domain.AuditEvent{SessionID: "s1", UserID: "c1", Type: domain.AuditVideoToggled, Metadata: map[string]any{"enabled": true}}
	if err := c.WriteAudit(context.Background(), ev); err != nil {
		t.Fatalf("write audit: %v", err)
	}
	n, err := db.Audit().CountAudit(context.Background(), "s1", domain.AuditVideoToggled)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("audit rows = %d, want 1", n)
	}

	ev.Type = "bogus"
	if err := c.WriteAudit(context.Background(), ev); !errors.Is(err, domain.ErrInvalidMessage) {
		t.Errorf("bogus type err = %v, want ErrInvalidMessage", err)
	}
}

func TestUnreachableServerIsPersistenceFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c, _ := New(srv.URL, "t1", domain.Practitioner)
	if _, err := c.GetNotes(context.Background(), "s1"); !errors.Is(err, domain.ErrPersistence) {
		t.Errorf("err = %v, want ErrPersistence", err)
	}
}

func TestSignalURL(t *testing.T) {
	tests := []struct{ base, want string }{
		{"http://localhost:8080", "ws://localhost:8080/api/ws/signal"},
		{"https://telecare.example/", "wss://telecare.example/api/ws/signal"},
	}
	for _, tt := range tests {
		c, err := New(tt.base, "u", domain.Client)
		if err != nil {
			t.Fatal(err)
		}
		if got := c.SignalURL(); got != tt.want {
			t.Errorf("SignalURL(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
	if _, err := New("ftp://x", "u", domain.Client); err == nil {
		t.Error("expected scheme error")
	}
}
