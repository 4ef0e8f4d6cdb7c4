package files

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Telecare/internal/domain"
)

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	fail    error
}

func (b *memBlobs) Put(_ context.Context, key string, r io.Reader, maxBytes int64) (string, int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.puts++
	if b.fail != nil {
		return "", 0, b.fail
	}
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return "", 0, err
	}
	if int64(len(data)) > maxBytes {
		return "", 0, domain.ErrFileTooLarge
	}
	if b.objects == nil {
		b.objects = make(map[string][]byte)
	}
	b.objects[key] = data
	return "/blobs/" + key, int64(len(data)), nil
}

func (b *memBlobs) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	delete(b.objects, key)
	b.mu.Unlock()
	return nil
}

type memMeta struct {
	mu   sync.Mutex
	recs []domain.FileRecord
	fail error
}

func (m *memMeta) InsertFile(_ context.Context, rec domain.FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memMeta) FilesBySession(_ context.Context, sid domain.SessionID) ([]domain.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.FileRecord
	for i := len(m.recs) - 1; i >= 0; i-- {
		if m.recs[i].SessionID == sid {
			out = append(out, m.recs[i])
		}
	}
	return out, nil
}

type auditRec struct {
	mu    sync.Mutex
	types []domain.AuditType
}

func (a *auditRec) Log(_ domain.SessionID, _ domain.UserID, typ domain.AuditType, _ map[string]any) {
	a.mu.Lock()
	a.types = append(a.types, typ)
	a.mu.Unlock()
}

func TestUploadRejectsOversizeBeforeStoring(t *testing.T) {
	blobs := &memBlobs{}
	meta := &memMeta{}
	r := NewRegistry(blobs, meta, domain.MaxFileBytes, nil)

	_, err := r.Upload(context.Background(), "s1", "therapist", Upload{
		Name:      "scan.pdf",
		SizeBytes: 51 * 1024 * 1024,
		Body:      strings.NewReader("irrelevant"),
	})
	if !errors.Is(err, domain.ErrFileTooLarge) {
		t.Fatalf("err = %v, want file too large", err)
	}
	if blobs.puts != 0 {
		t.Errorf("blob store called %d times, want 0", blobs.puts)
	}
	if len(meta.recs) != 0 {
		t.Errorf("metadata inserted for rejected file")
	}
}

func TestUploadUnderstatedSizeIsCapped(t *testing.T) {
	blobs := &memBlobs{}
	r := NewRegistry(blobs, &memMeta{}, 8, nil)

	_, err := r.Upload(context.Background(), "s1", "client", Upload{
		Name:      "a.txt",
		MimeType:  "text/plain",
		SizeBytes: 4,
		Body:      strings.NewReader("way more than eight bytes"),
	})
	if !errors.Is(err, domain.ErrFileTooLarge) {
		t.Fatalf("err = %v, want file too large", err)
	}
}

func TestUploadStoresThenRecords(t *testing.T) {
	blobs := &memBlobs{}
	meta := &memMeta{}
	audit := &auditRec{}
	r := NewRegistry(blobs, meta, domain.MaxFileBytes, audit)

	rec, err := r.Upload(context.Background(), "s1", "client", Upload{
		Name:      "../../etc/worksheet.txt",
		MimeType:  "text/plain",
		SizeBytes: 5,
		Body:      strings.NewReader("hello"),
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if rec.Name != "worksheet.txt" {
		t.Errorf("name = %q, want worksheet.txt", rec.Name)
	}
	if rec.SizeBytes != 5 || rec.MimeType != "text/plain" {
		t.Errorf("record = %+v", rec)
	}
	want := "/blobs/s1/" + string(rec.ID) + "/worksheet.txt"
	if rec.URL != want {
		t.Errorf("url = %q, want %q", rec.URL, want)
	}
	if len(meta.recs) != 1 {
		t.Errorf("records = %d, want 1", len(meta.recs))
	}
	if len(audit.types) != 1 || audit.types[0] != domain.AuditFileUploaded {
		t.Errorf("audit = %v, want [file_uploaded]", audit.types)
	}
}

func TestUploadSniffsMissingType(t *testing.T) {
	blobs := &memBlobs{}
	r := NewRegistry(blobs, &memMeta{}, domain.MaxFileBytes, nil)
	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 32)...)

	rec, err := r.Upload(context.Background(), "s1", "client", Upload{
		Name:      "drawing",
		SizeBytes: int64(len(png)),
		Body:      bytes.NewReader(png),
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec.MimeType != "image/png" {
		t.Errorf("mime = %q, want image/png", rec.MimeType)
	}
	if stored := blobs.objects["s1/"+string(rec.ID)+"/drawing"]; !bytes.Equal(stored, png) {
		t.Errorf("stored body differs from upload")
	}
}

func TestUploadMetadataFailureOrphansObject(t *testing.T) {
	blobs := &memBlobs{}
	r := NewRegistry(blobs, &memMeta{fail: errors.New("constraint")}, domain.MaxFileBytes, nil)

	_, err := r.Upload(context.Background(), "s1", "client", Upload{
		Name: "a.txt", MimeType: "text/plain", SizeBytes: 1, Body: strings.NewReader("a"),
	})
	if !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("err = %v, want persistence failure", err)
	}
	if len(blobs.objects) != 1 {
		t.Errorf("objects = %d, want the orphan to remain", len(blobs.objects))
	}
}

func TestUploadBlobFailure(t *testing.T) {
	meta := &memMeta{}
	r := NewRegistry(&memBlobs{fail: errors.New("bucket gone")}, meta, domain.MaxFileBytes, nil)

	_, err := r.Upload(context.Background(), "s1", "client", Upload{
		Name: "a.txt", MimeType: "text/plain", SizeBytes: 1, Body: strings.NewReader("a"),
	})
	if !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("err = %v, want persistence failure", err)
	}
	if len(meta.recs) != 0 {
		t.Error("record inserted although the object was not stored")
	}
}

func TestListNewestFirst(t *testing.T) {
	meta := &memMeta{}
	r := NewRegistry(&memBlobs{}, meta, domain.MaxFileBytes, nil)
	for _, name := range []string{"one.txt", "two.txt"} {
		if _, err := r.Upload(context.Background(), "s1", "client", Upload{
			Name: name, MimeType: "text/plain", SizeBytes: 1, Body: strings.NewReader("x"),
		}); err != nil {
			t.Fatal(err)
		}
		time.Sleep(time.Millisecond)
	}
	recs, err := r.List(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[0].Name != "two.txt" {
		t.Errorf("list = %+v, want two.txt first", recs)
	}
}

func TestCleanName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"report.pdf", "report.pdf"},
		{"../../x.txt", "x.txt"},
		{`C:\Users\me\notes.txt`, "notes.txt"},
		{"", ""},
		{"..", ""},
	}
	for _, tt := range tests {
		if got := cleanName(tt.in); got != tt.want {
			t.Errorf("cleanName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
