// Package notes snapshots the practitioner's free-text session notes on a
// fixed interval.
package notes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/Telecare/internal/core"
	"github.com/dkeye/Telecare/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Autosaver holds the note buffer of one session. Every tick it upserts
// the buffer if it is non-empty and changed since the last successful
// save. A failed save is retried on the next tick. Stop does not flush:
// edits made after the last tick are lost.
type Autosaver struct {
	repo     core.NotesRepository
	id       domain.SessionIdentity
	interval time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	text    string
	saved   string
	dirty   bool
	savedAt time.Time

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewAutosaver(repo core.NotesRepository, id domain.SessionIdentity, interval time.Duration) (*Autosaver, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if id.Self != domain.Practitioner {
		return nil, fmt.Errorf("notes are private to the practitioner: %w", domain.ErrForbidden)
	}
	if interval <= 0 {
		return nil, errors.New("autosave interval must be positive")
	}
	return &Autosaver{
		repo:     repo,
		id:       id,
		interval: interval,
		log: log.With().Str("module", "app.notes").
			Str("session", string(id.SessionID)).Logger(),
	}, nil
}

// Load restores the stored note so autosave continues from it. A session
// without notes loads as empty.
func (a *Autosaver) Load(ctx context.Context) (string, error) {
	doc, err := a.repo.GetNotes(ctx, a.id.SessionID)
	if errors.Is(err, domain.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load notes: %w", err)
	}
	if doc.TherapistID != a.id.TherapistID {
		return "", fmt.Errorf("load notes: %w", domain.ErrForbidden)
	}
	a.mu.Lock()
	a.text, a.saved, a.dirty = doc.Text, doc.Text, false
	a.savedAt = doc.UpdatedAt
	a.mu.Unlock()
	return doc.Text, nil
}

// Update replaces the buffer. It never touches storage.
func (a *Autosaver) Update(text string) {
	a.mu.Lock()
	a.text = text
	a.dirty = text != a.saved
	a.mu.Unlock()
}

func (a *Autosaver) Text() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.text
}

// SavedAt is the time of the last successful save.
func (a *Autosaver) SavedAt() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.savedAt
}

// Start runs the autosave ticker until Stop or ctx is done. Calling
// Start twice is a no-op.
func (a *Autosaver) Start(ctx context.Context) {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.cancel != nil {
		return
	}
	ctx, a.cancel = context.WithCancel(ctx)
	a.done = make(chan struct{})
	go a.run(ctx, a.done)
}

func (a *Autosaver) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(a.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := a.tick(ctx); err != nil {
				a.log.Warn().Err(err).Msg("notes autosave failed, retrying next tick")
			}
		}
	}
}

// tick saves the buffer once if there is something new to save.
func (a *Autosaver) tick(ctx context.Context) error {
	a.mu.Lock()
	text, dirty := a.text, a.dirty
	a.mu.Unlock()
	if !dirty || strings.TrimSpace(text) == "" {
		return nil
	}

	now := time.Now().UTC()
	doc := domain.NotesDocument{
		SessionID:   a.id.SessionID,
		TherapistID: a.id.TherapistID,
		ClientID:    a.id.ClientID,
		Text:        text,
		UpdatedAt:   now,
	}
	if err := a.repo.UpsertNotes(ctx, doc); err != nil {
		if !errors.Is(err, domain.ErrPersistence) && !errors.Is(err, domain.ErrForbidden) {
			err = domain.Persistence(err)
		}
		return fmt.Errorf("upsert notes: %w", err)
	}

	a.mu.Lock()
	a.saved = text
	a.savedAt = now
	a.dirty = a.text != text
	a.mu.Unlock()
	a.log.Debug().Int("len", len(text)).Msg("notes saved")
	return nil
}

// Stop halts the ticker and waits for an in-flight save. Unsaved edits
// are discarded.
func (a *Autosaver) Stop() {
	a.runMu.Lock()
	cancel, done := a.cancel, a.done
	a.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
