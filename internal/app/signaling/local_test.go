package signaling

import (
	"context"
	"testing"
	"time"

	"github.com/dkeye/Telecare/internal/app"
	"github.com/dkeye/Telecare/internal/core"
	"github.com/dkeye/Telecare/internal/domain"
)

func recv(t *testing.T, ch <-chan core.Frame) core.Frame {
	t.Helper()
	select {
	case f, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return f
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return nil
}

func TestLocalChannelDeliversToOtherMembersOnly(t *testing.T) {
	hub := NewHub(app.TolerantPolicy{}, nil)
	topic := domain.SessionTopic("s1")

	a := Join(hub, topic, domain.NewMember("therapist", domain.Practitioner))
	defer a.Close()
	b := Join(hub, topic, domain.NewMember("client", domain.Client))
	defer b.Close()

	aCh, aCancel := a.Subscribe()
	defer aCancel()
	bCh, bCancel := b.Subscribe()
	defer bCancel()

	msg := Message{Type: TypeReaction, From: "therapist", Emoji: "👍"}
	frame, err := msg.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Publish(context.Background(), frame); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got, err := Decode(recv(t, bCh))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Emoji != "👍" || got.From != "therapist" {
		t.Errorf("got = %+v", got)
	}

	select {
	case f := <-aCh:
		t.Fatalf("publisher received its own frame: %s", f)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLocalChannelIsolatesTopics(t *testing.T) {
	hub := NewHub(app.TolerantPolicy{}, nil)
	a := Join(hub, domain.SessionTopic("s1"), domain.NewMember("u1", domain.Practitioner))
	defer a.Close()
	other := Join(hub, domain.SessionTopic("s2"), domain.NewMember("u2", domain.Client))
	defer other.Close()

	ch, cancel := other.Subscribe()
	defer cancel()

	frame, _ := Message{Type: TypeHangup, From: "u1"}.Encode()
	if err := a.Publish(context.Background(), frame); err != nil {
		t.Fatal(err)
	}
	select {
	case f := <-ch:
		t.Fatalf("frame leaked across topics: %s", f)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishAfterCloseFails(t *testing.T) {
	hub := NewHub(app.TolerantPolicy{}, nil)
	a := Join(hub, domain.SessionTopic("s1"), domain.NewMember("u1", domain.Practitioner))
	ch, cancel := a.Subscribe()
	defer cancel()

	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	frame, _ := Message{Type: TypeHangup, From: "u1"}.Encode()
	if err := a.Publish(context.Background(), frame); err == nil {
		t.Fatal("expected error publishing on a closed channel")
	}

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber channel not closed after Close")
	}
}

func TestDecodeRejectsIncompleteMessages(t *testing.T) {
	tests := []string{`{}`, `{"type":"offer"}`, `not json`}
	for _, in := range tests {
		if _, err := Decode([]byte(in)); err == nil {
			t.Errorf("Decode(%q) succeeded, want error", in)
		}
	}
}
