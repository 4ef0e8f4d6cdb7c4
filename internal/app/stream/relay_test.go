package stream_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Telecare/internal/app/stream"
	"github.com/dkeye/Telecare/internal/app/stream/streamtest"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

type recordingSink struct {
	mu   sync.Mutex
	seqs []uint16
	err  error
}

func (s *recordingSink) WriteRTP(p *rtp.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.seqs = append(s.seqs, p.SequenceNumber)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seqs)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFirstFrameFiresOnce(t *testing.T) {
	m := stream.NewManager()
	track := streamtest.NewTrack(webrtc.RTPCodecTypeVideo)
	defer track.Close()

	var mu sync.Mutex
	calls := 0
	relay := m.StartRelay(context.Background(), track, func() {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	select {
	case <-relay.FirstFrame():
		t.Fatal("first frame before any packet")
	default:
	}

	for i := uint16(1); i <= 3; i++ {
		track.Push(i)
	}
	<-relay.FirstFrame()
	waitFor(t, func() bool { return relay.Packets() == 3 })

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("onFirst calls = %d, want 1", calls)
	}
}

func TestSinkStates(t *testing.T) {
	m := stream.NewManager()
	track := streamtest.NewTrack(webrtc.RTPCodecTypeAudio)
	defer track.Close()
	relay := m.StartRelay(context.Background(), track, nil)

	good := &recordingSink{}
	muted := &recordingSink{}
	broken := &recordingSink{err: errors.New("renderer gone")}
	if !m.AddSink(track.ID(), "good", good) {
		t.Fatal("AddSink on running relay returned false")
	}
	m.AddSink(track.ID(), "muted", muted)
	m.AddSink(track.ID(), "broken", broken)
	m.SetSinkMuted(track.ID(), "muted", true)

	track.Push(1)
	track.Push(2)
	waitFor(t, func() bool { return good.count() == 2 })

	if muted.count() != 0 {
		t.Errorf("muted sink got %d packets, want 0", muted.count())
	}
	waitFor(t, func() bool { return relay.Outputs() == 2 })

	m.SetSinkMuted(track.ID(), "muted", false)
	track.Push(3)
	waitFor(t, func() bool { return muted.count() == 1 })

	m.RemoveSink(track.ID(), "good")
	track.Push(4)
	waitFor(t, func() bool { return muted.count() == 2 })
	if good.count() != 3 {
		t.Errorf("removed sink got %d packets, want 3", good.count())
	}
}

func TestAddSinkUnknownTrack(t *testing.T) {
	m := stream.NewManager()
	if m.AddSink("nope", "s", &recordingSink{}) {
		t.Error("AddSink on unknown track returned true")
	}
	if m.SetSinkMuted("nope", "s", true) {
		t.Error("SetSinkMuted on unknown track returned true")
	}
}

func TestRelayStopsWhenSourceCloses(t *testing.T) {
	m := stream.NewManager()
	track := streamtest.NewTrack(webrtc.RTPCodecTypeVideo)
	relay := m.StartRelay(context.Background(), track, nil)

	track.Close()
	select {
	case <-relay.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop after source closed")
	}
}

func TestStopAll(t *testing.T) {
	m := stream.NewManager()
	a := streamtest.NewTrack(webrtc.RTPCodecTypeAudio)
	b := streamtest.NewTrack(webrtc.RTPCodecTypeVideo)
	defer a.Close()
	defer b.Close()
	m.StartRelay(context.Background(), a, nil)
	m.StartRelay(context.Background(), b, nil)

	if got := len(m.Tracks()); got != 2 {
		t.Fatalf("tracks = %d, want 2", got)
	}
	m.StopAll()
	if m.HasRelay(a.ID()) || m.HasRelay(b.ID()) {
		t.Error("relays still registered after StopAll")
	}
}
