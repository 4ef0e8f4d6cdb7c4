package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Telecare/internal/app"
	"github.com/dkeye/Telecare/internal/app/media"
	"github.com/dkeye/Telecare/internal/app/media/mediatest"
	"github.com/dkeye/Telecare/internal/app/orch"
	"github.com/dkeye/Telecare/internal/app/signaling"
	"github.com/dkeye/Telecare/internal/app/stream/streamtest"
	"github.com/dkeye/Telecare/internal/config"
	"github.com/dkeye/Telecare/internal/core"
	"github.com/dkeye/Telecare/internal/domain"
	"github.com/pion/webrtc/v4"
)

type fakeTransport struct {
	n int

	mu       sync.Mutex
	ctx      context.Context
	closed   bool
	offers   int
	accepted []string
	applied  []string
	cands    []webrtc.ICECandidateInit
	tracks   []core.LocalTrack
	sending  map[webrtc.RTPCodecType]bool
	remote   []*streamtest.Track
	onCand   func(webrtc.ICECandidateInit)
	onTrack  func(context.Context, core.RemoteTrack)
	onState  func(webrtc.PeerConnectionState)
}

func (t *fakeTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	t.ctx = ctx
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for _, r := range t.remote {
		r.Close()
	}
}

func (t *fakeTransport) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) CreateOffer() (*webrtc.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.offers++
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d-%d", t.n, t.offers)}, nil
}

func (t *fakeTransport) AcceptOffer(o webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.accepted = append(t.accepted, o.SDP)
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer-%d", t.n)}, nil
}

func (t *fakeTransport) ApplyAnswer(a webrtc.SessionDescription) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.applied = append(t.applied, a.SDP)
	return nil
}

func (t *fakeTransport) AddICECandidate(c webrtc.ICECandidateInit) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cands = append(t.cands, c)
	return nil
}

func (t *fakeTransport) SetLocalTracks(tracks []core.LocalTrack) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracks = tracks
	return nil
}

func (t *fakeTransport) SetSending(kind webrtc.RTPCodecType, enabled bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sending[kind] = enabled
	return nil
}

func (t *fakeTransport) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	t.mu.Lock()
	t.onCand = fn
	t.mu.Unlock()
}

func (t *fakeTransport) OnTrack(fn func(context.Context, core.RemoteTrack)) {
	t.mu.Lock()
	t.onTrack = fn
	t.mu.Unlock()
}

func (t *fakeTransport) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	t.mu.Lock()
	t.onState = fn
	t.mu.Unlock()
}

func (t *fakeTransport) started() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ctx != nil && t.onState != nil && t.onTrack != nil
}

func (t *fakeTransport) stateCallback() func(webrtc.PeerConnectionState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.onState
}

// connect reports the transport as up and delivers one remote frame.
func (t *fakeTransport) connect() {
	track := streamtest.NewTrack(webrtc.RTPCodecTypeVideo)
	t.mu.Lock()
	t.remote = append(t.remote, track)
	ctx, onState, onTrack := t.ctx, t.onState, t.onTrack
	t.mu.Unlock()

	onState(webrtc.PeerConnectionStateConnected)
	onTrack(ctx, track)
	track.Push(1)
}

func (t *fakeTransport) drop() {
	t.stateCallback()(webrtc.PeerConnectionStateFailed)
}

func (t *fakeTransport) sendingOf(kind webrtc.RTPCodecType) (bool, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.sending[kind]
	return v, ok
}

func (t *fakeTransport) appliedAnswers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.applied...)
}

func (t *fakeTransport) localTracks() []core.LocalTrack {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]core.LocalTrack(nil), t.tracks...)
}

type fakeFactory struct {
	mu    sync.Mutex
	built []*fakeTransport
}

func (f *fakeFactory) New() (core.PeerTransport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTransport{n: len(f.built) + 1, sending: make(map[webrtc.RTPCodecType]bool)}
	f.built = append(f.built, t)
	return t, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.built)
}

func (f *fakeFactory) last() *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.built) == 0 {
		return nil
	}
	return f.built[len(f.built)-1]
}

type auditRec struct {
	mu  sync.Mutex
	evs []domain.AuditType
}

func (a *auditRec) Log(_ domain.SessionID, _ domain.UserID, typ domain.AuditType, _ map[string]any) {
	a.mu.Lock()
	a.evs = append(a.evs, typ)
	a.mu.Unlock()
}

func (a *auditRec) count(typ domain.AuditType) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, e := range a.evs {
		if e == typ {
			n++
		}
	}
	return n
}

type recorder struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

func record(m *Manager) *recorder {
	r := &recorder{}
	ch, _ := m.Subscribe()
	go func() {
		for ev := range ch {
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
		}
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
	}()
	return r
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// kinds returns the target of every StateChanged in order.
func (r *recorder) kinds() []StateKind {
	var out []StateKind
	for _, ev := range r.snapshot() {
		if sc, ok := ev.(StateChanged); ok {
			out = append(out, sc.To.Kind())
		}
	}
	return out
}

func (r *recorder) waitState(t *testing.T, kind StateKind) ConnectionState {
	t.Helper()
	var found ConnectionState
	eventually(t, func() bool {
		for _, ev := range r.snapshot() {
			if sc, ok := ev.(StateChanged); ok && sc.To.Kind() == kind {
				found = sc.To
				return true
			}
		}
		return false
	})
	return found
}

func (r *recorder) count(match func(Event) bool) int {
	n := 0
	for _, ev := range r.snapshot() {
		if match(ev) {
			n++
		}
	}
	return n
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// peer is the remote participant driven by hand through the hub.
type peer struct {
	id     domain.UserID
	ch     *signaling.LocalChannel
	frames <-chan core.Frame
}

func newPeer(t *testing.T, hub *orch.Orchestrator, sid domain.SessionID, id domain.UserID, role domain.Participant) *peer {
	t.Helper()
	ch := signaling.Join(hub, domain.SessionTopic(sid), domain.NewMember(id, role))
	frames, cancel := ch.Subscribe()
	t.Cleanup(func() {
		cancel()
		_ = ch.Close()
	})
	return &peer{id: id, ch: ch, frames: frames}
}

// next returns the next message of typ, skipping everything else.
func (p *peer) next(t *testing.T, typ signaling.Type) signaling.Message {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case f := <-p.frames:
			msg, err := signaling.Decode(f)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if msg.Type == typ {
				return msg
			}
		case <-timeout:
			t.Fatalf("no %s received", typ)
		}
	}
}

// offerFrom returns the next offer created by the n-th transport.
func (p *peer) offerFrom(t *testing.T, n int) signaling.Message {
	t.Helper()
	prefix := fmt.Sprintf("offer-%d-", n)
	for {
		msg := p.next(t, signaling.TypeOffer)
		if strings.HasPrefix(msg.SDP, prefix) {
			return msg
		}
	}
}

// drain returns every message already queued.
func (p *peer) drain(t *testing.T) []signaling.Message {
	t.Helper()
	var out []signaling.Message
	for {
		select {
		case f := <-p.frames:
			msg, err := signaling.Decode(f)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func (p *peer) send(t *testing.T, msg signaling.Message) {
	t.Helper()
	msg.From = p.id
	f, err := msg.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if err := p.ch.Publish(context.Background(), f); err != nil {
		t.Fatalf("peer publish: %v", err)
	}
}

// transport waits for the n-th transport to be built and started.
func (h *harness) transport(t *testing.T, n int) *fakeTransport {
	t.Helper()
	var ft *fakeTransport
	eventually(t, func() bool {
		h.factory.mu.Lock()
		if len(h.factory.built) >= n {
			ft = h.factory.built[n-1]
		}
		h.factory.mu.Unlock()
		return ft != nil && ft.started()
	})
	return ft
}

type harness struct {
	m       *Manager
	rec     *recorder
	factory *fakeFactory
	backend *mediatest.Backend
	devices *media.Controller
	audit   *auditRec
	hub     *orch.Orchestrator
	sig     *signaling.LocalChannel
}

func testConfig() config.Session {
	return config.Session{
		NegotiationTimeout:  300 * time.Millisecond,
		RetryBudget:         2,
		RetryBackoff:        10 * time.Millisecond,
		RetryBackoffMax:     40 * time.Millisecond,
		OfferResendInterval: 50 * time.Millisecond,
	}
}

func identity(role domain.Role, self domain.Participant) domain.SessionIdentity {
	return domain.SessionIdentity{
		SessionID:   "s1",
		TherapistID: "therapist",
		ClientID:    "client",
		Role:        role,
		Self:        self,
	}
}

// newHarness builds a manager on a fresh hub. The manager is not started.
func newHarness(t *testing.T, id domain.SessionIdentity, cfg config.Session) *harness {
	t.Helper()
	h := &harness{
		factory: &fakeFactory{},
		backend: &mediatest.Backend{},
		audit:   &auditRec{},
		hub:     signaling.NewHub(app.TolerantPolicy{}, nil),
	}
	h.devices = media.NewController(h.backend)
	h.sig = signaling.Join(h.hub, id.Topic(), domain.NewMember(id.LocalUserID(), id.Self))
	t.Cleanup(func() { _ = h.sig.Close() })

	m, err := New(context.Background(), Deps{
		Identity:     id,
		Signaling:    h.sig,
		Devices:      h.devices,
		NewTransport: h.factory.New,
		Audit:        h.audit,
		Config:       cfg,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(m.EndSession)
	h.m = m
	h.rec = record(m)
	return h
}
