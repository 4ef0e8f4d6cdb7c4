package core

import (
	"testing"

	"github.com/dkeye/Telecare/internal/domain"
)

type fakeConn struct {
	frames []Frame
	full   bool
}

func (c *fakeConn) TrySend(f Frame) error {
	if c.full {
		return ErrBackpressure
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {}

func TestBroadcastSkipsSenderAndReportsDropped(t *testing.T) {
	topic := NewTopicService(&domain.Topic{Name: domain.SessionTopic("s1"), Session: "s1"})

	a, b, slow := &fakeConn{}, &fakeConn{}, &fakeConn{full: true}
	topic.AddMember("a", NewMemberSession(domain.NewMember("u-a", domain.Practitioner), a))
	topic.AddMember("b", NewMemberSession(domain.NewMember("u-b", domain.Client), b))
	topic.AddMember("c", NewMemberSession(domain.NewMember("u-c", domain.Client), slow))

	res := topic.Broadcast("a", Frame(`{"type":"offer"}`))

	if res.SendTo != 1 {
		t.Errorf("sent_to = %d, want 1", res.SendTo)
	}
	if len(res.Dropped) != 1 || res.Dropped[0].Signal() != slow {
		t.Errorf("dropped = %v, want the slow member", res.Dropped)
	}
	if len(a.frames) != 0 {
		t.Errorf("sender received its own frame")
	}
	if len(b.frames) != 1 {
		t.Errorf("b frames = %d, want 1", len(b.frames))
	}
}

func TestRemoveMemberKeepsNewerConnectionOfSameUser(t *testing.T) {
	topic := NewTopicService(&domain.Topic{Name: domain.SessionTopic("s1")})
	topic.AddMember("old", NewMemberSession(domain.NewMember("u-a", domain.Client), &fakeConn{}))
	topic.AddMember("new", NewMemberSession(domain.NewMember("u-a", domain.Client), &fakeConn{}))

	topic.RemoveMember("old")

	if got := topic.MemberCount(); got != 1 {
		t.Fatalf("member count = %d, want 1", got)
	}
	snap := topic.MembersSnapshot()
	if snap[0].ID != "u-a" {
		t.Errorf("snapshot = %v", snap)
	}
}
