package core

import (
	"github.com/dkeye/Telecare/internal/domain"
)

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	ID   domain.UserID      `json:"id"`
	Role domain.Participant `json:"role"`
}

// TopicService is the core-facing API of a session topic.
// It owns the membership set but never touches transport resources.
type TopicService interface {
	Topic() *domain.Topic
	MemberCount() int
	MembersSnapshot() []MemberDTO

	AddMember(cid ConnID, ms MemberSession)
	RemoveMember(cid ConnID)
	Broadcast(from ConnID, data Frame) PublishResult
}

type TopicInfo struct {
	Name        domain.TopicName `json:"name"`
	MemberCount int              `json:"member_count"`
}

type TopicManager interface {
	GetOrCreate(name domain.TopicName) TopicService
	Get(name domain.TopicName) (TopicService, bool)
	List() []TopicInfo
	StopTopic(name domain.TopicName)
}
