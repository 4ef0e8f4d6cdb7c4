package app

import "github.com/dkeye/Telecare/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

type Policy interface {
	OnBackPressure(topic core.TopicService, member core.MemberSession) BackpressureAction
}

// SimplePolicy kicks members whose send buffer is full. Signaling is
// best-effort, so a kicked member reconnects and renegotiates.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(topic core.TopicService, member core.MemberSession) BackpressureAction {
	return KickMember
}

// TolerantPolicy drops the frame and keeps the member.
type TolerantPolicy struct{}

func (TolerantPolicy) OnBackPressure(topic core.TopicService, member core.MemberSession) BackpressureAction {
	return DropFrame
}
