package domain

import "time"

type AuditType string

const (
	AuditSessionStarted     AuditType = "session_started"
	AuditSessionEnded       AuditType = "session_ended"
	AuditStateChanged       AuditType = "connection_state_changed"
	AuditAudioToggled       AuditType = "audio_toggled"
	AuditVideoToggled       AuditType = "video_toggled"
	AuditCameraSwitched     AuditType = "camera_switched"
	AuditScreenShareStarted AuditType = "screen_share_started"
	AuditScreenShareStopped AuditType = "screen_share_stopped"
	AuditChatSent           AuditType = "chat_sent"
	AuditFileUploaded       AuditType = "file_uploaded"
	AuditParticipantJoined  AuditType = "participant_joined"
	AuditParticipantLeft    AuditType = "participant_left"
)

// AuditEvent is write-only from the core's point of view.
type AuditEvent struct {
	SessionID SessionID      `json:"sessionId"`
	UserID    UserID         `json:"userId"`
	Type      AuditType      `json:"type"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
