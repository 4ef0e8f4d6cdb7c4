package domain

import "strings"

type TopicName string

const topicPrefix = "session-"

// SessionTopic returns the pub/sub topic of a session.
func SessionTopic(sid SessionID) TopicName {
	return TopicName(topicPrefix + string(sid))
}

// SessionOf extracts the session id from a topic name.
func (t TopicName) SessionOf() (SessionID, bool) {
	s, ok := strings.CutPrefix(string(t), topicPrefix)
	if !ok || s == "" {
		return "", false
	}
	return SessionID(s), true
}

type Topic struct {
	Name    TopicName
	Session SessionID
}
