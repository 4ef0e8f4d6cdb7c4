package domain

// Member represents a connection's participation meta for a topic.
// No transport or lifecycle logic here.
type Member struct {
	User UserID
	Role Participant
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(user UserID, role Participant) *Member {
	return &Member{User: user, Role: role}
}
