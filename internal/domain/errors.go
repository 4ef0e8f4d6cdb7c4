package domain

import "errors"

// Error taxonomy shared by every component. Match with errors.Is.
var (
	ErrPermissionDenied   = errors.New("permission denied")
	ErrDeviceUnavailable  = errors.New("device unavailable")
	ErrNegotiationTimeout = errors.New("negotiation timeout")
	ErrConnectionDropped  = errors.New("connection dropped")
	ErrFileTooLarge       = errors.New("file too large")
	ErrPersistence        = errors.New("persistence failure")
	ErrAuditWrite         = errors.New("audit write failure")

	ErrSessionEnded   = errors.New("session ended")
	ErrNotOwner       = errors.New("not the owner")
	ErrInvalidMessage = errors.New("invalid message")
	ErrNotFound       = errors.New("not found")
	ErrForbidden      = errors.New("forbidden")
)

// Persistence tags err as a persistence failure while keeping the cause.
func Persistence(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(ErrPersistence, err)
}
