package requests

import (
	"fmt"
	"time"
)

// Status is the lifecycle state stored on a SessionRequest row. The set is
// closed: rejection and cancellation remove the row instead of recording a
// terminal status, so only pending and accepted are ever persisted.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
)

// ParseStatus validates a wire-format status value.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusAccepted:
		return Status(s), nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrValidation, s)
}

// Role identifies which side of a request an actor is on.
type Role string

const (
	RoleRequester Role = "requester"
	RoleProvider  Role = "provider"
)

// ParseRole validates a wire-format role value.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleRequester, RoleProvider:
		return Role(s), nil
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrValidation, s)
}

// SessionRequest is one negotiation between a requester and a provider.
// Exactly two identities may observe or mutate it: RequesterID and
// ProviderID. All fields except Status and MeetingRoomID are immutable
// after creation.
type SessionRequest struct {
	ID            string    `json:"id"`
	RequesterID   string    `json:"requester_id"`
	RequesterName string    `json:"requester_name"`
	ProviderID    string    `json:"provider_id"`
	ProviderName  string    `json:"provider_name"`
	Topic         string    `json:"topic"`
	Status        Status    `json:"status"`
	MeetingRoomID string    `json:"meeting_room_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Party reports whether actorID is one of the two identities on the row.
func (r *SessionRequest) Party(actorID string) bool {
	return actorID != "" && (actorID == r.RequesterID || actorID == r.ProviderID)
}

// Clone returns a deep copy. Rows cross goroutine boundaries on the change
// feed, so every layer hands out copies rather than shared pointers.
func (r *SessionRequest) Clone() *SessionRequest {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}
