package domain

import (
	"github.com/google/uuid"
)

type UserID uuid.UUID
type TargetID uuid.UUID
type MessageID uuid.UUID

func NewUserID() UserID {
	return UserID(uuid.New())
}

func NewTargetID() TargetID {
	return TargetID(uuid.New())
}

func NewMessageID() MessageID {
	return MessageID(uuid.New())
}

func ParseUserID(s string) (UserID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return UserID{}, err
	}
	return UserID(id), nil
}

func ParseTargetID(s string) (TargetID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return TargetID{}, err
	}
	return TargetID(id), nil
}

func (id UserID) String() string {
	return uuid.UUID(id).String()
}

func (id TargetID) String() string {
	return uuid.UUID(id).String()
}

func (id MessageID) String() string {
	return uuid.UUID(id).String()
}

// Identity is the verified user attached to a connection or request
// by the token verifier.
type Identity struct {
	ID       UserID
	Username string
}
