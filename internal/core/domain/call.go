package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrAlreadyBusy means the initiator is already bound to a call.
	ErrAlreadyBusy = errors.New("initiator already in a call")
	// ErrUserBusy means the sole 1:1 target is already bound to a call.
	ErrUserBusy = errors.New("user already in a call")
	// ErrCallExists means a live call already occupies this call key.
	ErrCallExists = errors.New("call already exists for this key")
	// ErrStaleCall means the call key is timed out or already evicted.
	ErrStaleCall = errors.New("call has already ended")
	// ErrAuthentication covers bad, missing or expired tokens.
	ErrAuthentication = errors.New("authentication error")
)

type CallType string

const (
	CallConversation CallType = "conversation"
	CallGroup        CallType = "group"
	CallRoom         CallType = "room"
)

func (t CallType) Valid() bool {
	switch t {
	case CallConversation, CallGroup, CallRoom:
		return true
	}
	return false
}

func (t CallType) TargetKind() TargetKind {
	return TargetKind(t)
}

// CallKey identifies one logical call session, derived deterministically
// from the call type and target. The derivation doubles as the media
// relay room name, so both sides agree on it.
type CallKey string

func NewCallKey(t CallType, target TargetID) CallKey {
	return CallKey(string(t) + "_" + target.String())
}

func ParseCallKey(s string) (CallType, TargetID, error) {
	typ, id, ok := strings.Cut(s, "_")
	if !ok || !CallType(typ).Valid() {
		return "", TargetID{}, fmt.Errorf("invalid call key %q", s)
	}
	target, err := ParseTargetID(id)
	if err != nil {
		return "", TargetID{}, fmt.Errorf("invalid call key %q: %w", s, err)
	}
	return CallType(typ), target, nil
}

func (k CallKey) String() string {
	return string(k)
}

type CallState string

const (
	CallRinging  CallState = "ringing"
	CallActive   CallState = "active"
	CallEnded    CallState = "ended"
	CallRejected CallState = "rejected"
	CallTimedOut CallState = "timed_out"
)

// Call is one in-flight call session. Participants is the full original
// set, initiator included; Pending holds the invitees still ringing and
// Accepted those who joined.
type Call struct {
	Key          CallKey
	Type         CallType
	TargetID     TargetID
	InitiatorID  UserID
	Participants []UserID
	Pending      map[UserID]bool
	Accepted     map[UserID]bool
	State        CallState
	CreatedAt    time.Time
}

// Target is the broadcast channel shared by the call's members.
func (c *Call) Target() Target {
	return Target{Kind: c.Type.TargetKind(), ID: c.TargetID}
}
