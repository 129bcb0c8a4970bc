package domain

import (
	"errors"
	"fmt"
	"time"
)

// Message is a persisted chat message. The coordinator only writes one
// kind: missed-call notices for busy recipients of group/room calls.
type Message struct {
	ID        MessageID
	Target    Target
	SenderID  UserID
	Content   string
	Status    string
	CreatedAt time.Time
}

func NewMessage(sender UserID, target Target, content string) (*Message, error) {
	if content == "" {
		return nil, errors.New("message content cannot be empty")
	}
	return &Message{
		ID:        NewMessageID(),
		Target:    target,
		SenderID:  sender,
		Content:   content,
		Status:    "sent",
		CreatedAt: time.Now(),
	}, nil
}

// NewMissedCallNotice builds the message delivered to a busy recipient
// who could not be rung.
func NewMissedCallNotice(initiator Identity, target Target) *Message {
	msg, _ := NewMessage(initiator.ID, target, fmt.Sprintf("Missed call from %s", initiator.Username))
	return msg
}
