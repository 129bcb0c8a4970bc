package domain

// Event is one outbound frame to a client.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data,omitempty"`
}

// Outbound event names.
const (
	EvUserOnline  = "user_online"
	EvUserOffline = "user_offline"

	EvUserTyping             = "user_typing"
	EvUserStoppedTyping      = "user_stopped_typing"
	EvGroupUserTyping        = "group_user_typing"
	EvGroupUserStoppedTyping = "group_user_stopped_typing"
	EvRoomUserTyping         = "room_user_typing"
	EvRoomUserStoppedTyping  = "room_user_stopped_typing"

	EvMessageReadReceipt = "message_read_receipt"
	EvNewGroupMessage    = "new_group_message"
	EvNewRoomMessage     = "new_room_message"

	EvCallIncoming                = "call:incoming"
	EvCallAccepted                = "call:accepted"
	EvCallRejected                = "call:rejected"
	EvCallTimeout                 = "call:timeout"
	EvCallUserBusy                = "call:user_busy"
	EvCallEnded                   = "call:ended"
	EvCallParticipantJoined       = "call:participant_joined"
	EvCallParticipantDisconnected = "call:participant_disconnected"
	EvCallError                   = "call:error"
)

type PresencePayload struct {
	UserID string `json:"user_id"`
}

type TypingPayload struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id,omitempty"`
	GroupID        string `json:"group_id,omitempty"`
	RoomID         string `json:"room_id,omitempty"`
}

type ReadReceiptPayload struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
}

type MessagePayload struct {
	GroupID  string     `json:"group_id,omitempty"`
	RoomID   string     `json:"room_id,omitempty"`
	SenderID string     `json:"sender_id"`
	Content  string     `json:"content"`
	Sender   SenderInfo `json:"sender"`
}

type SenderInfo struct {
	Username string `json:"username"`
}

type InitiatorInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type CallIncomingPayload struct {
	RoomName  string        `json:"room_name"`
	Type      string        `json:"type"`
	TargetID  string        `json:"target_id"`
	Initiator InitiatorInfo `json:"initiator"`
	State     string        `json:"state"`
}

type CallUserBusyPayload struct {
	RoomName string `json:"room_name"`
	UserID   string `json:"user_id"`
}

type CallTimeoutPayload struct {
	RoomName string `json:"room_name"`
	Reason   string `json:"reason"`
}

type CallParticipantPayload struct {
	RoomName string `json:"room_name,omitempty"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

type CallEndedPayload struct {
	RoomName string `json:"room_name"`
	EndedBy  string `json:"ended_by"`
}

type CallErrorPayload struct {
	RoomName string `json:"room_name,omitempty"`
	Error    string `json:"error"`
}
