package domain

// TargetKind discriminates the logical broadcast channels clients can
// subscribe to.
type TargetKind string

const (
	KindUser         TargetKind = "user"
	KindConversation TargetKind = "conversation"
	KindGroup        TargetKind = "group"
	KindRoom         TargetKind = "room"
)

// Target names one logical broadcast channel. Using a value type instead
// of free-form strings keeps the fan-out interface statically checked.
type Target struct {
	Kind TargetKind
	ID   TargetID
}

func UserTarget(id UserID) Target {
	return Target{Kind: KindUser, ID: TargetID(id)}
}

func ConversationTarget(id TargetID) Target {
	return Target{Kind: KindConversation, ID: id}
}

func GroupTarget(id TargetID) Target {
	return Target{Kind: KindGroup, ID: id}
}

func RoomTarget(id TargetID) Target {
	return Target{Kind: KindRoom, ID: id}
}

// String is the wire name of the channel, e.g. "conversation:<uuid>".
func (t Target) String() string {
	return string(t.Kind) + ":" + t.ID.String()
}
