package service

import (
	"context"
	"sync"
	"time"

	"github.com/avask/ringline/internal/core/domain"
	"github.com/avask/ringline/internal/core/port"
	"github.com/rs/zerolog/log"
)

const (
	DefaultRingTimeout = 30 * time.Second
	DefaultGraceWindow = 5 * time.Second

	noticeWriteTimeout = 5 * time.Second
)

type CallConfig struct {
	// RingTimeout bounds how long a ringing call waits for an answer.
	RingTimeout time.Duration
	// GraceWindow keeps the timed-out marker around so racing joins get
	// an explicit rejection instead of silently succeeding.
	GraceWindow time.Duration
}

func (c CallConfig) withDefaults() CallConfig {
	if c.RingTimeout <= 0 {
		c.RingTimeout = DefaultRingTimeout
	}
	if c.GraceWindow <= 0 {
		c.GraceWindow = DefaultGraceWindow
	}
	return c
}

// CallService is the call signaling state machine. It tracks in-flight
// call invitations, enforces at-most-one-call-per-user, runs ringing
// timeouts and reconciles accept/reject/leave/end races.
//
// All shared state sits behind one mutex. Timers are disarmed by
// removing the handle from the timer table; a fire that no longer finds
// its handle there lost the race and returns without acting. That
// removal is the single atomic check-and-clear the correctness of the
// timeout/accept race rests on.
type CallService struct {
	gateway  port.Gateway
	messages port.MessageRepository
	cfg      CallConfig

	mu     sync.Mutex
	calls  map[domain.CallKey]*domain.Call
	busy   map[domain.UserID]domain.CallKey
	timers map[domain.CallKey]*time.Timer
}

func NewCallService(gateway port.Gateway, messages port.MessageRepository, cfg CallConfig) *CallService {
	return &CallService{
		gateway:  gateway,
		messages: messages,
		cfg:      cfg.withDefaults(),
		calls:    make(map[domain.CallKey]*domain.Call),
		busy:     make(map[domain.UserID]domain.CallKey),
		timers:   make(map[domain.CallKey]*time.Timer),
	}
}

// Initiate starts a call on (callType, targetID) and rings the available
// participants. Busy recipients of group/room calls get an asynchronous
// missed-call notice instead; a busy sole 1:1 target aborts the call
// with call:user_busy to the initiator and no state created.
func (s *CallService) Initiate(ctx context.Context, initiator domain.Identity, callType domain.CallType, targetID domain.TargetID, participants []domain.UserID) error {
	key := domain.NewCallKey(callType, targetID)
	l := log.With().Str("room", key.String()).Str("user_id", initiator.ID.String()).Logger()

	s.mu.Lock()
	if _, ok := s.busy[initiator.ID]; ok {
		s.mu.Unlock()
		return domain.ErrAlreadyBusy
	}
	if c, ok := s.calls[key]; ok && c.State != domain.CallTimedOut {
		s.mu.Unlock()
		return domain.ErrCallExists
	}

	var available, busyUsers []domain.UserID
	for _, p := range participants {
		if p == initiator.ID {
			continue
		}
		if _, ok := s.busy[p]; ok {
			busyUsers = append(busyUsers, p)
		} else {
			available = append(available, p)
		}
	}

	if callType == domain.CallConversation && len(busyUsers) > 0 {
		s.mu.Unlock()
		s.gateway.Publish(domain.UserTarget(initiator.ID), domain.Event{
			Name: domain.EvCallUserBusy,
			Data: domain.CallUserBusyPayload{RoomName: key.String(), UserID: busyUsers[0].String()},
		})
		l.Info().Msg("Call target busy")
		return nil
	}
	if len(available) == 0 {
		s.mu.Unlock()
		s.notifyMissedCall(initiator, callType, targetID, busyUsers)
		l.Info().Msg("No available participants")
		return nil
	}

	call := &domain.Call{
		Key:          key,
		Type:         callType,
		TargetID:     targetID,
		InitiatorID:  initiator.ID,
		Participants: withInitiator(participants, initiator.ID),
		Pending:      toSet(available),
		Accepted:     make(map[domain.UserID]bool),
		State:        domain.CallRinging,
		CreatedAt:    time.Now(),
	}
	s.calls[key] = call
	s.busy[initiator.ID] = key
	s.timers[key] = time.AfterFunc(s.cfg.RingTimeout, func() {
		s.ringTimeout(key)
	})
	s.mu.Unlock()

	s.notifyMissedCall(initiator, callType, targetID, busyUsers)

	incoming := domain.Event{
		Name: domain.EvCallIncoming,
		Data: domain.CallIncomingPayload{
			RoomName: key.String(),
			Type:     string(callType),
			TargetID: targetID.String(),
			Initiator: domain.InitiatorInfo{
				ID:       initiator.ID.String(),
				Username: initiator.Username,
			},
			State: string(domain.CallRinging),
		},
	}
	for _, p := range available {
		s.gateway.Publish(domain.UserTarget(p), incoming)
	}

	l.Info().Int("ringing", len(available)).Int("busy", len(busyUsers)).Msg("Call initiated")
	return nil
}

// Accept joins the accepting user to the call, cancels the ring timer
// and notifies the call's channel plus the initiator. Accepting a
// timed-out or evicted call key gets a stale-call rejection.
func (s *CallService) Accept(ctx context.Context, user domain.Identity, key domain.CallKey) error {
	s.mu.Lock()
	call, ok := s.calls[key]
	if !ok || call.State == domain.CallTimedOut {
		s.mu.Unlock()
		s.gateway.Publish(domain.UserTarget(user.ID), domain.Event{
			Name: domain.EvCallTimeout,
			Data: domain.CallTimeoutPayload{RoomName: key.String(), Reason: "Call already ended"},
		})
		return domain.ErrStaleCall
	}

	s.busy[user.ID] = key
	delete(call.Pending, user.ID)
	call.Accepted[user.ID] = true
	call.State = domain.CallActive
	s.disarmLocked(key)
	initiatorID := call.InitiatorID
	target := call.Target()
	s.mu.Unlock()

	s.gateway.Publish(target, domain.Event{
		Name: domain.EvCallParticipantJoined,
		Data: domain.CallParticipantPayload{UserID: user.ID.String(), Username: user.Username},
	})
	s.gateway.Publish(domain.UserTarget(initiatorID), domain.Event{
		Name: domain.EvCallAccepted,
		Data: domain.CallParticipantPayload{RoomName: key.String(), UserID: user.ID.String(), Username: user.Username},
	})

	log.Info().Str("room", key.String()).Str("user_id", user.ID.String()).Msg("Call accepted")
	return nil
}

// Reject cancels the ring timer (first rejection wins, the rest are
// no-ops) and notifies the initiator. A single rejection does not end a
// group/room call for the others.
func (s *CallService) Reject(ctx context.Context, user domain.Identity, key domain.CallKey, initiatorID domain.UserID) {
	s.mu.Lock()
	s.disarmLocked(key)
	if call, ok := s.calls[key]; ok {
		delete(call.Pending, user.ID)
		if call.Type == domain.CallConversation && call.State == domain.CallRinging {
			// Terminal for 1:1. The record goes; the initiator's Busy
			// slot survives until their client sends end, with the
			// disconnect hook as backstop.
			call.State = domain.CallRejected
			delete(s.calls, key)
		}
	}
	s.mu.Unlock()

	s.gateway.Publish(domain.UserTarget(initiatorID), domain.Event{
		Name: domain.EvCallRejected,
		Data: domain.CallParticipantPayload{RoomName: key.String(), UserID: user.ID.String(), Username: user.Username},
	})

	log.Info().Str("room", key.String()).Str("user_id", user.ID.String()).Msg("Call rejected")
}

// End tears the call down for the full participant list. Any party may
// call it, it always succeeds, and it is idempotent: clearing a Busy
// entry that is absent or bound to another call is a no-op.
func (s *CallService) End(ctx context.Context, user domain.Identity, key domain.CallKey, participants []domain.UserID) {
	s.mu.Lock()
	s.disarmLocked(key)
	for _, p := range participants {
		if s.busy[p] == key {
			delete(s.busy, p)
		}
	}
	delete(s.calls, key)
	s.mu.Unlock()

	ended := domain.Event{
		Name: domain.EvCallEnded,
		Data: domain.CallEndedPayload{RoomName: key.String(), EndedBy: user.ID.String()},
	}
	for _, p := range participants {
		s.gateway.Publish(domain.UserTarget(p), ended)
	}

	log.Info().Str("room", key.String()).Str("user_id", user.ID.String()).Msg("Call ended")
}

// ParticipantLeft clears the leaver's Busy slot and tells the remaining
// participants. The call itself keeps going for the others.
func (s *CallService) ParticipantLeft(ctx context.Context, user domain.Identity, key domain.CallKey, remaining []domain.UserID) {
	s.mu.Lock()
	if s.busy[user.ID] == key {
		delete(s.busy, user.ID)
	}
	if call, ok := s.calls[key]; ok {
		delete(call.Pending, user.ID)
		delete(call.Accepted, user.ID)
	}
	s.mu.Unlock()

	left := domain.Event{
		Name: domain.EvCallParticipantDisconnected,
		Data: domain.CallParticipantPayload{RoomName: key.String(), UserID: user.ID.String(), Username: user.Username},
	}
	for _, p := range remaining {
		if p == user.ID {
			continue
		}
		s.gateway.Publish(domain.UserTarget(p), left)
	}

	log.Info().Str("room", key.String()).Str("user_id", user.ID.String()).Msg("Participant left call")
}

// HandleDisconnect runs when a socket drops while its user holds a Busy
// slot, so the slot cannot go stale. A disconnecting initiator of a
// still-ringing call ends it for everyone; anyone else is treated as
// having left.
func (s *CallService) HandleDisconnect(ctx context.Context, user domain.Identity) {
	s.mu.Lock()
	key, ok := s.busy[user.ID]
	if !ok {
		s.mu.Unlock()
		return
	}
	call := s.calls[key]
	var participants []domain.UserID
	if call != nil {
		participants = append(participants, call.Participants...)
	}
	endsCall := call != nil && call.State == domain.CallRinging && call.InitiatorID == user.ID
	s.mu.Unlock()

	switch {
	case endsCall:
		s.End(ctx, user, key, participants)
	case call != nil:
		s.ParticipantLeft(ctx, user, key, participants)
	default:
		s.mu.Lock()
		delete(s.busy, user.ID)
		s.mu.Unlock()
	}
}

// IsBusy reports whether the user is bound to a ringing or active call.
func (s *CallService) IsBusy(user domain.UserID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.busy[user]
	return ok
}

// BusyAmong filters the given users down to those currently in a call.
func (s *CallService) BusyAmong(users []domain.UserID) []domain.UserID {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.UserID
	for _, u := range users {
		if _, ok := s.busy[u]; ok {
			out = append(out, u)
		}
	}
	return out
}

// IsTimedOut reports whether the key carries a timed-out marker still
// inside its grace window. The REST join endpoint answers 410 from this.
func (s *CallService) IsTimedOut(key domain.CallKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	call, ok := s.calls[key]
	return ok && call.State == domain.CallTimedOut
}

// Call returns a snapshot of the call record for the key.
func (s *CallService) Call(key domain.CallKey) (domain.Call, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	call, ok := s.calls[key]
	if !ok {
		return domain.Call{}, false
	}
	snap := *call
	snap.Participants = append([]domain.UserID(nil), call.Participants...)
	snap.Pending = copySet(call.Pending)
	snap.Accepted = copySet(call.Accepted)
	return snap, true
}

// ringTimeout fires when the ring timer expires. If an accept or reject
// already disarmed the timer the handle is gone from the table and this
// returns without acting.
func (s *CallService) ringTimeout(key domain.CallKey) {
	s.mu.Lock()
	if _, armed := s.timers[key]; !armed {
		s.mu.Unlock()
		return
	}
	delete(s.timers, key)

	call, ok := s.calls[key]
	if !ok || call.State != domain.CallRinging {
		s.mu.Unlock()
		return
	}
	call.State = domain.CallTimedOut
	if s.busy[call.InitiatorID] == key {
		delete(s.busy, call.InitiatorID)
	}
	participants := append([]domain.UserID(nil), call.Participants...)
	time.AfterFunc(s.cfg.GraceWindow, func() {
		s.evict(key)
	})
	s.mu.Unlock()

	timeout := domain.Event{
		Name: domain.EvCallTimeout,
		Data: domain.CallTimeoutPayload{RoomName: key.String(), Reason: "No response"},
	}
	for _, p := range participants {
		s.gateway.Publish(domain.UserTarget(p), timeout)
	}

	log.Info().Str("room", key.String()).Msg("Call timed out")
}

func (s *CallService) evict(key domain.CallKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if call, ok := s.calls[key]; ok && call.State == domain.CallTimedOut {
		delete(s.calls, key)
	}
}

// disarmLocked removes and stops the key's ring timer. Removal from the
// table is the disarm act; a concurrent fire that lost the race finds
// the table empty and no-ops.
func (s *CallService) disarmLocked(key domain.CallKey) {
	if t, ok := s.timers[key]; ok {
		delete(s.timers, key)
		t.Stop()
	}
}

// notifyMissedCall persists a missed-call notice for each busy recipient
// and pushes it to their personal target. Fire-and-forget: a slow or
// failing message store must not delay ringing the available recipients.
func (s *CallService) notifyMissedCall(initiator domain.Identity, callType domain.CallType, targetID domain.TargetID, busyUsers []domain.UserID) {
	if callType == domain.CallConversation || len(busyUsers) == 0 {
		return
	}

	target := domain.Target{Kind: callType.TargetKind(), ID: targetID}
	eventName := domain.EvNewGroupMessage
	payload := domain.MessagePayload{
		SenderID: initiator.ID.String(),
		Content:  "Missed call from " + initiator.Username,
		Sender:   domain.SenderInfo{Username: initiator.Username},
	}
	if callType == domain.CallGroup {
		payload.GroupID = targetID.String()
	} else {
		eventName = domain.EvNewRoomMessage
		payload.RoomID = targetID.String()
	}

	for _, busyUser := range busyUsers {
		go func(busyUser domain.UserID) {
			ctx, cancel := context.WithTimeout(context.Background(), noticeWriteTimeout)
			defer cancel()

			notice := domain.NewMissedCallNotice(initiator, target)
			if err := s.messages.Save(ctx, notice); err != nil {
				log.Error().Err(err).Str("user_id", busyUser.String()).Msg("Error creating missed call message")
				return
			}
			s.gateway.Publish(domain.UserTarget(busyUser), domain.Event{Name: eventName, Data: payload})
		}(busyUser)
	}
}

func withInitiator(participants []domain.UserID, initiator domain.UserID) []domain.UserID {
	out := append([]domain.UserID(nil), participants...)
	for _, p := range out {
		if p == initiator {
			return out
		}
	}
	return append(out, initiator)
}

func toSet(users []domain.UserID) map[domain.UserID]bool {
	set := make(map[domain.UserID]bool, len(users))
	for _, u := range users {
		set[u] = true
	}
	return set
}

func copySet(set map[domain.UserID]bool) map[domain.UserID]bool {
	out := make(map[domain.UserID]bool, len(set))
	for u := range set {
		out[u] = true
	}
	return out
}
