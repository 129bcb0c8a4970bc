package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/avask/ringline/internal/core/domain"
)

type published struct {
	target domain.Target
	except *domain.UserID
	ev     domain.Event
	global bool
}

type fakeGateway struct {
	mu     sync.Mutex
	events []published
}

func (g *fakeGateway) Publish(target domain.Target, ev domain.Event) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events = append(g.events, published{target: target, ev: ev})
}

func (g *fakeGateway) PublishExcept(target domain.Target, except domain.UserID, ev domain.Event) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events = append(g.events, published{target: target, except: &except, ev: ev})
}

func (g *fakeGateway) Broadcast(ev domain.Event) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events = append(g.events, published{ev: ev, global: true})
}

// count returns how many events with the given name were delivered to
// the target.
func (g *fakeGateway) count(target domain.Target, name string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, p := range g.events {
		if !p.global && p.target == target && p.ev.Name == name {
			n++
		}
	}
	return n
}

func (g *fakeGateway) countAnywhere(name string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, p := range g.events {
		if p.ev.Name == name {
			n++
		}
	}
	return n
}

type fakeRepo struct {
	mu    sync.Mutex
	saved []*domain.Message
	err   error
}

func (r *fakeRepo) Save(ctx context.Context, msg *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.saved = append(r.saved, msg)
	return nil
}

func (r *fakeRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saved)
}

const (
	testRing  = 60 * time.Millisecond
	testGrace = 50 * time.Millisecond
)

func newTestService() (*CallService, *fakeGateway, *fakeRepo) {
	gw := &fakeGateway{}
	repo := &fakeRepo{}
	s := NewCallService(gw, repo, CallConfig{RingTimeout: testRing, GraceWindow: testGrace})
	return s, gw, repo
}

func user(name string) domain.Identity {
	return domain.Identity{ID: domain.NewUserID(), Username: name}
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestInitiateMarksInitiatorBusyAndRings(t *testing.T) {
	s, gw, _ := newTestService()
	a, b := user("alice"), user("bob")
	targetID := domain.NewTargetID()

	if err := s.Initiate(context.Background(), a, domain.CallConversation, targetID, []domain.UserID{b.ID}); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	if !s.IsBusy(a.ID) {
		t.Error("initiator should be busy while ringing")
	}
	if s.IsBusy(b.ID) {
		t.Error("ringing invitee should not be busy before accepting")
	}
	if got := gw.count(domain.UserTarget(b.ID), domain.EvCallIncoming); got != 1 {
		t.Errorf("call:incoming to invitee = %d, want 1", got)
	}
	if got := gw.count(domain.UserTarget(a.ID), domain.EvCallIncoming); got != 0 {
		t.Errorf("initiator received call:incoming %d times", got)
	}

	key := domain.NewCallKey(domain.CallConversation, targetID)
	call, ok := s.Call(key)
	if !ok {
		t.Fatal("call record missing")
	}
	if call.State != domain.CallRinging {
		t.Errorf("state = %s, want ringing", call.State)
	}
	if !call.Pending[b.ID] {
		t.Error("invitee missing from pending set")
	}
}

func TestInitiateWhileBusyRejectedLocally(t *testing.T) {
	s, gw, _ := newTestService()
	a, b, c := user("alice"), user("bob"), user("carol")

	if err := s.Initiate(context.Background(), a, domain.CallConversation, domain.NewTargetID(), []domain.UserID{b.ID}); err != nil {
		t.Fatalf("first initiate: %v", err)
	}
	err := s.Initiate(context.Background(), a, domain.CallConversation, domain.NewTargetID(), []domain.UserID{c.ID})
	if !errors.Is(err, domain.ErrAlreadyBusy) {
		t.Fatalf("err = %v, want ErrAlreadyBusy", err)
	}
	if got := gw.count(domain.UserTarget(c.ID), domain.EvCallIncoming); got != 0 {
		t.Errorf("second call rang %d times despite busy initiator", got)
	}
}

func TestBusyOneToOneTargetCreatesNoCall(t *testing.T) {
	s, gw, _ := newTestService()
	a, b, c := user("alice"), user("bob"), user("carol")

	// b is busy: they initiated a call to c.
	if err := s.Initiate(context.Background(), b, domain.CallConversation, domain.NewTargetID(), []domain.UserID{c.ID}); err != nil {
		t.Fatalf("setup initiate: %v", err)
	}

	targetID := domain.NewTargetID()
	if err := s.Initiate(context.Background(), a, domain.CallConversation, targetID, []domain.UserID{b.ID}); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	if got := gw.count(domain.UserTarget(a.ID), domain.EvCallUserBusy); got != 1 {
		t.Errorf("call:user_busy to initiator = %d, want 1", got)
	}
	if got := gw.count(domain.UserTarget(b.ID), domain.EvCallIncoming); got != 0 {
		t.Errorf("busy target got call:incoming %d times", got)
	}
	if s.IsBusy(a.ID) {
		t.Error("initiator left busy after aborted call")
	}
	key := domain.NewCallKey(domain.CallConversation, targetID)
	if _, ok := s.Call(key); ok {
		t.Error("call record created for busy 1:1 target")
	}

	// No timer was armed: no timeout ever fires for this key.
	time.Sleep(testRing + testGrace + 20*time.Millisecond)
	if got := gw.count(domain.UserTarget(a.ID), domain.EvCallTimeout); got != 0 {
		t.Errorf("call:timeout delivered %d times for a call that never existed", got)
	}
}

func TestRingTimeout(t *testing.T) {
	s, gw, _ := newTestService()
	a, b := user("alice"), user("bob")
	targetID := domain.NewTargetID()
	key := domain.NewCallKey(domain.CallConversation, targetID)

	if err := s.Initiate(context.Background(), a, domain.CallConversation, targetID, []domain.UserID{b.ID}); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	eventually(t, func() bool {
		return gw.count(domain.UserTarget(a.ID), domain.EvCallTimeout) == 1 &&
			gw.count(domain.UserTarget(b.ID), domain.EvCallTimeout) == 1
	}, "call:timeout not delivered to every original participant")

	if s.IsBusy(a.ID) {
		t.Error("initiator still busy after timeout")
	}
	if !s.IsTimedOut(key) {
		t.Error("timed-out marker missing during grace window")
	}

	// Exactly once: give any duplicate a chance to show up.
	time.Sleep(20 * time.Millisecond)
	if got := gw.count(domain.UserTarget(a.ID), domain.EvCallTimeout); got != 1 {
		t.Errorf("initiator call:timeout = %d, want exactly 1", got)
	}

	// The marker is evicted after the grace window.
	eventually(t, func() bool { return !s.IsTimedOut(key) }, "timed-out marker never evicted")
	if _, ok := s.Call(key); ok {
		t.Error("call record survived eviction")
	}
}

func TestAcceptDuringGraceWindowIsStale(t *testing.T) {
	s, gw, _ := newTestService()
	a, b := user("alice"), user("bob")
	targetID := domain.NewTargetID()
	key := domain.NewCallKey(domain.CallConversation, targetID)

	if err := s.Initiate(context.Background(), a, domain.CallConversation, targetID, []domain.UserID{b.ID}); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	eventually(t, func() bool { return s.IsTimedOut(key) }, "call never timed out")

	err := s.Accept(context.Background(), b, key)
	if !errors.Is(err, domain.ErrStaleCall) {
		t.Fatalf("err = %v, want ErrStaleCall", err)
	}
	if got := gw.count(domain.UserTarget(b.ID), domain.EvCallTimeout); got != 2 {
		// One from the ring timeout fan-out, one stale-accept reply.
		t.Errorf("acceptor call:timeout = %d, want 2", got)
	}
	if s.IsBusy(b.ID) {
		t.Error("stale accept marked user busy")
	}
}

func TestAcceptAfterEvictionIsStale(t *testing.T) {
	s, _, _ := newTestService()
	a, b := user("alice"), user("bob")
	targetID := domain.NewTargetID()
	key := domain.NewCallKey(domain.CallConversation, targetID)

	if err := s.Initiate(context.Background(), a, domain.CallConversation, targetID, []domain.UserID{b.ID}); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	eventually(t, func() bool {
		_, ok := s.Call(key)
		return !ok
	}, "call record never evicted")

	if err := s.Accept(context.Background(), b, key); !errors.Is(err, domain.ErrStaleCall) {
		t.Fatalf("err = %v, want ErrStaleCall", err)
	}
}

func TestAcceptCancelsTimer(t *testing.T) {
	s, gw, _ := newTestService()
	a, b := user("alice"), user("bob")
	targetID := domain.NewTargetID()
	key := domain.NewCallKey(domain.CallConversation, targetID)

	if err := s.Initiate(context.Background(), a, domain.CallConversation, targetID, []domain.UserID{b.ID}); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := s.Accept(context.Background(), b, key); err != nil {
		t.Fatalf("accept: %v", err)
	}

	if got := gw.count(domain.ConversationTarget(targetID), domain.EvCallParticipantJoined); got != 1 {
		t.Errorf("call:participant_joined = %d, want 1", got)
	}
	if got := gw.count(domain.UserTarget(a.ID), domain.EvCallAccepted); got != 1 {
		t.Errorf("call:accepted to initiator = %d, want 1", got)
	}
	if !s.IsBusy(b.ID) {
		t.Error("acceptor not busy")
	}

	// No timeout may follow a successful accept.
	time.Sleep(testRing + 30*time.Millisecond)
	if got := gw.countAnywhere(domain.EvCallTimeout); got != 0 {
		t.Errorf("call:timeout delivered %d times after accept", got)
	}
}

func TestRejectCancelsTimer(t *testing.T) {
	s, gw, _ := newTestService()
	a, b := user("alice"), user("bob")
	targetID := domain.NewTargetID()
	key := domain.NewCallKey(domain.CallConversation, targetID)

	if err := s.Initiate(context.Background(), a, domain.CallConversation, targetID, []domain.UserID{b.ID}); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	s.Reject(context.Background(), b, key, a.ID)

	if got := gw.count(domain.UserTarget(a.ID), domain.EvCallRejected); got != 1 {
		t.Errorf("call:rejected to initiator = %d, want 1", got)
	}
	if s.IsBusy(b.ID) {
		t.Error("rejector marked busy")
	}

	time.Sleep(testRing + 30*time.Millisecond)
	if got := gw.countAnywhere(domain.EvCallTimeout); got != 0 {
		t.Errorf("call:timeout delivered %d times after reject", got)
	}

	// Further rejects are harmless no-ops on the timer.
	s.Reject(context.Background(), b, key, a.ID)
	if got := gw.count(domain.UserTarget(a.ID), domain.EvCallRejected); got != 2 {
		t.Errorf("second call:rejected = %d, want 2", got)
	}

	// Rejection is terminal for 1:1: the record is gone and the key is
	// free again once the initiator tears down.
	if _, ok := s.Call(key); ok {
		t.Error("call record survived 1:1 rejection")
	}
	s.End(context.Background(), a, key, []domain.UserID{a.ID, b.ID})
	if err := s.Initiate(context.Background(), a, domain.CallConversation, targetID, []domain.UserID{b.ID}); err != nil {
		t.Errorf("re-initiate after reject+end: %v", err)
	}
}

func TestGroupCallBusyPartition(t *testing.T) {
	s, gw, repo := newTestService()
	a, b, c, x := user("alice"), user("bob"), user("carol"), user("xavier")

	// c is busy elsewhere.
	if err := s.Initiate(context.Background(), c, domain.CallConversation, domain.NewTargetID(), []domain.UserID{x.ID}); err != nil {
		t.Fatalf("setup initiate: %v", err)
	}

	groupID := domain.NewTargetID()
	if err := s.Initiate(context.Background(), a, domain.CallGroup, groupID, []domain.UserID{b.ID, c.ID}); err != nil {
		t.Fatalf("group initiate: %v", err)
	}

	if got := gw.count(domain.UserTarget(b.ID), domain.EvCallIncoming); got != 1 {
		t.Errorf("available invitee call:incoming = %d, want 1", got)
	}
	if got := gw.count(domain.UserTarget(c.ID), domain.EvCallIncoming); got != 0 {
		t.Errorf("busy invitee got call:incoming %d times", got)
	}

	// Busy invitee gets a persisted missed-call notice, asynchronously.
	eventually(t, func() bool { return repo.count() == 1 }, "missed-call notice never persisted")
	eventually(t, func() bool {
		return gw.count(domain.UserTarget(c.ID), domain.EvNewGroupMessage) == 1
	}, "missed-call message never delivered to busy invitee")

	key := domain.NewCallKey(domain.CallGroup, groupID)
	call, ok := s.Call(key)
	if !ok {
		t.Fatal("call record missing")
	}
	if len(call.Pending) != 1 || !call.Pending[b.ID] {
		t.Errorf("pending set = %v, want only %s", call.Pending, b.ID)
	}
}

func TestGroupCallAllBusyIsSilentNoOp(t *testing.T) {
	s, gw, repo := newTestService()
	a, b, x := user("alice"), user("bob"), user("xavier")

	if err := s.Initiate(context.Background(), b, domain.CallConversation, domain.NewTargetID(), []domain.UserID{x.ID}); err != nil {
		t.Fatalf("setup initiate: %v", err)
	}

	groupID := domain.NewTargetID()
	if err := s.Initiate(context.Background(), a, domain.CallGroup, groupID, []domain.UserID{b.ID}); err != nil {
		t.Fatalf("group initiate: %v", err)
	}

	if s.IsBusy(a.ID) {
		t.Error("initiator busy after all-busy group call")
	}
	if _, ok := s.Call(domain.NewCallKey(domain.CallGroup, groupID)); ok {
		t.Error("call record created for all-busy group call")
	}
	eventually(t, func() bool { return repo.count() == 1 }, "missed-call notice never persisted")

	time.Sleep(testRing + 30*time.Millisecond)
	if got := gw.countAnywhere(domain.EvCallTimeout); got != 0 {
		t.Errorf("timer armed for all-busy group call: %d timeout events", got)
	}
}

func TestMissedCallNoticeFailureDoesNotBlockRinging(t *testing.T) {
	s, gw, repo := newTestService()
	repo.err = errors.New("message store down")
	a, b, c, x := user("alice"), user("bob"), user("carol"), user("xavier")

	if err := s.Initiate(context.Background(), c, domain.CallConversation, domain.NewTargetID(), []domain.UserID{x.ID}); err != nil {
		t.Fatalf("setup initiate: %v", err)
	}
	if err := s.Initiate(context.Background(), a, domain.CallGroup, domain.NewTargetID(), []domain.UserID{b.ID, c.ID}); err != nil {
		t.Fatalf("group initiate: %v", err)
	}

	if got := gw.count(domain.UserTarget(b.ID), domain.EvCallIncoming); got != 1 {
		t.Errorf("available invitee call:incoming = %d, want 1", got)
	}
	// The failed save suppresses the notice event but nothing else.
	time.Sleep(30 * time.Millisecond)
	if got := gw.count(domain.UserTarget(c.ID), domain.EvNewGroupMessage); got != 0 {
		t.Errorf("notice delivered %d times despite store failure", got)
	}
}

func TestReinitiateLiveKeyRejected(t *testing.T) {
	s, _, _ := newTestService()
	a, b, c := user("alice"), user("bob"), user("carol")
	targetID := domain.NewTargetID()

	if err := s.Initiate(context.Background(), a, domain.CallConversation, targetID, []domain.UserID{b.ID}); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	err := s.Initiate(context.Background(), c, domain.CallConversation, targetID, []domain.UserID{b.ID})
	if !errors.Is(err, domain.ErrCallExists) {
		t.Fatalf("err = %v, want ErrCallExists", err)
	}
}

func TestEndClearsFullParticipantListIdempotently(t *testing.T) {
	s, gw, _ := newTestService()
	a, b, c, d := user("alice"), user("bob"), user("carol"), user("dave")
	groupID := domain.NewTargetID()
	key := domain.NewCallKey(domain.CallGroup, groupID)
	all := []domain.UserID{a.ID, b.ID, c.ID, d.ID}

	if err := s.Initiate(context.Background(), a, domain.CallGroup, groupID, []domain.UserID{b.ID, c.ID, d.ID}); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := s.Accept(context.Background(), b, key); err != nil {
		t.Fatalf("accept b: %v", err)
	}
	if err := s.Accept(context.Background(), c, key); err != nil {
		t.Fatalf("accept c: %v", err)
	}

	// d never responds; the accepted call has no live timer, so no
	// timeout reaches anyone.
	time.Sleep(testRing + 30*time.Millisecond)
	if got := gw.countAnywhere(domain.EvCallTimeout); got != 0 {
		t.Errorf("call:timeout delivered %d times after accepts", got)
	}

	s.End(context.Background(), a, key, all)
	for _, p := range all {
		if got := gw.count(domain.UserTarget(p), domain.EvCallEnded); got != 1 {
			t.Errorf("call:ended to %s = %d, want 1", p, got)
		}
		if s.IsBusy(p) {
			t.Errorf("%s still busy after end", p)
		}
	}
	if _, ok := s.Call(key); ok {
		t.Error("call record survived end")
	}

	// Ending again is harmless regardless of prior state.
	s.End(context.Background(), a, key, all)
	for _, p := range all {
		if s.IsBusy(p) {
			t.Errorf("%s busy after repeated end", p)
		}
	}
}

func TestEndDoesNotClearForeignBusyEntry(t *testing.T) {
	s, _, _ := newTestService()
	a, b, c, d := user("alice"), user("bob"), user("carol"), user("dave")

	targetAB := domain.NewTargetID()
	keyAB := domain.NewCallKey(domain.CallConversation, targetAB)
	if err := s.Initiate(context.Background(), a, domain.CallConversation, targetAB, []domain.UserID{b.ID}); err != nil {
		t.Fatalf("initiate a-b: %v", err)
	}
	if err := s.Initiate(context.Background(), c, domain.CallConversation, domain.NewTargetID(), []domain.UserID{d.ID}); err != nil {
		t.Fatalf("initiate c-d: %v", err)
	}

	// Ending a's call with c in the participant list must not free c's
	// Busy slot for the unrelated call.
	s.End(context.Background(), a, keyAB, []domain.UserID{a.ID, b.ID, c.ID})
	if !s.IsBusy(c.ID) {
		t.Error("foreign busy entry cleared by unrelated end")
	}
}

func TestBusySetInvariantSingleKeyPerUser(t *testing.T) {
	s, _, _ := newTestService()
	a, b, c := user("alice"), user("bob"), user("carol")
	targetID := domain.NewTargetID()
	key := domain.NewCallKey(domain.CallGroup, targetID)

	if err := s.Initiate(context.Background(), a, domain.CallGroup, targetID, []domain.UserID{b.ID, c.ID}); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := s.Accept(context.Background(), b, key); err != nil {
		t.Fatalf("accept: %v", err)
	}

	busy := s.BusyAmong([]domain.UserID{a.ID, b.ID, c.ID})
	if len(busy) != 2 {
		t.Fatalf("busy among = %d users, want 2", len(busy))
	}
	// A busy user cannot start a second call.
	if err := s.Initiate(context.Background(), b, domain.CallConversation, domain.NewTargetID(), []domain.UserID{c.ID}); !errors.Is(err, domain.ErrAlreadyBusy) {
		t.Fatalf("err = %v, want ErrAlreadyBusy", err)
	}
}

func TestParticipantLeft(t *testing.T) {
	s, gw, _ := newTestService()
	a, b, c := user("alice"), user("bob"), user("carol")
	groupID := domain.NewTargetID()
	key := domain.NewCallKey(domain.CallGroup, groupID)

	if err := s.Initiate(context.Background(), a, domain.CallGroup, groupID, []domain.UserID{b.ID, c.ID}); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := s.Accept(context.Background(), b, key); err != nil {
		t.Fatalf("accept b: %v", err)
	}
	if err := s.Accept(context.Background(), c, key); err != nil {
		t.Fatalf("accept c: %v", err)
	}

	s.ParticipantLeft(context.Background(), b, key, []domain.UserID{a.ID, b.ID, c.ID})

	if s.IsBusy(b.ID) {
		t.Error("leaver still busy")
	}
	if !s.IsBusy(a.ID) || !s.IsBusy(c.ID) {
		t.Error("remaining participants lost busy status")
	}
	if got := gw.count(domain.UserTarget(a.ID), domain.EvCallParticipantDisconnected); got != 1 {
		t.Errorf("call:participant_disconnected to a = %d, want 1", got)
	}
	if got := gw.count(domain.UserTarget(b.ID), domain.EvCallParticipantDisconnected); got != 0 {
		t.Errorf("leaver notified about their own departure %d times", got)
	}
}

func TestDisconnectOfRingingInitiatorEndsCall(t *testing.T) {
	s, gw, _ := newTestService()
	a, b := user("alice"), user("bob")
	targetID := domain.NewTargetID()
	key := domain.NewCallKey(domain.CallConversation, targetID)

	if err := s.Initiate(context.Background(), a, domain.CallConversation, targetID, []domain.UserID{b.ID}); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	s.HandleDisconnect(context.Background(), a)

	if s.IsBusy(a.ID) {
		t.Error("disconnected initiator still busy")
	}
	if _, ok := s.Call(key); ok {
		t.Error("call record survived initiator disconnect")
	}
	if got := gw.count(domain.UserTarget(b.ID), domain.EvCallEnded); got != 1 {
		t.Errorf("call:ended to invitee = %d, want 1", got)
	}

	time.Sleep(testRing + 30*time.Millisecond)
	if got := gw.countAnywhere(domain.EvCallTimeout); got != 0 {
		t.Errorf("timer fired %d times after initiator disconnect", got)
	}
}

func TestDisconnectOfActiveParticipantLeavesCall(t *testing.T) {
	s, gw, _ := newTestService()
	a, b, c := user("alice"), user("bob"), user("carol")
	groupID := domain.NewTargetID()
	key := domain.NewCallKey(domain.CallGroup, groupID)

	if err := s.Initiate(context.Background(), a, domain.CallGroup, groupID, []domain.UserID{b.ID, c.ID}); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := s.Accept(context.Background(), b, key); err != nil {
		t.Fatalf("accept: %v", err)
	}

	s.HandleDisconnect(context.Background(), b)

	if s.IsBusy(b.ID) {
		t.Error("disconnected participant still busy")
	}
	if !s.IsBusy(a.ID) {
		t.Error("initiator lost busy status on someone else's disconnect")
	}
	if got := gw.count(domain.UserTarget(a.ID), domain.EvCallParticipantDisconnected); got != 1 {
		t.Errorf("call:participant_disconnected to initiator = %d, want 1", got)
	}
}

func TestDisconnectWithoutCallIsNoOp(t *testing.T) {
	s, gw, _ := newTestService()
	a := user("alice")

	s.HandleDisconnect(context.Background(), a)
	if got := gw.countAnywhere(domain.EvCallEnded); got != 0 {
		t.Errorf("disconnect of idle user emitted %d call:ended events", got)
	}
}
