package orch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/skillshare/realtime/internal/app"
	"github.com/skillshare/realtime/internal/core"
	"github.com/skillshare/realtime/internal/core/coretest"
	"github.com/skillshare/realtime/internal/domain"
)

type fixture struct {
	orch    *Orchestrator
	store   *coretest.CallStore
	members *coretest.Members
	events  *coretest.Events
}

func newFixture() *fixture {
	reg := app.NewRegistry[domain.CallID]("call")
	router := app.NewRouter("call", reg, "callId")
	f := &fixture{
		store:   coretest.NewCallStore(),
		members: coretest.NewMembers(),
		events:  &coretest.Events{},
	}
	f.orch = New(router, f.store, f.members, f.events)
	return f
}

func dial(user string) (*core.Connection, *coretest.Signal) {
	sig := coretest.NewSignal()
	return core.NewConnection(domain.UserID(user), 0, sig), sig
}

func mustGet(t *testing.T, s *coretest.CallStore, id domain.CallID) *domain.CallRecord {
	t.Helper()
	rec, err := s.GetCall(context.Background(), id)
	if err != nil {
		t.Fatalf("GetCall(%s): %v", id, err)
	}
	return rec
}

func TestScenarioJoinLeaveLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.members.Add(7, "u1", "u2")

	c1, s1 := dial("u1")
	res1, err := f.orch.Join(ctx, 7, "u1", c1)
	if err != nil {
		t.Fatalf("join u1: %v", err)
	}
	if !res1.Created || res1.Participants != 1 {
		t.Fatalf("join u1 result = %+v", res1)
	}
	call := res1.CallID
	if rec := mustGet(t, f.store, call); !rec.IsActive || rec.ParticipantCount != 1 {
		t.Fatalf("after u1 join record = %+v", rec)
	}

	c2, s2 := dial("u2")
	res2, err := f.orch.Join(ctx, 7, "u2", c2)
	if err != nil {
		t.Fatalf("join u2: %v", err)
	}
	if res2.Created || res2.CallID != call {
		t.Fatalf("u2 did not attach to existing call: %+v", res2)
	}
	if rec := mustGet(t, f.store, call); rec.ParticipantCount != 2 {
		t.Fatalf("participant_count = %d, want 2", rec.ParticipantCount)
	}
	if f.orch.ParticipantCount(call) != 2 {
		t.Fatalf("live count = %d", f.orch.ParticipantCount(call))
	}
	joined := s1.OfType(domain.TypeUserJoined)
	if len(joined) != 2 {
		t.Fatalf("u1 saw %d user-joined frames, want 2", len(joined))
	}
	if data := joined[1]["data"].(map[string]any); data["userId"] != "u2" {
		t.Fatalf("user-joined payload = %v", data)
	}
	// the joiner's own presence frame is marked as its own so clients can skip it
	if joined[0]["senderId"] != "u1" || joined[1]["senderId"] != "u2" {
		t.Fatalf("user-joined senders = %v, %v", joined[0]["senderId"], joined[1]["senderId"])
	}
	if n := len(s2.OfType(domain.TypeUserJoined)); n != 1 {
		t.Fatalf("u2 saw %d user-joined frames, want its own only", n)
	}

	if _, err := f.orch.Leave(ctx, c1); err != nil {
		t.Fatalf("leave u1: %v", err)
	}
	rec := mustGet(t, f.store, call)
	if rec.ParticipantCount != 1 || !rec.IsActive {
		t.Fatalf("after u1 leave record = %+v", rec)
	}
	left := s2.OfType(domain.TypeUserLeft)
	if len(left) != 1 || left[0]["data"].(map[string]any)["userId"] != "u1" {
		t.Fatalf("u2 user-left frames = %v", left)
	}

	res, err := f.orch.Leave(ctx, c2)
	if err != nil {
		t.Fatalf("leave u2: %v", err)
	}
	if !res.Ended {
		t.Fatal("last leave did not end the call")
	}
	rec = mustGet(t, f.store, call)
	if rec.IsActive || rec.EndedAt == nil || rec.ParticipantCount != 0 {
		t.Fatalf("ended record = %+v", rec)
	}
	if f.orch.Calls.Count(call) != 0 || f.orch.Calls.Len() != 0 {
		t.Fatal("registry entry survived the last leave")
	}
	if n := f.store.OpenIntervals(call); n != 0 {
		t.Fatalf("%d participant intervals left open", n)
	}

	want := []domain.CallEventKind{
		domain.EventCallStarted, domain.EventParticipantJoined,
		domain.EventParticipantLeft, domain.EventCallEnded,
	}
	got := f.events.Kinds()
	if len(got) != len(want) {
		t.Fatalf("events = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestJoinRejectsNonMember(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.members.Add(9, "someone")

	c, sig := dial("u3")
	_, err := f.orch.Join(ctx, 9, "u3", c)
	if !errors.Is(err, domain.ErrNotMember) {
		t.Fatalf("err = %v, want ErrNotMember", err)
	}
	if f.store.Creates() != 0 {
		t.Fatal("call created for non-member")
	}
	if f.orch.Calls.Len() != 0 {
		t.Fatal("registry mutated for non-member")
	}
	if _, ok := f.orch.CallOf("u3"); ok {
		t.Fatal("back-reference recorded for non-member")
	}
	if len(sig.Frames()) != 0 {
		t.Fatal("frames sent to rejected connection")
	}
}

func TestJoinMembershipError(t *testing.T) {
	f := newFixture()
	f.members.Err = errors.New("db down")
	c, _ := dial("u1")
	if _, err := f.orch.Join(context.Background(), 1, "u1", c); err == nil || errors.Is(err, domain.ErrNotMember) {
		t.Fatalf("err = %v", err)
	}
	if f.store.Creates() != 0 || f.orch.Calls.Len() != 0 {
		t.Fatal("side effects after failed membership check")
	}
}

func TestConcurrentJoinsCreateOneCall(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	const n = 16
	users := make([]domain.UserID, n)
	for i := range users {
		users[i] = domain.UserID(string(rune('a' + i)))
	}
	f.members.Add(3, users...)

	var wg sync.WaitGroup
	ids := make([]domain.CallID, n)
	for i, u := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, _ := dial(string(u))
			res, err := f.orch.Join(ctx, 3, u, c)
			if err != nil {
				t.Errorf("join %s: %v", u, err)
				return
			}
			ids[i] = res.CallID
		}()
	}
	wg.Wait()

	if f.store.Creates() != 1 {
		t.Fatalf("created %d calls, want 1", f.store.Creates())
	}
	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("joins landed on different calls: %v", ids)
		}
	}
	if rec := mustGet(t, f.store, ids[0]); rec.ParticipantCount != n || f.orch.ParticipantCount(ids[0]) != n {
		t.Fatalf("persisted %d, live %d, want %d", rec.ParticipantCount, f.orch.ParticipantCount(ids[0]), n)
	}
}

func TestCountsTrackJoinsMinusLeaves(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	users := []domain.UserID{"a", "b", "c", "d", "e"}
	f.members.Add(5, users...)

	conns := make([]*core.Connection, len(users))
	var id domain.CallID
	for i, u := range users {
		conns[i], _ = dial(string(u))
		res, err := f.orch.Join(ctx, 5, u, conns[i])
		if err != nil {
			t.Fatal(err)
		}
		id = res.CallID
	}
	for _, c := range conns[:2] {
		if _, err := f.orch.Leave(ctx, c); err != nil {
			t.Fatal(err)
		}
	}
	rec := mustGet(t, f.store, id)
	if rec.ParticipantCount != 3 || f.orch.ParticipantCount(id) != 3 {
		t.Fatalf("persisted %d, live %d, want 3", rec.ParticipantCount, f.orch.ParticipantCount(id))
	}
}

func TestLeaveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.members.Add(1, "u1", "u2")
	c1, _ := dial("u1")
	c2, s2 := dial("u2")
	res, _ := f.orch.Join(ctx, 1, "u1", c1)
	_, _ = f.orch.Join(ctx, 1, "u2", c2)

	if r, err := f.orch.Leave(ctx, c1); err != nil || !r.Removed {
		t.Fatalf("first leave = %+v, %v", r, err)
	}
	if r, err := f.orch.Leave(ctx, c1); err != nil || r.Removed {
		t.Fatalf("second leave = %+v, %v", r, err)
	}
	if rec := mustGet(t, f.store, res.CallID); rec.ParticipantCount != 1 {
		t.Fatalf("participant_count = %d after double leave", rec.ParticipantCount)
	}
	if n := len(s2.OfType(domain.TypeUserLeft)); n != 1 {
		t.Fatalf("u2 saw %d user-left frames", n)
	}

	never, _ := dial("ghost")
	if r, err := f.orch.Leave(ctx, never); err != nil || r.Removed {
		t.Fatalf("leave of unjoined connection = %+v, %v", r, err)
	}
}

func TestEndedCallIsNotResurrected(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.members.Add(2, "u1")

	c1, _ := dial("u1")
	first, _ := f.orch.Join(ctx, 2, "u1", c1)
	if _, err := f.orch.Leave(ctx, c1); err != nil {
		t.Fatal(err)
	}

	c2, _ := dial("u1")
	again, err := f.orch.JoinCall(ctx, first.CallID, "u1", c2)
	if err != nil {
		t.Fatalf("JoinCall: %v", err)
	}
	if again.CallID == first.CallID || !again.Created {
		t.Fatalf("ended call resurrected: %+v", again)
	}
	if rec := mustGet(t, f.store, first.CallID); rec.IsActive {
		t.Fatal("ended record flipped back to active")
	}
}

func TestJoinCallUnknown(t *testing.T) {
	f := newFixture()
	c, _ := dial("u1")
	if _, err := f.orch.JoinCall(context.Background(), "nope", "u1", c); !errors.Is(err, domain.ErrCallNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestPersistenceFailureKeepsRegistry(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.members.Add(4, "u1", "u2")

	c1, _ := dial("u1")
	first, err := f.orch.Join(ctx, 4, "u1", c1)
	if err != nil {
		t.Fatal(err)
	}

	f.store.SetFail("IncrementParticipantCount", errors.New("write failed"))
	c2, s2 := dial("u2")
	res, err := f.orch.Join(ctx, 4, "u2", c2)
	if err == nil {
		t.Fatal("expected persistence error")
	}
	if res.Persisted || res.CallID != first.CallID {
		t.Fatalf("result = %+v", res)
	}
	if f.orch.ParticipantCount(first.CallID) != 2 {
		t.Fatal("registry lost the connection after a store failure")
	}
	if got, ok := f.orch.CallOf("u2"); !ok || got != first.CallID {
		t.Fatal("back-reference missing after store failure")
	}
	f.store.SetFail("IncrementParticipantCount", nil)

	// signaling keeps working
	if _, err := f.orch.Router.Route(c1, first.CallID, []byte(`{"type":"offer","offer":{"sdp":"x"}}`)); err != nil {
		t.Fatal(err)
	}
	if len(s2.OfType(domain.TypeOffer)) != 1 {
		t.Fatal("offer not relayed after store failure")
	}
}

func TestCreateFailureHasNoSideEffects(t *testing.T) {
	f := newFixture()
	f.members.Add(4, "u1")
	f.store.SetFail("CreateCall", errors.New("insert failed"))

	c, _ := dial("u1")
	if _, err := f.orch.Join(context.Background(), 4, "u1", c); err == nil {
		t.Fatal("expected error")
	}
	if f.orch.Calls.Len() != 0 {
		t.Fatal("registry entry without a call id")
	}
	if _, ok := f.orch.CallOf("u1"); ok {
		t.Fatal("back-reference kept after failed join")
	}
}

func TestSecondConnectionReplacesFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.members.Add(6, "u1", "u2")

	c2, _ := dial("u2")
	base, _ := f.orch.Join(ctx, 6, "u2", c2)

	old, oldSig := dial("u1")
	if _, err := f.orch.Join(ctx, 6, "u1", old); err != nil {
		t.Fatal(err)
	}
	fresh, _ := dial("u1")
	res, err := f.orch.Join(ctx, 6, "u1", fresh)
	if err != nil {
		t.Fatal(err)
	}

	if !oldSig.Closed() {
		t.Fatal("replaced connection was not closed")
	}
	if res.CallID != base.CallID {
		t.Fatalf("rejoin moved to another call: %s", res.CallID)
	}
	members := f.orch.Calls.AllMembers(base.CallID)
	if len(members) != 2 || members[1] != fresh {
		t.Fatalf("members = %v", members)
	}
	if rec := mustGet(t, f.store, base.CallID); rec.ParticipantCount != 2 {
		t.Fatalf("participant_count = %d, want 2", rec.ParticipantCount)
	}
	if id, ok := f.orch.CallOf("u1"); !ok || id != base.CallID {
		t.Fatal("back-reference not moved to the new connection")
	}

	// the replaced connection's own teardown is a no-op
	if r, _ := f.orch.Leave(ctx, old); r.Removed {
		t.Fatal("stale connection removed twice")
	}
	if f.orch.ParticipantCount(base.CallID) != 2 {
		t.Fatal("stale teardown touched the live set")
	}
}

func TestStaleActiveCallIsReplaced(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.members.Add(8, "u1")
	stale, _ := f.store.CreateCall(ctx, 8, "gone")

	c, _ := dial("u1")
	res, err := f.orch.Join(ctx, 8, "u1", c)
	if err != nil {
		t.Fatal(err)
	}
	if res.CallID == stale.CallID || !res.Created {
		t.Fatalf("joined stale call: %+v", res)
	}
	if rec := mustGet(t, f.store, stale.CallID); rec.IsActive {
		t.Fatal("stale call still active")
	}
}

func TestEndCallEvictsEveryone(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.members.Add(11, "u1", "u2")

	c1, s1 := dial("u1")
	c2, s2 := dial("u2")
	res, _ := f.orch.Join(ctx, 11, "u1", c1)
	_, _ = f.orch.Join(ctx, 11, "u2", c2)

	id, err := f.orch.EndCall(ctx, 11, "u2")
	if err != nil || id != res.CallID {
		t.Fatalf("EndCall = %s, %v", id, err)
	}
	rec := mustGet(t, f.store, id)
	if rec.IsActive || rec.EndedBy == nil || *rec.EndedBy != "u2" {
		t.Fatalf("record = %+v", rec)
	}
	if f.store.OpenIntervals(id) != 0 {
		t.Fatal("intervals left open after forced end")
	}
	for _, s := range []*coretest.Signal{s1, s2} {
		if !s.Closed() || len(s.OfType(domain.TypeCallEnded)) != 1 {
			t.Fatal("evicted connection not notified and closed")
		}
	}
	if f.orch.Calls.Len() != 0 {
		t.Fatal("registry not emptied")
	}
	if r, _ := f.orch.Leave(ctx, c1); r.Removed {
		t.Fatal("leave after forced end removed something")
	}

	if _, err := f.orch.EndCall(ctx, 11, "u1"); !errors.Is(err, domain.ErrNoActiveCall) {
		t.Fatalf("second EndCall err = %v", err)
	}
	if _, err := f.orch.EndCall(ctx, 11, "stranger"); !errors.Is(err, domain.ErrNotMember) {
		t.Fatalf("EndCall by stranger err = %v", err)
	}
}

func TestActiveCall(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.members.Add(12, "u1")

	if _, err := f.orch.ActiveCall(ctx, 12); !errors.Is(err, domain.ErrNoActiveCall) {
		t.Fatalf("err = %v", err)
	}
	c, _ := dial("u1")
	res, _ := f.orch.Join(ctx, 12, "u1", c)
	ac, err := f.orch.ActiveCall(ctx, 12)
	if err != nil {
		t.Fatal(err)
	}
	if ac.Record.CallID != res.CallID || ac.Live != 1 {
		t.Fatalf("active call = %+v", ac)
	}
}

func TestShutdownClosesConnections(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.members.Add(13, "u1", "u2")
	c1, s1 := dial("u1")
	c2, s2 := dial("u2")
	_, _ = f.orch.Join(ctx, 13, "u1", c1)
	_, _ = f.orch.Join(ctx, 13, "u2", c2)

	f.orch.Shutdown()
	if !s1.Closed() || !s2.Closed() {
		t.Fatal("connections left open")
	}
}
