package orch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/skillshare/realtime/internal/app"
	"github.com/skillshare/realtime/internal/core"
	"github.com/skillshare/realtime/internal/domain"
	"github.com/skillshare/realtime/internal/metrics"
)

// Orchestrator owns the call lifecycle: it is the only place where the live
// registry and the persisted call records change together. Join and Leave for
// one group are serialized by a per-group lock.
type Orchestrator struct {
	Calls   *app.Registry[domain.CallID]
	Router  *app.Router[domain.CallID]
	Store   core.CallStore
	Members core.MembershipChecker
	Events  core.EventSink

	groups app.KeyedMutex[domain.GroupID]

	mu     sync.Mutex
	byUser map[domain.UserID]*core.Connection
}

func New(router *app.Router[domain.CallID], store core.CallStore, members core.MembershipChecker, events core.EventSink) *Orchestrator {
	if events == nil {
		events = core.NopEventSink{}
	}
	return &Orchestrator{
		Calls:   router.Registry(),
		Router:  router,
		Store:   store,
		Members: members,
		Events:  events,
		byUser:  make(map[domain.UserID]*core.Connection),
	}
}

type JoinResult struct {
	CallID       domain.CallID
	GroupID      domain.GroupID
	Created      bool
	Participants int
	// Persisted is false when the registry accepted the connection but a
	// store write failed; the returned error carries the cause.
	Persisted bool
}

type LeaveResult struct {
	CallID    domain.CallID
	Removed   bool
	Ended     bool
	Remaining int
}

// Join attaches conn to the active call of group, creating the call when the
// group has none. Non-members are rejected before anything changes.
func (o *Orchestrator) Join(ctx context.Context, group domain.GroupID, user domain.UserID, conn *core.Connection) (JoinResult, error) {
	ok, err := o.Members.IsMember(ctx, group, user)
	if err != nil {
		return JoinResult{}, fmt.Errorf("membership check: %w", err)
	}
	if !ok {
		log.Info().Str("module", "app.orch").Int64("group_id", int64(group)).Str("user_id", string(user)).Msg("join rejected, not a member")
		return JoinResult{}, domain.ErrNotMember
	}

	conn.GroupID = group
	if prev := o.claimUser(user, conn); prev != nil {
		// one live call connection per user: the older one leaves first
		log.Info().Str("module", "app.orch").Str("user_id", string(user)).Uint64("conn", prev.ID).Msg("replacing previous call connection")
		if _, err := o.Leave(ctx, prev); err != nil {
			log.Warn().Err(err).Str("module", "app.orch").Str("user_id", string(user)).Msg("leave of replaced connection")
		}
		prev.Signal.Close()
	}

	res, err := o.attach(ctx, group, user, conn)
	if err != nil && res.CallID == "" {
		o.releaseUser(conn)
	}
	return res, err
}

// JoinCall resolves the group of a call id and joins it. An ended call is
// never resurrected: the join lands on the group's active call or a new one.
func (o *Orchestrator) JoinCall(ctx context.Context, id domain.CallID, user domain.UserID, conn *core.Connection) (JoinResult, error) {
	rec, err := o.Store.GetCall(ctx, id)
	if err != nil {
		return JoinResult{}, err
	}
	return o.Join(ctx, rec.GroupID, user, conn)
}

func (o *Orchestrator) attach(ctx context.Context, group domain.GroupID, user domain.UserID, conn *core.Connection) (JoinResult, error) {
	unlock := o.groups.Lock(group)
	defer unlock()

	res := JoinResult{GroupID: group, Persisted: true}
	if !o.holds(user, conn) {
		return res, domain.ErrSuperseded
	}

	rec, err := o.Store.FindActiveCall(ctx, group)
	if err != nil {
		metrics.PersistenceErrors.WithLabelValues("find_active").Inc()
		return res, fmt.Errorf("find active call: %w", err)
	}
	if rec != nil && o.Calls.Count(rec.CallID) == 0 {
		// active in the store but nobody live, left over from a previous process
		log.Warn().Str("module", "app.orch").Str("call_id", string(rec.CallID)).Int64("group_id", int64(group)).Msg("closing stale call")
		if err := o.Store.EndCall(ctx, rec.CallID, user); err != nil {
			metrics.PersistenceErrors.WithLabelValues("end_call").Inc()
			return res, fmt.Errorf("end stale call: %w", err)
		}
		metrics.CallTransitions.WithLabelValues("stale_ended").Inc()
		rec = nil
	}

	var errs []error
	if rec == nil {
		rec, err = o.Store.CreateCall(ctx, group, user)
		if err != nil {
			metrics.PersistenceErrors.WithLabelValues("create_call").Inc()
			return res, fmt.Errorf("create call: %w", err)
		}
		res.Created = true
		conn.BindCall(rec.CallID)
		res.Participants = o.Calls.Register(rec.CallID, conn)
		metrics.CallTransitions.WithLabelValues("created").Inc()
	} else {
		conn.BindCall(rec.CallID)
		res.Participants = o.Calls.Register(rec.CallID, conn)
		if err := o.Store.IncrementParticipantCount(ctx, rec.CallID); err != nil {
			metrics.PersistenceErrors.WithLabelValues("increment").Inc()
			errs = append(errs, fmt.Errorf("increment participants: %w", err))
		}
	}
	res.CallID = rec.CallID

	if err := o.Store.OpenParticipantInterval(ctx, rec.CallID, user); err != nil {
		metrics.PersistenceErrors.WithLabelValues("open_interval").Inc()
		errs = append(errs, fmt.Errorf("open participant interval: %w", err))
	}
	metrics.CallTransitions.WithLabelValues("joined").Inc()

	o.Router.Broadcast(rec.CallID, app.NewPresence(domain.TypeUserJoined, user, res.Participants))

	kind := domain.EventParticipantJoined
	if res.Created {
		kind = domain.EventCallStarted
	}
	o.publish(ctx, kind, rec.CallID, group, user, res.Participants)

	l := log.Info()
	if len(errs) > 0 {
		res.Persisted = false
		l = log.Error().Err(errors.Join(errs...))
	}
	l.Str("module", "app.orch").Str("call_id", string(rec.CallID)).Int64("group_id", int64(group)).Str("user_id", string(user)).Bool("created", res.Created).Int("participants", res.Participants).Msg("joined call")

	return res, errors.Join(errs...)
}

// Leave runs the teardown of conn exactly once. Later calls, and calls for a
// connection that never joined, are no-ops.
func (o *Orchestrator) Leave(ctx context.Context, conn *core.Connection) (LeaveResult, error) {
	unlock := o.groups.Lock(conn.GroupID)
	defer unlock()

	id, ok := conn.CallID()
	if !ok {
		return LeaveResult{}, nil
	}
	removed, remaining := o.Calls.Detach(id, conn)
	res := LeaveResult{CallID: id, Removed: removed, Remaining: remaining}
	if !removed {
		return res, nil
	}
	o.releaseUser(conn)

	var errs []error
	if err := o.Store.CloseParticipantInterval(ctx, id, conn.UserID); err != nil {
		metrics.PersistenceErrors.WithLabelValues("close_interval").Inc()
		errs = append(errs, fmt.Errorf("close participant interval: %w", err))
	}
	if err := o.Store.DecrementParticipantCount(ctx, id); err != nil {
		metrics.PersistenceErrors.WithLabelValues("decrement").Inc()
		errs = append(errs, fmt.Errorf("decrement participants: %w", err))
	}
	metrics.CallTransitions.WithLabelValues("left").Inc()

	if remaining == 0 {
		res.Ended = true
		if err := o.Store.EndCall(ctx, id, conn.UserID); err != nil {
			metrics.PersistenceErrors.WithLabelValues("end_call").Inc()
			errs = append(errs, fmt.Errorf("end call: %w", err))
		}
		metrics.CallTransitions.WithLabelValues("ended").Inc()
		o.publish(ctx, domain.EventCallEnded, id, conn.GroupID, conn.UserID, 0)
	} else {
		o.Router.Broadcast(id, app.NewPresence(domain.TypeUserLeft, conn.UserID, remaining))
		o.publish(ctx, domain.EventParticipantLeft, id, conn.GroupID, conn.UserID, remaining)
	}

	err := errors.Join(errs...)
	l := log.Info()
	if err != nil {
		l = log.Error().Err(err)
	}
	l.Str("module", "app.orch").Str("call_id", string(id)).Str("user_id", string(conn.UserID)).Int("remaining", remaining).Bool("ended", res.Ended).Msg("left call")
	return res, err
}

// CallOf reports the call the user currently holds a live connection in.
func (o *Orchestrator) CallOf(user domain.UserID) (domain.CallID, bool) {
	o.mu.Lock()
	c, ok := o.byUser[user]
	o.mu.Unlock()
	if !ok {
		return "", false
	}
	return c.CallID()
}

func (o *Orchestrator) ParticipantCount(id domain.CallID) int { return o.Calls.Count(id) }

// claimUser records conn as the user's call connection and returns the one it
// replaces, if any.
func (o *Orchestrator) claimUser(user domain.UserID, conn *core.Connection) *core.Connection {
	o.mu.Lock()
	defer o.mu.Unlock()
	prev := o.byUser[user]
	o.byUser[user] = conn
	if prev == conn {
		return nil
	}
	return prev
}

func (o *Orchestrator) holds(user domain.UserID, conn *core.Connection) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.byUser[user] == conn
}

func (o *Orchestrator) releaseUser(conn *core.Connection) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.byUser[conn.UserID] == conn {
		delete(o.byUser, conn.UserID)
	}
}

func (o *Orchestrator) publish(ctx context.Context, kind domain.CallEventKind, id domain.CallID, group domain.GroupID, user domain.UserID, n int) {
	ev := domain.CallEvent{Kind: kind, CallID: id, GroupID: group, UserID: user, Participants: n, At: time.Now()}
	if err := o.Events.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Str("module", "app.orch").Str("call_id", string(id)).Str("kind", string(kind)).Msg("publish call event")
	}
}
