package orch

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/skillshare/realtime/internal/app"
	"github.com/skillshare/realtime/internal/core"
	"github.com/skillshare/realtime/internal/domain"
	"github.com/skillshare/realtime/internal/metrics"
)

type ActiveCall struct {
	Record *domain.CallRecord `json:"call"`
	Live   int                `json:"liveParticipants"`
}

// ActiveCall returns the persisted active call of group with its live count.
func (o *Orchestrator) ActiveCall(ctx context.Context, group domain.GroupID) (ActiveCall, error) {
	rec, err := o.Store.FindActiveCall(ctx, group)
	if err != nil {
		return ActiveCall{}, fmt.Errorf("find active call: %w", err)
	}
	if rec == nil {
		return ActiveCall{}, domain.ErrNoActiveCall
	}
	return ActiveCall{Record: rec, Live: o.Calls.Count(rec.CallID)}, nil
}

// EndCall force-terminates the group's active call on behalf of user. Live
// connections are evicted at once, so their own teardown becomes a no-op.
func (o *Orchestrator) EndCall(ctx context.Context, group domain.GroupID, user domain.UserID) (domain.CallID, error) {
	ok, err := o.Members.IsMember(ctx, group, user)
	if err != nil {
		return "", fmt.Errorf("membership check: %w", err)
	}
	if !ok {
		return "", domain.ErrNotMember
	}

	unlock := o.groups.Lock(group)
	rec, err := o.Store.FindActiveCall(ctx, group)
	if err != nil {
		unlock()
		return "", fmt.Errorf("find active call: %w", err)
	}
	if rec == nil {
		unlock()
		return "", domain.ErrNoActiveCall
	}

	evicted := o.Calls.Evict(rec.CallID)
	for _, c := range evicted {
		o.releaseUser(c)
	}
	endErr := o.Store.EndCall(ctx, rec.CallID, user)
	if endErr != nil {
		metrics.PersistenceErrors.WithLabelValues("end_call").Inc()
		endErr = fmt.Errorf("end call: %w", endErr)
	}
	unlock()

	metrics.CallTransitions.WithLabelValues("force_ended").Inc()
	o.publish(ctx, domain.EventCallEnded, rec.CallID, group, user, 0)

	notice := app.NewControl(domain.TypeCallEnded, map[string]any{
		"callId":  rec.CallID,
		"groupId": group,
		"endedBy": user,
	})
	o.closeAll(evicted, &notice)

	l := log.Info()
	if endErr != nil {
		l = log.Error().Err(endErr)
	}
	l.Str("module", "app.orch").Str("call_id", string(rec.CallID)).Int64("group_id", int64(group)).Str("ended_by", string(user)).Int("evicted", len(evicted)).Msg("call ended")
	return rec.CallID, endErr
}

// Shutdown closes every live call connection. Their read loops run the
// regular leave path, which finalizes the persisted calls.
func (o *Orchestrator) Shutdown() {
	var conns []*core.Connection
	for _, id := range o.Calls.Keys() {
		conns = append(conns, o.Calls.AllMembers(id)...)
	}
	log.Info().Str("module", "app.orch").Int("connections", len(conns)).Msg("closing call connections")
	o.closeAll(conns, nil)
}

func (o *Orchestrator) closeAll(conns []*core.Connection, notice *app.Envelope) {
	var wg conc.WaitGroup
	for _, c := range conns {
		wg.Go(func() {
			if notice != nil {
				_ = o.Router.SendTo(c, *notice)
			}
			c.Signal.Close()
		})
	}
	wg.Wait()
}
