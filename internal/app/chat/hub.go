// Package chat fans group chat frames out to the live members of a group.
package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/skillshare/realtime/internal/app"
	"github.com/skillshare/realtime/internal/core"
	"github.com/skillshare/realtime/internal/domain"
)

const welcomeText = "Connected to chat"

type Hub struct {
	Groups  *app.Registry[domain.GroupID]
	Router  *app.Router[domain.GroupID]
	Members core.MembershipChecker
}

func NewHub(router *app.Router[domain.GroupID], members core.MembershipChecker) *Hub {
	return &Hub{Groups: router.Registry(), Router: router, Members: members}
}

// Connect registers conn under group after the membership check and greets it.
func (h *Hub) Connect(ctx context.Context, group domain.GroupID, user domain.UserID, conn *core.Connection) error {
	ok, err := h.Members.IsMember(ctx, group, user)
	if err != nil {
		return fmt.Errorf("membership check: %w", err)
	}
	if !ok {
		log.Info().Str("module", "app.chat").Int64("group_id", int64(group)).Str("user_id", string(user)).Msg("chat rejected, not a member")
		return domain.ErrNotMember
	}

	conn.GroupID = group
	n := h.Groups.Register(group, conn)

	welcome := app.Envelope{
		Type:      domain.TypeConnectionEstablished,
		Timestamp: time.Now(),
		Extra:     map[string]any{"message": welcomeText, "groupId": group},
	}
	if err := h.Router.SendTo(conn, welcome); err != nil {
		log.Warn().Err(err).Str("module", "app.chat").Uint64("conn", conn.ID).Msg("welcome not delivered")
	}
	log.Info().Str("module", "app.chat").Int64("group_id", int64(group)).Str("user_id", string(user)).Int("online", n).Msg("chat connected")
	return nil
}

// Route relays a client frame to the rest of the sender's group.
func (h *Hub) Route(conn *core.Connection, raw []byte) (app.Delivery, error) {
	return h.Router.Route(conn, conn.GroupID, raw)
}

// Disconnect is idempotent.
func (h *Hub) Disconnect(conn *core.Connection) bool {
	removed := h.Groups.Remove(conn.GroupID, conn)
	if removed {
		log.Info().Str("module", "app.chat").Int64("group_id", int64(conn.GroupID)).Str("user_id", string(conn.UserID)).Msg("chat disconnected")
	}
	return removed
}

// NotifyNewMessage tells every live member of group about a persisted
// message. It is called from the REST write path.
func (h *Hub) NotifyNewMessage(group domain.GroupID, message any) app.Delivery {
	d := h.Router.Broadcast(group, app.NewNotification(domain.TypeNewMessage, message))
	log.Debug().Str("module", "app.chat").Int64("group_id", int64(group)).Int("sent", d.Sent).Msg("new message notified")
	return d
}

func (h *Hub) Online(group domain.GroupID) int { return h.Groups.Count(group) }

func (h *Hub) Shutdown() {
	var wg conc.WaitGroup
	for _, g := range h.Groups.Keys() {
		for _, c := range h.Groups.AllMembers(g) {
			wg.Go(c.Signal.Close)
		}
	}
	wg.Wait()
}
