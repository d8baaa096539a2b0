// Package signal serves the call-signaling websocket.
package signal

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/skillshare/realtime/internal/adapters/ws"
	"github.com/skillshare/realtime/internal/app/orch"
	"github.com/skillshare/realtime/internal/core"
	"github.com/skillshare/realtime/internal/domain"
)

// UserKey is the gin context key under which the auth layer stores the caller.
const UserKey = "user_id"

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Opts    ws.Options
	Limiter *JoinRateLimiter
}

func NewSignalWSController(o *orch.Orchestrator, opts ws.Options, limiter *JoinRateLimiter) *SignalWSController {
	return &SignalWSController{Orch: o, Opts: opts, Limiter: limiter}
}

type joinFunc func(ctx context.Context, user domain.UserID, conn *core.Connection) (orch.JoinResult, error)

// HandleCall serves /ws/call/:callId.
func (ctl *SignalWSController) HandleCall(ctx context.Context, c *gin.Context) {
	id := domain.CallID(c.Param("callId"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing call id"})
		return
	}
	ctl.serve(ctx, c, func(ctx context.Context, user domain.UserID, conn *core.Connection) (orch.JoinResult, error) {
		return ctl.Orch.JoinCall(ctx, id, user, conn)
	})
}

// HandleGroup serves /ws/call/group/:groupId: join the group's active call or start one.
func (ctl *SignalWSController) HandleGroup(ctx context.Context, c *gin.Context) {
	group, err := domain.ParseGroupID(c.Param("groupId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctl.serve(ctx, c, func(ctx context.Context, user domain.UserID, conn *core.Connection) (orch.JoinResult, error) {
		return ctl.Orch.Join(ctx, group, user, conn)
	})
}

func (ctl *SignalWSController) serve(ctx context.Context, c *gin.Context, join joinFunc) {
	user := domain.UserID(c.GetString(UserKey))
	if user == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	if ctl.Limiter != nil && !ctl.Limiter.Allow(user) {
		log.Warn().Str("module", "signal").Str("user_id", string(user)).Msg("join rate limited")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": domain.ErrRateLimited.Error()})
		return
	}

	wsConn, err := ws.Upgrade(c.Writer, c.Request, ctl.Opts)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	log.Info().Str("module", "signal").Str("user_id", string(user)).Str("remote", wsConn.RemoteAddr()).Msg("new WS connection")

	conn := core.NewConnection(user, 0, wsConn)
	go wsConn.WritePump(ctx)

	res, err := join(ctx, user, conn)
	if err != nil && res.CallID == "" {
		ctl.reject(conn, wsConn, err)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("call_id", string(res.CallID)).Msg("joined with persistence failure")
	}
	ctl.sendJoined(conn, res)

	go ctl.readPump(ctx, conn, wsConn)
}

func (ctl *SignalWSController) reject(conn *core.Connection, wsConn *ws.Conn, err error) {
	code, closeCode := "join_failed", websocket.CloseInternalServerErr
	switch {
	case errors.Is(err, domain.ErrNotMember):
		code, closeCode = "not_member", websocket.ClosePolicyViolation
	case errors.Is(err, domain.ErrCallNotFound):
		code, closeCode = "call_not_found", websocket.ClosePolicyViolation
	case errors.Is(err, domain.ErrSuperseded):
		code, closeCode = "superseded", websocket.ClosePolicyViolation
	}
	log.Warn().Err(err).Str("module", "signal").Str("user_id", string(conn.UserID)).Str("code", code).Msg("join rejected")
	ctl.sendError(conn, code, err)
	wsConn.CloseWith(closeCode, code)
}
