// Package chatws serves the group chat websocket.
package chatws

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/skillshare/realtime/internal/adapters/signal"
	"github.com/skillshare/realtime/internal/adapters/ws"
	"github.com/skillshare/realtime/internal/app"
	"github.com/skillshare/realtime/internal/app/chat"
	"github.com/skillshare/realtime/internal/core"
	"github.com/skillshare/realtime/internal/domain"
)

type ChatWSController struct {
	Hub  *chat.Hub
	Opts ws.Options
}

func NewChatWSController(hub *chat.Hub, opts ws.Options) *ChatWSController {
	return &ChatWSController{Hub: hub, Opts: opts}
}

// HandleWS serves /ws/chat/:groupId.
func (ctl *ChatWSController) HandleWS(ctx context.Context, c *gin.Context) {
	group, err := domain.ParseGroupID(c.Param("groupId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user := domain.UserID(c.GetString(signal.UserKey))
	if user == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	wsConn, err := ws.Upgrade(c.Writer, c.Request, ctl.Opts)
	if err != nil {
		log.Error().Err(err).Str("module", "chatws").Msg("ws upgrade")
		return
	}
	conn := core.NewConnection(user, group, wsConn)
	go wsConn.WritePump(ctx)

	if err := ctl.Hub.Connect(ctx, group, user, conn); err != nil {
		code, closeCode := "connect_failed", websocket.CloseInternalServerErr
		if errors.Is(err, domain.ErrNotMember) {
			code, closeCode = "not_member", websocket.ClosePolicyViolation
		}
		log.Warn().Err(err).Str("module", "chatws").Int64("group_id", int64(group)).Str("user_id", string(user)).Msg("chat rejected")
		ctl.send(conn, app.NewError(code, err))
		wsConn.CloseWith(closeCode, code)
		return
	}

	go ctl.readPump(conn, wsConn)
}

func (ctl *ChatWSController) readPump(conn *core.Connection, wsConn *ws.Conn) {
	defer func() {
		ctl.Hub.Disconnect(conn)
		wsConn.Close()
	}()

	err := wsConn.ReadLoop(func(data []byte) {
		var env struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(data, &env)
		if env.Type == domain.TypePing {
			ctl.send(conn, app.NewControl(domain.TypePong, nil))
			return
		}
		if _, err := ctl.Hub.Route(conn, data); errors.Is(err, domain.ErrMalformed) {
			ctl.send(conn, app.NewError("malformed", err))
		}
	})
	if err != nil {
		log.Warn().Err(err).Str("module", "chatws").Str("user_id", string(conn.UserID)).Msg("readPump read error")
	}
}

func (ctl *ChatWSController) send(conn *core.Connection, env app.Envelope) {
	if err := ctl.Hub.Router.SendTo(conn, env); err != nil {
		log.Warn().Err(err).Str("module", "chatws").Str("type", env.Type).Uint64("conn", conn.ID).Msg("send control frame")
	}
}
