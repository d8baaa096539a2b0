package signal

import (
	"context"
	"errors"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/skillshare/realtime/internal/adapters/ws"
	"github.com/skillshare/realtime/internal/core"
	"github.com/skillshare/realtime/internal/domain"
)

// readPump owns the teardown of conn: whatever ends the loop, Leave runs once.
func (ctl *SignalWSController) readPump(ctx context.Context, conn *core.Connection, wsConn *ws.Conn) {
	defer func() {
		res, err := ctl.Orch.Leave(context.WithoutCancel(ctx), conn)
		if err != nil {
			log.Error().Err(err).Str("module", "signal").Str("call_id", string(res.CallID)).Msg("leave")
		}
		log.Info().Str("module", "signal").Str("user_id", string(conn.UserID)).Uint64("conn", conn.ID).Msg("readPump closing")
		wsConn.Close()
	}()

	if err := wsConn.ReadLoop(func(data []byte) { ctl.handleSignal(conn, data) }); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("user_id", string(conn.UserID)).Msg("readPump read error")
	}
}

func (ctl *SignalWSController) handleSignal(conn *core.Connection, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	// malformed frames go to the router, which drops and counts them
	_ = json.Unmarshal(data, &env)

	switch env.Type {
	case domain.TypePing:
		ctl.handlePing(conn)
	default:
		ctl.relay(conn, data)
	}
}

func (ctl *SignalWSController) relay(conn *core.Connection, data []byte) {
	id, ok := conn.CallID()
	if !ok {
		return
	}
	if _, err := ctl.Orch.Router.Route(conn, id, data); err != nil && errors.Is(err, domain.ErrMalformed) {
		ctl.sendError(conn, "malformed", err)
	}
}
