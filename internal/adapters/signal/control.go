package signal

import (
	"github.com/rs/zerolog/log"

	"github.com/skillshare/realtime/internal/app"
	"github.com/skillshare/realtime/internal/app/orch"
	"github.com/skillshare/realtime/internal/core"
	"github.com/skillshare/realtime/internal/domain"
)

func (ctl *SignalWSController) handlePing(conn *core.Connection) {
	ctl.send(conn, app.NewControl(domain.TypePong, nil))
}

func (ctl *SignalWSController) sendJoined(conn *core.Connection, res orch.JoinResult) {
	ctl.send(conn, app.NewControl(domain.TypeCallJoined, map[string]any{
		"callId":       res.CallID,
		"groupId":      res.GroupID,
		"userId":       conn.UserID,
		"participants": res.Participants,
		"created":      res.Created,
		"persisted":    res.Persisted,
	}))
}

func (ctl *SignalWSController) sendError(conn *core.Connection, code string, err error) {
	ctl.send(conn, app.NewError(code, err))
}

func (ctl *SignalWSController) send(conn *core.Connection, env app.Envelope) {
	if err := ctl.Orch.Router.SendTo(conn, env); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("type", env.Type).Uint64("conn", conn.ID).Msg("send control frame")
	}
}
