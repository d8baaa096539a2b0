package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/skillshare/realtime/internal/adapters/rtc"
	"github.com/skillshare/realtime/internal/app/orch"
	"github.com/skillshare/realtime/internal/core"
	"github.com/skillshare/realtime/internal/domain"
)

// CallStatsReader is the read side of the call tables.
type CallStatsReader interface {
	GroupStats(ctx context.Context, group domain.GroupID) (domain.CallStats, error)
	UserStats(ctx context.Context, user domain.UserID) (domain.UserCallStats, error)
}

type CallsHandler struct {
	Orch    *orch.Orchestrator
	Stats   CallStatsReader
	Members core.MembershipChecker
	ICE     []rtc.ICEServer
}

type groupRequest struct {
	GroupID int64 `json:"groupId" binding:"required"`
}

// statusOf maps domain sentinels to HTTP statuses.
func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrBadGroupID), errors.Is(err, domain.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotMember):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNoActiveCall), errors.Is(err, domain.ErrCallNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func abortWith(c *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Str("request_id", c.GetString(requestIDKey)).Msg("request failed")
		c.AbortWithStatusJSON(status, gin.H{"error": "internal error"})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func bindGroup(c *gin.Context) (domain.GroupID, bool) {
	var req groupRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.GroupID <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": domain.ErrBadGroupID.Error()})
		return 0, false
	}
	return domain.GroupID(req.GroupID), true
}

func (h *CallsHandler) authorize(c *gin.Context, group domain.GroupID) bool {
	ok, err := h.Members.IsMember(c.Request.Context(), group, currentUser(c))
	if err != nil {
		abortWith(c, fmt.Errorf("membership check: %w", err))
		return false
	}
	if !ok {
		abortWith(c, domain.ErrNotMember)
		return false
	}
	return true
}

func wsPathFor(group domain.GroupID, active *domain.CallRecord) string {
	if active != nil {
		return "/ws/call/" + string(active.CallID)
	}
	return "/ws/call/group/" + group.String()
}

// CreateRoom tells the caller where to connect. The call itself starts on the
// first websocket join, so an already running call is returned instead.
func (h *CallsHandler) CreateRoom(c *gin.Context) {
	group, ok := bindGroup(c)
	if !ok || !h.authorize(c, group) {
		return
	}
	active, err := h.Orch.ActiveCall(c.Request.Context(), group)
	if err != nil && !errors.Is(err, domain.ErrNoActiveCall) {
		abortWith(c, err)
		return
	}
	resp := gin.H{"groupId": group, "existing": active.Record != nil, "wsPath": wsPathFor(group, active.Record)}
	if active.Record != nil {
		resp["callId"] = active.Record.CallID
		resp["liveParticipants"] = active.Live
	}
	c.JSON(http.StatusOK, resp)
}

// JoinCall requires a running call in the group.
func (h *CallsHandler) JoinCall(c *gin.Context) {
	group, ok := bindGroup(c)
	if !ok || !h.authorize(c, group) {
		return
	}
	active, err := h.Orch.ActiveCall(c.Request.Context(), group)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"groupId":          group,
		"callId":           active.Record.CallID,
		"liveParticipants": active.Live,
		"wsPath":           wsPathFor(group, active.Record),
	})
}

func (h *CallsHandler) GetActiveCall(c *gin.Context) {
	group, err := domain.ParseGroupID(c.Param("groupId"))
	if err != nil {
		abortWith(c, err)
		return
	}
	if !h.authorize(c, group) {
		return
	}
	active, err := h.Orch.ActiveCall(c.Request.Context(), group)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, active)
}

func (h *CallsHandler) EndCall(c *gin.Context) {
	group, ok := bindGroup(c)
	if !ok {
		return
	}
	id, err := h.Orch.EndCall(c.Request.Context(), group, currentUser(c))
	if err != nil {
		abortWith(c, err)
		return
	}
	log.Info().Str("module", "adapters.http").Str("call_id", string(id)).Str("user_id", string(currentUser(c))).Msg("call ended by request")
	c.JSON(http.StatusOK, gin.H{"callId": id, "ended": true})
}

func (h *CallsHandler) GetCallStats(c *gin.Context) {
	group, err := domain.ParseGroupID(c.Param("groupId"))
	if err != nil {
		abortWith(c, err)
		return
	}
	if !h.authorize(c, group) {
		return
	}
	st, err := h.Stats.GroupStats(c.Request.Context(), group)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"groupId":                group,
		"totalCalls":             st.TotalCalls,
		"totalParticipants":      st.TotalParticipants,
		"averageDurationSeconds": int64(st.AverageDuration.Seconds()),
		"totalDurationSeconds":   int64(st.TotalDuration.Seconds()),
	})
}

func (h *CallsHandler) GetUserStats(c *gin.Context) {
	st, err := h.Stats.UserStats(c.Request.Context(), currentUser(c))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"userId":               st.UserID,
		"totalCalls":           st.TotalCalls,
		"totalCallTimeSeconds": int64(st.TotalCallTime.Seconds()),
	})
}

func (h *CallsHandler) GetICEServers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"iceServers": rtc.Configuration(h.ICE).ICEServers})
}
