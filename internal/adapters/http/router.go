package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/skillshare/realtime/internal/adapters/chatws"
	"github.com/skillshare/realtime/internal/adapters/signal"
	"github.com/skillshare/realtime/internal/adapters/ws"
	"github.com/skillshare/realtime/internal/app/chat"
	"github.com/skillshare/realtime/internal/app/orch"
	"github.com/skillshare/realtime/internal/config"
	"github.com/skillshare/realtime/internal/core"
)

// Deps are the services the router hands requests to.
type Deps struct {
	Orch     *orch.Orchestrator
	Hub      *chat.Hub
	Stats    CallStatsReader
	Messages MessageStore
	Members  core.MembershipChecker
	Auth     *Authenticator
	Limiter  *signal.JoinRateLimiter
}

func wsOptions(cfg *config.Config) ws.Options {
	return ws.Options{
		SendBuffer: cfg.WS.SendBuffer,
		ReadLimit:  cfg.WS.ReadLimit,
		WriteWait:  cfg.WS.WriteWait,
		PongWait:   cfg.WS.PongWait,
		PingPeriod: cfg.WS.PingPeriod,
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, d Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: int(maxSessionTTL.Seconds()), HttpOnly: true, SameSite: http.SameSiteLaxMode})
	r.Use(sessions.Sessions("RealtimeSession", store))
	r.Use(AuthMiddleware(d.Auth, cfg.AllowQueryUserID))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	opts := wsOptions(cfg)
	signalCtl := signal.NewSignalWSController(d.Orch, opts, d.Limiter)
	chatCtl := chatws.NewChatWSController(d.Hub, opts)

	wsg := r.Group("/ws")
	wsg.GET("/call/:callId", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("request_id", c.GetString(requestIDKey)).Msg("ws call endpoint hit")
		signalCtl.HandleCall(ctx, c)
	})
	wsg.GET("/call/group/:groupId", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("request_id", c.GetString(requestIDKey)).Msg("ws group call endpoint hit")
		signalCtl.HandleGroup(ctx, c)
	})
	wsg.GET("/chat/:groupId", func(c *gin.Context) {
		chatCtl.HandleWS(ctx, c)
	})

	calls := &CallsHandler{Orch: d.Orch, Stats: d.Stats, Members: d.Members, ICE: cfg.ICE}
	messages := &MessagesHandler{Messages: d.Messages, Members: d.Members, Hub: d.Hub}

	api := r.Group("/api", RequireUser())
	{
		c := api.Group("/calls")
		c.POST("/create-room", calls.CreateRoom)
		c.POST("/join-call", calls.JoinCall)
		c.GET("/active-call/:groupId", calls.GetActiveCall)
		c.POST("/end-call", calls.EndCall)
		c.GET("/call-stats/:groupId", calls.GetCallStats)
		c.GET("/user-stats", calls.GetUserStats)
		c.GET("/ice-servers", calls.GetICEServers)
	}
	api.POST("/groups/:groupId/chat/messages", messages.PostMessage)
	api.GET("/groups/:groupId/chat/messages", messages.ListMessages)

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Bool("query_user_id", cfg.AllowQueryUserID).Msg("router setup")
	return r
}
