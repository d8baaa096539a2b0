package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/skillshare/realtime/internal/adapters/http"
	"github.com/skillshare/realtime/internal/adapters/rtc"
	sig "github.com/skillshare/realtime/internal/adapters/signal"
	"github.com/skillshare/realtime/internal/app"
	"github.com/skillshare/realtime/internal/app/chat"
	"github.com/skillshare/realtime/internal/app/orch"
	"github.com/skillshare/realtime/internal/config"
	"github.com/skillshare/realtime/internal/core"
	"github.com/skillshare/realtime/internal/domain"
	"github.com/skillshare/realtime/internal/events"
	"github.com/skillshare/realtime/internal/storage"
	"github.com/skillshare/realtime/internal/storage/cache"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Logger first so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "release" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if cfg.Secret == config.DefaultSecret {
		log.Warn().Str("mode", cfg.Mode).Msg("session cookies signed with the default secret")
	}

	db, err := storage.Open(storage.Options{
		Driver:      cfg.DB.Driver,
		DSN:         cfg.DB.DSN,
		AutoMigrate: cfg.DB.AutoMigrate,
		MaxOpen:     cfg.DB.MaxOpen,
		MaxIdle:     cfg.DB.MaxIdle,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	calls := storage.NewCallRepo(db)

	var members core.MembershipChecker = storage.NewMemberRepo(db)
	if cfg.Redis.Enabled {
		rdb, err := cache.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unavailable, membership cache disabled")
		} else {
			defer rdb.Close()
			members = cache.NewMembership(rdb, members, cfg.Redis.TTL)
		}
	}

	var sink core.EventSink = core.NopEventSink{}
	if cfg.Rabbit.Enabled {
		pub, err := events.NewPublisher(cfg.Rabbit.URL, cfg.Rabbit.Queue)
		if err != nil {
			log.Warn().Err(err).Msg("rabbitmq unavailable, call events disabled")
		} else {
			defer pub.Close()
			async := events.NewAsync(pub, cfg.Rabbit.Buffer)
			defer async.Close()
			sink = async
		}
	}

	callRouter := app.NewRouter("call", app.NewRegistry[domain.CallID]("call"), "callId",
		app.WithValidator[domain.CallID](rtc.ValidateSignal),
		app.WithPolicy[domain.CallID](app.SimplePolicy{}),
	)
	o := orch.New(callRouter, calls, members, sink)

	// chat history is recoverable over REST, so a lagging reader only loses frames
	chatRouter := app.NewRouter("chat", app.NewRegistry[domain.GroupID]("chat"), "groupId",
		app.WithPolicy[domain.GroupID](app.TolerantPolicy{}),
	)
	hub := chat.NewHub(chatRouter, members)

	var auth *router.Authenticator
	if cfg.JWTSecret != "" {
		if auth, err = router.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer); err != nil {
			log.Fatal().Err(err).Msg("jwt setup")
		}
	} else {
		log.Warn().Msg("jwt_secret not set, bearer tokens are ignored")
	}

	limiter := sig.NewJoinRateLimiter(cfg.JoinRate.Limit, cfg.JoinRate.Interval)
	go pruneLimiter(ctx, limiter, cfg.JoinRate.Interval)

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Orch:     o,
		Hub:      hub,
		Stats:    calls,
		Messages: storage.NewMessageRepo(db),
		Members:  members,
		Auth:     auth,
		Limiter:  limiter,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("realtime server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	// hijacked websockets are not tracked by srv.Shutdown
	o.Shutdown()
	hub.Shutdown()
	waitDrained(shutdownCtx, o)

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("Server exited gracefully")
}

// waitDrained gives the read loops of closed call connections time to
// finalize their persisted calls.
func waitDrained(ctx context.Context, o *orch.Orchestrator) {
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for o.Calls.Len() > 0 {
		select {
		case <-ctx.Done():
			log.Warn().Int("calls", o.Calls.Len()).Msg("shutdown with live calls")
			return
		case <-t.C:
		}
	}
}

func pruneLimiter(ctx context.Context, l *sig.JoinRateLimiter, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := l.Prune(); n > 0 {
				log.Debug().Str("module", "main").Int("users", n).Msg("rate limiter pruned")
			}
		}
	}
}
