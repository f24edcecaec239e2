package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	router "github.com/dkeye/voicestage/internal/adapters/http"
	"github.com/dkeye/voicestage/internal/adapters/postgres"
	"github.com/dkeye/voicestage/internal/adapters/redisstore"
	wssignal "github.com/dkeye/voicestage/internal/adapters/signal"
	"github.com/dkeye/voicestage/internal/adapters/vip"
	"github.com/dkeye/voicestage/internal/app"
	"github.com/dkeye/voicestage/internal/app/fanout"
	"github.com/dkeye/voicestage/internal/app/orch"
	"github.com/dkeye/voicestage/internal/app/presence"
	"github.com/dkeye/voicestage/internal/config"
	"github.com/dkeye/voicestage/internal/core"
	"github.com/dkeye/voicestage/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, webhook receiver and room feeds",
	RunE:  runServe,
}

const shutdownTimeout = 5 * time.Second

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	deps := core.RoomDeps{}
	static := vip.NewStatic(vipRanks(cfg)...)
	deps.Vip = static
	var dedup presence.Deduper = presence.NewMemoryDeduper(cfg.Presence.DedupTTL, nil)

	if cfg.Redis.URL != "" {
		client, err := redisstore.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer client.Close()
		deps.Gate = redisstore.NewGate(client, cfg.Redis.SeatTTL)
		deps.Vip = vip.Chain{static, redisstore.NewVipTable(client)}
		dedup = redisstore.NewDeduper(client, cfg.Presence.DedupTTL)
		log.Info().Str("module", "main").Msg("redis seat gate, dedup and vip table enabled")
	}

	var writer postgres.Writer = postgres.LogWriter{}
	var history core.HistoryReader
	if cfg.Postgres.DSN != "" {
		pool, err := postgres.Connect(ctx, cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		store := postgres.NewHistoryStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		last, err := store.LastID(ctx)
		if err != nil {
			return err
		}
		deps.IDs = core.NewSequence(last)
		writer = store
		history = store
		log.Info().Str("module", "main").Uint64("last_request", uint64(last)).Msg("postgres history enabled")
	}
	recorder := postgres.NewRecorder(writer, 0)
	deps.History = recorder

	hub := fanout.NewHub(cfg.Fanout.Buffer, fanout.SimplePolicy{Action: cfg.Backpressure()})
	scorer := presence.NewScorer(presence.Options{
		Dedup:   dedup,
		Pub:     hub,
		Workers: cfg.Presence.Workers,
	})
	manager := app.NewRoomManager(app.ManagerOptions{
		Deps:           deps,
		Policies:       cfg.PolicyFor,
		Hub:            hub,
		Scorer:         scorer,
		IdleTTL:        cfg.RoomsIdleTTL,
		PendingTTL:     cfg.Seats.PendingTTL,
		StatsRetention: cfg.Presence.RetainEndedFor,
		RescoreEvery:   cfg.Presence.RescoreEvery,
	})
	for _, rc := range cfg.Rooms {
		manager.GetOrCreate(domain.RoomID(rc.ID))
	}

	reg := app.NewRegistry()
	o := &orch.Orchestrator{
		Registry: reg,
		Rooms:    manager,
		Policy:   app.SimplePolicy{AutoPromote: cfg.Seats.AutoPromote},
		Hub:      hub,
		Scorer:   scorer,
		History:  history,
	}

	ws := wssignal.NewSignalWSController(o, wssignal.NewRoomRateLimiter(5, time.Minute))
	ws.ReadLimit = cfg.ReadLimit
	ws.PingPeriod = cfg.PingPeriod

	var tokens *router.TokenIssuer
	if cfg.JWTSecret != "" {
		tokens = router.NewTokenIssuer(cfg.JWTSecret, 0)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.SetupRouter(ctx, cfg, o, tokens, ws),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("voicestage server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		recorder.Run()
		return nil
	})
	g.Go(func() error {
		return manager.Run(gctx, cfg.SweepInterval)
	})
	g.Go(func() error {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
				ws.Limiter.Prune()
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server forced to shutdown")
		}
		reg.CancelAll()
		hub.Shutdown()
		if err := recorder.Close(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("history not drained")
		}
		if n := recorder.Dropped(); n > 0 {
			log.Warn().Int64("dropped", n).Msg("history records dropped")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("server exited gracefully")
	return nil
}

func vipRanks(cfg *config.Config) []domain.VipRank {
	out := make([]domain.VipRank, 0, len(cfg.Vip))
	for _, v := range cfg.Vip {
		out = append(out, domain.VipRank{UserID: domain.UserID(v.User), Priority: v.Priority, Name: v.Name, Badge: v.Badge})
	}
	return out
}
