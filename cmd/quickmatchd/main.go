package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"quickmatch-server/matchmaking"
	"quickmatch-server/matchmaking/application"
	"quickmatch-server/matchmaking/infra"
)

func main() {
	cfg, err := readConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	memStats := infra.NewMemoryStatsStore(infra.WithTrackSlots(true))
	stats := infra.MultiStatsStore{memStats}
	if cfg.Stats.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Stats.RedisAddr,
			Password: cfg.Stats.RedisPassword,
			DB:       cfg.Stats.RedisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		pingCancel()
		if err != nil {
			return fmt.Errorf("redis stats ping: %w", err)
		}

		stats = append(stats, infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.Stats.Prefix),
			infra.WithStatsTTL(cfg.Stats.TTL),
			infra.WithStatsBucket(cfg.Stats.Bucket),
			infra.WithStatsTrackSlots(cfg.Stats.TrackSlots),
		))
	}

	limiters := infra.NewLimiterStore(cfg.RateRPS, cfg.RateBurst)
	limiters.StartJanitor(ctx)

	host := infra.NewWSHost(cfg.BindHost, cfg.PublicHost,
		infra.WithHostLogger(logger.With("component", "host")),
		infra.WithWriteTimeout(cfg.HostWrite))

	auth, err := application.NewAuthority(application.Config{
		Pool: application.PoolConfig{
			TargetSpare:   cfg.TargetSpare,
			Capacity:      cfg.SlotCapacity,
			IdleTimeout:   cfg.IdleShutdown,
			SetupTimeout:  cfg.SetupTimeout,
			BasePort:      cfg.BasePort,
			SessionPrefix: cfg.RoomPrefix,
		},
		Tick:           cfg.Tick,
		ReconnectGrace: cfg.ReconnectGrace,
		ConfirmTimeout: cfg.ConfirmTimeout,
		AdmissionWait:  cfg.AdmissionWait,
		RetryAfter:     cfg.RetryAfter,
	}, application.Deps{
		Host:      host,
		Queue:     infra.NewFIFO(),
		Admission: infra.NewChanPool(cfg.MaxParticipants),
		Limiters:  limiters,
		Stats:     stats,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	authErr := make(chan error, 1)
	go func() { authErr <- auth.Run(ctx) }()

	var roster matchmaking.Roster
	if cfg.RosterURL != "" {
		roster = infra.NewRosterClient(cfg.RosterURL, cfg.RosterTimeout)
	}

	var connectLimit matchmaking.ConnectLimitOptions
	if cfg.ConnectRateEnabled {
		connectStore := infra.NewLimiterStore(cfg.ConnectRateRPS, cfg.ConnectRateBurst)
		connectStore.StartJanitor(ctx)
		connectLimit = matchmaking.ConnectLimitOptions{
			Store:               connectStore,
			Stats:               stats,
			TrustXForwardedFor:  cfg.TrustXFF,
			RetryAfter:          cfg.RetryAfter,
			AddRateLimitHeaders: cfg.AddHeaders,
		}
	}

	mux := matchmaking.NewMux(matchmaking.MuxOptions{
		WS: matchmaking.WSOptions{
			Authority: auth,
			Roster:    roster,
			Logger:    logger.With("component", "ws"),
		},
		ConnectLimit: connectLimit,
	})

	// sem Read/WriteTimeout: as conexões /ws ficam abertas
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		readyCtx, cancel := context.WithTimeout(ctx, cfg.SetupTimeout+5*time.Second)
		defer cancel()
		if err := auth.WaitReady(readyCtx); err != nil {
			logger.Warn("initial spare capacity not ready", "err", err)
			return
		}
		logger.Info("initial spare capacity ready", "target", cfg.TargetSpare)
		printDashboard(ctx, auth, memStats)
	}()

	if cfg.DashboardEvery > 0 {
		go runDashboard(ctx, auth, memStats, cfg.DashboardEvery)
	}

	printBanner(cfg)
	logger.Info("quickmatch listening", "addr", cfg.ListenAddr, "base_port", cfg.BasePort, "prefix", cfg.RoomPrefix)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		cancel()
		<-auth.Done()
		return err
	}

	// espera o pool derrubar os slots
	if err := <-authErr; err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
