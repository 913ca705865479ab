package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"collectord/internal/authz"
	"collectord/internal/backend"
	"collectord/internal/cache"
	"collectord/internal/config"
	"collectord/internal/coordinator"
	"collectord/internal/eligibility"
	"collectord/internal/handler"
	"collectord/internal/ledger"
	"collectord/internal/logging"
	"collectord/internal/middleware"
	"collectord/internal/model"
	"collectord/internal/realtime"
	"collectord/internal/repository"
	"collectord/internal/router"
	"collectord/internal/service"
	"collectord/internal/session"
	"collectord/internal/signer"

	"github.com/rs/zerolog"
)

func main() {
	cfg := config.MustLoad()

	log, err := logging.New(cfg.App.LogLevel, cfg.App.IsDevelopment(), os.Stderr)
	if err != nil {
		panic(err)
	}
	log.Info().
		Str("env", cfg.App.Environment).
		Str("version", cfg.App.Version).
		Str("holder", cfg.Session.Holder).
		Msg("starting collectord")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Snapshot cache
	var store cache.Cache
	switch cfg.Cache.Type {
	case "redis":
		rc, err := cache.NewRedisCache(cache.RedisConfig{
			Addr:      cfg.Cache.RedisAddress(),
			Password:  cfg.Cache.RedisPassword,
			DB:        cfg.Cache.RedisDB,
			KeyPrefix: cfg.Cache.RedisPrefix,
		})
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, falling back to memory cache")
			store = cache.NewMemoryCache(time.Minute)
		} else {
			store = rc
			log.Info().Str("addr", cfg.Cache.RedisAddress()).Msg("redis snapshot cache initialized")
		}
	default:
		store = cache.NewMemoryCache(time.Minute)
	}
	defer store.Close()
	snapshots := cache.NewSnapshotStore(store, cfg.Cache.TTL)

	// Action journal
	journal, err := openJournal(cfg.Journal)
	if err != nil {
		log.Fatal().Err(err).Str("type", cfg.Journal.Type).Msg("failed to open journal")
	}
	defer journal.Close()
	log.Info().Str("type", cfg.Journal.Type).Msg("journal initialized")

	// Ledger, backend and signer
	reader := ledger.NewReader(ledger.Config{
		URL:         cfg.Ledger.RPCURL,
		Retries:     cfg.Ledger.ReadRetries,
		ReadTimeout: cfg.Ledger.ReadTimeout,
	}, log)
	confirmer := ledger.NewConfirmer(cfg.Ledger.RPCURL, cfg.Ledger.ReceiptInterval, nil, log)
	api := backend.New(cfg.Backend.URL, cfg.Backend.Token, cfg.Backend.RequestTimeout)
	sess := session.New(cfg.Session.Holder, cfg.Session.ChainID, reader, cfg.Session.CheckTTL)

	coord := coordinator.New(coordinator.Config{
		Holder:           cfg.Session.Holder,
		ChainID:          cfg.Session.ChainID,
		SignatureTimeout: cfg.Signer.SignatureTimeout,
		PollInterval:     cfg.Reconcile.Interval,
		PollAttempts:     cfg.Reconcile.MaxAttempts,
		SweepInterval:    cfg.Reconcile.SweepInterval,
		IOTimeout:        cfg.Backend.RequestTimeout,
	}, coordinator.Deps{
		Verifier:  eligibility.New(api, reader, log),
		Signer:    signer.NewHTTPAgent(cfg.Signer.URL),
		Confirmer: confirmer,
		Backend:   api,
		Tracker:   authz.NewTracker(reader, log),
		Journal:   journal,
		Snapshots: snapshots,
		Chain:     sess,
	}, log)

	if err := coord.Restore(ctx); err != nil {
		log.Warn().Err(err).Msg("no cached snapshot restored")
	}
	if err := coord.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("initial refresh failed; serving last known state")
	}
	coord.Start(ctx)

	// Push channel (optional)
	var channel handler.Channel
	var push *realtime.Channel
	if cfg.Realtime.URL != "" {
		push = realtime.New(realtime.Config{
			URL:        cfg.Realtime.URL,
			Header:     bearer(cfg.Backend.Token),
			BaseDelay:  cfg.Realtime.BaseDelay,
			MaxDelay:   cfg.Realtime.MaxDelay,
			MaxRetries: cfg.Realtime.MaxRetries,
		}, coord.HandleEnvelope, log)
		push.OnState(coord.OnChannelState)
		push.OnState(func(st model.ChannelStatus) {
			if st.State == model.ConnFailed {
				log.Error().Int("retries", st.RetryCount).Str("error", st.LastError).Msg("push channel gave up; polling only")
			}
		})
		push.Connect(ctx)
		channel = push
	} else {
		log.Info().Msg("push channel disabled")
	}

	cleanup := service.NewCleanupScheduler(journal, service.CleanupConfig{
		Retention:    cfg.Journal.Retention,
		Interval:     cfg.Journal.CleanupInterval,
		InitialDelay: time.Minute,
	}, log)
	cleanup.Start()

	r := router.New(router.Config{
		Health: handler.NewHealthHandler(cfg.App.Version, map[string]handler.Pinger{
			"cache":   store,
			"journal": journal,
		}, channel).WithChain(sess),
		Items:          handler.NewItemHandler(coord),
		Actions:        handler.NewActionHandler(ctx, coord, journal, log),
		Channel:        handler.NewChannelHandler(ctx, channel),
		AuthMiddleware: middleware.NewAuthMiddleware(cfg.App.Keys()),
		Logger:         log,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Server.Address()).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}
	cleanup.Stop()
	if push != nil {
		push.Disconnect()
	}
	// In-flight actions were parented to ctx; give their compensations a
	// moment to reach the backend before the journal closes.
	waitIdle(shutdownCtx, coord, log)

	log.Info().Msg("server stopped")
}

func openJournal(cfg config.JournalConfig) (repository.JournalRepository, error) {
	switch cfg.Type {
	case "mysql":
		return repository.NewMySQLJournal(cfg.MySQLDSN())
	default:
		return repository.NewSQLiteJournal(cfg.Path)
	}
}

func bearer(token string) http.Header {
	if token == "" {
		return nil
	}
	return http.Header{"Authorization": []string{"Bearer " + token}}
}

func waitIdle(ctx context.Context, coord *coordinator.Coordinator, log zerolog.Logger) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for len(coord.Pending()) > 0 {
		select {
		case <-ctx.Done():
			log.Warn().Int("pending", len(coord.Pending())).Msg("shutdown with actions still pending")
			return
		case <-ticker.C:
		}
	}
}
