package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"snipbin/cfg"
	"snipbin/metrics"
	"snipbin/pkg/crypt"
	"snipbin/pkg/secrets"
	"snipbin/svc/api"
	"snipbin/svc/db"
	"snipbin/svc/store"
	"snipbin/svc/util"
)

func main() {
	c, err := cfg.Load()
	if err != nil {
		util.Fatal().Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}
	if err := cfg.Validate(c); err != nil {
		util.Fatal().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}
	defer c.Wipe()
	util.InitLog(c.LogLevel, c.Environment == "development")
	util.Info().Msg("starting snipbin")
	metrics.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	adapter, err := secrets.NewAdapter(ctx)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize secrets adapter")
		os.Exit(1)
	}

	// A missing key is not fatal: public pastes still work, private
	// creates fail fast instead of storing plaintext.
	var cipher *crypt.Cipher
	key, err := adapter.LoadEncryptionKey(ctx, crypt.KeySize)
	if err != nil {
		util.Warn().Err(err).Msg("encryption key unavailable, private pastes disabled")
	} else {
		cipher, err = crypt.New(key)
		util.Wipe(key)
		if err != nil {
			util.Fatal().Err(err).Msg("failed to initialize cipher")
			os.Exit(1)
		}
		util.Info().Msg("paste encryption key loaded")
	}

	sqlDB, err := db.NewSQLiteWithConfig(c.DatabasePath, c.DBMaxOpenConns, c.DBMaxIdleConns, c.DBQueryTimeout)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize database")
		os.Exit(1)
	}
	defer sqlDB.Close()
	util.Info().Str("path", c.DatabasePath).Msg("database initialized")

	pastes := store.NewPastes(sqlDB, cipher, c.MaxPasteSize)
	users := store.NewUsers(sqlDB)
	server := api.NewServer(c, pastes, users, sqlDB)

	quitWAL := make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start()
	})
	g.Go(func() error {
		db.StartWALMaintenance(sqlDB.DB(), quitWAL)
		return nil
	})
	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		select {
		case sig := <-sigCh:
			util.Info().Str("signal", sig.String()).Msg("shutting down gracefully")
		case <-gctx.Done():
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			util.Error().Err(err).Msg("server shutdown error")
		}
		close(quitWAL)
		cancel()
		return nil
	})

	if err := g.Wait(); err != nil {
		util.Error().Err(err).Msg("server failed")
		os.Exit(1)
	}
	util.Info().Msg("shutdown complete")
}
