package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/one2one/internal/adapters/http"
	"github.com/dkeye/one2one/internal/adapters/rtc"
	wssignal "github.com/dkeye/one2one/internal/adapters/signal"
	"github.com/dkeye/one2one/internal/app"
	"github.com/dkeye/one2one/internal/app/call"
	"github.com/dkeye/one2one/internal/app/orch"
	"github.com/dkeye/one2one/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg)

	engine, err := rtc.NewEngine(rtc.WebRTCConfig(cfg.ICEServers), cfg.RecordsPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create media engine")
	}

	hub := wssignal.NewHub(app.SimplePolicy{})
	o := orch.New(engine, hub, orch.Config{
		RecordsPath: cfg.RecordsPath,
		Pipeline: call.Config{
			AutoRelease:   cfg.AutoRelease,
			StatsInterval: cfg.StatsInterval,
			GatherTimeout: cfg.GatherTimeout,
		},
	})
	go o.Run(ctx)

	ctrl := wssignal.NewSignalWSController(o, hub, wssignal.Options{
		ReadLimit:      cfg.ReadLimit,
		PingPeriod:     cfg.PingPeriod,
		SendBuffer:     cfg.SendBuffer,
		RegisterLimit:  cfg.RegisterLimit,
		RegisterWindow: cfg.RegisterWindow,
	})

	r := router.SetupRouter(ctx, cfg, o, ctrl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("engine", rtc.Version).Msg("one2one server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
	select {
	case <-o.Done():
	case <-shutdownCtx.Done():
		log.Warn().Msg("orchestrator did not stop in time")
	}
	log.Info().Msg("Server exited gracefully")
}

// setupLogger keeps the console writer for debug mode and switches to JSON otherwise.
func setupLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Mode != "debug" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}
