package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shotforge/internal/bootstrap"
	"shotforge/internal/domain"
	"shotforge/internal/http/handlers"
	"shotforge/internal/http/httpapi"
	"shotforge/internal/infra"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Build(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: bootstrap failed")
	}
	defer rt.Close()

	rt.Orchestrator.OnBatchSettled(func(o domain.BatchOutcome) {
		wctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		key, err := rt.ExportOutcome(wctx, o)
		if err != nil {
			logger.Warn().Err(err).Str("batch_id", o.BatchID).Msg("api: export outcome failed")
			return
		}
		logger.Info().Str("batch_id", o.BatchID).Str("class", string(o.Class)).Str("key", key).Msg("api: batch exported")
	})
	if err := rt.Orchestrator.Start(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("api: orchestrator failed to start")
	}

	app := handlers.NewApp(rt.Orchestrator, rt.Catalog, &logger)
	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(app, cfg), &logger)

	go func() {
		logger.Info().Str("store", cfg.StoreDriver).Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if err := rt.Orchestrator.Close(); err != nil {
		logger.Error().Err(err).Msg("failed to stop orchestrator")
	}
	logger.Info().Msg("server stopped")
}
