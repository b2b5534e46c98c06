package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	httpadapter "github.com/PabloGalante/parrot-api/internal/adapters/http"
	"github.com/PabloGalante/parrot-api/internal/adapters/llm"
	firestorestore "github.com/PabloGalante/parrot-api/internal/adapters/storage/firestore"
	memstore "github.com/PabloGalante/parrot-api/internal/adapters/storage/memory"
	"github.com/PabloGalante/parrot-api/internal/app/conversation"
	"github.com/PabloGalante/parrot-api/internal/config"
	"github.com/PabloGalante/parrot-api/internal/domain"
	"github.com/PabloGalante/parrot-api/internal/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		observability.Logger().Fatal().Err(err).Msg("invalid configuration")
	}

	observability.Init(observability.LogConfig{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
	})
	log := observability.Logger()

	// Model backend
	provider, err := llm.NewProvider(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("provider", cfg.LLMProvider).Msg("error initializing LLM client")
	}
	log.Info().Str("provider", provider.Name).Str("model", cfg.ModelName).Msg("LLM client ready")

	// Storage: Firestore or Memory
	var store domain.ThreadStore
	switch cfg.StorageBackend {
	case "firestore":
		fsStore, err := firestorestore.NewStore(ctx, cfg.GCPProjectID)
		if err != nil {
			log.Fatal().Err(err).Msg("error initializing Firestore store")
		}
		defer fsStore.Close()
		log.Info().Str("project", cfg.GCPProjectID).Msg("using Firestore storage")
		store = fsStore
	default:
		log.Info().Msg("using in-memory storage")
		store = memstore.NewThreadStore()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	svc := conversation.NewService(provider.Client, provider.Counter, store, conversation.Settings{
		MaxTokens:    cfg.TrimMaxTokens,
		SystemPrompt: cfg.SystemPrompt,
		ModelTimeout: cfg.ModelTimeout,
		Metrics:      metrics,
	})

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: httpadapter.NewServer(svc, httpadapter.Options{
			Metrics:     metrics,
			CORSOrigins: cfg.CORSOrigins,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		// No write timeout: streamed replies stay open as long as the model talks.
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("mode", string(cfg.Mode)).Msg("parrot API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server failed")
			os.Exit(1)
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
