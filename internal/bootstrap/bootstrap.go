// Package bootstrap assembles the orchestrator and its collaborators from
// configuration. Both the API server and the CLI start from here.
package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"shotforge/internal/adapter/repo"
	"shotforge/internal/catalog"
	"shotforge/internal/derived"
	"shotforge/internal/domain"
	"shotforge/internal/infra"
	"shotforge/internal/orchestrator"
	"shotforge/internal/providers"
	"shotforge/internal/storage"
)

// Runtime is a wired, not yet started, orchestrator.
type Runtime struct {
	Config       *infra.Config
	Catalog      *catalog.Catalog
	Registry     *providers.Registry
	Repository   domain.Repository
	Files        *storage.FileStore
	Orchestrator *orchestrator.Orchestrator

	closers []func()
}

// Build wires every component named by cfg.
func Build(ctx context.Context, cfg *infra.Config, logger *infra.Logger) (*Runtime, error) {
	rt := &Runtime{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	cat := catalog.Default()
	if path := strings.TrimSpace(cfg.ModelCatalogPath); path != "" {
		loaded, err := catalog.Load(path)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: load model catalog: %w", err)
		}
		cat = loaded
	}
	rt.Catalog = cat

	store, err := OpenRepository(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	rt.Repository = store
	rt.closers = append(rt.closers, func() { _ = store.Close() })

	storagePath := cfg.StoragePath
	if storagePath == "" {
		storagePath = "./storage"
	}
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	files, err := storage.NewFileStore(storagePath)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: configure storage: %w", err)
	}
	rt.Files = files

	registry, err := providers.New(cat, providers.Options{
		NanoBananaBaseURL: cfg.NanoBananaBaseURL,
		NanoBananaAPIKey:  cfg.NanoBananaAPIKey,
		MidjourneyBaseURL: cfg.MidjourneyBaseURL,
		MidjourneyAPIKey:  cfg.MidjourneyAPIKey,
		RequestsPerSecond: cfg.ProviderRPS,
		HTTPClient:        &http.Client{Timeout: 60 * time.Second},
		Logger:            logger,
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: configure providers: %w", err)
	}
	rt.Registry = registry

	opts, err := orchestrator.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	rt.Orchestrator = orchestrator.New(store, registry, opts,
		orchestrator.WithLogger(logger),
		orchestrator.WithDerivedGenerator(NewDerivedGenerator(ctx, cfg, files, logger)),
	)
	ok = true
	return rt, nil
}

// OpenRepository opens the job store selected by STORE_DRIVER.
func OpenRepository(ctx context.Context, cfg *infra.Config, logger *infra.Logger) (domain.Repository, error) {
	switch cfg.StoreDriver {
	case "", infra.StoreMemory:
		return repo.NewMemoryRepository(), nil
	case infra.StoreBadger:
		r, err := repo.OpenBadgerRepository(cfg.BadgerPath)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: open badger store: %w", err)
		}
		return r, nil
	case infra.StorePostgres:
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		r := repo.NewPostgresRepository(infra.NewSQLRunner(pool, logger), pool.Close)
		if err := r.Migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("bootstrap: migrate: %w", err)
		}
		return r, nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown store driver %q", cfg.StoreDriver)
	}
}

// NewDerivedGenerator prefers Gemini and falls back to the static motion
// prompt. Every artifact is also written to files.
func NewDerivedGenerator(ctx context.Context, cfg *infra.Config, files *storage.FileStore, logger *infra.Logger) derived.Generator {
	static := derived.NewStaticGenerator()
	var gen derived.Generator = static
	gemini, err := derived.NewGeminiGenerator(ctx, derived.GeminiOptions{
		APIKey:  cfg.GeminiAPIKey,
		Model:   cfg.GeminiModel,
		Timeout: cfg.DerivedTimeout,
		Logger:  logger,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("bootstrap: gemini unavailable, derived artifacts use static prompts")
	} else {
		gen = derived.NewFallback(gemini, static, logger)
	}
	if files == nil {
		return gen
	}
	return derived.NewRecorder(gen, files, logger)
}

// Close releases the store and any pools.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

// ExportOutcome writes a settled batch and its flattened result list to the
// file store and returns the key.
func (rt *Runtime) ExportOutcome(ctx context.Context, o domain.BatchOutcome) (string, error) {
	payload, err := json.MarshalIndent(struct {
		Outcome domain.BatchOutcome `json:"outcome"`
		Results []domain.ResultRef  `json:"results"`
	}{Outcome: o, Results: o.Results()}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("bootstrap: encode outcome: %w", err)
	}
	return rt.Files.Write(ctx, storage.OutcomeKey(o.BatchID), payload)
}
