package providers

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"shotforge/internal/catalog"
	"shotforge/internal/domain"
	"shotforge/internal/infra"
	"shotforge/internal/provider"
	"shotforge/internal/providers/midjourney"
	"shotforge/internal/providers/nanobanana"
	"shotforge/internal/providers/synthetic"
)

// Options carries provider credentials. Providers without credentials are
// served by the synthetic client so the pipeline stays runnable offline.
type Options struct {
	NanoBananaBaseURL string
	NanoBananaAPIKey  string
	MidjourneyBaseURL string
	MidjourneyAPIKey  string
	RequestsPerSecond int
	HTTPClient        *http.Client
	SyntheticSteps    int
	Logger            *infra.Logger
}

// Registry routes models to provider clients using the catalog.
type Registry struct {
	catalog *catalog.Catalog
	clients map[string]provider.Client
	flat    provider.Client
	grid    provider.GridClient
	logger  *infra.Logger
}

// NewRegistry returns a registry with only the synthetic fallbacks registered.
func NewRegistry(cat *catalog.Catalog, logger *infra.Logger) *Registry {
	if logger == nil {
		discard := zerolog.New(io.Discard)
		logger = &discard
	}
	return &Registry{
		catalog: cat,
		clients: make(map[string]provider.Client),
		flat:    synthetic.NewClient(synthetic.Options{Logger: logger}),
		grid:    synthetic.NewClient(synthetic.Options{Grid: true, Logger: logger}),
		logger:  logger,
	}
}

// New builds the registry for the configured providers.
func New(cat *catalog.Catalog, opts Options) (*Registry, error) {
	r := NewRegistry(cat, opts.Logger)
	r.flat = synthetic.NewClient(synthetic.Options{Steps: opts.SyntheticSteps, Logger: r.logger})
	r.grid = synthetic.NewClient(synthetic.Options{Grid: true, Steps: opts.SyntheticSteps, Logger: r.logger})

	nb, err := nanobanana.NewClient(nanobanana.Options{
		APIKey:            opts.NanoBananaAPIKey,
		BaseURL:           opts.NanoBananaBaseURL,
		HTTPClient:        opts.HTTPClient,
		RequestsPerSecond: opts.RequestsPerSecond,
		Logger:            r.logger,
	})
	switch {
	case err == nil:
		r.Register("nanobanana", nb)
	case errors.Is(err, nanobanana.ErrMissingAPIKey):
		r.logger.Warn().Msg("providers: nanobanana api key missing; flat models use synthetic results")
	default:
		return nil, err
	}

	mj, err := midjourney.NewClient(midjourney.Options{
		APIKey:            opts.MidjourneyAPIKey,
		BaseURL:           opts.MidjourneyBaseURL,
		HTTPClient:        opts.HTTPClient,
		RequestsPerSecond: opts.RequestsPerSecond,
		Logger:            r.logger,
	})
	switch {
	case err == nil:
		r.Register("midjourney", mj)
	case errors.Is(err, midjourney.ErrMissingAPIKey):
		r.logger.Warn().Msg("providers: midjourney api key missing; grid models use synthetic results")
	default:
		return nil, err
	}
	return r, nil
}

// Register binds a provider name used in the catalog to a client.
func (r *Registry) Register(name string, c provider.Client) {
	r.clients[name] = c
}

// Catalog exposes the capability table.
func (r *Registry) Catalog() *catalog.Catalog { return r.catalog }

// Normalize applies the catalog's capability rules to spec.
func (r *Registry) Normalize(spec domain.JobSpec) (domain.JobSpec, catalog.Model, error) {
	return r.catalog.Normalize(spec)
}

// Client returns the client serving m. Grid models require a GridClient.
func (r *Registry) Client(m catalog.Model) (provider.Client, error) {
	c, ok := r.clients[m.Provider]
	if !ok {
		if m.IsGrid() {
			return r.grid, nil
		}
		return r.flat, nil
	}
	if m.IsGrid() {
		if _, ok := c.(provider.GridClient); !ok {
			return nil, fmt.Errorf("providers: %s serves grid model %s but cannot upscale", c.Name(), m.ID)
		}
	}
	return c, nil
}
