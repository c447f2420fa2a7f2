package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/roomscout/ingest-cli/internal/ingest"
	"github.com/roomscout/ingest-cli/internal/resilience"
	"github.com/roomscout/ingest-cli/internal/store"
	"github.com/roomscout/ingest-cli/pkg/roomscout"
)

// pipelineEnv holds the initialized store, extraction client, and
// pipeline needed by the process/serve/sessions commands.
type pipelineEnv struct {
	Store    store.Store
	Client   roomscout.Client
	Pipeline *ingest.Pipeline
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.Path
		if path == "" {
			path = "ingest.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initClient() roomscout.Client {
	opts := []roomscout.Option{
		roomscout.WithRetryConfig(resilience.FromConfig(cfg.RoomScout.MaxRetries, cfg.RoomScout.BaseDelayMs)),
		roomscout.WithRateLimit(cfg.RoomScout.RateLimit),
		roomscout.WithHealthTTL(time.Duration(cfg.RoomScout.HealthTTLSecs) * time.Second),
	}
	if cfg.RoomScout.BreakerThreshold > 0 {
		opts = append(opts, roomscout.WithBreaker(resilience.NewBreaker(
			cfg.RoomScout.BreakerThreshold,
			time.Duration(cfg.RoomScout.BreakerResetSecs)*time.Second,
		)))
	}
	return roomscout.NewClient(cfg.RoomScout.BaseURL, opts...)
}

// initPipeline sets up the store and extraction client and builds the
// Pipeline. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	client := initClient()

	p := ingest.New(st, client, ingest.Config{
		Concurrency:       cfg.Pipeline.Concurrency,
		ReviewThreshold:   cfg.Pipeline.ReviewThreshold,
		UseChainOfThought: cfg.Pipeline.UseChainOfThought,
	})

	return &pipelineEnv{Store: st, Client: client, Pipeline: p}, nil
}
