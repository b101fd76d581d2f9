package host

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"ammledger/internal/config"
	"ammledger/internal/logging"
	"ammledger/internal/model"
	"ammledger/internal/storage"
	"ammledger/internal/storage/pebble"
	"ammledger/internal/storage/postgres"
)

// Open builds an Env with the backend and journal selected by cfg and
// restores the ledger, pools and event sequence already committed to the
// backend. A nil logger is built from cfg.LogLevel.
func Open(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Env, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		l, err := logging.New(cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("build logger: %w", err)
		}
		logger = l
	}

	var (
		backend storage.KV
		sinks   multiSink
	)
	switch cfg.Store {
	case config.StoreMemory:
		backend = storage.NewMemory()
	case config.StorePebble:
		store, err := pebble.Open(cfg.PebbleDir)
		if err != nil {
			return nil, err
		}
		backend = store
	case config.StorePostgres:
		var store *postgres.Store
		err := withRetry(ctx, logger, "open postgres", cfg.MaxRetries, cfg.RetryBackoff, func(ctx context.Context) error {
			s, err := postgres.NewStore(ctx, cfg.PGDSN)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			if err := s.EnsureSchema(ctx); err != nil {
				s.Close()
				return fmt.Errorf("ensure schema: %w", err)
			}
			store = s
			return nil
		})
		if err != nil {
			return nil, err
		}
		backend = store
		sinks = append(sinks, store)
	}

	if cfg.EventsOut != "" {
		sinks = append(sinks, storage.NewJsonlStorage(cfg.EventsOut))
	}

	var sink storage.EventSink
	if len(sinks) > 0 {
		sink = sinks
	}

	logger.Info("environment opened",
		zap.String("store", cfg.Store),
		zap.String("events_out", cfg.EventsOut),
	)
	env := New(Options{ShareDecimals: cfg.ShareDecimals}, backend, sink, logger)
	if err := env.restore(ctx); err != nil {
		backend.Close()
		return nil, err
	}
	return env, nil
}

// multiSink fans events out to several journals.
type multiSink []storage.EventSink

func (m multiSink) PutEventBatch(ctx context.Context, events []model.PoolEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.PutEventBatch(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
