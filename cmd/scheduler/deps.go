package main

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"cycle-scheduler/internal/actor"
	"cycle-scheduler/internal/config"
	"cycle-scheduler/internal/reconcile"
	"cycle-scheduler/internal/scheduler"
	"cycle-scheduler/internal/store"
)

// openStore builds the configured backend. The returned func releases it.
func openStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, nil, err
	}
	switch cfg.StoreDriver {
	case config.DriverFile:
		return store.NewFileStore(cfg.StorePath, loc), func() {}, nil
	case config.DriverPostgres:
		pg, err := store.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	case config.DriverS3:
		s3, err := store.NewS3Store(ctx, store.S3Options{
			Bucket:    cfg.S3Bucket,
			Key:       cfg.S3Key,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
			Location:  loc,
		})
		if err != nil {
			return nil, nil, err
		}
		return s3, func() {}, nil
	}
	return nil, nil, errors.Newf("unknown store driver %q", cfg.StoreDriver)
}

func newGateway(cfg config.Config) actor.Gateway {
	return actor.WithTimeout(actor.NewHTTPGateway(cfg.ActorURL, cfg.ActorToken), cfg.JobTimeout)
}

func newScheduler(cfg config.Config, st store.Store, logger *zap.SugaredLogger) (*scheduler.Scheduler, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return scheduler.New(st, newGateway(cfg), scheduler.Options{
		Schedule:    cfg.PollSchedule,
		Location:    loc,
		Concurrency: cfg.Concurrency,
		Flush: reconcile.Options{
			MaxAttempts: cfg.FlushMaxAttempts,
			RetryDelay:  cfg.FlushRetryDelay,
		},
	}, logger)
}
