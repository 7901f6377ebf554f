package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rotisserie/eris"

	"github.com/sells-group/visibility-grader/internal/gateway"
	"github.com/sells-group/visibility-grader/internal/store"
	"github.com/sells-group/visibility-grader/pkg/pagespeed"
	"github.com/sells-group/visibility-grader/pkg/places"
)

// initStore opens the configured persistence backend and runs migrations.
func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		st, err = store.NewSQLite(cfg.Store.Path)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initGateway builds the upstream API gateway from configured clients.
func initGateway() gateway.Gateway {
	placesOpts := []places.Option{
		places.WithRateLimit(cfg.Places.RateLimitRPS),
	}
	if cfg.Places.BaseURL != "" {
		placesOpts = append(placesOpts, places.WithBaseURL(cfg.Places.BaseURL))
	}
	if cfg.Places.TimeoutSecs > 0 {
		placesOpts = append(placesOpts, places.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.Places.TimeoutSecs) * time.Second,
		}))
	}
	placesClient := places.NewClient(cfg.Places.Key, placesOpts...)

	pagespeedOpts := []pagespeed.Option{
		pagespeed.WithStrategy(cfg.Pagespeed.Strategy),
	}
	if cfg.Pagespeed.BaseURL != "" {
		pagespeedOpts = append(pagespeedOpts, pagespeed.WithBaseURL(cfg.Pagespeed.BaseURL))
	}
	if cfg.Pagespeed.TimeoutSecs > 0 {
		pagespeedOpts = append(pagespeedOpts, pagespeed.WithTimeout(time.Duration(cfg.Pagespeed.TimeoutSecs)*time.Second))
	}
	pagespeedClient := pagespeed.NewClient(cfg.Pagespeed.Key, pagespeedOpts...)

	return gateway.New(placesClient, pagespeedClient)
}

// initRedis connects to the queue broker and verifies connectivity.
func initRedis(ctx context.Context) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, eris.Wrap(err, "ping redis")
	}
	return client, nil
}
