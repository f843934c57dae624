// Command paceprint-api serves the PacePrint batch-fetch API over HTTP.
//
// Configuration comes from the environment. With REDIS_URL set the cache
// lives in Redis, otherwise in a file tree under CACHE_DIR.
package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/paceprint/paceprint/pkg/activities"
	"github.com/paceprint/paceprint/pkg/logging"
	"github.com/paceprint/paceprint/pkg/ratelimit"
	"github.com/paceprint/paceprint/pkg/store"
	"github.com/paceprint/paceprint/pkg/strava"
)

type config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	CacheDir string `env:"CACHE_DIR" envDefault:"./paceprint-cache"`

	// RedisURL switches the cache backend to Redis when set,
	// e.g. "localhost:6379".
	RedisURL string `env:"REDIS_URL"`

	StravaBaseURL string `env:"STRAVA_BASE_URL"`
	UserAgent     string `env:"USER_AGENT" envDefault:"paceprint/0.1.0"`

	ShortWindowLimit int     `env:"RATE_LIMIT_SHORT" envDefault:"200"`
	DailyLimit       int     `env:"RATE_LIMIT_DAILY" envDefault:"2000"`
	SafetyMargin     float64 `env:"RATE_LIMIT_MARGIN" envDefault:"0.90"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		panic(err)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.LogLevel(cfg.LogLevel)
	logCfg.Pretty = cfg.LogPretty
	logger := logging.Setup(logCfg)

	st, err := newStore(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Cache store setup failed")
	}

	tracker := ratelimit.NewTracker(ratelimit.Config{
		ShortWindowLimit: cfg.ShortWindowLimit,
		DailyLimit:       cfg.DailyLimit,
		SafetyMargin:     cfg.SafetyMargin,
	}, logger)

	stravaCfg := strava.DefaultConfig()
	if cfg.StravaBaseURL != "" {
		stravaCfg.BaseURL = cfg.StravaBaseURL
	}
	stravaCfg.UserAgent = cfg.UserAgent
	client := strava.New(stravaCfg, logger)

	svc := activities.NewService(st, tracker, client, logger)
	srv := newServer(svc, logger)

	addr := ":" + cfg.Port
	logger.Info().Str("addr", addr).Msg("Starting paceprint-api")

	if err := http.ListenAndServe(addr, srv.routes()); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}

// newStore selects the cache backend: Redis when configured, the local file
// tree otherwise.
func newStore(cfg config, logger zerolog.Logger) (store.Store, error) {
	if cfg.RedisURL != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}

		logger.Info().Str("addr", cfg.RedisURL).Msg("Using redis cache backend")
		return store.NewRedisStore(rdb), nil
	}

	logger.Info().Str("dir", cfg.CacheDir).Msg("Using file cache backend")
	return store.NewFileStore(cfg.CacheDir)
}
