package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port            int
	DatabaseDriver  string
	DatabaseURL     string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	JWTSecret       string
	DoubanAPIKey    string
	TMDBAPIKey      string
	TraktClientID   string
	FanartAPIKey    string
	FanartClientKey string
	LocalCacheSize  int
	UseJobQueue     bool
	JobConcurrency  int
	SweepSchedule   string
	SweepBatch      int
	ResolveWorkers  int
	ShutdownTimeout time.Duration
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("config: skipping .env: %v", err)
	}

	return &Config{
		Port:            envInt("PORT", 8080),
		DatabaseDriver:  env("DATABASE_DRIVER", "postgres"),
		DatabaseURL:     env("DATABASE_URL", "postgres://doubanlink:doubanlink@db:5432/doubanlink?sslmode=disable"),
		RedisAddr:       env("REDIS_ADDR", ""),
		RedisPassword:   env("REDIS_PASSWORD", ""),
		RedisDB:         envInt("REDIS_DB", 0),
		JWTSecret:       env("JWT_SECRET", ""),
		DoubanAPIKey:    env("DOUBAN_API_KEY", ""),
		TMDBAPIKey:      env("TMDB_API_KEY", ""),
		TraktClientID:   env("TRAKT_CLIENT_ID", ""),
		FanartAPIKey:    env("FANART_API_KEY", ""),
		FanartClientKey: env("FANART_CLIENT_KEY", ""),
		LocalCacheSize:  envInt("LOCAL_CACHE_SIZE", 2000),
		UseJobQueue:     envBool("USE_JOB_QUEUE", false),
		JobConcurrency:  envInt("JOB_CONCURRENCY", 2),
		SweepSchedule:   env("SWEEP_SCHEDULE", "@every 6h"),
		SweepBatch:      envInt("SWEEP_BATCH", 100),
		ResolveWorkers:  envInt("RESOLVE_WORKERS", 10),
		ShutdownTimeout: envDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

// RedisEnabled reports whether a Redis address is configured. Without it the
// remote cache tier and the job queue are unavailable.
func (c *Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}

func (c *Config) FanartEnabled() bool {
	return c.FanartAPIKey != ""
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
