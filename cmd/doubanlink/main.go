package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JustinTDCT/DoubanLink/internal/api"
	"github.com/JustinTDCT/DoubanLink/internal/auth"
	"github.com/JustinTDCT/DoubanLink/internal/cache"
	"github.com/JustinTDCT/DoubanLink/internal/catalog"
	"github.com/JustinTDCT/DoubanLink/internal/config"
	"github.com/JustinTDCT/DoubanLink/internal/db"
	"github.com/JustinTDCT/DoubanLink/internal/jobs"
	"github.com/JustinTDCT/DoubanLink/internal/metadata"
	"github.com/JustinTDCT/DoubanLink/internal/repository"
	"github.com/JustinTDCT/DoubanLink/internal/scheduler"
	"github.com/JustinTDCT/DoubanLink/internal/version"
)

func main() {
	issueToken := flag.Bool("issue-token", false, "print an admin API token and exit")
	tokenSubject := flag.String("token-subject", "admin", "subject recorded in the issued token")
	tokenTTL := flag.Duration("token-ttl", 30*24*time.Hour, "lifetime of the issued token (0 = no expiry)")
	flag.Parse()

	ver := version.Load()
	cfg := config.Load()

	if *issueToken {
		a, err := auth.NewAuth(cfg.JWTSecret, *tokenTTL)
		if err != nil {
			log.Fatalf("issue token: %v", err)
		}
		tok, err := a.IssueToken(*tokenSubject, true)
		if err != nil {
			log.Fatalf("issue token: %v", err)
		}
		fmt.Println(tok)
		return
	}

	log.Printf("DoubanLink v%s starting...", ver.Version)

	database, err := db.Connect(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	if err := db.Migrate(database); err != nil {
		log.Fatalf("migrations: %v", err)
	}
	log.Printf("database ready (%s)", database.Driver)

	runner := jobs.NewRunner(nil)

	// ──── Cache ────
	var remote cache.Remote
	var rdb *redis.Client
	if cfg.RedisEnabled() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		remote = cache.NewRedisStore(rdb, "doubanlink:")
		log.Printf("remote cache tier on %s", cfg.RedisAddr)
	}
	c, err := cache.New(cache.Options{
		LocalSize: cfg.LocalCacheSize,
		Remote:    remote,
		Submitter: runner,
	})
	if err != nil {
		log.Fatalf("cache: %v", err)
	}

	// ──── Upstreams ────
	douban := metadata.NewDoubanScraper(metadata.DoubanConfig{APIKey: cfg.DoubanAPIKey}, c, nil)
	trakt := metadata.NewTraktScraper(metadata.TraktConfig{ClientID: cfg.TraktClientID}, c, nil)
	imdb := metadata.NewIMDbScraper(metadata.IMDbConfig{}, c, nil)
	tmdb := metadata.NewTMDBScraper(metadata.TMDBConfig{APIKey: cfg.TMDBAPIKey}, c, nil)

	deps := metadata.ResolverDeps{Source: douban, Trakt: trakt, IMDb: imdb}
	if cfg.TMDBAPIKey != "" {
		deps.TMDB = tmdb
	} else {
		log.Println("TMDB_API_KEY not set, TMDB title search disabled")
	}
	resolver := metadata.NewResolver(deps, nil)

	var images catalog.ImageProvider
	if cfg.FanartEnabled() {
		images = metadata.NewFanartTVClient(metadata.FanartConfig{
			APIKey:    cfg.FanartAPIKey,
			ClientKey: cfg.FanartClientKey,
		}, tmdb, c, nil)
		log.Println("fanart.tv artwork enabled")
	}

	repo := repository.NewMappingRepository(database.DB, nil)
	sweep := scheduler.NewSweep(repo, douban, resolver, cfg.SweepBatch, nil)

	// ──── Background work ────
	var enqueuer jobs.Enqueuer
	var queue *jobs.Queue
	if cfg.UseJobQueue && cfg.RedisEnabled() {
		queue = jobs.NewQueue(jobs.QueueConfig{
			RedisAddr:     cfg.RedisAddr,
			RedisPassword: cfg.RedisPassword,
			RedisDB:       cfg.RedisDB,
			Concurrency:   cfg.JobConcurrency,
		})
		jobs.RegisterHandlers(queue, repo, sweep)
		if err := queue.Start(context.Background()); err != nil {
			log.Fatalf("job queue: %v", err)
		}
		enqueuer = queue
	} else if cfg.UseJobQueue {
		log.Println("USE_JOB_QUEUE set without REDIS_ADDR, running jobs in process")
	}
	dispatcher := jobs.NewPersistDispatcher(enqueuer, runner, repo, nil)

	var sched *scheduler.Scheduler
	if cfg.SweepSchedule != "" && cfg.SweepSchedule != "off" {
		sched, err = scheduler.New(cfg.SweepSchedule, func() {
			dispatcher.ScheduleSweep(sweep, cfg.SweepBatch)
		})
		if err != nil {
			log.Fatalf("scheduler: %v", err)
		}
		sched.Start()
	}

	// ──── HTTP ────
	a, err := auth.NewAuth(cfg.JWTSecret, 0)
	if err != nil {
		log.Printf("admin API disabled: %v", err)
	}

	svc := catalog.NewService(catalog.Options{
		Source:   douban,
		Mappings: repo,
		Resolver: resolver,
		Persist:  dispatcher,
		Images:   images,
		Workers:  cfg.ResolveWorkers,
	})

	srv := api.NewServer(api.Deps{
		Catalog:  svc,
		Mappings: repo,
		Version:  ver.Version,
		Auth:     a,
		TriggerSweep: func(limit int) {
			dispatcher.ScheduleSweep(sweep, limit)
		},
		Health: database.PingContext,
	})

	httpServer := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	if sched != nil {
		select {
		case <-sched.Stop().Done():
		case <-ctx.Done():
			log.Println("scheduler still running a sweep, not waiting")
		}
	}
	if queue != nil {
		queue.Stop()
	}
	if !runner.Drain(cfg.ShutdownTimeout) {
		log.Println("background writes did not finish before the deadline")
	}
	if rdb != nil {
		rdb.Close()
	}
	database.Close()
	log.Println("stopped")
}
