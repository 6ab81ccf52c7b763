package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	offlinecache "github.com/votatok/offline-cache"
	"github.com/votatok/offline-cache/cache"
	"github.com/votatok/offline-cache/queue"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// this is set by goreleaser
var version string

func main() {
	// a missing .env file is fine
	_ = godotenv.Load()

	cfg, err := ParseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if version == "" {
		version = "DEV"
	}
	setupLogging(cfg.Log)

	storage, err := openStorage(cfg.Cache.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not open cache storage")
	}

	originURL := cfg.OriginURL()
	fetcher := offlinecache.NewOriginFetcher(originURL, cfg.Server.Host)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openQueueStore(ctx, cfg.Queue)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not open deferred action store")
	}
	defer store.Close()

	q := queue.New(queue.Config{
		Store:        store,
		Fetcher:      fetcher,
		RetainFailed: cfg.Queue.RetainFailed,
		Logger:       &log.Logger,
	})

	ocache := offlinecache.New(offlinecache.Config{
		Storage:              storage,
		OriginURL:            originURL,
		OriginHost:           cfg.Server.Host,
		Fetcher:              fetcher,
		CacheNames:           cfg.Cache.Names,
		Manifest:             cfg.Cache.Manifest,
		APIPrefix:            cfg.Cache.APIPrefix,
		Queue:                q,
		HoldUntilSkipWaiting: cfg.Cache.HoldUntilSkipWaiting,
		Logger:               &log.Logger,
	})
	defer ocache.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           ocache.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Msgf("Proxying port %v to %s (with hostname '%s')", cfg.Server.Port, originURL.String(), cfg.Server.Host)
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Server error")
			stop()
		}
	}()

	// install and activate in the background, requests pass through until then
	go func() {
		if err := ocache.Start(ctx); err != nil {
			log.Error().Err(err).Msg("Could not start offline cache")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Could not shut down cleanly")
	}
}

// setupLogging makes the global logger write to the console and, if configured, to a log file.
// All lines carry the build version and the service name.
func setupLogging(cfg LogConfig) {
	level := zerolog.DebugLevel
	if cfg.Trace {
		level = zerolog.TraceLevel
	}
	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}}
	if cfg.File != "" {
		file, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
		if err != nil {
			log.Fatal().Err(err).Str("file", cfg.File).Msg("Cannot open log file")
		}
		writers = append(writers, file)
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().
		Timestamp().
		Str("version", version).
		Str("service", "votatok-offline").
		Logger()
}

func openStorage(db string) (cache.Storage, error) {
	if db == "memory" {
		return cache.NewMemStorage(), nil
	}
	return cache.NewSQLiteStorage(db)
}

func openQueueStore(ctx context.Context, cfg QueueConfig) (queue.Store, error) {
	switch cfg.Backend {
	case backendRedis:
		return queue.NewRedisStore(ctx, cfg.RedisURL, cfg.RedisPrefix)
	case backendMemory:
		return queue.NewMemStore(), nil
	default:
		return queue.NewLevelDBStore(cfg.Path)
	}
}
