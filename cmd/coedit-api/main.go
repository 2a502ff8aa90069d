package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ssau-fiit/coedit-api/internal/api"
	"github.com/ssau-fiit/coedit-api/internal/auth"
	"github.com/ssau-fiit/coedit-api/internal/comments"
	"github.com/ssau-fiit/coedit-api/internal/config"
	"github.com/ssau-fiit/coedit-api/internal/hub"
	"github.com/ssau-fiit/coedit-api/internal/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("could not load config")
	}

	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("bad log level")
	}
	zerolog.SetGlobalLevel(lvl)
	if cfg.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	st, dir, az, cms := buildBackends(ctx, cfg)
	cancel()
	st = store.WithRetry(st, uint64(cfg.Store.MaxRetries), cfg.Store.RetryInterval())

	registry := hub.NewRegistry(st, az, cfg.Session)
	server := api.NewServer(st, dir, az, cms, registry, cfg.Session)
	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.Router(),
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.ListenAddr).Str("backend", cfg.Store.Backend).Msg("server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		// Drain documents first so every session is gone and every final
		// checkpoint is persisted before the listener closes.
		if err := registry.Shutdown(shutCtx); err != nil {
			log.Error().Err(err).Msg("could not drain documents")
		}
		return httpSrv.Shutdown(shutCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
	log.Info().Msg("server stopped")
}

// buildBackends picks the persistence stack for the configured backend.
// Redis carries documents, users, ACLs and comments; postgres carries
// documents only, with auth open and comments in memory; the in-memory
// backend is for development.
func buildBackends(ctx context.Context, cfg config.Config) (store.Store, auth.Directory, auth.Authorizer, comments.Store) {
	switch cfg.Store.Backend {
	case "redis":
		db := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
		if err := db.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("could not connect to redis")
		}
		return store.NewRedis(db), auth.NewRedisDirectory(db), auth.NewRedisACL(db), comments.NewRedis(db)

	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("could not connect to postgres")
		}
		pg := store.NewPostgres(pool)
		if err := pg.Setup(ctx); err != nil {
			log.Fatal().Err(err).Msg("could not prepare schema")
		}
		log.Warn().Msg("postgres backend keeps comments in memory and runs without ACLs")
		return pg, auth.StaticDirectory{}, auth.AllowAll{}, comments.NewMemory()

	default:
		return store.NewMemory(), auth.StaticDirectory{}, auth.AllowAll{}, comments.NewMemory()
	}
}
