// deskd is the ticket view synchronization server: it keeps the inbox
// list, view counts and open thread in sync with the ticket store and
// serves them to UI clients over HTTP and websockets.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/deskd-io/deskd/internal/api"
	"github.com/deskd-io/deskd/internal/cache"
	"github.com/deskd-io/deskd/internal/collection"
	"github.com/deskd-io/deskd/internal/config"
	"github.com/deskd-io/deskd/internal/engine"
	"github.com/deskd-io/deskd/internal/realtime"
	"github.com/deskd-io/deskd/internal/views"
)

var (
	configPath string
	devMode    bool
)

func main() {
	root := &cobra.Command{
		Use:   "deskd",
		Short: "Helpdesk ticket view synchronization server",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "directory containing deskd.yaml")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
	serve.Flags().BoolVar(&devMode, "dev", false, "run against an in-memory store (no Postgres)")
	root.AddCommand(serve)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	remote, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	var c cache.Cache
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		c = cache.NewRedis(client, cfg.Redis.KeyPrefix)
		log.Printf("team cache: redis at %s", cfg.Redis.Addr)
	} else {
		local := cache.NewLocal(time.Minute)
		defer local.Stop()
		c = local
	}

	resolver := views.NewResolver(remote, c, cfg.Sync.TeamCacheTTL)

	hub := realtime.NewHub()
	go hub.Run(ctx)

	// Every tenant gets its own engine; snapshots fan out to that
	// tenant's websocket room only.
	registry := engine.NewRegistry(remote, func(tenantID string) *engine.Store {
		store := engine.NewStore(remote, resolver, engine.Options{PageSize: cfg.Sync.PageSize})
		store.Subscribe(func(snap engine.Snapshot) {
			hub.Broadcast(tenantID, snap)
		})
		return store
	})

	// Live invalidation is best-effort: without it each store is still
	// correct up to the next fetch.
	if err := registry.RunListener(ctx); err != nil {
		log.Printf("running without live invalidation: %v", err)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewServer(registry, hub).Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("deskd listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg *config.Config) (collection.Store, func(), error) {
	if devMode {
		log.Printf("dev mode: in-memory ticket store")
		return collection.NewMemory(), func() {}, nil
	}
	pg, err := collection.NewPostgres(cfg.Database.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open ticket store: %w", err)
	}
	if cfg.Database.EnsureSchema {
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, nil, err
		}
	}
	return pg, func() { pg.Close() }, nil
}
