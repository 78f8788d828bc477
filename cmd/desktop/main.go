// Package main runs the Curio desktop server. The UI talks to it over
// REST and receives re-render signals on a WebSocket at /ws.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kimhsiao/curio/cmd/desktop/handlers"
	"github.com/kimhsiao/curio/internal/catalog"
	"github.com/kimhsiao/curio/internal/config"
	"github.com/kimhsiao/curio/internal/db"
	"github.com/kimhsiao/curio/internal/linkpreview"
	"github.com/kimhsiao/curio/internal/logging"
	"github.com/kimhsiao/curio/internal/remote"
	cursync "github.com/kimhsiao/curio/internal/sync"
)

func main() {
	configPath := flag.String("config", "", "path to config.toml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logging: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(log)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", err)
		log.Sync()
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) (*logging.Logger, error) {
	if cfg.LogFormat == "console" {
		return logging.NewDevelopment()
	}
	return logging.New(os.Stdout, logging.ParseLevel(cfg.LogLevel)), nil
}

// run serves until ctx is cancelled, then shuts down gracefully.
func run(ctx context.Context, cfg config.Config, log *logging.Logger) error {
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("curio desktop server listening", "addr", cfg.Addr, "cloud", cfg.CloudEnabled())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", "error", err)
	}
	return nil
}

// app holds the wired components of the server.
type app struct {
	db      *db.DB
	remote  *remote.RedisStore
	session *cursync.Session
	hub     *WSHub
	handler http.Handler
}

// newApp opens the stores, loads the catalog and builds the router. The
// remote store is only connected when a Redis URL is configured.
func newApp(ctx context.Context, cfg config.Config, log *logging.Logger) (*app, error) {
	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	a := &app{db: database}

	var rs remote.Store
	if cfg.CloudEnabled() {
		redisStore, err := remote.NewRedisStore(cfg.RedisURL, log)
		if err != nil {
			database.Close()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		a.remote = redisStore
		rs = redisStore
	} else {
		log.Info("no redis_url configured; running local-only")
	}

	local := db.NewLocalStore(database.DB)
	facade := cursync.NewFacade(local, rs, log)
	a.session = cursync.NewSession(ctx, facade, cursync.NewReconciler(),
		cursync.WithLegacySource(local),
		cursync.WithUploadWorkers(cfg.UploadWorkers),
		cursync.WithLogger(log),
	)

	a.hub = NewWSHub(log)
	a.session.OnChange(a.hub.StateChanged)

	if err := a.session.Start(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	svc := catalog.NewService(a.session, linkpreview.NewFetcher(cfg.PreviewTimeout), log)
	a.handler = newRouter(svc, a.session, a.hub, a.remote)
	return a, nil
}

// Close releases everything newApp opened.
func (a *app) Close() {
	if a.session != nil {
		a.session.Close()
	}
	if a.hub != nil {
		a.hub.Close()
	}
	if a.remote != nil {
		a.remote.Close()
	}
	a.db.Close()
}

func newRouter(svc *catalog.Service, session *cursync.Session, hub *WSHub, rs *remote.RedisStore) http.Handler {
	items := handlers.NewItemsHandler(svc)
	syncHandler := handlers.NewSyncHandler(session)
	syncHandler.SetWebSocketHub(hub)
	backupHandler := handlers.NewBackupHandler(session)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", health(rs))
	mux.HandleFunc("/api/items", items.Collection)
	mux.HandleFunc("/api/items/{id}", items.Item)
	mux.HandleFunc("/api/order", items.Order)
	mux.HandleFunc("/api/tags", items.Tags)
	mux.HandleFunc("/api/preview", items.Preview)
	mux.HandleFunc("/api/session", syncHandler.Session)
	mux.HandleFunc("/api/sync/upload", syncHandler.Upload)
	mux.HandleFunc("/api/backup", backupHandler.Backup)
	mux.HandleFunc("/ws", HandleWebSocket(hub))
	return mux
}

// health reports liveness. remote is "disabled" without a Redis store and
// "unreachable" when its ping fails; the server stays up either way.
func health(rs *remote.RedisStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		status := "disabled"
		if rs != nil {
			status = "ok"
			if err := rs.Ping(r.Context()); err != nil {
				status = "unreachable"
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status":  "ok",
			"service": "curio-desktop",
			"remote":  status,
		})
	}
}
