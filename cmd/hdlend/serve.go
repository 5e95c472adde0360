// cmd/hdlend/serve.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"hdlend/internal/config"
	"hdlend/internal/inventory"
	"hdlend/internal/inventory/postgres"
	"hdlend/internal/middleware"
	"hdlend/internal/telemetry"
)

const shutdownTimeout = 15 * time.Second

var (
	servePort    string
	serveStore   string
	serveDSN     string
	serveMigrate bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		if flags.Changed("port") {
			cfg.Port = servePort
		}
		if flags.Changed("store") {
			if serveStore != config.StorePostgres && serveStore != config.StoreMemory {
				return fmt.Errorf("unknown store %q", serveStore)
			}
			cfg.Store = serveStore
		}
		if flags.Changed("database-url") {
			cfg.DatabaseURL = serveDSN
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "", "listen port (default $PORT or 8080)")
	serveCmd.Flags().StringVar(&serveStore, "store", "", "store backend: postgres or memory (default $HDLEND_STORE)")
	serveCmd.Flags().StringVar(&serveDSN, "database-url", "", "Postgres connection string (default $DATABASE_URL)")
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "apply pending migrations before serving")
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context) error {
	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTLPEndpoint, version, appLogger)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			appLogger.Error("shutdown tracing", "error", err)
		}
	}()

	if serveMigrate && cfg.Store == config.StorePostgres {
		if err := postgres.Migrate(cfg.DatabaseURL, appLogger); err != nil {
			return err
		}
	}

	svc, closeStore, err := openLocal(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newRouter(svc),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLogger.Info("starting hdlend server",
			"port", cfg.Port,
			"store", cfg.Store,
			"availability_policy", cfg.Policy.Availability,
			"capacity_policy", cfg.Policy.Capacity,
		)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	appLogger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newRouter(svc inventory.Service) http.Handler {
	limiter := middleware.NewRateLimiter(cfg.RateLimit, cfg.RateBurst)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(appLogger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.Metrics())

	r.Handle("/metrics", promhttp.Handler())
	r.Group(func(r chi.Router) {
		r.Use(limiter.Handler)
		r.Mount("/", inventory.NewHandler(svc, appLogger).Routes())
	})
	return r
}
