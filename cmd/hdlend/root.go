// cmd/hdlend/root.go
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"hdlend/internal/clients"
	"hdlend/internal/config"
	"hdlend/internal/inventory"
	"hdlend/internal/inventory/memstore"
	"hdlend/internal/inventory/postgres"
	"hdlend/internal/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	cfg       *config.Config
	appLogger *slog.Logger

	serverURL string
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "hdlend",
	Short: "Hard-disk lending inventory",
	Long: `hdlend tracks titles, the hard-disk units that carry them, and the lend
slots that bind the two. It runs the HTTP server, manages the database schema,
checks data consistency, and drives a remote server from the command line.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
		if cmd.Flags().Changed("server") {
			cfg.ServerURL = serverURL
		}
		if logLevel != "" {
			cfg.LogLevel = logger.ParseLevel(logLevel)
		}
		appLogger = logger.New(logger.Config{
			Writer:      os.Stderr,
			Environment: cfg.Environment,
			Level:       cfg.LogLevel,
		})
		slog.SetDefault(appLogger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "hdlend server URL (default $HDLEND_SERVER_URL)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (default $HDLEND_LOG_LEVEL)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// remote returns a client for the configured server.
func remote() inventory.Service {
	return clients.NewInventoryClient(cfg.ServerURL, clients.WithLogger(appLogger))
}

// openLocal builds an engine over the configured store. The returned func
// releases the store.
func openLocal(ctx context.Context) (inventory.Service, func(), error) {
	opts := []inventory.Option{inventory.WithPolicy(cfg.Policy), inventory.WithLogger(appLogger)}

	switch cfg.Store {
	case config.StoreMemory:
		appLogger.Warn("using in-memory store; data is lost on exit")
		return inventory.NewService(memstore.New(), opts...), func() {}, nil
	default:
		store, err := postgres.Open(ctx, cfg.DatabaseURL,
			postgres.WithMaxTries(cfg.StoreTries),
			postgres.WithLogger(appLogger),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres store: %w", err)
		}
		closeStore := func() {
			if err := store.Close(); err != nil {
				appLogger.Error("close store", "error", err)
			}
		}
		return inventory.NewService(store, opts...), closeStore, nil
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}

func parseID(raw, what string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s id %q", what, raw)
	}
	return id, nil
}
