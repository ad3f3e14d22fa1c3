package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"evalgo.org/gridstore/internal/api"
	"evalgo.org/gridstore/internal/index"
	"evalgo.org/gridstore/internal/storage"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the API server",
	Long: `Start the HTTP API server serving network records from the object index.

With store.watch_changes enabled (CouchDB only), records modified by other
writers are invalidated as their changes arrive.`,
	RunE: runServer,
}

func runServer(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)
	defer stop()

	store, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	client := storage.WithTimeout(store, cfg.Store.Timeout)

	hub := api.NewHub(logger)
	registry, err := index.NewRegistry(client, cfg.Index.MaxNetworks, logger,
		index.NewMetrics(prometheus.DefaultRegisterer),
		index.WithPageSize(cfg.Index.PageSize),
		index.WithListener(hub.Listener()),
	)
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to create index registry: %w", err)
	}

	if cfg.Store.WatchChanges {
		if watcher, ok := store.(changeWatcher); ok {
			go func() {
				if err := watchChanges(ctx, watcher, registry, logger); err != nil {
					logger.WithError(err).Error("Change feed stopped")
				}
			}()
		}
	}

	server := api.New(cfg, registry, hub, logger)

	// Start server in a goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}

		return nil

	case err := <-errChan:
		_ = client.Close()
		return fmt.Errorf("server error: %w", err)
	}
}

// changeWatcher is a store reporting modifications made by other writers.
type changeWatcher interface {
	Watch(ctx context.Context, handler storage.ChangeHandler) error
}

// watchChanges invalidates the cached copy of every record changed out of
// band. Networks without a live index hold nothing to invalidate.
func watchChanges(ctx context.Context, w changeWatcher, registry *index.Registry, logger logrus.FieldLogger) error {
	err := w.Watch(ctx, func(change storage.Change) {
		idx, ok := registry.Lookup(change.Network)
		if !ok {
			return
		}
		idx.Invalidate(change.Kind, change.ID)
		logger.WithFields(logrus.Fields{
			"network": change.Network,
			"kind":    change.Kind,
			"id":      change.ID,
		}).Debug("Invalidated record changed out of band")
	})
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
