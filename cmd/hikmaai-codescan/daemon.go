// ABOUTME: Daemon command serving the HTTP API and an optional NATS worker
// ABOUTME: Shuts both down gracefully on SIGINT or SIGTERM

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hikmaai-io/hikmaai-codescan/internal/api"
	"github.com/hikmaai-io/hikmaai-codescan/internal/chat"
	"github.com/hikmaai-io/hikmaai-codescan/internal/config"
	"github.com/hikmaai-io/hikmaai-codescan/internal/queue"
	"github.com/hikmaai-io/hikmaai-codescan/internal/types"
)

const (
	defaultHTTPAddr = ":8080"
	shutdownTimeout = 10 * time.Second
)

func newDaemonCmd() *cobra.Command {
	var (
		httpAddr string
		natsURL  string
		options  []string
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the analysis service",
		Long: `Start the HikmaAI code analysis daemon.

The daemon serves the HTTP API and, when a NATS URL is configured,
answers analysis requests on the configured subject.

--options names the analyses the daemon must be able to run. Missing
credentials for any of them stop the daemon at startup.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if httpAddr != "" {
				cfg.HTTP.Addr = httpAddr
			}
			if cfg.HTTP.Addr == "" {
				cfg.HTTP.Addr = defaultHTTPAddr
			}
			if natsURL != "" {
				cfg.NATS.URL = natsURL
			}
			opts, err := types.ParseOptions(options)
			if err != nil {
				return err
			}
			return runDaemon(cmd.Context(), cfg, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http-addr", "", "HTTP listen address (overrides config, default :8080)")
	cmd.Flags().StringVar(&natsURL, "nats-url", "", "NATS server URL (overrides config; empty disables NATS)")
	cmd.Flags().StringSliceVar(&options, "options", []string{"all"}, "analyses the daemon must support")

	return cmd
}

func runDaemon(ctx context.Context, cfg *config.Config, opts types.AnalysisOptions, logOut io.Writer) error {
	logger := newLogger(cfg, logOut)
	slog.SetDefault(logger)

	logger.Info("starting hikmaai-codescan daemon",
		slog.String("version", version),
		slog.String("http_addr", cfg.HTTP.Addr),
		slog.String("nats_url", cfg.NATS.URL),
		slog.String("options", opts.String()),
	)

	tp, err := setupTracing(ctx, cfg)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	logger.Info("tracing configured", slog.Bool("enabled", tp.IsEnabled()))

	a, err := buildApp(ctx, cfg, opts, logger)
	if err != nil {
		_ = tp.Shutdown(context.Background())
		return err
	}
	defer a.Close()

	var sessions *chat.SessionStore
	if a.backend != nil {
		sessions = chat.NewSessionStore(chat.StoreConfig{
			Template: a.sessionConfig(),
			TTL:      cfg.Chat.SessionTTL,
		})
	}

	var cacheStatus api.CacheStatus
	if a.cache != nil {
		cacheStatus = a.cache
	}

	handler := api.NewHandler(api.HandlerConfig{
		Analyzer:        a.orch,
		Sessions:        sessions,
		Cache:           cacheStatus,
		Breakers:        a.breakers,
		Metrics:         a.metrics,
		Logger:          logger,
		MaxContentBytes: cfg.HTTP.MaxContentBytes,
	})

	httpServer := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: api.NewRouter(handler, api.RouterConfig{
			AllowedOrigins: cfg.HTTP.AllowedOrigins,
			Logger:         logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", slog.String("addr", cfg.HTTP.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var natsClient *queue.Client
	if cfg.NATS.URL != "" {
		natsClient, err = startNATS(ctx, cfg, a, logger)
		if err != nil {
			logger.Error("NATS worker disabled", slog.String("error", err.Error()))
		}
	}

	logger.Info("daemon ready, waiting for requests")

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		runErr = fmt.Errorf("HTTP server: %w", err)
	}

	logger.Info("shutting down daemon")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown error", slog.String("error", err.Error()))
	}
	if natsClient != nil {
		if err := natsClient.Close(); err != nil {
			logger.Warn("NATS close error", slog.String("error", err.Error()))
		}
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown error", slog.String("error", err.Error()))
	}

	logger.Info("daemon stopped")
	return runErr
}

func startNATS(ctx context.Context, cfg *config.Config, a *app, logger *slog.Logger) (*queue.Client, error) {
	natsCfg := queue.DefaultNATSConfig()
	natsCfg.URL = cfg.NATS.URL
	if cfg.NATS.Subject != "" {
		natsCfg.Subject = cfg.NATS.Subject
	}
	if cfg.NATS.Queue != "" {
		natsCfg.QueueGroup = cfg.NATS.Queue
	}

	client, err := queue.NewClient(natsCfg, queue.NewHandler(queue.HandlerConfig{
		Analyzer:        a.orch,
		MaxContentBytes: cfg.HTTP.MaxContentBytes,
		MaxFiles:        api.DefaultMaxBatchFiles,
	}), logger)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	if err := client.Subscribe(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("subscribing: %w", err)
	}
	return client, nil
}
