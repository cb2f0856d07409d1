// ABOUTME: NATS client wrapper for queue subscriptions
// ABOUTME: Handles connection, subscription with queue groups, and graceful shutdown

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/hikmaai-io/hikmaai-codescan/internal/observability"
)

// NATSConfig holds NATS connection configuration.
type NATSConfig struct {
	// NATS server URL.
	URL string

	// Subject to subscribe to for analysis requests.
	Subject string

	// Queue group name for load balancing.
	QueueGroup string

	// Connection name for identification.
	Name string

	// Reconnect settings.
	MaxReconnects int
	ReconnectWait time.Duration

	// Timeout bounds one request's analysis. Zero means unbounded.
	Timeout time.Duration

	// DrainTimeout bounds how long Close waits for in-flight requests.
	DrainTimeout time.Duration
}

// DefaultNATSConfig returns a configuration with sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Subject:       "hikma.codescan.analyze",
		QueueGroup:    "codescan-workers",
		Name:          "hikmaai-codescan",
		MaxReconnects: -1, // Unlimited.
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Minute,
		DrainTimeout:  30 * time.Second,
	}
}

// Client wraps the NATS connection and subscription.
type Client struct {
	conn    *nats.Conn
	sub     *nats.Subscription
	handler *Handler
	config  NATSConfig
	logger  *slog.Logger
}

// NewClient creates a new NATS client with the given configuration.
func NewClient(cfg NATSConfig, handler *Handler, logger *slog.Logger) (*Client, error) {
	if handler == nil {
		return nil, fmt.Errorf("queue handler is required")
	}
	if cfg.Subject == "" {
		return nil, fmt.Errorf("NATS subject is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultNATSConfig().DrainTimeout
	}

	return &Client{
		handler: handler,
		config:  cfg,
		logger:  logger,
	}, nil
}

// Connect establishes the NATS connection.
func (c *Client) Connect(ctx context.Context) error {
	opts := []nats.Option{
		nats.Name(c.config.Name),
		nats.MaxReconnects(c.config.MaxReconnects),
		nats.ReconnectWait(c.config.ReconnectWait),
		nats.DrainTimeout(c.config.DrainTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			c.logger.Warn("NATS disconnected", slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info("NATS reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			c.logger.Info("NATS connection closed")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			c.logger.Error("NATS error",
				slog.Any("error", err),
				slog.String("subject", subject),
			)
		}),
	}

	conn, err := nats.Connect(c.config.URL, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	c.conn = conn
	c.logger.Info("connected to NATS",
		slog.String("url", conn.ConnectedUrl()),
		slog.String("server_id", conn.ConnectedServerId()),
	)

	return nil
}

// Subscribe starts listening for analysis requests.
func (c *Client) Subscribe(ctx context.Context) error {
	if c.conn == nil {
		return fmt.Errorf("not connected to NATS")
	}

	sub, err := c.conn.QueueSubscribe(c.config.Subject, c.config.QueueGroup, func(msg *nats.Msg) {
		c.handleMessage(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	c.sub = sub
	c.logger.Info("subscribed to NATS",
		slog.String("subject", c.config.Subject),
		slog.String("queue", c.config.QueueGroup),
	)

	return nil
}

// handleMessage processes an incoming NATS message.
func (c *Client) handleMessage(ctx context.Context, msg *nats.Msg) {
	ctx, span := observability.StartSpan(ctx, "nats.handle_message")
	defer span.End()

	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	req, resp := c.handler.ProcessMessage(ctx, msg.Data)
	if resp.Status == StatusError {
		c.logger.WarnContext(ctx, "rejected analysis request",
			slog.String("request_id", req.RequestID),
			slog.String("error", resp.Error),
		)
	}

	// Send reply if requested.
	if msg.Reply != "" {
		respData, err := json.Marshal(resp)
		if err != nil {
			c.logger.ErrorContext(ctx, "failed to marshal response",
				slog.Any("error", err),
				slog.String("request_id", req.RequestID),
			)
			return
		}

		if err := msg.Respond(respData); err != nil {
			c.logger.ErrorContext(ctx, "failed to send reply",
				slog.Any("error", err),
				slog.String("request_id", req.RequestID),
			)
			return
		}
	}

	c.logger.InfoContext(ctx, "processed analysis request",
		slog.String("request_id", req.RequestID),
		slog.Int("files", len(req.Files)),
		slog.String("options", req.Options.String()),
		slog.String("status", resp.Status),
		slog.Duration("duration", time.Since(start)),
	)
}

// Close stops taking new requests, lets in-flight ones reply, and closes
// the connection. It returns once the drain finishes or times out.
func (c *Client) Close() error {
	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}

	closed := make(chan struct{})
	c.conn.SetClosedHandler(func(*nats.Conn) {
		c.logger.Info("NATS connection closed")
		close(closed)
	})
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
		return fmt.Errorf("draining NATS connection: %w", err)
	}
	<-closed
	return nil
}

// IsConnected returns true if connected to NATS.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}
