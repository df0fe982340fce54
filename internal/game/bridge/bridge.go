// Package bridge implements game.Dialer on top of an external protocol
// bridge reached over a websocket. The bridge owns the game connection;
// this side relays actions, caches pushed state and translates lifecycle
// frames into game events.
package bridge

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yegors/afkfleet/internal/game"
	"github.com/yegors/afkfleet/pkg/logger"
)

// Config configures the bridge dialer
type Config struct {
	URL          string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	Header       http.Header // extra handshake headers, e.g. an auth token
}

// Dialer opens one bridge websocket per game connection
type Dialer struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *logger.Logger
}

// NewDialer creates a bridge dialer
func NewDialer(cfg Config, log *logger.Logger) *Dialer {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Dialer{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.DialTimeout,
		},
		logger: log.Named("bridge"),
	}
}

// Dial implements game.Dialer. The websocket is opened in the background;
// failures surface as Errored followed by Disconnected.
func (d *Dialer) Dial(ctx context.Context, opts game.ConnectOptions, handler game.Handler) (game.Client, error) {
	if opts.Identity == "" {
		return nil, fmt.Errorf("identity is required")
	}
	if opts.Host == "" {
		return nil, fmt.Errorf("server host is required")
	}

	c := newClient(opts, d.cfg.WriteTimeout, handler, d.logger.With(
		logger.String("identity", opts.Identity)))
	go c.run(ctx, d.dialer, d.cfg.URL, d.cfg.Header, d.cfg.DialTimeout)
	return c, nil
}
