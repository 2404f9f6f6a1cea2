package publish

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/specialistvlad/opgraph/internal/ctxlog"
	"github.com/specialistvlad/opgraph/internal/fx"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

const (
	DefaultEvent    = "graph"
	DefaultAckEvent = "graph_ack"
	DefaultTimeout  = 10 * time.Second
)

// ErrTimeout is returned when the server did not connect or acknowledge in
// time.
var ErrTimeout = errors.New("publish timed out")

// Config describes where and how graphs are published. Zero fields take
// the Default values.
type Config struct {
	URL                string
	Namespace          string
	Event              string
	AckEvent           string
	Timeout            time.Duration
	InsecureSkipVerify bool
}

// Publisher emits graph documents to one socket.io endpoint.
type Publisher struct {
	cfg     Config
	baseURL string
	path    string
}

// New validates cfg and returns a Publisher for it. No connection is made.
func New(cfg Config) (*Publisher, error) {
	parsedURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	switch parsedURL.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme %q in %q", parsedURL.Scheme, cfg.URL)
	}
	if parsedURL.Host == "" {
		return nil, fmt.Errorf("URL %q has no host", cfg.URL)
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "/"
	}
	if cfg.Event == "" {
		cfg.Event = DefaultEvent
	}
	if cfg.AckEvent == "" {
		cfg.AckEvent = DefaultAckEvent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Publisher{
		cfg:     cfg,
		baseURL: fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host),
		path:    parsedURL.Path,
	}, nil
}

// Config returns the effective configuration.
func (p *Publisher) Config() Config { return p.cfg }

// opResult is a private struct to safely pass results through the done channel.
type opResult struct {
	reply any
	err   error
}

// Publish connects, emits the Document of gm and waits for the
// acknowledgement event. It returns the acknowledgement payload, nil if the
// server sent none.
func (p *Publisher) Publish(ctx context.Context, gm *fx.GraphModule) (any, error) {
	doc := Describe(gm)
	logger := ctxlog.FromContext(ctx).With("url", p.cfg.URL, "event", p.cfg.Event, "graph", doc.Name)
	logger.Debug("Publisher: Starting.")
	defer logger.Debug("Publisher: Finished.")

	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode graph %s: %w", doc.Name, err)
	}
	// The socket.io encoder marshals again, so send plain JSON values.
	var data map[string]any
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, fmt.Errorf("failed to encode graph %s: %w", doc.Name, err)
	}

	opts := socket.DefaultOptions()
	if p.path != "" {
		opts.SetPath(p.path)
	}
	opts.SetReconnection(false)
	if p.cfg.InsecureSkipVerify {
		logger.Warn("Publisher: Skipping TLS certificate verification.")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.Polling, transports.WebSocket))

	opCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	var connected atomic.Bool
	done := make(chan opResult, 1)
	finish := func(r opResult) {
		select {
		case done <- r:
		default:
		}
	}

	manager := socket.NewManager(p.baseURL, opts)
	io := manager.Socket(p.cfg.Namespace, opts)
	defer func() {
		logger.Debug("Publisher: Disconnecting.")
		io.Disconnect()
	}()

	io.Once(types.EventName(p.cfg.AckEvent), func(args ...any) {
		var reply any
		if len(args) > 0 {
			reply = args[0]
		}
		finish(opResult{reply: reply})
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		err := fmt.Errorf("connection refused")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		finish(opResult{err: fmt.Errorf("socket.io connection failed: %w", err)})
	})
	io.Once(types.EventName("connect"), func(...any) {
		connected.Store(true)
		logger.Info("Publisher: Connected.", "sid", io.Id())
		logger.Debug("Publisher: Emitting graph.", "nodes", len(doc.Nodes), "bytes", len(payload))
		io.Emit(p.cfg.Event, data)
	})

	io.Connect()

	select {
	case <-opCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("publish cancelled: %w", err)
		}
		if connected.Load() {
			return nil, fmt.Errorf("%w after connecting while waiting for event %q", ErrTimeout, p.cfg.AckEvent)
		}
		return nil, fmt.Errorf("%w while waiting for initial connection", ErrTimeout)
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		logger.Info("Publisher: Graph acknowledged.", "nodes", len(doc.Nodes))
		return res.reply, nil
	}
}
