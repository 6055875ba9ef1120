package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"market-stream/internal/cache"
	"market-stream/internal/metrics"
	"market-stream/internal/subscription"
	"market-stream/internal/wire"
)

var (
	// ErrConnectionClosed is reported when the server announces it is
	// closing the connection.
	ErrConnectionClosed = errors.New("connection closed by server")
	// ErrTooManyMalformed means MaxMalformedLines consecutive lines failed
	// to parse and the connection is treated as broken.
	ErrTooManyMalformed = errors.New("too many malformed lines")
)

type Config struct {
	AppKey string
	Market subscription.MarketSubscription
	Order  subscription.OrderSubscription

	// MaxMalformedLines consecutive parse failures drop the connection.
	// Zero never drops.
	MaxMalformedLines int
	// HandshakeTimeout bounds the connection and authentication replies.
	HandshakeTimeout time.Duration
	// HeartbeatSlack is added to twice the heartbeat interval to form the
	// read deadline.
	HeartbeatSlack time.Duration
	// KeepAlive sends a heartbeat request at this interval; zero disables.
	KeepAlive time.Duration

	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// SessionStore persists details of the last session for operators.
type SessionStore interface {
	UpsertMetadata(ctx context.Context, key, value string) error
}

// Update announces markets changed by one applied message.
type Update struct {
	Markets []string
	Version uint64
}

// Client keeps a subscription alive: it dials, authenticates, subscribes
// (resuming from the tracker's clocks), and feeds every line into the cache.
// It is the cache's single writer.
type Client struct {
	cfg     Config
	dialer  Dialer
	tokens  TokenProvider
	cache   *cache.Cache
	tracker *subscription.Tracker
	proto   *subscription.Protocol
	metrics *metrics.Metrics
	store   SessionStore
	log     *slog.Logger
	// diag re-reads rejected lines for logging; used only by readLoop.
	diag *wire.Parser

	updCh chan Update
	errCh chan error

	connected atomic.Bool
	mu        sync.RWMutex
	connID    string
}

type Option func(*Client)

func WithMetrics(m *metrics.Metrics) Option { return func(c *Client) { c.metrics = m } }

func WithSessionStore(s SessionStore) Option { return func(c *Client) { c.store = s } }

func WithTracker(t *subscription.Tracker) Option { return func(c *Client) { c.tracker = t } }

func NewClient(cfg Config, dialer Dialer, tokens TokenProvider, cc *cache.Cache, logger *slog.Logger, opts ...Option) *Client {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 15 * time.Second
	}
	if cfg.HeartbeatSlack <= 0 {
		cfg.HeartbeatSlack = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		cfg:     cfg,
		dialer:  dialer,
		tokens:  tokens,
		cache:   cc,
		tracker: subscription.NewTracker(),
		proto:   subscription.NewProtocol(),
		log:     logger,
		diag:    wire.NewParser(),
		updCh:   make(chan Update, 1024),
		errCh:   make(chan error, 16),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Updates() <-chan Update { return c.updCh }
func (c *Client) Errors() <-chan error   { return c.errCh }

func (c *Client) Tracker() *subscription.Tracker { return c.tracker }

func (c *Client) Connected() bool { return c.connected.Load() }

// ConnectionID is the id the server assigned to the current or last
// connection.
func (c *Client) ConnectionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connID
}

func (c *Client) setConnected(v bool) {
	c.connected.Store(v)
	if c.metrics != nil {
		if v {
			c.metrics.Connected.Set(1)
		} else {
			c.metrics.Connected.Set(0)
		}
	}
}

// Run connects and reconnects until ctx is cancelled or the server rejects
// the credentials. It returns nil on cancellation.
func (c *Client) Run(ctx context.Context) error {
	retry := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		subscribed, err := c.session(ctx)
		c.setConnected(false)
		c.saveSession(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if subscribed {
			retry = 0
		}

		var se *subscription.StatusError
		if errors.As(err, &se) {
			if c.metrics != nil {
				c.metrics.StatusErrors.WithLabelValues(se.Code).Inc()
			}
			if se.Auth() {
				c.emitErr(err)
				return err
			}
			if se.InvalidClock() {
				c.log.Warn("resume clock rejected, subscribing fresh")
				c.tracker.ResetMarket()
				c.tracker.ResetOrder()
			}
		}
		if err != nil {
			c.emitErr(err)
		}

		delay := Backoff(retry, c.cfg.BaseBackoff, c.cfg.MaxBackoff)
		c.log.Warn("stream disconnected",
			slog.Any("err", err),
			slog.Int("retry", retry),
			slog.Duration("backoff", delay))
		retry++

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// session runs one connection. subscribed reports whether it got as far as
// subscribing, which resets the backoff.
func (c *Client) session(ctx context.Context) (subscribed bool, err error) {
	conn, err := c.dialer.Dial(ctx)
	if err != nil {
		c.countConnect("dial_error")
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	// unblock ReadLine on shutdown
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := c.handshake(ctx, conn); err != nil {
		c.countConnect("handshake_error")
		return false, err
	}
	if err := c.subscribe(conn); err != nil {
		c.countConnect("subscribe_error")
		return false, err
	}
	c.countConnect("ok")
	c.setConnected(true)

	if c.cfg.KeepAlive > 0 {
		kctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go c.keepAlive(kctx, conn)
	}
	return true, c.readLoop(ctx, conn)
}

func (c *Client) countConnect(outcome string) {
	if c.metrics != nil {
		c.metrics.Connects.WithLabelValues(outcome).Inc()
	}
}

// handshake reads the connection message and authenticates.
func (c *Client) handshake(ctx context.Context, conn Conn) error {
	res, err := c.readControl(conn)
	if err != nil {
		return fmt.Errorf("await connection: %w", err)
	}
	if res.Kind != cache.ResultConnection {
		return fmt.Errorf("await connection: got %s", res.Kind)
	}
	c.mu.Lock()
	c.connID = res.Message.ConnectionID
	c.mu.Unlock()
	c.log.Info("stream connected", slog.String("connection_id", res.Message.ConnectionID))

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("session token: %w", err)
	}
	id, line, err := c.proto.Authentication(c.cfg.AppKey, token)
	if err != nil {
		return err
	}
	if err := conn.WriteLine(line); err != nil {
		return fmt.Errorf("write authentication: %w", err)
	}

	for {
		res, err := c.readControl(conn)
		if err != nil {
			return fmt.Errorf("await authentication: %w", err)
		}
		if res.Kind != cache.ResultStatus {
			continue
		}
		if err := subscription.CheckStatus(res.Message); err != nil {
			return err
		}
		if res.Message.ID.Value == id {
			return nil
		}
	}
}

// readControl reads one line under the handshake deadline.
func (c *Client) readControl(conn Conn) (cache.ApplyResult, error) {
	if err := conn.SetReadDeadline(time.Now().Add(c.cfg.HandshakeTimeout)); err != nil {
		return cache.ApplyResult{}, err
	}
	line, err := conn.ReadLine()
	if err != nil {
		return cache.ApplyResult{}, err
	}
	return c.cache.ApplyLine(line)
}

func (c *Client) subscribe(conn Conn) error {
	resume := c.tracker.MarketResume()
	_, line, err := c.proto.MarketSubscription(c.cfg.Market, resume)
	if err != nil {
		return err
	}
	if err := conn.WriteLine(line); err != nil {
		return fmt.Errorf("write market subscription: %w", err)
	}
	c.log.Info("market subscription sent",
		slog.Bool("resume", resume.Resumable()),
		slog.String("clk", resume.Clock))

	if !c.cfg.Order.Enabled {
		return nil
	}
	resume = c.tracker.OrderResume()
	_, line, err = c.proto.OrderSubscription(c.cfg.Order, resume)
	if err != nil {
		return err
	}
	if err := conn.WriteLine(line); err != nil {
		return fmt.Errorf("write order subscription: %w", err)
	}
	c.log.Info("order subscription sent", slog.Bool("resume", resume.Resumable()))
	return nil
}

func (c *Client) readTimeout() time.Duration {
	hb := c.cfg.Market.HeartbeatMs
	if hb <= 0 {
		hb = 5000
	}
	return 2*time.Duration(hb)*time.Millisecond + c.cfg.HeartbeatSlack
}

func (c *Client) readLoop(ctx context.Context, conn Conn) error {
	timeout := c.readTimeout()
	malformed := 0
	for {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
		line, err := conn.ReadLine()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		start := time.Now()
		res, err := c.cache.ApplyLine(line)
		if c.metrics != nil {
			c.metrics.ObserveLine(res.Kind, len(line), time.Since(start).Seconds())
		}
		if err != nil {
			malformed++
			c.log.Warn("dropping malformed line", c.malformedAttrs(line, err)...)
			if c.cfg.MaxMalformedLines > 0 && malformed >= c.cfg.MaxMalformedLines {
				return fmt.Errorf("%w: %d in a row, last: %v", ErrTooManyMalformed, malformed, err)
			}
			continue
		}
		malformed = 0

		switch res.Kind {
		case cache.ResultStatus:
			if err := subscription.CheckStatus(res.Message); err != nil {
				return err
			}
			if res.Message.ConnectionClosed.Value {
				return ErrConnectionClosed
			}
		case cache.ResultApplied:
			c.tracker.Observe(res.Message, start)
			c.publish(Update{Markets: res.Changed, Version: res.Version})
		case cache.ResultHeartbeat:
			c.tracker.Observe(res.Message, start)
		}
	}
}

func (c *Client) keepAlive(ctx context.Context, conn Conn) {
	t := time.NewTicker(c.cfg.KeepAlive)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, line, err := c.proto.Heartbeat()
			if err == nil {
				err = conn.WriteLine(line)
			}
			if err != nil {
				c.log.Debug("heartbeat write failed", slog.Any("err", err))
				return
			}
		}
	}
}

// publish never blocks the reader; a slow consumer loses updates, not state.
func (c *Client) publish(u Update) {
	select {
	case c.updCh <- u:
	default:
	}
}

// malformedAttrs describes a rejected line, naming the market of a
// truncated image when its header is still readable.
func (c *Client) malformedAttrs(line []byte, err error) []any {
	attrs := []any{slog.Any("err", err), slog.Int("bytes", len(line))}
	hdr, herr := c.diag.ParseImageHeader(line)
	if herr != nil {
		return attrs
	}
	if n := len(hdr.MarketChanges); n > 0 && hdr.MarketChanges[n-1].Image {
		attrs = append(attrs,
			slog.String("market", hdr.MarketChanges[n-1].ID),
			slog.String("clk", hdr.Clock),
		)
	}
	return attrs
}

func (c *Client) emitErr(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

// Session metadata keys.
const (
	KeyConnectionID      = "connection_id"
	KeyMarketClock       = "market_clk"
	KeyMarketInitialClk  = "market_initial_clk"
	KeyOrderClock        = "order_clk"
	KeySessionEndedAtUTC = "session_ended_at"
)

func (c *Client) saveSession(ctx context.Context) {
	if c.store == nil {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	m, o := c.tracker.MarketResume(), c.tracker.OrderResume()
	values := map[string]string{
		KeyConnectionID:      c.ConnectionID(),
		KeyMarketClock:       m.Clock,
		KeyMarketInitialClk:  m.InitialClock,
		KeyOrderClock:        o.Clock,
		KeySessionEndedAtUTC: time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range values {
		if err := c.store.UpsertMetadata(sctx, k, v); err != nil {
			c.log.Warn("save session", slog.String("key", k), slog.Any("err", err))
			return
		}
	}
}
