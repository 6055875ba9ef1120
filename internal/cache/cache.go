package cache

import (
	"cmp"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"market-stream/internal/price"
	"market-stream/internal/wire"
)

// ResultKind tags what ApplyLine/Apply did with a message.
type ResultKind int

const (
	ResultApplied ResultKind = iota
	ResultStale
	ResultHeartbeat
	ResultStatus
	ResultConnection
	ResultSkipped
	ResultMalformed
)

func (k ResultKind) String() string {
	switch k {
	case ResultApplied:
		return "applied"
	case ResultStale:
		return "stale"
	case ResultHeartbeat:
		return "heartbeat"
	case ResultStatus:
		return "status"
	case ResultConnection:
		return "connection"
	case ResultSkipped:
		return "skipped"
	}
	return "malformed"
}

type ApplyResult struct {
	Kind    ResultKind
	Message *wire.ChangeMessage
	// Changed lists the market ids mutated by this message, in order.
	Changed []string
	// Stale counts market or order changes discarded as out of date.
	Stale int
	// Version is the cache version after the message.
	Version uint64
}

// Cache holds per-market state rebuilt from the change stream.
//
// Exactly one goroutine may call ApplyLine/Apply. Any number of readers may
// call Snapshot, BestN, Markets and Stats concurrently; the write lock is held
// for a whole message so readers see either all of it or none of it.
type Cache struct {
	log    *slog.Logger
	now    func() time.Time
	parser *wire.Parser

	mu      sync.RWMutex
	markets map[string]*MarketState

	version atomic.Uint64
	stats   counters
}

type counters struct {
	messages      atomic.Uint64
	heartbeats    atomic.Uint64
	marketChanges atomic.Uint64
	orderChanges  atomic.Uint64
	stale         atomic.Uint64
	malformed     atomic.Uint64
	unknown       atomic.Uint64
	afterClose    atomic.Uint64
}

// Stats is a point-in-time copy of the cache counters.
type Stats struct {
	Markets       int    `json:"markets"`
	Version       uint64 `json:"version"`
	Messages      uint64 `json:"messages"`
	Heartbeats    uint64 `json:"heartbeats"`
	MarketChanges uint64 `json:"marketChanges"`
	OrderChanges  uint64 `json:"orderChanges"`
	Stale         uint64 `json:"stale"`
	Malformed     uint64 `json:"malformed"`
	Unknown       uint64 `json:"unknown"`
	AfterClose    uint64 `json:"afterClose"`
}

func New(logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		log:     logger,
		now:     time.Now,
		parser:  wire.NewParser(),
		markets: make(map[string]*MarketState),
	}
}

// ApplyLine parses one stream line and applies it. Malformed lines come back
// as ResultMalformed with an error wrapping wire.ErrMalformedMessage; the
// cache is untouched. Unknown operations are skipped without error.
func (c *Cache) ApplyLine(line []byte) (ApplyResult, error) {
	msg, err := c.parser.Parse(line)
	switch {
	case errors.Is(err, wire.ErrUnknownOperation):
		c.stats.unknown.Add(1)
		c.log.Debug("skipping unknown operation", slog.String("err", err.Error()))
		return ApplyResult{Kind: ResultSkipped, Version: c.version.Load()}, nil
	case err != nil:
		c.stats.malformed.Add(1)
		return ApplyResult{Kind: ResultMalformed, Version: c.version.Load()}, err
	}
	return c.Apply(msg), nil
}

// Apply folds a parsed message into the cache.
func (c *Cache) Apply(msg *wire.ChangeMessage) ApplyResult {
	c.stats.messages.Add(1)
	res := ApplyResult{Message: msg}

	switch msg.Op {
	case wire.OpConnection:
		res.Kind = ResultConnection
	case wire.OpStatus:
		res.Kind = ResultStatus
	case wire.OpMarketChange, wire.OpOrderChange:
		if msg.IsHeartbeat() || (len(msg.MarketChanges) == 0 && len(msg.OrderChanges) == 0) {
			c.stats.heartbeats.Add(1)
			res.Kind = ResultHeartbeat
		} else {
			c.applyChanges(msg, &res)
			return res
		}
	default:
		c.stats.unknown.Add(1)
		res.Kind = ResultSkipped
	}
	res.Version = c.version.Load()
	return res
}

func (c *Cache) applyChanges(msg *wire.ChangeMessage, res *ApplyResult) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Staleness is decided once per market before this message touches it,
	// so a market repeated within one message applies every entry in order.
	fresh := make(map[string]bool, len(msg.MarketChanges))
	for i := range msg.MarketChanges {
		mc := &msg.MarketChanges[i]
		c.stats.marketChanges.Add(1)
		ok, decided := fresh[mc.ID]
		if !decided {
			ok = !c.marketStale(msg, mc.ID)
			fresh[mc.ID] = ok
		}
		if !ok {
			res.Stale++
			continue
		}
		c.applyMarket(msg, mc, now)
		res.Changed = appendUnique(res.Changed, mc.ID)
	}
	clear(fresh)
	for i := range msg.OrderChanges {
		oc := &msg.OrderChanges[i]
		c.stats.orderChanges.Add(1)
		ok, decided := fresh[oc.ID]
		if !decided {
			ok = !c.orderStale(msg, oc.ID)
			fresh[oc.ID] = ok
		}
		if !ok {
			res.Stale++
			continue
		}
		c.applyOrderMarket(msg, oc, now)
		res.Changed = appendUnique(res.Changed, oc.ID)
	}

	if res.Stale > 0 {
		c.stats.stale.Add(uint64(res.Stale))
	}
	if len(res.Changed) > 0 {
		res.Kind = ResultApplied
		res.Version = c.version.Add(1)
		return
	}
	res.Kind = ResultStale
	res.Version = c.version.Load()
}

func appendUnique(ids []string, id string) []string {
	if slices.Contains(ids, id) {
		return ids
	}
	return append(ids, id)
}

// stale reports whether msg is a duplicate or older than what m holds.
// Clocks are opaque, so only equality and publish time order are usable.
func stale(clock string, pt int64, msg *wire.ChangeMessage) bool {
	if msg.Clock != "" && msg.Clock == clock {
		return true
	}
	return msg.PublishTime != 0 && msg.PublishTime < pt
}

func (c *Cache) market(id string) *MarketState {
	m, ok := c.markets[id]
	if !ok {
		m = newMarket(id)
		c.markets[id] = m
		c.log.Debug("market added", slog.String("market", id))
	}
	return m
}

func (c *Cache) marketStale(msg *wire.ChangeMessage, id string) bool {
	m, seen := c.markets[id]
	if !seen || !stale(m.Clock, m.PublishTime, msg) {
		return false
	}
	c.log.Debug("stale market change",
		slog.String("market", id),
		slog.String("clk", msg.Clock),
		slog.Int64("pt", msg.PublishTime))
	return true
}

func (c *Cache) orderStale(msg *wire.ChangeMessage, id string) bool {
	m, seen := c.markets[id]
	if !seen || msg.Clock == "" || msg.Clock != m.OrderClock {
		return false
	}
	c.log.Debug("stale order change", slog.String("market", id), slog.String("clk", msg.Clock))
	return true
}

func (c *Cache) applyMarket(msg *wire.ChangeMessage, mc *wire.MarketChange, now time.Time) {
	m := c.market(mc.ID)
	if m.Lifecycle == Closed {
		c.stats.afterClose.Add(1)
		c.log.Warn("change for closed market", slog.String("market", mc.ID), slog.String("clk", msg.Clock))
	}

	if d := mc.Definition; d != nil {
		m.Definition = d
		for _, rd := range d.Runners {
			m.runner(RunnerKey{SelectionID: rd.ID, Handicap: rd.Handicap})
		}
		if d.Status == wire.StatusClosed {
			m.close(now)
		}
	}

	if mc.Image {
		for _, r := range m.Runners {
			r.clearMarketData()
		}
		m.TotalMatched = price.Zero
		if m.Lifecycle == Initializing {
			m.Lifecycle = Live
		}
	}

	for i := range mc.RunnerChanges {
		rc := &mc.RunnerChanges[i]
		m.runner(runnerKey(rc.ID, rc.Handicap)).apply(rc)
	}

	if v, ok := mc.TotalMatched.Get(); ok {
		m.TotalMatched = v
	}
	if v, ok := mc.Conflated.Get(); ok {
		m.Conflated = v
	}
	if msg.Clock != "" {
		m.Clock = msg.Clock
	}
	if msg.InitialClock != "" {
		m.InitialClock = msg.InitialClock
	}
	if msg.PublishTime > m.PublishTime {
		m.PublishTime = msg.PublishTime
	}
	m.Updated = now
}

func (c *Cache) applyOrderMarket(msg *wire.ChangeMessage, oc *wire.OrderMarketChange, now time.Time) {
	m := c.market(oc.ID)
	if m.Lifecycle == Closed {
		c.stats.afterClose.Add(1)
		c.log.Warn("order change for closed market", slog.String("market", oc.ID))
	}

	if oc.FullImage {
		for _, r := range m.Runners {
			r.clearOrders()
		}
	}
	for i := range oc.RunnerChanges {
		orc := &oc.RunnerChanges[i]
		m.runner(runnerKey(orc.ID, orc.Handicap)).applyOrders(orc)
	}
	if v, ok := oc.AccountID.Get(); ok {
		m.AccountID = v
	}
	if v, ok := oc.Closed.Get(); ok {
		m.OrdersClosed = v
	}
	if msg.Clock != "" {
		m.OrderClock = msg.Clock
	}
	m.Updated = now
}

// Close marks a market Closed, e.g. when the subscription drops it. The
// state is kept for readers until Evict.
func (c *Cache) Close(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.markets[id]
	if !ok {
		return false
	}
	if m.Lifecycle != Closed {
		m.close(c.now())
		c.version.Add(1)
	}
	return true
}

// Evict removes a market entirely.
func (c *Cache) Evict(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.markets[id]; !ok {
		return false
	}
	delete(c.markets, id)
	c.version.Add(1)
	c.log.Debug("market evicted", slog.String("market", id))
	return true
}

// EvictClosed removes markets that closed before cutoff and returns their
// final views.
func (c *Cache) EvictClosed(cutoff time.Time) []MarketView {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []MarketView
	for id, m := range c.markets {
		if m.Lifecycle != Closed || !m.ClosedAt.Before(cutoff) {
			continue
		}
		out = append(out, m.view(c.version.Load()))
		delete(c.markets, id)
	}
	if len(out) > 0 {
		c.version.Add(1)
		slices.SortFunc(out, func(a, b MarketView) int { return cmp.Compare(a.ID, b.ID) })
	}
	return out
}

// Version advances once per message that changed state.
func (c *Cache) Version() uint64 { return c.version.Load() }

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.markets)
}

func (c *Cache) Stats() Stats {
	return Stats{
		Markets:       c.Len(),
		Version:       c.version.Load(),
		Messages:      c.stats.messages.Load(),
		Heartbeats:    c.stats.heartbeats.Load(),
		MarketChanges: c.stats.marketChanges.Load(),
		OrderChanges:  c.stats.orderChanges.Load(),
		Stale:         c.stats.stale.Load(),
		Malformed:     c.stats.malformed.Load(),
		Unknown:       c.stats.unknown.Load(),
		AfterClose:    c.stats.afterClose.Load(),
	}
}
