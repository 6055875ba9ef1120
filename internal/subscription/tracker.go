package subscription

import (
	"sync"
	"time"

	"market-stream/internal/wire"
)

// Position is the last clock pair and publish time seen for one market.
type Position struct {
	InitialClock string    `json:"initialClk,omitempty"`
	Clock        string    `json:"clk,omitempty"`
	PublishTime  time.Time `json:"publishTime"`
}

// Tracker records how far each stream has been processed. Observe is called
// by the stream reader after a message was applied; the getters may be called
// from any goroutine.
type Tracker struct {
	mu      sync.RWMutex
	market  streamPosition
	order   streamPosition
	markets map[string]Position
}

type streamPosition struct {
	resume      ResumeState
	lastPublish time.Time
	lastSeen    time.Time
}

func NewTracker() *Tracker {
	return &Tracker{markets: make(map[string]Position)}
}

// Observe records the clocks carried by msg. Messages other than market and
// order changes are ignored.
func (t *Tracker) Observe(msg *wire.ChangeMessage, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var st *streamPosition
	switch msg.Op {
	case wire.OpMarketChange:
		st = &t.market
	case wire.OpOrderChange:
		st = &t.order
	default:
		return
	}

	if msg.InitialClock != "" {
		st.resume.InitialClock = msg.InitialClock
	}
	if msg.Clock != "" {
		st.resume.Clock = msg.Clock
	}
	pt := msg.Published()
	if pt.After(st.lastPublish) {
		st.lastPublish = pt
	}
	st.lastSeen = now

	for i := range msg.MarketChanges {
		id := msg.MarketChanges[i].ID
		p := t.markets[id]
		if msg.InitialClock != "" {
			p.InitialClock = msg.InitialClock
		}
		if msg.Clock != "" {
			p.Clock = msg.Clock
		}
		if pt.After(p.PublishTime) {
			p.PublishTime = pt
		}
		t.markets[id] = p
	}
}

// MarketResume is what a market resubscription should carry.
func (t *Tracker) MarketResume() ResumeState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.market.resume
}

func (t *Tracker) OrderResume() ResumeState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.order.resume
}

// Position returns the clocks last seen for a market.
func (t *Tracker) Position(marketID string) (Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.markets[marketID]
	return p, ok
}

// LastPublishTime is the newest publish time seen for a market, zero if none.
func (t *Tracker) LastPublishTime(marketID string) time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.markets[marketID].PublishTime
}

// StreamPublishTime is the newest publish time on the market stream,
// heartbeats included.
func (t *Tracker) StreamPublishTime() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.market.lastPublish
}

// Overdue reports whether nothing arrived on the market stream for longer
// than limit. A tracker that has seen nothing is never overdue.
func (t *Tracker) Overdue(now time.Time, limit time.Duration) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	last := t.market.lastSeen
	if t.order.lastSeen.After(last) {
		last = t.order.lastSeen
	}
	return !last.IsZero() && now.Sub(last) > limit
}

// Restore seeds the resume state for a caller whose cache already holds
// the markets up to those clocks.
func (t *Tracker) Restore(market, order ResumeState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.market.resume = market
	t.order.resume = order
}

// Forget drops a market's position once it is evicted.
func (t *Tracker) Forget(marketID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.markets, marketID)
}

// Reset forgets everything so the next subscription is fresh.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.market = streamPosition{}
	t.order = streamPosition{}
	clear(t.markets)
}

// ResetMarket clears only the market stream resume state.
func (t *Tracker) ResetMarket() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.market.resume = ResumeState{}
}

func (t *Tracker) ResetOrder() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.order.resume = ResumeState{}
}
