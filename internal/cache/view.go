package cache

import (
	"cmp"
	"math"
	"slices"
	"time"

	"market-stream/internal/depth"
	"market-stream/internal/price"
	"market-stream/internal/wire"
)

// MarketView is an immutable copy of one market handed to readers.
type MarketView struct {
	ID           string                 `json:"id"`
	Lifecycle    Lifecycle              `json:"lifecycle"`
	Definition   *wire.MarketDefinition `json:"definition,omitempty"`
	Clock        string                 `json:"clk,omitempty"`
	InitialClock string                 `json:"initialClk,omitempty"`
	PublishTime  time.Time              `json:"publishTime"`
	Conflated    bool                   `json:"conflated"`
	TotalMatched price.Size             `json:"totalMatched"`
	OrderClock   string                 `json:"orderClk,omitempty"`
	OrdersClosed bool                   `json:"ordersClosed,omitempty"`
	ClosedAt     time.Time              `json:"closedAt"`
	Version      uint64                 `json:"version"`
	Runners      []RunnerView           `json:"runners"`
}

// Status is the definition status, empty before any definition arrived.
func (v MarketView) Status() string {
	if v.Definition == nil {
		return ""
	}
	return v.Definition.Status
}

// Runner finds a selection in the view.
func (v MarketView) Runner(key RunnerKey) (RunnerView, bool) {
	for _, r := range v.Runners {
		if r.SelectionID == key.SelectionID && r.Handicap == key.Handicap {
			return r, true
		}
	}
	return RunnerView{}, false
}

type RunnerView struct {
	SelectionID  int64   `json:"selectionId"`
	Handicap     float64 `json:"handicap"`
	Status       string  `json:"status,omitempty"`
	SortPriority int64   `json:"sortPriority,omitempty"`

	LastTradedPrice   *price.Price `json:"ltp,omitempty"`
	TotalMatched      price.Size   `json:"totalMatched"`
	StartingPriceNear *float64     `json:"spn,omitempty"`
	StartingPriceFar  *float64     `json:"spf,omitempty"`

	BestToBack        []depth.PositionLevel `json:"batb,omitempty"`
	BestToLay         []depth.PositionLevel `json:"batl,omitempty"`
	BestDisplayToBack []depth.PositionLevel `json:"bdatb,omitempty"`
	BestDisplayToLay  []depth.PositionLevel `json:"bdatl,omitempty"`

	// full depth, best first
	ToBack []depth.Level `json:"atb,omitempty"`
	ToLay  []depth.Level `json:"atl,omitempty"`
	// ascending by price
	Traded       []depth.Level `json:"trd,omitempty"`
	StartingBack []depth.Level `json:"spb,omitempty"`
	StartingLay  []depth.Level `json:"spl,omitempty"`

	Orders       []wire.Order  `json:"orders,omitempty"`
	MatchedBacks []depth.Level `json:"matchedBacks,omitempty"`
	MatchedLays  []depth.Level `json:"matchedLays,omitempty"`
}

// Summary is the short per-market listing.
type Summary struct {
	ID           string     `json:"id"`
	Lifecycle    Lifecycle  `json:"lifecycle"`
	Status       string     `json:"status,omitempty"`
	InPlay       bool       `json:"inPlay"`
	MarketType   string     `json:"marketType,omitempty"`
	Runners      int        `json:"runners"`
	TotalMatched price.Size `json:"totalMatched"`
	PublishTime  time.Time  `json:"publishTime"`
}

// Snapshot copies out the current state of a market. The bool is false when
// the market is not in the cache; the view then reports Unseen.
func (c *Cache) Snapshot(id string) (MarketView, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.markets[id]
	if !ok {
		return MarketView{ID: id, Lifecycle: Unseen}, false
	}
	return m.view(c.version.Load()), true
}

// Lifecycle reports a market's state without copying its ladders.
func (c *Cache) Lifecycle(id string) Lifecycle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if m, ok := c.markets[id]; ok {
		return m.Lifecycle
	}
	return Unseen
}

// BestN returns up to n levels for one selection, best first. Full depth
// (atb/atl) is used when present, then best available, then the virtual
// display ladders.
func (c *Cache) BestN(id string, key RunnerKey, side depth.Side, n int) ([]depth.Level, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.markets[id]
	if !ok {
		return nil, false
	}
	r, ok := m.Runners[key]
	if !ok {
		return nil, false
	}

	full, best, display := r.ToBack, r.BestToBack, r.BestDisplayToBack
	if side == depth.Lay {
		full, best, display = r.ToLay, r.BestToLay, r.BestDisplayToLay
	}
	switch {
	case full.Len() > 0:
		return full.BestN(side, n), true
	case best.Len() > 0:
		return positionLevels(best.BestN(n)), true
	default:
		return positionLevels(display.BestN(n)), true
	}
}

func positionLevels(ls []depth.PositionLevel) []depth.Level {
	if len(ls) == 0 {
		return nil
	}
	out := make([]depth.Level, len(ls))
	for i, l := range ls {
		out[i] = depth.Level{Price: l.Price, Size: l.Size}
	}
	return out
}

// Markets lists every cached market ordered by id.
func (c *Cache) Markets() []Summary {
	c.mu.RLock()
	out := make([]Summary, 0, len(c.markets))
	for _, m := range c.markets {
		s := Summary{
			ID:           m.ID,
			Lifecycle:    m.Lifecycle,
			Runners:      len(m.Runners),
			TotalMatched: m.TotalMatched,
			PublishTime:  millis(m.PublishTime),
		}
		if d := m.Definition; d != nil {
			s.Status, s.InPlay, s.MarketType = d.Status, d.InPlay, d.MarketType
		}
		out = append(out, s)
	}
	c.mu.RUnlock()

	slices.SortFunc(out, func(a, b Summary) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (m *MarketState) view(version uint64) MarketView {
	v := MarketView{
		ID:           m.ID,
		Lifecycle:    m.Lifecycle,
		Definition:   m.Definition.Clone(),
		Clock:        m.Clock,
		InitialClock: m.InitialClock,
		PublishTime:  millis(m.PublishTime),
		Conflated:    m.Conflated,
		TotalMatched: m.TotalMatched,
		OrderClock:   m.OrderClock,
		OrdersClosed: m.OrdersClosed,
		ClosedAt:     m.ClosedAt,
		Version:      version,
		Runners:      make([]RunnerView, 0, len(m.Runners)),
	}

	defs := make(map[RunnerKey]wire.RunnerDefinition)
	if m.Definition != nil {
		for _, rd := range m.Definition.Runners {
			defs[RunnerKey{SelectionID: rd.ID, Handicap: rd.Handicap}] = rd
		}
	}
	for key, r := range m.Runners {
		rv := r.view()
		if rd, ok := defs[key]; ok {
			rv.Status, rv.SortPriority = rd.Status, rd.SortPriority
		}
		v.Runners = append(v.Runners, rv)
	}
	slices.SortFunc(v.Runners, func(a, b RunnerView) int {
		if c := cmp.Compare(a.SortPriority, b.SortPriority); c != 0 {
			return c
		}
		if c := cmp.Compare(a.SelectionID, b.SelectionID); c != 0 {
			return c
		}
		return cmp.Compare(a.Handicap, b.Handicap)
	})
	return v
}

func (r *RunnerState) view() RunnerView {
	v := RunnerView{
		SelectionID:       r.Key.SelectionID,
		Handicap:          r.Key.Handicap,
		TotalMatched:      r.TotalMatched,
		StartingPriceNear: finite(r.StartingPriceNear),
		StartingPriceFar:  finite(r.StartingPriceFar),
		BestToBack:        r.BestToBack.BestN(r.BestToBack.Len()),
		BestToLay:         r.BestToLay.BestN(r.BestToLay.Len()),
		BestDisplayToBack: r.BestDisplayToBack.BestN(r.BestDisplayToBack.Len()),
		BestDisplayToLay:  r.BestDisplayToLay.BestN(r.BestDisplayToLay.Len()),
		ToBack:            r.ToBack.BestN(depth.Back, r.ToBack.Len()),
		ToLay:             r.ToLay.BestN(depth.Lay, r.ToLay.Len()),
		Traded:            nonEmpty(r.Traded.Levels()),
		StartingBack:      nonEmpty(r.StartingBack.Levels()),
		StartingLay:       nonEmpty(r.StartingLay.Levels()),
		MatchedBacks:      nonEmpty(r.MatchedBacks.Levels()),
		MatchedLays:       nonEmpty(r.MatchedLays.Levels()),
	}
	if !r.LastTradedPrice.IsZero() {
		ltp := r.LastTradedPrice
		v.LastTradedPrice = &ltp
	}
	if len(r.Orders) > 0 {
		v.Orders = make([]wire.Order, 0, len(r.Orders))
		for _, o := range r.Orders {
			v.Orders = append(v.Orders, o)
		}
		slices.SortFunc(v.Orders, func(a, b wire.Order) int { return cmp.Compare(a.ID, b.ID) })
	}
	return v
}

func finite(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func nonEmpty(ls []depth.Level) []depth.Level {
	if len(ls) == 0 {
		return nil
	}
	return ls
}

func millis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
