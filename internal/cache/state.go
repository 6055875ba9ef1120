package cache

import (
	"math"
	"time"

	"market-stream/internal/depth"
	"market-stream/internal/price"
	"market-stream/internal/wire"
)

// Lifecycle is the per-market state machine.
type Lifecycle int

const (
	Unseen Lifecycle = iota
	Initializing
	Live
	Closed
)

func (l Lifecycle) String() string {
	switch l {
	case Initializing:
		return "INITIALIZING"
	case Live:
		return "LIVE"
	case Closed:
		return "CLOSED"
	}
	return "UNSEEN"
}

func (l Lifecycle) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

func (l *Lifecycle) UnmarshalText(b []byte) error {
	switch string(b) {
	case "INITIALIZING":
		*l = Initializing
	case "LIVE":
		*l = Live
	case "CLOSED":
		*l = Closed
	default:
		*l = Unseen
	}
	return nil
}

// RunnerKey identifies a selection; line markets reuse the selection id
// across handicaps.
type RunnerKey struct {
	SelectionID int64
	Handicap    float64
}

// RunnerState is one selection's book plus the caller's orders on it.
type RunnerState struct {
	Key RunnerKey

	BestToBack        *depth.PositionLadder
	BestToLay         *depth.PositionLadder
	BestDisplayToBack *depth.PositionLadder
	BestDisplayToLay  *depth.PositionLadder

	ToBack       *depth.Ladder
	ToLay        *depth.Ladder
	Traded       *depth.Ladder
	StartingBack *depth.Ladder
	StartingLay  *depth.Ladder

	LastTradedPrice   price.Price // zero until traded
	TotalMatched      price.Size
	StartingPriceNear float64 // NaN until published
	StartingPriceFar  float64

	Orders       map[string]wire.Order // unmatched and recently completed, by bet id
	MatchedBacks *depth.Ladder
	MatchedLays  *depth.Ladder
}

func newRunner(key RunnerKey) *RunnerState {
	return &RunnerState{
		Key:               key,
		BestToBack:        depth.NewPositionLadder(),
		BestToLay:         depth.NewPositionLadder(),
		BestDisplayToBack: depth.NewPositionLadder(),
		BestDisplayToLay:  depth.NewPositionLadder(),
		ToBack:            depth.NewLadder(),
		ToLay:             depth.NewLadder(),
		Traded:            depth.NewLadder(),
		StartingBack:      depth.NewLadder(),
		StartingLay:       depth.NewLadder(),
		StartingPriceNear: math.NaN(),
		StartingPriceFar:  math.NaN(),
		Orders:            make(map[string]wire.Order),
		MatchedBacks:      depth.NewLadder(),
		MatchedLays:       depth.NewLadder(),
	}
}

// clearMarketData drops every market-data ladder and aggregate. Orders are
// owned by the order stream and survive.
func (r *RunnerState) clearMarketData() {
	r.BestToBack.Clear()
	r.BestToLay.Clear()
	r.BestDisplayToBack.Clear()
	r.BestDisplayToLay.Clear()
	r.ToBack.Clear()
	r.ToLay.Clear()
	r.Traded.Clear()
	r.StartingBack.Clear()
	r.StartingLay.Clear()
	r.LastTradedPrice = price.Price{}
	r.TotalMatched = price.Zero
	r.StartingPriceNear = math.NaN()
	r.StartingPriceFar = math.NaN()
}

func (r *RunnerState) clearOrders() {
	clear(r.Orders)
	r.MatchedBacks.Clear()
	r.MatchedLays.Clear()
}

func (r *RunnerState) apply(rc *wire.RunnerChange) {
	if v, ok := rc.LastTradedPrice.Get(); ok {
		r.LastTradedPrice = v
	}
	if v, ok := rc.TotalMatched.Get(); ok {
		r.TotalMatched = v
	}
	if v, ok := rc.StartingPriceNear.Get(); ok {
		r.StartingPriceNear = v
	}
	if v, ok := rc.StartingPriceFar.Get(); ok {
		r.StartingPriceFar = v
	}

	upsertPositions(r.BestToBack, rc.BestAvailableToBack)
	upsertPositions(r.BestToLay, rc.BestAvailableToLay)
	upsertPositions(r.BestDisplayToBack, rc.BestDisplayAvailableToBack)
	upsertPositions(r.BestDisplayToLay, rc.BestDisplayAvailableToLay)

	upsertPrices(r.ToBack, rc.AvailableToBack)
	upsertPrices(r.ToLay, rc.AvailableToLay)
	upsertPrices(r.Traded, rc.Traded)
	upsertPrices(r.StartingBack, rc.StartingPriceBack)
	upsertPrices(r.StartingLay, rc.StartingPriceLay)
}

func (r *RunnerState) applyOrders(orc *wire.OrderRunnerChange) {
	if orc.FullImage {
		r.clearOrders()
	}
	for _, o := range orc.Unmatched {
		r.Orders[o.ID] = o
	}
	// matched ladders are absolute per price, like the market ladders
	upsertPrices(r.MatchedBacks, orc.MatchedBacks)
	upsertPrices(r.MatchedLays, orc.MatchedLays)
}

func upsertPositions(l *depth.PositionLadder, us []wire.PositionUpdate) {
	for _, u := range us {
		l.Upsert(u.Position, u.Price, u.Size)
	}
}

func upsertPrices(l *depth.Ladder, us []wire.PriceUpdate) {
	for _, u := range us {
		l.Upsert(u.Price, u.Size)
	}
}

// MarketState is everything the cache knows about one market. It is owned by
// the cache and only touched under its write lock.
type MarketState struct {
	ID         string
	Lifecycle  Lifecycle
	Definition *wire.MarketDefinition
	Runners    map[RunnerKey]*RunnerState

	Clock        string
	InitialClock string
	PublishTime  int64
	Conflated    bool
	TotalMatched price.Size

	OrderClock   string
	AccountID    int64
	OrdersClosed bool

	ClosedAt time.Time
	Updated  time.Time
}

func newMarket(id string) *MarketState {
	return &MarketState{
		ID:        id,
		Lifecycle: Initializing,
		Runners:   make(map[RunnerKey]*RunnerState),
	}
}

func (m *MarketState) runner(key RunnerKey) *RunnerState {
	r, ok := m.Runners[key]
	if !ok {
		r = newRunner(key)
		m.Runners[key] = r
	}
	return r
}

func (m *MarketState) close(now time.Time) {
	if m.Lifecycle == Closed {
		return
	}
	m.Lifecycle = Closed
	m.ClosedAt = now
}

func runnerKey(id int64, hc wire.Optional[float64]) RunnerKey {
	return RunnerKey{SelectionID: id, Handicap: hc.Or(0)}
}
