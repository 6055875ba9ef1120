package wire

import (
	"time"

	"market-stream/internal/price"
)

// Operation codes on the stream.
const (
	OpConnection   = "connection"
	OpStatus       = "status"
	OpMarketChange = "mcm"
	OpOrderChange  = "ocm"
)

type ChangeType string

const (
	ChangeDelta      ChangeType = ""
	ChangeSubImage   ChangeType = "SUB_IMAGE"
	ChangeResubDelta ChangeType = "RESUB_DELTA"
	ChangeHeartbeat  ChangeType = "HEARTBEAT"
)

type SegmentType string

const (
	SegmentNone  SegmentType = ""
	SegmentStart SegmentType = "SEG_START"
	Segment      SegmentType = "SEG"
	SegmentEnd   SegmentType = "SEG_END"
)

// Optional marks a field that may be absent (or null) on the wire. Absence
// and a zero value mean different things to the cache.
type Optional[T any] struct {
	Value T
	Set   bool
}

func Some[T any](v T) Optional[T] { return Optional[T]{Value: v, Set: true} }

func (o Optional[T]) Get() (T, bool) { return o.Value, o.Set }

// Or returns the value, or def when absent.
func (o Optional[T]) Or(def T) T {
	if o.Set {
		return o.Value
	}
	return def
}

// ChangeMessage is one parsed line. Market and order change messages fill
// MarketChanges/OrderChanges; status and connection messages fill the
// trailing block.
type ChangeMessage struct {
	Op           string
	ID           Optional[int64]
	Clock        string
	InitialClock string
	PublishTime  int64 // unix millis
	ConflateMs   Optional[int64]
	HeartbeatMs  Optional[int64]
	ChangeType   ChangeType
	SegmentType  SegmentType
	Status       Optional[int64]

	MarketChanges []MarketChange
	OrderChanges  []OrderMarketChange

	ConnectionID         string
	StatusCode           string
	ErrorCode            string
	ErrorMessage         string
	ConnectionClosed     Optional[bool]
	ConnectionsAvailable Optional[int64]
}

func (m *ChangeMessage) Published() time.Time {
	if m.PublishTime == 0 {
		return time.Time{}
	}
	return time.UnixMilli(m.PublishTime)
}

func (m *ChangeMessage) IsHeartbeat() bool { return m.ChangeType == ChangeHeartbeat }

// MarketChange is one entry of "mc". RunnerChanges is nil when "rc" was
// absent and non-nil (possibly empty) when it was sent.
type MarketChange struct {
	ID            string
	Image         bool
	TotalMatched  Optional[price.Size]
	Conflated     Optional[bool]
	Definition    *MarketDefinition
	RunnerChanges []RunnerChange
}

type RunnerChange struct {
	ID                int64
	Handicap          Optional[float64]
	LastTradedPrice   Optional[price.Price]
	TotalMatched      Optional[price.Size]
	StartingPriceNear Optional[float64]
	StartingPriceFar  Optional[float64]

	// [position, price, size]
	BestAvailableToBack        []PositionUpdate
	BestAvailableToLay         []PositionUpdate
	BestDisplayAvailableToBack []PositionUpdate
	BestDisplayAvailableToLay  []PositionUpdate

	// [price, size]
	AvailableToBack   []PriceUpdate
	AvailableToLay    []PriceUpdate
	Traded            []PriceUpdate
	StartingPriceBack []PriceUpdate
	StartingPriceLay  []PriceUpdate
}

type PriceUpdate struct {
	Price price.Price
	Size  price.Size
}

type PositionUpdate struct {
	Position int
	Price    price.Price
	Size     price.Size
}

// MarketDefinition is always a complete snapshot of the market's static data.
type MarketDefinition struct {
	Status                string             `json:"status"`
	InPlay                bool               `json:"inPlay"`
	Version               int64              `json:"version"`
	BspMarket             bool               `json:"bspMarket"`
	TurnInPlayEnabled     bool               `json:"turnInPlayEnabled"`
	PersistenceEnabled    bool               `json:"persistenceEnabled"`
	BspReconciled         bool               `json:"bspReconciled"`
	Complete              bool               `json:"complete"`
	CrossMatching         bool               `json:"crossMatching"`
	RunnersVoidable       bool               `json:"runnersVoidable"`
	DiscountAllowed       bool               `json:"discountAllowed"`
	MarketBaseRate        float64            `json:"marketBaseRate"`
	EventID               string             `json:"eventId"`
	EventTypeID           string             `json:"eventTypeId"`
	NumberOfWinners       int64              `json:"numberOfWinners"`
	NumberOfActiveRunners int64              `json:"numberOfActiveRunners"`
	BetDelay              int64              `json:"betDelay"`
	BettingType           string             `json:"bettingType"`
	MarketType            string             `json:"marketType"`
	CountryCode           string             `json:"countryCode"`
	Venue                 string             `json:"venue"`
	Timezone              string             `json:"timezone"`
	EventName             string             `json:"eventName"`
	PriceLadderType       string             `json:"priceLadderType"`
	EachWayDivisor        float64            `json:"eachWayDivisor,omitempty"`
	MarketTime            time.Time          `json:"marketTime"`
	SuspendTime           time.Time          `json:"suspendTime"`
	SettledTime           time.Time          `json:"settledTime"`
	OpenDate              time.Time          `json:"openDate"`
	Regulators            []string           `json:"regulators"`
	Runners               []RunnerDefinition `json:"runners"`
}

// Market statuses.
const (
	StatusInactive  = "INACTIVE"
	StatusOpen      = "OPEN"
	StatusSuspended = "SUSPENDED"
	StatusClosed    = "CLOSED"
)

type RunnerDefinition struct {
	ID               int64     `json:"id"`
	Handicap         float64   `json:"hc"`
	Status           string    `json:"status"`
	SortPriority     int64     `json:"sortPriority"`
	BSP              float64   `json:"bsp,omitempty"`
	AdjustmentFactor float64   `json:"adjustmentFactor,omitempty"`
	RemovalDate      time.Time `json:"removalDate"`
}

// Clone copies the definition including its slices.
func (d *MarketDefinition) Clone() *MarketDefinition {
	if d == nil {
		return nil
	}
	c := *d
	c.Regulators = append([]string(nil), d.Regulators...)
	c.Runners = append([]RunnerDefinition(nil), d.Runners...)
	return &c
}

// OrderMarketChange is one entry of "oc" on the order stream.
type OrderMarketChange struct {
	ID            string
	AccountID     Optional[int64]
	Closed        Optional[bool]
	FullImage     bool
	RunnerChanges []OrderRunnerChange
}

type OrderRunnerChange struct {
	ID           int64
	Handicap     Optional[float64]
	FullImage    bool
	Unmatched    []Order
	MatchedBacks []PriceUpdate
	MatchedLays  []PriceUpdate
}

// Order sides and statuses as sent on the order stream.
const (
	SideBack               = "B"
	SideLay                = "L"
	OrderExecutable        = "E"
	OrderExecutionComplete = "EC"
)

type Order struct {
	ID                  string      `json:"id"`
	Price               price.Price `json:"price"`
	Size                price.Size  `json:"size"`
	BSPLiability        price.Size  `json:"bspLiability"`
	Side                string      `json:"side"`
	Status              string      `json:"status"`
	PersistenceType     string      `json:"persistenceType"`
	OrderType           string      `json:"orderType"`
	PlacedDate          time.Time   `json:"placedDate"`
	MatchedDate         time.Time   `json:"matchedDate"`
	CancelledDate       time.Time   `json:"cancelledDate"`
	LapsedDate          time.Time   `json:"lapsedDate"`
	AveragePriceMatched float64     `json:"averagePriceMatched"`
	SizeMatched         price.Size  `json:"sizeMatched"`
	SizeRemaining       price.Size  `json:"sizeRemaining"`
	SizeLapsed          price.Size  `json:"sizeLapsed"`
	SizeCancelled       price.Size  `json:"sizeCancelled"`
	SizeVoided          price.Size  `json:"sizeVoided"`
	RegulatorCode       string      `json:"regulatorCode"`
	CustomerStrategyRef string      `json:"customerStrategyRef"`
	CustomerOrderRef    string      `json:"customerOrderRef"`
}
