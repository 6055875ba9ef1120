package subscription

// MarketFilter selects which markets the server streams. Fields are echoed
// verbatim into the subscription request.
type MarketFilter struct {
	MarketIDs         []string `yaml:"market_ids" json:"marketIds,omitempty"`
	BspMarket         *bool    `yaml:"bsp_market" json:"bspMarket,omitempty"`
	BettingTypes      []string `yaml:"betting_types" json:"bettingTypes,omitempty"`
	EventTypeIDs      []string `yaml:"event_type_ids" json:"eventTypeIds,omitempty"`
	EventIDs          []string `yaml:"event_ids" json:"eventIds,omitempty"`
	TurnInPlayEnabled *bool    `yaml:"turn_in_play_enabled" json:"turnInPlayEnabled,omitempty"`
	MarketTypes       []string `yaml:"market_types" json:"marketTypes,omitempty"`
	Venues            []string `yaml:"venues" json:"venues,omitempty"`
	CountryCodes      []string `yaml:"country_codes" json:"countryCodes,omitempty"`
	RaceTypes         []string `yaml:"race_types" json:"raceTypes,omitempty"`
}

// Market data fields that can be requested.
const (
	FieldBestOffersDisplay = "EX_BEST_OFFERS_DISP"
	FieldBestOffers        = "EX_BEST_OFFERS"
	FieldAllOffers         = "EX_ALL_OFFERS"
	FieldTraded            = "EX_TRADED"
	FieldTradedVolume      = "EX_TRADED_VOL"
	FieldLastTraded        = "EX_LTP"
	FieldMarketDefinition  = "EX_MARKET_DEF"
	FieldSPTraded          = "SP_TRADED"
	FieldSPProjected       = "SP_PROJECTED"
)

// MarketDataFilter selects which fields of each market are streamed.
type MarketDataFilter struct {
	LadderLevels int      `yaml:"ladder_levels" json:"ladderLevels,omitzero"`
	Fields       []string `yaml:"fields" json:"fields,omitempty"`
}

type OrderFilter struct {
	IncludeOverallPosition        *bool    `yaml:"include_overall_position" json:"includeOverallPosition,omitempty"`
	CustomerStrategyRefs          []string `yaml:"customer_strategy_refs" json:"customerStrategyRefs,omitempty"`
	PartitionMatchedByStrategyRef bool     `yaml:"partition_matched_by_strategy_ref" json:"partitionMatchedByStrategyRef,omitzero"`
	AccountIDs                    []int64  `yaml:"account_ids" json:"accountIds,omitempty"`
}

// MarketSubscription is the caller-supplied part of a market subscribe.
type MarketSubscription struct {
	MarketFilter        MarketFilter     `yaml:"market_filter"`
	MarketDataFilter    MarketDataFilter `yaml:"market_data_filter"`
	ConflateMs          int64            `yaml:"conflate_ms"`
	HeartbeatMs         int64            `yaml:"heartbeat_ms"`
	SegmentationEnabled bool             `yaml:"segmentation_enabled"`
}

// OrderSubscription is the caller-supplied part of an order subscribe.
type OrderSubscription struct {
	Enabled             bool        `yaml:"enabled"`
	OrderFilter         OrderFilter `yaml:"order_filter"`
	ConflateMs          int64       `yaml:"conflate_ms"`
	HeartbeatMs         int64       `yaml:"heartbeat_ms"`
	SegmentationEnabled bool        `yaml:"segmentation_enabled"`
}

// ResumeState is where a stream left off. A zero value means subscribe
// fresh and receive a full image.
type ResumeState struct {
	InitialClock string `json:"initialClk,omitempty"`
	Clock        string `json:"clk,omitempty"`
}

func (r ResumeState) Resumable() bool { return r.Clock != "" }
