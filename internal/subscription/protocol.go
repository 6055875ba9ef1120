package subscription

import (
	"fmt"
	"sync/atomic"

	"github.com/go-json-experiment/json"
)

// Request op codes.
const (
	OpAuthentication     = "authentication"
	OpMarketSubscription = "marketSubscription"
	OpOrderSubscription  = "orderSubscription"
	OpHeartbeat          = "heartbeat"
)

type authenticationRequest struct {
	Op      string `json:"op"`
	ID      int64  `json:"id"`
	AppKey  string `json:"appKey"`
	Session string `json:"session"`
}

type marketSubscriptionRequest struct {
	Op                  string           `json:"op"`
	ID                  int64            `json:"id"`
	MarketFilter        MarketFilter     `json:"marketFilter"`
	MarketDataFilter    MarketDataFilter `json:"marketDataFilter"`
	Clock               string           `json:"clk,omitempty"`
	ConflateMs          int64            `json:"conflateMs,omitzero"`
	HeartbeatMs         int64            `json:"heartbeatMs,omitzero"`
	SegmentationEnabled bool             `json:"segmentationEnabled,omitzero"`
}

type orderSubscriptionRequest struct {
	Op                  string      `json:"op"`
	ID                  int64       `json:"id"`
	OrderFilter         OrderFilter `json:"orderFilter"`
	Clock               string      `json:"clk,omitempty"`
	ConflateMs          int64       `json:"conflateMs,omitzero"`
	HeartbeatMs         int64       `json:"heartbeatMs,omitzero"`
	SegmentationEnabled bool        `json:"segmentationEnabled,omitzero"`
}

type heartbeatRequest struct {
	Op string `json:"op"`
	ID int64  `json:"id"`
}

// BuildSubscribeMessage encodes a market subscription. When resume holds a
// clock the server continues from it: clk is sent and initialClk omitted.
// Otherwise the subscription is fresh and the server replies with an image.
func BuildSubscribeMessage(id int64, sub MarketSubscription, resume ResumeState) ([]byte, error) {
	req := marketSubscriptionRequest{
		Op:                  OpMarketSubscription,
		ID:                  id,
		MarketFilter:        sub.MarketFilter,
		MarketDataFilter:    sub.MarketDataFilter,
		ConflateMs:          sub.ConflateMs,
		HeartbeatMs:         sub.HeartbeatMs,
		SegmentationEnabled: sub.SegmentationEnabled,
	}
	if resume.Resumable() {
		req.Clock = resume.Clock
	}
	b, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode market subscription: %w", err)
	}
	return b, nil
}

// BuildOrderSubscribeMessage is the order stream counterpart.
func BuildOrderSubscribeMessage(id int64, sub OrderSubscription, resume ResumeState) ([]byte, error) {
	req := orderSubscriptionRequest{
		Op:                  OpOrderSubscription,
		ID:                  id,
		OrderFilter:         sub.OrderFilter,
		ConflateMs:          sub.ConflateMs,
		HeartbeatMs:         sub.HeartbeatMs,
		SegmentationEnabled: sub.SegmentationEnabled,
	}
	if resume.Resumable() {
		req.Clock = resume.Clock
	}
	b, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode order subscription: %w", err)
	}
	return b, nil
}

// Protocol hands out request ids and encodes control messages. It is safe
// for concurrent use.
type Protocol struct {
	nextID atomic.Int64
}

func NewProtocol() *Protocol { return &Protocol{} }

func (p *Protocol) id() int64 { return p.nextID.Add(1) }

// LastID is the id of the most recent request built.
func (p *Protocol) LastID() int64 { return p.nextID.Load() }

// Authentication carries the application key and the opaque session token.
func (p *Protocol) Authentication(appKey, session string) (int64, []byte, error) {
	id := p.id()
	b, err := json.Marshal(authenticationRequest{Op: OpAuthentication, ID: id, AppKey: appKey, Session: session})
	if err != nil {
		return id, nil, fmt.Errorf("encode authentication: %w", err)
	}
	return id, b, nil
}

func (p *Protocol) MarketSubscription(sub MarketSubscription, resume ResumeState) (int64, []byte, error) {
	id := p.id()
	b, err := BuildSubscribeMessage(id, sub, resume)
	return id, b, err
}

func (p *Protocol) OrderSubscription(sub OrderSubscription, resume ResumeState) (int64, []byte, error) {
	id := p.id()
	b, err := BuildOrderSubscribeMessage(id, sub, resume)
	return id, b, err
}

func (p *Protocol) Heartbeat() (int64, []byte, error) {
	id := p.id()
	b, err := json.Marshal(heartbeatRequest{Op: OpHeartbeat, ID: id})
	if err != nil {
		return id, nil, fmt.Errorf("encode heartbeat: %w", err)
	}
	return id, b, nil
}
