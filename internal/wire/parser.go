package wire

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/go-json-experiment/json/jsontext"

	"market-stream/internal/price"
)

var decoderOptions = jsontext.AllowDuplicateNames(true)

// Parser turns stream lines into ChangeMessages by walking the token stream
// and reading only the properties the cache uses. Unknown properties are
// skipped without being decoded. A Parser reuses its decoder and must only
// be used from one goroutine.
type Parser struct {
	rd          bytes.Reader
	dec         *jsontext.Decoder
	stopOnImage bool
}

func NewParser() *Parser {
	p := &Parser{}
	p.dec = jsontext.NewDecoder(&p.rd, decoderOptions)
	return p
}

// Parse decodes one line with a fresh Parser.
func Parse(line []byte) (*ChangeMessage, error) {
	return NewParser().Parse(line)
}

func (p *Parser) Parse(line []byte) (*ChangeMessage, error) {
	return p.parse(line, false)
}

// ParseImageHeader stops at the first market change carrying both an id and
// img=true and returns what was captured up to there (op, clocks, publish
// time, that market id). The rest of the line, truncated or not, is ignored.
func (p *Parser) ParseImageHeader(line []byte) (*ChangeMessage, error) {
	return p.parse(line, true)
}

func (p *Parser) parse(line []byte, stopOnImage bool) (*ChangeMessage, error) {
	p.stopOnImage = stopOnImage
	p.rd.Reset(line)
	p.dec.Reset(&p.rd, decoderOptions)

	msg := &ChangeMessage{}
	switch err := p.message(msg); {
	case errors.Is(err, errStop):
	case err != nil:
		return nil, malformed(err)
	default:
		// Only whitespace may follow the top-level object.
		if _, err := p.dec.ReadToken(); err != io.EOF {
			if err == nil {
				err = errors.New("trailing data after message")
			}
			return nil, malformed(err)
		}
	}
	if err := validate(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func validate(msg *ChangeMessage) error {
	switch msg.Op {
	case "":
		return violation("missing op")
	case OpMarketChange:
		for i := range msg.MarketChanges {
			if msg.MarketChanges[i].ID == "" {
				return violation("market change %d has no id", i)
			}
		}
	case OpOrderChange:
		for i := range msg.OrderChanges {
			if msg.OrderChanges[i].ID == "" {
				return violation("order change %d has no market id", i)
			}
		}
	case OpConnection, OpStatus:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOperation, msg.Op)
	}
	return nil
}

func (p *Parser) message(msg *ChangeMessage) error {
	ok, err := p.members("message", func(name []byte) error {
		var err error
		switch string(name) {
		case `"op"`:
			msg.Op, err = p.str("op")
		case `"id"`:
			msg.ID, err = p.integer("id")
		case `"clk"`:
			msg.Clock, err = p.str("clk")
		case `"initialClk"`:
			msg.InitialClock, err = p.str("initialClk")
		case `"pt"`:
			var pt Optional[int64]
			pt, err = p.integer("pt")
			msg.PublishTime = pt.Value
		case `"conflateMs"`:
			msg.ConflateMs, err = p.integer("conflateMs")
		case `"heartbeatMs"`:
			msg.HeartbeatMs, err = p.integer("heartbeatMs")
		case `"ct"`:
			var s string
			s, err = p.str("ct")
			msg.ChangeType = ChangeType(s)
		case `"segmentType"`:
			var s string
			s, err = p.str("segmentType")
			msg.SegmentType = SegmentType(s)
		case `"status"`:
			msg.Status, err = p.integer("status")
		case `"mc"`:
			err = p.marketChanges(msg)
		case `"oc"`:
			err = p.orderChanges(msg)
		case `"connectionId"`:
			msg.ConnectionID, err = p.str("connectionId")
		case `"statusCode"`:
			msg.StatusCode, err = p.str("statusCode")
		case `"errorCode"`:
			msg.ErrorCode, err = p.str("errorCode")
		case `"errorMessage"`:
			msg.ErrorMessage, err = p.str("errorMessage")
		case `"connectionClosed"`:
			msg.ConnectionClosed, err = p.boolean("connectionClosed")
		case `"connectionsAvailable"`:
			msg.ConnectionsAvailable, err = p.integer("connectionsAvailable")
		default:
			err = p.dec.SkipValue()
		}
		return err
	})
	if err == nil && !ok {
		err = errors.New("message is null")
	}
	return err
}

func (p *Parser) marketChanges(msg *ChangeMessage) error {
	msg.MarketChanges = make([]MarketChange, 0, 1)
	_, err := p.elements("mc", func() error {
		msg.MarketChanges = append(msg.MarketChanges, MarketChange{})
		return p.marketChange(&msg.MarketChanges[len(msg.MarketChanges)-1])
	})
	return err
}

func (p *Parser) marketChange(mc *MarketChange) error {
	_, err := p.members("mc", func(name []byte) error {
		var err error
		switch string(name) {
		case `"id"`:
			mc.ID, err = p.str("mc.id")
		case `"img"`:
			var b Optional[bool]
			b, err = p.boolean("img")
			mc.Image = b.Value
		case `"tv"`:
			mc.TotalMatched, err = p.size("mc.tv")
		case `"con"`:
			mc.Conflated, err = p.boolean("con")
		case `"marketDefinition"`:
			mc.Definition, err = p.marketDefinition()
		case `"rc"`:
			mc.RunnerChanges, err = p.runnerChanges()
		default:
			err = p.dec.SkipValue()
		}
		if err == nil && p.stopOnImage && mc.Image && mc.ID != "" {
			return errStop
		}
		return err
	})
	return err
}

func (p *Parser) runnerChanges() ([]RunnerChange, error) {
	rcs := make([]RunnerChange, 0, 4)
	ok, err := p.elements("rc", func() error {
		rcs = append(rcs, RunnerChange{})
		return p.runnerChange(&rcs[len(rcs)-1])
	})
	if !ok {
		return nil, err
	}
	return rcs, err
}

func (p *Parser) runnerChange(rc *RunnerChange) error {
	seen := false
	_, err := p.members("rc", func(name []byte) error {
		var err error
		switch string(name) {
		case `"id"`:
			var id Optional[int64]
			id, err = p.integer("rc.id")
			rc.ID, seen = id.Value, id.Set
		case `"hc"`:
			rc.Handicap, err = p.float("hc")
		case `"ltp"`:
			rc.LastTradedPrice, err = p.priceField("ltp")
		case `"tv"`:
			rc.TotalMatched, err = p.size("rc.tv")
		case `"spn"`:
			rc.StartingPriceNear, err = p.float("spn")
		case `"spf"`:
			rc.StartingPriceFar, err = p.float("spf")
		case `"batb"`:
			rc.BestAvailableToBack, err = p.positions("batb")
		case `"batl"`:
			rc.BestAvailableToLay, err = p.positions("batl")
		case `"bdatb"`:
			rc.BestDisplayAvailableToBack, err = p.positions("bdatb")
		case `"bdatl"`:
			rc.BestDisplayAvailableToLay, err = p.positions("bdatl")
		case `"atb"`:
			rc.AvailableToBack, err = p.pairs("atb")
		case `"atl"`:
			rc.AvailableToLay, err = p.pairs("atl")
		case `"trd"`:
			rc.Traded, err = p.pairs("trd")
		case `"spb"`:
			rc.StartingPriceBack, err = p.pairs("spb")
		case `"spl"`:
			rc.StartingPriceLay, err = p.pairs("spl")
		default:
			err = p.dec.SkipValue()
		}
		return err
	})
	if err == nil && !seen {
		err = errors.New("runner change without id")
	}
	return err
}

// positions reads [[position, price, size], ...].
func (p *Parser) positions(field string) ([]PositionUpdate, error) {
	var out []PositionUpdate
	ok, err := p.elements(field, func() error {
		var u PositionUpdate
		err := p.tuple(field, 3, func(i int) error {
			switch i {
			case 0:
				b, err := p.requiredNumber(field)
				if err != nil {
					return err
				}
				n, err := parseInt(b)
				u.Position = int(n)
				return err
			case 1:
				b, err := p.requiredNumber(field)
				if err != nil {
					return err
				}
				u.Price, err = parsePrice(b)
				return err
			case 2:
				b, err := p.requiredNumber(field)
				if err != nil {
					return err
				}
				u.Size, err = parseSize(b)
				return err
			}
			return p.dec.SkipValue()
		})
		out = append(out, u)
		return err
	})
	if ok && out == nil {
		out = []PositionUpdate{}
	}
	return out, err
}

// pairs reads [[price, size], ...].
func (p *Parser) pairs(field string) ([]PriceUpdate, error) {
	var out []PriceUpdate
	ok, err := p.elements(field, func() error {
		var u PriceUpdate
		err := p.tuple(field, 2, func(i int) error {
			switch i {
			case 0:
				b, err := p.requiredNumber(field)
				if err != nil {
					return err
				}
				u.Price, err = parsePrice(b)
				return err
			case 1:
				b, err := p.requiredNumber(field)
				if err != nil {
					return err
				}
				u.Size, err = parseSize(b)
				return err
			}
			return p.dec.SkipValue()
		})
		out = append(out, u)
		return err
	})
	if ok && out == nil {
		out = []PriceUpdate{}
	}
	return out, err
}

func (p *Parser) marketDefinition() (*MarketDefinition, error) {
	d := &MarketDefinition{}
	ok, err := p.members("marketDefinition", func(name []byte) error {
		var err error
		switch string(name) {
		case `"status"`:
			d.Status, err = p.str("status")
		case `"inPlay"`:
			d.InPlay, err = p.flag("inPlay")
		case `"version"`:
			d.Version, err = p.intValue("version")
		case `"bspMarket"`:
			d.BspMarket, err = p.flag("bspMarket")
		case `"turnInPlayEnabled"`:
			d.TurnInPlayEnabled, err = p.flag("turnInPlayEnabled")
		case `"persistenceEnabled"`:
			d.PersistenceEnabled, err = p.flag("persistenceEnabled")
		case `"bspReconciled"`:
			d.BspReconciled, err = p.flag("bspReconciled")
		case `"complete"`:
			d.Complete, err = p.flag("complete")
		case `"crossMatching"`:
			d.CrossMatching, err = p.flag("crossMatching")
		case `"runnersVoidable"`:
			d.RunnersVoidable, err = p.flag("runnersVoidable")
		case `"discountAllowed"`:
			d.DiscountAllowed, err = p.flag("discountAllowed")
		case `"marketBaseRate"`:
			d.MarketBaseRate, err = p.finiteFloat("marketBaseRate")
		case `"eachWayDivisor"`:
			d.EachWayDivisor, err = p.finiteFloat("eachWayDivisor")
		case `"eventId"`:
			d.EventID, err = p.str("eventId")
		case `"eventTypeId"`:
			d.EventTypeID, err = p.str("eventTypeId")
		case `"numberOfWinners"`:
			d.NumberOfWinners, err = p.intValue("numberOfWinners")
		case `"numberOfActiveRunners"`:
			d.NumberOfActiveRunners, err = p.intValue("numberOfActiveRunners")
		case `"betDelay"`:
			d.BetDelay, err = p.intValue("betDelay")
		case `"bettingType"`:
			d.BettingType, err = p.str("bettingType")
		case `"marketType"`:
			d.MarketType, err = p.str("marketType")
		case `"countryCode"`:
			d.CountryCode, err = p.str("countryCode")
		case `"venue"`:
			d.Venue, err = p.str("venue")
		case `"timezone"`:
			d.Timezone, err = p.str("timezone")
		case `"eventName"`:
			d.EventName, err = p.str("eventName")
		case `"marketTime"`:
			d.MarketTime, err = p.timestamp("marketTime")
		case `"suspendTime"`:
			d.SuspendTime, err = p.timestamp("suspendTime")
		case `"settledTime"`:
			d.SettledTime, err = p.timestamp("settledTime")
		case `"openDate"`:
			d.OpenDate, err = p.timestamp("openDate")
		case `"regulators"`:
			_, err = p.elements("regulators", func() error {
				s, err := p.str("regulators")
				d.Regulators = append(d.Regulators, s)
				return err
			})
		case `"priceLadderDefinition"`:
			_, err = p.members("priceLadderDefinition", func(name []byte) error {
				if string(name) == `"type"` {
					var err error
					d.PriceLadderType, err = p.str("priceLadderDefinition.type")
					return err
				}
				return p.dec.SkipValue()
			})
		case `"runners"`:
			_, err = p.elements("runners", func() error {
				d.Runners = append(d.Runners, RunnerDefinition{})
				return p.runnerDefinition(&d.Runners[len(d.Runners)-1])
			})
		default:
			err = p.dec.SkipValue()
		}
		return err
	})
	if !ok {
		return nil, err
	}
	return d, err
}

func (p *Parser) runnerDefinition(r *RunnerDefinition) error {
	_, err := p.members("runner", func(name []byte) error {
		var err error
		switch string(name) {
		case `"id"`:
			r.ID, err = p.intValue("runner.id")
		case `"hc"`:
			r.Handicap, err = p.finiteFloat("runner.hc")
		case `"status"`:
			r.Status, err = p.str("runner.status")
		case `"sortPriority"`:
			r.SortPriority, err = p.intValue("sortPriority")
		case `"bsp"`:
			r.BSP, err = p.finiteFloat("bsp")
		case `"adjustmentFactor"`:
			r.AdjustmentFactor, err = p.finiteFloat("adjustmentFactor")
		case `"removalDate"`:
			r.RemovalDate, err = p.timestamp("removalDate")
		default:
			err = p.dec.SkipValue()
		}
		return err
	})
	return err
}

func (p *Parser) orderChanges(msg *ChangeMessage) error {
	msg.OrderChanges = make([]OrderMarketChange, 0, 1)
	_, err := p.elements("oc", func() error {
		msg.OrderChanges = append(msg.OrderChanges, OrderMarketChange{})
		return p.orderMarketChange(&msg.OrderChanges[len(msg.OrderChanges)-1])
	})
	return err
}

func (p *Parser) orderMarketChange(oc *OrderMarketChange) error {
	_, err := p.members("oc", func(name []byte) error {
		var err error
		switch string(name) {
		case `"id"`:
			oc.ID, err = p.str("oc.id")
		case `"accountId"`:
			oc.AccountID, err = p.integer("accountId")
		case `"closed"`:
			oc.Closed, err = p.boolean("closed")
		case `"fullImage"`:
			oc.FullImage, err = p.flag("oc.fullImage")
		case `"orc"`:
			oc.RunnerChanges = make([]OrderRunnerChange, 0, 1)
			_, err = p.elements("orc", func() error {
				oc.RunnerChanges = append(oc.RunnerChanges, OrderRunnerChange{})
				return p.orderRunnerChange(&oc.RunnerChanges[len(oc.RunnerChanges)-1])
			})
		default:
			err = p.dec.SkipValue()
		}
		return err
	})
	return err
}

func (p *Parser) orderRunnerChange(orc *OrderRunnerChange) error {
	_, err := p.members("orc", func(name []byte) error {
		var err error
		switch string(name) {
		case `"id"`:
			orc.ID, err = p.intValue("orc.id")
		case `"hc"`:
			orc.Handicap, err = p.float("orc.hc")
		case `"fullImage"`:
			orc.FullImage, err = p.flag("orc.fullImage")
		case `"uo"`:
			_, err = p.elements("uo", func() error {
				orc.Unmatched = append(orc.Unmatched, Order{})
				return p.order(&orc.Unmatched[len(orc.Unmatched)-1])
			})
		case `"mb"`:
			orc.MatchedBacks, err = p.pairs("mb")
		case `"ml"`:
			orc.MatchedLays, err = p.pairs("ml")
		default:
			err = p.dec.SkipValue()
		}
		return err
	})
	return err
}

func (p *Parser) order(o *Order) error {
	_, err := p.members("uo", func(name []byte) error {
		var err error
		switch string(name) {
		case `"id"`:
			o.ID, err = p.str("uo.id")
		case `"p"`:
			var v Optional[price.Price]
			v, err = p.priceField("uo.p")
			o.Price = v.Value
		case `"s"`:
			o.Size, err = p.sizeValue("uo.s")
		case `"bsp"`:
			o.BSPLiability, err = p.sizeValue("uo.bsp")
		case `"side"`:
			o.Side, err = p.str("uo.side")
		case `"status"`:
			o.Status, err = p.str("uo.status")
		case `"pt"`:
			o.PersistenceType, err = p.str("uo.pt")
		case `"ot"`:
			o.OrderType, err = p.str("uo.ot")
		case `"pd"`:
			o.PlacedDate, err = p.timestamp("uo.pd")
		case `"md"`:
			o.MatchedDate, err = p.timestamp("uo.md")
		case `"cd"`:
			o.CancelledDate, err = p.timestamp("uo.cd")
		case `"ld"`:
			o.LapsedDate, err = p.timestamp("uo.ld")
		case `"avp"`:
			o.AveragePriceMatched, err = p.finiteFloat("uo.avp")
		case `"sm"`:
			o.SizeMatched, err = p.sizeValue("uo.sm")
		case `"sr"`:
			o.SizeRemaining, err = p.sizeValue("uo.sr")
		case `"sl"`:
			o.SizeLapsed, err = p.sizeValue("uo.sl")
		case `"sc"`:
			o.SizeCancelled, err = p.sizeValue("uo.sc")
		case `"sv"`:
			o.SizeVoided, err = p.sizeValue("uo.sv")
		case `"rc"`:
			o.RegulatorCode, err = p.str("uo.rc")
		case `"rfs"`:
			o.CustomerStrategyRef, err = p.str("uo.rfs")
		case `"rfo"`:
			o.CustomerOrderRef, err = p.str("uo.rfo")
		default:
			err = p.dec.SkipValue()
		}
		return err
	})
	if err == nil && o.ID == "" {
		err = errors.New("order without id")
	}
	return err
}

// ---------- token helpers ----------

// open consumes the start of an object or array. A null reports ok=false.
func (p *Parser) open(field string, kind jsontext.Kind) (bool, error) {
	switch k := p.dec.PeekKind(); k {
	case kind:
		_, err := p.dec.ReadToken()
		return err == nil, err
	case 'n':
		_, err := p.dec.ReadToken()
		return false, err
	default:
		return false, p.unexpected(field, k, kind.String())
	}
}

// more reports whether another member or element follows, consuming the
// closing delimiter when none does.
func (p *Parser) more(end jsontext.Kind) (bool, error) {
	switch p.dec.PeekKind() {
	case end:
		_, err := p.dec.ReadToken()
		return false, err
	case 0:
		_, err := p.dec.ReadToken()
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return false, err
	}
	return true, nil
}

// members walks an object, handing each raw quoted name to fn, which must
// consume the value. The name is only valid until fn reads further.
func (p *Parser) members(field string, fn func(name []byte) error) (bool, error) {
	ok, err := p.open(field, '{')
	if !ok || err != nil {
		return ok, err
	}
	for {
		more, err := p.more('}')
		if err != nil || !more {
			return true, err
		}
		name, err := p.dec.ReadValue()
		if err != nil {
			return true, err
		}
		if err := fn(name); err != nil {
			return true, err
		}
	}
}

func (p *Parser) elements(field string, fn func() error) (bool, error) {
	ok, err := p.open(field, '[')
	if !ok || err != nil {
		return ok, err
	}
	for {
		more, err := p.more(']')
		if err != nil || !more {
			return true, err
		}
		if err := fn(); err != nil {
			return true, err
		}
	}
}

// tuple reads a fixed-shape array of at least n elements; extras are skipped.
func (p *Parser) tuple(field string, n int, fn func(i int) error) error {
	i := 0
	ok, err := p.elements(field, func() error {
		err := fn(i)
		i++
		return err
	})
	if err != nil {
		return err
	}
	if !ok || i < n {
		return fmt.Errorf("field %s: want %d elements, got %d", field, n, i)
	}
	return nil
}

func (p *Parser) unexpected(field string, k jsontext.Kind, want string) error {
	if k == 0 {
		if _, err := p.dec.ReadToken(); err != nil {
			return err
		}
	}
	return typeError(field, k, want)
}

func (p *Parser) null() error {
	_, err := p.dec.ReadToken()
	return err
}

func (p *Parser) str(field string) (string, error) {
	switch k := p.dec.PeekKind(); k {
	case '"':
		tok, err := p.dec.ReadToken()
		if err != nil {
			return "", err
		}
		return tok.String(), nil
	case 'n':
		return "", p.null()
	default:
		return "", p.unexpected(field, k, "string")
	}
}

func (p *Parser) boolean(field string) (Optional[bool], error) {
	switch k := p.dec.PeekKind(); k {
	case 't', 'f':
		tok, err := p.dec.ReadToken()
		if err != nil {
			return Optional[bool]{}, err
		}
		return Some(tok.Bool()), nil
	case 'n':
		return Optional[bool]{}, p.null()
	default:
		return Optional[bool]{}, p.unexpected(field, k, "bool")
	}
}

func (p *Parser) flag(field string) (bool, error) {
	b, err := p.boolean(field)
	return b.Value, err
}

// number returns the raw span of a number, or ok=false for null.
func (p *Parser) number(field string) ([]byte, bool, error) {
	switch k := p.dec.PeekKind(); k {
	case '0':
		v, err := p.dec.ReadValue()
		return v, err == nil, err
	case 'n':
		return nil, false, p.null()
	default:
		return nil, false, p.unexpected(field, k, "number")
	}
}

func (p *Parser) requiredNumber(field string) ([]byte, error) {
	b, ok, err := p.number(field)
	if err == nil && !ok {
		err = fmt.Errorf("field %s: null where a number is required", field)
	}
	return b, err
}

func (p *Parser) integer(field string) (Optional[int64], error) {
	b, ok, err := p.number(field)
	if !ok || err != nil {
		return Optional[int64]{}, err
	}
	n, err := parseInt(b)
	if err != nil {
		return Optional[int64]{}, fmt.Errorf("field %s: %w", field, err)
	}
	return Some(n), nil
}

func (p *Parser) intValue(field string) (int64, error) {
	n, err := p.integer(field)
	return n.Value, err
}

// float also accepts the quoted forms "NaN" and "Infinity".
func (p *Parser) float(field string) (Optional[float64], error) {
	var s string
	switch k := p.dec.PeekKind(); k {
	case '0':
		v, err := p.dec.ReadValue()
		if err != nil {
			return Optional[float64]{}, err
		}
		s = string(v)
	case '"':
		tok, err := p.dec.ReadToken()
		if err != nil {
			return Optional[float64]{}, err
		}
		s = tok.String()
	case 'n':
		return Optional[float64]{}, p.null()
	default:
		return Optional[float64]{}, p.unexpected(field, k, "number")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Optional[float64]{}, fmt.Errorf("field %s: %w", field, err)
	}
	return Some(f), nil
}

// finiteFloat reads a plain number field. Non-finite values
// ("NaN" before a starting price is reconciled) read as zero.
func (p *Parser) finiteFloat(field string) (float64, error) {
	f, err := p.float(field)
	if err != nil || math.IsNaN(f.Value) || math.IsInf(f.Value, 0) {
		return 0, err
	}
	return f.Value, nil
}

func (p *Parser) priceField(field string) (Optional[price.Price], error) {
	b, ok, err := p.number(field)
	if !ok || err != nil {
		return Optional[price.Price]{}, err
	}
	v, err := parsePrice(b)
	if err != nil {
		return Optional[price.Price]{}, fmt.Errorf("field %s: %w", field, err)
	}
	return Some(v), nil
}

func (p *Parser) size(field string) (Optional[price.Size], error) {
	b, ok, err := p.number(field)
	if !ok || err != nil {
		return Optional[price.Size]{}, err
	}
	v, err := parseSize(b)
	if err != nil {
		return Optional[price.Size]{}, fmt.Errorf("field %s: %w", field, err)
	}
	return Some(v), nil
}

func (p *Parser) sizeValue(field string) (price.Size, error) {
	s, err := p.size(field)
	return s.Value, err
}

// timestamp accepts RFC 3339 strings or unix millis.
func (p *Parser) timestamp(field string) (time.Time, error) {
	switch k := p.dec.PeekKind(); k {
	case '"':
		s, err := p.str(field)
		if err != nil || s == "" {
			return time.Time{}, err
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("field %s: %w", field, err)
		}
		return t, nil
	case '0':
		n, err := p.integer(field)
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(n.Value), nil
	case 'n':
		return time.Time{}, p.null()
	default:
		return time.Time{}, p.unexpected(field, k, "timestamp")
	}
}
