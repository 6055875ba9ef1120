package wire

import (
	"errors"
	"math"
	"testing"
	"time"

	"market-stream/internal/price"
)

const imageLine = `{"op":"mcm","id":2,"initialClk":"G1wBANMBAOMB","clk":"AOkCAOcCAOcC","conflateMs":0,"heartbeatMs":5000,"pt":1471370158660,"ct":"SUB_IMAGE",` +
	`"mc":[{"id":"1.235123059","img":true,"tv":1234.567,"con":false,` +
	`"marketDefinition":{"bspMarket":false,"turnInPlayEnabled":true,"persistenceEnabled":true,"marketBaseRate":5,"eventId":"27993911","eventTypeId":"1",` +
	`"numberOfWinners":1,"bettingType":"ODDS","marketType":"MATCH_ODDS","marketTime":"2024-03-01T15:00:00.000Z","suspendTime":"2024-03-01T15:00:00.000Z",` +
	`"bspReconciled":false,"complete":true,"inPlay":false,"crossMatching":true,"runnersVoidable":false,"numberOfActiveRunners":2,"betDelay":0,"status":"OPEN",` +
	`"runners":[{"status":"ACTIVE","sortPriority":1,"id":9517643},{"status":"ACTIVE","sortPriority":2,"id":48351,"hc":null}],` +
	`"regulators":["MR_INT"],"venue":null,"countryCode":"GB","discountAllowed":true,"timezone":"Europe/London","openDate":"2024-03-01T15:00:00.000Z","version":3011,` +
	`"priceLadderDefinition":{"type":"CLASSIC"}},` +
	`"rc":[{"batb":[[0,30,7.06],[1,29,3]],"atb":[[30,7.06]],"ltp":30,"tv":12.5,"id":9517643,"hc":null,"spn":"NaN"},` +
	`{"id":48351,"batl":[[0,1.5,100.999]],"trd":[[1.5,2]]}]}]}`

func TestParseMarketImage(t *testing.T) {
	msg, err := Parse([]byte(imageLine))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.Op != OpMarketChange || msg.ID.Value != 2 || msg.Clock != "AOkCAOcCAOcC" || msg.InitialClock != "G1wBANMBAOMB" {
		t.Fatalf("header got %+v", msg)
	}
	if msg.ChangeType != ChangeSubImage || msg.HeartbeatMs.Value != 5000 || !msg.ConflateMs.Set {
		t.Fatalf("ct/heartbeat got %q %+v", msg.ChangeType, msg.HeartbeatMs)
	}
	if !msg.Published().Equal(time.UnixMilli(1471370158660)) {
		t.Fatalf("pt got %v", msg.Published())
	}
	if len(msg.MarketChanges) != 1 {
		t.Fatalf("mc len got %d", len(msg.MarketChanges))
	}
	mc := msg.MarketChanges[0]
	if mc.ID != "1.235123059" || !mc.Image {
		t.Fatalf("mc got %+v", mc)
	}
	if mc.TotalMatched.Value.String() != "1234.56" {
		t.Fatalf("tv got %v", mc.TotalMatched.Value)
	}
	if !mc.Conflated.Set || mc.Conflated.Value {
		t.Fatalf("con got %+v", mc.Conflated)
	}

	d := mc.Definition
	if d == nil {
		t.Fatal("definition missing")
	}
	if d.Status != StatusOpen || d.Version != 3011 || d.MarketType != "MATCH_ODDS" || !d.TurnInPlayEnabled {
		t.Fatalf("definition got %+v", d)
	}
	if len(d.Runners) != 2 || d.Runners[1].ID != 48351 || d.Runners[1].SortPriority != 2 {
		t.Fatalf("runners got %+v", d.Runners)
	}
	if d.Venue != "" || d.PriceLadderType != "CLASSIC" || len(d.Regulators) != 1 {
		t.Fatalf("venue/ladder/regulators got %q %q %v", d.Venue, d.PriceLadderType, d.Regulators)
	}
	if d.MarketTime.IsZero() || d.MarketTime.Hour() != 15 {
		t.Fatalf("marketTime got %v", d.MarketTime)
	}

	if len(mc.RunnerChanges) != 2 {
		t.Fatalf("rc len got %d", len(mc.RunnerChanges))
	}
	rc := mc.RunnerChanges[0]
	if rc.ID != 9517643 || rc.Handicap.Set {
		t.Fatalf("rc id/hc got %d %+v", rc.ID, rc.Handicap)
	}
	if len(rc.BestAvailableToBack) != 2 {
		t.Fatalf("batb got %+v", rc.BestAvailableToBack)
	}
	top := rc.BestAvailableToBack[0]
	if top.Position != 0 || top.Price != price.Of(30) || top.Size != price.SizeOf(7.06) {
		t.Fatalf("batb[0] got %+v", top)
	}
	if rc.LastTradedPrice.Value != price.Of(30) || rc.TotalMatched.Value != price.SizeOf(12.5) {
		t.Fatalf("ltp/tv got %+v %+v", rc.LastTradedPrice, rc.TotalMatched)
	}
	if !rc.StartingPriceNear.Set || !math.IsNaN(rc.StartingPriceNear.Value) {
		t.Fatalf("spn should be NaN, got %+v", rc.StartingPriceNear)
	}
	if rc.AvailableToLay != nil {
		t.Fatal("absent atl should stay nil")
	}
	lay := mc.RunnerChanges[1].BestAvailableToLay[0]
	if lay.Price != price.Of(1.5) || lay.Size.String() != "100.99" {
		t.Fatalf("batl got %+v", lay)
	}
}

func TestNullMeansAbsent(t *testing.T) {
	line := `{"op":"mcm","pt":null,"clk":null,"mc":[{"id":"1.1","img":null,"tv":null,"con":null,"marketDefinition":null,"rc":null}]}`
	msg, err := Parse([]byte(line))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	mc := msg.MarketChanges[0]
	if mc.Image || mc.TotalMatched.Set || mc.Conflated.Set || mc.Definition != nil || mc.RunnerChanges != nil {
		t.Fatalf("null fields should be absent: %+v", mc)
	}
	if msg.PublishTime != 0 || msg.Clock != "" {
		t.Fatalf("header got %+v", msg)
	}
}

func TestEmptyRunnerChangesArePresent(t *testing.T) {
	msg, err := Parse([]byte(`{"op":"mcm","mc":[{"id":"1.1","rc":[]}]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if rc := msg.MarketChanges[0].RunnerChanges; rc == nil || len(rc) != 0 {
		t.Fatalf("rc got %#v", rc)
	}
}

func TestUnknownFieldsSkipped(t *testing.T) {
	line := `{"op":"mcm","zzz":{"a":[1,2,{"b":null}],"c":"d"},"mc":[{"id":"1.1","extra":[[1,2],[3]],"rc":[{"id":5,"new":{"x":1},"atl":[[2,10]]}]}],"tail":true}`
	msg, err := Parse([]byte(line))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	atl := msg.MarketChanges[0].RunnerChanges[0].AvailableToLay
	if len(atl) != 1 || atl[0].Price != price.Of(2) || atl[0].Size != price.SizeOf(10) {
		t.Fatalf("atl got %+v", atl)
	}
}

func TestOffLadderPriceAndSizeTruncation(t *testing.T) {
	line := `{"op":"mcm","mc":[{"id":"1.1","rc":[{"id":1,"atb":[[2.01,5.129],[3.015,1],[4.1,1e-2]]}]}]}`
	msg, err := Parse([]byte(line))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	atb := msg.MarketChanges[0].RunnerChanges[0].AvailableToBack
	if atb[0].Price != price.Invalid || atb[0].Size.String() != "5.12" {
		t.Fatalf("atb[0] got %v %v", atb[0].Price, atb[0].Size)
	}
	if atb[1].Price != price.Invalid {
		t.Fatalf("atb[1] got %v", atb[1].Price)
	}
	if atb[2].Price != price.Of(4.1) || atb[2].Size.String() != "0.01" {
		t.Fatalf("atb[2] got %v %v", atb[2].Price, atb[2].Size)
	}
}

func TestMalformed(t *testing.T) {
	cases := map[string]string{
		"truncated":         `{"op":"mcm","mc":[{"id":"1.1","rc":[{"id":1,"atb":[[2,`,
		"not json":          `hello`,
		"bool type":         `{"op":"mcm","mc":[{"id":"1.1","img":"yes"}]}`,
		"string type":       `{"op":"mcm","clk":5}`,
		"short triple":      `{"op":"mcm","mc":[{"id":"1.1","rc":[{"id":1,"batb":[[0,30]]}]}]}`,
		"null in tuple":     `{"op":"mcm","mc":[{"id":"1.1","rc":[{"id":1,"atb":[[null,1]]}]}]}`,
		"image without id":  `{"op":"mcm","mc":[{"img":true,"rc":[]}]}`,
		"runner without id": `{"op":"mcm","mc":[{"id":"1.1","rc":[{"atb":[[2,1]]}]}]}`,
		"missing op":        `{"id":1}`,
		"array top level":   `[1,2,3]`,
	}
	for name, line := range cases {
		_, err := Parse([]byte(line))
		if !errors.Is(err, ErrMalformedMessage) {
			t.Fatalf("%s: got %v want ErrMalformedMessage", name, err)
		}
	}
}

func TestTrailingDataAfterMessage(t *testing.T) {
	for _, line := range []string{
		`{"op":"status","statusCode":"SUCCESS"} trailing junk`,
		`{"op":"status","statusCode":"SUCCESS"}{"op":"heartbeat"}`,
		`{"op":"mcm","clk":"c1","mc":[]}]`,
	} {
		if _, err := Parse([]byte(line)); !errors.Is(err, ErrMalformedMessage) {
			t.Fatalf("%s: got %v want ErrMalformedMessage", line, err)
		}
	}
	msg, err := Parse([]byte("{\"op\":\"status\",\"statusCode\":\"SUCCESS\"}  \t\r\n"))
	if err != nil || msg.StatusCode != "SUCCESS" {
		t.Fatalf("trailing whitespace got %+v %v", msg, err)
	}
}

func TestUnknownOperation(t *testing.T) {
	_, err := Parse([]byte(`{"op":"rcm","id":3}`))
	if !errors.Is(err, ErrUnknownOperation) {
		t.Fatalf("got %v want ErrUnknownOperation", err)
	}
	if errors.Is(err, ErrMalformedMessage) {
		t.Fatal("unknown op is not malformed")
	}
}

func TestParseImageHeaderStopsEarly(t *testing.T) {
	line := `{"op":"mcm","id":1,"initialClk":"G1wBANMBAOMB","clk":"AOkCAOcCAOcC","pt":1700000000000,"mc":[{"id":"1.235123059","img":true,"rc":[{"id":9517643,"batb":[[0,30`
	p := NewParser()
	msg, err := p.ParseImageHeader([]byte(line))
	if err != nil {
		t.Fatalf("header parse: %v", err)
	}
	if msg.InitialClock != "G1wBANMBAOMB" || msg.Clock != "AOkCAOcCAOcC" || msg.PublishTime != 1700000000000 {
		t.Fatalf("header got %+v", msg)
	}
	if len(msg.MarketChanges) != 1 || msg.MarketChanges[0].ID != "1.235123059" || !msg.MarketChanges[0].Image {
		t.Fatalf("mc got %+v", msg.MarketChanges)
	}

	// the same parser still rejects the truncated line on the full path
	if _, err := p.Parse([]byte(line)); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("full parse got %v", err)
	}
}

func TestStatusAndConnection(t *testing.T) {
	msg, err := Parse([]byte(`{"op":"connection","connectionId":"002-051134157842-432409"}`))
	if err != nil || msg.ConnectionID != "002-051134157842-432409" {
		t.Fatalf("connection got %+v %v", msg, err)
	}

	msg, err = Parse([]byte(`{"op":"status","id":1,"statusCode":"FAILURE","errorCode":"INVALID_SESSION_INFORMATION","errorMessage":"bad token","connectionClosed":true,"connectionsAvailable":4}`))
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if msg.StatusCode != "FAILURE" || msg.ErrorCode != "INVALID_SESSION_INFORMATION" || !msg.ConnectionClosed.Value || msg.ConnectionsAvailable.Value != 4 {
		t.Fatalf("status got %+v", msg)
	}
}

func TestHeartbeat(t *testing.T) {
	msg, err := Parse([]byte(`{"op":"mcm","id":2,"clk":"AAAAAAAA","pt":1471370160471,"ct":"HEARTBEAT"}` + "\r\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !msg.IsHeartbeat() || msg.MarketChanges != nil {
		t.Fatalf("heartbeat got %+v", msg)
	}
}

func TestParseOrderChange(t *testing.T) {
	line := `{"op":"ocm","id":3,"clk":"AAAAAAAAAAAAAA==","pt":1498137379766,"oc":[{"id":"1.102151377","accountId":123,"fullImage":true,"orc":[{"id":3291,"fullImage":true,` +
		`"uo":[{"id":"8912636633","p":3.5,"s":10,"side":"B","status":"E","pt":"L","ot":"L","pd":1498137379000,"sm":2.5,"sr":7.5,"sl":0,"sc":0,"sv":0,"rfo":"ref1","rfs":"strat"}],` +
		`"mb":[[3.5,2.5]],"ml":[]}]}]}`
	msg, err := Parse([]byte(line))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	oc := msg.OrderChanges[0]
	if oc.ID != "1.102151377" || !oc.FullImage || oc.AccountID.Value != 123 {
		t.Fatalf("oc got %+v", oc)
	}
	orc := oc.RunnerChanges[0]
	if orc.ID != 3291 || !orc.FullImage || len(orc.Unmatched) != 1 {
		t.Fatalf("orc got %+v", orc)
	}
	o := orc.Unmatched[0]
	if o.ID != "8912636633" || o.Price != price.Of(3.5) || o.SizeRemaining != price.SizeOf(7.5) || o.Side != SideBack || o.CustomerOrderRef != "ref1" {
		t.Fatalf("order got %+v", o)
	}
	if o.PlacedDate.UnixMilli() != 1498137379000 {
		t.Fatalf("placed got %v", o.PlacedDate)
	}
	if len(orc.MatchedBacks) != 1 || orc.MatchedLays == nil || len(orc.MatchedLays) != 0 {
		t.Fatalf("matched got %+v %+v", orc.MatchedBacks, orc.MatchedLays)
	}
}

func TestParserReuse(t *testing.T) {
	p := NewParser()
	for i := 0; i < 3; i++ {
		msg, err := p.Parse([]byte(imageLine))
		if err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
		if msg.MarketChanges[0].ID != "1.235123059" {
			t.Fatalf("iteration %d got %q", i, msg.MarketChanges[0].ID)
		}
		if _, err := p.Parse([]byte(`{"op":`)); err == nil {
			t.Fatal("expected error")
		}
	}
}

func TestNonFiniteDefinitionNumbersReadAsZero(t *testing.T) {
	line := `{"op":"mcm","mc":[{"id":"1.3","marketDefinition":{"status":"OPEN","marketBaseRate":"NaN","runners":[{"id":4,"bsp":"NaN","adjustmentFactor":"Infinity"}]}}]}`
	msg, err := Parse([]byte(line))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	d := msg.MarketChanges[0].Definition
	if d.MarketBaseRate != 0 || d.Runners[0].BSP != 0 || d.Runners[0].AdjustmentFactor != 0 {
		t.Fatalf("definition got %+v", d)
	}
}
