package cache

import (
	"errors"
	"io"
	"log/slog"
	"reflect"
	"strconv"
	"sync"
	"testing"
	"time"

	"market-stream/internal/depth"
	"market-stream/internal/price"
	"market-stream/internal/wire"
)

func newTestCache() *Cache {
	c := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.now = func() time.Time { return time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC) }
	return c
}

func mustApply(t *testing.T, c *Cache, line string) ApplyResult {
	t.Helper()
	res, err := c.ApplyLine([]byte(line))
	if err != nil {
		t.Fatalf("apply %s: %v", line, err)
	}
	return res
}

const (
	market    = "1.235123059"
	selection = 9517643
)

var runner = RunnerKey{SelectionID: selection}

func TestImageThenDeltaRemovesLevel(t *testing.T) {
	c := newTestCache()
	mustApply(t, c, `{"op":"mcm","id":2,"initialClk":"G1wBANMBAOMB","clk":"AAAAAAAA","pt":1471370158660,"ct":"SUB_IMAGE","mc":[{"id":"1.235123059","img":true,"rc":[{"batb":[[0,30,7.06]],"id":9517643}]}]}`)

	got, ok := c.BestN(market, runner, depth.Back, 1)
	if !ok {
		t.Fatal("runner missing after image")
	}
	want := []depth.Level{{Price: price.Of(30), Size: price.SizeOf(7.06)}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("best back got %+v want %+v", got, want)
	}
	if c.Lifecycle(market) != Live {
		t.Fatalf("lifecycle got %v want LIVE", c.Lifecycle(market))
	}

	mustApply(t, c, `{"op":"mcm","id":2,"clk":"AAAAAAAB","pt":1471370159660,"mc":[{"id":"1.235123059","rc":[{"id":9517643,"batb":[[0,30,0]]}]}]}`)
	got, _ = c.BestN(market, runner, depth.Back, 1)
	if len(got) != 0 {
		t.Fatalf("level should be gone, got %+v", got)
	}
}

func TestDuplicateMessageIsStale(t *testing.T) {
	c := newTestCache()
	line := `{"op":"mcm","clk":"AOkCAOcCAOcC","pt":1000,"mc":[{"id":"1.1","rc":[{"id":1,"atb":[[2,10]]}]}]}`
	first := mustApply(t, c, line)
	before, _ := c.Snapshot("1.1")

	second := mustApply(t, c, line)
	after, _ := c.Snapshot("1.1")

	if first.Kind != ResultApplied || second.Kind != ResultStale || second.Stale != 1 {
		t.Fatalf("kinds got %v/%v stale=%d", first.Kind, second.Kind, second.Stale)
	}
	if second.Version != first.Version {
		t.Fatalf("version moved on a stale message: %d -> %d", first.Version, second.Version)
	}
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("state changed:\n%+v\n%+v", before, after)
	}
	if c.Stats().Stale != 1 {
		t.Fatalf("stale count got %d", c.Stats().Stale)
	}
}

func TestOlderPublishTimeIsStale(t *testing.T) {
	c := newTestCache()
	mustApply(t, c, `{"op":"mcm","clk":"B","pt":2000,"mc":[{"id":"1.1","rc":[{"id":1,"atb":[[2,10]]}]}]}`)
	res := mustApply(t, c, `{"op":"mcm","clk":"A","pt":1000,"mc":[{"id":"1.1","rc":[{"id":1,"atb":[[2,99]]}]}]}`)
	if res.Kind != ResultStale {
		t.Fatalf("kind got %v", res.Kind)
	}
	got, _ := c.BestN("1.1", RunnerKey{SelectionID: 1}, depth.Back, 1)
	if got[0].Size != price.SizeOf(10) {
		t.Fatalf("size got %v", got[0].Size)
	}
}

func TestImageReplacesLadders(t *testing.T) {
	c := newTestCache()
	mustApply(t, c, `{"op":"mcm","clk":"1","mc":[{"id":"1.1","img":true,"rc":[{"id":1,"atb":[[2,10],[2.02,5]],"atl":[[2.1,3]],"trd":[[2,50]],"ltp":2},{"id":2,"atb":[[5,1]]}]}]}`)
	mustApply(t, c, `{"op":"mcm","clk":"2","mc":[{"id":"1.1","img":true,"rc":[{"id":1,"atb":[[3,7]]}]}]}`)

	v, ok := c.Snapshot("1.1")
	if !ok {
		t.Fatal("market missing")
	}
	r1, _ := v.Runner(RunnerKey{SelectionID: 1})
	want := []depth.Level{{Price: price.Of(3), Size: price.SizeOf(7)}}
	if !reflect.DeepEqual(r1.ToBack, want) {
		t.Fatalf("atb got %+v", r1.ToBack)
	}
	if r1.ToLay != nil || r1.Traded != nil || r1.LastTradedPrice != nil {
		t.Fatalf("old data survived: %+v", r1)
	}
	r2, ok := v.Runner(RunnerKey{SelectionID: 2})
	if !ok || r2.ToBack != nil {
		t.Fatalf("runner 2 got %+v", r2)
	}
}

func TestDeltaMergesLevels(t *testing.T) {
	c := newTestCache()
	mustApply(t, c, `{"op":"mcm","clk":"1","mc":[{"id":"1.1","img":true,"rc":[{"id":1,"atb":[[2,10],[2.02,5]]}]}]}`)
	mustApply(t, c, `{"op":"mcm","clk":"2","mc":[{"id":"1.1","rc":[{"id":1,"atb":[[2,0],[1.99,4]],"ltp":2.02,"tv":100}]}]}`)

	v, _ := c.Snapshot("1.1")
	r, _ := v.Runner(RunnerKey{SelectionID: 1})
	want := []depth.Level{
		{Price: price.Of(2.02), Size: price.SizeOf(5)},
		{Price: price.Of(1.99), Size: price.SizeOf(4)},
	}
	if !reflect.DeepEqual(r.ToBack, want) {
		t.Fatalf("atb got %+v", r.ToBack)
	}
	if r.LastTradedPrice == nil || *r.LastTradedPrice != price.Of(2.02) || r.TotalMatched != price.SizeOf(100) {
		t.Fatalf("ltp/tv got %+v %v", r.LastTradedPrice, r.TotalMatched)
	}
}

func TestUnseenMarketIsInitializing(t *testing.T) {
	c := newTestCache()
	if c.Lifecycle(market) != Unseen {
		t.Fatal("want UNSEEN before any message")
	}
	if _, ok := c.Snapshot(market); ok {
		t.Fatal("snapshot of unseen market")
	}

	mustApply(t, c, `{"op":"mcm","clk":"X","pt":1,"mc":[{"id":"1.235123059","tv":12}]}`)
	v, ok := c.Snapshot(market)
	if !ok {
		t.Fatal("market not created")
	}
	if v.Lifecycle != Initializing || len(v.Runners) != 0 {
		t.Fatalf("got lifecycle %v runners %d", v.Lifecycle, len(v.Runners))
	}
	if v.TotalMatched != price.SizeOf(12) || v.Clock != "X" {
		t.Fatalf("aggregates got %+v", v)
	}
}

func TestUnknownSelectionCreatedImplicitly(t *testing.T) {
	c := newTestCache()
	mustApply(t, c, `{"op":"mcm","clk":"1","mc":[{"id":"1.1","img":true,"marketDefinition":{"status":"OPEN","version":1,"runners":[{"id":1,"sortPriority":1,"status":"ACTIVE"}]}}]}`)
	mustApply(t, c, `{"op":"mcm","clk":"2","mc":[{"id":"1.1","rc":[{"id":77,"atl":[[4,2]]}]}]}`)

	v, _ := c.Snapshot("1.1")
	if len(v.Runners) != 2 {
		t.Fatalf("runners got %d", len(v.Runners))
	}
	r, ok := v.Runner(RunnerKey{SelectionID: 77})
	if !ok || len(r.ToLay) != 1 {
		t.Fatalf("runner 77 got %+v", r)
	}
	def, _ := v.Runner(RunnerKey{SelectionID: 1})
	if def.Status != "ACTIVE" || def.SortPriority != 1 {
		t.Fatalf("definition runner got %+v", def)
	}
}

func TestDefinitionReplacedWholesale(t *testing.T) {
	c := newTestCache()
	mustApply(t, c, `{"op":"mcm","clk":"1","mc":[{"id":"1.1","marketDefinition":{"status":"OPEN","inPlay":false,"version":1,"venue":"Ascot","regulators":["MR_INT"],"runners":[{"id":1},{"id":2}]}}]}`)
	mustApply(t, c, `{"op":"mcm","clk":"2","mc":[{"id":"1.1","marketDefinition":{"status":"SUSPENDED","inPlay":true,"version":2,"runners":[{"id":1}]}}]}`)

	v, _ := c.Snapshot("1.1")
	d := v.Definition
	if d.Status != wire.StatusSuspended || !d.InPlay || d.Version != 2 {
		t.Fatalf("definition got %+v", d)
	}
	if d.Venue != "" || d.Regulators != nil || len(d.Runners) != 1 {
		t.Fatalf("old fields survived: %+v", d)
	}
}

func TestClosedMarketAcceptsTrailingChanges(t *testing.T) {
	c := newTestCache()
	mustApply(t, c, `{"op":"mcm","clk":"1","mc":[{"id":"1.1","img":true,"rc":[{"id":1,"atb":[[2,10]]}]}]}`)
	mustApply(t, c, `{"op":"mcm","clk":"2","mc":[{"id":"1.1","marketDefinition":{"status":"CLOSED","version":3,"runners":[{"id":1,"status":"WINNER"}]}}]}`)
	if c.Lifecycle("1.1") != Closed {
		t.Fatalf("lifecycle got %v", c.Lifecycle("1.1"))
	}

	res := mustApply(t, c, `{"op":"mcm","clk":"3","mc":[{"id":"1.1","rc":[{"id":1,"tv":500}]}]}`)
	if res.Kind != ResultApplied {
		t.Fatalf("kind got %v", res.Kind)
	}
	v, _ := c.Snapshot("1.1")
	r, _ := v.Runner(RunnerKey{SelectionID: 1})
	if v.Lifecycle != Closed || r.TotalMatched != price.SizeOf(500) || r.Status != "WINNER" {
		t.Fatalf("after close got %v %+v", v.Lifecycle, r)
	}
	if c.Stats().AfterClose != 1 {
		t.Fatalf("after close count got %d", c.Stats().AfterClose)
	}
}

func TestCloseAndEvict(t *testing.T) {
	c := newTestCache()
	mustApply(t, c, `{"op":"mcm","clk":"1","mc":[{"id":"1.1"},{"id":"1.2"}]}`)

	if !c.Close("1.1") || c.Close("9.9") {
		t.Fatal("close result")
	}
	if c.Lifecycle("1.1") != Closed {
		t.Fatal("not closed")
	}

	cutoff := c.now().Add(time.Second)
	evicted := c.EvictClosed(cutoff)
	if len(evicted) != 1 || evicted[0].ID != "1.1" || evicted[0].Lifecycle != Closed {
		t.Fatalf("evicted got %+v", evicted)
	}
	if c.Lifecycle("1.1") != Unseen || c.Len() != 1 {
		t.Fatal("closed market still cached")
	}
	if !c.Evict("1.2") || c.Evict("1.2") || c.Len() != 0 {
		t.Fatal("evict")
	}
}

func TestMalformedLineLeavesCacheUntouched(t *testing.T) {
	c := newTestCache()
	mustApply(t, c, `{"op":"mcm","clk":"1","mc":[{"id":"1.1","rc":[{"id":1,"atb":[[2,10]]}]}]}`)
	version := c.Version()

	res, err := c.ApplyLine([]byte(`{"op":"mcm","clk":"2","mc":[{"id":"1.1","rc":[{"id":1,"atb":[[2,`))
	if !errors.Is(err, wire.ErrMalformedMessage) || res.Kind != ResultMalformed {
		t.Fatalf("got %v %v", res.Kind, err)
	}
	if c.Version() != version || c.Stats().Malformed != 1 {
		t.Fatal("malformed line changed the cache")
	}

	res, err = c.ApplyLine([]byte(`{"op":"rcm","id":4}`))
	if err != nil || res.Kind != ResultSkipped {
		t.Fatalf("unknown op got %v %v", res.Kind, err)
	}
}

func TestHeartbeatAndStatus(t *testing.T) {
	c := newTestCache()
	if res := mustApply(t, c, `{"op":"mcm","id":2,"clk":"AAAAAAAA","pt":1471370160471,"ct":"HEARTBEAT"}`); res.Kind != ResultHeartbeat {
		t.Fatalf("heartbeat got %v", res.Kind)
	}
	if res := mustApply(t, c, `{"op":"status","id":1,"statusCode":"SUCCESS","connectionClosed":false}`); res.Kind != ResultStatus {
		t.Fatalf("status got %v", res.Kind)
	}
	if res := mustApply(t, c, `{"op":"connection","connectionId":"abc"}`); res.Kind != ResultConnection {
		t.Fatalf("connection got %v", res.Kind)
	}
	if c.Len() != 0 || c.Version() != 0 {
		t.Fatal("control messages touched the cache")
	}
}

func TestOrderChanges(t *testing.T) {
	c := newTestCache()
	mustApply(t, c, `{"op":"ocm","clk":"o1","oc":[{"id":"1.1","accountId":7,"orc":[{"id":1,"fullImage":true,"uo":[{"id":"b1","p":2,"s":10,"side":"B","status":"E","sr":10}],"mb":[[2,4]]}]}]}`)
	mustApply(t, c, `{"op":"ocm","clk":"o2","oc":[{"id":"1.1","orc":[{"id":1,"uo":[{"id":"b1","p":2,"s":10,"side":"B","status":"EC","sm":10,"sr":0},{"id":"b2","p":3,"s":5,"side":"L","status":"E","sr":5}],"mb":[[2,0],[2.02,10]]}]}]}`)

	v, _ := c.Snapshot("1.1")
	if v.OrderClock != "o2" || v.Lifecycle != Initializing {
		t.Fatalf("market got %+v", v)
	}
	r, _ := v.Runner(RunnerKey{SelectionID: 1})
	if len(r.Orders) != 2 || r.Orders[0].Status != wire.OrderExecutionComplete || r.Orders[1].ID != "b2" {
		t.Fatalf("orders got %+v", r.Orders)
	}
	want := []depth.Level{{Price: price.Of(2.02), Size: price.SizeOf(10)}}
	if !reflect.DeepEqual(r.MatchedBacks, want) {
		t.Fatalf("matched backs got %+v", r.MatchedBacks)
	}

	// a market image does not wipe orders
	mustApply(t, c, `{"op":"mcm","clk":"m1","mc":[{"id":"1.1","img":true,"rc":[]}]}`)
	v, _ = c.Snapshot("1.1")
	r, _ = v.Runner(RunnerKey{SelectionID: 1})
	if len(r.Orders) != 2 {
		t.Fatalf("orders lost on market image: %+v", r.Orders)
	}

	// full image replaces
	mustApply(t, c, `{"op":"ocm","clk":"o3","oc":[{"id":"1.1","fullImage":true,"orc":[{"id":1,"uo":[{"id":"b3","p":2,"s":1,"side":"B","status":"E","sr":1}]}]}]}`)
	v, _ = c.Snapshot("1.1")
	r, _ = v.Runner(RunnerKey{SelectionID: 1})
	if len(r.Orders) != 1 || r.Orders[0].ID != "b3" || r.MatchedBacks != nil {
		t.Fatalf("full image got %+v", r)
	}
}

func TestHandicapRunnersAreDistinct(t *testing.T) {
	c := newTestCache()
	mustApply(t, c, `{"op":"mcm","clk":"1","mc":[{"id":"1.1","rc":[{"id":1,"hc":-1.5,"atb":[[2,1]]},{"id":1,"hc":1.5,"atb":[[3,1]]}]}]}`)
	a, _ := c.BestN("1.1", RunnerKey{SelectionID: 1, Handicap: -1.5}, depth.Back, 1)
	b, _ := c.BestN("1.1", RunnerKey{SelectionID: 1, Handicap: 1.5}, depth.Back, 1)
	if a[0].Price != price.Of(2) || b[0].Price != price.Of(3) {
		t.Fatalf("handicaps got %+v %+v", a, b)
	}
}

func TestReadersSeeWholeMessages(t *testing.T) {
	c := newTestCache()
	mustApply(t, c, `{"op":"mcm","clk":"0","mc":[{"id":"1.1","img":true,"rc":[{"id":1,"atb":[[2,1]]},{"id":2,"atb":[[2,1]]}]}]}`)

	// every message sets both runners to the same size; a reader must
	// never see them differ
	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			v, _ := c.Snapshot("1.1")
			a, _ := v.Runner(RunnerKey{SelectionID: 1})
			b, _ := v.Runner(RunnerKey{SelectionID: 2})
			if !reflect.DeepEqual(a.ToBack, b.ToBack) {
				t.Errorf("torn read: %+v vs %+v", a.ToBack, b.ToBack)
				return
			}
		}
	}()

	sizes := []string{"1", "2", "3", "4", "5"}
	for i := 0; i < 200; i++ {
		s := sizes[i%len(sizes)]
		line := `{"op":"mcm","clk":"c` + strconv.Itoa(i) + `","mc":[{"id":"1.1","rc":[{"id":1,"atb":[[2,` + s + `]]},{"id":2,"atb":[[2,` + s + `]]}]}]}`
		mustApply(t, c, line)
	}
	close(stop)
	wg.Wait()
}

func TestMarketsListing(t *testing.T) {
	c := newTestCache()
	mustApply(t, c, `{"op":"mcm","clk":"1","pt":1000,"mc":[{"id":"1.2","marketDefinition":{"status":"OPEN","inPlay":true,"marketType":"WIN","runners":[{"id":1}]}},{"id":"1.1"}]}`)
	got := c.Markets()
	if len(got) != 2 || got[0].ID != "1.1" || got[1].ID != "1.2" {
		t.Fatalf("markets got %+v", got)
	}
	if got[1].Status != "OPEN" || !got[1].InPlay || got[1].Runners != 1 || got[1].MarketType != "WIN" {
		t.Fatalf("summary got %+v", got[1])
	}
}

func TestRepeatedMarketInOneMessageAppliesEveryEntry(t *testing.T) {
	c := newTestCache()
	res := mustApply(t, c, `{"op":"mcm","clk":"c1","pt":1,"mc":[{"id":"1.1","img":true,"rc":[{"id":1,"atb":[[2,10]]}]},{"id":"1.1","rc":[{"id":1,"atb":[[3,5]]}]}]}`)
	if res.Kind != ResultApplied || res.Stale != 0 || len(res.Changed) != 1 {
		t.Fatalf("result got %+v", res)
	}
	got, _ := c.BestN("1.1", RunnerKey{SelectionID: 1}, depth.Back, 5)
	want := []depth.Level{
		{Price: price.Of(3), Size: price.SizeOf(5)},
		{Price: price.Of(2), Size: price.SizeOf(10)},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("best back got %+v want %+v", got, want)
	}

	// the same clock again is still a duplicate for every entry
	res = mustApply(t, c, `{"op":"mcm","clk":"c1","pt":1,"mc":[{"id":"1.1","rc":[{"id":1,"atb":[[4,1]]}]},{"id":"1.1","rc":[{"id":1,"atb":[[5,1]]}]}]}`)
	if res.Kind != ResultStale || res.Stale != 2 {
		t.Fatalf("duplicate got %+v", res)
	}
	if got, _ := c.BestN("1.1", RunnerKey{SelectionID: 1}, depth.Back, 5); len(got) != 2 {
		t.Fatalf("duplicate leaked levels %+v", got)
	}
}

func TestRepeatedOrderMarketInOneMessage(t *testing.T) {
	c := newTestCache()
	mustApply(t, c, `{"op":"ocm","clk":"o1","pt":1,"oc":[{"id":"1.2","orc":[{"id":3,"mb":[[2,4]]}]},{"id":"1.2","orc":[{"id":3,"ml":[[2.5,6]]}]}]}`)
	v, ok := c.Snapshot("1.2")
	if !ok {
		t.Fatal("market missing")
	}
	r, ok := v.Runner(RunnerKey{SelectionID: 3})
	if !ok || len(r.MatchedBacks) != 1 || len(r.MatchedLays) != 1 {
		t.Fatalf("runner got %+v", r)
	}
}
