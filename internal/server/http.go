package server

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"market-stream/internal/cache"
	"market-stream/internal/depth"
	"market-stream/internal/metrics"
	"market-stream/internal/storage"
	"market-stream/internal/stream"
	"market-stream/internal/subscription"
)

// overdueAfter flags a stream that has gone quiet for longer than a few
// default heartbeat intervals.
const overdueAfter = 30 * time.Second

// StreamStatus is the part of the stream client the API reports on.
type StreamStatus interface {
	Connected() bool
	ConnectionID() string
}

// Archive serves markets evicted from the cache after they closed.
type Archive interface {
	ArchivedMarket(ctx context.Context, id string) (cache.MarketView, bool, error)
	ListArchived(ctx context.Context, limit int) ([]storage.Archived, error)
}

// SessionLog holds what the stream client saved when its last session
// ended.
type SessionLog interface {
	Metadata(ctx context.Context, key string) (string, error)
}

// sessionKeys are reported by /api/health under lastSession.
var sessionKeys = []string{
	stream.KeyConnectionID,
	stream.KeyMarketClock,
	stream.KeyMarketInitialClk,
	stream.KeyOrderClock,
	stream.KeySessionEndedAtUTC,
}

type Deps struct {
	Cache   *cache.Cache
	Stream  StreamStatus
	Tracker *subscription.Tracker
	// Archive is optional; the archive routes answer 404 without it.
	Archive  Archive
	Session  SessionLog
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

type HTTPServer struct {
	cache   *cache.Cache
	stream  StreamStatus
	tracker *subscription.Tracker
	archive Archive
	session SessionLog
	metrics *metrics.Metrics
	hub     *hub
	log     *slog.Logger
	mux     *http.ServeMux
	started time.Time
}

func NewHTTPServer(d Deps, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &HTTPServer{
		cache:   d.Cache,
		stream:  d.Stream,
		tracker: d.Tracker,
		archive: d.Archive,
		session: d.Session,
		metrics: d.Metrics,
		hub:     newHub(logger, d.Metrics),
		log:     logger,
		mux:     http.NewServeMux(),
		started: time.Now(),
	}
	s.routes(d.Gatherer)
	go s.hub.run()
	return s
}

func (s *HTTPServer) Router() http.Handler { return s.instrument(s.mux) }

// Close disconnects websocket clients.
func (s *HTTPServer) Close() { s.hub.stop() }

// --------- WS broadcasts ----------

// PublishMarkets pushes the current view of each changed market to
// websocket clients.
func (s *HTTPServer) PublishMarkets(ids []string) {
	if s.hub.clientCount() == 0 {
		return
	}
	for _, id := range ids {
		v, ok := s.cache.Snapshot(id)
		if !ok {
			continue
		}
		s.hub.publish(marshalWS("market", v))
	}
}

func (s *HTTPServer) BroadcastStatus() {
	s.hub.publish(marshalWS("status", map[string]any{
		"connected":    s.connected(),
		"connectionId": s.connectionID(),
		"version":      s.cache.Version(),
	}))
}

func (s *HTTPServer) BroadcastError(msg string) {
	s.hub.publish(marshalWS("error", map[string]string{"message": msg}))
}

// --------- Routes ----------

func (s *HTTPServer) routes(g prometheus.Gatherer) {
	s.mux.HandleFunc("GET /ws", s.hub.serveWS)

	s.mux.HandleFunc("GET /api/health", s.apiHealth)
	s.mux.HandleFunc("GET /api/markets", s.apiMarkets)
	s.mux.HandleFunc("GET /api/markets/{id}", s.apiMarket)
	s.mux.HandleFunc("GET /api/markets/{id}/best", s.apiBest)
	s.mux.HandleFunc("GET /api/archive", s.apiArchive)
	s.mux.HandleFunc("GET /api/archive/{id}", s.apiArchivedMarket)

	if g != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	}
}

func (s *HTTPServer) connected() bool {
	return s.stream != nil && s.stream.Connected()
}

func (s *HTTPServer) connectionID() string {
	if s.stream == nil {
		return ""
	}
	return s.stream.ConnectionID()
}

func (s *HTTPServer) apiHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"ok":           true,
		"connected":    s.connected(),
		"connectionId": s.connectionID(),
		"uptime":       time.Since(s.started).Round(time.Second).String(),
		"cache":        s.cache.Stats(),
	}
	if s.tracker != nil {
		body["marketClk"] = s.tracker.MarketResume().Clock
		body["overdue"] = s.tracker.Overdue(time.Now(), overdueAfter)
		if pt := s.tracker.StreamPublishTime(); !pt.IsZero() {
			body["publishTime"] = pt.UTC()
		}
	}
	if last := s.lastSession(r.Context()); len(last) > 0 {
		body["lastSession"] = last
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *HTTPServer) lastSession(ctx context.Context) map[string]string {
	if s.session == nil {
		return nil
	}
	out := make(map[string]string, len(sessionKeys))
	for _, k := range sessionKeys {
		v, err := s.session.Metadata(ctx, k)
		if err != nil {
			s.log.Warn("read session metadata", slog.String("key", k), slog.String("err", err.Error()))
			return nil
		}
		if v != "" {
			out[k] = v
		}
	}
	return out
}

func (s *HTTPServer) apiMarkets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version": s.cache.Version(),
		"markets": s.cache.Markets(),
	})
}

func (s *HTTPServer) apiMarket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	v, ok := s.cache.Snapshot(id)
	if !ok {
		writeError(w, http.StatusNotFound, "market "+id+" not in cache")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// GET /api/markets/{id}/best?selection=123&hc=0&side=back&n=3
func (s *HTTPServer) apiBest(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	q := r.URL.Query()

	sel, err := strconv.ParseInt(q.Get("selection"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "selection must be an integer")
		return
	}
	key := cache.RunnerKey{SelectionID: sel}
	if v := q.Get("hc"); v != "" {
		if key.Handicap, err = strconv.ParseFloat(v, 64); err != nil {
			writeError(w, http.StatusBadRequest, "hc must be a number")
			return
		}
	}
	side := depth.Back
	if v := q.Get("side"); v != "" {
		var ok bool
		if side, ok = depth.ParseSide(v); !ok {
			writeError(w, http.StatusBadRequest, "side must be back or lay")
			return
		}
	}
	n := 3
	if v := q.Get("n"); v != "" {
		if n, err = strconv.Atoi(v); err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "n must be >= 1")
			return
		}
	}

	levels, ok := s.cache.BestN(id, key, side, n)
	if !ok {
		writeError(w, http.StatusNotFound, "runner not in cache")
		return
	}
	if levels == nil {
		levels = []depth.Level{}
	}
	body := map[string]any{
		"market":    id,
		"selection": sel,
		"handicap":  key.Handicap,
		"side":      side.String(),
		"levels":    levels,
		"lifecycle": s.cache.Lifecycle(id),
	}
	if s.tracker != nil {
		if pt := s.tracker.LastPublishTime(id); !pt.IsZero() {
			body["publishTime"] = pt.UTC()
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *HTTPServer) apiArchive(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusNotFound, "archive disabled")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		var err error
		if limit, err = strconv.Atoi(v); err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, "limit must be >= 1")
			return
		}
	}
	rows, err := s.archive.ListArchived(r.Context(), limit)
	if err != nil {
		s.log.Error("list archive", slog.String("err", err.Error()))
		writeError(w, http.StatusInternalServerError, "archive unavailable")
		return
	}
	if rows == nil {
		rows = []storage.Archived{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"markets": rows})
}

func (s *HTTPServer) apiArchivedMarket(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusNotFound, "archive disabled")
		return
	}
	id := r.PathValue("id")
	v, ok, err := s.archive.ArchivedMarket(r.Context(), id)
	switch {
	case err != nil:
		s.log.Error("load archived market", slog.String("id", id), slog.String("err", err.Error()))
		writeError(w, http.StatusInternalServerError, "archive unavailable")
	case !ok:
		writeError(w, http.StatusNotFound, "market "+id+" not archived")
	default:
		writeJSON(w, http.StatusOK, v)
	}
}

// instrument counts requests by route pattern and status.
func (s *HTTPServer) instrument(next http.Handler) http.Handler {
	if s.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack is needed by the websocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.MarshalWrite(w, v, jsontext.WithIndent("  "))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
