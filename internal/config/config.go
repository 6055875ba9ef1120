package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"market-stream/internal/subscription"
)

type Config struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	Stream  Stream  `yaml:"stream"`
	Storage Storage `yaml:"storage"`
}

type Stream struct {
	// Transport is "tls" for the raw CRLF socket or "ws" for a websocket relay.
	Transport string `yaml:"transport"`
	Addr      string `yaml:"addr"`
	URL       string `yaml:"url"`
	// AppKey and SessionToken are normally supplied through STREAM_APP_KEY
	// and STREAM_SESSION_TOKEN.
	AppKey       string `yaml:"app_key"`
	SessionToken string `yaml:"session_token"`

	MaxLineBytes      int           `yaml:"max_line_bytes"`
	MaxMalformedLines int           `yaml:"max_malformed_lines"`
	DialTimeout       time.Duration `yaml:"dial_timeout"`
	HeartbeatSlack    time.Duration `yaml:"heartbeat_slack"`
	KeepAlive         time.Duration `yaml:"keep_alive"`
	BaseBackoff       time.Duration `yaml:"base_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`

	Markets subscription.MarketSubscription `yaml:"markets"`
	Orders  subscription.OrderSubscription  `yaml:"orders"`
}

type Storage struct {
	// Path of the SQLite archive; empty disables archiving.
	Path             string        `yaml:"path"`
	EvictClosedAfter time.Duration `yaml:"evict_closed_after"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	ArchiveRetention time.Duration `yaml:"archive_retention"`
}

func defaults() Config {
	return Config{
		Port:     8086,
		LogLevel: "info",
		Stream: Stream{
			Transport:         "tls",
			Addr:              "stream-api.betfair.com:443",
			MaxLineBytes:      16 << 20,
			MaxMalformedLines: 10,
			DialTimeout:       15 * time.Second,
			HeartbeatSlack:    5 * time.Second,
			BaseBackoff:       time.Second,
			MaxBackoff:        60 * time.Second,
			Markets: subscription.MarketSubscription{
				MarketDataFilter: subscription.MarketDataFilter{
					Fields:       []string{subscription.FieldBestOffers, subscription.FieldLastTraded, subscription.FieldMarketDefinition},
					LadderLevels: 3,
				},
				HeartbeatMs: 5000,
			},
		},
		Storage: Storage{
			Path:             "./data/stream.db",
			EvictClosedAfter: 10 * time.Minute,
			SweepInterval:    time.Minute,
			ArchiveRetention: 7 * 24 * time.Hour,
		},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := defaults()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	applyEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("STREAM_APP_KEY"); v != "" {
		cfg.Stream.AppKey = v
	}
	if v := os.Getenv("STREAM_SESSION_TOKEN"); v != "" {
		cfg.Stream.SessionToken = v
	}
	if v := os.Getenv("STREAM_ADDR"); v != "" {
		cfg.Stream.Addr = v
	}
}

func (cfg *Config) validate() error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return errors.New("invalid port")
	}
	s := &cfg.Stream
	switch strings.ToLower(s.Transport) {
	case "tls":
		s.Transport = "tls"
		if _, _, err := net.SplitHostPort(s.Addr); err != nil {
			return fmt.Errorf("stream.addr: %w", err)
		}
	case "ws":
		s.Transport = "ws"
		u, err := url.Parse(s.URL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return errors.New(`stream.url must be a ws:// or wss:// URL when transport is "ws"`)
		}
	default:
		return errors.New(`stream.transport must be "tls" or "ws"`)
	}
	if s.AppKey == "" {
		return errors.New("stream.app_key (or STREAM_APP_KEY) is required")
	}
	if s.MaxMalformedLines < 0 {
		return errors.New("stream.max_malformed_lines must be >= 0")
	}
	if s.MaxLineBytes < 1<<10 {
		return errors.New("stream.max_line_bytes must be >= 1024")
	}
	if s.BaseBackoff <= 0 || s.MaxBackoff < s.BaseBackoff {
		return errors.New("stream.base_backoff must be > 0 and <= max_backoff")
	}
	if hb := s.Markets.HeartbeatMs; hb != 0 && (hb < 500 || hb > 5000) {
		return errors.New("stream.markets.heartbeat_ms must be within 500..5000")
	}
	if n := s.Markets.MarketDataFilter.LadderLevels; n < 0 || n > 10 {
		return errors.New("stream.markets.market_data_filter.ladder_levels must be within 0..10")
	}
	if cfg.Storage.Path != "" && cfg.Storage.EvictClosedAfter <= 0 {
		return errors.New("storage.evict_closed_after must be > 0")
	}
	if cfg.Storage.SweepInterval <= 0 {
		return errors.New("storage.sweep_interval must be > 0")
	}
	return nil
}

// NewLogger writes text logs to stdout, tagged service=streamcache.
func NewLogger(level string) *slog.Logger {
	return newLogger(os.Stdout, level)
}

func newLogger(w io.Writer, level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})
	return slog.New(h).With(slog.String("service", "streamcache"))
}
