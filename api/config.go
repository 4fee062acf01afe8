package api

import (
	"strings"
	"time"

	"github.com/pocketbridge/sync-core/internal/connection"
	"github.com/pocketbridge/sync-core/internal/eventlog"
	"github.com/pocketbridge/sync-core/internal/features/files"
)

// Config collects every §6 "Configurable option" as a field, filled in
// via With<Name> functional options (matching the teacher's
// sdk.RDClientConfig / WithBootstrapServers(...) pattern).
type Config struct {
	WsURL          string
	PairingAPIURL  string
	DeviceName     string
	StorageDir     string // empty selects an ephemeral in-memory store

	ChunkSizeBytes     int
	ParallelChunks     int
	MaxFileBytes       int64
	QueueMaxCount      int
	QueueMaxBytes      int64
	HandshakeTimeoutMs int
	ReconnectBaseMs    int
	ReconnectMaxMs     int
	TTLDefaultSeconds  int64
}

// Option mutates a Config during New.
type Option func(*Config)

// WithWsURL sets the event channel endpoint (§6 "ws_url").
func WithWsURL(url string) Option { return func(c *Config) { c.WsURL = url } }

// WithPairingAPIURL overrides the pairing HTTP endpoint; when unset it is
// derived from WsURL (s/ws/http/, strip "/ws", append "/api") per §6.
func WithPairingAPIURL(url string) Option { return func(c *Config) { c.PairingAPIURL = url } }

// WithDeviceName sets the Device Record's initial human-readable name.
func WithDeviceName(name string) Option { return func(c *Config) { c.DeviceName = name } }

// WithStorageDir selects a durable on-disk pebble store rooted at dir;
// the zero value keeps the default ephemeral in-memory store.
func WithStorageDir(dir string) Option { return func(c *Config) { c.StorageDir = dir } }

// WithChunkSizeBytes overrides the file chunk boundary (§6).
func WithChunkSizeBytes(n int) Option { return func(c *Config) { c.ChunkSizeBytes = n } }

// WithParallelChunks overrides the max concurrent chunk uploads (§6).
func WithParallelChunks(n int) Option { return func(c *Config) { c.ParallelChunks = n } }

// WithMaxFileBytes overrides the hard per-file ceiling (§6).
func WithMaxFileBytes(n int64) Option { return func(c *Config) { c.MaxFileBytes = n } }

// WithQueueBounds overrides the Pending Queue's count and byte bounds (§6).
func WithQueueBounds(maxCount int, maxBytes int64) Option {
	return func(c *Config) { c.QueueMaxCount = maxCount; c.QueueMaxBytes = maxBytes }
}

// WithHandshakeTimeout overrides the handshake deadline (§6).
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Config) { c.HandshakeTimeoutMs = int(d.Milliseconds()) }
}

// WithReconnectBackoff overrides the reconnect backoff parameters (§6).
func WithReconnectBackoff(base, max time.Duration) Option {
	return func(c *Config) {
		c.ReconnectBaseMs = int(base.Milliseconds())
		c.ReconnectMaxMs = int(max.Milliseconds())
	}
}

// WithTTLDefault overrides the default self-destruct message lifetime (§6).
func WithTTLDefault(d time.Duration) Option {
	return func(c *Config) { c.TTLDefaultSeconds = int64(d.Seconds()) }
}

func defaultConfig() Config {
	return Config{
		ChunkSizeBytes:     files.DefaultChunkSize,
		ParallelChunks:     files.DefaultParallelChunk,
		MaxFileBytes:       files.DefaultMaxFileBytes,
		QueueMaxCount:      eventlog.DefaultMaxCount,
		QueueMaxBytes:      eventlog.DefaultMaxBytes,
		HandshakeTimeoutMs: int(connection.HandshakeTimeout.Milliseconds()),
		ReconnectBaseMs:    3000,
		ReconnectMaxMs:     30000,
		TTLDefaultSeconds:  24 * 60 * 60,
	}
}

// applyDefaults fills zero-valued fields and derives PairingAPIURL from
// WsURL when absent (§6: "s/ws/http/, strip /ws", then "/api" appended).
func applyDefaults(cfg Config) Config {
	defaults := defaultConfig()
	if cfg.ChunkSizeBytes <= 0 {
		cfg.ChunkSizeBytes = defaults.ChunkSizeBytes
	}
	if cfg.ParallelChunks <= 0 {
		cfg.ParallelChunks = defaults.ParallelChunks
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = defaults.MaxFileBytes
	}
	if cfg.QueueMaxCount <= 0 {
		cfg.QueueMaxCount = defaults.QueueMaxCount
	}
	if cfg.QueueMaxBytes <= 0 {
		cfg.QueueMaxBytes = defaults.QueueMaxBytes
	}
	if cfg.HandshakeTimeoutMs <= 0 {
		cfg.HandshakeTimeoutMs = defaults.HandshakeTimeoutMs
	}
	if cfg.ReconnectBaseMs <= 0 {
		cfg.ReconnectBaseMs = defaults.ReconnectBaseMs
	}
	if cfg.ReconnectMaxMs <= 0 {
		cfg.ReconnectMaxMs = defaults.ReconnectMaxMs
	}
	if cfg.TTLDefaultSeconds <= 0 {
		cfg.TTLDefaultSeconds = defaults.TTLDefaultSeconds
	}
	if cfg.PairingAPIURL == "" && cfg.WsURL != "" {
		cfg.PairingAPIURL = derivePairingAPIURL(cfg.WsURL)
	}
	if cfg.DeviceName == "" {
		cfg.DeviceName = "unnamed device"
	}
	return cfg
}

func derivePairingAPIURL(wsURL string) string {
	url := wsURL
	url = strings.Replace(url, "wss://", "https://", 1)
	url = strings.Replace(url, "ws://", "http://", 1)
	url = strings.TrimSuffix(url, "/ws")
	return url + "/api"
}
