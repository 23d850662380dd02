// Package config loads and hot-reloads the sniffer's tunable parameters.
// Required secrets follow a requireEnv/getEnvOrDefault
// discipline (cmd/engine/main.go): no fallback defaults for
// security-sensitive values, safe defaults for everything else. The
// reloadable tuning knobs live in a JSON document watched by a
// cooperative polling task rather than env vars, since they change at
// runtime far more often than RPC credentials do.
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rawblock/sol-sniffer/internal/analytics"
	"github.com/rawblock/sol-sniffer/internal/handoff"
	"github.com/rawblock/sol-sniffer/internal/streamcore"
)

// Static carries the environment-sourced, non-reloadable settings: RPC
// endpoints and credentials. These only change on process restart.
type Static struct {
	RPCEndpoint  string
	WSEndpoint   string
	AuthToken    string
	ListenPort   string
	AllowedOrigins string
}

// requireEnv reads a required environment variable and exits if it is not
// set, failing fast at startup when it is missing.
func requireEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		log.Fatalf("FATAL: Required environment variable %s is not set. "+
			"Copy .env.example to .env and fill in your values: cp .env.example .env", key)
	}
	return val
}

// getEnvOrDefault returns the env var value or a safe default for
// non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// LoadStatic reads the fixed startup configuration from the environment.
func LoadStatic() Static {
	return Static{
		RPCEndpoint:    requireEnv("SOLANA_RPC_ENDPOINT"),
		WSEndpoint:     getEnvOrDefault("SOLANA_WS_ENDPOINT", ""),
		AuthToken:      os.Getenv("API_AUTH_TOKEN"),
		ListenPort:     getEnvOrDefault("PORT", "5339"),
		AllowedOrigins: os.Getenv("ALLOWED_ORIGINS"),
	}
}

// Tunable is the reloadable document covering every option in the data
// model's configuration table. JSON field names match the on-disk config
// file so an operator's config.json round-trips through GET/PATCH /config
// unchanged.
type Tunable struct {
	ChannelCapacity        int     `json:"channel_capacity"`
	StreamBufferCapacity   int     `json:"stream_buffer_capacity"`
	BatchSize              int     `json:"batch_size"`
	BatchTimeoutMs         int     `json:"batch_timeout_ms"`
	DropPolicy             string  `json:"drop_policy"`
	BatchSendMode          string  `json:"batch_send_mode"`
	SendMaxRetries         int     `json:"send_max_retries"`
	SendRetryDelayUs       int     `json:"send_retry_delay_us"`
	GracefulShutdownMs     int     `json:"graceful_shutdown_timeout_ms"`
	EMAAlphaShort          float64 `json:"ema_alpha_short"`
	EMAAlphaLong           float64 `json:"ema_alpha_long"`
	EMAUpdateIntervalMs    int     `json:"ema_update_interval_ms"`
	ThresholdUpdateRate    float64 `json:"threshold_update_rate"`
	InitialThreshold       float64 `json:"initial_threshold"`
	MaxRetryAttempts       int     `json:"max_retry_attempts"`
	InitialBackoffMs       int     `json:"initial_backoff_ms"`
	MaxBackoffMs           int     `json:"max_backoff_ms"`
	SafeOffsets            bool    `json:"safe_offsets"`
	TelemetryIntervalSecs  int     `json:"telemetry_interval_secs"`
	NoncePoolSize          int     `json:"nonce_pool_size"`
	NonceLeaseTTLSecs      int     `json:"nonce_lease_ttl_secs"`
}

// Default returns the baseline tunable configuration
// for handoff, analytics, streamcore and noncelease.
func Default() Tunable {
	return Tunable{
		ChannelCapacity:       1024,
		StreamBufferCapacity:  2048,
		BatchSize:             10,
		BatchTimeoutMs:        10,
		DropPolicy:            "DropNewest",
		BatchSendMode:         "Async",
		SendMaxRetries:        3,
		SendRetryDelayUs:      100,
		GracefulShutdownMs:    5000,
		EMAAlphaShort:         0.2,
		EMAAlphaLong:          0.05,
		EMAUpdateIntervalMs:   200,
		ThresholdUpdateRate:   0.2,
		InitialThreshold:      1.0,
		MaxRetryAttempts:      5,
		InitialBackoffMs:      100,
		MaxBackoffMs:          5000,
		SafeOffsets:           true,
		TelemetryIntervalSecs: 10,
		NoncePoolSize:         16,
		NonceLeaseTTLSecs:     30,
	}
}

// Validate rejects values that would violate an invariant elsewhere in the
// system (e.g. a zero batch size would wedge the handoff flush loop).
func (t Tunable) Validate() error {
	if t.ChannelCapacity <= 0 {
		return fmt.Errorf("channel_capacity must be positive")
	}
	if t.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	if t.DropPolicy != "DropNewest" && t.DropPolicy != "DropOldest" && t.DropPolicy != "Block" {
		return fmt.Errorf("drop_policy must be one of DropNewest, DropOldest, Block")
	}
	if t.BatchSendMode != "Sync" && t.BatchSendMode != "Async" {
		return fmt.Errorf("batch_send_mode must be one of Sync, Async")
	}
	if t.EMAAlphaShort <= 0 || t.EMAAlphaShort >= 1 {
		return fmt.Errorf("ema_alpha_short must be in (0,1)")
	}
	if t.EMAAlphaLong <= 0 || t.EMAAlphaLong >= 1 {
		return fmt.Errorf("ema_alpha_long must be in (0,1)")
	}
	if t.NoncePoolSize <= 0 {
		return fmt.Errorf("nonce_pool_size must be positive")
	}
	return nil
}

func (t Tunable) dropPolicy() handoff.DropPolicy {
	switch t.DropPolicy {
	case "DropOldest":
		return handoff.DropOldest
	case "Block":
		return handoff.Block
	default:
		return handoff.DropNewest
	}
}

func (t Tunable) sendMode() handoff.SendMode {
	if t.BatchSendMode == "Sync" {
		return handoff.Sync
	}
	return handoff.Async
}

// Store is the process-wide reloadable config holder. Reads are lock-free
// (atomic.Pointer load); writes replace the whole snapshot so readers
// never observe a torn update.
type Store struct {
	current atomic.Pointer[Tunable]
	path    string
	mu      sync.Mutex // serializes writers (file watcher vs PATCH handler) and onApply registration

	onApply []func(Tunable)
}

// NewStore constructs a Store seeded with Default(), optionally overlaid
// by the JSON file at path if it exists.
func NewStore(path string) *Store {
	s := &Store{path: path}
	cfg := Default()
	if path != "" {
		if loaded, err := loadFile(path); err == nil {
			cfg = loaded
		}
	}
	s.current.Store(&cfg)
	return s
}

func loadFile(path string) (Tunable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Tunable{}, err
	}
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Tunable{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Tunable{}, err
	}
	return cfg, nil
}

// Get returns the current configuration snapshot.
func (s *Store) Get() Tunable {
	return *s.current.Load()
}

// Apply validates and installs a new configuration snapshot, used by both
// the PATCH /config handler and the file watcher. Every registered OnApply
// callback runs after the snapshot is installed, so a reload actually
// changes the running pipeline's behavior rather than only what GET /config
// reports.
func (s *Store) Apply(cfg Tunable) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.current.Store(&cfg)
	hooks := append([]func(Tunable){}, s.onApply...)
	s.mu.Unlock()

	for _, hook := range hooks {
		hook(cfg)
	}
	return nil
}

// OnApply registers a callback invoked with the new snapshot after every
// successful Apply. Wiring point for the live components (handoff.Handoff,
// analytics.EmaState, streamcore.StreamCore) that Tunable's ApplyTo*
// methods below know how to update in place.
func (s *Store) OnApply(fn func(Tunable)) {
	s.mu.Lock()
	s.onApply = append(s.onApply, fn)
	s.mu.Unlock()
}

// HandoffConfig projects the reloadable tuning into a handoff.Config.
func (t Tunable) HandoffConfig() handoff.Config {
	cfg := handoff.DefaultConfig()
	cfg.ChannelCapacity = t.ChannelCapacity
	cfg.StreamBufferCapacity = t.StreamBufferCapacity
	cfg.BatchSize = t.BatchSize
	cfg.BatchTimeout = time.Duration(t.BatchTimeoutMs) * time.Millisecond
	cfg.DropPolicy = t.dropPolicy()
	cfg.SendMode = t.sendMode()
	cfg.MaxRetries = t.SendMaxRetries
	cfg.RetryDelay = time.Duration(t.SendRetryDelayUs) * time.Microsecond
	cfg.DrainTimeout = time.Duration(t.GracefulShutdownMs) * time.Millisecond
	return cfg
}

// AnalyticsConfig projects the reloadable tuning into an analytics.Config.
func (t Tunable) AnalyticsConfig() analytics.Config {
	return analytics.Config{
		AlphaShort:          t.EMAAlphaShort,
		AlphaLong:           t.EMAAlphaLong,
		EMAUpdateInterval:   time.Duration(t.EMAUpdateIntervalMs) * time.Millisecond,
		ThresholdUpdateRate: t.ThresholdUpdateRate,
		ThresholdInterval:   1 * time.Second,
		InitialThreshold:    t.InitialThreshold,
	}
}

// StreamCoreConfig projects the reloadable tuning into a streamcore.Config.
func (t Tunable) StreamCoreConfig() streamcore.Config {
	return streamcore.Config{
		MaxRetryAttempts: t.MaxRetryAttempts,
		InitialBackoff:   time.Duration(t.InitialBackoffMs) * time.Millisecond,
		MaxBackoff:       time.Duration(t.MaxBackoffMs) * time.Millisecond,
	}
}

// ApplyToHandoff pushes the current batch/retry/drop-policy knobs onto a
// live Handoff. Registered as an OnApply hook so a reload takes effect on
// the running pipeline instead of only updating what GET /config reports.
func (t Tunable) ApplyToHandoff(h *handoff.Handoff) {
	h.SetBatchSize(t.BatchSize)
	h.SetBatchTimeout(time.Duration(t.BatchTimeoutMs) * time.Millisecond)
	h.SetDropPolicy(t.dropPolicy())
	h.SetSendMode(t.sendMode())
	h.SetMaxRetries(t.SendMaxRetries)
	h.SetRetryDelay(time.Duration(t.SendRetryDelayUs) * time.Microsecond)
	h.SetDrainTimeout(time.Duration(t.GracefulShutdownMs) * time.Millisecond)
}

// ApplyToAnalytics pushes the current threshold-adaptation rate onto a live
// EmaState. AlphaShort/AlphaLong are intentionally not pushed here — the
// data model documents them as immutable configuration, set only at
// construction.
func (t Tunable) ApplyToAnalytics(e *analytics.EmaState) {
	e.SetThresholdUpdateRate(t.ThresholdUpdateRate)
}

// ApplyToStreamCore pushes the current reconnect tuning onto a live
// StreamCore.
func (t Tunable) ApplyToStreamCore(s *streamcore.StreamCore) {
	s.SetConfig(t.StreamCoreConfig())
}

// WatchFile polls the backing file every interval and applies any valid
// change, logging and discarding invalid documents rather than crashing
// the process — the "Warning: ... continuing" pattern used throughout
// for best-effort startup failures (cmd/engine/main.go).
func (s *Store) WatchFile(interval time.Duration, stop <-chan struct{}) {
	if s.path == "" {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var lastMod time.Time
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			info, err := os.Stat(s.path)
			if err != nil {
				continue
			}
			if !info.ModTime().After(lastMod) {
				continue
			}
			lastMod = info.ModTime()
			cfg, err := loadFile(s.path)
			if err != nil {
				log.Printf("[config] discarding invalid config reload from %s: %v", s.path, err)
				continue
			}
			if err := s.Apply(cfg); err != nil {
				log.Printf("[config] discarding invalid config reload from %s: %v", s.path, err)
				continue
			}
			log.Printf("[config] reloaded tunables from %s", s.path)
		}
	}
}
