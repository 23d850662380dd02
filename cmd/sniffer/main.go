package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rawblock/sol-sniffer/internal/analytics"
	"github.com/rawblock/sol-sniffer/internal/api"
	"github.com/rawblock/sol-sniffer/internal/config"
	"github.com/rawblock/sol-sniffer/internal/events"
	"github.com/rawblock/sol-sniffer/internal/extractor"
	"github.com/rawblock/sol-sniffer/internal/handoff"
	"github.com/rawblock/sol-sniffer/internal/metrics"
	"github.com/rawblock/sol-sniffer/internal/noncelease"
	"github.com/rawblock/sol-sniffer/internal/pipeline"
	"github.com/rawblock/sol-sniffer/internal/prefilter"
	"github.com/rawblock/sol-sniffer/internal/security"
	"github.com/rawblock/sol-sniffer/internal/streamcore"
	"github.com/rawblock/sol-sniffer/internal/supervisor"
	"github.com/rawblock/sol-sniffer/pkg/candidate"
)

func main() {
	log.Println("Starting sol-sniffer (Microservice: solana-ingest-dispatch)...")
	log.Println("Initializing prefilter targets and handoff queue...")

	static := config.LoadStatic()
	cfgStore := config.NewStore(os.Getenv("SNIFFER_CONFIG_PATH"))

	reg := metrics.NewRegistry()
	collector := events.NewCollector()

	wsHub := api.NewHub()
	go wsHub.Run()
	collector.SetSink(wsHub.BroadcastEvent)

	tunables := cfgStore.Get()
	h := handoff.New(tunables.HandoffConfig(), reg, collector)
	ema := analytics.NewEmaState(tunables.AnalyticsConfig())

	targets := loadTargets()
	denylist := loadDenylist()

	rawIn := make(chan []byte, tunables.StreamBufferCapacity)

	sub, err := streamcore.NewWSSubscription(context.Background(), static.WSEndpoint)
	if err != nil {
		log.Printf("Warning: failed to connect to upstream validator stream, continuing without live ingest. Error: %v", err)
	}

	var sc *streamcore.StreamCore
	if sub != nil {
		sc = streamcore.New(sub, tunables.StreamCoreConfig(), rawIn, reg)
	}

	// Wire config reload through to the already-constructed live components:
	// both the PATCH /config handler and the file watcher funnel through
	// config.Store.Apply, so registering here covers both paths.
	cfgStore.OnApply(func(t config.Tunable) {
		t.ApplyToHandoff(h)
		t.ApplyToAnalytics(ema)
	})
	if sc != nil {
		cfgStore.OnApply(func(t config.Tunable) {
			t.ApplyToStreamCore(sc)
		})
	}

	breaker := noncelease.NewGlobalBreaker(noncelease.DefaultBreakerConfig(), 2*time.Second)
	noncePool := noncelease.NewNoncePool(noncelease.PoolConfig{
		Size:           tunables.NoncePoolSize,
		LeaseTTL:       time.Duration(tunables.NonceLeaseTTLSecs) * time.Second,
		RefreshWorkers: 10,
	}, breaker)

	pl := pipeline.New(pipeline.Config{
		RawIn:            rawIn,
		Targets:          targets,
		ExtractorOptions: extractor.Options{Mode: extractor.ModeHotPath, SafeOffsets: tunables.SafeOffsets},
		Denylist:         denylist,
		Handoff:          h,
		Analytics:        ema,
		Metrics:          reg,
		Events:           collector,
	})

	sup := supervisor.New()
	pause := make(chan struct{})
	resume := make(chan struct{})

	sup.Register("pipeline", true, func(ctx context.Context) {
		pl.Run(ctx, pause, resume)
	})
	sup.Register("handoff", true, func(ctx context.Context) {
		h.Run(ctx)
	})
	sup.Register("analytics-updaters", false, func(ctx context.Context) {
		pipeline.BackgroundUpdaters(ctx, ema)
	})
	if sc != nil {
		sup.Register("streamcore", true, func(ctx context.Context) {
			sc.Run(ctx)
		})
	}
	sup.Register("nonce-refresh-scan", false, func(ctx context.Context) {
		runNonceRefreshScan(ctx, noncePool)
	})
	sup.Register("config-watcher", false, func(ctx context.Context) {
		stop := make(chan struct{})
		go func() {
			<-ctx.Done()
			close(stop)
		}()
		cfgStore.WatchFile(pipeline.ConfigWatchInterval(), stop)
	})

	if err := sup.Start(context.Background()); err != nil {
		log.Fatalf("FATAL: failed to start supervisor: %v", err)
	}

	r := api.SetupRouter(reg, collector, sup, cfgStore, wsHub)

	srv := startServer(r, static.ListenPort)

	waitForShutdown()

	log.Println("Shutting down sol-sniffer...")
	if err := sup.Stop(time.Duration(tunables.GracefulShutdownMs) * time.Millisecond); err != nil {
		log.Printf("Warning: supervisor stop did not complete cleanly: %v", err)
	}
	shutdownServer(srv)
}

// loadTargets reads the 32-byte program/mint identifiers the prefilter
// watches for from SNIFFER_WATCH_TARGETS (comma-separated hex), matching
// the getEnvOrDefault discipline used for non-secret tunables.
func loadTargets() prefilter.Set {
	raw := os.Getenv("SNIFFER_WATCH_TARGETS")
	if raw == "" {
		return prefilter.NewSet(nil)
	}
	var targets [][]byte
	for _, hexStr := range splitAndTrim(raw) {
		b, err := decodeHex(hexStr)
		if err != nil || len(b) != 32 {
			log.Printf("Warning: skipping malformed watch target %q: %v", hexStr, err)
			continue
		}
		targets = append(targets, b)
	}
	return prefilter.NewSet(targets)
}

// loadDenylist reads the security gate's blocked mint/account identifiers
// from SNIFFER_SECURITY_DENYLIST (comma-separated hex), matching the same
// comma-separated-hex-from-env discipline as loadTargets.
func loadDenylist() security.Denylist {
	raw := os.Getenv("SNIFFER_SECURITY_DENYLIST")
	if raw == "" {
		return security.NewDenylist(nil)
	}
	var blocked []candidate.Identity
	for _, hexStr := range splitAndTrim(raw) {
		b, err := decodeHex(hexStr)
		if err != nil || len(b) != candidate.IdentitySize {
			log.Printf("Warning: skipping malformed denylist entry %q: %v", hexStr, err)
			continue
		}
		var id candidate.Identity
		copy(id[:], b)
		blocked = append(blocked, id)
	}
	return security.NewDenylist(blocked)
}

// runNonceRefreshScan drives the background refresh scan on a ticker,
// matching the analytics package's own dual-ticker background-updater
// pattern (internal/analytics/analytics.go RunBackgroundUpdaters).
func runNonceRefreshScan(ctx context.Context, pool *noncelease.NoncePool) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pool.RefreshScan(ctx, refreshNonceAccount, 0)
		}
	}
}

// refreshNonceAccount is the RPC collaborator nonce refresh ultimately
// depends on; a live deployment wires this to the operator's Solana RPC
// client (out of scope here, see the data-model's external-interfaces
// section), so until one is configured this reports a transient failure
// rather than silently pretending to succeed.
func refreshNonceAccount(ctx context.Context, rec *noncelease.NonceAccount) (noncelease.RefreshResult, error) {
	return noncelease.RefreshResult{}, noncelease.ErrRpcTransient
}

func waitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
}
