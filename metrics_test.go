package goAccount

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricLoginSuccess)

	if got := m.Value(MetricLoginSuccess); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestMetricsEnabledIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(MetricEmailAdded)
	m.Inc(MetricEmailAdded)
	m.Inc(MetricEmailAdded)

	if got := m.Value(MetricEmailAdded); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 32
	const perG = 4000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricPrimaryChanged)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	if got := m.Value(MetricPrimaryChanged); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestMetricsHistogramBucketCorrectness(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})

	observations := []time.Duration{
		5 * time.Millisecond,
		10 * time.Millisecond,
		25 * time.Millisecond,
		50 * time.Millisecond,
		100 * time.Millisecond,
		250 * time.Millisecond,
		500 * time.Millisecond,
		700 * time.Millisecond,
	}

	for _, d := range observations {
		m.Observe(MetricLoginLatency, d)
	}

	snap := m.Snapshot()
	buckets := snap.Histograms[MetricLoginLatency]
	if len(buckets) != 8 {
		t.Fatalf("expected 8 buckets, got %d", len(buckets))
	}

	for i, v := range buckets {
		if v != 1 {
			t.Fatalf("bucket %d expected 1, got %d", i, v)
		}
	}
}

func TestMetricsObserveIgnoresCounters(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})
	m.Observe(MetricLoginSuccess, time.Millisecond)

	snap := m.Snapshot()
	if _, ok := snap.Histograms[MetricLoginSuccess]; ok {
		t.Fatal("counter id must not carry a histogram")
	}
	if len(snap.Histograms) != 2 {
		t.Fatalf("expected 2 histograms, got %d", len(snap.Histograms))
	}
}

func TestMetricsSnapshotConsistency(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})
	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLoginFailure)
	m.Inc(MetricLoginFailure)
	m.Observe(MetricValidateLatency, 2*time.Millisecond)

	snap := m.Snapshot()

	if snap.Counters[MetricLoginSuccess] != 1 {
		t.Fatalf("expected MetricLoginSuccess=1 got %d", snap.Counters[MetricLoginSuccess])
	}
	if snap.Counters[MetricLoginFailure] != 2 {
		t.Fatalf("expected MetricLoginFailure=2 got %d", snap.Counters[MetricLoginFailure])
	}
	if len(snap.Counters) != MetricIDCount() {
		t.Fatalf("expected %d counters, got %d", MetricIDCount(), len(snap.Counters))
	}
	if len(snap.Histograms[MetricValidateLatency]) != 8 {
		t.Fatalf("expected histogram length 8")
	}
	if snap.Histograms[MetricValidateLatency][0] != 1 {
		t.Fatalf("expected first histogram bucket=1 got %d", snap.Histograms[MetricValidateLatency][0])
	}
}

func TestEngineRecordsFlowMetrics(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	uid := env.createAccount(t, "a@example.com")
	env.addVerifiedEmail(t, uid, "b@example.com")
	if err := env.engine.SetPrimaryEmail(ctx, uid, "b@example.com"); err != nil {
		t.Fatalf("set primary failed: %v", err)
	}
	res := env.login(t, "b@example.com", testPassword)
	if _, err := env.engine.ValidateSession(ctx, res.SessionToken); err != nil {
		t.Fatalf("validate failed: %v", err)
	}

	snap := env.engine.MetricsSnapshot()
	want := map[MetricID]uint64{
		MetricAccountCreated: 1,
		MetricEmailAdded:     1,
		MetricCodeIssued:     1,
		MetricEmailVerified:  1,
		MetricPrimaryChanged: 1,
		MetricLoginSuccess:   1,
	}
	for id, v := range want {
		if snap.Counters[id] != v {
			t.Fatalf("metric %d: expected %d, got %d", id, v, snap.Counters[id])
		}
	}

	var logins, validations uint64
	for _, v := range snap.Histograms[MetricLoginLatency] {
		logins += v
	}
	for _, v := range snap.Histograms[MetricValidateLatency] {
		validations += v
	}
	if logins != 1 || validations != 1 {
		t.Fatalf("expected one login and one validate observation, got %d and %d", logins, validations)
	}
}

func TestEngineSkipsLatencyWhenHistogramsOff(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.EnableLatencyHistograms = false
	env := newTestEnvWithConfig(t, cfg)
	ctx := context.Background()
	env.createAccount(t, "a@example.com")

	res := env.login(t, "a@example.com", testPassword)
	if _, err := env.engine.ValidateSession(ctx, res.SessionToken); err != nil {
		t.Fatalf("validate failed: %v", err)
	}

	if env.engine.metrics.LatencyEnabled() {
		t.Fatalf("latency should be off")
	}
	snap := env.engine.MetricsSnapshot()
	if snap.Counters[MetricLoginSuccess] != 1 {
		t.Fatalf("expected one login success, got %d", snap.Counters[MetricLoginSuccess])
	}
	if len(snap.Histograms) != 0 {
		t.Fatalf("expected no histograms, got %v", snap.Histograms)
	}
	for _, id := range []MetricID{MetricLoginLatency, MetricValidateLatency} {
		for i, v := range env.engine.metrics.histograms[id].buckets {
			if v != 0 {
				t.Fatalf("metric %d bucket %d: expected 0, got %d", id, i, v)
			}
		}
	}
}
