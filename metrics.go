package waanauth

import (
	"slices"
	"sync/atomic"
	"time"
)

// MetricID identifies an engine counter.
type MetricID int

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginRateLimited
	MetricLoginInactive
	MetricLoginCodeIssued
	MetricLoginCodeRedeemed
	MetricMFALoginRequired
	MetricMFALoginSuccess
	MetricMFALoginFailure
	MetricMFAChallengeExhausted
	MetricRecoveryCodeUsed
	MetricCodeIssued
	MetricCodeThrottled
	MetricCodeVerified
	MetricCodeInvalid
	MetricCodeExpired
	MetricSessionCreated
	MetricSessionRevoked
	MetricLogoutAll
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRefreshReuseDetected
	MetricAuthenticateSuccess
	MetricAuthenticateFailure
	MetricSignupSuccess
	MetricSignupRejected
	MetricSignupRateLimited
	MetricEmailVerified
	MetricPhoneVerified
	MetricPasswordResetRequest
	MetricPasswordResetConfirmSuccess
	MetricPasswordResetConfirmFailure
	MetricMFAEnrollmentStarted
	MetricMFAActivated
	MetricMFADeactivated
	MetricRecoveryCodesRegenerated
	MetricPasswordRehashed
	MetricDeviceIDMismatch
	MetricDeviceUAMismatch
	MetricDeviceIPMismatch
	MetricDeviceRejected
	MetricAccountDisabled
	MetricAccountEnabled
	// MetricAuthenticateLatency is the only histogram-backed metric.
	MetricAuthenticateLatency
	metricIDCount
)

// latencyBounds are the inclusive upper bounds of the authenticate latency
// buckets. A final overflow bucket catches everything slower.
var latencyBounds = [...]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
}

const latencyBucketCount = len(latencyBounds) + 1

// slot pads each counter onto its own cache line so hot counters do not
// contend.
type slot struct {
	n atomic.Uint64
	_ [56]byte
}

// Metrics is a fixed set of lock-free counters. A nil or disabled Metrics
// ignores every call.
type Metrics struct {
	enabled bool
	latency bool
	slots   [metricIDCount]slot
	authLat [latencyBucketCount]atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of every counter. Histograms holds
// non-cumulative bucket counts.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled: cfg.Enabled,
		latency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool { return m != nil && m.enabled }

func (m *Metrics) LatencyEnabled() bool { return m != nil && m.latency }

func valid(id MetricID) bool { return id >= 0 && id < metricIDCount }

func (m *Metrics) Inc(id MetricID) {
	if m.Enabled() && valid(id) {
		m.slots[id].n.Add(1)
	}
}

// Observe records d for a histogram-backed metric.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if !m.LatencyEnabled() || id != MetricAuthenticateLatency {
		return
	}
	i, _ := slices.BinarySearch(latencyBounds[:], d)
	m.authLat[i].Add(1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || !valid(id) {
		return 0
	}
	return m.slots[id].n.Load()
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if !m.Enabled() {
		return s
	}
	for id := range metricIDCount {
		s.Counters[id] = m.slots[id].n.Load()
	}
	if m.latency {
		buckets := make([]uint64, latencyBucketCount)
		for i := range buckets {
			buckets[i] = m.authLat[i].Load()
		}
		s.Histograms[MetricAuthenticateLatency] = buckets
	}
	return s
}
