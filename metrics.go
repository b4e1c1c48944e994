package stepauth

import "sync/atomic"

// MetricID indexes one engine counter.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginMFARequired
	MetricMFALoginSuccess
	MetricMFALoginFailure
	MetricRateLimitHit
	MetricVerificationStarted
	MetricVerificationResent
	MetricVerificationSuccess
	MetricVerificationFailure
	MetricVerificationAttemptsExceeded
	MetricTOTPEnrollmentStarted
	MetricTOTPEnrollmentConfirmed
	MetricAccessGrantMedium
	MetricAccessRedundantRequest
	MetricAbuseRevocation
	MetricSessionCreated
	MetricSessionRevoked
	MetricSessionRevokedAll
	MetricCSRFRejected
	MetricPKCERejected
	metricIDCount
)

const cacheLineSize = 64

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is the in-process counter set. All methods are safe on a nil
// receiver so disabled metrics cost a branch.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]paddedCounter
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}

	s := MetricsSnapshot{
		Counters: make(map[MetricID]uint64, int(metricIDCount)),
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return s
}
