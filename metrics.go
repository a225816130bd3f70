package authcore

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one counter or histogram slot.
type MetricID uint16

const (
	// MetricLoginSuccess counts logins that issued a session.
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure counts logins rejected for any reason other than throttling.
	MetricLoginFailure
	// MetricLoginRateLimited counts logins rejected by the throttle.
	MetricLoginRateLimited
	// MetricAccountLocked counts lockouts triggered by failed logins.
	MetricAccountLocked
	// MetricRefreshSuccess counts successful token rotations.
	MetricRefreshSuccess
	// MetricRefreshFailure counts rejected refresh attempts.
	MetricRefreshFailure
	// MetricRefreshRateLimited counts refreshes rejected by the throttle.
	MetricRefreshRateLimited
	// MetricRefreshReuseDetected counts refresh tokens presented after they were rotated.
	MetricRefreshReuseDetected
	// MetricRefreshCeilingExceeded counts sessions invalidated by the refresh ceiling.
	MetricRefreshCeilingExceeded
	// MetricSessionCreated counts sessions created.
	MetricSessionCreated
	// MetricSessionInvalidated counts sessions invalidated by logout, revocation,
	// account changes or refresh-token reuse and ceiling.
	MetricSessionInvalidated
	// MetricSessionSwept counts expired sessions removed by the sweeper.
	MetricSessionSwept
	// MetricSuspiciousActivity counts session activity from an unexpected IP.
	MetricSuspiciousActivity
	// MetricLogout counts logout calls that invalidated a session.
	MetricLogout
	// MetricAuthorizeAllowed counts authorization checks that passed.
	MetricAuthorizeAllowed
	// MetricAuthorizeDenied counts authorization checks that were denied.
	MetricAuthorizeDenied
	// MetricPasswordChangeSuccess counts completed password changes.
	MetricPasswordChangeSuccess
	// MetricPasswordChangeInvalidOld counts password changes rejected for a wrong current password.
	MetricPasswordChangeInvalidOld
	// MetricPasswordChangeReuseRejected counts password changes rejected for reusing the current password.
	MetricPasswordChangeReuseRejected
	// MetricPasswordRehashed counts stored hashes upgraded on login.
	MetricPasswordRehashed
	// MetricAccountUnlocked counts administrative unlocks.
	MetricAccountUnlocked
	// MetricAccountStatusChanged counts administrative status changes.
	MetricAccountStatusChanged
	// MetricRoleAssigned counts role assignments.
	MetricRoleAssigned
	// MetricIdentityCreated counts identities created through the engine.
	MetricIdentityCreated
	// MetricValidateLatency is the latency histogram of Authenticate.
	MetricValidateLatency
	metricIDCount
)

const cacheLineSize = 64

// latencyBounds are the inclusive upper bounds of the Authenticate latency
// buckets. Anything slower lands in the final overflow bucket.
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

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds cache-line padded atomic counters and the Authenticate latency
// histogram. All methods are safe on a nil receiver.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	latency       [latencyBucketCount]paddedCounter
}

// MetricsSnapshot is a point-in-time copy of every counter and histogram.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics creates a [Metrics]. When cfg.Enabled is false every operation is a no-op.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to a counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Add adds n to a counter.
func (m *Metrics) Add(id MetricID, n uint64) {
	if m == nil || !m.enabled || id >= metricIDCount || n == 0 {
		return
	}
	atomic.AddUint64(&m.counters[id].value, n)
}

// Observe records d in the latency histogram. Only MetricValidateLatency has one.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || id != MetricValidateLatency {
		return
	}
	atomic.AddUint64(&m.latency[latencyBucket(d)].value, 1)
}

// Value reads a single counter.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies the current values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, latencyBucketCount)
		for i := range m.latency {
			buckets[i] = atomic.LoadUint64(&m.latency[i].value)
		}
		s.Histograms[MetricValidateLatency] = buckets
	}

	return s
}

// latencyBucket truncates d to whole milliseconds before comparing, so 5.9ms
// still counts as 5ms.
func latencyBucket(d time.Duration) int {
	d = d.Truncate(time.Millisecond)
	for i, bound := range latencyBounds {
		if d <= bound {
			return i
		}
	}
	return len(latencyBounds)
}
