package authcore

import (
	"testing"
	"time"
)

// loginPathMetricIDs are the counters a busy login and refresh path touches.
var loginPathMetricIDs = [...]MetricID{
	MetricLoginSuccess,
	MetricLoginFailure,
	MetricSessionCreated,
	MetricRefreshSuccess,
	MetricRefreshFailure,
	MetricAuthorizeAllowed,
	MetricAuthorizeDenied,
	MetricLogout,
}

func BenchmarkMetricsInc(b *testing.B) {
	for _, enabled := range []bool{true, false} {
		name := "enabled"
		if !enabled {
			name = "disabled"
		}
		b.Run(name, func(b *testing.B) {
			m := NewMetrics(MetricsConfig{Enabled: enabled})
			b.ReportAllocs()
			b.RunParallel(func(pb *testing.PB) {
				for pb.Next() {
					m.Inc(MetricLoginSuccess)
				}
			})
		})
	}
}

func BenchmarkMetricsIncLoginPath(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			m.Inc(loginPathMetricIDs[i%len(loginPathMetricIDs)])
			i++
		}
	})
}

func BenchmarkMetricsObserveLatency(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	d := 12 * time.Millisecond
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			m.Observe(MetricValidateLatency, d)
		}
	})
}
