package observability

import (
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

type httpMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	httpMetricsOnce sync.Once
	httpRegistry    *httpMetrics

	exchangeMetricsOnce sync.Once
	exchangeRegistry    *ExchangeMetrics

	oracleMetricsOnce sync.Once
	oracleRegistry    *OracleMetrics
)

// HTTP returns the lazily-initialised registry used to record API activity.
func HTTP() *httpMetrics {
	httpMetricsOnce.Do(func() {
		httpRegistry = &httpMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "exchange",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route, method, and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "exchange",
				Subsystem: "http",
				Name:      "errors_total",
				Help:      "Total API errors segmented by route and status code.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "exchange",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "exchange",
				Subsystem: "http",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected by the rate limiter.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			httpRegistry.requests,
			httpRegistry.errors,
			httpRegistry.latency,
			httpRegistry.throttles,
		)
	})
	return httpRegistry
}

// Observe records the outcome of an API request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *httpMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
		m.errors.WithLabelValues(route, fmt.Sprintf("%d", status)).Inc()
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit".
func (m *httpMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

// ExchangeMetrics tracks operations applied to the exchange.
type ExchangeMetrics struct {
	operations *prometheus.CounterVec
	failures   *prometheus.CounterVec
	volume     *prometheus.CounterVec
	price      prometheus.Gauge
	height     prometheus.Gauge
}

// Exchange returns the singleton exchange metrics registry.
func Exchange() *ExchangeMetrics {
	exchangeMetricsOnce.Do(func() {
		exchangeRegistry = &ExchangeMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "exchange",
				Subsystem: "pool",
				Name:      "operations_total",
				Help:      "Count of exchange operations segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "exchange",
				Subsystem: "pool",
				Name:      "failures_total",
				Help:      "Count of failed exchange operations segmented by method and reason.",
			}, []string{"method", "reason"}),
			volume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "exchange",
				Subsystem: "pool",
				Name:      "swap_volume",
				Help:      "Swapped volume in whole units segmented by leg.",
			}, []string{"leg"}),
			price: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "exchange",
				Subsystem: "pool",
				Name:      "last_price",
				Help:      "Last normalized price observed by a swap, in whole asset units per native unit.",
			}),
			height: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "exchange",
				Subsystem: "state",
				Name:      "height",
				Help:      "Number of committed state transitions.",
			}),
		}
		prometheus.MustRegister(
			exchangeRegistry.operations,
			exchangeRegistry.failures,
			exchangeRegistry.volume,
			exchangeRegistry.price,
			exchangeRegistry.height,
		)
	})
	return exchangeRegistry
}

// Observe records the outcome of an operation. Failure reasons should be the
// stable reason strings returned by the exchange.
func (m *ExchangeMetrics) Observe(method string, err error) {
	if m == nil {
		return
	}
	method = strings.TrimSpace(method)
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
		reason := strings.TrimSpace(err.Error())
		if idx := strings.IndexByte(reason, '('); idx > 0 {
			reason = reason[:idx]
		}
		if reason == "" {
			reason = "unknown"
		}
		m.failures.WithLabelValues(method, reason).Inc()
	}
	m.operations.WithLabelValues(method, outcome).Inc()
}

// RecordSwap adds a completed swap to the volume counters. Amounts are
// 18-decimal fixed point.
func (m *ExchangeMetrics) RecordSwap(amountIn, amountOut, price *uint256.Int) {
	if m == nil {
		return
	}
	m.volume.WithLabelValues("native").Add(Units(amountIn, 18))
	m.volume.WithLabelValues("asset").Add(Units(amountOut, 18))
	m.price.Set(Units(price, 18))
}

// SetHeight records the committed height.
func (m *ExchangeMetrics) SetHeight(height uint64) {
	if m == nil {
		return
	}
	m.height.Set(float64(height))
}

// OracleMetrics tracks the off-state price aggregation loop.
type OracleMetrics struct {
	samples   *prometheus.CounterVec
	failures  *prometheus.CounterVec
	published prometheus.Gauge
	age       prometheus.Gauge
}

// Oracle returns the singleton oracle metrics registry.
func Oracle() *OracleMetrics {
	oracleMetricsOnce.Do(func() {
		oracleRegistry = &OracleMetrics{
			samples: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "exchange",
				Subsystem: "oracle",
				Name:      "samples_total",
				Help:      "Count of price samples accepted per source.",
			}, []string{"source"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "exchange",
				Subsystem: "oracle",
				Name:      "source_failures_total",
				Help:      "Count of source failures segmented by source and reason.",
			}, []string{"source", "reason"}),
			published: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "exchange",
				Subsystem: "oracle",
				Name:      "published_price",
				Help:      "Last median price published to the on-state feed.",
			}),
			age: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "exchange",
				Subsystem: "oracle",
				Name:      "published_age_seconds",
				Help:      "Age of the newest sample in the last published median.",
			}),
		}
		prometheus.MustRegister(
			oracleRegistry.samples,
			oracleRegistry.failures,
			oracleRegistry.published,
			oracleRegistry.age,
		)
	})
	return oracleRegistry
}

// RecordSample counts an accepted sample.
func (m *OracleMetrics) RecordSample(source string) {
	if m == nil {
		return
	}
	m.samples.WithLabelValues(normalizeLabel(source)).Inc()
}

// RecordFailure counts a source failure. Reasons should be stable strings
// such as "fetch", "stale" or "invalid".
func (m *OracleMetrics) RecordFailure(source, reason string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(normalizeLabel(source), normalizeLabel(reason)).Inc()
}

// RecordPublish records a published median and the age of its newest sample.
func (m *OracleMetrics) RecordPublish(price *big.Rat, age time.Duration) {
	if m == nil || price == nil {
		return
	}
	value, _ := price.Float64()
	m.published.Set(value)
	m.age.Set(age.Seconds())
}

// Units converts a fixed point amount into a float of whole units. Precision
// loss is acceptable for metrics.
func Units(amount *uint256.Int, decimals uint8) float64 {
	if amount == nil {
		return 0
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	value, _ := new(big.Rat).SetFrac(amount.ToBig(), scale).Float64()
	return value
}

func normalizeLabel(value string) string {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
