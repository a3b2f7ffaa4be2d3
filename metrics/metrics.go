package metrics

import (
	"time"

	"github.com/Layr-Labs/eigensdk-go/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AvaProtocol/aa-sdk-go/pkg/erc4337/client"
)

// MetricsGenerator is what the sdk reports while building and sending user
// operations. It satisfies client.Observer.
type MetricsGenerator interface {
	client.Observer

	// CodeLookup is hooked into account.AccountConfig.OnCodeLookup.
	CodeLookup(cached bool)
}

// AASdkMetrics holds the sdk counters. When created with eigen metrics the
// embedded metrics.Metrics serves them over http, otherwise it is nil and
// the caller exposes reg itself.
type AASdkMetrics struct {
	metrics.Metrics

	userOps       *prometheus.CounterVec
	receiptPolls  *prometheus.CounterVec
	buildDuration prometheus.Histogram
	codeLookups   *prometheus.CounterVec
}

const apNamespace = "ap"

var _ MetricsGenerator = (*AASdkMetrics)(nil)

func NewAASdkMetrics(eigenMetrics *metrics.EigenMetrics, reg prometheus.Registerer) *AASdkMetrics {
	m := &AASdkMetrics{
		userOps: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: apNamespace,
				Name:      "num_userops_total",
				Help:      "The number of user operations that reached each state",
			}, []string{"state"}),

		receiptPolls: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: apNamespace,
				Name:      "num_receipt_polls_total",
				Help:      "The number of eth_getUserOperationReceipt calls. A growing not_found count means the bundler is slow to include",
			}, []string{"status"}),

		buildDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: apNamespace,
				Name:      "userop_build_duration_seconds",
				Help:      "Time spent filling a user operation including estimation and paymaster calls",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
			}),

		codeLookups: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: apNamespace,
				Name:      "num_code_lookups_total",
				Help:      "The number of deployment state checks, split by whether the cache answered",
			}, []string{"source"}),
	}
	if eigenMetrics != nil {
		m.Metrics = eigenMetrics
	}
	return m
}

func (m *AASdkMetrics) StateChanged(s client.State) {
	m.userOps.WithLabelValues(s.String()).Inc()
}

func (m *AASdkMetrics) ReceiptPolled(found bool) {
	status := "not_found"
	if found {
		status = "found"
	}
	m.receiptPolls.WithLabelValues(status).Inc()
}

func (m *AASdkMetrics) BuildCompleted(d time.Duration) {
	m.buildDuration.Observe(d.Seconds())
}

func (m *AASdkMetrics) CodeLookup(cached bool) {
	source := "rpc"
	if cached {
		source = "cache"
	}
	m.codeLookups.WithLabelValues(source).Inc()
}
