package monitoring

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ticketOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_operations_total",
			Help: "Total lifecycle engine operations by outcome",
		},
		[]string{"operation", "status"},
	)

	transactionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ticket_transaction_duration_seconds",
			Help:    "Duration of lifecycle transactions",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"operation"},
	)

	reissueQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "document_reissue_pending_total",
			Help: "Pending document reissue jobs",
		},
	)
)

// TrackOperation counts one engine operation outcome.
func TrackOperation(operation, status string) {
	ticketOperations.WithLabelValues(operation, status).Inc()
}

// TrackTransactionDuration observes one lifecycle transaction.
func TrackTransactionDuration(operation string, duration time.Duration) {
	transactionDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// QueueDepther reports the pending size of a work queue. Satisfied by the
// document reissue queue.
type QueueDepther interface {
	Len(ctx context.Context) (int64, error)
}

type Monitor struct {
	reissueQueue QueueDepther
}

func NewMonitor(reissueQueue QueueDepther) *Monitor {
	return &Monitor{reissueQueue: reissueQueue}
}

// Run samples queue depths until ctx is done. Start as a goroutine.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.collectQueueMetrics(ctx)
		}
	}
}

func (m *Monitor) collectQueueMetrics(ctx context.Context) {
	depth, err := m.reissueQueue.Len(ctx)
	if err != nil {
		return
	}
	reissueQueueDepth.Set(float64(depth))
}
