package monitoring

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type stubQueue struct {
	depth int64
	err   error
}

func (q stubQueue) Len(ctx context.Context) (int64, error) {
	return q.depth, q.err
}

func TestMonitor_CollectQueueMetrics(t *testing.T) {
	m := NewMonitor(stubQueue{depth: 4})
	m.collectQueueMetrics(context.Background())
	assert.Equal(t, 4.0, testutil.ToFloat64(reissueQueueDepth))

	// A sampling failure keeps the last known value in place.
	m = NewMonitor(stubQueue{err: errors.New("connection refused")})
	m.collectQueueMetrics(context.Background())
	assert.Equal(t, 4.0, testutil.ToFloat64(reissueQueueDepth))
}
