package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestObserve(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveOp("accept", "ok", time.Now())
	m.ObserveOp("accept", "ok", time.Now())
	m.ObserveEntry("fee", decimal.RequireFromString("-5.00"))
	m.ObserveNotification("user", errors.New("down"))
	m.ObservePublishFailure()
	m.ObserveArchive("transactions", 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Operations.WithLabelValues("accept", "ok")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.FundsMoved.WithLabelValues("fee")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("user", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsDropped))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ArchivedRows.WithLabelValues("transactions")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveOp("x", "ok", time.Now())
	m.ObserveEntry("deposit", decimal.NewFromInt(1))
	m.ObserveNotification("admin", nil)
	m.ObservePublishFailure()
	m.ObserveArchive("audit", 1)
}
