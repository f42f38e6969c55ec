package reconciliation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrader/internal/events"
	"autotrader/internal/ledger"
	"autotrader/pkg/broker"
)

type stubAccount struct {
	acct broker.Account
	err  error
}

func (s stubAccount) Account(context.Context) (broker.Account, error) { return s.acct, s.err }

type countingLocker struct{ n int }

func (c *countingLocker) LockSymbol(string) func() {
	c.n++
	return func() {}
}

func TestReconcileReportsDiffs(t *testing.T) {
	l := ledger.New()
	l.Set("AAPL", 10)
	l.Set("TSLA", -2)
	src := stubAccount{acct: broker.Account{Positions: []broker.Holding{
		{Symbol: "AAPL", Quantity: 10},
		{Symbol: "MSFT", Quantity: 5, AvgPrice: 300},
	}}}
	bus := events.NewBus()
	alerts, unsub := bus.Subscribe(events.EventRiskAlert, 1)
	defer unsub()

	svc := NewService(src, l, nil, bus, time.Minute)
	report, err := svc.Reconcile(context.Background())
	require.NoError(t, err)
	require.True(t, report.HasDiffs)
	require.Len(t, report.PositionDiffs, 2)
	assert.Equal(t, PositionDiff{Symbol: "MSFT", LocalQty: 0, BrokerQty: 5}, report.PositionDiffs[0])
	assert.Equal(t, PositionDiff{Symbol: "TSLA", LocalQty: -2, BrokerQty: 0}, report.PositionDiffs[1])
	assert.Equal(t, int64(-2), l.Quantity("TSLA"))
	assert.Same(t, report, svc.LastReport())

	select {
	case <-alerts:
	case <-time.After(time.Second):
		t.Fatal("no mismatch alert")
	}
}

func TestReconcileAutoSync(t *testing.T) {
	l := ledger.New()
	l.Set("TSLA", -2)
	l.RecordEntry("TSLA", 200, time.Now())
	src := stubAccount{acct: broker.Account{Positions: []broker.Holding{{Symbol: "MSFT", Quantity: 5, AvgPrice: 300}}}}
	locker := &countingLocker{}

	svc := NewService(src, l, locker, events.NewBus(), time.Minute)
	svc.SetAutoSync(true)
	report, err := svc.Reconcile(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.SyncedCount)
	assert.Equal(t, 2, locker.n)
	assert.Equal(t, int64(5), l.Quantity("MSFT"))
	assert.Equal(t, 300.0, l.EntryPrice("MSFT"))
	assert.Zero(t, l.Quantity("TSLA"))
	assert.Nil(t, l.EntryTime("TSLA"))
}

func TestReconcileNoDiffsAndErrors(t *testing.T) {
	l := ledger.New()
	l.Set("AAPL", 1)
	svc := NewService(stubAccount{acct: broker.Account{Positions: []broker.Holding{{Symbol: "AAPL", Quantity: 1}}}}, l, nil, events.NewBus(), 0)
	report, err := svc.Reconcile(context.Background())
	require.NoError(t, err)
	assert.False(t, report.HasDiffs)

	svc = NewService(stubAccount{err: errors.New("bridge down")}, l, nil, events.NewBus(), 0)
	_, err = svc.Reconcile(context.Background())
	assert.Error(t, err)
}
