package conditional

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrader/internal/events"
)

type flattenCall struct {
	reason string
	symbol string
}

type recordingFlattener struct {
	mu    sync.Mutex
	calls []flattenCall
	err   error
}

func (r *recordingFlattener) Flatten(_ context.Context, reason, symbol string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, flattenCall{reason: reason, symbol: symbol})
	return r.err
}

func (r *recordingFlattener) Calls() []flattenCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]flattenCall(nil), r.calls...)
}

func TestOCOTakeProfitWinsAndRemovesOrder(t *testing.T) {
	f := &recordingFlattener{}
	e := NewEngine(f, events.NewBus())

	id, err := e.PlaceOCO("AAPL", Long, 110, 90)
	require.NoError(t, err)

	triggers := e.Evaluate(context.Background(), "AAPL", 111)
	require.Len(t, triggers, 1)
	assert.Equal(t, id, triggers[0].OrderID)
	assert.Equal(t, ReasonOCOTakeProfit, triggers[0].Reason)
	assert.Equal(t, []flattenCall{{ReasonOCOTakeProfit, "AAPL"}}, f.Calls())

	_, ok := e.Get(id)
	assert.False(t, ok)

	// a later crash through the stop must not fire the removed order again
	assert.Empty(t, e.Evaluate(context.Background(), "AAPL", 80))
	assert.Len(t, f.Calls(), 1)
}

func TestOCOTriggerSides(t *testing.T) {
	tests := []struct {
		name   string
		side   Side
		tp, sl float64
		price  float64
		reason string
	}{
		{"long stop", Long, 110, 90, 90, ReasonOCOStopLoss},
		{"long inside", Long, 110, 90, 100, ""},
		{"short take profit", Short, 90, 110, 89, ReasonOCOTakeProfit},
		{"short stop", Short, 90, 110, 110, ReasonOCOStopLoss},
		{"short inside", Short, 90, 110, 100, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(&recordingFlattener{}, nil)
			_, err := e.PlaceOCO("X", tt.side, tt.tp, tt.sl)
			require.NoError(t, err)
			triggers := e.Evaluate(context.Background(), "X", tt.price)
			if tt.reason == "" {
				assert.Empty(t, triggers)
				assert.Equal(t, 1, e.Len())
				return
			}
			require.Len(t, triggers, 1)
			assert.Equal(t, tt.reason, triggers[0].Reason)
		})
	}
}

func TestTrailingStopFollowsPeak(t *testing.T) {
	f := &recordingFlattener{}
	e := NewEngine(f, nil)

	id, err := e.PlaceTrailingStop("MSFT", Long, 0.05, 100)
	require.NoError(t, err)

	o, _ := e.Get(id)
	assert.InDelta(t, 95.0, o.(TrailingStop).Stop, 1e-9)

	assert.Empty(t, e.Evaluate(context.Background(), "MSFT", 110))
	o, _ = e.Get(id)
	ts := o.(TrailingStop)
	assert.InDelta(t, 110.0, ts.Peak, 1e-9)
	assert.InDelta(t, 104.5, ts.Stop, 1e-9)

	// pullback does not lower the peak
	assert.Empty(t, e.Evaluate(context.Background(), "MSFT", 106))
	o, _ = e.Get(id)
	assert.InDelta(t, 110.0, o.(TrailingStop).Peak, 1e-9)

	triggers := e.Evaluate(context.Background(), "MSFT", 104)
	require.Len(t, triggers, 1)
	assert.Equal(t, ReasonTrailingStop, triggers[0].Reason)
	assert.Equal(t, []flattenCall{{ReasonTrailingStop, "MSFT"}}, f.Calls())
}

func TestTrailingStopShortTracksMinimum(t *testing.T) {
	e := NewEngine(&recordingFlattener{}, nil)
	id, err := e.PlaceTrailingStop("TSLA", Short, 0.1, 200)
	require.NoError(t, err)

	assert.Empty(t, e.Evaluate(context.Background(), "TSLA", 180))
	o, _ := e.Get(id)
	assert.InDelta(t, 180.0, o.(TrailingStop).Peak, 1e-9)
	assert.InDelta(t, 198.0, o.(TrailingStop).Stop, 1e-9)

	assert.Empty(t, e.Evaluate(context.Background(), "TSLA", 190))
	require.Len(t, e.Evaluate(context.Background(), "TSLA", 199), 1)
}

func TestBracketTakeProfit(t *testing.T) {
	f := &recordingFlattener{}
	e := NewEngine(f, nil)

	_, err := e.PlaceBracket("NVDA", Long, 50, 55, 47)
	require.NoError(t, err)

	triggers := e.Evaluate(context.Background(), "NVDA", 56)
	require.Len(t, triggers, 1)
	assert.Equal(t, ReasonBracketTakeProfit, triggers[0].Reason)
	assert.Equal(t, KindBracket, triggers[0].Kind)
	assert.Equal(t, []flattenCall{{ReasonBracketTakeProfit, "NVDA"}}, f.Calls())
}

func TestPlaceValidation(t *testing.T) {
	e := NewEngine(nil, nil)

	_, err := e.PlaceOCO("", Long, 110, 90)
	assert.ErrorIs(t, err, ErrInvalidOrder)
	_, err = e.PlaceOCO("X", "FLAT", 110, 90)
	assert.ErrorIs(t, err, ErrUnknownSide)
	_, err = e.PlaceOCO("X", Long, 90, 110)
	assert.ErrorIs(t, err, ErrInvalidOrder)
	_, err = e.PlaceOCO("X", Long, 0, 90)
	assert.ErrorIs(t, err, ErrInvalidOrder)
	_, err = e.PlaceTrailingStop("X", Long, 1, 100)
	assert.ErrorIs(t, err, ErrInvalidOrder)
	_, err = e.PlaceTrailingStop("X", Long, 0, 100)
	assert.ErrorIs(t, err, ErrInvalidOrder)
	_, err = e.PlaceTrailingStop("X", Long, 0.05, -1)
	assert.ErrorIs(t, err, ErrInvalidOrder)
	_, err = e.PlaceBracket("X", Long, 60, 55, 47)
	assert.ErrorIs(t, err, ErrInvalidOrder)

	assert.Equal(t, 0, e.Len())
}

func TestCancelAllForSymbolCountsOnlyMatches(t *testing.T) {
	e := NewEngine(nil, nil)
	for i := 0; i < 3; i++ {
		_, err := e.PlaceOCO("AAPL", Long, 110, 90)
		require.NoError(t, err)
	}
	keep, err := e.PlaceTrailingStop("MSFT", Long, 0.05, 100)
	require.NoError(t, err)

	assert.Equal(t, 3, e.CancelAllForSymbol("AAPL"))
	assert.Equal(t, 0, e.CancelAllForSymbol("AAPL"))
	assert.Empty(t, e.Orders("AAPL"))
	require.Len(t, e.Orders(""), 1)
	assert.Equal(t, keep, e.Orders("")[0].Head().ID)

	assert.True(t, e.Cancel(keep))
	assert.False(t, e.Cancel(keep))
}

func TestEvaluateIgnoresBadInput(t *testing.T) {
	f := &recordingFlattener{}
	e := NewEngine(f, nil)
	_, err := e.PlaceOCO("AAPL", Long, 110, 90)
	require.NoError(t, err)

	assert.Empty(t, e.Evaluate(context.Background(), "", 200))
	assert.Empty(t, e.Evaluate(context.Background(), "AAPL", 0))
	assert.Empty(t, e.Evaluate(context.Background(), "AAPL", -5))
	assert.Empty(t, e.Evaluate(context.Background(), "MSFT", 200))
	assert.Equal(t, 1, e.Len())
	assert.Empty(t, f.Calls())
}

func TestConcurrentEvaluationFiresOnce(t *testing.T) {
	var flattens atomic.Int32
	f := flattenFunc(func() { flattens.Add(1) })
	e := NewEngine(f, nil)
	for i := 0; i < 20; i++ {
		_, err := e.PlaceOCO("AAPL", Long, 110, 90)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	var total atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			total.Add(int32(len(e.Evaluate(context.Background(), "AAPL", 120))))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(20), total.Load())
	assert.Equal(t, int32(20), flattens.Load())
	assert.Equal(t, 0, e.Len())
}

func TestFlattenFailureIsAlerted(t *testing.T) {
	bus := events.NewBus()
	alerts, unsub := bus.Subscribe(events.EventRiskAlert, 4)
	defer unsub()

	e := NewEngine(&recordingFlattener{err: errors.New("bridge down")}, bus)
	_, err := e.PlaceOCO("AAPL", Long, 110, 90)
	require.NoError(t, err)

	require.Len(t, e.Evaluate(context.Background(), "AAPL", 85), 1)
	msg := (<-alerts).(events.Alert)
	assert.Contains(t, msg.Message, "bridge down")
	assert.Equal(t, 0, e.Len())
}

type flattenFunc func()

func (f flattenFunc) Flatten(context.Context, string, string) error {
	f()
	return nil
}
