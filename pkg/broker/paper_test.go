package broker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func errorIsRejected(err error) bool {
	return errors.Is(err, ErrRejected)
}

func TestPaperRoundTrip(t *testing.T) {
	p := NewPaper(10_000, 0)
	ctx := context.Background()

	_, err := p.PlaceOrder(ctx, OrderRequest{Symbol: "AAPL", Action: "BUY", Quantity: 10, Price: 100})
	require.NoError(t, err)
	_, err = p.PlaceOrder(ctx, OrderRequest{Symbol: "AAPL", Action: "BUY", Quantity: 10, Price: 110})
	require.NoError(t, err)

	acct, err := p.Account(ctx)
	require.NoError(t, err)
	h, ok := acct.Holding("AAPL")
	require.True(t, ok)
	assert.Equal(t, int64(20), h.Quantity)
	assert.InDelta(t, 105.0, h.AvgPrice, 1e-9)
	assert.InDelta(t, 7_900.0, acct.Cash, 1e-9)
	assert.InDelta(t, 10_100.0, acct.Equity, 1e-9)

	_, err = p.PlaceOrder(ctx, OrderRequest{Symbol: "AAPL", Action: "SELL", Quantity: 20, Price: 120, IsExit: true})
	require.NoError(t, err)
	acct, err = p.Account(ctx)
	require.NoError(t, err)
	assert.Empty(t, acct.Positions)
	assert.InDelta(t, 10_300.0, acct.Equity, 1e-9)
	assert.Equal(t, 3, p.Orders())
}

func TestPaperShortAndFlip(t *testing.T) {
	p := NewPaper(10_000, 0)
	ctx := context.Background()

	_, err := p.PlaceOrder(ctx, OrderRequest{Symbol: "TSLA", Action: "SELL", Quantity: 5, Price: 200})
	require.NoError(t, err)
	_, err = p.PlaceOrder(ctx, OrderRequest{Symbol: "TSLA", Action: "BUY", Quantity: 8, Price: 190})
	require.NoError(t, err)

	acct, err := p.Account(ctx)
	require.NoError(t, err)
	h, ok := acct.Holding("TSLA")
	require.True(t, ok)
	assert.Equal(t, int64(3), h.Quantity)
	assert.InDelta(t, 190.0, h.AvgPrice, 1e-9)
}

func TestPaperRejects(t *testing.T) {
	p := NewPaper(100, 0)
	ctx := context.Background()

	_, err := p.PlaceOrder(ctx, OrderRequest{Symbol: "AAPL", Action: "BUY", Quantity: 10, Price: 100})
	assert.ErrorIs(t, err, ErrInsufficient)
	_, err = p.PlaceOrder(ctx, OrderRequest{Symbol: "AAPL", Action: "HOLD", Quantity: 1, Price: 1})
	assert.ErrorIs(t, err, ErrRejected)
	_, err = p.PlaceOrder(ctx, OrderRequest{Symbol: "AAPL", Action: "BUY", Quantity: 0, Price: 1})
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, 0, p.Orders())
}

func TestPaperSlippage(t *testing.T) {
	p := NewPaper(10_000, 10)
	ack, err := p.PlaceOrder(context.Background(), OrderRequest{Symbol: "AAPL", Action: "BUY", Quantity: 1, Price: 100})
	require.NoError(t, err)
	assert.InDelta(t, 100.1, ack.FilledPrice, 1e-9)
}
