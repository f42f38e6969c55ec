package strategy

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"autotrader/pkg/broker"
)

func feed(s Strategy, prices ...float64) []Signal {
	out := make([]Signal, 0, len(prices))
	for _, p := range prices {
		out = append(out, s.Evaluate(nil, Tick{Symbol: "AAPL", Price: p}))
	}
	return out
}

func TestMACrossGoldenAndDeathCross(t *testing.T) {
	s, err := NewMACrossStrategy("ma", 2, 3)
	require.NoError(t, err)

	sigs := feed(s, 10, 10, 10, 11, 12, 8, 6)
	var dirs []Direction
	for _, sig := range sigs {
		if sig.Direction != Neutral {
			dirs = append(dirs, sig.Direction)
			assert.Greater(t, sig.Confidence, 0.0)
			assert.LessOrEqual(t, sig.Confidence, 1.0)
		}
	}
	assert.Equal(t, []Direction{Long, Short}, dirs)

	s.Reset()
	assert.Equal(t, Neutral, s.Evaluate(nil, Tick{Price: 5}).Direction)

	_, err = NewMACrossStrategy("bad", 5, 5)
	assert.Error(t, err)
}

func TestRSIStrategy(t *testing.T) {
	s, err := NewRSIStrategy("rsi", 3, 30, 70)
	require.NoError(t, err)

	sigs := feed(s, 10, 9, 8, 7)
	assert.Equal(t, Long, sigs[3].Direction)
	assert.Equal(t, Neutral, feed(s, 6)[0].Direction)

	sigs = feed(s, 7, 8, 9)
	assert.Equal(t, Short, sigs[len(sigs)-1].Direction)

	_, err = NewRSIStrategy("bad", 14, 70, 30)
	assert.Error(t, err)
}

type stubSignals struct {
	sig broker.Signal
	err error
}

func (s stubSignals) Signal(context.Context, string) (broker.Signal, error) { return s.sig, s.err }

func TestBridgeStrategy(t *testing.T) {
	b := NewBridgeStrategy("bridge", stubSignals{sig: broker.Signal{Direction: "long", Confidence: 0.9, Reason: "model"}}, time.Second)
	sig := b.Evaluate(nil, Tick{Symbol: "AAPL", Price: 1})
	assert.Equal(t, Long, sig.Direction)
	assert.Equal(t, 0.9, sig.Confidence)

	down := NewBridgeStrategy("bridge", stubSignals{err: errors.New("503")}, time.Second)
	assert.Equal(t, Neutral, down.Evaluate(nil, Tick{Symbol: "AAPL", Price: 1}).Direction)
}

type signalWorker struct{}

func startWorker(t *testing.T, reply func(*structpb.Struct) *structpb.Struct) *RemoteClient {
	t.Helper()
	lis := bufconn.Listen(1 << 16)
	srv := grpc.NewServer()
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: "autotrader.strategy.v1.SignalService",
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: "Evaluate",
			Handler: func(_ any, _ context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
				in := &structpb.Struct{}
				if err := dec(in); err != nil {
					return nil, err
				}
				return reply(in), nil
			},
		}},
	}, signalWorker{})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	client, err := DialRemote("passthrough:///bufnet", "", time.Second,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRemoteStrategyRoundTrip(t *testing.T) {
	var got map[string]any
	client := startWorker(t, func(in *structpb.Struct) *structpb.Struct {
		got = in.AsMap()
		out, _ := structpb.NewStruct(map[string]any{
			"direction": "short", "confidence": 1.7, "reason": "remote model", "exit": false,
		})
		return out
	})

	p := NewPortfolio(5000, LongShort, 1)
	p.SetPosition("AAPL", Holding{Quantity: 3, EntryPrice: 10})
	sig := NewRemoteStrategy("remote", client).Evaluate(p, Tick{Symbol: "AAPL", Price: 12.5, Time: time.Now()})

	assert.Equal(t, Short, sig.Direction)
	assert.Equal(t, 1.0, sig.Confidence)
	assert.Equal(t, "remote model", sig.Reason)
	assert.Equal(t, "AAPL", got["symbol"])
	assert.Equal(t, 12.5, got["price"])
	assert.Equal(t, 3.0, got["position"])
	assert.Equal(t, "remote", got["strategy"])
}

func TestRemoteStrategyHoldsOnUnknownDirection(t *testing.T) {
	client := startWorker(t, func(*structpb.Struct) *structpb.Struct {
		out, _ := structpb.NewStruct(map[string]any{"direction": "sideways"})
		return out
	})
	sig := NewRemoteStrategy("remote", client).Evaluate(nil, Tick{Symbol: "AAPL", Price: 1})
	assert.Equal(t, Neutral, sig.Direction)
}

func TestLoadConfigAndBuildFactories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
live_symbol: aapl
live_strategy: fast
trading_quantity: 10
max_shadow_stocks: 3
shadow_symbols: [msft]
strategies:
  - name: fast
    type: ma_cross
    parameters: {fast: 3, slow: 8}
  - name: meanrev
    type: rsi
    parameters: {period: 10, oversold: 25, overbought: 75}
  - name: bridge
    type: bridge
  - name: off
    type: ma_cross
    disabled: true
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", cfg.LiveSymbol)
	assert.Equal(t, LongOnly, cfg.TradingMode)
	assert.Equal(t, []string{"MSFT"}, cfg.ShadowSymbols)

	names, factories, err := BuildFactories(cfg.Strategies, FactoryDeps{Signals: stubSignals{}})
	require.NoError(t, err)
	assert.Equal(t, []string{"fast", "meanrev", "bridge"}, names)

	s, err := factories["fast"]("AAPL")
	require.NoError(t, err)
	assert.Equal(t, "fast", s.Name())
	assert.IsType(t, &MACrossStrategy{}, s)

	_, _, err = BuildFactories([]Config{{Name: "x", Type: "lstm"}}, FactoryDeps{})
	assert.ErrorIs(t, err, ErrUnknownType)

	_, _, err = BuildFactories([]Config{{Name: "b", Type: "bridge"}}, FactoryDeps{})
	assert.Error(t, err)

	_, _, err = BuildFactories([]Config{{Name: "g", Type: "grpc"}}, FactoryDeps{})
	assert.Error(t, err)
}

func TestLoadConfigRejectsUnknownMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	require.NoError(t, os.WriteFile(path, []byte("trading_mode: YOLO\n"), 0o644))
	_, err := LoadConfig(path)
	assert.Error(t, err)
}
