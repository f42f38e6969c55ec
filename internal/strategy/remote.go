package strategy

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// DefaultRemoteMethod is the unary method a signal worker serves. Request
// and response are google.protobuf.Struct so the worker needs no generated
// stubs on our side.
const DefaultRemoteMethod = "/autotrader.strategy.v1.SignalService/Evaluate"

// RemoteClient is a shared connection to an out-of-process signal worker.
type RemoteClient struct {
	conn    *grpc.ClientConn
	method  string
	timeout time.Duration
}

// DialRemote connects lazily to addr.
func DialRemote(addr, method string, timeout time.Duration, opts ...grpc.DialOption) (*RemoteClient, error) {
	if method == "" {
		method = DefaultRemoteMethod
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial signal worker %s: %w", addr, err)
	}
	return &RemoteClient{conn: conn, method: method, timeout: timeout}, nil
}

func (c *RemoteClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Evaluate sends one tick and the lane's position to the worker.
func (c *RemoteClient) Evaluate(ctx context.Context, strategy string, p *Portfolio, t Tick) (Signal, error) {
	var qty int64
	equity := 0.0
	if p != nil {
		qty = p.Position(t.Symbol).Quantity
		equity = p.Equity
	}
	req, err := structpb.NewStruct(map[string]any{
		"strategy":  strategy,
		"symbol":    t.Symbol,
		"price":     t.Price,
		"timestamp": float64(t.Time.UnixMilli()),
		"position":  float64(qty),
		"equity":    equity,
	})
	if err != nil {
		return Signal{}, fmt.Errorf("encode tick: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, c.method, req, resp); err != nil {
		return Signal{}, fmt.Errorf("signal worker: %w", err)
	}
	return decodeSignal(resp), nil
}

func decodeSignal(s *structpb.Struct) Signal {
	f := s.GetFields()
	dir := Direction(strings.ToUpper(f["direction"].GetStringValue()))
	switch dir {
	case Long, Short:
	default:
		dir = Neutral
	}
	conf := f["confidence"].GetNumberValue()
	if conf < 0 {
		conf = 0
	} else if conf > 1 {
		conf = 1
	}
	return Signal{
		Direction:  dir,
		Confidence: conf,
		Reason:     f["reason"].GetStringValue(),
		Exit:       f["exit"].GetBoolValue(),
	}
}

// RemoteStrategy delegates every tick to a signal worker. State lives in
// the worker.
type RemoteStrategy struct {
	name   string
	client *RemoteClient
}

func NewRemoteStrategy(name string, client *RemoteClient) *RemoteStrategy {
	return &RemoteStrategy{name: name, client: client}
}

func (r *RemoteStrategy) Name() string { return r.name }

func (r *RemoteStrategy) Reset() {}

func (r *RemoteStrategy) Evaluate(p *Portfolio, t Tick) Signal {
	if r.client == nil {
		return Hold("no worker")
	}
	sig, err := r.client.Evaluate(context.Background(), r.name, p, t)
	if err != nil {
		log.Printf("strategy: remote %s call failed: %v", r.name, err)
		return Hold("worker unavailable")
	}
	return sig
}
