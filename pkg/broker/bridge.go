package broker

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// BridgeConfig configures the HTTP broker bridge client.
type BridgeConfig struct {
	BaseURL        string
	Token          string
	Timeout        time.Duration
	RequestsPerSec float64
	Burst          int
}

// Bridge is the HTTP client for the broker-bridge service.
type Bridge struct {
	client  *resty.Client
	limiter *rate.Limiter
}

// NewBridge creates a bridge client.
func NewBridge(cfg BridgeConfig) *Bridge {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}

	client := resty.New()
	client.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/"))
	client.SetTimeout(cfg.Timeout)
	client.SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}

	return &Bridge{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.Burst),
	}
}

func (b *Bridge) request(ctx context.Context) (*resty.Request, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("bridge rate limit: %w", err)
	}
	return b.client.R().SetContext(ctx), nil
}

// Account fetches GET /account.
func (b *Bridge) Account(ctx context.Context) (Account, error) {
	req, err := b.request(ctx)
	if err != nil {
		return Account{}, err
	}
	var acct Account
	resp, err := req.SetResult(&acct).Get("/account")
	if err != nil {
		return Account{}, fmt.Errorf("get account: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return Account{}, fmt.Errorf("get account: status %d: %s", resp.StatusCode(), resp.String())
	}
	return acct, nil
}

// Signal fetches GET /signal for a symbol.
func (b *Bridge) Signal(ctx context.Context, symbol string) (Signal, error) {
	req, err := b.request(ctx)
	if err != nil {
		return Signal{}, err
	}
	var sig Signal
	resp, err := req.SetQueryParam("symbol", symbol).SetResult(&sig).Get("/signal")
	if err != nil {
		return Signal{}, fmt.Errorf("get signal: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return Signal{}, fmt.Errorf("get signal: status %d: %s", resp.StatusCode(), resp.String())
	}
	if sig.Symbol == "" {
		sig.Symbol = symbol
	}
	return sig, nil
}

// PlaceOrder submits POST /order.
func (b *Bridge) PlaceOrder(ctx context.Context, o OrderRequest) (OrderAck, error) {
	req, err := b.request(ctx)
	if err != nil {
		return OrderAck{}, err
	}
	var ack OrderAck
	resp, err := req.SetBody(o).SetResult(&ack).Post("/order")
	if err != nil {
		return OrderAck{}, fmt.Errorf("post order: %w", err)
	}
	switch {
	case resp.StatusCode() == http.StatusUnprocessableEntity:
		return OrderAck{}, fmt.Errorf("%w: %s", ErrRejected, resp.String())
	case resp.StatusCode() < 200 || resp.StatusCode() >= 300:
		return OrderAck{}, fmt.Errorf("post order: status %d: %s", resp.StatusCode(), resp.String())
	}
	if strings.EqualFold(ack.Status, "rejected") {
		return ack, fmt.Errorf("%w: %s", ErrRejected, ack.Message)
	}
	log.Printf("bridge: %s %d %s @ %.4f -> %s (%s)", o.Action, o.Quantity, o.Symbol, o.Price, ack.OrderID, ack.Status)
	return ack, nil
}
