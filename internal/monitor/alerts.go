package monitor

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"autotrader/internal/events"
)

// AlertSink interface for pluggable alert delivery.
type AlertSink interface {
	Send(message string) error
}

// LogSink writes alerts to the process log.
type LogSink struct{}

func (LogSink) Send(message string) error {
	log.Printf("🚨 ALERT %s", message)
	return nil
}

// Alerter turns alert-like bus events into human-readable messages.
type Alerter struct {
	Bus  *events.Bus
	Sink AlertSink
}

var alertTopics = []events.Event{
	events.EventRiskAlert,
	events.EventGateRejected,
	events.EventOrderFailed,
	events.EventPositionClosed,
	events.EventStrategySwitch,
}

// Start forwards events until ctx is done.
func (a *Alerter) Start(ctx context.Context) {
	if a.Bus == nil || a.Sink == nil {
		log.Println("alerter not fully configured; skipping")
		return
	}
	stream, unsub := a.Bus.SubscribeMany(100, alertTopics...)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				if err := a.Sink.Send(FormatAlert(msg)); err != nil {
					log.Printf("alerter: sink error: %v", err)
				}
			}
		}
	}()
}

// FormatAlert renders a bus payload as a single line.
func FormatAlert(msg any) string {
	return "[" + time.Now().Format(time.RFC3339) + "] " + describe(msg)
}

func describe(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case events.Alert:
		return fmt.Sprintf("%s: %s", t.Source, t.Message)
	case events.Rejection:
		return fmt.Sprintf("order rejected by %s gate: %s %d %s (%s)", t.Gate, t.Action, t.Quantity, t.Symbol, t.Reason)
	case events.Failure:
		return fmt.Sprintf("order abandoned after %d attempts: %s %d %s: %s", t.Attempts, t.Action, t.Quantity, t.Symbol, t.Error)
	case events.Closed:
		return fmt.Sprintf("closed %d %s @ %.4f (%s) pnl=%.2f daily=%.2f weekly=%.2f",
			t.Quantity, t.Symbol, t.ExitPrice, t.Reason, t.RealizedPnL, t.DailyPnL, t.WeeklyPnL)
	case SwitchRecord:
		return fmt.Sprintf("strategy switched %s -> %s on %s (%s) sharpe=%.2f dd=%.2f%% return=%.2f%% win=%.0f%%",
			t.From, t.To, t.Symbol, t.Reason, t.Performance.Sharpe, t.Performance.MaxDrawdownPct,
			t.Performance.TotalReturnPct, t.Performance.WinRate*100)
	case fmt.Stringer:
		return t.String()
	default:
		return strings.TrimSpace(fmt.Sprintf("alert triggered: %v", v))
	}
}
