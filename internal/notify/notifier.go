// Package notify delivers breakout alerts to external channels
// (Telegram, generic webhooks) as they are first recorded.
package notify

import (
	"context"
	"fmt"
	"log"
)

// Alert is one first-occurrence breakout or strategy trigger.
type Alert struct {
	Symbol    string  `json:"symbol"`
	Kind      string  `json:"kind"`   // "breakout" or "strategy"
	Name      string  `json:"name"`   // window label or strategy name
	Status    string  `json:"status"` // e.g. "Bullish Breakout"
	Price     float64 `json:"price"`
	At        string  `json:"at"` // recorded timestamp, precise or coarse
	Sentiment string  `json:"sentiment,omitempty"`
}

func (a Alert) title() string {
	return fmt.Sprintf("%s %s [%s]", a.Symbol, a.Status, a.Name)
}

func (a Alert) body() string {
	return fmt.Sprintf("%s at %.2f (%s)", a.Kind, a.Price, a.At)
}

// Notifier is the interface for alert backends.
type Notifier interface {
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts. Used when no external channel is configured.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier { return &LogNotifier{} }

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] %s: %s", alert.title(), alert.body())
	return nil
}

// Broadcast sends an alert to every notifier, logging failures instead of
// aborting the cycle.
func Broadcast(ctx context.Context, notifiers []Notifier, alert Alert) {
	for _, n := range notifiers {
		if err := n.Send(ctx, alert); err != nil {
			log.Printf("[notify] send failed: %v", err)
		}
	}
}
