// Package gateway abstracts the external payment gateway. The escrow
// coordinator only ever talks to the Adapter interface so deployments can
// swap the hosted gateway for the mock during development and tests.
package gateway

import (
	"context"
	"strings"
)

// Order is a funding order registered with the gateway. Ref is the gateway's
// identifier and is what webhook events carry back.
type Order struct {
	Ref      string
	Amount   float64
	Currency string
}

// EventKind classifies asynchronous gateway notifications.
type EventKind string

const (
	EventCaptured EventKind = "payment.captured"
	EventFailed   EventKind = "payment.failed"
)

// ParseEventKind maps a raw webhook event name onto an EventKind. Unknown
// names return an empty kind.
func ParseEventKind(raw string) EventKind {
	switch EventKind(strings.TrimSpace(raw)) {
	case EventCaptured:
		return EventCaptured
	case EventFailed:
		return EventFailed
	}
	return ""
}

// Event is a normalized gateway notification referencing an order.
type Event struct {
	Kind       EventKind
	OrderRef   string
	PaymentRef string
}

// Adapter registers funding orders with the payment gateway.
type Adapter interface {
	// CreateOrder registers an order for the given amount. Any failure must be
	// surfaced before the caller persists state that depends on the order.
	CreateOrder(ctx context.Context, amount float64, currency string) (Order, error)
}

// StatusChecker is implemented by adapters that can be polled for the current
// state of an order. The reconcile sweep uses it to recover missed webhooks.
type StatusChecker interface {
	// OrderStatus reports the latest event kind for an order, or an empty kind
	// when the gateway has nothing new to report.
	OrderStatus(ctx context.Context, orderRef string) (EventKind, string, error)
}
