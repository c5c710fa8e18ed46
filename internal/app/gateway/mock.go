package gateway

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MockAdapter fabricates order refs locally. It is the default adapter when
// no gateway endpoint is configured and the one tests use.
type MockAdapter struct {
	mu     sync.Mutex
	orders map[string]Order

	// Fail makes every CreateOrder call return Err.
	Fail bool
	Err  error
}

var _ Adapter = (*MockAdapter)(nil)
var _ StatusChecker = (*MockAdapter)(nil)

func NewMock() *MockAdapter {
	return &MockAdapter{orders: make(map[string]Order)}
}

func (m *MockAdapter) CreateOrder(ctx context.Context, amount float64, currency string) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Fail {
		return Order{}, m.Err
	}

	order := Order{Ref: "order_" + uuid.NewString(), Amount: amount, Currency: currency}
	m.orders[order.Ref] = order
	return order, nil
}

// OrderStatus reports captured for every known order. The mock gateway never
// fails a funding order.
func (m *MockAdapter) OrderStatus(ctx context.Context, orderRef string) (EventKind, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[orderRef]; !ok {
		return "", "", nil
	}
	return EventCaptured, "pay_" + orderRef, nil
}

// Orders returns the refs created so far, for assertions in tests.
func (m *MockAdapter) Orders() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	refs := make([]string, 0, len(m.orders))
	for ref := range m.orders {
		refs = append(refs, ref)
	}
	return refs
}
