package payment

import "time"

// Status is the lifecycle state of an escrow payment.
type Status string

const (
	StatusCreated   Status = "created"
	StatusHeld      Status = "held"
	StatusReleased  Status = "released"
	StatusDeclined  Status = "declined"
	StatusFailed    Status = "failed"
	StatusContested Status = "contested"
)

// Valid reports whether s is one of the known payment statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusHeld, StatusReleased, StatusDeclined, StatusFailed, StatusContested:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible without an
// administrative reopen. declined is reopenable to contested by an admin.
func (s Status) Terminal() bool {
	return s == StatusReleased || s == StatusFailed
}

// Payment is the escrow record created when a bid is accepted. The fee split
// always satisfies PlatformFeeClient + PlatformFeeStudent + NetToStudent ==
// Amount within one minor unit of the currency.
type Payment struct {
	ID        string
	TaskID    string
	BidID     string
	ClientID  string
	StudentID string

	Amount   float64
	Currency string

	PlatformFeeClient  float64
	PlatformFeeStudent float64
	NetToStudent       float64

	Status Status

	GatewayOrderRef   string
	GatewayPaymentRef string

	DeclineReason string
	AdminNote     string

	CreatedAt time.Time
	UpdatedAt time.Time
}
