package bid

import "time"

// Status is the lifecycle state of a bid.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Bid is a student's offer on an open task. At most one bid per task ever
// reaches accepted; the escrow coordinator enforces that through the task
// status gate.
type Bid struct {
	ID        string
	TaskID    string
	StudentID string

	Quote    float64
	Timeline string
	Message  string

	Status Status

	CreatedAt time.Time
	UpdatedAt time.Time
}
