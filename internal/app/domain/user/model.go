package user

import "time"

// Role scopes what a platform identity may do.
type Role string

const (
	RoleClient  Role = "client"
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

// FeedbackScore aggregates client feedback for one task domain.
type FeedbackScore struct {
	Domain     string
	TotalScore int
	Count      int
}

// User is a platform identity. Students carry a wallet balance that is only
// ever mutated through the wallet ledger, plus cumulative feedback aggregates.
type User struct {
	ID    string
	Name  string
	Email string
	Role  Role

	Wallet float64

	Company  string
	Location string
	Domain   string
	Skills   []string

	TasksCompleted  int
	TotalScore      int
	TotalScoreCount int
	FeedbackScores  []FeedbackScore

	NotifyToken string

	CreatedAt time.Time
	UpdatedAt time.Time
}
