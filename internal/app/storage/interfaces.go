package storage

import (
	"context"
	"time"

	"github.com/campuslance/platform/internal/app/domain/bid"
	"github.com/campuslance/platform/internal/app/domain/payment"
	"github.com/campuslance/platform/internal/app/domain/task"
	"github.com/campuslance/platform/internal/app/domain/user"
)

// TaskFilter narrows task listings. Zero values mean "any".
type TaskFilter struct {
	Status    task.Status
	ClientID  string
	Location  string
	Domain    string
	Company   string
	SkillsAny []string
	Limit     int
	// NewestFirst orders by creation time descending when set.
	NewestFirst bool
}

// UserStore persists platform identities.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) (user.User, error)
	UpdateUser(ctx context.Context, u user.User) (user.User, error)
	GetUser(ctx context.Context, id string) (user.User, error)
}

// TaskStore persists tasks.
type TaskStore interface {
	CreateTask(ctx context.Context, t task.Task) (task.Task, error)
	UpdateTask(ctx context.Context, t task.Task) (task.Task, error)
	GetTask(ctx context.Context, id string) (task.Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]task.Task, error)

	// AssignTask moves a task from open to assigned and records the student,
	// as a single compare-and-swap. The bool result reports whether the swap
	// applied; false means the task was no longer open.
	AssignTask(ctx context.Context, id, studentID string) (task.Task, bool, error)
}

// BidStore persists bids.
type BidStore interface {
	CreateBid(ctx context.Context, b bid.Bid) (bid.Bid, error)
	UpdateBid(ctx context.Context, b bid.Bid) (bid.Bid, error)
	GetBid(ctx context.Context, id string) (bid.Bid, error)
	ListBidsByTask(ctx context.Context, taskID string) ([]bid.Bid, error)
	ListBidsByStudent(ctx context.Context, studentID string, status bid.Status) ([]bid.Bid, error)
	CountBidsByTasks(ctx context.Context, taskIDs []string) (map[string]int, error)
}

// PaymentStore persists escrow payments.
type PaymentStore interface {
	CreatePayment(ctx context.Context, p payment.Payment) (payment.Payment, error)
	UpdatePayment(ctx context.Context, p payment.Payment) (payment.Payment, error)
	GetPayment(ctx context.Context, id string) (payment.Payment, error)
	GetPaymentByOrderRef(ctx context.Context, orderRef string) (payment.Payment, error)
	// ListPaymentsByTask returns the task's payments, newest first.
	ListPaymentsByTask(ctx context.Context, taskID string) ([]payment.Payment, error)
	ListPaymentsByStatus(ctx context.Context, status payment.Status, updatedBefore time.Time) ([]payment.Payment, error)
	DeletePayment(ctx context.Context, id string) error

	// TransitionPaymentStatus swaps the payment status to the target only if
	// the current status is one of from. The bool result reports whether the
	// swap applied. This is the serialization point every release path relies
	// on, so implementations must make it atomic.
	TransitionPaymentStatus(ctx context.Context, id string, from []payment.Status, to payment.Status) (payment.Payment, bool, error)
}

// WalletStore mutates student wallet balances. Credits are keyed by an
// idempotency token so a replay never applies twice.
type WalletStore interface {
	// ApplyWalletCredit increments the student's balance unless a credit with
	// the same idempotency key was already applied. It returns the resulting
	// balance and whether this call applied the credit.
	ApplyWalletCredit(ctx context.Context, studentID string, amount float64, idempotencyKey string) (float64, bool, error)
	WalletBalance(ctx context.Context, studentID string) (float64, error)
}
