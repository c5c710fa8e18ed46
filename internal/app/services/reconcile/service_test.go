package reconcile_test

import (
	"context"
	"testing"
	"time"

	"github.com/campuslance/platform/internal/app/domain/bid"
	"github.com/campuslance/platform/internal/app/domain/payment"
	"github.com/campuslance/platform/internal/app/domain/task"
	"github.com/campuslance/platform/internal/app/domain/user"
	"github.com/campuslance/platform/internal/app/gateway"
	"github.com/campuslance/platform/internal/app/services/escrow"
	"github.com/campuslance/platform/internal/app/services/reconcile"
	"github.com/campuslance/platform/internal/app/services/wallet"
	"github.com/campuslance/platform/internal/app/storage/memory"
)

func TestSweepReleasesStaleHeldPayments(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	client, err := store.CreateUser(ctx, user.User{Name: "c", Email: "c@example.com", Role: user.RoleClient})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	student, err := store.CreateUser(ctx, user.User{Name: "s", Email: "s@example.com", Role: user.RoleStudent})
	if err != nil {
		t.Fatalf("create student: %v", err)
	}
	tk, err := store.CreateTask(ctx, task.Task{ClientID: client.ID, Title: "Logo", Budget: 1000, Status: task.StatusOpen})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	b, err := store.CreateBid(ctx, bid.Bid{TaskID: tk.ID, StudentID: student.ID, Quote: 900, Status: bid.StatusPending})
	if err != nil {
		t.Fatalf("create bid: %v", err)
	}

	gw := gateway.NewMock()
	walletSvc := wallet.New(store, nil)
	escrowSvc := escrow.New(store, store, store, store, walletSvc, gw, nil, nil)

	result, err := escrowSvc.AcceptBid(ctx, client.ID, b.ID)
	if err != nil {
		t.Fatalf("accept bid: %v", err)
	}

	// The mock gateway reports every known order as captured, standing in
	// for a webhook that never arrived.
	sweeper := reconcile.New(store, gw, escrowSvc, "", time.Nanosecond, nil)
	time.Sleep(2 * time.Millisecond)
	sweeper.Sweep(ctx)

	released, err := store.GetPayment(ctx, result.Payment.ID)
	if err != nil {
		t.Fatalf("reload payment: %v", err)
	}
	if released.Status != payment.StatusReleased {
		t.Fatalf("payment status = %s, want released", released.Status)
	}
	balance, err := walletSvc.Balance(ctx, student.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 990 {
		t.Fatalf("wallet = %.2f, want 990", balance)
	}

	// A second sweep finds nothing held and changes nothing.
	sweeper.Sweep(ctx)
	balance, _ = walletSvc.Balance(ctx, student.ID)
	if balance != 990 {
		t.Fatalf("wallet = %.2f after second sweep, want 990", balance)
	}
}
