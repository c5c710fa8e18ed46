package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/campuslance/platform/internal/app/domain/payment"
	"github.com/campuslance/platform/internal/app/domain/task"
	"github.com/campuslance/platform/internal/app/domain/user"
	"github.com/campuslance/platform/internal/app/storage"
)

func TestGetUnknownIDsReturnNotFound(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.GetTask(ctx, "ghost"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("GetTask: %v", err)
	}
	if _, err := store.GetPaymentByOrderRef(ctx, "order_ghost"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("GetPaymentByOrderRef: %v", err)
	}
}

func TestAssignTaskOnlyOnce(t *testing.T) {
	store := New()
	ctx := context.Background()

	created, err := store.CreateTask(ctx, task.Task{ClientID: "c1", Title: "x", Budget: 10, Status: task.StatusOpen})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	wins := make(chan string, workers)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		student := string(rune('a' + i))
		go func() {
			defer wg.Done()
			if _, swapped, err := store.AssignTask(ctx, created.ID, student); err == nil && swapped {
				wins <- student
			}
		}()
	}
	wg.Wait()
	close(wins)

	if len(wins) != 1 {
		t.Fatalf("winners = %d, want exactly 1", len(wins))
	}
}

func TestTransitionPaymentStatusCAS(t *testing.T) {
	store := New()
	ctx := context.Background()

	p, err := store.CreatePayment(ctx, payment.Payment{
		TaskID: "t1", BidID: "b1", StudentID: "s1", Amount: 100, Status: payment.StatusHeld,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, swapped, err := store.TransitionPaymentStatus(ctx, p.ID,
		[]payment.Status{payment.StatusHeld}, payment.StatusReleased)
	if err != nil || !swapped || got.Status != payment.StatusReleased {
		t.Fatalf("first swap: %v/%v/%s", err, swapped, got.Status)
	}

	got, swapped, err = store.TransitionPaymentStatus(ctx, p.ID,
		[]payment.Status{payment.StatusHeld}, payment.StatusDeclined)
	if err != nil {
		t.Fatalf("second swap: %v", err)
	}
	if swapped || got.Status != payment.StatusReleased {
		t.Fatalf("second swap applied: %v/%s", swapped, got.Status)
	}
}

func TestApplyWalletCreditIdempotent(t *testing.T) {
	store := New()
	ctx := context.Background()

	student, err := store.CreateUser(ctx, user.User{Name: "s", Email: "s@example.com", Role: user.RoleStudent})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	const workers = 10
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, _, _ = store.ApplyWalletCredit(ctx, student.ID, 990, "pay-1")
		}()
	}
	wg.Wait()

	balance, err := store.WalletBalance(ctx, student.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 990 {
		t.Fatalf("balance = %.2f, want 990 after %d racing credits", balance, workers)
	}
}

func TestUpdateUserPreservesWallet(t *testing.T) {
	store := New()
	ctx := context.Background()

	student, err := store.CreateUser(ctx, user.User{Name: "s", Email: "s@example.com", Role: user.RoleStudent})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, _, err := store.ApplyWalletCredit(ctx, student.ID, 500, "pay-1"); err != nil {
		t.Fatalf("credit: %v", err)
	}

	student.Name = "renamed"
	student.Wallet = 0 // stale value from before the credit
	updated, err := store.UpdateUser(ctx, student)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Wallet != 500 {
		t.Fatalf("wallet = %.2f, want preserved 500", updated.Wallet)
	}
}
