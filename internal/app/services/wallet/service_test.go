package wallet_test

import (
	"context"
	"testing"

	"github.com/campuslance/platform/internal/app/domain/user"
	"github.com/campuslance/platform/internal/app/services/wallet"
	"github.com/campuslance/platform/internal/app/storage/memory"
	apperrors "github.com/campuslance/platform/internal/errors"
)

func setup(t *testing.T) (context.Context, *wallet.Service, user.User) {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	student, err := store.CreateUser(ctx, user.User{Name: "Ravi", Email: "ravi@example.com", Role: user.RoleStudent})
	if err != nil {
		t.Fatalf("create student: %v", err)
	}
	return ctx, wallet.New(store, nil), student
}

func TestCreditAndBalance(t *testing.T) {
	ctx, svc, student := setup(t)

	balance, applied, err := svc.Credit(ctx, student.ID, 250.50, "pay-1")
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if !applied || balance != 250.50 {
		t.Fatalf("applied=%v balance=%.2f, want true/250.50", applied, balance)
	}

	balance, applied, err = svc.Credit(ctx, student.ID, 100, "pay-2")
	if err != nil {
		t.Fatalf("second credit: %v", err)
	}
	if !applied || balance != 350.50 {
		t.Fatalf("applied=%v balance=%.2f, want true/350.50", applied, balance)
	}
}

func TestCreditReplaySuppressed(t *testing.T) {
	ctx, svc, student := setup(t)

	if _, _, err := svc.Credit(ctx, student.ID, 990, "pay-1"); err != nil {
		t.Fatalf("credit: %v", err)
	}
	balance, applied, err := svc.Credit(ctx, student.ID, 990, "pay-1")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if applied {
		t.Fatal("replay applied a second credit")
	}
	if balance != 990 {
		t.Fatalf("balance = %.2f, want 990", balance)
	}
}

func TestCreditGuards(t *testing.T) {
	ctx, svc, student := setup(t)

	if _, _, err := svc.Credit(ctx, student.ID, -5, "pay-1"); !apperrors.IsInvalidAmount(err) {
		t.Fatalf("negative amount: got %v, want invalid amount", err)
	}
	if _, _, err := svc.Credit(ctx, student.ID, 10, ""); !apperrors.IsKind(err, apperrors.KindValidation) {
		t.Fatalf("missing key: got %v, want validation", err)
	}

	balance, applied, err := svc.Credit(ctx, student.ID, 0, "pay-zero")
	if err != nil {
		t.Fatalf("zero credit: %v", err)
	}
	if applied || balance != 0 {
		t.Fatalf("zero credit applied=%v balance=%.2f, want no-op", applied, balance)
	}

	if _, _, err := svc.Credit(ctx, "ghost", 10, "pay-2"); !apperrors.IsNotFound(err) {
		t.Fatalf("unknown student: got %v, want not found", err)
	}
}
