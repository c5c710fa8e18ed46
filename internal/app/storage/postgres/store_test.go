package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/campuslance/platform/internal/app/domain/payment"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func paymentRow(id string, status payment.Status) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"id", "task_id", "bid_id", "client_id", "student_id", "amount", "currency",
		"platform_fee_client", "platform_fee_student", "net_to_student", "status",
		"gateway_order_ref", "gateway_payment_ref", "decline_reason", "admin_note",
		"created_at", "updated_at",
	}).AddRow(id, "task-1", "bid-1", "client-1", "student-1", 1000.0, "INR",
		5.0, 5.0, 990.0, string(status), "order_abc", "", "", "", now, now)
}

func TestTransitionPaymentStatusApplies(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectExec("UPDATE cl_payments").
		WithArgs("pay-1", string(payment.StatusReleased), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM cl_payments WHERE id").
		WithArgs("pay-1").
		WillReturnRows(paymentRow("pay-1", payment.StatusReleased))

	p, swapped, err := store.TransitionPaymentStatus(context.Background(), "pay-1",
		[]payment.Status{payment.StatusHeld, payment.StatusContested}, payment.StatusReleased)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if !swapped {
		t.Fatal("swap did not apply")
	}
	if p.Status != payment.StatusReleased {
		t.Fatalf("status = %s", p.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestTransitionPaymentStatusLosesRace(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectExec("UPDATE cl_payments").
		WithArgs("pay-1", string(payment.StatusReleased), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM cl_payments WHERE id").
		WithArgs("pay-1").
		WillReturnRows(paymentRow("pay-1", payment.StatusReleased))

	p, swapped, err := store.TransitionPaymentStatus(context.Background(), "pay-1",
		[]payment.Status{payment.StatusHeld}, payment.StatusReleased)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if swapped {
		t.Fatal("swap reported applied on zero rows")
	}
	if p.Status != payment.StatusReleased {
		t.Fatalf("status = %s", p.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestApplyWalletCredit(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO cl_wallet_credits").
		WithArgs("pay-1", "student-1", 990.0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("UPDATE cl_users SET wallet = wallet \\+").
		WithArgs("student-1", 990.0, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"wallet"}).AddRow(990.0))
	mock.ExpectCommit()

	balance, applied, err := store.ApplyWalletCredit(context.Background(), "student-1", 990, "pay-1")
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if !applied || balance != 990 {
		t.Fatalf("applied=%v balance=%.2f", applied, balance)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestApplyWalletCreditDuplicate(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO cl_wallet_credits").
		WithArgs("pay-1", "student-1", 990.0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT wallet FROM cl_users").
		WithArgs("student-1").
		WillReturnRows(sqlmock.NewRows([]string{"wallet"}).AddRow(990.0))
	mock.ExpectCommit()

	balance, applied, err := store.ApplyWalletCredit(context.Background(), "student-1", 990, "pay-1")
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if applied {
		t.Fatal("duplicate key applied a second credit")
	}
	if balance != 990 {
		t.Fatalf("balance = %.2f", balance)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestAssignTaskCAS(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()

	taskRows := sqlmock.NewRows([]string{
		"id", "client_id", "title", "description", "budget", "deadline", "location",
		"domain", "company", "required_skills", "status", "assigned_student",
		"submission", "rating", "feedback", "score", "created_at", "updated_at",
	}).AddRow("task-1", "client-1", "Logo", "", 300.0, "", "", "", "",
		[]byte("[]"), "assigned", "student-1", nil, 0, "", 0, now, now)

	mock.ExpectExec("UPDATE cl_tasks").
		WithArgs("task-1", "assigned", "student-1", sqlmock.AnyArg(), "open").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM cl_tasks WHERE id").
		WithArgs("task-1").
		WillReturnRows(taskRows)

	assigned, swapped, err := store.AssignTask(context.Background(), "task-1", "student-1")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if !swapped || assigned.AssignedStudent != "student-1" {
		t.Fatalf("swapped=%v student=%s", swapped, assigned.AssignedStudent)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
