// Package wallet is the ledger that mutates student balances. Every credit
// carries an idempotency key so retried or racing callers apply at most once.
package wallet

import (
	"context"
	"errors"

	"github.com/campuslance/platform/internal/app/storage"
	apperrors "github.com/campuslance/platform/internal/errors"
	"github.com/campuslance/platform/pkg/logger"
)

// Service is the wallet ledger.
type Service struct {
	store storage.WalletStore
	log   *logger.Logger
}

// New creates the wallet service.
func New(store storage.WalletStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("wallet")
	}
	return &Service{store: store, log: log}
}

// Credit increments the student's balance by amount, keyed by idempotencyKey.
// A replayed key returns the current balance without applying again. Zero
// amounts are accepted as a no-op; negative amounts are rejected.
func (s *Service) Credit(ctx context.Context, studentID string, amount float64, idempotencyKey string) (float64, bool, error) {
	if amount < 0 {
		return 0, false, apperrors.InvalidAmount("credit amount %.2f must not be negative", amount)
	}
	if idempotencyKey == "" {
		return 0, false, apperrors.Validation("credit requires an idempotency key")
	}
	if amount == 0 {
		s.log.WithField("student_id", studentID).Warn("zero-amount credit skipped")
		balance, err := s.Balance(ctx, studentID)
		return balance, false, err
	}

	balance, applied, err := s.store.ApplyWalletCredit(ctx, studentID, amount, idempotencyKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, false, apperrors.NotFound("student %s not found", studentID)
		}
		return 0, false, apperrors.Internal("apply wallet credit", err)
	}

	if applied {
		s.log.WithFields(map[string]interface{}{
			"student_id": studentID,
			"amount":     amount,
			"key":        idempotencyKey,
		}).Info("wallet credited")
	} else {
		s.log.WithFields(map[string]interface{}{
			"student_id": studentID,
			"key":        idempotencyKey,
		}).Info("duplicate wallet credit suppressed")
	}
	return balance, applied, nil
}

// Balance returns the student's current wallet balance.
func (s *Service) Balance(ctx context.Context, studentID string) (float64, error) {
	balance, err := s.store.WalletBalance(ctx, studentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, apperrors.NotFound("student %s not found", studentID)
		}
		return 0, apperrors.Internal("read wallet balance", err)
	}
	return balance, nil
}
