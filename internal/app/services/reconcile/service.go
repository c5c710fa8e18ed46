// Package reconcile periodically polls the gateway for payments stuck in
// held, recovering releases whose webhook delivery was missed.
package reconcile

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/campuslance/platform/internal/app/domain/payment"
	"github.com/campuslance/platform/internal/app/gateway"
	"github.com/campuslance/platform/internal/app/services/escrow"
	"github.com/campuslance/platform/internal/app/storage"
	"github.com/campuslance/platform/pkg/logger"
)

// Default sweep configuration.
const (
	DefaultSchedule = "@every 5m"
	DefaultStaleAge = 15 * time.Minute
)

// Sweeper is the background reconciliation service.
type Sweeper struct {
	payments storage.PaymentStore
	checker  gateway.StatusChecker
	escrow   *escrow.Service
	log      *logger.Logger

	schedule string
	staleAge time.Duration
	cron     *cron.Cron
}

// New creates a sweeper. Empty schedule and zero staleAge take the defaults.
func New(payments storage.PaymentStore, checker gateway.StatusChecker, escrowSvc *escrow.Service, schedule string, staleAge time.Duration, log *logger.Logger) *Sweeper {
	if log == nil {
		log = logger.NewDefault("reconcile")
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if staleAge <= 0 {
		staleAge = DefaultStaleAge
	}
	return &Sweeper{
		payments: payments,
		checker:  checker,
		escrow:   escrowSvc,
		log:      log,
		schedule: schedule,
		staleAge: staleAge,
	}
}

func (s *Sweeper) Name() string { return "reconcile-sweeper" }

// Start schedules the sweep.
func (s *Sweeper) Start(_ context.Context) error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		s.Sweep(ctx)
	}); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	done := s.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep polls the gateway for every payment held longer than the stale age
// and replays the resulting events through the coordinator.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.staleAge)
	stale, err := s.payments.ListPaymentsByStatus(ctx, payment.StatusHeld, cutoff)
	if err != nil {
		s.log.WithError(err).Error("stale payment scan failed")
		return
	}
	if len(stale) == 0 {
		return
	}
	s.log.WithField("count", len(stale)).Info("reconciling stale held payments")

	for _, p := range stale {
		kind, paymentRef, err := s.checker.OrderStatus(ctx, p.GatewayOrderRef)
		if err != nil {
			s.log.WithError(err).WithField("payment_id", p.ID).Warn("order status check failed")
			continue
		}
		if kind == "" {
			continue
		}

		if _, err := s.escrow.ReconcileGatewayEvent(ctx, gateway.Event{
			Kind:       kind,
			OrderRef:   p.GatewayOrderRef,
			PaymentRef: paymentRef,
		}); err != nil {
			s.log.WithError(err).WithField("payment_id", p.ID).Warn("reconcile failed")
		}
	}
}
