// Package escrow coordinates the task, bid and payment lifecycle. It is the
// only component allowed to move money between escrow and student wallets.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/campuslance/platform/internal/app/domain/bid"
	"github.com/campuslance/platform/internal/app/domain/payment"
	"github.com/campuslance/platform/internal/app/domain/task"
	"github.com/campuslance/platform/internal/app/domain/user"
	"github.com/campuslance/platform/internal/app/gateway"
	"github.com/campuslance/platform/internal/app/notify"
	"github.com/campuslance/platform/internal/app/services/wallet"
	"github.com/campuslance/platform/internal/app/storage"
	apperrors "github.com/campuslance/platform/internal/errors"
	"github.com/campuslance/platform/pkg/logger"
)

// Service is the escrow coordinator.
type Service struct {
	users    storage.UserStore
	tasks    storage.TaskStore
	bids     storage.BidStore
	payments storage.PaymentStore
	wallet   *wallet.Service
	gateway  gateway.Adapter
	notifier *notify.Dispatcher
	log      *logger.Logger

	onReleased  func()
	onDuplicate func()
}

// New creates the coordinator. The gateway adapter is required; notifier may
// be nil when notification delivery is disabled.
func New(
	users storage.UserStore,
	tasks storage.TaskStore,
	bids storage.BidStore,
	payments storage.PaymentStore,
	walletSvc *wallet.Service,
	gw gateway.Adapter,
	notifier *notify.Dispatcher,
	log *logger.Logger,
) *Service {
	if log == nil {
		log = logger.NewDefault("escrow")
	}
	return &Service{
		users:    users,
		tasks:    tasks,
		bids:     bids,
		payments: payments,
		wallet:   walletSvc,
		gateway:  gw,
		notifier: notifier,
		log:      log,
	}
}

// Observe registers metric hooks for releases and suppressed duplicates.
func (s *Service) Observe(released, duplicate func()) {
	s.onReleased = released
	s.onDuplicate = duplicate
}

func (s *Service) notify(kind notify.Kind, userID, subjectID, summary string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(notify.Event{Kind: kind, UserID: userID, SubjectID: subjectID, Summary: summary})
}

func translate(err error, what, id string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperrors.NotFound("%s %s not found", what, id)
	}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.Internal(fmt.Sprintf("load %s %s", what, id), err)
}

// AcceptResult is the state produced by a successful bid acceptance.
type AcceptResult struct {
	Task    task.Task
	Bid     bid.Bid
	Payment payment.Payment
}

// AcceptBid accepts a pending bid on an open task owned by the client. It
// registers a gateway order, assigns the task, marks the bid accepted and
// creates the held escrow payment. The operation is all or nothing: the
// gateway call happens before any write, and a failed write rolls back the
// earlier ones.
func (s *Service) AcceptBid(ctx context.Context, clientID, bidID string) (AcceptResult, error) {
	b, err := s.bids.GetBid(ctx, bidID)
	if err != nil {
		return AcceptResult{}, translate(err, "bid", bidID)
	}
	t, err := s.tasks.GetTask(ctx, b.TaskID)
	if err != nil {
		return AcceptResult{}, translate(err, "task", b.TaskID)
	}

	if t.ClientID != clientID {
		return AcceptResult{}, apperrors.Forbidden("task %s is not owned by client %s", t.ID, clientID)
	}
	if b.Status != bid.StatusPending {
		return AcceptResult{}, apperrors.Conflict("bid %s is %s, not pending", b.ID, b.Status)
	}
	if !t.Open() {
		return AcceptResult{}, apperrors.Conflict("task %s is %s, not open", t.ID, t.Status)
	}

	amount := t.Budget
	if amount <= 0 {
		amount = b.Quote
	}
	settlement, err := ComputeSettlement(amount, "")
	if err != nil {
		return AcceptResult{}, err
	}

	// Gateway first. A failed or timed-out order call must leave every
	// entity untouched.
	order, err := s.gateway.CreateOrder(ctx, settlement.Amount, settlement.Currency)
	if err != nil {
		var appErr *apperrors.Error
		if errors.As(err, &appErr) {
			return AcceptResult{}, err
		}
		return AcceptResult{}, apperrors.GatewayUnavailable("create gateway order", err)
	}

	assigned, swapped, err := s.tasks.AssignTask(ctx, t.ID, b.StudentID)
	if err != nil {
		return AcceptResult{}, translate(err, "task", t.ID)
	}
	if !swapped {
		// A concurrent accept won the open->assigned swap.
		return AcceptResult{}, apperrors.Conflict("task %s is %s, not open", t.ID, assigned.Status)
	}

	b.Status = bid.StatusAccepted
	accepted, err := s.bids.UpdateBid(ctx, b)
	if err != nil {
		s.revertAssignment(ctx, assigned)
		return AcceptResult{}, apperrors.Internal("accept bid", err)
	}

	created, err := s.payments.CreatePayment(ctx, payment.Payment{
		TaskID:             t.ID,
		BidID:              b.ID,
		ClientID:           t.ClientID,
		StudentID:          b.StudentID,
		Amount:             settlement.Amount,
		Currency:           settlement.Currency,
		PlatformFeeClient:  settlement.PlatformFeeClient,
		PlatformFeeStudent: settlement.PlatformFeeStudent,
		NetToStudent:       settlement.NetToStudent,
		Status:             payment.StatusHeld,
		GatewayOrderRef:    order.Ref,
	})
	if err != nil {
		accepted.Status = bid.StatusPending
		if _, revertErr := s.bids.UpdateBid(ctx, accepted); revertErr != nil {
			s.log.WithError(revertErr).WithField("bid_id", accepted.ID).Error("bid rollback failed")
		}
		s.revertAssignment(ctx, assigned)
		return AcceptResult{}, apperrors.Internal("create escrow payment", err)
	}

	s.log.WithFields(map[string]interface{}{
		"task_id":    t.ID,
		"bid_id":     b.ID,
		"payment_id": created.ID,
		"amount":     created.Amount,
	}).Info("bid accepted, escrow held")

	s.notify(notify.KindBidAccepted, b.StudentID, b.ID,
		fmt.Sprintf("Your bid on %q was accepted", t.Title))

	return AcceptResult{Task: assigned, Bid: accepted, Payment: created}, nil
}

func (s *Service) revertAssignment(ctx context.Context, t task.Task) {
	t.Status = task.StatusOpen
	t.AssignedStudent = ""
	if _, err := s.tasks.UpdateTask(ctx, t); err != nil {
		s.log.WithError(err).WithField("task_id", t.ID).Error("task rollback failed")
	}
}

// DeclineBid rejects a pending bid. Other bids and the task are untouched.
func (s *Service) DeclineBid(ctx context.Context, clientID, bidID string) (bid.Bid, error) {
	b, err := s.bids.GetBid(ctx, bidID)
	if err != nil {
		return bid.Bid{}, translate(err, "bid", bidID)
	}
	t, err := s.tasks.GetTask(ctx, b.TaskID)
	if err != nil {
		return bid.Bid{}, translate(err, "task", b.TaskID)
	}

	if t.ClientID != clientID {
		return bid.Bid{}, apperrors.Forbidden("task %s is not owned by client %s", t.ID, clientID)
	}
	if b.Status != bid.StatusPending {
		return bid.Bid{}, apperrors.Conflict("bid %s is %s, not pending", b.ID, b.Status)
	}

	b.Status = bid.StatusRejected
	rejected, err := s.bids.UpdateBid(ctx, b)
	if err != nil {
		return bid.Bid{}, apperrors.Internal("decline bid", err)
	}

	s.notify(notify.KindBidDeclined, b.StudentID, b.ID,
		fmt.Sprintf("Your bid on %q was declined", t.Title))
	return rejected, nil
}

// SubmitWork records the assigned student's submission on the task.
func (s *Service) SubmitWork(ctx context.Context, studentID, taskID, fileURL string) (task.Task, error) {
	if fileURL == "" {
		return task.Task{}, apperrors.Validation("submission requires a file url")
	}

	t, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return task.Task{}, translate(err, "task", taskID)
	}
	if t.Status != task.StatusAssigned {
		return task.Task{}, apperrors.Conflict("task %s is %s, not assigned", t.ID, t.Status)
	}
	if t.AssignedStudent != studentID {
		return task.Task{}, apperrors.Forbidden("task %s is not assigned to student %s", t.ID, studentID)
	}

	t.Submission = &task.Submission{
		FileURL:     fileURL,
		StudentID:   studentID,
		Approved:    false,
		SubmittedAt: time.Now().UTC(),
	}
	updated, err := s.tasks.UpdateTask(ctx, t)
	if err != nil {
		return task.Task{}, apperrors.Internal("record submission", err)
	}
	return updated, nil
}

// ApproveWork approves the submission, releases the escrow payment and marks
// the task completed. Payment release runs first so a crash between the two
// writes converges on retry without double-crediting.
func (s *Service) ApproveWork(ctx context.Context, clientID, taskID string) (task.Task, error) {
	t, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return task.Task{}, translate(err, "task", taskID)
	}
	if t.ClientID != clientID {
		return task.Task{}, apperrors.Forbidden("task %s is not owned by client %s", t.ID, clientID)
	}
	if t.Status != task.StatusAssigned || t.Submission == nil || t.Submission.FileURL == "" {
		return task.Task{}, apperrors.Conflict("task %s has no pending submission", t.ID)
	}

	p, ok, err := s.activePayment(ctx, taskID)
	if err != nil {
		return task.Task{}, err
	}
	if ok {
		if _, err := s.ReleasePayment(ctx, p.ID); err != nil {
			return task.Task{}, err
		}
	} else {
		// Legacy engagements can complete without an escrow record.
		s.log.WithField("task_id", taskID).Warn("approving task without a held payment")
	}

	t.Submission.Approved = true
	t.Status = task.StatusCompleted
	updated, err := s.tasks.UpdateTask(ctx, t)
	if err != nil {
		return task.Task{}, apperrors.Internal("complete task", err)
	}

	s.bumpTasksCompleted(ctx, t.AssignedStudent)

	s.notify(notify.KindTaskApproved, t.AssignedStudent, t.ID,
		fmt.Sprintf("Your work on %q was approved", t.Title))
	return updated, nil
}

func (s *Service) bumpTasksCompleted(ctx context.Context, studentID string) {
	student, err := s.users.GetUser(ctx, studentID)
	if err != nil {
		s.log.WithError(err).WithField("student_id", studentID).Warn("completion counter skipped")
		return
	}
	student.TasksCompleted++
	if _, err := s.users.UpdateUser(ctx, student); err != nil {
		s.log.WithError(err).WithField("student_id", studentID).Warn("completion counter skipped")
	}
}

// activePayment finds the task's newest payment still holding funds.
func (s *Service) activePayment(ctx context.Context, taskID string) (payment.Payment, bool, error) {
	list, err := s.payments.ListPaymentsByTask(ctx, taskID)
	if err != nil {
		return payment.Payment{}, false, apperrors.Internal("list task payments", err)
	}
	for _, p := range list {
		if p.Status == payment.StatusHeld || p.Status == payment.StatusContested {
			return p, true, nil
		}
	}
	return payment.Payment{}, false, nil
}

// DeclineWork declines the submission. The held payment becomes declined and
// the task returns to open with the assignment and submission cleared.
func (s *Service) DeclineWork(ctx context.Context, clientID, taskID, reason string) (task.Task, error) {
	t, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return task.Task{}, translate(err, "task", taskID)
	}
	if t.ClientID != clientID {
		return task.Task{}, apperrors.Forbidden("task %s is not owned by client %s", t.ID, clientID)
	}
	if t.Status != task.StatusAssigned || t.Submission == nil {
		return task.Task{}, apperrors.Conflict("task %s has no pending submission", t.ID)
	}

	p, ok, err := s.heldPayment(ctx, taskID)
	if err != nil {
		return task.Task{}, err
	}
	if !ok {
		return task.Task{}, apperrors.Conflict("task %s has no held payment", taskID)
	}

	declined, swapped, err := s.payments.TransitionPaymentStatus(ctx, p.ID,
		[]payment.Status{payment.StatusHeld}, payment.StatusDeclined)
	if err != nil {
		return task.Task{}, translate(err, "payment", p.ID)
	}
	if !swapped {
		return task.Task{}, apperrors.Conflict("payment %s is %s, not held", p.ID, declined.Status)
	}

	if reason == "" {
		reason = "Not satisfactory"
	}
	declined.DeclineReason = reason
	if _, err := s.payments.UpdatePayment(ctx, declined); err != nil {
		s.log.WithError(err).WithField("payment_id", declined.ID).Warn("decline reason not recorded")
	}

	// Free the accepted bid so the client can engage someone else.
	if b, err := s.bids.GetBid(ctx, declined.BidID); err == nil && b.Status == bid.StatusAccepted {
		b.Status = bid.StatusRejected
		if _, err := s.bids.UpdateBid(ctx, b); err != nil {
			s.log.WithError(err).WithField("bid_id", b.ID).Warn("accepted bid not released")
		}
	}

	student := t.AssignedStudent
	t.Status = task.StatusOpen
	t.AssignedStudent = ""
	t.Submission = nil
	updated, err := s.tasks.UpdateTask(ctx, t)
	if err != nil {
		// Put the payment back in held and re-accept the bid so a retry can
		// run the whole decline again instead of finding a half-declined
		// engagement.
		if b, bidErr := s.bids.GetBid(ctx, declined.BidID); bidErr == nil && b.Status == bid.StatusRejected {
			b.Status = bid.StatusAccepted
			if _, revertErr := s.bids.UpdateBid(ctx, b); revertErr != nil {
				s.log.WithError(revertErr).WithField("bid_id", b.ID).Error("bid rollback failed")
			}
		}
		if _, _, revertErr := s.payments.TransitionPaymentStatus(ctx, declined.ID,
			[]payment.Status{payment.StatusDeclined}, payment.StatusHeld); revertErr != nil {
			s.log.WithError(revertErr).WithField("payment_id", declined.ID).Error("decline rollback failed")
		}
		return task.Task{}, apperrors.Internal("reopen task", err)
	}

	s.notify(notify.KindTaskDeclined, student, t.ID,
		fmt.Sprintf("Your work on %q was declined: %s", t.Title, reason))
	return updated, nil
}

// heldPayment finds the task's newest held payment.
func (s *Service) heldPayment(ctx context.Context, taskID string) (payment.Payment, bool, error) {
	list, err := s.payments.ListPaymentsByTask(ctx, taskID)
	if err != nil {
		return payment.Payment{}, false, apperrors.Internal("list task payments", err)
	}
	for _, p := range list {
		if p.Status == payment.StatusHeld {
			return p, true, nil
		}
	}
	return payment.Payment{}, false, nil
}

// ReleasePayment credits the student's wallet with the payment's net amount
// and marks the payment released. It is idempotent and safe under concurrent
// callers: the held/contested to released swap is the exclusive gate, and the
// wallet credit is keyed by the payment id so even a crash between the two
// writes cannot double-credit.
func (s *Service) ReleasePayment(ctx context.Context, paymentID string) (payment.Payment, error) {
	p, err := s.payments.GetPayment(ctx, paymentID)
	if err != nil {
		return payment.Payment{}, translate(err, "payment", paymentID)
	}

	if p.Status == payment.StatusReleased {
		if s.onDuplicate != nil {
			s.onDuplicate()
		}
		return p, nil
	}

	released, swapped, err := s.payments.TransitionPaymentStatus(ctx, paymentID,
		[]payment.Status{payment.StatusHeld, payment.StatusContested}, payment.StatusReleased)
	if err != nil {
		return payment.Payment{}, translate(err, "payment", paymentID)
	}
	if !swapped {
		if released.Status == payment.StatusReleased {
			// Lost the race to a concurrent release. The winner credited.
			if s.onDuplicate != nil {
				s.onDuplicate()
			}
			return released, nil
		}
		return payment.Payment{}, apperrors.Conflict("payment %s is %s, not releasable", paymentID, released.Status)
	}

	if _, _, err := s.wallet.Credit(ctx, released.StudentID, released.NetToStudent, released.ID); err != nil {
		// Put the funds back in escrow so a later release can retry.
		if _, _, revertErr := s.payments.TransitionPaymentStatus(ctx, paymentID,
			[]payment.Status{payment.StatusReleased}, p.Status); revertErr != nil {
			s.log.WithError(revertErr).WithField("payment_id", paymentID).Error("release rollback failed")
		}
		return payment.Payment{}, err
	}

	if s.onReleased != nil {
		s.onReleased()
	}
	s.log.WithFields(map[string]interface{}{
		"payment_id": released.ID,
		"student_id": released.StudentID,
		"net":        released.NetToStudent,
	}).Info("payment released")

	s.notify(notify.KindPaymentReleased, released.StudentID, released.ID,
		fmt.Sprintf("%.2f %s released to your wallet", released.NetToStudent, released.Currency))
	return released, nil
}

// RateTask records the client's star rating on the task. Score aggregates
// are RecordFeedback's job.
func (s *Service) RateTask(ctx context.Context, clientID, taskID string, rating int) (task.Task, error) {
	if rating < 1 || rating > 5 {
		return task.Task{}, apperrors.Validation("rating %d must be between 1 and 5", rating)
	}

	t, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return task.Task{}, translate(err, "task", taskID)
	}
	if t.ClientID != clientID {
		return task.Task{}, apperrors.Forbidden("task %s is not owned by client %s", t.ID, clientID)
	}
	if t.Submission == nil && t.Status != task.StatusCompleted {
		return task.Task{}, apperrors.Conflict("task %s has no submission to rate", t.ID)
	}

	t.Rating = rating
	updated, err := s.tasks.UpdateTask(ctx, t)
	if err != nil {
		return task.Task{}, apperrors.Internal("record rating", err)
	}
	return updated, nil
}

// RecordFeedback stores written feedback with a 0 to 10 score and folds it
// into the student's cumulative and per-domain aggregates. Repeated feedback
// accumulates; nothing is overwritten except the task's latest score/text.
func (s *Service) RecordFeedback(ctx context.Context, clientID, taskID string, score int, comment string) (task.Task, error) {
	if score < 0 || score > 10 {
		return task.Task{}, apperrors.Validation("feedback score %d must be between 0 and 10", score)
	}

	t, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return task.Task{}, translate(err, "task", taskID)
	}
	if t.ClientID != clientID {
		return task.Task{}, apperrors.Forbidden("task %s is not owned by client %s", t.ID, clientID)
	}
	if t.Submission == nil && t.Status != task.StatusCompleted {
		return task.Task{}, apperrors.Conflict("task %s has no submission to score", t.ID)
	}

	t.Score = score
	t.Feedback = comment
	updated, err := s.tasks.UpdateTask(ctx, t)
	if err != nil {
		return task.Task{}, apperrors.Internal("record feedback", err)
	}

	domain := t.Domain
	if domain == "" {
		domain = "general"
	}
	if student, err := s.users.GetUser(ctx, t.AssignedStudent); err == nil {
		student.TotalScore += score
		student.TotalScoreCount++

		folded := false
		for i := range student.FeedbackScores {
			if student.FeedbackScores[i].Domain == domain {
				student.FeedbackScores[i].TotalScore += score
				student.FeedbackScores[i].Count++
				folded = true
				break
			}
		}
		if !folded {
			student.FeedbackScores = append(student.FeedbackScores, user.FeedbackScore{
				Domain: domain, TotalScore: score, Count: 1,
			})
		}
		if _, err := s.users.UpdateUser(ctx, student); err != nil {
			s.log.WithError(err).WithField("student_id", student.ID).Warn("feedback aggregate skipped")
		}
	}
	return updated, nil
}

// AdminOverridePayment forces a payment status. Releases route through
// ReleasePayment so the at-most-once credit invariant holds even for manual
// intervention.
func (s *Service) AdminOverridePayment(ctx context.Context, paymentID string, newStatus payment.Status, note string) (payment.Payment, error) {
	switch newStatus {
	case payment.StatusHeld, payment.StatusReleased, payment.StatusDeclined, payment.StatusContested:
	default:
		return payment.Payment{}, apperrors.Validation("status %q is not an admin override target", newStatus)
	}

	if newStatus == payment.StatusReleased {
		released, err := s.ReleasePayment(ctx, paymentID)
		if err != nil {
			return payment.Payment{}, err
		}
		if note != "" {
			released.AdminNote = note
			if updated, err := s.payments.UpdatePayment(ctx, released); err == nil {
				return updated, nil
			}
		}
		return released, nil
	}

	p, err := s.payments.GetPayment(ctx, paymentID)
	if err != nil {
		return payment.Payment{}, translate(err, "payment", paymentID)
	}
	if p.Status.Terminal() {
		return payment.Payment{}, apperrors.Conflict("payment %s is %s and cannot be overridden", p.ID, p.Status)
	}

	p.Status = newStatus
	p.AdminNote = note
	updated, err := s.payments.UpdatePayment(ctx, p)
	if err != nil {
		return payment.Payment{}, apperrors.Internal("override payment", err)
	}

	s.log.WithFields(map[string]interface{}{
		"payment_id": p.ID,
		"status":     string(newStatus),
	}).Warn("payment status overridden")
	return updated, nil
}

// ReconcileGatewayEvent applies an asynchronous gateway notification.
// Captured events release the payment; failed events fail it unless it is
// already terminal. Replays are no-ops.
func (s *Service) ReconcileGatewayEvent(ctx context.Context, event gateway.Event) (payment.Payment, error) {
	p, err := s.payments.GetPaymentByOrderRef(ctx, event.OrderRef)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return payment.Payment{}, apperrors.NotFound("no payment for order %s", event.OrderRef)
		}
		return payment.Payment{}, apperrors.Internal("resolve gateway order", err)
	}

	if event.PaymentRef != "" && p.GatewayPaymentRef == "" {
		p.GatewayPaymentRef = event.PaymentRef
		if updated, err := s.payments.UpdatePayment(ctx, p); err == nil {
			p = updated
		} else {
			s.log.WithError(err).WithField("payment_id", p.ID).Warn("gateway payment ref not recorded")
		}
	}

	switch event.Kind {
	case gateway.EventCaptured:
		return s.ReleasePayment(ctx, p.ID)
	case gateway.EventFailed:
		if p.Status.Terminal() {
			return p, nil
		}
		failed, swapped, err := s.payments.TransitionPaymentStatus(ctx, p.ID,
			[]payment.Status{payment.StatusCreated, payment.StatusHeld, payment.StatusDeclined, payment.StatusContested},
			payment.StatusFailed)
		if err != nil {
			return payment.Payment{}, translate(err, "payment", p.ID)
		}
		if !swapped {
			// Raced with a release or another failure event.
			return failed, nil
		}
		s.log.WithField("payment_id", p.ID).Warn("payment failed at gateway")
		return failed, nil
	default:
		return payment.Payment{}, apperrors.Validation("unknown gateway event kind %q", event.Kind)
	}
}
