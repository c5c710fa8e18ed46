// Package bids serves bid submission and listing. Accepting and declining
// bids is the escrow coordinator's job, not this package's.
package bids

import (
	"context"
	"errors"
	"fmt"

	"github.com/campuslance/platform/internal/app/domain/bid"
	"github.com/campuslance/platform/internal/app/notify"
	"github.com/campuslance/platform/internal/app/storage"
	apperrors "github.com/campuslance/platform/internal/errors"
	"github.com/campuslance/platform/pkg/logger"
)

// Service exposes bid submission and queries.
type Service struct {
	tasks    storage.TaskStore
	bids     storage.BidStore
	notifier *notify.Dispatcher
	log      *logger.Logger
}

func New(tasks storage.TaskStore, bidStore storage.BidStore, notifier *notify.Dispatcher, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("bids")
	}
	return &Service{tasks: tasks, bids: bidStore, notifier: notifier, log: log}
}

// Submit places a pending bid on an open task and notifies the task owner.
func (s *Service) Submit(ctx context.Context, studentID string, b bid.Bid) (bid.Bid, error) {
	if b.Quote <= 0 {
		return bid.Bid{}, apperrors.InvalidAmount("bid quote %.2f must be positive", b.Quote)
	}

	t, err := s.tasks.GetTask(ctx, b.TaskID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return bid.Bid{}, apperrors.NotFound("task %s not found", b.TaskID)
		}
		return bid.Bid{}, apperrors.Internal("load task", err)
	}
	if !t.Open() {
		return bid.Bid{}, apperrors.Conflict("task %s is %s, not open", t.ID, t.Status)
	}
	if t.ClientID == studentID {
		return bid.Bid{}, apperrors.Forbidden("cannot bid on your own task")
	}

	existing, err := s.bids.ListBidsByTask(ctx, t.ID)
	if err != nil {
		return bid.Bid{}, apperrors.Internal("list task bids", err)
	}
	for _, prev := range existing {
		if prev.StudentID == studentID && prev.Status == bid.StatusPending {
			return bid.Bid{}, apperrors.Conflict("student %s already has a pending bid on task %s", studentID, t.ID)
		}
	}

	b.StudentID = studentID
	b.Status = bid.StatusPending
	created, err := s.bids.CreateBid(ctx, b)
	if err != nil {
		return bid.Bid{}, apperrors.Internal("create bid", err)
	}

	if s.notifier != nil {
		s.notifier.Notify(notify.Event{
			Kind:      notify.KindBidNew,
			UserID:    t.ClientID,
			SubjectID: created.ID,
			Summary:   fmt.Sprintf("New bid on %q", t.Title),
		})
	}
	return created, nil
}

// ListForTask returns a task's bids, newest first. Only the task owner may
// see them.
func (s *Service) ListForTask(ctx context.Context, clientID, taskID string) ([]bid.Bid, error) {
	t, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperrors.NotFound("task %s not found", taskID)
		}
		return nil, apperrors.Internal("load task", err)
	}
	if t.ClientID != clientID {
		return nil, apperrors.Forbidden("task %s is not owned by client %s", t.ID, clientID)
	}

	list, err := s.bids.ListBidsByTask(ctx, taskID)
	if err != nil {
		return nil, apperrors.Internal("list task bids", err)
	}
	return list, nil
}

// ListForStudent returns the student's own bids, optionally filtered by
// status.
func (s *Service) ListForStudent(ctx context.Context, studentID string, status bid.Status) ([]bid.Bid, error) {
	if status != "" {
		switch status {
		case bid.StatusPending, bid.StatusAccepted, bid.StatusRejected:
		default:
			return nil, apperrors.Validation("unknown bid status %q", status)
		}
	}

	list, err := s.bids.ListBidsByStudent(ctx, studentID, status)
	if err != nil {
		return nil, apperrors.Internal("list student bids", err)
	}
	return list, nil
}
