package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/campuslance/platform/internal/app/domain/bid"
	"github.com/campuslance/platform/internal/app/domain/payment"
	"github.com/campuslance/platform/internal/app/domain/task"
	"github.com/campuslance/platform/internal/app/domain/user"
	"github.com/campuslance/platform/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu     sync.RWMutex
	nextID int64

	users    map[string]user.User
	tasks    map[string]task.Task
	bids     map[string]bid.Bid
	payments map[string]payment.Payment

	// creditKeys maps idempotency key -> student id for applied credits.
	creditKeys map[string]string
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.TaskStore = (*Store)(nil)
var _ storage.BidStore = (*Store)(nil)
var _ storage.PaymentStore = (*Store)(nil)
var _ storage.WalletStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:     1,
		users:      make(map[string]user.User),
		tasks:      make(map[string]task.Task),
		bids:       make(map[string]bid.Bid),
		payments:   make(map[string]payment.Payment),
		creditKeys: make(map[string]string),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// UserStore implementation ----------------------------------------------------

func (s *Store) CreateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID == "" {
		u.ID = s.nextIDLocked()
	} else if _, exists := s.users[u.ID]; exists {
		return user.User{}, fmt.Errorf("user %s already exists", u.ID)
	}

	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	u.Skills = append([]string(nil), u.Skills...)
	u.FeedbackScores = append([]user.FeedbackScore(nil), u.FeedbackScores...)

	s.users[u.ID] = u
	return cloneUser(u), nil
}

func (s *Store) UpdateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.users[u.ID]
	if !ok {
		return user.User{}, fmt.Errorf("user %s: %w", u.ID, storage.ErrNotFound)
	}

	u.CreatedAt = original.CreatedAt
	// Wallet is only mutated through ApplyWalletCredit.
	u.Wallet = original.Wallet
	u.UpdatedAt = time.Now().UTC()
	u.Skills = append([]string(nil), u.Skills...)
	u.FeedbackScores = append([]user.FeedbackScore(nil), u.FeedbackScores...)

	s.users[u.ID] = u
	return cloneUser(u), nil
}

func (s *Store) GetUser(_ context.Context, id string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return user.User{}, fmt.Errorf("user %s: %w", id, storage.ErrNotFound)
	}
	return cloneUser(u), nil
}

// TaskStore implementation ----------------------------------------------------

func (s *Store) CreateTask(_ context.Context, t task.Task) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = s.nextIDLocked()
	} else if _, exists := s.tasks[t.ID]; exists {
		return task.Task{}, fmt.Errorf("task %s already exists", t.ID)
	}

	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	t.RequiredSkills = append([]string(nil), t.RequiredSkills...)

	s.tasks[t.ID] = t
	return cloneTask(t), nil
}

func (s *Store) UpdateTask(_ context.Context, t task.Task) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.tasks[t.ID]
	if !ok {
		return task.Task{}, fmt.Errorf("task %s: %w", t.ID, storage.ErrNotFound)
	}

	t.CreatedAt = original.CreatedAt
	t.UpdatedAt = time.Now().UTC()
	t.RequiredSkills = append([]string(nil), t.RequiredSkills...)

	s.tasks[t.ID] = t
	return cloneTask(t), nil
}

func (s *Store) GetTask(_ context.Context, id string) (task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return task.Task{}, fmt.Errorf("task %s: %w", id, storage.ErrNotFound)
	}
	return cloneTask(t), nil
}

func (s *Store) ListTasks(_ context.Context, filter storage.TaskFilter) ([]task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]task.Task, 0)
	for _, t := range s.tasks {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.ClientID != "" && t.ClientID != filter.ClientID {
			continue
		}
		if filter.Location != "" && !strings.EqualFold(t.Location, filter.Location) {
			continue
		}
		if filter.Domain != "" && !strings.EqualFold(t.Domain, filter.Domain) {
			continue
		}
		if filter.Company != "" && !strings.EqualFold(t.Company, filter.Company) {
			continue
		}
		if len(filter.SkillsAny) > 0 && !skillsIntersect(t.RequiredSkills, filter.SkillsAny) {
			continue
		}
		result = append(result, cloneTask(t))
	}

	sort.Slice(result, func(i, j int) bool {
		if filter.NewestFirst {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) AssignTask(_ context.Context, id, studentID string) (task.Task, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return task.Task{}, false, fmt.Errorf("task %s: %w", id, storage.ErrNotFound)
	}
	if t.Status != task.StatusOpen {
		return cloneTask(t), false, nil
	}

	t.Status = task.StatusAssigned
	t.AssignedStudent = studentID
	t.UpdatedAt = time.Now().UTC()
	s.tasks[id] = t
	return cloneTask(t), true, nil
}

// BidStore implementation -----------------------------------------------------

func (s *Store) CreateBid(_ context.Context, b bid.Bid) (bid.Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b.ID == "" {
		b.ID = s.nextIDLocked()
	} else if _, exists := s.bids[b.ID]; exists {
		return bid.Bid{}, fmt.Errorf("bid %s already exists", b.ID)
	}

	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now

	s.bids[b.ID] = b
	return b, nil
}

func (s *Store) UpdateBid(_ context.Context, b bid.Bid) (bid.Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.bids[b.ID]
	if !ok {
		return bid.Bid{}, fmt.Errorf("bid %s: %w", b.ID, storage.ErrNotFound)
	}

	b.CreatedAt = original.CreatedAt
	b.UpdatedAt = time.Now().UTC()
	s.bids[b.ID] = b
	return b, nil
}

func (s *Store) GetBid(_ context.Context, id string) (bid.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bids[id]
	if !ok {
		return bid.Bid{}, fmt.Errorf("bid %s: %w", id, storage.ErrNotFound)
	}
	return b, nil
}

func (s *Store) ListBidsByTask(_ context.Context, taskID string) ([]bid.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]bid.Bid, 0)
	for _, b := range s.bids {
		if b.TaskID == taskID {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) ListBidsByStudent(_ context.Context, studentID string, status bid.Status) ([]bid.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]bid.Bid, 0)
	for _, b := range s.bids {
		if b.StudentID != studentID {
			continue
		}
		if status != "" && b.Status != status {
			continue
		}
		result = append(result, b)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) CountBidsByTasks(_ context.Context, taskIDs []string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]bool, len(taskIDs))
	for _, id := range taskIDs {
		wanted[id] = true
	}

	counts := make(map[string]int, len(taskIDs))
	for _, b := range s.bids {
		if wanted[b.TaskID] {
			counts[b.TaskID]++
		}
	}
	return counts, nil
}

// PaymentStore implementation -------------------------------------------------

func (s *Store) CreatePayment(_ context.Context, p payment.Payment) (payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = s.nextIDLocked()
	} else if _, exists := s.payments[p.ID]; exists {
		return payment.Payment{}, fmt.Errorf("payment %s already exists", p.ID)
	}

	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	s.payments[p.ID] = p
	return p, nil
}

func (s *Store) UpdatePayment(_ context.Context, p payment.Payment) (payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.payments[p.ID]
	if !ok {
		return payment.Payment{}, fmt.Errorf("payment %s: %w", p.ID, storage.ErrNotFound)
	}

	p.CreatedAt = original.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	s.payments[p.ID] = p
	return p, nil
}

func (s *Store) GetPayment(_ context.Context, id string) (payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payments[id]
	if !ok {
		return payment.Payment{}, fmt.Errorf("payment %s: %w", id, storage.ErrNotFound)
	}
	return p, nil
}

func (s *Store) GetPaymentByOrderRef(_ context.Context, orderRef string) (payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.payments {
		if p.GatewayOrderRef == orderRef {
			return p, nil
		}
	}
	return payment.Payment{}, fmt.Errorf("payment for order %s: %w", orderRef, storage.ErrNotFound)
}

func (s *Store) ListPaymentsByTask(_ context.Context, taskID string) ([]payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]payment.Payment, 0)
	for _, p := range s.payments {
		if p.TaskID == taskID {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) ListPaymentsByStatus(_ context.Context, status payment.Status, updatedBefore time.Time) ([]payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]payment.Payment, 0)
	for _, p := range s.payments {
		if p.Status != status {
			continue
		}
		if !updatedBefore.IsZero() && !p.UpdatedAt.Before(updatedBefore) {
			continue
		}
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.Before(result[j].UpdatedAt)
	})
	return result, nil
}

func (s *Store) DeletePayment(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.payments[id]; !ok {
		return fmt.Errorf("payment %s: %w", id, storage.ErrNotFound)
	}
	delete(s.payments, id)
	return nil
}

func (s *Store) TransitionPaymentStatus(_ context.Context, id string, from []payment.Status, to payment.Status) (payment.Payment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok {
		return payment.Payment{}, false, fmt.Errorf("payment %s: %w", id, storage.ErrNotFound)
	}

	matched := false
	for _, status := range from {
		if p.Status == status {
			matched = true
			break
		}
	}
	if !matched {
		return p, false, nil
	}

	p.Status = to
	p.UpdatedAt = time.Now().UTC()
	s.payments[id] = p
	return p, true, nil
}

// WalletStore implementation --------------------------------------------------

func (s *Store) ApplyWalletCredit(_ context.Context, studentID string, amount float64, idempotencyKey string) (float64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[studentID]
	if !ok {
		return 0, false, fmt.Errorf("user %s: %w", studentID, storage.ErrNotFound)
	}

	if _, applied := s.creditKeys[idempotencyKey]; applied {
		return u.Wallet, false, nil
	}

	s.creditKeys[idempotencyKey] = studentID
	u.Wallet += amount
	u.UpdatedAt = time.Now().UTC()
	s.users[studentID] = u
	return u.Wallet, true, nil
}

func (s *Store) WalletBalance(_ context.Context, studentID string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[studentID]
	if !ok {
		return 0, fmt.Errorf("user %s: %w", studentID, storage.ErrNotFound)
	}
	return u.Wallet, nil
}

// Helpers ---------------------------------------------------------------------

// skillsIntersect reports whether any required skill is offered. A task with
// no required skills matches everyone.
func skillsIntersect(required, offered []string) bool {
	if len(required) == 0 {
		return true
	}
	for _, r := range required {
		for _, o := range offered {
			if strings.EqualFold(r, o) {
				return true
			}
		}
	}
	return false
}

func cloneUser(u user.User) user.User {
	u.Skills = append([]string(nil), u.Skills...)
	u.FeedbackScores = append([]user.FeedbackScore(nil), u.FeedbackScores...)
	return u
}

func cloneTask(t task.Task) task.Task {
	t.RequiredSkills = append([]string(nil), t.RequiredSkills...)
	if t.Submission != nil {
		sub := *t.Submission
		t.Submission = &sub
	}
	return t
}
