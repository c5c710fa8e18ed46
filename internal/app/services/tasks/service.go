// Package tasks serves the task browsing and posting surfaces around the
// escrow coordinator.
package tasks

import (
	"context"
	"errors"

	"github.com/campuslance/platform/internal/app/domain/bid"
	"github.com/campuslance/platform/internal/app/domain/task"
	"github.com/campuslance/platform/internal/app/storage"
	apperrors "github.com/campuslance/platform/internal/errors"
	"github.com/campuslance/platform/pkg/logger"
)

const recommendedLimit = 5

// Service exposes task queries and creation.
type Service struct {
	users storage.UserStore
	tasks storage.TaskStore
	bids  storage.BidStore
	log   *logger.Logger
}

func New(users storage.UserStore, taskStore storage.TaskStore, bids storage.BidStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("tasks")
	}
	return &Service{users: users, tasks: taskStore, bids: bids, log: log}
}

func translate(err error, what, id string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperrors.NotFound("%s %s not found", what, id)
	}
	return apperrors.Internal("load "+what, err)
}

// Create posts a new open task for the client. Location, domain and company
// fall back to the client's profile when the request leaves them blank.
func (s *Service) Create(ctx context.Context, clientID string, t task.Task) (task.Task, error) {
	if t.Title == "" {
		return task.Task{}, apperrors.Validation("task requires a title")
	}
	if t.Budget <= 0 {
		return task.Task{}, apperrors.InvalidAmount("task budget %.2f must be positive", t.Budget)
	}

	client, err := s.users.GetUser(ctx, clientID)
	if err != nil {
		return task.Task{}, translate(err, "client", clientID)
	}

	t.ClientID = clientID
	t.Status = task.StatusOpen
	t.AssignedStudent = ""
	t.Submission = nil
	if t.Location == "" {
		t.Location = client.Location
	}
	if t.Domain == "" {
		t.Domain = client.Domain
	}
	if t.Company == "" {
		t.Company = client.Company
	}

	created, err := s.tasks.CreateTask(ctx, t)
	if err != nil {
		return task.Task{}, apperrors.Internal("create task", err)
	}
	return created, nil
}

// Get returns a single task by id.
func (s *Service) Get(ctx context.Context, id string) (task.Task, error) {
	t, err := s.tasks.GetTask(ctx, id)
	if err != nil {
		return task.Task{}, translate(err, "task", id)
	}
	return t, nil
}

// FeedFilter narrows the open-task feed.
type FeedFilter struct {
	Location string
	Domain   string
	Company  string
}

// Feed lists open tasks matching the filter and intersecting the student's
// skills. A student with no recorded skills sees every open task.
func (s *Service) Feed(ctx context.Context, studentID string, filter FeedFilter) ([]task.Task, error) {
	student, err := s.users.GetUser(ctx, studentID)
	if err != nil {
		return nil, translate(err, "student", studentID)
	}

	list, err := s.tasks.ListTasks(ctx, storage.TaskFilter{
		Status:      task.StatusOpen,
		Location:    filter.Location,
		Domain:      filter.Domain,
		Company:     filter.Company,
		SkillsAny:   student.Skills,
		NewestFirst: true,
	})
	if err != nil {
		return nil, apperrors.Internal("list task feed", err)
	}
	return list, nil
}

// Recommended returns the latest open tasks matching the student's skills.
func (s *Service) Recommended(ctx context.Context, studentID string) ([]task.Task, error) {
	student, err := s.users.GetUser(ctx, studentID)
	if err != nil {
		return nil, translate(err, "student", studentID)
	}
	if len(student.Skills) == 0 {
		return nil, nil
	}

	list, err := s.tasks.ListTasks(ctx, storage.TaskFilter{
		Status:      task.StatusOpen,
		SkillsAny:   student.Skills,
		Limit:       recommendedLimit,
		NewestFirst: true,
	})
	if err != nil {
		return nil, apperrors.Internal("list recommended tasks", err)
	}
	return list, nil
}

// TaskWithBids pairs a task with how many bids it attracted.
type TaskWithBids struct {
	Task     task.Task
	BidCount int
}

// Mine lists the client's own tasks with bid counts, newest first.
func (s *Service) Mine(ctx context.Context, clientID string) ([]TaskWithBids, error) {
	list, err := s.tasks.ListTasks(ctx, storage.TaskFilter{ClientID: clientID, NewestFirst: true})
	if err != nil {
		return nil, apperrors.Internal("list client tasks", err)
	}

	ids := make([]string, len(list))
	for i, t := range list {
		ids[i] = t.ID
	}
	counts, err := s.bids.CountBidsByTasks(ctx, ids)
	if err != nil {
		return nil, apperrors.Internal("count task bids", err)
	}

	result := make([]TaskWithBids, len(list))
	for i, t := range list {
		result[i] = TaskWithBids{Task: t, BidCount: counts[t.ID]}
	}
	return result, nil
}

// Assigned lists the tasks a student is currently engaged on, resolved
// through their accepted bids.
func (s *Service) Assigned(ctx context.Context, studentID string) ([]task.Task, error) {
	accepted, err := s.bids.ListBidsByStudent(ctx, studentID, bid.StatusAccepted)
	if err != nil {
		return nil, apperrors.Internal("list accepted bids", err)
	}

	var result []task.Task
	for _, b := range accepted {
		t, err := s.tasks.GetTask(ctx, b.TaskID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, apperrors.Internal("load assigned task", err)
		}
		if t.AssignedStudent == studentID {
			result = append(result, t)
		}
	}
	return result, nil
}
