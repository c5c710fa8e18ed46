package task

import "time"

// Status is the lifecycle state of a task.
type Status string

const (
	StatusOpen      Status = "open"
	StatusAssigned  Status = "assigned"
	StatusCompleted Status = "completed"
)

// Submission is the work a student handed in for an assigned task. It only
// exists while the task is assigned or completed.
type Submission struct {
	FileURL     string
	StudentID   string
	Approved    bool
	SubmittedAt time.Time
}

// Task is a unit of work posted by a client. AssignedStudent is set exactly
// while the status is assigned or completed.
type Task struct {
	ID          string
	ClientID    string
	Title       string
	Description string

	Budget   float64
	Deadline string

	Location       string
	Domain         string
	Company        string
	RequiredSkills []string

	Status          Status
	AssignedStudent string
	Submission      *Submission

	Rating   int
	Feedback string
	Score    int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Open reports whether the task still accepts bids.
func (t Task) Open() bool { return t.Status == StatusOpen }
