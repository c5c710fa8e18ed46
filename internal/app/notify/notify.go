// Package notify delivers lifecycle notifications to users. Delivery is best
// effort; a failed notification never fails the operation that produced it.
package notify

import (
	"context"
	"time"

	"github.com/campuslance/platform/pkg/logger"
)

// Kind names a notification event.
type Kind string

const (
	KindBidNew          Kind = "bid_new"
	KindBidAccepted     Kind = "bid_accepted"
	KindBidDeclined     Kind = "bid_declined"
	KindTaskApproved    Kind = "task_approved"
	KindTaskDeclined    Kind = "task_declined"
	KindPaymentReleased Kind = "payment_released"
)

// Event is one notification addressed to a user.
type Event struct {
	Kind      Kind      `json:"kind"`
	UserID    string    `json:"user_id"`
	SubjectID string    `json:"subject_id"`
	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
}

// Sink accepts events for delivery.
type Sink interface {
	Send(ctx context.Context, event Event) error
}

// Dispatcher fans events out to a sink asynchronously. Errors are logged and
// dropped.
type Dispatcher struct {
	sink    Sink
	log     *logger.Logger
	timeout time.Duration
	dropped func()
}

// NewDispatcher wires a dispatcher to the given sink. onDrop, if non-nil, is
// invoked once per event that could not be delivered.
func NewDispatcher(sink Sink, log *logger.Logger, onDrop func()) *Dispatcher {
	if log == nil {
		log = logger.NewDefault("notify")
	}
	if sink == nil {
		sink = NewLogSink(log)
	}
	return &Dispatcher{sink: sink, log: log, timeout: 5 * time.Second, dropped: onDrop}
}

// Notify queues the event for delivery and returns immediately.
func (d *Dispatcher) Notify(event Event) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := d.sink.Send(ctx, event); err != nil {
			d.log.WithError(err).WithFields(map[string]interface{}{
				"kind":    string(event.Kind),
				"user_id": event.UserID,
			}).Warn("notification dropped")
			if d.dropped != nil {
				d.dropped()
			}
		}
	}()
}

// LogSink writes notifications to the log. It is the fallback when no queue
// is configured.
type LogSink struct {
	log *logger.Logger
}

var _ Sink = (*LogSink)(nil)

func NewLogSink(log *logger.Logger) *LogSink {
	if log == nil {
		log = logger.NewDefault("notify")
	}
	return &LogSink{log: log}
}

func (s *LogSink) Send(_ context.Context, event Event) error {
	s.log.WithFields(map[string]interface{}{
		"kind":       string(event.Kind),
		"user_id":    event.UserID,
		"subject_id": event.SubjectID,
	}).Info(event.Summary)
	return nil
}
