package output

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/sdejongh/xtochd/pkg/models"
)

// EventStream forwards every update on a channel for UI consumers.
// Sends block until the consumer reads; Complete delivers a final
// batch_complete event and closes the channel.
type EventStream struct {
	mu     sync.Mutex
	ch     chan ProgressUpdate
	report atomic.Pointer[models.BatchReport]
	closed bool
}

// NewEventStream creates a stream with the given channel buffer
func NewEventStream(buffer int) *EventStream {
	if buffer < 0 {
		buffer = 0
	}
	return &EventStream{ch: make(chan ProgressUpdate, buffer)}
}

// Events returns the receive side of the stream
func (s *EventStream) Events() <-chan ProgressUpdate {
	return s.ch
}

// Report returns the report delivered by Complete, or nil
func (s *EventStream) Report() *models.BatchReport {
	return s.report.Load()
}

func (s *EventStream) Start(_ io.Writer, totalJobs int, _ int64) error {
	return s.send(ProgressUpdate{Type: EventBatchStart, Total: totalJobs})
}

func (s *EventStream) Progress(update ProgressUpdate) error {
	return s.send(update)
}

func (s *EventStream) Complete(report *models.BatchReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.report.Store(report)
	s.ch <- ProgressUpdate{
		Type:    EventBatchComplete,
		Percent: 100,
		Current: report.Stats.Processed(),
		Total:   report.Stats.Total,
		Reason:  string(report.Status),
		Time:    report.EndTime,
	}
	close(s.ch)
	s.closed = true
	return nil
}

func (s *EventStream) Error(err error) error {
	return s.send(ProgressUpdate{Type: EventJobError, Error: err, Reason: err.Error()})
}

func (s *EventStream) Name() string {
	return "events"
}

func (s *EventStream) send(update ProgressUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.ch <- update
	return nil
}
