package scheduler

import (
	"log"
	"sync/atomic"
	"time"
)

// LoopEventType identifies the kind of scheduler event.
type LoopEventType string

const (
	EventTaskDispatched LoopEventType = "task_dispatched"
	EventTaskStarted    LoopEventType = "task_started"
	EventTaskProgress   LoopEventType = "task_progress"
	EventTaskCompleted  LoopEventType = "task_completed"
	EventTaskFailed     LoopEventType = "task_failed"
	EventPlanStatus     LoopEventType = "plan_status"
	EventPlanCancelled  LoopEventType = "plan_cancelled"
)

// LoopEvent is a notification from a plan's scheduler loop. Events are
// observability only; consumers must not feed them back into control
// flow.
type LoopEvent struct {
	Type      LoopEventType
	PlanID    string
	TaskID    string
	AgentID   string
	Message   string
	Timestamp time.Time
}

// EventEmitter provides a thread-safe event channel for loop
// subscribers (CLI progress output, external UIs).
type EventEmitter struct {
	events       chan LoopEvent
	droppedCount atomic.Uint64
}

// NewEventEmitter creates an EventEmitter with the given buffer size.
func NewEventEmitter(bufferSize int) *EventEmitter {
	return &EventEmitter{
		events: make(chan LoopEvent, bufferSize),
	}
}

// Emit sends an event to the channel. If the channel stays full it
// drops the event rather than stall the scheduler.
func (e *EventEmitter) Emit(event LoopEvent) {
	select {
	case e.events <- event:
		return
	default:
	}

	// Give the receiver a short window to drain before dropping.
	select {
	case e.events <- event:
	case <-time.After(100 * time.Millisecond):
		count := e.droppedCount.Add(1)
		if count%10 == 1 { // log every 10th drop to avoid spam
			log.Printf("[scheduler] WARNING: event channel full, dropped event (total dropped: %d): type=%s", count, event.Type)
		}
	}
}

// DroppedCount returns the total number of dropped events.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns the read-only event channel.
func (e *EventEmitter) Events() <-chan LoopEvent {
	return e.events
}

// Close closes the event channel. Called once the loop has stopped.
func (e *EventEmitter) Close() {
	close(e.events)
}
