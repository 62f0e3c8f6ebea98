package task

import "time"

// EventType identifies a TaskManager lifecycle event, grounded on the
// teacher library's own EventType/Event pair (events.go): a small enum plus
// a struct carrying the event's context, fanned out to registered handlers.
type EventType int

const (
	// TaskStarted is emitted when a launch attempt begins.
	TaskStarted EventType = iota
	// TaskSucceeded is emitted when a non-persistent launch returns nil.
	TaskSucceeded
	// TaskRetried is emitted when a failed launch is about to be retried.
	TaskRetried
	// TaskFailed is emitted when the retry budget is exhausted.
	TaskFailed
	// TaskCancelled is emitted when a launch observed cancellation.
	TaskCancelled
	// ManagerTornDown is emitted once a manager's Teardown completes its
	// work.
	ManagerTornDown
)

// String returns the EventType's name.
func (et EventType) String() string {
	switch et {
	case TaskStarted:
		return "TaskStarted"
	case TaskSucceeded:
		return "TaskSucceeded"
	case TaskRetried:
		return "TaskRetried"
	case TaskFailed:
		return "TaskFailed"
	case TaskCancelled:
		return "TaskCancelled"
	case ManagerTornDown:
		return "ManagerTornDown"
	default:
		return "Unknown"
	}
}

// Event is emitted for significant TaskManager state changes. Handlers
// should return quickly; they are invoked synchronously from the manager's
// own goroutines.
type Event struct {
	Time    time.Time
	EntryID string
	TaskID  string
	Attempt int
	Type    EventType
	Err     error
}

// EventHandler processes Events. Multiple handlers may be registered with
// WithEventHandler.
type EventHandler func(Event)

func (m *Manager) emit(e Event) {
	if len(m.template.eventHandlers) == 0 {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	e.EntryID = m.entryID
	for _, h := range m.template.eventHandlers {
		h(e)
	}
}
