package server

import (
	"sync"

	"loom/internal/agent/ports"
	"loom/internal/shared/logging"
)

// backlogSize is how many events a task keeps for subscribers that connect
// after the task started.
const backlogSize = 256

// hub fans task events out to websocket subscribers. Events for a task that
// has no subscriber yet are buffered and replayed on subscribe, so a UI that
// connects a moment after task creation still sees the full stream.
type hub struct {
	logger logging.Logger

	mu          sync.Mutex
	subscribers map[string][]chan ports.Event
	backlog     map[string][]ports.Event
}

func newHub(logger logging.Logger) *hub {
	return &hub{
		logger:      logging.OrNop(logger),
		subscribers: make(map[string][]chan ports.Event),
		backlog:     make(map[string][]ports.Event),
	}
}

// Emit routes one event to the task's subscribers. Slow subscribers drop
// events rather than blocking the state machine.
func (h *hub) Emit(event ports.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	buf := append(h.backlog[event.TaskID], event)
	if len(buf) > backlogSize {
		buf = buf[len(buf)-backlogSize:]
	}
	h.backlog[event.TaskID] = buf

	for _, ch := range h.subscribers[event.TaskID] {
		select {
		case ch <- event:
		default:
			h.logger.Warn("event hub: dropping %s event for slow subscriber of task %s", event.Kind, event.TaskID)
		}
	}
}

// Subscribe returns a channel of events for the task, starting with the
// buffered backlog, plus an unsubscribe func.
func (h *hub) Subscribe(taskID string) (<-chan ports.Event, func()) {
	ch := make(chan ports.Event, backlogSize)

	h.mu.Lock()
	for _, event := range h.backlog[taskID] {
		ch <- event
	}
	h.subscribers[taskID] = append(h.subscribers[taskID], ch)
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		subs := h.subscribers[taskID]
		for i, sub := range subs {
			if sub == ch {
				h.subscribers[taskID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(h.subscribers[taskID]) == 0 {
			delete(h.subscribers, taskID)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Forget drops the task's backlog. Called when the registry retires the task.
func (h *hub) Forget(taskID string) {
	h.mu.Lock()
	delete(h.backlog, taskID)
	h.mu.Unlock()
}
