package app

import "sync"

// hub fans attempt updates out to in-process subscribers (e.g. several tabs on
// one attempt). It is a notification path only; the store stays authoritative.
type hub struct {
	mu          sync.Mutex
	subscribers map[string]map[chan AttemptState]struct{}
}

func newHub() *hub {
	return &hub{subscribers: make(map[string]map[chan AttemptState]struct{})}
}

func (h *hub) subscribe(attemptID string, initial AttemptState) (<-chan AttemptState, func()) {
	ch := make(chan AttemptState, 8)
	ch <- initial

	h.mu.Lock()
	subs, ok := h.subscribers[attemptID]
	if !ok {
		subs = make(map[chan AttemptState]struct{})
		h.subscribers[attemptID] = subs
	}
	subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs, ok := h.subscribers[attemptID]
		if !ok {
			return
		}
		if _, ok := subs[ch]; ok {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(h.subscribers, attemptID)
		}
	}
	return ch, cancel
}

func (h *hub) publish(state AttemptState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers[state.ID] {
		select {
		case ch <- state:
		default:
			// Slow subscriber: drop its oldest update so the newest always lands.
			select {
			case <-ch:
			default:
			}
			ch <- state
		}
	}
}

func (h *hub) subscriberCount(attemptID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers[attemptID])
}
