package poller

import "sync"

// Signals lets an out-of-band notification cut a poll interval short.
// SonarQube's completion webhook feeds it; polling stays authoritative.
type Signals struct {
	mu      sync.Mutex
	waiters map[string]map[chan struct{}]struct{}
}

// NewSignals returns an empty registry.
func NewSignals() *Signals {
	return &Signals{waiters: make(map[string]map[chan struct{}]struct{})}
}

// Subscribe registers interest in token. The returned channel receives at
// most one pending wake-up at a time. cancel must be called when done.
func (s *Signals) Subscribe(token string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	s.mu.Lock()
	set, ok := s.waiters[token]
	if !ok {
		set = make(map[chan struct{}]struct{})
		s.waiters[token] = set
	}
	set[ch] = struct{}{}
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if set, ok := s.waiters[token]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(s.waiters, token)
			}
		}
	}
}

// Notify wakes every waiter on token and reports whether any existed.
func (s *Signals) Notify(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.waiters[token]
	for ch := range set {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return len(set) > 0
}
