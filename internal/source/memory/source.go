// Package memory provides an in-process event source for development and
// tests.
package memory

import (
	"context"
	"sync"

	"github.com/partlab/partscope/internal/tracker"
)

// Source fans published stage events out to per-job subscribers. It is safe
// for concurrent use.
type Source struct {
	mu   sync.Mutex
	subs map[string]map[int]func(tracker.StageEvent)
	next int
}

// New constructs an empty Source.
func New() *Source {
	return &Source{subs: make(map[string]map[int]func(tracker.StageEvent))}
}

// Subscribe registers handler for jobID's events. The returned unsubscribe
// function is idempotent.
func (s *Source) Subscribe(_ context.Context, jobID string, handler func(tracker.StageEvent)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs[jobID] == nil {
		s.subs[jobID] = make(map[int]func(tracker.StageEvent))
	}
	id := s.next
	s.next++
	s.subs[jobID][id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs[jobID], id)
		})
	}, nil
}

// Publish delivers evt to every current subscriber for jobID.
func (s *Source) Publish(jobID string, evt tracker.StageEvent) {
	s.mu.Lock()
	handlers := make([]func(tracker.StageEvent), 0, len(s.subs[jobID]))
	for _, h := range s.subs[jobID] {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()
	for _, h := range handlers {
		h(evt)
	}
}

// SubscriberCount reports the live subscriptions for jobID.
func (s *Source) SubscriberCount(jobID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[jobID])
}
