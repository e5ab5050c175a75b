package subscription

import "sync"

// Scope owns a group of handles and disposes them together.
type Scope struct {
	mu      sync.Mutex
	handles []Handle
	closed  bool
}

func NewScope() *Scope {
	return &Scope{}
}

// Add takes ownership of h. A closed scope disposes h right away.
func (s *Scope) Add(h Handle) Handle {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		h.Dispose()
		return h
	}
	s.handles = append(s.handles, h)
	s.mu.Unlock()
	return h
}

// Close disposes every handle, newest first. Later calls do nothing.
func (s *Scope) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	handles := s.handles
	s.handles = nil
	s.mu.Unlock()

	for i := len(handles) - 1; i >= 0; i-- {
		handles[i].Dispose()
	}
}

func (s *Scope) Dispose() { s.Close() }

// Slot holds at most one handle for a logical stream.
type Slot struct {
	mu sync.Mutex
	h  Handle
}

// Replace disposes the current handle, if any, before calling subscribe and
// keeping what it returns.
func (s *Slot) Replace(subscribe func() Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.h != nil {
		s.h.Dispose()
		s.h = nil
	}
	if subscribe != nil {
		s.h = subscribe()
	}
}

func (s *Slot) Clear() {
	s.Replace(nil)
}

func (s *Slot) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.h != nil
}

func (s *Slot) Dispose() { s.Clear() }
