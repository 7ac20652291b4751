package connection

import "sync"

// sharedInfo guards one connection's ConnectionInfo. The owning actor is the
// only writer; any number of status readers take copies.
type sharedInfo struct {
	mu   sync.RWMutex
	info ConnectionInfo
}

func (s *sharedInfo) snapshot() ConnectionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

func (s *sharedInfo) update(fn func(*ConnectionInfo)) {
	s.mu.Lock()
	fn(&s.info)
	s.mu.Unlock()
}
