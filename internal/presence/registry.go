package presence

import "sync"

// Process-wide registry. Nothing in this package reads it; it exists for
// hosts that cannot pass the *Service around explicitly. Tests should call
// ClearGlobal when done.
var global struct {
	mu  sync.RWMutex
	svc *Service
}

// SetGlobal installs s and returns the service it replaced, if any.
func SetGlobal(s *Service) *Service {
	global.mu.Lock()
	defer global.mu.Unlock()
	prev := global.svc
	global.svc = s
	return prev
}

func Global() (*Service, bool) {
	global.mu.RLock()
	defer global.mu.RUnlock()
	return global.svc, global.svc != nil
}

// ClearGlobal removes and returns the installed service. It does not destroy it.
func ClearGlobal() *Service {
	return SetGlobal(nil)
}
