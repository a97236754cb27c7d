package session

import "sync"

type Navigation string

const (
	NavigateBack   Navigation = "back"
	NavigateRoute  Navigation = "route"
	NavigateLogout Navigation = "logout"
)

// NavigationLocks holds the per-user lock a dashboard shell acquires on
// mount. While held, back navigation is refused; logout is always allowed
// and drops the lock.
type NavigationLocks struct {
	mu   sync.Mutex
	next uint64
	held map[string]uint64
}

func NewNavigationLocks() *NavigationLocks {
	return &NavigationLocks{held: make(map[string]uint64)}
}

// Acquire takes the lock for uid and returns its token. A second mount
// replaces the first holder.
func (l *NavigationLocks) Acquire(uid string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next++
	l.held[uid] = l.next
	return l.next
}

// Release drops the lock if token is still the current holder.
func (l *NavigationLocks) Release(uid string, token uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[uid] != token {
		return false
	}
	delete(l.held, uid)
	return true
}

func (l *NavigationLocks) Held(uid string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[uid]
	return ok
}

// Allow reports whether the navigation may proceed.
func (l *NavigationLocks) Allow(uid string, nav Navigation) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch nav {
	case NavigateLogout:
		delete(l.held, uid)
		return true
	case NavigateBack:
		_, locked := l.held[uid]
		return !locked
	default:
		return true
	}
}
