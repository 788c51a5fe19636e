package rates

import "sync"

// ScopeLocker serializes work per (council, period). Imports for different
// scopes never block each other. Entries live only while the scope is held
// or awaited.
type ScopeLocker struct {
	mu    sync.Mutex
	locks map[scopeKey]*scopeLock
}

type scopeKey struct {
	council CouncilID
	period  RatingPeriod
}

type scopeLock struct {
	sync.Mutex
	refs int
}

func NewScopeLocker() *ScopeLocker {
	return &ScopeLocker{locks: make(map[scopeKey]*scopeLock)}
}

// Lock blocks until the scope is free and returns its unlock func.
func (l *ScopeLocker) Lock(scope Scope) func() {
	k := scopeKey{council: scope.Council.ID, period: scope.Period}

	l.mu.Lock()
	m, ok := l.locks[k]
	if !ok {
		m = &scopeLock{}
		l.locks[k] = m
	}
	m.refs++
	l.mu.Unlock()

	m.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			m.Unlock()

			l.mu.Lock()
			m.refs--
			if m.refs == 0 {
				delete(l.locks, k)
			}
			l.mu.Unlock()
		})
	}
}

// Len reports how many scopes are currently held or awaited.
func (l *ScopeLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
