package runner

import "sync"

// Query is the navigable state a session starts from and rewrites after it
// creates a record.
type Query struct {
	ProjectID  string
	TestCaseID string
	Name       string
}

// Location exposes the current query and lets the session replace it
// without a reload.
type Location interface {
	Query() Query
	Replace(Query)
}

// MemoryLocation is a Location held in memory. It keeps every replaced
// query for inspection.
type MemoryLocation struct {
	mu      sync.Mutex
	current Query
	history []Query
}

// NewMemoryLocation starts at q.
func NewMemoryLocation(q Query) *MemoryLocation {
	return &MemoryLocation{current: q}
}

func (l *MemoryLocation) Query() Query {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

func (l *MemoryLocation) Replace(q Query) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.history = append(l.history, l.current)
	l.current = q
}

// History returns the queries that were replaced, oldest first.
func (l *MemoryLocation) History() []Query {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Query(nil), l.history...)
}
