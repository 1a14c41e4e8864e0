package testsupport

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-facetcache/session"
)

var _ session.Session = (*MemorySession)(nil)

// MemorySession is a session.Session double. Reads return rows registered
// with SetRows; batches are recorded and can be made to fail.
type MemorySession struct {
	mu         sync.Mutex
	rows       map[string][]session.Row
	executed   []session.Statement
	batches    [][]session.Statement
	timestamps []time.Time

	// NotApplied makes ExecuteBatch report the batch as not applied.
	NotApplied bool
	// BatchErr is returned by ExecuteBatch when set.
	BatchErr error
	// ExecuteErr is returned by Execute when set.
	ExecuteErr error
}

// NewMemorySession returns an empty MemorySession.
func NewMemorySession() *MemorySession {
	return &MemorySession{rows: make(map[string][]session.Row)}
}

// SetRows registers the rows returned for stmt.
func (m *MemorySession) SetRows(stmt session.Statement, rows ...session.Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[stmt.Key()] = rows
}

func (m *MemorySession) Execute(ctx context.Context, stmt session.Statement) ([]session.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.executed = append(m.executed, stmt)
	if m.ExecuteErr != nil {
		return nil, m.ExecuteErr
	}

	rows := m.rows[stmt.Key()]
	out := make([]session.Row, len(rows))
	for i, r := range rows {
		cp := make(session.Row, len(r))
		for k, v := range r {
			cp[k] = v
		}
		out[i] = cp
	}
	return out, nil
}

func (m *MemorySession) ExecuteBatch(ctx context.Context, stmts []session.Statement, ts time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.batches = append(m.batches, append([]session.Statement(nil), stmts...))
	m.timestamps = append(m.timestamps, ts)
	if m.BatchErr != nil {
		return false, m.BatchErr
	}
	return !m.NotApplied, nil
}

// Executed returns every statement passed to Execute.
func (m *MemorySession) Executed() []session.Statement {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]session.Statement(nil), m.executed...)
}

// Reads returns the number of Execute calls.
func (m *MemorySession) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.executed)
}

// Batches returns every submitted batch.
func (m *MemorySession) Batches() [][]session.Statement {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]session.Statement(nil), m.batches...)
}

// Timestamps returns the timestamp of every submitted batch.
func (m *MemorySession) Timestamps() []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Time(nil), m.timestamps...)
}
