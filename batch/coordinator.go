package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-errors"

	"github.com/goliatone/go-facetcache/internal/errcode"
	"github.com/goliatone/go-facetcache/logger"
	"github.com/goliatone/go-facetcache/session"
)

const (
	TextCodeNotApplied = errcode.BatchNotApplied
	TextCodeTooLarge   = errcode.BatchTooLarge
)

// Result describes one submitted batch.
type Result struct {
	Applied    bool
	Timestamp  time.Time
	Statements int
}

// Coordinator queues the mutations of a unit of work and submits them as one
// atomic batch. It is not safe for concurrent use; the owning unit of work
// serializes access.
type Coordinator struct {
	stmts         []session.Statement
	clock         *Clock
	maxStatements int
	log           logger.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock shares a clock between coordinators.
func WithClock(c *Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

// WithMaxStatements limits the size of one batch. Zero means no limit.
func WithMaxStatements(n int) Option {
	return func(co *Coordinator) { co.maxStatements = n }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(co *Coordinator) { co.log = l }
}

// New returns an empty coordinator.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{log: logger.NopLogger}
	for _, opt := range opts {
		opt(c)
	}
	if c.clock == nil {
		c.clock = NewClock()
	}
	return c
}

// Add queues a statement.
func (c *Coordinator) Add(stmt session.Statement) {
	c.stmts = append(c.stmts, stmt)
}

// AddAll appends the queue of other, leaving other untouched.
func (c *Coordinator) AddAll(other *Coordinator) {
	if other == nil {
		return
	}
	c.stmts = append(c.stmts, other.stmts...)
}

// Len returns the number of queued statements.
func (c *Coordinator) Len() int {
	return len(c.stmts)
}

// Statements returns a copy of the queue.
func (c *Coordinator) Statements() []session.Statement {
	return append([]session.Statement(nil), c.stmts...)
}

// Reset drops every queued statement.
func (c *Coordinator) Reset() {
	c.stmts = nil
}

// Execute submits the queue as one batch stamped with a single logical
// timestamp. An empty queue is a successful no-op that never reaches the
// session. The queue is kept, so a failed batch can be inspected.
func (c *Coordinator) Execute(ctx context.Context, sess session.Session) (Result, error) {
	if len(c.stmts) == 0 {
		return Result{Applied: true}, nil
	}

	if c.maxStatements > 0 && len(c.stmts) > c.maxStatements {
		return Result{Statements: len(c.stmts)}, errors.New(
			fmt.Sprintf("batch of %d statements exceeds the limit of %d", len(c.stmts), c.maxStatements),
			errors.CategoryBadInput,
		).WithTextCode(TextCodeTooLarge)
	}

	ts := c.clock.Next()
	stmts := stamp(c.stmts, ts)
	res := Result{Timestamp: ts, Statements: len(stmts)}

	c.log.Debugf("submitting batch of %d statements at %d", len(stmts), ts.UnixMicro())

	applied, err := sess.ExecuteBatch(ctx, stmts, ts)
	if err != nil {
		if !session.IsTransport(err) {
			err = session.TransportError(err, "execute batch")
		}
		return res, err
	}
	if !applied {
		return res, errors.New(
			fmt.Sprintf("batch of %d statements at %d was not applied", len(stmts), ts.UnixMicro()),
			errors.CategoryConflict,
		).WithTextCode(TextCodeNotApplied)
	}

	res.Applied = true
	return res, nil
}

// IsNotApplied reports whether err reports a batch the database rejected.
func IsNotApplied(err error) bool {
	return errcode.Has(err, TextCodeNotApplied)
}

// IsTooLarge reports whether err reports a batch over the statement limit.
func IsTooLarge(err error) bool {
	return errcode.Has(err, TextCodeTooLarge)
}

// stamp copies stmts replacing every BatchTimestamp argument with ts in
// microseconds.
func stamp(stmts []session.Statement, ts time.Time) []session.Statement {
	out := make([]session.Statement, len(stmts))
	micros := ts.UnixMicro()
	for i, stmt := range stmts {
		out[i] = stmt
		copied := false
		for j, arg := range stmt.Args {
			if arg != session.BatchTimestamp {
				continue
			}
			if !copied {
				out[i].Args = append([]any(nil), stmt.Args...)
				copied = true
			}
			out[i].Args[j] = micros
		}
	}
	return out
}
