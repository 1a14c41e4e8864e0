package session

import (
	"context"
	"time"

	"github.com/goliatone/go-errors"

	"github.com/goliatone/go-facetcache/facet"
	"github.com/goliatone/go-facetcache/internal/errcode"
)

// TextCodeTransport is carried by errors raised by the database transport.
const TextCodeTransport = errcode.Transport

// Kind tells reads apart from mutations.
type Kind int

const (
	KindQuery Kind = iota
	KindMutation
)

func (k Kind) String() string {
	if k == KindMutation {
		return "mutation"
	}
	return "query"
}

type timestampPlaceholder struct{}

func (timestampPlaceholder) String() string { return "<batch timestamp>" }

// BatchTimestamp is a placeholder argument replaced by the logical timestamp
// of the batch the statement is submitted in.
var BatchTimestamp any = timestampPlaceholder{}

// Statement is an opaque, already built database statement.
type Statement struct {
	// Schema names the table the statement reads or writes.
	Schema string
	Query  string
	Args   []any
	Kind   Kind
	// Conditional mutations must affect at least one row, otherwise the
	// whole batch is reported as not applied.
	Conditional bool
}

// Key identifies the statement for memoization.
func (s Statement) Key() string {
	return s.Schema + "|" + s.Query + "|" + facet.FormatValue(s.Args)
}

// IsMutation reports whether the statement writes.
func (s Statement) IsMutation() bool {
	return s.Kind == KindMutation
}

// Row is one result row keyed by column name.
type Row map[string]any

// Session executes statements against the database.
type Session interface {
	// Execute runs a single statement and returns its rows.
	Execute(ctx context.Context, stmt Statement) ([]Row, error)
	// ExecuteBatch submits statements atomically at the logical timestamp ts.
	// It reports false when the database did not apply the batch.
	ExecuteBatch(ctx context.Context, stmts []Statement, ts time.Time) (bool, error)
}

// TransportError wraps a driver or network failure.
func TransportError(source error, msg string) error {
	return errors.Wrap(source, errors.CategoryExternal, msg).WithTextCode(TextCodeTransport)
}

// IsTransport reports whether err was raised by the database transport.
func IsTransport(err error) bool {
	return errcode.Has(err, TextCodeTransport)
}
