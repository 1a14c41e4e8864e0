package session

import (
	"sort"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/schema"

	"github.com/goliatone/go-facetcache/entity"
	"github.com/goliatone/go-facetcache/internal/dbinfra"
)

// StatementBuilder turns predicates and entities into statements.
type StatementBuilder interface {
	Select(schema *entity.Schema, preds entity.Predicates) Statement
	Upsert(schema *entity.Schema, fields entity.Fields) Statement
	Delete(schema *entity.Schema, preds entity.Predicates) Statement
}

// TableBuilder builds statements for one table per schema, using the schema
// name as table name. Queries are rendered by bun in the dialect of its
// database and keep "?" placeholders, so values travel in Statement.Args.
type TableBuilder struct {
	db *bun.DB

	// TimestampColumn, when set, is written on every upsert with the batch
	// timestamp in microseconds.
	TimestampColumn string
}

var _ StatementBuilder = TableBuilder{}

// placeholder renders as a bare "?" so the value stays a statement argument.
var placeholder = bun.Safe("?")

// NewTableBuilder returns a builder rendering queries for the dialect of db.
func NewTableBuilder(db *bun.DB) TableBuilder {
	return TableBuilder{db: db}
}

// NewDialectBuilder returns a builder for driver without opening a database.
// Only "sqlite3" and "postgres" are supported; mysql needs NewTableBuilder
// over an open connection.
func NewDialectBuilder(driver string) (TableBuilder, error) {
	db, err := dbinfra.Offline(driver)
	if err != nil {
		return TableBuilder{}, err
	}
	return NewTableBuilder(db), nil
}

// MustDialectBuilder is like NewDialectBuilder but panics on error.
func MustDialectBuilder(driver string) TableBuilder {
	b, err := NewDialectBuilder(driver)
	if err != nil {
		panic(err)
	}
	return b
}

// WithTimestampColumn returns a copy stamping column on every upsert.
func (b TableBuilder) WithTimestampColumn(column string) TableBuilder {
	b.TimestampColumn = column
	return b
}

func (b TableBuilder) Select(schema *entity.Schema, preds entity.Predicates) Statement {
	q := b.db.NewSelect().TableExpr("?", bun.Ident(schema.Name))
	if len(schema.Columns) > 0 {
		q = q.Column(schema.Columns...)
	}
	args := where(preds, q.Where)

	return Statement{Schema: schema.Name, Query: render(b.db, q), Args: args, Kind: KindQuery}
}

func (b TableBuilder) Upsert(schema *entity.Schema, fields entity.Fields) Statement {
	values := make(map[string]interface{}, len(fields)+1)
	for c := range fields {
		values[c] = placeholder
	}
	if b.TimestampColumn != "" {
		values[b.TimestampColumn] = placeholder
	}

	// bun writes map model columns sorted by name
	cols := make([]string, 0, len(values))
	for c := range values {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	args := make([]any, len(cols))
	for i, c := range cols {
		if v, ok := fields[c]; ok {
			args[i] = v
		} else {
			args[i] = BatchTimestamp
		}
	}

	q := b.db.NewInsert().Model(&values).TableExpr("?", bun.Ident(schema.Name))

	var conflict []string
	if pk := schema.Primary(); pk != nil {
		conflict = pk.Members()
	}
	var updates []string
	for _, c := range cols {
		if !contains(conflict, c) {
			updates = append(updates, c)
		}
	}

	mysql := b.db.Dialect().Name() == dialect.MySQL
	switch {
	case len(conflict) == 0:
	case mysql:
		q = q.On("DUPLICATE KEY UPDATE")
		if len(updates) == 0 {
			q = q.Set("? = ?", bun.Ident(conflict[0]), bun.Ident(conflict[0]))
		}
		for _, c := range updates {
			q = q.Set("? = VALUES(?)", bun.Ident(c), bun.Ident(c))
		}
	case len(updates) > 0:
		q = q.On("CONFLICT ("+identList(conflict)+") DO UPDATE", idents(conflict)...)
		for _, c := range updates {
			q = q.Set("? = EXCLUDED.?", bun.Ident(c), bun.Ident(c))
		}
	default:
		q = q.On("CONFLICT ("+identList(conflict)+") DO NOTHING", idents(conflict)...)
	}

	return Statement{Schema: schema.Name, Query: render(b.db, q), Args: args, Kind: KindMutation}
}

// Delete removes the rows matching preds. Without predicates every row of the
// table matches.
func (b TableBuilder) Delete(schema *entity.Schema, preds entity.Predicates) Statement {
	q := b.db.NewDelete().TableExpr("?", bun.Ident(schema.Name))
	args := where(preds, q.Where)
	if len(preds) == 0 {
		q = q.Where("1 = 1")
	}

	return Statement{Schema: schema.Name, Query: render(b.db, q), Args: args, Kind: KindMutation}
}

// where adds one clause per predicate through add and returns the arguments
// in placeholder order.
func where[Q any](preds entity.Predicates, add func(string, ...interface{}) Q) []any {
	var args []any
	for _, p := range preds {
		switch len(p.Values) {
		case 0:
			// IN () matches nothing
			add("1 = 0")
		case 1:
			add("? = ?", bun.Ident(p.Column), placeholder)
			args = append(args, p.Values[0])
		default:
			add("? IN ("+identList(p.Values)+")", append([]interface{}{bun.Ident(p.Column)}, placeholders(len(p.Values))...)...)
			args = append(args, p.Values...)
		}
	}
	return args
}

// render formats q without arguments. The queries built here carry no
// user values, so a failure is a programming error.
func render(db *bun.DB, q schema.QueryAppender) string {
	b, err := q.AppendQuery(db.Formatter(), nil)
	if err != nil {
		panic(err)
	}
	return string(b)
}

// identList returns "?, ?, ..." with one placeholder per element.
func identList[T any](values []T) string {
	out := make([]byte, 0, len(values)*3)
	for i := range values {
		if i > 0 {
			out = append(out, ", "...)
		}
		out = append(out, '?')
	}
	return string(out)
}

func idents(cols []string) []interface{} {
	out := make([]interface{}, len(cols))
	for i, c := range cols {
		out[i] = bun.Ident(c)
	}
	return out
}

func placeholders(n int) []interface{} {
	out := make([]interface{}, n)
	for i := range out {
		out[i] = placeholder
	}
	return out
}

func contains(values []string, v string) bool {
	for _, existing := range values {
		if existing == v {
			return true
		}
	}
	return false
}
