package entity

import "github.com/goliatone/go-facetcache/facet"

// Predicate is an equality (one value) or IN (several values) filter on one
// column.
type Predicate struct {
	Column string
	Values []any
}

// Eq returns an equality predicate.
func Eq(column string, value any) Predicate {
	return Predicate{Column: column, Values: []any{value}}
}

// In returns an IN predicate.
func In(column string, values ...any) Predicate {
	return Predicate{Column: column, Values: values}
}

// Predicates is a conjunction of column filters.
type Predicates []Predicate

// Where builds Predicates from column/value pairs.
func Where(column string, value any) Predicates {
	return Predicates{Eq(column, value)}
}

// And appends an equality predicate.
func (p Predicates) And(column string, value any) Predicates {
	return append(p, Eq(column, value))
}

// AndIn appends an IN predicate.
func (p Predicates) AndIn(column string, values ...any) Predicates {
	return append(p, In(column, values...))
}

// Columns returns the filtered columns in order.
func (p Predicates) Columns() []string {
	out := make([]string, 0, len(p))
	for _, pred := range p {
		out = append(out, pred.Column)
	}
	return out
}

// Matches reports whether fields satisfy every predicate.
func (p Predicates) Matches(fields Fields) bool {
	for _, pred := range p {
		v, ok := fields[pred.Column]
		if !ok {
			return false
		}
		got := facet.FormatValue(v)
		found := false
		for _, want := range pred.Values {
			if facet.FormatValue(want) == got {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (p Predicates) bind(g *facet.Group) (facet.Facet, bool) {
	b := g.Binder()
	for _, pred := range p {
		if !g.HasMember(pred.Column) {
			continue
		}
		values := make([]string, len(pred.Values))
		for i, v := range pred.Values {
			values[i] = facet.FormatValue(v)
		}
		if fixedValue, fixed := g.Fixed(pred.Column); fixed {
			// a predicate that excludes the fixed value never reaches this group
			if !containsString(values, fixedValue) {
				return facet.Facet{}, false
			}
			continue
		}
		if err := b.Bind(pred.Column, values...); err != nil {
			return facet.Facet{}, false
		}
	}
	return b.Build()
}

func containsString(values []string, v string) bool {
	for _, existing := range values {
		if existing == v {
			return true
		}
	}
	return false
}
