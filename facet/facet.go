package facet

import (
	"fmt"
	"sort"
	"strings"

	"github.com/goliatone/go-errors"
)

const (
	// PairSeparator joins a member name with its value.
	PairSeparator = "=="

	// MemberSeparator joins the member pairs of a single key.
	MemberSeparator = "&&"

	// WildcardName is the group name used by wildcard groups.
	WildcardName = "*"

	// TextCodeUnknownMember is attached to errors returned when binding a member
	// that does not belong to the group.
	TextCodeUnknownMember = "UNKNOWN_MEMBER"

	// TextCodeFixedMember is attached to errors returned when binding a member
	// whose value was fixed at construction time.
	TextCodeFixedMember = "FIXED_MEMBER"
)

// Group is one lookup path of a schema.
type Group struct {
	schema   string
	name     string
	members  []string
	fixed    map[string]string
	unique   bool
	wildcard bool
	order    map[string]int
}

// NewGroup creates a group for schema with members in declaration order.
func NewGroup(schema, name string, members ...string) *Group {
	return &Group{
		schema:  schema,
		name:    name,
		members: dedupe(members),
		fixed:   make(map[string]string),
	}
}

// NewWildcard creates a group that accepts any member. Columns give the order
// used to sort bound members; members not listed sort after them lexically.
func NewWildcard(schema string, columns ...string) *Group {
	order := make(map[string]int, len(columns))
	for i, c := range columns {
		if _, ok := order[c]; !ok {
			order[c] = i
		}
	}
	return &Group{
		schema:   schema,
		name:     WildcardName,
		fixed:    make(map[string]string),
		wildcard: true,
		order:    order,
	}
}

// WithFixed adds a member whose value is known at construction time.
// It must be called before the group is shared.
func (g *Group) WithFixed(member, value string) *Group {
	if !g.wildcard && !contains(g.members, member) {
		g.members = append(g.members, member)
	}
	g.fixed[member] = value
	return g
}

// AsUnique marks the group as identifying at most one entity.
func (g *Group) AsUnique() *Group {
	g.unique = true
	return g
}

// Schema returns the schema (table or row type) name the group belongs to.
func (g *Group) Schema() string { return g.schema }

// Name returns the group name.
func (g *Group) Name() string { return g.name }

// Members returns a copy of the declared members.
func (g *Group) Members() []string { return append([]string(nil), g.members...) }

// IsUnique reports whether the group identifies at most one entity.
func (g *Group) IsUnique() bool { return g.unique }

// IsWildcard reports whether the group accepts any member.
func (g *Group) IsWildcard() bool { return g.wildcard }

// Fixed returns the fixed value of member, if any.
func (g *Group) Fixed(member string) (string, bool) {
	v, ok := g.fixed[member]
	return v, ok
}

// HasMember reports whether member can be bound on the group.
func (g *Group) HasMember(member string) bool {
	return g.wildcard || contains(g.members, member)
}

// Binder returns an empty binder for the group.
func (g *Group) Binder() *Binder {
	return &Binder{group: g, values: make(map[string][]string)}
}

func (g *Group) String() string {
	return g.schema + "." + g.name
}

// Binder accumulates member assignments for one group.
type Binder struct {
	group  *Group
	values map[string][]string
}

// Bind assigns values to member. Several values model an IN predicate.
// Binding with no values leaves the member unbound.
func (b *Binder) Bind(member string, values ...string) error {
	if !b.group.HasMember(member) {
		return errors.New(
			fmt.Sprintf("member %q is not part of facet group %s", member, b.group),
			errors.CategoryBadInput,
		).WithTextCode(TextCodeUnknownMember)
	}
	if _, ok := b.group.fixed[member]; ok {
		return errors.New(
			fmt.Sprintf("member %q of facet group %s is fixed", member, b.group),
			errors.CategoryBadInput,
		).WithTextCode(TextCodeFixedMember)
	}
	if len(values) == 0 {
		return nil
	}
	existing := b.values[member]
	for _, v := range values {
		if !contains(existing, v) {
			existing = append(existing, v)
		}
	}
	b.values[member] = existing
	return nil
}

// BindFields binds every group member present in fields and ignores the rest.
// Wildcard groups bind every field.
func (b *Binder) BindFields(fields map[string]string) *Binder {
	for member, value := range fields {
		if !b.group.HasMember(member) {
			continue
		}
		if _, ok := b.group.fixed[member]; ok {
			continue
		}
		_ = b.Bind(member, value)
	}
	return b
}

// IsFullyBound reports whether every variable member has at least one value.
// A wildcard binder is fully bound once it holds any assignment.
func (b *Binder) IsFullyBound() bool {
	if b.group.wildcard {
		return len(b.values) > 0 || len(b.group.fixed) > 0
	}
	for _, m := range b.group.members {
		if _, ok := b.group.fixed[m]; ok {
			continue
		}
		if len(b.values[m]) == 0 {
			return false
		}
	}
	return true
}

// Build returns the bound facet, or false when the binder is not fully bound.
func (b *Binder) Build() (Facet, bool) {
	if !b.IsFullyBound() {
		return Facet{}, false
	}

	members := b.orderedMembers()
	values := make([][]string, len(members))
	for i, m := range members {
		if v, ok := b.group.fixed[m]; ok {
			values[i] = []string{v}
			continue
		}
		values[i] = append([]string(nil), b.values[m]...)
	}

	return Facet{group: b.group, members: members, values: values}, true
}

func (b *Binder) orderedMembers() []string {
	if !b.group.wildcard {
		return append([]string(nil), b.group.members...)
	}

	members := make([]string, 0, len(b.values)+len(b.group.fixed))
	for m := range b.values {
		members = append(members, m)
	}
	for m := range b.group.fixed {
		if _, ok := b.values[m]; !ok {
			members = append(members, m)
		}
	}

	order := b.group.order
	sort.Slice(members, func(i, j int) bool {
		oi, iok := order[members[i]]
		oj, jok := order[members[j]]
		switch {
		case iok && jok:
			return oi < oj
		case iok:
			return true
		case jok:
			return false
		default:
			return members[i] < members[j]
		}
	})
	return members
}

// Facet is a fully bound group.
type Facet struct {
	group   *Group
	members []string
	values  [][]string
}

// Group returns the group the facet was built from.
func (f Facet) Group() *Group { return f.group }

// Schema returns the schema name of the facet.
func (f Facet) Schema() string {
	if f.group == nil {
		return ""
	}
	return f.group.schema
}

// IsZero reports whether the facet was never built.
func (f Facet) IsZero() bool { return f.group == nil }

// Keys returns the key strings of the facet, one per Cartesian combination of
// bound values.
func (f Facet) Keys() []string {
	if f.group == nil || len(f.members) == 0 {
		return nil
	}

	total := 1
	for _, v := range f.values {
		total *= len(v)
	}

	keys := make([]string, 0, total)
	idx := make([]int, len(f.members))
	parts := make([]string, len(f.members))
	for {
		for i, m := range f.members {
			parts[i] = m + PairSeparator + f.values[i][idx[i]]
		}
		keys = append(keys, strings.Join(parts, MemberSeparator))

		// advance the odometer, last member fastest
		pos := len(idx) - 1
		for pos >= 0 {
			idx[pos]++
			if idx[pos] < len(f.values[pos]) {
				break
			}
			idx[pos] = 0
			pos--
		}
		if pos < 0 {
			return keys
		}
	}
}

// Matches reports whether an entity with the given formatted fields is
// addressed by f. Fixed members the entity does not carry are ignored.
func (f Facet) Matches(fields map[string]string) bool {
	if f.group == nil {
		return false
	}
	for i, m := range f.members {
		v, ok := fields[m]
		if !ok {
			if _, fixed := f.group.fixed[m]; fixed {
				continue
			}
			return false
		}
		if !contains(f.values[i], v) {
			return false
		}
	}
	return true
}

func (f Facet) String() string {
	if f.group == nil {
		return "<unbound>"
	}
	return f.group.String() + "{" + strings.Join(f.Keys(), "|") + "}"
}

// Key is one flattened cache address.
type Key struct {
	Schema string
	Value  string
}

func (k Key) String() string {
	return k.Schema + "/" + k.Value
}

// Flatten expands facets into the ordered, deduplicated set of keys under which
// an entity must be written or checked.
func Flatten(facets ...Facet) []Key {
	seen := make(map[Key]struct{})
	var out []Key
	for _, f := range facets {
		schema := f.Schema()
		for _, k := range f.Keys() {
			key := Key{Schema: schema, Value: k}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, key)
		}
	}
	return out
}

// KeyValues is Flatten restricted to the key strings.
func KeyValues(facets ...Facet) []string {
	keys := Flatten(facets...)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.Value
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

func dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" || contains(out, v) {
			continue
		}
		out = append(out, v)
	}
	return out
}
