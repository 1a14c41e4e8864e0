package entity

import (
	"fmt"
	"reflect"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goliatone/go-errors"

	"github.com/goliatone/go-facetcache/facet"
	"github.com/goliatone/go-facetcache/internal/errcode"
)

// PrimaryGroup is the name of the group registered by WithPrimaryKey.
const PrimaryGroup = "pk"

// Schema describes one table or row type: its columns, its identity groups
// (primary key first, then unique secondaries) and how to convert entities.
type Schema struct {
	Name      string
	Columns   []string
	Groups    []*facet.Group
	Codec     Codec
	Shareable bool

	wildcard *facet.Group
}

// NewSchema creates a schema without identity groups.
func NewSchema(name string, codec Codec, columns ...string) *Schema {
	return &Schema{
		Name:    name,
		Columns: append([]string(nil), columns...),
		Codec:   codec,
	}
}

// SchemaFor derives a schema for *T. The name is the snake_case type name and
// the columns come from msgpack tags, falling back to the field name.
func SchemaFor[T any](primaryKey ...string) *Schema {
	rt := reflect.TypeOf((*T)(nil)).Elem()
	s := NewSchema(toSnake(rt.Name()), NewMsgpackCodec[T](), columnsOf(rt)...)
	if len(primaryKey) > 0 {
		s.WithPrimaryKey(primaryKey...)
	}
	return s
}

// WithPrimaryKey registers the primary key group. It must be the first group.
func (s *Schema) WithPrimaryKey(members ...string) *Schema {
	g := facet.NewGroup(s.Name, PrimaryGroup, members...).AsUnique()
	s.Groups = append([]*facet.Group{g}, s.Groups...)
	return s
}

// WithUnique registers a unique secondary lookup group.
func (s *Schema) WithUnique(name string, members ...string) *Schema {
	s.Groups = append(s.Groups, facet.NewGroup(s.Name, name, members...).AsUnique())
	return s
}

// WithGroup registers a prebuilt group, for example one carrying fixed members.
func (s *Schema) WithGroup(g *facet.Group) *Schema {
	s.Groups = append(s.Groups, g)
	return s
}

// AsShareable marks values of the schema as immutable, so scopes may share
// them without cloning.
func (s *Schema) AsShareable() *Schema {
	s.Shareable = true
	return s
}

// Validate checks that the schema can address and convert entities.
func (s *Schema) Validate() error {
	err := validation.ValidateStruct(s,
		validation.Field(&s.Name, validation.Required, validation.By(noSeparators)),
		validation.Field(&s.Codec, validation.Required),
		validation.Field(&s.Groups, validation.Required),
	)
	if err != nil {
		return errors.Wrap(err, errors.CategoryValidation, "invalid schema "+s.Name).
			WithTextCode(errcode.InvalidSchema)
	}
	return nil
}

func noSeparators(value any) error {
	name, _ := value.(string)
	for _, sep := range []string{"::", facet.PairSeparator, facet.MemberSeparator} {
		if strings.Contains(name, sep) {
			return fmt.Errorf("must not contain %q", sep)
		}
	}
	return nil
}

// Primary returns the primary key group, or nil.
func (s *Schema) Primary() *facet.Group {
	for _, g := range s.Groups {
		if g.Name() == PrimaryGroup {
			return g
		}
	}
	if len(s.Groups) > 0 {
		return s.Groups[0]
	}
	return nil
}

// Wildcard returns the wildcard group of the schema.
func (s *Schema) Wildcard() *facet.Group {
	if s.wildcard == nil {
		s.wildcard = facet.NewWildcard(s.Name, s.Columns...)
	}
	return s.wildcard
}

// Fields converts v to its column view.
func (s *Schema) Fields(v any) (Fields, error) {
	return s.Codec.ToFields(v)
}

// Decode converts a database row into an entity.
func (s *Schema) Decode(row map[string]any) (any, error) {
	return s.Codec.FromFields(Fields(row))
}

// Facets returns the bound facets of every identity group whose members are
// all present in v.
func (s *Schema) Facets(v any) ([]facet.Facet, error) {
	fields, err := s.Fields(v)
	if err != nil {
		return nil, err
	}
	return s.FacetsOf(fields), nil
}

// FacetsOf is Facets for an already converted entity.
func (s *Schema) FacetsOf(fields Fields) []facet.Facet {
	formatted := facet.FormatFields(fields)
	out := make([]facet.Facet, 0, len(s.Groups))
	for _, g := range s.Groups {
		if f, ok := g.Binder().BindFields(formatted).Build(); ok {
			out = append(out, f)
		}
	}
	return out
}

// PredicateFacets returns the identity facets fully covered by preds followed
// by the wildcard facet of all predicates.
func (s *Schema) PredicateFacets(preds Predicates) []facet.Facet {
	var out []facet.Facet
	for _, g := range s.Groups {
		if f, ok := preds.bind(g); ok {
			out = append(out, f)
		}
	}
	if f, ok := preds.bind(s.Wildcard()); ok {
		out = append(out, f)
	}
	return out
}

// IdentityFacets is PredicateFacets without the wildcard facet.
func (s *Schema) IdentityFacets(preds Predicates) []facet.Facet {
	var out []facet.Facet
	for _, g := range s.Groups {
		if f, ok := preds.bind(g); ok {
			out = append(out, f)
		}
	}
	return out
}

// Merge combines two values of the same entity field by field. Fields missing
// from next keep the value they have in prev.
func (s *Schema) Merge(prev, next any) (any, error) {
	if prev == nil {
		return next, nil
	}
	if next == nil {
		return prev, nil
	}

	old, err := s.Fields(prev)
	if err != nil {
		return nil, err
	}
	upd, err := s.Fields(next)
	if err != nil {
		return nil, err
	}

	for k, v := range upd {
		old[k] = v
	}
	return s.Codec.FromFields(old)
}

// Clone returns a deep copy of v unless the schema is shareable.
func (s *Schema) Clone(v any) (any, error) {
	if v == nil || s.Shareable {
		return v, nil
	}
	fields, err := s.Fields(v)
	if err != nil {
		return nil, err
	}
	return s.Codec.FromFields(fields)
}

func (s *Schema) String() string {
	return s.Name
}

func columnsOf(rt reflect.Type) []string {
	if rt.Kind() != reflect.Struct {
		return nil
	}
	cols := make([]string, 0, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		name := field.Name
		if tag, ok := field.Tag.Lookup("msgpack"); ok {
			tagName, _, _ := strings.Cut(tag, ",")
			if tagName == "-" {
				continue
			}
			if tagName != "" {
				name = tagName
			}
		}
		cols = append(cols, name)
	}
	return cols
}
