package cache

import (
	"strings"

	"github.com/goliatone/go-facetcache/facet"
)

// KeySeparator defines the delimiter used between cache key segments.
const KeySeparator = "::"

// defaultKeySerializer joins the schema name and the formatted parts with
// KeySeparator.
type defaultKeySerializer struct{}

// NewDefaultKeySerializer creates a new instance of the default key serializer.
func NewDefaultKeySerializer() KeySerializer {
	return &defaultKeySerializer{}
}

// SerializeKey builds a store key for schema. String parts, such as flattened
// facet keys, are used verbatim; anything else goes through facet.FormatValue.
func (s *defaultKeySerializer) SerializeKey(schema string, parts ...any) string {
	if len(parts) == 0 {
		return schema
	}

	segments := make([]string, 0, len(parts)+1)
	segments = append(segments, schema)
	for _, part := range parts {
		segments = append(segments, facet.FormatValue(part))
	}

	return strings.Join(segments, KeySeparator)
}

// SchemaPrefix returns the prefix shared by every key of schema.
func SchemaPrefix(schema string) string {
	return schema + KeySeparator
}
