package entity

import (
	"fmt"

	"github.com/goliatone/go-errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/goliatone/go-facetcache/internal/errcode"
)

// Fields is the column view of an entity. A column missing from the map is
// "not present", which is different from a present zero value.
type Fields map[string]any

// Clone returns a shallow copy of f.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Codec converts entities to and from their column view.
type Codec interface {
	ToFields(v any) (Fields, error)
	FromFields(fields Fields) (any, error)
}

// msgpackCodec converts *T values through msgpack struct tags. Zero fields
// tagged omitempty are left out of ToFields, which is how partial entities
// express missing columns.
type msgpackCodec[T any] struct{}

// NewMsgpackCodec returns a Codec for *T.
func NewMsgpackCodec[T any]() Codec {
	return msgpackCodec[T]{}
}

func (msgpackCodec[T]) ToFields(v any) (Fields, error) {
	switch t := v.(type) {
	case nil:
		return nil, codecError(fmt.Sprintf("cannot encode nil %T", *new(T)), nil)
	case *T:
		if t == nil {
			return nil, codecError(fmt.Sprintf("cannot encode nil %T", t), nil)
		}
	case T:
		v = &t
	case Fields:
		return t.Clone(), nil
	case map[string]any:
		return Fields(t).Clone(), nil
	default:
		return nil, codecError(fmt.Sprintf("unexpected entity type %T, want %T", v, new(T)), nil)
	}

	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, codecError("encode entity", err)
	}

	fields := make(Fields)
	if err := msgpack.Unmarshal(data, (*map[string]any)(&fields)); err != nil {
		return nil, codecError("decode entity fields", err)
	}
	return fields, nil
}

func (msgpackCodec[T]) FromFields(fields Fields) (any, error) {
	data, err := msgpack.Marshal(map[string]any(fields))
	if err != nil {
		return nil, codecError("encode fields", err)
	}

	out := new(T)
	if err := msgpack.Unmarshal(data, out); err != nil {
		return nil, codecError("decode entity", err)
	}
	return out, nil
}

// FieldsCodec stores entities as plain Fields maps. It is useful for
// untyped rows and tests.
type FieldsCodec struct{}

func (FieldsCodec) ToFields(v any) (Fields, error) {
	switch t := v.(type) {
	case Fields:
		return t.Clone(), nil
	case map[string]any:
		return Fields(t).Clone(), nil
	default:
		return nil, codecError(fmt.Sprintf("unexpected entity type %T, want entity.Fields", v), nil)
	}
}

func (FieldsCodec) FromFields(fields Fields) (any, error) {
	return fields.Clone(), nil
}

func codecError(msg string, source error) error {
	if source == nil {
		return errors.New(msg, errors.CategoryBadInput).WithTextCode(errcode.Codec)
	}
	return errors.Wrap(source, errors.CategoryInternal, msg).WithTextCode(errcode.Codec)
}
