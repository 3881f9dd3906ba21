package convert

import (
	"fmt"
	"reflect"

	"github.com/aretw0/trestle/pkg/domain"
)

// Binding is an explicit field-mapping table for one bridgeable host type.
// Tables are declared with the Bind builder at startup, so mappings are
// checked at compile time and conversions pay no per-call reflection over
// struct fields.
type Binding struct {
	name   string
	typ    reflect.Type
	fields []boundField
	byKey  map[string]int
}

type boundField struct {
	key string
	get func(host any) (any, error)
	set func(host any, v domain.Value, r *Registry) error
}

// Name returns the binding's registered type name.
func (b *Binding) Name() string { return b.name }

// toHost builds a new host value from a dynamic map. Unmapped keys are
// skipped and logged: structural mapping is best effort, a partial map must
// not fail the whole conversion.
func (b *Binding) toHost(r *Registry, v domain.Value) (any, error) {
	host := reflect.New(b.typ).Interface()
	for _, key := range v.Keys() {
		if key == "__type" {
			continue
		}
		idx, ok := b.byKey[key]
		if !ok {
			r.logger.Debug("skipping unmapped property", "type", b.name, "key", key)
			continue
		}
		item, _ := v.Get(key)
		if err := b.fields[idx].set(host, item, r); err != nil {
			return nil, &domain.ConversionError{
				From:   "map",
				To:     b.typ.String(),
				Reason: fmt.Sprintf("property %q", key),
				Cause:  err,
			}
		}
	}
	return reflect.ValueOf(host).Elem().Interface(), nil
}

// toDynamic renders the host value as an ordered map, field declaration
// order preserved.
func (b *Binding) toDynamic(r *Registry, host any, preserveTypeTag bool) (domain.Value, error) {
	out := domain.Map()
	if preserveTypeTag {
		out.Set("__type", domain.String(b.name))
	}
	for _, f := range b.fields {
		raw, err := f.get(host)
		if err != nil {
			return domain.Value{}, &domain.ConversionError{
				From:   b.typ.String(),
				To:     "map",
				Reason: fmt.Sprintf("property %q", f.key),
				Cause:  err,
			}
		}
		item, err := r.toDynamic(raw, preserveTypeTag)
		if err != nil {
			return domain.Value{}, err
		}
		out.Set(f.key, item)
	}
	return out, nil
}

// Builder declares a bridgeable type's field table. T must be a struct.
type Builder[T any] struct {
	name   string
	fields []boundField
	byKey  map[string]int
}

// Bind starts a field-mapping table for T under the given dynamic type
// name.
func Bind[T any](name string) *Builder[T] {
	return &Builder[T]{name: name, byKey: map[string]int{}}
}

// Field maps a dynamic key to a getter and setter over T. Use the key to
// rename; omit a field entirely to ignore it.
func (b *Builder[T]) Field(key string, get func(T) any, set func(*T, domain.Value, *Registry) error) *Builder[T] {
	b.byKey[key] = len(b.fields)
	b.fields = append(b.fields, boundField{
		key: key,
		get: func(host any) (any, error) {
			t, ok := host.(T)
			if !ok {
				return nil, fmt.Errorf("binding %q applied to %T", b.name, host)
			}
			return get(t), nil
		},
		set: func(host any, v domain.Value, r *Registry) error {
			t, ok := host.(*T)
			if !ok {
				return fmt.Errorf("binding %q applied to %T", b.name, host)
			}
			return set(t, v, r)
		},
	})
	return b
}

// Float maps a numeric field: dynamic ints widen, anything else fails.
func (b *Builder[T]) Float(key string, get func(T) float64, set func(*T, float64)) *Builder[T] {
	return b.Field(key,
		func(t T) any { return get(t) },
		func(t *T, v domain.Value, _ *Registry) error {
			switch v.Kind() {
			case domain.KindFloat, domain.KindInt:
				set(t, v.Float())
				return nil
			default:
				return fmt.Errorf("expected number, got %s", v.Kind())
			}
		})
}

// String maps a string field.
func (b *Builder[T]) String(key string, get func(T) string, set func(*T, string)) *Builder[T] {
	return b.Field(key,
		func(t T) any { return get(t) },
		func(t *T, v domain.Value, _ *Registry) error {
			if v.Kind() != domain.KindString {
				return fmt.Errorf("expected string, got %s", v.Kind())
			}
			set(t, v.Str())
			return nil
		})
}

// Bool maps a boolean field.
func (b *Builder[T]) Bool(key string, get func(T) bool, set func(*T, bool)) *Builder[T] {
	return b.Field(key,
		func(t T) any { return get(t) },
		func(t *T, v domain.Value, _ *Registry) error {
			if v.Kind() != domain.KindBool {
				return fmt.Errorf("expected bool, got %s", v.Kind())
			}
			set(t, v.Bool())
			return nil
		})
}

// Nested maps a field whose value is itself converted through the
// registry, e.g. a Point inside a BoundingBox.
func (b *Builder[T]) Nested(key string, fieldType reflect.Type, get func(T) any, set func(*T, any)) *Builder[T] {
	return b.Field(key,
		func(t T) any { return get(t) },
		func(t *T, v domain.Value, r *Registry) error {
			converted, err := r.toHost(v, fieldType)
			if err != nil {
				return err
			}
			set(t, converted)
			return nil
		})
}

// Build seals the table.
func (b *Builder[T]) Build() *Binding {
	var zero T
	return &Binding{
		name:   b.name,
		typ:    reflect.TypeOf(zero),
		fields: b.fields,
		byKey:  b.byKey,
	}
}
