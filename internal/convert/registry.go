// Package convert implements the bidirectional type-conversion engine that
// marshals values between the scripting runtime's dynamic shapes and the
// host object model's typed values.
//
// Conversion rules, enum tables and bridgeable-type bindings are registered
// once at startup and frozen; after Freeze the lookup tables are read
// concurrently without locking. Only the statistics block takes a lock.
package convert

import (
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"sync"
	"time"

	"github.com/aretw0/trestle/internal/logging"
	"github.com/aretw0/trestle/pkg/domain"
)

// ToHostFunc converts a dynamic value to a host value of a fixed type.
type ToHostFunc func(v domain.Value) (any, error)

// ToDynamicFunc converts a host value to its dynamic shape.
type ToDynamicFunc func(hostValue any) (domain.Value, error)

type ruleKey struct {
	src    domain.Kind
	target reflect.Type
}

type enumTable struct {
	name    string
	typ     reflect.Type
	byName  map[string]int64
	byValue map[int64]string
}

// wellKnown pairs the two directions of a named converter, e.g. "point".
type wellKnown struct {
	name      string
	target    reflect.Type
	toHost    ToHostFunc
	toDynamic ToDynamicFunc
}

// Registry holds conversion rules, enum tables, bridgeable-type bindings
// and conversion statistics. It is safe for concurrent use once frozen.
type Registry struct {
	logger *slog.Logger

	mu     sync.Mutex // guards registration before freeze
	frozen bool

	toHostRules    map[ruleKey]ToHostFunc
	toDynamicRules map[reflect.Type]ToDynamicFunc
	wellKnown      map[string]wellKnown
	enums          map[reflect.Type]*enumTable
	bindings       map[reflect.Type]*Binding
	bindingsByName map[string]*Binding

	// equivalence answers CanConvert without performing a conversion.
	// Populated by bidirectional registrations.
	equiv map[ruleKey]bool

	statsMu sync.Mutex
	stats   statsBlock
}

type statsBlock struct {
	toHostOK      uint64
	toHostFail    uint64
	toDynamicOK   uint64
	toDynamicFail uint64
	pairs         map[string]uint64
	count         uint64
	meanNanos     float64
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:         logging.Component(logger, "convert"),
		toHostRules:    map[ruleKey]ToHostFunc{},
		toDynamicRules: map[reflect.Type]ToDynamicFunc{},
		wellKnown:      map[string]wellKnown{},
		enums:          map[reflect.Type]*enumTable{},
		bindings:       map[reflect.Type]*Binding{},
		bindingsByName: map[string]*Binding{},
		equiv:          map[ruleKey]bool{},
		stats:          statsBlock{pairs: map[string]uint64{}},
	}
}

// Freeze marks registration complete. Further Register calls fail.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

func (r *Registry) registrable(what string) error {
	if r.frozen {
		return fmt.Errorf("registry frozen: cannot register %s after startup", what)
	}
	return nil
}

// RegisterRule installs a custom conversion for an exact (source kind,
// target type) pair. Rules take precedence over every builtin path except
// identity.
func (r *Registry) RegisterRule(src domain.Kind, target reflect.Type, fn ToHostFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.registrable("rule"); err != nil {
		return err
	}
	r.toHostRules[ruleKey{src, target}] = fn
	r.equiv[ruleKey{src, target}] = true
	return nil
}

// RegisterToDynamic installs a custom host-to-dynamic conversion for an
// exact host type.
func (r *Registry) RegisterToDynamic(hostType reflect.Type, fn ToDynamicFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.registrable("rule"); err != nil {
		return err
	}
	r.toDynamicRules[hostType] = fn
	return nil
}

// RegisterBidirectional installs both directions for a named well-known
// host type (e.g. "point") and records the pair in the equivalence map.
func (r *Registry) RegisterBidirectional(name string, src domain.Kind, target reflect.Type, toHost ToHostFunc, toDynamic ToDynamicFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.registrable("bidirectional rule"); err != nil {
		return err
	}
	r.toHostRules[ruleKey{src, target}] = toHost
	r.toDynamicRules[target] = toDynamic
	r.wellKnown[name] = wellKnown{name: name, target: target, toHost: toHost, toDynamic: toDynamic}
	r.equiv[ruleKey{src, target}] = true
	return nil
}

// RegisterEnum installs name/value parsing for an integer-backed host enum.
func (r *Registry) RegisterEnum(name string, typ reflect.Type, values map[string]int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.registrable("enum"); err != nil {
		return err
	}
	table := &enumTable{name: name, typ: typ, byName: values, byValue: map[int64]string{}}
	for n, v := range values {
		table.byValue[v] = n
	}
	r.enums[typ] = table
	return nil
}

// RegisterBinding installs a bridgeable-type field-mapping table.
func (r *Registry) RegisterBinding(b *Binding) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.registrable("binding"); err != nil {
		return err
	}
	r.bindings[b.typ] = b
	r.bindingsByName[b.name] = b
	r.equiv[ruleKey{domain.KindMap, b.typ}] = true
	return nil
}

// WellKnown looks up a named converter pair, e.g. "point" or "color".
func (r *Registry) WellKnown(name string) (ToHostFunc, ToDynamicFunc, bool) {
	wk, ok := r.wellKnown[name]
	if !ok {
		return nil, nil, false
	}
	return wk.toHost, wk.toDynamic, true
}

// CanConvert answers whether a conversion path exists from the source kind
// to the target type, without converting anything.
func (r *Registry) CanConvert(src domain.Kind, target reflect.Type) bool {
	if target == nil {
		return false
	}
	if r.equiv[ruleKey{src, target}] {
		return true
	}
	if nativeKindFor(target) == src {
		return true
	}
	switch target.Kind() {
	case reflect.Pointer:
		return src == domain.KindNil || r.CanConvert(src, target.Elem())
	case reflect.Slice:
		return src == domain.KindList
	}
	if _, ok := r.enums[target]; ok {
		return src == domain.KindString || src == domain.KindInt
	}
	if _, ok := r.bindings[target]; ok {
		return src == domain.KindMap
	}
	return coercible(src, target)
}

// ToHost converts a dynamic value to the target host type.
//
// Resolution order: identity, custom rule, pointer unwrap, enum parse,
// element-wise slice, bridgeable binding, generic coercion. Exhausting the
// chain yields a ConversionError naming both types.
func (r *Registry) ToHost(v domain.Value, target reflect.Type) (any, error) {
	start := time.Now()
	out, err := r.toHost(v, target)
	r.record(true, v.Kind().String(), typeName(target), err, time.Since(start))
	return out, err
}

func (r *Registry) toHost(v domain.Value, target reflect.Type) (any, error) {
	if target == nil {
		return nil, &domain.ConversionError{From: v.Kind().String(), To: "<nil>", Reason: "no target type"}
	}

	// 1. Identity: the value's native Go shape already satisfies the
	// target.
	if out, ok := identity(v, target); ok {
		return out, nil
	}

	// 2. Exact-pair custom rule.
	if fn, ok := r.toHostRules[ruleKey{v.Kind(), target}]; ok {
		return fn(v)
	}

	// 3. Nullable unwrap: a pointer target accepts nil directly and
	// otherwise retries against the element type.
	if target.Kind() == reflect.Pointer {
		if v.IsNil() {
			return reflect.Zero(target).Interface(), nil
		}
		inner, err := r.toHost(v, target.Elem())
		if err != nil {
			return nil, err
		}
		ptr := reflect.New(target.Elem())
		ptr.Elem().Set(reflect.ValueOf(inner))
		return ptr.Interface(), nil
	}

	// 4. Enum parse, from name or integer.
	if table, ok := r.enums[target]; ok {
		return table.parse(v)
	}

	// 5. Element-wise slice conversion.
	if target.Kind() == reflect.Slice && v.Kind() == domain.KindList {
		items := v.ListItems()
		out := reflect.MakeSlice(target, len(items), len(items))
		for i, item := range items {
			converted, err := r.toHost(item, target.Elem())
			if err != nil {
				return nil, &domain.ConversionError{
					From:   "list",
					To:     typeName(target),
					Reason: fmt.Sprintf("element %d", i),
					Cause:  err,
				}
			}
			out.Index(i).Set(reflect.ValueOf(converted))
		}
		return out.Interface(), nil
	}

	// 6. Bridgeable binding: map dynamic keys onto the target's fields.
	if b, ok := r.bindings[target]; ok && v.Kind() == domain.KindMap {
		return b.toHost(r, v)
	}

	// 7. Last-resort generic coercion.
	if out, ok := coerce(v, target); ok {
		return out, nil
	}

	return nil, &domain.ConversionError{From: v.Kind().String(), To: typeName(target)}
}

// ToDynamic converts a host value to its dynamic shape. With
// preserveTypeTag, enums and bridgeable types carry a "__type" entry so the
// scripting side can round-trip them losslessly.
func (r *Registry) ToDynamic(hostValue any, preserveTypeTag bool) (domain.Value, error) {
	start := time.Now()
	out, err := r.toDynamic(hostValue, preserveTypeTag)
	from := "<nil>"
	if hostValue != nil {
		from = reflect.TypeOf(hostValue).String()
	}
	r.record(false, from, "dynamic", err, time.Since(start))
	return out, err
}

func (r *Registry) toDynamic(hostValue any, preserveTypeTag bool) (domain.Value, error) {
	if hostValue == nil {
		return domain.NilValue, nil
	}

	switch hv := hostValue.(type) {
	case domain.Value:
		return hv, nil
	case domain.Handle:
		return domain.HandleOf(hv), nil
	case bool:
		return domain.Bool(hv), nil
	case int:
		return domain.Int(int64(hv)), nil
	case int32:
		return domain.Int(int64(hv)), nil
	case int64:
		return domain.Int(hv), nil
	case float32:
		return domain.Float(float64(hv)), nil
	case float64:
		return domain.Float(hv), nil
	case string:
		return domain.String(hv), nil
	}

	typ := reflect.TypeOf(hostValue)

	// Enums render as their name, or as a tagged pair when the type must
	// survive the round trip.
	if table, ok := r.enums[typ]; ok {
		return table.render(hostValue, preserveTypeTag)
	}

	// Bridgeable types render as an ordered map of their fields.
	if b, ok := r.bindings[typ]; ok {
		return b.toDynamic(r, hostValue, preserveTypeTag)
	}

	if fn, ok := r.toDynamicRules[typ]; ok {
		return fn(hostValue)
	}

	rv := reflect.ValueOf(hostValue)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return domain.NilValue, nil
		}
		return r.toDynamic(rv.Elem().Interface(), preserveTypeTag)
	case reflect.Slice, reflect.Array:
		items := make([]domain.Value, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			item, err := r.toDynamic(rv.Index(i).Interface(), preserveTypeTag)
			if err != nil {
				return domain.Value{}, &domain.ConversionError{
					From:   typ.String(),
					To:     "dynamic",
					Reason: fmt.Sprintf("element %d", i),
					Cause:  err,
				}
			}
			items[i] = item
		}
		return domain.List(items...), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return domain.Int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return domain.Int(int64(rv.Uint())), nil
	case reflect.Float32, reflect.Float64:
		return domain.Float(rv.Float()), nil
	case reflect.String:
		return domain.String(rv.String()), nil
	case reflect.Bool:
		return domain.Bool(rv.Bool()), nil
	}

	return domain.Value{}, &domain.ConversionError{From: typ.String(), To: "dynamic"}
}

// Stats returns a snapshot of the conversion counters.
func (r *Registry) Stats() domain.ConversionStats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	pairs := make(map[string]uint64, len(r.stats.pairs))
	for k, v := range r.stats.pairs {
		pairs[k] = v
	}
	return domain.ConversionStats{
		ToHostOK:      r.stats.toHostOK,
		ToHostFail:    r.stats.toHostFail,
		ToDynamicOK:   r.stats.toDynamicOK,
		ToDynamicFail: r.stats.toDynamicFail,
		PairCounts:    pairs,
		AvgLatency:    time.Duration(r.stats.meanNanos),
	}
}

// ResetStats zeroes the counters. Explicit operator action only.
func (r *Registry) ResetStats() {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	r.stats = statsBlock{pairs: map[string]uint64{}}
}

// record maintains counters and a running mean latency. A running mean
// keeps the hot path allocation-free; no histogram is kept here.
func (r *Registry) record(toHost bool, from, to string, err error, elapsed time.Duration) {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	switch {
	case toHost && err == nil:
		r.stats.toHostOK++
	case toHost:
		r.stats.toHostFail++
	case err == nil:
		r.stats.toDynamicOK++
	default:
		r.stats.toDynamicFail++
	}
	r.stats.pairs[from+"->"+to]++
	r.stats.count++
	r.stats.meanNanos += (float64(elapsed.Nanoseconds()) - r.stats.meanNanos) / float64(r.stats.count)
}

func (t *enumTable) parse(v domain.Value) (any, error) {
	var raw int64
	switch v.Kind() {
	case domain.KindString:
		value, ok := t.byName[v.Str()]
		if !ok {
			return nil, &domain.ConversionError{
				From:   "string",
				To:     t.typ.String(),
				Reason: fmt.Sprintf("unknown %s name %q", t.name, v.Str()),
			}
		}
		raw = value
	case domain.KindInt:
		raw = v.Int()
		if _, ok := t.byValue[raw]; !ok {
			return nil, &domain.ConversionError{
				From:   "int",
				To:     t.typ.String(),
				Reason: fmt.Sprintf("value %d outside %s", raw, t.name),
			}
		}
	case domain.KindMap:
		// Tagged render produced by ToDynamic with preserveTypeTag.
		if value, ok := v.Get("value"); ok {
			return t.parse(value)
		}
		fallthrough
	default:
		return nil, &domain.ConversionError{From: v.Kind().String(), To: t.typ.String()}
	}
	out := reflect.New(t.typ).Elem()
	out.SetInt(raw)
	return out.Interface(), nil
}

func (t *enumTable) render(hostValue any, preserveTypeTag bool) (domain.Value, error) {
	raw := reflect.ValueOf(hostValue).Int()
	name, ok := t.byValue[raw]
	if !ok {
		return domain.Value{}, &domain.ConversionError{
			From:   t.typ.String(),
			To:     "dynamic",
			Reason: fmt.Sprintf("value %d has no registered name", raw),
		}
	}
	if !preserveTypeTag {
		return domain.String(name), nil
	}
	tagged := domain.Map()
	tagged.Set("__type", domain.String(t.name))
	tagged.Set("value", domain.String(name))
	return tagged, nil
}

// identity returns the value's natural Go form when it is already
// assignable to the target.
func identity(v domain.Value, target reflect.Type) (any, bool) {
	var native any
	switch v.Kind() {
	case domain.KindBool:
		native = v.Bool()
	case domain.KindInt:
		native = v.Int()
	case domain.KindFloat:
		native = v.Float()
	case domain.KindString:
		native = v.Str()
	case domain.KindHandle:
		native = v.Handle()
	case domain.KindNil:
		if canBeNil(target) {
			return reflect.Zero(target).Interface(), true
		}
		return nil, false
	default:
		return nil, false
	}
	nt := reflect.TypeOf(native)
	if nt == target || nt.AssignableTo(target) {
		return native, true
	}
	return nil, false
}

func canBeNil(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface, reflect.Chan, reflect.Func:
		return true
	}
	return false
}

func nativeKindFor(t reflect.Type) domain.Kind {
	switch t.Kind() {
	case reflect.Bool:
		return domain.KindBool
	case reflect.Int64:
		return domain.KindInt
	case reflect.Float64:
		return domain.KindFloat
	case reflect.String:
		return domain.KindString
	}
	if t == reflect.TypeOf(domain.Handle{}) {
		return domain.KindHandle
	}
	return domain.KindInvalid
}

func coercible(src domain.Kind, target reflect.Type) bool {
	switch target.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return src == domain.KindInt || src == domain.KindFloat || src == domain.KindString
	case reflect.String:
		return src == domain.KindInt || src == domain.KindFloat || src == domain.KindBool
	case reflect.Bool:
		return src == domain.KindBool
	}
	return false
}

// coerce is the last-resort numeric/string conversion.
func coerce(v domain.Value, target reflect.Type) (any, bool) {
	out := reflect.New(target).Elem()
	switch target.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		switch v.Kind() {
		case domain.KindInt:
			out.SetInt(v.Int())
		case domain.KindFloat:
			out.SetInt(int64(v.Float()))
		case domain.KindString:
			n, err := strconv.ParseInt(v.Str(), 10, 64)
			if err != nil {
				return nil, false
			}
			out.SetInt(n)
		default:
			return nil, false
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		switch v.Kind() {
		case domain.KindInt:
			if v.Int() < 0 {
				return nil, false
			}
			out.SetUint(uint64(v.Int()))
		case domain.KindFloat:
			if v.Float() < 0 {
				return nil, false
			}
			out.SetUint(uint64(v.Float()))
		default:
			return nil, false
		}
	case reflect.Float32, reflect.Float64:
		switch v.Kind() {
		case domain.KindInt:
			out.SetFloat(float64(v.Int()))
		case domain.KindFloat:
			out.SetFloat(v.Float())
		case domain.KindString:
			f, err := strconv.ParseFloat(v.Str(), 64)
			if err != nil {
				return nil, false
			}
			out.SetFloat(f)
		default:
			return nil, false
		}
	case reflect.String:
		switch v.Kind() {
		case domain.KindString:
			out.SetString(v.Str())
		case domain.KindInt:
			out.SetString(strconv.FormatInt(v.Int(), 10))
		case domain.KindFloat:
			out.SetString(strconv.FormatFloat(v.Float(), 'g', -1, 64))
		case domain.KindBool:
			out.SetString(strconv.FormatBool(v.Bool()))
		default:
			return nil, false
		}
	case reflect.Bool:
		if v.Kind() != domain.KindBool {
			return nil, false
		}
		out.SetBool(v.Bool())
	default:
		return nil, false
	}
	return out.Interface(), true
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
