package goja

import (
	"strconv"

	js "github.com/dop251/goja"

	"github.com/aretw0/trestle/pkg/domain"
)

// handleMarker tags script objects that stand for host object references,
// so they round-trip through the interpreter without losing identity.
const handleMarker = "__handle"

func (r *Runtime) toJS(v domain.Value) js.Value {
	switch v.Kind() {
	case domain.KindBool:
		return r.vm.ToValue(v.Bool())
	case domain.KindInt:
		return r.vm.ToValue(v.Int())
	case domain.KindFloat:
		return r.vm.ToValue(v.Float())
	case domain.KindString:
		return r.vm.ToValue(v.Str())
	case domain.KindList:
		items := v.ListItems()
		elems := make([]interface{}, len(items))
		for i, item := range items {
			elems[i] = r.toJS(item)
		}
		return r.vm.NewArray(elems...)
	case domain.KindMap:
		obj := r.vm.NewObject()
		for _, k := range v.Keys() {
			item, _ := v.Get(k)
			_ = obj.Set(k, r.toJS(item))
		}
		return obj
	case domain.KindHandle:
		h := v.Handle()
		obj := r.vm.NewObject()
		_ = obj.Set("document", h.Document)
		_ = obj.Set("element", h.Element)
		_ = obj.Set("type", h.Type)
		_ = obj.Set(handleMarker, true)
		return obj
	default:
		return js.Null()
	}
}

func (r *Runtime) fromJS(v js.Value) domain.Value {
	if v == nil || js.IsUndefined(v) || js.IsNull(v) {
		return domain.NilValue
	}
	switch exported := v.Export().(type) {
	case bool:
		return domain.Bool(exported)
	case int64:
		return domain.Int(exported)
	case float64:
		return domain.Float(exported)
	case string:
		return domain.String(exported)
	}

	obj, ok := v.(*js.Object)
	if !ok {
		return domain.NilValue
	}
	if obj.ClassName() == "Array" {
		n := int(obj.Get("length").ToInteger())
		items := make([]domain.Value, n)
		for i := 0; i < n; i++ {
			items[i] = r.fromJS(obj.Get(strconv.Itoa(i)))
		}
		return domain.List(items...)
	}
	if marker := obj.Get(handleMarker); marker != nil && marker.ToBoolean() {
		return domain.HandleOf(domain.Handle{
			Document: stringField(obj, "document"),
			Element:  stringField(obj, "element"),
			Type:     stringField(obj, "type"),
		})
	}

	out := domain.Map()
	for _, k := range obj.Keys() {
		out.Set(k, r.fromJS(obj.Get(k)))
	}
	return out
}

func stringField(obj *js.Object, name string) string {
	v := obj.Get(name)
	if v == nil || js.IsUndefined(v) {
		return ""
	}
	return v.String()
}
