package convert

import (
	"fmt"
	"reflect"

	"github.com/aretw0/trestle/pkg/domain"
)

var (
	pointType     = reflect.TypeOf(domain.Point{})
	bboxType      = reflect.TypeOf(domain.BoundingBox{})
	transformType = reflect.TypeOf(domain.Transform{})
	colorType     = reflect.TypeOf(domain.Color{})
	elementIDType = reflect.TypeOf(domain.ElementID(0))
)

// RegisterHostTypes installs the converter pairs for the host's well-known
// types: point, bounding box, transform, color and identifier. Called once
// during facade initialization, before Freeze.
func RegisterHostTypes(r *Registry) error {
	if err := r.RegisterBidirectional("point", domain.KindList, pointType, pointToHost, pointToDynamic); err != nil {
		return err
	}
	if err := r.RegisterBidirectional("transform", domain.KindList, transformType, transformToHost, transformToDynamic); err != nil {
		return err
	}
	if err := r.RegisterBidirectional("color", domain.KindMap, colorType, colorToHost, colorToDynamic); err != nil {
		return err
	}
	if err := r.RegisterBidirectional("identifier", domain.KindInt, elementIDType, identifierToHost, identifierToDynamic); err != nil {
		return err
	}
	if err := r.RegisterBinding(boundingBoxBinding()); err != nil {
		return err
	}
	return nil
}

// pointToHost accepts a 3-element numeric list.
func pointToHost(v domain.Value) (any, error) {
	items := v.ListItems()
	if len(items) != 3 {
		return nil, &domain.ConversionError{
			From:   "list",
			To:     pointType.String(),
			Reason: fmt.Sprintf("need 3 coordinates, got %d", len(items)),
		}
	}
	coords := [3]float64{}
	for i, item := range items {
		switch item.Kind() {
		case domain.KindFloat, domain.KindInt:
			coords[i] = item.Float()
		default:
			return nil, &domain.ConversionError{
				From:   "list",
				To:     pointType.String(),
				Reason: fmt.Sprintf("coordinate %d is %s, not a number", i, item.Kind()),
			}
		}
	}
	return domain.Point{X: coords[0], Y: coords[1], Z: coords[2]}, nil
}

func pointToDynamic(hostValue any) (domain.Value, error) {
	p, ok := hostValue.(domain.Point)
	if !ok {
		return domain.Value{}, &domain.ConversionError{From: fmt.Sprintf("%T", hostValue), To: "point"}
	}
	return domain.List(domain.Float(p.X), domain.Float(p.Y), domain.Float(p.Z)), nil
}

// transformToHost accepts a 12-element list: 9 basis entries row major,
// then the origin.
func transformToHost(v domain.Value) (any, error) {
	items := v.ListItems()
	if len(items) != 12 {
		return nil, &domain.ConversionError{
			From:   "list",
			To:     transformType.String(),
			Reason: fmt.Sprintf("need 12 entries, got %d", len(items)),
		}
	}
	var t domain.Transform
	for i := 0; i < 9; i++ {
		if items[i].Kind() != domain.KindFloat && items[i].Kind() != domain.KindInt {
			return nil, &domain.ConversionError{From: "list", To: transformType.String(), Reason: fmt.Sprintf("entry %d not a number", i)}
		}
		t.Basis[i] = items[i].Float()
	}
	t.Origin = domain.Point{X: items[9].Float(), Y: items[10].Float(), Z: items[11].Float()}
	return t, nil
}

func transformToDynamic(hostValue any) (domain.Value, error) {
	t, ok := hostValue.(domain.Transform)
	if !ok {
		return domain.Value{}, &domain.ConversionError{From: fmt.Sprintf("%T", hostValue), To: "transform"}
	}
	items := make([]domain.Value, 0, 12)
	for _, b := range t.Basis {
		items = append(items, domain.Float(b))
	}
	items = append(items, domain.Float(t.Origin.X), domain.Float(t.Origin.Y), domain.Float(t.Origin.Z))
	return domain.List(items...), nil
}

// colorToHost accepts {r, g, b} with 0-255 integer channels.
func colorToHost(v domain.Value) (any, error) {
	var c domain.Color
	for _, ch := range []struct {
		key string
		dst *uint8
	}{{"r", &c.R}, {"g", &c.G}, {"b", &c.B}} {
		item, ok := v.Get(ch.key)
		if !ok {
			return nil, &domain.ConversionError{From: "map", To: colorType.String(), Reason: fmt.Sprintf("missing channel %q", ch.key)}
		}
		if item.Kind() != domain.KindInt || item.Int() < 0 || item.Int() > 255 {
			return nil, &domain.ConversionError{From: "map", To: colorType.String(), Reason: fmt.Sprintf("channel %q out of range", ch.key)}
		}
		*ch.dst = uint8(item.Int())
	}
	return c, nil
}

func colorToDynamic(hostValue any) (domain.Value, error) {
	c, ok := hostValue.(domain.Color)
	if !ok {
		return domain.Value{}, &domain.ConversionError{From: fmt.Sprintf("%T", hostValue), To: "color"}
	}
	out := domain.Map()
	out.Set("r", domain.Int(int64(c.R)))
	out.Set("g", domain.Int(int64(c.G)))
	out.Set("b", domain.Int(int64(c.B)))
	return out, nil
}

func identifierToHost(v domain.Value) (any, error) {
	if v.Int() < 0 {
		return nil, &domain.ConversionError{From: "int", To: elementIDType.String(), Reason: "negative identifier"}
	}
	return domain.ElementID(v.Int()), nil
}

func identifierToDynamic(hostValue any) (domain.Value, error) {
	id, ok := hostValue.(domain.ElementID)
	if !ok {
		return domain.Value{}, &domain.ConversionError{From: fmt.Sprintf("%T", hostValue), To: "identifier"}
	}
	return domain.Int(int64(id)), nil
}

func boundingBoxBinding() *Binding {
	return Bind[domain.BoundingBox]("bounding_box").
		Nested("min", pointType,
			func(b domain.BoundingBox) any { return b.Min },
			func(b *domain.BoundingBox, v any) { b.Min = v.(domain.Point) }).
		Nested("max", pointType,
			func(b domain.BoundingBox) any { return b.Max },
			func(b *domain.BoundingBox, v any) { b.Max = v.(domain.Point) }).
		Build()
}
