package trestle

import (
	"context"
	"fmt"

	"github.com/aretw0/trestle/internal/txn"
	"github.com/aretw0/trestle/pkg/domain"
	"github.com/aretw0/trestle/pkg/ports"
)

// registerScriptAPI exposes the accessors to scripts as global objects.
// Handles cross the boundary as tagged objects; everything else as plain
// dynamic values.
func (b *Bridge) registerScriptAPI() error {
	apis := map[string]map[string]ports.APIFunc{
		"elements": {
			"get":    b.apiElementGet,
			"set":    b.apiElementSet,
			"all":    b.apiElementAll,
			"create": b.apiElementCreate,
			"remove": b.apiElementRemove,
			"copy":   b.apiElementCopy,
		},
		"parameters": {
			"get":      b.apiParameterGet,
			"set":      b.apiParameterSet,
			"describe": b.apiParameterDescribe,
		},
		"geometry": {
			"distance":    b.apiGeometryDistance,
			"area":        b.apiGeometryArea,
			"boundingBox": b.apiGeometryBoundingBox,
			"compute":     b.apiGeometryCompute,
		},
	}
	for name, funcs := range apis {
		if err := b.runtime.RegisterAPI(name, funcs); err != nil {
			return err
		}
	}
	return nil
}

// execContext returns the transaction context of the execution in flight.
// Callers driving a module handle outside the bridge's entry points get a
// fresh context per call, so writes are still transactional.
func (b *Bridge) execContext() *txn.Context {
	if ec := b.activeEC; ec != nil {
		return ec
	}
	return txn.NewContext()
}

func wantArgs(name string, args []domain.Value, n int) error {
	if len(args) != n {
		return fmt.Errorf("%s expects %d arguments, got %d", name, n, len(args))
	}
	return nil
}

func handleArg(name string, args []domain.Value, i int) (domain.Handle, error) {
	if i >= len(args) || args[i].Kind() != domain.KindHandle {
		return domain.Handle{}, fmt.Errorf("%s: argument %d must be an element handle", name, i+1)
	}
	return args[i].Handle(), nil
}

func stringArg(name string, args []domain.Value, i int) (string, error) {
	if i >= len(args) || args[i].Kind() != domain.KindString {
		return "", fmt.Errorf("%s: argument %d must be a string", name, i+1)
	}
	return args[i].Str(), nil
}

func (b *Bridge) apiElementGet(ctx context.Context, args []domain.Value) (domain.Value, error) {
	if err := wantArgs("elements.get", args, 2); err != nil {
		return domain.Value{}, err
	}
	h, err := handleArg("elements.get", args, 0)
	if err != nil {
		return domain.Value{}, err
	}
	attr, err := stringArg("elements.get", args, 1)
	if err != nil {
		return domain.Value{}, err
	}
	return b.elements.GetAttr(ctx, h, attr)
}

func (b *Bridge) apiElementSet(ctx context.Context, args []domain.Value) (domain.Value, error) {
	if err := wantArgs("elements.set", args, 3); err != nil {
		return domain.Value{}, err
	}
	h, err := handleArg("elements.set", args, 0)
	if err != nil {
		return domain.Value{}, err
	}
	attr, err := stringArg("elements.set", args, 1)
	if err != nil {
		return domain.Value{}, err
	}
	if err := b.elements.SetAttr(ctx, b.execContext(), h, attr, args[2]); err != nil {
		return domain.Value{}, err
	}
	return domain.NilValue, nil
}

func (b *Bridge) apiElementAll(ctx context.Context, args []domain.Value) (domain.Value, error) {
	if err := wantArgs("elements.all", args, 2); err != nil {
		return domain.Value{}, err
	}
	document, err := stringArg("elements.all", args, 0)
	if err != nil {
		return domain.Value{}, err
	}
	typeName, err := stringArg("elements.all", args, 1)
	if err != nil {
		return domain.Value{}, err
	}
	handles, err := b.elements.All(ctx, document, typeName)
	if err != nil {
		return domain.Value{}, err
	}
	items := make([]domain.Value, len(handles))
	for i, h := range handles {
		items[i] = domain.HandleOf(h)
	}
	return domain.List(items...), nil
}

func (b *Bridge) apiElementCreate(ctx context.Context, args []domain.Value) (domain.Value, error) {
	if err := wantArgs("elements.create", args, 3); err != nil {
		return domain.Value{}, err
	}
	document, err := stringArg("elements.create", args, 0)
	if err != nil {
		return domain.Value{}, err
	}
	typeName, err := stringArg("elements.create", args, 1)
	if err != nil {
		return domain.Value{}, err
	}
	if args[2].Kind() != domain.KindMap {
		return domain.Value{}, fmt.Errorf("elements.create: argument 3 must be an attribute map")
	}
	attrs := make(map[string]domain.Value, args[2].Len())
	for _, k := range args[2].Keys() {
		v, _ := args[2].Get(k)
		attrs[k] = v
	}
	h, err := b.elements.Create(ctx, b.execContext(), document, typeName, attrs)
	if err != nil {
		return domain.Value{}, err
	}
	return domain.HandleOf(h), nil
}

func (b *Bridge) apiElementRemove(ctx context.Context, args []domain.Value) (domain.Value, error) {
	if err := wantArgs("elements.remove", args, 1); err != nil {
		return domain.Value{}, err
	}
	h, err := handleArg("elements.remove", args, 0)
	if err != nil {
		return domain.Value{}, err
	}
	if err := b.elements.Delete(ctx, b.execContext(), h); err != nil {
		return domain.Value{}, err
	}
	return domain.NilValue, nil
}

func (b *Bridge) apiElementCopy(ctx context.Context, args []domain.Value) (domain.Value, error) {
	if err := wantArgs("elements.copy", args, 1); err != nil {
		return domain.Value{}, err
	}
	h, err := handleArg("elements.copy", args, 0)
	if err != nil {
		return domain.Value{}, err
	}
	copied, err := b.elements.Copy(ctx, b.execContext(), h)
	if err != nil {
		return domain.Value{}, err
	}
	return domain.HandleOf(copied), nil
}

func (b *Bridge) apiParameterGet(ctx context.Context, args []domain.Value) (domain.Value, error) {
	if err := wantArgs("parameters.get", args, 2); err != nil {
		return domain.Value{}, err
	}
	h, err := handleArg("parameters.get", args, 0)
	if err != nil {
		return domain.Value{}, err
	}
	name, err := stringArg("parameters.get", args, 1)
	if err != nil {
		return domain.Value{}, err
	}
	return b.params.Get(ctx, h, name)
}

// apiParameterSet writes a parameter. Validation rejections come back as a
// result object, not a thrown error, so scripts can branch on them.
func (b *Bridge) apiParameterSet(ctx context.Context, args []domain.Value) (domain.Value, error) {
	if err := wantArgs("parameters.set", args, 3); err != nil {
		return domain.Value{}, err
	}
	h, err := handleArg("parameters.set", args, 0)
	if err != nil {
		return domain.Value{}, err
	}
	name, err := stringArg("parameters.set", args, 1)
	if err != nil {
		return domain.Value{}, err
	}
	result, err := b.params.Set(ctx, b.execContext(), h, name, args[2])
	if err != nil {
		return domain.Value{}, err
	}
	out := domain.Map()
	out.Set("valid", domain.Bool(result.Valid))
	if !result.Valid {
		out.Set("rule", domain.String(result.Rule))
		out.Set("message", domain.String(result.Message))
	}
	return out, nil
}

func (b *Bridge) apiParameterDescribe(ctx context.Context, args []domain.Value) (domain.Value, error) {
	if err := wantArgs("parameters.describe", args, 1); err != nil {
		return domain.Value{}, err
	}
	h, err := handleArg("parameters.describe", args, 0)
	if err != nil {
		return domain.Value{}, err
	}
	desc, err := b.params.Describe(ctx, h)
	if err != nil {
		return domain.Value{}, err
	}

	params := make([]domain.Value, len(desc.Parameters))
	for i, p := range desc.Parameters {
		entry := domain.Map()
		entry.Set("name", domain.String(p.Name))
		entry.Set("type", domain.String(p.Type.String()))
		entry.Set("readOnly", domain.Bool(p.ReadOnly))
		params[i] = entry
	}
	out := domain.Map()
	out.Set("type", domain.String(desc.TypeName))
	out.Set("category", domain.String(desc.Category))
	out.Set("parameters", domain.List(params...))
	return out, nil
}

func (b *Bridge) apiGeometryDistance(ctx context.Context, args []domain.Value) (domain.Value, error) {
	if err := wantArgs("geometry.distance", args, 2); err != nil {
		return domain.Value{}, err
	}
	d, err := b.geometry.Distance(ctx, args[0], args[1])
	if err != nil {
		return domain.Value{}, err
	}
	return domain.Float(d), nil
}

func (b *Bridge) apiGeometryArea(ctx context.Context, args []domain.Value) (domain.Value, error) {
	if err := wantArgs("geometry.area", args, 1); err != nil {
		return domain.Value{}, err
	}
	if args[0].Kind() != domain.KindList {
		return domain.Value{}, fmt.Errorf("geometry.area: argument 1 must be a list of points")
	}
	a, err := b.geometry.Area(ctx, args[0].ListItems())
	if err != nil {
		return domain.Value{}, err
	}
	return domain.Float(a), nil
}

func (b *Bridge) apiGeometryBoundingBox(ctx context.Context, args []domain.Value) (domain.Value, error) {
	if err := wantArgs("geometry.boundingBox", args, 1); err != nil {
		return domain.Value{}, err
	}
	if args[0].Kind() != domain.KindList {
		return domain.Value{}, fmt.Errorf("geometry.boundingBox: argument 1 must be a list of points")
	}
	return b.geometry.BoundingBox(ctx, args[0].ListItems())
}

func (b *Bridge) apiGeometryCompute(ctx context.Context, args []domain.Value) (domain.Value, error) {
	if len(args) < 1 {
		return domain.Value{}, fmt.Errorf("geometry.compute expects an operation name")
	}
	op, err := stringArg("geometry.compute", args, 0)
	if err != nil {
		return domain.Value{}, err
	}
	return b.geometry.Compute(ctx, domain.GeometryOp(op), args[1:])
}
