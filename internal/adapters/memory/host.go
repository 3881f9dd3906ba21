// Package memory provides in-memory implementations of the bridge ports:
// a HostModel with savepoint-style mutation scopes and a DescriptorStore.
// They back the test suites and double as reference implementations of the
// port contracts.
package memory

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/aretw0/trestle/pkg/domain"
	"github.com/aretw0/trestle/pkg/ports"
)

type element struct {
	id       string
	typeName string
	attrs    map[string]domain.Value
}

func (e *element) clone() *element {
	attrs := make(map[string]domain.Value, len(e.attrs))
	for k, v := range e.attrs {
		attrs[k] = v
	}
	return &element{id: e.id, typeName: e.typeName, attrs: attrs}
}

type document struct {
	elements map[string]*element
}

func (d *document) clone() *document {
	out := &document{elements: make(map[string]*element, len(d.elements))}
	for id, el := range d.elements {
		out.elements[id] = el.clone()
	}
	return out
}

type savepoint struct {
	document string
	snapshot *document
}

// Host is an in-memory host object model. Mutation verbs require an open
// mutation scope on the element's document; scopes nest as savepoints.
type Host struct {
	mu      sync.Mutex
	docs    map[string]*document
	nextID  int64
	nextTok int64
	open    map[ports.TxnToken]*savepoint
	// openPerDoc counts open scopes so mutations outside any scope fail.
	openPerDoc map[string]int
	groups     map[ports.TxnToken]*savepoint

	// failOn forces the named verb to fail once, for failure-path tests.
	failOn map[string]error

	// Schema per type: attribute descriptors served by GetElement.
	schema map[string]domain.ElementDescriptor

	// HostCalls counts verb invocations, so tests can assert that cache
	// hits skip the host.
	HostCalls map[string]int
}

// NewHost creates an empty in-memory host.
func NewHost() *Host {
	return &Host{
		docs:       map[string]*document{},
		open:       map[ports.TxnToken]*savepoint{},
		openPerDoc: map[string]int{},
		groups:     map[ports.TxnToken]*savepoint{},
		failOn:     map[string]error{},
		schema:     map[string]domain.ElementDescriptor{},
		HostCalls:  map[string]int{},
	}
}

// DefineType registers the descriptor served for a host type.
func (h *Host) DefineType(d domain.ElementDescriptor) {
	h.mu.Lock()
	h.schema[d.TypeName] = d
	h.mu.Unlock()
}

// Seed inserts an element without requiring a transaction. Test setup only.
func (h *Host) Seed(documentName, typeName string, attrs map[string]domain.Value) domain.Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	doc := h.doc(documentName)
	h.nextID++
	el := &element{id: strconv.FormatInt(h.nextID, 10), typeName: typeName, attrs: map[string]domain.Value{}}
	for k, v := range attrs {
		el.attrs[k] = v
	}
	doc.elements[el.id] = el
	return domain.Handle{Document: documentName, Element: el.id, Type: typeName}
}

// FailNext forces the named verb (e.g. "SetAttribute") to fail once.
func (h *Host) FailNext(verb string, err error) {
	h.mu.Lock()
	h.failOn[verb] = err
	h.mu.Unlock()
}

// Calls returns how often the verb ran.
func (h *Host) Calls(verb string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.HostCalls[verb]
}

func (h *Host) doc(name string) *document {
	doc, ok := h.docs[name]
	if !ok {
		doc = &document{elements: map[string]*element{}}
		h.docs[name] = doc
	}
	return doc
}

func (h *Host) enter(verb string) error {
	h.HostCalls[verb]++
	if err, ok := h.failOn[verb]; ok {
		delete(h.failOn, verb)
		return err
	}
	return nil
}

func (h *Host) lookup(hd domain.Handle) (*element, error) {
	doc, ok := h.docs[hd.Document]
	if !ok {
		return nil, fmt.Errorf("unknown document %q", hd.Document)
	}
	el, ok := doc.elements[hd.Element]
	if !ok {
		return nil, fmt.Errorf("unknown element %s", hd.Key())
	}
	return el, nil
}

func (h *Host) requireScope(documentName string) error {
	if h.openPerDoc[documentName] == 0 {
		return fmt.Errorf("no open mutation scope on document %q", documentName)
	}
	return nil
}

// GetElement implements ports.HostModel.
func (h *Host) GetElement(ctx context.Context, hd domain.Handle) (domain.ElementDescriptor, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.enter("GetElement"); err != nil {
		return domain.ElementDescriptor{}, err
	}
	el, err := h.lookup(hd)
	if err != nil {
		return domain.ElementDescriptor{}, err
	}
	if d, ok := h.schema[el.typeName]; ok {
		return d, nil
	}
	return domain.ElementDescriptor{TypeName: el.typeName}, nil
}

// ElementsOfType implements ports.HostModel.
func (h *Host) ElementsOfType(ctx context.Context, documentName, typeName string) ([]domain.Handle, error) {
	return h.QueryElements(ctx, documentName, ports.ElementFilter{Type: typeName})
}

// QueryElements implements ports.HostModel.
func (h *Host) QueryElements(ctx context.Context, documentName string, filter ports.ElementFilter) ([]domain.Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.enter("QueryElements"); err != nil {
		return nil, err
	}
	doc, ok := h.docs[documentName]
	if !ok {
		return nil, nil
	}
	var out []domain.Handle
	for _, el := range doc.elements {
		if filter.Type != "" && el.typeName != filter.Type {
			continue
		}
		if !matches(el, filter.Where) {
			continue
		}
		out = append(out, domain.Handle{Document: documentName, Element: el.id, Type: el.typeName})
	}
	return out, nil
}

func matches(el *element, where map[string]domain.Value) bool {
	for name, want := range where {
		got, ok := el.attrs[name]
		if !ok || !got.Equal(want) {
			return false
		}
	}
	return true
}

// CreateElement implements ports.HostModel.
func (h *Host) CreateElement(ctx context.Context, documentName, typeName string, attrs map[string]domain.Value) (domain.Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.enter("CreateElement"); err != nil {
		return domain.Handle{}, err
	}
	if err := h.requireScope(documentName); err != nil {
		return domain.Handle{}, err
	}
	doc := h.doc(documentName)
	h.nextID++
	el := &element{id: strconv.FormatInt(h.nextID, 10), typeName: typeName, attrs: map[string]domain.Value{}}
	for k, v := range attrs {
		el.attrs[k] = v
	}
	doc.elements[el.id] = el
	return domain.Handle{Document: documentName, Element: el.id, Type: typeName}, nil
}

// DeleteElement implements ports.HostModel.
func (h *Host) DeleteElement(ctx context.Context, hd domain.Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.enter("DeleteElement"); err != nil {
		return err
	}
	if err := h.requireScope(hd.Document); err != nil {
		return err
	}
	if _, err := h.lookup(hd); err != nil {
		return err
	}
	delete(h.docs[hd.Document].elements, hd.Element)
	return nil
}

// CopyElement implements ports.HostModel.
func (h *Host) CopyElement(ctx context.Context, hd domain.Handle) (domain.Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.enter("CopyElement"); err != nil {
		return domain.Handle{}, err
	}
	if err := h.requireScope(hd.Document); err != nil {
		return domain.Handle{}, err
	}
	el, err := h.lookup(hd)
	if err != nil {
		return domain.Handle{}, err
	}
	h.nextID++
	dup := el.clone()
	dup.id = strconv.FormatInt(h.nextID, 10)
	h.docs[hd.Document].elements[dup.id] = dup
	return domain.Handle{Document: hd.Document, Element: dup.id, Type: dup.typeName}, nil
}

// GetAttribute implements ports.HostModel.
func (h *Host) GetAttribute(ctx context.Context, hd domain.Handle, name string) (domain.Value, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.enter("GetAttribute"); err != nil {
		return domain.Value{}, err
	}
	el, err := h.lookup(hd)
	if err != nil {
		return domain.Value{}, err
	}
	v, ok := el.attrs[name]
	if !ok {
		return domain.Value{}, fmt.Errorf("element %s has no attribute %q", hd.Key(), name)
	}
	return v, nil
}

// SetAttribute implements ports.HostModel.
func (h *Host) SetAttribute(ctx context.Context, hd domain.Handle, name string, v domain.Value) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.enter("SetAttribute"); err != nil {
		return err
	}
	if err := h.requireScope(hd.Document); err != nil {
		return err
	}
	el, err := h.lookup(hd)
	if err != nil {
		return err
	}
	el.attrs[name] = v
	return nil
}

// BeginTransaction implements ports.HostModel. Each open scope snapshots
// its document; rollback restores the snapshot, giving savepoint semantics
// under LIFO completion.
func (h *Host) BeginTransaction(ctx context.Context, documentName, name string) (ports.TxnToken, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.enter("BeginTransaction"); err != nil {
		return "", err
	}
	h.nextTok++
	token := ports.TxnToken("txn-" + strconv.FormatInt(h.nextTok, 10))
	h.open[token] = &savepoint{document: documentName, snapshot: h.doc(documentName).clone()}
	h.openPerDoc[documentName]++
	return token, nil
}

// CommitTransaction implements ports.HostModel.
func (h *Host) CommitTransaction(ctx context.Context, token ports.TxnToken) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.enter("CommitTransaction"); err != nil {
		return err
	}
	sp, ok := h.open[token]
	if !ok {
		return fmt.Errorf("unknown transaction token %q", token)
	}
	delete(h.open, token)
	h.openPerDoc[sp.document]--
	return nil
}

// RollbackTransaction implements ports.HostModel.
func (h *Host) RollbackTransaction(ctx context.Context, token ports.TxnToken) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.enter("RollbackTransaction"); err != nil {
		return err
	}
	sp, ok := h.open[token]
	if !ok {
		return fmt.Errorf("unknown transaction token %q", token)
	}
	delete(h.open, token)
	h.openPerDoc[sp.document]--
	h.docs[sp.document] = sp.snapshot
	return nil
}

// BeginGroup implements ports.HostModel.
func (h *Host) BeginGroup(ctx context.Context, documentName, name string) (ports.TxnToken, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.enter("BeginGroup"); err != nil {
		return "", err
	}
	h.nextTok++
	token := ports.TxnToken("grp-" + strconv.FormatInt(h.nextTok, 10))
	h.groups[token] = &savepoint{document: documentName, snapshot: h.doc(documentName).clone()}
	return token, nil
}

// CommitGroup implements ports.HostModel.
func (h *Host) CommitGroup(ctx context.Context, token ports.TxnToken) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.enter("CommitGroup"); err != nil {
		return err
	}
	if _, ok := h.groups[token]; !ok {
		return fmt.Errorf("unknown group token %q", token)
	}
	delete(h.groups, token)
	return nil
}

// RollbackGroup implements ports.HostModel.
func (h *Host) RollbackGroup(ctx context.Context, token ports.TxnToken) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.enter("RollbackGroup"); err != nil {
		return err
	}
	sp, ok := h.groups[token]
	if !ok {
		return fmt.Errorf("unknown group token %q", token)
	}
	delete(h.groups, token)
	h.docs[sp.document] = sp.snapshot
	return nil
}

// ComputeGeometry implements ports.HostModel for a practical subset of
// operations. Operands are points (3-float lists) or results of earlier
// computations.
func (h *Host) ComputeGeometry(ctx context.Context, op domain.GeometryOp, operands []domain.Value) (domain.Value, error) {
	h.mu.Lock()
	if err := h.enter("ComputeGeometry"); err != nil {
		h.mu.Unlock()
		return domain.Value{}, err
	}
	h.mu.Unlock()

	points, err := operandPoints(operands)
	if err != nil {
		return domain.Value{}, err
	}

	switch op {
	case domain.GeomDistance:
		if len(points) != 2 {
			return domain.Value{}, fmt.Errorf("distance needs 2 points, got %d", len(points))
		}
		return domain.Float(points[0].Dist(points[1])), nil

	case domain.GeomBoundingBox:
		if len(points) == 0 {
			return domain.Value{}, fmt.Errorf("bounding_box needs at least one point")
		}
		min, max := points[0], points[0]
		for _, p := range points[1:] {
			min = domain.Point{X: math.Min(min.X, p.X), Y: math.Min(min.Y, p.Y), Z: math.Min(min.Z, p.Z)}
			max = domain.Point{X: math.Max(max.X, p.X), Y: math.Max(max.Y, p.Y), Z: math.Max(max.Z, p.Z)}
		}
		return boxValue(min, max), nil

	case domain.GeomArea:
		// Shoelace over the XY projection of the polygon.
		if len(points) < 3 {
			return domain.Value{}, fmt.Errorf("area needs at least 3 points")
		}
		sum := 0.0
		for i := range points {
			j := (i + 1) % len(points)
			sum += points[i].X*points[j].Y - points[j].X*points[i].Y
		}
		return domain.Float(math.Abs(sum) / 2), nil

	case domain.GeomVolume:
		if len(points) < 2 {
			return domain.Value{}, fmt.Errorf("volume needs at least 2 points")
		}
		min, max := points[0], points[0]
		for _, p := range points[1:] {
			min = domain.Point{X: math.Min(min.X, p.X), Y: math.Min(min.Y, p.Y), Z: math.Min(min.Z, p.Z)}
			max = domain.Point{X: math.Max(max.X, p.X), Y: math.Max(max.Y, p.Y), Z: math.Max(max.Z, p.Z)}
		}
		d := max.Sub(min)
		return domain.Float(d.X * d.Y * d.Z), nil

	case domain.GeomProjection:
		// Project onto the XY plane.
		if len(points) != 1 {
			return domain.Value{}, fmt.Errorf("projection needs 1 point")
		}
		return pointValue(domain.Point{X: points[0].X, Y: points[0].Y}), nil

	default:
		return domain.Value{}, fmt.Errorf("geometry op %q not supported by memory host", op)
	}
}

func operandPoints(operands []domain.Value) ([]domain.Point, error) {
	points := make([]domain.Point, 0, len(operands))
	for i, v := range operands {
		if v.Kind() != domain.KindList || v.Len() != 3 {
			return nil, fmt.Errorf("operand %d is not a point", i)
		}
		items := v.ListItems()
		points = append(points, domain.Point{X: items[0].Float(), Y: items[1].Float(), Z: items[2].Float()})
	}
	return points, nil
}

func pointValue(p domain.Point) domain.Value {
	return domain.List(domain.Float(p.X), domain.Float(p.Y), domain.Float(p.Z))
}

func boxValue(min, max domain.Point) domain.Value {
	out := domain.Map()
	out.Set("min", pointValue(min))
	out.Set("max", pointValue(max))
	return out
}
