package accessors

import (
	"context"
	"log/slog"

	"github.com/cespare/xxhash/v2"

	"github.com/aretw0/trestle/internal/logging"
	"github.com/aretw0/trestle/internal/perf"
	"github.com/aretw0/trestle/internal/txn"
	"github.com/aretw0/trestle/pkg/domain"
	"github.com/aretw0/trestle/pkg/ports"
)

// geometryAttr is the attribute name under which hosts expose an
// element's geometry blob.
const geometryAttr = "Geometry"

// Geometry accesses element geometry and runs pure geometry computations
// host-side. Computations are read-only, so they bypass the transaction
// coordinator entirely and are memoized by a content hash of the operand
// identities.
type Geometry struct {
	host   ports.HostModel
	coord  *txn.Coordinator
	cache  *cache
	memo   *perf.Memo
	logger *slog.Logger
	stats  accessorStats
}

// NewGeometry creates the geometry accessor. The memo cache is shared
// infrastructure owned by the performance coordinator's sweep.
func NewGeometry(host ports.HostModel, coord *txn.Coordinator, memo *perf.Memo, cfg domain.Config, logger *slog.Logger) *Geometry {
	return &Geometry{
		host:   host,
		coord:  coord,
		cache:  newCache(cfg.CacheTTL, cfg.ObjectCacheSize),
		memo:   memo,
		logger: logging.Component(logger, "geometry"),
	}
}

// Cache exposes the cache for sweep registration.
func (a *Geometry) Cache() Sweeper { return a.cache }

// Get reads an element's geometry, cached like any other attribute.
func (a *Geometry) Get(ctx context.Context, h domain.Handle) (domain.Value, error) {
	a.stats.op()
	key := attrKey(h, geometryAttr)
	if v, ok := a.cache.get(key); ok {
		return v, nil
	}
	v, err := a.host.GetAttribute(ctx, h, geometryAttr)
	if err != nil {
		a.stats.fail()
		return domain.Value{}, &domain.HostError{Op: "get-attribute", Cause: err}
	}
	a.cache.put(key, v)
	return v, nil
}

// Set replaces an element's geometry inside a transaction.
func (a *Geometry) Set(ctx context.Context, ec *txn.Context, h domain.Handle, v domain.Value) error {
	a.stats.write()
	err := a.coord.Execute(ctx, ec, "set geometry", h.Document, func(ctx context.Context) error {
		return a.host.SetAttribute(ctx, h, geometryAttr, v)
	})
	if err != nil {
		a.stats.fail()
		return err
	}
	a.cache.put(attrKey(h, geometryAttr), v)
	return nil
}

// Compute runs a pure geometry computation, memoized by operand content.
func (a *Geometry) Compute(ctx context.Context, op domain.GeometryOp, operands []domain.Value) (domain.Value, error) {
	a.stats.op()
	key := computeKey(op, operands)
	v, cached, err := a.memo.GetOrCompute(key, func() (domain.Value, error) {
		out, err := a.host.ComputeGeometry(ctx, op, operands)
		if err != nil {
			return domain.Value{}, &domain.HostError{Op: "compute-geometry", Cause: err}
		}
		return out, nil
	})
	if err != nil {
		a.stats.fail()
		return domain.Value{}, err
	}
	if cached {
		a.logger.Debug("geometry computation served from memo", "op", string(op))
	}
	return v, nil
}

// Distance computes the distance between two points.
func (a *Geometry) Distance(ctx context.Context, p1, p2 domain.Value) (float64, error) {
	v, err := a.Compute(ctx, domain.GeomDistance, []domain.Value{p1, p2})
	if err != nil {
		return 0, err
	}
	return v.Float(), nil
}

// Area computes the area of a polygon given its vertices.
func (a *Geometry) Area(ctx context.Context, vertices []domain.Value) (float64, error) {
	v, err := a.Compute(ctx, domain.GeomArea, vertices)
	if err != nil {
		return 0, err
	}
	return v.Float(), nil
}

// BoundingBox computes the axis-aligned box containing the given points.
func (a *Geometry) BoundingBox(ctx context.Context, points []domain.Value) (domain.Value, error) {
	return a.Compute(ctx, domain.GeomBoundingBox, points)
}

// Stats returns the accessor snapshot. The cache column covers the
// attribute cache; memo statistics are reported by the performance
// coordinator.
func (a *Geometry) Stats() domain.AccessorStats {
	return a.stats.snapshot(a.cache.stats())
}

// ResetStats zeroes counters without dropping cached values.
func (a *Geometry) ResetStats() {
	a.stats.reset()
	a.cache.resetStats()
}

// ClearCache drops cached geometry and memoized computations.
func (a *Geometry) ClearCache() {
	a.cache.clear()
	a.memo.Clear()
}

// computeKey hashes the operation name and the canonical rendering of
// every operand. Map operands hash their keys in sorted order so logically
// equal inputs collide.
func computeKey(op domain.GeometryOp, operands []domain.Value) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(string(op))
	for _, operand := range operands {
		_, _ = h.WriteString("|")
		writeCanonical(h, operand)
	}
	return h.Sum64()
}

func writeCanonical(h *xxhash.Digest, v domain.Value) {
	switch v.Kind() {
	case domain.KindMap:
		_, _ = h.WriteString("{")
		for _, key := range v.SortedKeys() {
			item, _ := v.Get(key)
			_, _ = h.WriteString(key)
			_, _ = h.WriteString("=")
			writeCanonical(h, item)
			_, _ = h.WriteString(";")
		}
		_, _ = h.WriteString("}")
	case domain.KindList:
		_, _ = h.WriteString("[")
		for _, item := range v.ListItems() {
			writeCanonical(h, item)
			_, _ = h.WriteString(",")
		}
		_, _ = h.WriteString("]")
	default:
		_, _ = h.WriteString(v.String())
	}
}
