package ports

import (
	"context"

	"github.com/aretw0/trestle/pkg/domain"
)

// TxnToken identifies an open mutation scope or group inside the host.
// Tokens are opaque to the bridge; the coordinator only stores and returns
// them.
type TxnToken string

// ElementFilter narrows QueryElements. Zero fields match everything.
type ElementFilter struct {
	Type     string
	Category string
	// Where matches attribute values by name. All entries must match.
	Where map[string]domain.Value
}

// HostModel is the full set of verbs the bridge assumes of the host object
// model. The bridge never inspects host objects beyond these verbs plus the
// name-to-attribute lookup they imply.
type HostModel interface {
	// GetElement resolves a handle to its descriptor-bearing identity.
	GetElement(ctx context.Context, h domain.Handle) (domain.ElementDescriptor, error)

	// ElementsOfType lists all elements of a host type in a document.
	ElementsOfType(ctx context.Context, document, typeName string) ([]domain.Handle, error)

	// QueryElements lists elements matching a filter.
	QueryElements(ctx context.Context, document string, filter ElementFilter) ([]domain.Handle, error)

	// CreateElement creates a new element of the given type and returns
	// its handle. Must be called inside an open mutation scope.
	CreateElement(ctx context.Context, document, typeName string, attrs map[string]domain.Value) (domain.Handle, error)

	// DeleteElement removes an element. Must be called inside an open
	// mutation scope.
	DeleteElement(ctx context.Context, h domain.Handle) error

	// CopyElement duplicates an element and returns the copy's handle.
	CopyElement(ctx context.Context, h domain.Handle) (domain.Handle, error)

	// GetAttribute reads one named attribute of an element.
	GetAttribute(ctx context.Context, h domain.Handle, name string) (domain.Value, error)

	// SetAttribute writes one named attribute. Must be called inside an
	// open mutation scope.
	SetAttribute(ctx context.Context, h domain.Handle, name string, v domain.Value) error

	// BeginTransaction opens a mutation scope on a document. Nested
	// calls from the same execution context are permitted; each token
	// then acts as a savepoint, so rolling back an inner scope discards
	// only its own writes.
	BeginTransaction(ctx context.Context, document, name string) (TxnToken, error)

	// CommitTransaction closes a mutation scope, keeping its writes.
	CommitTransaction(ctx context.Context, token TxnToken) error

	// RollbackTransaction closes a mutation scope, discarding its writes.
	RollbackTransaction(ctx context.Context, token TxnToken) error

	// BeginGroup opens a transaction group that aggregates subsequently
	// completed transactions into one undo unit.
	BeginGroup(ctx context.Context, document, name string) (TxnToken, error)

	// CommitGroup seals a group as a single undo unit.
	CommitGroup(ctx context.Context, token TxnToken) error

	// RollbackGroup undoes every transaction the group absorbed.
	RollbackGroup(ctx context.Context, token TxnToken) error

	// ComputeGeometry runs a pure geometry computation host-side.
	ComputeGeometry(ctx context.Context, op domain.GeometryOp, operands []domain.Value) (domain.Value, error)
}
