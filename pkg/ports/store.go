package ports

import (
	"context"
	"errors"

	"github.com/aretw0/trestle/pkg/domain"
)

// ErrDescriptorNotFound is returned when a store has no descriptor for the
// requested host type.
var ErrDescriptorNotFound = errors.New("descriptor not found")

// DescriptorStore persists element descriptors between runs so the bridge
// can warm its descriptor caches during Initialize instead of paying a
// host-API round trip per type on first use.
type DescriptorStore interface {
	// Save persists the descriptor for a host type.
	Save(ctx context.Context, d domain.ElementDescriptor) error

	// Load retrieves the descriptor for a host type.
	// Returns ErrDescriptorNotFound if the type is unknown.
	Load(ctx context.Context, typeName string) (domain.ElementDescriptor, error)

	// List returns the type names with stored descriptors.
	List(ctx context.Context) ([]string, error)

	// Delete removes a stored descriptor.
	Delete(ctx context.Context, typeName string) error
}
