package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/aretw0/trestle/pkg/domain"
	"github.com/aretw0/trestle/pkg/ports"
)

// DescriptorStore is an in-memory ports.DescriptorStore.
type DescriptorStore struct {
	mu   sync.RWMutex
	data map[string]domain.ElementDescriptor
}

// NewDescriptorStore creates an empty store.
func NewDescriptorStore() *DescriptorStore {
	return &DescriptorStore{data: map[string]domain.ElementDescriptor{}}
}

// Save implements ports.DescriptorStore.
func (s *DescriptorStore) Save(ctx context.Context, d domain.ElementDescriptor) error {
	s.mu.Lock()
	s.data[d.TypeName] = d
	s.mu.Unlock()
	return nil
}

// Load implements ports.DescriptorStore.
func (s *DescriptorStore) Load(ctx context.Context, typeName string) (domain.ElementDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.data[typeName]
	if !ok {
		return domain.ElementDescriptor{}, ports.ErrDescriptorNotFound
	}
	return d, nil
}

// List implements ports.DescriptorStore.
func (s *DescriptorStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.data))
	for name := range s.data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Delete implements ports.DescriptorStore.
func (s *DescriptorStore) Delete(ctx context.Context, typeName string) error {
	s.mu.Lock()
	delete(s.data, typeName)
	s.mu.Unlock()
	return nil
}
