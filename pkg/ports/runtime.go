package ports

import (
	"context"

	"github.com/aretw0/trestle/pkg/domain"
)

// APIFunc is a host-side function exposed to scripts. Arguments and results
// cross the boundary as domain values only.
type APIFunc func(ctx context.Context, args []domain.Value) (domain.Value, error)

// Module is a handle to an imported script module.
type Module interface {
	// Name returns the module's import name.
	Name() string
	// Call invokes a named function exported by the module.
	Call(ctx context.Context, function string, args []domain.Value) (domain.Value, error)
}

// ScriptRuntime is the embedded interpreter contract. Implementations are
// not assumed reentrant; the bridge serializes Execute/Call externally.
type ScriptRuntime interface {
	// Execute evaluates code in a fresh scope with the given named
	// bindings injected, and returns the value of the last expression.
	Execute(ctx context.Context, code string, bindings map[string]domain.Value) (domain.Value, error)

	// ImportModule resolves and caches a module by name. With
	// forceReload the cached module is replaced, not appended to.
	ImportModule(ctx context.Context, name string, forceReload bool) (Module, error)

	// RegisterAPI exposes a named group of host functions to scripts as
	// a global object.
	RegisterAPI(name string, funcs map[string]APIFunc) error

	// ModuleCount reports how many modules are currently cached.
	ModuleCount() int

	// Close shuts the interpreter down. Implementations must make Close
	// idempotent.
	Close() error
}
