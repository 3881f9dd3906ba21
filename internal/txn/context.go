package txn

import (
	"github.com/aretw0/trestle/pkg/domain"
	"github.com/google/uuid"
)

// Context is one execution context's transaction stack: the logical call
// chain (one script invocation, one batch) that owns exactly one active
// transaction at a time.
//
// A Context is exclusively owned by its call chain and must not be shared
// across goroutines. Passing it explicitly, instead of stashing it in
// ambient goroutine-local state, keeps execution-context identity visible
// and testable.
type Context struct {
	id    string
	stack []*transaction
}

// NewContext creates an empty execution context.
func NewContext() *Context {
	return &Context{id: uuid.NewString()}
}

// ID returns the context's unique identifier.
func (ec *Context) ID() string { return ec.id }

// Depth returns the number of open transactions.
func (ec *Context) Depth() int { return len(ec.stack) }

// Active returns the innermost open transaction's record, if any.
func (ec *Context) Active() (domain.TxnInfo, bool) {
	if len(ec.stack) == 0 {
		return domain.TxnInfo{}, false
	}
	return ec.stack[len(ec.stack)-1].info, true
}

func (ec *Context) push(t *transaction) {
	ec.stack = append(ec.stack, t)
}

// pop removes the top transaction. Callers verify top identity first; the
// stack can never go negative because pop is only reachable through an
// owned scope.
func (ec *Context) pop() {
	ec.stack = ec.stack[:len(ec.stack)-1]
}

func (ec *Context) top() *transaction {
	if len(ec.stack) == 0 {
		return nil
	}
	return ec.stack[len(ec.stack)-1]
}
