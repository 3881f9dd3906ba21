// Package txn implements the transaction coordinator: nested transaction
// stacks per execution context, transaction groups, failure-handling
// policies and a bounded diagnostic history.
package txn

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/trestle/internal/logging"
	"github.com/aretw0/trestle/pkg/domain"
	"github.com/aretw0/trestle/pkg/ports"
	"github.com/google/uuid"
)

// historyLimit bounds the completed-transaction ring.
const historyLimit = 1000

// maxRetries bounds how often a custom handler may request a retry of the
// same Execute action.
const maxRetries = 3

// FailureHandler inspects a failed transaction and decides what the
// coordinator should do. Handlers run in registration order; the first
// decision other than Undecided wins.
type FailureHandler func(info domain.TxnInfo, err error) domain.FailureDecision

type transaction struct {
	info  domain.TxnInfo
	token ports.TxnToken
}

// Coordinator manages transaction lifecycles against the host's mutation
// scopes. One coordinator serves all execution contexts; per-context state
// lives in Context values owned by callers.
type Coordinator struct {
	host   ports.HostModel
	logger *slog.Logger
	mode   domain.FailureMode

	handlersMu sync.RWMutex
	handlers   []FailureHandler

	historyMu sync.Mutex
	history   []domain.TxnInfo // ring, oldest first
	histStart int

	statsMu sync.Mutex
	stats   statsBlock
}

type statsBlock struct {
	started    uint64
	committed  uint64
	rolledBack uint64
	failed     uint64
	groups     uint64
	count      uint64
	meanNanos  float64
	active     int
	peakActive int
}

// Option configures the Coordinator.
type Option func(*Coordinator)

// WithLogger configures structured logging.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logging.Component(logger, "txn")
	}
}

// WithFailureMode sets the failure-handling policy for Execute.
func WithFailureMode(mode domain.FailureMode) Option {
	return func(c *Coordinator) {
		c.mode = mode
	}
}

// NewCoordinator creates a coordinator over the host model.
func NewCoordinator(host ports.HostModel, opts ...Option) *Coordinator {
	c := &Coordinator{
		host:   host,
		logger: logging.NewNop(),
		mode:   domain.FailureAutoRollback,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterFailureHandler appends a handler consulted in CustomHandler mode.
func (c *Coordinator) RegisterFailureHandler(h FailureHandler) {
	c.handlersMu.Lock()
	c.handlers = append(c.handlers, h)
	c.handlersMu.Unlock()
}

// Begin opens a top-level transaction in the execution context and returns
// its scope. The scope must be closed exactly once.
func (c *Coordinator) Begin(ctx context.Context, ec *Context, name, document string) (*Scope, error) {
	return c.begin(ctx, ec, name, document, domain.TxnRegular)
}

// BeginReadOnly opens a transaction that promises no host mutations. It
// never opens a host mutation scope; commit and rollback are journal
// entries only.
func (c *Coordinator) BeginReadOnly(ctx context.Context, ec *Context, name, document string) (*Scope, error) {
	return c.begin(ctx, ec, name, document, domain.TxnReadOnly)
}

// BeginSub opens a sub-transaction. It requires an active parent in the
// same execution context.
func (c *Coordinator) BeginSub(ctx context.Context, ec *Context, name string) (*Scope, error) {
	parent := ec.top()
	if parent == nil {
		return nil, &domain.TransactionUsageError{Op: "begin-sub", Reason: domain.ErrNoActiveTransaction}
	}
	scope, err := c.begin(ctx, ec, name, parent.info.Document, domain.TxnSub)
	if err != nil {
		return nil, err
	}
	scope.tx.info.Parent = parent.info.ID
	return scope, nil
}

func (c *Coordinator) begin(ctx context.Context, ec *Context, name, document string, kind domain.TxnKind) (*Scope, error) {
	t := &transaction{info: domain.TxnInfo{
		ID:       uuid.NewString(),
		Name:     name,
		Kind:     kind,
		Status:   domain.TxnActive,
		Document: document,
		Start:    time.Now(),
	}}

	if kind != domain.TxnReadOnly {
		token, err := c.host.BeginTransaction(ctx, document, name)
		if err != nil {
			return nil, &domain.HostError{Op: "begin-transaction", Cause: err}
		}
		t.token = token
	}

	ec.push(t)
	c.noteStarted()
	c.logger.Debug("transaction started", "id", t.info.ID, "name", name, "kind", kind.String())
	return &Scope{c: c, ec: ec, tx: t}, nil
}

// BeginGroup opens an independent transaction group: an aggregate that can
// commit or roll back a set of already-completed transactions as one undo
// unit. Groups do not participate in the per-context stack.
func (c *Coordinator) BeginGroup(ctx context.Context, name, document string) (*Group, error) {
	token, err := c.host.BeginGroup(ctx, document, name)
	if err != nil {
		return nil, &domain.HostError{Op: "begin-group", Cause: err}
	}
	c.statsMu.Lock()
	c.stats.groups++
	c.statsMu.Unlock()
	return &Group{
		c:     c,
		token: token,
		info: domain.TxnInfo{
			ID:       uuid.NewString(),
			Name:     name,
			Status:   domain.TxnActive,
			Document: document,
			Start:    time.Now(),
		},
	}, nil
}

// Execute is the primary contract scripted code uses: begin, run the
// action, commit on success. On failure the configured policy runs before
// the original error is returned; scripted callers never manage scopes for
// a single logical operation.
func (c *Coordinator) Execute(ctx context.Context, ec *Context, name, document string, fn func(context.Context) error) error {
	for attempt := 0; ; attempt++ {
		retry, err := c.executeOnce(ctx, ec, name, document, fn)
		if !retry {
			return err
		}
		if attempt+1 >= maxRetries {
			c.logger.Warn("retry budget exhausted", "name", name, "attempts", attempt+1)
			return err
		}
	}
}

func (c *Coordinator) executeOnce(ctx context.Context, ec *Context, name, document string, fn func(context.Context) error) (retry bool, err error) {
	scope, err := c.Begin(ctx, ec, name, document)
	if err != nil {
		return false, err
	}

	actionErr := fn(ctx)
	if actionErr == nil {
		if err := scope.Commit(ctx); err != nil {
			return false, err
		}
		return false, nil
	}

	// Usage errors are programming errors: no policy, no retry.
	var usage *domain.TransactionUsageError
	if errors.As(actionErr, &usage) {
		_ = scope.Close(ctx)
		return false, actionErr
	}

	switch c.mode {
	case domain.FailureAutoRollback:
		if rbErr := scope.Rollback(ctx); rbErr != nil {
			// Rollback's own failure is logged, never allowed to
			// mask the original error.
			c.logger.Error("auto-rollback failed", "name", name, "err", rbErr)
		}
		return false, actionErr

	case domain.FailureCustomHandler:
		decision := c.consultHandlers(scope.Info(), actionErr)
		switch decision {
		case domain.DecisionRetry:
			if rbErr := scope.Rollback(ctx); rbErr != nil {
				c.logger.Error("rollback before retry failed", "name", name, "err", rbErr)
				return false, actionErr
			}
			return true, actionErr
		case domain.DecisionContinue:
			if err := scope.Commit(ctx); err != nil {
				return false, err
			}
			c.logger.Warn("failure suppressed by handler", "name", name, "err", actionErr)
			return false, nil
		case domain.DecisionRollback, domain.DecisionUndecided:
			if rbErr := scope.Rollback(ctx); rbErr != nil {
				c.logger.Error("rollback failed", "name", name, "err", rbErr)
			}
			return false, actionErr
		default: // DecisionPropagate
			scope.fail(ctx, actionErr)
			return false, actionErr
		}

	default: // domain.FailureThrow
		// No automatic recovery. The transaction is marked failed and
		// popped so the context stack stays balanced.
		scope.fail(ctx, actionErr)
		return false, actionErr
	}
}

func (c *Coordinator) consultHandlers(info domain.TxnInfo, err error) domain.FailureDecision {
	c.handlersMu.RLock()
	handlers := c.handlers
	c.handlersMu.RUnlock()
	for _, h := range handlers {
		if d := h(info, err); d != domain.DecisionUndecided {
			return d
		}
	}
	return domain.DecisionUndecided
}

// History returns completed transactions, most recent first.
func (c *Coordinator) History() []domain.TxnInfo {
	c.historyMu.Lock()
	defer c.historyMu.Unlock()
	out := make([]domain.TxnInfo, 0, len(c.history))
	for i := len(c.history) - 1; i >= 0; i-- {
		out = append(out, c.history[(c.histStart+i)%len(c.history)])
	}
	return out
}

// Stats returns a snapshot of the coordinator counters.
func (c *Coordinator) Stats() domain.TxnStats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return domain.TxnStats{
		Started:     c.stats.started,
		Committed:   c.stats.committed,
		RolledBack:  c.stats.rolledBack,
		Failed:      c.stats.failed,
		Groups:      c.stats.groups,
		AvgDuration: time.Duration(c.stats.meanNanos),
		PeakActive:  c.stats.peakActive,
	}
}

// ResetStats zeroes the counters, keeping the active high-water mark at
// the current activity level.
func (c *Coordinator) ResetStats() {
	c.statsMu.Lock()
	active := c.stats.active
	c.stats = statsBlock{active: active, peakActive: active}
	c.statsMu.Unlock()
}

func (c *Coordinator) noteStarted() {
	c.statsMu.Lock()
	c.stats.started++
	c.stats.active++
	if c.stats.active > c.stats.peakActive {
		c.stats.peakActive = c.stats.active
	}
	c.statsMu.Unlock()
}

func (c *Coordinator) noteCompleted(info domain.TxnInfo) {
	c.statsMu.Lock()
	c.stats.active--
	switch info.Status {
	case domain.TxnCommitted:
		c.stats.committed++
	case domain.TxnRolledBack:
		c.stats.rolledBack++
	case domain.TxnFailed:
		c.stats.failed++
	}
	c.stats.count++
	c.stats.meanNanos += (float64(info.Duration().Nanoseconds()) - c.stats.meanNanos) / float64(c.stats.count)
	c.statsMu.Unlock()

	c.historyMu.Lock()
	if len(c.history) < historyLimit {
		c.history = append(c.history, info)
	} else {
		c.history[c.histStart] = info
		c.histStart = (c.histStart + 1) % historyLimit
	}
	c.historyMu.Unlock()
}
