package txn

import (
	"context"
	"sync"
	"time"

	"github.com/aretw0/trestle/pkg/domain"
)

// Scope is the handle to one open transaction. It must be closed exactly
// once; Close without a prior Commit or Rollback rolls the transaction
// back. Committing or rolling back twice is a usage error.
type Scope struct {
	c  *Coordinator
	ec *Context
	tx *transaction

	mu   sync.Mutex
	done bool
}

// Info returns a copy of the transaction's diagnostic record.
func (s *Scope) Info() domain.TxnInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx.info
}

// Commit completes the transaction, keeping its writes.
func (s *Scope) Commit(ctx context.Context) error {
	return s.complete(ctx, domain.TxnCommitted, nil, false)
}

// Rollback completes the transaction, discarding its writes.
func (s *Scope) Rollback(ctx context.Context) error {
	return s.complete(ctx, domain.TxnRolledBack, nil, false)
}

// fail completes the transaction as Failed. Used by the throw/propagate
// failure paths.
func (s *Scope) fail(ctx context.Context, cause error) {
	_ = s.complete(ctx, domain.TxnFailed, cause, false)
}

// Close disposes the scope. If the transaction is still active it is
// rolled back. Closing twice is a no-op, never an error.
func (s *Scope) Close(ctx context.Context) error {
	err := s.complete(ctx, domain.TxnRolledBack, nil, true)
	if err != nil {
		s.c.logger.Error("rollback on close failed", "id", s.tx.info.ID, "err", err)
	}
	return err
}

func (s *Scope) complete(ctx context.Context, status domain.TxnStatus, cause error, idempotent bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		if idempotent {
			return nil
		}
		return &domain.TransactionUsageError{Op: opName(status), Reason: domain.ErrScopeCompleted}
	}
	// LIFO nesting: a parent cannot complete while a child is open.
	if s.ec.top() != s.tx {
		return &domain.TransactionUsageError{Op: opName(status), Reason: domain.ErrChildActive}
	}

	if s.tx.info.Kind != domain.TxnReadOnly && status != domain.TxnFailed {
		var hostErr error
		switch status {
		case domain.TxnCommitted:
			hostErr = s.c.host.CommitTransaction(ctx, s.tx.token)
		case domain.TxnRolledBack:
			hostErr = s.c.host.RollbackTransaction(ctx, s.tx.token)
		}
		if hostErr != nil {
			// The scope stays open: the host scope is still live and
			// the caller may retry or roll back.
			if status == domain.TxnCommitted {
				return &domain.HostError{Op: "commit-transaction", Cause: hostErr}
			}
			return &domain.HostError{Op: "rollback-transaction", Cause: hostErr}
		}
	}
	if s.tx.info.Kind != domain.TxnReadOnly && status == domain.TxnFailed {
		// A failed transaction still owns a live host scope; discard it
		// so the host does not leak an open mutation scope.
		if rbErr := s.c.host.RollbackTransaction(ctx, s.tx.token); rbErr != nil {
			s.c.logger.Error("host rollback of failed transaction", "id", s.tx.info.ID, "err", rbErr)
		}
	}

	s.done = true
	s.tx.info.Status = status
	s.tx.info.End = time.Now()
	s.tx.info.Err = cause
	s.ec.pop()
	s.c.noteCompleted(s.tx.info)
	s.c.logger.Debug("transaction completed",
		"id", s.tx.info.ID,
		"name", s.tx.info.Name,
		"status", status.String(),
		"duration", s.tx.info.Duration(),
	)
	return nil
}

func opName(status domain.TxnStatus) string {
	switch status {
	case domain.TxnCommitted:
		return "commit"
	case domain.TxnRolledBack:
		return "rollback"
	default:
		return "fail"
	}
}
