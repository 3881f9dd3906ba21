package txn

import (
	"context"
	"sync"
	"time"

	"github.com/aretw0/trestle/pkg/domain"
	"github.com/aretw0/trestle/pkg/ports"
)

// Group aggregates a set of already-completed transactions into one undo
// unit. Groups do not participate in any execution context's stack; they
// wrap whatever the host absorbs between Begin and Commit.
type Group struct {
	c     *Coordinator
	token ports.TxnToken
	info  domain.TxnInfo

	mu   sync.Mutex
	done bool
}

// Info returns a copy of the group's diagnostic record.
func (g *Group) Info() domain.TxnInfo {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.info
}

// Commit seals the group as a single undo unit.
func (g *Group) Commit(ctx context.Context) error {
	return g.complete(ctx, domain.TxnCommitted, false)
}

// Rollback undoes every transaction the group absorbed.
func (g *Group) Rollback(ctx context.Context) error {
	return g.complete(ctx, domain.TxnRolledBack, false)
}

// Close disposes the group, rolling it back if still open. Idempotent.
func (g *Group) Close(ctx context.Context) error {
	return g.complete(ctx, domain.TxnRolledBack, true)
}

func (g *Group) complete(ctx context.Context, status domain.TxnStatus, idempotent bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.done {
		if idempotent {
			return nil
		}
		return &domain.TransactionUsageError{Op: "group-" + opName(status), Reason: domain.ErrScopeCompleted}
	}

	var hostErr error
	if status == domain.TxnCommitted {
		hostErr = g.c.host.CommitGroup(ctx, g.token)
	} else {
		hostErr = g.c.host.RollbackGroup(ctx, g.token)
	}
	if hostErr != nil {
		return &domain.HostError{Op: "group-" + opName(status), Cause: hostErr}
	}

	g.done = true
	g.info.Status = status
	g.info.End = time.Now()
	g.c.logger.Debug("transaction group completed",
		"id", g.info.ID,
		"name", g.info.Name,
		"status", status.String(),
	)
	return nil
}
