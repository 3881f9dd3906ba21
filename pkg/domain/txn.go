package domain

import "time"

// TxnKind distinguishes top-level, nested and read-only transactions.
type TxnKind uint8

const (
	TxnRegular TxnKind = iota
	TxnSub
	TxnReadOnly
)

func (k TxnKind) String() string {
	switch k {
	case TxnSub:
		return "sub"
	case TxnReadOnly:
		return "read-only"
	default:
		return "regular"
	}
}

// TxnStatus is the transaction state machine. Active is the only
// non-terminal state.
type TxnStatus uint8

const (
	TxnActive TxnStatus = iota
	TxnCommitted
	TxnRolledBack
	TxnFailed
)

func (s TxnStatus) String() string {
	switch s {
	case TxnCommitted:
		return "committed"
	case TxnRolledBack:
		return "rolled-back"
	case TxnFailed:
		return "failed"
	default:
		return "active"
	}
}

// Terminal reports whether the status admits no further transitions.
func (s TxnStatus) Terminal() bool { return s != TxnActive }

// TxnInfo is the diagnostic record of one transaction. It is created on
// begin, mutated only by the owning coordinator, and retained in a bounded
// history ring after completion.
type TxnInfo struct {
	ID       string
	Name     string
	Kind     TxnKind
	Status   TxnStatus
	Document string
	Parent   string // ID of the enclosing transaction, for sub-transactions
	Start    time.Time
	End      time.Time
	Err      error
}

// Duration returns the wall time between begin and completion; zero while
// the transaction is still active.
func (t TxnInfo) Duration() time.Duration {
	if t.End.IsZero() {
		return 0
	}
	return t.End.Sub(t.Start)
}

// FailureMode selects what the coordinator does when an action run inside
// Execute returns an error.
type FailureMode uint8

const (
	// FailureAutoRollback rolls the transaction back automatically.
	// Rollback errors are logged, never allowed to mask the original.
	FailureAutoRollback FailureMode = iota
	// FailureCustomHandler consults registered handlers in order; the
	// first one to return a decision wins.
	FailureCustomHandler
	// FailureThrow takes no automatic action; the caller cleans up.
	FailureThrow
)

func (m FailureMode) String() string {
	switch m {
	case FailureCustomHandler:
		return "custom-handler"
	case FailureThrow:
		return "throw"
	default:
		return "auto-rollback"
	}
}

// FailureDecision is what a custom failure handler asks the coordinator to
// do with a failed transaction.
type FailureDecision uint8

const (
	DecisionUndecided FailureDecision = iota
	DecisionRollback
	DecisionRetry
	DecisionContinue
	DecisionPropagate
)
