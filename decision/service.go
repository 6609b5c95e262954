// Package decision handles the supervisor-facing approve/reject transition.
// Approval commits before execution starts, so an execution failure leaves
// the approval on record as a distinguishable EXECUTION_FAILED state rather
// than silently rolling back to PENDING.
package decision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"

	"vaultflow/queue"
	"vaultflow/telemetry"
)

var (
	// ErrReasonRequired signals a rejection without a rejection reason.
	ErrReasonRequired = errors.New("decision: rejection reason required")
	// ErrSelfDecision signals a maker attempting to decide their own
	// submission. Maker-checker requires a second pair of eyes.
	ErrSelfDecision = errors.New("decision: maker cannot decide own submission")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// EntryStore is the slice of the queue repository the service needs.
type EntryStore interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (queue.Entry, error)
	Decide(ctx context.Context, tx pgx.Tx, id string, next queue.Status, decider string, rejectionReason *string) (queue.Entry, error)
}

// Executor triggers synchronous execution of approved entries.
type Executor interface {
	Execute(ctx context.Context, queueID string) (queue.Entry, error)
}

type Service struct {
	pool     TxBeginner
	entries  EntryStore
	executor Executor
	logger   *slog.Logger
}

func NewService(pool TxBeginner, entries EntryStore, executor Executor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		pool:     pool,
		entries:  entries,
		executor: executor,
		logger:   logger,
	}
}

// DecideParams carries a supervisor's verdict on one pending entry.
type DecideParams struct {
	QueueID         string
	Decider         queue.Actor
	Approve         bool
	RejectionReason string
}

// Outcome reports the final state after a decision, including the execution
// result when the entry was approved.
type Outcome struct {
	Entry   queue.Entry
	Message string
}

// Decide transitions a PENDING entry to APPROVED or REJECTED. The transition
// is a conditional update on status, so of two concurrent decisions exactly
// one succeeds and the other observes queue.ErrInvalidState. On approval the
// entry is executed synchronously; an execution failure is returned alongside
// the EXECUTION_FAILED entry with the approval still recorded.
func (s *Service) Decide(ctx context.Context, params DecideParams) (Outcome, error) {
	if params.QueueID == "" {
		return Outcome{}, fmt.Errorf("decision: missing queue id")
	}
	if params.Decider.ID == "" {
		return Outcome{}, fmt.Errorf("decision: missing decider id")
	}

	next := queue.StatusApproved
	var rejectionReason *string
	if !params.Approve {
		next = queue.StatusRejected
		trimmed := strings.TrimSpace(params.RejectionReason)
		if trimmed == "" {
			return Outcome{}, ErrReasonRequired
		}
		rejectionReason = &trimmed
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("decision: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.entries.GetForUpdate(ctx, tx, params.QueueID)
	if err != nil {
		return Outcome{}, err
	}
	if current.Status != queue.StatusPending {
		return Outcome{}, queue.ErrInvalidState
	}
	if current.Maker.ID == params.Decider.ID {
		return Outcome{}, ErrSelfDecision
	}

	decided, err := s.entries.Decide(ctx, tx, params.QueueID, next, params.Decider.ID, rejectionReason)
	if err != nil {
		return Outcome{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Outcome{}, fmt.Errorf("decision: commit tx: %w", err)
	}

	s.logger.InfoContext(ctx, "entry decided",
		slog.String("queue_id", decided.ID),
		slog.String("operation_type", string(decided.Type)),
		slog.String("decider", params.Decider.ID),
		slog.String("status", string(decided.Status)),
	)

	if !params.Approve {
		telemetry.DecisionsRejected.Inc()
		return Outcome{Entry: decided, Message: *rejectionReason}, nil
	}

	telemetry.DecisionsApproved.Inc()
	executed, err := s.executor.Execute(ctx, decided.ID)
	if err != nil {
		// The approval stays on record; the failed execution needs
		// operational remediation, not a silent retry.
		return Outcome{Entry: executed, Message: err.Error()}, err
	}
	return Outcome{Entry: executed, Message: "executed"}, nil
}
