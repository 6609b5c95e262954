// Package execution applies approved queue entries to the ledger. Each
// execution runs in a single Postgres transaction: ledger mutations and the
// entry's EXECUTED finalization commit together or not at all.
package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"vaultflow/ledger"
	"vaultflow/operation"
	"vaultflow/queue"
	"vaultflow/telemetry"
)

var (
	// ErrExecution wraps unexpected handler failures. Always logged with the
	// full entry context before being surfaced.
	ErrExecution = errors.New("execution: operation failed")
	// ErrLimitExceeded signals a movement above the hard per-transaction cap.
	ErrLimitExceeded = errors.New("execution: movement exceeds transaction limit")
	// ErrNoHandler signals an operation type with no registered handler.
	ErrNoHandler = errors.New("execution: no handler for operation type")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// EntryStore is the slice of the queue repository the engine needs.
type EntryStore interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (queue.Entry, error)
	MarkExecuted(ctx context.Context, tx pgx.Tx, id string, result json.RawMessage) (queue.Entry, error)
	MarkExecutionFailed(ctx context.Context, id string, failureReason string) (queue.Entry, error)
}

// Ledger is the slice of the ledger store handlers write through.
type Ledger interface {
	GetAccountForUpdate(ctx context.Context, tx pgx.Tx, number string) (ledger.Account, error)
	Credit(ctx context.Context, tx pgx.Tx, number string, amount int64) (int64, error)
	Debit(ctx context.Context, tx pgx.Tx, number string, amount int64) (int64, error)
	Adjust(ctx context.Context, tx pgx.Tx, number string, delta int64) (int64, error)
	CreateAccount(ctx context.Context, tx pgx.Tx, params ledger.CreateAccountParams) (ledger.Account, error)
	SetAccountStatus(ctx context.Context, tx pgx.Tx, number string, status ledger.AccountStatus) (ledger.Account, error)
	RecordTransaction(ctx context.Context, tx pgx.Tx, params ledger.TransactionParams) error
	CreateLoan(ctx context.Context, tx pgx.Tx, loan ledger.Loan) error
	CreatePolicy(ctx context.Context, tx pgx.Tx, policy ledger.InsurancePolicy) error
	CreateStaff(ctx context.Context, tx pgx.Tx, params ledger.CreateStaffParams) error
	UpdateStaffPassword(ctx context.Context, tx pgx.Tx, username, passwordHash string) error
}

// HandlerFunc applies one operation type inside the execution transaction and
// returns the result recorded on the entry.
type HandlerFunc func(ctx context.Context, tx pgx.Tx, entry queue.Entry) (map[string]any, error)

// Engine dispatches approved entries to per-type handlers.
type Engine struct {
	pool     TxBeginner
	entries  EntryStore
	books    Ledger
	handlers map[operation.Type]HandlerFunc
	logger   *slog.Logger

	// maxMovement caps any single balance movement regardless of approval;
	// zero disables the cap.
	maxMovement int64

	idGen func() string
	now   func() time.Time
}

func NewEngine(pool TxBeginner, entries EntryStore, books Ledger, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		pool:    pool,
		entries: entries,
		books:   books,
		logger:  logger,
		idGen:   func() string { return uuid.NewString() },
		now:     time.Now,
	}
	e.handlers = map[operation.Type]HandlerFunc{
		operation.TypeCashDeposit:       e.executeDeposit,
		operation.TypeCashWithdrawal:    e.executeWithdrawal,
		operation.TypeBankTransfer:      e.executeTransfer,
		operation.TypeLoanDisbursement:  e.executeLoanDisbursement,
		operation.TypePolicySale:        e.executePolicySale,
		operation.TypeBalanceAdjustment: e.executeBalanceAdjustment,
		operation.TypeAccountCreation:   e.executeAccountCreation,
		operation.TypeAccountFreeze:     e.executeAccountFreeze,
		operation.TypeAccountUnfreeze:   e.executeAccountUnfreeze,
		operation.TypeStaffCreation:     e.executeStaffCreation,
		operation.TypePasswordReset:     e.executePasswordReset,
	}
	return e
}

// WithMaxMovement sets the hard per-transaction movement cap.
func (e *Engine) WithMaxMovement(limit int64) *Engine {
	e.maxMovement = limit
	return e
}

func (e *Engine) WithIDGenerator(gen func() string) *Engine {
	e.idGen = gen
	return e
}

// Execute applies the approved entry identified by queueID. It is idempotent:
// re-invoking on an already-executed entry returns the stored prior result
// without touching the ledger. The returned entry reflects the final state;
// a non-nil error means the entry was marked EXECUTION_FAILED (or, for
// infrastructure errors, left untouched for the caller to retry).
func (e *Engine) Execute(ctx context.Context, queueID string) (queue.Entry, error) {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return queue.Entry{}, fmt.Errorf("execution: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	entry, err := e.entries.GetForUpdate(ctx, tx, queueID)
	if err != nil {
		return queue.Entry{}, err
	}

	// Replay guard: a retry after a crash between commit and response must
	// not apply the operation twice.
	if entry.Status == queue.StatusExecuted {
		return entry, nil
	}
	if entry.Status != queue.StatusApproved {
		return entry, queue.ErrInvalidState
	}

	handler, ok := e.handlers[entry.Type]
	if !ok {
		// Release the row lock before fail writes EXECUTION_FAILED on the
		// pool, or that update would wait on our own transaction.
		_ = tx.Rollback(ctx)
		return e.fail(ctx, entry, fmt.Errorf("%w: %s", ErrNoHandler, entry.Type))
	}

	result, err := handler(ctx, tx, entry)
	if err != nil {
		// Roll back the partial ledger work before recording the failure.
		_ = tx.Rollback(ctx)
		return e.fail(ctx, entry, err)
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		_ = tx.Rollback(ctx)
		return e.fail(ctx, entry, fmt.Errorf("%w: marshal result: %v", ErrExecution, err))
	}

	executed, err := e.entries.MarkExecuted(ctx, tx, entry.ID, resultJSON)
	if err != nil {
		return queue.Entry{}, fmt.Errorf("execution: finalize entry %s: %w", entry.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return queue.Entry{}, fmt.Errorf("execution: commit entry %s: %w", entry.ID, err)
	}

	telemetry.ExecutionsSucceeded.Inc()
	e.logger.InfoContext(ctx, "operation executed",
		slog.String("queue_id", executed.ID),
		slog.String("operation_type", string(executed.Type)),
		slog.String("reference_id", executed.ReferenceID),
	)
	return executed, nil
}

// fail records a terminal execution failure outside the rolled-back
// transaction and surfaces the typed cause to the caller.
func (e *Engine) fail(ctx context.Context, entry queue.Entry, cause error) (queue.Entry, error) {
	if !businessFailure(cause) {
		cause = fmt.Errorf("%w: %s: %v", ErrExecution, entry.Type, cause)
	}

	e.logger.ErrorContext(ctx, "operation execution failed",
		slog.String("queue_id", entry.ID),
		slog.String("operation_type", string(entry.Type)),
		slog.String("reference_id", entry.ReferenceID),
		slog.String("payload", string(entry.Payload)),
		slog.String("error", cause.Error()),
	)

	failed, err := e.entries.MarkExecutionFailed(ctx, entry.ID, cause.Error())
	if err != nil {
		// The failure mark itself failed; report both so the operator can
		// reconcile manually.
		return entry, fmt.Errorf("execution: mark failed for %s: %v (original: %w)", entry.ID, err, cause)
	}

	telemetry.ExecutionsFailed.Inc()
	return failed, cause
}

// businessFailure reports whether the error is an expected business-rule
// violation rather than an internal fault.
func businessFailure(err error) bool {
	return errors.Is(err, ledger.ErrInsufficientFunds) ||
		errors.Is(err, ledger.ErrAccountNotFound) ||
		errors.Is(err, ledger.ErrAccountNotActive) ||
		errors.Is(err, ledger.ErrDuplicateAccount) ||
		errors.Is(err, ledger.ErrDuplicateLoan) ||
		errors.Is(err, ledger.ErrDuplicatePolicy) ||
		errors.Is(err, ledger.ErrDuplicateStaff) ||
		errors.Is(err, ledger.ErrStaffNotFound) ||
		errors.Is(err, operation.ErrValidation) ||
		errors.Is(err, ErrLimitExceeded)
}

func (e *Engine) checkMovementCap(amount int64) error {
	if e.maxMovement > 0 && amount > e.maxMovement {
		return fmt.Errorf("%w: %d > %d", ErrLimitExceeded, amount, e.maxMovement)
	}
	return nil
}
