// Package submission validates proposed operations, applies the threshold
// policy, and inserts them into the authorization queue. Auto-approved
// operations are executed synchronously so the caller never observes a
// PENDING state for them.
package submission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"vaultflow/operation"
	"vaultflow/policy"
	"vaultflow/queue"
	"vaultflow/telemetry"
)

var (
	// ErrAmountRequired signals a monetary operation submitted without an amount.
	ErrAmountRequired = errors.New("submission: amount required for monetary operation")
	// ErrAmountMismatch signals the declared amount disagrees with the payload.
	ErrAmountMismatch = errors.New("submission: amount does not match payload")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// EntryWriter is the slice of the queue repository the service needs.
type EntryWriter interface {
	Create(ctx context.Context, tx pgx.Tx, entry queue.Entry) (queue.Entry, error)
}

// Executor triggers synchronous execution of auto-approved entries.
type Executor interface {
	Execute(ctx context.Context, queueID string) (queue.Entry, error)
}

type Service struct {
	pool      TxBeginner
	entries   EntryWriter
	threshold policy.Config
	executor  Executor
	logger    *slog.Logger

	idGenerator func() string
	now         func() time.Time
}

func NewService(pool TxBeginner, entries EntryWriter, thresholds policy.Config, executor Executor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		pool:      pool,
		entries:   entries,
		threshold: thresholds,
		executor:  executor,
		logger:    logger,
		now:       time.Now,
	}
	s.idGenerator = s.newQueueID
	return s
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// SubmitParams carries one proposed operation from a collaborator.
type SubmitParams struct {
	Type        operation.Type
	ReferenceID string
	Maker       queue.Actor
	Amount      *int64
	Payload     json.RawMessage
}

// Receipt reports the disposition of a submission. For auto-approved
// operations Status is the post-execution status, never PENDING.
type Receipt struct {
	QueueID  string
	Status   queue.Status
	Priority operation.Priority
	Message  string
}

// Submit validates the proposal, stores it, and executes it immediately when
// the threshold policy grants self-authority. A duplicate live
// (operation type, reference id) pair fails with queue.ErrDuplicateReference.
func (s *Service) Submit(ctx context.Context, params SubmitParams) (Receipt, error) {
	if params.Maker.ID == "" {
		return Receipt{}, fmt.Errorf("submission: missing maker id")
	}

	typed, err := operation.DecodePayload(params.Type, params.Payload)
	if err != nil {
		telemetry.SubmissionsRejected.Inc()
		return Receipt{}, err
	}
	if err := checkAmount(params, typed); err != nil {
		telemetry.SubmissionsRejected.Inc()
		return Receipt{}, err
	}

	referenceID := strings.TrimSpace(params.ReferenceID)
	if referenceID == "" {
		referenceID = uuid.NewString()
	}

	var amount int64
	if params.Amount != nil {
		amount = *params.Amount
	}
	verdict := policy.Evaluate(s.threshold, params.Type, amount, params.Maker.Role)

	entry := queue.Entry{
		ID:           s.idGenerator(),
		Type:         params.Type,
		ReferenceID:  referenceID,
		Maker:        params.Maker,
		Amount:       params.Amount,
		Payload:      params.Payload,
		Status:       queue.StatusPending,
		Priority:     verdict.Priority,
		PolicyReason: verdict.Reason,
	}
	if !verdict.RequiresApproval {
		// Auto-approved entries are born APPROVED with a system decider so
		// the audit trail still shows who (or what) signed off.
		now := s.now()
		system := "SYSTEM"
		entry.Status = queue.StatusApproved
		entry.DecidedAt = &now
		entry.Decider = &system
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Receipt{}, fmt.Errorf("submission: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := s.entries.Create(ctx, tx, entry)
	if err != nil {
		if errors.Is(err, queue.ErrDuplicateReference) {
			telemetry.SubmissionsRejected.Inc()
		}
		return Receipt{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Receipt{}, fmt.Errorf("submission: commit tx: %w", err)
	}

	telemetry.SubmissionsAccepted.Inc()
	s.logger.InfoContext(ctx, "operation submitted",
		slog.String("queue_id", created.ID),
		slog.String("operation_type", string(created.Type)),
		slog.String("reference_id", created.ReferenceID),
		slog.String("maker_id", created.Maker.ID),
		slog.String("status", string(created.Status)),
		slog.String("priority", string(created.Priority)),
	)

	if verdict.RequiresApproval {
		return Receipt{
			QueueID:  created.ID,
			Status:   created.Status,
			Priority: created.Priority,
			Message:  verdict.Reason,
		}, nil
	}

	telemetry.AutoApprovals.Inc()
	executed, err := s.executor.Execute(ctx, created.ID)
	receipt := Receipt{
		QueueID:  created.ID,
		Status:   executed.Status,
		Priority: created.Priority,
		Message:  verdict.Reason,
	}
	if err != nil {
		receipt.Message = err.Error()
		return receipt, err
	}
	return receipt, nil
}

// checkAmount enforces the monetary/non-monetary split: monetary operations
// must declare a positive amount that matches the payload; non-monetary
// operations must not declare one.
func checkAmount(params SubmitParams, typed operation.Payload) error {
	if !operation.Monetary(params.Type) {
		if params.Amount != nil {
			return fmt.Errorf("%w: %s carries no amount", ErrAmountMismatch, params.Type)
		}
		return nil
	}

	if params.Amount == nil || *params.Amount <= 0 {
		return ErrAmountRequired
	}

	var payloadAmount int64
	switch p := typed.(type) {
	case *operation.CashMovement:
		payloadAmount = p.Amount
	case *operation.Transfer:
		payloadAmount = p.Amount
	case *operation.LoanDisbursement:
		payloadAmount = p.Principal
	case *operation.PolicySale:
		payloadAmount = p.Premium
	case *operation.BalanceAdjustment:
		payloadAmount = p.Delta
		if payloadAmount < 0 {
			payloadAmount = -payloadAmount
		}
	default:
		return nil
	}
	if payloadAmount != *params.Amount {
		return fmt.Errorf("%w: declared %d, payload %d", ErrAmountMismatch, *params.Amount, payloadAmount)
	}
	return nil
}

// newQueueID builds ids like AQ20260828143000-1f2e3d4c: readable creation
// time plus a random suffix so concurrent submissions within the same second
// cannot collide. It reads the service clock so tests can pin the timestamp.
func (s *Service) newQueueID() string {
	return fmt.Sprintf("AQ%s-%s", s.now().UTC().Format("20060102150405"), uuid.NewString()[:8])
}
