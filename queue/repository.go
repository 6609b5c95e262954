package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"vaultflow/operation"
)

var (
	// ErrNotFound signals that no entry exists for the queue id.
	ErrNotFound = errors.New("queue: entry not found")
	// ErrInvalidState signals a transition attempted from the wrong status,
	// including a second concurrent decision on the same entry.
	ErrInvalidState = errors.New("queue: entry not in expected state")
	// ErrDuplicateReference signals a live entry already exists for the
	// (operation type, reference id) pair.
	ErrDuplicateReference = errors.New("queue: duplicate reference for operation type")
)

const entryColumns = `queue_id, operation_type, reference_id, maker_id, maker_name, maker_role, maker_branch,
	amount, payload, status, priority, policy_reason, created_at,
	decided_at, decider, rejection_reason, executed_at, result, failure_reason`

// Repository handles persistence of authorization queue entries.
type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, entry Entry) (Entry, error)
	Get(ctx context.Context, id string) (Entry, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Entry, error)
	List(ctx context.Context, filters Filters) ([]Entry, int, error)
	Decide(ctx context.Context, tx pgx.Tx, id string, next Status, decider string, rejectionReason *string) (Entry, error)
	MarkExecuted(ctx context.Context, tx pgx.Tx, id string, result json.RawMessage) (Entry, error)
	MarkExecutionFailed(ctx context.Context, id string, failureReason string) (Entry, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Create inserts a new entry. The partial unique index on
// (operation_type, reference_id) excluding rejected rows makes the duplicate
// check and the insert a single atomic step.
func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, entry Entry) (Entry, error) {
	const query = `
		INSERT INTO authorization_queue (queue_id, operation_type, reference_id, maker_id, maker_name,
			maker_role, maker_branch, amount, payload, status, priority, policy_reason,
			decided_at, decider)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING ` + entryColumns

	var decidedAt any
	var decider any
	if entry.DecidedAt != nil {
		decidedAt = *entry.DecidedAt
	}
	if entry.Decider != nil {
		decider = *entry.Decider
	}

	row := tx.QueryRow(ctx, query,
		entry.ID,
		entry.Type,
		entry.ReferenceID,
		entry.Maker.ID,
		entry.Maker.Name,
		entry.Maker.Role,
		entry.Maker.Branch,
		entry.Amount,
		entry.Payload,
		entry.Status,
		entry.Priority,
		entry.PolicyReason,
		decidedAt,
		decider,
	)

	created, err := scanEntry(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Entry{}, ErrDuplicateReference
		}
		return Entry{}, fmt.Errorf("queue: create entry: %w", err)
	}
	return created, nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM authorization_queue WHERE queue_id = $1`
	entry, err := scanEntry(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("queue: get entry: %w", err)
	}
	return entry, nil
}

// GetForUpdate locks the entry row for the duration of the transaction.
func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM authorization_queue WHERE queue_id = $1 FOR UPDATE`
	entry, err := scanEntry(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("queue: get entry for update: %w", err)
	}
	return entry, nil
}

func (r *PGRepository) List(ctx context.Context, filters Filters) ([]Entry, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 200 {
		filters.PageSize = 50
	}

	where := []string{"1=1"}
	args := []any{}

	if filters.Status != "" {
		where = append(where, fmt.Sprintf("status=$%d", len(args)+1))
		args = append(args, filters.Status)
	}
	if filters.Type != "" {
		where = append(where, fmt.Sprintf("operation_type=$%d", len(args)+1))
		args = append(args, filters.Type)
	}
	if filters.Branch != "" {
		where = append(where, fmt.Sprintf("maker_branch=$%d", len(args)+1))
		args = append(args, filters.Branch)
	}
	if filters.Priority != "" {
		where = append(where, fmt.Sprintf("priority=$%d", len(args)+1))
		args = append(args, filters.Priority)
	}

	whereClause := " WHERE " + strings.Join(where, " AND ")
	limit := filters.PageSize
	offset := (filters.Page - 1) * filters.PageSize

	query := fmt.Sprintf(`SELECT %s FROM authorization_queue%s
		ORDER BY array_position(ARRAY['URGENT','HIGH','MEDIUM','LOW'], priority::text), created_at ASC
		LIMIT %d OFFSET %d`, entryColumns, whereClause, limit, offset)

	// Page and count share one repeatable-read snapshot so the total cannot
	// disagree with the page under concurrent writes.
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, 0, fmt.Errorf("queue: begin list tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("queue: query list: %w", err)
	}
	defer rows.Close()

	list := []Entry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("queue: scan list entry: %w", err)
		}
		list = append(list, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("queue: iterate list: %w", err)
	}
	rows.Close()

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM authorization_queue%s", whereClause)
	var total int
	if err := tx.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("queue: count list: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, 0, fmt.Errorf("queue: commit list tx: %w", err)
	}

	return list, total, nil
}

// Decide performs the single atomic PENDING -> APPROVED/REJECTED transition.
// A concurrent second decision matches zero rows and observes ErrInvalidState.
func (r *PGRepository) Decide(ctx context.Context, tx pgx.Tx, id string, next Status, decider string, rejectionReason *string) (Entry, error) {
	if next != StatusApproved && next != StatusRejected {
		return Entry{}, fmt.Errorf("queue: decide to %s not allowed", next)
	}

	query := `
		UPDATE authorization_queue
		SET status = $2,
		    decided_at = NOW(),
		    decider = $3,
		    rejection_reason = $4
		WHERE queue_id = $1 AND status = 'PENDING'
		RETURNING ` + entryColumns

	entry, err := scanEntry(tx.QueryRow(ctx, query, id, next, decider, rejectionReason))
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, fmt.Errorf("queue: decide entry: %w", err)
	}

	// Distinguish a missing entry from one already decided.
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM authorization_queue WHERE queue_id = $1)`, id).Scan(&exists); err != nil {
		return Entry{}, fmt.Errorf("queue: check entry exists: %w", err)
	}
	if !exists {
		return Entry{}, ErrNotFound
	}
	return Entry{}, ErrInvalidState
}

// MarkExecuted finalizes an approved entry inside the execution transaction,
// storing the handler result for idempotent replay.
func (r *PGRepository) MarkExecuted(ctx context.Context, tx pgx.Tx, id string, result json.RawMessage) (Entry, error) {
	query := `
		UPDATE authorization_queue
		SET status = 'EXECUTED',
		    executed_at = NOW(),
		    result = $2
		WHERE queue_id = $1 AND status = 'APPROVED'
		RETURNING ` + entryColumns

	entry, err := scanEntry(tx.QueryRow(ctx, query, id, result))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrInvalidState
		}
		return Entry{}, fmt.Errorf("queue: mark executed: %w", err)
	}
	return entry, nil
}

// MarkExecutionFailed records a terminal execution failure. It runs on the
// pool, outside the rolled-back execution transaction.
func (r *PGRepository) MarkExecutionFailed(ctx context.Context, id string, failureReason string) (Entry, error) {
	query := `
		UPDATE authorization_queue
		SET status = 'EXECUTION_FAILED',
		    executed_at = NOW(),
		    failure_reason = $2
		WHERE queue_id = $1 AND status = 'APPROVED'
		RETURNING ` + entryColumns

	entry, err := scanEntry(r.pool.QueryRow(ctx, query, id, failureReason))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrInvalidState
		}
		return Entry{}, fmt.Errorf("queue: mark execution failed: %w", err)
	}
	return entry, nil
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		entry    Entry
		opType   string
		priority string
	)
	err := row.Scan(
		&entry.ID,
		&opType,
		&entry.ReferenceID,
		&entry.Maker.ID,
		&entry.Maker.Name,
		&entry.Maker.Role,
		&entry.Maker.Branch,
		&entry.Amount,
		&entry.Payload,
		&entry.Status,
		&priority,
		&entry.PolicyReason,
		&entry.CreatedAt,
		&entry.DecidedAt,
		&entry.Decider,
		&entry.RejectionReason,
		&entry.ExecutedAt,
		&entry.Result,
		&entry.FailureReason,
	)
	if err != nil {
		return Entry{}, err
	}
	entry.Type = operation.Type(opType)
	entry.Priority = operation.Priority(priority)
	return entry, nil
}
