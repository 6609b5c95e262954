package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vaultflow/migrations"
	"vaultflow/operation"
)

// TestRepository_Integration connects to a real PostgreSQL via DATABASE_URL
// and verifies the status transitions and the live-reference uniqueness rule.
func TestRepository_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	if err := migrations.Apply(ctx, pool); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	repo := NewRepository(pool)
	run := time.Now().UnixNano()
	ref := fmt.Sprintf("itest-%d", run)

	newEntry := func(id string, status Status) Entry {
		amount := int64(250_000)
		return Entry{
			ID:          id,
			Type:        operation.TypeCashDeposit,
			ReferenceID: ref,
			Maker:       Actor{ID: "TEL-IT1", Name: "Ama Teller", Role: "teller", Branch: "HQ"},
			Amount:      &amount,
			Payload:     json.RawMessage(`{"account_number":"ACC-IT1","amount":250000}`),
			Status:      status,
			Priority:    operation.PriorityHigh,
		}
	}

	inTx := func(t *testing.T, fn func(tx pgx.Tx) error) error {
		t.Helper()
		tx, err := pool.Begin(ctx)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback(ctx)
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			t.Fatalf("commit: %v", err)
		}
		return nil
	}

	firstID := fmt.Sprintf("AQ-IT-%d-1", run)
	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		_, _ = pool.Exec(ctx2, `DELETE FROM authorization_queue WHERE reference_id = $1`, ref)
	})

	// Insert and read back.
	if err := inTx(t, func(tx pgx.Tx) error {
		_, err := repo.Create(ctx, tx, newEntry(firstID, StatusPending))
		return err
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.Get(ctx, firstID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusPending || got.Type != operation.TypeCashDeposit || got.Maker.ID != "TEL-IT1" {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
	if got.Amount == nil || *got.Amount != 250_000 {
		t.Fatalf("amount lost in round-trip: %v", got.Amount)
	}

	// A second live entry for the same (type, reference) must be refused.
	err = inTx(t, func(tx pgx.Tx) error {
		_, err := repo.Create(ctx, tx, newEntry(fmt.Sprintf("AQ-IT-%d-2", run), StatusPending))
		return err
	})
	if !errors.Is(err, ErrDuplicateReference) {
		t.Fatalf("expected ErrDuplicateReference, got %v", err)
	}

	// PENDING -> APPROVED, then a second decision loses.
	if err := inTx(t, func(tx pgx.Tx) error {
		decided, err := repo.Decide(ctx, tx, firstID, StatusApproved, "SUP-IT1", nil)
		if err != nil {
			return err
		}
		if decided.Status != StatusApproved || decided.Decider == nil || *decided.Decider != "SUP-IT1" {
			t.Fatalf("unexpected decided entry: %+v", decided)
		}
		return nil
	}); err != nil {
		t.Fatalf("decide: %v", err)
	}

	err = inTx(t, func(tx pgx.Tx) error {
		_, err := repo.Decide(ctx, tx, firstID, StatusRejected, "SUP-IT2", nil)
		return err
	})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second decision should observe ErrInvalidState, got %v", err)
	}

	err = inTx(t, func(tx pgx.Tx) error {
		_, err := repo.Decide(ctx, tx, "AQ-IT-missing", StatusApproved, "SUP-IT1", nil)
		return err
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing entry should observe ErrNotFound, got %v", err)
	}

	// APPROVED -> EXECUTED stores the result for replay.
	result := json.RawMessage(`{"transaction_id":"TXN-IT1","balance_after":250000}`)
	if err := inTx(t, func(tx pgx.Tx) error {
		executed, err := repo.MarkExecuted(ctx, tx, firstID, result)
		if err != nil {
			return err
		}
		if executed.Status != StatusExecuted || executed.ExecutedAt == nil {
			t.Fatalf("unexpected executed entry: %+v", executed)
		}
		return nil
	}); err != nil {
		t.Fatalf("mark executed: %v", err)
	}

	// Executing twice must not match the conditional update.
	err = inTx(t, func(tx pgx.Tx) error {
		_, err := repo.MarkExecuted(ctx, tx, firstID, result)
		return err
	})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("double finalize should observe ErrInvalidState, got %v", err)
	}

	// A rejected entry frees the reference for resubmission.
	if err := inTx(t, func(tx pgx.Tx) error {
		_, err := repo.Create(ctx, tx, newEntry(fmt.Sprintf("AQ-IT-%d-3", run), StatusPending))
		return err
	}); err == nil {
		t.Fatalf("reference should still be live while EXECUTED")
	}
}

// TestRepository_ListOrdering_Integration verifies review ordering: URGENT
// before LOW, oldest first within a priority.
func TestRepository_ListOrdering_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	if err := migrations.Apply(ctx, pool); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	repo := NewRepository(pool)
	run := time.Now().UnixNano()
	branch := fmt.Sprintf("BR-%d", run)

	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		_, _ = pool.Exec(ctx2, `DELETE FROM authorization_queue WHERE maker_branch = $1`, branch)
	})

	insert := func(i int, priority operation.Priority) {
		tx, err := pool.Begin(ctx)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		amount := int64(10_000)
		_, err = repo.Create(ctx, tx, Entry{
			ID:          fmt.Sprintf("AQ-ORD-%d-%d", run, i),
			Type:        operation.TypeCashDeposit,
			ReferenceID: fmt.Sprintf("ord-%d-%d", run, i),
			Maker:       Actor{ID: "TEL-ORD", Role: "teller", Branch: branch},
			Amount:      &amount,
			Payload:     json.RawMessage(`{"account_number":"ACC-ORD","amount":10000}`),
			Status:      StatusPending,
			Priority:    priority,
		})
		if err != nil {
			_ = tx.Rollback(ctx)
			t.Fatalf("create %d: %v", i, err)
		}
		if err := tx.Commit(ctx); err != nil {
			t.Fatalf("commit %d: %v", i, err)
		}
	}

	insert(1, operation.PriorityLow)
	insert(2, operation.PriorityUrgent)
	insert(3, operation.PriorityMedium)
	insert(4, operation.PriorityUrgent)

	items, total, err := repo.List(ctx, Filters{Status: StatusPending, Branch: branch, Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 4 || len(items) != 4 {
		t.Fatalf("expected 4 entries, got len=%d total=%d", len(items), total)
	}

	wantOrder := []string{
		fmt.Sprintf("AQ-ORD-%d-2", run),
		fmt.Sprintf("AQ-ORD-%d-4", run),
		fmt.Sprintf("AQ-ORD-%d-3", run),
		fmt.Sprintf("AQ-ORD-%d-1", run),
	}
	for i, want := range wantOrder {
		if items[i].ID != want {
			t.Fatalf("position %d: expected %s, got %s (priorities %s)", i, want, items[i].ID, items[i].Priority)
		}
	}

	// A truncated page still reports the full filtered total; both come out
	// of the same snapshot.
	page, total, err := repo.List(ctx, Filters{Status: StatusPending, Branch: branch, Page: 1, PageSize: 2})
	if err != nil {
		t.Fatalf("list page: %v", err)
	}
	if len(page) != 2 || total != 4 {
		t.Fatalf("expected 2 of 4 entries, got len=%d total=%d", len(page), total)
	}
	if page[0].ID != wantOrder[0] || page[1].ID != wantOrder[1] {
		t.Fatalf("paged items out of order: %s, %s", page[0].ID, page[1].ID)
	}
}
