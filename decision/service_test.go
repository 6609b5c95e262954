package decision

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"vaultflow/ledger"
	"vaultflow/queue"
)

func supervisor() queue.Actor {
	return queue.Actor{ID: "SUP-001", Name: "Kofi Supervisor", Role: "manager", Branch: "HQ"}
}

func pendingEntry() queue.Entry {
	return queue.Entry{ID: "AQ-1", Status: queue.StatusPending, Maker: queue.Actor{ID: "TEL-001"}}
}

func TestDecide_RejectRequiresReason(t *testing.T) {
	svc := NewService(&fakePool{}, &fakeStore{entry: pendingEntry()}, &fakeExecutor{}, nil)

	_, err := svc.Decide(context.Background(), DecideParams{
		QueueID: "AQ-1",
		Decider: supervisor(),
		Approve: false,
	})
	if !errors.Is(err, ErrReasonRequired) {
		t.Fatalf("expected ErrReasonRequired, got %v", err)
	}
}

func TestDecide_NotFound(t *testing.T) {
	svc := NewService(&fakePool{}, &fakeStore{getErr: queue.ErrNotFound}, &fakeExecutor{}, nil)

	_, err := svc.Decide(context.Background(), DecideParams{
		QueueID: "AQ-missing",
		Decider: supervisor(),
		Approve: true,
	})
	if !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDecide_AlreadyDecided(t *testing.T) {
	entry := pendingEntry()
	entry.Status = queue.StatusApproved
	pool := &fakePool{}
	svc := NewService(pool, &fakeStore{entry: entry}, &fakeExecutor{}, nil)

	_, err := svc.Decide(context.Background(), DecideParams{
		QueueID: "AQ-1",
		Decider: supervisor(),
		Approve: true,
	})
	if !errors.Is(err, queue.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if pool.tx.committed {
		t.Errorf("no commit expected for an already-decided entry")
	}
}

func TestDecide_MakerCannotDecideOwnEntry(t *testing.T) {
	svc := NewService(&fakePool{}, &fakeStore{entry: pendingEntry()}, &fakeExecutor{}, nil)

	_, err := svc.Decide(context.Background(), DecideParams{
		QueueID: "AQ-1",
		Decider: queue.Actor{ID: "TEL-001", Role: "teller"},
		Approve: true,
	})
	if !errors.Is(err, ErrSelfDecision) {
		t.Fatalf("expected ErrSelfDecision, got %v", err)
	}
}

func TestDecide_RejectRecordsReasonWithoutExecution(t *testing.T) {
	pool := &fakePool{}
	store := &fakeStore{entry: pendingEntry()}
	exec := &fakeExecutor{}
	svc := NewService(pool, store, exec, nil)

	outcome, err := svc.Decide(context.Background(), DecideParams{
		QueueID:         "AQ-1",
		Decider:         supervisor(),
		Approve:         false,
		RejectionReason: "  amount not supported by documentation  ",
	})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}

	if outcome.Entry.Status != queue.StatusRejected {
		t.Errorf("expected REJECTED, got %s", outcome.Entry.Status)
	}
	if store.decidedReason == nil || *store.decidedReason != "amount not supported by documentation" {
		t.Errorf("expected trimmed rejection reason, got %v", store.decidedReason)
	}
	if exec.calls != 0 {
		t.Errorf("rejection must never touch the ledger")
	}
	if !pool.tx.committed {
		t.Errorf("expected decision transaction to commit")
	}
}

func TestDecide_ApproveTriggersExecution(t *testing.T) {
	pool := &fakePool{}
	store := &fakeStore{entry: pendingEntry()}
	exec := &fakeExecutor{result: queue.Entry{ID: "AQ-1", Status: queue.StatusExecuted}}
	svc := NewService(pool, store, exec, nil)

	outcome, err := svc.Decide(context.Background(), DecideParams{
		QueueID: "AQ-1",
		Decider: supervisor(),
		Approve: true,
	})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}

	if outcome.Entry.Status != queue.StatusExecuted {
		t.Errorf("expected EXECUTED, got %s", outcome.Entry.Status)
	}
	if exec.calls != 1 {
		t.Fatalf("expected one execution, got %d", exec.calls)
	}
	if !pool.tx.committed {
		t.Errorf("approval must commit before execution starts")
	}
}

func TestDecide_ExecutionFailureKeepsApprovalRecorded(t *testing.T) {
	pool := &fakePool{}
	store := &fakeStore{entry: pendingEntry()}
	exec := &fakeExecutor{
		result: queue.Entry{ID: "AQ-1", Status: queue.StatusExecutionFailed},
		err:    ledger.ErrInsufficientFunds,
	}
	svc := NewService(pool, store, exec, nil)

	outcome, err := svc.Decide(context.Background(), DecideParams{
		QueueID: "AQ-1",
		Decider: supervisor(),
		Approve: true,
	})
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds error, got %v", err)
	}

	if outcome.Entry.Status != queue.StatusExecutionFailed {
		t.Errorf("expected EXECUTION_FAILED, got %s", outcome.Entry.Status)
	}
	if !pool.tx.committed {
		t.Errorf("approval must remain recorded after an execution failure")
	}
	if store.decidedTo != queue.StatusApproved {
		t.Errorf("expected the decision itself to be APPROVED, got %s", store.decidedTo)
	}
}

type fakeStore struct {
	entry         queue.Entry
	getErr        error
	decideErr     error
	decidedTo     queue.Status
	decidedReason *string
}

func (f *fakeStore) GetForUpdate(_ context.Context, _ pgx.Tx, id string) (queue.Entry, error) {
	if f.getErr != nil {
		return queue.Entry{}, f.getErr
	}
	return f.entry, nil
}

func (f *fakeStore) Decide(_ context.Context, _ pgx.Tx, id string, next queue.Status, decider string, rejectionReason *string) (queue.Entry, error) {
	if f.decideErr != nil {
		return queue.Entry{}, f.decideErr
	}
	f.decidedTo = next
	f.decidedReason = rejectionReason
	decided := f.entry
	decided.Status = next
	decided.Decider = &decider
	decided.RejectionReason = rejectionReason
	return decided, nil
}

type fakeExecutor struct {
	calls  int
	result queue.Entry
	err    error
}

func (f *fakeExecutor) Execute(_ context.Context, _ string) (queue.Entry, error) {
	f.calls++
	return f.result, f.err
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
