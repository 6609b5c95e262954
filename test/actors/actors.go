// Package actors hosts the concurrent workload drivers for the stress
// harness. Each actor loops through the real service layer, so contention,
// locking, and status transitions are exercised exactly as in production.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"vaultflow/decision"
	"vaultflow/execution"
	"vaultflow/ledger"
	"vaultflow/operation"
	"vaultflow/queue"
	"vaultflow/submission"
)

// Env bundles the wired services the actors drive.
type Env struct {
	Submissions *submission.Service
	Decisions   *decision.Service
	Entries     *queue.PGRepository
}

// tolerable reports whether the error is an expected business outcome under
// contention rather than a harness failure.
func tolerable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Terminated backend (chaos), serialization failure, deadlock.
		switch pgErr.Code {
		case "57P01", "40001", "40P01":
			return true
		}
	}
	return errors.Is(err, queue.ErrDuplicateReference) ||
		errors.Is(err, queue.ErrInvalidState) ||
		errors.Is(err, queue.ErrNotFound) ||
		errors.Is(err, decision.ErrSelfDecision) ||
		errors.Is(err, execution.ErrLimitExceeded) ||
		errors.Is(err, ledger.ErrInsufficientFunds) ||
		errors.Is(err, ledger.ErrAccountNotActive) ||
		errors.Is(err, ledger.ErrAccountNotFound)
}

// Maker submits a mix of deposits, withdrawals, and transfers with amounts
// that straddle the teller threshold, so both the auto-approval and the
// pending path stay busy.
func Maker(ctx context.Context, env Env, maker queue.Actor, accounts []string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		amount := int64(1_000 + rand.Intn(300_000))
		account := accounts[rand.Intn(len(accounts))]
		ref := fmt.Sprintf("%s-%d", maker.ID, rand.Int63())

		var params submission.SubmitParams
		switch rand.Intn(3) {
		case 0:
			params = submission.SubmitParams{
				Type:        operation.TypeCashDeposit,
				ReferenceID: ref,
				Maker:       maker,
				Amount:      &amount,
				Payload:     []byte(fmt.Sprintf(`{"account_number":%q,"amount":%d}`, account, amount)),
			}
		case 1:
			params = submission.SubmitParams{
				Type:        operation.TypeCashWithdrawal,
				ReferenceID: ref,
				Maker:       maker,
				Amount:      &amount,
				Payload:     []byte(fmt.Sprintf(`{"account_number":%q,"amount":%d}`, account, amount)),
			}
		default:
			to := accounts[rand.Intn(len(accounts))]
			if to == account {
				continue
			}
			params = submission.SubmitParams{
				Type:        operation.TypeBankTransfer,
				ReferenceID: ref,
				Maker:       maker,
				Amount:      &amount,
				Payload:     []byte(fmt.Sprintf(`{"from_account":%q,"to_account":%q,"amount":%d}`, account, to, amount)),
			}
		}

		if _, err := env.Submissions.Submit(ctx, params); err != nil && !tolerable(err) {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("maker %s: %w", maker.ID, err)
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// Checker drains the pending queue, approving most entries and rejecting the
// rest. Concurrent checkers race on the same entries; losers must observe
// queue.ErrInvalidState, never a double decision.
func Checker(ctx context.Context, env Env, checker queue.Actor, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		pending, _, err := env.Entries.List(ctx, queue.Filters{
			Status:   queue.StatusPending,
			Page:     1,
			PageSize: 10,
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("checker %s list: %w", checker.ID, err)
		}
		if len(pending) == 0 {
			time.Sleep(25 * time.Millisecond)
			continue
		}

		target := pending[rand.Intn(len(pending))]
		params := decision.DecideParams{
			QueueID: target.ID,
			Decider: checker,
			Approve: rand.Intn(10) != 0,
		}
		if !params.Approve {
			params.RejectionReason = "spot check rejection"
		}

		if _, err := env.Decisions.Decide(ctx, params); err != nil && !tolerable(err) {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("checker %s decide %s: %w", checker.ID, target.ID, err)
		}
		time.Sleep(time.Duration(15+rand.Intn(30)) * time.Millisecond)
	}
}

// Governor submits freeze/unfreeze churn so URGENT governance entries flow
// through the queue while money is moving on the same accounts.
func Governor(ctx context.Context, env Env, maker queue.Actor, account string, stop <-chan struct{}) error {
	freeze := true
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		opType := operation.TypeAccountUnfreeze
		if freeze {
			opType = operation.TypeAccountFreeze
		}
		freeze = !freeze

		_, err := env.Submissions.Submit(ctx, submission.SubmitParams{
			Type:        opType,
			ReferenceID: fmt.Sprintf("gov-%s-%d", account, rand.Int63()),
			Maker:       maker,
			Payload:     []byte(fmt.Sprintf(`{"account_number":%q,"reason":"routine compliance review"}`, account)),
		})
		if err != nil && !tolerable(err) {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("governor: %w", err)
		}
		time.Sleep(time.Duration(200+rand.Intn(200)) * time.Millisecond)
	}
}

// Reader hammers the read endpoints so listings run concurrently with
// decisions and executions.
func Reader(ctx context.Context, env Env, stop <-chan struct{}) error {
	statuses := []queue.Status{queue.StatusPending, queue.StatusExecuted, queue.StatusRejected, ""}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		items, _, err := env.Entries.List(ctx, queue.Filters{
			Status:   statuses[rand.Intn(len(statuses))],
			Page:     1,
			PageSize: 20,
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("reader list: %w", err)
		}
		if len(items) > 0 {
			if _, err := env.Entries.Get(ctx, items[rand.Intn(len(items))].ID); err != nil && !tolerable(err) {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return fmt.Errorf("reader get: %w", err)
			}
		}
		time.Sleep(time.Duration(30+rand.Intn(50)) * time.Millisecond)
	}
}
