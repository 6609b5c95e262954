package execution

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"vaultflow/ledger"
	"vaultflow/operation"
	"vaultflow/queue"
)

// decode re-parses the frozen payload into its typed variant. Submission
// already validated it, but the entry may be executed long after submission,
// so every handler re-checks rather than trusting the original session.
func decode[T any](entry queue.Entry) (*T, error) {
	payload, err := operation.DecodePayload(entry.Type, entry.Payload)
	if err != nil {
		return nil, err
	}
	typed, ok := any(payload).(*T)
	if !ok {
		return nil, fmt.Errorf("%w: payload variant mismatch for %s", operation.ErrValidation, entry.Type)
	}
	return typed, nil
}

func (e *Engine) activeAccount(ctx context.Context, tx pgx.Tx, number string) (ledger.Account, error) {
	acct, err := e.books.GetAccountForUpdate(ctx, tx, number)
	if err != nil {
		return ledger.Account{}, err
	}
	if acct.Status != ledger.AccountActive {
		return ledger.Account{}, fmt.Errorf("%w: account %s is %s", ledger.ErrAccountNotActive, number, acct.Status)
	}
	return acct, nil
}

func (e *Engine) executeDeposit(ctx context.Context, tx pgx.Tx, entry queue.Entry) (map[string]any, error) {
	p, err := decode[operation.CashMovement](entry)
	if err != nil {
		return nil, err
	}
	if err := e.checkMovementCap(p.Amount); err != nil {
		return nil, err
	}
	if _, err := e.activeAccount(ctx, tx, p.AccountNumber); err != nil {
		return nil, err
	}

	balance, err := e.books.Credit(ctx, tx, p.AccountNumber, p.Amount)
	if err != nil {
		return nil, err
	}

	txnID := e.idGen()
	if err := e.books.RecordTransaction(ctx, tx, ledger.TransactionParams{
		ID:            txnID,
		AccountNumber: p.AccountNumber,
		Direction:     ledger.DirectionCredit,
		Amount:        p.Amount,
		BalanceAfter:  balance,
		Narration:     p.Narration,
		QueueID:       entry.ID,
	}); err != nil {
		return nil, err
	}

	return map[string]any{
		"transaction_id": txnID,
		"account_number": p.AccountNumber,
		"balance_after":  balance,
	}, nil
}

func (e *Engine) executeWithdrawal(ctx context.Context, tx pgx.Tx, entry queue.Entry) (map[string]any, error) {
	p, err := decode[operation.CashMovement](entry)
	if err != nil {
		return nil, err
	}
	if err := e.checkMovementCap(p.Amount); err != nil {
		return nil, err
	}
	// Funds may have moved between submission and approval; the lock plus
	// the guarded debit re-validate at execution time.
	if _, err := e.activeAccount(ctx, tx, p.AccountNumber); err != nil {
		return nil, err
	}

	balance, err := e.books.Debit(ctx, tx, p.AccountNumber, p.Amount)
	if err != nil {
		return nil, err
	}

	txnID := e.idGen()
	if err := e.books.RecordTransaction(ctx, tx, ledger.TransactionParams{
		ID:            txnID,
		AccountNumber: p.AccountNumber,
		Direction:     ledger.DirectionDebit,
		Amount:        p.Amount,
		BalanceAfter:  balance,
		Narration:     p.Narration,
		QueueID:       entry.ID,
	}); err != nil {
		return nil, err
	}

	return map[string]any{
		"transaction_id": txnID,
		"account_number": p.AccountNumber,
		"balance_after":  balance,
	}, nil
}

func (e *Engine) executeTransfer(ctx context.Context, tx pgx.Tx, entry queue.Entry) (map[string]any, error) {
	p, err := decode[operation.Transfer](entry)
	if err != nil {
		return nil, err
	}
	if err := e.checkMovementCap(p.Amount); err != nil {
		return nil, err
	}

	// Lock both rows in deterministic order to avoid deadlocks between
	// concurrent transfers touching the same pair.
	first, second := p.FromAccount, p.ToAccount
	if second < first {
		first, second = second, first
	}
	if _, err := e.activeAccount(ctx, tx, first); err != nil {
		return nil, err
	}
	if _, err := e.activeAccount(ctx, tx, second); err != nil {
		return nil, err
	}

	fromBalance, err := e.books.Debit(ctx, tx, p.FromAccount, p.Amount)
	if err != nil {
		return nil, err
	}
	toBalance, err := e.books.Credit(ctx, tx, p.ToAccount, p.Amount)
	if err != nil {
		return nil, err
	}

	debitID, creditID := e.idGen(), e.idGen()
	if err := e.books.RecordTransaction(ctx, tx, ledger.TransactionParams{
		ID:            debitID,
		AccountNumber: p.FromAccount,
		Direction:     ledger.DirectionDebit,
		Amount:        p.Amount,
		BalanceAfter:  fromBalance,
		Narration:     p.Narration,
		QueueID:       entry.ID,
	}); err != nil {
		return nil, err
	}
	if err := e.books.RecordTransaction(ctx, tx, ledger.TransactionParams{
		ID:            creditID,
		AccountNumber: p.ToAccount,
		Direction:     ledger.DirectionCredit,
		Amount:        p.Amount,
		BalanceAfter:  toBalance,
		Narration:     p.Narration,
		QueueID:       entry.ID,
	}); err != nil {
		return nil, err
	}

	return map[string]any{
		"debit_transaction_id":  debitID,
		"credit_transaction_id": creditID,
		"from_balance_after":    fromBalance,
		"to_balance_after":      toBalance,
	}, nil
}

func (e *Engine) executeLoanDisbursement(ctx context.Context, tx pgx.Tx, entry queue.Entry) (map[string]any, error) {
	p, err := decode[operation.LoanDisbursement](entry)
	if err != nil {
		return nil, err
	}
	if _, err := e.activeAccount(ctx, tx, p.AccountNumber); err != nil {
		return nil, err
	}

	if err := e.books.CreateLoan(ctx, tx, ledger.Loan{
		ApplicationID: p.ApplicationID,
		AccountNumber: p.AccountNumber,
		Principal:     p.Principal,
		TermMonths:    p.TermMonths,
		RateBps:       p.RateBps,
	}); err != nil {
		return nil, err
	}

	balance, err := e.books.Credit(ctx, tx, p.AccountNumber, p.Principal)
	if err != nil {
		return nil, err
	}

	txnID := e.idGen()
	if err := e.books.RecordTransaction(ctx, tx, ledger.TransactionParams{
		ID:            txnID,
		AccountNumber: p.AccountNumber,
		Direction:     ledger.DirectionCredit,
		Amount:        p.Principal,
		BalanceAfter:  balance,
		Narration:     fmt.Sprintf("loan disbursement %s", p.ApplicationID),
		QueueID:       entry.ID,
	}); err != nil {
		return nil, err
	}

	return map[string]any{
		"application_id": p.ApplicationID,
		"transaction_id": txnID,
		"balance_after":  balance,
	}, nil
}

func (e *Engine) executePolicySale(ctx context.Context, tx pgx.Tx, entry queue.Entry) (map[string]any, error) {
	p, err := decode[operation.PolicySale](entry)
	if err != nil {
		return nil, err
	}
	if _, err := e.activeAccount(ctx, tx, p.AccountNumber); err != nil {
		return nil, err
	}

	if err := e.books.CreatePolicy(ctx, tx, ledger.InsurancePolicy{
		PolicyNumber:  p.PolicyNumber,
		AccountNumber: p.AccountNumber,
		Product:       p.Product,
		Premium:       p.Premium,
		SumAssured:    p.SumAssured,
	}); err != nil {
		return nil, err
	}

	balance, err := e.books.Debit(ctx, tx, p.AccountNumber, p.Premium)
	if err != nil {
		return nil, err
	}

	txnID := e.idGen()
	if err := e.books.RecordTransaction(ctx, tx, ledger.TransactionParams{
		ID:            txnID,
		AccountNumber: p.AccountNumber,
		Direction:     ledger.DirectionDebit,
		Amount:        p.Premium,
		BalanceAfter:  balance,
		Narration:     fmt.Sprintf("policy premium %s", p.PolicyNumber),
		QueueID:       entry.ID,
	}); err != nil {
		return nil, err
	}

	return map[string]any{
		"policy_number":  p.PolicyNumber,
		"transaction_id": txnID,
		"balance_after":  balance,
	}, nil
}

func (e *Engine) executeBalanceAdjustment(ctx context.Context, tx pgx.Tx, entry queue.Entry) (map[string]any, error) {
	p, err := decode[operation.BalanceAdjustment](entry)
	if err != nil {
		return nil, err
	}
	// Adjustments may target frozen accounts; only existence is required.
	if _, err := e.books.GetAccountForUpdate(ctx, tx, p.AccountNumber); err != nil {
		return nil, err
	}

	balance, err := e.books.Adjust(ctx, tx, p.AccountNumber, p.Delta)
	if err != nil {
		return nil, err
	}

	direction := ledger.DirectionCredit
	magnitude := p.Delta
	if p.Delta < 0 {
		direction = ledger.DirectionDebit
		magnitude = -p.Delta
	}

	txnID := e.idGen()
	if err := e.books.RecordTransaction(ctx, tx, ledger.TransactionParams{
		ID:            txnID,
		AccountNumber: p.AccountNumber,
		Direction:     direction,
		Amount:        magnitude,
		BalanceAfter:  balance,
		Narration:     fmt.Sprintf("balance adjustment: %s", p.Reason),
		QueueID:       entry.ID,
	}); err != nil {
		return nil, err
	}

	return map[string]any{
		"transaction_id": txnID,
		"balance_after":  balance,
	}, nil
}

func (e *Engine) executeAccountCreation(ctx context.Context, tx pgx.Tx, entry queue.Entry) (map[string]any, error) {
	p, err := decode[operation.AccountCreation](entry)
	if err != nil {
		return nil, err
	}

	acct, err := e.books.CreateAccount(ctx, tx, ledger.CreateAccountParams{
		Number:         p.AccountNumber,
		CustomerName:   p.CustomerName,
		Branch:         p.Branch,
		Product:        p.Product,
		OpeningBalance: p.OpeningBalance,
	})
	if err != nil {
		return nil, err
	}

	result := map[string]any{
		"account_number": acct.Number,
		"balance":        acct.Balance,
	}
	if p.OpeningBalance > 0 {
		txnID := e.idGen()
		if err := e.books.RecordTransaction(ctx, tx, ledger.TransactionParams{
			ID:            txnID,
			AccountNumber: acct.Number,
			Direction:     ledger.DirectionCredit,
			Amount:        p.OpeningBalance,
			BalanceAfter:  acct.Balance,
			Narration:     "opening balance",
			QueueID:       entry.ID,
		}); err != nil {
			return nil, err
		}
		result["transaction_id"] = txnID
	}
	return result, nil
}

func (e *Engine) executeAccountFreeze(ctx context.Context, tx pgx.Tx, entry queue.Entry) (map[string]any, error) {
	p, err := decode[operation.AccountStatusChange](entry)
	if err != nil {
		return nil, err
	}
	if _, err := e.activeAccount(ctx, tx, p.AccountNumber); err != nil {
		return nil, err
	}

	acct, err := e.books.SetAccountStatus(ctx, tx, p.AccountNumber, ledger.AccountFrozen)
	if err != nil {
		return nil, err
	}
	return map[string]any{"account_number": acct.Number, "status": string(acct.Status)}, nil
}

func (e *Engine) executeAccountUnfreeze(ctx context.Context, tx pgx.Tx, entry queue.Entry) (map[string]any, error) {
	p, err := decode[operation.AccountStatusChange](entry)
	if err != nil {
		return nil, err
	}

	acct, err := e.books.GetAccountForUpdate(ctx, tx, p.AccountNumber)
	if err != nil {
		return nil, err
	}
	if acct.Status != ledger.AccountFrozen {
		return nil, fmt.Errorf("%w: account %s is %s, not frozen", ledger.ErrAccountNotActive, p.AccountNumber, acct.Status)
	}

	acct, err = e.books.SetAccountStatus(ctx, tx, p.AccountNumber, ledger.AccountActive)
	if err != nil {
		return nil, err
	}
	return map[string]any{"account_number": acct.Number, "status": string(acct.Status)}, nil
}

func (e *Engine) executeStaffCreation(ctx context.Context, tx pgx.Tx, entry queue.Entry) (map[string]any, error) {
	p, err := decode[operation.StaffCreation](entry)
	if err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(p.InitialPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash initial password: %w", err)
	}

	staffID := e.idGen()
	if err := e.books.CreateStaff(ctx, tx, ledger.CreateStaffParams{
		ID:           staffID,
		Username:     p.Username,
		FullName:     p.FullName,
		Role:         p.Role,
		Branch:       p.Branch,
		PasswordHash: string(hash),
	}); err != nil {
		return nil, err
	}
	return map[string]any{"staff_id": staffID, "username": p.Username}, nil
}

func (e *Engine) executePasswordReset(ctx context.Context, tx pgx.Tx, entry queue.Entry) (map[string]any, error) {
	p, err := decode[operation.PasswordReset](entry)
	if err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(p.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash new password: %w", err)
	}

	if err := e.books.UpdateStaffPassword(ctx, tx, p.Username, string(hash)); err != nil {
		return nil, err
	}
	return map[string]any{"username": p.Username}, nil
}
