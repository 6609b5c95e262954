package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrAccountNotFound signals the account number does not exist.
	ErrAccountNotFound = errors.New("ledger: account not found")
	// ErrAccountNotActive signals the account exists but cannot take postings.
	ErrAccountNotActive = errors.New("ledger: account not active")
	// ErrInsufficientFunds signals a debit would overdraw the account.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	// ErrDuplicateAccount signals the account number is already taken.
	ErrDuplicateAccount = errors.New("ledger: account number already exists")
	// ErrDuplicateLoan signals the loan application was already disbursed.
	ErrDuplicateLoan = errors.New("ledger: loan already disbursed for application")
	// ErrDuplicatePolicy signals the policy number is already booked.
	ErrDuplicatePolicy = errors.New("ledger: policy number already exists")
	// ErrDuplicateStaff signals the staff username is already taken.
	ErrDuplicateStaff = errors.New("ledger: staff username already exists")
	// ErrStaffNotFound signals the staff username does not exist.
	ErrStaffNotFound = errors.New("ledger: staff not found")
)

// Store gives execution handlers transactional access to the ledger tables.
// All mutating methods take the caller's pgx.Tx so a handler's writes commit
// or roll back as one unit with the queue entry finalization.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const accountColumns = `account_number, customer_name, branch, product, balance, status, created_at, updated_at`

// GetAccount reads an account without locking it.
func (s *Store) GetAccount(ctx context.Context, number string) (Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE account_number = $1`
	return s.scanAccountErr(s.pool.QueryRow(ctx, query, number), "get account")
}

// GetAccountForUpdate locks the account row for the duration of the
// transaction, preventing lost updates from concurrent executions.
func (s *Store) GetAccountForUpdate(ctx context.Context, tx pgx.Tx, number string) (Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE account_number = $1 FOR UPDATE`
	return s.scanAccountErr(tx.QueryRow(ctx, query, number), "get account for update")
}

func (s *Store) scanAccountErr(row pgx.Row, verb string) (Account, error) {
	acct, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("ledger: %s: %w", verb, err)
	}
	return acct, nil
}

// Credit increases the balance of a locked account and returns it.
func (s *Store) Credit(ctx context.Context, tx pgx.Tx, number string, amount int64) (int64, error) {
	const query = `
		UPDATE accounts
		SET balance = balance + $2, updated_at = NOW()
		WHERE account_number = $1
		RETURNING balance
	`
	var balance int64
	if err := tx.QueryRow(ctx, query, number, amount).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, fmt.Errorf("ledger: credit account: %w", err)
	}
	return balance, nil
}

// Debit decreases the balance of a locked account. The balance guard lives in
// the statement so the funds check and the mutation are a single step.
func (s *Store) Debit(ctx context.Context, tx pgx.Tx, number string, amount int64) (int64, error) {
	const query = `
		UPDATE accounts
		SET balance = balance - $2, updated_at = NOW()
		WHERE account_number = $1 AND balance >= $2
		RETURNING balance
	`
	var balance int64
	if err := tx.QueryRow(ctx, query, number, amount).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrInsufficientFunds
		}
		return 0, fmt.Errorf("ledger: debit account: %w", err)
	}
	return balance, nil
}

// Adjust applies a signed correction, allowing a negative resulting balance
// only when explicitly permitted by the supervisor-gated adjustment flow.
func (s *Store) Adjust(ctx context.Context, tx pgx.Tx, number string, delta int64) (int64, error) {
	const query = `
		UPDATE accounts
		SET balance = balance + $2, updated_at = NOW()
		WHERE account_number = $1
		RETURNING balance
	`
	var balance int64
	if err := tx.QueryRow(ctx, query, number, delta).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, fmt.Errorf("ledger: adjust account: %w", err)
	}
	return balance, nil
}

type CreateAccountParams struct {
	Number         string
	CustomerName   string
	Branch         string
	Product        string
	OpeningBalance int64
}

func (s *Store) CreateAccount(ctx context.Context, tx pgx.Tx, params CreateAccountParams) (Account, error) {
	const query = `
		INSERT INTO accounts (account_number, customer_name, branch, product, balance, status)
		VALUES ($1, $2, $3, $4, $5, 'active')
		RETURNING ` + accountColumns

	acct, err := scanAccount(tx.QueryRow(ctx, query,
		params.Number, params.CustomerName, params.Branch, params.Product, params.OpeningBalance))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Account{}, ErrDuplicateAccount
		}
		return Account{}, fmt.Errorf("ledger: create account: %w", err)
	}
	return acct, nil
}

func (s *Store) SetAccountStatus(ctx context.Context, tx pgx.Tx, number string, status AccountStatus) (Account, error) {
	const query = `
		UPDATE accounts
		SET status = $2, updated_at = NOW()
		WHERE account_number = $1
		RETURNING ` + accountColumns

	acct, err := scanAccount(tx.QueryRow(ctx, query, number, status))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("ledger: set account status: %w", err)
	}
	return acct, nil
}

type TransactionParams struct {
	ID            string
	AccountNumber string
	Direction     EntryDirection
	Amount        int64
	BalanceAfter  int64
	Narration     string
	QueueID       string
}

// RecordTransaction appends one movement to the transactions journal.
func (s *Store) RecordTransaction(ctx context.Context, tx pgx.Tx, params TransactionParams) error {
	const query = `
		INSERT INTO transactions (id, account_number, direction, amount, balance_after, narration, queue_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := tx.Exec(ctx, query,
		params.ID, params.AccountNumber, params.Direction, params.Amount,
		params.BalanceAfter, params.Narration, params.QueueID); err != nil {
		return fmt.Errorf("ledger: record transaction: %w", err)
	}
	return nil
}

func (s *Store) CreateLoan(ctx context.Context, tx pgx.Tx, loan Loan) error {
	const query = `
		INSERT INTO loans (application_id, account_number, principal, term_months, rate_bps)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := tx.Exec(ctx, query,
		loan.ApplicationID, loan.AccountNumber, loan.Principal, loan.TermMonths, loan.RateBps); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateLoan
		}
		return fmt.Errorf("ledger: create loan: %w", err)
	}
	return nil
}

func (s *Store) CreatePolicy(ctx context.Context, tx pgx.Tx, policy InsurancePolicy) error {
	const query = `
		INSERT INTO insurance_policies (policy_number, account_number, product, premium, sum_assured)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := tx.Exec(ctx, query,
		policy.PolicyNumber, policy.AccountNumber, policy.Product, policy.Premium, policy.SumAssured); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicatePolicy
		}
		return fmt.Errorf("ledger: create policy: %w", err)
	}
	return nil
}

type CreateStaffParams struct {
	ID           string
	Username     string
	FullName     string
	Role         string
	Branch       string
	PasswordHash string
}

func (s *Store) CreateStaff(ctx context.Context, tx pgx.Tx, params CreateStaffParams) error {
	const query = `
		INSERT INTO staff (id, username, full_name, role, branch, password_hash)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := tx.Exec(ctx, query,
		params.ID, params.Username, params.FullName, params.Role, params.Branch, params.PasswordHash); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateStaff
		}
		return fmt.Errorf("ledger: create staff: %w", err)
	}
	return nil
}

func (s *Store) UpdateStaffPassword(ctx context.Context, tx pgx.Tx, username, passwordHash string) error {
	tag, err := tx.Exec(ctx, `UPDATE staff SET password_hash = $2 WHERE username = $1`, username, passwordHash)
	if err != nil {
		return fmt.Errorf("ledger: update staff password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaffNotFound
	}
	return nil
}

func scanAccount(row pgx.Row) (Account, error) {
	var acct Account
	return acct, row.Scan(
		&acct.Number,
		&acct.CustomerName,
		&acct.Branch,
		&acct.Product,
		&acct.Balance,
		&acct.Status,
		&acct.CreatedAt,
		&acct.UpdatedAt,
	)
}
