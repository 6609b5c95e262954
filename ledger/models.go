package ledger

import "time"

type AccountStatus string

const (
	AccountActive AccountStatus = "active"
	AccountFrozen AccountStatus = "frozen"
	AccountClosed AccountStatus = "closed"
)

// Account is a customer account row. Balance is in minor units.
type Account struct {
	Number       string
	CustomerName string
	Branch       string
	Product      string
	Balance      int64
	Status       AccountStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type EntryDirection string

const (
	DirectionCredit EntryDirection = "credit"
	DirectionDebit  EntryDirection = "debit"
)

// Transaction is one committed ledger movement. QueueID ties it back to the
// authorization queue entry that caused it.
type Transaction struct {
	ID            string
	AccountNumber string
	Direction     EntryDirection
	Amount        int64
	BalanceAfter  int64
	Narration     string
	QueueID       string
	CreatedAt     time.Time
}

// Loan is a disbursed loan account.
type Loan struct {
	ApplicationID string
	AccountNumber string
	Principal     int64
	TermMonths    int
	RateBps       int
	DisbursedAt   time.Time
}

// InsurancePolicy is a sold bancassurance policy.
type InsurancePolicy struct {
	PolicyNumber  string
	AccountNumber string
	Product       string
	Premium       int64
	SumAssured    int64
	SoldAt        time.Time
}

// Staff is a back-office staff record. PasswordHash is bcrypt.
type Staff struct {
	ID           string
	Username     string
	FullName     string
	Role         string
	Branch       string
	PasswordHash string
	CreatedAt    time.Time
}
