package operation

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrValidation wraps every payload schema failure so callers can map the
// whole family to a single caller fault.
var ErrValidation = errors.New("operation: invalid payload")

// Payload is the typed form of a queue entry's operation data. Each operation
// type owns one variant, validated at submission time so malformed data never
// reaches an execution handler.
type Payload interface {
	Validate() error
}

// CashMovement covers CASH_DEPOSIT and CASH_WITHDRAWAL.
type CashMovement struct {
	AccountNumber string `json:"account_number"`
	Amount        int64  `json:"amount"`
	Narration     string `json:"narration,omitempty"`
	TellerID      string `json:"teller_id,omitempty"`
}

func (p CashMovement) Validate() error {
	if p.AccountNumber == "" {
		return fmt.Errorf("%w: account_number required", ErrValidation)
	}
	if p.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	return nil
}

// Transfer moves funds between two ledger accounts.
type Transfer struct {
	FromAccount string `json:"from_account"`
	ToAccount   string `json:"to_account"`
	Amount      int64  `json:"amount"`
	Narration   string `json:"narration,omitempty"`
}

func (p Transfer) Validate() error {
	if p.FromAccount == "" || p.ToAccount == "" {
		return fmt.Errorf("%w: from_account and to_account required", ErrValidation)
	}
	if p.FromAccount == p.ToAccount {
		return fmt.Errorf("%w: from_account and to_account must differ", ErrValidation)
	}
	if p.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	return nil
}

// LoanDisbursement books an approved loan and credits the principal to the
// borrower's account.
type LoanDisbursement struct {
	ApplicationID string `json:"application_id"`
	AccountNumber string `json:"account_number"`
	Principal     int64  `json:"principal"`
	TermMonths    int    `json:"term_months"`
	RateBps       int    `json:"rate_bps"`
}

func (p LoanDisbursement) Validate() error {
	if p.ApplicationID == "" {
		return fmt.Errorf("%w: application_id required", ErrValidation)
	}
	if p.AccountNumber == "" {
		return fmt.Errorf("%w: account_number required", ErrValidation)
	}
	if p.Principal <= 0 {
		return fmt.Errorf("%w: principal must be positive", ErrValidation)
	}
	if p.TermMonths <= 0 {
		return fmt.Errorf("%w: term_months must be positive", ErrValidation)
	}
	if p.RateBps < 0 {
		return fmt.Errorf("%w: rate_bps must not be negative", ErrValidation)
	}
	return nil
}

// PolicySale records an insurance policy sale and debits the first premium
// from the holder's account.
type PolicySale struct {
	PolicyNumber  string `json:"policy_number"`
	AccountNumber string `json:"account_number"`
	Product       string `json:"product"`
	Premium       int64  `json:"premium"`
	SumAssured    int64  `json:"sum_assured"`
}

func (p PolicySale) Validate() error {
	if p.PolicyNumber == "" {
		return fmt.Errorf("%w: policy_number required", ErrValidation)
	}
	if p.AccountNumber == "" {
		return fmt.Errorf("%w: account_number required", ErrValidation)
	}
	if p.Product == "" {
		return fmt.Errorf("%w: product required", ErrValidation)
	}
	if p.Premium <= 0 {
		return fmt.Errorf("%w: premium must be positive", ErrValidation)
	}
	return nil
}

// BalanceAdjustment applies a signed correction to an account balance. Always
// supervisor-gated regardless of magnitude.
type BalanceAdjustment struct {
	AccountNumber string `json:"account_number"`
	Delta         int64  `json:"delta"`
	Reason        string `json:"reason"`
}

func (p BalanceAdjustment) Validate() error {
	if p.AccountNumber == "" {
		return fmt.Errorf("%w: account_number required", ErrValidation)
	}
	if p.Delta == 0 {
		return fmt.Errorf("%w: delta must not be zero", ErrValidation)
	}
	if p.Reason == "" {
		return fmt.Errorf("%w: reason required", ErrValidation)
	}
	return nil
}

// AccountCreation opens a new customer account.
type AccountCreation struct {
	AccountNumber  string `json:"account_number"`
	CustomerName   string `json:"customer_name"`
	Branch         string `json:"branch"`
	Product        string `json:"product"`
	OpeningBalance int64  `json:"opening_balance"`
}

func (p AccountCreation) Validate() error {
	if p.AccountNumber == "" {
		return fmt.Errorf("%w: account_number required", ErrValidation)
	}
	if p.CustomerName == "" {
		return fmt.Errorf("%w: customer_name required", ErrValidation)
	}
	if p.OpeningBalance < 0 {
		return fmt.Errorf("%w: opening_balance must not be negative", ErrValidation)
	}
	return nil
}

// AccountStatusChange covers ACCOUNT_FREEZE and ACCOUNT_UNFREEZE.
type AccountStatusChange struct {
	AccountNumber string `json:"account_number"`
	Reason        string `json:"reason"`
}

func (p AccountStatusChange) Validate() error {
	if p.AccountNumber == "" {
		return fmt.Errorf("%w: account_number required", ErrValidation)
	}
	if p.Reason == "" {
		return fmt.Errorf("%w: reason required", ErrValidation)
	}
	return nil
}

// StaffCreation provisions a back-office staff record.
type StaffCreation struct {
	Username        string `json:"username"`
	FullName        string `json:"full_name"`
	Role            string `json:"role"`
	Branch          string `json:"branch"`
	InitialPassword string `json:"initial_password"`
}

func (p StaffCreation) Validate() error {
	if p.Username == "" || p.FullName == "" {
		return fmt.Errorf("%w: username and full_name required", ErrValidation)
	}
	if p.Role == "" {
		return fmt.Errorf("%w: role required", ErrValidation)
	}
	if len(p.InitialPassword) < 8 {
		return fmt.Errorf("%w: initial_password must be at least 8 characters", ErrValidation)
	}
	return nil
}

// PasswordReset replaces a staff member's credential.
type PasswordReset struct {
	Username    string `json:"username"`
	NewPassword string `json:"new_password"`
}

func (p PasswordReset) Validate() error {
	if p.Username == "" {
		return fmt.Errorf("%w: username required", ErrValidation)
	}
	if len(p.NewPassword) < 8 {
		return fmt.Errorf("%w: new_password must be at least 8 characters", ErrValidation)
	}
	return nil
}

// DecodePayload parses raw operation data into the variant registered for the
// type and validates it. Unknown types fail rather than passing opaque data
// through to execution.
func DecodePayload(t Type, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: payload required", ErrValidation)
	}

	var payload Payload
	switch t {
	case TypeCashDeposit, TypeCashWithdrawal:
		payload = &CashMovement{}
	case TypeBankTransfer:
		payload = &Transfer{}
	case TypeLoanDisbursement:
		payload = &LoanDisbursement{}
	case TypePolicySale:
		payload = &PolicySale{}
	case TypeBalanceAdjustment:
		payload = &BalanceAdjustment{}
	case TypeAccountCreation:
		payload = &AccountCreation{}
	case TypeAccountFreeze, TypeAccountUnfreeze:
		payload = &AccountStatusChange{}
	case TypeStaffCreation:
		payload = &StaffCreation{}
	case TypePasswordReset:
		payload = &PasswordReset{}
	default:
		return nil, fmt.Errorf("%w: unknown operation type %q", ErrValidation, t)
	}

	if err := json.Unmarshal(raw, payload); err != nil {
		return nil, fmt.Errorf("%w: decode %s payload: %v", ErrValidation, t, err)
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	return payload, nil
}
