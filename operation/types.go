package operation

// Type tags a queue entry with the kind of back-office action it carries.
// The set is closed: adding a value here requires registering a matching
// execution handler.
type Type string

const (
	TypeCashDeposit       Type = "CASH_DEPOSIT"
	TypeCashWithdrawal    Type = "CASH_WITHDRAWAL"
	TypeBankTransfer      Type = "BANK_TRANSFER"
	TypeLoanDisbursement  Type = "LOAN_DISBURSEMENT"
	TypePolicySale        Type = "POLICY_SALE"
	TypeBalanceAdjustment Type = "BALANCE_ADJUSTMENT"
	TypeAccountCreation   Type = "ACCOUNT_CREATION"
	TypeAccountFreeze     Type = "ACCOUNT_FREEZE"
	TypeAccountUnfreeze   Type = "ACCOUNT_UNFREEZE"
	TypeStaffCreation     Type = "STAFF_CREATION"
	TypePasswordReset     Type = "PASSWORD_RESET"
)

// All enumerates every registered operation type.
func All() []Type {
	return []Type{
		TypeCashDeposit,
		TypeCashWithdrawal,
		TypeBankTransfer,
		TypeLoanDisbursement,
		TypePolicySale,
		TypeBalanceAdjustment,
		TypeAccountCreation,
		TypeAccountFreeze,
		TypeAccountUnfreeze,
		TypeStaffCreation,
		TypePasswordReset,
	}
}

// Known reports whether t is one of the registered operation types.
func Known(t Type) bool {
	for _, known := range All() {
		if t == known {
			return true
		}
	}
	return false
}

// Monetary reports whether entries of this type carry an amount. Non-monetary
// operations (freezes, staff maintenance) persist a NULL amount instead of a
// zero sentinel.
func Monetary(t Type) bool {
	switch t {
	case TypeCashDeposit, TypeCashWithdrawal, TypeBankTransfer,
		TypeLoanDisbursement, TypePolicySale, TypeBalanceAdjustment:
		return true
	default:
		return false
	}
}

// Priority orders pending entries on the supervisor's review screen.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)
