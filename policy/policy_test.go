package policy

import (
	"testing"

	"vaultflow/operation"
)

func TestEvaluate_AtLimitAutoApproves(t *testing.T) {
	cfg := DefaultConfig()

	verdict := Evaluate(cfg, operation.TypeCashDeposit, 100_000, "teller")
	if verdict.RequiresApproval {
		t.Fatalf("deposit at exactly the teller limit should auto-approve, got %+v", verdict)
	}

	verdict = Evaluate(cfg, operation.TypeCashDeposit, 100_001, "teller")
	if !verdict.RequiresApproval {
		t.Fatalf("deposit one unit over the teller limit should require approval")
	}
	if verdict.Priority != operation.PriorityMedium {
		t.Errorf("expected MEDIUM priority just over limit, got %s", verdict.Priority)
	}
}

func TestEvaluate_PriorityScalesWithOverage(t *testing.T) {
	cfg := DefaultConfig()

	cases := []struct {
		amount int64
		want   operation.Priority
	}{
		{150_000, operation.PriorityMedium},  // 1.5x
		{200_000, operation.PriorityMedium},  // exactly 2x
		{400_000, operation.PriorityHigh},    // 4x
		{500_000, operation.PriorityHigh},    // exactly 5x
		{1_000_000, operation.PriorityUrgent}, // 10x
	}
	for _, tc := range cases {
		verdict := Evaluate(cfg, operation.TypeCashDeposit, tc.amount, "teller")
		if !verdict.RequiresApproval {
			t.Errorf("amount %d: expected approval required", tc.amount)
		}
		if verdict.Priority != tc.want {
			t.Errorf("amount %d: expected priority %s, got %s", tc.amount, tc.want, verdict.Priority)
		}
	}
}

func TestEvaluate_GovernanceTypesAlwaysUrgent(t *testing.T) {
	cfg := DefaultConfig()

	for _, opType := range []operation.Type{
		operation.TypeAccountCreation,
		operation.TypeStaffCreation,
		operation.TypeBalanceAdjustment,
		operation.TypeAccountFreeze,
		operation.TypeAccountUnfreeze,
		operation.TypePasswordReset,
	} {
		verdict := Evaluate(cfg, opType, 0, "manager")
		if !verdict.RequiresApproval {
			t.Errorf("%s: expected approval required regardless of role", opType)
		}
		if verdict.Priority != operation.PriorityUrgent {
			t.Errorf("%s: expected URGENT, got %s", opType, verdict.Priority)
		}
	}
}

func TestEvaluate_UnknownTypeFailsTowardCaution(t *testing.T) {
	verdict := Evaluate(DefaultConfig(), operation.Type("CRYPTO_SWAP"), 1, "manager")
	if !verdict.RequiresApproval {
		t.Fatalf("unknown operation type must never auto-approve")
	}
	if verdict.Priority != operation.PriorityMedium {
		t.Errorf("expected MEDIUM fallback priority, got %s", verdict.Priority)
	}
}

func TestEvaluate_RoleWithoutLimitRequiresApproval(t *testing.T) {
	verdict := Evaluate(DefaultConfig(), operation.TypeCashDeposit, 1, "intern")
	if !verdict.RequiresApproval {
		t.Fatalf("role without configured authority must not auto-approve")
	}
}

func TestEvaluate_LoanAuthorityVariesByRole(t *testing.T) {
	cfg := DefaultConfig()

	if v := Evaluate(cfg, operation.TypeLoanDisbursement, 800_000, "teller"); !v.RequiresApproval {
		t.Errorf("teller has no loan authority, expected approval required")
	}
	if v := Evaluate(cfg, operation.TypeLoanDisbursement, 800_000, "officer"); v.RequiresApproval {
		t.Errorf("officer within loan limit should auto-approve, got %+v", v)
	}
}
