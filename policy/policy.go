// Package policy decides whether a proposed operation may auto-execute or
// must wait for supervisor sign-off. It is a pure function over injected
// configuration and never touches storage.
package policy

import (
	"fmt"

	"vaultflow/operation"
)

// Decision is the outcome of evaluating one proposed operation.
type Decision struct {
	RequiresApproval bool
	Reason           string
	Priority         operation.Priority
}

// Config carries the threshold table. It is injected at process start; there
// are no embedded limits or roles in the evaluation logic itself.
type Config struct {
	// AlwaysApprove lists operation types that are supervisor-gated
	// regardless of amount or actor.
	AlwaysApprove map[operation.Type]bool
	// Limits maps an actor role to its per-type authorization limit in
	// minor units. A missing role or type means no self-authority.
	Limits map[string]map[operation.Type]int64
}

// DefaultConfig returns the stock threshold table. Deployments override it
// through environment configuration.
func DefaultConfig() Config {
	return Config{
		AlwaysApprove: map[operation.Type]bool{
			operation.TypeAccountCreation:   true,
			operation.TypeStaffCreation:     true,
			operation.TypeBalanceAdjustment: true,
			operation.TypeAccountFreeze:     true,
			operation.TypeAccountUnfreeze:   true,
			operation.TypePasswordReset:     true,
		},
		Limits: map[string]map[operation.Type]int64{
			"teller": {
				operation.TypeCashDeposit:    100_000,
				operation.TypeCashWithdrawal: 50_000,
				operation.TypeBankTransfer:   50_000,
			},
			"officer": {
				operation.TypeCashDeposit:      500_000,
				operation.TypeCashWithdrawal:   250_000,
				operation.TypeBankTransfer:     250_000,
				operation.TypeLoanDisbursement: 1_000_000,
				operation.TypePolicySale:       500_000,
			},
			"manager": {
				operation.TypeCashDeposit:      5_000_000,
				operation.TypeCashWithdrawal:   2_500_000,
				operation.TypeBankTransfer:     2_500_000,
				operation.TypeLoanDisbursement: 10_000_000,
				operation.TypePolicySale:       5_000_000,
			},
		},
	}
}

// Evaluate maps (operation type, amount, actor role) to an approval decision.
// Unknown operation types and roles without a configured limit require
// approval rather than silently auto-executing.
func Evaluate(cfg Config, opType operation.Type, amount int64, actorRole string) Decision {
	if cfg.AlwaysApprove[opType] {
		return Decision{
			RequiresApproval: true,
			Reason:           fmt.Sprintf("%s always requires supervisor approval", opType),
			Priority:         operation.PriorityUrgent,
		}
	}

	if !operation.Known(opType) {
		return Decision{
			RequiresApproval: true,
			Reason:           fmt.Sprintf("no threshold rule for operation type %s", opType),
			Priority:         operation.PriorityMedium,
		}
	}

	if !operation.Monetary(opType) {
		// Non-monetary types outside the always-approve set have no amount
		// to compare; treat them with the same caution as unknown types.
		return Decision{
			RequiresApproval: true,
			Reason:           fmt.Sprintf("%s has no amount-based rule", opType),
			Priority:         operation.PriorityMedium,
		}
	}

	limit, ok := cfg.Limits[actorRole][opType]
	if !ok || limit <= 0 {
		return Decision{
			RequiresApproval: true,
			Reason:           fmt.Sprintf("role %q has no %s authority", actorRole, opType),
			Priority:         operation.PriorityMedium,
		}
	}

	if amount <= limit {
		return Decision{
			RequiresApproval: false,
			Reason:           fmt.Sprintf("amount within %s limit for role %q", opType, actorRole),
			Priority:         operation.PriorityLow,
		}
	}

	reason := fmt.Sprintf("amount %d exceeds %s limit %d for role %q", amount, opType, limit, actorRole)
	switch {
	case amount <= 2*limit:
		return Decision{RequiresApproval: true, Reason: reason, Priority: operation.PriorityMedium}
	case amount <= 5*limit:
		return Decision{RequiresApproval: true, Reason: reason, Priority: operation.PriorityHigh}
	default:
		return Decision{RequiresApproval: true, Reason: reason, Priority: operation.PriorityUrgent}
	}
}
