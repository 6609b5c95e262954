// Package oracles holds SQL invariant checks run against a live database
// while the stress actors are working. Any returned row is a violation.
package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_live_reference",
			SQL: `SELECT operation_type, reference_id, COUNT(*)
                  FROM authorization_queue
                  WHERE status <> 'REJECTED'
                  GROUP BY operation_type, reference_id
                  HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_decided_entries_have_decider",
			SQL: `SELECT queue_id, status FROM authorization_queue
                  WHERE status IN ('APPROVED','REJECTED','EXECUTED','EXECUTION_FAILED')
                    AND (decider IS NULL OR decided_at IS NULL)`,
		},
		{
			Name: "O3_pending_entries_are_undecided",
			SQL: `SELECT queue_id FROM authorization_queue
                  WHERE status = 'PENDING'
                    AND (decider IS NOT NULL OR decided_at IS NOT NULL
                         OR executed_at IS NOT NULL OR result IS NOT NULL)`,
		},
		{
			Name: "O4_rejections_carry_reason",
			SQL: `SELECT queue_id FROM authorization_queue
                  WHERE status = 'REJECTED'
                    AND (rejection_reason IS NULL OR rejection_reason = '')`,
		},
		{
			Name: "O5_no_self_decision",
			SQL: `SELECT queue_id, maker_id, decider FROM authorization_queue
                  WHERE decider IS NOT NULL
                    AND decider <> 'SYSTEM'
                    AND decider = maker_id`,
		},
		{
			Name: "O6_executed_entries_have_result",
			SQL: `SELECT queue_id FROM authorization_queue
                  WHERE status = 'EXECUTED'
                    AND (executed_at IS NULL OR result IS NULL)`,
		},
		{
			Name: "O7_failed_entries_keep_approval",
			SQL: `SELECT queue_id FROM authorization_queue
                  WHERE status = 'EXECUTION_FAILED'
                    AND (decider IS NULL OR failure_reason IS NULL OR result IS NOT NULL)`,
		},
		{
			Name: "O8_ledger_moves_trace_to_executed_entries",
			SQL: `SELECT t.id, t.queue_id FROM transactions t
                  LEFT JOIN authorization_queue q ON q.queue_id = t.queue_id
                  WHERE q.queue_id IS NULL OR q.status <> 'EXECUTED'`,
		},
		{
			Name: "O9_rejected_never_touches_ledger",
			SQL: `SELECT q.queue_id FROM authorization_queue q
                  JOIN transactions t ON t.queue_id = q.queue_id
                  WHERE q.status IN ('REJECTED','EXECUTION_FAILED','PENDING')`,
		},
		{
			// Valid because every balance mutation and its transaction row
			// commit atomically, and stress accounts are seeded at zero.
			Name: "O10_balance_equals_ledger_sum",
			SQL: `SELECT a.account_number, a.balance,
                         COALESCE(SUM(CASE WHEN t.direction = 'credit'
                                           THEN t.amount ELSE -t.amount END), 0) AS ledger_sum
                  FROM accounts a
                  LEFT JOIN transactions t ON t.account_number = a.account_number
                  GROUP BY a.account_number, a.balance
                  HAVING a.balance <> COALESCE(SUM(CASE WHEN t.direction = 'credit'
                                                        THEN t.amount ELSE -t.amount END), 0)`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row
// text) or an empty name when every invariant holds.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		if rows.Next() {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
