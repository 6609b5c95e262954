package test

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"vaultflow/decision"
	"vaultflow/execution"
	"vaultflow/ledger"
	"vaultflow/policy"
	"vaultflow/queue"
	"vaultflow/submission"
	"vaultflow/test/actors"
	"vaultflow/test/infra"
)

var (
	flDuration    = flag.Duration("duration", 30*time.Second, "how long to run the stress workload")
	flConcurrency = flag.Int("concurrency", 6, "number of concurrent maker/checker pairs")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
)

// startDatabase provisions a Postgres (container, shared DSN, or local
// server), applies the schema, and returns a connected pool.
func startDatabase(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	var (
		pgC        *infra.PGContainer
		dsn        string
		err        error
		usedShared bool
	)

	switch {
	case *flDSN != "":
		dsn = *flDSN
		usedShared = true
		pgC = &infra.PGContainer{}
	case os.Getenv("AUTHQ_TEST_PG_DSN") != "":
		dsn = os.Getenv("AUTHQ_TEST_PG_DSN")
		usedShared = true
		pgC = &infra.PGContainer{}
	case dockerAvailable(ctx):
		pgC, dsn, err = infra.StartPostgres16(ctx, "")
		if err != nil {
			t.Fatalf("start postgres: %v", err)
		}
	default:
		dsn, err = infra.InitLocalDatabase(ctx)
		if err != nil {
			t.Skipf("no Docker and no local PostgreSQL: %v", err)
		}
		pgC = &infra.PGContainer{}
	}
	t.Cleanup(func() { _ = pgC.Terminate(context.Background()) })

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	t.Cleanup(func() {
		pool.Close()
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	})
	return pool
}

// buildEnv wires the full service stack onto the pool the way cmd/api does.
func buildEnv(pool *pgxpool.Pool) (actors.Env, *execution.Engine) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	entries := queue.NewRepository(pool)
	books := ledger.NewStore(pool)
	engine := execution.NewEngine(pool, entries, books, logger)
	return actors.Env{
		Submissions: submission.NewService(pool, entries, policy.DefaultConfig(), engine, logger),
		Decisions:   decision.NewService(pool, entries, engine, logger),
		Entries:     entries,
	}, engine
}

// seedAccounts inserts active accounts with zero balance. Balances stay
// derivable from the transactions table, which the oracles rely on.
func seedAccounts(t *testing.T, ctx context.Context, pool *pgxpool.Pool, numbers ...string) {
	t.Helper()
	for _, number := range numbers {
		if _, err := pool.Exec(ctx,
			`INSERT INTO accounts (account_number, customer_name, branch, product, balance, status)
			 VALUES ($1, $2, 'HQ', 'savings', 0, 'active')
			 ON CONFLICT (account_number) DO NOTHING`,
			number, "Customer "+number); err != nil {
			t.Fatalf("seed account %s: %v", number, err)
		}
	}
}

func accountBalance(t *testing.T, ctx context.Context, pool *pgxpool.Pool, number string) int64 {
	t.Helper()
	var balance int64
	if err := pool.QueryRow(ctx,
		`SELECT balance FROM accounts WHERE account_number = $1`, number).Scan(&balance); err != nil {
		t.Fatalf("read balance %s: %v", number, err)
	}
	return balance
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}
