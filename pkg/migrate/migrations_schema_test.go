package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/souqly/settlements-backend/pkg/migrate"
)

func TestSchemaMigrationContainsConstraints(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_settlement_schema.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no schema migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TABLE IF NOT EXISTS accounts",
		"CHECK (total_earned_cents = available_cents + pending_cents + total_withdrawn_cents)",
		"CREATE UNIQUE INDEX ux_ledger_transactions_idempotency_key ON ledger_transactions (idempotency_key)",
		"FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE RESTRICT",
		"CHECK (amount_cents > 0)",
		"DROP TABLE IF EXISTS payout_requests",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestMigrationsDirIsValid(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations dir: %v", err)
	}
}

func TestSeedMigrationIsIdempotent(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_seed_default_commission_rule.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no seed migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	if !strings.Contains(string(data), "WHERE NOT EXISTS (SELECT 1 FROM commission_rules)") {
		t.Fatalf("seed must not overwrite an existing rule history")
	}
}
