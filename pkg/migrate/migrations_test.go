package migrate_test

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/angelmondragon/coinmarket-backend/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no %s migration file found", suffix)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func assertContains(t *testing.T, content string, checks []string) {
	t.Helper()
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestEmbeddedMigrationsMatchDisk(t *testing.T) {
	embedded, err := migrate.Files("")
	if err != nil {
		t.Fatalf("embedded migrations: %v", err)
	}
	if err := migrate.Validate(embedded); err != nil {
		t.Fatalf("validate embedded migrations: %v", err)
	}
	onDisk, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	for _, path := range onDisk {
		want, _ := os.ReadFile(path)
		got, err := fs.ReadFile(embedded, filepath.Base(path))
		if err != nil || string(got) != string(want) {
			t.Errorf("embedded copy of %s differs: %v", path, err)
		}
	}
}

func TestAccountsMigrationGuardsBalanceAndSeedsPlatform(t *testing.T) {
	content := readMigration(t, "create_accounts")
	assertContains(t, content, []string{
		"CREATE TABLE IF NOT EXISTS accounts",
		"CHECK (balance_cents >= 0)",
		"'" + migrate.PlatformAccountID + "'",
		"'platform'",
		"DROP TABLE IF EXISTS accounts",
	})
}

func TestTransactionsMigrationHasIdempotencyIndex(t *testing.T) {
	content := readMigration(t, "create_transactions")
	assertContains(t, content, []string{
		"CREATE TABLE IF NOT EXISTS transactions",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_transactions_idempotency_key",
		"'deposit', 'purchase', 'sale', 'withdrawal', 'fee'",
		"DROP TABLE IF EXISTS transactions",
	})
}

func TestWithdrawalsMigrationBalancesFeeSplit(t *testing.T) {
	content := readMigration(t, "create_withdrawals")
	assertContains(t, content, []string{
		"CHECK (amount_cents + fee_cents = gross_amount_cents)",
		"'pending', 'approved', 'completed', 'rejected'",
		"'CPF', 'CNPJ', 'EMAIL', 'PHONE', 'EVP'",
	})
}

func TestOrdersMigrationAllowsOneRatingPerOrder(t *testing.T) {
	content := readMigration(t, "create_orders")
	assertContains(t, content, []string{
		"'pending', 'processing', 'completed', 'cancelled', 'disputed'",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_order_ratings_order_id",
		"CHECK (score BETWEEN 1 AND 5)",
	})
}
