package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readMigration(t *testing.T, name string) string {
	t.Helper()
	sqlBytes, err := os.ReadFile(filepath.Join("..", "..", "db", "migrations", name))
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	return string(sqlBytes)
}

func TestLedgerImmutabilityMigrationUsesBlockingTriggers(t *testing.T) {
	sqlText := readMigration(t, "0002_ledger_immutability.up.sql")

	expectedSnippets := []string{
		"ledger_immutable_guard",
		"RAISE EXCEPTION",
		"CREATE TRIGGER trg_document_versions_block_update",
		"CREATE TRIGGER trg_document_versions_block_delete",
		"CREATE TRIGGER trg_approvals_block_update",
		"CREATE TRIGGER trg_approvals_block_delete",
	}
	for _, snippet := range expectedSnippets {
		if !strings.Contains(sqlText, snippet) {
			t.Fatalf("expected migration to contain %q", snippet)
		}
	}
	if strings.Contains(sqlText, "DO INSTEAD NOTHING") {
		t.Fatalf("expected hard-fail immutability guard, found silent DO INSTEAD NOTHING rule")
	}
}

func TestRowLevelSecurityCoversEveryLedgerTable(t *testing.T) {
	sqlText := readMigration(t, "0003_row_level_security.up.sql")

	for _, table := range []string{"documents", "document_versions", "approvals", "notifications"} {
		for _, snippet := range []string{
			"ALTER TABLE " + table + " ENABLE ROW LEVEL SECURITY",
			"ALTER TABLE " + table + " FORCE ROW LEVEL SECURITY",
			"ON " + table + " FOR SELECT",
			"ON " + table + " FOR INSERT",
		} {
			if !strings.Contains(sqlText, snippet) {
				t.Fatalf("expected migration to contain %q", snippet)
			}
		}
	}
	if !strings.Contains(sqlText, "ARRAY['executive', 'admin']::app_role[]") {
		t.Fatal("expected approvals insert to require executive or admin")
	}
}

func TestVersionUniquenessIsEnforcedBySchema(t *testing.T) {
	sqlText := readMigration(t, "0001_init.up.sql")
	if !strings.Contains(sqlText, "UNIQUE (document_id, version_number)") {
		t.Fatal("expected unique (document_id, version_number)")
	}
	if !strings.Contains(sqlText, "ON DELETE SET NULL") {
		t.Fatal("expected notifications to keep rows when a document is removed")
	}
}
