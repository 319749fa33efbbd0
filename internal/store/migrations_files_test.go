package store

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"testing"
)

const migrationsPath = "../../db/migrations"

var migrationName = regexp.MustCompile(`^(\d{4})_[a-z0-9_]+\.(up|down)\.sql$`)

func TestMigrationFilesArePairedAndContiguous(t *testing.T) {
	entries, err := os.ReadDir(migrationsPath)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	pairs := map[string]map[string]bool{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := migrationName.FindStringSubmatch(entry.Name())
		if m == nil {
			t.Errorf("unexpected file in migrations dir: %s", entry.Name())
			continue
		}
		if pairs[m[1]] == nil {
			pairs[m[1]] = map[string]bool{}
		}
		if pairs[m[1]][m[2]] {
			t.Fatalf("version %s has two %s files", m[1], m[2])
		}
		pairs[m[1]][m[2]] = true
	}
	if len(pairs) == 0 {
		t.Fatal("no migrations discovered")
	}

	versions := make([]string, 0, len(pairs))
	for v, dirs := range pairs {
		if !dirs["up"] || !dirs["down"] {
			t.Errorf("version %s needs both up and down files", v)
		}
		versions = append(versions, v)
	}
	sort.Strings(versions)
	for i, v := range versions {
		if want := fmt.Sprintf("%04d", i+1); v != want {
			t.Fatalf("migration versions skip %s (found %s)", want, v)
		}
	}
}

func readUpMigrations(t *testing.T) string {
	t.Helper()
	paths, err := filepath.Glob(filepath.Join(migrationsPath, "*.up.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	var all strings.Builder
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			t.Fatalf("read %s: %v", p, err)
		}
		all.Write(data)
		all.WriteString("\n")
	}
	return strings.ToLower(all.String())
}

func TestSchemaGuardsLedgersAndRows(t *testing.T) {
	schema := readUpMigrations(t)

	for _, want := range []string{
		"create trigger trg_document_versions_block_update",
		"create trigger trg_document_versions_block_delete",
		"create trigger trg_approvals_block_update",
		"create trigger trg_approvals_block_delete",
		"unique (document_id, version_number)",
		"row_version bigint",
		"references documents(id) on delete set null",
	} {
		if !strings.Contains(schema, want) {
			t.Errorf("schema is missing %q", want)
		}
	}

	for _, table := range []string{"documents", "document_versions", "approvals", "notifications"} {
		if !strings.Contains(schema, "alter table "+table+" enable row level security") {
			t.Errorf("row level security is not enabled on %s", table)
		}
	}
}
