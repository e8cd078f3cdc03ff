package schema

import (
	"strings"
	"testing"
)

func TestNewRegistryContainsCoreModels(t *testing.T) {
	reg := NewRegistry()
	models := reg.Models()
	if len(models) == 0 {
		t.Fatalf("NewRegistry: no models registered")
	}

	names := make(map[string]bool, len(models))
	for _, m := range models {
		names[m.Name] = true
	}
	for _, want := range []string{"user", "account", "session", "verification", "two_factor"} {
		if !names[want] {
			t.Errorf("NewRegistry: missing core model %q", want)
		}
	}
}

func TestModelsOrderIsStable(t *testing.T) {
	reg := NewRegistry()
	first := reg.Models()
	second := reg.Models()
	if len(first) != len(second) {
		t.Fatalf("Models: inconsistent length across calls")
	}
	for i := range first {
		if first[i].Name != second[i].Name {
			t.Errorf("Models: order not stable at index %d: %q vs %q", i, first[i].Name, second[i].Name)
		}
	}
}

func TestExtendModelAppendsFieldToExistingModel(t *testing.T) {
	reg := NewRegistry()
	before := len(reg.Models())

	reg.ExtendModel("user", Field{Name: "twoFactorBackupCodesMode", Type: FieldString})

	models := reg.Models()
	if len(models) != before {
		t.Errorf("ExtendModel on existing model: model count changed from %d to %d", before, len(models))
	}
	var found bool
	for _, m := range models {
		if m.Name != "user" {
			continue
		}
		for _, f := range m.Fields {
			if f.Name == "twoFactorBackupCodesMode" {
				found = true
			}
		}
	}
	if !found {
		t.Errorf("ExtendModel: field not appended to user model")
	}
}

func TestExtendModelCreatesNewModel(t *testing.T) {
	reg := NewRegistry()
	before := len(reg.Models())

	reg.ExtendModel("plugin_widget", Field{Name: "label", Type: FieldString})

	models := reg.Models()
	if len(models) != before+1 {
		t.Fatalf("ExtendModel on new model: count = %d, want %d", len(models), before+1)
	}
	if models[len(models)-1].Name != "plugin_widget" {
		t.Errorf("ExtendModel: new model not appended last: got %q", models[len(models)-1].Name)
	}
}

func TestModelReturnedFiltersHiddenFields(t *testing.T) {
	m := Model{Fields: []Field{
		{Name: "id", Returned: true},
		{Name: "email", Returned: true},
		{Name: "passwordHash", Returned: false},
	}}
	rec := map[string]any{"id": "1", "email": "ada@example.com", "passwordHash": "secret"}

	out := m.Returned(rec)
	if out["passwordHash"] != nil {
		t.Errorf("Returned: passwordHash leaked into projection")
	}
	if out["id"] != "1" || out["email"] != "ada@example.com" {
		t.Errorf("Returned: visible fields missing or wrong: %v", out)
	}
}

func TestMigrationGeneratesCreateTableAndIndexes(t *testing.T) {
	reg := NewRegistry()
	stmts := Migration(reg, DialectPostgres)
	if len(stmts) == 0 {
		t.Fatalf("Migration: no statements generated")
	}

	var sawUserTable, sawUniqueIndex bool
	for _, s := range stmts {
		if containsAll(s, "create table if not exists user") {
			sawUserTable = true
		}
		if containsAll(s, "create unique index", "user_email") {
			sawUniqueIndex = true
		}
	}
	if !sawUserTable {
		t.Errorf("Migration: missing user table statement")
	}
	if !sawUniqueIndex {
		t.Errorf("Migration: missing unique index on user.email")
	}
}

func TestColumnTypeVariesByDialect(t *testing.T) {
	if got := columnType(FieldBoolean, DialectPostgres); got != "boolean" {
		t.Errorf("columnType(bool, postgres) = %q, want boolean", got)
	}
	if got := columnType(FieldBoolean, DialectMySQL); got != "tinyint(1)" {
		t.Errorf("columnType(bool, mysql) = %q, want tinyint(1)", got)
	}
	if got := columnType(FieldJSON, DialectPostgres); got != "jsonb" {
		t.Errorf("columnType(json, postgres) = %q, want jsonb", got)
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
