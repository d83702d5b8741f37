package graphorm

import "testing"

func TestRebind(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Simple",
			input:    "SELECT * FROM parents WHERE id = ?",
			expected: "SELECT * FROM parents WHERE id = $1",
		},
		{
			name:     "Multiple",
			input:    "SELECT * FROM parents WHERE name = ? AND id > ?",
			expected: "SELECT * FROM parents WHERE name = $1 AND id > $2",
		},
		{
			name:     "Inside Quotes",
			input:    "SELECT * FROM parents WHERE name = 'Question?' AND id = ?",
			expected: "SELECT * FROM parents WHERE name = 'Question?' AND id = $1",
		},
		{
			name:     "Quoted Identifier",
			input:    `SELECT "p0"."what?" FROM "parents" AS "p0" WHERE "p0"."id" IN (?,?)`,
			expected: `SELECT "p0"."what?" FROM "parents" AS "p0" WHERE "p0"."id" IN ($1,$2)`,
		},
		{
			name:     "Empty",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rebind(tt.input)
			if got != tt.expected {
				t.Errorf("rebind() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestDialect_Rebind(t *testing.T) {
	query := "SELECT * FROM parents WHERE id = ?"
	if got := Dialects.MySQL.Rebind(query); got != query {
		t.Errorf("mysql should keep ? placeholders, got %s", got)
	}
	if got := Dialects.PostgreSQL.Rebind(query); got != "SELECT * FROM parents WHERE id = $1" {
		t.Errorf("postgres should number placeholders, got %s", got)
	}
}

func TestDialect_Quote(t *testing.T) {
	tests := []struct {
		dialect *Dialect
		ident   string
		want    string
	}{
		{Dialects.MySQL, "parents", "`parents`"},
		{Dialects.SQLite3, "odd`name", "`odd``name`"},
		{Dialects.PostgreSQL, "parents", `"parents"`},
		{Dialects.PostgreSQL, `a"b`, `"a""b"`},
	}
	for _, tt := range tests {
		if got := tt.dialect.Quote(tt.ident); got != tt.want {
			t.Errorf("%s Quote(%q) = %s, want %s", tt.dialect.DriverName, tt.ident, got, tt.want)
		}
	}
}

func TestDialectFor(t *testing.T) {
	tests := map[string]*Dialect{
		"mysql":      Dialects.MySQL,
		"pgx":        Dialects.PostgreSQL,
		"postgres":   Dialects.PostgreSQL,
		"postgresql": Dialects.PostgreSQL,
		"sqlite3":    Dialects.SQLite3,
	}
	for driver, want := range tests {
		got, err := DialectFor(driver)
		if err != nil || got != want {
			t.Errorf("DialectFor(%q) = %v, %v", driver, got, err)
		}
	}

	if _, err := DialectFor("oracle"); err == nil {
		t.Error("expected an error for an unknown driver")
	}
}
