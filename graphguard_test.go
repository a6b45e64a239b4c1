package lattix

import "testing"

func TestValidateGraphQueryRejectsWriteVerbs(t *testing.T) {
	rejected := []string{
		"DELETE FROM entities WHERE repository_id = @repository_id",
		"delete from entities",
		"MATCH (n) SET n.x = 1",
		"CREATE (n:Type {name: 'X'})",
		"MERGE (n:Package)",
		"DROP TABLE entities",
		"SELECT 1; DROP TABLE entities",
		"REMOVE n.prop",
	}
	for _, q := range rejected {
		if err := ValidateGraphQuery(q); err == nil {
			t.Errorf("ValidateGraphQuery(%q) = nil, want error", q)
		}
	}
}

func TestValidateGraphQueryAllowsReads(t *testing.T) {
	allowed := []string{
		"SELECT name, kind FROM entities WHERE repository_id = @repository_id",
		"MATCH (n:Type) RETURN n.name",
		"SELECT * FROM edges WHERE relation = @rel LIMIT 10",
	}
	for _, q := range allowed {
		if err := ValidateGraphQuery(q); err != nil {
			t.Errorf("ValidateGraphQuery(%q) = %v, want nil", q, err)
		}
	}
}

func TestValidateGraphQueryIgnoresLiterals(t *testing.T) {
	// Write verbs inside string literals are data, not statements.
	allowed := []string{
		`SELECT * FROM entities WHERE name = 'DeleteHandler'`,
		`SELECT * FROM entities WHERE snippet = 'how to DROP a connection'`,
		`SELECT * FROM entities WHERE name = "CreateUserRequest"`,
		`SELECT * FROM entities WHERE name = 'it''s a CREATE inside'`,
	}
	for _, q := range allowed {
		if err := ValidateGraphQuery(q); err != nil {
			t.Errorf("ValidateGraphQuery(%q) = %v, want nil", q, err)
		}
	}

	// But identifiers merely containing a verb as a substring are fine,
	// while the bare verb outside a literal is not.
	if err := ValidateGraphQuery("SELECT created_at FROM entities"); err != nil {
		t.Errorf("substring token rejected: %v", err)
	}
	if err := ValidateGraphQuery(`SELECT 'x' FROM entities WHERE 1=1 DELETE`); err == nil {
		t.Error("bare verb after literal must be rejected")
	}
}
