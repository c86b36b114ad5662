package database

import "testing"

func TestMigrationNamesSorted(t *testing.T) {
	names, err := migrationNames()
	if err != nil {
		t.Fatalf("migrationNames: %v", err)
	}
	if len(names) == 0 || names[0] != "001_schema.sql" {
		t.Fatalf("expected 001_schema.sql first, got %v", names)
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Errorf("migrations not sorted: %v", names)
		}
	}
}
