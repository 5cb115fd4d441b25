package main

import (
	"crypto/sha256"
	"fmt"
	"testing"
	"testing/fstest"

	"github.com/dvloznov/splitledger/internal/infra/postgres"
)

func TestMigrationFilenamePattern(t *testing.T) {
	tests := []struct {
		filename string
		valid    bool
		version  string
		name     string
	}{
		{"0001_init_schema.sql", true, "0001", "init_schema"},
		{"0002_csv_jobs.sql", true, "0002", "csv_jobs"},
		{"001_invalid.sql", false, "", ""},        // wrong number format
		{"0001_test", false, "", ""},              // missing .sql
		{"0001.sql", false, "", ""},               // missing name
		{"invalid_0001_test.sql", false, "", ""}, // wrong order
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			matches := migrationPattern.FindStringSubmatch(tt.filename)
			if (matches != nil) != tt.valid {
				t.Fatalf("match = %v, want %v", matches != nil, tt.valid)
			}
			if tt.valid && (matches[1] != tt.version || matches[2] != tt.name) {
				t.Errorf("got version %q name %q, want %q %q", matches[1], matches[2], tt.version, tt.name)
			}
		})
	}
}

func TestReadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"m/0002_second.sql": {Data: []byte("CREATE TABLE b (id INT);")},
		"m/0001_first.sql":  {Data: []byte("CREATE TABLE a (id INT);")},
		"m/README.md":       {Data: []byte("notes")},
	}

	migrations, err := readMigrations(fsys, "m")
	if err != nil {
		t.Fatalf("readMigrations: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("got %d migrations, want 2", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[1].Version != 2 {
		t.Errorf("migrations not sorted: %d, %d", migrations[0].Version, migrations[1].Version)
	}
	want := fmt.Sprintf("%x", sha256.Sum256([]byte("CREATE TABLE a (id INT);")))
	if migrations[0].Checksum != want {
		t.Errorf("checksum = %s, want %s", migrations[0].Checksum, want)
	}
}

func TestReadMigrations_DuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"m/0001_a.sql": {Data: []byte("SELECT 1;")},
		"m/0001_b.sql": {Data: []byte("SELECT 2;")},
	}
	if _, err := readMigrations(fsys, "m"); err == nil {
		t.Fatal("expected duplicate version error")
	}
}

func TestReadMigrations_Embedded(t *testing.T) {
	migrations, err := readMigrations(postgres.Migrations, "migrations")
	if err != nil {
		t.Fatalf("readMigrations: %v", err)
	}
	for i, m := range migrations {
		if m.Version != i+1 {
			t.Errorf("migration %d has version %d; versions must be contiguous", i, m.Version)
		}
	}
}

func TestPendingMigrations(t *testing.T) {
	all := []Migration{
		{Version: 1, Name: "a", Checksum: "c1"},
		{Version: 2, Name: "b", Checksum: "c2"},
		{Version: 3, Name: "c", Checksum: "c3"},
	}

	tests := []struct {
		name    string
		applied []AppliedMigration
		want    []int
		wantErr bool
	}{
		{name: "fresh database", want: []int{1, 2, 3}},
		{name: "partially applied", applied: []AppliedMigration{{Version: 1, Checksum: "c1"}}, want: []int{2, 3}},
		{name: "legacy row without checksum", applied: []AppliedMigration{{Version: 1}, {Version: 2}}, want: []int{3}},
		{name: "modified after apply", applied: []AppliedMigration{{Version: 2, Checksum: "other"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pending, err := pendingMigrations(all, tt.applied)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var got []int
			for _, m := range pending {
				got = append(got, m.Version)
			}
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("pending = %v, want %v", got, tt.want)
			}
		})
	}
}
