package main

import (
	"context"
	"crypto/sha256"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/dvloznov/splitledger/internal/config"
	infraBQ "github.com/dvloznov/splitledger/internal/infra/bigquery"
	"github.com/dvloznov/splitledger/internal/infra/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/viper"
)

// Migration represents a single migration file
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	Checksum string
}

// AppliedMigration represents a migration that has already been applied
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt time.Time
	Checksum  string
	AppliedBy string
}

// Pattern to match migration files: 0001_name.sql
var migrationPattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

var (
	configFile = flag.String("config", "", "Path to a YAML config file")
	dsn        = flag.String("dsn", "", "PostgreSQL connection string (defaults to database.dsn)")
	appliedBy  = flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
	dryRun     = flag.Bool("dry-run", false, "List pending migrations without applying them")
	withBQ     = flag.Bool("bigquery", false, "Also create the BigQuery job runs table")
)

func main() {
	flag.Parse()

	ctx := context.Background()

	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("Failed to load .env: %v", err)
	}
	v := viper.New()
	if *dsn != "" {
		v.Set("database.driver", config.DriverPostgres)
		v.Set("database.dsn", *dsn)
	}
	cfg, err := config.Load(v, *configFile)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if cfg.Database.Driver != config.DriverPostgres {
		log.Fatal("Error: migrations need a PostgreSQL database. Set -dsn or SPLITLEDGER_DATABASE_DRIVER=postgres and SPLITLEDGER_DATABASE_DSN.")
	}

	pool, err := postgres.Connect(ctx, cfg.Database.DSN, 2)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer pool.Close()

	log.Printf("Connected to PostgreSQL database: %s", pool.Config().ConnConfig.Database)

	// Ensure schema_migrations table exists
	if err := ensureSchemaMigrationsTable(ctx, pool); err != nil {
		log.Fatalf("Failed to ensure schema_migrations table: %v", err)
	}

	// Read migration files
	migrations, err := readMigrations(postgres.Migrations, "migrations")
	if err != nil {
		log.Fatalf("Failed to read migrations: %v", err)
	}

	log.Printf("Found %d migration files", len(migrations))

	// Get applied migrations
	appliedMigrations, err := getAppliedMigrations(ctx, pool)
	if err != nil {
		log.Fatalf("Failed to get applied migrations: %v", err)
	}

	log.Printf("Found %d already applied migrations", len(appliedMigrations))

	pending, err := pendingMigrations(migrations, appliedMigrations)
	if err != nil {
		log.Fatalf("Migration history does not match the migration files: %v", err)
	}

	appliedCount := 0
	for _, migration := range pending {
		if *dryRun {
			log.Printf("  [PENDING] %04d_%s", migration.Version, migration.Name)
			continue
		}

		log.Printf("  [RUN]  %04d_%s", migration.Version, migration.Name)

		if err := applyMigration(ctx, pool, migration); err != nil {
			log.Fatalf("Failed to apply migration %04d_%s: %v", migration.Version, migration.Name, err)
		}

		log.Printf("  [OK]   %04d_%s", migration.Version, migration.Name)
		appliedCount++
	}

	switch {
	case *dryRun:
		log.Printf("%d migration(s) pending", len(pending))
	case appliedCount == 0:
		log.Println("No new migrations to apply. Database is up to date.")
	default:
		log.Printf("Successfully applied %d migration(s)", appliedCount)
	}

	if *withBQ && !*dryRun {
		if err := ensureRunsTable(ctx, cfg); err != nil {
			log.Fatalf("Failed to create BigQuery runs table: %v", err)
		}
		log.Printf("BigQuery table %s.%s is ready", cfg.BigQuery.Dataset, cfg.BigQuery.Table)
	}
}

// ensureSchemaMigrationsTable creates the schema_migrations table if it doesn't exist
func ensureSchemaMigrationsTable(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			checksum   TEXT,
			applied_by TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}
	return nil
}

// readMigrations reads all migration files from dir in fsys
func readMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	files, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	var migrations []Migration
	seen := make(map[int]string)
	for _, file := range files {
		if file.IsDir() {
			continue
		}

		matches := migrationPattern.FindStringSubmatch(file.Name())
		if matches == nil {
			log.Printf("Skipping file with invalid format: %s", file.Name())
			continue
		}

		version, err := strconv.Atoi(matches[1])
		if err != nil {
			log.Printf("Skipping file with invalid version: %s", file.Name())
			continue
		}
		if other, dup := seen[version]; dup {
			return nil, fmt.Errorf("version %04d used by both %s and %s", version, other, file.Name())
		}
		seen[version] = file.Name()

		content, err := fs.ReadFile(fsys, path.Join(dir, file.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading file %s: %w", file.Name(), err)
		}

		migrations = append(migrations, Migration{
			Version:  version,
			Name:     matches[2],
			Filename: file.Name(),
			SQL:      string(content),
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
		})
	}

	// Sort by version
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

// pendingMigrations returns the migrations not yet applied. An applied migration
// whose file changed since it ran is an error.
func pendingMigrations(migrations []Migration, applied []AppliedMigration) ([]Migration, error) {
	appliedByVersion := make(map[int]AppliedMigration, len(applied))
	for _, am := range applied {
		appliedByVersion[am.Version] = am
	}

	var pending []Migration
	for _, m := range migrations {
		am, ok := appliedByVersion[m.Version]
		if !ok {
			pending = append(pending, m)
			continue
		}
		if am.Checksum != "" && am.Checksum != m.Checksum {
			return nil, fmt.Errorf("%04d_%s was modified after it was applied", m.Version, m.Name)
		}
		log.Printf("  [SKIP] %04d_%s (already applied)", m.Version, m.Name)
	}
	return pending, nil
}

// getAppliedMigrations retrieves the list of already applied migrations
func getAppliedMigrations(ctx context.Context, pool *pgxpool.Pool) ([]AppliedMigration, error) {
	rows, err := pool.Query(ctx, `
		SELECT version, name, applied_at, COALESCE(checksum, ''), COALESCE(applied_by, '')
		FROM schema_migrations
		ORDER BY version ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}

	applied, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (AppliedMigration, error) {
		var am AppliedMigration
		err := row.Scan(&am.Version, &am.Name, &am.AppliedAt, &am.Checksum, &am.AppliedBy)
		return am, err
	})
	if err != nil {
		return nil, fmt.Errorf("iterating results: %w", err)
	}
	return applied, nil
}

// applyMigration runs a migration and records it in one transaction
func applyMigration(ctx context.Context, pool *pgxpool.Pool, migration Migration) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, migration.SQL); err != nil {
		return fmt.Errorf("executing: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO schema_migrations (version, name, checksum, applied_by)
		VALUES ($1, $2, $3, $4)
	`, migration.Version, migration.Name, migration.Checksum, *appliedBy)
	if err != nil {
		return fmt.Errorf("recording: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func ensureRunsTable(ctx context.Context, cfg *config.Config) error {
	if cfg.BigQuery.ProjectID == "" || cfg.BigQuery.Dataset == "" {
		return errors.New("bigquery.project_id and bigquery.dataset are required")
	}
	recorder, err := infraBQ.NewRunRecorder(ctx, cfg.BigQuery.ProjectID, cfg.BigQuery.Dataset, cfg.BigQuery.Table)
	if err != nil {
		return err
	}
	defer recorder.Close()
	return recorder.EnsureTable(ctx)
}

func init() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags)
}
