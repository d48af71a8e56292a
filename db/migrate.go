package db

import (
	"context"
	"database/sql"
	"embed"
	"path"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/pulseflow/errors"
	"github.com/teranos/pulseflow/sym"
)

//go:embed sqlite/migrations/*.sql
var migrations embed.FS

const migrationsDir = "sqlite/migrations"

// Migration is one embedded schema change. AppliedAt is nil while pending.
type Migration struct {
	Version   string
	Name      string
	AppliedAt *time.Time
}

// Migrate applies pending migrations in version order, each in its own
// transaction, and returns how many ran.
func Migrate(ctx context.Context, db *sql.DB, logger *zap.SugaredLogger) (int, error) {
	all, err := embeddedMigrations()
	if err != nil {
		return 0, err
	}
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return 0, err
	}

	ran := 0
	for _, m := range all {
		if _, ok := applied[m.Version]; ok {
			continue
		}
		body, err := migrations.ReadFile(path.Join(migrationsDir, m.Version+"_"+m.Name+".sql"))
		if err != nil {
			return ran, errors.Wrapf(err, "read migration %s", m.Version)
		}

		if logger != nil {
			logger.Infow("Applying migration", "version", m.Version, "name", m.Name)
		}
		err = WithTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, string(body)); err != nil {
				return errors.Wrapf(err, "execute migration %s_%s", m.Version, m.Name)
			}
			if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", m.Version); err != nil {
				return errors.Wrapf(err, "record migration %s", m.Version)
			}
			return nil
		})
		if err != nil {
			return ran, err
		}
		ran++
	}

	if logger != nil {
		logger.Infow("Schema up to date",
			"symbol", sym.DB,
			"applied", ran,
			"known", len(all))
	}
	return ran, nil
}

// MigrationStatus lists every embedded migration with its applied time
func MigrationStatus(ctx context.Context, q Querier) ([]Migration, error) {
	all, err := embeddedMigrations()
	if err != nil {
		return nil, err
	}
	applied, err := appliedVersions(ctx, q)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if at, ok := applied[all[i].Version]; ok {
			all[i].AppliedAt = &at
		}
	}
	return all, nil
}

// embeddedMigrations parses NNN_name.sql files. Version 000 creates the
// schema_migrations table itself.
func embeddedMigrations() ([]Migration, error) {
	entries, err := migrations.ReadDir(migrationsDir)
	if err != nil {
		return nil, errors.Wrap(err, "read embedded migrations")
	}

	var out []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, name, ok := strings.Cut(strings.TrimSuffix(entry.Name(), ".sql"), "_")
		if !ok || len(version) != 3 {
			return nil, errors.AssertionFailedf("migration file %s is not named NNN_name.sql", entry.Name())
		}
		out = append(out, Migration{Version: version, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	if len(out) == 0 || out[0].Version != "000" {
		return nil, errors.AssertionFailedf("embedded migrations must start at 000")
	}
	return out, nil
}

// appliedVersions is empty on a fresh database
func appliedVersions(ctx context.Context, q Querier) (map[string]time.Time, error) {
	var n int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'").Scan(&n)
	if err != nil {
		return nil, errors.Wrap(err, "look up schema_migrations")
	}
	applied := make(map[string]time.Time)
	if n == 0 {
		return applied, nil
	}

	rows, err := q.QueryContext(ctx, "SELECT version, applied_at FROM schema_migrations")
	if err != nil {
		return nil, errors.Wrap(err, "read schema_migrations")
	}
	defer rows.Close()
	for rows.Next() {
		var version string
		var at time.Time
		if err := rows.Scan(&version, &at); err != nil {
			return nil, errors.Wrap(err, "scan schema_migrations")
		}
		applied[version] = at.UTC()
	}
	return applied, errors.Wrap(rows.Err(), "read schema_migrations")
}
