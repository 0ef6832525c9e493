package db

import (
	"embed"
	"path"
	"slices"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/teranos/docpipe/errors"
)

//go:embed sqlite/migrations/*.sql postgres/migrations/*.sql
var migrations embed.FS

// migration is one embedded NNN_description.sql file.
type migration struct {
	version string
	path    string
}

// migrationsFor lists the migration set for the connection's driver in
// version order. The first entry is always 000, which creates
// schema_migrations and must be safe to re-run.
func migrationsFor(db *sqlx.DB) ([]migration, error) {
	var dir string
	switch db.DriverName() {
	case DriverSQLite:
		dir = "sqlite/migrations"
	case DriverPostgres, "postgres":
		dir = "postgres/migrations"
	default:
		return nil, errors.Newf("no migrations for driver %q", db.DriverName())
	}

	entries, err := migrations.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "read migrations")
	}
	var list []migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		version, _, _ := strings.Cut(e.Name(), "_")
		list = append(list, migration{version: version, path: path.Join(dir, e.Name())})
	}
	slices.SortFunc(list, func(a, b migration) int { return strings.Compare(a.version, b.version) })
	if len(list) == 0 || list[0].version != "000" {
		return nil, errors.Newf("%s: missing 000 bootstrap migration", dir)
	}
	return list, nil
}

// Migrate applies every migration not yet recorded in schema_migrations,
// each in its own transaction. A nil logger runs silently.
func Migrate(db *sqlx.DB, logger *zap.SugaredLogger) error {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	list, err := migrationsFor(db)
	if err != nil {
		return err
	}

	bootstrap, err := migrations.ReadFile(list[0].path)
	if err != nil {
		return errors.Wrapf(err, "read %s", list[0].path)
	}
	if _, err := db.Exec(string(bootstrap)); err != nil {
		return errors.Wrap(Classify(err), "create schema_migrations")
	}

	var done []string
	if err := db.Select(&done, "SELECT version FROM schema_migrations"); err != nil {
		return errors.Wrap(Classify(err), "read applied migrations")
	}

	applied := 0
	for _, m := range list {
		if slices.Contains(done, m.version) {
			logger.Debugw("Migration already applied", "migration", m.path)
			continue
		}
		logger.Infow("Applying migration", "migration", m.path, "version", m.version)
		if err := apply(db, m); err != nil {
			return err
		}
		applied++
	}

	logger.Infow("Migrations complete", "driver", db.DriverName(), "applied", applied, "total", len(list))
	return nil
}

func apply(db *sqlx.DB, m migration) error {
	body, err := migrations.ReadFile(m.path)
	if err != nil {
		return errors.Wrapf(err, "read %s", m.path)
	}

	tx, err := db.Beginx()
	if err != nil {
		return errors.Wrapf(Classify(err), "begin %s", m.path)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(string(body)); err != nil {
		return errors.Wrapf(err, "execute %s", m.path)
	}
	if _, err := tx.Exec(tx.Rebind("INSERT INTO schema_migrations (version) VALUES (?)"), m.version); err != nil {
		return errors.Wrapf(err, "record %s", m.path)
	}
	return errors.Wrapf(tx.Commit(), "commit %s", m.path)
}
