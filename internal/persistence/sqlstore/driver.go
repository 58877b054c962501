package sqlstore

import (
	"database/sql"
	"fmt"
	"io"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// modernCDriver adapts modernc.org/sqlite to golang-migrate's database.Driver
// interface. golang-migrate ships a cgo-based sqlite3 driver (mattn/go-sqlite3)
// but none for the pure-Go modernc.org/sqlite driver this module uses to stay
// cgo-free, so this implements the (small) required interface directly
// against the same *sql.DB the rest of the store uses.
type modernCDriver struct {
	mu sync.Mutex
	db *sql.DB
}

func newMigrateDriver(db *sql.DB) (database.Driver, error) {
	d := &modernCDriver{db: db}
	if err := d.ensureVersionTable(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *modernCDriver) ensureVersionTable() error {
	_, err := d.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER NOT NULL PRIMARY KEY,
		dirty INTEGER NOT NULL
	)`)
	return err
}

func (d *modernCDriver) Open(url string) (database.Driver, error) {
	return nil, fmt.Errorf("sqlstore: Open is not supported; use newMigrateDriver with an existing *sql.DB")
}

func (d *modernCDriver) Close() error { return nil }

func (d *modernCDriver) Lock() error   { return nil }
func (d *modernCDriver) Unlock() error { return nil }

func (d *modernCDriver) Run(migration io.Reader) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	stmt, err := io.ReadAll(migration)
	if err != nil {
		return err
	}
	if _, err := d.db.Exec(string(stmt)); err != nil {
		return fmt.Errorf("sqlstore: migration exec: %w", err)
	}
	return nil
}

func (d *modernCDriver) SetVersion(version int, dirty bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.db.Exec(`DELETE FROM schema_migrations`); err != nil {
		return err
	}
	if version < 0 {
		return nil
	}
	_, err := d.db.Exec(`INSERT INTO schema_migrations (version, dirty) VALUES (?, ?)`, version, dirty)
	return err
}

func (d *modernCDriver) Version() (version int, dirty bool, err error) {
	row := d.db.QueryRow(`SELECT version, dirty FROM schema_migrations LIMIT 1`)
	err = row.Scan(&version, &dirty)
	if err == sql.ErrNoRows {
		return database.NilVersion, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return version, dirty, nil
}

func (d *modernCDriver) Drop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	rows, err := d.db.Query(`SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		tables = append(tables, name)
	}
	for _, table := range tables {
		if _, err := d.db.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %q`, table)); err != nil {
			return err
		}
	}
	return nil
}

// runMigrations applies every "up" migration embedded in migrationsFS to db.
func runMigrations(db *sql.DB) error {
	driver, err := newMigrateDriver(db)
	if err != nil {
		return err
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("sqlstore: load migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "loom", driver)
	if err != nil {
		return fmt.Errorf("sqlstore: init migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("sqlstore: apply migrations: %w", err)
	}
	return nil
}
