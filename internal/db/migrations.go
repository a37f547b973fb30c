package db

import (
	"database/sql"
	"fmt"
)

// columnAdds lists migrations that only add a column, so they can be skipped
// when the base schema already created it.
var columnAdds = map[int][2]string{
	2: {"sync_state", "auth_required"},
	3: {"write_queue", "last_error"},
}

// columnExists checks whether a column exists on a table
func (db *DB) columnExists(table, column string) (bool, error) {
	rows, err := db.conn.Query(fmt.Sprintf("PRAGMA table_info(%s);", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// GetSchemaVersion returns the current schema version, 0 before any migration.
func (db *DB) GetSchemaVersion() (int, error) {
	var version string
	err := db.conn.QueryRow("SELECT value FROM schema_info WHERE key = 'version'").Scan(&version)
	if err != nil {
		// No row or no table yet
		return 0, nil
	}
	var v int
	fmt.Sscanf(version, "%d", &v)
	return v, nil
}

func (db *DB) setSchemaVersionInternal(version int) error {
	_, err := db.conn.Exec(`INSERT OR REPLACE INTO schema_info (key, value) VALUES ('version', ?)`,
		fmt.Sprintf("%d", version))
	return err
}

// RunMigrations runs any pending database migrations
func (db *DB) RunMigrations() (int, error) {
	if v, _ := db.GetSchemaVersion(); v >= SchemaVersion {
		return 0, nil
	}

	var migrationsRun int
	err := db.withWriteLock(func() error {
		var err error
		migrationsRun, err = db.runMigrationsInternal()
		return err
	})
	return migrationsRun, err
}

func (db *DB) runMigrationsInternal() (int, error) {
	if _, err := db.conn.Exec(`CREATE TABLE IF NOT EXISTS schema_info (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return 0, fmt.Errorf("create schema_info: %w", err)
	}

	currentVersion, err := db.GetSchemaVersion()
	if err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}

	migrationsRun := 0
	for _, migration := range Migrations {
		if migration.Version <= currentVersion {
			continue
		}

		skip := false
		if col, ok := columnAdds[migration.Version]; ok {
			exists, err := db.columnExists(col[0], col[1])
			if err != nil {
				return migrationsRun, fmt.Errorf("check column %s.%s: %w", col[0], col[1], err)
			}
			skip = exists
		}
		if !skip {
			if _, err := db.conn.Exec(migration.SQL); err != nil {
				return migrationsRun, fmt.Errorf("migration %d (%s): %w", migration.Version, migration.Description, err)
			}
		}
		if err := db.setSchemaVersionInternal(migration.Version); err != nil {
			return migrationsRun, fmt.Errorf("set version %d: %w", migration.Version, err)
		}
		migrationsRun++
	}
	return migrationsRun, nil
}
