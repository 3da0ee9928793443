package db

import (
	"fmt"

	"zombiezen.com/go/sqlite"
)

// InternContentType returns the id of name in the content type table,
// creating the row on first use. Rows are never deleted.
func InternContentType(conn *sqlite.Conn, name string) (int64, error) {
	if err := Exec(conn,
		`INSERT INTO content_types (name) VALUES (?) ON CONFLICT (name) DO NOTHING`,
		name); err != nil {
		return 0, fmt.Errorf("db: intern content type %q: %w", name, err)
	}

	var id int64
	err := QueryOne(conn, `SELECT id FROM content_types WHERE name = ?`,
		func(stmt *sqlite.Stmt) error {
			id = stmt.ColumnInt64(0)
			return nil
		}, name)
	if err != nil {
		return 0, fmt.Errorf("db: intern content type %q: %w", name, err)
	}
	return id, nil
}

// ContentTypes returns every interned content type name.
func ContentTypes(conn *sqlite.Conn) ([]string, error) {
	var names []string
	err := Query(conn, `SELECT name FROM content_types ORDER BY id`,
		func(stmt *sqlite.Stmt) error {
			names = append(names, stmt.ColumnText(0))
			return nil
		})
	return names, err
}
