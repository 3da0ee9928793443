package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// ErrNoRows is returned by QueryOne when the query produced nothing.
var ErrNoRows = errors.New("db: no rows")

// Tx runs fn inside a BEGIN IMMEDIATE transaction. The transaction commits
// when fn returns nil and rolls back otherwise. A failed commit is returned
// as the error.
func (p *Pool) Tx(ctx context.Context, fn func(conn *sqlite.Conn) error) (err error) {
	conn, err := p.Take(ctx)
	if err != nil {
		return err
	}
	defer p.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("db: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	return fn(conn)
}

// Read runs fn on a connection inside a read savepoint so multi-statement
// reads see one snapshot.
func (p *Pool) Read(ctx context.Context, fn func(conn *sqlite.Conn) error) (err error) {
	conn, err := p.Take(ctx)
	if err != nil {
		return err
	}
	defer p.Put(conn)

	release := sqlitex.Save(conn)
	defer release(&err)

	return fn(conn)
}

// Exec runs a statement that returns no rows.
func Exec(conn *sqlite.Conn, query string, args ...any) error {
	return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args})
}

// Query runs a statement and calls fn for each row.
func Query(conn *sqlite.Conn, query string, fn func(stmt *sqlite.Stmt) error, args ...any) error {
	return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args:       args,
		ResultFunc: fn,
	})
}

// QueryOne runs a statement expected to return at most one row. fn is
// called for the first row; ErrNoRows is returned when there is none.
func QueryOne(conn *sqlite.Conn, query string, fn func(stmt *sqlite.Stmt) error, args ...any) error {
	found := false
	err := Query(conn, query, func(stmt *sqlite.Stmt) error {
		if found {
			return nil
		}
		found = true
		return fn(stmt)
	}, args...)
	if err != nil {
		return err
	}
	if !found {
		return ErrNoRows
	}
	return nil
}

// IsUnique reports whether err is a UNIQUE or PRIMARY KEY violation.
func IsUnique(err error) bool {
	if err == nil {
		return false
	}
	switch sqlite.ErrCode(err) {
	case sqlite.ResultConstraintUnique, sqlite.ResultConstraintPrimaryKey:
		return true
	case sqlite.ResultConstraint:
		return strings.Contains(err.Error(), "UNIQUE")
	}
	return false
}

// NullID maps the root id 0 to SQL NULL.
func NullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

// ColumnID reads a nullable id column, mapping NULL to 0.
func ColumnID(stmt *sqlite.Stmt, col int) int64 {
	if stmt.ColumnType(col) == sqlite.TypeNull {
		return 0
	}
	return stmt.ColumnInt64(col)
}

// Timestamp converts t to the stored representation (unix nanoseconds).
func Timestamp(t time.Time) int64 {
	return t.UnixNano()
}

// ColumnTime reads a timestamp column.
func ColumnTime(stmt *sqlite.Stmt, col int) time.Time {
	return time.Unix(0, stmt.ColumnInt64(col)).UTC()
}
