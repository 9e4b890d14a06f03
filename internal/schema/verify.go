package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrMismatch marks a difference between the live database and the declared schema.
var ErrMismatch = errors.New("schema mismatch")

// Queryer is the subset of *sql.DB and *sql.Tx that Verify needs.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Verify compares the live database against the declared tables.
// It returns nil when they match, an errors.Join of ErrMismatch values
// describing every difference, or the first query error.
func Verify(ctx context.Context, db Queryer) error {
	live, err := liveTables(ctx, db)
	if err != nil {
		return err
	}

	var problems []error
	for _, t := range tables {
		ddl, ok := live[t.Name]
		if !ok {
			problems = append(problems, fmt.Errorf("%w: missing table %s", ErrMismatch, t.Name))
			continue
		}
		delete(live, t.Name)
		problems = append(problems, verifyAutoincrement(t, ddl)...)
		p, err := verifyColumns(ctx, db, t)
		if err != nil {
			return err
		}
		problems = append(problems, p...)
		p, err = verifyForeignKeys(ctx, db, t)
		if err != nil {
			return err
		}
		problems = append(problems, p...)
	}
	for name := range live {
		problems = append(problems, fmt.Errorf("%w: unexpected table %s", ErrMismatch, name))
	}
	return errors.Join(problems...)
}

// liveTables maps each user table to its CREATE statement.
func liveTables(ctx context.Context, db Queryer) (map[string]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT name, sql FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	live := map[string]string{}
	for rows.Next() {
		var name string
		var ddl sql.NullString
		if err := rows.Scan(&name, &ddl); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		live[name] = ddl.String
	}
	return live, rows.Err()
}

// verifyAutoincrement checks that a table whose declared key is AUTOINCREMENT
// was created that way. PRAGMA table_info does not report it.
func verifyAutoincrement(t Table, ddl string) []error {
	for _, c := range t.Columns {
		if c.PrimaryKey && !strings.Contains(strings.ToUpper(ddl), "AUTOINCREMENT") {
			return []error{fmt.Errorf("%w: %s primary key %s is not AUTOINCREMENT", ErrMismatch, t.Name, c.Name)}
		}
	}
	return nil
}

func verifyColumns(ctx context.Context, db Queryer, t Table) ([]error, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", t.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", t.Name, err)
	}
	defer rows.Close()

	var got []Column
	for rows.Next() {
		var (
			cid     int
			c       Column
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &c.Name, &c.Type, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column of %s: %w", t.Name, err)
		}
		c.NotNull = notNull != 0
		c.PrimaryKey = pk != 0
		c.Type = strings.ToUpper(c.Type)
		got = append(got, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var problems []error
	if len(got) != len(t.Columns) {
		problems = append(problems, fmt.Errorf("%w: %s has %d columns, want %d", ErrMismatch, t.Name, len(got), len(t.Columns)))
	}
	for i, want := range t.Columns {
		if i >= len(got) {
			problems = append(problems, fmt.Errorf("%w: %s missing column %s", ErrMismatch, t.Name, want.Name))
			continue
		}
		if got[i] != want {
			problems = append(problems, fmt.Errorf("%w: %s column %d is %+v, want %+v", ErrMismatch, t.Name, i, got[i], want))
		}
	}
	return problems, nil
}

func verifyForeignKeys(ctx context.Context, db Queryer, t Table) ([]error, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%s)", t.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to read foreign keys of %s: %w", t.Name, err)
	}
	defer rows.Close()

	got := map[ForeignKey]bool{}
	for rows.Next() {
		var (
			id, seq                   int
			fk                        ForeignKey
			to                        sql.NullString
			onUpdate, onDelete, match string
		)
		if err := rows.Scan(&id, &seq, &fk.RefTable, &fk.Column, &to, &onUpdate, &onDelete, &match); err != nil {
			return nil, fmt.Errorf("failed to scan foreign key of %s: %w", t.Name, err)
		}
		fk.RefColumn = to.String
		got[fk] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var problems []error
	for _, want := range t.ForeignKeys {
		if !got[want] {
			problems = append(problems, fmt.Errorf("%w: %s missing foreign key %s -> %s(%s)", ErrMismatch, t.Name, want.Column, want.RefTable, want.RefColumn))
		}
		delete(got, want)
	}
	for fk := range got {
		problems = append(problems, fmt.Errorf("%w: %s has unexpected foreign key %s -> %s(%s)", ErrMismatch, t.Name, fk.Column, fk.RefTable, fk.RefColumn))
	}
	return problems, nil
}
