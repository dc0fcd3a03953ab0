package tool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrNotReadOnly is returned for statements other than SELECT or WITH queries
// and for queries whose plan writes to the database.
var ErrNotReadOnly = errors.New("only read-only queries are allowed")

// SQLDB answers questions over a SQLite database through database/sql.
type SQLDB struct {
	db      *sql.DB
	maxRows int
}

// NewSQLDB wraps db. maxRows caps the rows Execute returns; 0 means 50.
func NewSQLDB(db *sql.DB, maxRows int) *SQLDB {
	if maxRows <= 0 {
		maxRows = 50
	}
	return &SQLDB{db: db, maxRows: maxRows}
}

// TableInfo returns the CREATE statement of every user table.
func (s *SQLDB) TableInfo(ctx context.Context) (string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sql FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return "", fmt.Errorf("failed to read table info: %w", err)
	}
	defer rows.Close()

	var stmts []string
	for rows.Next() {
		var stmt sql.NullString
		if err := rows.Scan(&stmt); err != nil {
			return "", fmt.Errorf("failed to scan table info: %w", err)
		}
		if stmt.Valid {
			stmts = append(stmts, stmt.String+";")
		}
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("failed to read table info: %w", err)
	}
	return strings.Join(stmts, "\n\n"), nil
}

// Validate checks that query is a single read-only statement the database
// can plan, without running it.
func (s *SQLDB) Validate(ctx context.Context, query string) error {
	return s.queryOnly(ctx, func(conn *sql.Conn) error {
		return validate(ctx, conn, query)
	})
}

// queryOnly runs fn on a connection the database refuses to write through.
func (s *SQLDB) queryOnly(ctx context.Context, fn func(*sql.Conn) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
		return fmt.Errorf("failed to make connection read-only: %w", err)
	}
	defer func() { _, _ = conn.ExecContext(context.Background(), "PRAGMA query_only = OFF") }()
	return fn(conn)
}

func validate(ctx context.Context, conn *sql.Conn, query string) error {
	q := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(query), ";"))
	if q == "" {
		return errors.New("empty query")
	}
	if strings.Contains(q, ";") {
		return errors.New("multiple statements are not allowed")
	}
	head := strings.ToUpper(strings.Fields(q)[0])
	if head != "SELECT" && head != "WITH" {
		return fmt.Errorf("%w: got %s", ErrNotReadOnly, head)
	}

	rows, err := conn.QueryContext(ctx, "EXPLAIN "+q)
	if err != nil {
		return fmt.Errorf("invalid query: %w", err)
	}
	defer rows.Close()
	op, err := firstWrite(rows)
	if err != nil {
		return fmt.Errorf("invalid query: %w", err)
	}
	if op != "" {
		return fmt.Errorf("%w: the query plan writes (%s)", ErrNotReadOnly, op)
	}
	return nil
}

// firstWrite scans an EXPLAIN program for an opcode that changes the
// database. A Transaction opcode with a non-zero P2 opens a write
// transaction.
func firstWrite(rows *sql.Rows) (string, error) {
	cols, err := rows.Columns()
	if err != nil {
		return "", err
	}
	opcode, p2 := -1, -1
	for i, c := range cols {
		switch strings.ToLower(c) {
		case "opcode":
			opcode = i
		case "p2":
			p2 = i
		}
	}
	if opcode < 0 || p2 < 0 {
		return "", errors.New("unexpected EXPLAIN output")
	}

	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return "", err
		}
		op := cell(values[opcode])
		switch op {
		case "Transaction":
			if cell(values[p2]) != "0" {
				return op, nil
			}
		case "OpenWrite", "Clear", "Destroy", "CreateBtree", "ParseSchema", "DropTable", "DropIndex", "DropTrigger", "VUpdate":
			return op, nil
		}
	}
	return "", rows.Err()
}

func cell(v any) string {
	switch v := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

// Execute runs a validated query and renders the result as a pipe-separated
// table with a header row. The query runs on a query-only connection.
func (s *SQLDB) Execute(ctx context.Context, query string) (string, error) {
	var out string
	err := s.queryOnly(ctx, func(conn *sql.Conn) error {
		if err := validate(ctx, conn, query); err != nil {
			return err
		}
		var err error
		out, err = s.render(ctx, conn, query)
		return err
	})
	return out, err
}

func (s *SQLDB) render(ctx context.Context, conn *sql.Conn, query string) (string, error) {
	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return "", fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(strings.Join(cols, " | "))

	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	n := 0
	for rows.Next() {
		if n == s.maxRows {
			sb.WriteString("\n...")
			break
		}
		if err := rows.Scan(ptrs...); err != nil {
			return "", fmt.Errorf("failed to scan row: %w", err)
		}
		cells := make([]string, len(values))
		for i, v := range values {
			cells[i] = cell(v)
		}
		sb.WriteString("\n")
		sb.WriteString(strings.Join(cells, " | "))
		n++
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("failed to read rows: %w", err)
	}
	return sb.String(), nil
}
