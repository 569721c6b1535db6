// Package sqlengine answers read-only SQL queries over tabular variables
// loaded into a throwaway in-memory SQLite database.
package sqlengine

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultMaxRows caps the rows returned by one query.
const DefaultMaxRows = 1000

var (
	// ErrNotReadOnly is returned for statements other than SELECT or WITH.
	ErrNotReadOnly = errors.New("only SELECT queries are allowed")
	// ErrMultipleStatements is returned when a query holds more than one statement.
	ErrMultipleStatements = errors.New("multiple statements are not allowed")

	identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Table is tabular data with ordered columns.
type Table struct {
	Columns []string
	Rows    [][]any
}

// Records renders the table as a list of column-keyed objects.
func (t *Table) Records() []map[string]any {
	out := make([]map[string]any, 0, len(t.Rows))
	for _, row := range t.Rows {
		rec := make(map[string]any, len(t.Columns))
		for i, col := range t.Columns {
			rec[col] = row[i]
		}
		out = append(out, rec)
	}
	return out
}

// Result is the outcome of a query.
type Result struct {
	Table
	// Truncated is set when more rows matched than were returned.
	Truncated bool
}

// Engine runs queries. Each query gets a fresh database.
type Engine struct {
	maxRows int
}

// New creates an engine. A non-positive maxRows uses DefaultMaxRows.
func New(maxRows int) *Engine {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	return &Engine{maxRows: maxRows}
}

// Query loads every table and runs query against them.
func (e *Engine) Query(ctx context.Context, query string, tables map[string]*Table) (*Result, error) {
	stmt, err := checkQuery(query)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open engine: %w", err)
	}
	defer db.Close()
	// Each connection of :memory: is its own database.
	db.SetMaxOpenConns(1)

	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := loadTable(ctx, db, name, tables[name]); err != nil {
			return nil, err
		}
	}

	if _, err := db.ExecContext(ctx, `PRAGMA query_only = ON`); err != nil {
		return nil, fmt.Errorf("set query only: %w", err)
	}

	rows, err := db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("get columns: %w", err)
	}

	res := &Result{Table: Table{Columns: cols}}
	for rows.Next() {
		if len(res.Rows) >= e.maxRows {
			res.Truncated = true
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		res.Rows = append(res.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return res, nil
}

// checkQuery returns the single read-only statement in query.
func checkQuery(query string) (string, error) {
	stmt := strings.TrimSpace(stripComments(query))
	stmt = strings.TrimSpace(strings.TrimRight(stmt, "; \t\n"))
	if stmt == "" {
		return "", errors.New("empty query")
	}
	if strings.Contains(stmt, ";") {
		return "", ErrMultipleStatements
	}

	first := strings.ToUpper(strings.Fields(stmt)[0])
	if first != "SELECT" && first != "WITH" {
		return "", fmt.Errorf("%w: got %s", ErrNotReadOnly, first)
	}
	return stmt, nil
}

func stripComments(query string) string {
	var b strings.Builder
	for _, line := range strings.Split(query, "\n") {
		if i := strings.Index(line, "--"); i >= 0 {
			line = line[:i]
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

func loadTable(ctx context.Context, db *sql.DB, name string, t *Table) error {
	if !identifier.MatchString(name) {
		return fmt.Errorf("invalid table name %q", name)
	}
	if t == nil || len(t.Columns) == 0 {
		return fmt.Errorf("table %s has no columns", name)
	}

	quoted := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		quoted[i] = quoteIdent(col)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE %s (%s)`, name, strings.Join(quoted, ", "))); err != nil {
		return fmt.Errorf("create table %s: %w", name, err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(t.Columns)), ", ")
	insert := fmt.Sprintf(`INSERT INTO %s VALUES (%s)`, name, placeholders)
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("table %s row %d has %d values, want %d", name, i, len(row), len(t.Columns))
		}
		if _, err := db.ExecContext(ctx, insert, row...); err != nil {
			return fmt.Errorf("insert into %s: %w", name, err)
		}
	}
	return nil
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// ParseTable decodes tabular JSON. It accepts a list of objects, whose keys
// become columns in first-seen order, or an object with "columns" and "rows".
func ParseTable(data []byte) (*Table, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode table: %w", err)
	}

	switch v := raw.(type) {
	case []any:
		return tableFromRecords(v)
	case map[string]any:
		return tableFromColumnsRows(v)
	default:
		return nil, errors.New("not tabular: want a list of objects or {columns, rows}")
	}
}

func tableFromRecords(records []any) (*Table, error) {
	t := &Table{}
	index := make(map[string]int)
	for i, r := range records {
		rec, ok := r.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("not tabular: record %d is not an object", i)
		}
		// Object key order is lost in decoding; sort new keys per record.
		keys := make([]string, 0, len(rec))
		for k := range rec {
			if _, seen := index[k]; !seen {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			index[k] = len(t.Columns)
			t.Columns = append(t.Columns, k)
		}
	}
	for _, r := range records {
		rec := r.(map[string]any)
		row := make([]any, len(t.Columns))
		for k, v := range rec {
			row[index[k]] = sqlValue(v)
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func tableFromColumnsRows(obj map[string]any) (*Table, error) {
	cols, ok := obj["columns"].([]any)
	if !ok {
		return nil, errors.New("not tabular: missing columns")
	}
	t := &Table{}
	for _, c := range cols {
		name, ok := c.(string)
		if !ok {
			return nil, errors.New("not tabular: column names must be strings")
		}
		t.Columns = append(t.Columns, name)
	}

	rows, _ := obj["rows"].([]any)
	for i, r := range rows {
		vals, ok := r.([]any)
		if !ok || len(vals) != len(t.Columns) {
			return nil, fmt.Errorf("not tabular: row %d does not match columns", i)
		}
		row := make([]any, len(vals))
		for j, v := range vals {
			row[j] = sqlValue(v)
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// sqlValue converts a decoded JSON value to a driver value.
func sqlValue(v any) any {
	switch x := v.(type) {
	case nil, string:
		return x
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	default:
		data, _ := json.Marshal(x)
		return string(data)
	}
}
