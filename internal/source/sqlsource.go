package source

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/polarfoxDev/ballast/internal/model"
)

// SQLSource dumps and restores application tables as JSON Lines. It is
// deliberately generic: columns are discovered per table, so schema churn in
// the application does not require changes here.
type SQLSource struct {
	db *sql.DB

	// Exclude names tables that must never be backed up or restored, e.g.
	// the control plane's own catalog tables.
	Exclude map[string]bool
}

func NewSQLSource(db *sql.DB, exclude ...string) *SQLSource {
	ex := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		ex[name] = true
	}
	return &SQLSource{db: db, Exclude: ex}
}

func (s *SQLSource) Units(ctx context.Context, types []model.ItemType) ([]Unit, error) {
	wantTables := false
	for _, t := range types {
		if t == model.ItemTable {
			wantTables = true
		}
	}
	if !wantTables {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var units []Unit
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		if s.Exclude[name] {
			continue
		}
		units = append(units, Unit{Type: model.ItemTable, Name: name})
	}
	return units, rows.Err()
}

func (s *SQLSource) Dump(ctx context.Context, u Unit) ([]byte, int, error) {
	if u.Type != model.ItemTable {
		return nil, 0, fmt.Errorf("sql source cannot dump %s unit %q", u.Type, u.Name)
	}
	if err := validTableName(u.Name); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT * FROM "`+u.Name+`"`)
	if err != nil {
		return nil, 0, fmt.Errorf("dump table %s: %w", u.Name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, 0, fmt.Errorf("columns of %s: %w", u.Name, err)
	}

	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	enc := json.NewEncoder(w)
	count := 0
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, 0, fmt.Errorf("scan row of %s: %w", u.Name, err)
		}
		record := make(map[string]any, len(cols))
		for i, col := range cols {
			record[col] = normalize(values[i])
		}
		if err := enc.Encode(record); err != nil {
			return nil, 0, fmt.Errorf("encode row of %s: %w", u.Name, err)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate %s: %w", u.Name, err)
	}
	if err := w.Flush(); err != nil {
		return nil, 0, err
	}
	return buf.Bytes(), count, nil
}

// Restore replaces the table's rows with the dumped records inside a single
// transaction, so a failed restore leaves the table untouched.
func (s *SQLSource) Restore(ctx context.Context, u Unit, content []byte) error {
	if u.Type != model.ItemTable {
		return fmt.Errorf("sql source cannot restore %s unit %q", u.Type, u.Name)
	}
	if err := validTableName(u.Name); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin restore of %s: %w", u.Name, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM "`+u.Name+`"`); err != nil {
		return fmt.Errorf("clear table %s: %w", u.Name, err)
	}

	sc := bufio.NewScanner(bytes.NewReader(content))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var record map[string]any
		if err := json.Unmarshal(raw, &record); err != nil {
			return fmt.Errorf("parse record for %s: %w", u.Name, err)
		}
		cols := make([]string, 0, len(record))
		for col := range record {
			cols = append(cols, col)
		}
		sort.Strings(cols)
		quoted := make([]string, len(cols))
		marks := make([]string, len(cols))
		args := make([]any, len(cols))
		for i, col := range cols {
			quoted[i] = `"` + col + `"`
			marks[i] = "?"
			args[i] = record[col]
		}
		stmt := fmt.Sprintf(`INSERT INTO "%s" (%s) VALUES (%s)`,
			u.Name, strings.Join(quoted, ", "), strings.Join(marks, ", "))
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return fmt.Errorf("insert record into %s: %w", u.Name, err)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("scan records for %s: %w", u.Name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit restore of %s: %w", u.Name, err)
	}
	return nil
}

// normalize converts driver values into JSON-friendly ones. Byte slices
// become strings so a round-trip keeps text columns readable.
func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func validTableName(name string) error {
	if name == "" {
		return fmt.Errorf("empty table name")
	}
	for _, r := range name {
		ok := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !ok {
			return fmt.Errorf("invalid table name %q", name)
		}
	}
	return nil
}
