package store

import (
	"context"
	"database/sql"
)

// QueryRows executes an arbitrary read query and returns the column names
// plus up to maxRows rows of generic values. The caller (the agent's SQL
// tool) is responsible for rejecting mutating statements before this runs.
// maxRows <= 0 means unlimited.
func (s *Store) QueryRows(ctx context.Context, query string, maxRows int) ([]string, [][]any, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, opErr("query rows", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, opErr("query rows columns", err)
	}

	var out [][]any
	for rows.Next() {
		if maxRows > 0 && len(out) >= maxRows {
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, opErr("query rows scan", err)
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, opErr("query rows iterate", err)
	}
	return cols, out, nil
}

// ListTables returns the names of all user tables, alphabetically.
func (s *Store) ListTables(ctx context.Context) ([]string, error) {
	const q = `
SELECT name FROM sqlite_master
WHERE  type = 'table' AND name NOT LIKE 'sqlite_%'
ORDER  BY name`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, opErr("list tables", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, opErr("list tables scan", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, opErr("list tables rows", err)
	}
	return names, nil
}

// TableSchema returns the CREATE TABLE statement for the named table, or
// sql.ErrNoRows (wrapped) if the table does not exist.
func (s *Store) TableSchema(ctx context.Context, table string) (string, error) {
	const q = `SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?`
	var ddl sql.NullString
	if err := s.db.QueryRowContext(ctx, q, table).Scan(&ddl); err != nil {
		return "", opErr("table schema", err)
	}
	return ddl.String, nil
}
