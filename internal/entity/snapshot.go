package entity

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Snapshot returns every row of the table as uuid-keyed maps, for the
// first-sync bootstrap download. Only whitelisted columns plus uuid are
// included.
func (d *Definition) Snapshot(db *sql.DB) ([]map[string]any, error) {
	cols := append([]string{"uuid"}, d.Columns...)
	q := fmt.Sprintf(`SELECT %s FROM %s ORDER BY id`, strings.Join(cols, ", "), d.Table)

	rows, err := db.Query(q)
	if err != nil {
		return nil, fmt.Errorf("%s: snapshot: %w", d.Table, err)
	}
	defer rows.Close()

	records := []map[string]any{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("%s: snapshot scan: %w", d.Table, err)
		}
		rec := make(map[string]any, len(cols))
		for i, c := range cols {
			rec[c] = normalize(vals[i])
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: snapshot iterate: %w", d.Table, err)
	}
	return records, nil
}

// normalize converts driver values into JSON-friendly ones.
func normalize(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	default:
		return v
	}
}
