package repository

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yang123apple/EHS-system-sub002/internal/application/port"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// JSON-in-TEXT columns keep the schema identical across sqlite and postgres
func encodeJSON(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode column: %w", err)
	}
	return string(data), nil
}

func decodeJSON(raw string, v interface{}) error {
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("failed to decode column: %w", err)
	}
	return nil
}

// whereClause accumulates AND-ed predicates and their arguments
type whereClause struct {
	preds []string
	args  []interface{}
}

func (w *whereClause) add(pred string, args ...interface{}) {
	w.preds = append(w.preds, pred)
	w.args = append(w.args, args...)
}

func (w *whereClause) String() string {
	if len(w.preds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.preds, " AND ")
}

// itemFilter translates an ItemFilter onto workflow_items columns
func itemFilter(w *whereClause, f port.ItemFilter) {
	if f.Kind != "" {
		w.add("kind = ?", f.Kind)
	}
	if f.Status != "" {
		w.add("status = ?", f.Status)
	}
	if f.StaleOnly {
		w.add("visibility_stale = ?", true)
	}
}

func pageArgs(p port.Page) (int, int) {
	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := p.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
