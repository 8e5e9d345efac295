package models

import "sort"

// Event is a single row of a flat event table keyed by column name. Values are
// kept exactly as supplied; parsing happens in the component that needs them.
type Event map[string]string

// Get returns the raw value stored under column and whether it is non-empty.
func (e Event) Get(column string) (string, bool) {
	if column == "" {
		return "", false
	}
	v, ok := e[column]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// EventTable is a bounded, already-materialised batch of events.
type EventTable struct {
	Source  string
	Columns []string
	Rows    []Event
}

// NewEventTable builds a table and derives its column list from the rows when
// columns is empty.
func NewEventTable(source string, columns []string, rows []Event) *EventTable {
	if len(columns) == 0 {
		seen := make(map[string]struct{})
		for _, row := range rows {
			for col := range row {
				seen[col] = struct{}{}
			}
		}
		columns = make([]string, 0, len(seen))
		for col := range seen {
			columns = append(columns, col)
		}
		sort.Strings(columns)
	}
	return &EventTable{Source: source, Columns: columns, Rows: rows}
}

// HasColumn reports whether the table declares the named column.
func (t *EventTable) HasColumn(name string) bool {
	if t == nil || name == "" {
		return false
	}
	for _, col := range t.Columns {
		if col == name {
			return true
		}
	}
	return false
}

// Len returns the number of rows in the table.
func (t *EventTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}
