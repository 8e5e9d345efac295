// Package ingest decodes flat event tables from CSV files or decoded JSON
// records. It performs no parsing of the values themselves.
package ingest

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/miradorstack/mirador-incidents/internal/models"
	"github.com/miradorstack/mirador-incidents/internal/utils"
)

// ReadCSV decodes a CSV stream whose first row is the header. Short rows leave
// their trailing columns unset and an empty stream yields an empty table.
func ReadCSV(r io.Reader, source string) (*models.EventTable, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return models.NewEventTable(source, []string{}, nil), nil
		}
		return nil, utils.NewAppError("ingest.csv", utils.KindInput, source, err)
	}
	columns := make([]string, 0, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		columns = append(columns, name)
	}

	var rows []models.Event
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, utils.NewAppError("ingest.csv", utils.KindInput, source, err)
		}
		row := make(models.Event, len(columns))
		for i, value := range record {
			if i >= len(columns) || columns[i] == "" {
				continue
			}
			row[columns[i]] = strings.TrimSpace(value)
		}
		rows = append(rows, row)
	}

	declared := make([]string, 0, len(columns))
	for _, col := range columns {
		if col != "" {
			declared = append(declared, col)
		}
	}
	return models.NewEventTable(source, declared, rows), nil
}

// ReadCSVFile opens path and decodes it with ReadCSV. The table source is the
// file's base name.
func ReadCSVFile(path string) (*models.EventTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open events %s: %w", path, err)
	}
	defer f.Close()
	return ReadCSV(f, filepath.Base(path))
}

// FromRecords converts decoded JSON objects into an event table. Scalar values
// are rendered as strings; nulls are skipped and nested values are rejected.
func FromRecords(source string, records []map[string]any) (*models.EventTable, error) {
	rows := make([]models.Event, 0, len(records))
	for i, record := range records {
		row := make(models.Event, len(record))
		for key, value := range record {
			text, ok, err := scalar(value)
			if err != nil {
				return nil, utils.NewAppError("ingest.records", utils.KindInput,
					fmt.Sprintf("record %d field %q", i, key), err)
			}
			if ok {
				row[key] = text
			}
		}
		rows = append(rows, row)
	}
	return models.NewEventTable(source, nil, rows), nil
}

func scalar(value any) (string, bool, error) {
	switch v := value.(type) {
	case nil:
		return "", false, nil
	case string:
		return v, true, nil
	case bool:
		return strconv.FormatBool(v), true, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true, nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), true, nil
	case int:
		return strconv.Itoa(v), true, nil
	case int64:
		return strconv.FormatInt(v, 10), true, nil
	case json.Number:
		return v.String(), true, nil
	case map[string]any, []any:
		return "", false, fmt.Errorf("nested value of type %T", value)
	default:
		return fmt.Sprint(v), true, nil
	}
}

// Merge concatenates tables into one, in argument order. The merged column
// list is the sorted union of the inputs' columns.
func Merge(source string, tables ...*models.EventTable) *models.EventTable {
	seen := make(map[string]struct{})
	var rows []models.Event
	for _, table := range tables {
		if table == nil {
			continue
		}
		for _, col := range table.Columns {
			seen[col] = struct{}{}
		}
		rows = append(rows, table.Rows...)
	}
	columns := make([]string, 0, len(seen))
	for col := range seen {
		columns = append(columns, col)
	}
	sort.Strings(columns)
	return models.NewEventTable(source, columns, rows)
}
