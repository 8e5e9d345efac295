package ingest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-incidents/internal/models"
	"github.com/miradorstack/mirador-incidents/internal/utils"
)

func TestReadCSV(t *testing.T) {
	input := "\ufefftimestamp, status,amount,country\n" +
		"2025-03-01T10:00:00Z,success,12.5,IN\n" +
		"2025-03-01T10:01:00Z,failed,3\n"

	table, err := ReadCSV(strings.NewReader(input), "transactions.csv")
	require.NoError(t, err)
	assert.Equal(t, "transactions.csv", table.Source)
	assert.Equal(t, []string{"timestamp", "status", "amount", "country"}, table.Columns)
	require.Equal(t, 2, table.Len())

	assert.Equal(t, "12.5", table.Rows[0]["amount"])
	_, ok := table.Rows[1].Get("country")
	assert.False(t, ok, "short rows leave trailing columns unset")
}

func TestReadCSVEmpty(t *testing.T) {
	table, err := ReadCSV(strings.NewReader(""), "empty.csv")
	require.NoError(t, err)
	assert.Equal(t, 0, table.Len())
	assert.False(t, table.HasColumn("timestamp"))
}

func TestReadCSVMalformed(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("timestamp,status\n\"2025-03-01,ok\n"), "bad.csv")
	require.Error(t, err)
	assert.True(t, utils.IsKind(err, utils.KindInput))
}

func TestReadCSVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.csv")
	require.NoError(t, os.WriteFile(path, []byte("timestamp,latency_ms\n2025-03-01T10:00:00Z,120\n"), 0o644))

	table, err := ReadCSVFile(path)
	require.NoError(t, err)
	assert.Equal(t, "metrics.csv", table.Source)
	assert.True(t, table.HasColumn("latency_ms"))

	_, err = ReadCSVFile(filepath.Join(t.TempDir(), "absent.csv"))
	assert.Error(t, err)
}

func TestFromRecords(t *testing.T) {
	var records []map[string]any
	require.NoError(t, json.Unmarshal([]byte(`[
		{"timestamp": "2025-03-01T10:00:00Z", "amount": 10.25, "status": "success", "retried": false, "note": null},
		{"timestamp": 1740823200, "latency_ms": 120}
	]`), &records))

	table, err := FromRecords("api", records)
	require.NoError(t, err)
	require.Equal(t, 2, table.Len())
	assert.Equal(t, "10.25", table.Rows[0]["amount"])
	assert.Equal(t, "false", table.Rows[0]["retried"])
	assert.NotContains(t, table.Rows[0], "note")
	assert.Equal(t, "1740823200", table.Rows[1]["timestamp"])
	assert.True(t, table.HasColumn("latency_ms"))
}

func TestFromRecordsRejectsNestedValues(t *testing.T) {
	_, err := FromRecords("api", []map[string]any{{"timestamp": "x", "meta": map[string]any{"a": 1}}})
	require.Error(t, err)
	assert.True(t, utils.IsKind(err, utils.KindInput))
}

func TestMerge(t *testing.T) {
	tx := models.NewEventTable("tx", nil, []models.Event{{"timestamp": "a", "status": "success"}})
	sys := models.NewEventTable("sys", nil, []models.Event{{"timestamp": "b", "latency_ms": "5"}})

	merged := Merge("batch", tx, nil, sys)
	assert.Equal(t, "batch", merged.Source)
	assert.Equal(t, []string{"latency_ms", "status", "timestamp"}, merged.Columns)
	require.Equal(t, 2, merged.Len())
	assert.Equal(t, "a", merged.Rows[0]["timestamp"])
	assert.Equal(t, "b", merged.Rows[1]["timestamp"])
}
