package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-incidents/internal/models"
)

// PlaybookResolver maps root-cause names onto remediation rows.
type PlaybookResolver struct {
	rows []models.Playbook
}

type playbookFile struct {
	Playbooks []models.Playbook `yaml:"playbooks"`
}

// NewPlaybookResolver builds a resolver over rows in table order.
func NewPlaybookResolver(rows []models.Playbook) *PlaybookResolver {
	return &PlaybookResolver{rows: append([]models.Playbook(nil), rows...)}
}

// LoadPlaybooks reads the remediation table from path. An empty path or a
// missing file yields an empty table.
func LoadPlaybooks(path string) (*PlaybookResolver, error) {
	if path == "" {
		return NewPlaybookResolver(nil), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NewPlaybookResolver(nil), nil
		}
		return nil, fmt.Errorf("read playbooks: %w", err)
	}
	var file playbookFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse playbooks %s: %w", path, err)
	}
	for i, row := range file.Playbooks {
		if row.RootCause == "" {
			return nil, fmt.Errorf("parse playbooks %s: entry %d has no root_cause", path, i)
		}
	}
	return NewPlaybookResolver(file.Playbooks), nil
}

// Lookup returns the first row for name.
func (r *PlaybookResolver) Lookup(name string) (models.Playbook, bool) {
	if r == nil {
		return models.Playbook{}, false
	}
	for _, row := range r.rows {
		if row.RootCause == name {
			return row, true
		}
	}
	return models.Playbook{}, false
}

// Resolve returns the playbooks for causes, in cause order. Each root-cause
// name contributes at most one playbook; unknown names contribute none.
func (r *PlaybookResolver) Resolve(causes []models.RootCause) []models.Playbook {
	var out []models.Playbook
	seen := make(map[string]struct{}, len(causes))
	for _, cause := range causes {
		if _, dup := seen[cause.Name]; dup {
			continue
		}
		seen[cause.Name] = struct{}{}
		if row, ok := r.Lookup(cause.Name); ok {
			out = append(out, row)
		}
	}
	return out
}

// Len reports the number of rows in the table.
func (r *PlaybookResolver) Len() int {
	if r == nil {
		return 0
	}
	return len(r.rows)
}

// Rows returns a copy of the table.
func (r *PlaybookResolver) Rows() []models.Playbook {
	if r == nil {
		return nil
	}
	return append([]models.Playbook(nil), r.rows...)
}
