package mapping

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/queryx/internal/ident"
	"github.com/leapstack-labs/queryx/internal/sheet"
)

// Override is a user edit for one sheet. An empty Table keeps the proposed
// name; Columns maps column positions to replacement names.
type Override struct {
	Key     sheet.Key      `json:"key" yaml:"key"`
	Table   string         `json:"table,omitempty" yaml:"table,omitempty"`
	Columns map[int]string `json:"columns,omitempty" yaml:"columns,omitempty"`
}

// ApplyOverrides returns a copy of tables with the edits applied. Edited
// names go through ident.Sanitize. Overrides that name a sheet or column
// position absent from the mapping are rejected. The result is not
// validated; call Validate (or Store.Accept) afterwards.
func ApplyOverrides(tables []Table, overrides []Override) ([]Table, error) {
	out := make([]Table, len(tables))
	index := make(map[sheet.Key]int, len(tables))
	for i, t := range tables {
		out[i] = t.clone()
		index[t.Key] = i
	}

	for _, o := range overrides {
		i, ok := index[o.Key]
		if !ok {
			return nil, &ValidationError{Err: ErrUnknownSheet, Sheet: o.Key.String()}
		}
		t := &out[i]

		if o.Table != "" {
			t.Name = ident.Sanitize(o.Table)
		}
		for pos, name := range o.Columns {
			if pos < 0 || pos >= len(t.Columns) {
				return nil, &ValidationError{
					Err: ErrUnknownColumn, Sheet: o.Key.String(), Table: t.Name, Identifier: fmt.Sprint(pos),
				}
			}
			t.Columns[pos].Name = ident.Sanitize(name)
		}
	}
	return out, nil
}

// overrideFile is the on-disk layout of a mapping overrides document.
type overrideFile struct {
	Overrides []Override `yaml:"overrides"`
}

// LoadOverrides reads overrides from a YAML file.
func LoadOverrides(path string) ([]Override, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path supplied by the user
	if err != nil {
		return nil, fmt.Errorf("failed to read overrides: %w", err)
	}

	var doc overrideFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse overrides %s: %w", path, err)
	}
	return doc.Overrides, nil
}

// SaveOverrides writes a full mapping as an overrides document, so a
// proposal can be dumped, edited by hand and fed back with LoadOverrides.
func SaveOverrides(path string, tables []Table) error {
	doc := overrideFile{Overrides: make([]Override, len(tables))}
	for i, t := range tables {
		o := Override{Key: t.Key, Table: t.Name, Columns: make(map[int]string, len(t.Columns))}
		for pos, c := range t.Columns {
			o.Columns[pos] = c.Name
		}
		doc.Overrides[i] = o
	}

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("failed to encode overrides: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write overrides: %w", err)
	}
	return nil
}
