package identity

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

const (
	colProvider      = "provider"
	colOriginalID    = "original id"
	colOverrideID    = "override id"
	colOverrideTitle = "override title"
)

// Override replaces the name and title of an upstream organization.
type Override struct {
	Name  string
	Title string
}

// Overrides maps (harvest source, upstream org ref) to an Override.
type Overrides struct {
	entries map[string]map[string]Override
}

// NewOverrides returns an empty table.
func NewOverrides() *Overrides {
	return &Overrides{entries: map[string]map[string]Override{}}
}

// Set registers an override for provider/original.
func (o *Overrides) Set(provider, original string, ov Override) {
	if o.entries == nil {
		o.entries = map[string]map[string]Override{}
	}
	byRef, ok := o.entries[provider]
	if !ok {
		byRef = map[string]Override{}
		o.entries[provider] = byRef
	}
	byRef[original] = ov
}

// Lookup returns the override for provider/original if any.
func (o *Overrides) Lookup(provider, original string) (Override, bool) {
	if o == nil {
		return Override{}, false
	}
	ov, ok := o.entries[provider][original]
	return ov, ok
}

// Len reports the number of overrides.
func (o *Overrides) Len() int {
	if o == nil {
		return 0
	}
	n := 0
	for _, byRef := range o.entries {
		n += len(byRef)
	}
	return n
}

// LoadOverrides reads the mapping file at path. CSV and XLSX are supported;
// a missing file or empty path yields an empty table.
func LoadOverrides(path string, logger *slog.Logger) (*Overrides, error) {
	if path == "" {
		return NewOverrides(), nil
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if logger != nil {
				logger.Info("organization override file not found, using identity mapping", "path", path)
			}
			return NewOverrides(), nil
		}
		return nil, fmt.Errorf("open overrides: %w", err)
	}
	defer f.Close()

	var table *Overrides
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		table, err = ReadOverridesXLSX(f)
	default:
		table, err = ReadOverridesCSV(f)
	}
	if err != nil {
		return nil, fmt.Errorf("read overrides %s: %w", path, err)
	}

	if logger != nil {
		logger.Info("organization overrides loaded", "path", path, "entries", table.Len())
	}
	return table, nil
}

// ReadOverridesCSV parses a CSV table with a header row.
func ReadOverridesCSV(r io.Reader) (*Overrides, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	return fromRows(rows)
}

// ReadOverridesXLSX parses the first sheet of a workbook.
func ReadOverridesXLSX(r io.Reader) (*Overrides, error) {
	book, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer book.Close()

	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		return NewOverrides(), nil
	}
	rows, err := book.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	return fromRows(rows)
}

func fromRows(rows [][]string) (*Overrides, error) {
	table := NewOverrides()
	if len(rows) == 0 {
		return table, nil
	}

	index := map[string]int{}
	for i, name := range rows[0] {
		name = strings.TrimPrefix(name, "\ufeff")
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, col := range []string{colProvider, colOriginalID, colOverrideID} {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}

	cell := func(row []string, col string) string {
		i, ok := index[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	for _, row := range rows[1:] {
		provider := cell(row, colProvider)
		original := cell(row, colOriginalID)
		if provider == "" || original == "" {
			continue
		}
		table.Set(provider, original, Override{
			Name:  cell(row, colOverrideID),
			Title: cell(row, colOverrideTitle),
		})
	}
	return table, nil
}
