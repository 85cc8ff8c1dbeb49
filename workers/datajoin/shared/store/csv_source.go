package store

import (
	"fmt"

	"github.com/gaoyang-zhang/mindspore-federated/shared/middleware"
	"github.com/gaoyang-zhang/mindspore-federated/shared/utils"
)

// CSVSource reads records from one or more CSV files sharing the primary key column
type CSVSource struct {
	opts    Options
	handler *utils.CSVHandler

	keys    []string
	records map[string]Record
}

// NewCSVSource creates a CSV data source
func NewCSVSource(opts Options) (DataSource, error) {
	if opts.PrimaryKey == "" {
		return nil, fmt.Errorf("primary key is required")
	}
	if len(opts.Files) == 0 {
		return nil, fmt.Errorf("at least one input file is required")
	}
	if len(opts.Schema) == 0 {
		return nil, fmt.Errorf("schema is required")
	}
	if columns := opts.Schema.Without(opts.PrimaryKey); len(columns) != len(opts.Schema) {
		middleware.LogDebug("CSV Source", "Primary key %s listed in schema, exporting it once", opts.PrimaryKey)
		opts.Schema = columns
	}
	return &CSVSource{
		opts:    opts,
		handler: utils.NewCSVHandler(opts.BaseDir),
	}, nil
}

// Verify checks that every file carries the primary key and all schema columns
func (s *CSVSource) Verify() error {
	for _, file := range s.opts.Files {
		header, err := s.handler.ReadHeader(file)
		if err != nil {
			return err
		}
		if _, err := s.columnIndexes(header); err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
	}
	return nil
}

// columnIndexes maps the primary key followed by the schema columns to header positions
func (s *CSVSource) columnIndexes(header []string) ([]int, error) {
	positions := make(map[string]int, len(header))
	for i, name := range header {
		if _, dup := positions[name]; !dup {
			positions[name] = i
		}
	}

	wanted := append([]string{s.opts.PrimaryKey}, s.opts.Schema.Names()...)
	indexes := make([]int, len(wanted))
	for i, name := range wanted {
		pos, ok := positions[name]
		if !ok {
			return nil, fmt.Errorf("column %q not found in header", name)
		}
		indexes[i] = pos
	}
	return indexes, nil
}

// LoadRawData reads every file into memory. Rows with an empty key are skipped;
// for duplicated keys the first row wins.
func (s *CSVSource) LoadRawData() error {
	s.keys = nil
	s.records = make(map[string]Record)
	skipped, duplicates := 0, 0

	for _, file := range s.opts.Files {
		var indexes []int
		err := s.handler.ReadFileStreaming(file, func(header, row []string) error {
			if indexes == nil {
				var err error
				if indexes, err = s.columnIndexes(header); err != nil {
					return err
				}
			}

			record, err := s.parseRow(row, indexes)
			if err != nil {
				return err
			}
			if record.Key == "" {
				skipped++
				return nil
			}
			if _, exists := s.records[record.Key]; exists {
				duplicates++
				return nil
			}
			s.records[record.Key] = record
			s.keys = append(s.keys, record.Key)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}

	if skipped > 0 || duplicates > 0 {
		middleware.LogWarn("CSV Source", "Skipped %d rows without key and %d duplicated keys", skipped, duplicates)
	}
	middleware.LogInfo("CSV Source", "Loaded %d records from %d files", len(s.keys), len(s.opts.Files))
	return nil
}

func (s *CSVSource) parseRow(row []string, indexes []int) (Record, error) {
	for _, idx := range indexes {
		if idx >= len(row) {
			return Record{}, fmt.Errorf("row has %d fields, expected at least %d", len(row), idx+1)
		}
	}

	record := Record{Key: row[indexes[0]], Values: make([]interface{}, len(s.opts.Schema))}
	for i, column := range s.opts.Schema {
		value, err := ParseValue(column.Type, row[indexes[i+1]])
		if err != nil {
			return Record{}, fmt.Errorf("column %s: %w", column.Name, err)
		}
		record.Values[i] = value
	}
	return record, nil
}

// Keys returns the loaded keys in file order
func (s *CSVSource) Keys() []string {
	return s.keys
}

// Schema returns the exported columns
func (s *CSVSource) Schema() Schema {
	return s.opts.Schema
}

// PrimaryKey returns the join column name
func (s *CSVSource) PrimaryKey() string {
	return s.opts.PrimaryKey
}

// Values calls fn for the record of every key, in the given order
func (s *CSVSource) Values(keys []string, fn func(Record) error) error {
	if s.records == nil {
		return fmt.Errorf("data not loaded")
	}
	for _, key := range keys {
		record, ok := s.records[key]
		if !ok {
			return fmt.Errorf("key %q not found in local data", key)
		}
		if err := fn(record); err != nil {
			return err
		}
	}
	return nil
}
