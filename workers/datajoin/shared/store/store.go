package store

import (
	"sort"

	"github.com/gaoyang-zhang/mindspore-federated/workers/datajoin/shared/joinconfig"
)

// Record is one row of the local table: the join key and its typed attribute values in schema order
type Record struct {
	Key    string
	Values []interface{}
}

// Row renders the record as text, key first
func (r Record) Row() []string {
	row := make([]string, 0, len(r.Values)+1)
	row = append(row, r.Key)
	for _, v := range r.Values {
		row = append(row, FormatValue(v))
	}
	return row
}

// DataSource gives access to the local party's records
type DataSource interface {
	// Verify checks the inputs against the schema before loading
	Verify() error
	LoadRawData() error
	Keys() []string
	Schema() Schema
	PrimaryKey() string
	// Values calls fn for every key in order; it can be called any number of times
	Values(keys []string, fn func(Record) error) error
}

// Options configures a data source
type Options struct {
	PrimaryKey string
	Schema     Schema
	// Files are the input tables; relative paths resolve against BaseDir
	Files   []string
	BaseDir string
}

// Factory builds a DataSource for one store type
type Factory func(opts Options) (DataSource, error)

var factories = map[string]Factory{
	joinconfig.StoreTypeCSV: NewCSVSource,
}

// New builds the data source registered for storeType
func New(storeType string, opts Options) (DataSource, error) {
	factory, ok := factories[storeType]
	if !ok {
		return nil, &joinconfig.ConfigValidationError{
			Field:  "store_type",
			Value:  storeType,
			Reason: "no data source registered",
			Err:    &joinconfig.UnsupportedTypeError{Kind: "store", Value: storeType},
		}
	}
	return factory(opts)
}

// StoreTypes lists the registered store types
func StoreTypes() []string {
	types := make([]string, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
