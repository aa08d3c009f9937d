package featurestore

import (
	"fmt"
	"strconv"
	"strings"
)

type FeatureType string

const (
	Integral   FeatureType = "Integral"
	Fractional FeatureType = "Fractional"
	String     FeatureType = "String"
)

// hiveTypes is how AsHiveDDL declares each feature type.
var hiveTypes = map[FeatureType]string{
	Integral:   "INT",
	Fractional: "FLOAT",
	String:     "STRING",
}

type FeatureDefinition struct {
	Name string
	Type FeatureType
}

// FeatureValue is one cell of a record as the service receives it.
type FeatureValue struct {
	Name  string
	Value string
}

// Table is a column-ordered set of rows. Cells hold an int64, a float64 or
// a string.
type Table struct {
	Columns []string
	Rows    [][]interface{}
}

func NewTable(columns ...string) *Table {
	return &Table{Columns: columns, Rows: make([][]interface{}, 0, 1024)}
}

func (table *Table) Len() int {
	return len(table.Rows)
}

// Append adds a row, checking its width and cell types.
func (table *Table) Append(values ...interface{}) error {
	if len(values) != len(table.Columns) {
		return fmt.Errorf("row has %d values, table has %d columns",
			len(values), len(table.Columns))
	}
	row := make([]interface{}, len(values))
	for idx, value := range values {
		switch v := value.(type) {
		case int:
			row[idx] = int64(v)
		case int64, float64, string:
			row[idx] = v
		case float32:
			row[idx] = float64(v)
		default:
			return fmt.Errorf("column %s: unsupported value type %T",
				table.Columns[idx], value)
		}
	}
	table.Rows = append(table.Rows, row)
	return nil
}

// Extend appends every row of other, which must have the same columns.
func (table *Table) Extend(other *Table) error {
	if strings.Join(table.Columns, "\t") != strings.Join(other.Columns, "\t") {
		return fmt.Errorf("cannot extend table of columns %v with %v",
			table.Columns, other.Columns)
	}
	table.Rows = append(table.Rows, other.Rows...)
	return nil
}

// Record renders row `idx` as the feature values PutRecord takes.
func (table *Table) Record(idx int) []FeatureValue {
	row := table.Rows[idx]
	record := make([]FeatureValue, len(row))
	for col, value := range row {
		record[col] = FeatureValue{
			Name:  table.Columns[col],
			Value: formatValue(value),
		}
	}
	return record
}

func formatValue(value interface{}) string {
	switch v := value.(type) {
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case string:
		return v
	}
	return fmt.Sprint(value)
}

// InferFeatureDefinitions types each column from its cells: all integers
// is Integral, any float among numbers is Fractional, anything else is a
// String. Columns without rows are Strings.
func InferFeatureDefinitions(table *Table) []FeatureDefinition {
	definitions := make([]FeatureDefinition, len(table.Columns))
	for col, name := range table.Columns {
		featureType := FeatureType("")
		for _, row := range table.Rows {
			var cellType FeatureType
			switch row[col].(type) {
			case int64:
				cellType = Integral
			case float64:
				cellType = Fractional
			default:
				cellType = String
			}
			switch {
			case featureType == "" || featureType == cellType:
				featureType = cellType
			case cellType == String || featureType == String:
				featureType = String
			default:
				featureType = Fractional
			}
			if featureType == String {
				break
			}
		}
		if featureType == "" {
			featureType = String
		}
		definitions[col] = FeatureDefinition{Name: name, Type: featureType}
	}
	return definitions
}

// FormatInt64List renders values the way a list column is stored in the
// summary table: `[1, 2, 3]`.
func FormatInt64List(values []int64) string {
	var sb strings.Builder
	sb.Grow(len(values)*4 + 2)
	sb.WriteByte('[')
	for idx, value := range values {
		if idx > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(strconv.FormatInt(value, 10))
	}
	sb.WriteByte(']')
	return sb.String()
}
