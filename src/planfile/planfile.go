// Package planfile reads flight-plan tables: the pandas "split" JSON the
// planning UI posts, CSV with a header row, and YAML lists of rows.
package planfile

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nhirsama/Goster-Mission/src/inter"
	"gopkg.in/yaml.v3"
)

// Format names an input encoding
type Format string

const (
	FormatSplitJSON Format = "json"
	FormatCSV       Format = "csv"
	FormatYAML      Format = "yaml"
)

// CellError reports a cell that is not a number, or not one the column allows
type CellError struct {
	Row    int
	Column string
	Value  interface{}
	// Reason is set when the value parsed but is out of the column's domain
	Reason string
}

func (e *CellError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("row %d column %q: %v %s", e.Row, e.Column, e.Value, e.Reason)
	}
	return fmt.Sprintf("row %d column %q: cannot use %v as a number", e.Row, e.Column, e.Value)
}

// columnAliases maps accepted header spellings onto canonical column names.
// Unknown columns, such as the UI's timestamp, are ignored.
var columnAliases = map[string]string{
	"latitude":         "latitude",
	"lat":              "latitude",
	"longitude":        "longitude",
	"lon":              "longitude",
	"lng":              "longitude",
	"altitude":         "altitude",
	"alt":              "altitude",
	"delay":            "delay",
	"drop":             "drop",
	"servo":            "servo",
	"servo_value":      "servo_value",
	"servo_value_octa": "servo_value",
	"drop_delay":       "drop_delay",
}

// FormatFromPath picks a format from the file extension
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatSplitJSON, nil
	case ".csv":
		return FormatCSV, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown flight plan format for %s", path)
}

// Load reads a flight plan file, choosing the decoder by extension
func Load(path string) ([]inter.FlightPlanRow, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f, format)
}

// Decode reads rows in the given format
func Decode(r io.Reader, format Format) ([]inter.FlightPlanRow, error) {
	switch format {
	case FormatSplitJSON:
		return DecodeSplitJSON(r)
	case FormatCSV:
		return DecodeCSV(r)
	case FormatYAML:
		return DecodeYAML(r)
	}
	return nil, fmt.Errorf("unknown flight plan format %q", format)
}

type splitTable struct {
	Columns []string        `json:"columns"`
	Index   []interface{}   `json:"index"`
	Data    [][]interface{} `json:"data"`
}

// DecodeSplitJSON reads a DataFrame serialised with orient='split'
func DecodeSplitJSON(r io.Reader) ([]inter.FlightPlanRow, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var tbl splitTable
	if err := dec.Decode(&tbl); err != nil {
		return nil, fmt.Errorf("decode split json: %w", err)
	}
	if len(tbl.Columns) == 0 && len(tbl.Data) > 0 {
		return nil, errors.New("decode split json: data without columns")
	}

	rows := make([]inter.FlightPlanRow, 0, len(tbl.Data))
	for i, values := range tbl.Data {
		if len(values) != len(tbl.Columns) {
			return nil, fmt.Errorf("row %d has %d values for %d columns", i, len(values), len(tbl.Columns))
		}
		cells := make(map[string]interface{}, len(values))
		for j, col := range tbl.Columns {
			cells[col] = values[j]
		}
		row, err := rowFromCells(i, cells)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ParseSplitJSON is DecodeSplitJSON over a string, the form the upload API
// receives
func ParseSplitJSON(data string) ([]inter.FlightPlanRow, error) {
	return DecodeSplitJSON(strings.NewReader(data))
}

// DecodeCSV reads a table whose first record is the header
func DecodeCSV(r io.Reader) ([]inter.FlightPlanRow, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("decode csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	header := records[0]
	rows := make([]inter.FlightPlanRow, 0, len(records)-1)
	for i, rec := range records[1:] {
		cells := make(map[string]interface{}, len(header))
		for j, col := range header {
			if j < len(rec) {
				cells[col] = rec[j]
			}
		}
		row, err := rowFromCells(i, cells)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// DecodeYAML reads a list of row maps
func DecodeYAML(r io.Reader) ([]inter.FlightPlanRow, error) {
	var list []map[string]interface{}
	if err := yaml.NewDecoder(r).Decode(&list); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode yaml: %w", err)
	}

	rows := make([]inter.FlightPlanRow, 0, len(list))
	for i, cells := range list {
		row, err := rowFromCells(i, cells)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func rowFromCells(index int, cells map[string]interface{}) (inter.FlightPlanRow, error) {
	var row inter.FlightPlanRow
	for name, raw := range cells {
		col, ok := columnAliases[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			continue
		}
		v, err := number(raw)
		if err != nil {
			return row, &CellError{Row: index, Column: name, Value: raw}
		}
		switch col {
		case "latitude":
			row.Latitude = v
		case "longitude":
			row.Longitude = v
		case "altitude":
			row.Altitude = v
		case "delay":
			row.Delay = v
		case "drop":
			// a flag: 0 or 1, absent means 0
			if v != nil && *v != 0 && *v != 1 {
				return row, &CellError{Row: index, Column: name, Value: raw, Reason: "is not 0 or 1"}
			}
			row.Drop = v != nil && *v == 1
		case "servo":
			row.Servo = v
		case "servo_value":
			row.ServoValue = v
		case "drop_delay":
			row.DropDelay = v
		}
	}
	return row, nil
}

// number converts one cell; nil means absent (null, NaN or empty)
func number(raw interface{}) (*float64, error) {
	var f float64
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case bool:
		if v {
			f = 1
		}
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return nil, err
		}
		f = parsed
	case float64:
		f = v
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case uint64:
		f = float64(v)
	case string:
		s := strings.TrimSpace(v)
		switch strings.ToLower(s) {
		case "", "nan", "null", "none":
			return nil, nil
		case "true":
			f = 1
		case "false":
			f = 0
		default:
			parsed, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, err
			}
			f = parsed
		}
	default:
		return nil, fmt.Errorf("unsupported cell type %T", raw)
	}
	if math.IsNaN(f) {
		return nil, nil
	}
	return &f, nil
}
