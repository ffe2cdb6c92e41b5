package normalizer

import "errors"

// ErrEmptyOrMissingInput is returned when the input file is absent or has no data rows
var ErrEmptyOrMissingInput = errors.New("empty or missing input")

// Dataset kinds
const (
	KindSecurityMaster = "security-master"
	KindIPOCalendar    = "ipo-calendar"
)

// Record is one normalized row. Values are string, int64, float64, bool or nil.
type Record map[string]any

// RecordSet is the normalized content of one tabular file
type RecordSet struct {
	Columns []string `json:"columns"`
	Records []Record `json:"records"`
}

// Len returns the number of records
func (rs *RecordSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.Records)
}

// Maps returns the records as plain maps for encoders that do not know Record
func (rs *RecordSet) Maps() []map[string]any {
	if rs == nil {
		return nil
	}
	out := make([]map[string]any, len(rs.Records))
	for i, r := range rs.Records {
		out[i] = r
	}
	return out
}

// nullValues is the set of cells read as missing, matching the pandas default NA list
var nullValues = map[string]bool{
	"":         true,
	"#N/A":     true,
	"#N/A N/A": true,
	"#NA":      true,
	"-1.#IND":  true,
	"-1.#QNAN": true,
	"-NaN":     true,
	"-nan":     true,
	"1.#IND":   true,
	"1.#QNAN":  true,
	"<NA>":     true,
	"N/A":      true,
	"NA":       true,
	"NULL":     true,
	"NaN":      true,
	"None":     true,
	"n/a":      true,
	"nan":      true,
	"null":     true,
}

// IsNull reports whether a raw cell is a null-equivalent
func IsNull(cell string) bool {
	return nullValues[cell]
}
