package normalizer

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Parsh06/Stock-Backend/internal/logger"
)

// SecurityNameColumn is the single column of a security names record set
const SecurityNameColumn = "Security Name"

// equityColumns bounds how many leading columns of an Equity export are read;
// the export carries a trailing comma on every row
const equityColumns = 9

var invalidSecurityNames = map[string]bool{
	"Equity":            true,
	"Preference Shares": true,
	"-":                 true,
	"":                  true,
	"NA":                true,
	"N/A":               true,
	"null":              true,
	"None":              true,
}

// SecurityNames extracts the distinct security names from a BSE Equity export
func SecurityNames(path string) (*RecordSet, error) {
	data, err := readInput(path)
	if err != nil {
		return nil, err
	}

	header, rows, err := readTable(data, equityColumns)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s has no data rows: %w", path, ErrEmptyOrMissingInput)
	}

	col, err := securityNameIndex(header)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		if col >= len(row) || IsNull(row[col]) {
			continue
		}
		name := strings.TrimSpace(row[col])
		if invalidSecurityNames[name] || seen[name] {
			continue
		}
		seen[name] = true
		records = append(records, Record{SecurityNameColumn: name})
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("no valid security names in %s: %w", path, ErrEmptyOrMissingInput)
	}
	logger.Info("Extracted security names", zap.Int("unique", len(records)), zap.Int("rows", len(rows)))

	return &RecordSet{Columns: []string{SecurityNameColumn}, Records: records}, nil
}

func securityNameIndex(header []string) (int, error) {
	for _, candidate := range []string{"Security Name", "Security_Name", "SecurityName"} {
		for i, h := range header {
			if strings.TrimSpace(h) == candidate {
				return i, nil
			}
		}
	}
	if len(header) >= 4 {
		logger.Warn("Security Name column not found by name, using 4th column", zap.String("column", header[3]))
		return 3, nil
	}
	return 0, fmt.Errorf("security name column not found (columns: %s): %w",
		strings.Join(header, ", "), ErrEmptyOrMissingInput)
}
