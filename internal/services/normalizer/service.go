package normalizer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"

	"github.com/Parsh06/Stock-Backend/internal/logger"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

var columnReplacer = strings.NewReplacer(" ", "_", "-", "_", "(", "", ")", "", ".", "")

// Normalize loads the CSV file at path and returns its normalized records
func Normalize(path, kind string) (*RecordSet, error) {
	data, err := readInput(path)
	if err != nil {
		return nil, err
	}
	logger.Info("Processing CSV file", zap.String("file", path), zap.Int("size", len(data)), zap.String("kind", kind))

	rs, err := Parse(data, kind)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rs, nil
}

// Parse normalizes raw CSV bytes
func Parse(data []byte, kind string) (*RecordSet, error) {
	header, rows, err := readTable(data, 0)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no data rows: %w", ErrEmptyOrMissingInput)
	}
	logger.Debug("CSV loaded", zap.Int("rows", len(rows)), zap.Strings("columns", header))

	columns := normalizeHeader(header)
	types := inferTypes(header, rows)

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec := make(Record, len(columns))
		allNull := true
		for i := range header {
			// a later duplicate column overwrites an earlier one
			name := NormalizeColumn(header[i])
			var val any
			if i < len(row) && !IsNull(row[i]) {
				val = Sanitize(convert(row[i], types[i]))
			}
			if val != nil {
				allNull = false
			}
			rec[name] = val
		}
		if allNull {
			continue
		}
		records = append(records, rec)
	}

	rs := &RecordSet{Columns: columns, Records: records}
	if kind == KindSecurityMaster {
		FilterActive(rs)
	}
	return rs, nil
}

func readInput(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("file not found %s: %w", path, ErrEmptyOrMissingInput)
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("file is empty %s: %w", path, ErrEmptyOrMissingInput)
	}
	return data, nil
}

// decode returns data as UTF-8, falling back to ISO-8859-1 and stripping a BOM
func decode(data []byte) []byte {
	if !utf8.Valid(data) {
		logger.Warn("UTF-8 decoding failed, trying latin-1")
		if converted, err := charmap.ISO8859_1.NewDecoder().Bytes(data); err == nil {
			data = converted
		}
	}
	return bytes.TrimPrefix(data, utf8BOM)
}

// readTable parses the header row and data rows. maxFields > 0 truncates every
// row to that many fields.
func readTable(data []byte, maxFields int) ([]string, [][]string, error) {
	r := csv.NewReader(bytes.NewReader(decode(data)))
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil, fmt.Errorf("no header row: %w", ErrEmptyOrMissingInput)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	if maxFields > 0 && len(header) > maxFields {
		header = header[:maxFields]
	}

	var rows [][]string
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read CSV row: %w", err)
		}
		if maxFields > 0 && len(row) > maxFields {
			row = row[:maxFields]
		}
		rows = append(rows, row)
	}
	return header, rows, nil
}

// NormalizeColumn trims a header, maps spaces and hyphens to underscores and
// drops parentheses and dots
func NormalizeColumn(name string) string {
	return columnReplacer.Replace(strings.TrimSpace(name))
}

// normalizeHeader returns the distinct normalized columns in first-seen order
func normalizeHeader(header []string) []string {
	seen := make(map[string]bool, len(header))
	columns := make([]string, 0, len(header))
	for _, h := range header {
		name := NormalizeColumn(h)
		if seen[name] {
			logger.Warn("Duplicate column after normalization, last one wins", zap.String("column", name))
			continue
		}
		seen[name] = true
		columns = append(columns, name)
	}
	return columns
}

type cellType int

const (
	typeString cellType = iota
	typeInt
	typeFloat
	typeBool
)

func inferTypes(header []string, rows [][]string) []cellType {
	types := make([]cellType, len(header))
	for i := range header {
		types[i] = inferColumn(i, rows)
	}
	return types
}

func inferColumn(col int, rows [][]string) cellType {
	isInt, isFloat, isBool := true, true, true
	seen := false
	for _, row := range rows {
		if col >= len(row) || IsNull(row[col]) {
			continue
		}
		seen = true
		v := strings.TrimSpace(row[col])
		if isInt {
			if _, err := strconv.ParseInt(v, 10, 64); err != nil {
				isInt = false
			}
		}
		if isFloat && !isNumeric(v) {
			isFloat = false
		}
		if isBool {
			if _, ok := parseBool(v); !ok {
				isBool = false
			}
		}
		if !isInt && !isFloat && !isBool {
			return typeString
		}
	}
	switch {
	case !seen:
		return typeString
	case isInt:
		return typeInt
	case isFloat:
		return typeFloat
	case isBool:
		return typeBool
	}
	return typeString
}

func isNumeric(v string) bool {
	if strings.HasPrefix(v, "0x") || strings.HasPrefix(v, "0X") || strings.Contains(v, "_") {
		return false
	}
	_, err := strconv.ParseFloat(v, 64)
	if err != nil {
		var numErr *strconv.NumError
		// out-of-range values still parse to ±Inf
		return errors.As(err, &numErr) && numErr.Err == strconv.ErrRange
	}
	return true
}

func parseBool(v string) (bool, bool) {
	switch v {
	case "True", "TRUE", "true":
		return true, true
	case "False", "FALSE", "false":
		return false, true
	}
	return false, false
}

func convert(cell string, t cellType) any {
	v := strings.TrimSpace(cell)
	switch t {
	case typeInt:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	case typeFloat:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	case typeBool:
		b, _ := parseBool(v)
		return b
	}
	return cell
}

// FilterActive keeps only records whose Status is ACTIVE, ignoring case and
// surrounding whitespace. Without a Status column nothing is filtered.
func FilterActive(rs *RecordSet) {
	hasStatus := false
	for _, c := range rs.Columns {
		if c == "Status" {
			hasStatus = true
			break
		}
	}
	if !hasStatus {
		logger.Warn("Status column not found, skipping active filter")
		return
	}

	before := len(rs.Records)
	kept := rs.Records[:0]
	for _, r := range rs.Records {
		status, ok := r["Status"]
		if !ok || status == nil {
			continue
		}
		if strings.ToUpper(strings.TrimSpace(fmt.Sprint(status))) == "ACTIVE" {
			kept = append(kept, r)
		}
	}
	rs.Records = kept
	logger.Info("Filtered active securities", zap.Int("total", before), zap.Int("active", len(kept)))
}

// Sanitize replaces NaN and ±Inf with nil anywhere inside v. Maps and slices
// are updated in place; the returned value is v itself or nil for a bare
// non-finite number.
func Sanitize(v any) any {
	switch val := v.(type) {
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil
		}
	case float32:
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
	case map[string]any:
		for k, item := range val {
			val[k] = Sanitize(item)
		}
	case Record:
		for k, item := range val {
			val[k] = Sanitize(item)
		}
	case []any:
		for i, item := range val {
			val[i] = Sanitize(item)
		}
	case []map[string]any:
		for _, m := range val {
			Sanitize(m)
		}
	case []Record:
		for _, m := range val {
			Sanitize(m)
		}
	}
	return v
}
