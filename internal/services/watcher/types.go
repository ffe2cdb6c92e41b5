package watcher

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrArrivalTimeout is returned when no qualifying file appears before the deadline
var ErrArrivalTimeout = errors.New("file arrival timeout")

// InProgressSuffixes are the markers browsers append to partial downloads
var InProgressSuffixes = []string{".crdownload", ".part", ".tmp"}

// Criteria describes the file a download is expected to produce
type Criteria struct {
	Extension string // required, e.g. ".csv"
	Pattern   string // optional case-insensitive name substring, also tried as exact name
	MinSize   int64  // minimum size in bytes

	// Ignore lists file names that never qualify, such as files already
	// present before the download was triggered
	Ignore []string
}

func (c Criteria) String() string {
	if c.Pattern != "" {
		return fmt.Sprintf("%s file matching %q (>= %d bytes)", c.Extension, c.Pattern, c.MinSize)
	}
	return fmt.Sprintf("%s file (>= %d bytes)", c.Extension, c.MinSize)
}

// ArrivalTimeoutError carries what was present in the directory when the deadline passed
type ArrivalTimeoutError struct {
	Criteria Criteria
	Timeout  time.Duration
	Dir      string
	Present  []string
}

func (e *ArrivalTimeoutError) Error() string {
	present := "none"
	if len(e.Present) > 0 {
		present = strings.Join(e.Present, ", ")
	}
	return fmt.Sprintf("no valid %s found in %v (files in %s: %s)", e.Criteria, e.Timeout, e.Dir, present)
}

func (e *ArrivalTimeoutError) Unwrap() error { return ErrArrivalTimeout }
