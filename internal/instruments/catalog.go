// Package instruments maintains the local catalog of tradable instruments
// and answers the lookup queries used to build orders: exact-match find,
// expiry enumeration, and nearest-strike selection.
package instruments

import (
	"errors"
	"strconv"
	"strings"
)

// ErrNoMatch is returned when zero catalog rows satisfy a query.
var ErrNoMatch = errors.New("no matching instrument")

// ErrMissingField is returned when a query omits a required field.
var ErrMissingField = errors.New("required query field missing")

// Instrument is one row of the catalog. The named fields cover the
// columns the queries care about; Fields keeps every column's raw text
// so schema drift in the dataset does not lose data.
type Instrument struct {
	TradingSymbol  string
	Exchange       string
	Name           string
	InstrumentType string
	Expiry         string
	Segment        string

	Strike    float64
	HasStrike bool
	// LotSize is parsed for convenience, but Find comparisons on the
	// lot_size column stay textual; only strike-like columns compare
	// numerically.
	LotSize    float64
	HasLotSize bool

	// Fields maps column name to raw trimmed text for every column
	// present on this row. Columns past the row's end are absent.
	Fields map[string]string
}

// Catalog is an immutable, ordered snapshot of the instrument dataset.
// Row order is file order and is the tie-break order for every query.
type Catalog struct {
	rows []Instrument
}

// Parse builds a catalog from the raw dataset bytes. The first line is
// the column header; all double quotes are stripped before splitting, so
// values never contain literal commas or quotes. Rows shorter than the
// header leave trailing fields absent, and blank trailing lines become
// degenerate records rather than errors.
func Parse(data []byte) (*Catalog, error) {
	text := strings.ReplaceAll(string(data), `"`, "")
	lines := strings.Split(text, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return nil, errors.New("instrument dataset has no header row")
	}

	headers := strings.Split(strings.TrimSpace(lines[0]), ",")
	for i := range headers {
		headers[i] = strings.TrimSpace(headers[i])
	}

	rows := make([]Instrument, 0, len(lines)-1)
	for _, line := range lines[1:] {
		rows = append(rows, parseRow(headers, strings.Split(strings.TrimSpace(line), ",")))
	}
	return &Catalog{rows: rows}, nil
}

func parseRow(headers, parts []string) Instrument {
	inst := Instrument{Fields: make(map[string]string, len(headers))}
	for i, key := range headers {
		if i >= len(parts) {
			break
		}
		value := strings.TrimSpace(parts[i])
		inst.Fields[key] = value

		switch key {
		case "tradingsymbol":
			inst.TradingSymbol = value
		case "exchange":
			inst.Exchange = value
		case "name":
			inst.Name = value
		case "instrument_type":
			inst.InstrumentType = value
		case "expiry":
			inst.Expiry = value
		case "segment":
			inst.Segment = value
		case "lot_size":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				inst.LotSize = f
				inst.HasLotSize = true
			}
		}

		if isStrikeColumn(key) {
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				inst.Strike = f
				inst.HasStrike = true
			}
		}
	}
	return inst
}

// isStrikeColumn reports whether a column holds a strike-like quantity;
// these are the only columns that compare numerically.
func isStrikeColumn(key string) bool {
	return strings.Contains(key, "strike")
}

// Len returns the number of rows in the catalog.
func (c *Catalog) Len() int {
	return len(c.rows)
}

// Rows returns the catalog rows in file order. The slice is shared; the
// catalog is a read-only snapshot and must not be mutated.
func (c *Catalog) Rows() []Instrument {
	return c.rows
}

// FindResult distinguishes the single-match shape from the multi-match
// shape: exactly one row sets One, two or more set Many (catalog order).
type FindResult struct {
	One  *Instrument
	Many []Instrument
}

// Find returns the rows matching every non-empty criterion exactly.
// Empty criterion values are wildcards. Strike-like criteria compare as
// numbers; everything else compares as trimmed text. Zero matches yield
// ErrNoMatch.
func (c *Catalog) Find(criteria map[string]string) (*FindResult, error) {
	var matches []Instrument
	for _, inst := range c.rows {
		if matchesCriteria(inst, criteria) {
			matches = append(matches, inst)
		}
	}

	switch len(matches) {
	case 0:
		return nil, ErrNoMatch
	case 1:
		return &FindResult{One: &matches[0]}, nil
	default:
		return &FindResult{Many: matches}, nil
	}
}

func matchesCriteria(inst Instrument, criteria map[string]string) bool {
	for key, want := range criteria {
		if want == "" {
			continue
		}
		got, ok := inst.Fields[key]
		if !ok {
			return false
		}
		if isStrikeColumn(key) {
			wantF, errW := strconv.ParseFloat(want, 64)
			gotF, errG := strconv.ParseFloat(got, 64)
			if errW == nil && errG == nil {
				if wantF != gotF {
					return false
				}
				continue
			}
		}
		if got != want {
			return false
		}
	}
	return true
}
