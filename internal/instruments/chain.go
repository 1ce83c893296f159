package instruments

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// defaultMaxStrikes caps the up/down windows when a query leaves
// MaxStrikes unset.
const defaultMaxStrikes = 5

// ChainQuery selects the option chain slice around a reference price.
type ChainQuery struct {
	Price          float64
	Name           string
	Expiry         string
	InstrumentType string
	MaxStrikes     int
}

// ChainResult is the resolved strike window. UpStrikes and DownStrikes
// are ordered nearest-to-price first, not monotonically by value, and
// never contain ATMStrike.
type ChainResult struct {
	ATMStrike   float64
	UpStrikes   []float64
	DownStrikes []float64
}

// ExpiryDates returns the distinct expiry dates for an underlying,
// sorted ascending by calendar date. The row's instrument type needs
// only to start with the query's type, so a shorter query type can
// match a more specific row type.
func (c *Catalog) ExpiryDates(exchange, name, instrumentType string) ([]string, error) {
	switch {
	case exchange == "":
		return nil, fmt.Errorf("%w: exchange", ErrMissingField)
	case name == "":
		return nil, fmt.Errorf("%w: name", ErrMissingField)
	case instrumentType == "":
		return nil, fmt.Errorf("%w: instrument_type", ErrMissingField)
	}

	seen := make(map[string]struct{})
	var dates []string
	for _, inst := range c.rows {
		if inst.Exchange != exchange || inst.Name != name {
			continue
		}
		if !strings.HasPrefix(inst.InstrumentType, instrumentType) {
			continue
		}
		if inst.Expiry == "" {
			continue
		}
		if _, ok := seen[inst.Expiry]; ok {
			continue
		}
		seen[inst.Expiry] = struct{}{}
		dates = append(dates, inst.Expiry)
	}

	sort.Slice(dates, func(i, j int) bool {
		return expiryTime(dates[i]).Before(expiryTime(dates[j]))
	})
	return dates, nil
}

// expiryTime parses a catalog expiry. Unparsable values sort to the
// zero time, i.e. before every real date.
func expiryTime(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// OptionStrikes resolves the ATM strike and the nearest in/out windows
// around the query price. Rows must match name, expiry and instrument
// type exactly; rows with equal distance to the price keep their catalog
// order, so the earlier row wins the ATM spot.
func (c *Catalog) OptionStrikes(q ChainQuery) (*ChainResult, error) {
	switch {
	case q.Price <= 0:
		return nil, fmt.Errorf("%w: price", ErrMissingField)
	case q.Name == "":
		return nil, fmt.Errorf("%w: name", ErrMissingField)
	case q.Expiry == "":
		return nil, fmt.Errorf("%w: expiry", ErrMissingField)
	case q.InstrumentType == "":
		return nil, fmt.Errorf("%w: instrument_type", ErrMissingField)
	}
	maxStrikes := q.MaxStrikes
	if maxStrikes <= 0 {
		maxStrikes = defaultMaxStrikes
	}

	type ranked struct {
		strike float64
		diff   float64
	}
	var strikes []ranked
	for _, inst := range c.rows {
		if inst.Name != q.Name || inst.Expiry != q.Expiry || inst.InstrumentType != q.InstrumentType {
			continue
		}
		if !inst.HasStrike {
			continue
		}
		strikes = append(strikes, ranked{strike: inst.Strike, diff: math.Abs(inst.Strike - q.Price)})
	}
	if len(strikes) == 0 {
		return nil, ErrNoMatch
	}

	sort.SliceStable(strikes, func(i, j int) bool {
		return strikes[i].diff < strikes[j].diff
	})

	res := &ChainResult{ATMStrike: strikes[0].strike}
	for _, r := range strikes {
		if r.strike < q.Price && r.strike < res.ATMStrike && len(res.DownStrikes) < maxStrikes {
			res.DownStrikes = append(res.DownStrikes, r.strike)
		}
		if r.strike > q.Price && r.strike > res.ATMStrike && len(res.UpStrikes) < maxStrikes {
			res.UpStrikes = append(res.UpStrikes, r.strike)
		}
	}
	return res, nil
}
