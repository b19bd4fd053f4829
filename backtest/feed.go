package backtest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rustyeddy/pilot/market"
)

// CSVTickFeed reads canonical tick CSV rows:
//
//	time,symbol,price,size[,bid,ask]
//
// where time is RFC3339 or RFC3339Nano.
//
// It optionally filters ticks to [From, To) if provided.
// Header row ("time,...") is allowed.
// Empty/short rows are skipped.
type CSVTickFeed struct {
	f    *os.File
	r    *csv.Reader
	from time.Time
	to   time.Time

	sawFirst bool
}

func NewCSVTickFeed(path string, from, to time.Time) (*CSVTickFeed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	return &CSVTickFeed{f: f, r: r, from: from, to: to}, nil
}

func (f *CSVTickFeed) Close() error {
	if f.f != nil {
		return f.f.Close()
	}
	return nil
}

func (f *CSVTickFeed) Next() (market.Tick, bool, error) {
	for {
		row, err := f.r.Read()
		if err == io.EOF {
			return market.Tick{}, false, nil
		}
		if err != nil {
			return market.Tick{}, false, err
		}
		if len(row) == 0 {
			continue
		}

		// Allow a single header row
		if !f.sawFirst {
			f.sawFirst = true
			if strings.EqualFold(strings.TrimSpace(row[0]), "time") {
				continue
			}
		}

		t, ok, err := parseTickRow(row)
		if err != nil {
			return market.Tick{}, false, err
		}
		if !ok {
			continue
		}
		if !inRange(t.Time, f.from, f.to) {
			continue
		}
		return t, true, nil
	}
}

func parseTickRow(row []string) (market.Tick, bool, error) {
	// Need at least: time,symbol,price,size
	if len(row) < 4 {
		return market.Tick{}, false, nil
	}

	ts := strings.TrimSpace(row[0])
	if ts == "" {
		return market.Tick{}, false, nil
	}
	// Accept RFC3339 or RFC3339Nano.
	when, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		t2, err2 := time.Parse(time.RFC3339Nano, ts)
		if err2 != nil {
			return market.Tick{}, false, fmt.Errorf("bad time %q: %w", ts, err)
		}
		when = t2
	}

	sym := strings.TrimSpace(row[1])
	if sym == "" {
		return market.Tick{}, false, nil
	}

	price, err := strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
	if err != nil {
		return market.Tick{}, false, fmt.Errorf("bad price %q: %w", row[2], err)
	}
	size, err := strconv.ParseFloat(strings.TrimSpace(row[3]), 64)
	if err != nil {
		return market.Tick{}, false, fmt.Errorf("bad size %q: %w", row[3], err)
	}

	t := market.Tick{Time: when, Symbol: sym, Price: price, Size: size}

	// Optional book columns.
	if len(row) >= 6 {
		bid, err := strconv.ParseFloat(strings.TrimSpace(row[4]), 64)
		if err != nil {
			return market.Tick{}, false, fmt.Errorf("bad bid %q: %w", row[4], err)
		}
		ask, err := strconv.ParseFloat(strings.TrimSpace(row[5]), 64)
		if err != nil {
			return market.Tick{}, false, fmt.Errorf("bad ask %q: %w", row[5], err)
		}
		t.Bid, t.Ask = bid, ask
	}

	return t, true, nil
}

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}
