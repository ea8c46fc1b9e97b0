package cisd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	// MaxChargerPower is the upper sentinel of the power bucket space, in W.
	MaxChargerPower = 100
	// MinCountedPower is the smallest charger power worth recording, in mW.
	MinCountedPower = 15000

	powerMargin = 1000
)

// powerThresholds are scanned from the top; the first one reached by
// power+margin names the bucket.
var powerThresholds = []int{45000, 35000, 25000, 15000}

// PowerBucket quantizes a charger power in mW into its bucket label in W.
// It returns false for powers below MinCountedPower.
func PowerBucket(powerMW int) (int, bool) {
	if powerMW < MinCountedPower {
		return 0, false
	}
	for _, t := range powerThresholds {
		if powerMW+powerMargin >= t {
			return t / 1000, true
		}
	}
	return 0, false
}

// CountPowerBucket records a charger with the given available power in mW.
func (l *Ledger) CountPowerBucket(powerMW int) bool {
	bucket, ok := PowerBucket(powerMW)
	if !ok {
		return false
	}
	return l.power.Count(bucket)
}

// Power returns the charger power histogram.
func (l *Ledger) Power() *Histogram {
	return l.power
}

// PowerText encodes the power histogram as "<n> <bucket>:<count> ...".
func (l *Ledger) PowerText() string {
	entries := l.power.Entries()

	var sb strings.Builder
	sb.WriteString(strconv.Itoa(len(entries)))
	for _, e := range entries {
		fmt.Fprintf(&sb, " %d:%d", e.Key, e.Count)
	}
	return sb.String()
}

// PowerJSON encodes the power histogram as JSON members.
func (l *Ledger) PowerJSON() string {
	entries := l.power.Entries()

	var sb strings.Builder
	fmt.Fprintf(&sb, `"POWER_COUNT":"%d"`, len(entries))
	for _, e := range entries {
		fmt.Fprintf(&sb, `,"POWER_%d":"%d"`, e.Key, e.Count)
	}
	return sb.String()
}

// RestorePower replaces the power histogram with a persisted encoding. On
// any parse error the histogram is left empty.
func (l *Ledger) RestorePower(text string) error {
	entries, err := parsePowerText(text)
	if err != nil {
		l.power.Reset()
		logrus.WithFields(logrus.Fields{
			"data": text,
			"err":  err,
		}).Warn("discarding malformed power data")
		return err
	}

	l.power.replace(entries)
	return nil
}

func parsePowerText(text string) ([]Entry, error) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: empty power data", ErrMalformed)
	}

	n, err := strconv.Atoi(tokens[0])
	if err != nil || n < 0 || n >= MaxChargerPower {
		return nil, fmt.Errorf("%w: power count %q", ErrMalformed, tokens[0])
	}
	if len(tokens)-1 < n {
		return nil, fmt.Errorf("%w: want %d power entries, got %d", ErrMalformed, n, len(tokens)-1)
	}

	entries := make([]Entry, 0, n)
	for _, tok := range tokens[1 : n+1] {
		bucketStr, countStr, ok := strings.Cut(tok, ":")
		if !ok {
			return nil, fmt.Errorf("%w: power entry %q", ErrMalformed, tok)
		}
		bucket, err := strconv.Atoi(bucketStr)
		if err != nil || bucket <= 0 || bucket >= MaxChargerPower {
			return nil, fmt.Errorf("%w: power bucket %q", ErrMalformed, bucketStr)
		}
		count, err := strconv.Atoi(countStr)
		if err != nil || count < 0 {
			return nil, fmt.Errorf("%w: power count %q", ErrMalformed, countStr)
		}
		if count == 0 {
			continue
		}
		entries = append(entries, Entry{Key: bucket, Count: count})
	}

	return sortEntries(entries), nil
}
