package cisd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// MaxPadID is the upper sentinel of the wireless pad id space.
const MaxPadID = 0xFF

// legacyPads is the pad catalogue used by the fixed-position pad encoding.
// Position i of that encoding holds the count of legacyPads[i].
var legacyPads = [10]int{0x00, 0x01, 0x02, 0x03, 0x04, 0x10, 0x11, 0x12, 0x13, 0x14}

// CountPad records an authenticated wireless pad. Ids at or above MaxPadID
// are ignored.
func (l *Ledger) CountPad(id int) bool {
	ok := l.pads.Count(id)
	if !ok {
		logrus.WithField("padID", id).Debug("ignoring out of range pad id")
	}
	return ok
}

// Pads returns the pad histogram.
func (l *Ledger) Pads() *Histogram {
	return l.pads
}

// PadText encodes the pad histogram as "<n> 0x<id>:<count> ...".
func (l *Ledger) PadText() string {
	entries := l.pads.Entries()

	var sb strings.Builder
	sb.WriteString(strconv.Itoa(len(entries)))
	for _, e := range entries {
		fmt.Fprintf(&sb, " 0x%02x:%d", e.Key, e.Count)
	}
	return sb.String()
}

// PadJSON encodes the pad histogram as JSON members.
func (l *Ledger) PadJSON() string {
	entries := l.pads.Entries()

	var sb strings.Builder
	fmt.Fprintf(&sb, `"INDEX":"%d"`, len(entries))
	for _, e := range entries {
		fmt.Fprintf(&sb, `,"PAD_%02x":"%d"`, e.Key, e.Count)
	}
	return sb.String()
}

// RestorePads replaces the pad histogram with a persisted encoding. Both the
// generic and the legacy fixed-position encodings are accepted. On any parse
// error the histogram is left empty.
func (l *Ledger) RestorePads(text string) error {
	entries, err := parsePadText(text, l.pads.MaxKey())
	if err != nil {
		l.pads.Reset()
		logrus.WithFields(logrus.Fields{
			"data": text,
			"err":  err,
		}).Warn("discarding malformed pad data")
		return err
	}

	l.pads.replace(entries)
	return nil
}

func parsePadText(text string, maxKey int) ([]Entry, error) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: empty pad data", ErrMalformed)
	}

	n, err := strconv.Atoi(tokens[0])
	if err != nil {
		return nil, fmt.Errorf("%w: pad count %q", ErrMalformed, tokens[0])
	}
	switch {
	case n < 0 || n >= maxKey:
		return nil, fmt.Errorf("%w: pad count %d out of range", ErrMalformed, n)
	case n == 0:
		return parseLegacyPads(tokens[1:])
	}

	if len(tokens)-1 < n {
		return nil, fmt.Errorf("%w: want %d pad entries, got %d", ErrMalformed, n, len(tokens)-1)
	}

	entries := make([]Entry, 0, n)
	for _, tok := range tokens[1 : n+1] {
		idStr, countStr, ok := strings.Cut(tok, ":")
		if !ok {
			return nil, fmt.Errorf("%w: pad entry %q", ErrMalformed, tok)
		}
		id, err := strconv.ParseInt(idStr, 0, 32)
		if err != nil || id < 0 || id >= int64(maxKey) {
			return nil, fmt.Errorf("%w: pad id %q", ErrMalformed, idStr)
		}
		count, err := strconv.Atoi(countStr)
		if err != nil || count < 0 {
			return nil, fmt.Errorf("%w: pad count %q", ErrMalformed, countStr)
		}
		if count == 0 {
			continue
		}
		entries = append(entries, Entry{Key: int(id), Count: count})
	}

	return sortEntries(entries), nil
}

func parseLegacyPads(values []string) ([]Entry, error) {
	if len(values) > len(legacyPads) {
		values = values[:len(legacyPads)]
	}

	var entries []Entry
	for i, v := range values {
		count, err := strconv.Atoi(v)
		if err != nil || count < 0 {
			return nil, fmt.Errorf("%w: legacy pad value %q", ErrMalformed, v)
		}
		if count == 0 {
			continue
		}
		entries = append(entries, Entry{Key: legacyPads[i], Count: count})
	}

	return sortEntries(entries), nil
}
