// Package cisd keeps the battery statistics ledger: running temperature and
// capacity extrema, protection counters, cable counters and the wireless pad
// and charger power histograms. Every section can be exported to and restored
// from a compact text encoding.
package cisd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	// ErrFieldOutOfRange is returned for a field outside the data array.
	ErrFieldOutOfRange = errors.New("cisd field out of range")
	// ErrMalformed is returned when persisted ledger text cannot be parsed.
	ErrMalformed = errors.New("malformed cisd data")
	// ErrAlgIndexMismatch is returned when persisted data was produced by a
	// different ledger algorithm.
	ErrAlgIndexMismatch = errors.New("cisd algorithm index mismatch")
)

// DefaultAlgIndex is the algorithm version stamped into a fresh ledger.
const DefaultAlgIndex = 6

// Ledger is the statistics ledger. The data array and the counter groups
// share one lock; each histogram has its own.
type Ledger struct {
	mu       sync.RWMutex
	algIndex int
	data     [FieldMaxPerDay]int
	cable    [CableCounterMax]int
	tx       [TXCounterMax]int
	event    [EventCounterMax]int

	pads  *Histogram
	power *Histogram
}

// New returns a reset ledger stamped with algIndex.
func New(algIndex int) *Ledger {
	l := &Ledger{
		algIndex: algIndex,
		pads:     NewHistogram(MaxPadID),
		power:    NewHistogram(MaxChargerPower),
	}
	l.Reset()
	return l
}

// AlgIndex returns the algorithm version the ledger validates restores with.
func (l *Ledger) AlgIndex() int {
	return l.algIndex
}

// Reset puts every section back to its initial state.
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.resetDataLocked(FieldResetAlg, FieldMaxPerDay)
	l.cable = [CableCounterMax]int{}
	l.tx = [TXCounterMax]int{}
	l.event = [EventCounterMax]int{}
	l.mu.Unlock()

	l.pads.Reset()
	l.power.Reset()

	logrus.WithField("algIndex", l.algIndex).Info("cisd ledger reset")
}

// ResetPerDay clears the per-day section and the daily charger power
// histogram.
func (l *Ledger) ResetPerDay() {
	l.mu.Lock()
	l.resetDataLocked(FieldMax, FieldMaxPerDay)
	l.mu.Unlock()

	l.power.Reset()
}

func (l *Ledger) resetDataLocked(from, to Field) {
	for f := from; f < to; f++ {
		l.data[f] = fields[f].init
	}
	if from <= FieldAlgIndex && FieldAlgIndex < to {
		l.data[FieldAlgIndex] = l.algIndex
	}
}

// RecordValue stores v into field according to the field's polarity: maxima
// and minima only move when v improves them, other fields are overwritten.
func (l *Ledger) RecordValue(field Field, v int) error {
	if !field.Valid() {
		return fmt.Errorf("%w: %d", ErrFieldOutOfRange, field)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.recordLocked(field, v)
	return nil
}

// IncrementCount adds one to field.
func (l *Ledger) IncrementCount(field Field) error {
	if !field.Valid() {
		return fmt.Errorf("%w: %d", ErrFieldOutOfRange, field)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.data[field]++
	return nil
}

// Record stores v into a lifetime field and its per-day mirror.
func (l *Ledger) Record(field Field, v int) error {
	if !field.Valid() {
		return fmt.Errorf("%w: %d", ErrFieldOutOfRange, field)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.recordLocked(field, v)
	if d, ok := field.PerDay(); ok {
		l.recordLocked(d, v)
	}
	return nil
}

// Count increments a lifetime field and its per-day mirror.
func (l *Ledger) Count(field Field) error {
	if !field.Valid() {
		return fmt.Errorf("%w: %d", ErrFieldOutOfRange, field)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.data[field]++
	if d, ok := field.PerDay(); ok {
		l.data[d]++
	}
	return nil
}

func (l *Ledger) recordLocked(field Field, v int) {
	switch fields[field].kind {
	case KindMax:
		if v > l.data[field] {
			l.data[field] = v
		}
	case KindMin:
		if v < l.data[field] {
			l.data[field] = v
		}
	default:
		l.data[field] = v
	}
}

// Value returns the content of field.
func (l *Ledger) Value(field Field) (int, error) {
	if !field.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrFieldOutOfRange, field)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.data[field], nil
}

// DataText encodes the whole data array as space separated integers.
func (l *Ledger) DataText() string {
	l.mu.RLock()
	data := l.data
	l.mu.RUnlock()

	return joinInts(data[:])
}

// DataJSON encodes the lifetime section as JSON members.
func (l *Ledger) DataJSON() string {
	l.mu.RLock()
	data := l.data
	l.mu.RUnlock()

	return jsonMembers(data[FieldResetAlg:FieldMax], func(i int) string { return fields[FieldResetAlg+Field(i)].name })
}

// PerDayJSON encodes the per-day section as JSON members.
func (l *Ledger) PerDayJSON() string {
	l.mu.RLock()
	data := l.data
	l.mu.RUnlock()

	return jsonMembers(data[FieldMax:FieldMaxPerDay], func(i int) string { return fields[FieldMax+Field(i)].name })
}

// RestoreData replaces the data array with a persisted encoding. The input
// must carry every field and the configured algorithm index; otherwise the
// data array is reset and an error is returned. Text whose leading value is
// positive is read as the older comma separated layout.
func (l *Ledger) RestoreData(text string) error {
	var (
		values []int
		err    error
	)
	if isLegacyData(text) {
		values, err = l.legacyValues(text)
	} else {
		values, err = l.dataValues(text)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err != nil {
		l.resetDataLocked(FieldResetAlg, FieldMaxPerDay)
		logrus.WithFields(logrus.Fields{
			"data": text,
			"err":  err,
		}).Warn("discarding cisd data")
		return err
	}

	copy(l.data[:], values)
	return nil
}

func (l *Ledger) dataValues(text string) ([]int, error) {
	values, err := parseInts(text, int(FieldMaxPerDay))
	if err != nil {
		return nil, err
	}
	if len(values) < int(FieldMaxPerDay) {
		return nil, fmt.Errorf("%w: want %d values, got %d", ErrMalformed, FieldMaxPerDay, len(values))
	}
	if values[FieldAlgIndex] != l.algIndex {
		return nil, fmt.Errorf("%w: %d != %d", ErrAlgIndexMismatch, values[FieldAlgIndex], l.algIndex)
	}
	return values, nil
}

// Older ledgers wrote the lifetime counters as a comma separated list led by
// the full count instead of RESET_ALG, with no algorithm index.
const (
	legacyMaxValues = 77
	legacyMinValues = 38
)

// legacyPositions maps a position of the comma separated layout to the field
// it restores. Unlisted positions are dropped.
var legacyPositions = map[int]Field{
	0:  FieldFullCount,
	1:  FieldCapMax,
	2:  FieldCapMin,
	16: FieldValertCount,
	17: FieldCycle,
	18: FieldWireCount,
	19: FieldWirelessCount,
	20: FieldHighTempSwelling,
	21: FieldLowTempSwelling,
	22: FieldWCHighTempSwelling,
	26: FieldAICLCount,
	27: FieldBattTempMax,
	28: FieldBattTempMin,
	29: FieldChgTempMax,
	30: FieldChgTempMin,
	31: FieldWPCTempMax,
	32: FieldWPCTempMin,
	33: FieldUnsafeVoltage,
	34: FieldUnsafeTemperature,
	35: FieldSafetyTimer,
	36: FieldVsysOVP,
	37: FieldVbatOVP,
}

func isLegacyData(text string) bool {
	first, _, _ := strings.Cut(strings.TrimSpace(text), ",")
	tokens := strings.Fields(first)
	if len(tokens) == 0 {
		return false
	}
	v, err := strconv.Atoi(tokens[0])
	return err == nil && v > 0
}

// legacyValues converts the comma separated layout. Fields it does not carry
// take their reset values and the algorithm index is stamped.
func (l *Ledger) legacyValues(text string) ([]int, error) {
	parts := strings.Split(strings.TrimRight(strings.TrimSpace(text), ","), ",")
	if len(parts) > legacyMaxValues {
		parts = parts[:legacyMaxValues]
	}

	legacy := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an integer", ErrMalformed, p)
		}
		legacy = append(legacy, v)
	}
	if len(legacy) < legacyMinValues {
		return nil, fmt.Errorf("%w: want at least %d legacy values, got %d", ErrMalformed, legacyMinValues, len(legacy))
	}

	values := make([]int, FieldMaxPerDay)
	for f := range values {
		values[f] = fields[f].init
	}
	values[FieldAlgIndex] = l.algIndex
	for pos, f := range legacyPositions {
		values[f] = legacy[pos]
	}

	logrus.WithField("values", len(legacy)).Info("restored cisd data from legacy layout")
	return values, nil
}

// Snapshot is a point-in-time copy of the whole ledger.
type Snapshot struct {
	Data  []int   `json:"data"`
	Cable []int   `json:"cable"`
	TX    []int   `json:"tx"`
	Event []int   `json:"event"`
	Pads  []Entry `json:"pads"`
	Power []Entry `json:"power"`
}

// Snapshot copies the ledger out under its locks.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	s := Snapshot{
		Data:  append([]int(nil), l.data[:]...),
		Cable: append([]int(nil), l.cable[:]...),
		TX:    append([]int(nil), l.tx[:]...),
		Event: append([]int(nil), l.event[:]...),
	}
	l.mu.RUnlock()

	s.Pads = l.pads.Entries()
	s.Power = l.power.Entries()
	return s
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, " ")
}

func jsonMembers(values []int, name func(i int) string) string {
	var sb strings.Builder
	for i, v := range values {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, `"%s":"%d"`, name(i), v)
	}
	return sb.String()
}

// parseInts parses at most limit space separated integers.
func parseInts(text string, limit int) ([]int, error) {
	tokens := strings.Fields(text)
	if len(tokens) > limit {
		tokens = tokens[:limit]
	}

	values := make([]int, 0, len(tokens))
	for _, tok := range tokens {
		v, err := strconv.Atoi(tok)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an integer", ErrMalformed, tok)
		}
		values = append(values, v)
	}
	return values, nil
}
