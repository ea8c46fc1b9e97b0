package cisd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charlie0129/chgd/pkg/types"
)

// CableCounter counts attaches of a cable class.
type CableCounter int

const (
	CableCounterTA CableCounter = iota
	CableCounterAFC
	CableCounterAFCFail
	CableCounterQC
	CableCounterQCFail
	CableCounterPD
	CableCounterPDHigh
	CableCounterHVWC
	CableCounterMax
)

var cableCounterNames = [CableCounterMax]string{"TA", "AFC", "AFC_FAIL", "QC", "QC_FAIL", "PD", "PD_HIGH", "HV_WC"}

// TXCounter counts wireless power sharing sessions by target.
type TXCounter int

const (
	TXCounterOn TXCounter = iota
	TXCounterOther
	TXCounterGear
	TXCounterPhone
	TXCounterBuds
	TXCounterMax
)

var txCounterNames = [TXCounterMax]string{"ON", "OTHER", "GEAR", "PHONE", "BUDS"}

// EventCounter counts abnormal protocol events reported by the charger.
type EventCounter int

const (
	EventCounterDCErr EventCounter = iota
	EventCounterTAOCPDet
	EventCounterTAOCPOn
	EventCounterMax
)

var eventCounterNames = [EventCounterMax]string{"DC_ERR", "TA_OCP_DET", "TA_OCP_ON"}

// pdHighPower is the PD source power above which PD_HIGH is counted, in mW.
const pdHighPower = 25000

// hvBaseVoltage is the default VBUS a high-voltage handshake raises input
// above, in mV.
const hvBaseVoltage = 5000

// hvHandshakeFailed reports a high-voltage source whose measured input never
// left the default VBUS. An unmeasured input is taken as negotiated.
func hvHandshakeFailed(c types.CableInfo) bool {
	return c.CableType.IsHV() && c.InputVoltage > 0 && c.InputVoltage <= hvBaseVoltage
}

// CableCountersFor returns the cable counters an attach of c bumps.
func CableCountersFor(c types.CableInfo) []CableCounter {
	switch c.CableType {
	case types.CableTA:
		return []CableCounter{CableCounterTA}
	case types.CableAFC:
		return []CableCounter{CableCounterAFC}
	case types.CableAFCFail:
		return []CableCounter{CableCounterAFCFail}
	case types.CableQC20, types.CableQC30:
		if hvHandshakeFailed(c) {
			return []CableCounter{CableCounterQCFail}
		}
		return []CableCounter{CableCounterQC}
	case types.CablePD, types.CablePDAPDO:
		if c.AvailablePower() > pdHighPower {
			return []CableCounter{CableCounterPD, CableCounterPDHigh}
		}
		return []CableCounter{CableCounterPD}
	case types.CableHVWireless:
		return []CableCounter{CableCounterHVWC}
	}
	return nil
}

// CountCable increments a cable counter.
func (l *Ledger) CountCable(c CableCounter) error {
	if c < 0 || c >= CableCounterMax {
		return fmt.Errorf("%w: cable counter %d", ErrFieldOutOfRange, c)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.cable[c]++
	return nil
}

// CountTX increments a wireless power sharing counter.
func (l *Ledger) CountTX(c TXCounter) error {
	if c < 0 || c >= TXCounterMax {
		return fmt.Errorf("%w: tx counter %d", ErrFieldOutOfRange, c)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.tx[c]++
	return nil
}

// CountEvent increments a protocol event counter.
func (l *Ledger) CountEvent(c EventCounter) error {
	if c < 0 || c >= EventCounterMax {
		return fmt.Errorf("%w: event counter %d", ErrFieldOutOfRange, c)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.event[c]++
	return nil
}

// CableText, TXText and EventText encode a counter group as space separated
// integers.
func (l *Ledger) CableText() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return joinInts(l.cable[:])
}

func (l *Ledger) TXText() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return joinInts(l.tx[:])
}

func (l *Ledger) EventText() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return joinInts(l.event[:])
}

// CableJSON, TXJSON and EventJSON encode a counter group as JSON members.
func (l *Ledger) CableJSON() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return jsonMembers(l.cable[:], func(i int) string { return cableCounterNames[i] })
}

func (l *Ledger) TXJSON() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return jsonMembers(l.tx[:], func(i int) string { return txCounterNames[i] })
}

func (l *Ledger) EventJSON() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return jsonMembers(l.event[:], func(i int) string { return eventCounterNames[i] })
}

// ClearDailyCounters zeroes the cable, tx and event groups, which are
// collected per day.
func (l *Ledger) ClearDailyCounters() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cable = [CableCounterMax]int{}
	l.tx = [TXCounterMax]int{}
	l.event = [EventCounterMax]int{}
}

// RestoreCable, RestoreTX and RestoreEvent load a counter group. Values are
// read in order until the first missing or malformed one; that slot and the
// following ones are zeroed.
func (l *Ledger) RestoreCable(text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return restoreCounters(l.cable[:], text)
}

func (l *Ledger) RestoreTX(text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return restoreCounters(l.tx[:], text)
}

func (l *Ledger) RestoreEvent(text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return restoreCounters(l.event[:], text)
}

func restoreCounters(dst []int, text string) error {
	tokens := strings.Fields(text)
	for i := range dst {
		if i >= len(tokens) {
			clear(dst[i:])
			return nil
		}
		v, err := strconv.Atoi(tokens[i])
		if err != nil {
			clear(dst[i:])
			return fmt.Errorf("%w: %q is not an integer", ErrMalformed, tokens[i])
		}
		dst[i] = v
	}
	return nil
}

func (c TXCounter) String() string {
	if c < 0 || c >= TXCounterMax {
		return fmt.Sprintf("TXCounter(%d)", int(c))
	}
	return txCounterNames[c]
}

func (c EventCounter) String() string {
	if c < 0 || c >= EventCounterMax {
		return fmt.Sprintf("EventCounter(%d)", int(c))
	}
	return eventCounterNames[c]
}

// ParseTXCounter accepts a tx counter name, case insensitive.
func ParseTXCounter(s string) (TXCounter, error) {
	for i, name := range txCounterNames {
		if strings.EqualFold(s, name) {
			return TXCounter(i), nil
		}
	}
	return 0, fmt.Errorf("unknown tx counter %q", s)
}

// ParseEventCounter accepts an event counter name, case insensitive. Dashes
// may stand for underscores.
func ParseEventCounter(s string) (EventCounter, error) {
	s = strings.ReplaceAll(s, "-", "_")
	for i, name := range eventCounterNames {
		if strings.EqualFold(s, name) {
			return EventCounter(i), nil
		}
	}
	return 0, fmt.Errorf("unknown event counter %q", s)
}
