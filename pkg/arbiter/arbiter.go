// Package arbiter maps a cable type to the currents the charger IC should be
// programmed with.
package arbiter

import (
	"errors"
	"fmt"

	"github.com/charlie0129/chgd/pkg/types"
)

// ErrCableOutOfRange is returned for a cable type outside the table.
var ErrCableOutOfRange = errors.New("cable type out of range")

// Currents is one row of the charging current table, in mA.
type Currents struct {
	InputCurrentLimit   int `json:"input"`
	FastChargingCurrent int `json:"charging"`
	TopoffCurrent       int `json:"topoff"`
}

// Table holds one row per cable type.
type Table [types.CableTypeMax]Currents

// DefaultTable returns the stock current table. Topoff doubles as the full
// check current.
func DefaultTable() Table {
	var t Table
	for c := range t {
		t[c] = Currents{InputCurrentLimit: 500, FastChargingCurrent: 500, TopoffCurrent: 150}
	}

	t[types.CableNone] = Currents{}
	t[types.CableBattery] = Currents{}
	t[types.CableOTG] = Currents{}
	t[types.CableUSBCDP] = Currents{InputCurrentLimit: 1500, FastChargingCurrent: 1500, TopoffCurrent: 200}
	t[types.CableTA] = Currents{InputCurrentLimit: 1800, FastChargingCurrent: 2100, TopoffCurrent: 250}
	t[types.CablePrepareTA] = Currents{InputCurrentLimit: 1000, FastChargingCurrent: 1000, TopoffCurrent: 250}
	t[types.CableAFC] = Currents{InputCurrentLimit: 1650, FastChargingCurrent: 3150, TopoffCurrent: 250}
	t[types.CableAFCFail] = Currents{InputCurrentLimit: 1800, FastChargingCurrent: 2100, TopoffCurrent: 250}
	t[types.CableQC20] = Currents{InputCurrentLimit: 1650, FastChargingCurrent: 3150, TopoffCurrent: 250}
	t[types.CableQC30] = Currents{InputCurrentLimit: 1650, FastChargingCurrent: 3150, TopoffCurrent: 250}
	t[types.CablePD] = Currents{InputCurrentLimit: 2000, FastChargingCurrent: 3150, TopoffCurrent: 250}
	t[types.CablePDAPDO] = Currents{InputCurrentLimit: 3000, FastChargingCurrent: 3150, TopoffCurrent: 250}
	t[types.CableWireless] = Currents{InputCurrentLimit: 900, FastChargingCurrent: 1200, TopoffCurrent: 200}
	t[types.CableHVWireless] = Currents{InputCurrentLimit: 1000, FastChargingCurrent: 2000, TopoffCurrent: 200}
	t[types.CableWirelessPack] = Currents{InputCurrentLimit: 700, FastChargingCurrent: 1200, TopoffCurrent: 200}
	t[types.CableWirelessStand] = Currents{InputCurrentLimit: 900, FastChargingCurrent: 1200, TopoffCurrent: 200}
	t[types.CableWirelessVehicle] = Currents{InputCurrentLimit: 900, FastChargingCurrent: 1200, TopoffCurrent: 200}

	return t
}

// Compute looks cable up in table and clamps the input and fast charging
// currents to the device maxima. The topoff current is used as is.
func Compute(cable types.CableType, table *Table, maxInput, maxCharging int) (Currents, error) {
	if !cable.Valid() {
		return Currents{}, fmt.Errorf("%w: %d", ErrCableOutOfRange, int(cable))
	}

	c := table[cable]
	c.InputCurrentLimit = min(c.InputCurrentLimit, maxInput)
	c.FastChargingCurrent = min(c.FastChargingCurrent, maxCharging)
	return c, nil
}

// MinSIOPCurrent is the floor applied by ApplySIOP to a non-zero level.
const MinSIOPCurrent = 100

// ApplySIOP scales the input and fast charging currents to level percent.
// Level 100 leaves c unchanged and level 0 stops charging.
func ApplySIOP(c Currents, level int) Currents {
	switch {
	case level >= 100:
		return c
	case level <= 0:
		c.InputCurrentLimit = 0
		c.FastChargingCurrent = 0
		return c
	}

	scale := func(v int) int {
		if v == 0 {
			return 0
		}
		return max(v*level/100, min(v, MinSIOPCurrent))
	}
	c.InputCurrentLimit = scale(c.InputCurrentLimit)
	c.FastChargingCurrent = scale(c.FastChargingCurrent)
	return c
}

// LimitCharging caps the fast charging current to ceiling.
func LimitCharging(c Currents, ceiling int) Currents {
	c.FastChargingCurrent = min(c.FastChargingCurrent, ceiling)
	return c
}
