package types

import (
	"fmt"
	"strings"
)

// CableType identifies the power source currently attached to the device.
type CableType int

const (
	CableNone CableType = iota
	CableUnknown
	// CableBattery is a dock or accessory that supplies no charge.
	CableBattery
	CableOTG
	CableUSB
	CableUSBCDP
	CableTA
	CablePrepareTA
	// CableAFC is a 9V adaptive fast charger.
	CableAFC
	// CableAFCFail is an AFC adapter whose high-voltage handshake failed.
	CableAFCFail
	CableQC20
	CableQC30
	CablePD
	CablePDAPDO
	CableWireless
	CableHVWireless
	CableWirelessPack
	CableWirelessStand
	CableWirelessVehicle

	// CableTypeMax is the number of cable types. Every valid cable type is
	// strictly lower than it.
	CableTypeMax
)

var cableNames = [CableTypeMax]string{
	CableNone:            "none",
	CableUnknown:         "unknown",
	CableBattery:         "battery",
	CableOTG:             "otg",
	CableUSB:             "usb",
	CableUSBCDP:          "usb-cdp",
	CableTA:              "ta",
	CablePrepareTA:       "prepare-ta",
	CableAFC:             "afc",
	CableAFCFail:         "afc-fail",
	CableQC20:            "qc20",
	CableQC30:            "qc30",
	CablePD:              "pd",
	CablePDAPDO:          "pd-apdo",
	CableWireless:        "wireless",
	CableHVWireless:      "hv-wireless",
	CableWirelessPack:    "wireless-pack",
	CableWirelessStand:   "wireless-stand",
	CableWirelessVehicle: "wireless-vehicle",
}

// Valid reports whether c is inside the closed cable enumeration.
func (c CableType) Valid() bool {
	return c >= 0 && c < CableTypeMax
}

func (c CableType) String() string {
	if !c.Valid() {
		return fmt.Sprintf("cable(%d)", int(c))
	}
	return cableNames[c]
}

// IsChargeable reports whether the cable can deliver charge to the battery.
func (c CableType) IsChargeable() bool {
	switch c {
	case CableNone, CableUnknown, CableBattery, CableOTG:
		return false
	}
	return c.Valid()
}

// IsWireless reports whether the cable is a wireless charging pad.
func (c CableType) IsWireless() bool {
	switch c {
	case CableWireless, CableHVWireless, CableWirelessPack, CableWirelessStand, CableWirelessVehicle:
		return true
	}
	return false
}

// IsHV reports whether the cable negotiated a high-voltage input.
func (c CableType) IsHV() bool {
	switch c {
	case CableAFC, CableQC20, CableQC30, CablePD, CablePDAPDO, CableHVWireless:
		return true
	}
	return false
}

func (c CableType) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid cable type %d", int(c))
	}
	return []byte(c.String()), nil
}

func (c *CableType) UnmarshalText(b []byte) error {
	v, err := ParseCableType(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// ParseCableType parses the name of a cable type, case-insensitively.
func ParseCableType(s string) (CableType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range cableNames {
		if name == s {
			return CableType(i), nil
		}
	}
	return CableNone, fmt.Errorf("unknown cable type %q", s)
}

// CableTypes returns every valid cable type in enumeration order.
func CableTypes() []CableType {
	ret := make([]CableType, 0, CableTypeMax)
	for c := CableNone; c < CableTypeMax; c++ {
		ret = append(ret, c)
	}
	return ret
}

// MaxPDOs is the number of power data objects a PD source may advertise.
const MaxPDOs = 8

// PDO is a single power data object advertised by a USB PD source.
type PDO struct {
	// Voltage in mV. For an APDO this is the maximum voltage.
	Voltage int `json:"voltage"`
	// MinVoltage is only meaningful for an APDO.
	MinVoltage int `json:"minVoltage,omitempty"`
	// Current in mA.
	Current int  `json:"current"`
	APDO    bool `json:"apdo,omitempty"`
}

// Power returns the PDO power in mW.
func (p PDO) Power() int {
	return p.Voltage * p.Current / 1000
}

// CableInfo describes a power source attached to one of the cable slots.
type CableInfo struct {
	CableType       CableType `json:"cableType"`
	InputCurrent    int       `json:"inputCurrent"`
	ChargingCurrent int       `json:"chargingCurrent"`
	// InputVoltage in mV.
	InputVoltage int `json:"inputVoltage"`
	// ChargePower and MaxChargePower in mW.
	ChargePower    int   `json:"chargePower"`
	MaxChargePower int   `json:"maxChargePower"`
	PDOs           []PDO `json:"pdos,omitempty"`
	// SelectedPDO and NowPDO are 1-based PDO positions, 0 when unused.
	SelectedPDO int `json:"selectedPdo,omitempty"`
	NowPDO      int `json:"nowPdo,omitempty"`
}

// Validate checks the cable info for values the core cannot act on.
func (c CableInfo) Validate() error {
	if !c.CableType.Valid() {
		return fmt.Errorf("invalid cable type %d", int(c.CableType))
	}
	if len(c.PDOs) > MaxPDOs {
		return fmt.Errorf("too many PDOs: %d > %d", len(c.PDOs), MaxPDOs)
	}
	if c.SelectedPDO < 0 || c.SelectedPDO > len(c.PDOs) {
		return fmt.Errorf("selected PDO %d out of range", c.SelectedPDO)
	}
	if c.NowPDO < 0 || c.NowPDO > len(c.PDOs) {
		return fmt.Errorf("current PDO %d out of range", c.NowPDO)
	}
	return nil
}

// AvailablePower returns the best estimate of the source power in mW.
func (c CableInfo) AvailablePower() int {
	if c.MaxChargePower > 0 {
		return c.MaxChargePower
	}
	maxPower := 0
	for _, p := range c.PDOs {
		if p.Power() > maxPower {
			maxPower = p.Power()
		}
	}
	if maxPower > 0 {
		return maxPower
	}
	return c.ChargePower
}
