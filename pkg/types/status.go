package types

import "fmt"

// parseEnum returns the value in [0, last] whose String is s.
func parseEnum[T interface {
	~int
	String() string
}](s string, last T) (T, error) {
	for v := T(0); v <= last; v++ {
		if v.String() == s {
			return v, nil
		}
	}
	return 0, fmt.Errorf("unknown %T %q", last, s)
}

// Status is the charging status of the battery.
type Status int

const (
	StatusDischarging Status = iota
	StatusCharging
	StatusNotCharging
	StatusFull
)

func (s Status) String() string {
	switch s {
	case StatusDischarging:
		return "Discharging"
	case StatusCharging:
		return "Charging"
	case StatusNotCharging:
		return "Not charging"
	case StatusFull:
		return "Full"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	v, err := parseEnum(string(b), StatusFull)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Health is the battery health as judged by the protection checks.
type Health int

const (
	HealthGood Health = iota
	HealthOverheat
	HealthOverheatLimit
	HealthCold
	HealthOverVoltage
	HealthUnderVoltage
	HealthSafetyTimerExpire
	HealthUnknown
)

func (h Health) String() string {
	switch h {
	case HealthGood:
		return "Good"
	case HealthOverheat:
		return "Overheat"
	case HealthOverheatLimit:
		return "Overheat limit"
	case HealthCold:
		return "Cold"
	case HealthOverVoltage:
		return "Over voltage"
	case HealthUnderVoltage:
		return "Under voltage"
	case HealthSafetyTimerExpire:
		return "Safety timer expire"
	case HealthUnknown:
		return "Unknown"
	}
	return fmt.Sprintf("Health(%d)", int(h))
}

func (h Health) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Health) UnmarshalText(b []byte) error {
	v, err := parseEnum(string(b), HealthUnknown)
	if err != nil {
		return err
	}
	*h = v
	return nil
}

// IsTemperature reports whether the health is a temperature condition.
func (h Health) IsTemperature() bool {
	return h == HealthOverheat || h == HealthOverheatLimit || h == HealthCold
}

// ChargeMode is the mode programmed into the charger IC.
type ChargeMode int

const (
	// ChargeModeCharging enables the buck and battery charging.
	ChargeModeCharging ChargeMode = iota
	// ChargeModeChargingOff keeps the buck on (system powered from input)
	// but stops charging the battery.
	ChargeModeChargingOff
	// ChargeModeBuckOff disables the input buck entirely.
	ChargeModeBuckOff
)

func (m ChargeMode) String() string {
	switch m {
	case ChargeModeCharging:
		return "charging"
	case ChargeModeChargingOff:
		return "charging-off"
	case ChargeModeBuckOff:
		return "buck-off"
	}
	return fmt.Sprintf("ChargeMode(%d)", int(m))
}

func (m ChargeMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *ChargeMode) UnmarshalText(b []byte) error {
	v, err := parseEnum(string(b), ChargeModeBuckOff)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// SwellingMode tracks the temperature-driven battery swelling protection.
type SwellingMode int

const (
	SwellingNone SwellingMode = iota
	// SwellingCharging charges with a reduced current and voltage.
	SwellingCharging
	// SwellingFull is reached when swelling charging completes.
	SwellingFull
)

func (m SwellingMode) String() string {
	switch m {
	case SwellingNone:
		return "none"
	case SwellingCharging:
		return "charging"
	case SwellingFull:
		return "full"
	}
	return fmt.Sprintf("SwellingMode(%d)", int(m))
}

func (m SwellingMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *SwellingMode) UnmarshalText(b []byte) error {
	v, err := parseEnum(string(b), SwellingFull)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// CapacityKind selects which capacity figure the fuel gauge reports.
type CapacityKind int

const (
	// CapacityFull is the learned full charge capacity in mAh.
	CapacityFull CapacityKind = iota
	// CapacityAged is the design capacity corrected for aging in mAh.
	CapacityAged
)

func (k CapacityKind) String() string {
	switch k {
	case CapacityFull:
		return "full"
	case CapacityAged:
		return "aged"
	}
	return fmt.Sprintf("CapacityKind(%d)", int(k))
}
