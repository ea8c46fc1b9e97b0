package cisd

import "fmt"

// Field indexes a slot of the ledger data array.
type Field int

// Lifetime fields.
const (
	FieldResetAlg Field = iota
	FieldAlgIndex
	FieldFullCount
	FieldCapMax
	FieldCapMin
	FieldRechargingCount
	FieldValertCount
	FieldCycle
	FieldWireCount
	FieldWirelessCount
	FieldHighTempSwelling
	FieldLowTempSwelling
	FieldWCHighTempSwelling
	FieldSwellingFullCount
	FieldSwellingRecoveryCount
	FieldAICLCount
	FieldBattTempMax
	FieldBattTempMin
	FieldChgTempMax
	FieldChgTempMin
	FieldWPCTempMax
	FieldWPCTempMin
	FieldUSBTempMax
	FieldUSBTempMin
	FieldChgBattTempMax
	FieldChgBattTempMin
	FieldChgChgTempMax
	FieldChgChgTempMin
	FieldChgWPCTempMax
	FieldChgWPCTempMin
	FieldChgUSBTempMax
	FieldChgUSBTempMin
	FieldUSBOverheatRapidChange
	FieldUSBOverheatAlone
	FieldUnsafeVoltage
	FieldUnsafeTemperature
	FieldSafetyTimer
	FieldVsysOVP
	FieldVbatOVP
	FieldASOC
	FieldCapNom

	// FieldMax ends the lifetime section and starts the per-day section.
	FieldMax
)

// Per-day fields. They are cleared by ResetPerDay.
const (
	FieldFullCountPerDay Field = iota + FieldMax
	FieldCapMaxPerDay
	FieldCapMinPerDay
	FieldRechargingCountPerDay
	FieldValertCountPerDay
	FieldWireCountPerDay
	FieldWirelessCountPerDay
	FieldHighTempSwellingPerDay
	FieldLowTempSwellingPerDay
	FieldWCHighTempSwellingPerDay
	FieldSwellingFullCountPerDay
	FieldSwellingRecoveryCountPerDay
	FieldAICLCountPerDay
	FieldBattTempMaxPerDay
	FieldBattTempMinPerDay
	FieldChgTempMaxPerDay
	FieldChgTempMinPerDay
	FieldWPCTempMaxPerDay
	FieldWPCTempMinPerDay
	FieldUSBTempMaxPerDay
	FieldUSBTempMinPerDay
	FieldChgBattTempMaxPerDay
	FieldChgBattTempMinPerDay
	FieldChgChgTempMaxPerDay
	FieldChgChgTempMinPerDay
	FieldChgWPCTempMaxPerDay
	FieldChgWPCTempMinPerDay
	FieldChgUSBTempMaxPerDay
	FieldChgUSBTempMinPerDay
	FieldUSBOverheatRapidChangePerDay
	FieldUSBOverheatAlonePerDay
	FieldUnsafeVoltagePerDay
	FieldUnsafeTemperaturePerDay
	FieldSafetyTimerPerDay
	FieldVsysOVPPerDay
	FieldVbatOVPPerDay

	// FieldMaxPerDay is the size of the ledger data array.
	FieldMaxPerDay
)

// Kind is the fixed update polarity of a field.
type Kind int

const (
	// KindValue fields are overwritten.
	KindValue Kind = iota
	// KindCounter fields are incremented.
	KindCounter
	// KindMax fields keep the largest value seen.
	KindMax
	// KindMin fields keep the smallest value seen.
	KindMin
)

const (
	// TempMaxInit is the reset value of every temperature maximum, in 0.1 C.
	TempMaxInit = -300
	// TempMinInit is the reset value of every temperature minimum, in 0.1 C.
	TempMinInit = 1000
	// CapMinInit is the reset value of the capacity minimum, in mAh.
	CapMinInit = 0xFFFF
)

type fieldInfo struct {
	name string
	kind Kind
	init int
}

func counter(name string) fieldInfo { return fieldInfo{name: name, kind: KindCounter} }
func value(name string) fieldInfo   { return fieldInfo{name: name, kind: KindValue} }
func tmax(name string) fieldInfo    { return fieldInfo{name: name, kind: KindMax, init: TempMaxInit} }
func tmin(name string) fieldInfo    { return fieldInfo{name: name, kind: KindMin, init: TempMinInit} }

var fields = [FieldMaxPerDay]fieldInfo{
	FieldResetAlg:               value("RESET_ALG"),
	FieldAlgIndex:               value("ALG_INDEX"),
	FieldFullCount:              {name: "FULL_CNT", kind: KindCounter, init: 1},
	FieldCapMax:                 {name: "CAP_MAX", kind: KindMax},
	FieldCapMin:                 {name: "CAP_MIN", kind: KindMin, init: CapMinInit},
	FieldRechargingCount:        counter("RECHARGING_CNT"),
	FieldValertCount:            counter("VALERT_CNT"),
	FieldCycle:                  value("CYCLE"),
	FieldWireCount:              counter("WIRE_CNT"),
	FieldWirelessCount:          counter("WIRELESS_CNT"),
	FieldHighTempSwelling:       counter("HIGH_SWELLING_CNT"),
	FieldLowTempSwelling:        counter("LOW_SWELLING_CNT"),
	FieldWCHighTempSwelling:     counter("WC_HIGH_SWELLING_CNT"),
	FieldSwellingFullCount:      counter("SWELLING_FULL_CNT"),
	FieldSwellingRecoveryCount:  counter("SWELLING_RECOVERY_CNT"),
	FieldAICLCount:              counter("AICL_CNT"),
	FieldBattTempMax:            tmax("BATT_THM_MAX"),
	FieldBattTempMin:            tmin("BATT_THM_MIN"),
	FieldChgTempMax:             tmax("CHG_THM_MAX"),
	FieldChgTempMin:             tmin("CHG_THM_MIN"),
	FieldWPCTempMax:             tmax("WPC_THM_MAX"),
	FieldWPCTempMin:             tmin("WPC_THM_MIN"),
	FieldUSBTempMax:             tmax("USB_THM_MAX"),
	FieldUSBTempMin:             tmin("USB_THM_MIN"),
	FieldChgBattTempMax:         tmax("CHG_BATT_THM_MAX"),
	FieldChgBattTempMin:         tmin("CHG_BATT_THM_MIN"),
	FieldChgChgTempMax:          tmax("CHG_CHG_THM_MAX"),
	FieldChgChgTempMin:          tmin("CHG_CHG_THM_MIN"),
	FieldChgWPCTempMax:          tmax("CHG_WPC_THM_MAX"),
	FieldChgWPCTempMin:          tmin("CHG_WPC_THM_MIN"),
	FieldChgUSBTempMax:          tmax("CHG_USB_THM_MAX"),
	FieldChgUSBTempMin:          tmin("CHG_USB_THM_MIN"),
	FieldUSBOverheatRapidChange: counter("USB_OVERHEAT_RAPID"),
	FieldUSBOverheatAlone:       counter("USB_OVERHEAT_ALONE"),
	FieldUnsafeVoltage:          counter("UNSAFE_VOLT"),
	FieldUnsafeTemperature:      counter("UNSAFE_TEMP"),
	FieldSafetyTimer:            counter("SAFETY_TIMER"),
	FieldVsysOVP:                counter("VSYS_OVP"),
	FieldVbatOVP:                counter("VBAT_OVP"),
	FieldASOC:                   value("ASOC"),
	FieldCapNom:                 value("CAP_NOM"),
}

// perDay maps a lifetime field to its per-day mirror.
var perDay = map[Field]Field{
	FieldFullCount:              FieldFullCountPerDay,
	FieldCapMax:                 FieldCapMaxPerDay,
	FieldCapMin:                 FieldCapMinPerDay,
	FieldRechargingCount:        FieldRechargingCountPerDay,
	FieldValertCount:            FieldValertCountPerDay,
	FieldWireCount:              FieldWireCountPerDay,
	FieldWirelessCount:          FieldWirelessCountPerDay,
	FieldHighTempSwelling:       FieldHighTempSwellingPerDay,
	FieldLowTempSwelling:        FieldLowTempSwellingPerDay,
	FieldWCHighTempSwelling:     FieldWCHighTempSwellingPerDay,
	FieldSwellingFullCount:      FieldSwellingFullCountPerDay,
	FieldSwellingRecoveryCount:  FieldSwellingRecoveryCountPerDay,
	FieldAICLCount:              FieldAICLCountPerDay,
	FieldBattTempMax:            FieldBattTempMaxPerDay,
	FieldBattTempMin:            FieldBattTempMinPerDay,
	FieldChgTempMax:             FieldChgTempMaxPerDay,
	FieldChgTempMin:             FieldChgTempMinPerDay,
	FieldWPCTempMax:             FieldWPCTempMaxPerDay,
	FieldWPCTempMin:             FieldWPCTempMinPerDay,
	FieldUSBTempMax:             FieldUSBTempMaxPerDay,
	FieldUSBTempMin:             FieldUSBTempMinPerDay,
	FieldChgBattTempMax:         FieldChgBattTempMaxPerDay,
	FieldChgBattTempMin:         FieldChgBattTempMinPerDay,
	FieldChgChgTempMax:          FieldChgChgTempMaxPerDay,
	FieldChgChgTempMin:          FieldChgChgTempMinPerDay,
	FieldChgWPCTempMax:          FieldChgWPCTempMaxPerDay,
	FieldChgWPCTempMin:          FieldChgWPCTempMinPerDay,
	FieldChgUSBTempMax:          FieldChgUSBTempMaxPerDay,
	FieldChgUSBTempMin:          FieldChgUSBTempMinPerDay,
	FieldUSBOverheatRapidChange: FieldUSBOverheatRapidChangePerDay,
	FieldUSBOverheatAlone:       FieldUSBOverheatAlonePerDay,
	FieldUnsafeVoltage:          FieldUnsafeVoltagePerDay,
	FieldUnsafeTemperature:      FieldUnsafeTemperaturePerDay,
	FieldSafetyTimer:            FieldSafetyTimerPerDay,
	FieldVsysOVP:                FieldVsysOVPPerDay,
	FieldVbatOVP:                FieldVbatOVPPerDay,
}

func init() {
	// Per-day entries inherit name suffix, kind and reset value from their
	// lifetime counterpart.
	for life, day := range perDay {
		info := fields[life]
		info.name += "_D"
		fields[day] = info
	}
}

// Valid reports whether f indexes the ledger data array.
func (f Field) Valid() bool {
	return f >= FieldResetAlg && f < FieldMaxPerDay
}

// IsPerDay reports whether f belongs to the per-day section.
func (f Field) IsPerDay() bool {
	return f >= FieldMax && f < FieldMaxPerDay
}

// Kind returns the update polarity of f.
func (f Field) Kind() Kind {
	if !f.Valid() {
		return KindValue
	}
	return fields[f].kind
}

// PerDay returns the per-day mirror of a lifetime field.
func (f Field) PerDay() (Field, bool) {
	d, ok := perDay[f]
	return d, ok
}

func (f Field) String() string {
	if !f.Valid() {
		return fmt.Sprintf("Field(%d)", int(f))
	}
	return fields[f].name
}

// ParseField looks a field up by its exported name.
func ParseField(name string) (Field, bool) {
	for i := FieldResetAlg; i < FieldMaxPerDay; i++ {
		if fields[i].name == name {
			return i, true
		}
	}
	return 0, false
}
