package config

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/chgd/pkg/arbiter"
)

type Config interface {
	// Driver selects the hardware backend: "i2c", "host" or "mock".
	Driver() string
	I2CBus() string
	FuelGaugeAddr() uint16
	ChargerAddr() uint16
	LedgerPath() string

	PollingInterval() time.Duration
	ChargingPollingInterval() time.Duration

	FullCheckCount() int
	FullVoltageThreshold() int
	RechargeVoltageThreshold() int
	MaxVoltageThreshold() int
	OverVoltageCheckCount() int

	TempCheckCount() int
	TempHighThreshold() int
	TempHighRecovery() int
	TempLowThreshold() int
	TempLowRecovery() int
	USBOverheatTemperature() int

	SwellingEnabled() bool
	SwellingHighTempBlock() int
	SwellingHighTempRecovery() int
	SwellingLowTempBlock() int
	SwellingLowTempRecovery() int
	SwellingRechargeVoltage() int
	SwellingHighChargingCurrent() int
	SwellingLowChargingCurrent() int

	SafetyTimer() time.Duration
	RechargeSafetyTimer() time.Duration

	MaxInputCurrent() int
	MaxChargingCurrent() int
	CurrentTable() arbiter.Table

	BatteryFullCapacity() int
	CISDAlgIndex() int
	ReportAbnormalEvents() bool
	AllowNonRootAccess() bool

	SetReportAbnormalEvents(bool)
	SetAllowNonRootAccess(bool)

	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error

	LogrusFields() logrus.Fields
}
