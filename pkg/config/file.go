package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/chgd/pkg/arbiter"
	"github.com/charlie0129/chgd/pkg/cisd"
	"github.com/charlie0129/chgd/pkg/types"
	"github.com/charlie0129/chgd/pkg/utils/ptr"
)

var (
	defaultFileConfig = &RawFileConfig{
		Driver:                         ptr.To("mock"),
		I2CBus:                         ptr.To(""),
		FuelGaugeAddr:                  ptr.To(uint16(0x36)),
		ChargerAddr:                    ptr.To(uint16(0x6b)),
		LedgerPath:                     ptr.To("/var/lib/chgd/cisd.json"),
		PollingIntervalSeconds:         ptr.To(30),
		ChargingPollingIntervalSeconds: ptr.To(10),
		FullCheckCount:                 ptr.To(3),
		FullVoltageThreshold:           ptr.To(4300),
		RechargeVoltageThreshold:       ptr.To(4280),
		MaxVoltageThreshold:            ptr.To(4400),
		OverVoltageCheckCount:          ptr.To(2),
		TempCheckCount:                 ptr.To(2),
		TempHighThreshold:              ptr.To(500),
		TempHighRecovery:               ptr.To(450),
		TempLowThreshold:               ptr.To(0),
		TempLowRecovery:                ptr.To(30),
		USBOverheatTemperature:         ptr.To(800),
		SwellingEnabled:                ptr.To(true),
		SwellingHighTempBlock:          ptr.To(410),
		SwellingHighTempRecovery:       ptr.To(390),
		SwellingLowTempBlock:           ptr.To(50),
		SwellingLowTempRecovery:        ptr.To(100),
		SwellingRechargeVoltage:        ptr.To(4150),
		SwellingHighChargingCurrent:    ptr.To(1000),
		SwellingLowChargingCurrent:     ptr.To(500),
		SafetyTimerSeconds:             ptr.To(36000),
		RechargeSafetyTimerSeconds:     ptr.To(5400),
		MaxInputCurrent:                ptr.To(3000),
		MaxChargingCurrent:             ptr.To(3150),
		BatteryFullCapacity:            ptr.To(4000),
		CISDAlgIndex:                   ptr.To(cisd.DefaultAlgIndex),
		ReportAbnormalEvents:           ptr.To(true),
		AllowNonRootAccess:             ptr.To(false),
	}
)

var _ Config = &File{}

type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = &RawFileConfig{}
	}

	f := &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}

	return f
}

type RawFileConfig struct {
	Driver        *string `json:"driver,omitempty"`
	I2CBus        *string `json:"i2cBus,omitempty"`
	FuelGaugeAddr *uint16 `json:"fuelGaugeAddr,omitempty"`
	ChargerAddr   *uint16 `json:"chargerAddr,omitempty"`
	LedgerPath    *string `json:"ledgerPath,omitempty"`

	PollingIntervalSeconds         *int `json:"pollingIntervalSeconds,omitempty"`
	ChargingPollingIntervalSeconds *int `json:"chargingPollingIntervalSeconds,omitempty"`

	FullCheckCount           *int `json:"fullCheckCount,omitempty"`
	FullVoltageThreshold     *int `json:"fullVoltageThreshold,omitempty"`
	RechargeVoltageThreshold *int `json:"rechargeVoltageThreshold,omitempty"`
	MaxVoltageThreshold      *int `json:"maxVoltageThreshold,omitempty"`
	OverVoltageCheckCount    *int `json:"overVoltageCheckCount,omitempty"`

	TempCheckCount         *int `json:"tempCheckCount,omitempty"`
	TempHighThreshold      *int `json:"tempHighThreshold,omitempty"`
	TempHighRecovery       *int `json:"tempHighRecovery,omitempty"`
	TempLowThreshold       *int `json:"tempLowThreshold,omitempty"`
	TempLowRecovery        *int `json:"tempLowRecovery,omitempty"`
	USBOverheatTemperature *int `json:"usbOverheatTemperature,omitempty"`

	SwellingEnabled             *bool `json:"swellingEnabled,omitempty"`
	SwellingHighTempBlock       *int  `json:"swellingHighTempBlock,omitempty"`
	SwellingHighTempRecovery    *int  `json:"swellingHighTempRecovery,omitempty"`
	SwellingLowTempBlock        *int  `json:"swellingLowTempBlock,omitempty"`
	SwellingLowTempRecovery     *int  `json:"swellingLowTempRecovery,omitempty"`
	SwellingRechargeVoltage     *int  `json:"swellingRechargeVoltage,omitempty"`
	SwellingHighChargingCurrent *int  `json:"swellingHighChargingCurrent,omitempty"`
	SwellingLowChargingCurrent  *int  `json:"swellingLowChargingCurrent,omitempty"`

	SafetyTimerSeconds         *int `json:"safetyTimerSeconds,omitempty"`
	RechargeSafetyTimerSeconds *int `json:"rechargeSafetyTimerSeconds,omitempty"`

	MaxInputCurrent    *int `json:"maxInputCurrent,omitempty"`
	MaxChargingCurrent *int `json:"maxChargingCurrent,omitempty"`
	// ChargingCurrents overrides rows of the default current table, keyed by
	// cable type name.
	ChargingCurrents map[string]arbiter.Currents `json:"chargingCurrents,omitempty"`

	BatteryFullCapacity  *int  `json:"batteryFullCapacity,omitempty"`
	CISDAlgIndex         *int  `json:"cisdAlgIndex,omitempty"`
	ReportAbnormalEvents *bool `json:"reportAbnormalEvents,omitempty"`
	AllowNonRootAccess   *bool `json:"allowNonRootAccess,omitempty"`
}

// get returns the configured value selected by pick, falling back to the
// default.
func get[T any](f *File, pick func(c *RawFileConfig) *T) T {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return ptr.Deref(pick(f.c), *pick(defaultFileConfig))
}

func seconds(s int) time.Duration {
	return time.Duration(s) * time.Second
}

func (f *File) Driver() string {
	return get(f, func(c *RawFileConfig) *string { return c.Driver })
}

func (f *File) I2CBus() string {
	return get(f, func(c *RawFileConfig) *string { return c.I2CBus })
}

func (f *File) FuelGaugeAddr() uint16 {
	return get(f, func(c *RawFileConfig) *uint16 { return c.FuelGaugeAddr })
}

func (f *File) ChargerAddr() uint16 {
	return get(f, func(c *RawFileConfig) *uint16 { return c.ChargerAddr })
}

func (f *File) LedgerPath() string {
	return get(f, func(c *RawFileConfig) *string { return c.LedgerPath })
}

func (f *File) PollingInterval() time.Duration {
	return seconds(get(f, func(c *RawFileConfig) *int { return c.PollingIntervalSeconds }))
}

func (f *File) ChargingPollingInterval() time.Duration {
	return seconds(get(f, func(c *RawFileConfig) *int { return c.ChargingPollingIntervalSeconds }))
}

func (f *File) FullCheckCount() int {
	return get(f, func(c *RawFileConfig) *int { return c.FullCheckCount })
}

func (f *File) FullVoltageThreshold() int {
	return get(f, func(c *RawFileConfig) *int { return c.FullVoltageThreshold })
}

func (f *File) RechargeVoltageThreshold() int {
	return get(f, func(c *RawFileConfig) *int { return c.RechargeVoltageThreshold })
}

func (f *File) MaxVoltageThreshold() int {
	return get(f, func(c *RawFileConfig) *int { return c.MaxVoltageThreshold })
}

func (f *File) OverVoltageCheckCount() int {
	return get(f, func(c *RawFileConfig) *int { return c.OverVoltageCheckCount })
}

func (f *File) TempCheckCount() int {
	return get(f, func(c *RawFileConfig) *int { return c.TempCheckCount })
}

func (f *File) TempHighThreshold() int {
	return get(f, func(c *RawFileConfig) *int { return c.TempHighThreshold })
}

func (f *File) TempHighRecovery() int {
	return get(f, func(c *RawFileConfig) *int { return c.TempHighRecovery })
}

func (f *File) TempLowThreshold() int {
	return get(f, func(c *RawFileConfig) *int { return c.TempLowThreshold })
}

func (f *File) TempLowRecovery() int {
	return get(f, func(c *RawFileConfig) *int { return c.TempLowRecovery })
}

func (f *File) USBOverheatTemperature() int {
	return get(f, func(c *RawFileConfig) *int { return c.USBOverheatTemperature })
}

func (f *File) SwellingEnabled() bool {
	return get(f, func(c *RawFileConfig) *bool { return c.SwellingEnabled })
}

func (f *File) SwellingHighTempBlock() int {
	return get(f, func(c *RawFileConfig) *int { return c.SwellingHighTempBlock })
}

func (f *File) SwellingHighTempRecovery() int {
	return get(f, func(c *RawFileConfig) *int { return c.SwellingHighTempRecovery })
}

func (f *File) SwellingLowTempBlock() int {
	return get(f, func(c *RawFileConfig) *int { return c.SwellingLowTempBlock })
}

func (f *File) SwellingLowTempRecovery() int {
	return get(f, func(c *RawFileConfig) *int { return c.SwellingLowTempRecovery })
}

func (f *File) SwellingRechargeVoltage() int {
	return get(f, func(c *RawFileConfig) *int { return c.SwellingRechargeVoltage })
}

func (f *File) SwellingHighChargingCurrent() int {
	return get(f, func(c *RawFileConfig) *int { return c.SwellingHighChargingCurrent })
}

func (f *File) SwellingLowChargingCurrent() int {
	return get(f, func(c *RawFileConfig) *int { return c.SwellingLowChargingCurrent })
}

func (f *File) SafetyTimer() time.Duration {
	return seconds(get(f, func(c *RawFileConfig) *int { return c.SafetyTimerSeconds }))
}

func (f *File) RechargeSafetyTimer() time.Duration {
	return seconds(get(f, func(c *RawFileConfig) *int { return c.RechargeSafetyTimerSeconds }))
}

func (f *File) MaxInputCurrent() int {
	return get(f, func(c *RawFileConfig) *int { return c.MaxInputCurrent })
}

func (f *File) MaxChargingCurrent() int {
	return get(f, func(c *RawFileConfig) *int { return c.MaxChargingCurrent })
}

// CurrentTable returns the default table with the configured rows applied.
// Rows for unknown cable names are skipped.
func (f *File) CurrentTable() arbiter.Table {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	table := arbiter.DefaultTable()
	for name, row := range f.c.ChargingCurrents {
		cable, err := types.ParseCableType(name)
		if err != nil {
			logrus.WithField("cable", name).Warn("ignoring charging currents of unknown cable type")
			continue
		}
		table[cable] = row
	}

	return table
}

func (f *File) BatteryFullCapacity() int {
	return get(f, func(c *RawFileConfig) *int { return c.BatteryFullCapacity })
}

func (f *File) CISDAlgIndex() int {
	return get(f, func(c *RawFileConfig) *int { return c.CISDAlgIndex })
}

func (f *File) ReportAbnormalEvents() bool {
	return get(f, func(c *RawFileConfig) *bool { return c.ReportAbnormalEvents })
}

func (f *File) AllowNonRootAccess() bool {
	return get(f, func(c *RawFileConfig) *bool { return c.AllowNonRootAccess })
}

func (f *File) SetReportAbnormalEvents(b bool) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.c.ReportAbnormalEvents = &b
}

func (f *File) SetLedgerPath(p string) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.c.LedgerPath = &p
}

func (f *File) SetAllowNonRootAccess(b bool) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.c.AllowNonRootAccess = &b
}

// Validate checks that thresholds are ordered so that every latch has a
// reachable recovery.
func (f *File) Validate() error {
	checks := []struct {
		ok  bool
		msg string
	}{
		{f.PollingInterval() > 0 && f.ChargingPollingInterval() > 0, "polling intervals must be positive"},
		{f.FullCheckCount() > 0, "fullCheckCount must be positive"},
		{f.OverVoltageCheckCount() > 0, "overVoltageCheckCount must be positive"},
		{f.TempCheckCount() > 0, "tempCheckCount must be positive"},
		{f.RechargeVoltageThreshold() < f.FullVoltageThreshold(), "rechargeVoltageThreshold must be below fullVoltageThreshold"},
		{f.FullVoltageThreshold() < f.MaxVoltageThreshold(), "fullVoltageThreshold must be below maxVoltageThreshold"},
		{f.TempHighRecovery() < f.TempHighThreshold(), "tempHighRecovery must be below tempHighThreshold"},
		{f.TempLowThreshold() < f.TempLowRecovery(), "tempLowThreshold must be below tempLowRecovery"},
		{f.SwellingHighTempRecovery() < f.SwellingHighTempBlock(), "swellingHighTempRecovery must be below swellingHighTempBlock"},
		{f.SwellingLowTempBlock() < f.SwellingLowTempRecovery(), "swellingLowTempBlock must be below swellingLowTempRecovery"},
		{f.MaxInputCurrent() > 0 && f.MaxChargingCurrent() > 0, "device maximum currents must be positive"},
		{f.BatteryFullCapacity() > 0, "batteryFullCapacity must be positive"},
	}

	var msgs []string
	for _, c := range checks {
		if !c.ok {
			msgs = append(msgs, c.msg)
		}
	}
	if len(msgs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
	}
	return nil
}

func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// If the file does not exist, return the empty config.
			// Do not make f.c a nil.
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	// Since we want to tell if the file is empty, using json.Decoder will
	// not work.
	b, err := io.ReadAll(fp)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}

	if strings.TrimSpace(string(b)) == "" {
		f.c = &RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	err = json.Unmarshal(b, &conf)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}

	// Validate a candidate so a bad reload keeps the running config.
	candidate := NewFileFromConfig(&conf, f.filepath)
	if err := candidate.Validate(); err != nil {
		return pkgerrors.Wrapf(err, "config file %s rejected", f.filepath)
	}
	f.c = &conf

	return nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	fp, err := os.OpenFile(f.filepath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	enc := json.NewEncoder(fp)
	enc.SetIndent("", "  ")
	err = enc.Encode(f.c)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}

	return nil
}

// Raw returns a copy of the raw configuration with every default filled in.
func (f *File) Raw() *RawFileConfig {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	currents := make(map[string]arbiter.Currents, len(f.c.ChargingCurrents))
	for k, v := range f.c.ChargingCurrents {
		currents[k] = v
	}
	f.mu.RUnlock()

	return &RawFileConfig{
		Driver:                         ptr.To(f.Driver()),
		I2CBus:                         ptr.To(f.I2CBus()),
		FuelGaugeAddr:                  ptr.To(f.FuelGaugeAddr()),
		ChargerAddr:                    ptr.To(f.ChargerAddr()),
		LedgerPath:                     ptr.To(f.LedgerPath()),
		PollingIntervalSeconds:         ptr.To(int(f.PollingInterval() / time.Second)),
		ChargingPollingIntervalSeconds: ptr.To(int(f.ChargingPollingInterval() / time.Second)),
		FullCheckCount:                 ptr.To(f.FullCheckCount()),
		FullVoltageThreshold:           ptr.To(f.FullVoltageThreshold()),
		RechargeVoltageThreshold:       ptr.To(f.RechargeVoltageThreshold()),
		MaxVoltageThreshold:            ptr.To(f.MaxVoltageThreshold()),
		OverVoltageCheckCount:          ptr.To(f.OverVoltageCheckCount()),
		TempCheckCount:                 ptr.To(f.TempCheckCount()),
		TempHighThreshold:              ptr.To(f.TempHighThreshold()),
		TempHighRecovery:               ptr.To(f.TempHighRecovery()),
		TempLowThreshold:               ptr.To(f.TempLowThreshold()),
		TempLowRecovery:                ptr.To(f.TempLowRecovery()),
		USBOverheatTemperature:         ptr.To(f.USBOverheatTemperature()),
		SwellingEnabled:                ptr.To(f.SwellingEnabled()),
		SwellingHighTempBlock:          ptr.To(f.SwellingHighTempBlock()),
		SwellingHighTempRecovery:       ptr.To(f.SwellingHighTempRecovery()),
		SwellingLowTempBlock:           ptr.To(f.SwellingLowTempBlock()),
		SwellingLowTempRecovery:        ptr.To(f.SwellingLowTempRecovery()),
		SwellingRechargeVoltage:        ptr.To(f.SwellingRechargeVoltage()),
		SwellingHighChargingCurrent:    ptr.To(f.SwellingHighChargingCurrent()),
		SwellingLowChargingCurrent:     ptr.To(f.SwellingLowChargingCurrent()),
		SafetyTimerSeconds:             ptr.To(int(f.SafetyTimer() / time.Second)),
		RechargeSafetyTimerSeconds:     ptr.To(int(f.RechargeSafetyTimer() / time.Second)),
		MaxInputCurrent:                ptr.To(f.MaxInputCurrent()),
		MaxChargingCurrent:             ptr.To(f.MaxChargingCurrent()),
		ChargingCurrents:               currents,
		BatteryFullCapacity:            ptr.To(f.BatteryFullCapacity()),
		CISDAlgIndex:                   ptr.To(f.CISDAlgIndex()),
		ReportAbnormalEvents:           ptr.To(f.ReportAbnormalEvents()),
		AllowNonRootAccess:             ptr.To(f.AllowNonRootAccess()),
	}
}

func (f *File) LogrusFields() logrus.Fields {
	if f.c == nil {
		panic("config is nil")
	}

	return logrus.Fields{
		"driver":               f.Driver(),
		"ledgerPath":           f.LedgerPath(),
		"pollingInterval":      f.PollingInterval().String(),
		"fullCheckCount":       f.FullCheckCount(),
		"fullVoltage":          f.FullVoltageThreshold(),
		"rechargeVoltage":      f.RechargeVoltageThreshold(),
		"maxVoltage":           f.MaxVoltageThreshold(),
		"swellingEnabled":      f.SwellingEnabled(),
		"safetyTimer":          f.SafetyTimer().String(),
		"cisdAlgIndex":         f.CISDAlgIndex(),
		"reportAbnormalEvents": f.ReportAbnormalEvents(),
		"allowNonRootAccess":   f.AllowNonRootAccess(),
	}
}
