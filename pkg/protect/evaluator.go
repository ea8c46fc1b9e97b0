// Package protect watches battery telemetry for conditions that must stop
// charging and folds the readings into the statistics ledger.
package protect

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/chgd/pkg/cisd"
	"github.com/charlie0129/chgd/pkg/types"
)

// State is the sticky protection bitmask of a charge session.
type State uint32

const (
	StateOverVoltage State = 1 << iota
)

func (s State) Has(b State) bool {
	return s&b != 0
}

func (s State) String() string {
	if s.Has(StateOverVoltage) {
		return "over_voltage"
	}
	return "normal"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "over_voltage":
		*s = StateOverVoltage
	case "normal":
		*s = 0
	default:
		return fmt.Errorf("unknown protection state %q", b)
	}
	return nil
}

// usbRapidChangeDelta separates a connector heating much faster than the
// cell from one heating with it. 0.1 C.
const usbRapidChangeDelta = 200

// Abnormal event tags.
const (
	TagOverVoltage = "over_voltage"
	TagUSBOverheat = "usb_overheat"
)

type Charger interface {
	AssertVbatOVP(ctx context.Context, assert bool) error
}

type FuelGauge interface {
	ReadCapacity(ctx context.Context, kind types.CapacityKind) (int, error)
}

// Reporter receives abnormal-condition reports. Reports are best effort.
type Reporter interface {
	ReportAbnormal(tag string)
}

// Config is the part of the daemon configuration the evaluator reads.
type Config interface {
	MaxVoltageThreshold() int
	OverVoltageCheckCount() int
	USBOverheatTemperature() int
	BatteryFullCapacity() int
	ReportAbnormalEvents() bool
}

// Input is one monitor sample.
type Input struct {
	Telemetry types.Telemetry
	Status    types.Status
	// CableAttached is true while a charge-capable cable is selected.
	CableAttached bool
}

// Charging reports whether the pack is actively charging.
func (in Input) Charging() bool {
	return in.CableAttached && in.Status == types.StatusCharging
}

// Result is the outcome of one evaluation.
type Result struct {
	// Skipped is set when a capacity read failed and nothing was recorded.
	Skipped bool
	// Latched is set on the sample that latched over-voltage.
	Latched bool
	// USBOverheat is set on the sample that latched usb overheat.
	USBOverheat bool
	State       State
}

// Evaluator holds the protection latches of a charge session. It is not
// safe for concurrent use; the battery state machine serializes calls.
type Evaluator struct {
	conf     Config
	ledger   *cisd.Ledger
	gauge    FuelGauge
	charger  Charger
	reporter Reporter

	state        State
	ovCheckCount int
	usbOverheat  bool
}

// NewEvaluator returns an Evaluator. reporter may be nil.
func NewEvaluator(conf Config, ledger *cisd.Ledger, gauge FuelGauge, charger Charger, reporter Reporter) *Evaluator {
	return &Evaluator{
		conf:     conf,
		ledger:   ledger,
		gauge:    gauge,
		charger:  charger,
		reporter: reporter,
	}
}

func (e *Evaluator) State() State {
	return e.state
}

// USBOverheat reports whether the usb overheat latch is set.
func (e *Evaluator) USBOverheat() bool {
	return e.usbOverheat
}

// ClearLatches drops every latch and debounce counter. It is the only way
// latches are cleared.
func (e *Evaluator) ClearLatches() {
	if e.state != 0 || e.usbOverheat {
		logrus.WithField("state", e.state).Info("clearing protection latches")
	}
	e.state = 0
	e.ovCheckCount = 0
	e.usbOverheat = false
}

// Evaluate runs the protection checks on one sample. The returned error is
// only set when the charger could not be told to stop on an over-voltage
// latch; the Result is valid either way.
func (e *Evaluator) Evaluate(ctx context.Context, in Input) (Result, error) {
	if !in.CableAttached || in.Status == types.StatusDischarging {
		return e.evaluateDischarging(ctx, in)
	}

	var res Result
	var err error

	if e.checkOverVoltage(in.Telemetry.VoltageNow) {
		res.Latched = true
		err = e.latchOverVoltage(ctx, in.Telemetry)
	}

	e.recordTemperatures(in.Telemetry, in.Charging())

	if in.Charging() && !e.usbOverheat && in.Telemetry.UsbTemp > e.conf.USBOverheatTemperature() {
		e.latchUSBOverheat(in.Telemetry)
		res.USBOverheat = true
	}

	res.State = e.state
	return res, err
}

// checkOverVoltage advances the consecutive over-voltage counter and reports
// whether this sample latches.
func (e *Evaluator) checkOverVoltage(voltage int) bool {
	if e.state.Has(StateOverVoltage) {
		return false
	}

	if voltage <= e.conf.MaxVoltageThreshold() {
		e.ovCheckCount = 0
		return false
	}

	e.ovCheckCount++
	logrus.WithFields(logrus.Fields{
		"voltage":   voltage,
		"threshold": e.conf.MaxVoltageThreshold(),
		"count":     e.ovCheckCount,
	}).Debug("battery voltage above threshold")

	return e.ovCheckCount >= e.conf.OverVoltageCheckCount()
}

func (e *Evaluator) latchOverVoltage(ctx context.Context, t types.Telemetry) error {
	e.state |= StateOverVoltage

	logrus.WithFields(logrus.Fields{
		"voltage":   t.VoltageNow,
		"threshold": e.conf.MaxVoltageThreshold(),
	}).Error("battery over voltage, stopping charger")

	_ = e.ledger.Count(cisd.FieldVbatOVP)
	e.report(TagOverVoltage)

	if err := e.charger.AssertVbatOVP(ctx, true); err != nil {
		return fmt.Errorf("failed to assert vbat ovp: %w", err)
	}
	return nil
}

func (e *Evaluator) latchUSBOverheat(t types.Telemetry) {
	e.usbOverheat = true

	field := cisd.FieldUSBOverheatAlone
	if t.UsbTemp-t.Temperature >= usbRapidChangeDelta {
		field = cisd.FieldUSBOverheatRapidChange
	}

	logrus.WithFields(logrus.Fields{
		"usbTemp":  t.UsbTemp,
		"battTemp": t.Temperature,
		"counter":  field,
	}).Warn("usb connector overheat")

	_ = e.ledger.Count(field)
	e.report(TagUSBOverheat)
}

// evaluateDischarging reads the capacities before touching the ledger so that
// a failed read leaves every field as it was.
func (e *Evaluator) evaluateDischarging(ctx context.Context, in Input) (Result, error) {
	full, err := e.gauge.ReadCapacity(ctx, types.CapacityFull)
	if err != nil {
		logrus.WithError(err).Warn("skipping protection checks")
		return Result{Skipped: true, State: e.state}, nil
	}
	aged, err := e.gauge.ReadCapacity(ctx, types.CapacityAged)
	if err != nil {
		logrus.WithError(err).Warn("skipping protection checks")
		return Result{Skipped: true, State: e.state}, nil
	}

	design := e.conf.BatteryFullCapacity()
	if full > 0 && full <= design*11/10 {
		_ = e.ledger.Record(cisd.FieldCapMax, full)
		_ = e.ledger.Record(cisd.FieldCapMin, full)
	}
	if aged > 0 {
		_ = e.ledger.RecordValue(cisd.FieldCapNom, aged)
	}
	if design > 0 {
		_ = e.ledger.RecordValue(cisd.FieldASOC, full*100/design)
	}

	e.recordTemperatures(in.Telemetry, false)

	return Result{State: e.state}, nil
}

var (
	chargingTempFields = [4][2]cisd.Field{
		{cisd.FieldChgBattTempMax, cisd.FieldChgBattTempMin},
		{cisd.FieldChgChgTempMax, cisd.FieldChgChgTempMin},
		{cisd.FieldChgWPCTempMax, cisd.FieldChgWPCTempMin},
		{cisd.FieldChgUSBTempMax, cisd.FieldChgUSBTempMin},
	}
	tempFields = [4][2]cisd.Field{
		{cisd.FieldBattTempMax, cisd.FieldBattTempMin},
		{cisd.FieldChgTempMax, cisd.FieldChgTempMin},
		{cisd.FieldWPCTempMax, cisd.FieldWPCTempMin},
		{cisd.FieldUSBTempMax, cisd.FieldUSBTempMin},
	}
)

func (e *Evaluator) recordTemperatures(t types.Telemetry, charging bool) {
	fields := tempFields
	if charging {
		fields = chargingTempFields
	}

	temps := [4]int{t.Temperature, t.ChgTemp, t.WpcTemp, t.UsbTemp}
	for i, v := range temps {
		_ = e.ledger.Record(fields[i][0], v)
		_ = e.ledger.Record(fields[i][1], v)
	}
}

func (e *Evaluator) report(tag string) {
	if e.reporter == nil || !e.conf.ReportAbnormalEvents() {
		return
	}
	e.reporter.ReportAbnormal(tag)
}
