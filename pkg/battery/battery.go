// Package battery implements the charging state machine. A Battery owns the
// statistics ledger, the protection evaluator and the adapters, and every
// decision it takes is serialized behind one mutex.
package battery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/chgd/pkg/arbiter"
	"github.com/charlie0129/chgd/pkg/cisd"
	"github.com/charlie0129/chgd/pkg/config"
	"github.com/charlie0129/chgd/pkg/events"
	"github.com/charlie0129/chgd/pkg/protect"
	"github.com/charlie0129/chgd/pkg/types"
)

type FuelGauge interface {
	ReadTelemetry(ctx context.Context) (types.Telemetry, error)
	ReadCapacity(ctx context.Context, kind types.CapacityKind) (int, error)
}

type Charger interface {
	SetInputCurrent(ctx context.Context, mA int) error
	SetChargingCurrent(ctx context.Context, mA int) error
	SetTopoffCurrent(ctx context.Context, mA int) error
	SetChargeMode(ctx context.Context, mode types.ChargeMode) error
	AssertVbatOVP(ctx context.Context, assert bool) error
	Health(ctx context.Context) (types.Health, error)
}

type Reporter = protect.Reporter

// Publisher receives state change notifications. *events.EventHub
// implements it.
type Publisher interface {
	Publish(name string, payload any)
}

type Option func(*Battery)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Battery) {
		b.now = now
	}
}

func WithPublisher(p Publisher) Option {
	return func(b *Battery) {
		b.publisher = p
	}
}

// Battery is the charging state machine.
type Battery struct {
	mu sync.Mutex

	conf      config.Config
	ledger    *cisd.Ledger
	gauge     FuelGauge
	charger   Charger
	reporter  Reporter
	publisher Publisher
	now       func() time.Time

	evaluator *protect.Evaluator
	thermal   *protect.ThermalMonitor

	status     types.Status
	health     types.Health
	chargeMode types.ChargeMode
	swelling   types.SwellingMode

	// main holds the wired source, sub the wireless one.
	main types.CableInfo
	sub  types.CableInfo

	siopLevel int
	telemetry types.Telemetry
	lastCheck time.Time

	fullCheckCount  int
	isRecharging    bool
	chargingStart   time.Time
	safetyExpired   bool
	vbusHealth      types.Health
	swellingCeiling int

	// currents caches what the charger was last programmed with.
	currents  arbiter.Currents
	sessionID string
}

// New returns a Battery with no cable attached. reporter may be nil.
func New(conf config.Config, ledger *cisd.Ledger, gauge FuelGauge, charger Charger, reporter Reporter, opts ...Option) *Battery {
	b := &Battery{
		conf:       conf,
		ledger:     ledger,
		gauge:      gauge,
		charger:    charger,
		reporter:   reporter,
		now:        time.Now,
		status:     types.StatusDischarging,
		health:     types.HealthGood,
		vbusHealth: types.HealthGood,
		chargeMode: types.ChargeModeChargingOff,
		siopLevel:  100,
		main:       types.CableInfo{CableType: types.CableNone},
		sub:        types.CableInfo{CableType: types.CableNone},
		sessionID:  uuid.NewString(),
	}
	for _, opt := range opts {
		opt(b)
	}

	b.evaluator = protect.NewEvaluator(conf, ledger, gauge, charger, reporterFunc(b.reportAbnormal))
	b.thermal = protect.NewThermalMonitor(conf)

	return b
}

type reporterFunc func(tag string)

func (f reporterFunc) ReportAbnormal(tag string) { f(tag) }

// Ledger returns the statistics ledger owned by the battery.
func (b *Battery) Ledger() *cisd.Ledger {
	return b.ledger
}

// State is a point-in-time copy of the state machine.
type State struct {
	Status      types.Status       `json:"status"`
	Health      types.Health       `json:"health"`
	ChargeMode  types.ChargeMode   `json:"chargeMode"`
	Swelling    types.SwellingMode `json:"swelling"`
	Protection  protect.State      `json:"protection"`
	USBOverheat bool               `json:"usbOverheat"`

	Cable     types.CableInfo `json:"cable"`
	MainCable types.CableInfo `json:"mainCable"`
	SubCable  types.CableInfo `json:"subCable"`

	Telemetry types.Telemetry  `json:"telemetry"`
	Currents  arbiter.Currents `json:"currents"`
	SIOPLevel int              `json:"siopLevel"`

	FullCheckCount int        `json:"fullCheckCount"`
	Recharging     bool       `json:"recharging"`
	ChargingSince  *time.Time `json:"chargingSince,omitempty"`
	LastCheck      time.Time  `json:"lastCheck"`
	SessionID      string     `json:"sessionId"`
}

func (b *Battery) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := State{
		Status:         b.status,
		Health:         b.health,
		ChargeMode:     b.chargeMode,
		Swelling:       b.swelling,
		Protection:     b.evaluator.State(),
		USBOverheat:    b.evaluator.USBOverheat(),
		Cable:          b.selected(),
		MainCable:      b.main,
		SubCable:       b.sub,
		Telemetry:      b.telemetry,
		Currents:       b.currents,
		SIOPLevel:      b.siopLevel,
		FullCheckCount: b.fullCheckCount,
		Recharging:     b.isRecharging,
		LastCheck:      b.lastCheck,
		SessionID:      b.sessionID,
	}
	if !b.chargingStart.IsZero() {
		t := b.chargingStart
		s.ChargingSince = &t
	}
	return s
}

// PollingInterval is the monitor period, shorter while a charger is attached.
func (b *Battery) PollingInterval() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.selected().CableType.IsChargeable() {
		return b.conf.ChargingPollingInterval()
	}
	return b.conf.PollingInterval()
}

// selected is the slot charging is drawn from: the wired source when it can
// charge, the wireless one otherwise.
func (b *Battery) selected() types.CableInfo {
	if b.main.CableType.IsChargeable() {
		return b.main
	}
	if b.sub.CableType.IsChargeable() {
		return b.sub
	}
	return b.main
}

// OnCableChanged applies an attach or renegotiation event from the cable
// adapter.
func (b *Battery) OnCableChanged(ctx context.Context, info types.CableInfo) error {
	if err := info.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	slot := &b.main
	if info.CableType.IsWireless() {
		slot = &b.sub
	}
	prev := slot.CableType
	*slot = info

	logrus.WithFields(logrus.Fields{
		"cable":    info.CableType,
		"previous": prev,
		"power":    info.AvailablePower(),
	}).Info("cable changed")

	if info.CableType.IsChargeable() && info.CableType != prev {
		b.countAttach(info)
	}

	ev := events.CableEvent{
		Cable:    info.CableType.String(),
		Attached: true,
		Power:    info.AvailablePower(),
		Ts:       b.now().Unix(),
	}
	if info.CableType == types.CableNone {
		ev = events.CableEvent{Cable: prev.String(), Ts: ev.Ts}
	}
	b.publish(events.CableChanged, ev)

	if b.main.CableType == types.CableNone && b.sub.CableType == types.CableNone {
		return b.beginNewChargeSession(ctx)
	}
	return b.reevaluate(ctx)
}

// OnDetach clears the wired or the wireless slot. Detaching the last source
// starts a new charge session.
func (b *Battery) OnDetach(ctx context.Context, wireless bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	slot := &b.main
	if wireless {
		slot = &b.sub
	}
	prev := slot.CableType
	*slot = types.CableInfo{CableType: types.CableNone}

	logrus.WithFields(logrus.Fields{
		"cable":    prev,
		"wireless": wireless,
	}).Info("cable detached")

	b.publish(events.CableChanged, events.CableEvent{
		Cable: prev.String(),
		Ts:    b.now().Unix(),
	})

	if b.main.CableType == types.CableNone && b.sub.CableType == types.CableNone {
		return b.beginNewChargeSession(ctx)
	}
	return b.reevaluate(ctx)
}

func (b *Battery) countAttach(info types.CableInfo) {
	for _, c := range cisd.CableCountersFor(info) {
		_ = b.ledger.CountCable(c)
	}
	b.ledger.CountPowerBucket(info.AvailablePower())

	if info.CableType.IsWireless() {
		_ = b.ledger.Count(cisd.FieldWirelessCount)
	} else {
		_ = b.ledger.Count(cisd.FieldWireCount)
	}
}

// OnPadAuthenticated records the id of an authenticated wireless pad.
func (b *Battery) OnPadAuthenticated(id int) error {
	if !b.ledger.CountPad(id) {
		return fmt.Errorf("pad id 0x%x out of range", id)
	}
	return nil
}

// OnTXEvent records a wireless power sharing event.
func (b *Battery) OnTXEvent(c cisd.TXCounter) error {
	return b.ledger.CountTX(c)
}

// OnProtocolEvent records a charger protocol event.
func (b *Battery) OnProtocolEvent(c cisd.EventCounter) error {
	return b.ledger.CountEvent(c)
}

// SetSIOPLevel derates the input and charging currents to level percent.
func (b *Battery) SetSIOPLevel(ctx context.Context, level int) error {
	if level < 0 || level > 100 {
		return fmt.Errorf("siop level %d out of range [0, 100]", level)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if level != b.siopLevel {
		logrus.WithFields(logrus.Fields{
			"from": b.siopLevel,
			"to":   level,
		}).Info("siop level changed")
	}
	b.siopLevel = level

	if b.status == types.StatusCharging {
		return b.applyCurrents(ctx)
	}
	return nil
}

// BeginNewChargeSession clears every latch, debounce counter and timer, and
// re-derives the status from the attached cable.
func (b *Battery) BeginNewChargeSession(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.beginNewChargeSession(ctx)
}

func (b *Battery) beginNewChargeSession(ctx context.Context) error {
	wasLatched := b.evaluator.State().Has(protect.StateOverVoltage)

	b.evaluator.ClearLatches()
	b.thermal.Reset()
	b.fullCheckCount = 0
	b.isRecharging = false
	b.chargingStart = time.Time{}
	b.safetyExpired = false
	b.vbusHealth = types.HealthGood
	b.swelling = types.SwellingNone
	b.currents = arbiter.Currents{}
	b.setHealth(types.HealthGood)
	b.sessionID = uuid.NewString()

	logrus.WithField("session", b.sessionID).Info("new charge session")
	b.publish(events.SessionStarted, events.SessionEvent{ID: b.sessionID, Ts: b.now().Unix()})

	if wasLatched {
		if err := b.charger.AssertVbatOVP(ctx, false); err != nil {
			logrus.WithError(err).Error("failed to release vbat ovp")
		}
	}

	return b.enter(ctx, b.deriveStatus())
}

func (b *Battery) reportAbnormal(tag string) {
	logrus.WithField("tag", tag).Warn("abnormal battery condition")
	if b.reporter != nil {
		b.reporter.ReportAbnormal(tag)
	}
}

func (b *Battery) publish(name string, payload any) {
	if b.publisher != nil {
		b.publisher.Publish(name, payload)
	}
}
