package battery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlie0129/chgd/pkg/arbiter"
	"github.com/charlie0129/chgd/pkg/cisd"
	"github.com/charlie0129/chgd/pkg/config"
	"github.com/charlie0129/chgd/pkg/events"
	"github.com/charlie0129/chgd/pkg/protect"
	"github.com/charlie0129/chgd/pkg/types"
	"github.com/charlie0129/chgd/pkg/utils/ptr"
)

type fakeGauge struct {
	mu  sync.Mutex
	tel types.Telemetry
	err error
}

func (g *fakeGauge) set(tel types.Telemetry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tel = tel
}

func (g *fakeGauge) ReadTelemetry(_ context.Context) (types.Telemetry, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tel, g.err
}

func (g *fakeGauge) ReadCapacity(_ context.Context, kind types.CapacityKind) (int, error) {
	if kind == types.CapacityAged {
		return 3800, nil
	}
	return 3900, nil
}

type fakeCharger struct {
	input, charging, topoff []int
	modes                   []types.ChargeMode
	ovp                     []bool
	health                  types.Health
}

func (c *fakeCharger) SetInputCurrent(_ context.Context, mA int) error {
	c.input = append(c.input, mA)
	return nil
}

func (c *fakeCharger) SetChargingCurrent(_ context.Context, mA int) error {
	c.charging = append(c.charging, mA)
	return nil
}

func (c *fakeCharger) SetTopoffCurrent(_ context.Context, mA int) error {
	c.topoff = append(c.topoff, mA)
	return nil
}

func (c *fakeCharger) SetChargeMode(_ context.Context, mode types.ChargeMode) error {
	c.modes = append(c.modes, mode)
	return nil
}

func (c *fakeCharger) AssertVbatOVP(_ context.Context, on bool) error {
	c.ovp = append(c.ovp, on)
	return nil
}

func (c *fakeCharger) Health(_ context.Context) (types.Health, error) {
	return c.health, nil
}

func (c *fakeCharger) lastMode() types.ChargeMode {
	return c.modes[len(c.modes)-1]
}

type fixture struct {
	b       *Battery
	gauge   *fakeGauge
	charger *fakeCharger
	ledger  *cisd.Ledger
	now     time.Time
}

func newFixture(t *testing.T, raw *config.RawFileConfig, opts ...Option) *fixture {
	t.Helper()

	f := &fixture{
		gauge:   &fakeGauge{tel: normal()},
		charger: &fakeCharger{},
		ledger:  cisd.New(cisd.DefaultAlgIndex),
		now:     time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
	}
	opts = append([]Option{WithClock(func() time.Time { return f.now })}, opts...)
	f.b = New(config.NewFileFromConfig(raw, ""), f.ledger, f.gauge, f.charger, nil, opts...)
	return f
}

func (f *fixture) monitor(t *testing.T) {
	t.Helper()
	require.NoError(t, f.b.Monitor(context.Background()))
}

func (f *fixture) value(field cisd.Field) int {
	v, _ := f.ledger.Value(field)
	return v
}

// normal is a charging sample far from every threshold.
func normal() types.Telemetry {
	return types.Telemetry{
		VoltageNow:  4000,
		VoltageAvg:  4000,
		VoltageOCV:  4000,
		CurrentNow:  1500,
		CurrentAvg:  1500,
		Temperature: 250,
		ChgTemp:     300,
		WpcTemp:     250,
		UsbTemp:     280,
		Capacity:    60,
	}
}

var ta = types.CableInfo{CableType: types.CableTA, InputVoltage: 5000, ChargePower: 9000}

func TestAttachStartsCharging(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, 30*time.Second, f.b.PollingInterval())

	require.NoError(t, f.b.OnCableChanged(context.Background(), ta))

	s := f.b.State()
	assert.Equal(t, types.StatusCharging, s.Status)
	assert.Equal(t, types.ChargeModeCharging, f.charger.lastMode())
	assert.Equal(t, arbiter.Currents{InputCurrentLimit: 1800, FastChargingCurrent: 2100, TopoffCurrent: 250}, s.Currents)
	assert.Equal(t, []int{1800}, f.charger.input)
	assert.Equal(t, 10*time.Second, f.b.PollingInterval())
	require.NotNil(t, s.ChargingSince)
	assert.Equal(t, f.now, *s.ChargingSince)

	assert.Equal(t, 1, f.ledger.Snapshot().Cable[cisd.CableCounterTA])
	assert.Equal(t, 1, f.value(cisd.FieldWireCount))
	assert.Equal(t, 1, f.value(cisd.FieldWireCountPerDay))
}

func TestNonChargeableCablesDischarge(t *testing.T) {
	for _, cable := range []types.CableType{types.CableOTG, types.CableUnknown, types.CableBattery} {
		t.Run(cable.String(), func(t *testing.T) {
			f := newFixture(t, nil)
			require.NoError(t, f.b.OnCableChanged(context.Background(), types.CableInfo{CableType: cable}))
			assert.Equal(t, types.StatusDischarging, f.b.State().Status)
			assert.Equal(t, 0, f.value(cisd.FieldWireCount))
		})
	}
}

func TestFullAndRecharge(t *testing.T) {
	f := newFixture(t, &config.RawFileConfig{FullCheckCount: ptr.To(3)})
	ctx := context.Background()
	require.NoError(t, f.b.OnCableChanged(ctx, ta))
	fullCountBefore := f.value(cisd.FieldFullCount)

	tail := normal()
	tail.VoltageNow = 4350
	tail.VoltageAvg = 4350
	tail.CurrentNow = 200
	f.gauge.set(tail)

	for i := 0; i < 2; i++ {
		f.monitor(t)
		assert.Equal(t, types.StatusCharging, f.b.State().Status)
		assert.Equal(t, i+1, f.b.State().FullCheckCount)
	}
	f.monitor(t)
	assert.Equal(t, types.StatusFull, f.b.State().Status)
	assert.Equal(t, types.ChargeModeChargingOff, f.charger.lastMode())
	assert.Equal(t, fullCountBefore+1, f.value(cisd.FieldFullCount))

	low := normal()
	low.VoltageNow = 4200
	low.VoltageAvg = 4200
	f.gauge.set(low)

	for i := 0; i < 3; i++ {
		f.monitor(t)
		s := f.b.State()
		assert.Equal(t, types.StatusCharging, s.Status)
		assert.True(t, s.Recharging)
	}
	assert.Equal(t, 1, f.value(cisd.FieldRechargingCount))
	assert.Equal(t, types.ChargeModeCharging, f.charger.lastMode())
}

func TestFullCheckRequiresConsecutiveSamples(t *testing.T) {
	f := newFixture(t, &config.RawFileConfig{FullCheckCount: ptr.To(2)})
	require.NoError(t, f.b.OnCableChanged(context.Background(), ta))

	tail := normal()
	tail.VoltageAvg = 4350
	tail.CurrentNow = 200

	out := tail
	out.CurrentNow = 300

	for _, tel := range []types.Telemetry{tail, out, tail, out} {
		f.gauge.set(tel)
		f.monitor(t)
		assert.Equal(t, types.StatusCharging, f.b.State().Status)
	}
	f.gauge.set(tail)
	f.monitor(t)
	f.monitor(t)
	assert.Equal(t, types.StatusFull, f.b.State().Status)
}

func TestCompareBeforeWrite(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.b.OnCableChanged(ctx, ta))

	f.monitor(t)
	f.monitor(t)
	assert.Len(t, f.charger.input, 1)
	assert.Len(t, f.charger.charging, 1)
	assert.Len(t, f.charger.topoff, 1)

	require.NoError(t, f.b.SetSIOPLevel(ctx, 50))
	assert.Equal(t, []int{1800, 900}, f.charger.input)
	assert.Equal(t, []int{2100, 1050}, f.charger.charging)
	assert.Len(t, f.charger.topoff, 1)

	assert.Error(t, f.b.SetSIOPLevel(ctx, 101))
	assert.Equal(t, 50, f.b.State().SIOPLevel)
}

func TestCableLimitsCapCurrents(t *testing.T) {
	f := newFixture(t, nil)
	pd := types.CableInfo{
		CableType:    types.CablePD,
		InputCurrent: 1500,
		PDOs: []types.PDO{
			{Voltage: 5000, Current: 3000},
			{Voltage: 9000, Current: 3000},
		},
		SelectedPDO: 2,
	}
	require.NoError(t, f.b.OnCableChanged(context.Background(), pd))

	s := f.b.State()
	assert.Equal(t, 1500, s.Currents.InputCurrentLimit)
	assert.Equal(t, 3150, s.Currents.FastChargingCurrent)

	cable := f.ledger.Snapshot().Cable
	assert.Equal(t, 1, cable[cisd.CableCounterPD])
	assert.Equal(t, 1, cable[cisd.CableCounterPDHigh])
	assert.Equal(t, 1, f.ledger.Power().Get(25))
}

func TestOverheatStopsAndRecovers(t *testing.T) {
	f := newFixture(t, &config.RawFileConfig{SwellingEnabled: ptr.To(false)})
	require.NoError(t, f.b.OnCableChanged(context.Background(), ta))

	hot := normal()
	hot.Temperature = 520
	f.gauge.set(hot)

	f.monitor(t)
	assert.Equal(t, types.StatusCharging, f.b.State().Status)
	f.monitor(t)

	s := f.b.State()
	assert.Equal(t, types.StatusNotCharging, s.Status)
	assert.Equal(t, types.HealthOverheat, s.Health)
	assert.Equal(t, types.ChargeModeBuckOff, f.charger.lastMode())
	assert.Equal(t, arbiter.Currents{}, s.Currents)
	assert.Equal(t, 1, f.value(cisd.FieldUnsafeTemperature))

	f.gauge.set(normal())
	f.monitor(t)
	assert.Equal(t, types.StatusNotCharging, f.b.State().Status)
	f.monitor(t)

	s = f.b.State()
	assert.Equal(t, types.StatusCharging, s.Status)
	assert.Equal(t, types.HealthGood, s.Health)
	assert.Equal(t, []int{1800, 1800}, f.charger.input)
	assert.Equal(t, 1, f.value(cisd.FieldUnsafeTemperature))
}

func TestOverVoltageLatchesForSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.b.OnCableChanged(ctx, ta))
	session := f.b.State().SessionID

	high := normal()
	high.VoltageNow = 4450
	f.gauge.set(high)
	f.monitor(t)
	f.monitor(t)

	s := f.b.State()
	assert.Equal(t, types.StatusNotCharging, s.Status)
	assert.Equal(t, types.HealthOverVoltage, s.Health)
	assert.True(t, s.Protection.Has(protect.StateOverVoltage))
	assert.Equal(t, []bool{true}, f.charger.ovp)

	f.gauge.set(normal())
	f.monitor(t)
	f.monitor(t)
	assert.Equal(t, types.StatusNotCharging, f.b.State().Status)

	require.NoError(t, f.b.OnDetach(ctx, false))
	s = f.b.State()
	assert.Equal(t, types.StatusDischarging, s.Status)
	assert.Equal(t, types.HealthGood, s.Health)
	assert.Equal(t, protect.State(0), s.Protection)
	assert.NotEqual(t, session, s.SessionID)
	assert.Equal(t, []bool{true, false}, f.charger.ovp)
}

func TestNoneCableEndsSession(t *testing.T) {
	hub := events.NewEventHub()
	f := newFixture(t, nil, WithPublisher(hub))
	ctx := context.Background()
	require.NoError(t, f.b.OnCableChanged(ctx, ta))
	session := f.b.State().SessionID

	high := normal()
	high.VoltageNow = 4450
	f.gauge.set(high)
	f.monitor(t)
	f.monitor(t)
	require.True(t, f.b.State().Protection.Has(protect.StateOverVoltage))

	ch := hub.Subscribe(events.CableChanged, events.SessionStarted)
	defer hub.Unsubscribe(ch)

	require.NoError(t, f.b.OnCableChanged(ctx, types.CableInfo{CableType: types.CableNone}))
	s := f.b.State()
	assert.Equal(t, types.StatusDischarging, s.Status)
	assert.Equal(t, types.HealthGood, s.Health)
	assert.Equal(t, protect.State(0), s.Protection)
	assert.NotEqual(t, session, s.SessionID)
	assert.Equal(t, []bool{true, false}, f.charger.ovp)

	cable, err := events.DecodeAs[events.CableEvent](<-ch)
	require.NoError(t, err)
	assert.Equal(t, "ta", cable.Cable)
	assert.False(t, cable.Attached)
	assert.Equal(t, events.SessionStarted, (<-ch).Name)
}

func TestChargerInputFault(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.b.OnCableChanged(context.Background(), ta))

	f.charger.health = types.HealthUnderVoltage
	f.monitor(t)
	f.monitor(t)
	assert.Equal(t, types.HealthUnderVoltage, f.b.State().Health)
	assert.Equal(t, types.StatusNotCharging, f.b.State().Status)
	assert.Equal(t, 1, f.value(cisd.FieldUnsafeVoltage))

	f.charger.health = types.HealthGood
	f.monitor(t)
	assert.Equal(t, types.StatusCharging, f.b.State().Status)
}

func TestSafetyTimer(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.b.OnCableChanged(ctx, ta))

	f.now = f.now.Add(9 * time.Hour)
	f.monitor(t)
	assert.Equal(t, types.StatusCharging, f.b.State().Status)

	f.now = f.now.Add(time.Hour)
	f.monitor(t)
	s := f.b.State()
	assert.Equal(t, types.StatusNotCharging, s.Status)
	assert.Equal(t, types.HealthSafetyTimerExpire, s.Health)
	assert.Equal(t, 1, f.value(cisd.FieldSafetyTimer))

	// Only a new session clears an expired timer.
	f.monitor(t)
	assert.Equal(t, types.StatusNotCharging, f.b.State().Status)

	require.NoError(t, f.b.BeginNewChargeSession(ctx))
	s = f.b.State()
	assert.Equal(t, types.StatusCharging, s.Status)
	assert.Equal(t, types.HealthGood, s.Health)
	assert.Equal(t, f.now, *s.ChargingSince)
}

func TestSafetyTimerPausesWhileNotCharging(t *testing.T) {
	f := newFixture(t, &config.RawFileConfig{SwellingEnabled: ptr.To(false)})
	ctx := context.Background()
	require.NoError(t, f.b.OnCableChanged(ctx, ta))

	hot := normal()
	hot.Temperature = 520
	f.gauge.set(hot)
	f.monitor(t)
	f.monitor(t)
	s := f.b.State()
	assert.Equal(t, types.StatusNotCharging, s.Status)
	assert.Nil(t, s.ChargingSince)

	// Time spent with the buck off does not count.
	f.now = f.now.Add(9*time.Hour + 30*time.Minute)
	f.gauge.set(normal())
	f.monitor(t)
	f.monitor(t)
	s = f.b.State()
	assert.Equal(t, types.StatusCharging, s.Status)
	require.NotNil(t, s.ChargingSince)
	assert.Equal(t, f.now, *s.ChargingSince)

	f.now = f.now.Add(time.Hour)
	f.monitor(t)
	s = f.b.State()
	assert.Equal(t, types.StatusCharging, s.Status)
	assert.Equal(t, types.HealthGood, s.Health)
	assert.Equal(t, 0, f.value(cisd.FieldSafetyTimer))
}

func TestSafetyTimerPausesWhileSwellingFull(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.b.OnCableChanged(context.Background(), ta))

	tel := normal()
	tel.Temperature = 420
	tel.VoltageNow = 4260
	f.gauge.set(tel)
	f.monitor(t)
	f.monitor(t)
	require.Equal(t, types.SwellingFull, f.b.State().Swelling)
	assert.Nil(t, f.b.State().ChargingSince)

	f.now = f.now.Add(11 * time.Hour)
	f.monitor(t)
	assert.Equal(t, types.StatusCharging, f.b.State().Status)

	tel.VoltageNow = 4100
	f.gauge.set(tel)
	f.monitor(t)
	s := f.b.State()
	assert.Equal(t, types.SwellingCharging, s.Swelling)
	require.NotNil(t, s.ChargingSince)
	assert.Equal(t, f.now, *s.ChargingSince)
	assert.Equal(t, types.HealthGood, s.Health)
}

func TestTelemetryFailureKeepsState(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.b.OnCableChanged(context.Background(), ta))
	before := f.ledger.Snapshot()

	f.gauge.err = errors.New("bus stuck")
	assert.Error(t, f.b.Monitor(context.Background()))
	assert.Equal(t, types.StatusCharging, f.b.State().Status)
	assert.Equal(t, before, f.ledger.Snapshot())
}

func TestWiredAndWirelessSlots(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.b.OnCableChanged(ctx, ta))
	require.NoError(t, f.b.OnCableChanged(ctx, types.CableInfo{CableType: types.CableWireless}))
	assert.Equal(t, types.CableTA, f.b.State().Cable.CableType)
	assert.Equal(t, 1, f.value(cisd.FieldWirelessCount))

	require.NoError(t, f.b.OnDetach(ctx, false))
	s := f.b.State()
	assert.Equal(t, types.StatusCharging, s.Status)
	assert.Equal(t, types.CableWireless, s.Cable.CableType)
	assert.Equal(t, arbiter.Currents{InputCurrentLimit: 900, FastChargingCurrent: 1200, TopoffCurrent: 200}, s.Currents)

	require.NoError(t, f.b.OnDetach(ctx, true))
	assert.Equal(t, types.StatusDischarging, f.b.State().Status)
}

func TestSwelling(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.b.OnCableChanged(context.Background(), ta))

	tel := normal()
	tel.Temperature = 420
	f.gauge.set(tel)
	f.monitor(t)

	s := f.b.State()
	assert.Equal(t, types.SwellingCharging, s.Swelling)
	assert.Equal(t, 1000, s.Currents.FastChargingCurrent)
	assert.Equal(t, 1, f.value(cisd.FieldHighTempSwelling))

	tel.VoltageNow = 4260
	f.gauge.set(tel)
	f.monitor(t)
	assert.Equal(t, types.SwellingFull, f.b.State().Swelling)
	assert.Equal(t, types.ChargeModeChargingOff, f.charger.lastMode())
	assert.Equal(t, 1, f.value(cisd.FieldSwellingFullCount))

	tel.VoltageNow = 4100
	f.gauge.set(tel)
	f.monitor(t)
	assert.Equal(t, types.SwellingCharging, f.b.State().Swelling)
	assert.Equal(t, types.ChargeModeCharging, f.charger.lastMode())

	tel.Temperature = 380
	f.gauge.set(tel)
	f.monitor(t)
	s = f.b.State()
	assert.Equal(t, types.SwellingNone, s.Swelling)
	assert.Equal(t, 2100, s.Currents.FastChargingCurrent)
	assert.Equal(t, 1, f.value(cisd.FieldSwellingRecoveryCount))
	assert.Equal(t, types.StatusCharging, s.Status)
}

func TestLedgerEvents(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.b.OnPadAuthenticated(0x12))
	assert.Error(t, f.b.OnPadAuthenticated(cisd.MaxPadID))
	assert.Equal(t, 1, f.ledger.Pads().Get(0x12))

	require.NoError(t, f.b.OnTXEvent(cisd.TXCounterBuds))
	assert.Equal(t, 1, f.ledger.Snapshot().TX[cisd.TXCounterBuds])

	require.NoError(t, f.b.OnProtocolEvent(cisd.EventCounterTAOCPDet))
	assert.Equal(t, 1, f.ledger.Snapshot().Event[cisd.EventCounterTAOCPDet])
	assert.Error(t, f.b.OnProtocolEvent(cisd.EventCounterMax))

	assert.Error(t, f.b.OnCableChanged(context.Background(), types.CableInfo{CableType: types.CableTypeMax}))
}

func TestPublishesTransitions(t *testing.T) {
	hub := events.NewEventHub()
	ch := hub.Subscribe()
	f := newFixture(t, nil, WithPublisher(hub))

	require.NoError(t, f.b.OnCableChanged(context.Background(), ta))

	ev := <-ch
	assert.Equal(t, events.CableChanged, ev.Name)
	cable, err := events.DecodeAs[events.CableEvent](ev)
	require.NoError(t, err)
	assert.Equal(t, "ta", cable.Cable)
	assert.True(t, cable.Attached)

	ev = <-ch
	assert.Equal(t, events.StatusChanged, ev.Name)
	tr, err := events.DecodeAs[events.TransitionEvent](ev)
	require.NoError(t, err)
	assert.Equal(t, events.TransitionEvent{From: "Discharging", To: "Charging", Ts: f.now.Unix()}, tr)
}
