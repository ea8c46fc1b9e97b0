package pmic

import (
	"context"
	"errors"
	"testing"

	"github.com/distatus/battery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c/i2ctest"

	"github.com/charlie0129/chgd/pkg/types"
)

func TestDeviceRetry(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		failures int
		wantErr  bool
	}{
		{name: "no failure", failures: 0},
		{name: "recovers on last attempt", failures: DefaultAttempts - 1},
		{name: "exhausted", failures: DefaultAttempts, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMock(map[byte][]byte{0x10: {0x34, 0x12}})
			d := NewDevice("test", m)
			m.FailNext(tt.failures)

			v, err := d.ReadWord(ctx, 0x10)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrCommFailure)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, uint16(0x1234), v)
		})
	}
}

func TestDeviceRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := NewMock(nil)
	m.FailNext(1)
	_, err := NewDevice("test", m).Read(ctx, 0x00, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func simulatedGauge(t types.Telemetry) *MockConnection {
	m := NewMock(nil)
	m.SetWord(FGVCell, EncodeVoltage(t.VoltageNow))
	m.SetWord(FGAvgVCell, EncodeVoltage(t.VoltageAvg))
	m.SetWord(FGVFOCV, EncodeVoltage(t.VoltageOCV))
	m.SetWord(FGCurrent, EncodeCurrent(t.CurrentNow))
	m.SetWord(FGAvgCurrent, EncodeCurrent(t.CurrentAvg))
	m.SetWord(FGTemp, EncodeTemp(t.Temperature))
	m.SetWord(FGAIN0, uint16(int16(t.ChgTemp)))
	m.SetWord(FGAIN1, uint16(int16(t.WpcTemp)))
	m.SetWord(FGAIN2, uint16(int16(t.UsbTemp)))
	m.SetWord(FGRepSOC, uint16(t.Capacity*256))
	return m
}

func TestFuelGaugeReadTelemetry(t *testing.T) {
	want := types.Telemetry{
		VoltageNow:  4205,
		VoltageAvg:  4190,
		VoltageOCV:  4215,
		CurrentNow:  -350,
		CurrentAvg:  1200,
		Temperature: 315,
		ChgTemp:     402,
		WpcTemp:     -57,
		UsbTemp:     811,
		Capacity:    87,
	}

	g := NewFuelGauge(simulatedGauge(want))
	got, err := g.ReadTelemetry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFuelGaugeReadTelemetryFailure(t *testing.T) {
	m := simulatedGauge(types.Telemetry{VoltageNow: 4000})
	m.FailNext(DefaultAttempts)

	_, err := NewFuelGauge(m).ReadTelemetry(context.Background())
	assert.ErrorIs(t, err, ErrCommFailure)
}

func TestFuelGaugeReadCapacity(t *testing.T) {
	ctx := context.Background()
	m := NewMock(nil)
	m.SetWord(FGFullCapRep, 8000)
	m.SetWord(FGFullCapNom, fgCapSentinel)
	g := NewFuelGauge(m)

	v, err := g.ReadCapacity(ctx, types.CapacityFull)
	require.NoError(t, err)
	assert.Equal(t, 4000, v)

	_, err = g.ReadCapacity(ctx, types.CapacityAged)
	var capErr *CapacityReadError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, types.CapacityAged, capErr.Kind)
	assert.ErrorIs(t, err, ErrCapacityUnavailable)

	m.FailNext(DefaultAttempts)
	_, err = g.ReadCapacity(ctx, types.CapacityFull)
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, types.CapacityFull, capErr.Kind)
	assert.ErrorIs(t, err, ErrCommFailure)
}

func TestFuelGaugeOverI2C(t *testing.T) {
	bus := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: FuelGaugeAddr, W: []byte{FGFullCapRep}, R: []byte{0x40, 0x1f}},
		},
	}

	g := NewFuelGauge(NewI2CConnection(bus, FuelGaugeAddr))
	v, err := g.ReadCapacity(context.Background(), types.CapacityFull)
	require.NoError(t, err)
	assert.Equal(t, 4000, v)
	require.NoError(t, bus.Close())
}

func TestChargerOverI2C(t *testing.T) {
	bus := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: ChargerAddr, W: []byte{ChgInputLimit, 0x22}},
			{Addr: ChargerAddr, W: []byte{ChgFastCharge, 0x1f}},
		},
	}

	c := NewCharger(NewI2CConnection(bus, ChargerAddr))
	require.NoError(t, c.SetInputCurrent(context.Background(), 1800))
	require.NoError(t, c.SetChargingCurrent(context.Background(), 2000))
	require.NoError(t, bus.Close())
}

func TestChargerRegisters(t *testing.T) {
	ctx := context.Background()
	m := NewMock(map[byte][]byte{ChgTopoff: {0xA0}, ChgCtrl: {0x80}})
	c := NewCharger(m)

	require.NoError(t, c.SetInputCurrent(ctx, 5000))
	assert.Equal(t, byte(inputLimitMax), m.Reg(ChgInputLimit))

	require.NoError(t, c.SetChargingCurrent(ctx, 0))
	assert.Equal(t, byte(0), m.Reg(ChgFastCharge))

	require.NoError(t, c.SetTopoffCurrent(ctx, 256))
	assert.Equal(t, byte(0xA3), m.Reg(ChgTopoff))

	modes := []struct {
		mode types.ChargeMode
		want byte
	}{
		{types.ChargeModeCharging, 0x83},
		{types.ChargeModeChargingOff, 0x82},
		{types.ChargeModeBuckOff, 0x80},
	}
	for _, tt := range modes {
		require.NoError(t, c.SetChargeMode(ctx, tt.mode))
		assert.Equal(t, tt.want, m.Reg(ChgCtrl), tt.mode.String())
	}
	assert.Error(t, c.SetChargeMode(ctx, types.ChargeMode(42)))

	require.NoError(t, c.AssertVbatOVP(ctx, true))
	assert.Equal(t, ProtectVbatOVP, m.Reg(ChgProtect))
	require.NoError(t, c.AssertVbatOVP(ctx, false))
	assert.Equal(t, byte(0), m.Reg(ChgProtect))
}

func TestChargerHealth(t *testing.T) {
	tests := []struct {
		fault byte
		want  types.Health
	}{
		{0, types.HealthGood},
		{FaultVbusOVP, types.HealthOverVoltage},
		{FaultVbusUVLO, types.HealthUnderVoltage},
		{FaultVbusOVP | FaultVbusUVLO, types.HealthOverVoltage},
	}
	for _, tt := range tests {
		c := NewCharger(NewMock(map[byte][]byte{ChgFault: {tt.fault}}))
		got, err := c.Health(context.Background())
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestHostGauge(t *testing.T) {
	g := &HostGauge{get: func(int) (*battery.Battery, error) {
		return &battery.Battery{
			State:         battery.Discharging,
			Current:       30000,
			Full:          60000,
			Design:        64000,
			ChargeRate:    8000,
			Voltage:       4,
			DesignVoltage: 4,
		}, nil
	}}
	ctx := context.Background()

	tel, err := g.ReadTelemetry(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4000, tel.VoltageNow)
	assert.Equal(t, -2000, tel.CurrentNow)
	assert.Equal(t, 50, tel.Capacity)

	full, err := g.ReadCapacity(ctx, types.CapacityFull)
	require.NoError(t, err)
	assert.Equal(t, 15000, full)
	aged, err := g.ReadCapacity(ctx, types.CapacityAged)
	require.NoError(t, err)
	assert.Equal(t, 16000, aged)

	g.get = func(int) (*battery.Battery, error) { return nil, errors.New("no battery") }
	_, err = g.ReadTelemetry(ctx)
	assert.ErrorIs(t, err, ErrCommFailure)
	_, err = g.ReadCapacity(ctx, types.CapacityFull)
	var capErr *CapacityReadError
	assert.ErrorAs(t, err, &capErr)
}
