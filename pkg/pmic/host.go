package pmic

import (
	"context"
	"errors"

	"github.com/distatus/battery"
	pkgerrors "github.com/pkg/errors"

	"github.com/charlie0129/chgd/pkg/types"
)

// hostAmbientTemp is reported for every thermistor, which the host battery
// interface does not expose. 0.1 C.
const hostAmbientTemp = 250

// HostGauge reads the battery through the operating system power supply
// interface instead of a fuel gauge on a bus.
type HostGauge struct {
	index int
	get   func(idx int) (*battery.Battery, error)
}

// NewHostGauge returns a HostGauge reading the battery at index.
func NewHostGauge(index int) *HostGauge {
	return &HostGauge{index: index, get: battery.Get}
}

func (g *HostGauge) Close() error {
	return nil
}

func (g *HostGauge) read() (*battery.Battery, error) {
	bat, err := g.get(g.index)
	if err != nil {
		return nil, pkgerrors.Wrapf(errors.Join(ErrCommFailure, err), "failed to read host battery %d", g.index)
	}
	return bat, nil
}

// ReadTelemetry converts the host battery figures. Thermistors read as
// ambient.
func (g *HostGauge) ReadTelemetry(_ context.Context) (types.Telemetry, error) {
	bat, err := g.read()
	if err != nil {
		return types.Telemetry{}, err
	}

	voltage := int(bat.Voltage * 1000)
	current := 0
	if bat.Voltage > 0 {
		current = int(bat.ChargeRate / bat.Voltage)
	}
	if bat.State == battery.Discharging {
		current = -current
	}
	capacity := 0
	if bat.Full > 0 {
		capacity = min(int(bat.Current*100/bat.Full), 100)
	}

	return types.Telemetry{
		VoltageNow:  voltage,
		VoltageAvg:  voltage,
		VoltageOCV:  voltage,
		CurrentNow:  current,
		CurrentAvg:  current,
		Temperature: hostAmbientTemp,
		ChgTemp:     hostAmbientTemp,
		WpcTemp:     hostAmbientTemp,
		UsbTemp:     hostAmbientTemp,
		Capacity:    capacity,
	}, nil
}

// ReadCapacity converts the host energy figures (mWh) to mAh at the design
// voltage.
func (g *HostGauge) ReadCapacity(_ context.Context, kind types.CapacityKind) (int, error) {
	bat, err := g.read()
	if err != nil {
		return 0, &CapacityReadError{Kind: kind, Err: err}
	}
	if bat.DesignVoltage <= 0 {
		return 0, &CapacityReadError{Kind: kind, Err: ErrCapacityUnavailable}
	}

	energy := bat.Full
	if kind == types.CapacityAged {
		energy = bat.Design
	}
	if energy <= 0 {
		return 0, &CapacityReadError{Kind: kind, Err: ErrCapacityUnavailable}
	}

	return int(energy / bat.DesignVoltage), nil
}
