package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/chgd/pkg/pmic"
	"github.com/charlie0129/chgd/pkg/types"
)

// Charger is the charger IC as the daemon needs it: the state machine plus
// the shutdown path.
type Charger interface {
	SetInputCurrent(ctx context.Context, mA int) error
	SetChargingCurrent(ctx context.Context, mA int) error
	SetTopoffCurrent(ctx context.Context, mA int) error
	SetChargeMode(ctx context.Context, mode types.ChargeMode) error
	AssertVbatOVP(ctx context.Context, assert bool) error
	Health(ctx context.Context) (types.Health, error)
}

type FuelGauge interface {
	ReadTelemetry(ctx context.Context) (types.Telemetry, error)
	ReadCapacity(ctx context.Context, kind types.CapacityKind) (int, error)
}

type adapters struct {
	gauge   FuelGauge
	charger Charger
	closers []io.Closer
}

func (a *adapters) Close() error {
	var errs []error
	// Devices first, the bus last.
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AdapterConfig selects and addresses the hardware backends.
type AdapterConfig interface {
	Driver() string
	I2CBus() string
	FuelGaugeAddr() uint16
	ChargerAddr() uint16
}

func openAdapters(conf AdapterConfig) (*adapters, error) {
	logrus.WithField("driver", conf.Driver()).Info("opening adapters")

	switch conf.Driver() {
	case "i2c":
		bus, err := pmic.OpenBus(conf.I2CBus())
		if err != nil {
			return nil, err
		}
		gauge := pmic.NewFuelGauge(pmic.NewI2CConnection(bus, conf.FuelGaugeAddr()))
		charger := pmic.NewCharger(pmic.NewI2CConnection(bus, conf.ChargerAddr()))
		logrus.WithFields(logrus.Fields{
			"bus":     bus.String(),
			"gauge":   fmt.Sprintf("0x%02x", conf.FuelGaugeAddr()),
			"charger": fmt.Sprintf("0x%02x", conf.ChargerAddr()),
		}).Info("i2c bus opened")
		return &adapters{
			gauge:   gauge,
			charger: charger,
			closers: []io.Closer{bus, gauge, charger},
		}, nil
	case "host":
		gauge := pmic.NewHostGauge(0)
		logrus.Warn("host driver has no charger IC, charger registers are simulated")
		charger := pmic.NewCharger(pmic.NewMock(nil))
		return &adapters{
			gauge:   gauge,
			charger: charger,
			closers: []io.Closer{gauge, charger},
		}, nil
	case "mock":
		gauge := pmic.NewFuelGauge(newSimulatedGauge())
		charger := pmic.NewCharger(pmic.NewMock(nil))
		return &adapters{
			gauge:   gauge,
			charger: charger,
			closers: []io.Closer{gauge, charger},
		}, nil
	default:
		return nil, fmt.Errorf("unknown driver %q", conf.Driver())
	}
}

// Simulated gauge readings: a half charged 4000 mAh pack at room
// temperature.
const (
	simVoltage  = 3850
	simTemp     = 250
	simSOC      = 50
	simCapacity = 4000
)

func newSimulatedGauge() *pmic.MockConnection {
	m := pmic.NewMock(nil)
	m.SetWord(pmic.FGVCell, pmic.EncodeVoltage(simVoltage))
	m.SetWord(pmic.FGAvgVCell, pmic.EncodeVoltage(simVoltage))
	m.SetWord(pmic.FGVFOCV, pmic.EncodeVoltage(simVoltage))
	m.SetWord(pmic.FGTemp, pmic.EncodeTemp(simTemp))
	m.SetWord(pmic.FGAIN0, uint16(simTemp))
	m.SetWord(pmic.FGAIN1, uint16(simTemp))
	m.SetWord(pmic.FGAIN2, uint16(simTemp))
	m.SetWord(pmic.FGRepSOC, uint16(simSOC*256))
	m.SetWord(pmic.FGFullCapRep, uint16(simCapacity*2))
	m.SetWord(pmic.FGFullCapNom, uint16(simCapacity*2))
	return m
}
