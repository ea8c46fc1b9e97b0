package pmic

import (
	"context"
	"errors"
	"fmt"

	"github.com/charlie0129/chgd/pkg/types"
)

// Fuel gauge registers. All of them are 16-bit little-endian words.
const (
	FGRepSOC      = 0x06
	FGTemp        = 0x08
	FGVCell       = 0x09
	FGCurrent     = 0x0A
	FGAvgCurrent  = 0x0B
	FGFullCapRep  = 0x10
	FGAvgVCell    = 0x19
	FGFullCapNom  = 0x23
	FGAIN0        = 0x27 // charger thermistor
	FGAIN1        = 0x28 // wireless coil thermistor
	FGAIN2        = 0x29 // usb connector thermistor
	FGVFOCV       = 0xFB
	fgCapSentinel = 0xFFFF
)

// FuelGaugeAddr is the usual address of the fuel gauge.
const FuelGaugeAddr = 0x36

// ErrCapacityUnavailable is the fuel gauge reporting that it has no valid
// capacity figure.
var ErrCapacityUnavailable = errors.New("fuel gauge capacity unavailable")

// CapacityReadError records which capacity read failed.
type CapacityReadError struct {
	Kind types.CapacityKind
	Err  error
}

func (e *CapacityReadError) Error() string {
	return fmt.Sprintf("failed to read %s capacity: %v", e.Kind, e.Err)
}

func (e *CapacityReadError) Unwrap() error {
	return e.Err
}

// FuelGauge reads battery telemetry from the fuel gauge.
type FuelGauge struct {
	dev *Device
}

// NewFuelGauge returns a FuelGauge on conn.
func NewFuelGauge(conn Connection) *FuelGauge {
	return &FuelGauge{dev: NewDevice("fuelgauge", conn)}
}

func (g *FuelGauge) Close() error {
	return g.dev.Close()
}

// ReadTelemetry samples every telemetry register. A failure on any register
// fails the whole sample.
func (g *FuelGauge) ReadTelemetry(ctx context.Context) (types.Telemetry, error) {
	var t types.Telemetry

	reads := []struct {
		reg    byte
		dst    *int
		decode func(uint16) int
	}{
		{FGVCell, &t.VoltageNow, decodeVoltage},
		{FGAvgVCell, &t.VoltageAvg, decodeVoltage},
		{FGVFOCV, &t.VoltageOCV, decodeVoltage},
		{FGCurrent, &t.CurrentNow, decodeCurrent},
		{FGAvgCurrent, &t.CurrentAvg, decodeCurrent},
		{FGTemp, &t.Temperature, decodeTemp},
		{FGAIN0, &t.ChgTemp, decodeAIN},
		{FGAIN1, &t.WpcTemp, decodeAIN},
		{FGAIN2, &t.UsbTemp, decodeAIN},
		{FGRepSOC, &t.Capacity, decodeSOC},
	}

	for _, r := range reads {
		raw, err := g.dev.ReadWord(ctx, r.reg)
		if err != nil {
			return types.Telemetry{}, err
		}
		*r.dst = r.decode(raw)
	}

	return t, nil
}

// ReadCapacity returns a capacity figure in mAh. Failures, including the
// gauge reporting an invalid figure, are returned as *CapacityReadError.
func (g *FuelGauge) ReadCapacity(ctx context.Context, kind types.CapacityKind) (int, error) {
	reg := byte(FGFullCapRep)
	if kind == types.CapacityAged {
		reg = FGFullCapNom
	}

	raw, err := g.dev.ReadWord(ctx, reg)
	if err != nil {
		return 0, &CapacityReadError{Kind: kind, Err: err}
	}
	if raw == fgCapSentinel {
		return 0, &CapacityReadError{Kind: kind, Err: ErrCapacityUnavailable}
	}

	return decodeCapacity(raw), nil
}

// decodeVoltage converts a 78.125 uV LSB reading to mV.
func decodeVoltage(raw uint16) int {
	return int(raw) * 5 / 64
}

// decodeCurrent converts a signed 156.25 uA LSB reading to mA.
func decodeCurrent(raw uint16) int {
	return int(int16(raw)) * 5 / 32
}

// decodeTemp converts a signed 1/256 C LSB reading to 0.1 C.
func decodeTemp(raw uint16) int {
	return int(int16(raw)) * 10 / 256
}

// decodeAIN is a thermistor channel already linearized to 0.1 C.
func decodeAIN(raw uint16) int {
	return int(int16(raw))
}

// decodeSOC converts a 1/256 % LSB reading to a whole percentage.
func decodeSOC(raw uint16) int {
	return min(int(raw)/256, 100)
}

// decodeCapacity converts a 0.5 mAh LSB reading to mAh.
func decodeCapacity(raw uint16) int {
	return int(raw) / 2
}

// EncodeVoltage, EncodeCurrent and EncodeTemp are the inverse of the
// decoders, for tests and simulated gauges.
func EncodeVoltage(mV int) uint16 { return uint16(mV * 64 / 5) }
func EncodeCurrent(mA int) uint16 { return uint16(int16(mA * 32 / 5)) }
func EncodeTemp(t int) uint16     { return uint16(int16(t * 256 / 10)) }
