package pmic

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/chgd/pkg/types"
)

// Charger IC registers. All of them are 8 bits wide.
const (
	ChgInputLimit = 0x00
	ChgCtrl       = 0x03
	ChgFastCharge = 0x04
	ChgTopoff     = 0x05
	ChgProtect    = 0x09
	ChgFault      = 0x0C
)

// ChgCtrl bits.
const (
	CtrlChargeEnable byte = 1 << 0
	CtrlBuckEnable   byte = 1 << 1
	ctrlModeMask          = CtrlChargeEnable | CtrlBuckEnable
)

// ChgProtect and ChgFault bits.
const (
	ProtectVbatOVP byte = 1 << 3
	FaultVbusOVP   byte = 1 << 5
	FaultVbusUVLO  byte = 1 << 4
)

// Current steps of the charger IC, in mA.
const (
	inputLimitOffset = 100
	inputLimitStep   = 50
	inputLimitMax    = 0x3F
	fastChargeStep   = 64
	fastChargeMax    = 0x4F
	topoffOffset     = 64
	topoffStep       = 64
	topoffMax        = 0x0F
)

// ChargerAddr is the usual address of the charger IC.
const ChargerAddr = 0x6B

// Charger programs the charger IC.
type Charger struct {
	dev *Device
}

// NewCharger returns a Charger on conn.
func NewCharger(conn Connection) *Charger {
	return &Charger{dev: NewDevice("charger", conn)}
}

func (c *Charger) Close() error {
	return c.dev.Close()
}

// SetInputCurrent programs the input current limit in mA.
func (c *Charger) SetInputCurrent(ctx context.Context, mA int) error {
	v := quantize(mA, inputLimitOffset, inputLimitStep, inputLimitMax)
	logrus.WithFields(logrus.Fields{
		"requested": mA,
		"applied":   inputLimitOffset + int(v)*inputLimitStep,
	}).Debug("setting input current limit")
	return c.dev.WriteReg(ctx, ChgInputLimit, v)
}

// SetChargingCurrent programs the fast charging current in mA.
func (c *Charger) SetChargingCurrent(ctx context.Context, mA int) error {
	v := quantize(mA, 0, fastChargeStep, fastChargeMax)
	logrus.WithFields(logrus.Fields{
		"requested": mA,
		"applied":   int(v) * fastChargeStep,
	}).Debug("setting fast charging current")
	return c.dev.WriteReg(ctx, ChgFastCharge, v)
}

// SetTopoffCurrent programs the termination current in mA.
func (c *Charger) SetTopoffCurrent(ctx context.Context, mA int) error {
	v := quantize(mA, topoffOffset, topoffStep, topoffMax)
	return c.dev.UpdateBits(ctx, ChgTopoff, topoffMax, v)
}

// SetChargeMode switches the buck and the charging path.
func (c *Charger) SetChargeMode(ctx context.Context, mode types.ChargeMode) error {
	var v byte
	switch mode {
	case types.ChargeModeCharging:
		v = CtrlBuckEnable | CtrlChargeEnable
	case types.ChargeModeChargingOff:
		v = CtrlBuckEnable
	case types.ChargeModeBuckOff:
		v = 0
	default:
		return fmt.Errorf("unknown charge mode %d", mode)
	}

	logrus.WithField("mode", mode).Debug("setting charge mode")
	return c.dev.UpdateBits(ctx, ChgCtrl, ctrlModeMask, v)
}

// AssertVbatOVP forces the battery over-voltage protection of the charger.
func (c *Charger) AssertVbatOVP(ctx context.Context, assert bool) error {
	var v byte
	if assert {
		v = ProtectVbatOVP
	}

	logrus.WithField("assert", assert).Info("setting charger vbat ovp")
	return c.dev.UpdateBits(ctx, ChgProtect, ProtectVbatOVP, v)
}

// Health reports input over-voltage and under-voltage faults.
func (c *Charger) Health(ctx context.Context) (types.Health, error) {
	fault, err := c.dev.ReadReg(ctx, ChgFault)
	if err != nil {
		return types.HealthUnknown, err
	}

	switch {
	case fault&FaultVbusOVP != 0:
		return types.HealthOverVoltage, nil
	case fault&FaultVbusUVLO != 0:
		return types.HealthUnderVoltage, nil
	}
	return types.HealthGood, nil
}

// quantize converts mA into a register step, rounding down and saturating.
func quantize(mA, offset, step int, maxSteps byte) byte {
	if mA <= offset {
		return 0
	}
	return byte(min((mA-offset)/step, int(maxSteps)))
}
