package battery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/chgd/pkg/arbiter"
	"github.com/charlie0129/chgd/pkg/cisd"
	"github.com/charlie0129/chgd/pkg/events"
	"github.com/charlie0129/chgd/pkg/protect"
	"github.com/charlie0129/chgd/pkg/types"
)

// TagSafetyTimer is reported when the charging safety timer expires.
const TagSafetyTimer = "safety_timer"

// swellingFloatMargin is how far above the swelling recharge voltage a
// swelling charge is considered full. mV.
const swellingFloatMargin = 100

// Monitor runs one evaluation cycle. A telemetry read failure skips the
// cycle and leaves every decision as it was.
func (b *Battery) Monitor(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	tel, err := b.gauge.ReadTelemetry(ctx)
	if err != nil {
		logrus.WithError(err).Warn("failed to read telemetry, skipping cycle")
		return fmt.Errorf("failed to read telemetry: %w", err)
	}
	b.telemetry = tel
	b.lastCheck = b.now()

	var errs []error

	res, err := b.evaluator.Evaluate(ctx, protect.Input{
		Telemetry:     tel,
		Status:        b.status,
		CableAttached: b.selected().CableType.IsChargeable(),
	})
	if err != nil {
		errs = append(errs, err)
	}
	if res.Skipped {
		logrus.Debug("protection checks skipped this cycle")
	}

	if b.status == types.StatusDischarging {
		return errors.Join(errs...)
	}

	b.checkSafetyTimer()
	if err := b.checkHealth(ctx, res.State); err != nil {
		errs = append(errs, err)
	}
	if b.status == types.StatusNotCharging {
		return errors.Join(errs...)
	}

	if b.conf.SwellingEnabled() || b.swelling != types.SwellingNone {
		if err := b.checkSwelling(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if b.swelling == types.SwellingNone {
		if err := b.checkRecharge(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := b.checkFull(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if b.status == types.StatusCharging {
		if err := b.applyCurrents(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"status":   b.status,
		"health":   b.health,
		"voltage":  tel.VoltageNow,
		"current":  tel.CurrentNow,
		"temp":     tel.Temperature,
		"capacity": tel.Capacity,
	}).Trace("monitor cycle done")

	return errors.Join(errs...)
}

func (b *Battery) checkSafetyTimer() {
	if b.status != types.StatusCharging || b.chargingStart.IsZero() || b.safetyExpired {
		return
	}

	limit := b.conf.SafetyTimer()
	if b.isRecharging {
		limit = b.conf.RechargeSafetyTimer()
	}
	elapsed := b.now().Sub(b.chargingStart)
	if elapsed < limit {
		return
	}

	b.safetyExpired = true
	logrus.WithFields(logrus.Fields{
		"elapsed":    elapsed.String(),
		"limit":      limit.String(),
		"recharging": b.isRecharging,
	}).Error("charging safety timer expired")

	if !b.isRecharging {
		_ = b.ledger.Count(cisd.FieldSafetyTimer)
		b.report(TagSafetyTimer)
	}
}

// checkHealth combines the protection latch, the charger input faults, the
// safety timer and the battery temperature into one health value and moves
// the status accordingly.
func (b *Battery) checkHealth(ctx context.Context, prot protect.State) error {
	vbus, err := b.charger.Health(ctx)
	if err != nil {
		logrus.WithError(err).Warn("failed to read charger health, keeping previous")
		vbus = b.vbusHealth
	}
	if vbus != b.vbusHealth && vbus != types.HealthGood {
		_ = b.ledger.Count(cisd.FieldUnsafeVoltage)
	}
	b.vbusHealth = vbus

	thermal, changed := b.thermal.Check(b.telemetry.Temperature)
	if changed && thermal != types.HealthGood {
		_ = b.ledger.Count(cisd.FieldUnsafeTemperature)
	}

	health := types.HealthGood
	switch {
	case prot.Has(protect.StateOverVoltage):
		health = types.HealthOverVoltage
	case vbus != types.HealthGood:
		health = vbus
	case b.safetyExpired:
		health = types.HealthSafetyTimerExpire
	case thermal != types.HealthGood:
		health = thermal
	}
	b.setHealth(health)

	switch {
	case health != types.HealthGood && (b.status == types.StatusCharging || b.status == types.StatusFull):
		return b.enter(ctx, types.StatusNotCharging)
	case health == types.HealthGood && b.status == types.StatusNotCharging:
		return b.enter(ctx, b.deriveStatus())
	}
	return nil
}

func (b *Battery) setHealth(h types.Health) {
	if h == b.health {
		return
	}

	logrus.WithFields(logrus.Fields{
		"from": b.health,
		"to":   h,
	}).Info("battery health changed")
	b.publish(events.HealthChanged, events.TransitionEvent{
		From: b.health.String(),
		To:   h.String(),
		Ts:   b.now().Unix(),
	})
	b.health = h
}

func (b *Battery) checkSwelling(ctx context.Context) error {
	temp := b.telemetry.Temperature
	voltage := b.telemetry.VoltageNow

	if b.swelling != types.SwellingNone {
		recovered := temp <= b.conf.SwellingHighTempRecovery() && temp >= b.conf.SwellingLowTempRecovery()
		if recovered || !b.conf.SwellingEnabled() {
			return b.exitSwelling(ctx)
		}
	}

	switch b.swelling {
	case types.SwellingNone:
		if b.status != types.StatusCharging {
			return nil
		}
		switch {
		case temp >= b.conf.SwellingHighTempBlock():
			field := cisd.FieldHighTempSwelling
			if b.selected().CableType.IsWireless() {
				field = cisd.FieldWCHighTempSwelling
			}
			_ = b.ledger.Count(field)
			b.enterSwelling(temp, b.conf.SwellingHighChargingCurrent())
		case temp <= b.conf.SwellingLowTempBlock():
			_ = b.ledger.Count(cisd.FieldLowTempSwelling)
			b.enterSwelling(temp, b.conf.SwellingLowChargingCurrent())
		}
		return nil

	case types.SwellingCharging:
		if voltage < b.conf.SwellingRechargeVoltage()+swellingFloatMargin {
			return nil
		}
		logrus.WithField("voltage", voltage).Info("swelling charge full")
		_ = b.ledger.Count(cisd.FieldSwellingFullCount)
		b.swelling = types.SwellingFull
		b.chargingStart = time.Time{}
		return b.setChargeMode(ctx, types.ChargeModeChargingOff)

	case types.SwellingFull:
		if voltage >= b.conf.SwellingRechargeVoltage() {
			return nil
		}
		logrus.WithField("voltage", voltage).Info("swelling recharge")
		b.swelling = types.SwellingCharging
		b.chargingStart = b.now()
		return b.setChargeMode(ctx, types.ChargeModeCharging)
	}

	return nil
}

func (b *Battery) enterSwelling(temp, ceiling int) {
	logrus.WithFields(logrus.Fields{
		"temp":    temp,
		"ceiling": ceiling,
	}).Info("entering swelling mode")

	b.swelling = types.SwellingCharging
	b.swellingCeiling = ceiling
	b.fullCheckCount = 0
}

func (b *Battery) exitSwelling(ctx context.Context) error {
	logrus.WithField("temp", b.telemetry.Temperature).Info("leaving swelling mode")

	_ = b.ledger.Count(cisd.FieldSwellingRecoveryCount)
	wasFull := b.swelling == types.SwellingFull
	b.swelling = types.SwellingNone
	b.swellingCeiling = 0
	b.fullCheckCount = 0

	if wasFull && b.status == types.StatusCharging {
		b.chargingStart = b.now()
		return b.setChargeMode(ctx, types.ChargeModeCharging)
	}
	return nil
}

func (b *Battery) checkRecharge(ctx context.Context) error {
	if b.status != types.StatusFull || b.isRecharging {
		return nil
	}
	if b.telemetry.VoltageNow >= b.conf.RechargeVoltageThreshold() {
		return nil
	}

	logrus.WithFields(logrus.Fields{
		"voltage":   b.telemetry.VoltageNow,
		"threshold": b.conf.RechargeVoltageThreshold(),
	}).Info("starting recharge")

	b.isRecharging = true
	_ = b.ledger.Count(cisd.FieldRechargingCount)
	b.chargingStart = b.now()
	return b.enter(ctx, types.StatusCharging)
}

// checkFull advances the consecutive full-window counter.
func (b *Battery) checkFull(ctx context.Context) error {
	if b.status != types.StatusCharging {
		return nil
	}

	target, err := b.targetCurrents()
	if err != nil {
		return err
	}

	t := b.telemetry
	inWindow := t.CurrentNow > 0 &&
		t.CurrentNow < target.TopoffCurrent &&
		t.VoltageAvg > b.conf.FullVoltageThreshold()
	if !inWindow {
		b.fullCheckCount = 0
		return nil
	}

	b.fullCheckCount++
	logrus.WithFields(logrus.Fields{
		"count":   b.fullCheckCount,
		"current": t.CurrentNow,
		"voltage": t.VoltageAvg,
	}).Debug("full check")

	if b.fullCheckCount < b.conf.FullCheckCount() {
		return nil
	}
	return b.enter(ctx, types.StatusFull)
}

// deriveStatus is the status an attach event leads to.
func (b *Battery) deriveStatus() types.Status {
	switch {
	case !b.selected().CableType.IsChargeable():
		return types.StatusDischarging
	case b.health != types.HealthGood:
		return types.StatusNotCharging
	}
	return types.StatusCharging
}

// reevaluate moves to the derived status after a cable change, keeping Full
// and NotCharging while a charger stays attached.
func (b *Battery) reevaluate(ctx context.Context) error {
	want := b.deriveStatus()

	switch {
	case want == types.StatusDischarging:
	case b.status == types.StatusFull || b.status == types.StatusNotCharging:
		return nil
	}

	if want != b.status {
		return b.enter(ctx, want)
	}
	if b.status == types.StatusCharging {
		return b.applyCurrents(ctx)
	}
	return nil
}

// enter switches to status and runs its entry action.
func (b *Battery) enter(ctx context.Context, status types.Status) error {
	if status != b.status {
		logrus.WithFields(logrus.Fields{
			"from":  b.status,
			"to":    status,
			"cable": b.selected().CableType,
		}).Info("battery status changed")
		b.publish(events.StatusChanged, events.TransitionEvent{
			From: b.status.String(),
			To:   status.String(),
			Ts:   b.now().Unix(),
		})
	}
	b.status = status

	switch status {
	case types.StatusCharging:
		if b.chargingStart.IsZero() {
			b.chargingStart = b.now()
		}
		b.fullCheckCount = 0
		if b.swelling == types.SwellingFull {
			b.swelling = types.SwellingCharging
		}
		if err := b.setChargeMode(ctx, types.ChargeModeCharging); err != nil {
			return err
		}
		return b.applyCurrents(ctx)

	case types.StatusFull:
		_ = b.ledger.Count(cisd.FieldFullCount)
		b.fullCheckCount = 0
		b.isRecharging = false
		b.chargingStart = time.Time{}
		return b.setChargeMode(ctx, types.ChargeModeChargingOff)

	case types.StatusNotCharging:
		// Force every current to be reprogrammed on recovery. The safety
		// timer only runs while the buck is on; safetyExpired stays latched.
		b.currents = arbiter.Currents{}
		b.fullCheckCount = 0
		b.chargingStart = time.Time{}
		return b.setChargeMode(ctx, types.ChargeModeBuckOff)

	default:
		b.fullCheckCount = 0
		b.isRecharging = false
		b.chargingStart = time.Time{}
		b.swelling = types.SwellingNone
		return b.setChargeMode(ctx, types.ChargeModeChargingOff)
	}
}

func (b *Battery) setChargeMode(ctx context.Context, mode types.ChargeMode) error {
	if err := b.charger.SetChargeMode(ctx, mode); err != nil {
		logrus.WithError(err).WithField("mode", mode).Error("failed to set charge mode")
		return fmt.Errorf("failed to set charge mode %s: %w", mode, err)
	}
	b.chargeMode = mode
	return nil
}

// targetCurrents is the arbitrated row for the selected cable after the cable
// limits, siop and swelling derating.
func (b *Battery) targetCurrents() (arbiter.Currents, error) {
	sel := b.selected()
	table := b.conf.CurrentTable()

	c, err := arbiter.Compute(sel.CableType, &table, b.conf.MaxInputCurrent(), b.conf.MaxChargingCurrent())
	if err != nil {
		return arbiter.Currents{}, err
	}

	if sel.InputCurrent > 0 {
		c.InputCurrentLimit = min(c.InputCurrentLimit, sel.InputCurrent)
	}
	if sel.ChargingCurrent > 0 {
		c.FastChargingCurrent = min(c.FastChargingCurrent, sel.ChargingCurrent)
	}
	c = arbiter.ApplySIOP(c, b.siopLevel)
	if b.swelling != types.SwellingNone && b.swellingCeiling > 0 {
		c = arbiter.LimitCharging(c, b.swellingCeiling)
	}
	return c, nil
}

// applyCurrents programs the charger with the target currents, writing only
// the values that differ from what was last programmed.
func (b *Battery) applyCurrents(ctx context.Context) error {
	target, err := b.targetCurrents()
	if err != nil {
		return err
	}

	writes := []struct {
		cached *int
		want   int
		set    func(context.Context, int) error
		name   string
	}{
		{&b.currents.InputCurrentLimit, target.InputCurrentLimit, b.charger.SetInputCurrent, "input"},
		{&b.currents.FastChargingCurrent, target.FastChargingCurrent, b.charger.SetChargingCurrent, "charging"},
		{&b.currents.TopoffCurrent, target.TopoffCurrent, b.charger.SetTopoffCurrent, "topoff"},
	}

	var errs []error
	for _, w := range writes {
		if *w.cached == w.want {
			continue
		}
		if err := w.set(ctx, w.want); err != nil {
			logrus.WithError(err).WithField("current", w.name).Error("failed to program charger current")
			errs = append(errs, fmt.Errorf("failed to set %s current: %w", w.name, err))
			continue
		}
		logrus.WithFields(logrus.Fields{
			"current": w.name,
			"from":    *w.cached,
			"to":      w.want,
		}).Debug("charger current programmed")
		*w.cached = w.want
	}

	return errors.Join(errs...)
}

func (b *Battery) report(tag string) {
	if b.conf.ReportAbnormalEvents() {
		b.reportAbnormal(tag)
	}
}
