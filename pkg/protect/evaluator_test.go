package protect

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlie0129/chgd/pkg/cisd"
	"github.com/charlie0129/chgd/pkg/config"
	"github.com/charlie0129/chgd/pkg/types"
	"github.com/charlie0129/chgd/pkg/utils/ptr"
)

type fakeCharger struct {
	asserts []bool
	err     error
}

func (c *fakeCharger) AssertVbatOVP(_ context.Context, on bool) error {
	c.asserts = append(c.asserts, on)
	return c.err
}

type fakeGauge struct {
	full, aged int
	err        error
}

func (g *fakeGauge) ReadCapacity(_ context.Context, kind types.CapacityKind) (int, error) {
	if g.err != nil {
		return 0, g.err
	}
	if kind == types.CapacityAged {
		return g.aged, nil
	}
	return g.full, nil
}

type fakeReporter struct {
	tags []string
}

func (r *fakeReporter) ReportAbnormal(tag string) {
	r.tags = append(r.tags, tag)
}

func newTestEvaluator(raw *config.RawFileConfig) (*Evaluator, *cisd.Ledger, *fakeCharger, *fakeGauge, *fakeReporter) {
	l := cisd.New(cisd.DefaultAlgIndex)
	c := &fakeCharger{}
	g := &fakeGauge{full: 3900, aged: 3800}
	r := &fakeReporter{}
	e := NewEvaluator(config.NewFileFromConfig(raw, ""), l, g, c, r)
	return e, l, c, g, r
}

func charging(voltage int) Input {
	return Input{
		Telemetry: types.Telemetry{
			VoltageNow:  voltage,
			Temperature: 300,
			ChgTemp:     350,
			WpcTemp:     250,
			UsbTemp:     320,
		},
		Status:        types.StatusCharging,
		CableAttached: true,
	}
}

func TestOverVoltageDebounce(t *testing.T) {
	const ok, bad = 4300, 4450

	e, l, c, _, r := newTestEvaluator(nil)
	ctx := context.Background()

	samples := []int{ok, bad, ok, bad, bad}
	latches := 0
	for i, v := range samples {
		res, err := e.Evaluate(ctx, charging(v))
		require.NoError(t, err)
		if res.Latched {
			latches++
			assert.Equal(t, len(samples)-1, i, "latched on the wrong sample")
		}
	}

	assert.Equal(t, 1, latches)
	assert.True(t, e.State().Has(StateOverVoltage))
	assert.Equal(t, []bool{true}, c.asserts)
	assert.Equal(t, []string{TagOverVoltage}, r.tags)

	v, _ := l.Value(cisd.FieldVbatOVP)
	assert.Equal(t, 1, v)
	v, _ = l.Value(cisd.FieldVbatOVPPerDay)
	assert.Equal(t, 1, v)

	// Sticky until cleared.
	res, err := e.Evaluate(ctx, charging(ok))
	require.NoError(t, err)
	assert.False(t, res.Latched)
	assert.True(t, res.State.Has(StateOverVoltage))

	e.ClearLatches()
	assert.Equal(t, State(0), e.State())
}

func TestOverVoltageWhileFullOrNotCharging(t *testing.T) {
	for _, status := range []types.Status{types.StatusFull, types.StatusNotCharging} {
		t.Run(status.String(), func(t *testing.T) {
			e, _, _, _, _ := newTestEvaluator(nil)
			in := charging(4500)
			in.Status = status

			res, _ := e.Evaluate(context.Background(), in)
			assert.False(t, res.Latched)
			res, _ = e.Evaluate(context.Background(), in)
			assert.True(t, res.Latched)
		})
	}
}

func TestOverVoltageChargerFailureStillLatches(t *testing.T) {
	e, _, c, _, _ := newTestEvaluator(&config.RawFileConfig{OverVoltageCheckCount: ptr.To(1)})
	c.err = errors.New("nack")

	res, err := e.Evaluate(context.Background(), charging(4500))
	assert.Error(t, err)
	assert.True(t, res.Latched)
	assert.True(t, e.State().Has(StateOverVoltage))
}

func TestReportAbnormalEventsDisabled(t *testing.T) {
	e, _, _, _, r := newTestEvaluator(&config.RawFileConfig{
		OverVoltageCheckCount: ptr.To(1),
		ReportAbnormalEvents:  ptr.To(false),
	})

	res, err := e.Evaluate(context.Background(), charging(4500))
	require.NoError(t, err)
	assert.True(t, res.Latched)
	assert.Empty(t, r.tags)
}

func TestTemperaturePartition(t *testing.T) {
	e, l, _, _, _ := newTestEvaluator(nil)
	ctx := context.Background()

	_, err := e.Evaluate(ctx, charging(4000))
	require.NoError(t, err)

	v, _ := l.Value(cisd.FieldChgBattTempMax)
	assert.Equal(t, 300, v)
	v, _ = l.Value(cisd.FieldChgChgTempMinPerDay)
	assert.Equal(t, 350, v)
	v, _ = l.Value(cisd.FieldBattTempMax)
	assert.Equal(t, cisd.TempMaxInit, v)

	in := charging(4000)
	in.Status = types.StatusDischarging
	in.CableAttached = false
	in.Telemetry.Temperature = 150
	_, err = e.Evaluate(ctx, in)
	require.NoError(t, err)

	v, _ = l.Value(cisd.FieldBattTempMin)
	assert.Equal(t, 150, v)
	v, _ = l.Value(cisd.FieldChgBattTempMin)
	assert.Equal(t, 300, v)
}

func TestUSBOverheatOneShot(t *testing.T) {
	tests := []struct {
		name     string
		battTemp int
		field    cisd.Field
	}{
		{name: "rapid change", battTemp: 300, field: cisd.FieldUSBOverheatRapidChange},
		{name: "alone", battTemp: 700, field: cisd.FieldUSBOverheatAlone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, l, _, _, r := newTestEvaluator(nil)
			in := charging(4000)
			in.Telemetry.UsbTemp = 810
			in.Telemetry.Temperature = tt.battTemp

			for i := 0; i < 3; i++ {
				res, err := e.Evaluate(context.Background(), in)
				require.NoError(t, err)
				assert.Equal(t, i == 0, res.USBOverheat)
			}

			v, _ := l.Value(tt.field)
			assert.Equal(t, 1, v)
			assert.Equal(t, []string{TagUSBOverheat}, r.tags)
			assert.True(t, e.USBOverheat())
		})
	}
}

func TestCapacityFailureLeavesLedgerUntouched(t *testing.T) {
	e, l, _, g, _ := newTestEvaluator(nil)
	g.err = errors.New("gauge busy")

	in := Input{
		Telemetry: types.Telemetry{VoltageNow: 3900, Temperature: 999, UsbTemp: -99},
		Status:    types.StatusDischarging,
	}

	before := l.Snapshot()
	res, err := e.Evaluate(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, before, l.Snapshot())
}

func TestCapacityWindow(t *testing.T) {
	tests := []struct {
		name    string
		full    int
		wantMax int
	}{
		{name: "in window", full: 4100, wantMax: 4100},
		{name: "upper edge", full: 4400, wantMax: 4400},
		{name: "above window", full: 4401, wantMax: 0},
		{name: "zero", full: 0, wantMax: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, l, _, g, _ := newTestEvaluator(nil)
			g.full = tt.full

			res, err := e.Evaluate(context.Background(), Input{Status: types.StatusDischarging})
			require.NoError(t, err)
			assert.False(t, res.Skipped)

			v, _ := l.Value(cisd.FieldCapMax)
			assert.Equal(t, tt.wantMax, v)
			v, _ = l.Value(cisd.FieldCapNom)
			assert.Equal(t, 3800, v)
			v, _ = l.Value(cisd.FieldASOC)
			assert.Equal(t, tt.full*100/4000, v)
		})
	}
}
