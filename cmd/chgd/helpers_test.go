package main

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlie0129/chgd/pkg/events"
	"github.com/charlie0129/chgd/pkg/types"
)

func TestParseIntArg(t *testing.T) {
	v, err := parseIntArg([]string{"0x14"}, "pad id")
	require.NoError(t, err)
	assert.Equal(t, 20, v)

	v, err = parseIntArg([]string{"80"}, "level")
	require.NoError(t, err)
	assert.Equal(t, 80, v)

	_, err = parseIntArg([]string{"abc"}, "level")
	assert.ErrorContains(t, err, "invalid level")

	_, err = parseIntArg(nil, "level")
	assert.Error(t, err)
}

func TestParsePDO(t *testing.T) {
	pdo, err := parsePDO("9000:2220")
	require.NoError(t, err)
	assert.Equal(t, types.PDO{Voltage: 9000, Current: 2220}, pdo)

	for _, s := range []string{"9000", "9V:2A", "9000:"} {
		_, err := parsePDO(s)
		assert.Error(t, err, s)
	}
}

func TestFormatEvent(t *testing.T) {
	color.NoColor = true

	data, _ := json.Marshal(events.CableEvent{Cable: "pd", Attached: true, Power: 25000, Ts: 0})
	s, err := formatEvent(events.Event{Name: events.CableChanged, Data: data})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(s, "battery.cable pd attached (25.0 W)"), s)

	data, _ = json.Marshal(events.AbnormalEvent{Tag: "over_voltage"})
	s, err = formatEvent(events.Event{Name: events.Abnormal, Data: data})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(s, "battery.abnormal over_voltage"), s)

	s, err = formatEvent(events.Event{Name: "other", Data: json.RawMessage(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, "other {}", s)

	_, err = formatEvent(events.Event{Name: events.StatusChanged, Data: json.RawMessage(`[`)})
	assert.Error(t, err)
}

func TestCelsius(t *testing.T) {
	assert.Equal(t, "25.0°C", celsius(250))
	assert.Equal(t, "-5.5°C", celsius(-55))
}
