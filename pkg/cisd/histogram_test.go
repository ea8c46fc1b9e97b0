package cisd

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertSorted(t *testing.T, entries []Entry, maxKey int) {
	t.Helper()
	prev := -1
	for _, e := range entries {
		assert.Greater(t, e.Key, prev)
		assert.Less(t, e.Key, maxKey)
		assert.Positive(t, e.Count)
		prev = e.Key
	}
}

func TestHistogramSorted(t *testing.T) {
	h := NewHistogram(MaxPadID)
	r := rand.New(rand.NewSource(1))

	for i := 0; i < 2000; i++ {
		h.Count(r.Intn(MaxPadID + 20))
		if i%97 == 0 {
			assertSorted(t, h.Entries(), MaxPadID)
		}
	}
	assertSorted(t, h.Entries(), MaxPadID)
}

func TestHistogramIgnoresOutOfRangeKeys(t *testing.T) {
	h := NewHistogram(MaxPadID)
	assert.Equal(t, MaxPadID, h.MaxKey())

	assert.False(t, h.Count(MaxPadID))
	assert.False(t, h.Count(-1))
	assert.True(t, h.Count(0))
	assert.True(t, h.Count(MaxPadID-1))
	assert.Equal(t, []Entry{{0, 1}, {MaxPadID - 1, 1}}, h.Entries())
}

func TestHistogramEntriesIsACopy(t *testing.T) {
	h := NewHistogram(10)
	h.Count(3)

	e := h.Entries()
	e[0].Count = 100
	assert.Equal(t, 1, h.Get(3))
}

func TestPowerBucket(t *testing.T) {
	tests := []struct {
		power  int
		bucket int
		ok     bool
	}{
		{power: 5000, ok: false},
		{power: 14999, ok: false},
		{power: 15000, bucket: 15, ok: true},
		{power: 24000, bucket: 25, ok: true},
		{power: 23999, bucket: 15, ok: true},
		{power: 25000, bucket: 25, ok: true},
		{power: 34000, bucket: 35, ok: true},
		{power: 44000, bucket: 45, ok: true},
		{power: 65000, bucket: 45, ok: true},
	}
	for _, tt := range tests {
		bucket, ok := PowerBucket(tt.power)
		assert.Equal(t, tt.ok, ok, "power %d", tt.power)
		assert.Equal(t, tt.bucket, bucket, "power %d", tt.power)
	}
}

func TestPadTextRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(42))

	for round := 0; round < 50; round++ {
		l := New(DefaultAlgIndex)
		distinct := r.Intn(21)
		for i := 0; i < distinct; i++ {
			id := r.Intn(MaxPadID)
			for n := r.Intn(5) + 1; n > 0; n-- {
				l.CountPad(id)
			}
		}

		restored := New(DefaultAlgIndex)
		require.NoError(t, restored.RestorePads(l.PadText()))
		assert.Equal(t, l.Pads().Entries(), restored.Pads().Entries(), l.PadText())
	}
}

func TestPadTextFormat(t *testing.T) {
	l := New(DefaultAlgIndex)
	l.CountPad(0x20)
	l.CountPad(0x05)
	l.CountPad(0x20)

	assert.Equal(t, "2 0x05:1 0x20:2", l.PadText())
	assert.Equal(t, `"INDEX":"2","PAD_05":"1","PAD_20":"2"`, l.PadJSON())
}

func TestRestorePadsLegacy(t *testing.T) {
	l := New(DefaultAlgIndex)

	require.NoError(t, l.RestorePads("0 3 0 0 1 0 0 0 0 0 7"))
	assert.Equal(t, []Entry{{legacyPads[0], 3}, {legacyPads[3], 1}, {legacyPads[9], 7}}, l.Pads().Entries())
}

func TestRestorePadsPoison(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"bad middle entry", "3 0x01:2 0x02-5 0x03:1"},
		{"bad count", "2 0x01:2 0x02:x"},
		{"too few entries", "3 0x01:2 0x02:1"},
		{"count too large", "255 0x01:1"},
		{"id out of range", "1 0xff:1"},
		{"not a number", "abc"},
		{"empty", ""},
		{"legacy garbage", "0 1 2 z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(DefaultAlgIndex)
			l.CountPad(0x40)

			err := l.RestorePads(tt.text)
			assert.ErrorIs(t, err, ErrMalformed)
			assert.Equal(t, 0, l.Pads().Len())
		})
	}
}

func TestPowerTextRoundTrip(t *testing.T) {
	l := New(DefaultAlgIndex)
	for _, p := range []int{15000, 26000, 26000, 45000, 60000, 9000} {
		l.CountPowerBucket(p)
	}

	assert.Equal(t, "3 15:1 25:2 45:2", l.PowerText())
	assert.Equal(t, `"POWER_COUNT":"3","POWER_15":"1","POWER_25":"2","POWER_45":"2"`, l.PowerJSON())

	restored := New(DefaultAlgIndex)
	require.NoError(t, restored.RestorePower(l.PowerText()))
	assert.Equal(t, l.Power().Entries(), restored.Power().Entries())
}

func TestRestorePowerPoison(t *testing.T) {
	l := New(DefaultAlgIndex)
	l.CountPowerBucket(30000)

	err := l.RestorePower("3 15:1 x:2 45:1")
	assert.ErrorIs(t, err, ErrMalformed)
	assert.Equal(t, 0, l.Power().Len())
}
