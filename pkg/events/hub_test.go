package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	h := NewEventHub()
	ch := h.Subscribe()
	assert.Equal(t, 1, h.Subscribers())

	h.Publish(StatusChanged, TransitionEvent{From: "Discharging", To: "Charging", Ts: 42})

	ev := <-ch
	assert.Equal(t, StatusChanged, ev.Name)
	payload, err := DecodeAs[TransitionEvent](ev)
	require.NoError(t, err)
	assert.Equal(t, TransitionEvent{From: "Discharging", To: "Charging", Ts: 42}, payload)

	h.Unsubscribe(ch)
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, h.Subscribers())
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	h := NewEventHub()
	ch := h.Subscribe()

	for i := 0; i < cap(ch)+10; i++ {
		h.Publish(Abnormal, AbnormalEvent{Tag: "over_voltage"})
	}
	assert.Len(t, ch, cap(ch))
	assert.Equal(t, uint64(10), h.Dropped())
}

func TestSubscribeFiltersByName(t *testing.T) {
	h := NewEventHub()
	cables := h.Subscribe(CableChanged)
	all := h.Subscribe()

	h.Publish(StatusChanged, TransitionEvent{From: "Discharging", To: "Charging"})
	h.Publish(CableChanged, CableEvent{Cable: "ta", Attached: true})

	assert.Len(t, cables, 1)
	assert.Len(t, all, 2)
	ev := <-cables
	assert.Equal(t, CableChanged, ev.Name)
}

func TestPublishNilHub(t *testing.T) {
	var h *EventHub
	assert.NotPanics(t, func() { h.Publish(Abnormal, nil) })
}

func TestDecodeAsEmpty(t *testing.T) {
	v, err := DecodeAs[SessionEvent](Event{Name: SessionStarted})
	require.NoError(t, err)
	assert.Equal(t, SessionEvent{}, v)
}
