package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/DoyleJ11/duel-sync/pkg/protocol"
)

func TestDispatchOrderAndWildcard(t *testing.T) {
	d := New(nil)
	var calls []string

	d.On(protocol.EventGameCountdown, func(protocol.Event) { calls = append(calls, "first") })
	d.On(protocol.AnyEvent, func(protocol.Event) { calls = append(calls, "any") })
	d.On(protocol.EventGameCountdown, func(protocol.Event) { calls = append(calls, "second") })
	d.On(protocol.EventGameOver, func(protocol.Event) { calls = append(calls, "other") })

	d.Dispatch(protocol.GameCountdown{Countdown: 3})
	assert.Equal(t, []string{"first", "any", "second"}, calls)
}

func TestPanickingHandlerDoesNotStopOthers(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	d := New(zap.New(core))

	ran := false
	d.On(protocol.EventPlayerLeft, func(protocol.Event) { panic("boom") })
	d.On(protocol.EventPlayerLeft, func(protocol.Event) { ran = true })

	require.NotPanics(t, func() { d.Dispatch(protocol.PlayerLeft{PlayerID: "P2"}) })
	assert.True(t, ran)

	entries := logs.FilterMessage("event handler panicked").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "player_left", entries[0].ContextMap()["event"])
}

func TestOffAndUnsubscribe(t *testing.T) {
	d := New(nil)
	count := 0

	sub := d.On(protocol.EventRoomUpdated, func(protocol.Event) { count++ })
	d.On(protocol.EventRoomUpdated, func(protocol.Event) { count += 10 })
	d.On(protocol.EventChatMessage, func(protocol.Event) { count += 100 })

	d.Unsubscribe(sub)
	d.Dispatch(protocol.RoomUpdated{})
	assert.Equal(t, 10, count)

	d.Off(protocol.EventRoomUpdated)
	d.Dispatch(protocol.RoomUpdated{})
	assert.Equal(t, 10, count)
	assert.Equal(t, 1, d.Len())

	d.Dispatch(protocol.ChatMessage{})
	assert.Equal(t, 110, count)
}

func TestHandlerRegisteredDuringDispatchRunsNextTime(t *testing.T) {
	d := New(nil)
	late := 0
	d.On(protocol.EventGameCountdown, func(protocol.Event) {
		d.On(protocol.EventGameCountdown, func(protocol.Event) { late++ })
	})

	d.Dispatch(protocol.GameCountdown{})
	assert.Equal(t, 0, late)
	d.Dispatch(protocol.GameCountdown{})
	assert.Equal(t, 1, late)
}
