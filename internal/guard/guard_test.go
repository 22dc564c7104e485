package guard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type expiry struct {
	kind      Kind
	requestID string
}

func recvExpiry(t *testing.T, ch <-chan expiry, within time.Duration) expiry {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(within):
		t.Fatalf("timed out waiting for expiry")
		return expiry{}
	}
}

func recvNoExpiry(t *testing.T, ch <-chan expiry, within time.Duration) {
	t.Helper()
	select {
	case e := <-ch:
		t.Fatalf("expected no expiry within %v, got %+v", within, e)
	case <-time.After(within):
	}
}

func TestTryBeginAdmitsOncePerKind(t *testing.T) {
	g := New()
	defer g.Reset()

	id, ok := g.TryBegin(JoinRoom)
	require.True(t, ok)
	assert.NotEmpty(t, id)

	_, ok = g.TryBegin(JoinRoom)
	assert.False(t, ok, "second join while first is pending")

	_, ok = g.TryBegin(CreateRoom)
	assert.True(t, ok, "kinds are independent")

	g.End(JoinRoom)
	again, ok := g.TryBegin(JoinRoom)
	require.True(t, ok)
	assert.NotEqual(t, id, again)
}

func TestGraceTimeoutReleasesAndNotifies(t *testing.T) {
	fired := make(chan expiry, 1)
	g := New(
		WithGrace(30*time.Millisecond, 10*time.Millisecond),
		WithExpireFunc(func(kind Kind, requestID string) { fired <- expiry{kind, requestID} }),
	)

	id, ok := g.TryBegin(SetReady)
	require.True(t, ok)

	got := recvExpiry(t, fired, time.Second)
	assert.Equal(t, SetReady, got.kind)
	assert.Equal(t, id, got.requestID)
	assert.False(t, g.Busy(SetReady))

	_, ok = g.TryBegin(SetReady)
	assert.True(t, ok, "kind is free again after expiry")
	g.Reset()
}

func TestEndStopsTimer(t *testing.T) {
	fired := make(chan expiry, 1)
	g := New(
		WithGrace(20*time.Millisecond, 20*time.Millisecond),
		WithExpireFunc(func(kind Kind, requestID string) { fired <- expiry{kind, requestID} }),
	)

	_, ok := g.TryBegin(CreateRoom)
	require.True(t, ok)
	g.End(CreateRoom)

	recvNoExpiry(t, fired, 80*time.Millisecond)
}

func TestStaleTimerFireIsDropped(t *testing.T) {
	fired := make(chan expiry, 1)
	g := New(WithExpireFunc(func(kind Kind, requestID string) { fired <- expiry{kind, requestID} }))
	defer g.Reset()

	_, ok := g.TryBegin(LeaveRoom)
	require.True(t, ok)
	staleGen := g.gen
	g.End(LeaveRoom)

	_, ok = g.TryBegin(LeaveRoom)
	require.True(t, ok)

	g.expire(LeaveRoom, staleGen)
	assert.True(t, g.Busy(LeaveRoom), "fresh admission survives an old timer")
	recvNoExpiry(t, fired, 20*time.Millisecond)
}

func TestSettle(t *testing.T) {
	g := New()
	defer g.Reset()

	id, ok := g.TryBegin(CreateRoom)
	require.True(t, ok)

	assert.True(t, g.Settle(CreateRoom, id))
	assert.False(t, g.Busy(CreateRoom))
	assert.False(t, g.Settle(CreateRoom, id), "repeat ack is not applied twice")

	next, ok := g.TryBegin(CreateRoom)
	require.True(t, ok)
	assert.True(t, g.Settle(CreateRoom, "late-ack-from-expired-request"))
	assert.True(t, g.Busy(CreateRoom), "late ack does not release a newer request")

	assert.True(t, g.Settle(CreateRoom, next))
	assert.False(t, g.Busy(CreateRoom))

	_, ok = g.TryBegin(SetReady)
	require.True(t, ok)
	assert.True(t, g.Settle(SetReady, ""), "untagged ack releases the kind")
	assert.False(t, g.Busy(SetReady))
}

func TestFlags(t *testing.T) {
	g := New()
	defer g.Reset()
	_, _ = g.TryBegin(SelectCharacter)

	flags := g.Flags()
	assert.Len(t, flags, len(Kinds))
	assert.True(t, flags[SelectCharacter])
	assert.False(t, flags[JoinRoom])
}

func TestReleaseByRequestID(t *testing.T) {
	g := New()
	defer g.Reset()

	_, ok := g.Release("")
	assert.False(t, ok)

	id, _ := g.TryBegin(SelectCharacter)
	_, _ = g.TryBegin(SetReady)

	kind, ok := g.Release(id)
	require.True(t, ok)
	assert.Equal(t, SelectCharacter, kind)
	assert.False(t, g.Busy(SelectCharacter))
	assert.True(t, g.Busy(SetReady))
	assert.False(t, g.Settle(SelectCharacter, id), "released id counts as settled")

	_, ok = g.Release("unknown")
	assert.False(t, ok)
}
