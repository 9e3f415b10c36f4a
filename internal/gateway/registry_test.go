package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryAddRemoveTracksLastHandle(t *testing.T) {
	r := NewRegistry()

	h1 := r.Add("user-1", 4)
	require.True(t, r.IsOnline("user-1"))

	h2 := r.Add("user-1", 4)
	assert.Len(t, r.HandlesFor("user-1"), 2)

	last := r.Remove("user-1", h1)
	assert.False(t, last, "user still has a second handle")

	last = r.Remove("user-1", h2)
	assert.True(t, last, "removing the only handle should report lastHandle")
	assert.False(t, r.IsOnline("user-1"))
}

func TestRegistryBroadcastAllNonBlocking(t *testing.T) {
	r := NewRegistry()
	h := r.Add("user-1", 1)

	r.BroadcastAll([]byte("frame-1"))
	r.BroadcastAll([]byte("frame-2")) // queue is full; must not block or panic

	select {
	case got := <-h.queue:
		assert.Equal(t, []byte("frame-1"), got)
	default:
		t.Fatal("expected first frame to be queued")
	}
}

func TestRegistrySendToUserOnlyTargetsThatUser(t *testing.T) {
	r := NewRegistry()
	ha := r.Add("alice", 2)
	r.Add("bob", 2)

	r.SendToUser("alice", []byte("hi"))

	select {
	case got := <-ha.queue:
		assert.Equal(t, []byte("hi"), got)
	default:
		t.Fatal("expected alice's handle to receive the frame")
	}

	bobHandles := r.HandlesFor("bob")
	require.Len(t, bobHandles, 1)
	select {
	case <-bobHandles[0].queue:
		t.Fatal("bob should not have received alice's message")
	default:
	}
}

func TestForceCloseUserSetsCloseCode(t *testing.T) {
	r := NewRegistry()
	h := r.Add("alice", 2)

	r.ForceCloseUser("alice", CloseBanned, "banned")

	code, reason := h.CloseCode()
	assert.Equal(t, CloseBanned, code)
	assert.Equal(t, "banned", reason)
	assert.True(t, h.isClosed())
}
