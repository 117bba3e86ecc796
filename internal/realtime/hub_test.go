package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albion/platform/internal/events"
	"github.com/albion/platform/internal/platform/jsonval"
)

func event(id, eventType, tenantID, userID string) *events.Event {
	return &events.Event{
		ID: id, Type: eventType, TenantID: tenantID, UserID: userID,
		OccurredAt: time.Now().UTC(), Payload: jsonval.Map{},
	}
}

func drain(sub *subscriber) []*events.Event {
	var out []*events.Event
	for {
		select {
		case e := <-sub.send:
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestHub_DeliversToUserAndTenantRooms(t *testing.T) {
	h := NewHub(16)
	alice := h.subscribe("sse", "alice", "t1")
	bob := h.subscribe("sse", "bob", "t1")
	stranger := h.subscribe("sse", "eve", "t2")
	defer h.unsubscribe(alice)
	defer h.unsubscribe(bob)
	defer h.unsubscribe(stranger)

	h.Deliver(event("e1", "bonus.awarded", "t1", "alice"))

	aliceEvents := drain(alice)
	require.Len(t, aliceEvents, 1, "user room + tenant room deliver once, not twice")
	assert.Equal(t, "e1", aliceEvents[0].ID)

	bobEvents := drain(bob)
	require.Len(t, bobEvents, 1, "tenant room broadcast reaches other tenant users")

	assert.Empty(t, drain(stranger), "other tenants see nothing")
}

func TestHub_PerUserOrderPreserved(t *testing.T) {
	h := NewHub(64)
	sub := h.subscribe("websocket", "u1", "t1")
	defer h.unsubscribe(sub)

	for i := 0; i < 10; i++ {
		h.Deliver(event(string(rune('a'+i)), "wallet.deposit.completed", "t1", "u1"))
	}

	got := drain(sub)
	require.Len(t, got, 10)
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i].ID, got[i-1].ID, "events arrive in emission order")
	}
}

func TestHub_OverflowEvictsOldest(t *testing.T) {
	h := NewHub(2)
	sub := h.subscribe("sse", "u1", "t1")
	defer h.unsubscribe(sub)

	h.Deliver(event("e1", "promo.update", "t1", "u1"))
	h.Deliver(event("e2", "promo.update", "t1", "u1"))
	h.Deliver(event("e3", "promo.update", "t1", "u1")) // overflows

	got := drain(sub)
	require.Len(t, got, 2)
	assert.Equal(t, "e2", got[0].ID, "oldest event dropped")
	assert.Equal(t, "e3", got[1].ID)
}

func TestHub_RoomOwnershipEnforced(t *testing.T) {
	h := NewHub(16)
	sub := h.subscribe("websocket", "u1", "t1")
	defer h.unsubscribe(sub)

	assert.False(t, h.joinRoom(sub, UserRoom("someone-else")))
	assert.False(t, h.joinRoom(sub, TenantRoom("t2")))
	assert.True(t, h.joinRoom(sub, UserRoom("u1")))
}

func TestHub_LeaveRoomStopsDelivery(t *testing.T) {
	h := NewHub(16)
	sub := h.subscribe("sse", "u1", "t1")
	defer h.unsubscribe(sub)

	h.leaveRoom(sub, TenantRoom("t1"))
	h.Deliver(event("e1", "promo.update", "t1", "other-user"))
	assert.Empty(t, drain(sub))

	// The user room still works.
	h.Deliver(event("e2", "bonus.awarded", "t1", "u1"))
	assert.Len(t, drain(sub), 1)
}

func TestHub_UnsubscribeCleansRooms(t *testing.T) {
	h := NewHub(16)
	sub := h.subscribe("sse", "u1", "t1")
	require.Equal(t, 2, h.RoomCount())

	h.unsubscribe(sub)
	assert.Zero(t, h.RoomCount())
}
