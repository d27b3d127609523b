package realtime

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akimenko/authd/internal/logger"
	"github.com/akimenko/authd/internal/models"
)

func testPrincipal(email string) models.Principal {
	return models.Principal{
		ID:    uuid.New(),
		Email: email,
		Roles: []string{models.RoleUser},
	}
}

func drain(t *testing.T, c *client) Event {
	t.Helper()
	select {
	case e := <-c.send:
		return e
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return Event{}
	}
}

func TestHubPresence(t *testing.T) {
	hub := NewHub(logger.NoOp())

	t.Run("first connection announces user online", func(t *testing.T) {
		watcher := newClient(testPrincipal("watcher@example.com"), 8)
		hub.join(watcher)
		defer hub.leave(watcher)
		drain(t, watcher) // own user_online

		alice := testPrincipal("alice@example.com")
		first := newClient(alice, 8)
		snapshot := hub.join(first)
		defer hub.leave(first)

		require.Len(t, snapshot, 1, "snapshot holds users online before the join")
		assert.Equal(t, "watcher@example.com", snapshot[0].Email)

		event := drain(t, watcher)
		assert.Equal(t, EventUserOnline, event.Type)
		assert.Equal(t, alice.ID.String(), event.User.ID)
		assert.True(t, hub.Online(alice.ID))
	})

	t.Run("second connection of same user is silent", func(t *testing.T) {
		hub := NewHub(logger.NoOp())
		watcher := newClient(testPrincipal("watcher@example.com"), 8)
		hub.join(watcher)
		defer hub.leave(watcher)
		drain(t, watcher)

		bob := testPrincipal("bob@example.com")
		tab1 := newClient(bob, 8)
		tab2 := newClient(bob, 8)
		hub.join(tab1)
		drain(t, watcher) // bob online

		hub.join(tab2)
		select {
		case e := <-watcher.send:
			t.Fatalf("unexpected event %q", e.Type)
		case <-time.After(50 * time.Millisecond):
		}

		hub.leave(tab1)
		assert.True(t, hub.Online(bob.ID), "still online through second tab")

		hub.leave(tab2)
		assert.False(t, hub.Online(bob.ID))
		event := drain(t, watcher)
		assert.Equal(t, EventUserOffline, event.Type)
		assert.Equal(t, bob.ID.String(), event.User.ID)
	})

	t.Run("leave is idempotent", func(t *testing.T) {
		hub := NewHub(logger.NoOp())
		c := newClient(testPrincipal("solo@example.com"), 8)
		hub.join(c)
		hub.leave(c)
		hub.leave(c)
		assert.Equal(t, 0, hub.ClientCount())
	})
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(logger.NoOp())

	a := newClient(testPrincipal("a@example.com"), 8)
	b := newClient(testPrincipal("b@example.com"), 8)
	hub.join(a)
	drain(t, a)
	hub.join(b)
	drain(t, a)
	drain(t, b)

	registered := testPrincipal("new@example.com")
	hub.UserRegistered(registered)

	for _, c := range []*client{a, b} {
		event := drain(t, c)
		assert.Equal(t, EventUserRegistered, event.Type)
		assert.Equal(t, "new@example.com", event.User.Email)
	}
}

func TestHubBroadcastSkipsFullQueues(t *testing.T) {
	hub := NewHub(logger.NoOp())

	slow := newClient(testPrincipal("slow@example.com"), 1)
	hub.join(slow)
	drain(t, slow)

	// Fill the queue, then broadcast twice more; the hub must not block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 3; i++ {
			hub.UserRegistered(testPrincipal("burst@example.com"))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full client queue")
	}
}
