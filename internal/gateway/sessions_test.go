package gateway

import (
	"testing"
	"time"

	"github.com/cmdgate-dev/cmdgate/internal/core"
)

func TestSessionStoreMintsID(t *testing.T) {
	t.Parallel()

	store := newSessionStore(nil)

	a := store.get("")
	b := store.get("")
	if a.ID == "" || b.ID == "" {
		t.Fatal("expected minted ids")
	}
	if a.ID == b.ID {
		t.Errorf("minted ids collide: %s", a.ID)
	}
	if store.len() != 2 {
		t.Errorf("len = %d, want 2", store.len())
	}
}

func TestSessionStoreReusesSession(t *testing.T) {
	t.Parallel()

	store := newSessionStore(func() *core.History {
		return core.NewHistory(core.WithLimit(10))
	})

	first := store.get("caller-1")
	first.History.Append(core.RoleUser, "remember me")

	second := store.get("caller-1")
	if second.History != first.History {
		t.Error("expected the same history instance")
	}
	if second.History.Len() != 1 {
		t.Errorf("history len = %d, want 1", second.History.Len())
	}
	if store.len() != 1 {
		t.Errorf("len = %d, want 1", store.len())
	}
}

func TestSessionStoreTouchesLastActive(t *testing.T) {
	t.Parallel()

	store := newSessionStore(nil)

	sess := store.get("caller-1")
	before := sess.LastActive
	time.Sleep(5 * time.Millisecond)
	store.get("caller-1")

	if !sess.LastActive.After(before) {
		t.Error("expected LastActive to advance on reuse")
	}
}

func TestSessionStoreSweepIdle(t *testing.T) {
	t.Parallel()

	store := newSessionStore(nil)

	stale := store.get("stale")
	stale.History.Append(core.RoleUser, "old business")
	store.get("fresh")
	stale.LastActive = time.Now().Add(-time.Hour)

	swept := store.sweepIdle(time.Now().Add(-time.Minute))
	if len(swept) != 1 || swept[0] != "stale" {
		t.Fatalf("swept = %v", swept)
	}
	if store.len() != 1 {
		t.Errorf("len = %d, want 1", store.len())
	}

	// The swept session gets a fresh history on return.
	if store.get("stale").History.Len() != 0 {
		t.Error("expected fresh history after sweep")
	}
}
