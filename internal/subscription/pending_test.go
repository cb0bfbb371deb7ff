package subscription

import (
	"testing"

	"github.com/broxus/nodekeeper/internal/chain"
)

func testAddr(b byte) chain.Address {
	return chain.Address{Workchain: 0, Account: [32]byte{b}}
}

func TestPendingMessageResolveIsIdempotent(t *testing.T) {
	pm := newPendingMessage(100)
	tx := &chain.Transaction{Hash: chain.Hash{1}}
	pm.resolve(tx)
	pm.resolve(nil) // must not panic or block on a second send

	got, ok := <-pm.reply
	if !ok {
		t.Fatal("expected exactly one delivered value before close")
	}
	if got != tx {
		t.Fatalf("expected first resolve to win, got %v", got)
	}
	if _, ok := <-pm.reply; ok {
		t.Fatal("expected channel to be closed after resolve")
	}
}

func TestAccountMapWithLockedCreatesAndPrunes(t *testing.T) {
	m := newAccountMap()
	addr := testAddr(1)

	m.withLocked(addr, func(entry *accountSubscription) bool {
		entry.pending[chain.Hash{1}] = newPendingMessage(10)
		return false
	})
	if _, ok := m.subs[addr]; !ok {
		t.Fatal("expected entry to be created on demand")
	}

	m.withLocked(addr, func(entry *accountSubscription) bool {
		delete(entry.pending, chain.Hash{1})
		return false
	})
	if _, ok := m.subs[addr]; ok {
		t.Fatal("expected entry to be pruned once empty")
	}
}

func TestAccountMapWithExistingDoesNotCreate(t *testing.T) {
	m := newAccountMap()
	addr := testAddr(2)
	called := false
	m.withExisting(addr, func(entry *accountSubscription) bool {
		called = true
		return false
	})
	if called {
		t.Fatal("withExisting must not invoke fn for an absent entry")
	}
	if _, ok := m.subs[addr]; ok {
		t.Fatal("withExisting must not create an entry for an absent address")
	}
}

func TestAccountMapGCRemovesExpiredPending(t *testing.T) {
	m := newAccountMap()
	addr := testAddr(3)
	pm := newPendingMessage(50)
	m.withLocked(addr, func(entry *accountSubscription) bool {
		entry.pending[chain.Hash{1}] = pm
		return false
	})

	removed := m.gc(49)
	if removed != 0 {
		t.Fatalf("expected nothing removed before expiry, got %d", removed)
	}

	removed = m.gc(51)
	if removed != 1 {
		t.Fatalf("expected exactly one removal past expiry, got %d", removed)
	}
	select {
	case got := <-pm.reply:
		if got != nil {
			t.Fatalf("expected nil sentinel on GC expiry, got %v", got)
		}
	default:
		t.Fatal("expected GC to resolve the expired pending message")
	}
	if _, ok := m.subs[addr]; ok {
		t.Fatal("expected the now-empty entry to be pruned")
	}
}

func TestAccountMapGCRemovesDeadBroadcastChannels(t *testing.T) {
	m := newAccountMap()
	addr := testAddr(4)
	done := make(chan struct{})
	close(done) // simulate a subscriber whose context already cancelled
	m.withLocked(addr, func(entry *accountSubscription) bool {
		entry.channels = append(entry.channels, broadcastChannel{queue: newTxQueue(), done: done})
		return false
	})

	removed := m.gc(0)
	if removed != 1 {
		t.Fatalf("expected one dead channel removed, got %d", removed)
	}
	if _, ok := m.subs[addr]; ok {
		t.Fatal("expected entry with no surviving channels to be pruned")
	}
}

func TestAccountMapGCKeepsLiveBroadcastChannels(t *testing.T) {
	m := newAccountMap()
	addr := testAddr(5)
	live := make(chan struct{})
	defer close(live)
	m.withLocked(addr, func(entry *accountSubscription) bool {
		entry.channels = append(entry.channels, broadcastChannel{queue: newTxQueue(), done: live})
		return false
	})

	if removed := m.gc(0); removed != 0 {
		t.Fatalf("expected live channel to survive GC, got %d removed", removed)
	}
	if _, ok := m.subs[addr]; !ok {
		t.Fatal("expected entry with a live channel to remain")
	}
}
