package subscription

import (
	"sync"

	"github.com/broxus/nodekeeper/internal/chain"
)

// pendingMessage is the reply side of an in-flight external message. Its
// reply channel is guaranteed to receive exactly one value: the matching
// transaction, or nil if the message expired or was otherwise dropped
// without a reply ever being observed. resolve is idempotent so every
// removal path (match, GC expiry, send failure, engine shutdown) can call
// it without risk of a double send or a stuck sender.
type pendingMessage struct {
	expireAt uint32
	reply    chan *chain.Transaction
	once     sync.Once
}

func newPendingMessage(expireAt uint32) *pendingMessage {
	return &pendingMessage{
		expireAt: expireAt,
		reply:    make(chan *chain.Transaction, 1),
	}
}

// resolve delivers tx (possibly nil) to the reply channel exactly once.
func (p *pendingMessage) resolve(tx *chain.Transaction) {
	p.once.Do(func() {
		p.reply <- tx
		close(p.reply)
	})
}

// broadcastChannel pairs a subscriber's unbounded delivery queue with its
// liveness signal, so the engine can prune a dead subscriber without ever
// touching (and thereby racing) the delivery path itself.
type broadcastChannel struct {
	queue *txQueue
	done  <-chan struct{}
}

func (b broadcastChannel) alive() bool {
	select {
	case <-b.done:
		return false
	default:
		return true
	}
}

// accountSubscription is the per-account bundle of outstanding pending
// messages and live transaction broadcast channels.
type accountSubscription struct {
	pending  map[chain.Hash]*pendingMessage
	channels []broadcastChannel
}

func newAccountSubscription() *accountSubscription {
	return &accountSubscription{pending: make(map[chain.Hash]*pendingMessage)}
}

func (a *accountSubscription) empty() bool {
	return len(a.pending) == 0 && len(a.channels) == 0
}

// accountMap is a mutex-guarded map from account address to its
// subscription bundle, shared by the masterchain and shard subscription
// sets (§3).
type accountMap struct {
	mu   sync.Mutex
	subs map[chain.Address]*accountSubscription
}

func newAccountMap() *accountMap {
	return &accountMap{subs: make(map[chain.Address]*accountSubscription)}
}

// withLocked runs fn under the map lock, creating the entry for addr on
// demand. fn returns true if the (possibly now-empty) entry should be
// pruned before unlocking.
func (m *accountMap) withLocked(addr chain.Address, fn func(*accountSubscription) (prune bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.subs[addr]
	if !ok {
		entry = newAccountSubscription()
		m.subs[addr] = entry
	}
	if fn(entry) || entry.empty() {
		delete(m.subs, addr)
	}
}

// withExisting runs fn under the map lock only if addr already has an
// entry, without creating one — the walker's hot path must not churn the
// map for every untracked account a block happens to touch (§4.6 "skip
// entries whose channels and pending set are both empty").
func (m *accountMap) withExisting(addr chain.Address, fn func(*accountSubscription) (prune bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.subs[addr]
	if !ok {
		return
	}
	if fn(entry) || entry.empty() {
		delete(m.subs, addr)
	}
}

// gc drops expired pending messages and dead broadcast channels across
// every entry, returning the number of subscriptions removed (§4.6).
func (m *accountMap) gc(now uint32) (removed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for addr, entry := range m.subs {
		for hash, pm := range entry.pending {
			if pm.expireAt < now {
				pm.resolve(nil)
				delete(entry.pending, hash)
				removed++
			}
		}
		live := entry.channels[:0]
		for _, bc := range entry.channels {
			if bc.alive() {
				live = append(live, bc)
			} else {
				removed++
			}
		}
		entry.channels = live
		if entry.empty() {
			delete(m.subs, addr)
		}
	}
	return removed
}
