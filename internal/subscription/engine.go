// Package subscription implements the blockchain subscription engine of
// §4.5-§4.7: it walks the masterchain and its shards block by block,
// dispatches transactions to subscribed accounts, correlates replies
// with outstanding external messages by hash, and honors per-message
// expiry. It is the "send message and reliably observe its effect"
// primitive the election scheduler is built on.
package subscription

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/broxus/nodekeeper/internal/chain"
	"github.com/broxus/nodekeeper/internal/notify"
)

// lastBlockState is the walker's single-slot atomic snapshot of the most
// recently processed masterchain block plus its shards edge (§3).
type lastBlockState struct {
	block chain.Block
	edge  map[chain.ShardID]uint32
}

// Engine is the subscription engine. Callers share a single *Engine; its
// background walker runs from New until Close, the way a node.Lifecycle
// service in the teacher's stack runs from Start to Stop. The walker
// goroutine holds its own reference to the Engine, so dropping every
// caller's reference does not stop it: only Close, or cancellation of
// the ctx passed to New, stops the walker.
type Engine struct {
	control ControlClient
	peer    PeerClient
	log     log.Logger

	mcSubs    *accountMap
	shardSubs *accountMap

	count atomic.Int64

	subsChanged *notify.Edge
	loopStep    *notify.Edge

	lastBlock atomic.Pointer[lastBlockState]
	globalID  atomic.Pointer[int32]

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs the engine and starts its background walker.
func New(ctx context.Context, control ControlClient, peer PeerClient) *Engine {
	walkCtx, cancel := context.WithCancel(ctx)
	e := &Engine{
		control:     control,
		peer:        peer,
		log:         log.New("module", "subscription"),
		mcSubs:      newAccountMap(),
		shardSubs:   newAccountMap(),
		subsChanged: notify.NewEdge(),
		loopStep:    notify.NewEdge(),
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	go e.walk(walkCtx)
	return e
}

// Close cancels the background walker and waits for it to exit,
// resolving every still-pending message's reply channel with nil so no
// sender is left blocked (§7).
func (e *Engine) Close() {
	e.cancel()
	<-e.done
}

// EnsureReady reports whether the node is running and its peer side is
// reachable (§4.5).
func (e *Engine) EnsureReady(ctx context.Context) error {
	stats, err := e.control.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("get_stats: %w", err)
	}
	if !stats.Running {
		return fmt.Errorf("node is not running")
	}
	if !e.peer.Reachable(ctx) {
		return fmt.Errorf("peer side unreachable")
	}
	return nil
}

// GetAccountState fetches the latest snapshot of an account (§4.5).
func (e *Engine) GetAccountState(ctx context.Context, addr chain.Address) (*chain.AccountState, error) {
	return e.control.GetShardAccountState(ctx, addr)
}

// globalIDFetchRetries and globalIDFetchInterval bound how long
// GetSignatureID keeps retrying the masterchain block fetch before
// giving up (§4.5).
const (
	globalIDFetchRetries  = 10
	globalIDFetchInterval = time.Second
)

// GetSignatureID returns the chain's global id when the signature-id
// capability bit is set, caching the result after the first read (§4.5).
// The global id is never read off the config response itself: it is
// lazily resolved from the masterchain block the config was read at,
// fetched over the peer side with retries, since that block carries the
// chain's actual global_id field.
func (e *Engine) GetSignatureID(ctx context.Context) (*int32, error) {
	if cached := e.globalID.Load(); cached != nil {
		return cached, nil
	}
	cfg, err := e.control.GetConfigAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("get_config_all: %w", err)
	}
	const signatureIDCapabilityBit = 0x04000000
	if cfg.Capabilities&signatureIDCapabilityBit == 0 {
		return nil, nil
	}

	var blk *chain.Block
	for attempt := 0; ; attempt++ {
		blk, err = e.peer.GetBlock(ctx, cfg.BlockID)
		if err == nil {
			break
		}
		if attempt >= globalIDFetchRetries {
			return nil, fmt.Errorf("get_block(%v) for global id: %w", cfg.BlockID, err)
		}
		e.log.Error("failed to fetch masterchain block for global id, retrying", "err", err)
		select {
		case <-time.After(globalIDFetchInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	id := blk.GlobalID
	e.globalID.CompareAndSwap(nil, &id)
	return e.globalID.Load(), nil
}

// GetBlock fetches a specific block by id over the peer side (§4.2 step
// 3: resolving the timeline's target block, not part of the walker's own
// sequential advance).
func (e *Engine) GetBlock(ctx context.Context, id chain.BlockID) (*chain.Block, error) {
	return e.peer.GetBlock(ctx, id)
}

// Subscribe returns a channel that receives every transaction of addr
// observed by the walker, across both the masterchain and shard
// subscription sets (whichever the account actually belongs to; the
// caller need not know which). Delivery is unbounded: a reader that falls
// behind never loses a transaction, it just accumulates backlog in the
// queue behind the scenes until it catches up. The channel is released
// when ctx is cancelled.
func (e *Engine) Subscribe(ctx context.Context, addr chain.Address) <-chan *chain.Transaction {
	q := newTxQueue()
	out := make(chan *chain.Transaction)
	go pump(ctx, q, out)
	bc := broadcastChannel{queue: q, done: ctx.Done()}
	e.addBroadcast(e.mapFor(addr), addr, bc)
	return out
}

// mapFor picks which of the two subscription maps an address belongs to
// (§3): masterchain addresses against mcSubs, everything else against
// shardSubs.
func (e *Engine) mapFor(addr chain.Address) *accountMap {
	if addr.IsMasterchain() {
		return e.mcSubs
	}
	return e.shardSubs
}

func (e *Engine) addBroadcast(m *accountMap, addr chain.Address, bc broadcastChannel) {
	m.withLocked(addr, func(entry *accountSubscription) bool {
		wasEmpty := entry.empty()
		entry.channels = append(entry.channels, bc)
		e.count.Add(1)
		if wasEmpty {
			e.subsChanged.Pulse()
		}
		return false
	})
}

// SendMessageWithRetries repeatedly builds and sends a message via
// buildFn until one attempt succeeds, rebuilding with a fresh expiry
// whenever the previous attempt's message expired unobserved (§4.5).
func (e *Engine) SendMessageWithRetries(ctx context.Context, buildFn BuildFn) (*chain.Transaction, error) {
	sigID, err := e.GetSignatureID(ctx)
	if err != nil {
		return nil, err
	}
	for {
		msg, err := buildFn(60*time.Second, sigID)
		if err != nil {
			return nil, fmt.Errorf("build message: %w", err)
		}
		tx, err := e.SendMessage(ctx, msg)
		if err != nil {
			return nil, err
		}
		if tx != nil {
			return tx, nil
		}
		e.log.Debug("message expired unobserved, rebuilding", "hash", msg.Hash)
	}
}

// BuildFn produces a fresh external message, keyed to its destination
// account and expiry, given the per-attempt timeout and optional
// signature id.
type BuildFn func(timeout time.Duration, sigID *int32) (chain.Message, error)

// SendMessage implements the send-barrier protocol of §4.7: it registers
// the pending message and arms the loop-step edge before transmitting,
// so the walker can never observe a reply before the sender has finished
// registering.
func (e *Engine) SendMessage(ctx context.Context, msg chain.Message) (*chain.Transaction, error) {
	account := msg.Destination
	m := e.mapFor(account)

	pm := newPendingMessage(msg.ExpireAt)
	var stepEdge <-chan struct{}
	m.withLocked(account, func(entry *accountSubscription) bool {
		wasEmpty := entry.empty()
		entry.pending[msg.Hash] = pm
		e.count.Add(1)
		stepEdge = e.loopStep.Subscribe()
		if wasEmpty {
			e.subsChanged.Pulse()
		}
		return false
	})

	select {
	case <-stepEdge:
	case <-ctx.Done():
		e.removePending(m, account, msg.Hash, pm)
		return nil, ctx.Err()
	}

	if err := e.control.SendMessage(ctx, msg); err != nil {
		e.removePending(m, account, msg.Hash, pm)
		return nil, fmt.Errorf("send_message: %w", err)
	}

	select {
	case tx := <-pm.reply:
		return tx, nil
	case <-ctx.Done():
		e.removePending(m, account, msg.Hash, pm)
		return nil, ctx.Err()
	}
}

func (e *Engine) removePending(m *accountMap, addr chain.Address, hash chain.Hash, pm *pendingMessage) {
	m.withLocked(addr, func(entry *accountSubscription) bool {
		if _, ok := entry.pending[hash]; ok {
			delete(entry.pending, hash)
			e.count.Add(-1)
		}
		return false
	})
	pm.resolve(nil)
}
