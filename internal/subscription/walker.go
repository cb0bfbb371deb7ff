package subscription

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/metrics"
	"golang.org/x/sync/errgroup"

	"github.com/broxus/nodekeeper/internal/chain"
)

// blockHeight tracks the walker's current masterchain block sequence
// number.
var blockHeight = metrics.NewRegisteredGauge("subscription/walker/block_height", nil)

// walk is the engine's background task (§4.6). It runs until ctx is
// cancelled, sleeping whenever there is no outstanding subscription and
// advancing one masterchain block at a time otherwise.
func (e *Engine) walk(ctx context.Context) {
	defer close(e.done)
	defer e.drainAll()

	for {
		signal := e.subsChanged.Subscribe()

		if e.count.Load() > 0 {
			if err := e.ensureLastBlock(ctx); err != nil {
				e.log.Error("failed to establish last masterchain block", "err", err)
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
					return
				}
			} else {
				for e.count.Load() > 0 {
					if ctx.Err() != nil {
						return
					}
					if err := e.oneStep(ctx); err != nil {
						e.log.Error("walker step failed", "err", err)
						select {
						case <-time.After(time.Second):
						case <-ctx.Done():
							return
						}
					}
				}
			}
		}

		select {
		case <-signal:
		case <-ctx.Done():
			return
		}
	}
}

// ensureLastBlock populates the cached last masterchain block from the
// control channel's stats when the cache is empty (§4.6).
func (e *Engine) ensureLastBlock(ctx context.Context) error {
	if e.lastBlock.Load() != nil {
		return nil
	}
	stats, err := e.control.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("get_stats: %w", err)
	}
	blk, err := e.peer.GetBlock(ctx, stats.LastMCBlock)
	if err != nil {
		return fmt.Errorf("get_block: %w", err)
	}
	e.lastBlock.Store(&lastBlockState{block: *blk, edge: buildEdge(blk.ShardHashes)})
	return nil
}

// oneStep advances the walker by exactly one masterchain block (§4.6).
func (e *Engine) oneStep(ctx context.Context) error {
	last := e.lastBlock.Load()
	if last == nil {
		return fmt.Errorf("oneStep called without a cached last block")
	}
	// Barrier #1: senders that registered before this pulse are now
	// guaranteed to be observed by this step or a later one.
	e.loopStep.Pulse()

	next, err := e.peer.GetNextBlock(ctx, last.block.ID)
	if err != nil {
		return fmt.Errorf("get_next_block: %w", err)
	}
	// Barrier #2.
	e.loopStep.Pulse()

	shardBlocks, err := e.collectShardBlocks(ctx, next.ShardHashes, last.edge)
	if err != nil {
		return fmt.Errorf("walk shard blocks: %w", err)
	}
	sort.Slice(shardBlocks, func(i, j int) bool {
		if shardBlocks[i].GenTime != shardBlocks[j].GenTime {
			return shardBlocks[i].GenTime < shardBlocks[j].GenTime
		}
		return shardBlocks[i].ID.SeqNo < shardBlocks[j].ID.SeqNo
	})

	for _, blk := range shardBlocks {
		e.processBlock(e.shardSubs, blk)
	}
	e.processBlock(e.mcSubs, *next)

	e.count.Add(-int64(e.shardSubs.gc(next.GenTime)))
	e.count.Add(-int64(e.mcSubs.gc(next.GenTime)))

	e.lastBlock.Store(&lastBlockState{block: *next, edge: buildEdge(next.ShardHashes)})
	blockHeight.Update(int64(next.ID.SeqNo))
	return nil
}

// collectShardBlocks fans out one task per referenced shard block,
// joining before returning (§4.6 step 3-4).
func (e *Engine) collectShardBlocks(ctx context.Context, refs []chain.BlockRef, edge map[chain.ShardID]uint32) ([]chain.Block, error) {
	var mu sync.Mutex
	var all []chain.Block

	g, gctx := errgroup.WithContext(ctx)
	for _, ref := range refs {
		ref := ref
		g.Go(func() error {
			blocks, err := e.walkShardChain(gctx, ref.ID, edge)
			if err != nil {
				return err
			}
			mu.Lock()
			all = append(all, blocks...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return all, nil
}

// walkShardChain walks backward from start through prev1 and optional
// prev2, stopping as soon as a predecessor is not beyond the edge.
func (e *Engine) walkShardChain(ctx context.Context, start chain.BlockID, edge map[chain.ShardID]uint32) ([]chain.Block, error) {
	blk, err := e.peer.GetBlock(ctx, start)
	if err != nil {
		return nil, fmt.Errorf("get_block(%s): %w", start.Shard, err)
	}
	out := []chain.Block{*blk}
	for _, prev := range []*chain.BlockID{blk.Prev1, blk.Prev2} {
		if prev == nil || !beyondEdge(*prev, edge) {
			continue
		}
		more, err := e.walkShardChain(ctx, *prev, edge)
		if err != nil {
			return nil, err
		}
		out = append(out, more...)
	}
	return out, nil
}

// beyondEdge implements the §4.6 edge predicate: a shard id is beyond
// the edge if the shards-edge map has an exact entry and the id's
// sequence number exceeds it, or failing that, if some overlapping
// shard's entry is exceeded. If nothing intersects, it is not beyond
// the edge (the walk stops there).
func beyondEdge(id chain.BlockID, edge map[chain.ShardID]uint32) bool {
	if top, ok := edge[id.Shard]; ok {
		return id.SeqNo > top
	}
	for shard, top := range edge {
		if shard.Intersects(id.Shard) {
			return id.SeqNo > top
		}
	}
	return false
}

// buildEdge derives a shards-edge map from a masterchain block's shard
// references: the highest known sequence number per shard (§3, invariant 4).
func buildEdge(refs []chain.BlockRef) map[chain.ShardID]uint32 {
	edge := make(map[chain.ShardID]uint32, len(refs))
	for _, r := range refs {
		edge[r.ID.Shard] = r.ID.SeqNo
	}
	return edge
}

// processBlock dispatches blk's transactions to every subscribed
// account they touch (§4.6 "transaction processing").
func (e *Engine) processBlock(m *accountMap, blk chain.Block) {
	for addr, txs := range blk.AccountBlocks {
		m.withExisting(addr, func(entry *accountSubscription) bool {
			for _, tx := range txs {
				e.deliverTx(entry, tx)
			}
			return false
		})
	}
}

// deliverTx broadcasts tx to every live subscriber channel, then — if it
// carries an inbound message matching a pending one — resolves that
// pending message and removes it (§4.6, §4.7).
func (e *Engine) deliverTx(entry *accountSubscription, tx chain.Transaction) {
	for _, bc := range entry.channels {
		txCopy := tx
		bc.queue.push(&txCopy)
	}
	if tx.InboundMsgHash == nil {
		return
	}
	if pm, ok := entry.pending[*tx.InboundMsgHash]; ok {
		delete(entry.pending, *tx.InboundMsgHash)
		e.count.Add(-1)
		txCopy := tx
		pm.resolve(&txCopy)
	}
}

// drainAll resolves every outstanding pending message with nil so no
// sender is left blocked past engine shutdown (§5 cancellation).
func (e *Engine) drainAll() {
	for _, m := range []*accountMap{e.mcSubs, e.shardSubs} {
		m.mu.Lock()
		for _, entry := range m.subs {
			for hash, pm := range entry.pending {
				pm.resolve(nil)
				delete(entry.pending, hash)
			}
		}
		m.subs = make(map[chain.Address]*accountSubscription)
		m.mu.Unlock()
	}
}
