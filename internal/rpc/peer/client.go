// Package peer implements the unreliable UDP RPC client used to talk to
// the local node's overlay side (get_capabilities, get_block,
// get_next_block). It is modeled on the request/reply idiom common to
// devp2p-style UDP peer protocols: a random correlation id embedded in
// each packet, a single read loop dispatching replies to a map of
// pending requests, and a per-request timeout timer, since UDP offers no
// delivery guarantee the caller can rely on.
package peer

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/broxus/nodekeeper/internal/chain"
)

const defaultTimeout = 2 * time.Second
const maxDatagram = 2048

type packet struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Client is a UDP socket bound to talk to a single peer address,
// satisfying subscription.PeerClient.
type Client struct {
	conn *net.UDPConn
	log  log.Logger

	mu      sync.Mutex
	pending map[uint64]chan packet
}

// Dial resolves addr and opens the UDP socket.
func Dial(addr string) (*Client, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve peer udp addr: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial peer udp: %w", err)
	}
	c := &Client{
		conn:    conn,
		log:     log.New("module", "rpc/peer"),
		pending: make(map[uint64]chan packet),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	buf := make([]byte, maxDatagram)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			return
		}
		var p packet
		if err := json.Unmarshal(buf[:n], &p); err != nil {
			c.log.Debug("dropping malformed peer udp datagram", "err", err)
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[p.ID]
		if ok {
			delete(c.pending, p.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- p
		}
	}
}

func randomID() uint64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint64(b[:])
}

// call sends a request and waits for a matching reply, retrying until
// ctx is cancelled — UDP drops silently, so the caller's context is the
// only bound on how long this keeps resending.
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	id := randomID()
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	body, err := json.Marshal(packet{ID: id, Method: method, Params: paramsJSON})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	ch := make(chan packet, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	ticker := time.NewTicker(defaultTimeout)
	defer ticker.Stop()

	if _, err := c.conn.Write(body); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	for {
		select {
		case resp := <-ch:
			if resp.Error != "" {
				return fmt.Errorf("%s: %s", method, resp.Error)
			}
			if out == nil {
				return nil
			}
			return json.Unmarshal(resp.Result, out)
		case <-ticker.C:
			if _, err := c.conn.Write(body); err != nil {
				return fmt.Errorf("write request: %w", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// GetCapabilities calls the peer's get_capabilities method.
func (c *Client) GetCapabilities(ctx context.Context) (uint64, error) {
	var caps uint64
	if err := c.call(ctx, "get_capabilities", nil, &caps); err != nil {
		return 0, err
	}
	return caps, nil
}

type blockWire struct {
	Workchain     int32              `json:"workchain"`
	Shard         uint64             `json:"shard"`
	SeqNo         uint32             `json:"seqno"`
	Prev1         *blockIDWire       `json:"prev1,omitempty"`
	Prev2         *blockIDWire       `json:"prev2,omitempty"`
	GenTime       uint32             `json:"gen_time"`
	GlobalID      int32              `json:"global_id"`
	ShardHashes   []shardHashWire    `json:"shard_hashes,omitempty"`
	AccountBlocks []accountBlockWire `json:"account_blocks,omitempty"`
}

type blockIDWire struct {
	Workchain int32  `json:"workchain"`
	Shard     uint64 `json:"shard"`
	SeqNo     uint32 `json:"seqno"`
}

func (w blockIDWire) toChain() chain.BlockID {
	return chain.BlockID{
		Shard: chain.ShardID{Workchain: w.Workchain, Prefix: w.Shard},
		SeqNo: w.SeqNo,
	}
}

type shardHashWire struct {
	ID    blockIDWire  `json:"id"`
	Prev1 *blockIDWire `json:"prev1,omitempty"`
	Prev2 *blockIDWire `json:"prev2,omitempty"`
}

type accountBlockWire struct {
	Workchain    int32             `json:"workchain"`
	Account      string            `json:"account"`
	Transactions []transactionWire `json:"transactions"`
}

type transactionWire struct {
	Hash           string  `json:"hash"`
	InboundMsgHash *string `json:"inbound_msg_hash,omitempty"`
	LT             uint64  `json:"lt"`
}

func (w blockWire) toChain() (*chain.Block, error) {
	id := blockIDWire{w.Workchain, w.Shard, w.SeqNo}.toChain()
	blk := &chain.Block{
		ID:            id,
		GenTime:       w.GenTime,
		GlobalID:      w.GlobalID,
		AccountBlocks: make(map[chain.Address][]chain.Transaction, len(w.AccountBlocks)),
	}
	if w.Prev1 != nil {
		p := w.Prev1.toChain()
		blk.Prev1 = &p
	}
	if w.Prev2 != nil {
		p := w.Prev2.toChain()
		blk.Prev2 = &p
	}
	for _, sh := range w.ShardHashes {
		ref := chain.BlockRef{ID: sh.ID.toChain()}
		if sh.Prev1 != nil {
			p := sh.Prev1.toChain()
			ref.Prev1 = &p
		}
		if sh.Prev2 != nil {
			p := sh.Prev2.toChain()
			ref.Prev2 = &p
		}
		blk.ShardHashes = append(blk.ShardHashes, ref)
	}
	for _, ab := range w.AccountBlocks {
		addr, err := chain.ParseAddress(ab.Workchain, ab.Account)
		if err != nil {
			return nil, fmt.Errorf("malformed account block address: %w", err)
		}
		txs := make([]chain.Transaction, 0, len(ab.Transactions))
		for _, tw := range ab.Transactions {
			tx := chain.Transaction{Account: addr, LT: tw.LT}
			if h, err := chain.HexToHash(tw.Hash); err == nil {
				tx.Hash = h
			}
			if tw.InboundMsgHash != nil {
				if h, err := chain.HexToHash(*tw.InboundMsgHash); err == nil {
					tx.InboundMsgHash = &h
				}
			}
			txs = append(txs, tx)
		}
		blk.AccountBlocks[addr] = txs
	}
	return blk, nil
}

// GetBlock calls the peer's get_block method for a specific block id.
func (c *Client) GetBlock(ctx context.Context, id chain.BlockID) (*chain.Block, error) {
	params := map[string]any{"workchain": id.Shard.Workchain, "shard": id.Shard.Prefix, "seqno": id.SeqNo}
	var w blockWire
	if err := c.call(ctx, "get_block", params, &w); err != nil {
		return nil, err
	}
	return w.toChain()
}

// GetNextBlock calls the peer's get_next_block method.
func (c *Client) GetNextBlock(ctx context.Context, after chain.BlockID) (*chain.Block, error) {
	params := map[string]any{"workchain": after.Shard.Workchain, "shard": after.Shard.Prefix, "seqno": after.SeqNo}
	var w blockWire
	if err := c.call(ctx, "get_next_block", params, &w); err != nil {
		return nil, err
	}
	return w.toChain()
}

// Reachable probes the peer side with a capabilities call on a short
// deadline, for EnsureReady (§4.5).
func (c *Client) Reachable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	_, err := c.GetCapabilities(ctx)
	return err == nil
}

// Close closes the underlying socket.
func (c *Client) Close() error {
	return c.conn.Close()
}
