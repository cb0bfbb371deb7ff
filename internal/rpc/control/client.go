// Package control implements the reliable TCP RPC client used to talk to
// the local node's control channel (get_stats, get_config_all,
// get_shard_account_state, send_message). It is modeled on the teacher's
// rpc.Client id-correlation contract — a monotonic request id, a single
// goroutine reading frames off the wire, Call blocking on a per-request
// channel — adapted to a length-prefixed JSON codec over a raw net.Conn
// instead of HTTP/WS, since the control channel is a bespoke local
// protocol rather than a JSON-RPC-over-HTTP server.
package control

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"

	"github.com/broxus/nodekeeper/internal/chain"
	"github.com/broxus/nodekeeper/internal/subscription"
)

type request struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Client is a persistent TCP connection to the local node's control RPC
// surface, satisfying subscription.ControlClient.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
	log    log.Logger

	nextID   atomic.Uint64
	mu       sync.Mutex
	pending  map[uint64]chan response
	writeMu  sync.Mutex
}

// Dial opens the control connection.
func Dial(ctx context.Context, addr string) (*Client, error) {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial control rpc: %w", err)
	}
	c := &Client{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		log:     log.New("module", "rpc/control"),
		pending: make(map[uint64]chan response),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	for {
		var length uint32
		if err := binary.Read(c.reader, binary.BigEndian, &length); err != nil {
			c.failAll(fmt.Errorf("control rpc connection closed: %w", err))
			return
		}
		buf := make([]byte, length)
		if _, err := io.ReadFull(c.reader, buf); err != nil {
			c.failAll(fmt.Errorf("control rpc read: %w", err))
			return
		}
		var resp response
		if err := json.Unmarshal(buf, &resp); err != nil {
			c.log.Error("malformed control rpc frame", "err", err)
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (c *Client) failAll(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		ch <- response{ID: id, Error: err.Error()}
		delete(c.pending, id)
	}
}

// call issues a request and blocks for its matching response or ctx
// cancellation.
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	id := c.nextID.Add(1)
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	req := request{ID: id, Method: method, Params: paramsJSON}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	ch := make(chan response, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))
	_, writeErr := c.conn.Write(append(hdr[:], body...))
	c.writeMu.Unlock()
	if writeErr != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return fmt.Errorf("write request: %w", writeErr)
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return fmt.Errorf("%s: %s", method, resp.Error)
		}
		if out == nil {
			return nil
		}
		return json.Unmarshal(resp.Result, out)
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return ctx.Err()
	}
}

type statsWire struct {
	Running          bool   `json:"running"`
	MasterchainDrift uint32 `json:"masterchain_drift"`
	ShardDrift       uint32 `json:"shard_drift"`
	LastMCWorkchain  int32  `json:"last_mc_workchain"`
	LastMCShard      uint64 `json:"last_mc_shard"`
	LastMCSeqNo      uint32 `json:"last_mc_seqno"`
}

// GetStats calls the node's get_stats method.
func (c *Client) GetStats(ctx context.Context) (*subscription.NodeStats, error) {
	var w statsWire
	if err := c.call(ctx, "get_stats", nil, &w); err != nil {
		return nil, err
	}
	return &subscription.NodeStats{
		Running:          w.Running,
		MasterchainDrift: w.MasterchainDrift,
		ShardDrift:       w.ShardDrift,
		LastMCBlock: chain.BlockID{
			Shard: chain.ShardID{Workchain: w.LastMCWorkchain, Prefix: w.LastMCShard},
			SeqNo: w.LastMCSeqNo,
		},
	}, nil
}

type configWire struct {
	BlockWorkchain       int32  `json:"block_workchain"`
	BlockShard           uint64 `json:"block_shard"`
	BlockSeqNo           uint32 `json:"block_seqno"`
	ElectorWorkchain     int32  `json:"elector_workchain"`
	ElectorAccount       string `json:"elector_account"`
	Capabilities         uint64 `json:"capabilities"`
	ElectionsStartBefore uint32 `json:"elections_start_before"`
	ElectionsEndBefore   uint32 `json:"elections_end_before"`
	RoundEnd             uint32 `json:"round_end"`
	Raw                  []byte `json:"raw"`
}

// GetConfigAll calls the node's get_config_all method. The response
// carries the masterchain block id the config was read at, alongside the
// config itself — callers resolve both the election timeline and the
// global id against that block, rather than trusting any value the
// config response might separately claim for them (§3, §4.2 step 3).
func (c *Client) GetConfigAll(ctx context.Context) (*subscription.BlockchainConfig, error) {
	var w configWire
	if err := c.call(ctx, "get_config_all", nil, &w); err != nil {
		return nil, err
	}
	elector, err := chain.ParseAddress(w.ElectorWorkchain, w.ElectorAccount)
	if err != nil {
		return nil, fmt.Errorf("malformed elector address in config: %w", err)
	}
	return &subscription.BlockchainConfig{
		BlockID: chain.BlockID{
			Shard: chain.ShardID{Workchain: w.BlockWorkchain, Prefix: w.BlockShard},
			SeqNo: w.BlockSeqNo,
		},
		ElectorAddress:       elector,
		Capabilities:         w.Capabilities,
		ElectionsStartBefore: w.ElectionsStartBefore,
		ElectionsEndBefore:   w.ElectionsEndBefore,
		RoundEnd:             w.RoundEnd,
		Raw:                  w.Raw,
	}, nil
}

type accountStateWire struct {
	Deployed bool   `json:"deployed"`
	Balance  uint64 `json:"balance"`
	Data     []byte `json:"data"`
}

// GetShardAccountState calls the node's get_shard_account_state method.
func (c *Client) GetShardAccountState(ctx context.Context, addr chain.Address) (*chain.AccountState, error) {
	params := map[string]any{"workchain": addr.Workchain, "account": addr.String()}
	var w accountStateWire
	if err := c.call(ctx, "get_shard_account_state", params, &w); err != nil {
		return nil, err
	}
	return &chain.AccountState{
		Address:  addr,
		Deployed: w.Deployed,
		Balance:  w.Balance,
		Data:     w.Data,
	}, nil
}

// SendMessage calls the node's send_message method.
func (c *Client) SendMessage(ctx context.Context, msg chain.Message) error {
	params := map[string]any{"body": msg.Body, "expire_at": msg.ExpireAt}
	return c.call(ctx, "send_message", params, nil)
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
