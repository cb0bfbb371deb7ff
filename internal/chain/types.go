// Package chain holds the wire-level types shared by the RPC clients,
// the façades and the subscription engine: addresses, shard identifiers,
// messages and transactions. It deliberately treats message and
// transaction bodies as opaque cells except for the handful of fields
// the core needs to read (§1 puts cell/TL-B encoding out of scope).
package chain

import (
	"encoding/hex"
	"fmt"
)

// rawAddress is the 256-bit account id within a workchain, shaped after
// go-ethereum's common.Hash: a fixed-size array with hex (un)marshaling,
// not a byte slice, so it is cheap to use as a map key.
type rawAddress [32]byte

// Address is a full account address: workchain id plus the 256-bit
// account id within it. The masterchain is workchain -1; everything
// else is a shardchain address.
type Address struct {
	Workchain int32
	Account   rawAddress
}

// IsMasterchain reports whether the address lives on the masterchain
// (workchain -1), the split the engine uses to choose between its two
// subscription maps (§3).
func (a Address) IsMasterchain() bool { return a.Workchain == -1 }

// ParseAddress decodes a "workchain:hex" account address.
func ParseAddress(workchain int32, hexAccount string) (Address, error) {
	var a Address
	b, err := hex.DecodeString(hexAccount)
	if err != nil {
		return a, fmt.Errorf("decode address: %w", err)
	}
	if len(b) != len(a.Account) {
		return a, fmt.Errorf("address must be %d bytes, got %d", len(a.Account), len(b))
	}
	a.Workchain = workchain
	copy(a.Account[:], b)
	return a, nil
}

func (a Address) String() string {
	return fmt.Sprintf("%d:%s", a.Workchain, hex.EncodeToString(a.Account[:]))
}

// Hash is a 256-bit hash, e.g. of a message cell.
type Hash [32]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// HexToHash decodes a hex string into a Hash.
func HexToHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("decode hash: %w", err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("hash must be %d bytes, got %d", len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}

// ShardID identifies a shard within a workchain by its prefix bits.
type ShardID struct {
	Workchain int32
	Prefix    uint64
}

func (s ShardID) String() string {
	return fmt.Sprintf("%d:%016x", s.Workchain, s.Prefix)
}

// Intersects reports whether s and other describe overlapping shard
// ranges, i.e. one is an ancestor of the other in the binary shard tree.
func (s ShardID) Intersects(other ShardID) bool {
	if s.Workchain != other.Workchain {
		return false
	}
	a, b := s.Prefix, other.Prefix
	// Lowest set bit of each marks the split depth; the shorter prefix
	// must be a bitwise prefix of the longer one.
	la, lb := lowestBit(a), lowestBit(b)
	if la >= lb {
		return a&^(la*2-1) == b&^(la*2-1)
	}
	return a&^(lb*2-1) == b&^(lb*2-1)
}

func lowestBit(x uint64) uint64 {
	if x == 0 {
		return 1
	}
	return x & (-x)
}

// BlockID identifies a block within a shard by sequence number.
type BlockID struct {
	Shard ShardID
	SeqNo uint32
}

// BlockRef is a shard block reference as carried in a masterchain block's
// ShardHashes, including its two optional predecessors.
type BlockRef struct {
	ID    BlockID
	Prev1 *BlockID
	Prev2 *BlockID
}

// Message is an opaque external or internal message cell plus the
// header fields the core inspects. Destination is the account the
// message is delivered to — the account whose subscription entry the
// engine tracks the pending reply under.
type Message struct {
	Destination Address
	Hash        Hash
	Body        []byte
	ExpireAt    uint32
}

// Transaction is an opaque transaction cell plus the header fields the
// core inspects: which account it belongs to, and the hash of the
// inbound message that triggered it (if external).
type Transaction struct {
	Account       Address
	Hash          Hash
	InboundMsgHash *Hash
	LT            uint64
}

// AccountState is a snapshot of an account as returned by get_account_state.
type AccountState struct {
	Address  Address
	Deployed bool
	Balance  uint64
	Data     []byte
}

// Block is a shard or masterchain block: its identity, predecessors (a
// shard block may have two during a merge), generation time, and the
// transactions it carries grouped by account.
type Block struct {
	ID            BlockID
	Prev1         *BlockID
	Prev2         *BlockID
	GenTime       uint32
	GlobalID      int32
	AccountBlocks map[Address][]Transaction
	ShardHashes   []BlockRef // only populated for masterchain blocks
}

