package subscription

import (
	"context"

	"github.com/broxus/nodekeeper/internal/chain"
)

// NodeStats is the subset of the control channel's get_stats response the
// engine and scheduler need to judge sync status.
type NodeStats struct {
	Running          bool
	MasterchainDrift uint32
	ShardDrift       uint32
	LastMCBlock      chain.BlockID
}

// BlockchainConfig is the subset of get_config_all the scheduler needs.
// BlockID is the masterchain block the config was read from — the
// scheduler resolves the timeline against that block's generation time,
// and GetSignatureID resolves the global id from that same block, rather
// than trusting either value out of the config response directly.
type BlockchainConfig struct {
	BlockID              chain.BlockID
	ElectorAddress       chain.Address
	Capabilities         uint64
	ElectionsStartBefore uint32
	ElectionsEndBefore   uint32
	RoundEnd             uint32
	Raw                  []byte
}

// ControlClient is the reliable TCP control RPC surface the engine drives.
// Implemented by internal/rpc/control.Client.
type ControlClient interface {
	GetStats(ctx context.Context) (*NodeStats, error)
	GetConfigAll(ctx context.Context) (*BlockchainConfig, error)
	GetShardAccountState(ctx context.Context, addr chain.Address) (*chain.AccountState, error)
	SendMessage(ctx context.Context, msg chain.Message) error
}

// PeerClient is the unreliable UDP peer RPC surface the engine drives.
// Implemented by internal/rpc/peer.Client.
type PeerClient interface {
	GetCapabilities(ctx context.Context) (uint64, error)
	GetBlock(ctx context.Context, id chain.BlockID) (*chain.Block, error)
	GetNextBlock(ctx context.Context, after chain.BlockID) (*chain.Block, error)
	Reachable(ctx context.Context) bool
}
