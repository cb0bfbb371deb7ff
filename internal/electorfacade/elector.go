// Package electorfacade wraps the built-in elector contract: reading its
// current state and building the "recover_stake" and
// "participate_in_elections" payloads direct-mode elections need.
package electorfacade

import (
	"context"
	"fmt"

	"github.com/broxus/nodekeeper/internal/abiutil"
	"github.com/broxus/nodekeeper/internal/chain"
	"github.com/broxus/nodekeeper/internal/subscription"
)

// Timings are the elector's own timing parameters (§3, §4.1).
type Timings struct {
	ElectionsStartBefore uint32
	ElectionsEndBefore   uint32
}

// Data is a snapshot of the elector contract's state.
type Data struct {
	CurrentElectionID *uint32
	UnfrozenStakes    map[chain.Address]uint64
	Elected           map[chain.Address]bool
}

// UnfrozenStake reports the unfrozen recoverable stake owed to addr, if any.
func (d *Data) UnfrozenStake(addr chain.Address) (uint64, bool) {
	amount, ok := d.UnfrozenStakes[addr]
	return amount, ok
}

// IsElected reports whether addr is already a winner of the current election.
func (d *Data) IsElected(addr chain.Address) bool {
	return d.Elected[addr]
}

// DataDecoder decodes the elector contract's raw state into Data. The
// cell/TL-B layout itself is out of scope (§1); callers inject a
// concrete decoder built against the elector's actual storage layout.
type DataDecoder interface {
	Decode(raw []byte) (*Data, error)
}

// Elector is the façade over the built-in elector contract.
type Elector struct {
	sub     *subscription.Engine
	address chain.Address
	abi     *abiutil.ABI
	encoder abiutil.Encoder
	decoder DataDecoder
}

// New constructs the façade for the elector deployed at address.
func New(sub *subscription.Engine, address chain.Address, abi *abiutil.ABI, encoder abiutil.Encoder, decoder DataDecoder) *Elector {
	return &Elector{sub: sub, address: address, abi: abi, encoder: encoder, decoder: decoder}
}

// Address returns the elector contract's address.
func (e *Elector) Address() chain.Address { return e.address }

// GetData fetches and decodes the elector's current state (§4.2 step 5).
func (e *Elector) GetData(ctx context.Context) (*Data, error) {
	state, err := e.sub.GetAccountState(ctx, e.address)
	if err != nil {
		return nil, fmt.Errorf("get elector account state: %w", err)
	}
	if !state.Deployed {
		return nil, fmt.Errorf("elector contract not deployed")
	}
	data, err := e.decoder.Decode(state.Data)
	if err != nil {
		return nil, fmt.Errorf("decode elector state: %w", err)
	}
	return data, nil
}

// BuildRecoverStakePayload builds the recover_stake call body (§4.3 step 1).
func (e *Elector) BuildRecoverStakePayload() ([]byte, error) {
	return e.abi.Call(e.encoder, "recover_stake", map[string]any{})
}

// BuildParticipatePayload builds the participate_in_elections call body
// (§4.3 step 4). validatorAddr is the wallet address in direct mode, or
// the selected pool proxy address in delegated mode (§4.4).
func (e *Elector) BuildParticipatePayload(electionID uint32, validatorAddr chain.Address, stakeFactor uint32, timings Timings) ([]byte, error) {
	return e.abi.Call(e.encoder, "participate_in_elections", map[string]any{
		"election_id":            electionID,
		"validator":              validatorAddr.String(),
		"stake_factor":           stakeFactor,
		"elections_start_before": timings.ElectionsStartBefore,
		"elections_end_before":   timings.ElectionsEndBefore,
	})
}
