// Package depoolfacade wraps a DePool staking-pool contract: reading
// participant and round state, classifying round steps, and building the
// "add_ordinary_stake" and "ticktock" payloads delegated-mode elections
// need.
package depoolfacade

import (
	"context"
	"fmt"

	"github.com/broxus/nodekeeper/internal/abiutil"
	"github.com/broxus/nodekeeper/internal/chain"
	"github.com/broxus/nodekeeper/internal/subscription"
)

// RoundStep is the pool's internal bookkeeping state for one round.
type RoundStep int

const (
	StepUnknown RoundStep = iota
	StepPooling
	StepWaitingValidatorRequest
	StepWaitingIvmRequest
	StepWaitingUnfreeze
	StepCompleted
)

// ClassifyStep maps the pool's raw numeric step code onto RoundStep.
// Decoders built against a specific pool ABI family use this after
// pulling the raw value out of the contract's storage layout.
func ClassifyStep(raw uint8) RoundStep {
	switch raw {
	case 0:
		return StepPooling
	case 1:
		return StepWaitingValidatorRequest
	case 2:
		return StepWaitingIvmRequest
	case 3:
		return StepWaitingUnfreeze
	case 4:
		return StepCompleted
	default:
		return StepUnknown
	}
}

// Round is one of the pool's four concurrently tracked election rounds.
type Round struct {
	ID                uint64
	SupposedElectedAt uint32
	Step              RoundStep
}

// Info is the pool's static configuration.
type Info struct {
	Proxies            [2]chain.Address
	ValidatorAssurance uint64
	MinStake           uint64
}

// ParticipantInfo is a wallet's stake commitments across the pool's rounds.
type ParticipantInfo struct {
	RoundStakes map[uint64]uint64
}

// StakeInRound returns the amount this participant has already
// committed to round id, or 0 if absent (§4.4 step 2).
func (p *ParticipantInfo) StakeInRound(id uint64) uint64 {
	return p.RoundStakes[id]
}

// InfoDecoder, ParticipantDecoder and RoundsDecoder decode the pool's raw
// account data. The cell/TL-B layout is out of scope (§1); callers
// inject concrete decoders built against the pool's actual ABI family.
type InfoDecoder interface {
	DecodeInfo(raw []byte) (*Info, error)
}
type ParticipantDecoder interface {
	DecodeParticipant(raw []byte, wallet chain.Address) (*ParticipantInfo, error)
}
type RoundsDecoder interface {
	DecodeRounds(raw []byte) ([4]Round, error)
}

// DePool is the façade over a delegated staking pool contract.
type DePool struct {
	sub     *subscription.Engine
	address chain.Address
	abi     *abiutil.ABI
	encoder abiutil.Encoder

	info        InfoDecoder
	participant ParticipantDecoder
	rounds      RoundsDecoder
}

// New constructs the façade for the pool deployed at address.
func New(sub *subscription.Engine, address chain.Address, abi *abiutil.ABI, encoder abiutil.Encoder, info InfoDecoder, participant ParticipantDecoder, rounds RoundsDecoder) *DePool {
	return &DePool{sub: sub, address: address, abi: abi, encoder: encoder, info: info, participant: participant, rounds: rounds}
}

// Address returns the pool contract's address.
func (d *DePool) Address() chain.Address { return d.address }

func (d *DePool) state(ctx context.Context) ([]byte, error) {
	state, err := d.sub.GetAccountState(ctx, d.address)
	if err != nil {
		return nil, fmt.Errorf("get pool account state: %w", err)
	}
	if !state.Deployed {
		return nil, fmt.Errorf("pool contract not deployed")
	}
	return state.Data, nil
}

// GetInfo fetches the pool's proxy addresses (§4.4 preconditions; must
// be exactly two, asserted by the caller).
func (d *DePool) GetInfo(ctx context.Context) (*Info, error) {
	raw, err := d.state(ctx)
	if err != nil {
		return nil, err
	}
	return d.info.DecodeInfo(raw)
}

// GetParticipantInfo fetches wallet's stake commitments (§4.4 step 1).
func (d *DePool) GetParticipantInfo(ctx context.Context, wallet chain.Address) (*ParticipantInfo, error) {
	raw, err := d.state(ctx)
	if err != nil {
		return nil, err
	}
	return d.participant.DecodeParticipant(raw, wallet)
}

// GetRounds fetches the pool's four rounds in their deterministic order
// (§4.4 step 1).
func (d *DePool) GetRounds(ctx context.Context) ([4]Round, error) {
	raw, err := d.state(ctx)
	if err != nil {
		return [4]Round{}, err
	}
	return d.rounds.DecodeRounds(raw)
}

// BuildAddOrdinaryStakePayload builds the add_ordinary_stake call body
// (§4.4 step 3).
func (d *DePool) BuildAddOrdinaryStakePayload(amount uint64) ([]byte, error) {
	return d.abi.Call(d.encoder, "add_ordinary_stake", map[string]any{"stake": amount})
}

// BuildTicktockPayload builds the ticktock call body (§4.4 step 5).
func (d *DePool) BuildTicktockPayload() ([]byte, error) {
	return d.abi.Call(d.encoder, "ticktock", map[string]any{})
}
