// Package jsoncodec is the default implementation of every out-of-scope
// cell/TL-B codec interface the façades depend on (§1): address
// derivation, contract-state decoding, and call-body encoding. It
// treats account data and message bodies as JSON documents rather than
// TVM cells, the same way internal/rpc/control speaks JSON over its
// local control channel instead of the chain's native binary framing.
// It exists so the validator binary links and runs end to end against a
// JSON-speaking test node; operators pointing the sidecar at a real
// node supply their own codecs built against the chain's actual cell
// layout.
package jsoncodec

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/broxus/nodekeeper/internal/abiutil"
	"github.com/broxus/nodekeeper/internal/chain"
	"github.com/broxus/nodekeeper/internal/depoolfacade"
	"github.com/broxus/nodekeeper/internal/electorfacade"
)

// Deriver implements walletfacade.AddressDeriver by hashing the public
// key into a deterministic account id. It does not reproduce any real
// wallet contract's deployment address; it exists so the
// derive-then-compare-to-configured-address check exercises a concrete
// path end to end against a test node.
type Deriver struct{}

func (Deriver) DeriveAddress(pubKey []byte, workchain int32) (chain.Address, error) {
	sum := sha256.Sum256(pubKey)
	var a chain.Address
	a.Workchain = workchain
	addr, err := chain.ParseAddress(workchain, fmt.Sprintf("%x", sum[:]))
	if err != nil {
		return chain.Address{}, err
	}
	return addr, nil
}

// Encoder implements abiutil.Encoder by marshaling the call name and
// arguments as a JSON envelope.
type Encoder struct{}

func (Encoder) Encode(fn abiutil.Function, args map[string]any) ([]byte, error) {
	return json.Marshal(struct {
		Method string         `json:"method"`
		Args   map[string]any `json:"args"`
	}{Method: fn.Name, Args: args})
}

// electorStateWire is the JSON shape GetData expects account data to
// deserialize into.
type electorStateWire struct {
	CurrentElectionID *uint32           `json:"current_election_id,omitempty"`
	UnfrozenStakes    map[string]uint64 `json:"unfrozen_stakes,omitempty"`
	Elected           map[string]bool   `json:"elected,omitempty"`
}

// ElectorDecoder implements electorfacade.DataDecoder.
type ElectorDecoder struct{}

func (ElectorDecoder) Decode(raw []byte) (*electorfacade.Data, error) {
	var w electorStateWire
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("decode elector state: %w", err)
		}
	}
	data := &electorfacade.Data{
		CurrentElectionID: w.CurrentElectionID,
		UnfrozenStakes:    make(map[chain.Address]uint64, len(w.UnfrozenStakes)),
		Elected:           make(map[chain.Address]bool, len(w.Elected)),
	}
	for hex, amount := range w.UnfrozenStakes {
		addr, err := chain.ParseAddress(-1, hex)
		if err != nil {
			return nil, err
		}
		data.UnfrozenStakes[addr] = amount
	}
	for hex, ok := range w.Elected {
		addr, err := chain.ParseAddress(-1, hex)
		if err != nil {
			return nil, err
		}
		data.Elected[addr] = ok
	}
	return data, nil
}

// poolStateWire is the JSON shape the DePool decoders expect.
type poolStateWire struct {
	Proxies            [2]string                     `json:"proxies"`
	ValidatorAssurance uint64                        `json:"validator_assurance"`
	MinStake           uint64                        `json:"min_stake"`
	Participants       map[string]map[uint64]uint64  `json:"participants"`
	Rounds             [4]struct {
		ID                uint64 `json:"id"`
		SupposedElectedAt uint32 `json:"supposed_elected_at"`
		Step              uint8  `json:"step"`
	} `json:"rounds"`
}

// PoolInfoDecoder implements depoolfacade.InfoDecoder.
type PoolInfoDecoder struct{}

func (PoolInfoDecoder) DecodeInfo(raw []byte) (*depoolfacade.Info, error) {
	var w poolStateWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode pool info: %w", err)
	}
	info := &depoolfacade.Info{ValidatorAssurance: w.ValidatorAssurance, MinStake: w.MinStake}
	for i, hex := range w.Proxies {
		addr, err := chain.ParseAddress(0, hex)
		if err != nil {
			return nil, fmt.Errorf("decode pool proxy %d: %w", i, err)
		}
		info.Proxies[i] = addr
	}
	return info, nil
}

// PoolParticipantDecoder implements depoolfacade.ParticipantDecoder.
type PoolParticipantDecoder struct{}

func (PoolParticipantDecoder) DecodeParticipant(raw []byte, wallet chain.Address) (*depoolfacade.ParticipantInfo, error) {
	var w poolStateWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode pool participant: %w", err)
	}
	stakes := w.Participants[hex.EncodeToString(wallet.Account[:])]
	if stakes == nil {
		stakes = map[uint64]uint64{}
	}
	return &depoolfacade.ParticipantInfo{RoundStakes: stakes}, nil
}

// PoolRoundsDecoder implements depoolfacade.RoundsDecoder.
type PoolRoundsDecoder struct{}

func (PoolRoundsDecoder) DecodeRounds(raw []byte) ([4]depoolfacade.Round, error) {
	var w poolStateWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return [4]depoolfacade.Round{}, fmt.Errorf("decode pool rounds: %w", err)
	}
	var rounds [4]depoolfacade.Round
	for i, r := range w.Rounds {
		rounds[i] = depoolfacade.Round{
			ID:                r.ID,
			SupposedElectedAt: r.SupposedElectedAt,
			Step:              depoolfacade.ClassifyStep(r.Step),
		}
	}
	return rounds, nil
}
