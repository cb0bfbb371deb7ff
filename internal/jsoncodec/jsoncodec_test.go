package jsoncodec

import (
	"testing"

	"github.com/broxus/nodekeeper/internal/chain"
	"github.com/broxus/nodekeeper/internal/depoolfacade"
)

func TestDeriverIsDeterministic(t *testing.T) {
	pub := []byte("a deterministic test public key.")
	a, err := Deriver{}.DeriveAddress(pub, -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := Deriver{}.DeriveAddress(pub, -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a != b {
		t.Fatalf("expected deterministic derivation, got %v != %v", a, b)
	}
	other, err := Deriver{}.DeriveAddress([]byte("a different test public key......"), -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a == other {
		t.Fatal("expected distinct public keys to derive distinct addresses")
	}
}

func TestElectorDecoderRoundTrip(t *testing.T) {
	raw := []byte(`{
		"current_election_id": 7,
		"unfrozen_stakes": {"deadbeef00000000000000000000000000000000000000000000000000000000": 10},
		"elected": {"deadbeef00000000000000000000000000000000000000000000000000000000": true}
	}`)
	data, err := ElectorDecoder{}.Decode(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if data.CurrentElectionID == nil || *data.CurrentElectionID != 7 {
		t.Fatalf("expected election id 7, got %v", data.CurrentElectionID)
	}
	addr, err := chain.ParseAddress(-1, "deadbeef00000000000000000000000000000000000000000000000000000000"[:64])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !data.IsElected(addr) {
		t.Fatal("expected decoded address to be elected")
	}
	if amount, ok := data.UnfrozenStake(addr); !ok || amount != 10 {
		t.Fatalf("expected unfrozen stake 10, got (%d, %v)", amount, ok)
	}
}

func TestElectorDecoderEmptyState(t *testing.T) {
	data, err := ElectorDecoder{}.Decode(nil)
	if err != nil {
		t.Fatalf("unexpected error on empty state: %v", err)
	}
	if data.CurrentElectionID != nil {
		t.Fatal("expected no election id for empty state")
	}
}

func TestPoolRoundsDecoder(t *testing.T) {
	raw := []byte(`{"rounds": [
		{"id": 1, "supposed_elected_at": 100, "step": 4},
		{"id": 2, "supposed_elected_at": 200, "step": 1},
		{"id": 3, "supposed_elected_at": 300, "step": 0},
		{"id": 4, "supposed_elected_at": 400, "step": 0}
	]}`)
	rounds, err := PoolRoundsDecoder{}.DecodeRounds(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rounds[1].Step != depoolfacade.StepWaitingValidatorRequest {
		t.Fatalf("expected round[1] step WaitingValidatorRequest, got %v", rounds[1].Step)
	}
	if rounds[1].SupposedElectedAt != 200 {
		t.Fatalf("expected round[1] supposed_elected_at 200, got %d", rounds[1].SupposedElectedAt)
	}
}

func TestPoolParticipantDecoderMissingWalletYieldsEmpty(t *testing.T) {
	raw := []byte(`{"participants": {}}`)
	wallet := chain.Address{Workchain: 0, Account: [32]byte{1}}
	p, err := PoolParticipantDecoder{}.DecodeParticipant(raw, wallet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.StakeInRound(1) != 0 {
		t.Fatal("expected zero stake for a wallet absent from participants")
	}
}
