package depoolfacade

import (
	"encoding/json"
	"testing"

	"github.com/broxus/nodekeeper/internal/abiutil"
	"github.com/broxus/nodekeeper/internal/chain"
)

const poolABIJSON = `{"functions": [
  {"name": "add_ordinary_stake", "inputs": [{"name": "stake", "type": "uint64"}]},
  {"name": "ticktock", "inputs": []}
]}`

type captureEncoder struct {
	fnName string
	args   map[string]any
}

func (c *captureEncoder) Encode(fn abiutil.Function, args map[string]any) ([]byte, error) {
	c.fnName = fn.Name
	c.args = args
	return json.Marshal(args)
}

func newTestDePool(t *testing.T, enc *captureEncoder) *DePool {
	t.Helper()
	abi, err := abiutil.Parse([]byte(poolABIJSON))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	return New(nil, chain.Address{}, abi, enc, nil, nil, nil)
}

func TestClassifyStep(t *testing.T) {
	cases := map[uint8]RoundStep{
		0: StepPooling,
		1: StepWaitingValidatorRequest,
		2: StepWaitingIvmRequest,
		3: StepWaitingUnfreeze,
		4: StepCompleted,
		9: StepUnknown,
	}
	for raw, want := range cases {
		if got := ClassifyStep(raw); got != want {
			t.Fatalf("ClassifyStep(%d) = %v, want %v", raw, got, want)
		}
	}
}

func TestParticipantInfoStakeInRound(t *testing.T) {
	p := &ParticipantInfo{RoundStakes: map[uint64]uint64{3: 1500}}
	if got := p.StakeInRound(3); got != 1500 {
		t.Fatalf("expected 1500, got %d", got)
	}
	if got := p.StakeInRound(99); got != 0 {
		t.Fatalf("expected 0 for absent round, got %d", got)
	}
}

func TestBuildAddOrdinaryStakePayload(t *testing.T) {
	enc := &captureEncoder{}
	d := newTestDePool(t, enc)
	if _, err := d.BuildAddOrdinaryStakePayload(42); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if enc.fnName != "add_ordinary_stake" {
		t.Fatalf("expected add_ordinary_stake, got %q", enc.fnName)
	}
	if enc.args["stake"] != uint64(42) {
		t.Fatalf("expected stake=42, got %#v", enc.args["stake"])
	}
}

func TestBuildTicktockPayload(t *testing.T) {
	enc := &captureEncoder{}
	d := newTestDePool(t, enc)
	if _, err := d.BuildTicktockPayload(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if enc.fnName != "ticktock" {
		t.Fatalf("expected ticktock, got %q", enc.fnName)
	}
}
