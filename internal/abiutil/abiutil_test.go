package abiutil

import "testing"

type echoEncoder struct {
	gotFn   Function
	gotArgs map[string]any
}

func (e *echoEncoder) Encode(fn Function, args map[string]any) ([]byte, error) {
	e.gotFn = fn
	e.gotArgs = args
	return []byte("encoded"), nil
}

const sampleABI = `{"functions": [
  {"name": "transfer", "inputs": [{"name": "dest", "type": "address"}, {"name": "amount", "type": "uint64"}]},
  {"name": "ping", "inputs": []}
]}`

func TestCallEncodesKnownFunction(t *testing.T) {
	abi, err := Parse([]byte(sampleABI))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	enc := &echoEncoder{}
	body, err := abi.Call(enc, "transfer", map[string]any{"dest": "0:00", "amount": uint64(1)})
	if err != nil {
		t.Fatalf("unexpected call error: %v", err)
	}
	if string(body) != "encoded" {
		t.Fatalf("unexpected body: %s", body)
	}
	if enc.gotFn.Name != "transfer" {
		t.Fatalf("expected encoder to see function name, got %q", enc.gotFn.Name)
	}
}

func TestCallRejectsUnknownFunction(t *testing.T) {
	abi, err := Parse([]byte(sampleABI))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if _, err := abi.Call(&echoEncoder{}, "nonexistent", nil); err == nil {
		t.Fatal("expected error for unknown function")
	}
}

func TestCallRejectsMissingArgument(t *testing.T) {
	abi, err := Parse([]byte(sampleABI))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if _, err := abi.Call(&echoEncoder{}, "transfer", map[string]any{"dest": "0:00"}); err == nil {
		t.Fatal("expected error for missing argument")
	}
}

func TestCallAllowsNoArgsFunction(t *testing.T) {
	abi, err := Parse([]byte(sampleABI))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if _, err := abi.Call(&echoEncoder{}, "ping", map[string]any{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFunctionLookup(t *testing.T) {
	abi, err := Parse([]byte(sampleABI))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if _, ok := abi.Function("ping"); !ok {
		t.Fatal("expected ping to be found")
	}
	if _, ok := abi.Function("missing"); ok {
		t.Fatal("expected missing function to be absent")
	}
}
