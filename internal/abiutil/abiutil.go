// Package abiutil supplies the call-shape abstraction the façades program
// against when building external/internal message bodies: an ABI
// definition plus a function name and arguments in, an encoded payload
// out. It is deliberately thin — the chain's own TL-B/cell encoding is
// out of scope (§1) — and is modeled on how callers throughout the
// teacher's accounts/abi/bind package use abi.ABI.Pack: parse once,
// pack many times, never hand-roll the wire format.
package abiutil

import (
	"encoding/json"
	"fmt"
)

// Function describes one entry of a contract's ABI, the same function
// shape go-ethereum's accounts/abi.Method is parsed into.
type Function struct {
	Name    string          `json:"name"`
	Inputs  []Param         `json:"inputs"`
	Outputs []Param         `json:"outputs"`
}

// Param is one ABI function parameter.
type Param struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ABI is a parsed contract ABI definition, keyed by function name.
type ABI struct {
	functions map[string]Function
}

// Parse parses a JSON ABI definition of the form {"functions": [...]}.
func Parse(data []byte) (*ABI, error) {
	var doc struct {
		Functions []Function `json:"functions"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	a := &ABI{functions: make(map[string]Function, len(doc.Functions))}
	for _, fn := range doc.Functions {
		a.functions[fn.Name] = fn
	}
	return a, nil
}

// Encoder builds message bodies for the chain's opaque wire format,
// supplied by the caller (the cell/TL-B codec is out of scope here).
type Encoder interface {
	Encode(fn Function, args map[string]any) ([]byte, error)
}

// Call encodes a call to method with args using enc, after validating
// that method exists in the ABI and every declared input is present.
func (a *ABI) Call(enc Encoder, method string, args map[string]any) ([]byte, error) {
	fn, ok := a.functions[method]
	if !ok {
		return nil, fmt.Errorf("abi: unknown function %q", method)
	}
	for _, in := range fn.Inputs {
		if _, ok := args[in.Name]; !ok {
			return nil, fmt.Errorf("abi: missing argument %q for %s", in.Name, method)
		}
	}
	return enc.Encode(fn, args)
}

// Function looks up a function definition by name.
func (a *ABI) Function(name string) (Function, bool) {
	fn, ok := a.functions[name]
	return fn, ok
}
