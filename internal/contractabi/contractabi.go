// Package contractabi supplies the two ABI definitions the façades call
// through: the built-in elector's, which is fixed by the protocol and
// embedded here, and a DePool's, which varies by pool implementation
// and is loaded from the path the operator configures.
package contractabi

import (
	"fmt"
	"os"

	"github.com/broxus/nodekeeper/internal/abiutil"
)

// electorABIJSON describes the two elector entry points the façade
// calls: recover_stake and participate_in_elections (§4.3).
const electorABIJSON = `{
  "functions": [
    {"name": "recover_stake", "inputs": [], "outputs": []},
    {"name": "participate_in_elections", "inputs": [
      {"name": "election_id", "type": "uint32"},
      {"name": "validator", "type": "address"},
      {"name": "stake_factor", "type": "uint32"},
      {"name": "elections_start_before", "type": "uint32"},
      {"name": "elections_end_before", "type": "uint32"}
    ], "outputs": []}
  ]
}`

// Elector returns the parsed built-in elector ABI.
func Elector() (*abiutil.ABI, error) {
	abi, err := abiutil.Parse([]byte(electorABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse elector abi: %w", err)
	}
	return abi, nil
}

// LoadPool parses the DePool ABI at path (§4.4). Pool implementations
// vary across operators, so this family is never embedded.
func LoadPool(path string) (*abiutil.ABI, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read depool abi: %w", err)
	}
	abi, err := abiutil.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse depool abi: %w", err)
	}
	return abi, nil
}
