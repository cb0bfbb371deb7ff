// Package config loads the validator sidecar's on-disk configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Endpoints describes how to reach the local node's two RPC surfaces.
type Endpoints struct {
	ControlTCP string `yaml:"control_tcp"`
	PeerUDP    string `yaml:"peer_udp"`
}

// Single is the direct-staking validation configuration variant.
type Single struct {
	StakePerRound uint64  `yaml:"stake_per_round"`
	StakeFactor   *uint32 `yaml:"stake_factor,omitempty"`
	WalletAddress string  `yaml:"wallet_address"`
}

// DePool is the delegated-staking validation configuration variant.
type DePool struct {
	DePoolAddress string  `yaml:"depool_address"`
	DePoolABI     string  `yaml:"depool_abi"`
	OwnerWallet   string  `yaml:"owner_wallet"`
	StakeFactor   *uint32 `yaml:"stake_factor,omitempty"`
}

// Validation is the tagged union of the two election modes. Exactly one
// of Single or DePool must be non-nil after loading.
type Validation struct {
	Single *Single `yaml:"single,omitempty"`
	DePool *DePool `yaml:"depool,omitempty"`
}

// IsDirect reports whether the configuration selects direct election mode.
func (v Validation) IsDirect() bool { return v.Single != nil }

// Config is the full on-disk configuration for the validator sidecar.
type Config struct {
	Endpoints  Endpoints  `yaml:"endpoints"`
	KeysFile   string     `yaml:"keys_file"`
	Validation Validation `yaml:"validation"`
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Validation.Single == nil && cfg.Validation.DePool == nil {
		return nil, fmt.Errorf("config: validation section must set either single or depool")
	}
	if cfg.Validation.Single != nil && cfg.Validation.DePool != nil {
		return nil, fmt.Errorf("config: validation section must not set both single and depool")
	}
	return &cfg, nil
}
