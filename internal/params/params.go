// Package params holds the chain-level constants the scheduler and
// façades are built around.
package params

// BaseUnit is one whole token, expressed in the chain's smallest
// denomination.
const BaseUnit uint64 = 1_000_000_000

// DefaultStakeFactor is the stake factor used for participate_in_elections
// payloads when the operator has not overridden it.
const DefaultStakeFactor uint32 = 0x30000

// SignatureIDCapabilityBit is the config capability flag that signals the
// chain requires signature-id-aware signing.
const SignatureIDCapabilityBit uint64 = 0x04000000
