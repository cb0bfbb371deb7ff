// Package walletfacade wraps the subscription engine with the
// operations the scheduler needs from an operator's own wallet contract:
// address derivation/verification, balance queries, and signed
// send-with-retries.
package walletfacade

import (
	"context"
	"fmt"
	"time"

	"github.com/broxus/nodekeeper/internal/chain"
	"github.com/broxus/nodekeeper/internal/ferr"
	"github.com/broxus/nodekeeper/internal/keys"
	"github.com/broxus/nodekeeper/internal/subscription"
)

// AddressDeriver computes the on-chain address a wallet contract would
// be deployed at for a given signing key. The deployment's cell/TL-B
// encoding is out of scope (§1); callers inject a concrete deriver built
// on top of the wallet contract's actual code hash.
type AddressDeriver interface {
	DeriveAddress(pubKey []byte, workchain int32) (chain.Address, error)
}

// Wallet is the façade over an operator's own staking wallet.
type Wallet struct {
	sub     *subscription.Engine
	key     *keys.Keypair
	address chain.Address
}

// New derives the wallet's address from key and asserts it matches
// expected, the way §4.3 and §4.4 require before any election attempt
// proceeds. A mismatch is fatal — it almost always means the operator
// pointed the sidecar at the wrong keys file or configured the wrong
// address.
func New(deriver AddressDeriver, key *keys.Keypair, workchain int32, expected chain.Address, sub *subscription.Engine) (*Wallet, error) {
	addr, err := deriver.DeriveAddress(key.Public, workchain)
	if err != nil {
		return nil, ferr.New(fmt.Errorf("derive wallet address: %w", err))
	}
	if addr != expected {
		return nil, ferr.New(fmt.Errorf("wallet address mismatch: derived %s, configured %s", addr, expected))
	}
	return &Wallet{sub: sub, key: key, address: addr}, nil
}

// Address returns the wallet's on-chain address.
func (w *Wallet) Address() chain.Address { return w.address }

// GetBalance reads the wallet's current balance.
func (w *Wallet) GetBalance(ctx context.Context) (uint64, error) {
	state, err := w.sub.GetAccountState(ctx, w.address)
	if err != nil {
		return 0, fmt.Errorf("get wallet account state: %w", err)
	}
	if !state.Deployed {
		return 0, nil
	}
	return state.Balance, nil
}

// WaitForBalance polls the wallet's balance at 1 Hz until it meets or
// exceeds target (§4.3 step 3, §4.4 step 3).
func (w *Wallet) WaitForBalance(ctx context.Context, target uint64) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		balance, err := w.GetBalance(ctx)
		if err != nil {
			return err
		}
		if balance >= target {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Build is a payload builder: given the per-attempt timeout and optional
// signature id, it returns the unsigned call body destined for dest and
// an internal-message amount. SendWithRetries does the signing.
type Build func(timeout time.Duration, sigID *int32) (body []byte, amount uint64, err error)

// SendWithRetries signs and submits an external message carrying an
// internal message to dest, retrying with fresh expiries until the
// engine observes the reply transaction (§4.5 send_message_with_retries,
// §4.7 send-barrier protocol).
func (w *Wallet) SendWithRetries(ctx context.Context, dest chain.Address, build Build) (*chain.Transaction, error) {
	return w.sub.SendMessageWithRetries(ctx, func(timeout time.Duration, sigID *int32) (chain.Message, error) {
		body, _, err := build(timeout, sigID)
		if err != nil {
			return chain.Message{}, err
		}
		signed := w.key.Sign(body)
		expireAt := uint32(time.Now().Add(timeout).Unix())
		hash := chain.Hash{}
		copy(hash[:], signed[:min(len(signed), len(hash))])
		return chain.Message{
			Destination: dest,
			Hash:        hash,
			Body:        append(signed, body...),
			ExpireAt:    expireAt,
		}, nil
	})
}
