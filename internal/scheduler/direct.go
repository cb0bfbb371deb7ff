package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/broxus/nodekeeper/internal/chain"
	"github.com/broxus/nodekeeper/internal/config"
	"github.com/broxus/nodekeeper/internal/electorfacade"
	"github.com/broxus/nodekeeper/internal/params"
	"github.com/broxus/nodekeeper/internal/walletfacade"
)

// runDirect implements §4.3: the operator's own wallet stakes on its own
// behalf.
func (s *Scheduler) runDirect(ctx context.Context, elector *electorfacade.Elector, data *electorfacade.Data, cfg config.Single, timings electorfacade.Timings) error {
	expected, err := chain.ParseAddress(-1, cfg.WalletAddress)
	if err != nil {
		return fmt.Errorf("configured wallet address: %w", err)
	}
	wallet, err := walletfacade.New(s.contracts.Deriver, s.key, -1, expected, s.sub)
	if err != nil {
		return err
	}

	if unfrozen, ok := data.UnfrozenStake(wallet.Address()); ok && unfrozen > 0 {
		s.guard.Lock()
		_, err := wallet.SendWithRetries(ctx, elector.Address(), func(timeout time.Duration, sigID *int32) ([]byte, uint64, error) {
			body, err := elector.BuildRecoverStakePayload()
			return body, params.BaseUnit / 10, err
		})
		s.guard.Unlock()
		if err != nil {
			return fmt.Errorf("recover stake: %w", err)
		}
	}

	if data.IsElected(wallet.Address()) {
		s.log.Info("already participating in the current election", "wallet", wallet.Address())
		return nil
	}

	stakeFactor := params.DefaultStakeFactor
	if cfg.StakeFactor != nil {
		stakeFactor = *cfg.StakeFactor
	}

	required := cfg.StakePerRound + 2*params.BaseUnit
	if err := wallet.WaitForBalance(ctx, required); err != nil {
		return fmt.Errorf("wait for wallet balance: %w", err)
	}

	electionID := *data.CurrentElectionID
	s.guard.Lock()
	_, err = wallet.SendWithRetries(ctx, elector.Address(), func(timeout time.Duration, sigID *int32) ([]byte, uint64, error) {
		body, err := elector.BuildParticipatePayload(electionID, wallet.Address(), stakeFactor, timings)
		return body, cfg.StakePerRound + params.BaseUnit, err
	})
	s.guard.Unlock()
	if err != nil {
		return fmt.Errorf("participate in elections: %w", err)
	}
	s.log.Info("submitted election stake", "wallet", wallet.Address(), "election_id", electionID)
	return nil
}
