package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/broxus/nodekeeper/internal/chain"
	"github.com/broxus/nodekeeper/internal/config"
	"github.com/broxus/nodekeeper/internal/depoolfacade"
	"github.com/broxus/nodekeeper/internal/electorfacade"
	"github.com/broxus/nodekeeper/internal/ferr"
	"github.com/broxus/nodekeeper/internal/params"
	"github.com/broxus/nodekeeper/internal/walletfacade"
)

const updateDepoolMaxAttempts = 4

// runDelegated implements §4.4: the operator's wallet drives a DePool
// contract, which internally manages rounds and proxy identities.
func (s *Scheduler) runDelegated(ctx context.Context, elector *electorfacade.Elector, electorData *electorfacade.Data, cfg config.DePool, electionID uint32, timings electorfacade.Timings) error {
	poolAddr, err := chain.ParseAddress(0, cfg.DePoolAddress)
	if err != nil {
		return fmt.Errorf("configured pool address: %w", err)
	}
	expectedOwner, err := chain.ParseAddress(0, cfg.OwnerWallet)
	if err != nil {
		return fmt.Errorf("configured owner wallet address: %w", err)
	}
	wallet, err := walletfacade.New(s.contracts.Deriver, s.key, 0, expectedOwner, s.sub)
	if err != nil {
		return err
	}

	pool := depoolfacade.New(s.sub, poolAddr, s.contracts.PoolABI, s.contracts.Encoder,
		s.contracts.PoolInfoDecoder, s.contracts.PoolParticipant, s.contracts.PoolRounds)

	info, err := pool.GetInfo(ctx)
	if err != nil {
		return fmt.Errorf("get pool info: %w", err)
	}
	if info.Proxies[0] == (chain.Address{}) || info.Proxies[1] == (chain.Address{}) {
		return ferr.New(fmt.Errorf("pool %s does not expose exactly two proxy addresses", poolAddr))
	}

	round, step, err := s.updateDepool(ctx, pool, wallet, info, electionID)
	if err != nil {
		return err
	}

	if step != depoolfacade.StepWaitingValidatorRequest {
		s.log.Info("pool is not ready to participate this round", "step", step)
		return nil
	}

	proxy := info.Proxies[round.ID%2]
	if electorData.IsElected(proxy) {
		s.log.Info("pool's proxy is already participating in the current election", "proxy", proxy)
		return nil
	}

	stakeFactor := params.DefaultStakeFactor
	if cfg.StakeFactor != nil {
		stakeFactor = *cfg.StakeFactor
	}

	required := 2 * params.BaseUnit
	if err := wallet.WaitForBalance(ctx, required); err != nil {
		return fmt.Errorf("wait for wallet balance: %w", err)
	}

	s.guard.Lock()
	_, err = wallet.SendWithRetries(ctx, poolAddr, func(timeout time.Duration, sigID *int32) ([]byte, uint64, error) {
		body, err := elector.BuildParticipatePayload(electionID, proxy, stakeFactor, timings)
		return body, params.BaseUnit, err
	})
	s.guard.Unlock()
	if err != nil {
		return fmt.Errorf("submit election stake via pool: %w", err)
	}
	s.log.Info("submitted election stake via pool", "pool", poolAddr, "proxy", proxy, "election_id", electionID)
	return nil
}

// updateDepool implements the §4.4 update_depool subroutine: it tops up
// the pooling round's stake if needed and prods the pool with ticktock
// messages until the target round's supposed election matches
// electionID, bounded at updateDepoolMaxAttempts tries.
func (s *Scheduler) updateDepool(ctx context.Context, pool *depoolfacade.DePool, wallet *walletfacade.Wallet, info *depoolfacade.Info, electionID uint32) (depoolfacade.Round, depoolfacade.RoundStep, error) {
	for attempt := 0; attempt < updateDepoolMaxAttempts; attempt++ {
		participant, err := pool.GetParticipantInfo(ctx, wallet.Address())
		if err != nil {
			return depoolfacade.Round{}, depoolfacade.StepUnknown, fmt.Errorf("get participant info: %w", err)
		}
		rounds, err := pool.GetRounds(ctx)
		if err != nil {
			return depoolfacade.Round{}, depoolfacade.StepUnknown, fmt.Errorf("get rounds: %w", err)
		}

		targetRound := rounds[1]
		poolingRound := rounds[2]
		poolingStake := participant.StakeInRound(poolingRound.ID)

		if remaining := int64(info.ValidatorAssurance) - int64(poolingStake); remaining > 0 {
			amount := uint64(remaining)
			if amount < info.MinStake {
				amount = info.MinStake
			}
			if err := wallet.WaitForBalance(ctx, amount+params.BaseUnit); err != nil {
				return depoolfacade.Round{}, depoolfacade.StepUnknown, fmt.Errorf("wait for wallet balance: %w", err)
			}
			s.guard.Lock()
			_, err := wallet.SendWithRetries(ctx, pool.Address(), func(timeout time.Duration, sigID *int32) ([]byte, uint64, error) {
				body, err := pool.BuildAddOrdinaryStakePayload(amount)
				return body, amount + params.BaseUnit/10, err
			})
			s.guard.Unlock()
			if err != nil {
				return depoolfacade.Round{}, depoolfacade.StepUnknown, fmt.Errorf("add ordinary stake: %w", err)
			}
		}

		if targetRound.SupposedElectedAt == electionID {
			return targetRound, targetRound.Step, nil
		}

		s.guard.Lock()
		_, err = wallet.SendWithRetries(ctx, pool.Address(), func(timeout time.Duration, sigID *int32) ([]byte, uint64, error) {
			body, err := pool.BuildTicktockPayload()
			return body, params.BaseUnit / 10, err
		})
		s.guard.Unlock()
		if err != nil {
			return depoolfacade.Round{}, depoolfacade.StepUnknown, fmt.Errorf("ticktock: %w", err)
		}

		select {
		case <-time.After(10 * time.Second):
		case <-ctx.Done():
			return depoolfacade.Round{}, depoolfacade.StepUnknown, ctx.Err()
		}
	}
	return depoolfacade.Round{}, depoolfacade.StepUnknown, ferr.New(fmt.Errorf("exhausted %d ticktock attempts without reaching election %d", updateDepoolMaxAttempts, electionID))
}
