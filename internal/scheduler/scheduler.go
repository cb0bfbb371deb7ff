// Package scheduler implements the election scheduler: the
// timeline-driven state machine that discovers where the current
// validator round stands, waits for the correct window, performs an
// at-most-once election submission while holding a shutdown guard, and
// leaves backoff on failure to the retry envelope that drives it (§4.2).
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"

	"github.com/broxus/nodekeeper/internal/abiutil"
	"github.com/broxus/nodekeeper/internal/chain"
	"github.com/broxus/nodekeeper/internal/config"
	"github.com/broxus/nodekeeper/internal/depoolfacade"
	"github.com/broxus/nodekeeper/internal/electorfacade"
	"github.com/broxus/nodekeeper/internal/ferr"
	"github.com/broxus/nodekeeper/internal/keys"
	"github.com/broxus/nodekeeper/internal/params"
	"github.com/broxus/nodekeeper/internal/subscription"
	"github.com/broxus/nodekeeper/internal/timeline"
	"github.com/broxus/nodekeeper/internal/walletfacade"
)

// electionAttempts counts every election submission attempt dispatched
// by runElectionWindow, direct or delegated alike.
var electionAttempts = metrics.NewRegisteredCounter("scheduler/election/attempts", nil)

// Options configures a Scheduler's timing parameters (§6 CLI flags).
type Options struct {
	MaxTimeDiff          uint32 // floored at 5
	ElectionsStartOffset uint32
	ElectionsEndOffset   uint32
}

// ContractSet bundles everything election-mode-specific that the
// scheduler needs but cannot derive from the chain alone: address
// derivation, state decoders, and parsed ABIs. These are out-of-scope
// cell-codec concerns (§1) injected by main.
type ContractSet struct {
	Deriver         walletfacade.AddressDeriver
	ElectorDecoder  electorfacade.DataDecoder
	PoolInfoDecoder depoolfacade.InfoDecoder
	PoolParticipant depoolfacade.ParticipantDecoder
	PoolRounds      depoolfacade.RoundsDecoder
	ElectorABI      *abiutil.ABI
	PoolABI         *abiutil.ABI
	Encoder         abiutil.Encoder
}

// Scheduler owns the shutdown guard and drives one election attempt at
// a time (§4.2).
type Scheduler struct {
	control   subscription.ControlClient
	sub       *subscription.Engine
	key       *keys.Keypair
	cfg       config.Validation
	opts      Options
	contracts ContractSet

	// guard is held during every phase that issues an on-chain mutation.
	// A termination signal acquires it before cancelling the scheduler,
	// so no in-flight transaction is ever abandoned mid-call (§4.2, §8
	// scenario 6).
	guard *sync.Mutex

	log log.Logger
}

// New constructs a Scheduler. guard is shared with the caller's signal
// handler (see internal/retry).
func New(control subscription.ControlClient, sub *subscription.Engine, key *keys.Keypair, cfg config.Validation, opts Options, contracts ContractSet, guard *sync.Mutex) *Scheduler {
	if opts.MaxTimeDiff < 5 {
		opts.MaxTimeDiff = 5
	}
	return &Scheduler{
		control:   control,
		sub:       sub,
		key:       key,
		cfg:       cfg,
		opts:      opts,
		contracts: contracts,
		guard:     guard,
		log:       log.New("module", "scheduler"),
	}
}

// RunOnce executes exactly one election attempt (§4.2 phases 1-7). A
// *ferr.Fatal return aborts the outer retry loop; any other error is
// retryable.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if err := s.waitForSync(ctx); err != nil {
		return fmt.Errorf("wait for node sync: %w", err)
	}

	bcConfig, err := s.control.GetConfigAll(ctx)
	if err != nil {
		return fmt.Errorf("get_config_all: %w", err)
	}
	if bcConfig.ElectorAddress == (chain.Address{}) {
		return ferr.New(fmt.Errorf("malformed blockchain config: missing elector address"))
	}

	targetBlock, err := s.sub.GetBlock(ctx, bcConfig.BlockID)
	if err != nil {
		return fmt.Errorf("get_block(%v) for config: %w", bcConfig.BlockID, err)
	}

	phase := timeline.Compute(bcConfig.RoundEnd, bcConfig.ElectionsStartBefore, bcConfig.ElectionsEndBefore, targetBlock.GenTime)

	switch p := phase.(type) {
	case timeline.BeforeElections:
		return s.sleepAndRestart(ctx, time.Duration(p.UntilStart+s.opts.ElectionsStartOffset)*time.Second)
	case timeline.AfterElections:
		return s.sleepAndRestart(ctx, time.Duration(p.UntilRoundEnd)*time.Second)
	case timeline.Elections:
		return s.runElectionWindow(ctx, bcConfig, p)
	default:
		return fmt.Errorf("unreachable: unknown timeline phase %T", phase)
	}
}

func (s *Scheduler) sleepAndRestart(ctx context.Context, d time.Duration) error {
	s.log.Info("sleeping until next phase boundary", "duration", d)
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waitForSync polls get_stats every 10s until the node's time drift is
// within bounds (§4.2 step 1).
func (s *Scheduler) waitForSync(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		stats, err := s.control.GetStats(ctx)
		if err != nil {
			return fmt.Errorf("get_stats: %w", err)
		}
		if stats.MasterchainDrift < s.opts.MaxTimeDiff && (!s.cfg.IsDirect() || stats.ShardDrift < s.opts.MaxTimeDiff) {
			return nil
		}
		s.log.Debug("node not yet in sync", "masterchain_drift", stats.MasterchainDrift, "shard_drift", stats.ShardDrift)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// runElectionWindow implements §4.2 step 4 (Elections) dispatch plus
// steps 5-7.
func (s *Scheduler) runElectionWindow(ctx context.Context, bcConfig *subscription.BlockchainConfig, p timeline.Elections) error {
	if p.Since < s.opts.ElectionsStartOffset {
		return s.sleepAndRestart(ctx, time.Duration(s.opts.ElectionsStartOffset-p.Since)*time.Second)
	}
	if p.Until < s.opts.ElectionsEndOffset {
		// Doomed: too close to the window closing to act usefully.
		return s.sleepAndRestart(ctx, time.Duration(p.Until)*time.Second)
	}

	elector := electorfacade.New(s.sub, bcConfig.ElectorAddress, s.contracts.ElectorABI, s.contracts.Encoder, s.contracts.ElectorDecoder)
	data, err := elector.GetData(ctx)
	if err != nil {
		return fmt.Errorf("get elector data: %w", err)
	}
	if data.CurrentElectionID == nil {
		return s.sleepAndRestart(ctx, time.Second)
	}

	deadline := time.Duration(int64(p.Until)-int64(s.opts.ElectionsEndOffset)) * time.Second
	attemptCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	timings := electorfacade.Timings{
		ElectionsStartBefore: bcConfig.ElectionsStartBefore,
		ElectionsEndBefore:   bcConfig.ElectionsEndBefore,
	}

	electionAttempts.Inc(1)

	var runErr error
	if s.cfg.IsDirect() {
		runErr = s.runDirect(attemptCtx, elector, data, *s.cfg.Single, timings)
	} else {
		runErr = s.runDelegated(attemptCtx, elector, data, *s.cfg.DePool, *data.CurrentElectionID, timings)
	}

	untilClose := time.Until(time.Unix(int64(p.Close), 0))
	if untilClose > 0 {
		_ = s.sleepAndRestart(ctx, untilClose)
	}
	return runErr
}
