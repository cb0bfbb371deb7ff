// Command validator runs the election scheduler sidecar: it watches the
// local node's timeline, and at the right moment submits (or tops up)
// this validator's election stake, retrying with backoff around
// transient failures until a fatal error or a termination signal stops
// it (§4.2, §6).
package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	colorable "github.com/mattn/go-colorable"
	isatty "github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"

	"github.com/broxus/nodekeeper/internal/config"
	"github.com/broxus/nodekeeper/internal/contractabi"
	"github.com/broxus/nodekeeper/internal/jsoncodec"
	"github.com/broxus/nodekeeper/internal/keys"
	"github.com/broxus/nodekeeper/internal/retry"
	"github.com/broxus/nodekeeper/internal/rpc/control"
	"github.com/broxus/nodekeeper/internal/rpc/peer"
	"github.com/broxus/nodekeeper/internal/scheduler"
	"github.com/broxus/nodekeeper/internal/subscription"
)

// setupLogging installs the process-wide root handler, the way the
// teacher's cmd entrypoints do it: a terminal handler with color when
// stderr is a TTY, a plain stream handler otherwise. Every per-package
// log.New("module", ...) logger renders through this handler.
func setupLogging() {
	var handler log.Handler
	if isatty.IsTerminal(os.Stderr.Fd()) {
		handler = log.StreamHandler(colorable.NewColorableStderr(), log.TerminalFormat(true))
	} else {
		handler = log.StreamHandler(os.Stderr, log.TerminalFormat(false))
	}
	log.Root().SetHandler(log.LvlFilterHandler(log.LvlInfo, handler))
}

var (
	configFlag = &cli.StringFlag{
		Name:     "config",
		Usage:    "path to the sidecar configuration file",
		Required: true,
	}
	keysFlag = &cli.StringFlag{
		Name:  "keys",
		Usage: "path to the validator keys file (defaults to the project config dir)",
	}
	maxTimeDiffFlag = &cli.UintFlag{
		Name:  "max-time-diff",
		Usage: "node sync threshold in seconds (floored at 5)",
		Value: 120,
	}
	electionsStartOffsetFlag = &cli.UintFlag{
		Name:  "elections-start-offset",
		Usage: "wait this long after the elections window opens before acting",
		Value: 600,
	}
	electionsEndOffsetFlag = &cli.UintFlag{
		Name:  "elections-end-offset",
		Usage: "stop acting this long before the elections window closes",
		Value: 120,
	}
	minRetryIntervalFlag = &cli.UintFlag{
		Name:  "min-retry-interval",
		Usage: "floor on the retry backoff, in seconds",
		Value: 10,
	}
	maxRetryIntervalFlag = &cli.UintFlag{
		Name:  "max-retry-interval",
		Usage: "ceiling on the retry backoff, in seconds",
		Value: 300,
	}
	retryMultiplierFlag = &cli.Float64Flag{
		Name:  "retry-interval-multiplier",
		Usage: "backoff growth factor",
		Value: 2.0,
	}
)

func main() {
	setupLogging()
	app := &cli.App{
		Name:  "validator",
		Usage: "run the election scheduler sidecar for one validator node",
		Flags: []cli.Flag{
			configFlag, keysFlag, maxTimeDiffFlag,
			electionsStartOffsetFlag, electionsEndOffsetFlag,
			minRetryIntervalFlag, maxRetryIntervalFlag, retryMultiplierFlag,
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Error("validator exited with error", "err", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String(configFlag.Name))
	if err != nil {
		return err
	}

	keysPath := c.String(keysFlag.Name)
	if keysPath == "" {
		keysPath = cfg.KeysFile
	}
	if keysPath == "" {
		keysPath = config.DefaultKeysFile()
	}
	key, err := keys.Load(keysPath)
	if err != nil {
		return fmt.Errorf("load validator keys: %w", err)
	}

	multiplier, err := retry.ParseMultiplier(c.Float64(retryMultiplierFlag.Name))
	if err != nil {
		return err
	}
	backoff := retry.BackoffConfig{
		MinRetry:   time.Duration(c.Uint(minRetryIntervalFlag.Name)) * time.Second,
		MaxRetry:   time.Duration(c.Uint(maxRetryIntervalFlag.Name)) * time.Second,
		Multiplier: multiplier,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	controlClient, err := control.Dial(ctx, cfg.Endpoints.ControlTCP)
	if err != nil {
		return fmt.Errorf("dial control rpc: %w", err)
	}
	defer controlClient.Close()

	peerClient, err := peer.Dial(cfg.Endpoints.PeerUDP)
	if err != nil {
		return fmt.Errorf("dial peer rpc: %w", err)
	}
	defer peerClient.Close()

	sub := subscription.New(ctx, controlClient, peerClient)
	defer sub.Close()

	electorABI, err := contractabi.Elector()
	if err != nil {
		return err
	}
	contracts := scheduler.ContractSet{
		Deriver:         jsoncodec.Deriver{},
		ElectorDecoder:  jsoncodec.ElectorDecoder{},
		PoolInfoDecoder: jsoncodec.PoolInfoDecoder{},
		PoolParticipant: jsoncodec.PoolParticipantDecoder{},
		PoolRounds:      jsoncodec.PoolRoundsDecoder{},
		ElectorABI:      electorABI,
		Encoder:         jsoncodec.Encoder{},
	}
	if cfg.Validation.DePool != nil {
		poolABI, err := contractabi.LoadPool(cfg.Validation.DePool.DePoolABI)
		if err != nil {
			return err
		}
		contracts.PoolABI = poolABI
	}

	opts := scheduler.Options{
		MaxTimeDiff:          uint32(c.Uint(maxTimeDiffFlag.Name)),
		ElectionsStartOffset: uint32(c.Uint(electionsStartOffsetFlag.Name)),
		ElectionsEndOffset:   uint32(c.Uint(electionsEndOffsetFlag.Name)),
	}

	var guard sync.Mutex
	sched := scheduler.New(controlClient, sub, key, cfg.Validation, opts, contracts, &guard)

	go retry.WatchTermination(ctx, cancel, &guard)

	return retry.Run(ctx, sched.RunOnce, backoff)
}
