package consumer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	balancemodels "github.com/statelens/statelens/pkg/db/models/balance"
	"github.com/statelens/statelens/pkg/network"
	"github.com/statelens/statelens/pkg/utils"
)

// State is the consumer's lifecycle phase, readable from other goroutines.
type State int32

const (
	StateInitializing State = iota
	StateResuming
	StateWaitingForPeriodEnd
	StateProcessingPeriod
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "INITIALIZING"
	case StateResuming:
		return "RESUMING"
	case StateWaitingForPeriodEnd:
		return "WAITING_FOR_PERIOD_END"
	case StateProcessingPeriod:
		return "PROCESSING_PERIOD"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int32(s))
	}
}

// errNoClosingBlock marks a period whose end has passed but whose closing
// block has not been ingested yet. The loop pauses and retries the same
// period; it never skips ahead.
var errNoClosingBlock = errors.New("no closing block for period")

// Config carries the consumer's tuning knobs. All of it is configuration;
// none of it changes the period semantics.
type Config struct {
	// PeriodMs is the fixed period width in milliseconds.
	PeriodMs int64

	// BatchSize bounds how many addresses are queried per oracle batch.
	BatchSize int

	// BatchPause is the idle gap between oracle batches, bounding node load.
	BatchPause time.Duration

	// WaitIncrement caps each sleep so cancellation is observed promptly.
	WaitIncrement time.Duration

	// ErrorPause is the delay before retrying a period that failed on a
	// missing closing block.
	ErrorPause time.Duration
}

// DefaultConfig reads the process-level knobs from the environment:
// PERIOD_HOURS (default 4) and BALANCE_BATCH_SIZE (default 100).
func DefaultConfig() Config {
	return Config{
		PeriodMs:      int64(utils.EnvInt("PERIOD_HOURS", 4)) * time.Hour.Milliseconds(),
		BatchSize:     utils.EnvInt("BALANCE_BATCH_SIZE", 100),
		BatchPause:    200 * time.Millisecond,
		WaitIncrement: 10 * time.Second,
		ErrorPause:    5 * time.Second,
	}
}

// Consumer drives period-by-period balance snapshotting for one network:
// wait for a period to close, resolve its closing block, collect the
// addresses active in it, fetch their balances at that block, persist with
// deltas, advance. Strictly sequential; one Consumer per network.
type Consumer struct {
	logger *zap.Logger
	net    *network.Network
	store  Store
	blocks BlockSource
	oracle BalanceOracle
	cfg    Config

	state atomic.Int32

	// nowFunc is swapped in tests to pin the clock.
	nowFunc func() time.Time
}

// New assembles a consumer from its collaborators.
func New(logger *zap.Logger, net *network.Network, store Store, blocks BlockSource, oracle BalanceOracle, cfg Config) *Consumer {
	return &Consumer{
		logger:  logger.With(zap.String("network", net.Name)),
		net:     net,
		store:   store,
		blocks:  blocks,
		oracle:  oracle,
		cfg:     cfg,
		nowFunc: time.Now,
	}
}

// State returns the current lifecycle phase.
func (c *Consumer) State() State {
	return State(c.state.Load())
}

func (c *Consumer) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	if old != s {
		c.logger.Debug("State transition",
			zap.String("from", old.String()),
			zap.String("to", s.String()))
	}
}

// Run executes the consumer until ctx is cancelled or an unrecoverable error
// occurs. Cancellation is a clean exit (nil); anything else aborts with the
// error and leaves restart policy to the supervising process.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.setState(StateStopped)

	c.setState(StateInitializing)

	genesisHash, err := c.oracle.GenesisHash(ctx)
	if err != nil {
		if ctx.Err() != nil {
			c.setState(StateStopping)
			return nil
		}
		return fmt.Errorf("verify chain genesis: %w", err)
	}
	c.logger.Info("Chain verified", zap.String("genesis_hash", genesisHash))

	if err := c.initializeGenesis(ctx); err != nil {
		if ctx.Err() != nil {
			c.setState(StateStopping)
			return nil
		}
		return fmt.Errorf("genesis initialization: %w", err)
	}

	c.setState(StateResuming)
	target, err := c.resume(ctx)
	if err != nil {
		if ctx.Err() != nil {
			c.setState(StateStopping)
			return nil
		}
		return err
	}
	c.logger.Info("Resumed",
		zap.Int64("period_start", target.Start),
		zap.Int64("period_end", target.End))

	for {
		if ctx.Err() != nil {
			c.setState(StateStopping)
			return nil
		}

		now := c.nowFunc().UnixMilli()
		if target.End > now {
			c.setState(StateWaitingForPeriodEnd)
			wait := time.Duration(target.End-now) * time.Millisecond
			if wait > c.cfg.WaitIncrement {
				wait = c.cfg.WaitIncrement
			}
			if err := c.sleep(ctx, wait); err != nil {
				c.setState(StateStopping)
				return nil
			}
			continue
		}

		c.setState(StateProcessingPeriod)
		if err := c.processPeriod(ctx, target); err != nil {
			// Anything raised while shutting down is expected, not an alarm.
			if ctx.Err() != nil {
				c.setState(StateStopping)
				return nil
			}

			if errors.Is(err, errNoClosingBlock) {
				c.logger.Warn("Closing block not ingested yet, retrying period",
					zap.Int64("period_start", target.Start),
					zap.Int64("period_end", target.End),
					zap.Duration("retry_in", c.cfg.ErrorPause))
				if err := c.sleep(ctx, c.cfg.ErrorPause); err != nil {
					c.setState(StateStopping)
					return nil
				}
				continue
			}

			c.logger.Error("Period processing failed",
				zap.Int64("period_start", target.Start),
				zap.Int64("period_end", target.End),
				zap.Error(err))
			return err
		}

		target = Next(target.End, c.cfg.PeriodMs)
	}
}

// resume derives the first target period from persisted state. With prior
// records the next period starts exactly where the latest one ended. With
// none (no genesis list configured and nothing written), the series is
// anchored on the first ingested block's enclosing period.
func (c *Consumer) resume(ctx context.Context) (Period, error) {
	latestEnd, latestHeight, err := c.store.LatestProcessedPeriod(ctx)
	if err != nil {
		return Period{}, fmt.Errorf("query latest processed period: %w", err)
	}

	if latestEnd > 0 {
		c.logger.Info("Found existing records",
			zap.Int64("latest_period_end", latestEnd),
			zap.Uint64("latest_block_height", latestHeight))
		return Next(latestEnd, c.cfg.PeriodMs), nil
	}

	first, err := c.waitForFirstBlock(ctx)
	if err != nil {
		return Period{}, err
	}
	return Boundaries(first.Time, c.cfg.PeriodMs), nil
}

// processPeriod handles one closed period end to end. An empty active set is
// a skip, not an error; a missing closing block is errNoClosingBlock.
// Balances are fetched and written in bounded batches, so a cancellation
// mid-period leaves earlier batches persisted and the rest untouched; the
// re-run of the period supersedes them with higher versions.
func (c *Consumer) processPeriod(ctx context.Context, period Period) (err error) {
	block, err := c.blocks.BlockByNearestTimestamp(ctx, period.End)
	if err != nil {
		return fmt.Errorf("resolve closing block: %w", err)
	}
	if block == nil {
		return fmt.Errorf("%w ending at %d", errNoClosingBlock, period.End)
	}

	addresses, err := c.blocks.ActiveAddressesBetween(ctx, period.Start, period.End)
	if err != nil {
		return fmt.Errorf("gather active addresses: %w", err)
	}
	addresses = utils.Dedup(addresses)
	if len(addresses) == 0 {
		c.logger.Info("No active addresses, skipping period",
			zap.Int64("period_start", period.Start),
			zap.Int64("period_end", period.End))
		return nil
	}
	sort.Strings(addresses)

	c.logger.Info("Processing period",
		zap.Int64("period_start", period.Start),
		zap.Int64("period_end", period.End),
		zap.Uint64("closing_block", block.Height),
		zap.Int("addresses", len(addresses)))

	for start := 0; start < len(addresses); start += c.cfg.BatchSize {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		end := start + c.cfg.BatchSize
		if end > len(addresses) {
			end = len(addresses)
		}

		raws := make(map[string]balancemodels.Raw, end-start)
		for _, address := range addresses[start:end] {
			raw, err := c.oracle.BalancesAt(ctx, block.Hash, address)
			if err != nil {
				return fmt.Errorf("query balances for %s: %w", address, err)
			}
			raws[address] = raw
		}

		if err := c.store.WritePeriod(ctx, period.Start, period.End, block.Height, block.Hash, raws); err != nil {
			return err
		}

		if end < len(addresses) {
			if err := c.sleep(ctx, c.cfg.BatchPause); err != nil {
				return err
			}
		}
	}

	return nil
}

// sleep waits for d or until cancellation, whichever comes first.
func (c *Consumer) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
