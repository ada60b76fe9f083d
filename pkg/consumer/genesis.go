package consumer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	balancemodels "github.com/statelens/statelens/pkg/db/models/balance"
)

// initializeGenesis seeds the period-zero records from the network's static
// genesis allocation. Guarded by HasRecords: once anything has been written
// for the asset, seeding never runs again, so restarts are idempotent and an
// already-established period 0 is authoritative over re-derived data.
//
// The genesis period is anchored on the network's true first ingested block:
// period_start is the first block's timestamp and period_end is the end of
// its enclosing fixed-width window, so the regular loop resumes contiguously
// from there. Only free balances exist at genesis.
func (c *Consumer) initializeGenesis(ctx context.Context) error {
	seeded, err := c.store.HasRecords(ctx)
	if err != nil {
		return fmt.Errorf("check existing records: %w", err)
	}
	if seeded {
		c.logger.Debug("Records already exist, skipping genesis seeding")
		return nil
	}

	balances, err := c.net.GenesisBalances()
	if err != nil {
		return err
	}
	if len(balances) == 0 {
		c.logger.Info("No genesis balance list configured, skipping seeding")
		return nil
	}

	first, err := c.waitForFirstBlock(ctx)
	if err != nil {
		return err
	}

	period := Boundaries(first.Time, c.cfg.PeriodMs)
	raws := make(map[string]balancemodels.Raw, len(balances))
	for _, b := range balances {
		raws[b.Address] = balancemodels.Raw{Free: b.Amount}
	}

	if err := c.store.WritePeriod(ctx, first.Time, period.End, first.Height, first.Hash, raws); err != nil {
		return fmt.Errorf("write genesis period: %w", err)
	}

	c.logger.Info("Genesis balances seeded",
		zap.Int("addresses", len(raws)),
		zap.Uint64("first_block", first.Height),
		zap.Int64("period_start", first.Time),
		zap.Int64("period_end", period.End))

	return nil
}

// waitForFirstBlock blocks until the ingest stream has produced at least one
// block, polling in wait increments so cancellation is observed promptly.
func (c *Consumer) waitForFirstBlock(ctx context.Context) (*balancemodels.Block, error) {
	for {
		first, err := c.blocks.FirstBlock(ctx)
		if err != nil {
			return nil, fmt.Errorf("query first block: %w", err)
		}
		if first != nil {
			return first, nil
		}

		c.logger.Info("No blocks ingested yet, waiting",
			zap.Duration("recheck_in", c.cfg.WaitIncrement))
		if err := c.sleep(ctx, c.cfg.WaitIncrement); err != nil {
			return nil, err
		}
	}
}
