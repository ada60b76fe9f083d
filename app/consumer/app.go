package workerconsumer

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/statelens/statelens/pkg/consumer"
	balancemodels "github.com/statelens/statelens/pkg/db/models/balance"
	"github.com/statelens/statelens/pkg/db/series"
	"github.com/statelens/statelens/pkg/logging"
	"github.com/statelens/statelens/pkg/network"
	"github.com/statelens/statelens/pkg/node"
	"github.com/statelens/statelens/pkg/utils"
)

// App hosts one balance-series consumer per configured network. Networks are
// fully independent: each owns its store connection, node connection and
// sequential consumer loop; the only shared machinery is the worker pool the
// loops run on and the compaction schedule.
type App struct {
	Logger *zap.Logger

	// Stores maps network name to its series database.
	Stores *xsync.Map[string, *series.DB]

	// Consumers maps network name to its consumer loop.
	Consumers *xsync.Map[string, *consumer.Consumer]

	// Pool runs one long-lived task per network.
	Pool pond.Pool

	// Cron triggers ReplacingMergeTree compaction, according to CronSpec.
	Cron     *cron.Cron
	CronSpec string
}

// Initialize builds the per-network stacks. Networks come from the NETWORKS
// env var as a comma-separated list (default "torus").
func Initialize(ctx context.Context) *App {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr'
		panic(err)
	}

	app := &App{
		Logger:    logger,
		Stores:    xsync.NewMap[string, *series.DB](),
		Consumers: xsync.NewMap[string, *consumer.Consumer](),
		CronSpec:  utils.Env("COMPACTION_CRON", "0 0 */6 * * *"),
	}

	names := strings.Split(utils.Env("NETWORKS", "torus"), ",")
	cfg := consumer.DefaultConfig()

	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		net, err := network.ByName(name)
		if err != nil {
			logger.Fatal("Unknown network", zap.String("network", name), zap.Error(err))
		}

		store, err := series.New(ctx, logger, net)
		if err != nil {
			logger.Fatal("Unable to initialize series database",
				zap.String("network", net.Name), zap.Error(err))
		}
		app.Stores.Store(net.Name, store)

		oracle, err := node.New(logger, net)
		if err != nil {
			logger.Fatal("Unable to connect to node",
				zap.String("network", net.Name), zap.Error(err))
		}

		app.Consumers.Store(net.Name, consumer.New(logger, net, store, store, oracle, cfg))
	}

	if app.Consumers.Size() == 0 {
		logger.Fatal("No networks configured", zap.String("env", "NETWORKS"))
	}

	app.Pool = pond.NewPool(app.Consumers.Size())

	if err := app.SetupScheduler(ctx, cron.DefaultLogger); err != nil {
		logger.Fatal("Unable to set up compaction schedule", zap.Error(err))
	}

	return app
}

// SetupScheduler wires the periodic OPTIMIZE FINAL pass. ReplacingMergeTree
// only drops superseded versions on merge; forcing merges keeps FINAL reads
// on the resumption/delta path cheap.
func (a *App) SetupScheduler(ctx context.Context, logger cron.Logger) error {
	// Seconds field, optional
	a.Cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(logger)))

	_, err := a.Cron.AddFunc(a.CronSpec, func() {
		// keep each run bounded
		rctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
		defer cancel()
		a.Compact(rctx)
	})
	return err
}

// Compact forces merges on every network's tables, then spot-checks the
// series by counting the latest deduplicated row per address.
func (a *App) Compact(ctx context.Context) {
	tables := []string{
		balancemodels.SeriesTableName,
		balancemodels.BlocksTableName,
		balancemodels.TransactionsTableName,
	}

	a.Stores.Range(func(name string, store *series.DB) bool {
		for _, table := range tables {
			if err := store.OptimizeTable(ctx, store.Name, table, true); err != nil {
				a.Logger.Warn("Compaction failed",
					zap.String("network", name),
					zap.String("table", table),
					zap.Error(err))
			}
		}

		records, err := store.LatestRecords(ctx)
		if err != nil {
			a.Logger.Warn("Post-compaction spot check failed",
				zap.String("network", name),
				zap.Error(err))
			return true
		}
		a.Logger.Info("Series compacted",
			zap.String("network", name),
			zap.Int("tracked_addresses", len(records)))
		return true
	})
}

// Start runs every consumer until the context is canceled or one of them
// fails. A consumer failure is fatal for the process; restart policy belongs
// to the supervisor.
func (a *App) Start(ctx context.Context) {
	a.Cron.Start()
	a.Logger.Info("Compaction cron started", zap.String("cronSpec", a.CronSpec))

	group := a.Pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	a.Consumers.Range(func(name string, c *consumer.Consumer) bool {
		group.SubmitErr(func() error {
			return c.Run(groupCtx)
		})
		return true
	})

	err := group.Wait()
	a.Stop()

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		a.Logger.Fatal("Consumer terminated", zap.Error(err))
	}
}

// Stop releases the scheduler and every store connection.
func (a *App) Stop() {
	if a.Cron != nil {
		<-a.Cron.Stop().Done()
	}

	a.Stores.Range(func(name string, store *series.DB) bool {
		if err := store.Close(); err != nil {
			a.Logger.Warn("Error closing store", zap.String("network", name), zap.Error(err))
		}
		return true
	})

	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}
