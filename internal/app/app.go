// Package app wires the components shared by the panelctl processes.
package app

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/tsanders-rh/panelctl/internal/config"
	"github.com/tsanders-rh/panelctl/internal/events"
	"github.com/tsanders-rh/panelctl/internal/ledger"
	"github.com/tsanders-rh/panelctl/internal/panel"
	"github.com/tsanders-rh/panelctl/internal/plan"
	"github.com/tsanders-rh/panelctl/internal/policy"
	"github.com/tsanders-rh/panelctl/internal/provision"
	"github.com/tsanders-rh/panelctl/internal/store"
)

// App holds the long-lived components of a process
type App struct {
	Config       *config.Config
	Logger       *zap.Logger
	Store        *store.Store
	Panel        *panel.Client
	Ledger       *ledger.Service
	Plans        *plan.Registry
	Events       events.Publisher
	Orchestrator *provision.Orchestrator

	closers []func()
}

// New connects to the database, runs migrations and builds the sagas
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	logger.Info("connecting to database")
	st, err := store.NewStore(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	a.Store = st
	a.closers = append(a.closers, st.Close)

	logger.Info("running database migrations")
	if err := st.Migrate(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	a.Events = events.Nop{}
	if cfg.Events.URL != "" {
		pub, err := events.NewNATSPublisher(cfg.Events, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to NATS: %w", err)
		}
		a.Events = pub
		a.closers = append(a.closers, pub.Close)
	} else {
		logger.Info("NATS_URL not set, lifecycle events are not published")
	}

	plans := plan.Builtin()
	if cfg.Plans.Dir != "" {
		plans = os.DirFS(cfg.Plans.Dir)
	}
	if a.Plans, err = plan.NewRegistry(plan.NewLoader(plans)); err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("loaded plans", zap.Int("count", a.Plans.Count()))

	a.Panel = panel.NewClient(cfg.Panel, logger)
	a.Ledger = ledger.NewService(st.Ledgers, logger)

	a.Orchestrator = provision.New(provision.Deps{
		Panel:   a.Panel,
		Ledger:  a.Ledger,
		Servers: st.Servers,
		Users:   st.Users,
		Orphans: st.Orphans,
		Audit:   st.Audit,
		Events:  a.Events,
		Policy:  policy.NewEngine(cfg.Policy),
	}, cfg.Provision, logger)

	return a, nil
}

// Close releases connections in reverse order of creation
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
