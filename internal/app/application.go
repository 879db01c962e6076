package app

import (
	"context"

	"github.com/LoyaltyLabs/receipt_layer/internal/app/marketplace"
	"github.com/LoyaltyLabs/receipt_layer/internal/app/services/accounts"
	"github.com/LoyaltyLabs/receipt_layer/internal/app/services/pipeline"
	"github.com/LoyaltyLabs/receipt_layer/internal/app/services/receipts"
	"github.com/LoyaltyLabs/receipt_layer/internal/app/storage"
	"github.com/LoyaltyLabs/receipt_layer/internal/app/storage/memory"
	"github.com/LoyaltyLabs/receipt_layer/internal/app/tasks"
	"github.com/LoyaltyLabs/receipt_layer/pkg/logger"
)

// Stores carries the persistence backends. Nil fields default to the
// in-memory implementation, which keeps tests and local development free of
// external dependencies.
type Stores struct {
	Accounts storage.AccountStore
	Receipts storage.ReceiptStore
	Tasks    storage.TaskStore
}

// Collaborators carries the pipeline's external dependencies. Nil fields
// default to the marketplace simulator.
type Collaborators struct {
	Acquisition tasks.AcquisitionStrategy
	Mint        tasks.MintStrategy
	Metadata    tasks.MetadataStore
}

// Options configures New.
type Options struct {
	Stores        Stores
	Collaborators Collaborators
	Dispatcher    tasks.DispatcherConfig
	Logger        *logger.Logger
}

// Application is the composed service layer.
type Application struct {
	Engine   *tasks.Engine
	Accounts *accounts.Service
	Receipts *receipts.Service
	Pipeline *pipeline.Service

	log *logger.Logger
}

// New assembles the application. Handler registration failures surface here;
// a duplicate registration is a programming error and aborts startup.
func New(opts Options) (*Application, error) {
	log := opts.Logger
	if log == nil {
		log = logger.NewDefault("app")
	}

	stores := opts.Stores
	if stores.Accounts == nil || stores.Receipts == nil || stores.Tasks == nil {
		mem := memory.New()
		if stores.Accounts == nil {
			stores.Accounts = mem
		}
		if stores.Receipts == nil {
			stores.Receipts = mem
		}
		if stores.Tasks == nil {
			stores.Tasks = mem
		}
	}

	collab := opts.Collaborators
	if collab.Acquisition == nil || collab.Mint == nil || collab.Metadata == nil {
		sim := marketplace.NewSimulator(marketplace.SimulatorConfig{AcquireEvery: 2}, log.WithField("component", "marketplace"))
		if collab.Acquisition == nil {
			collab.Acquisition = sim
		}
		if collab.Mint == nil {
			collab.Mint = sim
		}
		if collab.Metadata == nil {
			collab.Metadata = sim
		}
	}

	engine := tasks.NewEngine(stores.Tasks, opts.Dispatcher, log.WithField("component", "tasks"))
	if err := tasks.RegisterPipelineHandlers(engine.Registry(), collab.Acquisition, collab.Mint, collab.Metadata, log); err != nil {
		return nil, err
	}

	return &Application{
		Engine:   engine,
		Accounts: accounts.New(stores.Accounts, log.WithField("component", "accounts")),
		Receipts: receipts.New(stores.Accounts, stores.Receipts, engine, log.WithField("component", "receipts")),
		Pipeline: pipeline.New(engine.Status(), log.WithField("component", "pipeline")),
		log:      log,
	}, nil
}

// Start launches background processing.
func (a *Application) Start(ctx context.Context) error {
	return a.Engine.Start(ctx)
}

// Shutdown drains background processing.
func (a *Application) Shutdown(ctx context.Context) error {
	return a.Engine.Shutdown(ctx)
}
