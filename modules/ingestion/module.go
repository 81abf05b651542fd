package ingestion

import (
	"time"

	"github.com/iota-uz/policyhub/modules/ingestion/domain/records"
	"github.com/iota-uz/policyhub/modules/ingestion/infrastructure/persistence"
	"github.com/iota-uz/policyhub/modules/ingestion/presentation/controllers"
	"github.com/iota-uz/policyhub/modules/ingestion/services"
	"github.com/iota-uz/policyhub/pkg/application"
)

const DefaultStatusTTL = 24 * time.Hour

type ModuleOptions struct {
	BatchSize     int
	MaxUploadSize int64
	Pipeline      services.PipelineOptions
	Ingest        services.IngestOptions
	// Registry defaults to an in-memory registry.
	Registry services.RunRegistry
	// Store and Queries replace the storage picked from the application.
	// Without them the module uses PostgreSQL when the application has a
	// pool and an in-memory store otherwise.
	Store   records.Store
	Queries records.PolicyQueries
}

func NewModule(opts *ModuleOptions) application.Module {
	if opts == nil {
		opts = &ModuleOptions{}
	}
	return &Module{options: opts}
}

type Module struct {
	options *ModuleOptions
}

func (m *Module) storage(app application.Application) (records.Store, records.PolicyQueries) {
	store, queries := m.options.Store, m.options.Queries
	if pool := app.DB(); pool != nil {
		app.Migrations().RegisterSchema(m.Name(), persistence.Schema())
		if store == nil {
			store = persistence.NewPgStore(pool, m.options.BatchSize)
		}
		if queries == nil {
			queries = persistence.NewPolicyQueryRepository()
		}
		return store, queries
	}
	if store == nil || queries == nil {
		memory := persistence.NewMemoryStore()
		if store == nil {
			store = memory
		}
		if queries == nil {
			queries = memory
		}
	}
	return store, queries
}

func (m *Module) Register(app application.Application) error {
	store, queries := m.storage(app)

	registry := m.options.Registry
	if registry == nil {
		registry = services.NewMemoryRunRegistry(DefaultStatusTTL)
	}

	pipelineOpts := m.options.Pipeline
	ingestOpts := m.options.Ingest
	if pipelineOpts.Logger == nil {
		pipelineOpts.Logger = app.Logger().WithField("component", "ingest-pipeline")
	}
	if ingestOpts.Logger == nil {
		ingestOpts.Logger = app.Logger().WithField("component", "ingest")
	}

	app.RegisterServices(
		services.NewIngestService(
			services.NewPipeline(store, pipelineOpts),
			registry,
			app.EventPublisher(),
			ingestOpts,
		),
		services.NewPolicyQueryService(queries),
		services.NewHealthService(store),
	)

	app.RegisterControllers(
		controllers.NewIngestAPIController(app, m.options.MaxUploadSize),
		controllers.NewPolicyAPIController(app),
		controllers.NewHealthController(app),
	)
	return nil
}

func (m *Module) Name() string {
	return "ingestion"
}
