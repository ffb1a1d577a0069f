package automationengine

import (
	"log/slog"
	"time"

	httpadapter "adpilot/contexts/ad-automation/automation-engine/adapters/http"
	"adpilot/contexts/ad-automation/automation-engine/adapters/memory"
	"adpilot/contexts/ad-automation/automation-engine/application/commands"
	"adpilot/contexts/ad-automation/automation-engine/application/evaluators"
	"adpilot/contexts/ad-automation/automation-engine/application/queries"
	"adpilot/contexts/ad-automation/automation-engine/application/workers"
	"adpilot/contexts/ad-automation/automation-engine/domain/entities"
	"adpilot/contexts/ad-automation/automation-engine/ports"
)

type Module struct {
	Handler       httpadapter.Handler
	Scheduler     *workers.Scheduler
	BudgetReset   *workers.DailyBudgetReset
	ManualTrigger workers.ManualTriggerConsumer
	Store         *memory.Store
}

type Dependencies struct {
	Rules       ports.RuleRepository
	Logs        ports.LogRepository
	Performance ports.PerformanceStore
	Throttle    ports.ThrottleStore
	Overrides   ports.BudgetOverrideRepository
	Ads         ports.AdsAPI
	Listings    ports.ListingAPI
	Catalog     ports.CatalogLookup
	Classifier  ports.Classifier
	Publisher   ports.EventPublisher
	Subscriber  ports.EventSubscriber
	Metrics     ports.Metrics
	Clock       ports.Clock
	IDGenerator ports.IDGenerator
	Sleeper     ports.Sleeper
	Location    *time.Location
	Settings    evaluators.Settings
	// BudgetResetAt is "HH:MM" in Location.
	BudgetResetAt string
	ConsumerGroup string
	Logger        *slog.Logger
}

func NewModule(deps Dependencies) Module {
	settings := deps.Settings
	if settings.BudgetResetAt == "" {
		settings.BudgetResetAt = deps.BudgetResetAt
	}
	engine := evaluators.Engine{
		Performance: queries.FetchPerformance{Store: deps.Performance, Logger: deps.Logger},
		Ads:         deps.Ads,
		Listings:    deps.Listings,
		Catalog:     deps.Catalog,
		Classifier:  deps.Classifier,
		Throttle:    deps.Throttle,
		Overrides:   deps.Overrides,
		Clock:       deps.Clock,
		IDGen:       deps.IDGenerator,
		Sleeper:     deps.Sleeper,
		Metrics:     deps.Metrics,
		Location:    deps.Location,
		Settings:    settings,
		Logger:      deps.Logger,
	}
	scheduler := &workers.Scheduler{
		Rules: deps.Rules,
		Runner: commands.RunRuleUseCase{
			Rules:     deps.Rules,
			Logs:      deps.Logs,
			Evaluator: engine,
			Publisher: deps.Publisher,
			Metrics:   deps.Metrics,
			Clock:     deps.Clock,
			IDGen:     deps.IDGenerator,
			Logger:    deps.Logger,
		},
		Clock:    deps.Clock,
		Location: deps.Location,
		Metrics:  deps.Metrics,
		Logger:   deps.Logger,
	}
	return Module{
		Handler: httpadapter.Handler{
			RequestRun: commands.RequestRunUseCase{
				Rules:     deps.Rules,
				Publisher: deps.Publisher,
				Clock:     deps.Clock,
				IDGen:     deps.IDGenerator,
				Logger:    deps.Logger,
			},
			Scheduler: scheduler,
			Logs:      queries.ListLogs{Rules: deps.Rules, Logs: deps.Logs},
			Logger:    deps.Logger,
		},
		Scheduler: scheduler,
		BudgetReset: &workers.DailyBudgetReset{
			Overrides: deps.Overrides,
			Ads:       deps.Ads,
			Clock:     deps.Clock,
			Location:  deps.Location,
			ResetAt:   deps.BudgetResetAt,
			Logger:    deps.Logger,
		},
		ManualTrigger: workers.ManualTriggerConsumer{
			Subscriber:    deps.Subscriber,
			Scheduler:     scheduler,
			ConsumerGroup: deps.ConsumerGroup,
			Sleeper:       deps.Sleeper,
			Logger:        deps.Logger,
		},
	}
}

// NewInMemoryModule wires every repository to one memory store. External
// APIs are left to the caller; rules needing them finish as NO_ACTION.
func NewInMemoryModule(seed []entities.Rule, ads ports.AdsAPI, logger *slog.Logger) Module {
	store := memory.NewStore(seed)
	module := NewModule(Dependencies{
		Rules:       store,
		Logs:        store,
		Performance: store,
		Throttle:    store,
		Overrides:   store,
		Ads:         ads,
		Publisher:   store,
		Clock:       store,
		IDGenerator: store,
		Location:    time.UTC,
		Logger:      logger,
	})
	module.Store = store
	return module
}
