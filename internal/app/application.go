package app

import (
	"context"
	"fmt"

	"github.com/cardverse/token_layer/internal/app/events"
	"github.com/cardverse/token_layer/internal/app/services/accounts"
	auditsvc "github.com/cardverse/token_layer/internal/app/services/audit"
	"github.com/cardverse/token_layer/internal/app/services/cards"
	"github.com/cardverse/token_layer/internal/app/services/distribution"
	"github.com/cardverse/token_layer/internal/app/services/interactions"
	ledgersvc "github.com/cardverse/token_layer/internal/app/services/ledger"
	"github.com/cardverse/token_layer/internal/app/storage"
	"github.com/cardverse/token_layer/internal/app/storage/memory"
	"github.com/cardverse/token_layer/internal/app/system"
	"github.com/cardverse/token_layer/internal/config"
	"github.com/cardverse/token_layer/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to a
// shared in-memory implementation.
type Stores struct {
	Users  storage.UserStore
	Cards  storage.CardStore
	Ledger storage.LedgerStore
}

// Options tunes the economy and background work.
type Options struct {
	Pricing       ledgersvc.Pricing
	FeedSize      int
	AuditEnabled  bool
	AuditSchedule string
	EventRingSize int
}

// DefaultOptions mirrors config.Default().
func DefaultOptions() Options {
	return OptionsFromConfig(*config.Default())
}

// OptionsFromConfig maps the loaded configuration onto Options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Pricing: ledgersvc.Pricing{
			InitialBalance:     cfg.Economy.InitialBalance,
			CardCreationReward: cfg.Economy.CardCreationReward,
			CorrectCardCost:    cfg.Economy.CorrectCardCost,
			SpecialContentCost: cfg.Economy.SpecialContentCost,
		},
		FeedSize:      cfg.Economy.InitialFeedSize,
		AuditEnabled:  cfg.Audit.Enabled,
		AuditSchedule: cfg.Audit.Schedule,
	}
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	stores  Stores
	log     *logger.Logger

	Events       *events.Hub
	Ledger       *ledgersvc.Service
	Cards        *cards.Service
	Distribution *distribution.Engine
	Accounts     *accounts.Service
	Interactions *interactions.Coordinator
	Audit        *auditsvc.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if opts.Pricing == (ledgersvc.Pricing{}) {
		opts.Pricing = ledgersvc.DefaultPricing()
	}

	if stores.Users == nil || stores.Cards == nil || stores.Ledger == nil {
		mem := memory.New()
		if stores.Users == nil {
			stores.Users = mem
		}
		if stores.Cards == nil {
			stores.Cards = mem
		}
		if stores.Ledger == nil {
			stores.Ledger = mem
		}
		log.Info("using in-memory stores for unset persistence")
	}

	manager := system.NewManager()
	hub := events.NewHub(opts.EventRingSize)

	ledgerService := ledgersvc.New(stores.Ledger, opts.Pricing, hub, log.Named("ledger"))
	cardService := cards.New(stores.Cards, log.Named("cards"))
	engine := distribution.New(cardService, distribution.SampleGenerator{}, opts.FeedSize, log.Named("distribution"))
	accountService := accounts.New(stores.Users, ledgerService, log.Named("accounts"))
	coordinator := interactions.New(ledgerService, cardService, engine, accountService, log.Named("interactions"))
	auditService := auditsvc.New(ledgerService, opts.AuditSchedule, log.Named("ledger-audit"))

	if opts.AuditEnabled {
		if err := manager.Register(auditService); err != nil {
			return nil, fmt.Errorf("register %s: %w", auditService.Name(), err)
		}
	} else {
		log.Warn("ledger audit disabled")
	}

	return &Application{
		manager:      manager,
		stores:       stores,
		log:          log,
		Events:       hub,
		Ledger:       ledgerService,
		Cards:        cardService,
		Distribution: engine,
		Accounts:     accountService,
		Interactions: coordinator,
		Audit:        auditService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

// Services lists the lifecycle-managed components in start order.
func (a *Application) Services() []string {
	return a.manager.Names()
}

// Ready pings every store that talks to an external server. In-memory
// stores are always ready.
func (a *Application) Ready(ctx context.Context) error {
	seen := map[storage.Pinger]bool{}
	for _, s := range []any{a.stores.Users, a.stores.Cards, a.stores.Ledger} {
		p, ok := s.(storage.Pinger)
		if !ok || seen[p] {
			continue
		}
		seen[p] = true
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("store unreachable: %w", err)
		}
	}
	return nil
}
