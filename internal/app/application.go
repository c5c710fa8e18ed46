// Package app assembles the platform's stores, services and HTTP surface.
package app

import (
	"database/sql"
	"net/http"

	"github.com/campuslance/platform/internal/app/gateway"
	"github.com/campuslance/platform/internal/app/httpapi"
	"github.com/campuslance/platform/internal/app/metrics"
	"github.com/campuslance/platform/internal/app/notify"
	"github.com/campuslance/platform/internal/app/services/bids"
	"github.com/campuslance/platform/internal/app/services/escrow"
	"github.com/campuslance/platform/internal/app/services/reconcile"
	"github.com/campuslance/platform/internal/app/services/tasks"
	"github.com/campuslance/platform/internal/app/services/wallet"
	"github.com/campuslance/platform/internal/app/storage"
	"github.com/campuslance/platform/internal/app/storage/memory"
	"github.com/campuslance/platform/internal/app/storage/postgres"
	"github.com/campuslance/platform/internal/app/system"
	"github.com/campuslance/platform/internal/config"
	"github.com/campuslance/platform/internal/middleware"
	"github.com/campuslance/platform/pkg/logger"
)

// Stores groups the storage interfaces the services consume.
type Stores struct {
	Users    storage.UserStore
	Tasks    storage.TaskStore
	Bids     storage.BidStore
	Payments storage.PaymentStore
	Wallets  storage.WalletStore
}

// Application is the wired platform.
type Application struct {
	Config  config.Config
	Log     *logger.Logger
	Metrics *metrics.Metrics
	Stores  Stores

	Escrow  *escrow.Service
	Wallet  *wallet.Service
	Tasks   *tasks.Service
	Bids    *bids.Service
	Manager *system.Manager

	handler http.Handler
}

// New wires the application. A nil db selects the in-memory stores, which is
// the development and test setup.
func New(cfg config.Config, db *sql.DB, log *logger.Logger) *Application {
	if log == nil {
		log = logger.New(cfg.Logging)
	}

	stores := buildStores(db, log)
	m := metrics.New()

	dispatcher := buildNotifier(cfg, m, log)
	walletSvc := wallet.New(stores.Wallets, log.WithField("component", "wallet"))
	gw := buildGateway(cfg, log)

	escrowSvc := escrow.New(
		stores.Users, stores.Tasks, stores.Bids, stores.Payments,
		walletSvc, gw, dispatcher, log.WithField("component", "escrow"),
	)
	escrowSvc.Observe(
		func() { m.PaymentsReleased.Inc(); m.WalletCreditsApplied.Inc() },
		func() { m.DuplicateReleases.Inc() },
	)

	taskSvc := tasks.New(stores.Users, stores.Tasks, stores.Bids, log.WithField("component", "tasks"))
	bidSvc := bids.New(stores.Tasks, stores.Bids, dispatcher, log.WithField("component", "bids"))

	manager := system.NewManager(log.WithField("component", "system"))
	if cfg.Reconcile.Enabled {
		if checker, ok := gw.(gateway.StatusChecker); ok {
			manager.Register(reconcile.New(
				stores.Payments, checker, escrowSvc,
				cfg.Reconcile.Schedule, cfg.Reconcile.StaleAge,
				log.WithField("component", "reconcile"),
			))
		} else {
			log.Warn("gateway adapter cannot report order status; reconcile sweep disabled")
		}
	}

	api := httpapi.New(taskSvc, bidSvc, escrowSvc, walletSvc, log.WithField("component", "httpapi"))

	auth := middleware.NewAuthenticator(cfg.Auth.JWTSecret, []string{
		"/healthz", "/metrics", "/webhooks/gateway",
	}, log.WithField("component", "auth"))
	limiter := middleware.NewRateLimiter(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst)

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/", auth.Middleware(limiter.Middleware(api)))

	return &Application{
		Config:  cfg,
		Log:     log,
		Metrics: m,
		Stores:  stores,
		Escrow:  escrowSvc,
		Wallet:  walletSvc,
		Tasks:   taskSvc,
		Bids:    bidSvc,
		Manager: manager,
		handler: m.InstrumentHandler(mux),
	}
}

// Handler returns the full HTTP handler including middleware and metrics.
func (a *Application) Handler() http.Handler { return a.handler }

func buildStores(db *sql.DB, log *logger.Logger) Stores {
	if db == nil {
		log.Warn("no database configured; using in-memory stores")
		store := memory.New()
		return Stores{Users: store, Tasks: store, Bids: store, Payments: store, Wallets: store}
	}
	store := postgres.New(db)
	return Stores{Users: store, Tasks: store, Bids: store, Payments: store, Wallets: store}
}

func buildGateway(cfg config.Config, log *logger.Logger) gateway.Adapter {
	if cfg.Gateway.URL == "" {
		log.Warn("GATEWAY_URL not set; using mock payment gateway")
		return gateway.NewMock()
	}
	return gateway.NewHTTP(cfg.Gateway.URL, cfg.Gateway.APIKey, cfg.Gateway.Timeout)
}

func buildNotifier(cfg config.Config, m *metrics.Metrics, log *logger.Logger) *notify.Dispatcher {
	notifyLog := log.WithField("component", "notify")
	onDrop := func() { m.NotificationsDropped.Inc() }

	if cfg.Notify.RedisURL == "" {
		log.Warn("NOTIFY_REDIS_URL not set; notifications go to the log")
		return notify.NewDispatcher(notify.NewLogSink(notifyLog), notifyLog, onDrop)
	}

	sink, err := notify.NewRedisQueueSink(cfg.Notify.RedisURL, cfg.Notify.QueueKey)
	if err != nil {
		notifyLog.WithError(err).Warn("redis queue unavailable; notifications go to the log")
		return notify.NewDispatcher(notify.NewLogSink(notifyLog), notifyLog, onDrop)
	}
	return notify.NewDispatcher(sink, notifyLog, onDrop)
}
