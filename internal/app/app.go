// Package app wires stores, transports and services from the configuration.
// The api and worker binaries share it so both run against the same backends.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dvloznov/splitledger/internal/api"
	"github.com/dvloznov/splitledger/internal/api/handlers"
	"github.com/dvloznov/splitledger/internal/apperr"
	"github.com/dvloznov/splitledger/internal/commands"
	"github.com/dvloznov/splitledger/internal/config"
	"github.com/dvloznov/splitledger/internal/events"
	eventsmem "github.com/dvloznov/splitledger/internal/events/inmemory"
	"github.com/dvloznov/splitledger/internal/events/pubsub"
	"github.com/dvloznov/splitledger/internal/gcs"
	infraBQ "github.com/dvloznov/splitledger/internal/infra/bigquery"
	"github.com/dvloznov/splitledger/internal/infra/postgres"
	"github.com/dvloznov/splitledger/internal/jobs"
	jobsmem "github.com/dvloznov/splitledger/internal/jobs/inmemory"
	"github.com/dvloznov/splitledger/internal/ledger"
	ledgermem "github.com/dvloznov/splitledger/internal/ledger/inmemory"
	"github.com/dvloznov/splitledger/internal/notification"
	notifymem "github.com/dvloznov/splitledger/internal/notification/inmemory"
	"github.com/dvloznov/splitledger/internal/pipeline"
	"github.com/rs/zerolog"
)

// maxUploadSize bounds direct uploads to the in-memory blob store.
const maxUploadSize = 32 << 20

// ledgerStores groups the domain repositories.
type ledgerStores interface {
	ledger.UserRepository
	ledger.GroupRepository
	ledger.ExpenseRepository
	ledger.SettlementRepository
}

// App holds the wired components.
type App struct {
	cfg *config.Config
	log zerolog.Logger

	Jobs     jobs.JobStore
	Users    *ledger.UserService
	Groups   *ledger.GroupService
	Service  *pipeline.Service
	Producer events.Producer
	Events   *events.Dispatcher
	Sweeper  *pipeline.Sweeper

	consumer events.Consumer
	uploads  handlers.BlobWriter
	notifier *ledger.Notifier
	notify   *notification.Service
	closers  []func() error
}

// New builds the application from cfg.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{cfg: cfg, log: log}
	if err := a.build(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg, log := a.cfg, a.log

	var (
		jobStore    jobs.JobStore
		resultStore jobs.ResultStore
		store       ledgerStores
		notifyLog   notification.LogStore
	)
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		pool, err := postgres.Connect(ctx, cfg.Database.DSN, cfg.Database.MaxConns)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		js := postgres.NewJobStore(pool)
		jobStore, resultStore = js, js
		store = postgres.NewLedgerStore(pool)
		notifyLog = postgres.NewNotificationLog(pool)
	default:
		js := jobsmem.NewStore()
		jobStore, resultStore = js, js
		store = ledgermem.NewStore()
		notifyLog = notifymem.NewLog()
	}
	a.Jobs = jobStore

	var blobs pipeline.BlobStore
	switch cfg.Storage.Driver {
	case config.DriverGCS:
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, client.Close)
		blobs = client
	default:
		mem := gcs.NewMemoryStore(cfg.HTTP.BaseURL)
		blobs = mem
		a.uploads = mem
	}

	var transport interface {
		events.Publisher
		events.Consumer
	}
	switch cfg.Queue.Driver {
	case config.DriverPubSub:
		t, err := pubsub.New(ctx, pubsub.Config{
			ProjectID:      cfg.Queue.ProjectID,
			TopicID:        cfg.Queue.TopicID,
			SubscriptionID: cfg.Queue.SubscriptionID,
			MaxOutstanding: cfg.Queue.Concurrency,
		}, log)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, t.Close)
		transport = t
	default:
		q := eventsmem.NewQueue(eventsmem.Config{
			Workers:     cfg.Queue.Concurrency,
			MaxAttempts: cfg.Queue.MaxAttempts,
		}, log)
		a.closers = append(a.closers, q.Close)
		transport = q
	}
	a.consumer = transport
	a.Producer = events.NewProducer(transport)

	users := ledger.NewUserService(store, log)
	groups := ledger.NewGroupService(store, store, log)
	a.Users, a.Groups = users, groups
	expenses := ledger.NewExpenseService(store, store, a.Producer, log)
	settlements := ledger.NewSettlementService(store, store, a.Producer, log)

	registry, err := commands.NewRegistry(log, commands.DefaultStrategies(users, groups, expenses, settlements, log)...)
	if err != nil {
		return fmt.Errorf("building command registry: %w", err)
	}

	deps := pipeline.Dependencies{
		Jobs:       jobStore,
		Results:    resultStore,
		Blobs:      blobs,
		Dispatcher: registry,
		Producer:   a.Producer,
		Users:      store,
	}
	if cfg.BigQuery.Enabled {
		recorder, err := infraBQ.NewRunRecorder(ctx, cfg.BigQuery.ProjectID, cfg.BigQuery.Dataset, cfg.BigQuery.Table)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, recorder.Close)
		deps.Recorder = recorder
	}

	a.Service = pipeline.NewService(pipeline.Config{
		Bucket:       cfg.Storage.Bucket,
		UploadPrefix: cfg.Storage.UploadPrefix,
		PresignTTL:   cfg.Storage.PresignTTL,
	}, deps, log)

	a.notifier = ledger.NewNotifier(store, store, store, a.Producer, log)
	a.notify = notification.NewService(notifyLog, notification.NewMailer(notification.MailerConfig{
		Provider:   cfg.Email.Provider,
		Domain:     cfg.Email.Domain,
		APIKey:     cfg.Email.APIKey,
		Sender:     cfg.Email.Sender,
		SenderName: cfg.Email.SenderName,
		Timeout:    cfg.Email.Timeout,
	}, log), log)

	a.Events = events.NewDispatcher(cfg.Queue.DedupeTTL, log)
	events.Register(a.Events, events.TopicProcessingStarted, ackRejected(log, a.Service.ProcessFileFromEvent))
	events.Register(a.Events, events.TopicProcessingCompleted, ackRejected(log, a.Service.HandleCompletedEvent))
	events.Register(a.Events, events.TopicCommandResultPersistFailed, a.Service.HandlePersistFailed)
	events.Register(a.Events, events.TopicExpenseCreated, ackRejected(log, a.notifier.HandleExpenseCreated))
	events.Register(a.Events, events.TopicSettlementCreated, ackRejected(log, a.notifier.HandleSettlementCreated))
	events.Register(a.Events, events.TopicNotificationSend, a.notify.Handle)

	a.Sweeper = pipeline.NewSweeper(jobStore, cfg.Pipeline.StaleAfter, log)
	return nil
}

// ackRejected acknowledges messages whose handler rejects them for a reason a
// redelivery cannot change.
func ackRejected[T any](log zerolog.Logger, h func(ctx context.Context, payload T) error) func(ctx context.Context, payload T) error {
	return func(ctx context.Context, payload T) error {
		err := h(ctx, payload)
		if err == nil {
			return nil
		}
		switch apperr.KindOf(err) {
		case apperr.KindNotFound, apperr.KindForbidden, apperr.KindConflict, apperr.KindBadRequest:
			log.Warn().Err(err).Msg("Message rejected, acknowledging")
			return nil
		}
		return err
	}
}

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler {
	var blobs *handlers.BlobsHandler
	if a.uploads != nil {
		blobs = handlers.NewBlobsHandler(a.uploads, maxUploadSize, a.log)
	}
	return api.NewRouter(api.RouterConfig{
		AllowedOrigins: a.cfg.HTTP.AllowedOrigins,
		RateLimit:      a.cfg.HTTP.RateLimit,
		RateBurst:      a.cfg.HTTP.RateBurst,
	}, handlers.NewCSVHandler(a.Service, a.log), blobs, a.log)
}

// StartWorker starts consuming events and, when sweep is set, the stale job sweeper.
func (a *App) StartWorker(ctx context.Context, sweep bool) error {
	if err := a.consumer.Start(ctx, a.Events.Handle); err != nil {
		return fmt.Errorf("starting consumer: %w", err)
	}
	if sweep {
		if err := a.Sweeper.Start(ctx, a.cfg.Pipeline.SweepSchedule); err != nil {
			return fmt.Errorf("starting sweeper: %w", err)
		}
	}
	return nil
}

// StopWorker stops the sweeper and waits for in-flight messages.
func (a *App) StopWorker(ctx context.Context) error {
	a.Sweeper.Stop()
	return a.consumer.Stop(ctx)
}

// Close releases every backend connection, in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
