// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package walkrbot ties the game API client, the local record of lab
// requests and the request scheduler together into the surface a chat
// front-end talks to
package walkrbot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/blinklabs-io/walkrbot/database"
	"github.com/blinklabs-io/walkrbot/database/models"
	"github.com/blinklabs-io/walkrbot/event"
	"github.com/blinklabs-io/walkrbot/event/kafka"
	"github.com/blinklabs-io/walkrbot/fleet"
	"github.com/blinklabs-io/walkrbot/internal/lock"
	"github.com/blinklabs-io/walkrbot/lab"
	"github.com/blinklabs-io/walkrbot/walkr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// NotInEpicMessage is the fleet report while the fleet has no epic
const NotInEpicMessage = "Not in an epic right now"

const passLockName = "pass"

// ErrPassInProgress is returned by RunPass when another pass holds the pass
// lock
var ErrPassInProgress = errors.New("another pass is in progress")

// PassResult summarizes one reconciliation and scheduling pass
type PassResult struct {
	StartedAt  time.Time
	Progresses []models.LabRequestProgress
	Schedule   lab.Result
	Duration   time.Duration
}

func (r *PassResult) String() string {
	return fmt.Sprintf(
		"observed %d lab requests, requested %d, funded %d, cooling down %d, deactivated %d, failed %d",
		len(r.Progresses),
		r.Schedule.Requested,
		r.Schedule.Funded,
		r.Schedule.Cooldown,
		r.Schedule.Deactivated,
		r.Schedule.Failed,
	)
}

type Bot struct {
	db            *database.Database
	client        *walkr.Client
	catalog       fleet.Catalog
	eventBus      *event.EventBus
	kafkaSink     *kafka.Sink
	reconciler    *lab.Reconciler
	scheduler     *lab.Scheduler
	locker        lock.Locker
	tracer        trace.Tracer
	logger        *slog.Logger
	metrics       *botMetrics
	shutdownFuncs []func(context.Context) error
	config        Config
	shutdownOnce  sync.Once
}

func New(cfg Config) (*Bot, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.passLockTTL <= 0 {
		cfg.passLockTTL = DefaultPassLockTTL
	}
	if cfg.shutdownTimeout <= 0 {
		cfg.shutdownTimeout = DefaultShutdownTimeout
	}
	b := &Bot{
		config:   cfg,
		logger:   cfg.logger.With("component", "bot"),
		eventBus: event.NewEventBus(cfg.promRegistry, cfg.logger),
		catalog:  cfg.catalog,
	}
	if b.catalog == nil {
		b.catalog = fleet.DefaultCatalog()
	}
	if cfg.promRegistry != nil {
		b.initMetrics()
	}
	if err := b.init(); err != nil {
		if stopErr := b.Stop(); stopErr != nil {
			err = errors.Join(err, stopErr)
		}
		return nil, err
	}
	return b, nil
}

func (b *Bot) init() error {
	// Configure tracing
	if b.config.tracing {
		if err := b.setupTracing(); err != nil {
			return err
		}
	}
	b.tracer = otel.Tracer(tracerName)
	// Load database
	b.db = b.config.db
	if b.db == nil {
		db, err := database.New(&database.Config{
			Logger:           b.config.logger,
			DataDir:          b.config.dataDir,
			MetadataPlugin:   b.config.metadataPlugin,
			BlobPlugin:       b.config.blobPlugin,
			ArchiveRetention: b.config.archiveRetention,
		})
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		b.db = db
		b.shutdownFuncs = append(
			b.shutdownFuncs,
			func(context.Context) error { return db.Close() },
		)
	}
	// Game API client
	clientOpts := []walkr.ClientOption{
		walkr.WithDevice(b.config.device()),
		walkr.WithLabID(b.config.labID),
		walkr.WithRateLimit(b.config.rateLimit, b.config.rateBurst),
		walkr.WithLogger(b.config.logger),
		walkr.WithPromRegistry(b.config.promRegistry),
		walkr.WithHTTPClient(b.config.httpClient),
	}
	if b.db.ArchiveEnabled() {
		clientOpts = append(clientOpts, walkr.WithResponseHook(b.archive))
	}
	b.client = walkr.NewClient(b.config.baseURL, clientOpts...)
	// Event export
	if b.config.kafkaTopic != "" && len(b.config.kafkaBrokers) > 0 {
		sink, err := kafka.New(kafka.Config{
			Logger:  b.config.logger,
			Topic:   b.config.kafkaTopic,
			Brokers: b.config.kafkaBrokers,
		})
		if err != nil {
			return fmt.Errorf("creating kafka sink: %w", err)
		}
		sink.Register(b.eventBus)
		b.kafkaSink = sink
	}
	// Lab tracking
	reconciler, err := lab.NewReconciler(lab.ReconcilerConfig{
		Logger:       b.config.logger,
		DB:           b.db,
		EventBus:     b.eventBus,
		PromRegistry: b.config.promRegistry,
	})
	if err != nil {
		return err
	}
	b.reconciler = reconciler
	scheduler, err := lab.NewScheduler(lab.SchedulerConfig{
		Logger:       b.config.logger,
		DB:           b.db,
		Client:       b.client,
		EventBus:     b.eventBus,
		PromRegistry: b.config.promRegistry,
		Cooldown:     b.config.cooldown,
		CallTimeout:  b.config.callTimeout,
		Concurrency:  b.config.concurrency,
	})
	if err != nil {
		return err
	}
	b.scheduler = scheduler
	// Pass lock
	b.locker = b.config.locker
	if b.locker == nil {
		locker, err := lock.New(b.config.lockConfig)
		if err != nil {
			return fmt.Errorf("creating pass locker: %w", err)
		}
		b.locker = locker
		b.shutdownFuncs = append(
			b.shutdownFuncs,
			func(context.Context) error { return locker.Close() },
		)
	}
	return nil
}

// archive keeps a copy of every raw API answer
func (b *Bot) archive(kind string, body []byte) {
	if err := b.db.ArchivePayload(kind, b.config.now(), body, nil); err != nil {
		b.logger.Warn(
			"failed to archive payload",
			"kind", kind,
			"error", err,
		)
	}
}

// EventBus returns the bus the bot publishes its events on
func (b *Bot) EventBus() *event.EventBus {
	return b.eventBus
}

// FleetReport describes the progress of the fleet toward the target of its
// current epic and the share left to each member
func (b *Bot) FleetReport(ctx context.Context) (string, error) {
	ctx, span := b.tracer.Start(ctx, "FleetReport")
	defer span.End()
	var state *walkr.FleetState
	fetch := func(ctx context.Context, token models.Token) error {
		var err error
		state, err = b.client.FetchFleetState(ctx, token.Value)
		return err
	}
	var err error
	if b.config.reporterUserID != 0 {
		span.SetAttributes(attribute.Int64("reporter.user_id", b.config.reporterUserID))
		var token *models.Token
		token, err = b.db.GetTokenByUser(b.config.reporterUserID, nil)
		if err != nil {
			err = fmt.Errorf("loading reporter token: %w", err)
		} else {
			err = b.scheduler.WithToken(ctx, *token, fetch)
		}
	} else {
		err = b.scheduler.WithActiveToken(ctx, fetch)
	}
	if errors.Is(err, walkr.ErrNotInEpic) {
		b.recordReport("fleet")
		return NotInEpicMessage, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	report, err := fleet.BuildReport(state, b.catalog)
	if errors.Is(err, walkr.ErrNotInEpic) {
		b.recordReport("fleet")
		return NotInEpicMessage, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(
		attribute.Int64("epic.id", report.EpicID),
		attribute.Int("fleet.members", len(report.Shares)),
	)
	b.recordReport("fleet")
	return report.String(), nil
}

// LabReport refreshes the local record from the lab feed and lists the open
// requests. The flag reports whether the bot could make a request for
// somebody.
func (b *Bot) LabReport(ctx context.Context) (string, bool, error) {
	ctx, span := b.tracer.Start(ctx, "LabReport")
	defer span.End()
	if _, err := b.refreshLab(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", false, err
	}
	report, err := lab.BuildReport(b.db, b.config.now(), b.scheduler.Cooldown())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", false, err
	}
	span.SetAttributes(
		attribute.Int("lab.open_requests", len(report.Requests)),
		attribute.Bool("lab.issuable", report.Issuable()),
	)
	b.recordReport("lab")
	return report.String(), report.Issuable(), nil
}

// refreshLab reads the lab feed with the first token the game API accepts
// and records what it shows
func (b *Bot) refreshLab(ctx context.Context) ([]models.LabRequestProgress, error) {
	ctx, span := b.tracer.Start(ctx, "refreshLab")
	defer span.End()
	var donations []walkr.Donation
	err := b.scheduler.WithActiveToken(
		ctx,
		func(ctx context.Context, token models.Token) error {
			var err error
			donations, err = b.client.FetchLabDonations(ctx, token.Value, walkr.DefaultPage)
			return err
		},
	)
	if err != nil {
		return nil, fmt.Errorf("reading lab feed: %w", err)
	}
	span.SetAttributes(attribute.Int("lab.donations", len(donations)))
	progresses, err := b.reconciler.Reconcile(ctx, donations)
	if err != nil {
		return nil, fmt.Errorf("recording lab feed: %w", err)
	}
	return progresses, nil
}

// RunPass records the current lab feed and then makes a donation request
// for every player whose cooldown has passed. The lab feed is committed
// before any token is checked. Failures of single tokens do not stop the
// pass. They are joined into the returned error, which comes with the
// result of the pass.
func (b *Bot) RunPass(ctx context.Context) (*PassResult, error) {
	held, err := b.locker.TryAcquire(ctx, passLockName, b.config.passLockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			b.recordPass(passResultSkipped, nil)
			return nil, ErrPassInProgress
		}
		return nil, fmt.Errorf("acquiring pass lock: %w", err)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(
			context.WithoutCancel(ctx),
			b.config.shutdownTimeout,
		)
		defer cancel()
		if err := held.Release(releaseCtx); err != nil {
			b.logger.Warn("failed to release pass lock", "error", err)
		}
	}()

	ctx, span := b.tracer.Start(ctx, "RunPass")
	defer span.End()
	ret := &PassResult{StartedAt: b.config.now()}
	progresses, err := b.refreshLab(ctx)
	if err == nil {
		ret.Progresses = progresses
		var schedule lab.Result
		schedule, err = b.scheduler.Run(ctx, ret.StartedAt)
		ret.Schedule = schedule
	}
	ret.Duration = b.config.now().Sub(ret.StartedAt)
	span.SetAttributes(
		attribute.Int("pass.progresses", len(ret.Progresses)),
		attribute.Int("pass.requested", ret.Schedule.Requested),
		attribute.Int("pass.deactivated", ret.Schedule.Deactivated),
		attribute.Int("pass.failed", ret.Schedule.Failed),
	)
	b.publishPass(ret, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		b.recordPass(passResultError, ret)
		b.logger.Error(
			"pass failed",
			"error", err,
			"duration", ret.Duration,
		)
		return ret, err
	}
	b.recordPass(passResultOK, ret)
	b.logger.Info(
		"pass complete",
		"progresses", len(ret.Progresses),
		"requested", ret.Schedule.Requested,
		"funded", ret.Schedule.Funded,
		"cooldown", ret.Schedule.Cooldown,
		"deactivated", ret.Schedule.Deactivated,
		"duration", ret.Duration,
	)
	return ret, nil
}

func (b *Bot) publishPass(pass *PassResult, err error) {
	evt := event.PassCompletedEvent{
		StartedAt:   pass.StartedAt,
		Duration:    pass.Duration,
		Progresses:  len(pass.Progresses),
		Requested:   pass.Schedule.Requested,
		Funded:      pass.Schedule.Funded,
		Cooldown:    pass.Schedule.Cooldown,
		Deactivated: pass.Schedule.Deactivated,
		Failed:      pass.Schedule.Failed,
	}
	if err != nil {
		evt.Error = err.Error()
	}
	b.eventBus.Publish(
		event.PassCompletedEventType,
		event.NewEvent(event.PassCompletedEventType, evt),
	)
}

// Run makes a pass right away and then once every poll interval until the
// context is canceled. Pass errors are logged and do not stop the loop.
func (b *Bot) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.config.pollInterval)
	defer ticker.Stop()
	for {
		if _, err := b.RunPass(ctx); err != nil {
			if errors.Is(err, ErrPassInProgress) {
				b.logger.Debug("skipping pass, another one is in progress")
			} else if ctx.Err() == nil {
				b.logger.Warn("pass finished with errors", "error", err)
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RegisterToken checks a token with the game API and stores it for the
// player it belongs to. A token that was deactivated becomes active again.
func (b *Bot) RegisterToken(ctx context.Context, value string) (*models.Token, error) {
	ctx, span := b.tracer.Start(ctx, "RegisterToken")
	defer span.End()
	auth, err := b.client.ExtendToken(ctx, value)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	token, err := b.db.RegisterToken(
		auth.PlayerID,
		auth.Name,
		value,
		auth.TokenExpiredAt.Time,
	)
	if err != nil {
		return nil, fmt.Errorf("storing token: %w", err)
	}
	b.logger.Info(
		"registered token",
		"user_id", auth.PlayerID,
		"user", auth.Name,
		"token", token.Redacted(),
		"expires_at", token.ExpiresAt,
	)
	return token, nil
}

// CreateSchema creates or upgrades the database tables
func (b *Bot) CreateSchema() error {
	return b.db.CreateSchema()
}

func (b *Bot) Stop() error {
	var err error
	b.shutdownOnce.Do(func() {
		err = b.shutdown()
	})
	return err
}

func (b *Bot) shutdown() error {
	ctx, cancel := context.WithTimeout(
		context.Background(),
		b.config.shutdownTimeout,
	)
	defer cancel()

	var err error

	b.logger.Debug("starting graceful shutdown")

	// Phase 1: Stop exporting events
	b.logger.Debug("shutdown phase 1: stopping event export")
	if b.kafkaSink != nil {
		b.kafkaSink.Unregister()
	}
	if b.eventBus != nil {
		b.eventBus.Stop()
	}
	if b.kafkaSink != nil {
		b.kafkaSink.Close()
	}

	// Phase 2: Cleanup resources
	b.logger.Debug("shutdown phase 2: cleanup resources")

	// Call registered shutdown functions in reverse order
	for i := len(b.shutdownFuncs) - 1; i >= 0; i-- {
		if fnErr := b.shutdownFuncs[i](ctx); fnErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown function: %w", fnErr))
		}
	}
	b.shutdownFuncs = nil

	b.logger.Debug("graceful shutdown complete")
	return err
}
