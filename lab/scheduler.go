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

package lab

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/blinklabs-io/walkrbot/database"
	"github.com/blinklabs-io/walkrbot/database/models"
	"github.com/blinklabs-io/walkrbot/event"
	"github.com/blinklabs-io/walkrbot/walkr"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultCooldown    = 6 * time.Hour
	DefaultCallTimeout = 15 * time.Second
	DefaultConcurrency = 4
)

// ErrNoActiveToken is returned when every registered token has been
// deactivated
var ErrNoActiveToken = errors.New("no active token")

// ResearchAPI is the part of the game API used to issue donation requests
type ResearchAPI interface {
	FetchResearch(ctx context.Context, token string) (*walkr.Research, error)
	SubmitDonationRequest(ctx context.Context, token string) error
}

type SchedulerConfig struct {
	Logger       *slog.Logger
	DB           *database.Database
	Client       ResearchAPI
	EventBus     *event.EventBus
	PromRegistry prometheus.Registerer
	Cooldown     time.Duration
	CallTimeout  time.Duration
	Concurrency  int
}

// Decision is what the scheduler does about one player's lab request
type Decision int

const (
	DecisionNone Decision = iota
	// DecisionFunded means the request already got everything it needs
	DecisionFunded
	// DecisionCooldown means the last request is too recent to repeat
	DecisionCooldown
	// DecisionRequest means a new request is due
	DecisionRequest
)

func (d Decision) String() string {
	switch d {
	case DecisionFunded:
		return "funded"
	case DecisionCooldown:
		return "cooldown"
	case DecisionRequest:
		return "request"
	default:
		return "none"
	}
}

// Decide returns whether a new donation request is due for a player whose
// current request is research
func Decide(
	research *walkr.Research,
	now time.Time,
	cooldown time.Duration,
) Decision {
	if research.Funded() {
		return DecisionFunded
	}
	if now.Sub(research.LastRequestedAt) >= cooldown {
		return DecisionRequest
	}
	return DecisionCooldown
}

// Outcome is the result of scheduling one token
type Outcome struct {
	Research *walkr.Research
	// Err is a transient failure. The token keeps its state.
	Err         error
	Token       models.Token
	Decision    Decision
	Requested   bool
	Deactivated bool
}

// Result summarizes a scheduler run
type Result struct {
	Outcomes    []Outcome
	Requested   int
	Funded      int
	Cooldown    int
	Deactivated int
	Failed      int
}

// Scheduler issues donation requests for every active token whose request
// is due
type Scheduler struct {
	config  SchedulerConfig
	logger  *slog.Logger
	metrics *schedulerMetrics
}

func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.DB == nil {
		return nil, errors.New("scheduler: database is required")
	}
	if cfg.Client == nil {
		return nil, errors.New("scheduler: client is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	s := &Scheduler{
		config: cfg,
		logger: cfg.Logger.With("component", "lab"),
	}
	if cfg.PromRegistry != nil {
		s.initMetrics(cfg.PromRegistry)
	}
	return s, nil
}

// Cooldown returns the minimum time between two requests of a player
func (s *Scheduler) Cooldown() time.Duration {
	return s.config.Cooldown
}

// Run checks every active token concurrently and submits the requests that
// are due. Rejected tokens are deactivated once all checks are done.
// Transient failures are joined into the returned error and leave the
// token untouched.
func (s *Scheduler) Run(ctx context.Context, now time.Time) (Result, error) {
	start := time.Now()
	tokens, err := s.config.DB.GetActiveTokens(nil)
	if err != nil {
		return Result{}, fmt.Errorf("loading active tokens: %w", err)
	}
	outcomes := make([]Outcome, len(tokens))
	var g errgroup.Group
	g.SetLimit(s.config.Concurrency)
	for i, token := range tokens {
		g.Go(func() error {
			if s.metrics != nil {
				s.metrics.inFlight.Inc()
				defer s.metrics.inFlight.Dec()
			}
			outcomes[i] = s.process(ctx, token, now)
			return nil
		})
	}
	// Workers only report outcomes
	_ = g.Wait()

	result := Result{Outcomes: outcomes}
	var errs []error
	var rejected []models.Token
	for _, outcome := range outcomes {
		switch {
		case outcome.Deactivated:
			rejected = append(rejected, outcome.Token)
			result.Deactivated++
		case outcome.Err != nil:
			errs = append(errs, outcome.Err)
			result.Failed++
		case outcome.Requested:
			result.Requested++
		case outcome.Decision == DecisionFunded:
			result.Funded++
		case outcome.Decision == DecisionCooldown:
			result.Cooldown++
		}
		s.recordOutcome(outcome)
	}
	if err := s.deactivate(rejected, "token rejected by the game API"); err != nil {
		errs = append(errs, err)
	}
	for _, outcome := range outcomes {
		if outcome.Requested {
			s.publishRequested(outcome, now)
		}
	}
	if s.metrics != nil {
		s.metrics.runDuration.Observe(time.Since(start).Seconds())
	}
	s.logger.Info(
		"scheduled lab requests",
		"tokens", len(tokens),
		"requested", result.Requested,
		"funded", result.Funded,
		"cooldown", result.Cooldown,
		"deactivated", result.Deactivated,
		"failed", result.Failed,
	)
	return result, errors.Join(errs...)
}

func (s *Scheduler) process(
	ctx context.Context,
	token models.Token,
	now time.Time,
) Outcome {
	ret := Outcome{Token: token}
	if err := ctx.Err(); err != nil {
		ret.Err = fmt.Errorf("user %d: %w", token.UserID, err)
		return ret
	}
	research, err := s.fetchResearch(ctx, token.Value)
	if err != nil {
		return s.failed(ret, err)
	}
	ret.Research = research
	ret.Decision = Decide(research, now, s.config.Cooldown)
	if ret.Decision != DecisionRequest {
		return ret
	}
	if err := s.submit(ctx, token.Value); err != nil {
		return s.failed(ret, err)
	}
	ret.Requested = true
	s.logger.Info(
		"submitted lab request",
		"user_id", token.UserID,
		"planet", research.PlanetName,
		"last_requested_at", research.LastRequestedAt,
	)
	return ret
}

func (s *Scheduler) fetchResearch(
	ctx context.Context,
	token string,
) (*walkr.Research, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.config.CallTimeout)
	defer cancel()
	return s.config.Client.FetchResearch(callCtx, token)
}

func (s *Scheduler) submit(ctx context.Context, token string) error {
	callCtx, cancel := context.WithTimeout(ctx, s.config.CallTimeout)
	defer cancel()
	return s.config.Client.SubmitDonationRequest(callCtx, token)
}

func (s *Scheduler) failed(ret Outcome, err error) Outcome {
	if errors.Is(err, walkr.ErrInvalidToken) {
		ret.Deactivated = true
		return ret
	}
	ret.Err = fmt.Errorf("user %d: %w", ret.Token.UserID, err)
	s.logger.Warn(
		"lab request check failed",
		"user_id", ret.Token.UserID,
		"error", err,
	)
	return ret
}

// WithActiveToken calls fn with the active tokens, in registration order,
// until the game API accepts one. Tokens it rejects are deactivated on the
// way. ErrNoActiveToken is returned when none is left.
func (s *Scheduler) WithActiveToken(
	ctx context.Context,
	fn func(ctx context.Context, token models.Token) error,
) error {
	tokens, err := s.config.DB.GetActiveTokens(nil)
	if err != nil {
		return fmt.Errorf("loading active tokens: %w", err)
	}
	for _, token := range tokens {
		err := s.call(ctx, token, fn)
		if !errors.Is(err, walkr.ErrInvalidToken) {
			return err
		}
		if err := s.deactivate(
			[]models.Token{token},
			"token rejected by the game API",
		); err != nil {
			return err
		}
	}
	return ErrNoActiveToken
}

// WithToken calls fn with one specific token under the call timeout. The
// token is deactivated if the game API rejects it.
func (s *Scheduler) WithToken(
	ctx context.Context,
	token models.Token,
	fn func(ctx context.Context, token models.Token) error,
) error {
	if !token.Active {
		return ErrNoActiveToken
	}
	err := s.call(ctx, token, fn)
	if errors.Is(err, walkr.ErrInvalidToken) {
		if deactivateErr := s.deactivate(
			[]models.Token{token},
			"token rejected by the game API",
		); deactivateErr != nil {
			return errors.Join(err, deactivateErr)
		}
	}
	return err
}

func (s *Scheduler) call(
	ctx context.Context,
	token models.Token,
	fn func(ctx context.Context, token models.Token) error,
) error {
	callCtx, cancel := context.WithTimeout(ctx, s.config.CallTimeout)
	defer cancel()
	return fn(callCtx, token)
}

// Deactivate marks a token inactive, for use when a caller outside a run
// got it rejected
func (s *Scheduler) Deactivate(token models.Token, reason string) error {
	return s.deactivate([]models.Token{token}, reason)
}

// deactivate is the only place tokens are written during a pass
func (s *Scheduler) deactivate(tokens []models.Token, reason string) error {
	if len(tokens) == 0 {
		return nil
	}
	db := s.config.DB
	txn := database.NewMetadataOnlyTxn(db, true)
	err := txn.Do(func(txn *database.Txn) error {
		for _, token := range tokens {
			if err := db.DeactivateToken(token.ID, txn); err != nil {
				return fmt.Errorf("deactivating token %d: %w", token.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, token := range tokens {
		userName := ""
		if token.User != nil {
			userName = token.User.Name
		}
		s.logger.Warn(
			"deactivated token",
			"user_id", token.UserID,
			"user", userName,
			"token", token.Redacted(),
			"reason", reason,
		)
		if s.metrics != nil {
			s.metrics.deactivated.Inc()
		}
		if s.config.EventBus != nil {
			s.config.EventBus.Publish(
				event.TokenDeactivatedEventType,
				event.NewEvent(
					event.TokenDeactivatedEventType,
					event.TokenDeactivatedEvent{
						TokenID:  token.ID,
						UserID:   token.UserID,
						UserName: userName,
						Reason:   reason,
					},
				),
			)
		}
	}
	return nil
}

func (s *Scheduler) publishRequested(outcome Outcome, now time.Time) {
	if s.config.EventBus == nil {
		return
	}
	evt := event.DonationRequestedEvent{
		RequestedAt: now,
		UserID:      outcome.Token.UserID,
	}
	if outcome.Token.User != nil {
		evt.UserName = outcome.Token.User.Name
	}
	if outcome.Research != nil {
		evt.PlanetName = outcome.Research.PlanetName
	}
	s.config.EventBus.Publish(
		event.DonationRequestedEventType,
		event.NewEvent(event.DonationRequestedEventType, evt),
	)
}
