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

// Package lab keeps the local record of lab donation requests in sync with
// the game and issues new requests for the registered players
package lab

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/blinklabs-io/walkrbot/database"
	"github.com/blinklabs-io/walkrbot/database/models"
	"github.com/blinklabs-io/walkrbot/event"
	"github.com/blinklabs-io/walkrbot/walkr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type ReconcilerConfig struct {
	Logger       *slog.Logger
	DB           *database.Database
	EventBus     *event.EventBus
	PromRegistry prometheus.Registerer
}

// Reconciler records donation requests seen in the lab feed
type Reconciler struct {
	config  ReconcilerConfig
	logger  *slog.Logger
	metrics *reconcilerMetrics
}

type reconcilerMetrics struct {
	batches   prometheus.Counter
	snapshots prometheus.Counter
}

func NewReconciler(cfg ReconcilerConfig) (*Reconciler, error) {
	if cfg.DB == nil {
		return nil, errors.New("reconciler: database is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	r := &Reconciler{
		config: cfg,
		logger: cfg.Logger.With("component", "lab"),
	}
	if cfg.PromRegistry != nil {
		promautoFactory := promauto.With(cfg.PromRegistry)
		r.metrics = &reconcilerMetrics{
			batches: promautoFactory.NewCounter(prometheus.CounterOpts{
				Name: "walkrbot_lab_reconcile_batches_total",
				Help: "number of lab feed batches committed",
			}),
			snapshots: promautoFactory.NewCounter(prometheus.CounterOpts{
				Name: "walkrbot_lab_reconcile_snapshots_total",
				Help: "number of distinct progress snapshots seen in the lab feed",
			}),
		}
	}
	return r, nil
}

// Reconcile resolves every donation to its user, planet, request and
// progress rows, creating whatever is missing, in a single transaction.
// Observing the same donation again, in the same batch or a later one,
// resolves to the same rows. The result holds one entry per distinct
// progress row in first-seen order, with Request.LabPlanet.User loaded.
func (r *Reconciler) Reconcile(
	ctx context.Context,
	donations []walkr.Donation,
) ([]models.LabRequestProgress, error) {
	db := r.config.DB
	var ret []models.LabRequestProgress
	txn := database.NewMetadataOnlyTxn(db, true)
	err := txn.Do(func(txn *database.Txn) error {
		seen := make(map[uint]struct{}, len(donations))
		ids := make([]uint, 0, len(donations))
		for _, donation := range donations {
			if err := ctx.Err(); err != nil {
				return err
			}
			progress, err := r.reconcileDonation(donation, txn)
			if err != nil {
				return fmt.Errorf(
					"reconciling donation of user %d: %w",
					donation.UserID,
					err,
				)
			}
			if _, ok := seen[progress.ID]; ok {
				continue
			}
			seen[progress.ID] = struct{}{}
			ids = append(ids, progress.ID)
		}
		progresses, err := db.GetLabRequestProgressesByID(ids, txn)
		if err != nil {
			return fmt.Errorf("loading progress snapshots: %w", err)
		}
		ret = progresses
		return nil
	})
	if err != nil {
		return nil, err
	}
	if r.metrics != nil {
		r.metrics.batches.Inc()
		r.metrics.snapshots.Add(float64(len(ret)))
	}
	r.logger.Debug(
		"reconciled lab feed",
		"donations", len(donations),
		"progresses", len(ret),
	)
	r.publish(ret)
	return ret, nil
}

func (r *Reconciler) reconcileDonation(
	donation walkr.Donation,
	txn *database.Txn,
) (*models.LabRequestProgress, error) {
	db := r.config.DB
	if _, err := db.SetUser(donation.UserID, donation.UserName, txn); err != nil {
		return nil, err
	}
	planet, err := db.GetOrCreateLabPlanet(
		donation.UserID,
		donation.PlanetName,
		donation.Requirements,
		txn,
	)
	if err != nil {
		return nil, err
	}
	request, err := db.GetOrCreateLabRequest(
		planet.ID,
		donation.LastRequestedAt,
		txn,
	)
	if err != nil {
		return nil, err
	}
	return db.GetOrCreateLabRequestProgress(
		request.ID,
		donation.TotalDonation,
		donation.CurrentDonation,
		donation.DonatedCounter,
		txn,
	)
}

func (r *Reconciler) publish(progresses []models.LabRequestProgress) {
	if r.config.EventBus == nil {
		return
	}
	for _, progress := range progresses {
		evt := event.ProgressRecordedEvent{
			ProgressID:      progress.ID,
			LabRequestID:    progress.LabRequestID,
			TotalDonation:   progress.TotalDonation,
			CurrentDonation: progress.CurrentDonation,
		}
		if req := progress.Request; req != nil {
			evt.RequestedAt = req.RequestedAt
			if planet := req.LabPlanet; planet != nil {
				evt.PlanetName = planet.PlanetName
				evt.Requirements = planet.PlanetRequirements
				evt.UserID = planet.UserID
				if planet.User != nil {
					evt.UserName = planet.User.Name
				}
			}
		}
		r.config.EventBus.Publish(
			event.ProgressRecordedEventType,
			event.NewEvent(event.ProgressRecordedEventType, evt),
		)
	}
}
