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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type schedulerMetrics struct {
	decisions   *prometheus.CounterVec
	failures    prometheus.Counter
	deactivated prometheus.Counter
	inFlight    prometheus.Gauge
	runDuration prometheus.Histogram
}

func (s *Scheduler) initMetrics(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	s.metrics = &schedulerMetrics{
		decisions: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walkrbot_lab_decisions_total",
				Help: "scheduler decisions by kind",
			},
			[]string{"decision"},
		),
		failures: promautoFactory.NewCounter(prometheus.CounterOpts{
			Name: "walkrbot_lab_check_failures_total",
			Help: "number of token checks that failed transiently",
		}),
		deactivated: promautoFactory.NewCounter(prometheus.CounterOpts{
			Name: "walkrbot_lab_tokens_deactivated_total",
			Help: "number of tokens deactivated after being rejected",
		}),
		inFlight: promautoFactory.NewGauge(prometheus.GaugeOpts{
			Name: "walkrbot_lab_checks_in_flight",
			Help: "number of token checks currently running",
		}),
		runDuration: promautoFactory.NewHistogram(prometheus.HistogramOpts{
			Name:    "walkrbot_lab_run_duration_seconds",
			Help:    "duration of a scheduler run",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (s *Scheduler) recordOutcome(outcome Outcome) {
	if s.metrics == nil {
		return
	}
	if outcome.Err != nil {
		s.metrics.failures.Inc()
		return
	}
	if outcome.Decision != DecisionNone {
		s.metrics.decisions.WithLabelValues(outcome.Decision.String()).Inc()
	}
}
