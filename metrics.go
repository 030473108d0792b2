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

package walkrbot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	passResultOK      = "ok"
	passResultError   = "error"
	passResultSkipped = "skipped"
)

type botMetrics struct {
	passes       *prometheus.CounterVec
	passDuration prometheus.Histogram
	lastPass     prometheus.Gauge
	reports      *prometheus.CounterVec
}

func (b *Bot) initMetrics() {
	promautoFactory := promauto.With(b.config.promRegistry)
	b.metrics = &botMetrics{
		passes: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walkrbot_passes_total",
				Help: "number of passes by result",
			},
			[]string{"result"},
		),
		passDuration: promautoFactory.NewHistogram(prometheus.HistogramOpts{
			Name:    "walkrbot_pass_duration_seconds",
			Help:    "duration of a full reconciliation and scheduling pass",
			Buckets: prometheus.DefBuckets,
		}),
		lastPass: promautoFactory.NewGauge(prometheus.GaugeOpts{
			Name: "walkrbot_last_pass_timestamp_seconds",
			Help: "unix time the last pass finished",
		}),
		reports: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walkrbot_reports_total",
				Help: "number of reports built by kind",
			},
			[]string{"kind"},
		),
	}
}

func (b *Bot) recordPass(result string, pass *PassResult) {
	if b.metrics == nil {
		return
	}
	b.metrics.passes.WithLabelValues(result).Inc()
	if pass == nil {
		return
	}
	b.metrics.passDuration.Observe(pass.Duration.Seconds())
	b.metrics.lastPass.Set(float64(pass.StartedAt.Add(pass.Duration).Unix()))
}

func (b *Bot) recordReport(kind string) {
	if b.metrics == nil {
		return
	}
	b.metrics.reports.WithLabelValues(kind).Inc()
}
