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

package walkr

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type clientMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func (c *Client) initMetrics(reg prometheus.Registerer) {
	promautoFactory := promauto.With(reg)
	c.metrics = &clientMetrics{
		requests: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walkr_api_requests_total",
				Help: "number of Walkr API requests by endpoint and outcome",
			},
			[]string{"endpoint", "code"},
		),
		duration: promautoFactory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "walkr_api_request_duration_seconds",
				Help:    "latency of Walkr API requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
	}
}
