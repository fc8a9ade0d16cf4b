/*
 * Copyright 2019 The CovenantSQL Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package metric holds the prometheus collectors of the key directory services.
package metric

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "keydir"

// Registry is the registry every keydir collector is registered on.
var Registry = prometheus.NewRegistry()

var (
	epochsPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "publisher",
		Name:      "epochs_published_total",
		Help:      "Epochs published by this process.",
	})
	itemsApplied = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "publisher",
		Name:      "items_applied_total",
		Help:      "Queued label/value writes applied to the tree.",
	})
	cycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "publisher",
		Name:      "cycle_duration_seconds",
		Help:      "Duration of publisher cycles that applied a batch.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
	})
	cycleState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "publisher",
		Name:      "state",
		Help:      "Current publisher state, 1 for the active one.",
	}, []string{"state"})

	observedEpoch = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "poller",
		Name:      "observed_epoch",
		Help:      "Latest tree epoch observed by the root poller.",
	})
	pollErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "poller",
		Name:      "errors_total",
		Help:      "Failed root polls.",
	})

	storageOps = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "storage",
		Name:      "operation_duration_seconds",
		Help:      "Duration of storage operations by outcome.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op", "result"})
)

// PublisherStates lists every publisher state exported by the state gauge.
var PublisherStates = []string{"idle", "draining", "applying", "cleaning", "shutting_down"}

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		epochsPublished, itemsApplied, cycleDuration, cycleState,
		observedEpoch, pollErrors, storageOps,
	)
}

// Handler serves the registry in the prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetPublisherState marks state as the active publisher state.
func SetPublisherState(state string) {
	for _, s := range PublisherStates {
		if s == state {
			cycleState.WithLabelValues(s).Set(1)
		} else {
			cycleState.WithLabelValues(s).Set(0)
		}
	}
}

// EpochPublished records one cycle that applied items.
func EpochPublished(items int, d time.Duration) {
	epochsPublished.Inc()
	itemsApplied.Add(float64(items))
	cycleDuration.Observe(d.Seconds())
	dashboardAdd(dashEpochs, 1)
	dashboardAdd(dashItems, float64(items))
}

// EpochObserved records the epoch seen by the root poller.
func EpochObserved(epoch uint64) {
	observedEpoch.Set(float64(epoch))
}

// PollFailed counts a failed root poll.
func PollFailed() {
	pollErrors.Inc()
}
