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

package metric

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/CovenantSQL/keydir/storage"
)

// ObserveStorageOp records the duration and outcome of one storage operation.
func ObserveStorageOp(op string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = strings.Replace(storage.KindOf(err).String(), " ", "_", -1)
	}
	storageOps.WithLabelValues(op, result).Observe(d.Seconds())
}

// PoolGauges is a snapshot of a connection pool.
type PoolGauges struct {
	Max      int
	Total    int
	Acquired int
	Idle     int
}

// poolStatsMetrics provide description, value, and value type for pool metrics.
type poolStatsMetrics []struct {
	desc    *prometheus.Desc
	eval    func(PoolGauges) float64
	valType prometheus.ValueType
}

// PoolCollector exports the gauges of one connection pool at scrape time.
type PoolCollector struct {
	snapshot func() PoolGauges
	metrics  poolStatsMetrics
}

func poolDesc(name, help, backend string) *prometheus.Desc {
	return prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "pool", name),
		help,
		nil,
		prometheus.Labels{"backend": backend},
	)
}

// NewPoolCollector returns a collector reading snapshot on every scrape.
func NewPoolCollector(backend string, snapshot func() PoolGauges) *PoolCollector {
	return &PoolCollector{
		snapshot: snapshot,
		metrics: poolStatsMetrics{
			{
				desc:    poolDesc("max_conns", "Connection pool size.", backend),
				eval:    func(g PoolGauges) float64 { return float64(g.Max) },
				valType: prometheus.GaugeValue,
			},
			{
				desc:    poolDesc("total_conns", "Open connections.", backend),
				eval:    func(g PoolGauges) float64 { return float64(g.Total) },
				valType: prometheus.GaugeValue,
			},
			{
				desc:    poolDesc("acquired_conns", "Connections checked out.", backend),
				eval:    func(g PoolGauges) float64 { return float64(g.Acquired) },
				valType: prometheus.GaugeValue,
			},
			{
				desc:    poolDesc("idle_conns", "Idle connections.", backend),
				eval:    func(g PoolGauges) float64 { return float64(g.Idle) },
				valType: prometheus.GaugeValue,
			},
		},
	}
}

// Describe returns all descriptions of the collector.
func (pc *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, i := range pc.metrics {
		ch <- i.desc
	}
}

// Collect returns the current state of all metrics of the collector.
func (pc *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	g := pc.snapshot()
	for _, i := range pc.metrics {
		ch <- prometheus.MustNewConstMetric(i.desc, i.valType, i.eval(g))
	}
}
