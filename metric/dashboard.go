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
	"context"
	"expvar"
	"net/http"
	"runtime"
	"sync"
	"time"

	mw "github.com/zserge/metric"
)

const (
	dashEpochs    = "keydir:epochs"
	dashItems     = "keydir:items"
	dashGoroutine = "go:numgoroutine"
	dashAlloc     = "go:alloc"

	mb = 1 << 20
)

var publishOnce sync.Once

func publishDashboard() {
	publishOnce.Do(func() {
		expvar.Publish(dashEpochs, mw.NewCounter("1h1m", "24h1h"))
		expvar.Publish(dashItems, mw.NewCounter("1h1m", "24h1h"))
		expvar.Publish(dashGoroutine, mw.NewGauge("1m1s", "5m5s", "1h1m"))
		expvar.Publish(dashAlloc, mw.NewGauge("1m1s", "5m5s", "1h1m"))
	})
}

func dashboardAdd(name string, v float64) {
	publishDashboard()
	if m, ok := expvar.Get(name).(mw.Metric); ok {
		m.Add(v)
	}
}

// DashboardHandler serves the /debug/metrics page of the expvar time series.
func DashboardHandler() http.Handler {
	publishDashboard()
	return mw.Handler(mw.Exposed)
}

// SampleRuntime feeds the runtime gauges of the dashboard until ctx is done.
func SampleRuntime(ctx context.Context, every time.Duration) {
	publishDashboard()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		m := &runtime.MemStats{}
		runtime.ReadMemStats(m)
		dashboardAdd(dashGoroutine, float64(runtime.NumGoroutine()))
		dashboardAdd(dashAlloc, float64(m.Alloc)/mb)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
