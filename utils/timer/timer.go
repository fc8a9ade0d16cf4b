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

// Package timer measures the phases of an operator run.
package timer

import (
	"sync"
	"time"

	"github.com/CovenantSQL/keydir/utils/log"
)

type lap struct {
	name string
	at   time.Time
}

// Stopwatch records named laps since its start.
type Stopwatch struct {
	sync.Mutex
	now   func() time.Time
	start time.Time
	laps  []lap
}

// Start returns a running stopwatch.
func Start() *Stopwatch {
	return startAt(time.Now)
}

func startAt(now func() time.Time) *Stopwatch {
	return &Stopwatch{now: now, start: now()}
}

// Lap closes the phase called name and returns its duration.
func (s *Stopwatch) Lap(name string) time.Duration {
	s.Lock()
	defer s.Unlock()
	at := s.now()
	prev := s.start
	if n := len(s.laps); n > 0 {
		prev = s.laps[n-1].at
	}
	s.laps = append(s.laps, lap{name: name, at: at})
	return at.Sub(prev)
}

// Elapsed returns the time since start.
func (s *Stopwatch) Elapsed() time.Duration {
	return s.now().Sub(s.start)
}

// Phases returns every lap duration plus "total" up to the last lap. A repeated lap
// name accumulates.
func (s *Stopwatch) Phases() map[string]time.Duration {
	s.Lock()
	defer s.Unlock()
	m := make(map[string]time.Duration, len(s.laps)+1)
	prev := s.start
	for _, l := range s.laps {
		m[l.name] += l.at.Sub(prev)
		prev = l.at
	}
	if len(s.laps) > 0 {
		m["total"] = prev.Sub(s.start)
	}
	return m
}

// Fields returns Phases as log fields.
func (s *Stopwatch) Fields() log.Fields {
	f := log.Fields{}
	for k, v := range s.Phases() {
		f[k] = v
	}
	return f
}

// Rate returns items per second over d, zero for an empty duration.
func Rate(items int, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(items) / d.Seconds()
}
