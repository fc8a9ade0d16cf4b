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

// Package epoch predicts the next epoch publish on the read side.
package epoch

import (
	"sync"
	"time"
)

// Prediction is the expected time of the next publish.
type Prediction struct {
	Remaining time.Duration
	At        time.Time
}

// Tracker remembers the last observed publish.
type Tracker struct {
	sync.RWMutex
	expected    time.Duration
	lastPublish time.Time
	recorded    bool
}

// NewTracker returns a tracker for epochs of the expected duration.
func NewTracker(expected time.Duration) *Tracker {
	return &Tracker{expected: expected}
}

// RecordPublish sets the last publish time, the latest call wins.
func (t *Tracker) RecordPublish(at time.Time) {
	t.Lock()
	defer t.Unlock()
	t.lastPublish = at
	t.recorded = true
}

// LastPublish returns the recorded publish time.
func (t *Tracker) LastPublish() (at time.Time, ok bool) {
	t.RLock()
	defer t.RUnlock()
	return t.lastPublish, t.recorded
}

// PredictNext returns the next publish expected after now. Missed epochs are skipped,
// the prediction always falls within one expected duration of now. It reports false
// until a publish is recorded.
func (t *Tracker) PredictNext(now time.Time) (p Prediction, ok bool) {
	t.RLock()
	defer t.RUnlock()
	if !t.recorded || t.expected <= 0 {
		return
	}
	elapsed := now.Sub(t.lastPublish)
	if elapsed < 0 {
		elapsed = 0
	}
	p.Remaining = t.expected - elapsed%t.expected
	p.At = now.Add(p.Remaining)
	return p, true
}
