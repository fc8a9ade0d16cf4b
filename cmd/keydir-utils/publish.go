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

package main

import (
	"context"
	"time"

	"github.com/CovenantSQL/keydir/publisher"
	"github.com/CovenantSQL/keydir/queue"
	"github.com/CovenantSQL/keydir/utils/log"
)

// runPublish drains the queue into a value log until an exit signal arrives.
func runPublish(ctx context.Context) error {
	st, cfg, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	p, err := publisher.New(queue.New(st), publisher.NewValueLog(st), publisher.Config{
		Interval:   cfg.Publisher.Interval,
		EpochLimit: cfg.Publisher.EpochLimit,
		OnPublish: func(r publisher.EpochResult, at time.Time) {
			log.WithFields(log.Fields{
				"epoch":   r.Epoch,
				"applied": r.Applied,
				"at":      at.Format(time.RFC3339),
			}).Debug("value log epoch written")
		},
	})
	if err != nil {
		return err
	}
	return p.Run(ctx)
}
