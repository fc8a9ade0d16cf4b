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

package conf

import "time"

// These parameters should be kept consistent between the publisher and its readers.
const (
	// DefaultPublishInterval is the epoch period of the publisher.
	DefaultPublishInterval = 5 * time.Second
	// DefaultPollInterval is how often a reader looks at the tree root.
	DefaultPollInterval = 1 * time.Second
)

// These parameters will not cause inconsistency within certain range.
const (
	// DefaultPoolSize is the database connection pool size.
	DefaultPoolSize = 100
	// DefaultEpochLimit caps the queue items applied in one epoch, 0 means no cap.
	DefaultEpochLimit = 0
	// DefaultCacheTTL is the lifetime of a cached record.
	DefaultCacheTTL = 30 * time.Second
	// DefaultListenAddr is the address of the health and metrics server.
	DefaultListenAddr = "127.0.0.1:4680"
	// DefaultLogLevel is used when the config names none.
	DefaultLogLevel = "info"
)
