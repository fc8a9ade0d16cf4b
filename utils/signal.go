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

// Package utils holds process helpers shared by the commands.
package utils

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/CovenantSQL/keydir/utils/log"
)

// WithExitSignal returns a context cancelled on SIGINT or SIGTERM, SIGHUP, SIGTTIN and
// SIGTTOU are ignored. The returned cancel releases the signal handler.
func WithExitSignal(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	signal.Ignore(syscall.SIGHUP, syscall.SIGTTIN, syscall.SIGTTOU)

	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case sig := <-signalCh:
			log.WithField("signal", sig.String()).Info("exit signal received")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		cancel()
		<-done
		signal.Stop(signalCh)
	}
}
