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

// Package api serves the read side of a key directory over HTTP.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/CovenantSQL/keydir/epoch"
	"github.com/CovenantSQL/keydir/metric"
	"github.com/CovenantSQL/keydir/storage"
	"github.com/CovenantSQL/keydir/utils/log"
)

const defaultTimeout = 10 * time.Second

// EpochView reports the latest observed epoch.
type EpochView interface {
	Epoch() (uint64, bool)
}

// Predictor predicts the next epoch publish.
type Predictor interface {
	PredictNext(now time.Time) (epoch.Prediction, bool)
}

// PendingChecker tells whether a label still has writes waiting for publish.
type PendingChecker interface {
	IsPending(ctx context.Context, rawLabel []byte) (bool, error)
}

// Config wires a server to its backends. Epochs, Tracker and Pending are optional.
type Config struct {
	ListenAddr string
	Timeout    time.Duration
	DB         storage.Database
	Epochs     EpochView
	Tracker    Predictor
	Pending    PendingChecker
}

// Server is the read side HTTP server.
type Server struct {
	cfg    Config
	router *mux.Router
	server *http.Server
	addr   net.Addr
	now    func() time.Time
}

// NewServer builds the router for cfg.
func NewServer(cfg Config) *Server {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	s := &Server{cfg: cfg, now: time.Now}

	router := mux.NewRouter()
	router.HandleFunc("/", func(rw http.ResponseWriter, r *http.Request) {
		sendResponse(http.StatusOK, true, nil, nil, rw)
	}).Methods("GET")
	router.HandleFunc("/health", s.health).Methods("GET")
	router.Handle("/metrics", metric.Handler()).Methods("GET")
	router.Handle("/debug/metric", metric.DashboardHandler()).Methods("GET")
	router.HandleFunc("/debug/loglevel", s.getLogLevel).Methods("GET")
	router.HandleFunc("/debug/loglevel", s.setLogLevel).Methods("PUT", "POST")

	v1Router := router.PathPrefix("/v1").Subrouter()
	v1Router.HandleFunc("/epoch", s.currentEpoch).Methods("GET")
	v1Router.HandleFunc("/label/{label}/state", s.valueState).Methods("GET")
	v1Router.HandleFunc("/label/{label}/history", s.history).Methods("GET")
	v1Router.HandleFunc("/label/{label}/pending", s.pending).Methods("GET")

	s.router = router
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	s.addr = listener.Addr()
	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.Timeout,
		WriteTimeout: s.cfg.Timeout,
		IdleTimeout:  s.cfg.Timeout,
	}
	log.WithField("addr", s.addr.String()).Info("api: start http server")
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("api: http server serve error")
		}
	}()
	return nil
}

// Addr returns the bound address after Start.
func (s *Server) Addr() string {
	if s.addr == nil {
		return ""
	}
	return s.addr.String()
}

// Stop shuts the server down, waiting for running requests until ctx is done.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	log.Warning("api: shutdown http server")
	return s.server.Shutdown(ctx)
}
