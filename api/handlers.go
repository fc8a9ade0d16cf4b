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

package api

import (
	"context"
	"encoding/hex"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/CovenantSQL/keydir/storage"
	"github.com/CovenantSQL/keydir/types"
	"github.com/CovenantSQL/keydir/utils/log"
)

type valueStateView struct {
	RawLabel string `json:"raw_label"`
	Epoch    uint64 `json:"epoch"`
	Version  uint64 `json:"version"`
	Label    string `json:"label"`
	Value    []byte `json:"value"`
}

func newValueStateView(v *types.ValueState) valueStateView {
	return valueStateView{
		RawLabel: hex.EncodeToString(v.RawLabel),
		Epoch:    v.Epoch,
		Version:  v.Version,
		Label:    v.Label.String(),
		Value:    v.Value,
	}
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.cfg.Timeout)
}

func rawLabel(r *http.Request) ([]byte, error) {
	raw, err := hex.DecodeString(mux.Vars(r)["label"])
	if err != nil || len(raw) == 0 {
		return nil, ErrBadLabel
	}
	return raw, nil
}

// parseSelector reads at most one of epoch, version, at_or_before and earliest. No
// parameter selects the most recent state.
func parseSelector(q url.Values) (sel types.Selector, err error) {
	var set int
	sel = types.MostRecent()
	for _, p := range []struct {
		name string
		make func(uint64) types.Selector
	}{
		{"epoch", types.Exact},
		{"version", types.Version},
		{"at_or_before", types.AtOrBefore},
	} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, perr := strconv.ParseUint(v, 10, 64)
		if perr != nil {
			return sel, errors.WithMessagef(ErrBadSelector, "%s: %v", p.name, perr)
		}
		sel = p.make(n)
		set++
	}
	if v := q.Get("earliest"); v != "" {
		if on, perr := strconv.ParseBool(v); perr != nil {
			return sel, errors.WithMessagef(ErrBadSelector, "earliest: %v", perr)
		} else if on {
			sel = types.Earliest()
			set++
		}
	}
	if set > 1 {
		return sel, errors.WithMessage(ErrBadSelector, "at most one selector is allowed")
	}
	return sel, nil
}

func (s *Server) health(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()
	if _, err := s.cfg.DB.Get(ctx, types.RootKey{}); err != nil && !storage.IsNotFound(err) {
		sendError(err, rw, r)
		return
	}
	data := map[string]interface{}{}
	if s.cfg.Epochs != nil {
		e, ok := s.cfg.Epochs.Epoch()
		data["epoch"] = e
		data["observed"] = ok
	}
	sendResponse(http.StatusOK, true, nil, data, rw)
}

func (s *Server) getLogLevel(rw http.ResponseWriter, r *http.Request) {
	sendResponse(http.StatusOK, true, nil, map[string]interface{}{
		"level": log.GetLevel().String(),
	}, rw)
}

func (s *Server) setLogLevel(rw http.ResponseWriter, r *http.Request) {
	lvl, err := log.ParseLevel(r.FormValue("level"))
	if err != nil {
		sendResponse(http.StatusBadRequest, false, err, nil, rw)
		return
	}
	log.SetLevel(lvl)
	log.WithField("level", lvl.String()).Info("log level changed")
	sendResponse(http.StatusOK, true, nil, map[string]interface{}{
		"level": lvl.String(),
	}, rw)
}

func (s *Server) currentEpoch(rw http.ResponseWriter, r *http.Request) {
	if s.cfg.Epochs == nil {
		sendError(ErrNoEpoch, rw, r)
		return
	}
	e, ok := s.cfg.Epochs.Epoch()
	if !ok {
		sendError(ErrNoEpoch, rw, r)
		return
	}
	data := map[string]interface{}{"epoch": e}
	if s.cfg.Tracker != nil {
		if p, ok := s.cfg.Tracker.PredictNext(s.now()); ok {
			data["next_publish"] = p.At
			data["remaining_ms"] = p.Remaining.Milliseconds()
		}
	}
	sendResponse(http.StatusOK, true, nil, data, rw)
}

func (s *Server) valueState(rw http.ResponseWriter, r *http.Request) {
	label, err := rawLabel(r)
	if err != nil {
		sendError(err, rw, r)
		return
	}
	sel, err := parseSelector(r.URL.Query())
	if err != nil {
		sendError(err, rw, r)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()
	state, err := s.cfg.DB.GetState(ctx, label, sel)
	if err != nil {
		sendError(err, rw, r)
		return
	}
	sendResponse(http.StatusOK, true, nil, newValueStateView(state), rw)
}

func (s *Server) history(rw http.ResponseWriter, r *http.Request) {
	label, err := rawLabel(r)
	if err != nil {
		sendError(err, rw, r)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()
	states, err := s.cfg.DB.GetAllStates(ctx, label)
	if err != nil {
		sendError(err, rw, r)
		return
	}
	if len(states) == 0 {
		sendError(storage.NotFound("history"), rw, r)
		return
	}
	views := make([]valueStateView, len(states))
	for i, st := range states {
		views[i] = newValueStateView(st)
	}
	sendResponse(http.StatusOK, true, nil, views, rw)
}

func (s *Server) pending(rw http.ResponseWriter, r *http.Request) {
	label, err := rawLabel(r)
	if err != nil {
		sendError(err, rw, r)
		return
	}
	if s.cfg.Pending == nil {
		sendResponse(http.StatusNotImplemented, false, "publish queue not configured", nil, rw)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()
	pending, err := s.cfg.Pending.IsPending(ctx, label)
	if err != nil {
		sendError(err, rw, r)
		return
	}
	sendResponse(http.StatusOK, true, nil, map[string]interface{}{"pending": pending}, rw)
}
