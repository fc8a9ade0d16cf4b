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
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pkg/errors"

	"github.com/CovenantSQL/keydir/storage"
	"github.com/CovenantSQL/keydir/utils/log"
)

var (
	// ErrBadLabel is returned for a label that is not hex encoded.
	ErrBadLabel = errors.New("label must be hex encoded")
	// ErrBadSelector is returned for conflicting or malformed selector parameters.
	ErrBadSelector = errors.New("invalid value state selector")
	// ErrNoEpoch is returned before the first epoch is observed.
	ErrNoEpoch = errors.New("no epoch observed yet")
)

// StatusFor maps err to the HTTP status and the message shown to the client. Storage
// failures never expose driver text.
func StatusFor(err error) (code int, msg string) {
	switch {
	case err == nil:
		return http.StatusOK, "ok"
	case errors.Cause(err) == ErrBadLabel, errors.Cause(err) == ErrBadSelector:
		return http.StatusBadRequest, errors.Cause(err).Error()
	case errors.Cause(err) == ErrNoEpoch:
		return http.StatusNotFound, ErrNoEpoch.Error()
	case storage.IsNotFound(err):
		return http.StatusNotFound, "not found"
	case storage.IsRetryable(err):
		return http.StatusServiceUnavailable, "storage unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func sendResponse(code int, success bool, msg interface{}, data interface{}, rw http.ResponseWriter) {
	msgStr := "ok"
	if msg != nil {
		msgStr = fmt.Sprint(msg)
	}
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)
	_ = json.NewEncoder(rw).Encode(map[string]interface{}{
		"status":  msgStr,
		"success": success,
		"data":    data,
	})
}

func sendError(err error, rw http.ResponseWriter, r *http.Request) {
	code, msg := StatusFor(err)
	if code >= http.StatusInternalServerError {
		log.WithError(err).WithField("path", r.URL.Path).Warning("api request failed")
	}
	sendResponse(code, false, msg, nil, rw)
}
