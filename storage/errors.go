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

package storage

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a storage failure so callers can decide whether to retry.
type Kind int

const (
	// KindOther is a logical failure: bad statement, constraint violation, bad input.
	KindOther Kind = iota
	// KindNotFound means the requested key is absent.
	KindNotFound
	// KindConnection is a pool or driver level failure, retryable by the caller.
	KindConnection
	// KindTransaction is a begin or commit failure.
	KindTransaction
	// KindRollback means a failed batch could not be rolled back either.
	KindRollback
	// KindCorrupt means a stored row could not be decoded.
	KindCorrupt
)

func (k Kind) String() string {
	switch k {
	case KindOther:
		return "other"
	case KindNotFound:
		return "not found"
	case KindConnection:
		return "connection"
	case KindTransaction:
		return "transaction"
	case KindRollback:
		return "rollback"
	case KindCorrupt:
		return "corrupt record"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

var (
	// ErrNotFound is the cause of every KindNotFound error.
	ErrNotFound = errors.New("record not found")
	// ErrBatchUnsupported is returned when a batch read names the tree root singleton.
	ErrBatchUnsupported = errors.New("batch get is not supported for the tree root")
	// ErrCorruptRecord is the cause of decode failures.
	ErrCorruptRecord = errors.New("corrupt record")
)

// Error is the typed error returned by every storage operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
	// Rollback is the rollback failure when Kind is KindRollback, Err then holds the
	// failure that triggered the rollback.
	Rollback error
}

func (e *Error) Error() string {
	if e.Kind == KindRollback {
		return fmt.Sprintf("storage %s: %v (rollback failed: %v)", e.Op, e.Err, e.Rollback)
	}
	return fmt.Sprintf("storage %s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying failure.
func (e *Error) Unwrap() error { return e.Err }

// Cause implements the pkg/errors causer.
func (e *Error) Cause() error { return e.Err }

// Wrap returns err classified as kind. An err that is already a storage error keeps
// its own kind, only the operation name is prefixed.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return &Error{Kind: se.Kind, Op: op + ": " + se.Op, Err: se.Err, Rollback: se.Rollback}
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// NotFound returns a KindNotFound error for op.
func NotFound(op string) error {
	return &Error{Kind: KindNotFound, Op: op, Err: ErrNotFound}
}

// Corrupt returns a KindCorrupt error describing the decode failure.
func Corrupt(op string, format string, args ...interface{}) error {
	return &Error{Kind: KindCorrupt, Op: op, Err: errors.WithMessagef(ErrCorruptRecord, format, args...)}
}

// RollbackFailed reports a batch failure whose rollback failed as well.
func RollbackFailed(op string, cause, rollback error) error {
	return &Error{Kind: KindRollback, Op: op, Err: cause, Rollback: rollback}
}

// KindOf returns the kind of err, KindOther for errors from outside this package.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindOther
}

// IsNotFound reports whether err means an absent key.
func IsNotFound(err error) bool {
	return err != nil && KindOf(err) == KindNotFound
}

// IsRetryable reports whether the caller may retry the failed operation.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindConnection, KindTransaction:
		return err != nil
	default:
		return false
	}
}
