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

package log

import (
	"github.com/sirupsen/logrus"
)

// Entry is a log entry carrying fields.
type Entry logrus.Entry

func std() *logrus.Entry { return logrus.NewEntry(logrus.StandardLogger()) }

func (entry *Entry) raw() *logrus.Entry { return (*logrus.Entry)(entry) }

// WithError returns a copy of entry with err attached.
func (entry *Entry) WithError(err error) *Entry { return (*Entry)(entry.raw().WithError(err)) }

// WithField returns a copy of entry with one more field.
func (entry *Entry) WithField(key string, value interface{}) *Entry {
	return (*Entry)(entry.raw().WithField(key, value))
}

// WithFields returns a copy of entry with fields added.
func (entry *Entry) WithFields(fields Fields) *Entry {
	return (*Entry)(entry.raw().WithFields(logrus.Fields(fields)))
}

func (entry *Entry) Trace(args ...interface{})   { entry.raw().Trace(args...) }
func (entry *Entry) Debug(args ...interface{})   { entry.raw().Debug(args...) }
func (entry *Entry) Info(args ...interface{})    { entry.raw().Info(args...) }
func (entry *Entry) Warning(args ...interface{}) { entry.raw().Warning(args...) }
func (entry *Entry) Error(args ...interface{})   { entry.raw().Error(args...) }
func (entry *Entry) Fatal(args ...interface{})   { entry.raw().Fatal(args...) }

func (entry *Entry) Debugf(format string, args ...interface{})   { entry.raw().Debugf(format, args...) }
func (entry *Entry) Infof(format string, args ...interface{})    { entry.raw().Infof(format, args...) }
func (entry *Entry) Warningf(format string, args ...interface{}) { entry.raw().Warningf(format, args...) }
func (entry *Entry) Errorf(format string, args ...interface{})   { entry.raw().Errorf(format, args...) }
func (entry *Entry) Fatalf(format string, args ...interface{})   { entry.raw().Fatalf(format, args...) }

// WithError starts an entry carrying err.
func WithError(err error) *Entry { return (*Entry)(std().WithError(err)) }

// WithField starts an entry carrying one field.
func WithField(key string, value interface{}) *Entry { return (*Entry)(std().WithField(key, value)) }

// WithFields starts an entry carrying fields.
func WithFields(fields Fields) *Entry { return (*Entry)(std().WithFields(logrus.Fields(fields))) }

func Trace(args ...interface{})   { logrus.Trace(args...) }
func Debug(args ...interface{})   { logrus.Debug(args...) }
func Info(args ...interface{})    { logrus.Info(args...) }
func Warning(args ...interface{}) { logrus.Warning(args...) }
func Error(args ...interface{})   { logrus.Error(args...) }
func Fatal(args ...interface{})   { logrus.Fatal(args...) }

func Debugf(format string, args ...interface{})   { logrus.Debugf(format, args...) }
func Infof(format string, args ...interface{})    { logrus.Infof(format, args...) }
func Warningf(format string, args ...interface{}) { logrus.Warningf(format, args...) }
func Errorf(format string, args ...interface{})   { logrus.Errorf(format, args...) }
func Fatalf(format string, args ...interface{})   { logrus.Fatalf(format, args...) }
