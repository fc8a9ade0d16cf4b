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

// Package log is the logrus front end shared by every keydir package.
package log

import (
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// Levels, most severe first.
const (
	PanicLevel = logrus.PanicLevel
	FatalLevel = logrus.FatalLevel
	ErrorLevel = logrus.ErrorLevel
	WarnLevel  = logrus.WarnLevel
	InfoLevel  = logrus.InfoLevel
	DebugLevel = logrus.DebugLevel
	// TraceLevel adds the statement text of every storage round trip.
	TraceLevel = logrus.TraceLevel
)

const modulePrefix = "github.com/CovenantSQL/keydir/"

// Redacted replaces the value of a sensitive field.
const Redacted = "[redacted]"

// SensitiveFields are never written out. Raw labels and values identify users, the
// key fields hold root or VRF key material.
var SensitiveFields = map[string]bool{
	"raw_label":     true,
	"raw_value":     true,
	"symmetric_key": true,
	"root_key":      true,
	"vrf_key":       true,
	"seed":          true,
}

// Logger is the logrus logger.
type Logger logrus.Logger

// Fields is a set of structured log fields.
type Fields logrus.Fields

// redactHook masks SensitiveFields on every level.
type redactHook struct{}

func (redactHook) Levels() []logrus.Level { return logrus.AllLevels }

func (redactHook) Fire(entry *logrus.Entry) error {
	for k := range entry.Data {
		if SensitiveFields[k] {
			entry.Data[k] = Redacted
		}
	}
	return nil
}

// callerHook records the calling function of error entries.
type callerHook struct{}

func (callerHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel}
}

func (callerHook) Fire(entry *logrus.Entry) error {
	if c := findCaller(); c != "" {
		entry.Data["caller"] = c
	}
	return nil
}

// findCaller returns the first frame outside logrus and this package.
func findCaller() string {
	pcs := make([]uintptr, 24)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		f, more := frames.Next()
		if !strings.Contains(f.Function, "sirupsen/logrus") && !isWrapperFrame(f.File) {
			name := strings.TrimPrefix(f.Function, modulePrefix)
			return fmt.Sprintf("%s:%d %s", filepath.Base(f.File), f.Line, name)
		}
		if !more {
			return ""
		}
	}
}

func isWrapperFrame(file string) bool {
	return strings.HasSuffix(file, "utils/log/logwrapper.go") || strings.HasSuffix(file, "utils/log/entry.go")
}

func init() {
	logrus.AddHook(redactHook{})
	logrus.AddHook(callerHook{})
}

// StandardLogger returns the process wide logger.
func StandardLogger() *Logger {
	return (*Logger)(logrus.StandardLogger())
}

// SetOutput redirects log output.
func SetOutput(out io.Writer) { logrus.SetOutput(out) }

// SetFormatter replaces the entry formatter.
func SetFormatter(formatter logrus.Formatter) { logrus.SetFormatter(formatter) }

// SetStringFormat switches between "text" and "json" output.
func SetStringFormat(format string) {
	if strings.EqualFold(format, "json") {
		SetFormatter(&logrus.JSONFormatter{})
		return
	}
	SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// SetLevel sets the minimum level written.
func SetLevel(level logrus.Level) { logrus.SetLevel(level) }

// GetLevel returns the minimum level written.
func GetLevel() logrus.Level { return logrus.GetLevel() }

// ParseLevel parses a level name such as "debug".
func ParseLevel(lvl string) (logrus.Level, error) { return logrus.ParseLevel(lvl) }

// SetStringLevel sets the level named lvl, or defaultLevel when lvl does not parse.
func SetStringLevel(lvl string, defaultLevel logrus.Level) {
	level, err := ParseLevel(lvl)
	if err != nil {
		level = defaultLevel
	}
	SetLevel(level)
}

// IsLevelEnabled reports whether entries of level are written.
func IsLevelEnabled(level logrus.Level) bool { return logrus.IsLevelEnabled(level) }

// AddHook installs an extra logrus hook.
func AddHook(hook logrus.Hook) { logrus.AddHook(hook) }
