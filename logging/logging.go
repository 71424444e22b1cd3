// Copyright 2025 Relay Labs, Inc.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logging defines the logging contract used throughout the SDK.
//
// The SDK never writes to a process-global logger. Every component that logs
// accepts a Logger through its options and defaults to Nop, so a client that
// configures nothing stays silent. Applications plug in their own backend by
// implementing Logger or by wrapping an existing zap logger with NewZapLogger.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents the severity of a log entry.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	// LevelOff disables all output.
	LevelOff
)

// String returns the upper-case name of the level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelOff:
		return "OFF"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// ParseLevel converts a level name to a Level. Names are matched
// case-insensitively; "warning" is accepted as an alias for "warn".
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	case "off", "none":
		return LevelOff, nil
	default:
		return LevelOff, fmt.Errorf("logging: unknown level %q", s)
	}
}

// Logger receives structured events from the SDK.
//
// Implementations must be safe for concurrent use. Enabled lets callers skip
// building the field map when the backend would drop the entry anyway.
type Logger interface {
	Enabled(level Level) bool
	Log(level Level, msg string, fields map[string]any)
}

// Nop returns a Logger that discards everything.
func Nop() Logger { return nopLogger{} }

type nopLogger struct{}

func (nopLogger) Enabled(Level) bool                { return false }
func (nopLogger) Log(Level, string, map[string]any) {}

// FromEnv builds a Logger from the RELAY_LOG_LEVEL environment variable.
// An unset or unparsable value yields Nop; otherwise entries at or above the
// configured level are written to stderr as JSON.
func FromEnv() Logger {
	raw := os.Getenv("RELAY_LOG_LEVEL")
	if raw == "" {
		return Nop()
	}
	level, err := ParseLevel(raw)
	if err != nil || level == LevelOff {
		return Nop()
	}
	return NewJSONLogger(os.Stderr, level)
}

// entry is the wire shape produced by the JSON logger.
type entry struct {
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

type jsonLogger struct {
	mu  sync.Mutex
	w   io.Writer
	min Level
}

// NewJSONLogger returns a Logger that writes one JSON object per entry to w,
// dropping entries below min. Writes are serialized with a mutex so the
// logger can be shared across goroutines.
func NewJSONLogger(w io.Writer, min Level) Logger {
	return &jsonLogger{w: w, min: min}
}

func (l *jsonLogger) Enabled(level Level) bool {
	return level >= l.min && l.min != LevelOff
}

func (l *jsonLogger) Log(level Level, msg string, fields map[string]any) {
	if !l.Enabled(level) {
		return
	}
	e := entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level.String(),
		Message:   msg,
		Fields:    fields,
	}
	raw, err := json.Marshal(e)
	if err != nil {
		// Fallback to plain text if a field value refuses to marshal.
		raw = []byte(fmt.Sprintf(`{"timestamp":%q,"level":%q,"message":%q}`,
			e.Timestamp, e.Level, e.Message))
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Write(append(raw, '\n'))
}

type zapLogger struct {
	z *zap.Logger
}

// NewZapLogger adapts a zap logger to the SDK's Logger interface. Level
// filtering is delegated to the zap core, so the application's existing zap
// configuration decides what gets through.
func NewZapLogger(z *zap.Logger) Logger {
	return &zapLogger{z: z}
}

func zapLevel(level Level) zapcore.Level {
	switch level {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelInfo:
		return zapcore.InfoLevel
	case LevelWarn:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

func (l *zapLogger) Enabled(level Level) bool {
	if level == LevelOff {
		return false
	}
	return l.z.Core().Enabled(zapLevel(level))
}

func (l *zapLogger) Log(level Level, msg string, fields map[string]any) {
	ce := l.z.Check(zapLevel(level), msg)
	if ce == nil {
		return
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	zf := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		zf = append(zf, zap.Any(k, fields[k]))
	}
	ce.Write(zf...)
}
