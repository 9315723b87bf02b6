/*
 * Copyright 2025 the CableSync authors.
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

// Package logger provides JSON structured logging using zerolog.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Level  string `json:"level"`
	Debug  bool   `json:"debug"`
	Output string `json:"output"`
}

// New builds a zerolog-backed Logger from the given config.
func New(config Config) (Logger, error) {
	var output io.Writer = os.Stdout

	if config.Output == "stderr" {
		output = os.Stderr
	}

	level := zerolog.InfoLevel

	if config.Debug {
		level = zerolog.DebugLevel
	} else if config.Level != "" {
		var err error

		level, err = zerolog.ParseLevel(config.Level)
		if err != nil {
			return nil, err
		}
	}

	zerolog.TimeFieldFormat = time.RFC3339

	zl := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()

	return &zerologLogger{zl: zl}, nil
}

type zerologLogger struct {
	zl zerolog.Logger
}

func (l *zerologLogger) Debug() *zerolog.Event { return l.zl.Debug() }
func (l *zerologLogger) Info() *zerolog.Event  { return l.zl.Info() }
func (l *zerologLogger) Warn() *zerolog.Event  { return l.zl.Warn() }
func (l *zerologLogger) Error() *zerolog.Event { return l.zl.Error() }
func (l *zerologLogger) Fatal() *zerolog.Event { return l.zl.Fatal() }
func (l *zerologLogger) With() zerolog.Context { return l.zl.With() }

func (l *zerologLogger) WithComponent(component string) Logger {
	return &zerologLogger{zl: l.zl.With().Str("component", component).Logger()}
}
