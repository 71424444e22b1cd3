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

// Package main implements the relayctl CLI for calling Relay service APIs
// through the SDK pipeline, with the same retries, authentication, and
// telemetry an application gets.
//
// Usage:
//
//	relayctl request GET /v1/databases --profile staging
//	relayctl request POST /v1/databases --data '{"name":"db1"}'
//	relayctl profiles list
//
// Environment Variables:
//
//	RELAY_ENDPOINT - base URL used when no --endpoint flag or profile applies
//	RELAY_ACCESS_TOKEN - bearer token attached to requests when set
//	RELAY_PROFILE - profile selected when --profile is not given
//	RELAY_LOG_LEVEL - SDK log level (debug, info, warn, error)
//
// A .env file in the working directory is loaded automatically.
package main

import (
	"fmt"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"relay/sdk/client"
)

var version = client.Version

// logger is configured by the root command before any subcommand runs.
var logger = zap.NewNop()

func main() {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:     "relayctl",
		Short:   "Relay CLI tool",
		Long:    `relayctl sends requests to Relay services through the SDK pipeline and inspects profile configuration.`,
		Version: version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = newLogger(verbose)
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(requestCmd())
	rootCmd.AddCommand(profilesCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newLogger builds a console logger on stderr so response bodies on stdout
// stay pipeable.
func newLogger(verbose bool) *zap.Logger {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(os.Stderr),
		level,
	)
	return zap.New(core)
}
