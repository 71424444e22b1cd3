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

package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"relay/sdk/apierror"
	"relay/sdk/client"
	"relay/sdk/config"
	"relay/sdk/credential"
	"relay/sdk/logging"
	"relay/sdk/pipeline"
	"relay/sdk/policies"
	"relay/sdk/transport"
)

// requestCmd returns the command for sending a single request.
func requestCmd() *cobra.Command {
	var (
		endpoint    string
		profileName string
		configPath  string
		service     string
		data        string
		headers     []string
		retries     int
		timeout     time.Duration
		insecure    bool
		strict      bool
		out         string
		traceOn     bool
		metricsOn   bool
	)

	cmd := &cobra.Command{
		Use:   "request METHOD PATH",
		Short: "Send a request through the SDK pipeline",
		Long: `Send a single request through the full SDK pipeline: retries, request IDs,
telemetry, and optional tracing behave exactly as they do for applications.

The response body is written to stdout; logs go to stderr.

Examples:
  relayctl request GET /v1/databases --profile staging
  relayctl request POST /v1/databases --data '{"name":"db1"}'
  relayctl request PUT /v1/databases/db1 --data @database.json --trace
  relayctl request GET /v1/health --endpoint http://localhost:8080 --insecure`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			method := strings.ToUpper(args[0])
			path := args[1]
			ctx := cmd.Context()

			env, err := config.FromEnv()
			if err != nil {
				return err
			}

			if traceOn {
				shutdown, err := initTracing(ctx)
				if err != nil {
					return fmt.Errorf("failed to initialize tracing: %w", err)
				}
				defer func() {
					flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := shutdown(flushCtx); err != nil {
						logger.Warn("trace export failed", zap.Error(err))
					}
				}()
			}

			b, err := newRequestBuilder(endpoint, profileName, configPath, service, env)
			if err != nil {
				return err
			}
			b.WithLogger(logging.NewZapLogger(logger))
			if cmd.Flags().Changed("retries") {
				maxRetries := retries
				if maxRetries <= 0 {
					// A zero RetryConfig falls back to the default; the
					// flag's zero means no retries at all.
					maxRetries = -1
				}
				b.WithRetry(policies.RetryConfig{MaxRetries: maxRetries})
			}
			if insecure {
				b.AllowInsecure()
			}
			if strict {
				b.WithTransport(transport.New(transport.Config{BlockPrivateHosts: true}))
			}
			if len(headers) > 0 {
				hdrs, err := parseHeaders(headers)
				if err != nil {
					return err
				}
				b.WithHeaders(hdrs)
			}
			if env.AccessToken != "" {
				b.WithCredential(credential.NewEnvTokenCredential(credential.DefaultTokenEnvVar))
			}
			if env.UserAgent != "" {
				b.WithApplicationID(env.UserAgent)
			}

			var registry *prometheus.Registry
			if metricsOn {
				registry = prometheus.NewRegistry()
				b.WithMetrics(policies.MetricsConfig{Registerer: registry})
			}

			c, err := b.Build()
			if err != nil {
				return err
			}

			if timeout == 0 {
				timeout = env.RequestTimeout
			}
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			ctx = pipeline.ContextWithOperation(ctx, "relayctl "+method+" "+path)

			req, err := c.NewRequest(ctx, method, path)
			if err != nil {
				return err
			}
			if data != "" {
				payload, err := readData(data)
				if err != nil {
					return err
				}
				if err := req.SetBody(pipeline.NopCloser(bytes.NewReader(payload)), "application/json"); err != nil {
					return err
				}
			}

			logger.Debug("sending request", zap.String("method", method), zap.String("url", req.Raw().URL.String()))
			start := time.Now()
			resp, err := c.Do(req)
			if err != nil {
				return fmt.Errorf("request failed: %w", err)
			}
			logger.Info("response received",
				zap.String("status", resp.Status),
				zap.Duration("elapsed", time.Since(start).Round(time.Millisecond)))
			for k, vv := range resp.Header {
				logger.Debug("response header", zap.String("name", k), zap.Strings("values", vv))
			}

			body, err := pipeline.Payload(resp)
			if err != nil {
				return fmt.Errorf("reading response body: %w", err)
			}
			if err := writeBody(out, body); err != nil {
				return err
			}

			if metricsOn {
				if err := dumpMetrics(os.Stderr, registry); err != nil {
					logger.Warn("metrics dump failed", zap.Error(err))
				}
			}

			if resp.StatusCode >= http.StatusBadRequest {
				return apierror.FromResponse(resp)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&endpoint, "endpoint", "e", "", "Base URL of the service (overrides profile and RELAY_ENDPOINT)")
	cmd.Flags().StringVarP(&profileName, "profile", "p", "", "Profile name from the configuration file")
	cmd.Flags().StringVar(&configPath, "config", defaultConfigPath(), "Path to the profile configuration file")
	cmd.Flags().StringVar(&service, "service", "api", "Service name resolved against the profile's endpoints")
	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON request body, or @file to read it from a file")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "Extra header as key=value (repeatable)")
	cmd.Flags().IntVar(&retries, "retries", 3, "Maximum retry attempts after the first try")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Overall request timeout (default RELAY_REQUEST_TIMEOUT)")
	cmd.Flags().BoolVar(&insecure, "insecure", false, "Allow plain-HTTP endpoints")
	cmd.Flags().BoolVar(&strict, "strict", false, "Refuse hosts that resolve to private, loopback, or link-local addresses")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write the response body to a file instead of stdout")
	cmd.Flags().BoolVar(&traceOn, "trace", false, "Export an OTLP trace for the request")
	cmd.Flags().BoolVar(&metricsOn, "metrics", false, "Print request metrics to stderr after the run")

	return cmd
}

// newRequestBuilder picks the target endpoint: an explicit --endpoint wins,
// then a configuration profile, then RELAY_ENDPOINT.
func newRequestBuilder(endpoint, profileName, configPath, service string, env config.Env) (*client.Builder, error) {
	if endpoint != "" {
		return client.NewBuilder(endpoint), nil
	}

	_, statErr := os.Stat(configPath)
	if profileName != "" || statErr == nil {
		file, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		profile, err := file.Resolve(profileName)
		if err != nil {
			return nil, err
		}
		return client.NewBuilder("").WithProfile(profile, service), nil
	}

	if env.Endpoint != "" {
		return client.NewBuilder(env.Endpoint), nil
	}
	return nil, fmt.Errorf("no endpoint configured: use --endpoint, a profile, or %s", config.EnvEndpoint)
}

// parseHeaders converts key=value pairs into a header map.
func parseHeaders(pairs []string) (map[string]string, error) {
	hdrs := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid header %q: expected key=value", pair)
		}
		hdrs[k] = v
	}
	return hdrs, nil
}

// readData resolves the --data flag: a leading @ reads the named file.
func readData(data string) ([]byte, error) {
	if strings.HasPrefix(data, "@") {
		payload, err := os.ReadFile(strings.TrimPrefix(data, "@"))
		if err != nil {
			return nil, fmt.Errorf("reading request body: %w", err)
		}
		return payload, nil
	}
	return []byte(data), nil
}

func writeBody(out string, body []byte) error {
	if out != "" {
		if err := os.WriteFile(out, body, 0o644); err != nil {
			return fmt.Errorf("writing response body: %w", err)
		}
		return nil
	}
	if len(body) == 0 {
		return nil
	}
	os.Stdout.Write(body)
	if body[len(body)-1] != '\n' {
		fmt.Println()
	}
	return nil
}

// dumpMetrics writes the gathered collectors in Prometheus text format.
func dumpMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
