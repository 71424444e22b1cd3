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

/*
Package policies provides the standard pipeline policies of the Relay SDK.

# Overview

Each policy wraps one cross-cutting concern of a service call: telemetry
headers, request identity, retries, client-side throttling, circuit
breaking, response caching, credential injection, logging, metrics, and
tracing. Policies are independent; a pipeline carries only what its client
configured.

# Ordering

Position relative to the retry policy decides whether a policy runs once
per operation or once per attempt. The client package assembles the
standard order:

	Telemetry, RequestID, Headers        (per call)
	Retry                                (the pivot)
	Throttle, Breaker, Cache,
	Auth, Logging, Metrics, Tracing      (per attempt)
	transport

Auth runs per attempt so replayed requests carry a fresh token; logging,
metrics, and tracing run per attempt so every wire exchange is observed,
with the attempt number attached.

# Configuration

Every policy follows the same shape: a Config struct whose zero value is
production-ready, and a New...Policy constructor that applies defaults.
Loggers, registries, and tracer providers arrive through the Config and
fall back to the process-wide defaults when unset.

# Thread Safety

All policies are safe for concurrent use by any number of goroutines over
any number of pipelines.
*/
package policies
