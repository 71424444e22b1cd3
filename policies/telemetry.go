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

package policies

import (
	"fmt"
	"net/http"
	"runtime"
	"strings"

	"relay/sdk/pipeline"
)

// maxApplicationID bounds the caller-supplied User-Agent prefix.
const maxApplicationID = 24

var platformInfo = fmt.Sprintf("(%s; %s/%s)", runtime.Version(), runtime.GOOS, runtime.GOARCH)

// TelemetryConfig controls the telemetry policy.
type TelemetryConfig struct {
	// ApplicationID is prepended to the User-Agent. Spaces become slashes
	// and anything past 24 characters is dropped.
	ApplicationID string
	// Disabled suppresses the User-Agent header entirely.
	Disabled bool
}

// TelemetryPolicy sets the User-Agent header identifying this SDK and,
// optionally, the calling application. An existing User-Agent set by the
// caller is preserved after the SDK product token.
type TelemetryPolicy struct {
	value string
}

// NewTelemetryPolicy builds the policy for the given SDK version string.
func NewTelemetryPolicy(version string, cfg TelemetryConfig) *TelemetryPolicy {
	if cfg.Disabled {
		return &TelemetryPolicy{}
	}
	var b strings.Builder
	if appID := sanitizeApplicationID(cfg.ApplicationID); appID != "" {
		b.WriteString(appID)
		b.WriteByte(' ')
	}
	fmt.Fprintf(&b, "relay-sdk-go/%s %s", version, platformInfo)
	return &TelemetryPolicy{value: b.String()}
}

// Do implements pipeline.Policy.
func (p *TelemetryPolicy) Do(req *pipeline.Request) (*http.Response, error) {
	if p.value == "" {
		return req.Next()
	}
	ua := p.value
	if existing := req.Raw().Header.Get("User-Agent"); existing != "" {
		ua = ua + " " + existing
	}
	req.Raw().Header.Set("User-Agent", ua)
	return req.Next()
}

func sanitizeApplicationID(appID string) string {
	appID = strings.TrimSpace(appID)
	appID = strings.ReplaceAll(appID, " ", "/")
	if len(appID) > maxApplicationID {
		appID = appID[:maxApplicationID]
	}
	return appID
}
