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

// Package config loads client profiles from YAML files and the RELAY_*
// environment. Environment references in profile files, ${VAR} or
// ${VAR:-default}, are expanded before parsing, so secrets stay out of
// checked-in configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables honored by FromEnv and profile resolution.
const (
	EnvProfile        = "RELAY_PROFILE"
	EnvEndpoint       = "RELAY_ENDPOINT"
	EnvAccessToken    = "RELAY_ACCESS_TOKEN"
	EnvLogLevel       = "RELAY_LOG_LEVEL"
	EnvUserAgent      = "RELAY_HTTP_USER_AGENT"
	EnvRequestTimeout = "RELAY_REQUEST_TIMEOUT"
)

// DefaultProfileName is used when neither the caller nor RELAY_PROFILE
// names a profile.
const DefaultProfileName = "default"

// supportedVersion is the profile file format this release understands.
const supportedVersion = "1"

// File is the root of a profile configuration file.
type File struct {
	Version  string             `yaml:"version"`
	Profiles map[string]Profile `yaml:"profiles"`
}

// Profile is one named client configuration.
type Profile struct {
	// Endpoints maps service names to base URLs.
	Endpoints map[string]string `yaml:"endpoints"`
	// Audience is the token scope requested for this profile.
	Audience string `yaml:"audience,omitempty"`
	// APIVersion is sent as the api-version query parameter when set.
	APIVersion string `yaml:"api_version,omitempty"`
	// Insecure permits plain-HTTP endpoints and credentials over HTTP.
	Insecure bool `yaml:"insecure,omitempty"`
}

// Endpoint returns the base URL registered for a service.
func (p Profile) Endpoint(service string) (string, error) {
	ep, ok := p.Endpoints[service]
	if !ok {
		return "", fmt.Errorf("config: profile has no endpoint for service %q", service)
	}
	return ep, nil
}

// Load reads and validates a profile file. Environment references are
// expanded before parsing; undefined variables without a default expand
// to the empty string.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses and validates profile file content.
func Parse(data []byte) (*File, error) {
	expanded := expandEnv(string(data))

	var f File
	if err := yaml.Unmarshal([]byte(expanded), &f); err != nil {
		return nil, fmt.Errorf("config: parsing profiles: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) validate() error {
	if f.Version != supportedVersion {
		return fmt.Errorf("config: unsupported version %q, want %q", f.Version, supportedVersion)
	}
	if len(f.Profiles) == 0 {
		return fmt.Errorf("config: no profiles defined")
	}
	for name, p := range f.Profiles {
		for svc, ep := range p.Endpoints {
			u, err := url.Parse(ep)
			if err != nil {
				return fmt.Errorf("config: profile %q endpoint %q: %w", name, svc, err)
			}
			if u.Scheme == "" || u.Host == "" {
				return fmt.Errorf("config: profile %q endpoint %q: %q is not absolute", name, svc, ep)
			}
			if u.Scheme != "https" && !p.Insecure {
				return fmt.Errorf("config: profile %q endpoint %q uses %s; set insecure to allow it", name, svc, u.Scheme)
			}
		}
	}
	return nil
}

// Lookup returns the named profile.
func (f *File) Lookup(name string) (Profile, error) {
	p, ok := f.Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("config: profile %q not found", name)
	}
	return p, nil
}

// Resolve picks a profile: the explicit name when non-empty, then
// RELAY_PROFILE, then "default".
func (f *File) Resolve(name string) (Profile, error) {
	if name == "" {
		name = os.Getenv(EnvProfile)
	}
	if name == "" {
		name = DefaultProfileName
	}
	return f.Lookup(name)
}

// Env carries the client settings that can arrive via the environment.
type Env struct {
	Endpoint       string
	AccessToken    string
	LogLevel       string
	UserAgent      string
	RequestTimeout time.Duration
}

// FromEnv reads the RELAY_* variables. An unset RELAY_REQUEST_TIMEOUT
// leaves RequestTimeout zero; a malformed one is an error rather than a
// silently ignored setting.
func FromEnv() (Env, error) {
	e := Env{
		Endpoint:    os.Getenv(EnvEndpoint),
		AccessToken: os.Getenv(EnvAccessToken),
		LogLevel:    os.Getenv(EnvLogLevel),
		UserAgent:   os.Getenv(EnvUserAgent),
	}
	if raw := os.Getenv(EnvRequestTimeout); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return Env{}, fmt.Errorf("config: %s: %w", EnvRequestTimeout, err)
		}
		e.RequestTimeout = d
	}
	return e, nil
}

// envVarRegex matches ${VAR_NAME} or $VAR_NAME references.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnv substitutes environment references, honoring the
// ${VAR:-default} fallback form.
func expandEnv(content string) string {
	return envVarRegex.ReplaceAllStringFunc(content, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		defaultVal := ""
		if idx := strings.Index(name, ":-"); idx != -1 {
			defaultVal = name[idx+2:]
			name = name[:idx]
		}

		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultVal
	})
}
