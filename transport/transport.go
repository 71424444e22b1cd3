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

// Package transport provides the terminal link of the pipeline: the piece
// that actually performs the HTTP exchange. New builds a hardened pooled
// transport for production use; Mock and Recorder are doubles for tests and
// diagnostics.
package transport

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"relay/sdk/pipeline"
)

const (
	// DefaultDialTimeout bounds TCP connection establishment.
	DefaultDialTimeout = 10 * time.Second
	// DefaultTLSHandshakeTimeout bounds the TLS handshake.
	DefaultTLSHandshakeTimeout = 10 * time.Second
	// DefaultIdleConnTimeout is how long idle pooled connections are kept.
	DefaultIdleConnTimeout = 90 * time.Second
	// DefaultMaxIdleConns caps the idle connection pool across all hosts.
	DefaultMaxIdleConns = 100
	// DefaultMaxConnsPerHost caps concurrent connections to a single host.
	DefaultMaxConnsPerHost = 10
)

// Config controls the pooled transport built by New. The zero value is
// production-ready; fields override individual defaults.
type Config struct {
	// DialTimeout bounds connection establishment. Defaults to
	// DefaultDialTimeout.
	DialTimeout time.Duration
	// TLSHandshakeTimeout bounds the TLS handshake. Defaults to
	// DefaultTLSHandshakeTimeout.
	TLSHandshakeTimeout time.Duration
	// IdleConnTimeout and the pool caps default to the package constants.
	IdleConnTimeout time.Duration
	MaxIdleConns    int
	MaxConnsPerHost int
	// TLSConfig replaces the default TLS 1.2+ configuration. Leave nil
	// unless custom roots or client certificates are required.
	TLSConfig *tls.Config
	// InsecureSkipVerify disables certificate verification. Test
	// environments only.
	InsecureSkipVerify bool
	// FollowRedirects re-enables automatic redirect following. The
	// transport does not follow redirects by default so policies observe
	// 3xx responses and auth headers are never replayed cross-host.
	FollowRedirects bool
	// BlockPrivateHosts refuses requests whose host resolves to a
	// loopback, link-local, private, or unspecified address. Off by
	// default; relayctl --strict and multi-tenant gateways turn it on.
	BlockPrivateHosts bool
	// Proxy overrides proxy selection. Defaults to the environment proxy.
	Proxy func(*http.Request) (*url.URL, error)
}

// Transport is a pooled, hardened Transporter for production use.
type Transport struct {
	client            *http.Client
	blockPrivateHosts bool
}

var _ pipeline.Transporter = (*Transport)(nil)

// New builds a Transport from cfg, applying package defaults to zero fields.
func New(cfg Config) *Transport {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.TLSHandshakeTimeout <= 0 {
		cfg.TLSHandshakeTimeout = DefaultTLSHandshakeTimeout
	}
	if cfg.IdleConnTimeout <= 0 {
		cfg.IdleConnTimeout = DefaultIdleConnTimeout
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = DefaultMaxIdleConns
	}
	if cfg.MaxConnsPerHost <= 0 {
		cfg.MaxConnsPerHost = DefaultMaxConnsPerHost
	}

	tlsConfig := cfg.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if cfg.InsecureSkipVerify {
		tlsConfig = tlsConfig.Clone()
		tlsConfig.InsecureSkipVerify = true
	}

	proxy := cfg.Proxy
	if proxy == nil {
		proxy = http.ProxyFromEnvironment
	}

	t := &http.Transport{
		Proxy:               proxy,
		TLSClientConfig:     tlsConfig,
		TLSHandshakeTimeout: cfg.TLSHandshakeTimeout,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	client := &http.Client{Transport: t}
	if !cfg.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	return &Transport{client: client, blockPrivateHosts: cfg.BlockPrivateHosts}
}

// Default returns a Transport with all defaults. Clients share one instance
// per process unless they need distinct TLS or proxy settings.
func Default() *Transport {
	return New(Config{})
}

// Do performs the HTTP exchange.
func (t *Transport) Do(req *http.Request) (*http.Response, error) {
	if t.blockPrivateHosts {
		if err := validateHost(req.URL.Hostname()); err != nil {
			return nil, err
		}
	}
	return t.client.Do(req)
}

// CloseIdleConnections drains the connection pool.
func (t *Transport) CloseIdleConnections() {
	t.client.CloseIdleConnections()
}

// validateHost resolves host and refuses private or reserved addresses.
func validateHost(host string) error {
	ips, err := net.LookupIP(host)
	if err != nil {
		return fmt.Errorf("transport: resolving host %s: %w", host, err)
	}
	for _, ip := range ips {
		if isPrivateIP(ip) {
			return fmt.Errorf("transport: connection to private address %s refused (host: %s)", ip, host)
		}
	}
	return nil
}

// isPrivateIP reports whether ip is loopback, link-local, private, or
// unspecified.
func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() {
		return true
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	if ip.IsPrivate() {
		return true
	}
	if ip.IsUnspecified() {
		return true
	}
	if ip4 := ip.To4(); ip4 != nil {
		if ip4[0] == 169 && ip4[1] == 254 {
			return true
		}
		if ip4[0] == 127 {
			return true
		}
	}
	return false
}
