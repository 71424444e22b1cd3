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

package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"relay/sdk/pipeline"
)

// Mode selects how a Recorder treats traffic.
type Mode string

const (
	// ModeRecord forwards to the inner transport and captures sanitized
	// exchanges for later playback.
	ModeRecord Mode = "record"
	// ModePlayback serves previously recorded exchanges in order without
	// touching the network.
	ModePlayback Mode = "playback"
	// ModePassthrough forwards without recording.
	ModePassthrough Mode = "passthrough"
)

// defaultRedactedHeaders are stripped from cassettes regardless of
// configuration.
var defaultRedactedHeaders = []string{"Authorization", "X-Api-Key", "Cookie", "Set-Cookie"}

const redactedValue = "REDACTED"

// cassette is the on-disk recording format.
type cassette struct {
	Version int             `json:"version"`
	Entries []cassetteEntry `json:"entries"`
}

type cassetteEntry struct {
	Method          string            `json:"method"`
	URL             string            `json:"url"`
	RequestHeaders  map[string]string `json:"request_headers,omitempty"`
	RequestBody     string            `json:"request_body,omitempty"`
	StatusCode      int               `json:"status_code"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	ResponseBody    string            `json:"response_body,omitempty"`
}

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	// Mode defaults to ModePassthrough.
	Mode Mode
	// Path is the cassette file. Required for record and playback modes.
	Path string
	// Inner performs real exchanges in record and passthrough modes.
	Inner pipeline.Transporter
	// RedactHeaders extends the default redaction set (Authorization,
	// X-Api-Key, Cookie, Set-Cookie).
	RedactHeaders []string
}

// Recorder captures or replays HTTP exchanges through a JSON cassette.
// Record mode buffers entries until Save; playback serves the cassette in
// order and fails on any divergence in method or URL.
type Recorder struct {
	mu      sync.Mutex
	mode    Mode
	path    string
	inner   pipeline.Transporter
	redact  map[string]bool
	entries []cassetteEntry
	cursor  int
}

var _ pipeline.Transporter = (*Recorder)(nil)

// NewRecorder builds a Recorder. Playback mode loads the cassette
// immediately so a missing or corrupt file fails fast.
func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	mode := cfg.Mode
	if mode == "" {
		mode = ModePassthrough
	}
	r := &Recorder{
		mode:   mode,
		path:   cfg.Path,
		inner:  cfg.Inner,
		redact: make(map[string]bool),
	}
	for _, h := range defaultRedactedHeaders {
		r.redact[http.CanonicalHeaderKey(h)] = true
	}
	for _, h := range cfg.RedactHeaders {
		r.redact[http.CanonicalHeaderKey(h)] = true
	}

	switch mode {
	case ModeRecord, ModePassthrough:
		if r.inner == nil {
			return nil, fmt.Errorf("transport: recorder mode %q requires an inner transport", mode)
		}
		if mode == ModeRecord && r.path == "" {
			return nil, fmt.Errorf("transport: recorder mode %q requires a cassette path", mode)
		}
	case ModePlayback:
		if r.path == "" {
			return nil, fmt.Errorf("transport: recorder mode %q requires a cassette path", mode)
		}
		data, err := os.ReadFile(r.path)
		if err != nil {
			return nil, fmt.Errorf("transport: loading cassette: %w", err)
		}
		var c cassette
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("transport: parsing cassette %s: %w", r.path, err)
		}
		r.entries = c.Entries
	default:
		return nil, fmt.Errorf("transport: unknown recorder mode %q", mode)
	}
	return r, nil
}

// Do records, replays, or forwards depending on mode.
func (r *Recorder) Do(req *http.Request) (*http.Response, error) {
	switch r.mode {
	case ModePlayback:
		return r.playback(req)
	case ModeRecord:
		return r.record(req)
	default:
		return r.inner.Do(req)
	}
}

func (r *Recorder) record(req *http.Request) (*http.Response, error) {
	var reqBody []byte
	if req.Body != nil {
		reqBody, _ = io.ReadAll(req.Body)
		req.Body.Close()
		req.Body = io.NopCloser(bytes.NewReader(reqBody))
	}

	resp, err := r.inner.Do(req)
	if err != nil {
		return nil, err
	}

	var respBody []byte
	if resp.Body != nil {
		respBody, _ = io.ReadAll(resp.Body)
		resp.Body.Close()
		resp.Body = io.NopCloser(bytes.NewReader(respBody))
	}

	entry := cassetteEntry{
		Method:          req.Method,
		URL:             req.URL.String(),
		RequestHeaders:  r.sanitizeHeaders(req.Header),
		RequestBody:     string(reqBody),
		StatusCode:      resp.StatusCode,
		ResponseHeaders: r.sanitizeHeaders(resp.Header),
		ResponseBody:    string(respBody),
	}

	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.mu.Unlock()

	return resp, nil
}

func (r *Recorder) playback(req *http.Request) (*http.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cursor >= len(r.entries) {
		return nil, fmt.Errorf("transport: cassette exhausted, no entry for %s %s", req.Method, req.URL)
	}
	entry := r.entries[r.cursor]
	if entry.Method != req.Method || entry.URL != req.URL.String() {
		return nil, fmt.Errorf("transport: cassette divergence at entry %d: recorded %s %s, got %s %s",
			r.cursor, entry.Method, entry.URL, req.Method, req.URL)
	}
	r.cursor++

	if req.Body != nil {
		io.Copy(io.Discard, req.Body)
		req.Body.Close()
	}

	resp := &http.Response{
		StatusCode: entry.StatusCode,
		Status:     fmt.Sprintf("%d %s", entry.StatusCode, http.StatusText(entry.StatusCode)),
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(entry.ResponseBody)),
		Request:    req,
	}
	for k, v := range entry.ResponseHeaders {
		resp.Header.Set(k, v)
	}
	return resp, nil
}

func (r *Recorder) sanitizeHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vals := range h {
		if r.redact[http.CanonicalHeaderKey(k)] {
			out[k] = redactedValue
			continue
		}
		out[k] = strings.Join(vals, ", ")
	}
	return out
}

// Save writes the recorded cassette to disk. Only meaningful in record
// mode; other modes return nil without touching the file.
func (r *Recorder) Save() error {
	if r.mode != ModeRecord {
		return nil
	}
	r.mu.Lock()
	c := cassette{Version: 1, Entries: r.entries}
	r.mu.Unlock()

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("transport: encoding cassette: %w", err)
	}
	if err := os.WriteFile(r.path, data, 0o600); err != nil {
		return fmt.Errorf("transport: writing cassette %s: %w", r.path, err)
	}
	return nil
}
