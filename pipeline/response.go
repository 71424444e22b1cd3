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

package pipeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// replayableBody holds a fully read response payload so it can be consumed
// multiple times. Payload installs it in place of the network body.
type replayableBody struct {
	*bytes.Reader
	payload []byte
}

func (*replayableBody) Close() error { return nil }

// Payload reads and returns the whole response body, replacing it with an
// in-memory copy so later readers (error mapping, callers of
// UnmarshalAsJSON) see the same bytes again. Calling Payload twice returns
// the cached copy without touching the network.
func Payload(resp *http.Response) ([]byte, error) {
	if resp == nil {
		return nil, errors.New("pipeline: nil response")
	}
	if rb, ok := resp.Body.(*replayableBody); ok {
		rb.Seek(0, io.SeekStart)
		return rb.payload, nil
	}
	if resp.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("pipeline: reading response body: %w", err)
	}
	resp.Body = &replayableBody{Reader: bytes.NewReader(data), payload: data}
	return data, nil
}

// UnmarshalAsJSON decodes the response payload into v. The body remains
// readable afterwards.
func UnmarshalAsJSON(resp *http.Response, v any) error {
	data, err := Payload(resp)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return errors.New("pipeline: empty response body")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("pipeline: unmarshaling response body: %w", err)
	}
	return nil
}

// Drain discards any unread response body and closes it so the underlying
// connection can be reused. Safe to call with a nil response.
func Drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// RetryAfter reads the Retry-After header, accepting both delta-seconds and
// HTTP-date forms. The second return is false when the header is absent or
// unparsable. A date in the past yields a zero delay.
func RetryAfter(resp *http.Response) (time.Duration, bool) {
	if resp == nil {
		return 0, false
	}
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

// HasStatusCode reports whether the response carries one of the given
// status codes.
func HasStatusCode(resp *http.Response, codes ...int) bool {
	if resp == nil {
		return false
	}
	for _, code := range codes {
		if resp.StatusCode == code {
			return true
		}
	}
	return false
}
