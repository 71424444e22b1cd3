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
Package pipeline implements the HTTP request pipeline at the core of the Relay SDK.

# Overview

A Pipeline is an immutable, ordered chain of Policy objects terminated by a
Transporter. Each policy receives the in-flight Request, may mutate it, and
forwards it to its successor with Request.Next. The transport result then
unwinds back through the same policies in reverse, so every policy observes
both directions of the exchange:

	request  -> policy[0] -> policy[1] -> ... -> transport
	response <- policy[0] <- policy[1] <- ... <- transport

# Policy Interface

A policy is anything with a Do method:

	type Policy interface {
		Do(req *Request) (*http.Response, error)
	}

Policies that retry call Request.Next more than once; each call replays the
remainder of the chain. Policies positioned before the retry policy therefore
run once per operation, while policies after it run once per attempt. The
package does not assign positions itself; assembly order is the caller's
contract (the client package builds the standard ordering).

# Requests and Bodies

NewRequest builds a Request bound to a context. Bodies are set through
SetBody with an io.ReadSeekCloser so retrying policies can rewind them before
replaying an attempt; MarshalAsJSON handles the common JSON case. Response
helpers (Payload, UnmarshalAsJSON, Drain) make the body replayable so error
inspection does not consume it.

# Thread Safety

A Pipeline is safe for concurrent use; its policy list is fixed at
construction. A Request is owned by a single goroutine for the duration of
one Do call.
*/
package pipeline
