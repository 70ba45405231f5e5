/*
Copyright 2024 The Nuclio Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package rpc

import (
	"time"

	"github.com/erlide/erlbridge/pkg/term"
)

const DefaultTimeout = 10 * time.Second

// the group leader used when a call doesn't name one
var defaultGroupLeader = term.Atom("user")

// CallOptions are per-call overrides. A nil *CallOptions means all defaults
type CallOptions struct {

	// nil uses the client default, zero waits forever
	Timeout *time.Duration

	// receives the remote io and error output of the call
	GroupLeader term.Term
}

// WithTimeout returns options carrying only a timeout
func WithTimeout(timeout time.Duration) *CallOptions {
	return &CallOptions{Timeout: &timeout}
}

// ClientConfiguration configures a client
type ClientConfiguration struct {
	DefaultTimeout time.Duration
	Metrics        *Metrics
}

func (o *CallOptions) resolveTimeout(defaultTimeout time.Duration) time.Duration {
	if o == nil || o.Timeout == nil {
		return defaultTimeout
	}

	return *o.Timeout
}

func (o *CallOptions) resolveGroupLeader() term.Term {
	if o == nil || o.GroupLeader == nil {
		return defaultGroupLeader
	}

	return o.GroupLeader
}
