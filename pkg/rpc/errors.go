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
	"fmt"
	"time"

	"github.com/erlide/erlbridge/pkg/term"

	"github.com/nuclio/errors"
)

// NoConnectionError means the node was never connected, or the connection was
// lost before the call could complete
type NoConnectionError struct {
	Node   string
	Reason string
}

func (e *NoConnectionError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("No connection to %s", e.Node)
	}

	return fmt.Sprintf("No connection to %s: %s", e.Node, e.Reason)
}

// TimeoutError means no reply arrived within the deadline
type TimeoutError struct {
	Node     string
	Module   string
	Function string
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("Call to %s:%s on %s timed out after %s", e.Module, e.Function, e.Node, e.Timeout)
}

// RemoteError carries an explicit error reply from the remote side
type RemoteError struct {
	Module   string
	Function string
	Reason   term.Term
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("Call to %s:%s failed remotely: %s", e.Module, e.Function, e.Reason)
}

// IsNoConnection returns true if the root cause of err is a NoConnectionError
func IsNoConnection(err error) bool {
	_, ok := errors.RootCause(err).(*NoConnectionError)
	return ok
}

// IsTimeout returns true if the root cause of err is a TimeoutError
func IsTimeout(err error) bool {
	_, ok := errors.RootCause(err).(*TimeoutError)
	return ok
}

// IsRemoteError returns true if the root cause of err is a RemoteError
func IsRemoteError(err error) bool {
	_, ok := errors.RootCause(err).(*RemoteError)
	return ok
}

func rootRemoteError(err error) (*RemoteError, bool) {
	remoteError, ok := errors.RootCause(err).(*RemoteError)
	return remoteError, ok
}
