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

	"github.com/erlide/erlbridge/pkg/term"
)

// Result is the outcome of a call that never fails
type Result struct {
	ok    bool
	value term.Term
	err   error
}

func newResult(value term.Term, err error) *Result {
	if err == nil {
		return &Result{ok: true, value: value}
	}

	// remote failures keep their reason term, everything else its message
	payload := term.Term(term.String(err.Error()))
	if remoteError, isRemoteError := rootRemoteError(err); isRemoteError {
		payload = remoteError.Reason
	}

	return &Result{value: payload, err: err}
}

// IsOK returns true if the call succeeded
func (r *Result) IsOK() bool {
	return r.ok
}

// Value returns the reply on success, or the diagnostic payload on failure
func (r *Result) Value() term.Term {
	return r.value
}

// Err returns the failure, or nil on success
func (r *Result) Err() error {
	return r.err
}

func (r *Result) String() string {
	if r.ok {
		return fmt.Sprintf("ok: %s", r.value)
	}

	return fmt.Sprintf("failed: %s", r.value)
}
