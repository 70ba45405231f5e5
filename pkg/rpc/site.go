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
	"context"

	"github.com/erlide/erlbridge/pkg/term"
)

// Site is what callers need to talk to a node. *Client implements it
type Site interface {

	// Call blocks until the reply, a timeout, a disconnect or ctx is done
	Call(ctx context.Context, options *CallOptions, module string, function string, signature string, args ...interface{}) (term.Term, error)

	// CallNoException is Call with every failure folded into the result
	CallNoException(ctx context.Context, options *CallOptions, module string, function string, signature string, args ...interface{}) *Result

	// AsyncCall returns a future completed by the reply
	AsyncCall(ctx context.Context, options *CallOptions, module string, function string, signature string, args ...interface{}) (*Future, error)

	// AsyncCallWithCallback invokes callback exactly once with the outcome
	AsyncCallWithCallback(ctx context.Context, callback Callback, options *CallOptions, module string, function string, signature string, args ...interface{}) error

	// AsyncCallWithProgress streams progress reports to handler until done
	AsyncCallWithProgress(ctx context.Context, handler ProgressHandler, options *CallOptions, module string, function string, signature string, args ...interface{}) error

	// Cast sends a call nobody waits for
	Cast(ctx context.Context, options *CallOptions, module string, function string, signature string, args ...interface{}) error

	// Send delivers a raw message to a registered name, a pid or a {Name, Node} pair
	Send(target term.Term, message term.Term) error
}

// Callback receives the outcome of AsyncCallWithCallback
type Callback func(value term.Term, err error)

// ProgressHandler receives the reports of AsyncCallWithProgress
type ProgressHandler interface {
	Progress(value term.Term)
	Done(value term.Term, err error)
}
