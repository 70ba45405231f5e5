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

package mock

import (
	"context"

	"github.com/erlide/erlbridge/pkg/rpc"
	"github.com/erlide/erlbridge/pkg/term"

	"github.com/stretchr/testify/mock"
)

//
// Site mock
//

// Site records the calls made against a node. Positional arguments are
// passed to the expectation as a single []interface{}
type Site struct {
	mock.Mock
}

func (ms *Site) Call(ctx context.Context,
	options *rpc.CallOptions,
	module string,
	function string,
	signature string,
	args ...interface{}) (term.Term, error) {
	mockArgs := ms.Called(ctx, options, module, function, signature, args)
	return termOrNil(mockArgs.Get(0)), mockArgs.Error(1)
}

func (ms *Site) CallNoException(ctx context.Context,
	options *rpc.CallOptions,
	module string,
	function string,
	signature string,
	args ...interface{}) *rpc.Result {
	mockArgs := ms.Called(ctx, options, module, function, signature, args)
	return mockArgs.Get(0).(*rpc.Result)
}

func (ms *Site) AsyncCall(ctx context.Context,
	options *rpc.CallOptions,
	module string,
	function string,
	signature string,
	args ...interface{}) (*rpc.Future, error) {
	mockArgs := ms.Called(ctx, options, module, function, signature, args)

	future, _ := mockArgs.Get(0).(*rpc.Future)
	return future, mockArgs.Error(1)
}

func (ms *Site) AsyncCallWithCallback(ctx context.Context,
	callback rpc.Callback,
	options *rpc.CallOptions,
	module string,
	function string,
	signature string,
	args ...interface{}) error {
	mockArgs := ms.Called(ctx, callback, options, module, function, signature, args)
	return mockArgs.Error(0)
}

func (ms *Site) AsyncCallWithProgress(ctx context.Context,
	handler rpc.ProgressHandler,
	options *rpc.CallOptions,
	module string,
	function string,
	signature string,
	args ...interface{}) error {
	mockArgs := ms.Called(ctx, handler, options, module, function, signature, args)
	return mockArgs.Error(0)
}

func (ms *Site) Cast(ctx context.Context,
	options *rpc.CallOptions,
	module string,
	function string,
	signature string,
	args ...interface{}) error {
	mockArgs := ms.Called(ctx, options, module, function, signature, args)
	return mockArgs.Error(0)
}

func (ms *Site) Send(target term.Term, message term.Term) error {
	mockArgs := ms.Called(target, message)
	return mockArgs.Error(0)
}

func termOrNil(value interface{}) term.Term {
	if value == nil {
		return nil
	}

	return value.(term.Term)
}
