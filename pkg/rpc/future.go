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
	"sync"

	"github.com/erlide/erlbridge/pkg/term"
)

// Future holds the eventual outcome of an asynchronous call
type Future struct {
	once     sync.Once
	doneChan chan struct{}
	value    term.Term
	err      error
}

func newFuture() *Future {
	return &Future{
		doneChan: make(chan struct{}),
	}
}

// Get waits for the outcome. A done ctx stops the wait but leaves the call pending
func (f *Future) Get(ctx context.Context) (term.Term, error) {
	select {
	case <-f.doneChan:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done is closed once the outcome is known
func (f *Future) Done() <-chan struct{} {
	return f.doneChan
}

// IsDone returns true once the outcome is known
func (f *Future) IsDone() bool {
	select {
	case <-f.doneChan:
		return true
	default:
		return false
	}
}

func (f *Future) resolve(value term.Term, err error) {
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.doneChan)
	})
}
