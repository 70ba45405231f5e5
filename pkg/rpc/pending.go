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
	"sync"
	"time"

	"github.com/erlide/erlbridge/pkg/term"

	"github.com/samber/lo"
)

type callKind int

const (
	callKindSync callKind = iota
	callKindFuture
	callKindCallback
	callKindProgress
)

func (k callKind) String() string {
	switch k {
	case callKindSync:
		return "call"
	case callKindFuture:
		return "async"
	case callKindCallback:
		return "callback"
	case callKindProgress:
		return "progress"
	}

	return "unknown"
}

type pendingCall struct {
	token     string
	kind      callKind
	module    string
	function  string
	createdAt time.Time
	timeout   time.Duration
	timer     *time.Timer

	// exactly one of these is called, exactly once, by whoever takes the
	// call out of the table
	resolve func(value term.Term, err error)

	// progress calls only
	progress func(value term.Term)
}

// pendingTable maps correlation tokens to outstanding calls. A call is
// resolved only by the party that removes it, which makes resolution
// exactly-once no matter how replies, timers and disconnects race
type pendingTable struct {
	lock   sync.Mutex
	calls  map[string]*pendingCall
	closed bool
}

func newPendingTable() *pendingTable {
	return &pendingTable{
		calls: map[string]*pendingCall{},
	}
}

// add registers a call, failing if the table was closed. A non zero timeout
// arms the call's timer, which can only fire once the call is in the table
func (pt *pendingTable) add(call *pendingCall, onTimeout func()) bool {
	pt.lock.Lock()
	defer pt.lock.Unlock()

	if pt.closed {
		return false
	}

	if call.timeout > 0 {
		call.timer = time.AfterFunc(call.timeout, onTimeout)
	}

	pt.calls[call.token] = call
	return true
}

// get returns a call without removing it
func (pt *pendingTable) get(token string) (*pendingCall, bool) {
	pt.lock.Lock()
	defer pt.lock.Unlock()

	call, exists := pt.calls[token]
	return call, exists
}

// take removes and returns a call. The timer is stopped
func (pt *pendingTable) take(token string) (*pendingCall, bool) {
	pt.lock.Lock()
	defer pt.lock.Unlock()

	call, exists := pt.calls[token]
	if !exists {
		return nil, false
	}

	delete(pt.calls, token)

	if call.timer != nil {
		call.timer.Stop()
	}

	return call, true
}

// touch restarts an inactivity timer. Returns false if the call is gone
func (pt *pendingTable) touch(token string) bool {
	pt.lock.Lock()
	defer pt.lock.Unlock()

	call, exists := pt.calls[token]
	if !exists {
		return false
	}

	if call.timer != nil {
		call.timer.Reset(call.timeout)
	}

	return true
}

// close removes every call and refuses new ones
func (pt *pendingTable) close() []*pendingCall {
	pt.lock.Lock()
	defer pt.lock.Unlock()

	pt.closed = true

	calls := lo.Values(pt.calls)
	pt.calls = map[string]*pendingCall{}

	for _, call := range calls {
		if call.timer != nil {
			call.timer.Stop()
		}
	}

	return calls
}

func (pt *pendingTable) isClosed() bool {
	pt.lock.Lock()
	defer pt.lock.Unlock()

	return pt.closed
}

func (pt *pendingTable) size() int {
	pt.lock.Lock()
	defer pt.lock.Unlock()

	return len(pt.calls)
}
