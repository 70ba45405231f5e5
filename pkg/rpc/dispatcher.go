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

	"github.com/nuclio/logger"
	"github.com/smallnest/chanx"
)

const dispatcherInitialCapacity = 16

// callbackDispatcher runs user callbacks in order on a goroutine of its own,
// so a slow callback never holds up the receive loop
type callbackDispatcher struct {
	logger logger.Logger

	lock     sync.Mutex
	closed   bool
	queue    *chanx.UnboundedChan[func()]
	doneChan chan struct{}
}

func newCallbackDispatcher(parentLogger logger.Logger) *callbackDispatcher {
	dispatcher := &callbackDispatcher{
		logger:   parentLogger.GetChild("dispatcher"),
		queue:    chanx.NewUnboundedChan[func()](context.Background(), dispatcherInitialCapacity),
		doneChan: make(chan struct{}),
	}

	go dispatcher.run()

	return dispatcher
}

func (cd *callbackDispatcher) submit(callback func()) {
	cd.lock.Lock()
	defer cd.lock.Unlock()

	// stragglers after close still run, just not in order
	if cd.closed {
		go cd.invoke(callback)
		return
	}

	cd.queue.In <- callback
}

// close lets queued callbacks drain and then stops the dispatcher
func (cd *callbackDispatcher) close() {
	cd.lock.Lock()
	defer cd.lock.Unlock()

	if cd.closed {
		return
	}

	cd.closed = true
	close(cd.queue.In)
}

func (cd *callbackDispatcher) run() {
	defer close(cd.doneChan)

	for callback := range cd.queue.Out {
		cd.invoke(callback)
	}
}

func (cd *callbackDispatcher) invoke(callback func()) {
	defer func() {
		if recovered := recover(); recovered != nil {
			cd.logger.ErrorWith("Panic in rpc callback", "panic", recovered)
		}
	}()

	callback()
}
