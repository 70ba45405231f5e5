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

package event

import (
	"sync"

	"github.com/nuclio/logger"
	"github.com/samber/lo"
)

// Handler receives the events it accepts
type Handler interface {
	AcceptsEvent(name string) bool
	HandleEvent(message *Message) error
}

// Stopper is implemented by handlers that want to know when they are removed
// because their node went away
type Stopper interface {
	Stop(reason string)
}

// Registry holds the event handlers of every node
type Registry struct {
	logger logger.Logger

	lock     sync.Mutex
	handlers map[string][]Handler
}

// NewRegistry creates an empty registry
func NewRegistry(parentLogger logger.Logger) *Registry {
	return &Registry{
		logger:   parentLogger.GetChild("events"),
		handlers: map[string][]Handler{},
	}
}

// Register adds a handler for events from a node. Registering the same
// handler twice for a node has no effect
func (r *Registry) Register(nodeName string, handler Handler) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if containsHandler(r.handlers[nodeName], handler) {
		return
	}

	r.handlers[nodeName] = append(r.handlers[nodeName], handler)
}

// Unregister removes a handler from every node. Returns false if it wasn't registered
func (r *Registry) Unregister(handler Handler) bool {
	r.lock.Lock()
	defer r.lock.Unlock()

	found := false

	for nodeName, handlers := range r.handlers {
		if !containsHandler(handlers, handler) {
			continue
		}

		found = true

		remaining := lo.Reject(handlers, func(registered Handler, _ int) bool {
			return registered == handler
		})

		if len(remaining) > 0 {
			r.handlers[nodeName] = remaining
		} else {
			delete(r.handlers, nodeName)
		}
	}

	return found
}

// UnregisterNode removes all handlers of a node, stopping those that can be stopped
func (r *Registry) UnregisterNode(nodeName string, reason string) {
	r.lock.Lock()
	handlers := r.handlers[nodeName]
	delete(r.handlers, nodeName)
	r.lock.Unlock()

	for _, handler := range handlers {
		if stopper, isStopper := handler.(Stopper); isStopper {
			r.stopHandler(stopper, reason)
		}
	}
}

// Handlers returns the handlers of a node in registration order
func (r *Registry) Handlers(nodeName string) []Handler {
	r.lock.Lock()
	defer r.lock.Unlock()

	return append([]Handler{}, r.handlers[nodeName]...)
}

// Dispatch delivers message to every handler of the node that accepts it and
// returns how many did. Handlers may register and unregister from within
// HandleEvent
func (r *Registry) Dispatch(nodeName string, message *Message) int {
	delivered := 0

	for _, handler := range r.Handlers(nodeName) {
		if !handler.AcceptsEvent(message.Name) {
			continue
		}

		delivered++
		r.deliver(nodeName, handler, message)
	}

	if delivered == 0 {
		r.logger.DebugWith("No handler for event", "node", nodeName, "event", message.Name)
	}

	return delivered
}

func (r *Registry) deliver(nodeName string, handler Handler, message *Message) {
	defer func() {
		if recovered := recover(); recovered != nil {
			r.logger.ErrorWith("Panic while handling event",
				"node", nodeName,
				"event", message.Name,
				"panic", recovered)
		}
	}()

	if err := handler.HandleEvent(message); err != nil {
		r.logger.WarnWith("Failed to handle event",
			"node", nodeName,
			"event", message.Name,
			"err", err.Error())
	}
}

func (r *Registry) stopHandler(stopper Stopper, reason string) {
	defer func() {
		if recovered := recover(); recovered != nil {
			r.logger.ErrorWith("Panic while stopping event handler", "panic", recovered)
		}
	}()

	stopper.Stop(reason)
}

func containsHandler(handlers []Handler, handler Handler) bool {
	return lo.ContainsBy(handlers, func(registered Handler) bool {
		return registered == handler
	})
}
