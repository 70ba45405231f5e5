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

package tracing

import (
	"sync"

	"github.com/erlide/erlbridge/pkg/event"
	"github.com/erlide/erlbridge/pkg/term"

	"github.com/nuclio/logger"
)

const eventName = "trace_event"

var stopTracingAtom = term.Atom("stop_tracing")

type finishFunc func(status Status, reason term.Term)

// EventHandler consumes the trace_event stream of one load. It finishes
// once, on stop_tracing, on {error, Reason} or when stopped
type EventHandler struct {
	logger   logger.Logger
	sink     Sink
	fileInfo bool
	finish   finishFunc

	lock      sync.Mutex
	seenTrace bool
	finished  bool
}

func newEventHandler(parentLogger logger.Logger, sink Sink, fileInfo bool, finish finishFunc) *EventHandler {
	return &EventHandler{
		logger:   parentLogger.GetChild("events"),
		sink:     sink,
		fileInfo: fileInfo,
		finish:   finish,
	}
}

func (h *EventHandler) AcceptsEvent(name string) bool {
	return name == eventName
}

func (h *EventHandler) HandleEvent(message *event.Message) error {
	payload := message.Payload

	switch {
	case stopTracingAtom.Equal(payload):
		h.lock.Lock()
		status := StatusOK
		if !h.seenTrace {
			status = StatusEmpty
		}
		h.lock.Unlock()

		h.complete(status, nil)

	case term.IsTagged(payload, term.Error):
		reason, err := term.Element(payload, 1)
		if err != nil {
			reason = payload
		}

		h.complete(StatusError, reason)

	default:
		h.lock.Lock()
		if h.finished {
			h.lock.Unlock()
			return nil
		}
		h.seenTrace = true
		h.lock.Unlock()

		if h.sink == nil {
			return nil
		}

		if h.fileInfo {
			h.sink.AddFileInfo(payload)
		} else {
			h.sink.AddTrace(payload)
		}
	}

	return nil
}

// Stop ends the load when the node goes away
func (h *EventHandler) Stop(reason string) {
	h.complete(StatusExceptionThrown, term.String(reason))
}

func (h *EventHandler) complete(status Status, reason term.Term) {
	h.lock.Lock()
	if h.finished {
		h.lock.Unlock()
		return
	}
	h.finished = true
	h.lock.Unlock()

	h.logger.DebugWith("Trace load finished", "status", status.String())

	h.finish(status, reason)
}
