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

package eunit

import (
	"fmt"
	"sync"
	"time"

	"github.com/erlide/erlbridge/pkg/event"
	"github.com/erlide/erlbridge/pkg/term"

	"github.com/google/uuid"
	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	"github.com/samber/lo"
)

// State of a test run as seen through its events
type State int

const (
	StateWaitingStart State = iota
	StateRunning
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateWaitingStart:
		return "waiting-start"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	}

	return fmt.Sprintf("unknown state - %d", s)
}

const (
	eventRunStarted  = "run_started"
	eventTestBegin   = "test_begin"
	eventTestEnd     = "test_end"
	eventTestCancel  = "test_cancel"
	eventGroupBegin  = "group_begin"
	eventGroupEnd    = "group_end"
	eventGroupCancel = "group_cancel"
	eventTerminated  = "terminated"
)

var eventNames = []string{
	eventRunStarted,
	eventTestBegin,
	eventTestEnd,
	eventTestCancel,
	eventGroupBegin,
	eventGroupEnd,
	eventGroupCancel,
	eventTerminated,
}

// Listener is notified about the progress of a test run
type Listener interface {
	TestRunStarted(testCount int)
	TestStarted(id string, name string)
	TestEnded(id string, name string)
	TestFailed(id string, name string, trace string, expected string, actual string)
	TestRunEnded(elapsed time.Duration)
}

// EventHandler turns the events of one eunit run into listener notifications.
// Only events sent by the tracked event pid are considered
type EventHandler struct {
	logger   logger.Logger
	runID    string
	eventPid term.Pid

	testCounts     map[string]int
	totalTestCount int

	lock      sync.Mutex
	state     State
	startedAt time.Time
	listeners []Listener
}

// NewEventHandler creates a handler for the run reporting through eventPid.
// counts holds the number of tests per function, in the order of functions
func NewEventHandler(parentLogger logger.Logger,
	eventPid term.Pid,
	functions []TestFunction,
	counts []int) *EventHandler {

	testCounts := make(map[string]int, len(functions))
	totalTestCount := 0

	// extra entries on either side are ignored
	for index := 0; index < len(functions) && index < len(counts); index++ {
		testCounts[functions[index].Name()] = counts[index]
		totalTestCount += counts[index]
	}

	runID := uuid.New().String()

	return &EventHandler{
		logger:         parentLogger.GetChild("eunit").GetChild(runID[:8]),
		runID:          runID,
		eventPid:       eventPid,
		testCounts:     testCounts,
		totalTestCount: totalTestCount,
	}
}

// RunID identifies the run in logs
func (h *EventHandler) RunID() string {
	return h.runID
}

func (h *EventHandler) State() State {
	h.lock.Lock()
	defer h.lock.Unlock()

	return h.state
}

// TotalTestCount is the number of tests the run is expected to execute
func (h *EventHandler) TotalTestCount() int {
	return h.totalTestCount
}

// TestCount returns the number of tests of a test function
func (h *EventHandler) TestCount(functionName string) (int, bool) {
	count, found := h.testCounts[functionName]
	return count, found
}

func (h *EventHandler) AddListener(listener Listener) {
	h.lock.Lock()
	defer h.lock.Unlock()

	if !lo.ContainsBy(h.listeners, func(added Listener) bool { return added == listener }) {
		h.listeners = append(h.listeners, listener)
	}
}

func (h *EventHandler) RemoveListener(listener Listener) {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.listeners = lo.Reject(h.listeners, func(added Listener, _ int) bool {
		return added == listener
	})
}

func (h *EventHandler) AcceptsEvent(name string) bool {
	return lo.Contains(eventNames, name)
}

func (h *EventHandler) HandleEvent(message *event.Message) error {
	if !h.eventPid.Equal(message.Pid) {
		return nil
	}

	argument, isTuple := message.Payload.(term.Tuple)
	if !isTuple {
		return errors.Errorf("Malformed %s event: %s", message.Name, message.Payload)
	}

	notify, err := h.transition(message.Name, argument)
	if err != nil {
		return errors.Wrapf(err, "Malformed %s event", message.Name)
	}

	if notify == nil {
		return nil
	}

	for _, listener := range h.listenersSnapshot() {
		notify(listener)
	}

	return nil
}

// Stop terminates the run and drops its listeners
func (h *EventHandler) Stop(reason string) {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.logger.DebugWith("Stopping eunit event handler", "reason", reason, "state", h.state.String())

	h.state = StateTerminated
	h.listeners = nil
}

// transition advances the state machine and returns the notification to
// deliver, if any
func (h *EventHandler) transition(name string, argument term.Tuple) (func(Listener), error) {
	h.lock.Lock()
	defer h.lock.Unlock()

	switch h.state {
	case StateTerminated:
		return nil, nil
	case StateWaitingStart:
		switch name {
		case eventRunStarted:
			h.state = StateRunning
			h.startedAt = time.Now()

			h.logger.DebugWith("Test run started", "testCount", h.totalTestCount)

			totalTestCount := h.totalTestCount
			return func(listener Listener) {
				listener.TestRunStarted(totalTestCount)
			}, nil
		case eventTerminated:
			h.state = StateTerminated
			return func(listener Listener) {
				listener.TestRunEnded(0)
			}, nil
		}

		h.logger.DebugWith("Ignoring event before the run started", "event", name)
		return nil, nil
	}

	switch name {
	case eventRunStarted:
		return nil, nil

	case eventTerminated:
		h.state = StateTerminated
		elapsed := time.Since(h.startedAt)

		h.logger.DebugWith("Test run ended", "elapsed", elapsed.String())

		return func(listener Listener) {
			listener.TestRunEnded(elapsed)
		}, nil

	case eventTestBegin:
		testName, err := nameAt(argument, 0)
		if err != nil {
			return nil, err
		}

		return func(listener Listener) {
			listener.TestStarted(testName, testName)
		}, nil

	case eventGroupBegin:
		groupName, err := nameAt(argument, 1)
		if err != nil {
			return nil, err
		}

		return func(listener Listener) {
			listener.TestStarted(groupName, groupName)
		}, nil

	case eventGroupEnd, eventGroupCancel, eventTestCancel:
		entryName, err := nameAt(argument, 1)
		if err != nil {
			return nil, err
		}

		return func(listener Listener) {
			listener.TestEnded(entryName, entryName)
		}, nil

	case eventTestEnd:
		return testEndNotification(argument)
	}

	return nil, nil
}

func (h *EventHandler) listenersSnapshot() []Listener {
	h.lock.Lock()
	defer h.lock.Unlock()

	return append([]Listener{}, h.listeners...)
}

func testEndNotification(argument term.Tuple) (func(Listener), error) {
	testName, err := nameAt(argument, 1)
	if err != nil {
		return nil, err
	}

	testResult, err := term.Element(argument, 3)
	if err != nil {
		return nil, err
	}

	if term.IsOK(testResult) {
		return func(listener Listener) {
			listener.TestEnded(testName, testName)
		}, nil
	}

	trace := testResult.String()
	if failure, err := term.Element(testResult, 1); err == nil {
		trace = failure.String()
	}

	expected := assertionValue(testResult, "expected")
	actual := assertionValue(testResult, "value")

	return func(listener Listener) {
		listener.TestFailed(testName, testName, trace, expected, actual)
	}, nil
}

// assertionValue digs {expected, E} and {value, V} out of
// {error, {_, {_, [Property...]}}}. When absent, the key itself is returned
func assertionValue(testResult term.Term, key string) string {
	reason, err := term.Element(testResult, 1)
	if err != nil {
		return key
	}

	assertion, err := term.Element(reason, 1)
	if err != nil {
		return key
	}

	properties, err := term.Element(assertion, 1)
	if err != nil {
		return key
	}

	list, isList := properties.(term.List)
	if !isList {
		return key
	}

	for _, property := range list.Elements {
		if term.IsTagged(property, term.Atom(key)) {
			if value, err := term.Element(property, 1); err == nil {
				return value.String()
			}
		}
	}

	return key
}

func nameAt(argument term.Tuple, index int) (string, error) {
	value, err := term.Element(argument, index)
	if err != nil {
		return "", err
	}

	return text(value), nil
}

// text renders names, which may be charlists, binaries, atoms or arbitrary terms
func text(value term.Term) string {
	if converted, err := term.ToString(value); err == nil {
		return converted
	}

	return value.String()
}
