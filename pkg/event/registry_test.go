//go:build test_unit

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
	"testing"

	"github.com/erlide/erlbridge/pkg/term"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	nucliozap "github.com/nuclio/zap"
	"github.com/stretchr/testify/suite"
)

type recordingHandler struct {
	lock     sync.Mutex
	accepts  []string
	received []*Message
	err      error
	panics   bool
	stopped  []string

	// called from HandleEvent
	onEvent func()
}

func (h *recordingHandler) AcceptsEvent(name string) bool {
	for _, accepted := range h.accepts {
		if accepted == name {
			return true
		}
	}

	return false
}

func (h *recordingHandler) HandleEvent(message *Message) error {
	h.lock.Lock()
	h.received = append(h.received, message)
	onEvent := h.onEvent
	h.lock.Unlock()

	if onEvent != nil {
		onEvent()
	}

	if h.panics {
		panic("handler failure")
	}

	return h.err
}

func (h *recordingHandler) Stop(reason string) {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.stopped = append(h.stopped, reason)
}

func (h *recordingHandler) receivedCount() int {
	h.lock.Lock()
	defer h.lock.Unlock()

	return len(h.received)
}

type plainHandler struct {
	count int
}

func (h *plainHandler) AcceptsEvent(string) bool { return true }

func (h *plainHandler) HandleEvent(*Message) error {
	h.count++
	return nil
}

type RegistryTestSuite struct {
	suite.Suite
	logger   logger.Logger
	registry *Registry
	pid      term.Pid
}

func (suite *RegistryTestSuite) SetupTest() {
	var err error

	suite.logger, err = nucliozap.NewNuclioZapTest("test")
	suite.Require().NoError(err)

	suite.registry = NewRegistry(suite.logger)
	suite.pid = term.Pid{Node: "erlide@localhost", ID: 42}
}

func (suite *RegistryTestSuite) TestParseMessage() {
	raw := term.NewTuple(term.Atom("log"), suite.pid, term.String("text"))

	message, err := ParseMessage(raw)
	suite.Require().NoError(err)
	suite.Require().Equal("log", message.Name)
	suite.Require().True(suite.pid.Equal(message.Pid))
	suite.Require().True(term.String("text").Equal(message.Payload))
	suite.Require().True(raw.Equal(message.Raw))

	for _, invalid := range []term.Term{
		term.OK,
		term.NewTuple(term.Atom("log"), suite.pid),
		term.NewTuple(term.String("log"), suite.pid, term.OK),
	} {
		_, err := ParseMessage(invalid)
		suite.Require().Error(err)
	}
}

func (suite *RegistryTestSuite) TestDispatchInRegistrationOrder() {
	var order []string

	first := &recordingHandler{accepts: []string{"log"}}
	first.onEvent = func() { order = append(order, "first") }

	second := &recordingHandler{accepts: []string{"log", "other"}}
	second.onEvent = func() { order = append(order, "second") }

	notInterested := &recordingHandler{accepts: []string{"other"}}

	suite.registry.Register("node", first)
	suite.registry.Register("node", second)
	suite.registry.Register("node", notInterested)
	suite.registry.Register("node", first)

	suite.Require().Len(suite.registry.Handlers("node"), 3)

	delivered := suite.registry.Dispatch("node", suite.newMessage("log"))
	suite.Require().Equal(2, delivered)
	suite.Require().Equal([]string{"first", "second"}, order)
	suite.Require().Equal(0, notInterested.receivedCount())

	// other nodes' handlers see nothing
	suite.Require().Equal(0, suite.registry.Dispatch("elsewhere", suite.newMessage("log")))
}

func (suite *RegistryTestSuite) TestFailingHandlersDoNotStopDispatch() {
	failing := &recordingHandler{accepts: []string{"log"}, err: errors.New("bad event")}
	panicking := &recordingHandler{accepts: []string{"log"}, panics: true}
	healthy := &recordingHandler{accepts: []string{"log"}}

	suite.registry.Register("node", failing)
	suite.registry.Register("node", panicking)
	suite.registry.Register("node", healthy)

	suite.Require().Equal(3, suite.registry.Dispatch("node", suite.newMessage("log")))
	suite.Require().Equal(1, healthy.receivedCount())
}

func (suite *RegistryTestSuite) TestHandlerUnregistersItselfDuringDispatch() {
	selfRemoving := &recordingHandler{accepts: []string{"log"}}
	selfRemoving.onEvent = func() {
		suite.registry.Unregister(selfRemoving)
	}

	next := &recordingHandler{accepts: []string{"log"}}

	suite.registry.Register("node", selfRemoving)
	suite.registry.Register("node", next)

	suite.Require().Equal(2, suite.registry.Dispatch("node", suite.newMessage("log")))
	suite.Require().Equal(1, suite.registry.Dispatch("node", suite.newMessage("log")))
	suite.Require().Equal(1, selfRemoving.receivedCount())
	suite.Require().Equal(2, next.receivedCount())
}

func (suite *RegistryTestSuite) TestUnregister() {
	handler := &recordingHandler{accepts: []string{"log"}}

	suite.registry.Register("a", handler)
	suite.registry.Register("b", handler)

	suite.Require().True(suite.registry.Unregister(handler))
	suite.Require().False(suite.registry.Unregister(handler))
	suite.Require().Empty(suite.registry.Handlers("a"))
	suite.Require().Empty(suite.registry.Handlers("b"))
}

func (suite *RegistryTestSuite) TestUnregisterNodeStopsHandlers() {
	stoppable := &recordingHandler{accepts: []string{"log"}}
	plain := &plainHandler{}
	onOtherNode := &recordingHandler{accepts: []string{"log"}}

	suite.registry.Register("node", stoppable)
	suite.registry.Register("node", plain)
	suite.registry.Register("other", onOtherNode)

	suite.registry.UnregisterNode("node", "backend disposed")

	suite.Require().Equal([]string{"backend disposed"}, stoppable.stopped)
	suite.Require().Empty(onOtherNode.stopped)
	suite.Require().Empty(suite.registry.Handlers("node"))
	suite.Require().Len(suite.registry.Handlers("other"), 1)

	suite.Require().Equal(0, suite.registry.Dispatch("node", suite.newMessage("log")))
	suite.Require().Equal(0, plain.count)
}

func (suite *RegistryTestSuite) newMessage(name string) *Message {
	message, err := ParseMessage(term.NewTuple(term.Atom(name), suite.pid, term.OK))
	suite.Require().NoError(err)

	return message
}

func TestRegistryTestSuite(t *testing.T) {
	suite.Run(t, new(RegistryTestSuite))
}
