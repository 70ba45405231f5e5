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

package transport

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/erlide/erlbridge/pkg/term"
	"github.com/erlide/erlbridge/pkg/term/etf"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	nucliozap "github.com/nuclio/zap"
	"github.com/stretchr/testify/suite"
)

type fakeNode struct {
	conn  net.Conn
	codec term.Codec
}

func (f *fakeNode) read() (term.Term, error) {
	payload, err := ReadFrame(f.conn, DefaultMaxFrameSize)
	if err != nil {
		return nil, err
	}

	return f.codec.Decode(payload)
}

func (f *fakeNode) write(value term.Term) error {
	payload, err := f.codec.Encode(value)
	if err != nil {
		return err
	}

	return WriteFrame(f.conn, payload, DefaultMaxFrameSize)
}

// answer reads the hello and replies with whatever reply returns
func (f *fakeNode) answer(reply func(nodeName term.Term) term.Term) error {
	hello, err := f.read()
	if err != nil {
		return err
	}

	if !term.IsTagged(hello, helloTag) {
		return errors.Errorf("Unexpected hello %s", hello)
	}

	nodeName, err := term.Element(hello, 1)
	if err != nil {
		return err
	}

	return f.write(reply(nodeName))
}

func (f *fakeNode) welcome() error {
	return f.answer(func(nodeName term.Term) term.Term {
		return term.NewTuple(welcomeTag, nodeName)
	})
}

type recordingHandler struct {
	lock        sync.Mutex
	messages    []term.Term
	disconnects []error
}

func (h *recordingHandler) HandleMessage(message term.Term) {
	h.lock.Lock()
	defer h.lock.Unlock()

	if term.Atom("boom").Equal(message) {
		panic("handler failure")
	}

	h.messages = append(h.messages, message)
}

func (h *recordingHandler) HandleDisconnect(err error) {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.disconnects = append(h.disconnects, err)
}

func (h *recordingHandler) messageCount() int {
	h.lock.Lock()
	defer h.lock.Unlock()

	return len(h.messages)
}

func (h *recordingHandler) disconnectCount() int {
	h.lock.Lock()
	defer h.lock.Unlock()

	return len(h.disconnects)
}

type ConnectionTestSuite struct {
	suite.Suite
	logger        logger.Logger
	configuration *ConnectionConfiguration
	connection    *Connection
	node          *fakeNode
}

func (suite *ConnectionTestSuite) SetupTest() {
	var err error

	suite.logger, err = nucliozap.NewNuclioZapTest("test")
	suite.Require().NoError(err)

	suite.configuration = &ConnectionConfiguration{
		Codec:            etf.NewCodec(),
		Cookie:           "secret",
		HandshakeTimeout: time.Second,
		MaxFrameSize:     1024,
	}

	local, remote := net.Pipe()
	suite.connection = NewConnection(suite.logger, local, "erlide@localhost", suite.configuration)
	suite.node = &fakeNode{conn: remote, codec: etf.NewCodec()}
}

func (suite *ConnectionTestSuite) TearDownTest() {
	suite.connection.Close() // nolint: errcheck
	suite.node.conn.Close()  // nolint: errcheck
}

func (suite *ConnectionTestSuite) TestHandshake() {
	var hello term.Term
	errChan := make(chan error, 1)

	go func() {
		errChan <- suite.node.answer(func(nodeName term.Term) term.Term {
			hello = nodeName
			return term.NewTuple(welcomeTag, nodeName)
		})
	}()

	suite.Require().Equal(Connecting, suite.connection.State())
	suite.Require().NoError(suite.connection.Handshake())
	suite.Require().NoError(<-errChan)
	suite.Require().True(term.Atom("erlide@localhost").Equal(hello))
	suite.Require().Equal(Connected, suite.connection.State())
}

func (suite *ConnectionTestSuite) TestHandshakeRejected() {
	go suite.node.answer(func(term.Term) term.Term { // nolint: errcheck
		return term.NewTuple(rejectTag, term.Atom("bad_cookie"))
	})

	err := suite.connection.Handshake()
	suite.Require().Error(err)
	suite.Require().True(IsHandshakeError(err))
	suite.Require().Contains(err.Error(), "bad_cookie")
}

func (suite *ConnectionTestSuite) TestHandshakeNameMismatch() {
	go suite.node.answer(func(term.Term) term.Term { // nolint: errcheck
		return term.NewTuple(welcomeTag, term.Atom("other@localhost"))
	})

	err := suite.connection.Handshake()
	suite.Require().True(IsHandshakeError(err))
}

func (suite *ConnectionTestSuite) TestReceiveTimeout() {
	started := time.Now()

	_, err := suite.connection.Receive(50 * time.Millisecond)
	suite.Require().Error(err)
	suite.Require().Less(time.Since(started), time.Second)
}

func (suite *ConnectionTestSuite) TestReceiveLoop() {
	handler := &recordingHandler{}
	suite.Require().NoError(suite.connection.Start(handler))

	_, err := suite.connection.Receive(time.Millisecond)
	suite.Require().Equal(ErrReceiveLoopRunning, err)

	suite.Require().NoError(suite.node.write(term.NewTuple(term.OK, term.NewInteger(1))))

	// garbage is skipped without dropping the connection
	suite.Require().NoError(WriteFrame(suite.node.conn, []byte{1, 2, 3}, DefaultMaxFrameSize))

	// as is a panicking handler
	suite.Require().NoError(suite.node.write(term.Atom("boom")))
	suite.Require().NoError(suite.node.write(term.NewInteger(2)))

	suite.Require().Eventually(func() bool {
		return handler.messageCount() == 2
	}, time.Second, 10*time.Millisecond)

	suite.Require().True(term.NewInteger(2).Equal(handler.messages[1]))
	suite.Require().Equal(0, handler.disconnectCount())
	suite.Require().NotEqual(Disconnected, suite.connection.State())
}

func (suite *ConnectionTestSuite) TestRemoteDisconnect() {
	handler := &recordingHandler{}
	suite.Require().NoError(suite.connection.Start(handler))

	suite.node.conn.Close() // nolint: errcheck

	select {
	case <-suite.connection.Done():
	case <-time.After(time.Second):
		suite.Fail("Connection was not disconnected")
	}

	suite.Require().Equal(Disconnected, suite.connection.State())
	suite.Require().Error(suite.connection.Err())
	suite.Require().Equal(ErrDisconnected, suite.connection.Send(term.OK))

	suite.connection.Close() // nolint: errcheck
	suite.Require().Equal(1, handler.disconnectCount())
}

func (suite *ConnectionTestSuite) TestCloseIsIdempotent() {
	handler := &recordingHandler{}
	suite.Require().NoError(suite.connection.Start(handler))

	for attempt := 0; attempt < 3; attempt++ {
		suite.Require().NoError(suite.connection.Close())
	}

	suite.Require().Equal(1, handler.disconnectCount())
	suite.Require().Equal(ErrClosed, suite.connection.Err())
	suite.Require().Error(suite.connection.Start(handler))
}

func (suite *ConnectionTestSuite) TestOversizedFrameDisconnects() {
	handler := &recordingHandler{}
	suite.Require().NoError(suite.connection.Start(handler))

	go suite.node.conn.Write([]byte{0, 1, 0, 0}) // nolint: errcheck

	select {
	case <-suite.connection.Done():
	case <-time.After(time.Second):
		suite.Fail("Connection was not disconnected")
	}

	_, tooLarge := errors.RootCause(suite.connection.Err()).(*FrameTooLargeError)
	suite.Require().True(tooLarge)
}

func (suite *ConnectionTestSuite) TestSendOversizedFrame() {
	err := suite.connection.Send(term.Binary(make([]byte, 2048)))
	suite.Require().Error(err)

	_, tooLarge := err.(*FrameTooLargeError)
	suite.Require().True(tooLarge)
	suite.Require().NotEqual(Disconnected, suite.connection.State())
}

func (suite *ConnectionTestSuite) TestSendEncodingError() {
	err := suite.connection.Send(term.NewTuple(nil))
	suite.Require().True(term.IsEncodingError(err))
}

type ManagerTestSuite struct {
	suite.Suite
	logger  logger.Logger
	manager *Manager
	ctx     context.Context
}

func (suite *ManagerTestSuite) SetupTest() {
	var err error

	suite.logger, err = nucliozap.NewNuclioZapTest("test")
	suite.Require().NoError(err)

	suite.ctx = context.Background()
	suite.manager = NewManager(suite.logger, &ConnectionConfiguration{
		Codec:            etf.NewCodec(),
		HandshakeTimeout: time.Second,
	})
}

func (suite *ManagerTestSuite) TearDownTest() {
	suite.manager.CloseAll()
}

func (suite *ManagerTestSuite) TestAccept() {
	for _, socketType := range []SocketType{UnixSocket, TCPSocket} {
		listener, address, err := CreateListener(suite.logger, socketType, 5*time.Second)
		suite.Require().NoError(err)

		nodeName := "accepted" + address
		go suite.connectNode(address)

		connection, err := suite.manager.Accept(suite.ctx, listener, nodeName)
		suite.Require().NoError(err)
		suite.Require().Equal(Connected, connection.State())

		found, exists := suite.manager.Get(nodeName)
		suite.Require().True(exists)
		suite.Require().Equal(connection, found)
	}
}

func (suite *ManagerTestSuite) TestAcceptCancelled() {
	listener, _, err := CreateListener(suite.logger, TCPSocket, 5*time.Second)
	suite.Require().NoError(err)

	ctx, cancel := context.WithTimeout(suite.ctx, 50*time.Millisecond)
	defer cancel()

	_, err = suite.manager.Accept(ctx, listener, "never")
	suite.Require().Error(err)

	_, exists := suite.manager.Get("never")
	suite.Require().False(exists)
}

func (suite *ManagerTestSuite) TestOneConnectionPerNode() {
	listener, address, err := CreateListener(suite.logger, TCPSocket, 5*time.Second)
	suite.Require().NoError(err)

	go suite.connectNode(address)

	connection, err := suite.manager.Accept(suite.ctx, listener, "single")
	suite.Require().NoError(err)

	_, err = suite.manager.Dial(suite.ctx, "single", address, nil)
	suite.Require().Equal(ErrAlreadyConnected, errors.RootCause(err))
	suite.Require().Equal([]string{"single"}, suite.manager.NodeNames())

	// a disconnected node frees its name
	connection.Close() // nolint: errcheck

	suite.Require().Eventually(func() bool {
		_, exists := suite.manager.Get("single")
		return !exists
	}, time.Second, 10*time.Millisecond)
}

func (suite *ManagerTestSuite) TestDialRetriesUntilNodeIsUp() {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	suite.Require().NoError(err)

	address := listener.Addr().String()
	suite.Require().NoError(listener.Close())

	// bring the node up only after a few failed attempts
	go func() {
		time.Sleep(300 * time.Millisecond)

		nodeListener, err := net.Listen("tcp", address)
		if err != nil {
			return
		}
		defer nodeListener.Close() // nolint: errcheck

		conn, err := nodeListener.Accept()
		if err != nil {
			return
		}

		(&fakeNode{conn: conn, codec: etf.NewCodec()}).welcome() // nolint: errcheck
	}()

	connection, err := suite.manager.Dial(suite.ctx, "external", address, &RetryConfiguration{
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     100 * time.Millisecond,
		MaxElapsedTime:  5 * time.Second,
	})
	suite.Require().NoError(err)
	suite.Require().Equal(Connected, connection.State())
}

func (suite *ManagerTestSuite) TestDialGivesUp() {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	suite.Require().NoError(err)

	address := listener.Addr().String()
	suite.Require().NoError(listener.Close())

	_, err = suite.manager.Dial(suite.ctx, "missing", address, &RetryConfiguration{
		InitialInterval: 10 * time.Millisecond,
		MaxElapsedTime:  100 * time.Millisecond,
	})
	suite.Require().Error(err)

	_, exists := suite.manager.Get("missing")
	suite.Require().False(exists)
}

func (suite *ManagerTestSuite) TestParseAddress() {
	network, address := ParseAddress("/tmp/erlbridge.sock")
	suite.Require().Equal("unix", network)
	suite.Require().Equal("/tmp/erlbridge.sock", address)

	network, address = ParseAddress("4369")
	suite.Require().Equal("tcp", network)
	suite.Require().Equal("127.0.0.1:4369", address)

	network, address = ParseAddress("host:1")
	suite.Require().Equal("tcp", network)
	suite.Require().Equal("host:1", address)
}

func (suite *ManagerTestSuite) TestNewCodec() {
	for _, name := range []string{"", "etf", "msgpack"} {
		codec, err := NewCodec(name)
		suite.Require().NoError(err)
		suite.Require().NotNil(codec)
	}

	_, err := NewCodec("json")
	suite.Require().Error(err)
}

func (suite *ManagerTestSuite) connectNode(address string) {
	network, dialAddress := ParseAddress(address)

	conn, err := net.Dial(network, dialAddress)
	if err != nil {
		return
	}

	(&fakeNode{conn: conn, codec: etf.NewCodec()}).welcome() // nolint: errcheck
}

func TestConnectionTestSuite(t *testing.T) {
	suite.Run(t, new(ConnectionTestSuite))
}

func TestManagerTestSuite(t *testing.T) {
	suite.Run(t, new(ManagerTestSuite))
}
