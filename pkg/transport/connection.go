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
	"bufio"
	"net"
	"sync"
	"time"

	"github.com/erlide/erlbridge/pkg/term"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
)

// Connection is a framed term stream to a single node
type Connection struct {
	logger        logger.Logger
	nodeName      string
	conn          net.Conn
	reader        *bufio.Reader
	configuration *ConnectionConfiguration

	writeLock sync.Mutex

	stateLock     sync.Mutex
	state         State
	started       bool
	handler       MessageHandler
	disconnectErr error

	closeOnce sync.Once
	doneChan  chan struct{}
}

// NewConnection wraps an established net.Conn. The connection starts out as
// Connecting until the handshake completes
func NewConnection(parentLogger logger.Logger,
	conn net.Conn,
	nodeName string,
	configuration *ConnectionConfiguration) *Connection {

	return &Connection{
		logger:        parentLogger.GetChild(nodeName),
		nodeName:      nodeName,
		conn:          conn,
		reader:        bufio.NewReader(conn),
		configuration: configuration,
		state:         Connecting,
		doneChan:      make(chan struct{}),
	}
}

// NodeName returns the name of the remote node
func (c *Connection) NodeName() string {
	return c.nodeName
}

// State returns the current connection state
func (c *Connection) State() State {
	c.stateLock.Lock()
	defer c.stateLock.Unlock()

	return c.state
}

// Done is closed once the connection is disconnected
func (c *Connection) Done() <-chan struct{} {
	return c.doneChan
}

// Err returns the reason the connection went down, or nil while it is up
func (c *Connection) Err() error {
	c.stateLock.Lock()
	defer c.stateLock.Unlock()

	return c.disconnectErr
}

// Send encodes and writes a single term. Nothing is retried
func (c *Connection) Send(message term.Term) error {
	if c.State() == Disconnected {
		return ErrDisconnected
	}

	payload, err := c.configuration.Codec.Encode(message)
	if err != nil {
		return err
	}

	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	if err := WriteFrame(c.conn, payload, c.configuration.maxFrameSize()); err != nil {
		if _, tooLarge := err.(*FrameTooLargeError); tooLarge {
			return err
		}

		c.disconnect(err)
		return errors.Wrapf(err, "Failed to send to %s", c.nodeName)
	}

	return nil
}

// Receive reads one term, waiting at most timeout (zero waits forever). Only
// valid before Start
func (c *Connection) Receive(timeout time.Duration) (term.Term, error) {
	c.stateLock.Lock()
	started := c.started
	c.stateLock.Unlock()

	if started {
		return nil, ErrReceiveLoopRunning
	}

	if c.State() == Disconnected {
		return nil, ErrDisconnected
	}

	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, errors.Wrap(err, "Can't set read deadline")
	}

	defer c.conn.SetReadDeadline(time.Time{}) // nolint: errcheck

	payload, err := ReadFrame(c.reader, c.configuration.maxFrameSize())
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to receive from %s", c.nodeName)
	}

	return c.configuration.Codec.Decode(payload)
}

// Start runs the receive loop in the background. Every decoded term is given
// to handler, and handler learns about the disconnect exactly once
func (c *Connection) Start(handler MessageHandler) error {
	c.stateLock.Lock()

	if c.started {
		c.stateLock.Unlock()
		return errors.New("Receive loop already started")
	}

	if c.state == Disconnected {
		c.stateLock.Unlock()
		return ErrDisconnected
	}

	c.started = true
	c.handler = handler
	c.stateLock.Unlock()

	go c.receiveLoop()

	return nil
}

// Close is idempotent and goes through the same path as a read failure
func (c *Connection) Close() error {
	c.disconnect(ErrClosed)
	return nil
}

func (c *Connection) setConnected() {
	c.stateLock.Lock()
	defer c.stateLock.Unlock()

	if c.state == Connecting {
		c.state = Connected
	}
}

func (c *Connection) receiveLoop() {
	for {
		payload, err := ReadFrame(c.reader, c.configuration.maxFrameSize())
		if err != nil {
			c.disconnect(err)
			return
		}

		message, err := c.configuration.Codec.Decode(payload)
		if err != nil {
			c.logger.WarnWith("Failed to decode frame, skipping",
				"size", len(payload),
				"err", err.Error())
			continue
		}

		c.handleMessage(message)
	}
}

func (c *Connection) handleMessage(message term.Term) {

	// a misbehaving handler must not take the receive loop down with it
	defer func() {
		if recovered := recover(); recovered != nil {
			c.logger.ErrorWith("Panic while handling message",
				"message", message.String(),
				"panic", recovered)
		}
	}()

	c.handler.HandleMessage(message)
}

func (c *Connection) disconnect(reason error) {
	c.closeOnce.Do(func() {
		c.stateLock.Lock()
		c.state = Disconnected
		c.disconnectErr = reason
		handler := c.handler
		c.stateLock.Unlock()

		if err := c.conn.Close(); err != nil {
			c.logger.DebugWith("Failed to close connection", "err", err.Error())
		}

		c.logger.InfoWith("Connection closed", "reason", reason.Error())

		close(c.doneChan)

		if handler != nil {
			handler.HandleDisconnect(reason)
		}
	})
}
