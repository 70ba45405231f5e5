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
	"fmt"
	"time"

	"github.com/erlide/erlbridge/pkg/term"

	"github.com/nuclio/errors"
)

// State is the state of a connection
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	default:
		return fmt.Sprintf("Unknown state - %d", s)
	}
}

const (
	DefaultMaxFrameSize     = 64 * 1024 * 1024
	DefaultHandshakeTimeout = 5 * time.Second
)

var (
	ErrDisconnected       = errors.New("Connection is disconnected")
	ErrClosed             = errors.New("Connection closed")
	ErrAlreadyConnected   = errors.New("Node already has a live connection")
	ErrReceiveLoopRunning = errors.New("Can't receive directly while the receive loop is running")
)

// MessageHandler receives everything read by a connection's receive loop
type MessageHandler interface {

	// HandleMessage is called from the receive goroutine for every decoded term
	HandleMessage(message term.Term)

	// HandleDisconnect is called exactly once, when the connection goes down
	HandleDisconnect(err error)
}

// FrameTooLargeError is returned when a frame exceeds the configured limit
type FrameTooLargeError struct {
	Size    uint64
	MaxSize int
}

func (e *FrameTooLargeError) Error() string {
	return fmt.Sprintf("Frame of %d bytes exceeds the maximum of %d", e.Size, e.MaxSize)
}

// HandshakeError is returned when the remote side refuses or answers unexpectedly
type HandshakeError struct {
	Node   string
	Reason string
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("Handshake with %s failed: %s", e.Node, e.Reason)
}

// ConnectionConfiguration holds what every connection needs
type ConnectionConfiguration struct {
	Codec            term.Codec
	Cookie           string
	MaxFrameSize     int
	HandshakeTimeout time.Duration
}

func (c *ConnectionConfiguration) maxFrameSize() int {
	if c.MaxFrameSize <= 0 {
		return DefaultMaxFrameSize
	}

	return c.MaxFrameSize
}

func (c *ConnectionConfiguration) handshakeTimeout() time.Duration {
	if c.HandshakeTimeout <= 0 {
		return DefaultHandshakeTimeout
	}

	return c.HandshakeTimeout
}

// RetryConfiguration controls how dialing an external node is retried
type RetryConfiguration struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration

	// zero means retry until the context is done
	MaxElapsedTime time.Duration
}
