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
	"github.com/erlide/erlbridge/pkg/term"

	"github.com/nuclio/errors"
)

var (
	helloTag   = term.Atom("erlbridge_hello")
	welcomeTag = term.Atom("erlbridge_welcome")
	rejectTag  = term.Atom("erlbridge_reject")
)

// Handshake sends {erlbridge_hello, Node, Cookie} and waits for
// {erlbridge_welcome, Node}. On success the connection is Connected
func (c *Connection) Handshake() error {
	hello := term.NewTuple(helloTag, term.Atom(c.nodeName), term.Binary(c.configuration.Cookie))
	if err := c.Send(hello); err != nil {
		return errors.Wrap(err, "Failed to send handshake")
	}

	reply, err := c.Receive(c.configuration.handshakeTimeout())
	if err != nil {
		return errors.Wrap(err, "Failed to receive handshake reply")
	}

	switch {
	case term.IsTagged(reply, welcomeTag):
		name, err := term.Element(reply, 1)
		if err != nil {
			return &HandshakeError{Node: c.nodeName, Reason: "welcome without a node name"}
		}

		nameText, err := term.ToString(name)
		if err != nil || nameText != c.nodeName {
			return &HandshakeError{Node: c.nodeName, Reason: "peer answered as " + name.String()}
		}

	case term.IsTagged(reply, rejectTag):
		reason := "rejected"
		if rejectReason, err := term.Element(reply, 1); err == nil {
			reason = "rejected: " + rejectReason.String()
		}

		return &HandshakeError{Node: c.nodeName, Reason: reason}

	default:
		return &HandshakeError{Node: c.nodeName, Reason: "unexpected reply " + reply.String()}
	}

	c.setConnected()
	c.logger.DebugWith("Handshake completed", "node", c.nodeName)

	return nil
}

// IsHandshakeError returns true if the root cause of err is a HandshakeError
func IsHandshakeError(err error) bool {
	_, ok := errors.RootCause(err).(*HandshakeError)
	return ok
}
