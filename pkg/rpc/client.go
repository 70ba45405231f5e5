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
	"time"

	"github.com/erlide/erlbridge/pkg/term"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	"github.com/rs/xid"
)

var (
	callTag         = term.Atom("call")
	callProgressTag = term.Atom("call_progress")
	castTag         = term.Atom("cast")
	sendTag         = term.Atom("send")
	doneTag         = term.Atom("done")
)

// Sender is the outbound half of a connection
type Sender interface {
	Send(message term.Term) error
}

// Client issues calls to one node and routes the replies back to them
type Client struct {
	logger        logger.Logger
	nodeName      string
	sender        Sender
	configuration *ClientConfiguration
	pending       *pendingTable
	dispatcher    *callbackDispatcher

	closeOnce   sync.Once
	closeLock   sync.Mutex
	closeReason string
}

// NewClient creates a client sending through sender. A nil sender yields a
// client on which every call fails with NoConnectionError
func NewClient(parentLogger logger.Logger,
	nodeName string,
	sender Sender,
	configuration *ClientConfiguration) *Client {

	if configuration == nil {
		configuration = &ClientConfiguration{}
	}

	if configuration.DefaultTimeout == 0 {
		configuration.DefaultTimeout = DefaultTimeout
	}

	loggerInstance := parentLogger.GetChild("rpc")

	client := &Client{
		logger:        loggerInstance,
		nodeName:      nodeName,
		sender:        sender,
		configuration: configuration,
		pending:       newPendingTable(),
		dispatcher:    newCallbackDispatcher(loggerInstance),
	}

	if sender == nil {
		client.Close("never connected")
	}

	return client
}

// NodeName returns the name of the node the client talks to
func (c *Client) NodeName() string {
	return c.nodeName
}

func (c *Client) Call(ctx context.Context,
	options *CallOptions,
	module string,
	function string,
	signature string,
	args ...interface{}) (term.Term, error) {

	future := newFuture()

	token, err := c.startCall(ctx, callKindSync, options, module, function, signature, args, future.resolve, nil)
	if err != nil {
		return nil, err
	}

	select {
	case <-future.Done():
		return future.value, future.err
	case <-ctx.Done():

		// the remote side can't be cancelled, a late reply will be dropped
		if call, taken := c.pending.take(token); taken {
			c.resolveCall(call, nil, ctx.Err())
			return nil, errors.Wrapf(ctx.Err(), "Call to %s:%s abandoned", module, function)
		}

		// whoever took the call is resolving it
		<-future.Done()
		return future.value, future.err
	}
}

func (c *Client) CallNoException(ctx context.Context,
	options *CallOptions,
	module string,
	function string,
	signature string,
	args ...interface{}) *Result {

	value, err := c.Call(ctx, options, module, function, signature, args...)
	if err != nil {
		c.logger.DebugWith("Call failed",
			"module", module,
			"function", function,
			"err", err.Error())
	}

	return newResult(value, err)
}

func (c *Client) AsyncCall(ctx context.Context,
	options *CallOptions,
	module string,
	function string,
	signature string,
	args ...interface{}) (*Future, error) {

	future := newFuture()

	if _, err := c.startCall(ctx, callKindFuture, options, module, function, signature, args, future.resolve, nil); err != nil {
		return nil, err
	}

	return future, nil
}

func (c *Client) AsyncCallWithCallback(ctx context.Context,
	callback Callback,
	options *CallOptions,
	module string,
	function string,
	signature string,
	args ...interface{}) error {

	if callback == nil {
		return errors.New("Callback must not be nil")
	}

	_, err := c.startCall(ctx, callKindCallback, options, module, function, signature, args, func(value term.Term, err error) {
		c.dispatcher.submit(func() {
			callback(value, err)
		})
	}, nil)

	return err
}

func (c *Client) AsyncCallWithProgress(ctx context.Context,
	handler ProgressHandler,
	options *CallOptions,
	module string,
	function string,
	signature string,
	args ...interface{}) error {

	if handler == nil {
		return errors.New("Progress handler must not be nil")
	}

	_, err := c.startCall(ctx, callKindProgress, options, module, function, signature, args,
		func(value term.Term, err error) {
			c.dispatcher.submit(func() {
				handler.Done(value, err)
			})
		},
		func(value term.Term) {
			c.dispatcher.submit(func() {
				handler.Progress(value)
			})
		})

	return err
}

func (c *Client) Cast(ctx context.Context,
	options *CallOptions,
	module string,
	function string,
	signature string,
	args ...interface{}) error {

	encodedArgs, err := term.EncodeArgs(signature, args...)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "Cast abandoned before it was sent")
	}

	if c.pending.isClosed() {
		return c.noConnection()
	}

	message := term.NewTuple(castTag, term.Atom(module), term.Atom(function), term.NewList(encodedArgs...))
	if options != nil && options.GroupLeader != nil {
		message = append(message, options.GroupLeader)
	}

	if err := c.send(message); err != nil {
		return err
	}

	c.configuration.Metrics.castSent()

	return nil
}

func (c *Client) Send(target term.Term, message term.Term) error {
	switch typedTarget := target.(type) {
	case term.Atom, term.Pid:
	case term.Tuple:
		if len(typedTarget) != 2 || typedTarget[0].Kind() != term.AtomKind || typedTarget[1].Kind() != term.AtomKind {
			return errors.Errorf("Send target %s is not a {Name, Node} pair", target)
		}
	default:
		return errors.Errorf("Can't send to %s", target)
	}

	if c.pending.isClosed() {
		return c.noConnection()
	}

	return c.send(term.NewTuple(sendTag, target, message))
}

// HandleMessage consumes replies to calls. It returns false for anything that
// isn't a reply, so it can be passed on as an event. Replies nobody waits for
// anymore are consumed and dropped
func (c *Client) HandleMessage(message term.Term) bool {
	tuple, isTuple := message.(term.Tuple)
	if !isTuple || len(tuple) < 2 || len(tuple) > 3 {
		return false
	}

	tokenBinary, isBinary := tuple[0].(term.Binary)
	if !isBinary {
		return false
	}

	token := string(tokenBinary)

	call, exists := c.pending.get(token)
	if !exists {
		c.logger.DebugWith("Dropping reply to a call that is no longer pending", "token", token)
		return true
	}

	switch {
	case len(tuple) == 3 && term.Error.Equal(tuple[1]):
		c.complete(token, nil, &RemoteError{
			Module:   call.module,
			Function: call.function,
			Reason:   tuple[2],
		})

	case len(tuple) == 3 && call.kind == callKindProgress && doneTag.Equal(tuple[1]):
		c.complete(token, tuple[2], nil)

	case len(tuple) == 2 && call.kind == callKindProgress:
		if c.pending.touch(token) {
			call.progress(tuple[1])
		}

	case len(tuple) == 2:
		c.complete(token, tuple[1], nil)

	default:
		c.logger.WarnWith("Dropping reply of unexpected shape",
			"token", token,
			"reply", message.String())
	}

	return true
}

// Close resolves every pending call with NoConnectionError and makes all
// later calls fail the same way. Idempotent
func (c *Client) Close(reason string) {
	c.closeOnce.Do(func() {
		c.closeLock.Lock()
		c.closeReason = reason
		c.closeLock.Unlock()

		calls := c.pending.close()
		if len(calls) > 0 {
			c.logger.DebugWith("Failing pending calls", "count", len(calls), "reason", reason)
		}

		for _, call := range calls {
			c.resolveCall(call, nil, c.noConnection())
		}

		c.dispatcher.close()
	})
}

// PendingCount returns the number of calls waiting for a reply
func (c *Client) PendingCount() int {
	return c.pending.size()
}

func (c *Client) startCall(ctx context.Context,
	kind callKind,
	options *CallOptions,
	module string,
	function string,
	signature string,
	args []interface{},
	resolve func(term.Term, error),
	progress func(term.Term)) (string, error) {

	encodedArgs, err := term.EncodeArgs(signature, args...)
	if err != nil {
		return "", err
	}

	if err := ctx.Err(); err != nil {
		return "", errors.Wrap(err, "Call abandoned before it was sent")
	}

	call := &pendingCall{
		token:     xid.New().String(),
		kind:      kind,
		module:    module,
		function:  function,
		createdAt: time.Now(),
		timeout:   options.resolveTimeout(c.configuration.DefaultTimeout),
		resolve:   resolve,
		progress:  progress,
	}

	if !c.pending.add(call, func() { c.expire(call.token) }) {
		return "", c.noConnection()
	}

	c.configuration.Metrics.callStarted()

	tag := callTag
	if kind == callKindProgress {
		tag = callProgressTag
	}

	message := term.NewTuple(tag,
		term.Binary(call.token),
		term.Atom(module),
		term.Atom(function),
		term.NewList(encodedArgs...),
		options.resolveGroupLeader())

	if err := c.send(message); err != nil {

		// whoever takes the call resolves it. If a disconnect beat us to it, the
		// caller learns the outcome through resolve
		if _, taken := c.pending.take(call.token); taken {
			c.configuration.Metrics.callResolved(kind, outcomeOf(err), time.Since(call.createdAt))
			return "", err
		}
	}

	return call.token, nil
}

func (c *Client) send(message term.Term) error {
	if err := c.sender.Send(message); err != nil {
		if term.IsEncodingError(err) {
			return err
		}

		c.logger.DebugWith("Failed to send", "err", err.Error())
		return c.noConnectionWithReason(err.Error())
	}

	return nil
}

func (c *Client) complete(token string, value term.Term, err error) {
	if call, taken := c.pending.take(token); taken {
		c.resolveCall(call, value, err)
	}
}

func (c *Client) expire(token string) {
	call, taken := c.pending.take(token)
	if !taken {
		return
	}

	c.logger.DebugWith("Call timed out",
		"module", call.module,
		"function", call.function,
		"timeout", call.timeout)

	c.resolveCall(call, nil, &TimeoutError{
		Node:     c.nodeName,
		Module:   call.module,
		Function: call.function,
		Timeout:  call.timeout,
	})
}

func (c *Client) resolveCall(call *pendingCall, value term.Term, err error) {
	c.configuration.Metrics.callResolved(call.kind, outcomeOf(err), time.Since(call.createdAt))
	call.resolve(value, err)
}

func (c *Client) noConnection() error {
	c.closeLock.Lock()
	defer c.closeLock.Unlock()

	return &NoConnectionError{Node: c.nodeName, Reason: c.closeReason}
}

func (c *Client) noConnectionWithReason(reason string) error {
	return &NoConnectionError{Node: c.nodeName, Reason: reason}
}
