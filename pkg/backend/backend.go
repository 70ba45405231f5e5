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

package backend

import (
	"bufio"
	"context"
	"io"
	"sync"

	"github.com/erlide/erlbridge/pkg/errgroup"
	"github.com/erlide/erlbridge/pkg/event"
	"github.com/erlide/erlbridge/pkg/processwaiter"
	"github.com/erlide/erlbridge/pkg/rpc"
	"github.com/erlide/erlbridge/pkg/term"
	"github.com/erlide/erlbridge/pkg/transport"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
)

// Streams carries the output lines of a managed node. Lines are dropped when
// a channel is full. Both channels close when the process output ends
type Streams struct {
	Stdout <-chan string
	Stderr <-chan string
}

// Backend is one started or connected node
type Backend struct {
	logger        logger.Logger
	id            string
	name          string
	configuration *Configuration
	launch        interface{}
	manager       *Manager

	connection    *transport.Connection
	client        *rpc.Client
	metrics       *rpc.Metrics
	process       Process
	processWaiter *processwaiter.ProcessWaiter
	streams       *Streams

	lock          sync.Mutex
	disposing     bool
	announced     bool
	disposeReason error

	// held while BackendConnected is delivered, so BackendDisconnected follows it
	announceLock sync.Mutex
	disposedChan  chan struct{}
}

// ID is unique per started backend, even when a node name is reused
func (b *Backend) ID() string {
	return b.id
}

func (b *Backend) Name() string {
	return b.name
}

func (b *Backend) IsManaged() bool {
	return b.configuration.Managed
}

// Launch returns the opaque launch context given to Start
func (b *Backend) Launch() interface{} {
	return b.launch
}

func (b *Backend) State() transport.State {
	if b.IsDisposed() {
		return transport.Disconnected
	}

	return b.connection.State()
}

// Site is the RPC surface of the node
func (b *Backend) Site() rpc.Site {
	return b.client
}

// Client is Site with access to pending call bookkeeping
func (b *Backend) Client() *rpc.Client {
	return b.client
}

// Streams returns the node's output. External backends have none
func (b *Backend) Streams() (*Streams, bool) {
	return b.streams, b.streams != nil
}

// Process returns the OS process of a managed backend
func (b *Backend) Process() (Process, bool) {
	return b.process, b.process != nil
}

// Done is closed once the backend is disposed
func (b *Backend) Done() <-chan struct{} {
	return b.disposedChan
}

func (b *Backend) IsDisposed() bool {
	select {
	case <-b.disposedChan:
		return true
	default:
		return false
	}
}

// Err returns why the backend was disposed
func (b *Backend) Err() error {
	b.lock.Lock()
	defer b.lock.Unlock()

	return b.disposeReason
}

// Dispose kills the process of a managed backend, detaches from an external
// one and fails all outstanding calls. Idempotent
func (b *Backend) Dispose() {
	b.dispose(ErrDisposed)
	<-b.disposedChan
}

// HandleMessage routes replies to the rpc client and everything else to the
// node's event handlers
func (b *Backend) HandleMessage(message term.Term) {
	if b.client.HandleMessage(message) {
		return
	}

	eventMessage, err := event.ParseMessage(message)
	if err != nil {
		b.logger.DebugWith("Dropping unsolicited message",
			"message", message.String(),
			"err", err.Error())
		return
	}

	b.manager.registry.Dispatch(b.name, eventMessage)
}

// HandleDisconnect disposes the backend when the connection is lost
func (b *Backend) HandleDisconnect(reason error) {

	// runs inside the connection teardown, which dispose goes through again
	go b.dispose(errors.Wrap(reason, "Connection lost"))
}

// markAnnounced fails once disposal has begun
func (b *Backend) markAnnounced() bool {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.disposing {
		return false
	}

	b.announced = true
	return true
}

func (b *Backend) wasAnnounced() bool {
	b.lock.Lock()
	defer b.lock.Unlock()

	return b.announced
}

func (b *Backend) dispose(reason error) {
	b.lock.Lock()
	if b.disposing {
		b.lock.Unlock()
		return
	}
	b.disposing = true
	b.disposeReason = reason
	b.lock.Unlock()

	b.logger.InfoWith("Disposing backend", "reason", reason.Error())

	b.client.Close(reason.Error())

	if err := b.connection.Close(); err != nil {
		b.logger.DebugWith("Failed to close connection", "err", err.Error())
	}

	if b.process != nil {
		b.processWaiter.Cancel()

		if err := b.process.Kill(); err != nil {
			b.logger.WarnWith("Failed to kill node process", "err", err.Error())
		}
	}

	b.manager.registry.UnregisterNode(b.name, reason.Error())
	b.metrics.Unregister()
	b.manager.remove(b)

	close(b.disposedChan)

	b.announceLock.Lock()
	announced := b.wasAnnounced()
	b.announceLock.Unlock()

	// observers never heard of a backend that died before Start returned
	if announced {
		b.manager.notifyDisconnected(b, reason)
	}
}

// abortStartup tears down what a failed startup left behind, before anyone
// could have seen the backend
func (b *Backend) abortStartup() {
	if b.connection != nil {
		b.connection.Close() // nolint: errcheck
	}

	if b.process != nil {
		b.processWaiter.Cancel()
		b.manager.kill(b.process)
	}
}

func (b *Backend) watchProcess(waitChan <-chan processwaiter.WaitResult) {
	result := <-waitChan
	if result.Err == processwaiter.ErrCancelled {
		return
	}

	b.logger.WarnWith("Node process exited", "exitCode", result.ExitCode())

	b.dispose(errors.Errorf("Node process exited with code %d", result.ExitCode()))
}

// startOutputPumps feeds the streams and observers from the process output
func (b *Backend) startOutputPumps() {
	bufferSize := b.configuration.OutputBufferSize

	stdoutChan := make(chan string, bufferSize)
	stderrChan := make(chan string, bufferSize)
	b.streams = &Streams{Stdout: stdoutChan, Stderr: stderrChan}

	pumpGroup, _ := errgroup.WithContext(context.Background(), b.logger, 2)

	pumpGroup.Go("stdout", func() error {
		return b.pump(b.process.Stdout(), Stdout, stdoutChan)
	})

	pumpGroup.Go("stderr", func() error {
		return b.pump(b.process.Stderr(), Stderr, stderrChan)
	})

	go func() {
		if err := pumpGroup.Wait(); err != nil {
			b.logger.DebugWith("Output pump stopped", "err", err.Error())
		}
	}()
}

func (b *Backend) pump(reader io.Reader, stream StreamKind, lineChan chan<- string) error {
	defer close(lineChan)

	if closer, isCloser := reader.(io.Closer); isCloser {
		defer closer.Close() // nolint: errcheck
	}

	dropped := 0
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), maxOutputLineLength)
	scanner.Split(splitOutputLines)

	for scanner.Scan() {
		line := scanner.Text()

		select {
		case lineChan <- line:
		default:
			dropped++
		}

		b.manager.notifyOutputLine(b, stream, line)
	}

	if dropped > 0 {
		b.logger.DebugWith("Dropped output lines nobody read", "stream", stream.String(), "count", dropped)
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "Failed to read %s", stream)
	}

	return nil
}

// maxOutputLineLength bounds a single output line. Longer lines arrive in pieces
const maxOutputLineLength = 1024 * 1024

func splitOutputLines(data []byte, atEOF bool) (int, []byte, error) {
	advance, token, err := bufio.ScanLines(data, atEOF)
	if advance == 0 && token == nil && err == nil && len(data) >= maxOutputLineLength {
		return maxOutputLineLength, data[:maxOutputLineLength], nil
	}

	return advance, token, err
}
