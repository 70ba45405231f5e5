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
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	"github.com/samber/lo"
)

// Manager keeps at most one live connection per node name
type Manager struct {
	logger        logger.Logger
	configuration *ConnectionConfiguration

	lock        sync.Mutex
	connections map[string]*Connection
}

// NewManager creates a connection manager
func NewManager(parentLogger logger.Logger, configuration *ConnectionConfiguration) *Manager {
	return &Manager{
		logger:        parentLogger.GetChild("transport"),
		configuration: configuration,
		connections:   map[string]*Connection{},
	}
}

// Dial connects to an already running node, retrying with exponential backoff
// until the connection handshakes, the retry budget runs out or ctx is done
func (m *Manager) Dial(ctx context.Context,
	nodeName string,
	address string,
	retryConfiguration *RetryConfiguration) (*Connection, error) {

	if err := m.reserve(nodeName); err != nil {
		return nil, err
	}

	network, dialAddress := ParseAddress(address)
	dialer := net.Dialer{}

	connection, err := backoff.RetryNotifyWithData(
		func() (*Connection, error) {
			conn, err := dialer.DialContext(ctx, network, dialAddress)
			if err != nil {
				return nil, err
			}

			connection := NewConnection(m.logger, conn, nodeName, m.configuration)
			if err := connection.Handshake(); err != nil {
				connection.Close() // nolint: errcheck

				// a refusal won't change on retry
				if IsHandshakeError(err) {
					return nil, backoff.Permanent(err)
				}

				return nil, err
			}

			return connection, nil
		},
		backoff.WithContext(newBackOff(retryConfiguration), ctx),
		func(err error, delay time.Duration) {
			m.logger.DebugWith("Failed to connect to node, retrying",
				"node", nodeName,
				"address", address,
				"delay", delay,
				"err", err.Error())
		})

	if err != nil {
		m.release(nodeName)
		return nil, errors.Wrapf(err, "Failed to connect to %s at %s", nodeName, address)
	}

	m.register(connection)

	return connection, nil
}

// Accept waits for a managed node to connect back on listener and handshakes
// with it. The listener is closed when Accept returns
func (m *Manager) Accept(ctx context.Context, listener net.Listener, nodeName string) (*Connection, error) {
	defer listener.Close() // nolint: errcheck

	if err := m.reserve(nodeName); err != nil {
		return nil, err
	}

	type acceptResult struct {
		conn net.Conn
		err  error
	}

	acceptChan := make(chan acceptResult, 1)
	go func() {
		conn, err := listener.Accept()
		acceptChan <- acceptResult{conn: conn, err: err}
	}()

	var result acceptResult

	select {
	case result = <-acceptChan:
	case <-ctx.Done():
		listener.Close() // nolint: errcheck
		m.release(nodeName)
		return nil, errors.Wrapf(ctx.Err(), "Node %s did not connect", nodeName)
	}

	if result.err != nil {
		m.release(nodeName)
		return nil, errors.Wrapf(result.err, "Can't get connection from %s", nodeName)
	}

	connection := NewConnection(m.logger, result.conn, nodeName, m.configuration)
	if err := connection.Handshake(); err != nil {
		connection.Close() // nolint: errcheck
		m.release(nodeName)
		return nil, errors.Wrapf(err, "Failed to handshake with %s", nodeName)
	}

	m.register(connection)

	return connection, nil
}

// Get returns the live connection to a node
func (m *Manager) Get(nodeName string) (*Connection, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()

	connection := m.connections[nodeName]
	return connection, connection != nil
}

// NodeNames returns the names of the nodes with a live connection
func (m *Manager) NodeNames() []string {
	m.lock.Lock()
	defer m.lock.Unlock()

	return lo.Filter(lo.Keys(m.connections), func(nodeName string, _ int) bool {
		return m.connections[nodeName] != nil
	})
}

// CloseAll closes every live connection
func (m *Manager) CloseAll() {
	m.lock.Lock()
	connections := lo.Values(m.connections)
	m.lock.Unlock()

	for _, connection := range connections {
		if connection != nil {
			connection.Close() // nolint: errcheck
		}
	}
}

// reserve claims a node name while a connection is being set up, so that two
// concurrent attempts can't both succeed
func (m *Manager) reserve(nodeName string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if _, exists := m.connections[nodeName]; exists {
		return errors.Wrapf(ErrAlreadyConnected, "Can't connect to %s", nodeName)
	}

	m.connections[nodeName] = nil

	return nil
}

func (m *Manager) release(nodeName string) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.connections[nodeName] == nil {
		delete(m.connections, nodeName)
	}
}

func (m *Manager) register(connection *Connection) {
	m.lock.Lock()
	m.connections[connection.NodeName()] = connection
	m.lock.Unlock()

	m.logger.InfoWith("Node connected", "node", connection.NodeName())

	go func() {
		<-connection.Done()

		m.lock.Lock()
		defer m.lock.Unlock()

		if m.connections[connection.NodeName()] == connection {
			delete(m.connections, connection.NodeName())
		}
	}()
}

func newBackOff(retryConfiguration *RetryConfiguration) backoff.BackOff {
	if retryConfiguration == nil {
		retryConfiguration = &RetryConfiguration{}
	}

	initialInterval := lo.Ternary(retryConfiguration.InitialInterval > 0, retryConfiguration.InitialInterval, 100*time.Millisecond)
	maxInterval := lo.Ternary(retryConfiguration.MaxInterval > 0, retryConfiguration.MaxInterval, 2*time.Second)

	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(initialInterval),
		backoff.WithMaxInterval(maxInterval),
		backoff.WithRandomizationFactor(0.1),
		backoff.WithMaxElapsedTime(retryConfiguration.MaxElapsedTime),
	)
}
