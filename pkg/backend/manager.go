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
	"context"
	"sort"
	"sync"

	"github.com/erlide/erlbridge/pkg/event"
	"github.com/erlide/erlbridge/pkg/processwaiter"
	"github.com/erlide/erlbridge/pkg/rpc"
	"github.com/erlide/erlbridge/pkg/term/etf"
	"github.com/erlide/erlbridge/pkg/transport"

	"github.com/google/uuid"
	"github.com/imdario/mergo"
	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	"github.com/samber/lo"
)

// Manager owns every backend of a running tool, along with the connections,
// the event registry and the lifecycle observers they share
type Manager struct {
	logger           logger.Logger
	configuration    *ManagerConfiguration
	transportManager *transport.Manager
	registry         *event.Registry
	spawner          NodeSpawner

	lock      sync.Mutex
	backends  map[string]*Backend
	starting  map[string]bool
	observers []Observer
}

// NewManager creates a manager. A nil spawner means OSNodeSpawner
func NewManager(parentLogger logger.Logger,
	configuration *ManagerConfiguration,
	spawner NodeSpawner) *Manager {

	if configuration == nil {
		configuration = &ManagerConfiguration{}
	}

	if configuration.Connection.Codec == nil {
		configuration.Connection.Codec = etf.NewCodec()
	}

	loggerInstance := parentLogger.GetChild("backends")

	if spawner == nil {
		spawner = NewOSNodeSpawner(loggerInstance)
	}

	return &Manager{
		logger:           loggerInstance,
		configuration:    configuration,
		transportManager: transport.NewManager(loggerInstance, &configuration.Connection),
		registry:         event.NewRegistry(loggerInstance),
		spawner:          spawner,
		backends:         map[string]*Backend{},
		starting:         map[string]bool{},
	}
}

// EventRegistry is where event handlers of all backends register
func (m *Manager) EventRegistry() *event.Registry {
	return m.registry
}

// Start brings up a backend and returns once its connection is live. launch is
// kept on the backend as is
func (m *Manager) Start(ctx context.Context, configuration *Configuration, launch interface{}) (*Backend, error) {
	resolvedConfiguration := *configuration
	if err := mergo.Merge(&resolvedConfiguration, getDefaultConfiguration()); err != nil {
		return nil, errors.Wrap(err, "Failed to apply configuration defaults")
	}

	if err := resolvedConfiguration.validate(); err != nil {
		return nil, errors.Wrap(err, "Invalid backend configuration")
	}

	nodeName := resolvedConfiguration.NodeName

	if err := m.reserve(nodeName); err != nil {
		return nil, err
	}

	backendInstance, err := m.startBackend(ctx, &resolvedConfiguration, launch)
	if err != nil {
		m.release(nodeName)

		m.logger.WarnWith("Backend failed to start", "node", nodeName, "err", err.Error())
		return nil, err
	}

	m.lock.Lock()
	delete(m.starting, nodeName)
	m.backends[nodeName] = backendInstance
	m.lock.Unlock()

	m.logger.InfoWith("Backend started",
		"node", nodeName,
		"id", backendInstance.id,
		"managed", resolvedConfiguration.Managed)

	backendInstance.announceLock.Lock()
	defer backendInstance.announceLock.Unlock()

	// the connection may have dropped before the backend was registered
	if !backendInstance.markAnnounced() {
		m.remove(backendInstance)
		return backendInstance, nil
	}

	for _, observer := range m.observersSnapshot() {
		observer.BackendConnected(backendInstance)
	}

	return backendInstance, nil
}

// Get returns a live backend by node name
func (m *Manager) Get(nodeName string) (*Backend, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()

	backendInstance, found := m.backends[nodeName]
	return backendInstance, found
}

// Backends returns the live backends ordered by node name
func (m *Manager) Backends() []*Backend {
	m.lock.Lock()
	backends := lo.Values(m.backends)
	m.lock.Unlock()

	sort.Slice(backends, func(i, j int) bool {
		return backends[i].name < backends[j].name
	})

	return backends
}

// Dispose disposes a backend by node name
func (m *Manager) Dispose(nodeName string) error {
	backendInstance, found := m.Get(nodeName)
	if !found {
		return errors.Wrapf(ErrNotFound, "Can't dispose %s", nodeName)
	}

	backendInstance.Dispose()

	return nil
}

// DisposeAll disposes every backend
func (m *Manager) DisposeAll() {
	for _, backendInstance := range m.Backends() {
		backendInstance.Dispose()
	}
}

func (m *Manager) AddObserver(observer Observer) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if !lo.ContainsBy(m.observers, func(added Observer) bool { return added == observer }) {
		m.observers = append(m.observers, observer)
	}
}

func (m *Manager) RemoveObserver(observer Observer) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.observers = lo.Reject(m.observers, func(added Observer, _ int) bool {
		return added == observer
	})
}

func (m *Manager) startBackend(ctx context.Context, configuration *Configuration, launch interface{}) (*Backend, error) {
	id := uuid.New().String()

	backendInstance := &Backend{
		logger:        m.logger.GetChild(configuration.NodeName),
		id:            id,
		name:          configuration.NodeName,
		configuration: configuration,
		launch:        launch,
		manager:       m,
		disposedChan:  make(chan struct{}),
	}

	startupCtx, cancel := context.WithTimeout(ctx, configuration.StartupTimeout)
	defer cancel()

	var waitChan <-chan processwaiter.WaitResult
	var err error

	if configuration.Managed {
		waitChan, err = m.startManaged(startupCtx, backendInstance)
	} else {
		backendInstance.connection, err = m.transportManager.Dial(startupCtx,
			configuration.NodeName,
			configuration.Address,
			configuration.Retry)
		if err != nil {
			err = &StartupError{Node: configuration.NodeName, Reason: err}
		}
	}

	if err != nil {
		return nil, err
	}

	if m.configuration.MetricsRegisterer != nil {
		backendInstance.metrics, err = rpc.NewMetrics(configuration.NodeName, m.configuration.MetricsRegisterer)
		if err != nil {
			backendInstance.abortStartup()
			return nil, &StartupError{Node: configuration.NodeName, Reason: err}
		}
	}

	backendInstance.client = rpc.NewClient(backendInstance.logger,
		configuration.NodeName,
		backendInstance.connection,
		&rpc.ClientConfiguration{
			DefaultTimeout: configuration.CallTimeout,
			Metrics:        backendInstance.metrics,
		})

	if backendInstance.process != nil {
		backendInstance.startOutputPumps()
	}

	if err := backendInstance.connection.Start(backendInstance); err != nil {
		backendInstance.metrics.Unregister()
		backendInstance.abortStartup()
		return nil, &StartupError{Node: configuration.NodeName, Reason: err}
	}

	if waitChan != nil {
		go backendInstance.watchProcess(waitChan)
	}

	return backendInstance, nil
}

// startManaged spawns the node and waits for it to connect back. A node that
// exits before connecting fails the startup at once
func (m *Manager) startManaged(ctx context.Context, backendInstance *Backend) (<-chan processwaiter.WaitResult, error) {
	configuration := backendInstance.configuration
	nodeName := configuration.NodeName

	listener, address, err := transport.CreateListener(backendInstance.logger,
		configuration.SocketType,
		configuration.StartupTimeout)
	if err != nil {
		return nil, &StartupError{Node: nodeName, Reason: err}
	}

	cookie := lo.Ternary(configuration.Cookie != "", configuration.Cookie, m.configuration.Connection.Cookie)

	process, err := m.spawner.SpawnNode(ctx, &NodeSpec{
		NodeName:         nodeName,
		Cookie:           cookie,
		LongNames:        configuration.LongNames,
		Console:          configuration.Console,
		Executable:       configuration.Executable,
		WorkingDirectory: configuration.WorkingDirectory,
		Args:             configuration.Args,
		Environment:      configuration.Environment,
		BridgeAddress:    address,
		BridgeCookie:     m.configuration.Connection.Cookie,
	})
	if err != nil {
		listener.Close() // nolint: errcheck
		return nil, &StartupError{Node: nodeName, Reason: err}
	}

	backendInstance.process = process
	backendInstance.processWaiter = processwaiter.NewProcessWaiter()
	waitChan := backendInstance.processWaiter.Wait(process, nil)

	type acceptResult struct {
		connection *transport.Connection
		err        error
	}

	acceptCtx, cancelAccept := context.WithCancel(ctx)
	defer cancelAccept()

	acceptChan := make(chan acceptResult, 1)
	go func() {
		connection, err := m.transportManager.Accept(acceptCtx, listener, nodeName)
		acceptChan <- acceptResult{connection: connection, err: err}
	}()

	select {
	case result := <-acceptChan:
		if result.err != nil {
			backendInstance.processWaiter.Cancel()
			m.kill(process)
			return nil, &StartupError{Node: nodeName, Reason: result.err}
		}

		backendInstance.connection = result.connection
		return waitChan, nil

	case waitResult := <-waitChan:
		cancelAccept()

		// Accept may have won the race after all
		if result := <-acceptChan; result.connection != nil {
			result.connection.Close() // nolint: errcheck
		}

		return nil, &StartupError{
			Node:   nodeName,
			Reason: errors.Errorf("Node exited with code %d before connecting", waitResult.ExitCode()),
		}
	}
}

func (m *Manager) kill(process Process) {
	if err := process.Kill(); err != nil {
		m.logger.WarnWith("Failed to kill node process", "pid", process.Pid(), "err", err.Error())
	}
}

func (m *Manager) reserve(nodeName string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if _, exists := m.backends[nodeName]; exists || m.starting[nodeName] {
		return errors.Wrapf(ErrAlreadyStarted, "Can't start %s", nodeName)
	}

	m.starting[nodeName] = true

	return nil
}

func (m *Manager) release(nodeName string) {
	m.lock.Lock()
	defer m.lock.Unlock()

	delete(m.starting, nodeName)
}

func (m *Manager) remove(backendInstance *Backend) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.backends[backendInstance.name] == backendInstance {
		delete(m.backends, backendInstance.name)
	}
}

func (m *Manager) notifyDisconnected(backendInstance *Backend, reason error) {
	for _, observer := range m.observersSnapshot() {
		observer.BackendDisconnected(backendInstance, reason)
	}
}

func (m *Manager) notifyOutputLine(backendInstance *Backend, stream StreamKind, line string) {
	for _, observer := range m.observersSnapshot() {
		observer.OutputLine(backendInstance, stream, line)
	}
}

func (m *Manager) observersSnapshot() []Observer {
	m.lock.Lock()
	defer m.lock.Unlock()

	return append([]Observer{}, m.observers...)
}
