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
	"fmt"
	"time"

	"github.com/erlide/erlbridge/pkg/transport"

	"github.com/nuclio/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultStartupTimeout   = 30 * time.Second
	DefaultOutputBufferSize = 256
	DefaultExecutable       = "erl"

	// AddressEnvironmentVariable tells a managed node where to connect back to
	AddressEnvironmentVariable = "ERLBRIDGE_ADDRESS"

	// CookieEnvironmentVariable holds the cookie the bridge presents in its hello
	CookieEnvironmentVariable = "ERLBRIDGE_COOKIE"
)

var (
	ErrAlreadyStarted = errors.New("Backend already started")
	ErrNotFound       = errors.New("Backend not found")
	ErrDisposed       = errors.New("Backend disposed")
)

// Configuration describes one backend
type Configuration struct {
	NodeName string

	// Managed backends are spawned and owned by the bridge. Others are
	// external nodes reached at Address
	Managed bool
	Address string

	// Cookie is the distribution cookie of a managed node. Empty means the
	// bridge cookie
	Cookie           string
	LongNames        bool
	Console          bool
	Executable       string
	WorkingDirectory string
	Args             []string
	Environment      []string
	SocketType       transport.SocketType

	StartupTimeout   time.Duration
	CallTimeout      time.Duration
	OutputBufferSize int
	Retry            *transport.RetryConfiguration
}

func (c *Configuration) validate() error {
	if c.NodeName == "" {
		return errors.New("Node name is required")
	}

	if !c.Managed && c.Address == "" {
		return errors.Errorf("External backend %s needs an address", c.NodeName)
	}

	if c.StartupTimeout < 0 || c.CallTimeout < 0 || c.OutputBufferSize < 0 {
		return errors.Errorf("Backend %s has negative limits", c.NodeName)
	}

	return nil
}

func getDefaultConfiguration() Configuration {
	return Configuration{
		Executable:       DefaultExecutable,
		StartupTimeout:   DefaultStartupTimeout,
		OutputBufferSize: DefaultOutputBufferSize,
	}
}

// ManagerConfiguration holds what all backends of a manager share
type ManagerConfiguration struct {
	Connection transport.ConnectionConfiguration

	// MetricsRegisterer receives per-node call metrics. Nil disables them
	MetricsRegisterer prometheus.Registerer
}

// StreamKind tells stdout from stderr
type StreamKind int

const (
	Stdout StreamKind = iota
	Stderr
)

func (sk StreamKind) String() string {
	switch sk {
	case Stdout:
		return "stdout"
	case Stderr:
		return "stderr"
	}

	return fmt.Sprintf("unknown stream - %d", sk)
}

// Observer learns about backend lifecycle and output. Calls must not block.
// BackendDisconnected is only delivered after BackendConnected, and
// BackendConnected must not dispose the backend itself
type Observer interface {
	BackendConnected(backend *Backend)
	BackendDisconnected(backend *Backend, reason error)
	OutputLine(backend *Backend, stream StreamKind, line string)
}

// StartupError is returned when a backend could not be brought up
type StartupError struct {
	Node   string
	Reason error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("Failed to start backend %s: %s", e.Node, e.Reason)
}

// IsStartupError returns true if the root cause of err is a StartupError
func IsStartupError(err error) bool {
	_, ok := errors.RootCause(err).(*StartupError)
	return ok
}
