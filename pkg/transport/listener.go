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
	"net"
	"os"
	"strings"
	"time"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	"github.com/rs/xid"
)

// SocketType is the type of socket a managed node connects back on
type SocketType int

const (
	UnixSocket SocketType = iota
	TCPSocket
)

const socketPathTemplate = "/tmp/erlbridge-%s.sock"

// ParseSocketType maps a configuration value to a socket type
func ParseSocketType(value string) (SocketType, error) {
	switch strings.ToLower(value) {
	case "", "unix":
		return UnixSocket, nil
	case "tcp":
		return TCPSocket, nil
	}

	return UnixSocket, errors.Errorf("Unknown socket type %q", value)
}

// CreateListener creates a listener a managed node will connect back to. The
// returned address is what the node is told to connect to
func CreateListener(loggerInstance logger.Logger,
	socketType SocketType,
	acceptTimeout time.Duration) (net.Listener, string, error) {

	if socketType == UnixSocket {
		return createUnixListener(loggerInstance, acceptTimeout)
	}

	return createTCPListener(acceptTimeout)
}

// ParseAddress returns the network and dialable address for an address as
// produced by CreateListener, or a host:port pair
func ParseAddress(address string) (string, string) {
	switch {
	case strings.HasPrefix(address, "/"):
		return "unix", address
	case !strings.Contains(address, ":"):

		// a bare port on the loopback interface
		return "tcp", net.JoinHostPort("127.0.0.1", address)
	default:
		return "tcp", address
	}
}

func createUnixListener(loggerInstance logger.Logger, acceptTimeout time.Duration) (net.Listener, string, error) {
	socketPath := fmt.Sprintf(socketPathTemplate, xid.New().String())

	if _, err := os.Stat(socketPath); err == nil {
		if err := os.Remove(socketPath); err != nil {
			return nil, "", errors.Wrapf(err, "Can't remove socket at %q", socketPath)
		}
	}

	loggerInstance.DebugWith("Creating listener socket", "path", socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, "", errors.Wrapf(err, "Can't listen on %s", socketPath)
	}

	unixListener, ok := listener.(*net.UnixListener)
	if !ok {
		return nil, "", errors.New("Can't get underlying Unix listener")
	}

	if err = unixListener.SetDeadline(time.Now().Add(acceptTimeout)); err != nil {
		return nil, "", errors.Wrap(err, "Can't set deadline")
	}

	return listener, socketPath, nil
}

func createTCPListener(acceptTimeout time.Duration) (net.Listener, string, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, "", errors.Wrap(err, "Can't find free port")
	}

	tcpListener, ok := listener.(*net.TCPListener)
	if !ok {
		return nil, "", errors.New("Can't get underlying TCP listener")
	}

	if err = tcpListener.SetDeadline(time.Now().Add(acceptTimeout)); err != nil {
		return nil, "", errors.Wrap(err, "Can't set deadline")
	}

	port := listener.Addr().(*net.TCPAddr).Port

	return listener, fmt.Sprintf("%d", port), nil
}
