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

package bridgeconfig

// Config is the YAML configuration of a bridge and the backends it knows
type Config struct {
	Bridge   Bridge    `json:"bridge,omitempty"`
	Backends []Backend `json:"backends,omitempty"`
	Logger   Logger    `json:"logger,omitempty"`
	Metrics  Metrics   `json:"metrics,omitempty"`
}

// Bridge holds what all connections share
type Bridge struct {
	Cookie           string `json:"cookie,omitempty"`
	Codec            string `json:"codec,omitempty"`
	MaxFrameSize     int    `json:"maxFrameSize,omitempty"`
	HandshakeTimeout string `json:"handshakeTimeout,omitempty"`
}

// Backend describes one node, managed or external
type Backend struct {
	Name             string            `json:"name"`
	Managed          bool              `json:"managed,omitempty"`
	Address          string            `json:"address,omitempty"`
	Cookie           string            `json:"cookie,omitempty"`
	LongNames        bool              `json:"longNames,omitempty"`
	Console          bool              `json:"console,omitempty"`
	Executable       string            `json:"executable,omitempty"`
	WorkingDirectory string            `json:"workingDirectory,omitempty"`
	Args             []string          `json:"args,omitempty"`
	Environment      map[string]string `json:"environment,omitempty"`
	SocketType       string            `json:"socketType,omitempty"`
	StartupTimeout   string            `json:"startupTimeout,omitempty"`
	CallTimeout      string            `json:"callTimeout,omitempty"`
	OutputBufferSize int               `json:"outputBufferSize,omitempty"`
	Retry            *Retry            `json:"retry,omitempty"`
}

// Retry bounds dialing of external nodes
type Retry struct {
	InitialInterval string `json:"initialInterval,omitempty"`
	MaxInterval     string `json:"maxInterval,omitempty"`
	MaxElapsedTime  string `json:"maxElapsedTime,omitempty"`
}

type Logger struct {
	Level string `json:"level,omitempty"`
}

type Metrics struct {
	Enabled bool `json:"enabled,omitempty"`
}
