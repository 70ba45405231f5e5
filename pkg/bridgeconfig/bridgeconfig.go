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

import (
	"fmt"
	"sort"
	"time"

	"github.com/erlide/erlbridge/pkg/backend"
	"github.com/erlide/erlbridge/pkg/transport"

	"github.com/nuclio/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"
)

// ManagerConfiguration builds what a backend.Manager needs from the bridge section
func (c *Config) ManagerConfiguration() (*backend.ManagerConfiguration, error) {
	codec, err := transport.NewCodec(c.Bridge.Codec)
	if err != nil {
		return nil, errors.Wrap(err, "Invalid bridge codec")
	}

	handshakeTimeout, err := parseDuration("handshakeTimeout", c.Bridge.HandshakeTimeout)
	if err != nil {
		return nil, err
	}

	managerConfiguration := &backend.ManagerConfiguration{
		Connection: transport.ConnectionConfiguration{
			Codec:            codec,
			Cookie:           c.Bridge.Cookie,
			MaxFrameSize:     c.Bridge.MaxFrameSize,
			HandshakeTimeout: handshakeTimeout,
		},
	}

	if c.Metrics.Enabled {
		managerConfiguration.MetricsRegisterer = prometheus.DefaultRegisterer
	}

	return managerConfiguration, nil
}

// BackendNames returns the configured node names in file order
func (c *Config) BackendNames() []string {
	return lo.Map(c.Backends, func(backendConfiguration Backend, _ int) string {
		return backendConfiguration.Name
	})
}

// BackendConfiguration converts the named backend section
func (c *Config) BackendConfiguration(name string) (*backend.Configuration, error) {
	backendConfiguration, found := lo.Find(c.Backends, func(candidate Backend) bool {
		return candidate.Name == name
	})
	if !found {
		return nil, errors.Errorf("No backend named %s in configuration", name)
	}

	return backendConfiguration.toBackendConfiguration()
}

func (b *Backend) toBackendConfiguration() (*backend.Configuration, error) {
	socketType, err := transport.ParseSocketType(b.SocketType)
	if err != nil {
		return nil, errors.Wrapf(err, "Invalid socket type for %s", b.Name)
	}

	configuration := &backend.Configuration{
		NodeName:         b.Name,
		Managed:          b.Managed,
		Address:          b.Address,
		Cookie:           b.Cookie,
		LongNames:        b.LongNames,
		Console:          b.Console,
		Executable:       b.Executable,
		WorkingDirectory: b.WorkingDirectory,
		Args:             b.Args,
		Environment:      environmentList(b.Environment),
		SocketType:       socketType,
		OutputBufferSize: b.OutputBufferSize,
	}

	if configuration.StartupTimeout, err = parseDuration("startupTimeout", b.StartupTimeout); err != nil {
		return nil, errors.Wrapf(err, "Invalid configuration for %s", b.Name)
	}

	if configuration.CallTimeout, err = parseDuration("callTimeout", b.CallTimeout); err != nil {
		return nil, errors.Wrapf(err, "Invalid configuration for %s", b.Name)
	}

	if b.Retry != nil {
		configuration.Retry = &transport.RetryConfiguration{}

		for _, field := range []struct {
			name  string
			value string
			out   *time.Duration
		}{
			{"retry.initialInterval", b.Retry.InitialInterval, &configuration.Retry.InitialInterval},
			{"retry.maxInterval", b.Retry.MaxInterval, &configuration.Retry.MaxInterval},
			{"retry.maxElapsedTime", b.Retry.MaxElapsedTime, &configuration.Retry.MaxElapsedTime},
		} {
			if *field.out, err = parseDuration(field.name, field.value); err != nil {
				return nil, errors.Wrapf(err, "Invalid configuration for %s", b.Name)
			}
		}
	}

	return configuration, nil
}

// parseDuration returns zero for an empty value, leaving the default to the consumer
func parseDuration(field string, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.Wrapf(err, "Failed to parse %s", field)
	}

	if duration < 0 {
		return 0, errors.Errorf("%s can't be negative", field)
	}

	return duration, nil
}

func environmentList(environment map[string]string) []string {
	variables := lo.MapToSlice(environment, func(name string, value string) string {
		return fmt.Sprintf("%s=%s", name, value)
	})

	sort.Strings(variables)

	return variables
}
