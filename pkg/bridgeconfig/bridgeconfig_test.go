//go:build test_unit

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
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/erlide/erlbridge/pkg/term/msgpackcodec"
	"github.com/erlide/erlbridge/pkg/transport"

	"github.com/stretchr/testify/suite"
)

type BridgeConfigTestSuite struct {
	suite.Suite
	reader *Reader
}

func (suite *BridgeConfigTestSuite) SetupTest() {
	suite.reader, _ = NewReader()
}

func (suite *BridgeConfigTestSuite) TestReadConfiguration() {
	configurationContents := `
bridge:
  cookie: secret
  codec: msgpack
  maxFrameSize: 1048576
metrics:
  enabled: true
backends:
- name: erlide_ide@localhost
  managed: true
  socketType: tcp
  executable: /usr/lib/erlang/bin/erl
  workingDirectory: /tmp/ws
  args: ["-pa", "ebin"]
  environment:
    LANG: C
    ERL_LIBS: /opt/lib
  startupTimeout: 20s
  callTimeout: 1m
- name: remote@build.local
  address: build.local:9100
  retry:
    initialInterval: 200ms
    maxElapsedTime: 10s
`

	var config Config
	err := suite.reader.Read(bytes.NewBufferString(configurationContents), &config)
	suite.Require().NoError(err)

	// defaults fill the gaps
	suite.Require().Equal("5s", config.Bridge.HandshakeTimeout)
	suite.Require().Equal("info", config.Logger.Level)
	suite.Require().Equal("msgpack", config.Bridge.Codec)
	suite.Require().Equal([]string{"erlide_ide@localhost", "remote@build.local"}, config.BackendNames())

	managerConfiguration, err := config.ManagerConfiguration()
	suite.Require().NoError(err)
	suite.Require().Equal("secret", managerConfiguration.Connection.Cookie)
	suite.Require().Equal(1048576, managerConfiguration.Connection.MaxFrameSize)
	suite.Require().Equal(5*time.Second, managerConfiguration.Connection.HandshakeTimeout)
	suite.Require().IsType(msgpackcodec.NewCodec(), managerConfiguration.Connection.Codec)
	suite.Require().NotNil(managerConfiguration.MetricsRegisterer)

	managed, err := config.BackendConfiguration("erlide_ide@localhost")
	suite.Require().NoError(err)
	suite.Require().True(managed.Managed)
	suite.Require().Equal(transport.TCPSocket, managed.SocketType)
	suite.Require().Equal(20*time.Second, managed.StartupTimeout)
	suite.Require().Equal(time.Minute, managed.CallTimeout)
	suite.Require().Equal([]string{"-pa", "ebin"}, managed.Args)
	suite.Require().Equal([]string{"ERL_LIBS=/opt/lib", "LANG=C"}, managed.Environment)
	suite.Require().Nil(managed.Retry)

	external, err := config.BackendConfiguration("remote@build.local")
	suite.Require().NoError(err)
	suite.Require().False(external.Managed)
	suite.Require().Equal("build.local:9100", external.Address)
	suite.Require().Equal(transport.UnixSocket, external.SocketType)
	suite.Require().Equal(time.Duration(0), external.CallTimeout)
	suite.Require().Equal(200*time.Millisecond, external.Retry.InitialInterval)
	suite.Require().Equal(time.Duration(0), external.Retry.MaxInterval)
	suite.Require().Equal(10*time.Second, external.Retry.MaxElapsedTime)
}

func (suite *BridgeConfigTestSuite) TestInvalidValues() {
	for _, testCase := range []struct {
		name          string
		configuration string
		backend       string
	}{
		{
			name:          "unknownBackend",
			configuration: "backends: []",
			backend:       "missing@localhost",
		},
		{
			name:          "badDuration",
			configuration: "backends: [{name: a@localhost, callTimeout: soon}]",
			backend:       "a@localhost",
		},
		{
			name:          "negativeDuration",
			configuration: "backends: [{name: a@localhost, startupTimeout: -1s}]",
			backend:       "a@localhost",
		},
		{
			name:          "badSocketType",
			configuration: "backends: [{name: a@localhost, socketType: pipe}]",
			backend:       "a@localhost",
		},
		{
			name:          "badRetry",
			configuration: "backends: [{name: a@localhost, retry: {maxInterval: often}}]",
			backend:       "a@localhost",
		},
	} {
		suite.Run(testCase.name, func() {
			var config Config
			suite.Require().NoError(suite.reader.Read(bytes.NewBufferString(testCase.configuration), &config))

			_, err := config.BackendConfiguration(testCase.backend)
			suite.Require().Error(err)
		})
	}
}

func (suite *BridgeConfigTestSuite) TestUnknownCodec() {
	var config Config
	suite.Require().NoError(suite.reader.Read(bytes.NewBufferString("bridge: {codec: json}"), &config))

	_, err := config.ManagerConfiguration()
	suite.Require().Error(err)
}

func (suite *BridgeConfigTestSuite) TestMalformedYAML() {
	var config Config
	err := suite.reader.Read(bytes.NewBufferString("backends: {name: ["), &config)
	suite.Require().Error(err)
}

func (suite *BridgeConfigTestSuite) TestReadFileOrDefault() {
	config, err := suite.reader.ReadFileOrDefault(filepath.Join(suite.T().TempDir(), "missing.yaml"))
	suite.Require().NoError(err)
	suite.Require().Equal(suite.reader.GetDefaultConfiguration(), config)

	managerConfiguration, err := config.ManagerConfiguration()
	suite.Require().NoError(err)
	suite.Require().Nil(managerConfiguration.MetricsRegisterer)

	configurationPath := filepath.Join(suite.T().TempDir(), "erlbridge.yaml")
	err = os.WriteFile(configurationPath, []byte("logger: {level: debug}\nbridge: {cookie: abc}\n"), 0600)
	suite.Require().NoError(err)

	config, err = suite.reader.ReadFileOrDefault(configurationPath)
	suite.Require().NoError(err)
	suite.Require().Equal("debug", config.Logger.Level)
	suite.Require().Equal("abc", config.Bridge.Cookie)
	suite.Require().Equal("etf", config.Bridge.Codec)
}

func TestBridgeConfigTestSuite(t *testing.T) {
	suite.Run(t, new(BridgeConfigTestSuite))
}
