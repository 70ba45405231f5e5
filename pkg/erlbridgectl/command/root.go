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

package command

import (
	"context"
	"os"

	"github.com/erlide/erlbridge/pkg/backend"
	"github.com/erlide/erlbridge/pkg/bridgeconfig"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	nucliozap "github.com/nuclio/zap"
	"github.com/spf13/cobra"
)

type RootCommandeer struct {
	loggerInstance    logger.Logger
	cmd               *cobra.Command
	configurationPath string
	verbose           bool
	configuration     *bridgeconfig.Config
	manager           *backend.Manager
}

func NewRootCommandeer() *RootCommandeer {
	commandeer := &RootCommandeer{}

	cmd := &cobra.Command{
		Use:           "erlbridge [command]",
		Short:         "Talk to Erlang nodes through the bridge",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultConfigurationPath := os.Getenv("ERLBRIDGE_CONFIG")
	if defaultConfigurationPath == "" {
		defaultConfigurationPath = "erlbridge.yaml"
	}

	cmd.PersistentFlags().BoolVarP(&commandeer.verbose, "verbose", "v", false, "Verbose output")
	cmd.PersistentFlags().StringVarP(&commandeer.configurationPath,
		"config",
		"c",
		defaultConfigurationPath,
		"Path to the bridge configuration file")

	cmd.AddCommand(
		newPingCommandeer(commandeer).cmd,
		newCallCommandeer(commandeer).cmd,
		newCastCommandeer(commandeer).cmd,
	)

	commandeer.cmd = cmd

	return commandeer
}

// Execute uses os.Args to execute the command
func (rc *RootCommandeer) Execute() error {
	return rc.cmd.Execute()
}

// GetCmd returns the underlying cobra command
func (rc *RootCommandeer) GetCmd() *cobra.Command {
	return rc.cmd
}

func (rc *RootCommandeer) initialize() error {
	reader, err := bridgeconfig.NewReader()
	if err != nil {
		return errors.Wrap(err, "Failed to create configuration reader")
	}

	rc.configuration, err = reader.ReadFileOrDefault(rc.configurationPath)
	if err != nil {
		return errors.Wrap(err, "Failed to read configuration")
	}

	rc.loggerInstance, err = rc.createLogger()
	if err != nil {
		return errors.Wrap(err, "Failed to create logger")
	}

	managerConfiguration, err := rc.configuration.ManagerConfiguration()
	if err != nil {
		return errors.Wrap(err, "Invalid bridge configuration")
	}

	rc.manager = backend.NewManager(rc.loggerInstance, managerConfiguration, nil)

	rc.loggerInstance.DebugWith("Initialized",
		"config", rc.configurationPath,
		"backends", rc.configuration.BackendNames())

	return nil
}

func (rc *RootCommandeer) createLogger() (logger.Logger, error) {
	loggerLevel := nucliozap.GetLevelByName(rc.configuration.Logger.Level)

	if rc.verbose {
		loggerLevel = nucliozap.DebugLevel
	}

	loggerInstance, err := nucliozap.NewNuclioZapCmd("erlbridge", loggerLevel)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to create logger")
	}

	return loggerInstance, nil
}

// startBackend brings up a configured backend. Callers dispose it when done
func (rc *RootCommandeer) startBackend(ctx context.Context, nodeName string) (*backend.Backend, error) {
	backendConfiguration, err := rc.configuration.BackendConfiguration(nodeName)
	if err != nil {
		return nil, err
	}

	backendInstance, err := rc.manager.Start(ctx, backendConfiguration, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to start %s", nodeName)
	}

	return backendInstance, nil
}
