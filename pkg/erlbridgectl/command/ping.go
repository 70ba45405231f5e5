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
	"fmt"
	"time"

	"github.com/erlide/erlbridge/pkg/rpc"

	"github.com/nuclio/errors"
	"github.com/spf13/cobra"
)

type pingCommandeer struct {
	cmd            *cobra.Command
	rootCommandeer *RootCommandeer
	timeout        time.Duration
}

func newPingCommandeer(rootCommandeer *RootCommandeer) *pingCommandeer {
	commandeer := &pingCommandeer{
		rootCommandeer: rootCommandeer,
	}

	cmd := &cobra.Command{
		Use:   "ping node-name",
		Short: "Connect to a configured node and ask it for its name",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("Ping requires a node name")
			}

			if err := rootCommandeer.initialize(); err != nil {
				return errors.Wrap(err, "Failed to initialize root")
			}

			backendInstance, err := rootCommandeer.startBackend(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			defer rootCommandeer.manager.DisposeAll()

			started := time.Now()

			reply, err := backendInstance.Site().Call(cmd.Context(), rpc.WithTimeout(commandeer.timeout), "erlang", "node", "")
			if err != nil {
				return errors.Wrap(err, "Node did not answer")
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s answered in %s\n", reply, time.Since(started)) // nolint: errcheck

			return nil
		},
	}

	cmd.Flags().DurationVarP(&commandeer.timeout, "timeout", "t", 5*time.Second, "How long to wait for the answer")

	commandeer.cmd = cmd

	return commandeer
}
