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

type callCommandeer struct {
	cmd            *cobra.Command
	rootCommandeer *RootCommandeer
	signature      string
	timeout        time.Duration
}

func newCallCommandeer(rootCommandeer *RootCommandeer) *callCommandeer {
	commandeer := &callCommandeer{
		rootCommandeer: rootCommandeer,
	}

	cmd := &cobra.Command{
		Use:   "call node-name module function [args...]",
		Short: "Call a function on a node and print the reply",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 3 {
				return errors.New("Call requires a node name, a module and a function")
			}

			callArgs, err := parseArgs(commandeer.signature, args[3:])
			if err != nil {
				return errors.Wrap(err, "Invalid call arguments")
			}

			if err := rootCommandeer.initialize(); err != nil {
				return errors.Wrap(err, "Failed to initialize root")
			}

			backendInstance, err := rootCommandeer.startBackend(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			defer rootCommandeer.manager.DisposeAll()

			reply, err := backendInstance.Site().Call(cmd.Context(),
				rpc.WithTimeout(commandeer.timeout),
				args[1],
				args[2],
				commandeer.signature,
				callArgs...)
			if err != nil {
				return errors.Wrapf(err, "Failed to call %s:%s", args[1], args[2])
			}

			fmt.Fprintln(cmd.OutOrStdout(), reply.String()) // nolint: errcheck

			return nil
		},
	}

	cmd.Flags().StringVarP(&commandeer.signature, "signature", "s", "", "One type code per argument (a / s / b / i / f / o)")
	cmd.Flags().DurationVarP(&commandeer.timeout, "timeout", "t", rpc.DefaultTimeout, "How long to wait for the reply, 0 waits forever")

	commandeer.cmd = cmd

	return commandeer
}

type castCommandeer struct {
	cmd            *cobra.Command
	rootCommandeer *RootCommandeer
	signature      string
}

func newCastCommandeer(rootCommandeer *RootCommandeer) *castCommandeer {
	commandeer := &castCommandeer{
		rootCommandeer: rootCommandeer,
	}

	cmd := &cobra.Command{
		Use:   "cast node-name module function [args...]",
		Short: "Send a call to a node without waiting for a reply",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 3 {
				return errors.New("Cast requires a node name, a module and a function")
			}

			castArgs, err := parseArgs(commandeer.signature, args[3:])
			if err != nil {
				return errors.Wrap(err, "Invalid cast arguments")
			}

			if err := rootCommandeer.initialize(); err != nil {
				return errors.Wrap(err, "Failed to initialize root")
			}

			backendInstance, err := rootCommandeer.startBackend(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			defer rootCommandeer.manager.DisposeAll()

			return backendInstance.Site().Cast(cmd.Context(), nil, args[1], args[2], commandeer.signature, castArgs...)
		},
	}

	cmd.Flags().StringVarP(&commandeer.signature, "signature", "s", "", "One type code per argument (a / s / b / i / f / o)")

	commandeer.cmd = cmd

	return commandeer
}
