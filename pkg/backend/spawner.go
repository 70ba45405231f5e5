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
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/erlide/erlbridge/pkg/processwaiter"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
)

// NodeSpec is what a spawner needs to start a node
type NodeSpec struct {
	NodeName         string
	Cookie           string
	LongNames        bool
	Console          bool
	Executable       string
	WorkingDirectory string
	Args             []string
	Environment      []string

	// BridgeAddress and BridgeCookie tell the node how to reach the bridge
	BridgeAddress string
	BridgeCookie  string
}

// Process is a spawned node
type Process interface {
	processwaiter.Waitable

	Pid() int
	Kill() error
	Stdout() io.Reader
	Stderr() io.Reader
}

// NodeSpawner starts node processes
type NodeSpawner interface {
	SpawnNode(ctx context.Context, spec *NodeSpec) (Process, error)
}

// OSNodeSpawner runs the erl executable
type OSNodeSpawner struct {
	logger logger.Logger
}

func NewOSNodeSpawner(parentLogger logger.Logger) *OSNodeSpawner {
	return &OSNodeSpawner{
		logger: parentLogger.GetChild("spawner"),
	}
}

func (s *OSNodeSpawner) SpawnNode(ctx context.Context, spec *NodeSpec) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "Node spawn abandoned")
	}

	executable := spec.Executable
	if executable == "" {
		executable = DefaultExecutable
	}

	nameFlag := "-sname"
	if spec.LongNames {
		nameFlag = "-name"
	}

	args := []string{nameFlag, spec.NodeName}
	if spec.Cookie != "" {
		args = append(args, "-setcookie", spec.Cookie)
	}

	if !spec.Console {
		args = append(args, "-noshell")
	}

	args = append(args, spec.Args...)

	// pass global environment onto the process, and sprinkle in how to reach us
	env := os.Environ()
	env = append(env, spec.Environment...)
	env = append(env,
		fmt.Sprintf("%s=%s", AddressEnvironmentVariable, spec.BridgeAddress),
		fmt.Sprintf("%s=%s", CookieEnvironmentVariable, spec.BridgeCookie))

	stdoutReader, stdoutWriter, err := os.Pipe()
	if err != nil {
		return nil, errors.Wrap(err, "Failed to create stdout pipe")
	}

	stderrReader, stderrWriter, err := os.Pipe()
	if err != nil {
		closeAll(stdoutReader, stdoutWriter)
		return nil, errors.Wrap(err, "Failed to create stderr pipe")
	}

	s.logger.DebugWith("Running node",
		"command", executable+" "+strings.Join(args, " "),
		"workingDirectory", spec.WorkingDirectory)

	// the node outlives ctx, it only bounds the spawn itself
	cmd := exec.Command(executable, args...)
	cmd.Env = env
	cmd.Dir = spec.WorkingDirectory
	cmd.Stdout = stdoutWriter
	cmd.Stderr = stderrWriter

	if err := cmd.Start(); err != nil {
		closeAll(stdoutReader, stdoutWriter, stderrReader, stderrWriter)
		return nil, errors.Wrapf(err, "Failed to run %s", executable)
	}

	// the child holds its own copies
	closeAll(stdoutWriter, stderrWriter)

	return &osProcess{
		process: cmd.Process,
		stdout:  stdoutReader,
		stderr:  stderrReader,
	}, nil
}

type osProcess struct {
	process *os.Process
	stdout  *os.File
	stderr  *os.File
}

func (p *osProcess) Pid() int {
	return p.process.Pid
}

func (p *osProcess) Kill() error {
	if err := p.process.Kill(); err != nil && err != os.ErrProcessDone {
		return errors.Wrapf(err, "Failed to kill process %d", p.process.Pid)
	}

	return nil
}

func (p *osProcess) Wait() (processwaiter.ExitStatus, error) {
	processState, err := p.process.Wait()
	if processState == nil {
		return nil, err
	}

	return processState, err
}

func (p *osProcess) Stdout() io.Reader {
	return p.stdout
}

func (p *osProcess) Stderr() io.Reader {
	return p.stderr
}

func closeAll(files ...*os.File) {
	for _, file := range files {
		file.Close() // nolint: errcheck
	}
}
