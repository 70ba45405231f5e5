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

package tracing

import (
	"fmt"

	"github.com/erlide/erlbridge/pkg/term"
)

type Status int

const (
	StatusOK Status = iota
	StatusEmpty
	StatusError
	StatusExceptionThrown
	StatusNoActivatedNodes
	StatusNotAllNodesActivated
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusEmpty:
		return "empty"
	case StatusError:
		return "error"
	case StatusExceptionThrown:
		return "exception thrown"
	case StatusNoActivatedNodes:
		return "no activated nodes"
	case StatusNotAllNodesActivated:
		return "not all nodes activated"
	}

	return fmt.Sprintf("Unknown status - %d", s)
}

// ProcessMode selects which processes get the global process flags
type ProcessMode string

const (
	ProcessModeAll      ProcessMode = "all"
	ProcessModeNew      ProcessMode = "new"
	ProcessModeExisting ProcessMode = "existing"

	// ProcessModeByPid applies per-process flags, see Configuration.Processes
	ProcessModeByPid ProcessMode = "by_pid"
)

// ProcessFlag is a ttb process trace flag, e.g. send, receive or call
type ProcessFlag string

const (
	ProcessFlagSend              ProcessFlag = "send"
	ProcessFlagReceive           ProcessFlag = "receive"
	ProcessFlagCall              ProcessFlag = "call"
	ProcessFlagProcs             ProcessFlag = "procs"
	ProcessFlagSOS               ProcessFlag = "set_on_spawn"
	ProcessFlagSOL               ProcessFlag = "set_on_link"
	ProcessFlagSOFS              ProcessFlag = "set_on_first_spawn"
	ProcessFlagSOFL              ProcessFlag = "set_on_first_link"
	ProcessFlagAll               ProcessFlag = "all"
	ProcessFlagGarbageCollection ProcessFlag = "garbage_collection"
	ProcessFlagRunning           ProcessFlag = "running"
	ProcessFlagReturnTo          ProcessFlag = "return_to"
)

// TracedNode is a node to trace and the cookie used to reach it
type TracedNode struct {
	Name    string
	Cookie  string
	Enabled bool
}

// TracedProcess holds the flags of a single process in by-pid mode
type TracedProcess struct {
	Pid      term.Pid
	Flags    []ProcessFlag
	Selected bool
}

// Pattern is a function trace pattern. A negative Arity matches every arity
type Pattern struct {
	Module    string
	Function  string
	Arity     int
	Local     bool
	MatchSpec term.Term
	Enabled   bool
}

// Configuration describes a tracing session
type Configuration struct {
	Nodes        []TracedNode
	Patterns     []Pattern
	ProcessMode  ProcessMode
	ProcessFlags []ProcessFlag
	Processes    []TracedProcess
	OutputFile   string
	NetTickTime  int
}

// Sink receives what the tracer loads
type Sink interface {

	// AddTrace receives a trace record loaded from a result file
	AddTrace(record term.Term)

	// AddFileInfo receives the description of a result file
	AddFileInfo(record term.Term)
}

// Observer is notified about the lifecycle of a tracing session
type Observer interface {
	TracingStarted()
	FileLoaded(status Status)
	TracesLoaded(status Status)
}

func flagsList(flags []ProcessFlag) term.List {
	atoms := make([]term.Term, len(flags))
	for index, flag := range flags {
		atoms[index] = term.Atom(flag)
	}

	return term.NewList(atoms...)
}
