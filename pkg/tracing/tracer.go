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
	"context"
	"sync"

	"github.com/erlide/erlbridge/pkg/event"
	"github.com/erlide/erlbridge/pkg/rpc"
	"github.com/erlide/erlbridge/pkg/term"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	"github.com/samber/lo"
)

const (
	ttbModule    = "ttb"
	helperModule = "ttbe"

	DefaultOutputFile  = "erlide_ttb"
	DefaultNetTickTime = 60
)

// ErrBusy is returned when a load is requested while tracing or loading
var ErrBusy = errors.New("Tracer is busy")

// HandlerRegistry is where the tracer installs its event handler
type HandlerRegistry interface {
	Register(nodeName string, handler event.Handler)
	Unregister(handler event.Handler) bool
}

// Tracer drives ttb on the tracing node through the ttbe helper module. Results
// stream back as trace_event events and end up in the sink
type Tracer struct {
	logger   logger.Logger
	site     rpc.Site
	registry HandlerRegistry
	nodeName string
	sink     Sink

	lock              sync.Mutex
	tracing           bool
	loading           bool
	loadingFileInfo   bool
	handler           *EventHandler
	activatedNodes    []string
	notActivatedNodes []string
	errorReason       term.Term
	lastErr           error
	observers         []Observer
}

// NewTracer creates a tracer talking to nodeName through site
func NewTracer(parentLogger logger.Logger,
	site rpc.Site,
	registry HandlerRegistry,
	nodeName string,
	sink Sink) *Tracer {
	return &Tracer{
		logger:   parentLogger.GetChild("tracer"),
		site:     site,
		registry: registry,
		nodeName: nodeName,
		sink:     sink,
	}
}

func (t *Tracer) IsStarted() bool {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.tracing
}

func (t *Tracer) IsLoading() bool {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.loading
}

func (t *Tracer) ActivatedNodes() []string {
	t.lock.Lock()
	defer t.lock.Unlock()

	return append([]string{}, t.activatedNodes...)
}

func (t *Tracer) NotActivatedNodes() []string {
	t.lock.Lock()
	defer t.lock.Unlock()

	return append([]string{}, t.notActivatedNodes...)
}

// ErrorReason returns the reason of the last StatusError
func (t *Tracer) ErrorReason() term.Term {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.errorReason
}

// LastErr returns the failure behind the last StatusExceptionThrown
func (t *Tracer) LastErr() error {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.lastErr
}

func (t *Tracer) AddObserver(observer Observer) {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.observers = append(t.observers, observer)
}

func (t *Tracer) RemoveObserver(observer Observer) {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.observers = lo.Reject(t.observers, func(added Observer, _ int) bool {
		return added == observer
	})
}

// Start starts ttb on the enabled nodes, then applies process flags and
// function patterns. Starting while already tracing is a no-op
func (t *Tracer) Start(ctx context.Context, configuration *Configuration) (Status, error) {
	t.lock.Lock()
	if t.tracing {
		t.lock.Unlock()
		return StatusOK, nil
	}

	enabledNodes := lo.Filter(configuration.Nodes, func(node TracedNode, _ int) bool {
		return node.Enabled
	})

	t.tracing = true
	t.loadingFileInfo = true
	t.activatedNodes = nil
	t.notActivatedNodes = lo.Map(enabledNodes, func(node TracedNode, _ int) string {
		return node.Name
	})
	t.installHandler(true)
	t.lock.Unlock()

	nodes := lo.Map(enabledNodes, func(node TracedNode, _ int) term.Term {
		return term.NewTuple(term.Atom(node.Name), term.Atom(node.Cookie))
	})

	outputFile := configuration.OutputFile
	if outputFile == "" {
		outputFile = DefaultOutputFile
	}

	netTickTime := configuration.NetTickTime
	if netTickTime == 0 {
		netTickTime = DefaultNetTickTime
	}

	t.logger.DebugWith("Starting tracing",
		"nodes", len(nodes),
		"outputFile", outputFile,
		"netTickTime", netTickTime)

	result, err := t.site.Call(ctx, nil, helperModule, "start", "xsi", term.NewList(nodes...), outputFile, netTickTime)
	if err != nil {
		return t.abortStart(errors.Wrap(err, "Could not start tracing tool"))
	}

	status := t.processStartResult(result)
	if status != StatusOK && status != StatusNotAllNodesActivated {
		t.lock.Lock()
		t.tracing = false
		t.uninstallHandler()
		t.lock.Unlock()

		return status, nil
	}

	if err := t.setProcessFlags(ctx, configuration); err != nil {
		return t.abortStart(err)
	}

	t.setPatterns(ctx, configuration.Patterns)

	for _, observer := range t.observersSnapshot() {
		observer.TracingStarted()
	}

	return status, nil
}

// Stop stops ttb. The result file is then described through trace_event
// events ending with stop_tracing
func (t *Tracer) Stop(ctx context.Context) error {
	t.lock.Lock()
	if !t.tracing || t.loading {
		t.lock.Unlock()
		return nil
	}
	t.loading = true
	t.lock.Unlock()

	if _, err := t.site.Call(ctx, nil, helperModule, "stop", ""); err != nil {
		err = errors.Wrap(err, "Could not stop tracing tool")
		t.finishWithError(err)

		return err
	}

	return nil
}

// LoadFileInfo asks for the description of a result file
func (t *Tracer) LoadFileInfo(ctx context.Context, path string) error {
	if err := t.startLoading(true); err != nil {
		return err
	}

	if _, err := t.site.Call(ctx, nil, helperModule, "get_file_info", "s", path); err != nil {
		err = errors.Wrapf(err, "Could not load file info of %s", path)
		t.finishWithError(err)

		return err
	}

	return nil
}

// Load streams the traces numbered start to end of a result file. Fewer are
// sent if the file holds less
func (t *Tracer) Load(ctx context.Context, path string, start int64, end int64) error {
	if start < 0 || end < start {
		return errors.Errorf("Invalid trace range %d-%d", start, end)
	}

	if err := t.startLoading(false); err != nil {
		return err
	}

	if _, err := t.site.Call(ctx, nil, helperModule, "load", "sii", path, start, end); err != nil {
		err = errors.Wrapf(err, "Could not load traces from %s", path)
		t.finishWithError(err)

		return err
	}

	return nil
}

func (t *Tracer) startLoading(fileInfo bool) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.tracing || t.loading {
		return ErrBusy
	}

	t.loading = true
	t.loadingFileInfo = fileInfo
	t.installHandler(fileInfo)

	return nil
}

func (t *Tracer) processStartResult(result term.Term) Status {
	t.lock.Lock()
	defer t.lock.Unlock()

	if term.IsTagged(result, term.Error) {
		t.errorReason, _ = term.Element(result, 1)
		return StatusError
	}

	nodeNames, err := term.Element(result, 1)
	if err != nil {
		t.errorReason = result
		return StatusError
	}

	list, isList := nodeNames.(term.List)
	if !isList {
		t.errorReason = result
		return StatusError
	}

	for _, nodeName := range list.Elements {
		name, err := term.ToString(nodeName)
		if err != nil {
			continue
		}

		t.activatedNodes = append(t.activatedNodes, name)
		t.notActivatedNodes = lo.Without(t.notActivatedNodes, name)
	}

	switch {
	case len(t.activatedNodes) == 0:
		return StatusNoActivatedNodes
	case len(t.notActivatedNodes) != 0:
		return StatusNotAllNodesActivated
	}

	return StatusOK
}

func (t *Tracer) setProcessFlags(ctx context.Context, configuration *Configuration) error {
	if configuration.ProcessMode != ProcessModeByPid {
		processMode := configuration.ProcessMode
		if processMode == "" {
			processMode = ProcessModeAll
		}

		if _, err := t.site.Call(ctx,
			nil,
			ttbModule,
			"p",
			"ax",
			string(processMode),
			flagsList(configuration.ProcessFlags)); err != nil {
			return errors.Wrap(err, "Could not set process flags")
		}

		return nil
	}

	for _, process := range configuration.Processes {
		if !process.Selected {
			continue
		}

		if _, err := t.site.Call(ctx, nil, ttbModule, "p", "xx", process.Pid, flagsList(process.Flags)); err != nil {
			return errors.Wrapf(err, "Could not set process flags of %s", process.Pid)
		}
	}

	return nil
}

// setPatterns applies the enabled patterns. A failing pattern doesn't stop the others
func (t *Tracer) setPatterns(ctx context.Context, patterns []Pattern) {
	for _, pattern := range patterns {
		if !pattern.Enabled {
			continue
		}

		function := "tp"
		if pattern.Local {
			function = "tpl"
		}

		var matchSpec term.Term = term.NewList()
		if pattern.MatchSpec != nil {
			matchSpec = pattern.MatchSpec
		}

		var err error
		if pattern.Arity < 0 {
			_, err = t.site.Call(ctx, nil, ttbModule, function, "aax", pattern.Module, pattern.Function, matchSpec)
		} else {
			_, err = t.site.Call(ctx, nil, ttbModule, function, "aaxx", pattern.Module, pattern.Function, pattern.Arity, matchSpec)
		}

		if err != nil {
			t.logger.WarnWith("Could not add trace pattern",
				"module", pattern.Module,
				"function", pattern.Function,
				"arity", pattern.Arity,
				"err", err.Error())
		}
	}
}

func (t *Tracer) abortStart(err error) (Status, error) {
	t.lock.Lock()
	t.tracing = false
	t.lastErr = err
	t.uninstallHandler()
	t.lock.Unlock()

	t.logger.WarnWith("Tracing failed to start", "err", err.Error())

	return StatusExceptionThrown, err
}

func (t *Tracer) finishWithError(err error) {
	t.lock.Lock()
	t.lastErr = err
	handler := t.handler
	t.lock.Unlock()

	if handler != nil {
		handler.complete(StatusExceptionThrown, term.String(err.Error()))
		return
	}

	t.finishLoading(nil, StatusExceptionThrown, nil)
}

// finishLoading ends the load driven by handler. Completions of replaced
// handlers are ignored
func (t *Tracer) finishLoading(handler *EventHandler, status Status, reason term.Term) {
	t.lock.Lock()
	if t.handler != handler {
		t.lock.Unlock()
		return
	}

	fileInfo := t.loadingFileInfo
	t.uninstallHandler()
	t.loading = false
	t.tracing = false

	if status == StatusError {
		t.errorReason = reason
	}
	observers := append([]Observer{}, t.observers...)
	t.lock.Unlock()

	t.logger.DebugWith("Loading finished", "status", status.String(), "fileInfo", fileInfo)

	for _, observer := range observers {
		if fileInfo {
			observer.FileLoaded(status)
		} else {
			observer.TracesLoaded(status)
		}
	}
}

// installHandler must be called with the lock held
func (t *Tracer) installHandler(fileInfo bool) {
	t.uninstallHandler()

	var handler *EventHandler
	handler = newEventHandler(t.logger, t.sink, fileInfo, func(status Status, reason term.Term) {
		t.finishLoading(handler, status, reason)
	})

	t.handler = handler
	t.registry.Register(t.nodeName, handler)
}

// uninstallHandler must be called with the lock held
func (t *Tracer) uninstallHandler() {
	if t.handler == nil {
		return
	}

	t.registry.Unregister(t.handler)
	t.handler = nil
}

func (t *Tracer) observersSnapshot() []Observer {
	t.lock.Lock()
	defer t.lock.Unlock()

	return append([]Observer{}, t.observers...)
}
