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

package processwaiter

import (
	"time"

	"github.com/nuclio/errors"
)

var ErrCancelled = errors.New("Wait cancelled")
var ErrTimeout = errors.New("Timed out waiting for process to exit")

// Waitable is anything that blocks until a process exits, like *os.Process
type Waitable interface {
	Wait() (ExitStatus, error)
}

// ExitStatus describes how a process ended
type ExitStatus interface {
	ExitCode() int
	String() string
}

type WaitResult struct {
	ExitStatus ExitStatus
	Err        error
}

// ExitCode returns the exit code, or -1 if the wait itself failed
func (wr WaitResult) ExitCode() int {
	if wr.Err != nil || wr.ExitStatus == nil {
		return -1
	}

	return wr.ExitStatus.ExitCode()
}

// ProcessWaiter waits for a single process exit, giving up on timeout or cancel
type ProcessWaiter struct {
	cancelChan chan struct{}
	resultChan chan WaitResult
}

func NewProcessWaiter() *ProcessWaiter {
	return &ProcessWaiter{
		resultChan: make(chan WaitResult, 1),
		cancelChan: make(chan struct{}, 1),
	}
}

// Wait returns a channel that receives exactly one result. A nil timeout waits forever
func (pw *ProcessWaiter) Wait(process Waitable, timeout *time.Duration) <-chan WaitResult {
	var timeoutChan <-chan time.Time

	if timeout != nil {
		timeoutChan = time.After(*timeout)
	}

	processExitedChan := make(chan WaitResult, 1)

	go func() {

		// blocks until the process is gone, even if nobody listens anymore
		go pw.waitForProcess(process, processExitedChan)

		select {
		case <-timeoutChan:
			pw.resultChan <- WaitResult{Err: ErrTimeout}
		case waitResult := <-processExitedChan:

			// cancellation wins a tie with the exit
			select {
			case <-pw.cancelChan:
				pw.resultChan <- WaitResult{Err: ErrCancelled}
			default:
				pw.resultChan <- waitResult
			}
		case <-pw.cancelChan:
			pw.resultChan <- WaitResult{Err: ErrCancelled}
		}
	}()

	return pw.resultChan
}

// Cancel stops waiting. The process itself is left alone
func (pw *ProcessWaiter) Cancel() {
	select {
	case pw.cancelChan <- struct{}{}:
	default:
	}
}

func (pw *ProcessWaiter) waitForProcess(process Waitable, processExitedChan chan WaitResult) {
	exitStatus, err := process.Wait()
	processExitedChan <- WaitResult{ExitStatus: exitStatus, Err: err}
}
