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

package processwaiter

import (
	"testing"
	"time"

	"github.com/nuclio/errors"
	"github.com/stretchr/testify/suite"
)

type exitStatus int

func (es exitStatus) ExitCode() int  { return int(es) }
func (es exitStatus) String() string { return "exit status" }

type fakeProcess struct {
	exited chan struct{}
	status ExitStatus
	err    error
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{exited: make(chan struct{})}
}

func (fp *fakeProcess) Wait() (ExitStatus, error) {
	<-fp.exited
	return fp.status, fp.err
}

type ProcessWaiterTestSuite struct {
	suite.Suite
}

func (suite *ProcessWaiterTestSuite) TestExit() {
	process := newFakeProcess()
	process.status = exitStatus(3)

	resultChan := NewProcessWaiter().Wait(process, nil)
	close(process.exited)

	result := suite.receive(resultChan)
	suite.Require().NoError(result.Err)
	suite.Require().Equal(3, result.ExitCode())
}

func (suite *ProcessWaiterTestSuite) TestWaitError() {
	process := newFakeProcess()
	process.err = errors.New("no child")

	resultChan := NewProcessWaiter().Wait(process, nil)
	close(process.exited)

	result := suite.receive(resultChan)
	suite.Require().Error(result.Err)
	suite.Require().Equal(-1, result.ExitCode())
}

func (suite *ProcessWaiterTestSuite) TestTimeout() {
	timeout := 20 * time.Millisecond

	result := suite.receive(NewProcessWaiter().Wait(newFakeProcess(), &timeout))
	suite.Require().Equal(ErrTimeout, result.Err)
}

func (suite *ProcessWaiterTestSuite) TestCancel() {
	processWaiter := NewProcessWaiter()
	resultChan := processWaiter.Wait(newFakeProcess(), nil)

	processWaiter.Cancel()
	processWaiter.Cancel()

	result := suite.receive(resultChan)
	suite.Require().Equal(ErrCancelled, result.Err)
}

func (suite *ProcessWaiterTestSuite) receive(resultChan <-chan WaitResult) WaitResult {
	select {
	case result := <-resultChan:
		return result
	case <-time.After(5 * time.Second):
		suite.Fail("No wait result")
	}

	return WaitResult{}
}

func TestProcessWaiterTestSuite(t *testing.T) {
	suite.Run(t, new(ProcessWaiterTestSuite))
}
