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

package eunit

import (
	"context"

	"github.com/erlide/erlbridge/pkg/rpc"
	"github.com/erlide/erlbridge/pkg/term"

	"github.com/nuclio/errors"
)

const helperModule = "erlide_eunit"

// TestFunction is a test generator or test function found in a module
type TestFunction struct {
	Module   string
	Function string

	// Raw is the descriptor as returned by the node, passed back for counting
	Raw term.Term
}

// Name returns module:function
func (tf TestFunction) Name() string {
	return tf.Module + ":" + tf.Function
}

// FindTests lists the test functions of the given beam files
func FindTests(ctx context.Context, site rpc.Site, beams []string) ([]TestFunction, error) {
	result, err := site.Call(ctx, nil, helperModule, "find_tests", "ls", beams)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to find tests")
	}

	descriptors, err := okList(result)
	if err != nil {
		return nil, errors.Wrap(err, "Unexpected find_tests result")
	}

	testFunctions := make([]TestFunction, 0, len(descriptors))
	for _, descriptor := range descriptors {
		testFunction, err := parseTestFunction(descriptor)
		if err != nil {
			return nil, errors.Wrap(err, "Unexpected test descriptor")
		}

		testFunctions = append(testFunctions, testFunction)
	}

	return testFunctions, nil
}

// CountTests returns the number of tests behind each descriptor
func CountTests(ctx context.Context, site rpc.Site, descriptors []term.Term) ([]int, error) {
	result, err := site.Call(ctx, nil, helperModule, "count_tests", "lx", descriptors)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to count tests")
	}

	counts, err := okList(result)
	if err != nil {
		return nil, errors.Wrap(err, "Unexpected count_tests result")
	}

	testCounts := make([]int, 0, len(counts))
	for _, count := range counts {
		value, err := term.Element(count, 0)
		if err != nil {
			return nil, err
		}

		intValue, err := term.ToInt64(value)
		if err != nil {
			return nil, err
		}

		testCounts = append(testCounts, int(intValue))
	}

	return testCounts, nil
}

// RunTests starts a run on the node. Progress arrives as events sent by
// eventPid, see EventHandler
func RunTests(ctx context.Context, site rpc.Site, tests term.List, eventPid term.Pid) error {
	if err := site.Cast(ctx, nil, helperModule, "run_tests", "xx", tests, eventPid); err != nil {
		return errors.Wrap(err, "Failed to start test run")
	}

	return nil
}

// Descriptors returns the raw descriptors of test functions
func Descriptors(testFunctions []TestFunction) []term.Term {
	descriptors := make([]term.Term, len(testFunctions))
	for index, testFunction := range testFunctions {
		descriptors[index] = testFunction.Raw
	}

	return descriptors
}

func parseTestFunction(descriptor term.Term) (TestFunction, error) {
	module, err := term.Element(descriptor, 0)
	if err != nil {
		return TestFunction{}, err
	}

	function, err := term.Element(descriptor, 1)
	if err != nil {
		return TestFunction{}, err
	}

	return TestFunction{
		Module:   text(module),
		Function: text(function),
		Raw:      descriptor,
	}, nil
}

func okList(result term.Term) ([]term.Term, error) {
	if !term.IsTagged(result, term.OK) {
		return nil, errors.Errorf("Expected {ok, List}, got %s", result)
	}

	value, err := term.Element(result, 1)
	if err != nil {
		return nil, err
	}

	list, isList := value.(term.List)
	if !isList || !list.IsProper() {
		return nil, errors.Errorf("Expected a list, got %s", value)
	}

	return list.Elements, nil
}
