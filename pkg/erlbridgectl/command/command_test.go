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

package command

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/erlide/erlbridge/pkg/term"

	"github.com/stretchr/testify/suite"
)

type CommandTestSuite struct {
	suite.Suite
}

func (suite *CommandTestSuite) TestParseArgs() {
	args, err := parseArgs("asbifo", []string{"erlide", "text", "raw", "-12", "2.5", "true"})
	suite.Require().NoError(err)
	suite.Require().Equal([]interface{}{"erlide", "text", []byte("raw"), int64(-12), 2.5, true}, args)

	encoded, err := term.EncodeArgs("asbifo", args...)
	suite.Require().NoError(err)
	suite.Require().True(term.Atom("erlide").Equal(encoded[0]))
	suite.Require().True(term.NewInteger(-12).Equal(encoded[3]))
}

func (suite *CommandTestSuite) TestParseArgsErrors() {
	for _, testCase := range []struct {
		name      string
		signature string
		words     []string
	}{
		{name: "countMismatch", signature: "ii", words: []string{"1"}},
		{name: "badInteger", signature: "i", words: []string{"one"}},
		{name: "badFloat", signature: "f", words: []string{"x"}},
		{name: "badBool", signature: "o", words: []string{"maybe"}},
		{name: "compound", signature: "x", words: []string{"{a,b}"}},
		{name: "badSignature", signature: "q", words: []string{"1"}},
	} {
		suite.Run(testCase.name, func() {
			_, err := parseArgs(testCase.signature, testCase.words)
			suite.Require().Error(err)
		})
	}
}

func (suite *CommandTestSuite) TestUnknownBackend() {
	rootCommandeer := NewRootCommandeer()
	output := &bytes.Buffer{}

	cmd := rootCommandeer.GetCmd()
	cmd.SetOut(output)
	cmd.SetArgs([]string{
		"--config", filepath.Join(suite.T().TempDir(), "missing.yaml"),
		"ping", "nobody@localhost",
	})

	err := rootCommandeer.Execute()
	suite.Require().Error(err)
	suite.Require().Contains(err.Error(), "nobody@localhost")
}

func (suite *CommandTestSuite) TestMissingArguments() {
	rootCommandeer := NewRootCommandeer()

	cmd := rootCommandeer.GetCmd()
	cmd.SetArgs([]string{"call", "erlide@localhost", "lists"})

	suite.Require().Error(rootCommandeer.Execute())
}

func TestCommandTestSuite(t *testing.T) {
	suite.Run(t, new(CommandTestSuite))
}
