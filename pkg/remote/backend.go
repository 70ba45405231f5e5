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

package remote

import (
	"context"
	"fmt"
	"strings"

	"github.com/erlide/erlbridge/pkg/rpc"
	"github.com/erlide/erlbridge/pkg/term"

	"github.com/nuclio/errors"
)

const backendModule = "erlide_backend"

// ParseError is returned when the node rejects text as a term or as code
type ParseError struct {
	Operation string
	Text      string
	Reason    term.Term
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("Could not %s %q: %s", e.Operation, e.Text, e.Reason)
}

// IsParseError returns true if the root cause of err is a ParseError
func IsParseError(err error) bool {
	_, ok := errors.RootCause(err).(*ParseError)
	return ok
}

// EvalResult is the outcome of evaluating expressions on the node
type EvalResult struct {
	Value    term.Term
	Bindings term.Term

	// Reason is set when evaluation failed
	Reason term.Term
}

func (er *EvalResult) IsOK() bool {
	return er.Reason == nil
}

// Init tells the node's erlide_backend which process receives its events
func Init(ctx context.Context, site rpc.Site, nodeName string, eventPid term.Pid) error {
	if _, err := site.Call(ctx, nil, backendModule, "init", "ap", nodeName, eventPid); err != nil {
		return errors.Wrap(err, "Failed to initialize backend helper")
	}

	return nil
}

// ParseTerm parses the text of a single term, e.g. "{a, [1, 2]}."
func ParseTerm(ctx context.Context, site rpc.Site, text string) (term.Term, error) {
	return okValue(ctx, site, "parse term", "parse_term", text)
}

// ScanString tokenizes text
func ScanString(ctx context.Context, site rpc.Site, text string) (term.Term, error) {
	return okValue(ctx, site, "tokenize string", "scan_string", text)
}

// ParseString parses text as forms
func ParseString(ctx context.Context, site rpc.Site, text string) (term.Term, error) {
	return okValue(ctx, site, "parse string", "parse_string", text)
}

// PrettyPrint reformats an expression
func PrettyPrint(ctx context.Context, site rpc.Site, text string) (string, error) {
	result, err := site.Call(ctx, nil, backendModule, "pretty_print", "s", text+".")
	if err != nil {
		return "", errors.Wrapf(err, "Could not pretty print %q", text)
	}

	return term.ToString(result)
}

// PrettyPrintTerm renders an abstract expression as code
func PrettyPrintTerm(ctx context.Context, site rpc.Site, expression term.Term) (string, error) {
	printed, err := site.Call(ctx, nil, "erlide_pp", "expr", "x", expression)
	if err != nil {
		return "", errors.Wrap(err, "Could not pretty print expression")
	}

	return flatten(ctx, site, printed)
}

// Eval evaluates expressions, with bindings if not nil. A failed evaluation
// is reported in the result, a failed call as an error
func Eval(ctx context.Context, site rpc.Site, text string, bindings term.Term) (*EvalResult, error) {
	var result term.Term
	var err error

	if bindings == nil {
		result, err = site.Call(ctx, nil, backendModule, "eval", "s", text)
	} else {
		result, err = site.Call(ctx, nil, backendModule, "eval", "sx", text, bindings)
	}

	if err != nil {
		return nil, errors.Wrapf(err, "Could not evaluate %q", text)
	}

	// an exception may come back as something else entirely
	if _, isTuple := result.(term.Tuple); !isTuple {
		return &EvalResult{Reason: result}, nil
	}

	if term.IsTagged(result, term.Error) {
		reason, err := term.Element(result, 1)
		if err != nil {
			reason = result
		}

		return &EvalResult{Reason: reason}, nil
	}

	value, err := term.Element(result, 1)
	if err != nil {
		return &EvalResult{Reason: result}, nil
	}

	boundVariables, err := term.Element(result, 2)
	if err != nil {
		return &EvalResult{Reason: result}, nil
	}

	return &EvalResult{
		Value:    value,
		Bindings: boundVariables,
	}, nil
}

// Format runs io_lib:format on the node
func Format(ctx context.Context, site rpc.Site, format string, args ...term.Term) (string, error) {
	result, err := site.Call(ctx, nil, backendModule, "format", "slx", format, args)
	if err != nil {
		return "", errors.Wrapf(err, "Could not format %q", format)
	}

	if formatted, err := term.ToString(result); err == nil {
		return formatted, nil
	}

	return strings.Trim(result.String(), "\""), nil
}

// FormatError renders an {Line, Module, Description} error info through
// Module:format_error/1
func FormatError(ctx context.Context, site rpc.Site, errorInfo term.Term) (string, error) {
	module, err := term.Element(errorInfo, 1)
	if err != nil {
		return "", err
	}

	moduleName, isAtom := module.(term.Atom)
	if !isAtom {
		return "", errors.Errorf("Expected module atom, got %s", module)
	}

	description, err := term.Element(errorInfo, 2)
	if err != nil {
		return "", err
	}

	formatted, err := site.Call(ctx, nil, string(moduleName), "format_error", "x", description)
	if err != nil {
		return "", errors.Wrapf(err, "Could not format error of %s", moduleName)
	}

	return flatten(ctx, site, formatted)
}

// LoadBeam loads compiled code. Sticky modules are only replaced in developer
// mode, where they are made sticky again afterwards
func LoadBeam(ctx context.Context, site rpc.Site, moduleName string, beam []byte, developer bool) (bool, error) {
	sticky, err := site.Call(ctx, nil, "code", "is_sticky", "a", moduleName)
	if err != nil {
		return false, errors.Wrapf(err, "Could not check whether %s is sticky", moduleName)
	}

	isSticky, err := term.ToBool(sticky)
	if err != nil {
		return false, err
	}

	if isSticky && !developer {
		return false, nil
	}

	loaded, err := site.Call(ctx, nil, "code", "load_binary", "asb", moduleName, moduleName+".erl", beam)
	if err != nil {
		return false, errors.Wrapf(err, "Could not load %s", moduleName)
	}

	if developer {
		if _, err := site.Call(ctx, nil, "code", "stick_mod", "a", moduleName); err != nil {
			return false, errors.Wrapf(err, "Could not make %s sticky", moduleName)
		}
	}

	return term.IsTagged(loaded, term.Atom("module")), nil
}

// ScriptID returns the version of the node's boot script
func ScriptID(ctx context.Context, site rpc.Site) (string, error) {
	result, err := site.Call(ctx, nil, "init", "script_id", "")
	if err != nil {
		return "", errors.Wrap(err, "Could not get script id")
	}

	version, err := term.Element(result, 1)
	if err != nil {
		return "", nil
	}

	if _, isString := version.(term.String); !isString {
		return "", nil
	}

	return term.ToString(version)
}

func okValue(ctx context.Context, site rpc.Site, operation string, function string, text string) (term.Term, error) {
	result, err := site.Call(ctx, nil, backendModule, function, "s", text)
	if err != nil {
		return nil, errors.Wrapf(err, "Could not %s %q", operation, text)
	}

	value, err := term.Element(result, 1)
	if err != nil {
		return nil, &ParseError{Operation: operation, Text: text, Reason: result}
	}

	if !term.IsOK(result) {
		return nil, &ParseError{Operation: operation, Text: text, Reason: value}
	}

	return value, nil
}

func flatten(ctx context.Context, site rpc.Site, deepList term.Term) (string, error) {
	flat, err := site.Call(ctx, nil, "lists", "flatten", "x", deepList)
	if err != nil {
		return "", errors.Wrap(err, "Could not flatten")
	}

	return term.ToString(flat)
}
