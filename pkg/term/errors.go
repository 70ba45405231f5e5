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

package term

import (
	"fmt"

	"github.com/nuclio/errors"
)

// EncodingError is returned when a value can't be encoded under its type code,
// or when a signature doesn't match its arguments
type EncodingError struct {
	Signature string
	Position  int
	Message   string
}

func (e *EncodingError) Error() string {
	if e.Position < 0 {
		return fmt.Sprintf("Can't encode arguments for signature %q: %s", e.Signature, e.Message)
	}

	return fmt.Sprintf("Can't encode argument %d for signature %q: %s", e.Position, e.Signature, e.Message)
}

// DecodeError is the single error kind for malformed inbound bytes
type DecodeError struct {
	Offset  int
	Message string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("Can't decode term at offset %d: %s", e.Offset, e.Message)
}

// IsEncodingError returns true if the root cause of err is an EncodingError
func IsEncodingError(err error) bool {
	_, ok := errors.RootCause(err).(*EncodingError)
	return ok
}

// IsDecodeError returns true if the root cause of err is a DecodeError
func IsDecodeError(err error) bool {
	_, ok := errors.RootCause(err).(*DecodeError)
	return ok
}

func newEncodingError(signature string, position int, format string, args ...interface{}) *EncodingError {
	return &EncodingError{
		Signature: signature,
		Position:  position,
		Message:   fmt.Sprintf(format, args...),
	}
}
