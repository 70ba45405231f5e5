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
	"github.com/nuclio/errors"
)

// Codec converts terms to and from their wire representation
type Codec interface {

	// Encode returns the wire representation of a term
	Encode(value Term) ([]byte, error)

	// Decode parses one complete term. All failures are *DecodeError
	Decode(data []byte) (Term, error)

	// Name returns the codec name as used in configuration
	Name() string
}

// IsOK returns true for the atom ok and for tuples tagged with ok
func IsOK(value Term) bool {
	switch typedValue := value.(type) {
	case Atom:
		return typedValue == OK
	case Tuple:
		return len(typedValue) > 0 && OK.Equal(typedValue[0])
	}

	return false
}

// IsTagged returns true if value is a tuple whose first element is the given atom
func IsTagged(value Term, tag Atom) bool {
	tuple, ok := value.(Tuple)
	return ok && len(tuple) > 0 && tag.Equal(tuple[0])
}

// Element returns the element at index of a tuple
func Element(value Term, index int) (Term, error) {
	tuple, ok := value.(Tuple)
	if !ok {
		return nil, errors.Errorf("Expected tuple, got %s", describe(value))
	}

	if index < 0 || index >= len(tuple) {
		return nil, errors.Errorf("Tuple of arity %d has no element %d", len(tuple), index)
	}

	return tuple[index], nil
}

// ToString returns the textual content of a charlist, binary or atom
func ToString(value Term) (string, error) {
	switch typedValue := value.(type) {
	case String:
		return string(typedValue), nil
	case Binary:
		return string(typedValue), nil
	case Atom:
		return string(typedValue), nil
	case List:

		// a list of code points is also text, e.g. after lists:flatten/1
		if !typedValue.IsProper() {
			return "", errors.New("Improper list is not a string")
		}

		runes := make([]rune, 0, len(typedValue.Elements))
		for _, element := range typedValue.Elements {
			integer, ok := element.(Integer)
			if !ok {
				return "", errors.Errorf("List element %s is not a character", describe(element))
			}

			codePoint, fits := integer.Int64()
			if !fits || codePoint < 0 || codePoint > 0x10FFFF {
				return "", errors.Errorf("Integer %s is not a character", integer)
			}
			runes = append(runes, rune(codePoint))
		}

		return string(runes), nil
	}

	return "", errors.Errorf("Expected string, got %s", describe(value))
}

// ToInt64 returns the value of an integer term that fits an int64
func ToInt64(value Term) (int64, error) {
	integer, ok := value.(Integer)
	if !ok {
		return 0, errors.Errorf("Expected integer, got %s", describe(value))
	}

	intValue, fits := integer.Int64()
	if !fits {
		return 0, errors.Errorf("Integer %s does not fit 64 bits", integer)
	}

	return intValue, nil
}

// ToBool returns the value of the atoms true and false
func ToBool(value Term) (bool, error) {
	switch {
	case True.Equal(value):
		return true, nil
	case False.Equal(value):
		return false, nil
	}

	return false, errors.Errorf("Expected boolean, got %s", describe(value))
}

func describe(value Term) string {
	if value == nil {
		return "nothing"
	}

	return value.Kind().String() + " " + value.String()
}
