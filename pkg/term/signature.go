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
	"math/big"
	"reflect"
)

// TypeCode describes how a single positional argument is encoded
type TypeCode struct {
	Code    byte
	Element *TypeCode
}

func (tc TypeCode) String() string {
	if tc.Element != nil {
		return string(tc.Code) + tc.Element.String()
	}

	return string(tc.Code)
}

// Signature is a parsed argument signature, e.g. "sax" or "lsi"
type Signature []TypeCode

// ParseSignature parses a signature string. 'l' consumes the code following it
func ParseSignature(signature string) (Signature, error) {
	var parsed Signature

	for position := 0; position < len(signature); {
		typeCode, consumed, err := parseTypeCode(signature, position)
		if err != nil {
			return nil, err
		}

		parsed = append(parsed, typeCode)
		position += consumed
	}

	return parsed, nil
}

// EncodeArgs converts args according to signature. The number of type codes must
// equal the number of arguments
func EncodeArgs(signature string, args ...interface{}) ([]Term, error) {
	parsed, err := ParseSignature(signature)
	if err != nil {
		return nil, err
	}

	if len(parsed) != len(args) {
		return nil, newEncodingError(signature,
			-1,
			"signature has %d type codes but %d arguments were given",
			len(parsed),
			len(args))
	}

	encoded := make([]Term, len(args))
	for position, arg := range args {
		if encoded[position], err = encodeValue(signature, position, parsed[position], arg); err != nil {
			return nil, err
		}
	}

	return encoded, nil
}

// Convert infers a term for a Go value, as done for the 'x' type code
func Convert(value interface{}) (Term, error) {
	return encodeValue("x", 0, TypeCode{Code: 'x'}, value)
}

func parseTypeCode(signature string, position int) (TypeCode, int, error) {
	code := signature[position]

	switch code {
	case 'a', 's', 'b', 'i', 'f', 'o', 'p', 'x', 't':
		return TypeCode{Code: code}, 1, nil
	case 'l':
		if position+1 >= len(signature) {
			return TypeCode{}, 0, newEncodingError(signature, -1, "list code at %d has no element code", position)
		}

		element, consumed, err := parseTypeCode(signature, position+1)
		if err != nil {
			return TypeCode{}, 0, err
		}

		return TypeCode{Code: code, Element: &element}, consumed + 1, nil
	}

	return TypeCode{}, 0, newEncodingError(signature, -1, "unknown type code %q at %d", code, position)
}

func encodeValue(signature string, position int, typeCode TypeCode, value interface{}) (Term, error) {
	switch typeCode.Code {
	case 'a':
		switch typedValue := value.(type) {
		case Atom:
			return typedValue, nil
		case string:
			return Atom(typedValue), nil
		}
	case 's':
		switch typedValue := value.(type) {
		case String:
			return typedValue, nil
		case string:
			return String(typedValue), nil
		case []byte:
			return String(typedValue), nil
		}
	case 'b':
		switch typedValue := value.(type) {
		case Binary:
			return typedValue, nil
		case []byte:
			return Binary(typedValue), nil
		case string:
			return Binary(typedValue), nil
		}
	case 'i':
		if integer, ok := toInteger(value); ok {
			return integer, nil
		}
	case 'f':
		switch typedValue := value.(type) {
		case Float:
			return typedValue, nil
		case float64:
			return Float(typedValue), nil
		case float32:
			return Float(typedValue), nil
		}
	case 'o':
		switch typedValue := value.(type) {
		case bool:
			if typedValue {
				return True, nil
			}
			return False, nil
		case Atom:
			if typedValue == True || typedValue == False {
				return typedValue, nil
			}
		}
	case 'p':
		switch typedValue := value.(type) {
		case Pid:
			return typedValue, nil
		case *Pid:
			if typedValue != nil {
				return *typedValue, nil
			}
		}
	case 't':
		if tuple, ok := value.(Tuple); ok {
			return tuple, nil
		}

		elements, ok := toSlice(value)
		if !ok {
			break
		}

		tuple := make(Tuple, len(elements))
		for index, element := range elements {
			converted, err := encodeValue(signature, position, TypeCode{Code: 'x'}, element)
			if err != nil {
				return nil, err
			}
			tuple[index] = converted
		}

		return tuple, nil
	case 'l':
		if list, ok := value.(List); ok {
			return list, nil
		}

		elements, ok := toSlice(value)
		if !ok {
			break
		}

		list := List{Elements: make([]Term, len(elements))}
		for index, element := range elements {
			converted, err := encodeValue(signature, position, *typeCode.Element, element)
			if err != nil {
				return nil, err
			}
			list.Elements[index] = converted
		}

		return list, nil
	case 'x':
		return infer(signature, position, value)
	}

	return nil, newEncodingError(signature, position, "%T is not compatible with type code %q", value, typeCode.String())
}

func infer(signature string, position int, value interface{}) (Term, error) {
	switch typedValue := value.(type) {
	case Term:
		return typedValue, nil
	case string:
		return String(typedValue), nil
	case []byte:
		return Binary(typedValue), nil
	case bool:
		return encodeValue(signature, position, TypeCode{Code: 'o'}, typedValue)
	case float32, float64:
		return encodeValue(signature, position, TypeCode{Code: 'f'}, typedValue)
	case nil:
		return Undefined, nil
	}

	if integer, ok := toInteger(value); ok {
		return integer, nil
	}

	if elements, ok := toSlice(value); ok {
		list := List{Elements: make([]Term, len(elements))}
		for index, element := range elements {
			converted, err := infer(signature, position, element)
			if err != nil {
				return nil, err
			}
			list.Elements[index] = converted
		}

		return list, nil
	}

	return nil, newEncodingError(signature, position, "can't infer a term for %T", value)
}

func toInteger(value interface{}) (Integer, bool) {
	switch typedValue := value.(type) {
	case Integer:
		return typedValue, true
	case *big.Int:
		if typedValue == nil {
			return Integer{}, false
		}
		return NewBigInteger(typedValue), true
	case int:
		return NewInteger(int64(typedValue)), true
	case int8:
		return NewInteger(int64(typedValue)), true
	case int16:
		return NewInteger(int64(typedValue)), true
	case int32:
		return NewInteger(int64(typedValue)), true
	case int64:
		return NewInteger(typedValue), true
	case uint:
		return NewBigInteger(new(big.Int).SetUint64(uint64(typedValue))), true
	case uint8:
		return NewInteger(int64(typedValue)), true
	case uint16:
		return NewInteger(int64(typedValue)), true
	case uint32:
		return NewInteger(int64(typedValue)), true
	case uint64:
		return NewBigInteger(new(big.Int).SetUint64(typedValue)), true
	}

	return Integer{}, false
}

// toSlice returns the elements of any slice or array except byte slices
func toSlice(value interface{}) ([]interface{}, bool) {
	if value == nil {
		return nil, false
	}

	if _, isBytes := value.([]byte); isBytes {
		return nil, false
	}

	reflected := reflect.ValueOf(value)
	if reflected.Kind() != reflect.Slice && reflected.Kind() != reflect.Array {
		return nil, false
	}

	elements := make([]interface{}, reflected.Len())
	for index := range elements {
		elements[index] = reflected.Index(index).Interface()
	}

	return elements, true
}
