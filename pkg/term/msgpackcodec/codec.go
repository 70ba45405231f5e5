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

package msgpackcodec

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/erlide/erlbridge/pkg/term"

	"github.com/nuclio/errors"
	"github.com/vmihailenco/msgpack/v4"
)

// every term travels as an array whose first element is one of these
const (
	atomTag = iota
	integerTag
	floatTag
	stringTag
	binaryTag
	pidTag
	tupleTag
	properListTag
	improperListTag
)

const maxDepth = 512

// Codec implements term.Codec over msgpack arrays, for bridge peers that
// carry no external term format implementation
type Codec struct{}

// NewCodec returns a new msgpack codec
func NewCodec() *Codec {
	return &Codec{}
}

func (c *Codec) Name() string {
	return "msgpack"
}

func (c *Codec) Encode(value term.Term) ([]byte, error) {
	buffer := bytes.Buffer{}
	encoder := msgpack.NewEncoder(&buffer)

	if err := encodeTerm(encoder, value); err != nil {
		if _, isEncodingError := err.(*term.EncodingError); isEncodingError {
			return nil, err
		}

		return nil, errors.Wrap(err, "Failed to encode message")
	}

	return buffer.Bytes(), nil
}

func (c *Codec) Decode(data []byte) (decoded term.Term, err error) {
	reader := bytes.NewReader(data)
	decoder := msgpack.NewDecoder(reader)

	offset := func() int {
		return int(reader.Size()) - reader.Len()
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			decoded = nil
			err = &term.DecodeError{Offset: offset(), Message: fmt.Sprintf("internal decoder failure: %v", recovered)}
		}
	}()

	decoded, err = decodeTerm(decoder, 0)
	if err != nil {
		if decodeError, isDecodeError := err.(*term.DecodeError); isDecodeError {
			return nil, decodeError
		}

		return nil, &term.DecodeError{Offset: offset(), Message: err.Error()}
	}

	if reader.Len() != 0 {
		return nil, &term.DecodeError{Offset: offset(), Message: fmt.Sprintf("%d trailing bytes", reader.Len())}
	}

	return decoded, nil
}

func encodeTerm(encoder *msgpack.Encoder, value term.Term) error {
	switch typedValue := value.(type) {
	case term.Atom:
		return encodeTagged(encoder, atomTag, 1, func() error {
			return encoder.EncodeString(string(typedValue))
		})

	case term.Integer:
		if intValue, fits := typedValue.Int64(); fits {
			return encodeTagged(encoder, integerTag, 1, func() error {
				return encoder.EncodeInt(intValue)
			})
		}

		// [tag, negative, magnitude] for values beyond 64 bits
		bigValue := typedValue.Big()
		return encodeTagged(encoder, integerTag, 2, func() error {
			if err := encoder.EncodeBool(bigValue.Sign() < 0); err != nil {
				return err
			}

			return encoder.EncodeBytes(bigValue.Abs(bigValue).Bytes())
		})

	case term.Float:
		return encodeTagged(encoder, floatTag, 1, func() error {
			return encoder.EncodeFloat64(float64(typedValue))
		})

	case term.String:
		return encodeTagged(encoder, stringTag, 1, func() error {
			return encoder.EncodeString(string(typedValue))
		})

	case term.Binary:
		return encodeTagged(encoder, binaryTag, 1, func() error {
			return encoder.EncodeBytes(typedValue)
		})

	case term.Pid:
		return encodeTagged(encoder, pidTag, 4, func() error {
			if err := encoder.EncodeString(string(typedValue.Node)); err != nil {
				return err
			}

			for _, field := range []uint32{typedValue.ID, typedValue.Serial, typedValue.Creation} {
				if err := encoder.EncodeUint(uint64(field)); err != nil {
					return err
				}
			}

			return nil
		})

	case term.Tuple:
		return encodeTagged(encoder, tupleTag, len(typedValue), func() error {
			return encodeTerms(encoder, typedValue)
		})

	case term.List:
		if typedValue.Tail == nil {
			return encodeTagged(encoder, properListTag, len(typedValue.Elements), func() error {
				return encodeTerms(encoder, typedValue.Elements)
			})
		}

		return encodeTagged(encoder, improperListTag, len(typedValue.Elements)+1, func() error {
			if err := encodeTerm(encoder, typedValue.Tail); err != nil {
				return err
			}

			return encodeTerms(encoder, typedValue.Elements)
		})

	case nil:
		return &term.EncodingError{Position: -1, Message: "can't encode a nil term"}
	}

	return errors.Errorf("Unsupported term type %T", value)
}

func encodeTagged(encoder *msgpack.Encoder, tag int, fields int, encodeFields func() error) error {
	if err := encoder.EncodeArrayLen(fields + 1); err != nil {
		return err
	}

	if err := encoder.EncodeInt(int64(tag)); err != nil {
		return err
	}

	return encodeFields()
}

func encodeTerms(encoder *msgpack.Encoder, values []term.Term) error {
	for _, value := range values {
		if err := encodeTerm(encoder, value); err != nil {
			return err
		}
	}

	return nil
}

func decodeTerm(decoder *msgpack.Decoder, depth int) (term.Term, error) {
	if depth > maxDepth {
		return nil, errors.Errorf("nesting deeper than %d", maxDepth)
	}

	length, err := decoder.DecodeArrayLen()
	if err != nil {
		return nil, err
	}

	if length < 1 {
		return nil, errors.New("term array has no tag")
	}

	tag, err := decoder.DecodeInt()
	if err != nil {
		return nil, err
	}

	fields := length - 1

	switch tag {
	case atomTag:
		if fields != 1 {
			break
		}

		name, err := decoder.DecodeString()
		if err != nil {
			return nil, err
		}
		return term.Atom(name), nil

	case integerTag:
		switch fields {
		case 1:
			value, err := decoder.DecodeInt64()
			if err != nil {
				return nil, err
			}
			return term.NewInteger(value), nil
		case 2:
			negative, err := decoder.DecodeBool()
			if err != nil {
				return nil, err
			}

			magnitude, err := decoder.DecodeBytes()
			if err != nil {
				return nil, err
			}

			value := new(big.Int).SetBytes(magnitude)
			if negative {
				value.Neg(value)
			}
			return term.NewBigInteger(value), nil
		}

	case floatTag:
		if fields != 1 {
			break
		}

		value, err := decoder.DecodeFloat64()
		if err != nil {
			return nil, err
		}
		return term.Float(value), nil

	case stringTag:
		if fields != 1 {
			break
		}

		value, err := decoder.DecodeString()
		if err != nil {
			return nil, err
		}
		return term.String(value), nil

	case binaryTag:
		if fields != 1 {
			break
		}

		value, err := decoder.DecodeBytes()
		if err != nil {
			return nil, err
		}

		// nil and empty byte strings are the same binary
		if value == nil {
			value = []byte{}
		}
		return term.Binary(value), nil

	case pidTag:
		if fields != 4 {
			break
		}

		node, err := decoder.DecodeString()
		if err != nil {
			return nil, err
		}

		var numbers [3]uint32
		for index := range numbers {
			if numbers[index], err = decoder.DecodeUint32(); err != nil {
				return nil, err
			}
		}

		return term.Pid{
			Node:     term.Atom(node),
			ID:       numbers[0],
			Serial:   numbers[1],
			Creation: numbers[2],
		}, nil

	case tupleTag:
		elements, err := decodeTerms(decoder, fields, depth)
		if err != nil {
			return nil, err
		}
		return term.Tuple(elements), nil

	case properListTag:
		elements, err := decodeTerms(decoder, fields, depth)
		if err != nil {
			return nil, err
		}
		return term.List{Elements: elements}, nil

	case improperListTag:
		if fields < 2 {
			break
		}

		tail, err := decodeTerm(decoder, depth+1)
		if err != nil {
			return nil, err
		}

		elements, err := decodeTerms(decoder, fields-1, depth)
		if err != nil {
			return nil, err
		}
		return term.List{Elements: elements, Tail: tail}, nil

	default:
		return nil, errors.Errorf("unsupported tag %d", tag)
	}

	return nil, errors.Errorf("tag %d doesn't take %d fields", tag, fields)
}

func decodeTerms(decoder *msgpack.Decoder, count int, depth int) ([]term.Term, error) {
	if count == 0 {
		return nil, nil
	}

	// the declared count is untrusted, let the input run out first
	capacity := count
	if capacity > 64 {
		capacity = 64
	}

	elements := make([]term.Term, 0, capacity)
	for index := 0; index < count; index++ {
		element, err := decodeTerm(decoder, depth+1)
		if err != nil {
			return nil, err
		}
		elements = append(elements, element)
	}

	return elements, nil
}
