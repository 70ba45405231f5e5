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

package etf

import (
	"bytes"
	"encoding/binary"
	"math"
	"math/big"
	"unicode/utf8"

	"github.com/erlide/erlbridge/pkg/term"

	"github.com/nuclio/errors"
)

const (
	versionTag = 131

	newFloatTag        = 70
	newPidTag          = 88
	smallIntegerTag    = 97
	integerTag         = 98
	floatTag           = 99
	atomTag            = 100
	pidTag             = 103
	smallTupleTag      = 104
	largeTupleTag      = 105
	nilTag             = 106
	stringTag          = 107
	listTag            = 108
	binaryTag          = 109
	smallBigTag        = 110
	largeBigTag        = 111
	smallAtomTag       = 115
	atomUTF8Tag        = 118
	smallAtomUTF8Tag   = 119
	maxStringExtLength = 65535
)

// Codec implements term.Codec over the Erlang external term format
type Codec struct{}

// NewCodec returns a new external term format codec
func NewCodec() *Codec {
	return &Codec{}
}

// Name returns the codec name
func (c *Codec) Name() string {
	return "etf"
}

// Encode returns the versioned external representation of value
func (c *Codec) Encode(value term.Term) ([]byte, error) {
	buffer := bytes.Buffer{}
	buffer.WriteByte(versionTag)

	if err := encodeTerm(&buffer, value); err != nil {
		return nil, err
	}

	return buffer.Bytes(), nil
}

func encodeTerm(buffer *bytes.Buffer, value term.Term) error {
	switch typedValue := value.(type) {
	case term.Atom:
		return encodeAtom(buffer, typedValue)
	case term.Integer:
		encodeInteger(buffer, typedValue)
	case term.Float:
		buffer.WriteByte(newFloatTag)
		writeUint64(buffer, math.Float64bits(float64(typedValue)))
	case term.String:
		return encodeString(buffer, typedValue)
	case term.Binary:
		if uint64(len(typedValue)) > math.MaxUint32 {
			return &term.EncodingError{Position: -1, Message: "binary too large"}
		}
		buffer.WriteByte(binaryTag)
		writeUint32(buffer, uint32(len(typedValue)))
		buffer.Write(typedValue)
	case term.Pid:
		buffer.WriteByte(newPidTag)
		if err := encodeAtom(buffer, typedValue.Node); err != nil {
			return err
		}
		writeUint32(buffer, typedValue.ID)
		writeUint32(buffer, typedValue.Serial)
		writeUint32(buffer, typedValue.Creation)
	case term.Tuple:
		if len(typedValue) <= math.MaxUint8 {
			buffer.WriteByte(smallTupleTag)
			buffer.WriteByte(byte(len(typedValue)))
		} else {
			buffer.WriteByte(largeTupleTag)
			writeUint32(buffer, uint32(len(typedValue)))
		}

		for _, element := range typedValue {
			if err := encodeTerm(buffer, element); err != nil {
				return err
			}
		}
	case term.List:
		return encodeList(buffer, typedValue)
	case nil:
		return &term.EncodingError{Position: -1, Message: "can't encode a nil term"}
	default:
		return errors.Errorf("Unsupported term type %T", value)
	}

	return nil
}

func encodeAtom(buffer *bytes.Buffer, atom term.Atom) error {
	if !utf8.ValidString(string(atom)) {
		return &term.EncodingError{Position: -1, Message: "atom is not valid UTF-8"}
	}

	if utf8.RuneCountInString(string(atom)) > 255 {
		return &term.EncodingError{Position: -1, Message: "atom longer than 255 characters"}
	}

	if len(atom) <= math.MaxUint8 {
		buffer.WriteByte(smallAtomUTF8Tag)
		buffer.WriteByte(byte(len(atom)))
	} else {
		buffer.WriteByte(atomUTF8Tag)
		writeUint16(buffer, uint16(len(atom)))
	}

	buffer.WriteString(string(atom))
	return nil
}

func encodeInteger(buffer *bytes.Buffer, integer term.Integer) {
	value := integer.Big()

	if value.IsInt64() {
		intValue := value.Int64()

		if intValue >= 0 && intValue <= math.MaxUint8 {
			buffer.WriteByte(smallIntegerTag)
			buffer.WriteByte(byte(intValue))
			return
		}

		if intValue >= math.MinInt32 && intValue <= math.MaxInt32 {
			buffer.WriteByte(integerTag)
			writeUint32(buffer, uint32(int32(intValue)))
			return
		}
	}

	sign := byte(0)
	if value.Sign() < 0 {
		sign = 1
	}

	// big.Int.Bytes is big endian magnitude, the external format wants little endian
	magnitude := new(big.Int).Abs(value).Bytes()
	for left, right := 0, len(magnitude)-1; left < right; left, right = left+1, right-1 {
		magnitude[left], magnitude[right] = magnitude[right], magnitude[left]
	}

	if len(magnitude) <= math.MaxUint8 {
		buffer.WriteByte(smallBigTag)
		buffer.WriteByte(byte(len(magnitude)))
	} else {
		buffer.WriteByte(largeBigTag)
		writeUint32(buffer, uint32(len(magnitude)))
	}

	buffer.WriteByte(sign)
	buffer.Write(magnitude)
}

func encodeString(buffer *bytes.Buffer, value term.String) error {
	runes := []rune(string(value))

	latin1 := len(runes) <= maxStringExtLength
	for _, character := range runes {
		if character > 255 {
			latin1 = false
			break
		}
	}

	if latin1 {
		buffer.WriteByte(stringTag)
		writeUint16(buffer, uint16(len(runes)))
		for _, character := range runes {
			buffer.WriteByte(byte(character))
		}

		return nil
	}

	// wide characters can only travel as a list of integers
	elements := make([]term.Term, len(runes))
	for index, character := range runes {
		elements[index] = term.NewInteger(int64(character))
	}

	return encodeList(buffer, term.List{Elements: elements})
}

func encodeList(buffer *bytes.Buffer, list term.List) error {
	if len(list.Elements) == 0 && list.Tail == nil {
		buffer.WriteByte(nilTag)
		return nil
	}

	if len(list.Elements) == 0 {
		return &term.EncodingError{Position: -1, Message: "improper list without elements"}
	}

	buffer.WriteByte(listTag)
	writeUint32(buffer, uint32(len(list.Elements)))

	for _, element := range list.Elements {
		if err := encodeTerm(buffer, element); err != nil {
			return err
		}
	}

	if list.Tail == nil {
		buffer.WriteByte(nilTag)
		return nil
	}

	return encodeTerm(buffer, list.Tail)
}

func writeUint16(buffer *bytes.Buffer, value uint16) {
	var scratch [2]byte
	binary.BigEndian.PutUint16(scratch[:], value)
	buffer.Write(scratch[:])
}

func writeUint32(buffer *bytes.Buffer, value uint32) {
	var scratch [4]byte
	binary.BigEndian.PutUint32(scratch[:], value)
	buffer.Write(scratch[:])
}

func writeUint64(buffer *bytes.Buffer, value uint64) {
	var scratch [8]byte
	binary.BigEndian.PutUint64(scratch[:], value)
	buffer.Write(scratch[:])
}
