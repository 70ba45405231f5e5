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
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/erlide/erlbridge/pkg/term"
)

// maxDepth bounds nesting of tuples and lists
const maxDepth = 512

type decoder struct {
	data   []byte
	offset int
}

// Decode parses exactly one versioned term from data
func (c *Codec) Decode(data []byte) (decoded term.Term, err error) {
	decoderInstance := &decoder{data: data}

	// nothing below this boundary may escape as a panic
	defer func() {
		if recovered := recover(); recovered != nil {
			decoded = nil
			err = decoderInstance.errorf("internal decoder failure: %v", recovered)
		}
	}()

	version, err := decoderInstance.readByte()
	if err != nil {
		return nil, err
	}

	if version != versionTag {
		return nil, &term.DecodeError{Offset: 0, Message: fmt.Sprintf("unexpected version byte %d", version)}
	}

	decoded, err = decoderInstance.decodeTerm(0)
	if err != nil {
		return nil, err
	}

	if decoderInstance.offset != len(data) {
		return nil, decoderInstance.errorf("%d trailing bytes", len(data)-decoderInstance.offset)
	}

	return decoded, nil
}

func (d *decoder) decodeTerm(depth int) (term.Term, error) {
	if depth > maxDepth {
		return nil, d.errorf("nesting deeper than %d", maxDepth)
	}

	tag, err := d.readByte()
	if err != nil {
		return nil, err
	}

	switch tag {
	case smallIntegerTag:
		value, err := d.readByte()
		if err != nil {
			return nil, err
		}
		return term.NewInteger(int64(value)), nil

	case integerTag:
		value, err := d.readUint32()
		if err != nil {
			return nil, err
		}
		return term.NewInteger(int64(int32(value))), nil

	case smallBigTag, largeBigTag:
		return d.decodeBig(tag)

	case newFloatTag:
		value, err := d.readBytes(8)
		if err != nil {
			return nil, err
		}
		return term.Float(math.Float64frombits(binary.BigEndian.Uint64(value))), nil

	case floatTag:
		value, err := d.readBytes(31)
		if err != nil {
			return nil, err
		}

		parsed, parseErr := strconv.ParseFloat(strings.TrimRight(string(value), "\x00"), 64)
		if parseErr != nil {
			return nil, d.errorf("invalid float text")
		}
		return term.Float(parsed), nil

	case atomTag, smallAtomTag, atomUTF8Tag, smallAtomUTF8Tag:
		return d.decodeAtom(tag)

	case stringTag:
		length, err := d.readUint16()
		if err != nil {
			return nil, err
		}

		value, err := d.readBytes(int(length))
		if err != nil {
			return nil, err
		}

		// each byte is a latin-1 code point
		runes := make([]rune, len(value))
		for index, character := range value {
			runes[index] = rune(character)
		}
		return term.String(string(runes)), nil

	case binaryTag:
		length, err := d.readUint32()
		if err != nil {
			return nil, err
		}

		value, err := d.readBytes(int(length))
		if err != nil {
			return nil, err
		}
		return term.Binary(append([]byte{}, value...)), nil

	case smallTupleTag, largeTupleTag:
		var arity int
		if tag == smallTupleTag {
			value, err := d.readByte()
			if err != nil {
				return nil, err
			}
			arity = int(value)
		} else {
			value, err := d.readUint32()
			if err != nil {
				return nil, err
			}
			arity = int(value)
		}

		// every element takes at least one byte
		if arity > d.remaining() {
			return nil, d.errorf("tuple arity %d exceeds input", arity)
		}

		tuple := make(term.Tuple, arity)
		for index := range tuple {
			if tuple[index], err = d.decodeTerm(depth + 1); err != nil {
				return nil, err
			}
		}
		return tuple, nil

	case nilTag:
		return term.List{}, nil

	case listTag:
		length, err := d.readUint32()
		if err != nil {
			return nil, err
		}

		if int(length) > d.remaining() {
			return nil, d.errorf("list length %d exceeds input", length)
		}

		list := term.List{Elements: make([]term.Term, length)}
		for index := range list.Elements {
			if list.Elements[index], err = d.decodeTerm(depth + 1); err != nil {
				return nil, err
			}
		}

		tail, err := d.decodeTerm(depth + 1)
		if err != nil {
			return nil, err
		}

		if tailList, isList := tail.(term.List); !isList || len(tailList.Elements) != 0 || tailList.Tail != nil {
			list.Tail = tail
		}
		return list, nil

	case newPidTag, pidTag:
		return d.decodePid(tag)
	}

	return nil, &term.DecodeError{Offset: d.offset - 1, Message: fmt.Sprintf("unsupported tag %d", tag)}
}

func (d *decoder) decodeAtom(tag byte) (term.Term, error) {
	var length int

	switch tag {
	case smallAtomTag, smallAtomUTF8Tag:
		value, err := d.readByte()
		if err != nil {
			return nil, err
		}
		length = int(value)
	default:
		value, err := d.readUint16()
		if err != nil {
			return nil, err
		}
		length = int(value)
	}

	name, err := d.readBytes(length)
	if err != nil {
		return nil, err
	}

	// the legacy tags carry latin-1
	if tag == atomTag || tag == smallAtomTag {
		runes := make([]rune, len(name))
		for index, character := range name {
			runes[index] = rune(character)
		}
		return term.Atom(string(runes)), nil
	}

	if !utf8.Valid(name) {
		return nil, d.errorf("atom is not valid UTF-8")
	}

	return term.Atom(string(name)), nil
}

func (d *decoder) decodeBig(tag byte) (term.Term, error) {
	var length int

	if tag == smallBigTag {
		value, err := d.readByte()
		if err != nil {
			return nil, err
		}
		length = int(value)
	} else {
		value, err := d.readUint32()
		if err != nil {
			return nil, err
		}
		length = int(value)
	}

	sign, err := d.readByte()
	if err != nil {
		return nil, err
	}

	if sign > 1 {
		return nil, d.errorf("invalid big integer sign %d", sign)
	}

	littleEndian, err := d.readBytes(length)
	if err != nil {
		return nil, err
	}

	bigEndian := make([]byte, len(littleEndian))
	for index, value := range littleEndian {
		bigEndian[len(littleEndian)-1-index] = value
	}

	value := new(big.Int).SetBytes(bigEndian)
	if sign == 1 {
		value.Neg(value)
	}

	return term.NewBigInteger(value), nil
}

func (d *decoder) decodePid(tag byte) (term.Term, error) {
	node, err := d.decodeTerm(1)
	if err != nil {
		return nil, err
	}

	nodeAtom, ok := node.(term.Atom)
	if !ok {
		return nil, d.errorf("pid node is not an atom")
	}

	id, err := d.readUint32()
	if err != nil {
		return nil, err
	}

	serial, err := d.readUint32()
	if err != nil {
		return nil, err
	}

	var creation uint32
	if tag == newPidTag {
		if creation, err = d.readUint32(); err != nil {
			return nil, err
		}
	} else {
		value, err := d.readByte()
		if err != nil {
			return nil, err
		}
		creation = uint32(value)
	}

	return term.Pid{Node: nodeAtom, ID: id, Serial: serial, Creation: creation}, nil
}

func (d *decoder) remaining() int {
	return len(d.data) - d.offset
}

func (d *decoder) readByte() (byte, error) {
	value, err := d.readBytes(1)
	if err != nil {
		return 0, err
	}

	return value[0], nil
}

func (d *decoder) readUint16() (uint16, error) {
	value, err := d.readBytes(2)
	if err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint16(value), nil
}

func (d *decoder) readUint32() (uint32, error) {
	value, err := d.readBytes(4)
	if err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint32(value), nil
}

func (d *decoder) readBytes(count int) ([]byte, error) {
	if count < 0 || count > d.remaining() {
		return nil, d.errorf("truncated input, need %d bytes, have %d", count, d.remaining())
	}

	value := d.data[d.offset : d.offset+count]
	d.offset += count

	return value, nil
}

func (d *decoder) errorf(format string, args ...interface{}) *term.DecodeError {
	return &term.DecodeError{
		Offset:  d.offset,
		Message: fmt.Sprintf(format, args...),
	}
}
