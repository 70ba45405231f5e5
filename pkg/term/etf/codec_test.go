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

package etf

import (
	"math"
	"math/big"
	"strings"
	"testing"

	"github.com/erlide/erlbridge/pkg/term"

	"github.com/stretchr/testify/suite"
)

type CodecTestSuite struct {
	suite.Suite
	codec *Codec
}

func (suite *CodecTestSuite) SetupTest() {
	suite.codec = NewCodec()
}

func (suite *CodecTestSuite) TestRoundTrip() {
	hugePositive := new(big.Int).Lsh(big.NewInt(1), 70)
	hugeNegative := new(big.Int).Neg(hugePositive)

	for _, testCase := range []struct {
		name  string
		value term.Term
	}{
		{name: "Atom", value: term.Atom("ok")},
		{name: "UnicodeAtom", value: term.Atom("héllo")},
		{name: "SmallInteger", value: term.NewInteger(200)},
		{name: "NegativeInteger", value: term.NewInteger(-1)},
		{name: "Int32", value: term.NewInteger(math.MaxInt32)},
		{name: "Int64", value: term.NewInteger(math.MaxInt64)},
		{name: "BigPositive", value: term.NewBigInteger(hugePositive)},
		{name: "BigNegative", value: term.NewBigInteger(hugeNegative)},
		{name: "Float", value: term.Float(-2.25)},
		{name: "String", value: term.String("hello")},
		{name: "Latin1String", value: term.String("café")},
		{name: "EmptyString", value: term.String("")},
		{name: "WideString", value: term.String("λx")},
		{name: "LongString", value: term.String(strings.Repeat("a", 70000))},
		{name: "Binary", value: term.Binary{0, 1, 255}},
		{name: "EmptyBinary", value: term.Binary{}},
		{name: "Pid", value: term.Pid{Node: "erlide@localhost", ID: 88, Serial: 1, Creation: 3}},
		{name: "EmptyTuple", value: term.NewTuple()},
		{name: "Tuple", value: term.NewTuple(term.OK, term.NewInteger(42))},
		{name: "EmptyList", value: term.NewList()},
		{name: "List", value: term.NewList(term.Atom("a"), term.NewList(term.String("b")))},
		{name: "ImproperList", value: term.List{Elements: []term.Term{term.NewInteger(1)}, Tail: term.Atom("tail")}},
	} {
		suite.Run(testCase.name, func() {
			encoded, err := suite.codec.Encode(testCase.value)
			suite.Require().NoError(err)

			decoded, err := suite.codec.Decode(encoded)
			suite.Require().NoError(err)
			suite.Require().True(testCase.value.Equal(decoded), "expected %s, got %s", testCase.value, decoded)
		})
	}
}

func (suite *CodecTestSuite) TestLargeTuple() {
	elements := make([]term.Term, 300)
	for index := range elements {
		elements[index] = term.NewInteger(int64(index))
	}

	encoded, err := suite.codec.Encode(term.NewTuple(elements...))
	suite.Require().NoError(err)
	suite.Require().Equal(byte(largeTupleTag), encoded[1])

	decoded, err := suite.codec.Decode(encoded)
	suite.Require().NoError(err)
	suite.Require().True(term.NewTuple(elements...).Equal(decoded))
}

func (suite *CodecTestSuite) TestWideStringBecomesList() {
	encoded, err := suite.codec.Encode(term.String("λ"))
	suite.Require().NoError(err)

	decoded, err := suite.codec.Decode(encoded)
	suite.Require().NoError(err)
	suite.Require().True(term.NewList(term.NewInteger('λ')).Equal(decoded))
	suite.Require().True(term.String("λ").Equal(decoded))

	text, err := term.ToString(decoded)
	suite.Require().NoError(err)
	suite.Require().Equal("λ", text)
}

func (suite *CodecTestSuite) TestKnownEncodings() {
	for _, testCase := range []struct {
		name     string
		value    term.Term
		expected []byte
	}{
		{name: "SmallInteger", value: term.NewInteger(1), expected: []byte{131, 97, 1}},
		{name: "Integer", value: term.NewInteger(-1), expected: []byte{131, 98, 255, 255, 255, 255}},
		{name: "Atom", value: term.OK, expected: []byte{131, 119, 2, 'o', 'k'}},
		{name: "String", value: term.String("ab"), expected: []byte{131, 107, 0, 2, 'a', 'b'}},
		{name: "Nil", value: term.NewList(), expected: []byte{131, 106}},
		{name: "Tuple", value: term.NewTuple(term.NewInteger(1)), expected: []byte{131, 104, 1, 97, 1}},
	} {
		suite.Run(testCase.name, func() {
			encoded, err := suite.codec.Encode(testCase.value)
			suite.Require().NoError(err)
			suite.Require().Equal(testCase.expected, encoded)
		})
	}
}

func (suite *CodecTestSuite) TestDecodeLegacyTags() {
	for _, testCase := range []struct {
		name     string
		data     []byte
		expected term.Term
	}{
		{name: "Atom", data: []byte{131, 100, 0, 2, 'o', 'k'}, expected: term.OK},
		{name: "SmallAtom", data: []byte{131, 115, 2, 'o', 'k'}, expected: term.OK},
		{
			name:     "Pid",
			data:     []byte{131, 103, 115, 1, 'n', 0, 0, 0, 5, 0, 0, 0, 6, 2},
			expected: term.Pid{Node: "n", ID: 5, Serial: 6, Creation: 2},
		},
		{
			name:     "Float",
			data:     append([]byte{131, 99}, append([]byte("1.50000000000000000000e+00"), 0, 0, 0, 0, 0)...),
			expected: term.Float(1.5),
		},
	} {
		suite.Run(testCase.name, func() {
			decoded, err := suite.codec.Decode(testCase.data)
			suite.Require().NoError(err)
			suite.Require().True(testCase.expected.Equal(decoded), "got %s", decoded)
		})
	}
}

func (suite *CodecTestSuite) TestDecodeMalformed() {
	deeplyNested := []byte{versionTag}
	for depth := 0; depth <= maxDepth+1; depth++ {
		deeplyNested = append(deeplyNested, smallTupleTag, 1)
	}
	deeplyNested = append(deeplyNested, nilTag)

	for _, testCase := range []struct {
		name string
		data []byte
	}{
		{name: "Empty", data: []byte{}},
		{name: "WrongVersion", data: []byte{130, 97, 1}},
		{name: "Truncated", data: []byte{131, 98, 0, 0}},
		{name: "UnknownTag", data: []byte{131, 1}},
		{name: "TrailingBytes", data: []byte{131, 97, 1, 0}},
		{name: "HugeTuple", data: []byte{131, 105, 255, 255, 255, 255}},
		{name: "HugeList", data: []byte{131, 108, 255, 255, 255, 255}},
		{name: "InvalidUTF8Atom", data: []byte{131, 119, 1, 0xff}},
		{name: "BadBigSign", data: []byte{131, 110, 1, 7, 1}},
		{name: "PidWithoutAtom", data: []byte{131, 88, 97, 1}},
		{name: "DeepNesting", data: deeplyNested},
	} {
		suite.Run(testCase.name, func() {
			decoded, err := suite.codec.Decode(testCase.data)
			suite.Require().Error(err)
			suite.Require().Nil(decoded)
			suite.Require().True(term.IsDecodeError(err), "unexpected error %v", err)
		})
	}
}

func (suite *CodecTestSuite) TestEncodeErrors() {
	_, err := suite.codec.Encode(nil)
	suite.Require().True(term.IsEncodingError(err))

	_, err = suite.codec.Encode(term.NewTuple(term.OK, nil))
	suite.Require().True(term.IsEncodingError(err))

	_, err = suite.codec.Encode(term.List{Tail: term.OK})
	suite.Require().True(term.IsEncodingError(err))
}

func TestCodecTestSuite(t *testing.T) {
	suite.Run(t, new(CodecTestSuite))
}
