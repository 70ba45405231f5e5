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

package msgpackcodec

import (
	"math/big"
	"testing"

	"github.com/erlide/erlbridge/pkg/term"

	"github.com/stretchr/testify/suite"
	"github.com/vmihailenco/msgpack/v4"
)

type CodecTestSuite struct {
	suite.Suite
	codec *Codec
}

func (suite *CodecTestSuite) SetupTest() {
	suite.codec = NewCodec()
}

func (suite *CodecTestSuite) TestRoundTrip() {
	huge := new(big.Int).Lsh(big.NewInt(3), 80)

	for _, testCase := range []struct {
		name  string
		value term.Term
	}{
		{name: "Atom", value: term.Atom("erlide_eunit")},
		{name: "Integer", value: term.NewInteger(-12345)},
		{name: "BigInteger", value: term.NewBigInteger(huge)},
		{name: "NegativeBigInteger", value: term.NewBigInteger(new(big.Int).Neg(huge))},
		{name: "Float", value: term.Float(3.5)},
		{name: "String", value: term.String("λ wide")},
		{name: "Binary", value: term.Binary("bytes")},
		{name: "EmptyBinary", value: term.Binary{}},
		{name: "Pid", value: term.Pid{Node: "a@b", ID: 1, Serial: 2, Creation: 3}},
		{name: "Tuple", value: term.NewTuple(term.Atom("call"), term.Binary("t"), term.NewList())},
		{name: "ImproperList", value: term.List{Elements: []term.Term{term.OK}, Tail: term.NewInteger(1)}},
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

func (suite *CodecTestSuite) TestDecodeMalformed() {
	notAnArray, err := msgpack.Marshal("text")
	suite.Require().NoError(err)

	unknownTag, err := msgpack.Marshal([]interface{}{99, "x"})
	suite.Require().NoError(err)

	wrongFields, err := msgpack.Marshal([]interface{}{atomTag, "a", "b"})
	suite.Require().NoError(err)

	valid, err := suite.codec.Encode(term.OK)
	suite.Require().NoError(err)

	for _, testCase := range []struct {
		name string
		data []byte
	}{
		{name: "Empty", data: []byte{}},
		{name: "NotAnArray", data: notAnArray},
		{name: "UnknownTag", data: unknownTag},
		{name: "WrongFieldCount", data: wrongFields},
		{name: "Truncated", data: valid[:len(valid)-1]},
		{name: "TrailingBytes", data: append(append([]byte{}, valid...), 0)},
	} {
		suite.Run(testCase.name, func() {
			_, err := suite.codec.Decode(testCase.data)
			suite.Require().Error(err)
			suite.Require().True(term.IsDecodeError(err), "unexpected error %v", err)
		})
	}
}

func (suite *CodecTestSuite) TestEncodeNil() {
	_, err := suite.codec.Encode(term.NewList(nil))
	suite.Require().True(term.IsEncodingError(err))
}

func TestCodecTestSuite(t *testing.T) {
	suite.Run(t, new(CodecTestSuite))
}
