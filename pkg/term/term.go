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
	"math/big"
	"strconv"
	"strings"
)

// Kind identifies the variant of a Term
type Kind int

const (
	AtomKind Kind = iota
	IntegerKind
	FloatKind
	StringKind
	BinaryKind
	PidKind
	TupleKind
	ListKind
)

func (k Kind) String() string {
	switch k {
	case AtomKind:
		return "atom"
	case IntegerKind:
		return "integer"
	case FloatKind:
		return "float"
	case StringKind:
		return "string"
	case BinaryKind:
		return "binary"
	case PidKind:
		return "pid"
	case TupleKind:
		return "tuple"
	case ListKind:
		return "list"
	}

	return fmt.Sprintf("Unknown kind - %d", int(k))
}

// Term is a value in the remote node's dynamic type system. The set of
// implementations is closed to this package
type Term interface {
	Kind() Kind
	Equal(other Term) bool
	String() string

	isTerm()
}

// Atom is a named constant
type Atom string

var (
	True      = Atom("true")
	False     = Atom("false")
	OK        = Atom("ok")
	Error     = Atom("error")
	Undefined = Atom("undefined")
)

func (a Atom) Kind() Kind { return AtomKind }

func (a Atom) Equal(other Term) bool {
	otherAtom, ok := other.(Atom)
	return ok && otherAtom == a
}

func (a Atom) String() string {
	name := string(a)
	if isUnquotedAtom(name) {
		return name
	}

	return "'" + strings.ReplaceAll(name, "'", "\\'") + "'"
}

func (a Atom) isTerm() {}

// Integer is an arbitrary precision integer
type Integer struct {
	value *big.Int
}

// NewInteger creates an integer from an int64
func NewInteger(value int64) Integer {
	return Integer{value: big.NewInt(value)}
}

// NewBigInteger creates an integer from a big.Int. The value is copied
func NewBigInteger(value *big.Int) Integer {
	return Integer{value: new(big.Int).Set(value)}
}

func (i Integer) Kind() Kind { return IntegerKind }

func (i Integer) Equal(other Term) bool {
	otherInteger, ok := other.(Integer)
	return ok && i.Big().Cmp(otherInteger.Big()) == 0
}

func (i Integer) String() string {
	return i.Big().String()
}

// Big returns a copy of the underlying value
func (i Integer) Big() *big.Int {
	if i.value == nil {
		return new(big.Int)
	}

	return new(big.Int).Set(i.value)
}

// Int64 returns the value and whether it fits an int64
func (i Integer) Int64() (int64, bool) {
	if i.value == nil {
		return 0, true
	}

	if !i.value.IsInt64() {
		return 0, false
	}

	return i.value.Int64(), true
}

func (i Integer) isTerm() {}

// Float is a double precision float
type Float float64

func (f Float) Kind() Kind { return FloatKind }

func (f Float) Equal(other Term) bool {
	otherFloat, ok := other.(Float)
	return ok && otherFloat == f
}

func (f Float) String() string {
	return strconv.FormatFloat(float64(f), 'g', -1, 64)
}

func (f Float) isTerm() {}

// String is a charlist, a list of code points
type String string

func (s String) Kind() Kind { return StringKind }

// Equal also matches a proper list holding the same code points, as "ab" == [97,98]
func (s String) Equal(other Term) bool {
	switch typedOther := other.(type) {
	case String:
		return typedOther == s
	case List:
		return typedOther.equalsCharlist(s)
	}

	return false
}

func (s String) String() string {
	return strconv.Quote(string(s))
}

func (s String) isTerm() {}

// Binary is a sequence of bytes
type Binary []byte

func (b Binary) Kind() Kind { return BinaryKind }

func (b Binary) Equal(other Term) bool {
	otherBinary, ok := other.(Binary)
	return ok && string(otherBinary) == string(b)
}

func (b Binary) String() string {
	parts := make([]string, len(b))
	for index, value := range b {
		parts[index] = strconv.Itoa(int(value))
	}

	return "<<" + strings.Join(parts, ",") + ">>"
}

func (b Binary) isTerm() {}

// Pid identifies a process on a node
type Pid struct {
	Node     Atom
	ID       uint32
	Serial   uint32
	Creation uint32
}

func (p Pid) Kind() Kind { return PidKind }

func (p Pid) Equal(other Term) bool {
	otherPid, ok := other.(Pid)
	return ok && otherPid == p
}

func (p Pid) String() string {
	return fmt.Sprintf("<%s.%d.%d>", p.Node, p.ID, p.Serial)
}

func (p Pid) isTerm() {}

// Tuple is a fixed size sequence of terms
type Tuple []Term

// NewTuple creates a tuple of the given elements
func NewTuple(elements ...Term) Tuple {
	return Tuple(elements)
}

func (t Tuple) Kind() Kind { return TupleKind }

func (t Tuple) Equal(other Term) bool {
	otherTuple, ok := other.(Tuple)
	if !ok || len(otherTuple) != len(t) {
		return false
	}

	return elementsEqual(t, otherTuple)
}

func (t Tuple) String() string {
	return "{" + joinTerms(t) + "}"
}

func (t Tuple) isTerm() {}

// List is a sequence of terms. A nil Tail means a proper list
type List struct {
	Elements []Term
	Tail     Term
}

// NewList creates a proper list of the given elements
func NewList(elements ...Term) List {
	return List{Elements: elements}
}

func (l List) Kind() Kind { return ListKind }

func (l List) Equal(other Term) bool {
	if otherString, isString := other.(String); isString {
		return l.equalsCharlist(otherString)
	}

	otherList, ok := other.(List)
	if !ok || len(otherList.Elements) != len(l.Elements) {
		return false
	}

	if (l.Tail == nil) != (otherList.Tail == nil) {
		return false
	}

	if l.Tail != nil && !l.Tail.Equal(otherList.Tail) {
		return false
	}

	return elementsEqual(l.Elements, otherList.Elements)
}

func (l List) String() string {
	if l.Tail != nil {
		return "[" + joinTerms(l.Elements) + "|" + l.Tail.String() + "]"
	}

	return "[" + joinTerms(l.Elements) + "]"
}

func (l List) equalsCharlist(charlist String) bool {
	if l.Tail != nil {
		return false
	}

	runes := []rune(string(charlist))
	if len(runes) != len(l.Elements) {
		return false
	}

	for index, element := range l.Elements {
		integer, isInteger := element.(Integer)
		if !isInteger {
			return false
		}

		if value, fits := integer.Int64(); !fits || value != int64(runes[index]) {
			return false
		}
	}

	return true
}

// IsProper returns true if the list has no tail
func (l List) IsProper() bool {
	return l.Tail == nil
}

func (l List) isTerm() {}

// Equal compares two terms, either of which may be nil
func Equal(left Term, right Term) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}

	return left.Equal(right)
}

func elementsEqual(left []Term, right []Term) bool {
	for index := range left {
		if !Equal(left[index], right[index]) {
			return false
		}
	}

	return true
}

func joinTerms(terms []Term) string {
	parts := make([]string, len(terms))
	for index, element := range terms {
		if element == nil {
			parts[index] = "nil"
			continue
		}
		parts[index] = element.String()
	}

	return strings.Join(parts, ",")
}

func isUnquotedAtom(name string) bool {
	if name == "" || name[0] < 'a' || name[0] > 'z' {
		return false
	}

	for _, character := range name {
		switch {
		case character >= 'a' && character <= 'z':
		case character >= 'A' && character <= 'Z':
		case character >= '0' && character <= '9':
		case character == '_' || character == '@':
		default:
			return false
		}
	}

	return true
}
