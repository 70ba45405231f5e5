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

package event

import (
	"github.com/erlide/erlbridge/pkg/term"

	"github.com/nuclio/errors"
)

// Message is an unsolicited {EventName, Pid, Payload} message from a node
type Message struct {
	Name    string
	Pid     term.Term
	Payload term.Term

	// the message as received
	Raw term.Term
}

// ParseMessage splits an event message into its parts
func ParseMessage(raw term.Term) (*Message, error) {
	tuple, isTuple := raw.(term.Tuple)
	if !isTuple || len(tuple) != 3 {
		return nil, errors.Errorf("Event must be a 3-tuple, got %s", raw)
	}

	name, isAtom := tuple[0].(term.Atom)
	if !isAtom {
		return nil, errors.Errorf("Event name must be an atom, got %s", tuple[0])
	}

	return &Message{
		Name:    string(name),
		Pid:     tuple[1],
		Payload: tuple[2],
		Raw:     raw,
	}, nil
}
