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

package command

import (
	"strconv"

	"github.com/erlide/erlbridge/pkg/term"

	"github.com/nuclio/errors"
)

// parseArgs turns command line words into values for signature. Only scalar
// type codes can be given on the command line
func parseArgs(signature string, words []string) ([]interface{}, error) {
	parsed, err := term.ParseSignature(signature)
	if err != nil {
		return nil, err
	}

	if len(parsed) != len(words) {
		return nil, errors.Errorf("Signature %q needs %d arguments, got %d", signature, len(parsed), len(words))
	}

	args := make([]interface{}, len(words))

	for position, word := range words {
		switch parsed[position].Code {
		case 'a', 's':
			args[position] = word
		case 'b':
			args[position] = []byte(word)
		case 'i':
			if args[position], err = strconv.ParseInt(word, 10, 64); err != nil {
				return nil, errors.Wrapf(err, "Argument %d is not an integer", position)
			}
		case 'f':
			if args[position], err = strconv.ParseFloat(word, 64); err != nil {
				return nil, errors.Wrapf(err, "Argument %d is not a float", position)
			}
		case 'o':
			if args[position], err = strconv.ParseBool(word); err != nil {
				return nil, errors.Wrapf(err, "Argument %d is not a boolean", position)
			}
		default:
			return nil, errors.Errorf("Type code %q can't be given on the command line", parsed[position].String())
		}
	}

	return args, nil
}
