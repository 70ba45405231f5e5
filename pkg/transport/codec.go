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

package transport

import (
	"github.com/erlide/erlbridge/pkg/term"
	"github.com/erlide/erlbridge/pkg/term/etf"
	"github.com/erlide/erlbridge/pkg/term/msgpackcodec"

	"github.com/nuclio/errors"
)

// NewCodec returns the codec registered under name. An empty name selects
// the external term format
func NewCodec(name string) (term.Codec, error) {
	switch name {
	case "", "etf":
		return etf.NewCodec(), nil
	case "msgpack":
		return msgpackcodec.NewCodec(), nil
	}

	return nil, errors.Errorf("Unknown codec %q", name)
}
