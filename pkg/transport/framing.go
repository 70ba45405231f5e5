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
	"encoding/binary"
	"io"

	"github.com/nuclio/errors"
)

const frameHeaderSize = 4

// WriteFrame writes a 4 byte big endian length followed by the encoded term
func WriteFrame(writer io.Writer, payload []byte, maxFrameSize int) error {
	if len(payload) > maxFrameSize {
		return &FrameTooLargeError{Size: uint64(len(payload)), MaxSize: maxFrameSize}
	}

	frame := make([]byte, frameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[frameHeaderSize:], payload)

	if _, err := writer.Write(frame); err != nil {
		return errors.Wrap(err, "Failed to write frame")
	}

	return nil
}

// ReadFrame reads one frame written by WriteFrame
func ReadFrame(reader io.Reader, maxFrameSize int) ([]byte, error) {
	var header [frameHeaderSize]byte

	if _, err := io.ReadFull(reader, header[:]); err != nil {
		return nil, err
	}

	size := binary.BigEndian.Uint32(header[:])
	if uint64(size) > uint64(maxFrameSize) {
		return nil, &FrameTooLargeError{Size: uint64(size), MaxSize: maxFrameSize}
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(reader, payload); err != nil {
		return nil, errors.Wrap(err, "Failed to read frame payload")
	}

	return payload, nil
}
