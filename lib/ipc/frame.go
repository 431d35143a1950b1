// Copyright 2026 The Skylight Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderLength is the fixed frame header size: 1 byte type tag + 4
// bytes payload length.
const HeaderLength = 5

// MaxPayloadLength is the upper bound on a frame payload, and the
// default when no smaller limit is configured. A header declaring more
// is a protocol error; the daemon cannot resync a
// stream after that point.
const MaxPayloadLength = 16 * 1024 * 1024

// ErrProtocol marks a malformed frame. The connection it arrived on
// must be closed.
var ErrProtocol = errors.New("ipc: protocol error")

// WriteFrame writes one frame with the given tag and payload to w.
func WriteFrame(w io.Writer, tag byte, payload []byte) error {
	if len(payload) > MaxPayloadLength {
		return fmt.Errorf("payload length %d exceeds maximum %d", len(payload), MaxPayloadLength)
	}
	frame := make([]byte, HeaderLength+len(payload))
	frame[0] = tag
	binary.BigEndian.PutUint32(frame[1:HeaderLength], uint32(len(payload)))
	copy(frame[HeaderLength:], payload)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one frame from r, blocking until it is complete.
func ReadFrame(r io.Reader) (byte, []byte, error) {
	var header [HeaderLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, fmt.Errorf("read frame header: %w", err)
	}
	length := binary.BigEndian.Uint32(header[1:HeaderLength])
	if length > MaxPayloadLength {
		return 0, nil, fmt.Errorf("%w: payload length %d exceeds maximum %d", ErrProtocol, length, MaxPayloadLength)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("read frame payload: %w", err)
	}
	return header[0], payload, nil
}

// Parse extracts the first complete message from buffer. It returns
// the message and the number of bytes it occupied. When buffer holds
// only part of a frame, Parse returns (nil, 0, nil). maxPayload bounds
// the declared length; zero means MaxPayloadLength.
func Parse(buffer []byte, maxPayload uint32) (Message, int, error) {
	if maxPayload == 0 {
		maxPayload = MaxPayloadLength
	}
	if len(buffer) < HeaderLength {
		return nil, 0, nil
	}
	tag := buffer[0]
	length := binary.BigEndian.Uint32(buffer[1:HeaderLength])
	if length > maxPayload {
		return nil, 0, fmt.Errorf("%w: frame type 0x%02x declares %d bytes, maximum %d",
			ErrProtocol, tag, length, maxPayload)
	}
	total := HeaderLength + int(length)
	if len(buffer) < total {
		return nil, 0, nil
	}
	message, err := decode(tag, buffer[HeaderLength:total])
	if err != nil {
		return nil, 0, err
	}
	return message, total, nil
}

// ReadMessage reads and decodes one message from r.
func ReadMessage(r io.Reader) (Message, error) {
	tag, payload, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return decode(tag, payload)
}

// WriteMessage encodes message and writes it to w as one frame.
func WriteMessage(w io.Writer, message Message) error {
	frame, err := Encode(message)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write %s frame: %w", kindOf(message), err)
	}
	return nil
}

// Encode returns the complete frame bytes for message.
func Encode(message Message) ([]byte, error) {
	payload, err := encodePayload(message)
	if err != nil {
		return nil, err
	}
	if len(payload) > MaxPayloadLength {
		return nil, fmt.Errorf("%s payload length %d exceeds maximum %d", kindOf(message), len(payload), MaxPayloadLength)
	}
	frame := make([]byte, HeaderLength+len(payload))
	frame[0] = message.Tag()
	binary.BigEndian.PutUint32(frame[1:HeaderLength], uint32(len(payload)))
	copy(frame[HeaderLength:], payload)
	return frame, nil
}
