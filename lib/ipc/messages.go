// Copyright 2026 The Skylight Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"fmt"

	"github.com/skylightio/skylightd/lib/codec"
	"github.com/skylightio/skylightd/lib/version"
)

// Frame type tags.
const (
	// TagHello is sent once by an agent right after connecting.
	TagHello byte = 0x01

	// TagTrace carries one completed request trace.
	TagTrace byte = 0x02
)

// Message is a decoded frame. The concrete type is *Hello, *Trace, or
// *Unknown.
type Message interface {
	Tag() byte
}

// Hello announces the connecting agent's version and the command line
// that starts a daemon of that version.
type Hello struct {
	Version string   `cbor:"version"`
	Cmd     []string `cbor:"cmd,omitempty"`
}

func (*Hello) Tag() byte { return TagHello }

// Newer reports whether the agent announced a version strictly newer
// than running. The command is not consulted; a newer Hello without one
// still asks for a reload, which then fails.
func (h *Hello) Newer(running string) bool {
	return version.Newer(h.Version, running)
}

// Trace is one completed request as recorded by an agent.
type Trace struct {
	UUID     string `cbor:"uuid"`
	Endpoint string `cbor:"endpoint"`
	// Start is the request start in nanoseconds since the Unix epoch.
	Start int64  `cbor:"start"`
	Spans []Span `cbor:"spans"`
}

func (*Trace) Tag() byte { return TagTrace }

// Span is a timed region within a Trace. Started and Duration are
// nanoseconds relative to Trace.Start. Parent is the index of the
// enclosing span, or -1 for the root.
type Span struct {
	Parent      int    `cbor:"parent"`
	Category    string `cbor:"category"`
	Title       string `cbor:"title,omitempty"`
	Description string `cbor:"description,omitempty"`
	Started     int64  `cbor:"started"`
	Duration    int64  `cbor:"duration"`
}

// Unknown is a frame whose tag this daemon does not recognize. The
// payload is kept undecoded.
type Unknown struct {
	Type    byte
	Payload []byte
}

func (u *Unknown) Tag() byte { return u.Type }

// Validate checks the structural constraints the collector relies on.
// Decoding does not call it: a well-formed frame carrying a bad trace
// is the receiver's to drop, not a protocol error.
func (t *Trace) Validate() error {
	if t.UUID == "" {
		return fmt.Errorf("trace has no uuid")
	}
	for index, span := range t.Spans {
		if span.Parent >= index || span.Parent < -1 {
			return fmt.Errorf("trace %s: span %d has parent %d", t.UUID, index, span.Parent)
		}
		if span.Duration < 0 {
			return fmt.Errorf("trace %s: span %d has negative duration", t.UUID, index)
		}
	}
	return nil
}

func decode(tag byte, payload []byte) (Message, error) {
	switch tag {
	case TagHello:
		var hello Hello
		if err := codec.Unmarshal(payload, &hello); err != nil {
			return nil, fmt.Errorf("%w: decoding hello: %v", ErrProtocol, err)
		}
		return &hello, nil
	case TagTrace:
		var trace Trace
		if err := codec.Unmarshal(payload, &trace); err != nil {
			return nil, fmt.Errorf("%w: decoding trace: %v", ErrProtocol, err)
		}
		return &trace, nil
	default:
		return &Unknown{Type: tag, Payload: append([]byte(nil), payload...)}, nil
	}
}

func encodePayload(message Message) ([]byte, error) {
	if unknown, ok := message.(*Unknown); ok {
		return unknown.Payload, nil
	}
	payload, err := codec.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", kindOf(message), err)
	}
	return payload, nil
}

func kindOf(message Message) string {
	switch message.(type) {
	case *Hello:
		return "hello"
	case *Trace:
		return "trace"
	default:
		return fmt.Sprintf("type 0x%02x", message.Tag())
	}
}
