// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

// Package commands decodes and encodes the line-oriented text protocol spoken
// between the broker and its clients.
package commands

import (
	"strconv"
	"strings"
)

// All of the valid command types.
const (
	Reserved byte = iota // 0 - we use this in tests and as the zero value
	Connect              // 1
	Ping                 // 2
	Pong                 // 3
	Sub                  // 4
	Unsub                // 5
	Pub                  // 6
)

// CommandNames are the protocol verbs for each command type.
var CommandNames = map[byte]string{
	Reserved: "RESERVED",
	Connect:  "CONNECT",
	Ping:     "PING",
	Pong:     "PONG",
	Sub:      "SUB",
	Unsub:    "UNSUB",
	Pub:      "PUB",
}

const (
	AckOK   = "+OK\r\n"  // acknowledges connect, sub, unsub and pub
	AckPong = "PONG\r\n" // answers a ping
	CRLF    = "\r\n"
)

// Command is a single decoded client request. Commands are built once by the
// parser and are not modified afterwards.
type Command struct {
	Payload []byte // the message body of a PUB
	Options []byte // the raw CONNECT options, not interpreted
	Subject string // the routing subject of a SUB or PUB
	Ack     string // the text to acknowledge a CONNECT or PING with
	SID     uint16 // the client chosen subscription id of a SUB or UNSUB
	Type    byte   // the command type
}

// Name returns the protocol verb of the command.
func (c Command) Name() string {
	if n, ok := CommandNames[c.Type]; ok {
		return n
	}

	return CommandNames[Reserved]
}

// String returns a short readable form of the command, without the payload.
func (c Command) String() string {
	var sb strings.Builder
	sb.WriteString(c.Name())
	switch c.Type {
	case Sub:
		sb.WriteString(" " + c.Subject + " " + strconv.FormatUint(uint64(c.SID), 10))
	case Unsub:
		sb.WriteString(" " + strconv.FormatUint(uint64(c.SID), 10))
	case Pub:
		sb.WriteString(" " + c.Subject + " " + strconv.Itoa(len(c.Payload)))
	}

	return sb.String()
}

// Copy returns a copy of the command which does not share any byte slices
// with the original.
func (c Command) Copy() Command {
	out := c
	if c.Payload != nil {
		out.Payload = append([]byte{}, c.Payload...)
	}

	if c.Options != nil {
		out.Options = append([]byte{}, c.Options...)
	}

	return out
}
