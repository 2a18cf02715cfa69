// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package commands

import (
	"bytes"
	"strconv"
)

// Parse validates a complete frame and returns the typed command it carries.
// Protocol violations are returned as a Code.
func Parse(fr Frame) (Command, error) {
	if fr.HasPayload {
		return parsePub(fr)
	}

	verb, rest := splitToken(fr.Line)
	if len(verb) == 0 {
		return Command{}, ErrEmptyLine
	}

	switch {
	case isVerb(verb, Connect):
		return Command{
			Type:    Connect,
			Options: append([]byte{}, bytes.TrimSpace(rest)...),
			Ack:     AckOK,
		}, nil
	case isVerb(verb, Ping):
		return Command{Type: Ping, Ack: AckPong}, nil
	case isVerb(verb, Pong):
		return Command{Type: Pong}, nil
	case isVerb(verb, Sub):
		return parseSub(rest)
	case isVerb(verb, Unsub):
		return parseUnsub(rest)
	case isVerb(verb, Pub):
		return Command{}, ErrUnknownProtocolOperation // a PUB line is only valid with its framed payload
	default:
		return Command{}, ErrUnknownCommand
	}
}

// parsePub checks that the framed payload matches the declared length.
func parsePub(fr Frame) (Command, error) {
	if fr.Subject == "" || len(fr.Payload) != fr.Expected {
		return Command{}, ErrUnknownProtocolOperation
	}

	return Command{
		Type:    Pub,
		Subject: fr.Subject,
		Payload: fr.Payload,
	}, nil
}

// parseSub decodes the arguments of SUB <subject> <sid>.
func parseSub(args []byte) (Command, error) {
	subject, rest := splitToken(args)
	if len(subject) == 0 {
		return Command{}, ErrUnknownProtocolOperation
	}

	sid, err := ParseSID(rest)
	if err != nil {
		return Command{}, err
	}

	return Command{
		Type:    Sub,
		Subject: string(subject),
		SID:     sid,
	}, nil
}

// parseUnsub decodes the argument of UNSUB <sid>.
func parseUnsub(args []byte) (Command, error) {
	sid, err := ParseSID(args)
	if err != nil {
		return Command{}, err
	}

	return Command{
		Type: Unsub,
		SID:  sid,
	}, nil
}

// ParseSID parses a subscription id, which must be an unsigned 16 bit integer.
func ParseSID(b []byte) (uint16, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return 0, ErrUnknownProtocolOperation
	}

	v, err := strconv.ParseUint(string(b), 10, 16)
	if err != nil {
		return 0, ErrUnknownProtocolOperation
	}

	return uint16(v), nil
}
