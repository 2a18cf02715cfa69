// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package commands

import (
	"bytes"
	"errors"
	"strconv"
)

// ErrNeedMore indicates that the buffered bytes do not yet hold a complete frame.
var ErrNeedMore = errors.New("need more data")

// Phase is the framing phase of a connection.
type Phase byte

const (
	AwaitingCommandLine Phase = iota // waiting for a \n terminated control line
	AwaitingPayload                  // waiting for the declared bytes of a PUB payload
)

// State is the read state of a single connection. The zero value is a
// connection waiting for a command line.
type State struct {
	Subject  string // the subject of the pending PUB
	Expected int    // the declared byte length of the pending PUB payload
	Phase    Phase
}

// Limits bounds how many bytes a single frame may occupy. Zero values are unlimited.
type Limits struct {
	MaxControlLine int // the maximum length of a command line
	MaxPayload     int // the maximum declared length of a PUB payload
}

// Frame is one complete protocol unit: a command line, or a PUB line together
// with its payload.
type Frame struct {
	Line       []byte // the command line without its terminator
	Payload    []byte // the payload region of a PUB, without its terminator
	Subject    string // the subject of a PUB
	Expected   int    // the declared payload length of a PUB
	HasPayload bool   // true if the frame is a framed PUB
	Complete   bool   // true if the frame holds a command to parse
}

// Step advances the framing state machine over buf. It returns the next state,
// a frame if one was completed, and the number of bytes of buf consumed. If
// buf holds too few bytes to progress, ErrNeedMore is returned and nothing is
// consumed. Returned frames reference buf.
func Step(st State, buf []byte, lim Limits) (next State, fr Frame, n int, err error) {
	if st.Phase == AwaitingPayload {
		return stepPayload(st, buf, lim)
	}

	i := bytes.IndexByte(buf, '\n')
	if i < 0 {
		if lim.MaxControlLine > 0 && len(buf) > lim.MaxControlLine {
			return st, fr, len(buf), ErrMaxControlLine
		}
		return st, fr, 0, ErrNeedMore
	}

	n = i + 1
	line := trimCR(buf[:i])
	if lim.MaxControlLine > 0 && len(line) > lim.MaxControlLine {
		return st, fr, n, ErrMaxControlLine
	}

	verb, rest := splitToken(line)
	if !isVerb(verb, Pub) {
		return st, Frame{Line: line, Complete: true}, n, nil
	}

	subject, size := splitToken(rest)
	size = bytes.TrimSpace(size)
	if len(subject) == 0 || len(size) == 0 {
		return st, fr, n, ErrUnknownProtocolOperation
	}

	expected, perr := strconv.Atoi(string(size))
	if perr != nil || expected < 0 {
		return st, fr, n, ErrUnknownProtocolOperation
	}

	if lim.MaxPayload > 0 && expected > lim.MaxPayload {
		return st, fr, n, ErrMaxPayload
	}

	return State{
		Phase:    AwaitingPayload,
		Subject:  string(subject),
		Expected: expected,
	}, fr, n, nil
}

// stepPayload consumes the payload of a pending PUB once the declared number
// of bytes and the following line terminator are buffered.
func stepPayload(st State, buf []byte, lim Limits) (next State, fr Frame, n int, err error) {
	if len(buf) < st.Expected {
		return st, fr, 0, ErrNeedMore
	}

	i := bytes.IndexByte(buf[st.Expected:], '\n')
	if i < 0 {
		if lim.MaxControlLine > 0 && len(buf)-st.Expected > lim.MaxControlLine {
			return State{}, fr, len(buf), ErrUnknownProtocolOperation
		}
		return st, fr, 0, ErrNeedMore
	}

	end := st.Expected + i
	return State{}, Frame{
		Subject:    st.Subject,
		Payload:    trimCR(buf[:end]),
		Expected:   st.Expected,
		HasPayload: true,
		Complete:   true,
	}, end + 1, nil
}

// Decoder accumulates bytes read from a connection and yields complete frames.
// A Decoder is not safe for concurrent use; each connection owns one.
type Decoder struct {
	buf    []byte
	state  State
	limits Limits
}

// NewDecoder returns a decoder in the AwaitingCommandLine state.
func NewDecoder(lim Limits) *Decoder {
	return &Decoder{
		limits: lim,
	}
}

// Write appends bytes read from the connection to the accumulator.
func (d *Decoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	return len(p), nil
}

// Next returns the next complete frame. ErrNeedMore is returned when the
// accumulator is exhausted; any other error is a protocol error for the bytes
// which were consumed, and decoding may continue by calling Next again.
// The returned frame does not reference the accumulator.
func (d *Decoder) Next() (Frame, error) {
	for {
		next, fr, n, err := Step(d.state, d.buf, d.limits)
		d.state = next
		if n > 0 {
			if fr.Complete {
				fr = fr.clone()
			}
			d.consume(n)
		}

		if err != nil {
			return Frame{}, err
		}

		if fr.Complete {
			return fr, nil
		}
	}
}

// State returns the current read state.
func (d *Decoder) State() State {
	return d.state
}

// Buffered returns the number of bytes held in the accumulator.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Reset discards any buffered bytes and returns to AwaitingCommandLine.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.state = State{}
}

// consume drops n bytes from the front of the accumulator, keeping the
// remainder for the next frame.
func (d *Decoder) consume(n int) {
	rem := copy(d.buf, d.buf[n:])
	d.buf = d.buf[:rem]
}

// clone returns a copy of the frame which does not reference the accumulator.
func (fr Frame) clone() Frame {
	if fr.Line != nil {
		fr.Line = append([]byte{}, fr.Line...)
	}

	if fr.Payload != nil {
		fr.Payload = append([]byte{}, fr.Payload...)
	}

	return fr
}

// trimCR removes a single trailing carriage return.
func trimCR(b []byte) []byte {
	if len(b) > 0 && b[len(b)-1] == '\r' {
		return b[:len(b)-1]
	}
	return b
}

// isSpace reports whether c separates tokens on a command line.
func isSpace(c byte) bool {
	return c == ' ' || c == '\t'
}

// splitToken returns the first whitespace delimited token of b and the
// remainder with its leading whitespace removed.
func splitToken(b []byte) (head, tail []byte) {
	i := 0
	for i < len(b) && isSpace(b[i]) {
		i++
	}

	j := i
	for j < len(b) && !isSpace(b[j]) {
		j++
	}

	head = b[i:j]
	for j < len(b) && isSpace(b[j]) {
		j++
	}

	return head, b[j:]
}

// isVerb reports whether the token names the command type, ignoring case.
// Only the verb is ever folded; subjects and payloads keep their case.
func isVerb(token []byte, t byte) bool {
	return bytes.EqualFold(token, []byte(CommandNames[t]))
}
