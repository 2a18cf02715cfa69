// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
)

// Info is the greeting sent to a client when it connects.
type Info struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	ClientIP string `json:"client_ip"`
}

// Encode returns the INFO line for the greeting.
func (i Info) Encode() ([]byte, error) {
	b, err := json.Marshal(i)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(b)+7)
	out = append(out, "INFO "...)
	out = append(out, b...)
	return append(out, CRLF...), nil
}

// EncodeMsg writes a delivered publication to buf in the form
// -MSG <subject> <sid> <len>\r\n<payload>\r\n.
func EncodeMsg(buf *bytes.Buffer, subject string, sid uint16, payload []byte) {
	var num [20]byte
	buf.WriteString("-MSG ")
	buf.WriteString(subject)
	buf.WriteByte(' ')
	buf.Write(strconv.AppendUint(num[:0], uint64(sid), 10))
	buf.WriteByte(' ')
	buf.Write(strconv.AppendInt(num[:0], int64(len(payload)), 10))
	buf.WriteString(CRLF)
	buf.Write(payload)
	buf.WriteString(CRLF)
}

// EncodeError returns the -ERR line for an error. Errors which are not a
// protocol Code are reported as an internal error.
func EncodeError(err error) []byte {
	reason := ErrInternalError.Reason
	var code Code
	if errors.As(err, &code) {
		reason = code.Reason
	}

	return []byte("-ERR '" + reason + "'" + CRLF)
}
