// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package commands

// Code contains a classification byte and reason string for a protocol error.
type Code struct {
	Reason string
	Code   byte
}

// String returns the readable reason for a code.
func (c Code) String() string {
	return c.Reason
}

// Error returns the readable reason for a code.
func (c Code) Error() string {
	return c.Reason
}

var (
	CodeSuccess                 = Code{Code: 0x00, Reason: "success"}
	CodeDisconnect              = Code{Code: 0x00, Reason: "disconnected"}
	ErrEmptyLine                = Code{Code: 0x01, Reason: "empty line"}
	ErrUnknownProtocolOperation = Code{Code: 0x80, Reason: "Unknown Protocol Operation"}
	ErrUnknownCommand           = Code{Code: 0x81, Reason: "Unknown Protocol Operation"}
	ErrMaxPayload               = Code{Code: 0x82, Reason: "Maximum Payload Violation"}
	ErrMaxControlLine           = Code{Code: 0x83, Reason: "Maximum Control Line Exceeded"}
	ErrSubscriptionNotFound     = Code{Code: 0x90, Reason: "Internal Error"}
	ErrServerBusy               = Code{Code: 0x91, Reason: "Maximum Connections Exceeded"}
	ErrInternalError            = Code{Code: 0x92, Reason: "Internal Error"}
)
