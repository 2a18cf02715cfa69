// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

// Package storage contains the storable representations shared by the
// persistence hooks. Only server statistics are ever persisted.
package storage

import (
	"encoding/json"
	"errors"

	"github.com/mochi-mqtt/natsd/system"
)

const (
	SysInfoKey  = "SYS"  // unique key to denote server system information in a store
	SysInfoType = "info" // the data type of a stored system info value
)

var (
	// ErrDBFileNotOpen indicates that the file database (e.g. bolt/badger) wasn't open for reading.
	ErrDBFileNotOpen = errors.New("db file not open")
)

// Serializable is an interface for objects that can be serialized and deserialized.
type Serializable interface {
	UnmarshalBinary([]byte) error
	MarshalBinary() (data []byte, err error)
}

// SystemInfo is a storable representation of the system information values.
type SystemInfo struct {
	system.Info        // embed the system info struct
	T           string `json:"t"`  // the data type
	ID          string `json:"id"` // the storage key
}

// NewSystemInfo returns a storable snapshot of the server statistics.
func NewSystemInfo(info *system.Info) SystemInfo {
	return SystemInfo{
		ID:   SysInfoKey,
		T:    SysInfoType,
		Info: *info.Clone(),
	}
}

// MarshalBinary encodes the values into a json string.
func (d SystemInfo) MarshalBinary() (data []byte, err error) {
	return json.Marshal(d)
}

// UnmarshalBinary decodes a json string into a struct.
func (d *SystemInfo) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, d)
}
