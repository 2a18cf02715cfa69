// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: jason@zgwit.com

package listeners

import (
	"errors"
	"io/fs"
	"net"
	"os"
	"sync"

	"log/slog"
)

// UnixSock is a listener for client connections on a unix domain socket.
type UnixSock struct {
	sync.RWMutex
	id      string // the internal id of the listener
	address string // the socket path to bind to
	config  Config // configuration values for the listener
	net     *Net   // accepts connections once the socket is bound
}

// NewUnixSock initialises and returns a new UnixSock listener, listening on a socket path.
func NewUnixSock(config Config) *UnixSock {
	return &UnixSock{
		id:      config.ID,
		address: config.Address,
		config:  config,
	}
}

// ID returns the id of the listener.
func (l *UnixSock) ID() string {
	return l.id
}

// Address returns the socket path of the listener.
func (l *UnixSock) Address() string {
	return l.address
}

// Protocol returns the protocol of the listener.
func (l *UnixSock) Protocol() string {
	return "unix"
}

// Init binds the socket, removing a stale socket file left by an earlier run.
func (l *UnixSock) Init(log *slog.Logger) error {
	if err := os.Remove(l.address); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("failed to remove stale socket", "error", err, "path", l.address)
	}

	listen, err := net.Listen("unix", l.address)
	if err != nil {
		return err
	}

	l.Lock()
	defer l.Unlock()
	l.net = NewNet(l.id, listen)
	return l.net.Init(log)
}

// Serve accepts new socket connections and calls the establish connection
// callback for each.
func (l *UnixSock) Serve(establish EstablishFn) {
	l.RLock()
	n := l.net
	l.RUnlock()
	if n == nil {
		return
	}

	n.Serve(establish)
}

// Close closes the socket and any client connections. The socket file is
// removed by the listener on close.
func (l *UnixSock) Close(closeClients CloseFn) {
	l.RLock()
	n := l.net
	l.RUnlock()
	if n == nil {
		closeClients(l.id)
		return
	}

	n.Close(closeClients)
}
