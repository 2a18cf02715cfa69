// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package listeners

import (
	"crypto/tls"
	"net"
	"sync"

	"log/slog"
)

// TCP is a listener for plain or TLS client connections over TCP.
type TCP struct {
	sync.RWMutex
	id      string // the internal id of the listener
	address string // the network address to bind to
	config  Config // configuration values for the listener
	net     *Net   // accepts connections once the address is bound
}

// NewTCP initialises and returns a new TCP listener, listening on an address.
func NewTCP(config Config) *TCP {
	return &TCP{
		id:      config.ID,
		address: config.Address,
		config:  config,
	}
}

// ID returns the id of the listener.
func (l *TCP) ID() string {
	return l.id
}

// Address returns the bound address of the listener, or the configured
// address if it has not been bound yet.
func (l *TCP) Address() string {
	l.RLock()
	defer l.RUnlock()
	if l.net != nil {
		return l.net.Address()
	}
	return l.address
}

// Protocol returns the protocol of the listener.
func (l *TCP) Protocol() string {
	if l.config.TLSConfig != nil {
		return "tls"
	}
	return "tcp"
}

// Init binds the listener address.
func (l *TCP) Init(log *slog.Logger) error {
	var listen net.Listener
	var err error
	if l.config.TLSConfig != nil {
		listen, err = tls.Listen("tcp", l.address, l.config.TLSConfig)
	} else {
		listen, err = net.Listen("tcp", l.address)
	}
	if err != nil {
		return err
	}

	l.Lock()
	defer l.Unlock()
	l.net = NewNet(l.id, listen)
	return l.net.Init(log)
}

// Serve accepts new TCP connections and calls the establish connection
// callback for each.
func (l *TCP) Serve(establish EstablishFn) {
	l.RLock()
	n := l.net
	l.RUnlock()
	if n == nil {
		return
	}

	n.Serve(establish)
}

// Close closes the listener and any client connections.
func (l *TCP) Close(closeClients CloseFn) {
	l.RLock()
	n := l.net
	l.RUnlock()
	if n == nil {
		closeClients(l.id)
		return
	}

	n.Close(closeClients)
}
