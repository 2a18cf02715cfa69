// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: Jeroen Rinzema

package listeners

import (
	"net"
	"sync"
	"sync/atomic"

	"log/slog"
)

// Net accepts client connections from a bound net.Listener and hands each one
// to the server on its own goroutine. It is used directly for listeners created
// outside the broker, and as the accept loop of the TCP and unix listeners.
type Net struct {
	mu       sync.Mutex
	listener net.Listener // a net.Listener which will listen for new clients
	id       string       // the internal id of the listener
	log      *slog.Logger // server logger
	end      uint32       // ensure the close methods are only called once
}

// NewNet initialises and returns a listener serving incoming connections on the given net.Listener
func NewNet(id string, listener net.Listener) *Net {
	return &Net{
		id:       id,
		listener: listener,
	}
}

// ID returns the id of the listener.
func (l *Net) ID() string {
	return l.id
}

// Address returns the bound address of the listener.
func (l *Net) Address() string {
	return l.listener.Addr().String()
}

// Protocol returns the network of the listener.
func (l *Net) Protocol() string {
	return l.listener.Addr().Network()
}

// Init initializes the listener.
func (l *Net) Init(log *slog.Logger) error {
	l.log = log
	return nil
}

// Serve accepts connections until the listener is closed. Accept errors after
// the listener has been closed are expected and end the loop silently.
func (l *Net) Serve(establish EstablishFn) {
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if atomic.LoadUint32(&l.end) == 0 && l.log != nil {
				l.log.Error("failed to accept connection", "error", err, "listener", l.id)
			}
			return
		}

		if atomic.LoadUint32(&l.end) == 1 {
			_ = conn.Close()
			return
		}

		go func() {
			if err := establish(l.id, conn); err != nil && l.log != nil {
				l.log.Warn("client session ended", "error", err, "listener", l.id, "remote", conn.RemoteAddr().String())
			}
		}()
	}
}

// Close stops accepting connections and closes the clients of the listener.
// The clients are only closed by the first call.
func (l *Net) Close(closeClients CloseFn) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if atomic.CompareAndSwapUint32(&l.end, 0, 1) {
		_ = l.listener.Close()
		closeClients(l.id)
	}
}
