// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package natsd

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"

	"github.com/mochi-mqtt/natsd/commands"
)

var (
	// ErrPendingClientWritesExceeded indicates the outbound queue of a client is full.
	ErrPendingClientWritesExceeded = errors.New("too many pending writes")
)

// ReadFn is the function signature for the function used for processing
// commands read from a client.
type ReadFn func(*Client, commands.Command) error

// Clients contains a map of the clients known by the broker.
type Clients struct {
	internal map[string]*Client // clients known by the broker, keyed on client id.
	sync.RWMutex
}

// NewClients returns an instance of Clients.
func NewClients() *Clients {
	return &Clients{
		internal: make(map[string]*Client),
	}
}

// Add adds a new client to the clients map, keyed on client id.
func (cl *Clients) Add(val *Client) {
	cl.Lock()
	defer cl.Unlock()
	cl.internal[val.ID] = val
}

// GetAll returns all the clients.
func (cl *Clients) GetAll() map[string]*Client {
	cl.RLock()
	defer cl.RUnlock()
	m := map[string]*Client{}
	for k, v := range cl.internal {
		m[k] = v
	}
	return m
}

// Get returns the value of a client if it exists.
func (cl *Clients) Get(id string) (*Client, bool) {
	cl.RLock()
	defer cl.RUnlock()
	val, ok := cl.internal[id]
	return val, ok
}

// Len returns the length of the clients map.
func (cl *Clients) Len() int {
	cl.RLock()
	defer cl.RUnlock()
	val := len(cl.internal)
	return val
}

// Delete removes a client from the internal map.
func (cl *Clients) Delete(id string) {
	cl.Lock()
	defer cl.Unlock()
	delete(cl.internal, id)
}

// GetByListener returns clients matching a listener id.
func (cl *Clients) GetByListener(id string) []*Client {
	cl.RLock()
	defer cl.RUnlock()
	clients := make([]*Client, 0, len(cl.internal))
	for _, client := range cl.internal {
		if client.Net.Listener == id && !client.Closed() {
			clients = append(clients, client)
		}
	}
	return clients
}

// Client contains information about a client known by the broker.
type Client struct {
	Properties   ClientProperties // properties declared by the client on connect
	State        ClientState      // the operational state of the client.
	Net          ClientConnection // network connection state of the client
	ID           string           // the broker assigned id of the client
	ops          *ops             // ops provides a reference to server ops.
	sync.RWMutex                  // mutex for synchronising own-socket writes
}

// ClientConnection contains the connection transport and metadata for the client.
type ClientConnection struct {
	Conn     net.Conn      // the net.Conn used to establish the connection
	bconn    *bufio.Reader // a buffered reader over the connection
	Remote   string        // the remote address of the client
	Local    string        // the local address the connection was accepted on
	Listener string        // listener id of the client
}

// ClientProperties contains the properties a client declared with CONNECT.
type ClientProperties struct {
	Options   []byte // the raw CONNECT options, kept verbatim
	Connected bool   // true once the client has sent CONNECT
}

// ClientState tracks the state of the client.
type ClientState struct {
	decoder     *commands.Decoder  // frames the inbound byte stream
	outbound    chan []byte        // queue for pending outbound deliveries
	open        context.Context    // indicate that the client is open for packet exchange
	cancelOpen  context.CancelFunc // cancel function for open context
	stopCause   atomic.Value       // reason for stopping
	readErr     error              // connection error held until buffered commands are consumed
	outboundQty int32              // number of messages currently in the outbound queue
	endOnce     sync.Once          // only end once
}

// newClient returns a new instance of Client. This is almost exclusively used by Server
// for creating new clients, but it lives here because it's not dependent.
func newClient(c net.Conn, o *ops) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	cl := &Client{
		ID: xid.New().String(),
		State: ClientState{
			decoder: commands.NewDecoder(commands.Limits{
				MaxControlLine: o.options.Capabilities.MaximumControlLine,
				MaxPayload:     o.options.Capabilities.MaximumPayload,
			}),
			outbound:   make(chan []byte, o.options.Capabilities.MaximumClientWritesPending),
			open:       ctx,
			cancelOpen: cancel,
		},
		ops: o,
	}

	if c != nil {
		cl.Net = ClientConnection{
			Conn:   c,
			bconn:  bufio.NewReaderSize(c, o.options.ClientNetReadBufferSize),
			Remote: c.RemoteAddr().String(),
			Local:  c.LocalAddr().String(),
		}
	}

	return cl
}

// WriteLoop drains the outbound queue to the client connection until the
// client is stopped.
func (cl *Client) WriteLoop() {
	for {
		select {
		case msg := <-cl.State.outbound:
			if err := cl.Write(msg); err != nil {
				cl.ops.log.Debug("failed writing to client", "error", err, "client", cl.ID)
			} else {
				atomic.AddInt64(&cl.ops.info.MessagesSent, 1)
			}
			atomic.AddInt32(&cl.State.outboundQty, -1)
		case <-cl.State.open.Done():
			return
		}
	}
}

// Deliver queues a message for the client without waiting on the connection.
// If the queue is full the message is dropped.
func (cl *Client) Deliver(msg []byte) error {
	if cl.Closed() {
		return ErrConnectionClosed
	}

	select {
	case cl.State.outbound <- msg:
		atomic.AddInt32(&cl.State.outboundQty, 1)
		return nil
	default:
		atomic.AddInt64(&cl.ops.info.MessagesDropped, 1)
		cl.ops.hooks.OnPublishDropped(cl, msg)
		return ErrPendingClientWritesExceeded
	}
}

// Write writes bytes directly to the client connection, serialised with any
// other writes to the same connection.
func (cl *Client) Write(b []byte) error {
	if cl.Net.Conn == nil || cl.Closed() {
		return ErrConnectionClosed
	}

	cl.Lock()
	defer cl.Unlock()

	n, err := cl.Net.Conn.Write(b)
	atomic.AddInt64(&cl.ops.info.BytesSent, int64(n))
	return err
}

// WriteError reports a protocol error to the client.
func (cl *Client) WriteError(err error) error {
	atomic.AddInt64(&cl.ops.info.ProtocolErrors, 1)
	return cl.Write(commands.EncodeError(err))
}

// ReadCommand returns the next command sent by the client, reading from the
// connection as needed. Protocol violations are returned as commands.Code
// errors and do not affect later reads; any other error is from the connection.
// Bytes which arrive together with a connection error are decoded before the
// error is returned.
func (cl *Client) ReadCommand() (commands.Command, error) {
	var buf []byte
	for {
		fr, err := cl.State.decoder.Next()
		if errors.Is(err, commands.ErrNeedMore) {
			if cl.State.readErr != nil {
				return commands.Command{}, cl.State.readErr
			}

			if buf == nil {
				buf = make([]byte, cl.ops.options.ClientNetReadBufferSize)
			}

			n, err := cl.Net.bconn.Read(buf)
			if n > 0 {
				atomic.AddInt64(&cl.ops.info.BytesReceived, int64(n))
				_, _ = cl.State.decoder.Write(buf[:n])
			}

			if err != nil {
				cl.State.readErr = err
			}
			continue
		}

		if err != nil {
			return commands.Command{}, err
		}

		cmd, err := commands.Parse(fr)
		if errors.Is(err, commands.ErrEmptyLine) {
			continue
		}

		return cmd, err
	}
}

// Read reads commands from the client connection and passes them to the
// handler until the connection ends. Protocol errors are reported to the
// client and reading continues.
func (cl *Client) Read(handler ReadFn) error {
	for {
		if cl.Closed() {
			return nil
		}

		cmd, err := cl.ReadCommand()
		if err != nil {
			var code commands.Code
			if !errors.As(err, &code) {
				return err
			}

			cl.ops.hooks.OnProtocolError(cl, code)
			if err := cl.WriteError(code); err != nil {
				return err
			}
			continue
		}

		atomic.AddInt64(&cl.ops.info.CommandsReceived, 1)
		if err := handler(cl, cmd); err != nil {
			return err
		}
	}
}

// Stop instructs the client to shut down all processing goroutines and disconnect.
func (cl *Client) Stop(err error) {
	cl.State.endOnce.Do(func() {
		if cl.Net.Conn != nil {
			_ = cl.Net.Conn.Close() // omit close error
		}

		if err != nil {
			cl.State.stopCause.Store(err)
		}

		if cl.State.cancelOpen != nil {
			cl.State.cancelOpen()
		}
	})
}

// StopCause returns the reason the client connection was stopped, if any.
func (cl *Client) StopCause() error {
	if cl.State.stopCause.Load() == nil {
		return nil
	}
	return cl.State.stopCause.Load().(error)
}

// Closed returns true if client connection is closed.
func (cl *Client) Closed() bool {
	return cl.State.open == nil || cl.State.open.Err() != nil
}

// PendingWrites returns the number of messages waiting in the outbound queue.
func (cl *Client) PendingWrites() int32 {
	return atomic.LoadInt32(&cl.State.outboundQty)
}

// ClientID returns the id of the client.
func (cl *Client) ClientID() string {
	return cl.ID
}
