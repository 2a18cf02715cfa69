// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package listeners

import (
	"bufio"
	"crypto/tls"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestNewWebsocket(t *testing.T) {
	l := NewWebsocket(Config{ID: "t1", Address: testAddr})
	require.Equal(t, "t1", l.id)
	require.Equal(t, testAddr, l.address)
	require.Equal(t, []string{"nats"}, l.upgrader.Subprotocols)
}

func TestWebsocketID(t *testing.T) {
	l := NewWebsocket(Config{ID: "t1", Address: testAddr})
	require.Equal(t, "t1", l.ID())
}

func TestWebsocketAddress(t *testing.T) {
	l := NewWebsocket(Config{ID: "t1", Address: testAddr})
	require.Equal(t, testAddr, l.Address())
}

func TestWebsocketProtocol(t *testing.T) {
	l := NewWebsocket(Config{ID: "t1", Address: testAddr})
	require.Equal(t, "ws", l.Protocol())
}

func TestWebsocketProtocolTLS(t *testing.T) {
	l := NewWebsocket(Config{ID: "t1", Address: testAddr, TLSConfig: new(tls.Config)})
	require.Equal(t, "wss", l.Protocol())
}

func TestWebsocketInit(t *testing.T) {
	l := NewWebsocket(Config{ID: "t1", Address: testAddr})
	require.Nil(t, l.listen)
	err := l.Init(logger)
	require.NoError(t, err)
	require.NotNil(t, l.listen)
	require.Equal(t, testAddr, l.listen.Addr)
}

func TestWebsocketServeAndClose(t *testing.T) {
	l := NewWebsocket(Config{ID: "t1", Address: freeAddr(t)})
	require.NoError(t, l.Init(logger))

	o := make(chan bool)
	go func(o chan bool) {
		l.Serve(MockEstablisher)
		o <- true
	}(o)

	time.Sleep(time.Millisecond)
	var closed bool
	l.Close(func(id string) {
		closed = true
	})
	require.True(t, closed)
	<-o
}

func TestWebsocketUpgrade(t *testing.T) {
	l := NewWebsocket(Config{ID: "t1", Address: testAddr})
	require.NoError(t, l.Init(logger))

	e := make(chan string)
	l.establish = func(id string, c net.Conn) error {
		e <- id
		return nil
	}

	s := httptest.NewServer(http.HandlerFunc(l.handler))
	defer s.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.URL, "http"), nil)
	require.NoError(t, err)
	defer ws.Close()
	require.Equal(t, "t1", <-e)
}

func TestWebsocketConnStream(t *testing.T) {
	l := NewWebsocket(Config{ID: "t1", Address: testAddr})
	require.NoError(t, l.Init(logger))

	lines := make(chan string, 2)
	l.establish = func(id string, c net.Conn) error {
		r := bufio.NewReader(c)
		for i := 0; i < 2; i++ {
			line, err := r.ReadString('\n')
			if err != nil {
				return err
			}
			lines <- line
		}

		_, err := c.Write([]byte("PONG\r\n"))
		return err
	}

	s := httptest.NewServer(http.HandlerFunc(l.handler))
	defer s.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.URL, "http"), nil)
	require.NoError(t, err)
	defer ws.Close()

	// commands may span and share websocket messages.
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("PI")))
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, []byte("NG\r\nSUB FOO 1\r\n")))

	require.Equal(t, "PING\r\n", <-lines)
	require.Equal(t, "SUB FOO 1\r\n", <-lines)

	op, msg, err := ws.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, op)
	require.Equal(t, "PONG\r\n", string(msg))
}

func TestWebsocketConnInvalidMessage(t *testing.T) {
	l := NewWebsocket(Config{ID: "t1", Address: testAddr})
	require.NoError(t, l.Init(logger))

	errs := make(chan error, 1)
	l.establish = func(id string, c net.Conn) error {
		_, err := c.Read(make([]byte, 8))
		errs <- err
		return err
	}

	s := httptest.NewServer(http.HandlerFunc(l.handler))
	defer s.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.URL, "http"), nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteMessage(websocket.PingMessage, []byte("x")))
	require.NoError(t, ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Error(t, <-errs)
}
