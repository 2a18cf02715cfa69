// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: Derek Duncan

package listeners

import (
	"crypto/tls"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewHTTPHealthCheck(t *testing.T) {
	l := NewHTTPHealthCheck(Config{ID: "healthcheck", Address: testAddr})
	require.Equal(t, "healthcheck", l.id)
	require.Equal(t, testAddr, l.address)
}

func TestHTTPHealthCheckID(t *testing.T) {
	l := NewHTTPHealthCheck(Config{ID: "healthcheck", Address: testAddr})
	require.Equal(t, "healthcheck", l.ID())
}

func TestHTTPHealthCheckAddress(t *testing.T) {
	l := NewHTTPHealthCheck(Config{ID: "healthcheck", Address: testAddr})
	require.Equal(t, testAddr, l.Address())
}

func TestHTTPHealthCheckProtocol(t *testing.T) {
	l := NewHTTPHealthCheck(Config{ID: "healthcheck", Address: testAddr})
	require.Equal(t, "http", l.Protocol())
}

func TestHTTPHealthCheckTLSProtocol(t *testing.T) {
	l := NewHTTPHealthCheck(Config{ID: "healthcheck", Address: testAddr, TLSConfig: new(tls.Config)})
	_ = l.Init(logger)
	require.Equal(t, "https", l.Protocol())
}

func TestHTTPHealthCheckInit(t *testing.T) {
	l := NewHTTPHealthCheck(Config{ID: "healthcheck", Address: testAddr})
	err := l.Init(logger)
	require.NoError(t, err)

	require.NotNil(t, l.listen)
	require.Equal(t, testAddr, l.listen.Addr)
}

func TestHTTPHealthCheckServeAndClose(t *testing.T) {
	addr := freeAddr(t)
	l := NewHTTPHealthCheck(Config{ID: "healthcheck", Address: addr})
	err := l.Init(logger)
	require.NoError(t, err)

	o := make(chan bool)
	go func(o chan bool) {
		l.Serve(MockEstablisher)
		o <- true
	}(o)

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get("http://" + addr + "/healthcheck")
		return err == nil
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = http.Post("http://"+addr+"/healthcheck", "text/plain", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	_ = resp.Body.Close()

	var closed bool
	l.Close(func(id string) {
		closed = true
	})
	require.True(t, closed)

	_, err = http.Get("http://" + addr + "/healthcheck")
	require.Error(t, err)
	<-o
}

func TestHTTPHealthCheckFailedToServe(t *testing.T) {
	l := NewHTTPHealthCheck(Config{ID: "healthcheck", Address: "wrong_addr"})
	err := l.Init(logger)
	require.NoError(t, err)

	o := make(chan bool)
	go func(o chan bool) {
		l.Serve(MockEstablisher)
		o <- true
	}(o)

	<-o
	var closed bool
	l.Close(func(id string) {
		closed = true
	})
	require.True(t, closed)
}
