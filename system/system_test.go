// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package system

import (
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestClone(t *testing.T) {
	o := &Info{
		Version:             "version",
		Started:             1,
		Time:                2,
		Uptime:              3,
		BytesReceived:       4,
		BytesSent:           5,
		ClientsConnected:    6,
		ClientsDisconnected: 7,
		ClientsMaximum:      8,
		ClientsTotal:        9,
		CommandsReceived:    10,
		ProtocolErrors:      11,
		MessagesReceived:    12,
		MessagesSent:        13,
		MessagesDropped:     14,
		Subscriptions:       15,
		Subjects:            16,
		MemoryAlloc:         17,
		Threads:             18,
	}

	n := o.Clone()

	require.Equal(t, o, n)
}

func TestRegisterPrometheusMetrics(t *testing.T) {
	o := &Info{Version: "test"}
	reg := prometheus.NewRegistry()
	o.RegisterPrometheusMetrics(reg)

	atomic.StoreInt64(&o.MessagesReceived, 3)
	atomic.StoreInt64(&o.ClientsConnected, 2)

	expected := `
# HELP natsd_messages_received A counter of the total number of published messages received
# TYPE natsd_messages_received counter
natsd_messages_received 3
# HELP natsd_clients_connected A gauge of the number of currently connected clients
# TYPE natsd_clients_connected gauge
natsd_clients_connected 2
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "natsd_messages_received", "natsd_clients_connected")
	require.NoError(t, err)
}

func TestRegisterPrometheusMetricsTwicePanics(t *testing.T) {
	o := &Info{Version: "test"}
	reg := prometheus.NewRegistry()
	o.RegisterPrometheusMetrics(reg)
	require.Panics(t, func() {
		o.RegisterPrometheusMetrics(reg)
	})
}
