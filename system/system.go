// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

// Package system holds the runtime statistics of the broker.
package system

import (
	"runtime"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Info contains atomic counters and values for various server statistics.
type Info struct {
	Version             string `json:"version"`              // the current version of the server
	Started             int64  `json:"started"`              // the time the server started in unix seconds
	Time                int64  `json:"time"`                 // current time on the server
	Uptime              int64  `json:"uptime"`               // the number of seconds the server has been online
	BytesReceived       int64  `json:"bytes_received"`       // total number of bytes received since the broker started
	BytesSent           int64  `json:"bytes_sent"`           // total number of bytes sent since the broker started
	ClientsConnected    int64  `json:"clients_connected"`    // number of currently connected clients
	ClientsDisconnected int64  `json:"clients_disconnected"` // total number of clients which have disconnected since the broker started
	ClientsMaximum      int64  `json:"clients_maximum"`      // maximum number of clients that have been connected at once
	ClientsTotal        int64  `json:"clients_total"`        // total number of clients which have connected since the broker started
	CommandsReceived    int64  `json:"commands_received"`    // total number of valid commands received
	ProtocolErrors      int64  `json:"protocol_errors"`      // total number of -ERR responses sent
	MessagesReceived    int64  `json:"messages_received"`    // total number of PUB messages received
	MessagesSent        int64  `json:"messages_sent"`        // total number of MSG deliveries written to subscribers
	MessagesDropped     int64  `json:"messages_dropped"`     // total number of MSG deliveries dropped to slow subscribers
	Subscriptions       int64  `json:"subscriptions"`        // number of subscriptions active on the broker
	Subjects            int64  `json:"subjects"`             // number of subjects with at least one subscriber
	MemoryAlloc         int64  `json:"memory_alloc"`         // memory currently allocated
	Threads             int64  `json:"threads"`              // number of active goroutines, named as threads for platform ambiguity
}

// Clone makes a copy of Info using atomic operation
func (i *Info) Clone() *Info {
	return &Info{
		Version:             i.Version,
		Started:             atomic.LoadInt64(&i.Started),
		Time:                atomic.LoadInt64(&i.Time),
		Uptime:              atomic.LoadInt64(&i.Uptime),
		BytesReceived:       atomic.LoadInt64(&i.BytesReceived),
		BytesSent:           atomic.LoadInt64(&i.BytesSent),
		ClientsConnected:    atomic.LoadInt64(&i.ClientsConnected),
		ClientsDisconnected: atomic.LoadInt64(&i.ClientsDisconnected),
		ClientsMaximum:      atomic.LoadInt64(&i.ClientsMaximum),
		ClientsTotal:        atomic.LoadInt64(&i.ClientsTotal),
		CommandsReceived:    atomic.LoadInt64(&i.CommandsReceived),
		ProtocolErrors:      atomic.LoadInt64(&i.ProtocolErrors),
		MessagesReceived:    atomic.LoadInt64(&i.MessagesReceived),
		MessagesSent:        atomic.LoadInt64(&i.MessagesSent),
		MessagesDropped:     atomic.LoadInt64(&i.MessagesDropped),
		Subscriptions:       atomic.LoadInt64(&i.Subscriptions),
		Subjects:            atomic.LoadInt64(&i.Subjects),
		MemoryAlloc:         atomic.LoadInt64(&i.MemoryAlloc),
		Threads:             atomic.LoadInt64(&i.Threads),
	}
}

// RegisterPrometheusMetrics exposes the counters as prometheus collectors on the
// given registry, or on the default registry if nil.
func (i *Info) RegisterPrometheusMetrics(registry prometheus.Registerer) {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	type metrics struct {
		metricType string
		name       string
		help       string
		value      *int64
	}

	metricsList := []metrics{
		{"c", "bytes_received", "A counter of the total number of bytes received", &i.BytesReceived},
		{"c", "bytes_sent", "A counter of the total number of bytes sent", &i.BytesSent},
		{"g", "clients_connected", "A gauge of the number of currently connected clients", &i.ClientsConnected},
		{"c", "clients_disconnected", "A counter of the number of clients which have disconnected", &i.ClientsDisconnected},
		{"g", "clients_maximum", "A gauge of the maximum number of clients connected at once", &i.ClientsMaximum},
		{"c", "clients_total", "A counter of the total number of clients which have connected", &i.ClientsTotal},
		{"c", "commands_received", "A counter of the total number of valid commands received", &i.CommandsReceived},
		{"c", "protocol_errors", "A counter of the total number of protocol errors reported to clients", &i.ProtocolErrors},
		{"c", "messages_received", "A counter of the total number of published messages received", &i.MessagesReceived},
		{"c", "messages_sent", "A counter of the total number of messages delivered to subscribers", &i.MessagesSent},
		{"c", "messages_dropped", "A counter of the total number of messages dropped to slow subscribers", &i.MessagesDropped},
		{"g", "subscriptions", "A gauge of the number of active subscriptions", &i.Subscriptions},
		{"g", "subjects", "A gauge of the number of subjects with subscribers", &i.Subjects},
		{"g", "memory_alloc", "A gauge of the memory currently allocated", &i.MemoryAlloc},
		{"g", "threads", "A gauge of the number of active goroutines", &i.Threads},
	}

	for _, m := range metricsList {
		m := m
		fn := func() float64 {
			return float64(atomic.LoadInt64(m.value))
		}

		switch m.metricType {
		case "c":
			registry.MustRegister(
				prometheus.NewCounterFunc(
					prometheus.CounterOpts{
						Namespace: "natsd",
						Name:      m.name,
						Help:      m.help,
					},
					fn,
				),
			)
		case "g":
			registry.MustRegister(
				prometheus.NewGaugeFunc(
					prometheus.GaugeOpts{
						Namespace: "natsd",
						Name:      m.name,
						Help:      m.help,
					},
					fn,
				),
			)
		}
	}

	buildInfo := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "natsd",
			Name:      "build_info",
			Help:      "Build Information",
		},
		[]string{"goversion", "version"},
	)
	registry.MustRegister(buildInfo)
	buildInfo.With(prometheus.Labels{"goversion": runtime.Version(), "version": i.Version}).Set(1)
}
