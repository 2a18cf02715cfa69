// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package debug

import (
	"log/slog"

	"github.com/mochi-mqtt/natsd"
	"github.com/mochi-mqtt/natsd/commands"
	"github.com/mochi-mqtt/natsd/hooks/storage"
	"github.com/mochi-mqtt/natsd/system"
)

// Options contains configuration settings for the debug output.
type Options struct {
	Enable         bool `yaml:"enable" json:"enable"`                     // non-zero field for enabling hook using file-based config
	ShowPayloads   bool `yaml:"show_payloads" json:"show_payloads"`       // include publish payloads (default false)
	ShowPings      bool `yaml:"show_pings" json:"show_pings"`             // show pings and pongs (default false)
	ShowConnectOps bool `yaml:"show_connect_ops" json:"show_connect_ops"` // show the raw CONNECT options of clients (default false)
}

// Hook is a debugging hook which logs additional low-level information from the server.
type Hook struct {
	natsd.HookBase
	config *Options
	Log    *slog.Logger
}

// ID returns the ID of the hook.
func (h *Hook) ID() string {
	return "debug"
}

// Provides indicates that this hook provides all methods.
func (h *Hook) Provides(b byte) bool {
	return true
}

// Init is called when the hook is initialized.
func (h *Hook) Init(config any) error {
	if _, ok := config.(*Options); !ok && config != nil {
		return natsd.ErrInvalidConfigType
	}

	h.config, _ = config.(*Options)
	if h.config == nil {
		h.config = new(Options)
	}

	return nil
}

// SetOpts is called when the hook receives inheritable server parameters.
func (h *Hook) SetOpts(l *slog.Logger, opts *natsd.HookOptions) {
	h.Log = l
	h.Log.Debug("", "method", "SetOpts")
}

// Stop is called when the hook is stopped.
func (h *Hook) Stop() error {
	h.Log.Debug("", "method", "Stop")
	return nil
}

// OnStarted is called when the server starts.
func (h *Hook) OnStarted() {
	h.Log.Debug("", "method", "OnStarted")
}

// OnStopped is called when the server stops.
func (h *Hook) OnStopped() {
	h.Log.Debug("", "method", "OnStopped")
}

// OnSysInfoTick is called when the server statistics are refreshed.
func (h *Hook) OnSysInfoTick(info *system.Info) {
	h.Log.Debug("", "method", "OnSysInfoTick",
		"clients", info.ClientsConnected,
		"subscriptions", info.Subscriptions,
		"received", info.MessagesReceived,
		"sent", info.MessagesSent,
		"dropped", info.MessagesDropped)
}

// OnSessionEstablished is called when a client has been greeted.
func (h *Hook) OnSessionEstablished(cl *natsd.Client) {
	h.Log.Debug("session established", "method", "OnSessionEstablished", "client", cl.ID, "remote", cl.Net.Remote, "listener", cl.Net.Listener)
}

// OnDisconnect is called when a client is disconnected for any reason.
func (h *Hook) OnDisconnect(cl *natsd.Client, err error) {
	h.Log.Debug("client disconnected", "method", "OnDisconnect", "client", cl.ID, "error", err)
}

// OnCommandRead is called when a new command is received from a client.
func (h *Hook) OnCommandRead(cl *natsd.Client, cmd commands.Command) (commands.Command, error) {
	if (cmd.Type == commands.Ping || cmd.Type == commands.Pong) && !h.config.ShowPings {
		return cmd, nil
	}

	h.Log.Debug(cmd.Name()+" << "+cl.ID, "m", h.commandMeta(cmd))
	return cmd, nil
}

// OnCommandProcessed is called when a command has been processed.
func (h *Hook) OnCommandProcessed(cl *natsd.Client, cmd commands.Command, err error) {
	if err == nil {
		return
	}

	h.Log.Debug("command failed", "method", "OnCommandProcessed", "client", cl.ID, "command", cmd.String(), "error", err)
}

// OnProtocolError is called when a protocol error is reported to a client.
func (h *Hook) OnProtocolError(cl *natsd.Client, err error) {
	h.Log.Debug("ERR >> "+cl.ID, "method", "OnProtocolError", "error", err)
}

// OnSubscribed is called when a client subscribes to a subject.
func (h *Hook) OnSubscribed(cl *natsd.Client, cmd commands.Command, isNew bool) {
	h.Log.Debug("subscribed", "method", "OnSubscribed", "client", cl.ID, "subject", cmd.Subject, "sid", cmd.SID, "new", isNew)
}

// OnUnsubscribed is called when a client unsubscribes.
func (h *Hook) OnUnsubscribed(cl *natsd.Client, cmd commands.Command) {
	h.Log.Debug("unsubscribed", "method", "OnUnsubscribed", "client", cl.ID, "sid", cmd.SID)
}

// OnPublished is called when a message has been fanned out to subscribers.
func (h *Hook) OnPublished(cl *natsd.Client, cmd commands.Command, delivered int) {
	h.Log.Debug("published", "method", "OnPublished", "client", cl.ID, "subject", cmd.Subject, "delivered", delivered)
}

// OnPublishDropped is called when a message to a client was dropped.
func (h *Hook) OnPublishDropped(cl *natsd.Client, msg []byte) {
	h.Log.Debug("message dropped", "method", "OnPublishDropped", "client", cl.ID, "pending", cl.PendingWrites())
}

// StoredSysInfo is called when the server restores system info from a store.
func (h *Hook) StoredSysInfo() (v storage.SystemInfo, err error) {
	h.Log.Debug("", "method", "StoredSysInfo")

	return v, nil
}

// commandMeta adds additional type-specific metadata to the debug logs.
func (h *Hook) commandMeta(cmd commands.Command) map[string]any {
	m := map[string]any{}
	switch cmd.Type {
	case commands.Connect:
		if h.config.ShowConnectOps {
			m["options"] = string(cmd.Options)
		}
	case commands.Sub:
		m["subject"] = cmd.Subject
		m["sid"] = cmd.SID
	case commands.Unsub:
		m["sid"] = cmd.SID
	case commands.Pub:
		m["subject"] = cmd.Subject
		m["size"] = len(cmd.Payload)
		if h.config.ShowPayloads {
			m["payload"] = string(cmd.Payload)
		}
	}

	return m
}
