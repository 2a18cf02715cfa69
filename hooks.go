// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package natsd

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mochi-mqtt/natsd/commands"
	"github.com/mochi-mqtt/natsd/hooks/storage"
	"github.com/mochi-mqtt/natsd/system"
)

const (
	SetOptions byte = iota
	OnSysInfoTick
	OnStarted
	OnStopped
	OnConnect
	OnSessionEstablished
	OnDisconnect
	OnCommandRead
	OnCommandProcessed
	OnProtocolError
	OnSubscribed
	OnUnsubscribed
	OnPublish
	OnPublished
	OnPublishDropped
	StoredSysInfo
)

var (
	// ErrInvalidConfigType indicates a different Type of config value was expected to what was received.
	ErrInvalidConfigType = errors.New("invalid config type provided")

	// ErrRejectCommand indicates that a hook has rejected a command and it should not be processed.
	ErrRejectCommand = errors.New("command rejected")
)

// HookLoadConfig contains the hook and configuration as loaded from a configuration (usually file).
type HookLoadConfig struct {
	Hook   Hook
	Config any
}

// Hook provides an interface of handlers for different events which occur
// during the lifecycle of the broker.
type Hook interface {
	ID() string
	Provides(b byte) bool
	Init(config any) error
	Stop() error
	SetOpts(l *slog.Logger, o *HookOptions)
	OnStarted()
	OnStopped()
	OnSysInfoTick(*system.Info)
	OnConnect(cl *Client, cmd commands.Command) error
	OnSessionEstablished(cl *Client)
	OnDisconnect(cl *Client, err error)
	OnCommandRead(cl *Client, cmd commands.Command) (commands.Command, error) // triggers when a command is parsed, before it is processed
	OnCommandProcessed(cl *Client, cmd commands.Command, err error)           // triggers after a command from the client has been processed
	OnProtocolError(cl *Client, err error)                                    // triggers when a -ERR is about to be sent to the client
	OnSubscribed(cl *Client, cmd commands.Command, isNew bool)
	OnUnsubscribed(cl *Client, cmd commands.Command)
	OnPublish(cl *Client, cmd commands.Command) (commands.Command, error)
	OnPublished(cl *Client, cmd commands.Command, delivered int)
	OnPublishDropped(cl *Client, msg []byte)
	StoredSysInfo() (storage.SystemInfo, error)
}

// HookOptions contains values which are inherited from the server on initialisation.
type HookOptions struct {
	Capabilities *Capabilities
}

// Hooks is a slice of Hook interfaces to be called in sequence.
type Hooks struct {
	Log        *slog.Logger   // a logger for the hook (from the server)
	internal   atomic.Value   // a slice of []Hook
	wg         sync.WaitGroup // a waitgroup for syncing hook shutdown
	qty        int64          // the number of hooks in use
	sync.Mutex                // a mutex for locking when adding hooks
}

// Len returns the number of hooks added.
func (h *Hooks) Len() int64 {
	return atomic.LoadInt64(&h.qty)
}

// Provides returns true if any one hook provides any of the requested hook methods.
func (h *Hooks) Provides(b ...byte) bool {
	for _, hook := range h.GetAll() {
		for _, hb := range b {
			if hook.Provides(hb) {
				return true
			}
		}
	}

	return false
}

// Add adds and initializes a new hook.
func (h *Hooks) Add(hook Hook, config any) error {
	h.Lock()
	defer h.Unlock()

	err := hook.Init(config)
	if err != nil {
		return fmt.Errorf("failed initialising %s hook: %w", hook.ID(), err)
	}

	i, ok := h.internal.Load().([]Hook)
	if !ok {
		i = []Hook{}
	}

	i = append(i, hook)
	h.internal.Store(i)
	atomic.AddInt64(&h.qty, 1)
	h.wg.Add(1)

	return nil
}

// GetAll returns a slice of all the hooks.
func (h *Hooks) GetAll() []Hook {
	i, ok := h.internal.Load().([]Hook)
	if !ok {
		return []Hook{}
	}

	return i
}

// Stop indicates all attached hooks to gracefully end.
func (h *Hooks) Stop() {
	go func() {
		for _, hook := range h.GetAll() {
			h.Log.Info("stopping hook", "hook", hook.ID())
			if err := hook.Stop(); err != nil {
				h.Log.Debug("problem stopping hook", "error", err, "hook", hook.ID())
			}

			h.wg.Done()
		}
	}()

	h.wg.Wait()
}

// OnSysInfoTick is called when the server statistics are refreshed.
func (h *Hooks) OnSysInfoTick(sys *system.Info) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnSysInfoTick) {
			hook.OnSysInfoTick(sys)
		}
	}
}

// OnStarted is called when the server has successfully started.
func (h *Hooks) OnStarted() {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnStarted) {
			hook.OnStarted()
		}
	}
}

// OnStopped is called when the server has successfully stopped.
func (h *Hooks) OnStopped() {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnStopped) {
			hook.OnStopped()
		}
	}
}

// OnConnect is called when a client sends CONNECT. An error from any hook
// is reported to the client and ends the session.
func (h *Hooks) OnConnect(cl *Client, cmd commands.Command) error {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnConnect) {
			err := hook.OnConnect(cl, cmd)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// OnSessionEstablished is called when a new client has been greeted and
// will begin reading commands.
func (h *Hooks) OnSessionEstablished(cl *Client) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnSessionEstablished) {
			hook.OnSessionEstablished(cl)
		}
	}
}

// OnDisconnect is called when a client is disconnected for any reason.
func (h *Hooks) OnDisconnect(cl *Client, err error) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnDisconnect) {
			hook.OnDisconnect(cl, err)
		}
	}
}

// OnCommandRead is called when a command is received from a client. The
// command may be modified; returning ErrRejectCommand drops it silently.
func (h *Hooks) OnCommandRead(cl *Client, cmd commands.Command) (commands.Command, error) {
	cmdx := cmd
	for _, hook := range h.GetAll() {
		if hook.Provides(OnCommandRead) {
			npk, err := hook.OnCommandRead(cl, cmdx)
			if err != nil && errors.Is(err, ErrRejectCommand) {
				h.Log.Debug("command rejected", "hook", hook.ID(), "command", cmdx.String())
				return cmd, err
			} else if err != nil {
				continue
			}

			cmdx = npk
		}
	}

	return cmdx, nil
}

// OnCommandProcessed is called when a command has been processed.
func (h *Hooks) OnCommandProcessed(cl *Client, cmd commands.Command, err error) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnCommandProcessed) {
			hook.OnCommandProcessed(cl, cmd, err)
		}
	}
}

// OnProtocolError is called when a protocol error is reported to a client.
func (h *Hooks) OnProtocolError(cl *Client, err error) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnProtocolError) {
			hook.OnProtocolError(cl, err)
		}
	}
}

// OnSubscribed is called when a client subscribes to a subject. isNew is
// false if the subscription replaced an existing one with the same sid.
func (h *Hooks) OnSubscribed(cl *Client, cmd commands.Command, isNew bool) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnSubscribed) {
			hook.OnSubscribed(cl, cmd, isNew)
		}
	}
}

// OnUnsubscribed is called when a client removes a subscription.
func (h *Hooks) OnUnsubscribed(cl *Client, cmd commands.Command) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnUnsubscribed) {
			hook.OnUnsubscribed(cl, cmd)
		}
	}
}

// OnPublish is called when a client publishes a message. The command may be
// modified; returning ErrRejectCommand acknowledges the publish without
// delivering it.
func (h *Hooks) OnPublish(cl *Client, cmd commands.Command) (commands.Command, error) {
	cmdx := cmd
	for _, hook := range h.GetAll() {
		if hook.Provides(OnPublish) {
			npk, err := hook.OnPublish(cl, cmdx)
			if err != nil {
				if errors.Is(err, ErrRejectCommand) {
					h.Log.Debug("publish rejected", "hook", hook.ID(), "client", cl.ID, "subject", cmdx.Subject)
					return cmd, err
				}
				h.Log.Error("publish error", "error", err, "hook", hook.ID(), "client", cl.ID, "subject", cmdx.Subject)
				continue
			}

			cmdx = npk
		}
	}

	return cmdx, nil
}

// OnPublished is called when a client has published a message to subscribers.
func (h *Hooks) OnPublished(cl *Client, cmd commands.Command, delivered int) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnPublished) {
			hook.OnPublished(cl, cmd, delivered)
		}
	}
}

// OnPublishDropped is called when a message to a client is dropped because
// its outbound queue is full.
func (h *Hooks) OnPublishDropped(cl *Client, msg []byte) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnPublishDropped) {
			hook.OnPublishDropped(cl, msg)
		}
	}
}

// StoredSysInfo returns a set of system info values.
func (h *Hooks) StoredSysInfo() (v storage.SystemInfo, err error) {
	for _, hook := range h.GetAll() {
		if hook.Provides(StoredSysInfo) {
			v, err := hook.StoredSysInfo()
			if err != nil {
				h.Log.Error("failed to load $SYS info from store", "error", err, "hook", hook.ID())
				return v, err
			}

			if v.Version != "" {
				return v, nil
			}
		}
	}

	return
}

// HookBase provides a set of default methods for each hook. It should be embedded in
// all hooks.
type HookBase struct {
	Hook
	Log  *slog.Logger
	Opts *HookOptions
}

// ID returns the ID of the hook.
func (h *HookBase) ID() string {
	return "base"
}

// Provides indicates which methods a hook provides. The default is none - this method
// should be overridden by the embedding hook.
func (h *HookBase) Provides(b byte) bool {
	return false
}

// Init performs any pre-start initializations for the hook, such as connecting to databases
// or opening files.
func (h *HookBase) Init(config any) error {
	return nil
}

// SetOpts is called by the server to propagate internal values and generally should
// not be called manually.
func (h *HookBase) SetOpts(l *slog.Logger, opts *HookOptions) {
	h.Log = l
	h.Opts = opts
}

// Stop is called to gracefully shut down the hook.
func (h *HookBase) Stop() error {
	return nil
}

// OnStarted is called when the server starts.
func (h *HookBase) OnStarted() {}

// OnStopped is called when the server stops.
func (h *HookBase) OnStopped() {}

// OnSysInfoTick is called when the server statistics are refreshed.
func (h *HookBase) OnSysInfoTick(*system.Info) {}

// OnConnect is called when a new client sends CONNECT.
func (h *HookBase) OnConnect(cl *Client, cmd commands.Command) error {
	return nil
}

// OnSessionEstablished is called when a new client session has been established.
func (h *HookBase) OnSessionEstablished(cl *Client) {}

// OnDisconnect is called when a client is disconnected for any reason.
func (h *HookBase) OnDisconnect(cl *Client, err error) {}

// OnCommandRead is called when a command is received.
func (h *HookBase) OnCommandRead(cl *Client, cmd commands.Command) (commands.Command, error) {
	return cmd, nil
}

// OnCommandProcessed is called when a command has been processed.
func (h *HookBase) OnCommandProcessed(cl *Client, cmd commands.Command, err error) {}

// OnProtocolError is called when a protocol error is reported to a client.
func (h *HookBase) OnProtocolError(cl *Client, err error) {}

// OnSubscribed is called when a client subscribes to a subject.
func (h *HookBase) OnSubscribed(cl *Client, cmd commands.Command, isNew bool) {}

// OnUnsubscribed is called when a client unsubscribes.
func (h *HookBase) OnUnsubscribed(cl *Client, cmd commands.Command) {}

// OnPublish is called when a client publishes a message.
func (h *HookBase) OnPublish(cl *Client, cmd commands.Command) (commands.Command, error) {
	return cmd, nil
}

// OnPublished is called when a client has published a message to subscribers.
func (h *HookBase) OnPublished(cl *Client, cmd commands.Command, delivered int) {}

// OnPublishDropped is called when a message to a client was dropped.
func (h *HookBase) OnPublishDropped(cl *Client, msg []byte) {}

// StoredSysInfo returns a set of system info values.
func (h *HookBase) StoredSysInfo() (v storage.SystemInfo, err error) {
	return
}
