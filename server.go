// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

// Package natsd provides a lightweight publish/subscribe broker speaking a
// NATS style text protocol.
package natsd

import (
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/mochi-mqtt/natsd/commands"
	"github.com/mochi-mqtt/natsd/listeners"
	"github.com/mochi-mqtt/natsd/system"
)

const (
	Version                          = "1.0.0" // the current server version.
	defaultSysInfoInterval     int64 = 1       // the interval between server statistics refreshes
	defaultMaxPayload                = 1024 * 1024
	defaultMaxControlLine            = 4096
	defaultClientWritesPending       = 1024 * 8
)

var (
	ErrListenerIDExists   = errors.New("listener id already exists") // a listener with the same id already exists
	ErrConnectionClosed   = errors.New("connection not open")        // connection is closed
	ErrServerShuttingDown = errors.New("server is shutting down")    // the server is closing client connections
	ErrOptionsUnreadable  = errors.New("unable to read options from bytes")
	ErrConnectionRefused  = errors.New("connection refused") // a hook refused the CONNECT of a client
)

// Capabilities indicates the capabilities and limits of the server.
type Capabilities struct {
	MaximumClients             int64           `yaml:"maximum_clients" json:"maximum_clients"`                             // maximum number of connected clients
	MaximumPayload             int             `yaml:"maximum_payload" json:"maximum_payload"`                             // maximum declared length of a PUB payload
	MaximumControlLine         int             `yaml:"maximum_control_line" json:"maximum_control_line"`                   // maximum length of a command line
	MaximumClientWritesPending int32           `yaml:"maximum_client_writes_pending" json:"maximum_client_writes_pending"` // maximum number of pending message deliveries for a client
	Compatibilities            Compatibilities `yaml:"compatibilities" json:"compatibilities"`                             // compatibility modes the server provides
}

// NewDefaultServerCapabilities defines the default features and capabilities provided by the server.
func NewDefaultServerCapabilities() *Capabilities {
	return &Capabilities{
		MaximumClients:             math.MaxInt64,
		MaximumPayload:             defaultMaxPayload,
		MaximumControlLine:         defaultMaxControlLine,
		MaximumClientWritesPending: defaultClientWritesPending,
	}
}

// Compatibilities provides flags for using compatibility modes.
type Compatibilities struct {
	RestoreSysInfoOnRestart bool `yaml:"restore_sys_info_on_restart" json:"restore_sys_info_on_restart"` // restore system info from store as if server never stopped
}

// Options contains configurable options for the server.
type Options struct {
	// Listeners specifies any listeners which should be dynamically added on serve. Used when setting listeners by config.
	Listeners []listeners.Config `yaml:"listeners" json:"listeners"`

	// Hooks specifies any hooks which should be dynamically added on serve. Used when setting hooks by config.
	Hooks []HookLoadConfig `yaml:"hooks" json:"hooks"`

	// Capabilities defines the server features and behaviour. If you only wish to modify
	// several of these values, set them explicitly - e.g.
	// 	server.Options.Capabilities.MaximumClientWritesPending = 16 * 1024
	Capabilities *Capabilities `yaml:"capabilities" json:"capabilities"`

	// ClientNetReadBufferSize specifies the size of the client *bufio.Reader read buffer.
	ClientNetReadBufferSize int `yaml:"client_net_read_buffer_size" json:"client_net_read_buffer_size"`

	// Host is announced in the INFO banner when the accepting address cannot be determined.
	Host string `yaml:"host" json:"host"`

	// Logger specifies a custom configured implementation of log/slog to override
	// the servers default logger configuration. If you wish to change the log level,
	// of the default logger, you can do so by setting:
	// 	level := new(slog.LevelVar)
	// 	server := natsd.New(&natsd.Options{
	// 		Logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
	// 			Level: level,
	// 		})),
	// 	})
	// 	level.Set(slog.LevelDebug)
	Logger *slog.Logger `yaml:"-" json:"-"`

	// SysInfoInterval specifies the interval between server statistics refreshes in seconds.
	SysInfoInterval int64 `yaml:"sys_info_interval" json:"sys_info_interval"`
}

// Server is a publish/subscribe broker. It should be created with natsd.New()
// in order to ensure all the internal fields are correctly populated.
type Server struct {
	Options   *Options             // configurable server options
	Listeners *listeners.Listeners // listeners are network interfaces which listen for new connections
	Clients   *Clients             // clients connected to the broker
	Subjects  *SubjectsIndex       // an index of subject subscriptions
	Info      *system.Info         // values about the server
	loop      *loop                // loop contains tickers for the system event loop
	done      chan bool            // indicate that the server is ending
	Log       *slog.Logger         // structured logger
	hooks     *Hooks               // hooks contains hooks for extra functionality such as persistent storage
}

// loop contains interval tickers for the system events loop.
type loop struct {
	sysInfo *time.Ticker // interval ticker for refreshing the server statistics
}

// ops contains server values which can be propagated to other structs.
type ops struct {
	options *Options     // a pointer to the server options and capabilities, for referencing in clients
	info    *system.Info // pointers to server system info
	hooks   *Hooks       // pointer to the server hooks
	log     *slog.Logger // a structured logger for the client
}

// New returns a new instance of the broker. Optional parameters can be
// specified to override some default settings (see Options).
func New(opts *Options) *Server {
	if opts == nil {
		opts = new(Options)
	}

	opts.ensureDefaults()

	s := &Server{
		done:      make(chan bool),
		Clients:   NewClients(),
		Subjects:  NewSubjectsIndex(),
		Listeners: listeners.New(),
		loop: &loop{
			sysInfo: time.NewTicker(time.Second * time.Duration(opts.SysInfoInterval)),
		},
		Options: opts,
		Info: &system.Info{
			Version: Version,
			Started: time.Now().Unix(),
		},
		Log: opts.Logger,
		hooks: &Hooks{
			Log: opts.Logger,
		},
	}

	return s
}

// ensureDefaults ensures that the server starts with sane default values, if none are provided.
func (o *Options) ensureDefaults() {
	if o.Capabilities == nil {
		o.Capabilities = NewDefaultServerCapabilities()
	}

	if o.Capabilities.MaximumClients == 0 {
		o.Capabilities.MaximumClients = math.MaxInt64
	}

	if o.Capabilities.MaximumPayload == 0 {
		o.Capabilities.MaximumPayload = defaultMaxPayload
	}

	if o.Capabilities.MaximumControlLine == 0 {
		o.Capabilities.MaximumControlLine = defaultMaxControlLine
	}

	if o.Capabilities.MaximumClientWritesPending == 0 {
		o.Capabilities.MaximumClientWritesPending = defaultClientWritesPending
	}

	if o.SysInfoInterval == 0 {
		o.SysInfoInterval = defaultSysInfoInterval
	}

	if o.ClientNetReadBufferSize == 0 {
		o.ClientNetReadBufferSize = 1024 * 2
	}

	if o.Logger == nil {
		log := slog.New(slog.NewTextHandler(os.Stdout, nil))
		o.Logger = log
	}
}

// NewClient returns a new Client instance, populated with all the required values and
// references to be used with the server.
func (s *Server) NewClient(c net.Conn, listener string) *Client {
	cl := newClient(c, &ops{
		options: s.Options,
		info:    s.Info,
		hooks:   s.hooks,
		log:     s.Log,
	})

	cl.Net.Listener = listener
	return cl
}

// AddHook attaches a new Hook to the server. Ideally, this should be called
// before the server is started with s.Serve().
func (s *Server) AddHook(hook Hook, config any) error {
	nl := s.Log.With("hook", hook.ID())
	hook.SetOpts(nl, &HookOptions{
		Capabilities: s.Options.Capabilities,
	})

	s.Log.Info("added hook", "hook", hook.ID())
	return s.hooks.Add(hook, config)
}

// AddHooksFromConfig adds hooks to the server which were specified in the hooks config (usually from a config file).
func (s *Server) AddHooksFromConfig(hooks []HookLoadConfig) error {
	for _, h := range hooks {
		if err := s.AddHook(h.Hook, h.Config); err != nil {
			return err
		}
	}
	return nil
}

// AddListener adds a new network listener to the server, for receiving incoming client connections.
func (s *Server) AddListener(l listeners.Listener) error {
	if _, ok := s.Listeners.Get(l.ID()); ok {
		return ErrListenerIDExists
	}

	nl := s.Log.With(slog.String("listener", l.ID()))
	err := l.Init(nl)
	if err != nil {
		return err
	}

	s.Listeners.Add(l)

	s.Log.Info("attached listener", "id", l.ID(), "protocol", l.Protocol(), "address", l.Address())
	return nil
}

// AddListenersFromConfig adds listeners to the server which were specified in the listeners config (usually from a config file).
func (s *Server) AddListenersFromConfig(configs []listeners.Config) error {
	for _, conf := range configs {
		var l listeners.Listener
		switch strings.ToLower(conf.Type) {
		case listeners.TypeTCP:
			l = listeners.NewTCP(conf)
		case listeners.TypeWS:
			l = listeners.NewWebsocket(conf)
		case listeners.TypeUnix:
			l = listeners.NewUnixSock(conf)
		case listeners.TypeHealthCheck:
			l = listeners.NewHTTPHealthCheck(conf)
		case listeners.TypeSysInfo:
			l = listeners.NewHTTPStats(conf, s.Info)
		case listeners.TypeMock:
			l = listeners.NewMockListener(conf.ID, conf.Address)
		default:
			s.Log.Error("listener type unavailable by config", "listener", conf.Type)
			continue
		}
		if err := s.AddListener(l); err != nil {
			return err
		}
	}
	return nil
}

// Serve starts the event loops responsible for establishing client connections
// on all attached listeners, refreshing the server statistics, and starting all hooks.
func (s *Server) Serve() error {
	s.Log.Info("natsd starting", "version", Version)
	defer s.Log.Info("natsd server started")

	if len(s.Options.Listeners) > 0 {
		err := s.AddListenersFromConfig(s.Options.Listeners)
		if err != nil {
			return err
		}
	}

	if len(s.Options.Hooks) > 0 {
		err := s.AddHooksFromConfig(s.Options.Hooks)
		if err != nil {
			return err
		}
	}

	if s.hooks.Provides(StoredSysInfo) {
		err := s.readStore()
		if err != nil {
			return err
		}
	}

	go s.eventLoop()                            // spin up event loop for refreshing statistics and closing server.
	s.Listeners.ServeAll(s.EstablishConnection) // start listening on all listeners.
	s.refreshSysInfo()                          // take the first statistics snapshot.
	s.hooks.OnStarted()

	return nil
}

// eventLoop loops forever, running various server housekeeping methods at different intervals.
func (s *Server) eventLoop() {
	s.Log.Debug("system event loop started")
	defer s.Log.Debug("system event loop halted")

	for {
		select {
		case <-s.done:
			s.loop.sysInfo.Stop()
			return
		case <-s.loop.sysInfo.C:
			s.refreshSysInfo()
		}
	}
}

// EstablishConnection establishes a new client when a listener accepts a new connection.
func (s *Server) EstablishConnection(listener string, c net.Conn) error {
	cl := s.NewClient(c, listener)
	return s.attachClient(cl, listener)
}

// attachClient greets an incoming client connection and if viable, attaches the client
// to the server, reads incoming commands, and cleans up the session once the
// connection ends.
func (s *Server) attachClient(cl *Client, listener string) error {
	defer s.Listeners.ClientsWg.Done()
	s.Listeners.ClientsWg.Add(1)

	go cl.WriteLoop()
	defer cl.Stop(nil)

	connected, ok := s.reserveClient()
	if !ok {
		_ = cl.WriteError(commands.ErrServerBusy)
		return commands.ErrServerBusy
	}

	if err := s.sendInfo(cl, listener); err != nil {
		atomic.AddInt64(&s.Info.ClientsConnected, -1)
		return fmt.Errorf("send info: %w", err)
	}

	atomic.AddInt64(&s.Info.ClientsTotal, 1)
	for {
		peak := atomic.LoadInt64(&s.Info.ClientsMaximum)
		if connected <= peak || atomic.CompareAndSwapInt64(&s.Info.ClientsMaximum, peak, connected) {
			break
		}
	}

	s.Clients.Add(cl)
	s.hooks.OnSessionEstablished(cl)

	err := cl.Read(s.receiveCommand)
	if errors.Is(err, io.EOF) || cl.Closed() {
		err = nil // the client hung up, or the server closed the connection
	}

	if err != nil {
		cl.Stop(err)
	}
	s.Log.Debug("client disconnected", "error", err, "client", cl.ID, "remote", cl.Net.Remote, "listener", listener)

	s.hooks.OnDisconnect(cl, err)
	s.Subjects.UnsubscribeClient(cl.ID)
	s.updateSubjectStats()
	s.Clients.Delete(cl.ID)

	atomic.AddInt64(&s.Info.ClientsConnected, -1)
	atomic.AddInt64(&s.Info.ClientsDisconnected, 1)

	return err
}

// reserveClient claims a connected client slot if the server is below
// MaximumClients, returning the number of clients including the new one.
func (s *Server) reserveClient() (int64, bool) {
	for {
		n := atomic.LoadInt64(&s.Info.ClientsConnected)
		if n >= s.Options.Capabilities.MaximumClients {
			return n, false
		}

		if atomic.CompareAndSwapInt64(&s.Info.ClientsConnected, n, n+1) {
			return n + 1, true
		}
	}
}

// sendInfo writes the INFO banner to a newly accepted client.
func (s *Server) sendInfo(cl *Client, listener string) error {
	info := commands.Info{
		Host:     s.Options.Host,
		ClientIP: cl.Net.Remote,
	}

	host, port, err := net.SplitHostPort(cl.Net.Local)
	if err != nil {
		if l, ok := s.Listeners.Get(listener); ok {
			host, port, err = net.SplitHostPort(l.Address())
		}
	}

	if err == nil {
		if host != "" {
			info.Host = host
		}
		info.Port, _ = strconv.Atoi(port)
	}

	b, err := info.Encode()
	if err != nil {
		return err
	}

	return cl.Write(b)
}

// receiveCommand processes an incoming command for a client. Protocol errors are
// reported to the client and do not end the session.
func (s *Server) receiveCommand(cl *Client, cmd commands.Command) error {
	err := s.processCommand(cl, cmd)
	if err != nil {
		var code commands.Code
		if errors.As(err, &code) {
			s.Log.Warn("error processing command", "error", err, "client", cl.ID, "listener", cl.Net.Listener, "command", cmd.String())
			s.hooks.OnProtocolError(cl, code)
			return cl.WriteError(code)
		}

		return err
	}

	return nil
}

// processCommand processes a command from a client. Other than the INFO
// banner, this is the only place where responses to the client are issued.
func (s *Server) processCommand(cl *Client, cmd commands.Command) error {
	var err error
	cmd, err = s.hooks.OnCommandRead(cl, cmd)
	if err != nil {
		if errors.Is(err, ErrRejectCommand) {
			return nil
		}
		return err
	}

	switch cmd.Type {
	case commands.Connect:
		err = s.processConnect(cl, cmd)
	case commands.Ping:
		err = s.processPing(cl, cmd)
	case commands.Pong:
		err = nil
	case commands.Sub:
		err = s.processSub(cl, cmd)
	case commands.Unsub:
		err = s.processUnsub(cl, cmd)
	case commands.Pub:
		err = s.processPub(cl, cmd)
	default:
		err = fmt.Errorf("no valid command available; %v", cmd.Type)
	}

	s.hooks.OnCommandProcessed(cl, cmd, err)
	return err
}

// processConnect records the client options and acknowledges the connection.
// A hook refusing the connection ends the session.
func (s *Server) processConnect(cl *Client, cmd commands.Command) error {
	if err := s.hooks.OnConnect(cl, cmd); err != nil {
		_ = cl.WriteError(err)
		return fmt.Errorf("%w: %s", ErrConnectionRefused, err.Error())
	}

	cl.Lock()
	cl.Properties.Options = cmd.Options
	cl.Properties.Connected = true
	cl.Unlock()

	return cl.Write([]byte(cmd.Ack))
}

// processPing answers a ping.
func (s *Server) processPing(cl *Client, cmd commands.Command) error {
	return cl.Write([]byte(cmd.Ack))
}

// processSub adds a subscription for the client to a subject.
func (s *Server) processSub(cl *Client, cmd commands.Command) error {
	isNew := s.Subjects.Subscribe(cmd.Subject, Subscriber{
		SID:  cmd.SID,
		Sink: cl,
	})
	s.updateSubjectStats()
	s.hooks.OnSubscribed(cl, cmd, isNew)

	return cl.Write([]byte(commands.AckOK))
}

// processUnsub removes a subscription id from every subject.
func (s *Server) processUnsub(cl *Client, cmd commands.Command) error {
	if _, err := s.Subjects.Unsubscribe(cmd.SID); err != nil {
		return err
	}
	s.updateSubjectStats()
	s.hooks.OnUnsubscribed(cl, cmd)

	return cl.Write([]byte(commands.AckOK))
}

// processPub acknowledges a publish and then fans the payload out to the
// subscribers of the subject.
func (s *Server) processPub(cl *Client, cmd commands.Command) error {
	atomic.AddInt64(&s.Info.MessagesReceived, 1)
	if err := cl.Write([]byte(commands.AckOK)); err != nil {
		return err
	}

	cmdx, err := s.hooks.OnPublish(cl, cmd)
	if err != nil {
		if errors.Is(err, ErrRejectCommand) {
			return nil
		}
		return err
	}

	n := s.Subjects.Publish(cmdx.Subject, cmdx.Payload)
	s.hooks.OnPublished(cl, cmdx, n)

	return nil
}

// Publish delivers a payload to the subscribers of a subject directly from the
// embedding program, returning the number of subscribers it was queued for.
func (s *Server) Publish(subject string, payload []byte) (int, error) {
	if subject == "" {
		return 0, commands.ErrUnknownProtocolOperation
	}

	atomic.AddInt64(&s.Info.MessagesReceived, 1)
	return s.Subjects.Publish(subject, payload), nil
}

// updateSubjectStats stores the subscription counts in the server statistics.
func (s *Server) updateSubjectStats() {
	atomic.StoreInt64(&s.Info.Subscriptions, int64(s.Subjects.Len()))
	atomic.StoreInt64(&s.Info.Subjects, int64(s.Subjects.SubjectsLen()))
}

// refreshSysInfo updates the time and runtime values of the server statistics
// and passes a snapshot to the hooks.
func (s *Server) refreshSysInfo() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	atomic.StoreInt64(&s.Info.MemoryAlloc, int64(m.HeapInuse))
	atomic.StoreInt64(&s.Info.Threads, int64(runtime.NumGoroutine()))
	atomic.StoreInt64(&s.Info.Time, time.Now().Unix())
	atomic.StoreInt64(&s.Info.Uptime, time.Now().Unix()-atomic.LoadInt64(&s.Info.Started))
	s.updateSubjectStats()

	s.hooks.OnSysInfoTick(s.Info.Clone())
}

// Close attempts to gracefully shut down the server, all listeners, clients, and stores.
func (s *Server) Close() error {
	close(s.done)
	s.Log.Info("gracefully stopping server")
	s.Listeners.CloseAll(s.closeListenerClients)
	s.hooks.OnStopped()
	s.hooks.Stop()

	s.Log.Info("natsd server stopped")
	return nil
}

// closeListenerClients closes all clients on the specified listener.
func (s *Server) closeListenerClients(listener string) {
	clients := s.Clients.GetByListener(listener)
	for _, cl := range clients {
		cl.Stop(ErrServerShuttingDown)
	}
}

// readStore reads in any data from the persistent datastore (if applicable).
func (s *Server) readStore() error {
	if s.hooks.Provides(StoredSysInfo) {
		sysInfo, err := s.hooks.StoredSysInfo()
		if err != nil {
			return fmt.Errorf("load server info; %w", err)
		}
		s.loadServerInfo(sysInfo.Info)
		s.Log.Debug("loaded server info from store")
	}

	return nil
}

// loadServerInfo restores the cumulative server statistics from the datastore.
func (s *Server) loadServerInfo(v system.Info) {
	if !s.Options.Capabilities.Compatibilities.RestoreSysInfoOnRestart {
		return
	}

	atomic.StoreInt64(&s.Info.BytesReceived, v.BytesReceived)
	atomic.StoreInt64(&s.Info.BytesSent, v.BytesSent)
	atomic.StoreInt64(&s.Info.ClientsMaximum, v.ClientsMaximum)
	atomic.StoreInt64(&s.Info.ClientsTotal, v.ClientsTotal)
	atomic.StoreInt64(&s.Info.ClientsDisconnected, v.ClientsDisconnected)
	atomic.StoreInt64(&s.Info.CommandsReceived, v.CommandsReceived)
	atomic.StoreInt64(&s.Info.ProtocolErrors, v.ProtocolErrors)
	atomic.StoreInt64(&s.Info.MessagesReceived, v.MessagesReceived)
	atomic.StoreInt64(&s.Info.MessagesSent, v.MessagesSent)
	atomic.StoreInt64(&s.Info.MessagesDropped, v.MessagesDropped)
}
