// internal/driver/manager.go
package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"pulsepal-service/internal/protocol"
	"pulsepal-service/internal/pulsepal"
	"pulsepal-service/internal/utils"
)

var (
	// ErrAmbiguousIdentifier is returned when checkout cannot tell which
	// session an empty identifier refers to.
	ErrAmbiguousIdentifier = errors.New("ambiguous device identifier")

	// ErrManagerClosed is returned by Checkout after Close.
	ErrManagerClosed = errors.New("connection manager closed")
)

// DefaultClientID is sent to every device after the handshake.
const DefaultClientID = "GoPuls"

// Options configures a Manager.
type Options struct {
	// ClientID is shown on the device display. Defaults to DefaultClientID.
	ClientID string
	// ConnectTimeout bounds transport open, handshake and configuration of a
	// new session. Zero leaves only the caller's context.
	ConnectTimeout time.Duration
	// Events receives session lifecycle notifications. May be nil.
	Events EventHandler
}

// Manager shares one device session per identifier between any number of
// callers. Sessions are opened on first checkout and closed when the last
// connection is released.
type Manager struct {
	opener         protocol.Opener
	logger         *zap.Logger
	clientID       string
	connectTimeout time.Duration
	events         EventHandler

	mu       sync.Mutex
	sessions map[string]*entry
	closing  map[string]chan struct{} // identifiers whose teardown is in progress
	closed   bool
}

type entry struct {
	name      string
	portName  string
	logger    *utils.DeviceLogger
	session   *utils.DeviceLogger // set before ready is closed
	ready     chan struct{}       // closed once connect finishes
	err       error         // connect failure; read after ready
	device    *pulsepal.Device
	transport io.ReadWriteCloser
	refs      int
	openedAt  time.Time
}

// log returns the session-scoped logger once connect has finished and the
// identifier logger before that.
func (e *entry) log() *utils.DeviceLogger {
	if isDone(e.ready) && e.session != nil {
		return e.session
	}
	return e.logger
}

// NewManager creates a manager that opens transports with opener.
func NewManager(opener protocol.Opener, logger *zap.Logger, opts Options) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ClientID == "" {
		opts.ClientID = DefaultClientID
	}
	return &Manager{
		opener:         opener,
		logger:         logger.With(zap.String("component", "connection_manager")),
		clientID:       opts.ClientID,
		connectTimeout: opts.ConnectTimeout,
		events:         opts.Events,
		sessions:       make(map[string]*entry),
		closing:        make(map[string]chan struct{}),
	}
}

// Checkout returns a connection to the device identified by name, opening and
// configuring a new session if none exists. cfg is applied only when a new
// session is opened.
//
// An empty name resolves to cfg.PortName when set, otherwise to the only open
// session; with zero or several sessions it fails with ErrAmbiguousIdentifier.
// The device is reached at cfg.PortName when set, otherwise at name.
func (m *Manager) Checkout(ctx context.Context, name string, cfg *pulsepal.Configuration) (*Connection, error) {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, ErrManagerClosed
		}

		key, e, err := m.resolveLocked(name, cfg)
		if err != nil {
			m.mu.Unlock()
			return nil, err
		}

		if e == nil {
			if done, ok := m.closing[key]; ok {
				m.mu.Unlock()
				select {
				case <-done:
					continue
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}

			e = m.newEntryLocked(key, cfg)
			m.mu.Unlock()
			return m.connect(ctx, e, cfg)
		}

		if isDone(e.ready) && e.device != nil && e.device.Err() != nil {
			done := m.evictLocked(e)
			m.mu.Unlock()
			e.log().Warn("Evicting failed session", zap.Error(e.device.Err()))
			m.teardown(e, done)
			continue
		}

		e.refs++
		refs := e.refs
		m.mu.Unlock()
		e.log().LogReference("acquire", refs)

		select {
		case <-e.ready:
		case <-ctx.Done():
			m.release(e)
			return nil, ctx.Err()
		}
		if e.err != nil {
			return nil, e.err
		}
		return newConnection(m, e), nil
	}
}

// resolveLocked picks the registry key for a checkout and returns the existing
// entry, if any. The caller holds mu.
func (m *Manager) resolveLocked(name string, cfg *pulsepal.Configuration) (string, *entry, error) {
	if name == "" {
		switch {
		case cfg != nil && cfg.PortName != "":
			name = cfg.PortName
		case len(m.sessions) == 1:
			for key, e := range m.sessions {
				return key, e, nil
			}
		default:
			return "", nil, fmt.Errorf("%w: an alias or port name must be specified (%d sessions open)",
				ErrAmbiguousIdentifier, len(m.sessions))
		}
	}
	return name, m.sessions[name], nil
}

func (m *Manager) newEntryLocked(name string, cfg *pulsepal.Configuration) *entry {
	portName := name
	if cfg != nil && cfg.PortName != "" {
		portName = cfg.PortName
	}
	e := &entry{
		name:     name,
		portName: portName,
		logger:   utils.NewDeviceLogger(m.logger, name, portName),
		ready:    make(chan struct{}),
		refs:     1,
	}
	m.sessions[name] = e
	return e
}

// connect opens and initializes the session for a freshly registered entry.
// Concurrent checkouts of the same identifier wait on e.ready.
func (m *Manager) connect(ctx context.Context, e *entry, cfg *pulsepal.Configuration) (*Connection, error) {
	if m.connectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.connectTimeout)
		defer cancel()
	}

	e.logger.Info("Opening device session")
	device, transport, err := m.open(ctx, e, cfg)

	m.mu.Lock()
	if err != nil {
		if m.sessions[e.name] == e {
			delete(m.sessions, e.name)
		}
		e.err = fmt.Errorf("connect %s: %w", e.name, err)
		close(e.ready)
		m.mu.Unlock()

		e.logger.LogConnection("connect", false, err)
		if m.events != nil {
			m.events.OnSessionFailed(e.name, e.portName, e.err)
		}
		return nil, e.err
	}
	e.device = device
	e.transport = transport
	e.openedAt = time.Now()
	e.session = e.logger.WithSession(device.ID().String())
	close(e.ready)
	m.mu.Unlock()

	e.session.LogConnection("connect", true, nil)
	go m.watch(e)
	if m.events != nil {
		m.events.OnSessionOpened(e.name, device.Info())
	}
	return newConnection(m, e), nil
}

// open runs the connect sequence: transport, handshake, client ID and the
// configuration items in order. On failure everything opened is closed.
func (m *Manager) open(ctx context.Context, e *entry, cfg *pulsepal.Configuration) (*pulsepal.Device, io.ReadWriteCloser, error) {
	transport, err := m.opener.Open(ctx, e.portName)
	if err != nil {
		return nil, nil, err
	}

	device := pulsepal.NewDevice(e.portName, transport, e.logger.Logger)
	if err := device.Open(ctx); err != nil {
		device.Close()
		return nil, nil, err
	}
	if err := device.SetClientID(m.clientID); err != nil {
		device.Close()
		return nil, nil, err
	}
	if err := cfg.Apply(device); err != nil {
		device.Close()
		return nil, nil, err
	}
	return device, transport, nil
}

// watch reports sessions that fail while checked out.
func (m *Manager) watch(e *entry) {
	<-e.device.Done()
	err := e.device.Err()
	if err == nil {
		return
	}
	e.log().LogConnection("session lost", false, err)
	if m.events != nil {
		m.events.OnSessionFailed(e.name, e.portName, err)
	}
}

// release drops one reference and tears the session down at zero.
func (m *Manager) release(e *entry) error {
	m.mu.Lock()
	e.refs--
	refs := e.refs
	if refs > 0 || m.sessions[e.name] != e {
		m.mu.Unlock()
		e.log().LogReference("release", refs)
		return nil
	}
	done := m.evictLocked(e)
	m.mu.Unlock()

	return m.teardown(e, done)
}

// evictLocked removes e from the registry and marks its identifier as closing.
// The caller holds mu and must call teardown.
func (m *Manager) evictLocked(e *entry) chan struct{} {
	delete(m.sessions, e.name)
	done := make(chan struct{})
	m.closing[e.name] = done
	return done
}

func (m *Manager) teardown(e *entry, done chan struct{}) error {
	err := e.device.Close()

	m.mu.Lock()
	if m.closing[e.name] == done {
		delete(m.closing, e.name)
	}
	m.mu.Unlock()
	close(done)

	e.log().LogConnection("disconnect", err == nil, err)
	if m.events != nil {
		m.events.OnSessionClosed(e.name, e.device.Info())
	}
	return err
}

// SessionInfo describes one registered session.
type SessionInfo struct {
	Name      string                   `json:"name"`
	PortName  string                   `json:"port_name"`
	RefCount  int                      `json:"ref_count"`
	Ready     bool                     `json:"ready"`
	OpenedAt  time.Time                `json:"opened_at,omitempty"`
	Device    *pulsepal.Info           `json:"device,omitempty"`
	Transport *protocol.TransportStats `json:"transport,omitempty"`
}

// Sessions returns a snapshot of the registry sorted by name.
func (m *Manager) Sessions() []SessionInfo {
	m.mu.Lock()
	infos := make([]SessionInfo, 0, len(m.sessions))
	for _, e := range m.sessions {
		info := SessionInfo{
			Name:     e.name,
			PortName: e.portName,
			RefCount: e.refs,
		}
		if isDone(e.ready) && e.device != nil {
			info.Ready = true
			info.OpenedAt = e.openedAt
			device := e.device.Info()
			info.Device = &device
			if reporter, ok := e.transport.(protocol.StatsReporter); ok {
				stats := reporter.Stats()
				info.Transport = &stats
			}
		}
		infos = append(infos, info)
	}
	m.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Close tears down every session regardless of outstanding connections and
// rejects later checkouts. Connections still held return ErrClosed from their
// commands.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	entries := make([]*entry, 0, len(m.sessions))
	dones := make([]chan struct{}, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
		dones = append(dones, m.evictLocked(e))
	}
	pending := make([]chan struct{}, 0, len(m.closing))
	for _, done := range m.closing {
		pending = append(pending, done)
	}
	m.mu.Unlock()

	var errs []error
	for i, e := range entries {
		<-e.ready
		if e.device == nil {
			m.mu.Lock()
			delete(m.closing, e.name)
			m.mu.Unlock()
			close(dones[i])
			continue
		}
		if err := m.teardown(e, dones[i]); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
		}
	}
	for _, done := range pending {
		<-done
	}

	m.logger.Info("Connection manager closed", zap.Int("sessions", len(entries)))
	return errors.Join(errs...)
}

func isDone(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
