package ble

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/chaz8081/blegateway/internal/ble/protocol"
	"github.com/chaz8081/blegateway/internal/metrics"
	"github.com/chaz8081/blegateway/internal/reading"
)

// State is the lifecycle position of a peripheral session.
type State int

const (
	StateIdle State = iota
	StateScanning
	StateFound
	StateConnecting
	StateConnected
	StateDiscovering
	StateReady
	StateDisconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateFound:
		return "found"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDiscovering:
		return "discovering"
	case StateReady:
		return "ready"
	case StateDisconnecting:
		return "disconnecting"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session is one gateway-to-peripheral connection.
type Session struct {
	NodeID NodeID
	Target reading.MAC

	state         State
	subscriptions map[int]struct{}
}

func newSession(target reading.MAC) *Session {
	return &Session{
		NodeID:        NoNode,
		Target:        target,
		subscriptions: make(map[int]struct{}),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.state
}

// Subscriptions returns the subscribed characteristic indices in ascending order.
func (s *Session) Subscriptions() []int {
	out := make([]int, 0, len(s.subscriptions))
	for idx := range s.subscriptions {
		out = append(out, idx)
	}
	slices.Sort(out)
	return out
}

// Options configures a Manager.
type Options struct {
	Target          reading.MAC
	Security        SecurityLevel
	ScanLimit       int           // highest node identifier probed after a scan
	ScanTimeout     time.Duration // radio scan duration before probing
	SettleDelay     time.Duration // pause after connect before discovery
	PollTimeout     time.Duration // max wait per PollNotifications call
	IdleSleep       time.Duration // pause between loop iterations
	StrictSubscribe bool          // abort Open when the button subscription fails
	ButtonIndex     int
	AlertIndex      int
	// Validators are run against a payload before it is written to the
	// characteristic with the same index.
	Validators map[int]func(payload []byte) error
	// OnReady, if set, is called at the end of a successful Open.
	OnReady func(node NodeID)
}

// DefaultOptions returns the settings used for an iTag key finder.
func DefaultOptions(target reading.MAC) Options {
	return Options{
		Target:      target,
		Security:    2,
		ScanLimit:   10000,
		ScanTimeout: 5 * time.Second,
		SettleDelay: time.Second,
		PollTimeout: 100 * time.Millisecond,
		IdleSleep:   10 * time.Millisecond,
		ButtonIndex: 4,
		AlertIndex:  3,
		Validators: map[int]func([]byte) error{
			3: protocol.ValidateAlertLevel,
		},
	}
}

// Manager drives one Session through scan, connect, discovery and
// notification handling. It is not safe for concurrent use; the loop
// goroutine owns it.
type Manager struct {
	radio   Capability
	opts    Options
	session *Session
	metrics *metrics.Metrics
	log     *slog.Logger

	teardownOnce sync.Once
}

// NewManager creates a Manager for opts.Target. m may be nil.
func NewManager(radio Capability, opts Options, m *metrics.Metrics) *Manager {
	if opts.ScanLimit <= 0 {
		opts.ScanLimit = 10000
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 100 * time.Millisecond
	}
	return &Manager{
		radio:   radio,
		opts:    opts,
		session: newSession(opts.Target),
		metrics: m,
		log:     slog.Default().With("session", ulid.Make().String(), "target", opts.Target.String()),
	}
}

// Session returns the session driven by m.
func (m *Manager) Session() *Session {
	return m.session
}

func (m *Manager) setState(s State) {
	m.log.Debug("[BLE] state", "from", m.session.state, "to", s)
	m.session.state = s
	m.metrics.SetSessionState(int(s))
}

// ScanFor runs a radio scan and probes node identifiers 1..ScanLimit for one
// whose address equals target. The first match wins.
func (m *Manager) ScanFor(ctx context.Context, target reading.MAC) (NodeID, error) {
	m.setState(StateScanning)
	m.log.Info("[BLE] scanning for peripheral")

	scanCtx, cancel := context.WithTimeout(ctx, m.opts.ScanTimeout)
	err := m.radio.Scan(scanCtx)
	cancel()
	if ctx.Err() != nil {
		return NoNode, fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
	}
	if err != nil {
		// Nodes from earlier scans may still resolve, so keep probing.
		m.log.Warn("[BLE] scan reported an error", "error", err)
	}

	for n := 1; n <= m.opts.ScanLimit; n++ {
		node := NodeID(n)
		addr, err := m.radio.ResolveAddress(node)
		if err != nil {
			continue
		}
		if addr == target {
			m.setState(StateFound)
			m.log.Info("[BLE] found peripheral", "node", node)
			return node, nil
		}
	}
	return NoNode, fmt.Errorf("%w: %s after probing %d nodes", ErrNotFound, target, m.opts.ScanLimit)
}

// Connect opens the link to node and waits SettleDelay before returning.
func (m *Manager) Connect(ctx context.Context, node NodeID) error {
	m.setState(StateConnecting)
	if err := m.radio.Connect(node, ChannelLE, m.opts.Security); err != nil {
		return fmt.Errorf("%w: node %d: %w", ErrConnectFailed, node, err)
	}
	m.session.NodeID = node
	m.setState(StateConnected)
	m.log.Info("[BLE] connected, waiting for link to settle", "node", node, "delay", m.opts.SettleDelay)

	if m.opts.SettleDelay > 0 {
		timer := time.NewTimer(m.opts.SettleDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
		case <-timer.C:
		}
	}
	return nil
}

// Discover enumerates the characteristics of node.
func (m *Manager) Discover(node NodeID) error {
	m.setState(StateDiscovering)
	if err := m.radio.DiscoverCharacteristics(node); err != nil {
		return fmt.Errorf("%w: node %d: %w", ErrDiscoverFailed, node, err)
	}
	m.setState(StateReady)
	return nil
}

// Subscribe enables notifications on the characteristic at index and routes
// them to handler.
func (m *Manager) Subscribe(index int, handler NotificationHandler) error {
	node := m.session.NodeID
	if node == NoNode {
		return fmt.Errorf("%w: subscribe to characteristic %d", ErrNotReady, index)
	}
	cb := func(node NodeID, idx int, payload []byte) {
		m.metrics.Notification(idx)
		if handler != nil {
			handler(node, idx, payload)
		}
	}
	if err := m.radio.Subscribe(node, index, true, cb); err != nil {
		return fmt.Errorf("%w: characteristic %d: %w", ErrSubscribeFailed, index, err)
	}
	m.session.subscriptions[index] = struct{}{}
	m.log.Info("[BLE] notifications enabled", "characteristic", index)
	return nil
}

// Write validates payload and writes it to the characteristic at index.
// Payloads rejected by a validator never reach the radio.
func (m *Manager) Write(index int, payload []byte) error {
	if m.session.state != StateReady {
		m.metrics.Write("rejected")
		return fmt.Errorf("%w: write to characteristic %d in state %s", ErrNotReady, index, m.session.state)
	}
	if validate := m.opts.Validators[index]; validate != nil {
		if err := validate(payload); err != nil {
			m.metrics.Write("rejected")
			return fmt.Errorf("ble: write to characteristic %d: %w", index, err)
		}
	}
	if err := m.radio.Write(m.session.NodeID, index, payload); err != nil {
		m.metrics.Write("failed")
		return fmt.Errorf("%w: characteristic %d: %w", ErrWriteFailed, index, err)
	}
	m.metrics.Write("ok")
	return nil
}

// SetAlertLevel writes an Immediate Alert level to the alert characteristic.
func (m *Manager) SetAlertLevel(level protocol.AlertLevel) error {
	payload, err := protocol.MarshalAlertLevel(level)
	if err != nil {
		m.metrics.Write("rejected")
		return err
	}
	return m.Write(m.opts.AlertIndex, payload)
}

// Open brings the session from idle to ready: init, scan, connect, discover
// and subscribe to button notifications. A failed subscription only aborts
// when StrictSubscribe is set. The caller must call Teardown afterwards,
// whatever Open returns.
func (m *Manager) Open(ctx context.Context, onButton NotificationHandler) error {
	if err := m.radio.Init(); err != nil {
		return fmt.Errorf("%w: %w", ErrInitFailed, err)
	}
	node, err := m.ScanFor(ctx, m.opts.Target)
	if err != nil {
		return err
	}
	if err := m.Connect(ctx, node); err != nil {
		return err
	}
	if err := m.Discover(node); err != nil {
		return err
	}
	if err := m.Subscribe(m.opts.ButtonIndex, onButton); err != nil {
		if m.opts.StrictSubscribe {
			return err
		}
		m.log.Warn("[BLE] continuing without button notifications", "error", err)
	}
	m.log.Info("[BLE] session ready", "node", node)
	if m.opts.OnReady != nil {
		m.opts.OnReady(node)
	}
	return nil
}

// Run is the cooperative session loop. Each iteration polls notifications
// for up to PollTimeout, hands at most one pending input line to onInput
// without blocking, then sleeps IdleSleep. It returns nil when input is
// closed, ErrInterrupted when ctx is done and ErrLinkLost when the radio
// reports the peripheral gone. A nil input channel disables command input.
func (m *Manager) Run(ctx context.Context, input <-chan string, onInput func(string)) error {
	if m.session.state != StateReady {
		return fmt.Errorf("%w: run in state %s", ErrNotReady, m.session.state)
	}
	monitor, _ := m.radio.(LinkMonitor)
	node := m.session.NodeID

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrInterrupted, err)
		}

		m.radio.PollNotifications(m.opts.PollTimeout)

		if monitor != nil && monitor.LinkLost(node) {
			return fmt.Errorf("%w: node %d", ErrLinkLost, node)
		}

		select {
		case line, ok := <-input:
			if !ok {
				m.log.Info("[BLE] input closed, leaving session loop")
				return nil
			}
			if onInput != nil {
				onInput(line)
			}
		default:
		}

		if m.opts.IdleSleep > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(m.opts.IdleSleep):
			}
		}
	}
}

// Serve runs Open then Run and always tears the session down before
// returning.
func (m *Manager) Serve(ctx context.Context, onButton NotificationHandler, input <-chan string, onInput func(string)) error {
	defer m.Teardown()
	if err := m.Open(ctx, onButton); err != nil {
		return err
	}
	return m.Run(ctx, input, onInput)
}

// Teardown disables every subscription, disconnects and shuts the radio
// down. Failures are logged and skipped so every step is attempted. Only
// the first call has any effect.
func (m *Manager) Teardown() {
	m.teardownOnce.Do(func() {
		s := m.session
		if s.NodeID != NoNode {
			m.setState(StateDisconnecting)
			for _, idx := range s.Subscriptions() {
				if err := m.radio.Subscribe(s.NodeID, idx, false, nil); err != nil {
					m.log.Warn("[BLE] failed to disable notifications", "characteristic", idx, "error", err)
				}
				delete(s.subscriptions, idx)
			}
			if err := m.radio.Disconnect(s.NodeID); err != nil {
				m.log.Warn("[BLE] failed to disconnect", "node", s.NodeID, "error", err)
			}
			s.NodeID = NoNode
		}
		if err := m.radio.Shutdown(); err != nil {
			m.log.Warn("[BLE] radio shutdown failed", "error", err)
		}
		m.setState(StateClosed)
		m.log.Info("[BLE] session closed")
	})
}
