// Package socket owns a websocket leg to the backend: dialing, the read loop,
// envelope normalization, and reconnection with exponential backoff. The
// conversation socket and the call relay socket are both Managers with
// different backoff curves.
package socket

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kevinevans1/art-voice-agent-accelerator-sub001/internal/wire"
)

// Backoff describes a reconnect delay curve: Base doubling per attempt up to
// Max. AttemptCap > 0 plateaus the doubling after that many attempts; the
// retry count itself is never capped.
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	AttemptCap int
}

// Delay returns the reconnect delay for a 1-based attempt number.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if b.AttemptCap > 0 && attempt > b.AttemptCap {
		attempt = b.AttemptCap
	}
	shift := attempt - 1
	if shift > 20 {
		return b.Max
	}
	d := b.Base << uint(shift)
	if d <= 0 || d > b.Max {
		d = b.Max
	}
	return d
}

// Events allows the host to react to socket activity. All callbacks fire on
// the manager's read-loop or timer goroutines; handlers must not block.
type Events struct {
	// OnMessage receives every normalized structured message, strictly in
	// arrival order.
	OnMessage func(m wire.Message)
	// OnBinary receives raw binary frames (legacy audio path).
	OnBinary func(data []byte)
	// OnOpen fires after a successful dial.
	OnOpen func()
	// OnClosed fires when the socket drops; intentional is true when Stop
	// initiated the close.
	OnClosed func(intentional bool)
	// OnReconnectScheduled fires when a reconnect timer is armed.
	OnReconnectScheduled func(attempt int, delay time.Duration)
}

// Manager drives one websocket connection through its lifecycle:
// closed -> connecting -> open -> closed, reconnecting with backoff on
// unexpected closes until told to stop.
type Manager struct {
	name    string
	url     string
	backoff Backoff
	ev      Events
	dialer  websocket.Dialer

	mu                 sync.Mutex
	conn               *websocket.Conn
	connected          bool
	shouldReconnect    bool
	intentionalStop    bool
	attempts           int
	reconnectTimer     *time.Timer
	reconnectScheduled bool
	lastMessageAt      time.Time
	lastDropLogAt      time.Time

	writeMu sync.Mutex
}

// NewManager builds a manager for the given socket URL. name labels log lines
// ("conversation", "relay").
func NewManager(name, url string, backoff Backoff, ev Events) *Manager {
	return &Manager{
		name:    name,
		url:     url,
		backoff: backoff,
		ev:      ev,
		dialer:  websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Connect dials the socket. On success the attempt counter resets and the
// read loop starts; on failure the caller (or the reconnect timer) decides
// what happens next.
func (m *Manager) Connect() error {
	m.mu.Lock()
	if m.connected {
		m.mu.Unlock()
		return nil
	}
	m.intentionalStop = false
	m.shouldReconnect = true
	url := m.url
	m.mu.Unlock()

	conn, _, err := m.dialer.Dial(url, nil)
	if err != nil {
		log.Printf("%s socket: dial failed: %v", m.name, err)
		return err
	}

	m.mu.Lock()
	m.conn = conn
	m.connected = true
	m.attempts = 0
	m.lastMessageAt = time.Now()
	m.mu.Unlock()

	log.Printf("%s socket: connected", m.name)
	if m.ev.OnOpen != nil {
		m.ev.OnOpen()
	}
	go m.readLoop(conn)
	return nil
}

// readLoop consumes frames until the connection drops. Messages dispatch
// inline so downstream consumers see strict arrival order.
func (m *Manager) readLoop(conn *websocket.Conn) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			m.handleClose(conn, err)
			return
		}
		m.mu.Lock()
		m.lastMessageAt = time.Now()
		m.mu.Unlock()

		switch mt {
		case websocket.BinaryMessage:
			if m.ev.OnBinary != nil {
				m.ev.OnBinary(data)
			}
		case websocket.TextMessage:
			msg, err := wire.Normalize(data)
			if err != nil {
				log.Printf("%s socket: dropping frame: %v", m.name, err)
				continue
			}
			if m.ev.OnMessage != nil {
				m.ev.OnMessage(msg)
			}
		}
	}
}

// handleClose tears down a dropped connection and, for unexpected closes,
// schedules a backoff reconnect. Exits from superseded read loops are ignored.
func (m *Manager) handleClose(conn *websocket.Conn, err error) {
	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.connected = false
	intentional := m.intentionalStop
	m.mu.Unlock()

	_ = conn.Close()
	if intentional {
		log.Printf("%s socket: closed", m.name)
	} else {
		log.Printf("%s socket: connection lost: %v", m.name, err)
	}
	if m.ev.OnClosed != nil {
		m.ev.OnClosed(intentional)
	}
	if !intentional {
		m.scheduleReconnect()
	}
}

// scheduleReconnect arms the single reconnect timer slot. Close-triggered and
// forced reconnects share this slot, so they can never double-schedule.
func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if m.reconnectScheduled || m.intentionalStop || !m.shouldReconnect {
		m.mu.Unlock()
		return
	}
	m.attempts++
	attempt := m.attempts
	delay := m.backoff.Delay(attempt)
	m.reconnectScheduled = true
	m.reconnectTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		m.reconnectScheduled = false
		stopped := m.intentionalStop || !m.shouldReconnect
		m.mu.Unlock()
		if stopped {
			return
		}
		if err := m.Connect(); err != nil {
			m.scheduleReconnect()
		}
	})
	m.mu.Unlock()

	log.Printf("%s socket: reconnect attempt %d in %s", m.name, attempt, delay)
	if m.ev.OnReconnectScheduled != nil {
		m.ev.OnReconnectScheduled(attempt, delay)
	}
}

// ForceReconnect tears down the current connection (if any) and goes through
// the shared reconnect slot. Used by the relay liveness monitor when the
// socket has gone stale without closing.
func (m *Manager) ForceReconnect(reason string) {
	log.Printf("%s socket: forcing reconnect: %s", m.name, reason)
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn != nil {
		// The read loop observes the close error and schedules the
		// reconnect through handleClose.
		_ = conn.Close()
		return
	}
	m.scheduleReconnect()
}

// Send writes a text frame. A closed socket makes this a logged no-op: stale
// text has no value once delayed, so nothing is queued.
func (m *Manager) Send(text string) error {
	m.mu.Lock()
	conn := m.conn
	open := m.connected
	m.mu.Unlock()
	if !open || conn == nil {
		log.Printf("%s socket: send skipped, socket not open", m.name)
		return nil
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, []byte(text))
}

// dropLogInterval throttles the closed-socket drop log; capture produces
// dozens of blocks per second.
const dropLogInterval = 5 * time.Second

// SendBinary writes a binary frame (encoded capture audio). A closed socket
// drops the frame with a throttled log line.
func (m *Manager) SendBinary(data []byte) error {
	m.mu.Lock()
	conn := m.conn
	open := m.connected
	logDrop := false
	if (!open || conn == nil) && time.Since(m.lastDropLogAt) >= dropLogInterval {
		m.lastDropLogAt = time.Now()
		logDrop = true
	}
	m.mu.Unlock()
	if !open || conn == nil {
		if logDrop {
			log.Printf("%s socket: dropping binary frames, socket not open", m.name)
		}
		return nil
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteMessage(websocket.BinaryMessage, data)
}

// Open reports whether the socket is currently connected.
func (m *Manager) Open() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Attempts returns the current reconnect attempt counter.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// LastMessageAt returns the arrival time of the most recent frame.
func (m *Manager) LastMessageAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastMessageAt
}

// ReconnectScheduled reports whether the reconnect timer slot is armed.
func (m *Manager) ReconnectScheduled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnectScheduled
}

// DisableReconnect turns off automatic reconnection without closing the
// socket. Used when the backend ends the session authoritatively.
func (m *Manager) DisableReconnect() {
	m.mu.Lock()
	m.shouldReconnect = false
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.reconnectScheduled = false
	m.mu.Unlock()
}

// Stop sets the intentional-stop flag, cancels any pending reconnect and
// closes the socket with a normal-closure code.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.intentionalStop = true
	m.shouldReconnect = false
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.reconnectScheduled = false
	conn := m.conn
	m.mu.Unlock()

	if conn != nil {
		m.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		m.writeMu.Unlock()
		_ = conn.Close()
	}
}
