// Package relay owns the secondary websocket that mirrors phone-call events.
// It reuses the socket manager with a gentler backoff curve and adds a
// liveness monitor: while a call is pending, a silent socket is treated as
// wedged and forcibly reconnected.
package relay

import (
	"log"
	"sync"
	"time"

	"github.com/kevinevans1/art-voice-agent-accelerator-sub001/internal/socket"
)

const (
	// livenessInterval is how often the monitor checks the socket while a
	// call is pending.
	livenessInterval = 6 * time.Second
	// stalenessWindow is the longest the relay may go without an envelope
	// before the monitor forces a reconnect.
	stalenessWindow = 15 * time.Second
	// stallLogInterval throttles stall logging so a long outage does not
	// storm the log.
	stallLogInterval = 15 * time.Second
)

// DefaultBackoff is the relay reconnect curve: 800ms doubling to a 10s cap,
// plateauing after 6 attempts.
var DefaultBackoff = socket.Backoff{
	Base:       800 * time.Millisecond,
	Max:        10 * time.Second,
	AttemptCap: 6,
}

// CallSnapshot is a copy of the call lifecycle record for observers.
type CallSnapshot struct {
	Pending            bool      `json:"pending"`
	Active             bool      `json:"active"`
	CallID             string    `json:"call_id,omitempty"`
	LastEnvelopeAt     time.Time `json:"last_envelope_at"`
	ReconnectAttempts  int       `json:"reconnect_attempts"`
	ReconnectScheduled bool      `json:"reconnect_scheduled"`
	StalledLoggedAt    time.Time `json:"stalled_logged_at,omitempty"`
	LastRelayOpenedAt  time.Time `json:"last_relay_opened_at,omitempty"`
}

// Monitor couples the relay socket manager with the call lifecycle record and
// the periodic liveness check.
type Monitor struct {
	mgr *socket.Manager

	mu              sync.Mutex
	pending         bool
	active          bool
	callID          string
	stalledLoggedAt time.Time
	lastOpenedAt    time.Time

	stopCh  chan struct{}
	started bool
}

// New builds a relay monitor for the given socket URL. The caller's events
// are preserved; the monitor additionally records open times for the
// lifecycle record.
func New(url string, ev socket.Events) *Monitor {
	r := &Monitor{}
	userOpen := ev.OnOpen
	ev.OnOpen = func() {
		r.mu.Lock()
		r.lastOpenedAt = time.Now()
		r.mu.Unlock()
		if userOpen != nil {
			userOpen()
		}
	}
	r.mgr = socket.NewManager("relay", url, DefaultBackoff, ev)
	return r
}

// Start connects the relay socket and begins the liveness loop. Dial failures
// fall through to the manager's backoff; Start itself only fails on repeated
// misuse.
func (r *Monitor) Start() {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.stopCh = make(chan struct{})
	stopCh := r.stopCh
	r.mu.Unlock()

	if err := r.mgr.Connect(); err != nil {
		r.mgr.ForceReconnect("initial dial failed")
	}

	go func() {
		ticker := time.NewTicker(livenessInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				r.checkLiveness(time.Now())
			}
		}
	}()
}

// Stop halts the liveness loop and closes the relay socket.
func (r *Monitor) Stop() {
	r.mu.Lock()
	if r.started {
		r.started = false
		close(r.stopCh)
	}
	r.mu.Unlock()
	r.mgr.Stop()
}

// checkLiveness forces a reconnect when a pending call has seen no envelope
// within the staleness window, logging at most once per stallLogInterval.
func (r *Monitor) checkLiveness(now time.Time) {
	r.mu.Lock()
	pending := r.pending
	r.mu.Unlock()
	if !pending {
		return
	}
	if r.mgr.ReconnectScheduled() {
		return
	}
	if r.mgr.Open() && now.Sub(r.mgr.LastMessageAt()) <= stalenessWindow {
		return
	}

	r.mu.Lock()
	if now.Sub(r.stalledLoggedAt) >= stallLogInterval {
		r.stalledLoggedAt = now
		log.Printf("relay: no envelope within %s while call pending, reconnecting", stalenessWindow)
	}
	r.mu.Unlock()
	r.mgr.ForceReconnect("stale while call pending")
}

// CallPlaced marks a freshly initiated outbound call.
func (r *Monitor) CallPlaced(callID string) {
	r.mu.Lock()
	r.pending = true
	r.active = false
	r.callID = callID
	r.mu.Unlock()
}

// CallConnected flips the lifecycle to active.
func (r *Monitor) CallConnected() {
	r.mu.Lock()
	r.pending = false
	r.active = true
	r.mu.Unlock()
}

// CallDisconnected flips the lifecycle off without clearing the call id.
func (r *Monitor) CallDisconnected() {
	r.mu.Lock()
	r.active = false
	r.mu.Unlock()
}

// ResetCall restores the lifecycle record to defaults (call terminated or
// session reset).
func (r *Monitor) ResetCall() {
	r.mu.Lock()
	r.pending = false
	r.active = false
	r.callID = ""
	r.stalledLoggedAt = time.Time{}
	r.mu.Unlock()
}

// CallID returns the current outbound call id, if any.
func (r *Monitor) CallID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.callID
}

// CallActive reports whether the phone leg is up.
func (r *Monitor) CallActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// CallPending reports whether a call is awaiting connection.
func (r *Monitor) CallPending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending
}

// Snapshot copies the call lifecycle record.
func (r *Monitor) Snapshot() CallSnapshot {
	r.mu.Lock()
	snap := CallSnapshot{
		Pending:           r.pending,
		Active:            r.active,
		CallID:            r.callID,
		StalledLoggedAt:   r.stalledLoggedAt,
		LastRelayOpenedAt: r.lastOpenedAt,
	}
	r.mu.Unlock()
	snap.LastEnvelopeAt = r.mgr.LastMessageAt()
	snap.ReconnectAttempts = r.mgr.Attempts()
	snap.ReconnectScheduled = r.mgr.ReconnectScheduled()
	return snap
}

// Manager exposes the underlying socket manager (session_end handling needs
// DisableReconnect).
func (r *Monitor) Manager() *socket.Manager {
	return r.mgr
}
