package relay

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kevinevans1/art-voice-agent-accelerator-sub001/internal/socket"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func relayServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func waitOpen(t *testing.T, r *Monitor) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !r.Manager().Open() {
		time.Sleep(5 * time.Millisecond)
	}
	if !r.Manager().Open() {
		t.Fatalf("relay never connected")
	}
}

func TestMonitor_CallLifecycleRecord(t *testing.T) {
	r := New("ws://127.0.0.1:1/never", socket.Events{})

	r.CallPlaced("call-123")
	if !r.CallPending() || r.CallActive() {
		t.Fatalf("after place: pending=%v active=%v", r.CallPending(), r.CallActive())
	}
	if r.CallID() != "call-123" {
		t.Fatalf("call id: got %q", r.CallID())
	}

	r.CallConnected()
	if r.CallPending() || !r.CallActive() {
		t.Fatalf("after connect: pending=%v active=%v", r.CallPending(), r.CallActive())
	}

	r.CallDisconnected()
	if r.CallActive() {
		t.Fatalf("still active after disconnect")
	}
	if r.CallID() != "call-123" {
		t.Fatalf("disconnect must not clear call id")
	}

	r.ResetCall()
	snap := r.Snapshot()
	if snap.Pending || snap.Active || snap.CallID != "" || !snap.StalledLoggedAt.IsZero() {
		t.Fatalf("reset left state: %+v", snap)
	}
}

func TestCheckLiveness_IdleWithoutPendingCall(t *testing.T) {
	srv := relayServer(t)
	defer srv.Close()

	r := New(wsURL(srv), socket.Events{})
	r.Start()
	defer r.Stop()
	waitOpen(t, r)

	// No pending call: a stale socket is left alone.
	r.checkLiveness(time.Now().Add(time.Minute))
	time.Sleep(50 * time.Millisecond)
	if !r.Manager().Open() {
		t.Fatalf("liveness reconnected without a pending call")
	}
	if !r.Snapshot().StalledLoggedAt.IsZero() {
		t.Fatalf("stall logged without a pending call")
	}
}

func TestCheckLiveness_FreshSocketLeftAlone(t *testing.T) {
	srv := relayServer(t)
	defer srv.Close()

	r := New(wsURL(srv), socket.Events{})
	r.Start()
	defer r.Stop()
	waitOpen(t, r)

	r.CallPlaced("call-1")
	r.checkLiveness(time.Now())
	time.Sleep(50 * time.Millisecond)
	if !r.Manager().Open() {
		t.Fatalf("fresh socket reconnected")
	}
}

func TestCheckLiveness_StaleSocketForcesReconnect(t *testing.T) {
	srv := relayServer(t)
	defer srv.Close()

	r := New(wsURL(srv), socket.Events{})
	r.Start()
	defer r.Stop()
	waitOpen(t, r)

	r.CallPlaced("call-1")
	stale := time.Now().Add(stalenessWindow + time.Second)
	r.checkLiveness(stale)

	snap := r.Snapshot()
	if snap.StalledLoggedAt.IsZero() {
		t.Fatalf("stall not recorded")
	}

	// A second check inside the log throttle window keeps the first stamp.
	r.checkLiveness(stale.Add(time.Second))
	if got := r.Snapshot().StalledLoggedAt; !got.Equal(snap.StalledLoggedAt) {
		t.Fatalf("stall log not throttled: %v then %v", snap.StalledLoggedAt, got)
	}

	// The forced reconnect dials back in.
	waitOpen(t, r)
}

func TestMonitor_SnapshotTracksOpenTime(t *testing.T) {
	srv := relayServer(t)
	defer srv.Close()

	r := New(wsURL(srv), socket.Events{})
	before := time.Now()
	r.Start()
	defer r.Stop()
	waitOpen(t, r)

	snap := r.Snapshot()
	if snap.LastRelayOpenedAt.Before(before) {
		t.Fatalf("open time not stamped: %v", snap.LastRelayOpenedAt)
	}
	if snap.LastEnvelopeAt.IsZero() {
		t.Fatalf("last envelope time not initialized on connect")
	}
}
