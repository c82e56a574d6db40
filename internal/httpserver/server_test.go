package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kevinevans1/art-voice-agent-accelerator-sub001/internal/config"
	"github.com/kevinevans1/art-voice-agent-accelerator-sub001/internal/session"
)

func testSession() *session.Session {
	return session.New(config.Config{
		APIBaseURL:        "http://127.0.0.1:1",
		ConversationWSURL: "ws://127.0.0.1:1/stream",
		RelayWSURL:        "ws://127.0.0.1:1/events",
		CaptureRate:       16000,
		PlaybackRate:      24000,
	}, session.Events{})
}

func TestServer_Healthz(t *testing.T) {
	sess := testSession()
	defer sess.Close()
	srv := New(sess)

	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "ok") {
		t.Fatalf("body: %q", w.Body.String())
	}
}

func TestServer_SessionSnapshot(t *testing.T) {
	sess := testSession()
	defer sess.Close()
	sess.SendText("hello")
	srv := New(sess)

	r := httptest.NewRequest(http.MethodGet, "/session", nil)
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var snap session.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.SessionID != sess.ID() {
		t.Fatalf("session id: got %q want %q", snap.SessionID, sess.ID())
	}
	if len(snap.Messages) != 1 || snap.Messages[0].Content != "hello" {
		t.Fatalf("messages: %+v", snap.Messages)
	}
}

func TestServer_Turns(t *testing.T) {
	sess := testSession()
	defer sess.Close()
	sess.SendText("one")
	sess.SendText("two")
	srv := New(sess)

	r := httptest.NewRequest(http.MethodGet, "/turns", nil)
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var turns []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &turns); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("turns: got %d want 2", len(turns))
	}
}
