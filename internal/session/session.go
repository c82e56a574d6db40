// Package session is the top-level orchestrator of one voice conversation:
// it wires the capture pipeline, playback, barge-in coordinator, metrics
// tracker and the two sockets, and exposes the user-facing operations.
// Presentation layers subscribe through Events; the session never calls into
// them directly.
package session

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kevinevans1/art-voice-agent-accelerator-sub001/internal/audio"
	"github.com/kevinevans1/art-voice-agent-accelerator-sub001/internal/bargein"
	"github.com/kevinevans1/art-voice-agent-accelerator-sub001/internal/config"
	"github.com/kevinevans1/art-voice-agent-accelerator-sub001/internal/metrics"
	"github.com/kevinevans1/art-voice-agent-accelerator-sub001/internal/relay"
	"github.com/kevinevans1/art-voice-agent-accelerator-sub001/internal/socket"
	"github.com/kevinevans1/art-voice-agent-accelerator-sub001/internal/wire"
)

// conversationBackoff is the primary socket's reconnect curve.
var conversationBackoff = socket.Backoff{
	Base: 250 * time.Millisecond,
	Max:  5 * time.Second,
}

// MessageEntry is one line of the conversation transcript presentation layers
// render.
type MessageEntry struct {
	Speaker   string `json:"speaker,omitempty"`
	Content   string `json:"content,omitempty"`
	EventType string `json:"event_type,omitempty"`
	TS        string `json:"ts,omitempty"`
	Streaming bool   `json:"streaming,omitempty"`
	Local     bool   `json:"local,omitempty"`
}

// Events is the presentation subscription surface. Handlers run on socket and
// timer goroutines and must not block.
type Events struct {
	OnLog     func(line string)
	OnMessage func(entry MessageEntry)
	// OnMeter reports smoothed loudness for "mic" and "playback".
	OnMeter func(kind string, level float64)
}

// Session drives one conversation identified by an opaque session id. Exactly
// one conversation socket is active per session at a time.
type Session struct {
	id  string
	cfg config.Config
	ev  Events

	api     *CallAPI
	queue   *audio.PlaybackQueue
	player  *audio.Player
	tracker *metrics.Tracker
	barge   *bargein.Coordinator
	relay   *relay.Monitor

	mu         sync.Mutex
	conv       *socket.Manager
	capture    *audio.Capture
	talking    bool
	muted      bool
	ended      bool
	streamRate int
	messages   []MessageEntry
}

// New constructs a session. Playback device failure is logged and leaves the
// session audio-less but otherwise functional.
func New(cfg config.Config, ev Events) *Session {
	s := &Session{
		id:  uuid.NewString(),
		cfg: cfg,
		ev:  ev,
		api: NewCallAPI(cfg.APIBaseURL),
	}
	s.queue = audio.NewPlaybackQueue(cfg.PlaybackRate, func(level float64) {
		if ev.OnMeter != nil {
			ev.OnMeter("playback", level)
		}
	})

	player, err := audio.NewPlayer(cfg.PlaybackRate, s.queue)
	if err != nil {
		s.logf("playback disabled: %v", err)
	} else {
		s.player = player
	}

	s.tracker = metrics.NewTracker(func(turnID int, metric string, d time.Duration) {
		s.logf("latency turn=%d %s=%s", turnID, metric, d)
	})
	s.barge = bargein.New(&playbackAdapter{s: s}, bargein.Events{
		OnInterrupt: func(trigger bargein.Trigger, gen uint64) {
			s.logf("interrupted (%s), generation %d", trigger, gen)
		},
	})
	s.relay = relay.New(withSessionID(cfg.RelayWSURL, s.id), socket.Events{
		OnMessage: s.handleRelayMessage,
	})
	return s
}

// ID returns the opaque session identity attached to every socket URL and
// REST call.
func (s *Session) ID() string { return s.id }

// playbackAdapter narrows the queue/player pair to what the barge-in
// coordinator needs. With no playback device, nothing is ever "playing".
type playbackAdapter struct{ s *Session }

func (p *playbackAdapter) Clear() { p.s.queue.Clear() }

func (p *playbackAdapter) Suspend() {
	if p.s.player != nil {
		p.s.player.Suspend()
	}
}

func (p *playbackAdapter) Playing() bool {
	return p.s.player != nil && p.s.player.Playing()
}

// StartTalking connects the conversation socket and starts microphone
// capture as a pair. Capture device failure disables the mic for the session
// but keeps the socket (typed messages still work).
func (s *Session) StartTalking() error {
	s.mu.Lock()
	if s.talking {
		s.mu.Unlock()
		return nil
	}
	if s.ended {
		s.mu.Unlock()
		return fmt.Errorf("session ended by backend")
	}
	conv := socket.NewManager("conversation", withSessionID(s.cfg.ConversationWSURL, s.id), conversationBackoff, socket.Events{
		OnMessage: s.handleConversationMessage,
		OnBinary:  s.handleLegacyAudio,
	})
	s.conv = conv
	s.talking = true
	muted := s.muted
	s.mu.Unlock()

	if err := conv.Connect(); err != nil {
		// Backoff recovery, never user-blocking.
		conv.ForceReconnect("initial dial failed")
	}

	capture := audio.NewCapture(s.cfg.CaptureRate, conv, func(level float64) {
		if s.ev.OnMeter != nil {
			s.ev.OnMeter("mic", level)
		}
	})
	capture.SetMuted(muted)
	if err := capture.Start(); err != nil {
		s.logf("microphone disabled: %v", err)
	} else {
		s.mu.Lock()
		s.capture = capture
		s.mu.Unlock()
	}
	s.logf("session %s: talking", s.id)
	return nil
}

// StopTalking releases the microphone and closes the conversation socket.
// Idempotent.
func (s *Session) StopTalking() {
	s.mu.Lock()
	capture := s.capture
	conv := s.conv
	s.capture = nil
	s.conv = nil
	wasTalking := s.talking
	s.talking = false
	s.mu.Unlock()

	if capture != nil {
		capture.Stop()
	}
	if conv != nil {
		conv.Stop()
	}
	if wasTalking {
		s.logf("session %s: stopped talking", s.id)
	}
}

// SendText submits a typed user message. It interrupts agent speech (the
// microphone stays live) and registers a new turn.
func (s *Session) SendText(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.barge.OnLocalText()
	id := s.tracker.RegisterUserTurn(text)
	s.appendEntry(MessageEntry{Speaker: "You", Content: text, Local: true})

	s.mu.Lock()
	conv := s.conv
	s.mu.Unlock()
	if conv != nil {
		if err := conv.Send(text); err != nil {
			s.logf("send text failed: %v", err)
		}
	} else {
		s.logf("send text skipped, not talking (turn %d kept)", id)
	}
}

// SetMuted toggles the capture mute flag.
func (s *Session) SetMuted(muted bool) {
	s.mu.Lock()
	s.muted = muted
	capture := s.capture
	s.mu.Unlock()
	if capture != nil {
		capture.SetMuted(muted)
	}
	s.logf("mute=%v", muted)
}

// Muted reports the capture mute flag.
func (s *Session) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// PlaceCall initiates the outbound phone leg and starts the relay monitor.
func (s *Session) PlaceCall(ctx context.Context, targetNumber string) error {
	callID, err := s.api.Initiate(ctx, targetNumber, s.cfg.StreamingMode, map[string]any{
		"session_id": s.id,
	})
	if err != nil {
		s.logf("place call failed: %v", err)
		return err
	}
	s.relay.CallPlaced(callID)
	s.relay.Start()
	s.logf("call %s placed to %s", callID, targetNumber)
	return nil
}

// HangUp terminates the outbound call and resets the call lifecycle record.
func (s *Session) HangUp(ctx context.Context, reason string) error {
	callID := s.relay.CallID()
	if callID == "" {
		return nil
	}
	err := s.api.Terminate(ctx, callID, s.id, reason)
	if err != nil {
		s.logf("terminate call failed: %v", err)
	}
	s.relay.ResetCall()
	s.relay.Stop()
	s.logf("call %s terminated (%s)", callID, reason)
	return err
}

// Reset clears the turn list, transcript and call lifecycle (session reset).
func (s *Session) Reset() {
	s.tracker.Reset()
	s.relay.ResetCall()
	s.queue.Clear()
	s.mu.Lock()
	s.messages = nil
	s.mu.Unlock()
}

// Close tears the whole session down.
func (s *Session) Close() {
	s.StopTalking()
	s.relay.Stop()
	if s.player != nil {
		s.player.Close()
	}
}

// handleConversationMessage dispatches normalized messages from the primary
// socket, strictly in arrival order.
func (s *Session) handleConversationMessage(m wire.Message) {
	switch {
	case m.Type == "audio_data":
		s.handleAudioFrame(m)
	case m.Type == "audio_stop" || m.Type == "tts_cancelled" ||
		m.EventType == "audio_stop" || m.EventType == "tts_cancelled":
		s.barge.OnControlSignal(firstNonEmpty(m.EventType, m.Type))
	case m.Type == "session_end" || m.EventType == "session_end":
		s.handleSessionEnd(m)
	case m.Type == "transcript" || m.EventType == "user_partial":
		s.handleUserTranscript(m)
	case m.Type == "assistant_streaming" || (m.Streaming && m.Type == "assistant"):
		s.tracker.RegisterAssistantStreaming(m.Speaker, turnRef(m))
		s.appendEntry(MessageEntry{Speaker: m.Speaker, Content: m.Content, TS: m.TS, Streaming: true})
	case m.Type == "assistant":
		s.tracker.RegisterAssistantFinal(m.Speaker, turnRef(m))
		s.appendEntry(MessageEntry{Speaker: m.Speaker, Content: m.Content, TS: m.TS})
	case m.Type == "status":
		s.logf("status: %s", firstNonEmpty(m.Status, m.Content))
	case m.Type == "event":
		s.appendEntry(MessageEntry{Speaker: m.Speaker, EventType: m.EventType, Content: m.Content, TS: m.TS})
	default:
		s.logf("unhandled message type %q", m.Type)
	}
}

// handleUserTranscript treats a non-final transcript as a barge-in trigger
// and a final one as a registered user turn.
func (s *Session) handleUserTranscript(m wire.Message) {
	final, _ := m.Fields["is_final"].(bool)
	if !final {
		s.barge.OnPartialTranscript()
		return
	}
	if m.Content != "" {
		s.tracker.RegisterUserTurn(m.Content)
		s.appendEntry(MessageEntry{Speaker: firstNonEmpty(m.Speaker, "You"), Content: m.Content, TS: m.TS})
	}
}

// handleAudioFrame plays one chunk of agent speech unless its generation has
// been superseded.
func (s *Session) handleAudioFrame(m wire.Message) {
	frame, err := wire.ParseAudioFrame(m)
	if err != nil {
		s.logf("dropping audio frame: %v", err)
		return
	}
	if !s.barge.AcceptFrame(frame.FrameIndex) {
		return
	}
	if frame.FrameIndex == 0 {
		s.mu.Lock()
		s.streamRate = frame.SampleRate
		s.mu.Unlock()
		if s.player != nil {
			s.player.Resume()
		}
	}

	s.mu.Lock()
	rate := s.streamRate
	s.mu.Unlock()
	if rate <= 0 {
		rate = s.cfg.PlaybackRate
	}
	samples := audio.DecodePCM16(frame.Data)
	samples = audio.Resample(samples, float64(rate), float64(s.cfg.PlaybackRate))
	s.queue.Push(samples)
	s.tracker.RegisterAudioFrame(frame.FrameIndex, frame.IsFinal, turnRef(m))
}

// handleLegacyAudio accepts raw PCM16 binary frames (legacy wire path). The
// first frame after an interruption starts a new stream and resumes playback.
func (s *Session) handleLegacyAudio(data []byte) {
	if s.barge.AcceptLegacyFrame() && s.player != nil {
		s.player.Resume()
	}
	s.queue.Push(audio.DecodePCM16(data))
}

// handleSessionEnd treats the backend's session_end as authoritative: retries
// stop permanently, playback clears, the call goes inactive.
func (s *Session) handleSessionEnd(m wire.Message) {
	reason, _ := m.Fields["reason"].(string)
	s.logf("session ended by backend: %s", reason)

	s.mu.Lock()
	s.ended = true
	conv := s.conv
	s.mu.Unlock()

	if conv != nil {
		conv.DisableReconnect()
	}
	s.relay.Manager().DisableReconnect()
	s.queue.Clear()
	if s.player != nil {
		s.player.Suspend()
	}
	s.relay.CallDisconnected()
}

// handleRelayMessage mirrors phone-leg events into the call lifecycle record
// and the shared dispatch path.
func (s *Session) handleRelayMessage(m wire.Message) {
	switch firstNonEmpty(m.EventType, m.Type) {
	case "call_connected":
		s.relay.CallConnected()
		s.logf("call connected")
	case "call_disconnected", "call_ended":
		s.relay.CallDisconnected()
		s.logf("call disconnected")
	case "session_end":
		s.handleSessionEnd(m)
	default:
		s.appendEntry(MessageEntry{Speaker: m.Speaker, EventType: m.EventType, Content: m.Content, TS: m.TS})
	}
}

// Snapshot summarizes session state for the debug server.
type Snapshot struct {
	SessionID     string             `json:"session_id"`
	Talking       bool               `json:"talking"`
	Muted         bool               `json:"muted"`
	Ended         bool               `json:"ended"`
	Generation    uint64             `json:"generation"`
	StaleDropped  int                `json:"stale_frames_dropped"`
	QueuedSamples int                `json:"queued_samples"`
	Call          relay.CallSnapshot `json:"call"`
	Messages      []MessageEntry     `json:"messages"`
}

// Snapshot copies the current session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	msgs := make([]MessageEntry, len(s.messages))
	copy(msgs, s.messages)
	snap := Snapshot{
		SessionID: s.id,
		Talking:   s.talking,
		Muted:     s.muted,
		Ended:     s.ended,
		Messages:  msgs,
	}
	s.mu.Unlock()
	snap.Generation = s.barge.Generation()
	snap.StaleDropped = s.barge.StaleDropped()
	snap.QueuedSamples = s.queue.QueuedSamples()
	snap.Call = s.relay.Snapshot()
	return snap
}

// Turns exposes the metrics tracker's turn list.
func (s *Session) Turns() []metrics.Turn {
	return s.tracker.Turns()
}

func (s *Session) appendEntry(e MessageEntry) {
	if e.TS == "" {
		e.TS = time.Now().Format(time.RFC3339Nano)
	}
	s.mu.Lock()
	s.messages = append(s.messages, e)
	s.mu.Unlock()
	if s.ev.OnMessage != nil {
		s.ev.OnMessage(e)
	}
}

func (s *Session) logf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	log.Print(line)
	if s.ev.OnLog != nil {
		s.ev.OnLog(line)
	}
}

// turnRef extracts the optional wire turn id.
func turnRef(m wire.Message) *int {
	if !m.HasTurnID {
		return nil
	}
	id := m.TurnID
	return &id
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// withSessionID appends the session identity to a socket URL.
func withSessionID(rawURL, sessionID string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String()
}
