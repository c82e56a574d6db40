// Package metrics keeps per-turn latency accounting for the voice session:
// user speech to first token, first token to audio, playback duration, and
// total round trip, all derived from the same event stream the session
// dispatches.
package metrics

import (
	"log"
	"sync"
	"time"
)

// Turn correlates one user utterance with the agent's reply. Timestamps are
// stamped at most once; a zero time means the event has not arrived.
type Turn struct {
	ID           int       `json:"id"`
	UserText     string    `json:"user_text,omitempty"`
	Speaker      string    `json:"speaker,omitempty"`
	Synthetic    bool      `json:"synthetic,omitempty"`
	UserTS       time.Time `json:"user_ts,omitempty"`
	FirstTokenTS time.Time `json:"first_token_ts,omitempty"`
	FinalTextTS  time.Time `json:"final_text_ts,omitempty"`
	AudioStartTS time.Time `json:"audio_start_ts,omitempty"`
	AudioEndTS   time.Time `json:"audio_end_ts,omitempty"`

	FirstTokenLatency time.Duration `json:"first_token_latency,omitempty"`
	FinalTextLatency  time.Duration `json:"final_text_latency,omitempty"`
	FinalToAudio      time.Duration `json:"final_to_audio,omitempty"`
	PlaybackDuration  time.Duration `json:"playback_duration,omitempty"`
	RoundTrip         time.Duration `json:"round_trip,omitempty"`

	awaitingAudio bool
}

// Tracker records turns in arrival order. Turns are only appended, trimmed
// solely by Reset.
//
// When an event carries no turn id, correlation falls back to "most recent
// turn missing that timestamp". Overlapping turns can mis-attribute a sample
// through that heuristic; it is kept for wire compatibility and treated as an
// approximation, not a guarantee.
type Tracker struct {
	mu        sync.Mutex
	turns     []*Turn
	nextID    int
	now       func() time.Time
	onLatency func(turnID int, metric string, d time.Duration)
}

// NewTracker builds a tracker. onLatency (may be nil) receives each derived
// latency exactly once.
func NewTracker(onLatency func(turnID int, metric string, d time.Duration)) *Tracker {
	return &Tracker{now: time.Now, onLatency: onLatency}
}

// RegisterUserTurn opens a new turn for a user utterance and returns its id.
func (t *Tracker) RegisterUserTurn(text string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	turn := &Turn{ID: t.nextID, UserText: text, UserTS: t.now()}
	t.nextID++
	t.turns = append(t.turns, turn)
	return turn.ID
}

// RegisterAssistantStreaming stamps first-token time on the turn awaiting it,
// creating a synthetic turn when streaming starts without a matching user
// turn. Time-to-first-token publishes only on the first call per turn.
func (t *Tracker) RegisterAssistantStreaming(speaker string, turnID *int) {
	t.mu.Lock()
	turn := t.resolve(turnID, func(tn *Turn) bool { return tn.FirstTokenTS.IsZero() })
	if turn == nil {
		turn = t.newSynthetic()
	}
	if !turn.FirstTokenTS.IsZero() {
		t.mu.Unlock()
		return
	}
	turn.FirstTokenTS = t.now()
	turn.Speaker = speaker
	var publish func()
	if !turn.UserTS.IsZero() {
		turn.FirstTokenLatency = turn.FirstTokenTS.Sub(turn.UserTS)
		publish = t.publisher(turn.ID, "time_to_first_token", turn.FirstTokenLatency)
	}
	t.mu.Unlock()
	if publish != nil {
		publish()
	}
}

// RegisterAssistantFinal stamps final-text time once and derives the final
// latency, plus the final-to-audio delta when audio already started. The turn
// is then marked as awaiting audio if none has arrived yet.
func (t *Tracker) RegisterAssistantFinal(speaker string, turnID *int) {
	t.mu.Lock()
	turn := t.resolve(turnID, func(tn *Turn) bool { return tn.FinalTextTS.IsZero() })
	if turn == nil {
		turn = t.newSynthetic()
	}
	if !turn.FinalTextTS.IsZero() {
		t.mu.Unlock()
		return
	}
	turn.FinalTextTS = t.now()
	turn.Speaker = speaker
	var publish []func()
	if !turn.UserTS.IsZero() {
		turn.FinalTextLatency = turn.FinalTextTS.Sub(turn.UserTS)
		publish = append(publish, t.publisher(turn.ID, "final_text_latency", turn.FinalTextLatency))
	}
	if !turn.AudioStartTS.IsZero() {
		turn.FinalToAudio = turn.FinalTextTS.Sub(turn.AudioStartTS)
		publish = append(publish, t.publisher(turn.ID, "final_to_audio", turn.FinalToAudio))
	} else {
		turn.awaitingAudio = true
	}
	t.mu.Unlock()
	for _, p := range publish {
		p()
	}
}

// RegisterAudioFrame stamps audio start (frame 0) and end (final frame) on
// the turn awaiting audio, preferring an explicitly awaiting turn over plain
// recency.
func (t *Tracker) RegisterAudioFrame(frameIndex int, isFinal bool, turnID *int) {
	t.mu.Lock()
	turn := t.resolve(turnID, func(tn *Turn) bool { return tn.awaitingAudio })
	if turn == nil {
		turn = t.resolve(turnID, func(tn *Turn) bool { return tn.AudioEndTS.IsZero() })
	}
	if turn == nil {
		turn = t.newSynthetic()
	}
	var publish []func()
	if frameIndex == 0 && turn.AudioStartTS.IsZero() {
		turn.AudioStartTS = t.now()
		turn.awaitingAudio = false
		if !turn.FirstTokenTS.IsZero() {
			d := turn.AudioStartTS.Sub(turn.FirstTokenTS)
			publish = append(publish, t.publisher(turn.ID, "first_token_to_audio", d))
		}
	}
	if isFinal && turn.AudioEndTS.IsZero() && !turn.AudioStartTS.IsZero() {
		turn.AudioEndTS = t.now()
		turn.awaitingAudio = false
		turn.PlaybackDuration = turn.AudioEndTS.Sub(turn.AudioStartTS)
		publish = append(publish, t.publisher(turn.ID, "playback_duration", turn.PlaybackDuration))
		if !turn.UserTS.IsZero() {
			turn.RoundTrip = turn.AudioEndTS.Sub(turn.UserTS)
			publish = append(publish, t.publisher(turn.ID, "round_trip", turn.RoundTrip))
		}
	}
	t.mu.Unlock()
	for _, p := range publish {
		p()
	}
}

// resolve finds the turn for an event. An explicit id always wins, even when
// the field is already stamped, so a duplicate registration stays a no-op on
// its own turn instead of leaking onto another. Without an id the most recent
// turn for which missing reports true is used.
func (t *Tracker) resolve(turnID *int, missing func(*Turn) bool) *Turn {
	if turnID != nil {
		for i := len(t.turns) - 1; i >= 0; i-- {
			if t.turns[i].ID == *turnID {
				return t.turns[i]
			}
		}
		return nil
	}
	for i := len(t.turns) - 1; i >= 0; i-- {
		if missing(t.turns[i]) {
			return t.turns[i]
		}
	}
	return nil
}

func (t *Tracker) newSynthetic() *Turn {
	turn := &Turn{ID: t.nextID, Synthetic: true}
	t.nextID++
	t.turns = append(t.turns, turn)
	return turn
}

func (t *Tracker) publisher(turnID int, metric string, d time.Duration) func() {
	return func() {
		log.Printf("turn %d: %s=%s", turnID, metric, d)
		if t.onLatency != nil {
			t.onLatency(turnID, metric, d)
		}
	}
}

// Turns returns a copy of the recorded turns in order.
func (t *Tracker) Turns() []Turn {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Turn, len(t.turns))
	for i, tn := range t.turns {
		out[i] = *tn
	}
	return out
}

// Reset trims the turn list (session reset only).
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.turns = nil
	t.nextID = 0
	t.mu.Unlock()
}
