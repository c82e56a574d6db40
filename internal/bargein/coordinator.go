// Package bargein implements the interruption state machine: at most one
// generation of agent speech is ever audible. Interruptions clear playback
// and bump the generation counter; audio frames from a superseded generation
// keep arriving on the wire and are silently discarded.
package bargein

import (
	"log"
	"sync"
)

// Trigger identifies what caused an interruption.
type Trigger string

const (
	// TriggerPartialTranscript is live user speech recognized while agent
	// audio is playing.
	TriggerPartialTranscript Trigger = "partial_transcript"
	// TriggerControlSignal is an explicit audio_stop/tts_cancelled from the
	// backend.
	TriggerControlSignal Trigger = "control_signal"
	// TriggerLocalText is a typed message submitted by the user.
	TriggerLocalText Trigger = "local_text"
)

// Playback is the slice of the audio renderer the coordinator drives.
type Playback interface {
	// Clear drops all buffered audio immediately.
	Clear()
	// Suspend pauses the playback device.
	Suspend()
	// Playing reports whether agent audio is currently audible.
	Playing() bool
}

// Events lets the host observe interruptions and stale-frame drops.
type Events struct {
	OnInterrupt  func(trigger Trigger, generation uint64)
	OnStaleFrame func(generation uint64, dropped int)
}

// Coordinator owns the generation counter. All mutation happens on the
// session's event handlers; the render callback never touches it.
type Coordinator struct {
	playback Playback
	ev       Events

	mu           sync.Mutex
	generation   uint64
	streamGen    uint64
	legacyGen    uint64
	legacySeen   bool
	pendingEvent bool
	staleDropped int
}

// New builds a coordinator over the given playback.
func New(playback Playback, ev Events) *Coordinator {
	return &Coordinator{playback: playback, ev: ev}
}

// Generation returns the current generation counter.
func (c *Coordinator) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// OnPartialTranscript handles live user speech. It interrupts only while
// agent audio is actually playing, recording the barge-in with a pending
// marker until the backend confirms with a control signal. Returns whether an
// interruption fired.
func (c *Coordinator) OnPartialTranscript() bool {
	if c.playback == nil || !c.playback.Playing() {
		return false
	}
	c.interrupt(TriggerPartialTranscript, true)
	return true
}

// OnControlSignal handles an explicit audio_stop/tts_cancelled from the
// socket, finalizing any pending barge-in event.
func (c *Coordinator) OnControlSignal(signal string) {
	c.mu.Lock()
	wasPending := c.pendingEvent
	c.pendingEvent = false
	c.mu.Unlock()
	if wasPending {
		log.Printf("barge-in confirmed by %s", signal)
	}
	c.interrupt(TriggerControlSignal, false)
}

// OnLocalText handles a typed user message. Playback stops; the microphone
// stays live.
func (c *Coordinator) OnLocalText() {
	c.interrupt(TriggerLocalText, false)
}

func (c *Coordinator) interrupt(trigger Trigger, pending bool) {
	if c.playback != nil {
		c.playback.Clear()
		c.playback.Suspend()
	}
	c.mu.Lock()
	c.generation++
	if pending {
		c.pendingEvent = true
	}
	gen := c.generation
	c.mu.Unlock()

	log.Printf("barge-in: %s, generation now %d", trigger, gen)
	if c.ev.OnInterrupt != nil {
		c.ev.OnInterrupt(trigger, gen)
	}
}

// AcceptFrame decides whether an agent-audio frame may be played. A first
// frame stamps the just-started stream with the generation in effect at that
// moment; later frames play only while their stream's stamp still matches the
// current generation. Stale frames are counted and dropped.
func (c *Coordinator) AcceptFrame(frameIndex int) bool {
	c.mu.Lock()
	if frameIndex == 0 {
		c.streamGen = c.generation
		c.mu.Unlock()
		return true
	}
	if c.streamGen == c.generation {
		c.mu.Unlock()
		return true
	}
	c.staleDropped++
	stamped, dropped := c.streamGen, c.staleDropped
	c.mu.Unlock()

	if c.ev.OnStaleFrame != nil {
		c.ev.OnStaleFrame(stamped, dropped)
	}
	return false
}

// AcceptLegacyFrame gates a frame from the unindexed binary audio path.
// Carrying no frame index, a legacy frame cannot be told apart from the tail
// of a superseded stream, so the first one to arrive after an interruption is
// taken as the start of a new stream and restamps it. Returns whether this
// frame started a new stream.
func (c *Coordinator) AcceptLegacyFrame() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.legacySeen || c.legacyGen != c.generation {
		c.legacySeen = true
		c.legacyGen = c.generation
		return true
	}
	return false
}

// PendingEvent reports whether a barge-in awaits backend confirmation.
func (c *Coordinator) PendingEvent() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingEvent
}

// StaleDropped returns how many superseded frames have been discarded.
func (c *Coordinator) StaleDropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.staleDropped
}
