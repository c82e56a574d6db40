package bargein

import "testing"

type fakePlayback struct {
	playing  bool
	clears   int
	suspends int
}

func (f *fakePlayback) Clear()        { f.clears++ }
func (f *fakePlayback) Suspend()      { f.suspends++ }
func (f *fakePlayback) Playing() bool { return f.playing }

func TestPartialTranscript_OnlyInterruptsWhilePlaying(t *testing.T) {
	pb := &fakePlayback{playing: false}
	c := New(pb, Events{})

	if c.OnPartialTranscript() {
		t.Fatalf("interrupted while idle")
	}
	if c.Generation() != 0 || pb.clears != 0 {
		t.Fatalf("idle partial mutated state")
	}

	pb.playing = true
	if !c.OnPartialTranscript() {
		t.Fatalf("expected interruption while playing")
	}
	if c.Generation() != 1 {
		t.Fatalf("generation: got %d want 1", c.Generation())
	}
	if pb.clears != 1 || pb.suspends != 1 {
		t.Fatalf("playback not cleared+suspended: %+v", pb)
	}
	if !c.PendingEvent() {
		t.Fatalf("partial barge-in should be pending confirmation")
	}
}

func TestControlSignal_FinalizesPendingEvent(t *testing.T) {
	pb := &fakePlayback{playing: true}
	var triggers []Trigger
	c := New(pb, Events{
		OnInterrupt: func(tr Trigger, gen uint64) { triggers = append(triggers, tr) },
	})

	c.OnPartialTranscript()
	c.OnControlSignal("audio_stop")
	if c.PendingEvent() {
		t.Fatalf("pending not cleared by control signal")
	}
	if c.Generation() != 2 {
		t.Fatalf("generation: got %d want 2", c.Generation())
	}
	if len(triggers) != 2 || triggers[0] != TriggerPartialTranscript || triggers[1] != TriggerControlSignal {
		t.Fatalf("triggers: %v", triggers)
	}
}

func TestLocalText_InterruptsWithoutPending(t *testing.T) {
	pb := &fakePlayback{playing: true}
	c := New(pb, Events{})
	c.OnLocalText()
	if c.Generation() != 1 {
		t.Fatalf("generation: got %d want 1", c.Generation())
	}
	if c.PendingEvent() {
		t.Fatalf("local text must not mark a pending event")
	}
}

func TestAcceptFrame_StaleStreamDroppedAfterInterrupt(t *testing.T) {
	pb := &fakePlayback{playing: true}
	var staleGens []uint64
	c := New(pb, Events{
		OnStaleFrame: func(gen uint64, dropped int) { staleGens = append(staleGens, gen) },
	})

	// A stream starts and plays two frames.
	if !c.AcceptFrame(0) || !c.AcceptFrame(1) {
		t.Fatalf("fresh stream rejected")
	}
	// The user barges in mid-stream.
	c.OnPartialTranscript()
	// The rest of the superseded stream keeps arriving and is dropped.
	if c.AcceptFrame(2) {
		t.Fatalf("stale frame accepted")
	}
	if c.AcceptFrame(3) {
		t.Fatalf("stale frame accepted")
	}
	if c.StaleDropped() != 2 {
		t.Fatalf("stale count: got %d want 2", c.StaleDropped())
	}
	if len(staleGens) != 2 || staleGens[0] != 0 {
		t.Fatalf("stale events: %v", staleGens)
	}
	// The next stream restamps at the current generation and plays.
	if !c.AcceptFrame(0) || !c.AcceptFrame(1) {
		t.Fatalf("new stream rejected after interrupt")
	}
}

func TestAcceptFrame_FirstFrameAlwaysRestamps(t *testing.T) {
	c := New(nil, Events{})
	c.OnControlSignal("tts_cancelled")
	c.OnControlSignal("tts_cancelled")
	// Whatever the generation, a frame 0 belongs to a stream started now.
	if !c.AcceptFrame(0) {
		t.Fatalf("first frame rejected")
	}
	if !c.AcceptFrame(1) {
		t.Fatalf("follow-up frame rejected")
	}
}

func TestAcceptLegacyFrame_RestampsAfterInterrupt(t *testing.T) {
	pb := &fakePlayback{playing: true}
	c := New(pb, Events{})

	if !c.AcceptLegacyFrame() {
		t.Fatalf("first legacy frame should start a stream")
	}
	if c.AcceptLegacyFrame() {
		t.Fatalf("second legacy frame should continue the stream")
	}

	c.OnLocalText()
	if !c.AcceptLegacyFrame() {
		t.Fatalf("legacy frame after interrupt should start a new stream")
	}
	if c.AcceptLegacyFrame() {
		t.Fatalf("follow-up legacy frame should continue the new stream")
	}
}

func TestGeneration_MonotonicAcrossTriggers(t *testing.T) {
	pb := &fakePlayback{playing: true}
	c := New(pb, Events{})
	c.OnPartialTranscript()
	c.OnControlSignal("audio_stop")
	c.OnLocalText()
	if c.Generation() != 3 {
		t.Fatalf("generation: got %d want 3", c.Generation())
	}
}
