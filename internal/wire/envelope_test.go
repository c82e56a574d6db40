package wire

import (
	"encoding/base64"
	"testing"
)

func TestNormalize_EventWithEventTypeFlattens(t *testing.T) {
	raw := []byte(`{"type":"event","sender":"system","ts":"2025-01-01T00:00:00Z",` +
		`"payload":{"event_type":"tool_call","tool":"lookup","turn_id":3}}`)
	m, err := Normalize(raw)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if m.Type != "event" {
		t.Fatalf("type: got %q want event", m.Type)
	}
	if m.EventType != "tool_call" {
		t.Fatalf("event_type: got %q", m.EventType)
	}
	if m.Speaker != "system" {
		t.Fatalf("speaker: got %q", m.Speaker)
	}
	if m.TS != "2025-01-01T00:00:00Z" {
		t.Fatalf("ts: got %q", m.TS)
	}
	if !m.HasTurnID || m.TurnID != 3 {
		t.Fatalf("turn id: got %v/%d", m.HasTurnID, m.TurnID)
	}
	if m.Data == nil || m.Data["tool"] != "lookup" {
		t.Fatalf("data alias missing: %v", m.Data)
	}
	if m.Fields["tool"] != "lookup" {
		t.Fatalf("payload not flattened: %v", m.Fields)
	}
}

func TestNormalize_EventWithBareMessageBecomesAssistant(t *testing.T) {
	m, err := Normalize([]byte(`{"type":"event","payload":{"message":"hello"}}`))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if m.Type != "assistant" {
		t.Fatalf("type: got %q want assistant", m.Type)
	}
	if m.Content != "hello" {
		t.Fatalf("content: got %q", m.Content)
	}
}

func TestNormalize_AssistantStreamingSetsFlag(t *testing.T) {
	m, err := Normalize([]byte(`{"type":"assistant_streaming","content":"par","speaker":"agent"}`))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if !m.Streaming {
		t.Fatalf("expected streaming flag")
	}
	if m.Content != "par" || m.Speaker != "agent" {
		t.Fatalf("fields: content=%q speaker=%q", m.Content, m.Speaker)
	}
}

func TestNormalize_StatusPreservesMessage(t *testing.T) {
	m, err := Normalize([]byte(`{"type":"status","message":"connecting","status":"pending"}`))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if m.Type != "status" || m.Content != "connecting" || m.Status != "pending" {
		t.Fatalf("got type=%q content=%q status=%q", m.Type, m.Content, m.Status)
	}
}

func TestNormalize_FlatMessagePassesThrough(t *testing.T) {
	m, err := Normalize([]byte(`{"type":"transcript","content":"hi there","is_final":true,"timestamp":"t1"}`))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if m.Type != "transcript" || m.Content != "hi there" || m.TS != "t1" {
		t.Fatalf("got %+v", m)
	}
	if fin, _ := m.Fields["is_final"].(bool); !fin {
		t.Fatalf("is_final not preserved")
	}
}

func TestNormalize_TurnIDVariants(t *testing.T) {
	cases := []struct {
		raw  string
		want int
	}{
		{`{"type":"assistant","turn_id":7}`, 7},
		{`{"type":"assistant","response_id":9}`, 9},
		{`{"type":"assistant","turn_id":"12"}`, 12},
	}
	for _, tc := range cases {
		m, err := Normalize([]byte(tc.raw))
		if err != nil {
			t.Fatalf("normalize %s: %v", tc.raw, err)
		}
		if !m.HasTurnID || m.TurnID != tc.want {
			t.Fatalf("%s: got %v/%d want %d", tc.raw, m.HasTurnID, m.TurnID, tc.want)
		}
	}
	m, err := Normalize([]byte(`{"type":"assistant"}`))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if m.HasTurnID {
		t.Fatalf("expected no turn id")
	}
}

func TestNormalize_MalformedJSONErrors(t *testing.T) {
	if _, err := Normalize([]byte(`{not json`)); err == nil {
		t.Fatalf("expected error for malformed frame")
	}
}

func TestParseAudioFrame(t *testing.T) {
	pcm := []byte{1, 0, 2, 0}
	raw := []byte(`{"type":"audio_data","data":"` + base64.StdEncoding.EncodeToString(pcm) +
		`","sample_rate":24000,"frame_index":4,"total_frames":5}`)
	m, err := Normalize(raw)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	f, err := ParseAudioFrame(m)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if string(f.Data) != string(pcm) {
		t.Fatalf("data mismatch")
	}
	if f.SampleRate != 24000 || f.FrameIndex != 4 || f.TotalFrames != 5 {
		t.Fatalf("fields: %+v", f)
	}
	if !f.IsFinal {
		t.Fatalf("expected is_final inferred from frame_index+1 >= total_frames")
	}
}

func TestParseAudioFrame_ExplicitFinalAndErrors(t *testing.T) {
	m, _ := Normalize([]byte(`{"type":"audio_data","data":"AQA=","frame_index":0,"is_final":true}`))
	f, err := ParseAudioFrame(m)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !f.IsFinal {
		t.Fatalf("explicit is_final not honored")
	}

	m, _ = Normalize([]byte(`{"type":"audio_data"}`))
	if _, err := ParseAudioFrame(m); err == nil {
		t.Fatalf("expected error for missing data")
	}

	m, _ = Normalize([]byte(`{"type":"audio_data","data":"!!!"}`))
	if _, err := ParseAudioFrame(m); err == nil {
		t.Fatalf("expected error for invalid base64")
	}
}
