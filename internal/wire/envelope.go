// Package wire normalizes the backend's message envelopes into the one flat
// shape the rest of the client consumes. Some messages arrive wrapped in
// {type, sender, payload, ts, ...}; legacy ones arrive already flat.
package wire

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
)

// Message is the canonical flat shape produced by Normalize. Optional wire
// fields that were absent stay at their zero values; HasTurnID distinguishes
// "turn 0" from "no turn id".
type Message struct {
	Type      string
	Speaker   string
	Content   string
	TurnID    int
	HasTurnID bool
	TS        string
	EventType string
	Streaming bool
	Status    string

	// Data is the merged payload for event-shaped messages, aliased from
	// data/event_data.
	Data map[string]any

	// Fields holds every flattened field for consumers that need more than
	// the extracted common ones.
	Fields map[string]any
}

// Normalize parses a structured text frame and flattens it. Envelope-shaped
// input (a payload object under a type) merges the payload to the top level
// with type-specific rules; flat input passes through with the common fields
// extracted. Malformed JSON returns an error and the frame is dropped by the
// caller.
func Normalize(raw []byte) (Message, error) {
	var top map[string]any
	if err := json.Unmarshal(raw, &top); err != nil {
		return Message{}, fmt.Errorf("malformed message: %w", err)
	}
	return NormalizeMap(top), nil
}

// NormalizeMap flattens an already-parsed message object.
func NormalizeMap(top map[string]any) Message {
	typ, _ := top["type"].(string)
	payload, hasPayload := top["payload"].(map[string]any)

	flat := make(map[string]any, len(top)+len(payload))
	for k, v := range top {
		if k == "payload" {
			continue
		}
		flat[k] = v
	}
	for k, v := range payload {
		flat[k] = v
	}

	switch {
	case typ == "event" && hasPayload && payload["event_type"] != nil:
		// Keep event_type and alias the merged payload as data/event_data.
		flat["data"] = payload
		flat["event_data"] = payload
	case typ == "event" && flat["message"] != nil:
		// An event carrying a bare message is an assistant message.
		typ = "assistant"
		flat["type"] = typ
	case typ == "assistant_streaming":
		flat["streaming"] = true
	case typ == "status" && flat["message"] != nil:
		// Status label fields survive flattening untouched.
	}

	m := Message{Type: typ, Fields: flat}
	m.Speaker = firstString(flat, "speaker", "sender")
	m.Content = firstString(flat, "content", "message")
	m.TS = firstString(flat, "ts", "timestamp")
	m.EventType, _ = flat["event_type"].(string)
	m.Status, _ = flat["status"].(string)
	if b, ok := flat["streaming"].(bool); ok {
		m.Streaming = b
	}
	if id, ok := firstInt(flat, "turn_id", "response_id"); ok {
		m.TurnID = id
		m.HasTurnID = true
	}
	if d, ok := flat["data"].(map[string]any); ok {
		m.Data = d
	} else if d, ok := flat["event_data"].(map[string]any); ok {
		m.Data = d
	}
	return m
}

// AudioFrame is one chunk of synthesized agent speech.
type AudioFrame struct {
	Data        []byte
	SampleRate  int
	FrameIndex  int
	TotalFrames int
	IsFinal     bool
}

// ParseAudioFrame extracts an audio frame from a normalized audio_data
// message, decoding the base64 PCM16 body. is_final is inferred when
// frame_index+1 >= total_frames.
func ParseAudioFrame(m Message) (AudioFrame, error) {
	b64, _ := m.Fields["data"].(string)
	if b64 == "" {
		return AudioFrame{}, fmt.Errorf("audio_data message has no data field")
	}
	pcm, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return AudioFrame{}, fmt.Errorf("decode audio payload: %w", err)
	}
	f := AudioFrame{Data: pcm}
	f.SampleRate, _ = asInt(m.Fields["sample_rate"])
	f.FrameIndex, _ = asInt(m.Fields["frame_index"])
	f.TotalFrames, _ = asInt(m.Fields["total_frames"])
	if b, ok := m.Fields["is_final"].(bool); ok {
		f.IsFinal = b
	}
	if f.TotalFrames > 0 && f.FrameIndex+1 >= f.TotalFrames {
		f.IsFinal = true
	}
	return f, nil
}

func firstString(fields map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := fields[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func firstInt(fields map[string]any, keys ...string) (int, bool) {
	for _, k := range keys {
		if v, ok := fields[k]; ok {
			if n, ok := asInt(v); ok {
				return n, true
			}
		}
	}
	return 0, false
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, false
		}
		return i, true
	}
	return 0, false
}
