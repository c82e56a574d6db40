package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// CallAPI is the REST client for the backend's outbound-call endpoints.
type CallAPI struct {
	baseURL    string
	httpClient *http.Client
}

// NewCallAPI builds a client for the given backend base URL.
func NewCallAPI(baseURL string) *CallAPI {
	return &CallAPI{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type initiateRequest struct {
	TargetNumber  string         `json:"target_number"`
	StreamingMode string         `json:"streaming_mode"`
	Context       map[string]any `json:"context,omitempty"`
}

type initiateResponse struct {
	CallID string `json:"call_id"`
}

type terminateRequest struct {
	CallID    string `json:"call_id"`
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

// Initiate places an outbound call and returns the backend's call id.
func (a *CallAPI) Initiate(ctx context.Context, targetNumber, streamingMode string, callContext map[string]any) (string, error) {
	body, err := json.Marshal(initiateRequest{
		TargetNumber:  targetNumber,
		StreamingMode: streamingMode,
		Context:       callContext,
	})
	if err != nil {
		return "", fmt.Errorf("encode initiate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/calls/initiate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build initiate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("initiate call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		preview, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("initiate call failed with status %d: %s", resp.StatusCode, string(preview))
	}

	var out initiateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode initiate response: %w", err)
	}
	if out.CallID == "" {
		return "", fmt.Errorf("initiate response missing call_id")
	}
	return out.CallID, nil
}

// Terminate ends an outbound call.
func (a *CallAPI) Terminate(ctx context.Context, callID, sessionID, reason string) error {
	body, err := json.Marshal(terminateRequest{CallID: callID, SessionID: sessionID, Reason: reason})
	if err != nil {
		return fmt.Errorf("encode terminate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/calls/terminate", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build terminate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("terminate call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		preview, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("terminate call failed with status %d: %s", resp.StatusCode, string(preview))
	}
	return nil
}
