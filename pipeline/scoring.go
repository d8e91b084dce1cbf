package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ScoringClient is the opaque transcription/scoring service. It owns its
// internal retry semantics; the orchestrator only sees success or failure
// per call.
type ScoringClient interface {
	Transcribe(ctx context.Context, recordingURL string) (string, error)
	Score(ctx context.Context, transcript string) (float64, string, error)
}

type httpScoringClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewScoringClient builds the HTTP client for the scoring service. Audio
// fetch plus transcription is slow, so the timeout is generous.
func NewScoringClient(baseURL, apiKey string) ScoringClient {
	return &httpScoringClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 3 * time.Minute},
	}
}

type transcribeRequest struct {
	AudioURL string `json:"audio_url"`
}

type transcribeResponse struct {
	Transcript string `json:"transcript"`
}

type scoreRequest struct {
	Transcript string `json:"transcript"`
}

type scoreResponse struct {
	Score         float64 `json:"score"`
	Justification string  `json:"justification"`
}

func (c *httpScoringClient) Transcribe(ctx context.Context, recordingURL string) (string, error) {
	var resp transcribeResponse
	if err := c.post(ctx, "/v1/transcribe", transcribeRequest{AudioURL: recordingURL}, &resp); err != nil {
		return "", err
	}
	if resp.Transcript == "" {
		return "", fmt.Errorf("scoring service returned an empty transcript")
	}
	return resp.Transcript, nil
}

func (c *httpScoringClient) Score(ctx context.Context, transcript string) (float64, string, error) {
	var resp scoreResponse
	if err := c.post(ctx, "/v1/score", scoreRequest{Transcript: transcript}, &resp); err != nil {
		return 0, "", err
	}
	return resp.Score, resp.Justification, nil
}

func (c *httpScoringClient) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("scoring service returned status %d: %s", resp.StatusCode, string(respBody))
	}

	return json.Unmarshal(respBody, out)
}
