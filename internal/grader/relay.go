package grader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pavelanni/gradeflow/internal/model"
)

// Relay grades through a remote relay server that holds the LLM credential.
type Relay struct {
	baseURL string
	client  *http.Client
}

// NewRelay creates a relay generator for the server at baseURL.
// A nil client selects one with the given timeout.
func NewRelay(baseURL string, client *http.Client, timeout time.Duration) *Relay {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &Relay{baseURL: strings.TrimSuffix(baseURL, "/"), client: client}
}

// Grade posts the assessment and submission to the relay and returns its evaluation.
func (r *Relay) Grade(ctx context.Context, a model.Assessment, sub model.SubmissionContent) (model.Evaluation, error) {
	body, err := json.Marshal(model.RelayGradeRequest{Assessment: &a, Submission: &sub})
	if err != nil {
		return model.Evaluation{}, fmt.Errorf("encode relay request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/api/gemini", bytes.NewReader(body))
	if err != nil {
		return model.Evaluation{}, fmt.Errorf("create relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return model.Evaluation{}, fmt.Errorf("relay request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.Evaluation{}, relayError(resp)
	}

	var result model.GradingResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return model.Evaluation{}, fmt.Errorf("decode relay response: %w", err)
	}
	result.Score = model.ClampScore(result.Score)
	return result.Evaluation, nil
}

// CheckConnection asks the relay to probe the LLM.
func (r *Relay) CheckConnection(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/api/test-connection", nil)
	if err != nil {
		return fmt.Errorf("create relay request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("relay request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return relayError(resp)
	}
	var status model.ConnectionStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("decode relay response: %w", err)
	}
	if !status.Connected {
		return errors.New("relay reports LLM not connected")
	}
	return nil
}

func relayError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &e) == nil && e.Error != "" {
		return fmt.Errorf("relay returned %d: %s", resp.StatusCode, e.Error)
	}
	return fmt.Errorf("relay returned %d", resp.StatusCode)
}
