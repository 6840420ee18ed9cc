// Package ollama is a tiny HTTP client for talking to a local Ollama
// inference backend.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gaspardpetit/voicerelay/internal/tokenstream"
)

var (
	// ErrUnreachable means the backend connection could not be established.
	ErrUnreachable = errors.New("backend unreachable")
	// ErrTimeout means the backend did not reply within the configured timeout.
	ErrTimeout = errors.New("backend timeout")
	// ErrProtocol means the backend replied with something unrecognizable.
	ErrProtocol = errors.New("backend protocol error")
)

// DefaultFaultMessage is emitted as the final stream fragment when the
// transport fails mid-generation.
const DefaultFaultMessage = "AI service error. Please try again."

// GenerateRequest is the request body for /api/generate.
type GenerateRequest struct {
	Model      string `json:"model"`
	Prompt     string `json:"prompt"`
	Stream     bool   `json:"stream"`
	NumPredict int    `json:"num_predict,omitempty"`
}

// Client issues generate requests against one backend with one model.
// It is safe for concurrent use; each request owns its own connection.
type Client struct {
	BaseURL    string
	Model      string
	NumPredict int
	// Timeout bounds buffered calls only. Streaming calls run for the
	// lifetime of the consumed stream.
	Timeout      time.Duration
	FaultMessage string

	httpClient *http.Client
}

func New(base, model string) *Client {
	return &Client{
		BaseURL:      base,
		Model:        model,
		Timeout:      60 * time.Second,
		FaultMessage: DefaultFaultMessage,
		httpClient:   &http.Client{},
	}
}

// Generate issues a buffered generate call and returns the full reply text.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	resp, err := c.post(ctx, GenerateRequest{Model: c.Model, Prompt: prompt, Stream: false, NumPredict: c.NumPredict})
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrProtocol, resp.StatusCode)
	}
	var v struct {
		Response *string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return "", fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if v.Response == nil {
		return "", fmt.Errorf("%w: missing response field", ErrProtocol)
	}
	return *v.Response, nil
}

// GenerateStream issues a streaming generate call. The returned stream is
// lazy: consuming it drives the network reads, and Close releases the
// connection even when iteration is abandoned early.
func (c *Client) GenerateStream(ctx context.Context, prompt string) (*tokenstream.Stream, error) {
	resp, err := c.post(ctx, GenerateRequest{Model: c.Model, Prompt: prompt, Stream: true, NumPredict: c.NumPredict})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", ErrProtocol, resp.StatusCode)
	}
	return tokenstream.New(resp.Body, c.FaultMessage), nil
}

// Health lists the models the backend advertises via /api/tags.
func (c *Client) Health(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	var v struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	var models []string
	for _, m := range v.Models {
		models = append(models, m.Name)
	}
	return models, nil
}

func (c *Client) post(ctx context.Context, gr GenerateRequest) (*http.Response, error) {
	b, _ := json.Marshal(gr)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/generate", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	return resp, nil
}

// classify maps transport errors onto the package sentinels.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}
