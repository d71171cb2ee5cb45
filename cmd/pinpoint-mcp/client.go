package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/use-agent/pinpoint/models"
)

// client talks to the Pinpoint HTTP API.
type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newClient(baseURL, apiKey string) *client {
	return &client{baseURL: baseURL, apiKey: apiKey, http: &http.Client{Timeout: 120 * time.Second}}
}

// apiError is returned for non-2xx responses that carry an error body.
type apiError struct {
	Status int
	Detail models.ErrorDetail
}

func (e *apiError) Error() string {
	return fmt.Sprintf("[%s] %s (HTTP %d)", e.Detail.Code, e.Detail.Message, e.Status)
}

// do sends a request and decodes a 2xx body into out.
func (c *client) do(ctx context.Context, method, path string, query url.Values, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var eb struct {
			Error *models.ErrorDetail `json:"error"`
		}
		if json.Unmarshal(raw, &eb) == nil && eb.Error != nil {
			return &apiError{Status: resp.StatusCode, Detail: *eb.Error}
		}
		return fmt.Errorf("API returned HTTP %d", resp.StatusCode)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}
