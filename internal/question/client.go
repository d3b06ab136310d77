// Package question holds the client for the question-selection service,
// which hands out a question id for a given difficulty.
package question

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Client fetches random question ids from the question service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a question service client.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

type randomQuestionResponse struct {
	ID string `json:"id"`
}

// RandomQuestion returns the id of a random question of the given difficulty.
func (c *Client) RandomQuestion(ctx context.Context, difficulty string) (string, error) {
	values := url.Values{}
	values.Set("difficulty", difficulty)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/api/questions/random?%s", c.baseURL, values.Encode()), nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("question service non-200: %d", resp.StatusCode)
	}

	var payload randomQuestionResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	if payload.ID == "" {
		return "", fmt.Errorf("question service returned empty id for difficulty %q", difficulty)
	}
	return payload.ID, nil
}
