package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"gilded/internal/economy"
)

// Client talks to the gilded admin API.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// APIError is a non-2xx response from the admin API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

type Plan struct {
	Name string `json:"name"`
	Cost int64  `json:"cost"`
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   strings.TrimSpace(token),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Accounts(ctx context.Context) ([]economy.Account, error) {
	var out struct {
		Accounts []economy.Account `json:"accounts"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/accounts", nil, &out, "")
	return out.Accounts, err
}

func (c *Client) Account(ctx context.Context, playerID string) (economy.Account, error) {
	var out economy.Account
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(playerID), nil, &out, "")
	return out, err
}

func (c *Client) Log(ctx context.Context, playerID string, limit int) ([]economy.LogEntry, error) {
	q := url.Values{}
	if playerID != "" {
		q.Set("player", playerID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/v1/log"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out struct {
		Entries []economy.LogEntry `json:"entries"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, path, nil, &out, "")
	return out.Entries, err
}

func (c *Client) Market(ctx context.Context) ([]economy.MarketItem, error) {
	var out struct {
		Offering []economy.MarketItem `json:"offering"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/market", nil, &out, "")
	return out.Offering, err
}

func (c *Client) Plans(ctx context.Context) ([]Plan, error) {
	var out struct {
		Plans []Plan `json:"plans"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/plans", nil, &out, "")
	return out.Plans, err
}

// StartSession asks the server to run a session. Retrying with the same idem
// key returns the original report instead of billing again.
func (c *Client) StartSession(ctx context.Context, idem string) (economy.SessionReport, error) {
	var out economy.SessionReport
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/sessions", nil, &out, idem)
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, in any, out any, idem string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Message: errorMessage(raw)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func errorMessage(raw []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}
