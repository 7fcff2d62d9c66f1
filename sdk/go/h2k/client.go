// Package h2k provides a thin Go client for the H2K coordination REST API.
package h2k

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the H2K REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// ChatRequest is the payload for submitting a portfolio management request.
// WalletAddress and UserID are optional; the server falls back to its
// configured managed wallet when they are absent.
type ChatRequest struct {
	Message       string `json:"message"`
	WalletAddress string `json:"walletAddress,omitempty"`
	UserID        string `json:"userId,omitempty"`
}

// ChatResponse acknowledges an accepted execution.
type ChatResponse struct {
	ExecutionID string `json:"execution_id"`
	PortfolioID string `json:"portfolio_id"`
	Status      string `json:"status"`
	Message     string `json:"message"`
}

// Execution is the client-side view of an execution snapshot.
type Execution struct {
	PortfolioID          string           `json:"portfolio_id"`
	ExecutionID          string           `json:"execution_id"`
	UserInput            string           `json:"user_input"`
	Status               string           `json:"status"`
	NextAgent            string           `json:"next_agent"`
	IterationCount       int              `json:"iteration_count"`
	Proposal             map[string]any   `json:"proposal,omitempty"`
	RiskAssessment       map[string]any   `json:"risk_assessment,omitempty"`
	Forecast             map[string]any   `json:"forecast,omitempty"`
	Validation           map[string]any   `json:"validation,omitempty"`
	ExecutedTransactions []map[string]any `json:"executed_transactions,omitempty"`
	ReasoningLog         []string         `json:"reasoning_log,omitempty"`
	Errors               []string         `json:"errors,omitempty"`
	CreatedAt            int64            `json:"created_at"`
	UpdatedAt            int64            `json:"updated_at"`
}

// DecisionEntry is one entry of the execution trace. Routing decisions
// carry NextAgent; agent steps carry the produced artifact in Payload.
type DecisionEntry struct {
	Iteration int    `json:"iteration"`
	AgentName string `json:"agent_name,omitempty"`
	Kind      string `json:"kind,omitempty"`
	NextAgent string `json:"next_agent,omitempty"`
	Reasoning string `json:"reasoning"`
	Payload   string `json:"payload,omitempty"`
	DecidedAt int64  `json:"decided_at"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("h2k api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("h2k api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the H2K API. When httpClient is nil, a
// default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) *Client {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		panic(fmt.Sprintf("invalid base url: %v", err))
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}
}

// SubmitChat submits a natural-language request and returns the accepted execution.
func (c *Client) SubmitChat(ctx context.Context, message string) (ChatResponse, error) {
	var resp ChatResponse
	if err := c.post(ctx, "/api/v1/chat", ChatRequest{Message: message}, &resp); err != nil {
		return ChatResponse{}, err
	}
	return resp, nil
}

// GetExecution fetches an execution snapshot by identifier.
func (c *Client) GetExecution(ctx context.Context, executionID string) (Execution, error) {
	var execution Execution
	endpoint := "/api/v1/executions/" + url.PathEscape(executionID)
	if err := c.get(ctx, endpoint, &execution); err != nil {
		return Execution{}, err
	}
	return execution, nil
}

// ListExecutions fetches the most recent executions.
func (c *Client) ListExecutions(ctx context.Context, limit int) ([]Execution, error) {
	endpoint := "/api/v1/executions"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var wrapper struct {
		Executions []Execution `json:"executions"`
	}
	if err := c.get(ctx, endpoint, &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Executions, nil
}

// GetDecisions fetches the routing decision trace of an execution.
func (c *Client) GetDecisions(ctx context.Context, executionID string) ([]DecisionEntry, error) {
	endpoint := "/api/v1/executions/" + url.PathEscape(executionID) + "/decisions"
	var wrapper struct {
		Decisions []DecisionEntry `json:"decisions"`
	}
	if err := c.get(ctx, endpoint, &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Decisions, nil
}

// WaitUntilCompleted polls an execution until it reaches a terminal status.
func (c *Client) WaitUntilCompleted(ctx context.Context, executionID string, interval time.Duration) (Execution, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		execution, err := c.GetExecution(ctx, executionID)
		if err != nil {
			return Execution{}, err
		}
		if execution.Status == "completed" || execution.Status == "failed" {
			return execution, nil
		}
		select {
		case <-ctx.Done():
			return Execution{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parsed.Path), RawQuery: parsed.RawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
