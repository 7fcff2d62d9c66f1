package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ssuyashhhh/H2K/internal/decision"
	xerrors "github.com/ssuyashhhh/H2K/internal/errors"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected error when api key is missing")
	}
}

func geminiReply(text string) map[string]any {
	return map[string]any{
		"candidates": []map[string]any{
			{
				"content": map[string]any{
					"parts": []map[string]any{
						{"text": text},
					},
				},
			},
		},
	}
}

func TestDecideSuccess(t *testing.T) {
	var captured struct {
		APIKey string
		Path   string
		Body   map[string]any
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.APIKey = r.Header.Get("x-goog-api-key")
		captured.Path = r.URL.Path
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&captured.Body); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(geminiReply(`{"next_agent":"risk_agent","reasoning":"assess the target"}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	d, err := client.Decide(context.Background(), decision.Context{
		UserInput:      "optimize my yield",
		HasProposal:    true,
		ProposalAction: "migrate",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.NextAgent != "risk_agent" || d.Reasoning != "assess the target" {
		t.Fatalf("unexpected decision: %+v", d)
	}

	if captured.APIKey != "test" {
		t.Fatalf("api key header missing: %q", captured.APIKey)
	}
	if !strings.Contains(captured.Path, "generateContent") {
		t.Fatalf("unexpected request path: %s", captured.Path)
	}
	if captured.Body["generationConfig"] == nil {
		t.Fatalf("generationConfig missing in request")
	}
}

func TestPromptCarriesPortfolioContext(t *testing.T) {
	dc := decision.Context{
		UserInput: "optimize my yield",
		Balances:  map[string]float64{"USDC": 10000, "ETH": 2},
		Positions: map[string]decision.PositionView{
			"Aave": {Amount: 10000, APY: 0.05},
		},
		Proposal: &decision.ProposalView{
			Action:      "migrate",
			Source:      "Aave",
			Destination: "Yearn",
			Asset:       "USDC",
			Amount:      100,
			CurrentAPY:  0.05,
			NewAPY:      0.12,
			APYGain:     0.07,
		},
		Assessment: &decision.AssessmentView{
			Protocol:  "Yearn",
			RiskScore: 10,
			Safe:      false,
			Factors:   map[string]float64{"hack_history_impact": 6},
		},
		Forecast: &decision.ForecastView{Trend: "stable", Volatility: "low", Confidence: 0.85},
	}

	prompt := buildPrompt(dc)
	for _, want := range []string{
		"USDC=10000",
		"ETH=2",
		"Aave={amount=10000 apy=5.00%}",
		"migrate 100 USDC from Aave to Yearn",
		"gain=7.00%",
		"Yearn scored 10.0/10",
		"hack_history_impact=6.00",
		"trend=stable",
		"confidence=0.85",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
	// Maps must not make the prompt order-dependent.
	if buildPrompt(dc) != prompt {
		t.Fatalf("prompt is not deterministic")
	}
}

func TestPromptMarksMissingArtifacts(t *testing.T) {
	prompt := buildPrompt(decision.Context{UserInput: "hello"})
	for _, want := range []string{"proposal: none", "risk_assessment: none", "forecast: none"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestDecideStripsCodeFence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fenced := "```json\n{\"next_agent\":\"END\",\"reasoning\":\"done\"}\n```"
		_ = json.NewEncoder(w).Encode(geminiReply(fenced))
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	d, err := client.Decide(context.Background(), decision.Context{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.NextAgent != "END" {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestDecideHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	_, err = client.Decide(context.Background(), decision.Context{})
	if err == nil {
		t.Fatalf("expected error when http status is not success")
	}
	if xerrors.CodeOf(err) != xerrors.CodeDecisionFailure {
		t.Fatalf("unexpected error code: %s", xerrors.CodeOf(err))
	}
}

func TestDecideRejectsNonJSONOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(geminiReply("let me think about that"))
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	if _, err := client.Decide(context.Background(), decision.Context{}); err == nil {
		t.Fatalf("expected error for free-form output")
	}
}

func TestDecideRejectsMissingNextAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(geminiReply(`{"reasoning":"no target"}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	if _, err := client.Decide(context.Background(), decision.Context{}); err == nil {
		t.Fatalf("expected error when next_agent is missing")
	}
}

func TestDecideTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = client.Decide(ctx, decision.Context{})
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if xerrors.CodeOf(err) != xerrors.CodeDecisionTimeout {
		t.Fatalf("unexpected error code: %s", xerrors.CodeOf(err))
	}
}
