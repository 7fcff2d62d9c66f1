package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/ssuyashhhh/H2K/internal/decision"
	xerrors "github.com/ssuyashhhh/H2K/internal/errors"
)

const (
	defaultBaseURL   = "https://generativelanguage.googleapis.com"
	defaultModelName = "gemini-2.0-flash"
	defaultTimeout   = 30 * time.Second
)

// Config 描述了调用 Gemini generateContent API 所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client 通过 HTTP 调用 Gemini 做路由决策。
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient 根据配置创建 Gemini 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 Gemini API Key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Decide 调用 Gemini 生成下一步路由指令。
// 响应必须是 {"next_agent": ..., "reasoning": ...} 形式的 JSON，
// 解析失败按决策失败处理，超时单独归类为决策超时。
func (c *Client) Decide(ctx context.Context, dc decision.Context) (*decision.Decision, error) {
	payload, err := c.buildPayload(dc)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, c.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeDecisionFailure, err, "构建 Gemini 请求失败")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return nil, xerrors.Wrap(xerrors.CodeDecisionTimeout, err, "请求 Gemini 超时")
		}
		return nil, xerrors.Wrap(xerrors.CodeDecisionFailure, err, "请求 Gemini 失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, xerrors.New(xerrors.CodeDecisionFailure,
			fmt.Sprintf("Gemini 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var decoded struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeDecisionFailure, err, "解析 Gemini 响应失败")
	}
	if len(decoded.Candidates) == 0 || len(decoded.Candidates[0].Content.Parts) == 0 {
		return nil, xerrors.New(xerrors.CodeDecisionFailure, "Gemini 响应中没有有效的 candidates")
	}

	content := strings.TrimSpace(decoded.Candidates[0].Content.Parts[0].Text)
	content = stripCodeFence(content)
	if content == "" {
		return nil, xerrors.New(xerrors.CodeDecisionFailure, "Gemini 响应内容为空")
	}

	var structured decision.Decision
	if err := json.Unmarshal([]byte(content), &structured); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeDecisionFailure, err,
			fmt.Sprintf("Gemini 输出不是合法的决策 JSON: %s", truncate(content)))
	}
	if strings.TrimSpace(structured.NextAgent) == "" {
		return nil, xerrors.New(xerrors.CodeDecisionFailure, "Gemini 决策缺少 next_agent 字段")
	}
	return &structured, nil
}

func (c *Client) buildPayload(dc decision.Context) ([]byte, error) {
	body := map[string]any{
		"contents": []map[string]any{
			{
				"parts": []map[string]string{
					{"text": buildPrompt(dc)},
				},
			},
		},
		"generationConfig": map[string]any{
			"temperature":        0.1,
			"response_mime_type": "application/json",
		},
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeDecisionFailure, err, "序列化 Gemini 请求失败")
	}
	return encoded, nil
}

const systemPrompt = "" +
	"You are the orchestrator of a DeFi portfolio management system. " +
	"Based on the current execution state, decide which agent should act next. " +
	"Valid targets: strategy_agent, risk_agent, forecast_agent, notify_agent, " +
	"validation_agent, EXECUTE_ACTION, END. " +
	"A migration proposal must be risk-assessed and validated before EXECUTE_ACTION. " +
	"Respond with a compact JSON object: {\"next_agent\": string, \"reasoning\": string}."

func buildPrompt(dc decision.Context) string {
	var builder strings.Builder
	builder.WriteString(systemPrompt)
	builder.WriteString("\n\n## Current state\n")
	builder.WriteString(fmt.Sprintf("user_request: %s\n", strings.TrimSpace(dc.UserInput)))
	builder.WriteString(fmt.Sprintf("iteration: %d\n", dc.IterationCount))

	// 余额与持仓按名称排序输出，保证相同状态生成相同提示词。
	builder.WriteString("balances:")
	for _, asset := range sortedKeys(dc.Balances) {
		builder.WriteString(fmt.Sprintf(" %s=%g", asset, dc.Balances[asset]))
	}
	builder.WriteString("\n")
	builder.WriteString("positions:")
	for _, protocol := range sortedPositionKeys(dc.Positions) {
		position := dc.Positions[protocol]
		builder.WriteString(fmt.Sprintf(" %s={amount=%g apy=%.2f%%}", protocol, position.Amount, position.APY*100))
	}
	builder.WriteString("\n")

	if dc.Proposal != nil {
		builder.WriteString(fmt.Sprintf("proposal: %s %g %s from %s to %s (current_apy=%.2f%% new_apy=%.2f%% gain=%.2f%%)\n",
			dc.Proposal.Action, dc.Proposal.Amount, dc.Proposal.Asset,
			dc.Proposal.Source, dc.Proposal.Destination,
			dc.Proposal.CurrentAPY*100, dc.Proposal.NewAPY*100, dc.Proposal.APYGain*100))
	} else {
		builder.WriteString("proposal: none\n")
	}
	if dc.Assessment != nil {
		builder.WriteString(fmt.Sprintf("risk_assessment: %s scored %.1f/10 safe=%t factors={", dc.Assessment.Protocol, dc.Assessment.RiskScore, dc.Assessment.Safe))
		for idx, name := range sortedKeys(dc.Assessment.Factors) {
			if idx > 0 {
				builder.WriteString(" ")
			}
			builder.WriteString(fmt.Sprintf("%s=%.2f", name, dc.Assessment.Factors[name]))
		}
		builder.WriteString("}\n")
	} else {
		builder.WriteString("risk_assessment: none\n")
	}
	if dc.Forecast != nil {
		builder.WriteString(fmt.Sprintf("forecast: trend=%s volatility=%s confidence=%.2f\n",
			dc.Forecast.Trend, dc.Forecast.Volatility, dc.Forecast.Confidence))
	} else {
		builder.WriteString("forecast: none\n")
	}
	builder.WriteString(fmt.Sprintf("has_validation: %t", dc.HasValidation))
	if dc.HasValidation {
		builder.WriteString(fmt.Sprintf(" (passed=%t)", dc.ValidationOK))
	}
	builder.WriteString("\n")
	builder.WriteString(fmt.Sprintf("has_executed_transactions: %t\n", dc.HasExecution))
	builder.WriteString(fmt.Sprintf("has_notifications: %t\n", dc.HasNotification))

	if len(dc.RecentReasoning) > 0 {
		builder.WriteString("\n## Recent reasoning\n")
		for idx, entry := range dc.RecentReasoning {
			builder.WriteString(fmt.Sprintf("[%d] %s\n", idx+1, truncate(entry)))
		}
	}
	return builder.String()
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func sortedPositionKeys(m map[string]decision.PositionView) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// stripCodeFence 去掉模型偶尔包裹在 JSON 外面的 Markdown 代码块。
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(text string) string {
	text = strings.TrimSpace(text)
	if len([]rune(text)) > 120 {
		return string([]rune(text)[:120]) + "..."
	}
	return text
}
