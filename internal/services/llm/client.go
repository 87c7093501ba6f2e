// Package llm talks to an OpenAI-compatible chat-completions gateway in JSON mode.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/galihcitta/multi-tenant-outreach-engine/internal/config"
	"github.com/galihcitta/multi-tenant-outreach-engine/internal/models"
)

const (
	maxResearchInput = 70000
	maxReplyInput    = 2000
	usedQueryWindow  = 50
)

type Client struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
	logger  *zap.Logger
}

func NewClient(cfg config.LLMConfig, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
	}
}

func (c *Client) AnalyzeCompany(ctx context.Context, tenant models.Tenant, content string, htmlEmails []string) (*CompanyResearch, error) {
	var out CompanyResearch
	if err := c.complete(ctx, researchPrompt(tenant.Mode, htmlEmails), Truncate(content, maxResearchInput), 0.1, &out); err != nil {
		return nil, fmt.Errorf("failed to analyze company: %w", err)
	}
	return &out, nil
}

// WriteEmail drafts the message for req.Step: opener, bump or break-up.
func (c *Client) WriteEmail(ctx context.Context, req WriteRequest) (*EmailDraft, error) {
	user := "Write the email."
	if req.Feedback != "" {
		user += "\n\nTHE PREVIOUS VERSION WAS REJECTED: " + req.Feedback
	}

	var out EmailDraft
	if err := c.complete(ctx, writerPrompt(req), user, 0.7, &out); err != nil {
		return nil, fmt.Errorf("failed to write email: %w", err)
	}
	if strings.TrimSpace(out.Subject) == "" || strings.TrimSpace(out.Body) == "" {
		return nil, fmt.Errorf("failed to write email: empty subject or body")
	}
	return &out, nil
}

func (c *Client) AuditEmail(ctx context.Context, draft EmailDraft, company models.Company) (*AuditResult, error) {
	var out AuditResult
	if err := c.complete(ctx, auditPrompt(draft, company), "Audit the draft.", 0, &out); err != nil {
		return nil, fmt.Errorf("failed to audit email: %w", err)
	}
	return &out, nil
}

func (c *Client) ClassifyReply(ctx context.Context, tenant models.Tenant, body string) (*ReplyAnalysis, error) {
	var out ReplyAnalysis
	user := "Analyse this reply from a prospect:\n\n" + Truncate(body, maxReplyInput)
	if err := c.complete(ctx, replyPrompt(tenant), user, 0, &out); err != nil {
		return nil, fmt.Errorf("failed to classify reply: %w", err)
	}
	out.Sentiment = strings.ToUpper(strings.TrimSpace(out.Sentiment))
	return &out, nil
}

// PlanSearch proposes map-search queries that avoid the campaign's used ones.
func (c *Client) PlanSearch(ctx context.Context, tenant models.Tenant, campaign models.Campaign, used []string) (*SearchPlan, error) {
	if len(used) > usedQueryWindow {
		used = used[len(used)-usedQueryWindow:]
	}

	var out SearchPlan
	if err := c.complete(ctx, strategyPrompt(tenant, campaign, used), "Prepare a fresh map-search strategy.", 0.7, &out); err != nil {
		return nil, fmt.Errorf("failed to plan search: %w", err)
	}
	return &out, nil
}

func (c *Client) complete(ctx context.Context, system, user string, temperature float64, out interface{}) error {
	payload := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature:    temperature,
		ResponseFormat: responseFormat{Type: "json_object"},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call llm gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("LLM gateway rejected request",
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(snippet)))
		return fmt.Errorf("llm gateway returned status %d", resp.StatusCode)
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if decoded.Error != nil {
		return fmt.Errorf("llm gateway error: %s", decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return fmt.Errorf("llm gateway returned no choices")
	}

	content := stripFences(decoded.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("failed to parse structured output: %w", err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// stripFences removes a markdown code fence some models wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// Truncate cuts s to at most limit bytes without splitting a rune.
func Truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
