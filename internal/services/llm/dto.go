package llm

import "github.com/galihcitta/multi-tenant-outreach-engine/internal/models"

// CompanyResearch is the structured analysis of a scraped website.
type CompanyResearch struct {
	CompanyName    string   `json:"company_name"`
	Summary        string   `json:"summary"`
	TargetAudience string   `json:"target_audience"`
	KeyProducts    []string `json:"key_products"`
	TechStack      []string `json:"tech_stack"`
	DecisionMakers []string `json:"decision_makers"`
	ContactEmails  []string `json:"contact_emails"`
	HiringSignals  []string `json:"hiring_signals"`
	Icebreaker     string   `json:"icebreaker"`
	PainPoints     []string `json:"pain_points_or_opportunities"`
}

type EmailDraft struct {
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	Rationale string `json:"rationale"`
}

type AuditResult struct {
	Passed         bool     `json:"passed"`
	Feedback       string   `json:"feedback"`
	Hallucinations []string `json:"hallucinations_detected"`
}

const SentimentNegative = "NEGATIVE"

type ReplyAnalysis struct {
	IsInterested    bool   `json:"is_interested"`
	Sentiment       string `json:"sentiment"`
	Summary         string `json:"summary"`
	SuggestedAction string `json:"suggested_action"`
}

type SearchPlan struct {
	Thinking        string   `json:"thinking_process"`
	Queries         []string `json:"search_queries"`
	TargetLocations []string `json:"target_locations"`
}

// WriteRequest carries everything the writer prompt needs for one step of the sequence.
type WriteRequest struct {
	Tenant        models.Tenant
	Company       models.Company
	DecisionMaker string
	Analysis      string
	Step          int
	Feedback      string
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}
