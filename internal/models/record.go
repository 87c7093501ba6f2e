package models

import (
	"time"

	"github.com/google/uuid"
)

type RecordStatus string

const (
	StatusNew           RecordStatus = "NEW"
	StatusAnalyzed      RecordStatus = "ANALYZED"
	StatusDrafted       RecordStatus = "DRAFTED"
	StatusSent          RecordStatus = "SENT"
	StatusHotLead       RecordStatus = "HOT_LEAD"
	StatusNotInterested RecordStatus = "NOT_INTERESTED"
	StatusBounced       RecordStatus = "BOUNCED"
	StatusManualCheck   RecordStatus = "MANUAL_CHECK"
	StatusReplied       RecordStatus = "REPLIED"
)

// MaxStepNumber caps the follow-up sequence: opener plus two reminders.
const MaxStepNumber = 3

var allStatuses = []RecordStatus{
	StatusNew, StatusAnalyzed, StatusDrafted, StatusSent,
	StatusHotLead, StatusNotInterested, StatusBounced, StatusManualCheck, StatusReplied,
}

func (s RecordStatus) Valid() bool {
	for _, status := range allStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Terminal statuses are never selected for another action.
func (s RecordStatus) Terminal() bool {
	switch s {
	case StatusHotLead, StatusNotInterested, StatusBounced, StatusManualCheck, StatusReplied:
		return true
	}
	return false
}

type Record struct {
	ID              uuid.UUID    `json:"id" db:"id"`
	TenantID        uuid.UUID    `json:"tenant_id" db:"tenant_id"`
	CampaignID      uuid.UUID    `json:"campaign_id" db:"campaign_id"`
	CompanyName     string       `json:"company_name" db:"company_name"`
	Domain          string       `json:"domain" db:"domain"`
	Status          RecordStatus `json:"status" db:"status"`
	StepNumber      int          `json:"step_number" db:"step_number"`
	LastActionAt    *time.Time   `json:"last_action_at,omitempty" db:"last_action_at"`
	SentAt          *time.Time   `json:"sent_at,omitempty" db:"sent_at"`
	RepliedAt       *time.Time   `json:"replied_at,omitempty" db:"replied_at"`
	AnalysisSummary string       `json:"analysis_summary,omitempty" db:"analysis_summary"`
	DraftSubject    string       `json:"draft_subject,omitempty" db:"draft_subject"`
	DraftBody       string       `json:"draft_body,omitempty" db:"draft_body"`
	TargetEmail     string       `json:"target_email,omitempty" db:"target_email"`
	ConfidenceScore int          `json:"confidence_score" db:"confidence_score"`
	ReplyContent    string       `json:"reply_content,omitempty" db:"reply_content"`
	ReplySentiment  string       `json:"reply_sentiment,omitempty" db:"reply_sentiment"`
	ReplyAnalysis   string       `json:"reply_analysis,omitempty" db:"reply_analysis"`
	CreatedAt       time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at" db:"updated_at"`
}

// LastTouch is the latest of SentAt and LastActionAt, or nil if neither is set.
func (r Record) LastTouch() *time.Time {
	switch {
	case r.SentAt == nil:
		return r.LastActionAt
	case r.LastActionAt == nil:
		return r.SentAt
	case r.LastActionAt.After(*r.SentAt):
		return r.LastActionAt
	default:
		return r.SentAt
	}
}

// Analysis is what the research step writes back on a NEW record.
type Analysis struct {
	Status          RecordStatus
	Summary         string
	TargetEmail     string
	ConfidenceScore int
}

// Draft is what the drafting step writes back on an ANALYZED record.
type Draft struct {
	Status          RecordStatus
	Subject         string
	Body            string
	ConfidenceScore int
}

// Reply is what the inbox step writes back when a prospect answers.
type Reply struct {
	Status    RecordStatus
	RepliedAt time.Time
	Content   string
	Sentiment string
	Analysis  string
}

type RecordFilter struct {
	Status RecordStatus `form:"status"`
}

type RecordListResponse struct {
	Data       []Record `json:"data"`
	NextCursor *string  `json:"next_cursor,omitempty"`
}

type PaginationParams struct {
	Cursor string `form:"cursor"`
	Limit  int    `form:"limit"`
}
