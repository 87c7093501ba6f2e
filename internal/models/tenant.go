package models

import (
	"time"

	"github.com/google/uuid"
)

type SendingMode string

const (
	// SendingModeDraft saves the message into the tenant's drafts folder for a human to send.
	SendingModeDraft SendingMode = "DRAFT"
	// SendingModeAuto sends the message over SMTP.
	SendingModeAuto SendingMode = "AUTO"
)

func (m SendingMode) Valid() bool {
	return m == SendingModeDraft || m == SendingModeAuto
}

// TenantMode selects the prompt strategy collaborators use for a tenant.
type TenantMode string

const (
	TenantModeSales   TenantMode = "SALES"
	TenantModeJobHunt TenantMode = "JOB_HUNT"
)

type WarmupConfig struct {
	Enabled        bool       `json:"enabled" db:"warmup_enabled"`
	StartLimit     int        `json:"start_limit" db:"warmup_start_limit"`
	DailyIncrement int        `json:"daily_increment" db:"warmup_daily_increment"`
	StartedAt      *time.Time `json:"started_at,omitempty" db:"warmup_started_at"`
}

type MailboxConfig struct {
	SenderName     string `json:"sender_name" db:"sender_name"`
	Username       string `json:"username" db:"mailbox_username"`
	Password       string `json:"-" db:"mailbox_password"`
	SMTPHost       string `json:"smtp_host" db:"smtp_host"`
	SMTPPort       int    `json:"smtp_port" db:"smtp_port"`
	IMAPHost       string `json:"imap_host" db:"imap_host"`
	IMAPPort       int    `json:"imap_port" db:"imap_port"`
	DraftsFolder   string `json:"drafts_folder,omitempty" db:"drafts_folder"`
	HTMLFooter     string `json:"html_footer,omitempty" db:"html_footer"`
	AttachmentPath string `json:"attachment_path,omitempty" db:"attachment_path"`
}

// TenantProfile is the strategic context handed to content collaborators.
type TenantProfile struct {
	Industry             string `json:"industry" db:"industry"`
	ValueProposition     string `json:"value_proposition" db:"value_proposition"`
	IdealCustomerProfile string `json:"ideal_customer_profile" db:"ideal_customer_profile"`
	ToneOfVoice          string `json:"tone_of_voice" db:"tone_of_voice"`
	NegativeConstraints  string `json:"negative_constraints" db:"negative_constraints"`
	CaseStudies          string `json:"case_studies" db:"case_studies"`
}

type Tenant struct {
	ID               uuid.UUID     `json:"id" db:"id"`
	Name             string        `json:"name" db:"name"`
	Active           bool          `json:"active" db:"active"`
	Mode             TenantMode    `json:"mode" db:"mode"`
	SendingMode      SendingMode   `json:"sending_mode" db:"sending_mode"`
	DailyTargetLimit int           `json:"daily_target_limit" db:"daily_target_limit"`
	Warmup           WarmupConfig  `json:"warmup"`
	Mailbox          MailboxConfig `json:"mailbox"`
	Profile          TenantProfile `json:"profile"`
	CreatedAt        time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at" db:"updated_at"`
}

// SenderDisplayName falls back to the tenant name when no sender is configured.
func (t Tenant) SenderDisplayName() string {
	if t.Mailbox.SenderName != "" {
		return t.Mailbox.SenderName
	}
	return t.Name
}

type UpdateWarmupRequest struct {
	Enabled        bool `json:"enabled"`
	StartLimit     *int `json:"start_limit,omitempty" binding:"omitempty,min=0"`
	DailyIncrement *int `json:"daily_increment,omitempty" binding:"omitempty,min=0"`
}

type UpdateLimitsRequest struct {
	DailyTargetLimit *int        `json:"daily_target_limit,omitempty" binding:"omitempty,min=0"`
	SendingMode      SendingMode `json:"sending_mode,omitempty" binding:"omitempty,oneof=DRAFT AUTO"`
}
