package models

import "errors"

var (
	ErrTenantNotFound    = errors.New("tenant not found")
	ErrRecordNotFound    = errors.New("record not found")
	ErrCampaignNotFound  = errors.New("campaign not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidRecipient  = errors.New("invalid recipient address")
	ErrUnknownStatus     = errors.New("unknown record status")
	ErrInvalidRequest    = errors.New("invalid request")
	// ErrStaleRecord means a conditional update matched no row because the record moved on.
	ErrStaleRecord = errors.New("record state changed concurrently")
)
