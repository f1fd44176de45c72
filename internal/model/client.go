package model

import (
	"time"

	"github.com/google/uuid"
)

// Client is a supplier profile matched against opportunities.
type Client struct {
	ID             uuid.UUID        `json:"id" yaml:"-"`
	Name           string           `json:"name" yaml:"name"`
	CNPJ           string           `json:"cnpj" yaml:"cnpj"`
	TradeName      string           `json:"trade_name" yaml:"trade_name"`
	Email          string           `json:"email" yaml:"email"`
	Regions        []string         `json:"regions" yaml:"regions"`
	Keywords       []string         `json:"keywords" yaml:"keywords"`
	Categories     []string         `json:"categories" yaml:"categories"`
	MinMarginPct   *float64         `json:"min_margin_pct,omitempty" yaml:"min_margin_pct"`
	MaxValue       *float64         `json:"max_value,omitempty" yaml:"max_value"`
	LogisticsReach string           `json:"logistics_reach" yaml:"logistics_reach"`
	Restrictions   string           `json:"restrictions" yaml:"restrictions"`
	IsActive       bool             `json:"is_active" yaml:"is_active"`
	NotifyEmail    bool             `json:"notify_email" yaml:"notify_email"`
	Documents      []ClientDocument `json:"documents" yaml:"documents"`
	CreatedAt      time.Time        `json:"created_at" yaml:"-"`
}

// ClientDocument is a certificate or registration a client holds.
type ClientDocument struct {
	DocType   string     `json:"doc_type" yaml:"doc_type"`
	Status    string     `json:"status" yaml:"status"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" yaml:"expires_at"`
}

// Match is the fit score of one client for one opportunity.
type Match struct {
	ID                  uuid.UUID `json:"id"`
	OpportunityID       uuid.UUID `json:"opportunity_id"`
	ClientID            uuid.UUID `json:"client_id"`
	Score               int       `json:"score"`
	Justification       string    `json:"justification"`
	MissingDocs         []string  `json:"missing_docs"`
	MissingCapabilities []string  `json:"missing_capabilities"`
	Evidence            []string  `json:"evidence"`
	PromptVersion       string    `json:"prompt_version"`
	ModelUsed           string    `json:"model_used"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// ClampScore bounds a raw LLM score to 0..100.
func ClampScore(v float64) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return int(v)
}
