package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ExtractedRequirement is a habilitação requirement found by extraction.
type ExtractedRequirement struct {
	ID            uuid.UUID           `json:"id"`
	OpportunityID uuid.UUID           `json:"opportunity_id"`
	Category      RequirementCategory `json:"category"`
	Requirement   string              `json:"requirement"`
	Evidence      string              `json:"evidence"`
	IsMandatory   bool                `json:"is_mandatory"`
	CreatedAt     time.Time           `json:"created_at"`
}

// AISummary is one stored LLM output for an opportunity.
type AISummary struct {
	ID            uuid.UUID       `json:"id"`
	OpportunityID uuid.UUID       `json:"opportunity_id"`
	AnalysisType  AnalysisType    `json:"analysis_type"`
	Content       json.RawMessage `json:"content"`
	PromptVersion string          `json:"prompt_version"`
	ModelUsed     string          `json:"model_used"`
	TokensUsed    int             `json:"tokens_used"`
	ElapsedMs     int64           `json:"elapsed_ms"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Fields decodes Content as an object. Non-object content yields nil.
func (s *AISummary) Fields() map[string]any {
	var m map[string]any
	if err := json.Unmarshal(s.Content, &m); err != nil {
		return nil
	}
	return m
}
