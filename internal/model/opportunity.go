package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Opportunity is a persisted procurement notice.
type Opportunity struct {
	ID             uuid.UUID         `json:"id"`
	Source         Source            `json:"source"`
	ExternalID     string            `json:"external_id"`
	DedupHash      string            `json:"dedup_hash"`
	ObjectHash     string            `json:"object_hash"`
	Title          string            `json:"title"`
	Description    string            `json:"description"`
	Modality       Modality          `json:"modality"`
	Number         string            `json:"number"`
	ProcessNumber  string            `json:"process_number"`
	EntityCNPJ     string            `json:"entity_cnpj"`
	EntityName     string            `json:"entity_name"`
	EntityUF       string            `json:"entity_uf"`
	EntityCity     string            `json:"entity_city"`
	PublishedAt    *time.Time        `json:"published_at,omitempty"`
	OpeningAt      *time.Time        `json:"opening_at,omitempty"`
	ClosingAt      *time.Time        `json:"closing_at,omitempty"`
	Deadline       *time.Time        `json:"deadline,omitempty"`
	EstimatedValue *float64          `json:"estimated_value,omitempty"`
	AwardedValue   *float64          `json:"awarded_value,omitempty"`
	IsSRP          bool              `json:"is_srp"`
	Link           string            `json:"link"`
	Status         OpportunityStatus `json:"status"`
	RawData        json.RawMessage   `json:"raw_data,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// OpportunityItem is one line item of a notice.
type OpportunityItem struct {
	ID                 uuid.UUID       `json:"id"`
	OpportunityID      uuid.UUID       `json:"opportunity_id"`
	ItemNumber         int             `json:"item_number"`
	Description        string          `json:"description"`
	Quantity           *float64        `json:"quantity,omitempty"`
	Unit               string          `json:"unit"`
	EstimatedUnitPrice *float64        `json:"estimated_unit_price,omitempty"`
	EstimatedTotal     *float64        `json:"estimated_total,omitempty"`
	MaterialOrService  string          `json:"material_or_service"`
	RawData            json.RawMessage `json:"raw_data,omitempty"`
}

// OpportunityDetail bundles an opportunity with its children for display.
type OpportunityDetail struct {
	Opportunity
	Items        []OpportunityItem      `json:"items"`
	Documents    []OpportunityDocument  `json:"documents"`
	Requirements []ExtractedRequirement `json:"requirements"`
	Summaries    []AISummary            `json:"summaries"`
}
