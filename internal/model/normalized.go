package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// NormalizedOpportunity is a connector's source-agnostic view of one
// record. It is consumed once by the normalizer.
type NormalizedOpportunity struct {
	Source         Source
	ExternalID     string
	Title          string
	Description    string
	Modality       Modality
	Number         string
	ProcessNumber  string
	EntityCNPJ     string
	EntityName     string
	EntityUF       string
	EntityCity     string
	PublishedAt    string
	OpeningAt      string
	ClosingAt      string
	EstimatedValue *float64
	AwardedValue   *float64
	IsSRP          bool
	Link           string
	RawData        json.RawMessage
	Items          []ItemInput
	Documents      []DocumentRef
}

// Deadline is the closing date when present, else the opening date.
func (n NormalizedOpportunity) Deadline() string {
	if n.ClosingAt != "" {
		return n.ClosingAt
	}
	return n.OpeningAt
}

// ItemInput is a line item before persistence.
type ItemInput struct {
	ItemNumber         int
	Description        string
	Quantity           *float64
	Unit               string
	EstimatedUnitPrice *float64
	EstimatedTotal     *float64
	MaterialOrService  string
	RawData            json.RawMessage
}

// DocumentRef points at a document to download later.
type DocumentRef struct {
	URL      string
	FileName string
	DocType  string
}

// UpcomingDeadline is an opportunity closing soon.
type UpcomingDeadline struct {
	OpportunityID uuid.UUID
	Title         string
	EntityName    string
	Status        OpportunityStatus
	Deadline      time.Time
}
