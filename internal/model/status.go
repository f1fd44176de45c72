package model

// OpportunityStatus is the analysis lifecycle of an opportunity.
type OpportunityStatus string

const (
	StatusNew       OpportunityStatus = "new"
	StatusAnalyzing OpportunityStatus = "analyzing"
	StatusEligible  OpportunityStatus = "eligible"
	StatusDiscarded OpportunityStatus = "discarded"
	StatusSubmitted OpportunityStatus = "submitted"
)

var opportunityTransitions = map[OpportunityStatus][]OpportunityStatus{
	StatusNew:       {StatusAnalyzing, StatusEligible, StatusDiscarded},
	StatusAnalyzing: {StatusEligible, StatusDiscarded},
	StatusEligible:  {StatusSubmitted, StatusDiscarded},
}

// CanTransition reports whether moving from s to next is a forward step.
// Staying in the same state is allowed so retried work stays idempotent.
func (s OpportunityStatus) CanTransition(next OpportunityStatus) bool {
	if s == next {
		return true
	}
	for _, to := range opportunityTransitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// Revert is the one backward move: an opportunity stuck in analyzing goes
// back to prev once analysis retries are exhausted.
func (s OpportunityStatus) Revert(prev OpportunityStatus) (OpportunityStatus, bool) {
	if s != StatusAnalyzing || prev == StatusAnalyzing || prev == "" {
		return s, false
	}
	if !prev.CanTransition(StatusAnalyzing) {
		return s, false
	}
	return prev, true
}

// DocumentStatus is the processing state of one attached document.
type DocumentStatus string

const (
	DocPending     DocumentStatus = "pending"
	DocDownloading DocumentStatus = "downloading"
	DocDownloaded  DocumentStatus = "downloaded"
	DocExtracting  DocumentStatus = "extracting"
	DocIndexed     DocumentStatus = "indexed"
	DocFailed      DocumentStatus = "failed"
)

var documentTransitions = map[DocumentStatus][]DocumentStatus{
	DocPending:     {DocDownloading, DocFailed},
	DocDownloading: {DocDownloaded, DocFailed},
	DocDownloaded:  {DocExtracting},
	DocExtracting:  {DocIndexed, DocFailed},
	DocFailed:      {DocDownloading, DocExtracting},
	DocIndexed:     {DocExtracting},
}

// CanTransition reports whether a document may move from s to next.
// failed re-enters downloading or extracting on retry and indexed re-enters
// extracting when a document is reprocessed.
func (s DocumentStatus) CanTransition(next DocumentStatus) bool {
	if s == next {
		return true
	}
	for _, to := range documentTransitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

var documentStatuses = []DocumentStatus{
	DocPending, DocDownloading, DocDownloaded, DocExtracting, DocIndexed, DocFailed,
}

// AllowedFrom lists every status that may move to s, s itself included.
func (s DocumentStatus) AllowedFrom() []DocumentStatus {
	var out []DocumentStatus
	for _, from := range documentStatuses {
		if from.CanTransition(s) {
			out = append(out, from)
		}
	}
	return out
}

// HasFile reports whether a document in status s holds downloaded bytes.
func (s DocumentStatus) HasFile() bool {
	switch s {
	case DocDownloaded, DocExtracting, DocIndexed:
		return true
	}
	return false
}
