package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/licita-cli/internal/ingest"
	"github.com/sells-group/licita-cli/internal/model"
)

// recentRunLimit caps how many ingest runs a snapshot inspects.
const recentRunLimit = 1000

// Snapshot holds a point-in-time view of pipeline health.
type Snapshot struct {
	// Ingest windows started within the lookback window.
	IngestTotal    int     `json:"ingest_total"`
	IngestComplete int     `json:"ingest_complete"`
	IngestFailed   int     `json:"ingest_failed"`
	IngestRunning  int     `json:"ingest_running"`
	IngestFailRate float64 `json:"ingest_fail_rate"`
	IngestCreated  int     `json:"ingest_created"`
	RecordErrors   int     `json:"record_errors"`

	// FailedSources lists sources with at least one failed window.
	FailedSources []model.Source `json:"failed_sources,omitempty"`

	// Documents across all time, by status.
	Documents       map[model.DocumentStatus]int `json:"documents"`
	DocumentsTotal  int                          `json:"documents_total"`
	DocFailRate     float64                      `json:"doc_fail_rate"`
	DocumentBacklog int                          `json:"document_backlog"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister abstracts the ingest run log.
type RunLister interface {
	Recent(ctx context.Context, limit int) ([]ingest.RunEntry, error)
}

// DocumentCounter abstracts the document status counts.
type DocumentCounter interface {
	CountDocumentsByStatus(ctx context.Context) (map[model.DocumentStatus]int, error)
}

// Collector gathers a Snapshot from the run log and the store.
type Collector struct {
	runs RunLister
	docs DocumentCounter
	now  func() time.Time
}

// NewCollector creates a Collector. docs may be nil to skip document counts.
func NewCollector(runs RunLister, docs DocumentCounter) *Collector {
	return &Collector{runs: runs, docs: docs, now: time.Now}
}

// Collect builds a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
		Documents:     map[model.DocumentStatus]int{},
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	entries, err := c.runs.Recent(ctx, recentRunLimit)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	failed := make(map[model.Source]bool)
	for _, e := range entries {
		if e.StartedAt.Before(cutoff) {
			continue
		}
		snap.IngestTotal++
		snap.IngestCreated += e.Created
		snap.RecordErrors += e.Errors
		switch e.Status {
		case ingest.RunComplete:
			snap.IngestComplete++
		case ingest.RunFailed:
			snap.IngestFailed++
			if !failed[e.Source] {
				failed[e.Source] = true
				snap.FailedSources = append(snap.FailedSources, e.Source)
			}
		case ingest.RunRunning:
			snap.IngestRunning++
		}
	}
	if finished := snap.IngestComplete + snap.IngestFailed; finished > 0 {
		snap.IngestFailRate = float64(snap.IngestFailed) / float64(finished)
	}

	if c.docs == nil {
		return snap, nil
	}
	counts, err := c.docs.CountDocumentsByStatus(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count documents")
	}
	for status, n := range counts {
		snap.Documents[status] = n
		snap.DocumentsTotal += n
	}
	snap.DocumentBacklog = counts[model.DocPending] + counts[model.DocDownloading] +
		counts[model.DocDownloaded] + counts[model.DocExtracting]
	if settled := counts[model.DocIndexed] + counts[model.DocFailed]; settled > 0 {
		snap.DocFailRate = float64(counts[model.DocFailed]) / float64(settled)
	}
	return snap, nil
}
