// Package monitoring checks ingest and document pipeline health against
// configured thresholds.
package monitoring

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/licita-cli/internal/config"
	"github.com/sells-group/licita-cli/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertIngestFailureRate   AlertType = "ingest_failure_rate"
	AlertSourceFailure       AlertType = "source_failure"
	AlertDocumentFailureRate AlertType = "document_failure_rate"
)

// minSample is the finished ingest windows or settled documents a rate
// needs before it can alert.
const minSample = 5

// Alert is a single breached threshold.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a Snapshot against configured thresholds.
type Alerter struct {
	cfg config.MonitoringConfig
}

// NewAlerter creates an Alerter.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{cfg: cfg}
}

// Evaluate checks the snapshot and returns the alerts it triggers.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	finished := snap.IngestComplete + snap.IngestFailed
	if finished >= minSample && snap.IngestFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertIngestFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Ingest failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.IngestFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.IngestFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.IngestFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.IngestFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if len(snap.FailedSources) > 0 {
		names := make([]string, len(snap.FailedSources))
		for i, s := range snap.FailedSources {
			names[i] = string(s)
		}
		alerts = append(alerts, Alert{
			Type:     AlertSourceFailure,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d ingest window(s) failed in last %dh: %s",
				snap.IngestFailed, snap.LookbackHours, strings.Join(names, ", "),
			),
			Details: map[string]any{
				"failed_count": snap.IngestFailed,
				"sources":      names,
			},
			Timestamp: now,
		})
	}

	failedDocs := snap.Documents[model.DocFailed]
	settled := snap.Documents[model.DocIndexed] + failedDocs
	if settled >= minSample && snap.DocFailRate > a.cfg.DocFailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertDocumentFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Document failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d processed)",
				snap.DocFailRate*100, a.cfg.DocFailureRateThreshold*100, failedDocs, settled,
			),
			Details: map[string]any{
				"failure_rate": snap.DocFailRate,
				"threshold":    a.cfg.DocFailureRateThreshold,
				"failed":       failedDocs,
				"backlog":      snap.DocumentBacklog,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// Log writes each alert as a warning.
func (a *Alerter) Log(alerts []Alert) {
	for _, alert := range alerts {
		zap.L().Warn("monitoring: alert",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
			zap.String("message", alert.Message),
			zap.Any("details", alert.Details),
		)
	}
}
