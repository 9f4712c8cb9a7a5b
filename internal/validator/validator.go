// Package validator audits stored candle series for data quality problems.
//
// Candle.Validate already rejects rows that can never be valid (negative
// prices, high below low). The validator looks for rows that are legal but
// suspicious: OHLC relationships that do not hold, sudden price spikes and
// volume surges relative to the previous candle.
package validator

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/johnayoung/cexdata/internal/models"
)

// AnomalyType categorizes a finding.
type AnomalyType string

const (
	AnomalyTypeLogic       AnomalyType = "logic_error"
	AnomalyTypePriceSpike  AnomalyType = "price_spike"
	AnomalyTypeVolumeSurge AnomalyType = "volume_surge"
)

// Severity ranks findings.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Anomaly is one finding in a series.
type Anomaly struct {
	Type      AnomalyType `json:"type"`
	Severity  Severity    `json:"severity"`
	Timestamp int64       `json:"timestamp"` // open time of the offending candle
	Message   string      `json:"message"`
}

// SeriesAuditor checks a time-ordered slice of candles.
type SeriesAuditor interface {
	// Audit returns the anomalies found in candles, oldest first. The
	// candles must be sorted by timestamp.
	Audit(ctx context.Context, candles []models.Candle) (*AuditResult, error)
}

// ValidationConfig configures the thresholds of the auditor.
type ValidationConfig struct {
	// PriceSpikeThreshold is the ratio of a high to the previous high above
	// which a candle is flagged, e.g. 5.0 for a 500% move.
	PriceSpikeThreshold float64

	// VolumeSurgeThreshold is the ratio of a volume to the previous volume
	// above which a candle is flagged.
	VolumeSurgeThreshold float64

	// MaxAnomalies caps the findings kept per audit; 0 keeps all of them.
	// Counts are exact either way.
	MaxAnomalies int
}

// NewValidationConfig returns the default thresholds.
func NewValidationConfig() *ValidationConfig {
	return &ValidationConfig{
		PriceSpikeThreshold:  5.0,
		VolumeSurgeThreshold: 10.0,
		MaxAnomalies:         100,
	}
}

// AuditResult summarizes one audit.
type AuditResult struct {
	Candles   int                 `json:"candles"`
	Counts    map[AnomalyType]int `json:"counts"`
	Anomalies []Anomaly           `json:"anomalies"`
}

// Total returns the number of anomalies found, including ones beyond the cap.
func (r *AuditResult) Total() int {
	total := 0
	for _, n := range r.Counts {
		total += n
	}
	return total
}

// QualityScore is the share of candles without any finding, in [0, 1].
func (r *AuditResult) QualityScore() float64 {
	if r.Candles == 0 {
		return 1
	}
	clean := r.Candles - r.Total()
	if clean < 0 {
		clean = 0
	}
	return decimal.NewFromInt(int64(clean)).
		Div(decimal.NewFromInt(int64(r.Candles))).
		Round(4).
		InexactFloat64()
}
