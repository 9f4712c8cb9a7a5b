package validator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/johnayoung/cexdata/internal/models"
)

// OHLCVValidator implements SeriesAuditor with decimal arithmetic.
type OHLCVValidator struct {
	config *ValidationConfig
	logger *slog.Logger
}

// NewOHLCVValidator creates a validator. A nil config uses the defaults.
func NewOHLCVValidator(config *ValidationConfig, logger *slog.Logger) *OHLCVValidator {
	if config == nil {
		config = NewValidationConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OHLCVValidator{
		config: config,
		logger: logger.With("component", "ohlcv_validator"),
	}
}

// Audit implements SeriesAuditor.
func (v *OHLCVValidator) Audit(ctx context.Context, candles []models.Candle) (*AuditResult, error) {
	result := &AuditResult{
		Candles: len(candles),
		Counts:  make(map[AnomalyType]int),
	}
	record := func(a Anomaly) {
		result.Counts[a.Type]++
		if v.config.MaxAnomalies == 0 || len(result.Anomalies) < v.config.MaxAnomalies {
			result.Anomalies = append(result.Anomalies, a)
		}
	}

	spike := decimal.NewFromFloat(v.config.PriceSpikeThreshold)
	surge := decimal.NewFromFloat(v.config.VolumeSurgeThreshold)

	for i, c := range candles {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		for _, a := range DetectLogicalAnomalies(c) {
			record(a)
		}
		if i == 0 {
			continue
		}

		prev := candles[i-1]
		if exceedsRatio(c.High, prev.High, spike) {
			record(Anomaly{
				Type:      AnomalyTypePriceSpike,
				Severity:  SeverityWarning,
				Timestamp: c.Timestamp,
				Message:   fmt.Sprintf("high %v is more than %v times previous high %v", c.High, spike, prev.High),
			})
		}
		if exceedsRatio(c.Volume, prev.Volume, surge) {
			record(Anomaly{
				Type:      AnomalyTypeVolumeSurge,
				Severity:  SeverityWarning,
				Timestamp: c.Timestamp,
				Message:   fmt.Sprintf("volume %v is more than %v times previous volume %v", c.Volume, surge, prev.Volume),
			})
		}
	}

	if total := result.Total(); total > 0 {
		v.logger.Debug("Audit found anomalies", "candles", len(candles), "anomalies", total)
	}
	return result, nil
}

// DetectLogicalAnomalies checks the OHLC relationships of one candle:
// high >= max(open, close) and low <= min(open, close), with positive prices.
func DetectLogicalAnomalies(c models.Candle) []Anomaly {
	open := decimal.NewFromFloat(c.Open)
	high := decimal.NewFromFloat(c.High)
	low := decimal.NewFromFloat(c.Low)
	closePrice := decimal.NewFromFloat(c.Close)

	var anomalies []Anomaly
	add := func(msg string, args ...any) {
		anomalies = append(anomalies, Anomaly{
			Type:      AnomalyTypeLogic,
			Severity:  SeverityError,
			Timestamp: c.Timestamp,
			Message:   fmt.Sprintf(msg, args...),
		})
	}

	if high.LessThan(decimal.Max(open, closePrice)) {
		add("high %s is less than max of open %s and close %s", high, open, closePrice)
	}
	if low.GreaterThan(decimal.Min(open, closePrice)) {
		add("low %s is greater than min of open %s and close %s", low, open, closePrice)
	}
	for _, p := range []struct {
		name  string
		value decimal.Decimal
	}{{"open", open}, {"high", high}, {"low", low}, {"close", closePrice}} {
		if !p.value.IsPositive() {
			add("%s price must be positive, got %s", p.name, p.value)
		}
	}
	return anomalies
}

func exceedsRatio(current, previous float64, threshold decimal.Decimal) bool {
	prev := decimal.NewFromFloat(previous)
	if prev.IsZero() {
		return false
	}
	return decimal.NewFromFloat(current).Div(prev).GreaterThan(threshold)
}
