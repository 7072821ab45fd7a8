package service

import (
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/smart-medical/diagnosis-server/internal/domain"
)

// AnomalyDetector evaluates lab indicator values against reference ranges
// and reports deviations with a severity classification.
type AnomalyDetector struct {
	rules  *domain.ScoringRules
	logger *logrus.Logger
}

// NewAnomalyDetector creates a new anomaly detector
func NewAnomalyDetector(rules *domain.ScoringRules, logger *logrus.Logger) *AnomalyDetector {
	return &AnomalyDetector{
		rules:  rules,
		logger: logger,
	}
}

// Detect computes a signed deviation score for every indicator that appears
// both in the lab record and in the reference table, returning only the
// out-of-range ones. Indicators with malformed values or without a usable
// reference are skipped, never failing the batch. The result is ordered by
// indicator name so repeated runs over the same record are identical.
func (d *AnomalyDetector) Detect(indicators map[string]domain.LabValue, refs domain.ReferenceTable) []domain.AnomalyRecord {
	anomalies := make([]domain.AnomalyRecord, 0)

	names := make([]string, 0, len(indicators))
	for name := range indicators {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		reading := indicators[name]

		value, ok := parseReading(reading.Value)
		if !ok {
			d.logger.WithFields(logrus.Fields{
				"indicator": name,
				"value":     reading.Value,
			}).Debug("Skipping indicator with non-numeric value")
			continue
		}

		ref, ok := d.resolveReference(name, reading, refs)
		if !ok {
			continue
		}

		deviation, ok := deviationScore(value, ref)
		if !ok {
			continue
		}
		if deviation == 0 {
			// In range, including values exactly on a boundary.
			continue
		}

		display := reading.Reference
		if display == "" {
			display = ref.Display()
		}

		anomalies = append(anomalies, domain.AnomalyRecord{
			Indicator:      name,
			CurrentValue:   reading.Value,
			ReferenceRange: display,
			DeviationScore: deviation,
			Severity:       d.rules.SeverityFor(abs(deviation)),
		})
	}

	return anomalies
}

// resolveReference prefers the static reference table and falls back to a
// min-max band parsed from the reading's own reference string.
func (d *AnomalyDetector) resolveReference(name string, reading domain.LabValue, refs domain.ReferenceTable) (domain.ReferenceRange, bool) {
	if ref, ok := refs[name]; ok {
		return ref, true
	}
	if reading.Abbreviation != "" {
		if ref, ok := refs[reading.Abbreviation]; ok {
			return ref, true
		}
	}
	if lo, hi, ok := parseBand(reading.Reference); ok {
		return domain.ReferenceRange{Indicator: name, Min: &lo, Max: &hi}, true
	}
	return domain.ReferenceRange{}, false
}

// deviationScore returns a signed z-score-like deviation. For mean/sd
// references it is the plain z-score. For min-max bands the band quarter
// width stands in for one standard deviation, so the severity cut points
// apply uniformly. Zero means in range; boundary values count as in range.
func deviationScore(value float64, ref domain.ReferenceRange) (float64, bool) {
	if ref.Mean != nil && ref.SD != nil {
		if *ref.SD <= 0 {
			return 0, false
		}
		z := (value - *ref.Mean) / *ref.SD
		if abs(z) <= 2 {
			// Mean/sd references treat mean±2sd as the normal band.
			// The boundary itself counts as in range.
			return 0, true
		}
		return z, true
	}

	if ref.Min != nil && ref.Max != nil {
		lo, hi := *ref.Min, *ref.Max
		if hi <= lo {
			return 0, false
		}
		sd := (hi - lo) / 4
		switch {
		case value > hi:
			return (value - hi) / sd, true
		case value < lo:
			return (value - lo) / sd, true
		default:
			return 0, true
		}
	}

	return 0, false
}

// parseReading extracts a numeric value from a lab reading string. Report
// extraction occasionally yields comparator-prefixed readings like ">1000";
// the comparator is dropped and the bound used as the value.
func parseReading(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimLeft(s, "<>≤≥=~ ")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseBand parses a "lo-hi" style reference string.
func parseBand(raw string) (float64, float64, bool) {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, "－", "-")
	s = strings.ReplaceAll(s, "~", "-")
	if s == "" {
		return 0, 0, false
	}
	idx := strings.Index(s[1:], "-")
	if idx < 0 {
		return 0, 0, false
	}
	idx++
	lo, err1 := strconv.ParseFloat(strings.TrimSpace(s[:idx]), 64)
	hi, err2 := strconv.ParseFloat(strings.TrimSpace(s[idx+1:]), 64)
	if err1 != nil || err2 != nil || hi <= lo {
		return 0, 0, false
	}
	return lo, hi, true
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
