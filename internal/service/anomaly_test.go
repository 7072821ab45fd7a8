package service

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smart-medical/diagnosis-server/internal/domain"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func bandRef(name string, lo, hi float64) domain.ReferenceRange {
	return domain.ReferenceRange{Indicator: name, Min: &lo, Max: &hi}
}

func meanRef(name string, mean, sd float64) domain.ReferenceRange {
	return domain.ReferenceRange{Indicator: name, Mean: &mean, SD: &sd}
}

func TestAnomalyDetector_HighIndicators(t *testing.T) {
	detector := NewAnomalyDetector(domain.DefaultScoringRules(), testLogger())

	indicators := map[string]domain.LabValue{
		"WBC": {Value: "12.5", Unit: "10^9/L", Reference: "4-10"},
		"ALT": {Value: "85", Unit: "U/L", Reference: "0-40"},
	}
	refs := domain.ReferenceTable{
		"WBC": bandRef("WBC", 4, 10),
		"ALT": bandRef("ALT", 0, 40),
	}

	anomalies := detector.Detect(indicators, refs)
	require.Len(t, anomalies, 2)

	for _, a := range anomalies {
		assert.True(t, a.IsHigh(), "indicator %s should be high", a.Indicator)
		assert.Positive(t, a.DeviationScore)
	}

	// Sorted by indicator name.
	assert.Equal(t, "ALT", anomalies[0].Indicator)
	assert.Equal(t, "WBC", anomalies[1].Indicator)

	assert.Equal(t, domain.SeveritySevere, anomalies[0].Severity)
	assert.Equal(t, domain.SeverityMild, anomalies[1].Severity)
}

func TestAnomalyDetector_InRangeExcluded(t *testing.T) {
	detector := NewAnomalyDetector(domain.DefaultScoringRules(), testLogger())

	indicators := map[string]domain.LabValue{
		"WBC": {Value: "7.2"},
		"HGB": {Value: "140"},
	}
	refs := domain.ReferenceTable{
		"WBC": bandRef("WBC", 4, 10),
		"HGB": bandRef("HGB", 120, 160),
	}

	assert.Empty(t, detector.Detect(indicators, refs))
}

func TestAnomalyDetector_BoundaryCountsAsInRange(t *testing.T) {
	detector := NewAnomalyDetector(domain.DefaultScoringRules(), testLogger())

	indicators := map[string]domain.LabValue{
		"WBC": {Value: "10"},
		"PLT": {Value: "100"},
	}
	refs := domain.ReferenceTable{
		"WBC": bandRef("WBC", 4, 10),
		"PLT": bandRef("PLT", 100, 300),
	}

	assert.Empty(t, detector.Detect(indicators, refs))
}

func TestAnomalyDetector_LowDirection(t *testing.T) {
	detector := NewAnomalyDetector(domain.DefaultScoringRules(), testLogger())

	indicators := map[string]domain.LabValue{
		"HGB": {Value: "60", Unit: "g/L"},
	}
	refs := domain.ReferenceTable{
		"HGB": bandRef("HGB", 120, 160),
	}

	anomalies := detector.Detect(indicators, refs)
	require.Len(t, anomalies, 1)
	assert.False(t, anomalies[0].IsHigh())
	assert.Negative(t, anomalies[0].DeviationScore)
	assert.Equal(t, domain.SeveritySevere, anomalies[0].Severity)
}

func TestAnomalyDetector_MeanSDReference(t *testing.T) {
	detector := NewAnomalyDetector(domain.DefaultScoringRules(), testLogger())

	refs := domain.ReferenceTable{
		"GLU": meanRef("GLU", 5.0, 0.5),
	}

	// Within two standard deviations, including the boundary itself.
	for _, v := range []string{"5.0", "5.9", "6.0", "4.0"} {
		anomalies := detector.Detect(map[string]domain.LabValue{"GLU": {Value: v}}, refs)
		assert.Empty(t, anomalies, "value %s should be in range", v)
	}

	anomalies := detector.Detect(map[string]domain.LabValue{"GLU": {Value: "6.5"}}, refs)
	require.Len(t, anomalies, 1)
	assert.InDelta(t, 3.0, anomalies[0].DeviationScore, 1e-9)
	assert.Equal(t, domain.SeveritySevere, anomalies[0].Severity)
}

func TestAnomalyDetector_MalformedValueSkipped(t *testing.T) {
	detector := NewAnomalyDetector(domain.DefaultScoringRules(), testLogger())

	indicators := map[string]domain.LabValue{
		"WBC": {Value: "阳性"},
		"ALT": {Value: "85"},
	}
	refs := domain.ReferenceTable{
		"WBC": bandRef("WBC", 4, 10),
		"ALT": bandRef("ALT", 0, 40),
	}

	anomalies := detector.Detect(indicators, refs)
	require.Len(t, anomalies, 1)
	assert.Equal(t, "ALT", anomalies[0].Indicator)
}

func TestAnomalyDetector_ComparatorPrefixedValue(t *testing.T) {
	detector := NewAnomalyDetector(domain.DefaultScoringRules(), testLogger())

	indicators := map[string]domain.LabValue{
		"CRP": {Value: ">200", Unit: "mg/L"},
	}
	refs := domain.ReferenceTable{
		"CRP": bandRef("CRP", 0, 8),
	}

	anomalies := detector.Detect(indicators, refs)
	require.Len(t, anomalies, 1)
	assert.True(t, anomalies[0].IsHigh())
	assert.Equal(t, ">200", anomalies[0].CurrentValue)
}

func TestAnomalyDetector_UnknownReferenceSkipped(t *testing.T) {
	detector := NewAnomalyDetector(domain.DefaultScoringRules(), testLogger())

	indicators := map[string]domain.LabValue{
		"OBSCURE": {Value: "99"},
	}

	assert.Empty(t, detector.Detect(indicators, domain.ReferenceTable{}))
}

func TestAnomalyDetector_RecordReferenceFallback(t *testing.T) {
	detector := NewAnomalyDetector(domain.DefaultScoringRules(), testLogger())

	indicators := map[string]domain.LabValue{
		"D-Dimer": {Value: "3.2", Unit: "mg/L", Reference: "0-0.5"},
	}

	anomalies := detector.Detect(indicators, domain.ReferenceTable{})
	require.Len(t, anomalies, 1)
	assert.Equal(t, "0-0.5", anomalies[0].ReferenceRange)
	assert.Equal(t, domain.SeveritySevere, anomalies[0].Severity)
}

func TestAnomalyDetector_DeterministicOrder(t *testing.T) {
	detector := NewAnomalyDetector(domain.DefaultScoringRules(), testLogger())

	indicators := map[string]domain.LabValue{
		"WBC": {Value: "15"},
		"ALT": {Value: "90"},
		"CRP": {Value: "40"},
	}
	refs := domain.ReferenceTable{
		"WBC": bandRef("WBC", 4, 10),
		"ALT": bandRef("ALT", 0, 40),
		"CRP": bandRef("CRP", 0, 8),
	}

	first := detector.Detect(indicators, refs)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, detector.Detect(indicators, refs))
	}
}
