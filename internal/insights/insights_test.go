package insights

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/delivery/pkg/models"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func sample(offset time.Duration, bitrate int64, score float64, buffering int) models.QualitySample {
	return models.QualitySample{
		SessionID:       "sess-1",
		Timestamp:       base.Add(offset),
		Bitrate:         bitrate,
		Bandwidth:       bitrate * 2,
		LatencyMs:       80,
		QualityScore:    score,
		BufferingEvents: buffering,
	}
}

func snapshot(offset time.Duration, score, latency, errorRate float64) models.HealthSnapshot {
	return models.HealthSnapshot{
		Provider:  "edge",
		Score:     score,
		LatencyMs: latency,
		ErrorRate: errorRate,
		ProbedAt:  base.Add(offset),
	}
}

func TestQualityReportBucketsByMinute(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())

	samples := []models.QualitySample{
		sample(10*time.Second, 5_000_000, 80, 0),
		sample(40*time.Second, 3_000_000, 80, 1),
		sample(70*time.Second, 5_000_000, 80, 0),
	}

	report := a.QualityReport("sess-1", samples, 5*time.Minute)
	require.Len(t, report.Buckets, 2)

	first := report.Buckets[0]
	assert.Equal(t, base, first.Start)
	assert.Equal(t, base.Add(time.Minute), first.End)
	assert.Equal(t, 2, first.SampleCount)
	assert.Equal(t, 4_000_000.0, first.AvgBitrate)
	assert.Equal(t, 1, first.BufferingEvents)

	assert.Equal(t, 1, report.Buckets[1].SampleCount)
}

func TestQualityReportUnorderedSamples(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())

	samples := []models.QualitySample{
		sample(70*time.Second, 5_000_000, 80, 0),
		sample(10*time.Second, 5_000_000, 80, 0),
	}

	report := a.QualityReport("sess-1", samples, 5*time.Minute)
	require.Len(t, report.Buckets, 2)
	assert.True(t, report.Buckets[0].Start.Before(report.Buckets[1].Start))
}

func TestQualityReportEmpty(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())

	report := a.QualityReport("sess-1", nil, 5*time.Minute)
	assert.Empty(t, report.Buckets)
	assert.Equal(t, models.TrendStable, report.Trend)
	assert.Empty(t, report.Recommendations)
}

func TestQualityTrend(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())

	tests := []struct {
		name   string
		scores []float64
		want   string
	}{
		{"improving", []float64{50, 55, 70, 75}, models.TrendImproving},
		{"declining", []float64{80, 78, 60, 55}, models.TrendDeclining},
		{"stable within tolerance", []float64{70, 71, 72, 73}, models.TrendStable},
		{"single bucket", []float64{70}, models.TrendStable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var samples []models.QualitySample
			for i, score := range tt.scores {
				samples = append(samples, sample(time.Duration(i)*time.Minute, 5_000_000, score, 0))
			}
			report := a.QualityReport("sess-1", samples, 10*time.Minute)
			assert.Equal(t, tt.want, report.Trend)
		})
	}
}

func TestQualityRecommendations(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())

	t.Run("low bitrate flagged", func(t *testing.T) {
		samples := []models.QualitySample{
			sample(0, 1_200_000, 60, 0),
			sample(time.Minute, 1_100_000, 60, 0),
		}
		report := a.QualityReport("sess-1", samples, 5*time.Minute)
		require.Len(t, report.Recommendations, 1)
		assert.Equal(t, RecLowBitrate, report.Recommendations[0].Code)
	})

	t.Run("frequent buffering flagged", func(t *testing.T) {
		samples := []models.QualitySample{
			sample(0, 5_000_000, 60, 4),
			sample(time.Minute, 5_000_000, 60, 3),
		}
		report := a.QualityReport("sess-1", samples, 5*time.Minute)
		require.Len(t, report.Recommendations, 1)
		assert.Equal(t, RecFrequentBuffering, report.Recommendations[0].Code)
	})

	t.Run("healthy session gets none", func(t *testing.T) {
		samples := []models.QualitySample{
			sample(0, 5_000_000, 85, 0),
			sample(time.Minute, 5_000_000, 85, 1),
		}
		report := a.QualityReport("sess-1", samples, 5*time.Minute)
		assert.Empty(t, report.Recommendations)
	})
}

func TestProviderReport(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())

	snapshots := []models.HealthSnapshot{
		snapshot(0, 90, 100, 0.01),
		snapshot(5*time.Minute, 80, 150, 0.02),
		snapshot(10*time.Minute, 70, 250, 0.03),
		snapshot(15*time.Minute, 60, 350, 0.04),
	}

	report := a.ProviderReport("edge", snapshots, time.Hour)
	assert.InDelta(t, 75.0, report.AvgScore, 0.001)
	assert.InDelta(t, 212.5, report.AvgLatencyMs, 0.001)
	assert.InDelta(t, 0.025, report.AvgErrorRate, 0.0001)
	assert.Equal(t, models.TrendDeclining, report.Trend)
	assert.Empty(t, report.Recommendations)
}

func TestProviderReportDegradedRecommendation(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())

	snapshots := []models.HealthSnapshot{
		snapshot(0, 50, 600, 0.2),
		snapshot(5*time.Minute, 55, 550, 0.15),
	}

	report := a.ProviderReport("edge", snapshots, time.Hour)
	require.Len(t, report.Recommendations, 1)
	assert.Equal(t, RecProviderDegraded, report.Recommendations[0].Code)
}

func TestProviderReportEmpty(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())

	report := a.ProviderReport("edge", nil, time.Hour)
	assert.Zero(t, report.AvgScore)
	assert.Equal(t, models.TrendStable, report.Trend)
}
