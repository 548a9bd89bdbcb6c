package insights

import (
	"sort"
	"time"

	"github.com/therealutkarshpriyadarshi/delivery/pkg/models"
)

// Config holds aggregation granularity and recommendation thresholds
type Config struct {
	BucketSize         time.Duration
	MinBitrate         float64 // below this the session is flagged
	MaxBufferingEvents int     // per report window
	MinProviderScore   float64
	TrendTolerance     float64 // relative change treated as noise
}

func DefaultConfig() Config {
	return Config{
		BucketSize:         time.Minute,
		MinBitrate:         2_000_000,
		MaxBufferingEvents: 5,
		MinProviderScore:   60,
		TrendTolerance:     0.1,
	}
}

// Recommendation codes
const (
	RecLowBitrate        = "low_bitrate"
	RecFrequentBuffering = "frequent_buffering"
	RecProviderDegraded  = "provider_degraded"
)

// Analyzer turns raw quality samples and health snapshots into bucketed
// reports with a trend verdict and threshold recommendations. It holds no
// state: callers feed it whatever window of data they queried.
type Analyzer struct {
	cfg Config
}

func NewAnalyzer(cfg Config) *Analyzer {
	if cfg.BucketSize <= 0 {
		cfg.BucketSize = time.Minute
	}
	if cfg.TrendTolerance <= 0 {
		cfg.TrendTolerance = 0.1
	}
	return &Analyzer{cfg: cfg}
}

// QualityReport aggregates a session's samples into fixed buckets and
// derives trend plus recommendations for the whole window.
func (a *Analyzer) QualityReport(sessionID string, samples []models.QualitySample, window time.Duration) models.QualityReport {
	report := models.QualityReport{
		SessionID:   sessionID,
		Window:      window,
		GeneratedAt: time.Now(),
		Trend:       models.TrendStable,
	}
	if len(samples) == 0 {
		return report
	}

	report.Buckets = a.bucketize(samples)
	report.Trend = a.trend(qualitySeries(report.Buckets))

	var totalBuffering int
	var bitrateSum float64
	for _, b := range report.Buckets {
		totalBuffering += b.BufferingEvents
		bitrateSum += b.AvgBitrate * float64(b.SampleCount)
	}
	avgBitrate := bitrateSum / float64(len(samples))

	if avgBitrate < a.cfg.MinBitrate {
		report.Recommendations = append(report.Recommendations, models.Recommendation{
			Code:     RecLowBitrate,
			Severity: "warning",
			Message:  "Average delivered bitrate is below 2 Mbps; consider relaxing the session's quality ceiling or checking the network path",
		})
	}
	if totalBuffering > a.cfg.MaxBufferingEvents {
		report.Recommendations = append(report.Recommendations, models.Recommendation{
			Code:     RecFrequentBuffering,
			Severity: "warning",
			Message:  "Buffering events exceed the acceptable rate for this window; the session is likely overreaching its bandwidth",
		})
	}
	return report
}

// ProviderReport aggregates a provider's probe history over a window
func (a *Analyzer) ProviderReport(providerName string, snapshots []models.HealthSnapshot, window time.Duration) models.ProviderReport {
	report := models.ProviderReport{
		Provider:    providerName,
		Window:      window,
		GeneratedAt: time.Now(),
		Trend:       models.TrendStable,
	}
	if len(snapshots) == 0 {
		return report
	}

	ordered := make([]models.HealthSnapshot, len(snapshots))
	copy(ordered, snapshots)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ProbedAt.Before(ordered[j].ProbedAt) })

	scores := make([]float64, len(ordered))
	for i, s := range ordered {
		scores[i] = s.Score
		report.AvgScore += s.Score
		report.AvgLatencyMs += s.LatencyMs
		report.AvgErrorRate += s.ErrorRate
	}
	n := float64(len(ordered))
	report.AvgScore /= n
	report.AvgLatencyMs /= n
	report.AvgErrorRate /= n
	report.Trend = a.trend(scores)

	if report.AvgScore < a.cfg.MinProviderScore {
		report.Recommendations = append(report.Recommendations, models.Recommendation{
			Code:     RecProviderDegraded,
			Severity: "warning",
			Message:  "Provider health has been below the serviceable threshold for this window; consider lowering its priority or removing it from rotation",
		})
	}
	return report
}

// bucketize groups samples into BucketSize windows aligned to the clock
func (a *Analyzer) bucketize(samples []models.QualitySample) []models.MetricsBucket {
	ordered := make([]models.QualitySample, len(samples))
	copy(ordered, samples)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Timestamp.Before(ordered[j].Timestamp) })

	var buckets []models.MetricsBucket
	var current *models.MetricsBucket

	for _, s := range ordered {
		start := s.Timestamp.Truncate(a.cfg.BucketSize)
		if current == nil || !current.Start.Equal(start) {
			buckets = append(buckets, models.MetricsBucket{
				Start: start,
				End:   start.Add(a.cfg.BucketSize),
			})
			current = &buckets[len(buckets)-1]
		}

		current.SampleCount++
		current.AvgBitrate += float64(s.Bitrate)
		current.AvgLatencyMs += s.LatencyMs
		current.AvgBandwidth += float64(s.Bandwidth)
		current.AvgQualityScore += s.QualityScore
		current.BufferingEvents += s.BufferingEvents
	}

	for i := range buckets {
		n := float64(buckets[i].SampleCount)
		buckets[i].AvgBitrate /= n
		buckets[i].AvgLatencyMs /= n
		buckets[i].AvgBandwidth /= n
		buckets[i].AvgQualityScore /= n
	}
	return buckets
}

// trend compares the first and second half of a series. Relative changes
// inside the tolerance band are reported as stable; fewer than two points
// never yields a verdict.
func (a *Analyzer) trend(series []float64) string {
	if len(series) < 2 {
		return models.TrendStable
	}

	mid := len(series) / 2
	first := mean(series[:mid])
	second := mean(series[mid:])

	if first == 0 {
		if second > 0 {
			return models.TrendImproving
		}
		return models.TrendStable
	}

	change := (second - first) / first
	switch {
	case change > a.cfg.TrendTolerance:
		return models.TrendImproving
	case change < -a.cfg.TrendTolerance:
		return models.TrendDeclining
	default:
		return models.TrendStable
	}
}

// qualitySeries picks the per-bucket series the trend is judged on. Quality
// score is preferred; sessions that never reported one fall back to bitrate.
func qualitySeries(buckets []models.MetricsBucket) []float64 {
	series := make([]float64, len(buckets))
	var anyScore bool
	for i, b := range buckets {
		series[i] = b.AvgQualityScore
		if b.AvgQualityScore > 0 {
			anyScore = true
		}
	}
	if anyScore {
		return series
	}
	for i, b := range buckets {
		series[i] = b.AvgBitrate
	}
	return series
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
