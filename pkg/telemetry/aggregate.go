package telemetry

import (
	"sort"
	"time"

	"github.com/edge-tutor/node/pkg/models"
)

// JobSummary is one background job's per-interval counters (spec §4.7/§4.9:
// "emits a summary counter to telemetry: checks, updates-applied, failures").
type JobSummary struct {
	Checks         int
	UpdatesApplied int
	Failures       int
}

// Summary is one hourly aggregation (spec §4.8 step 2).
type Summary struct {
	HourBucket           time.Time
	Count                int
	SuccessCount         int
	FailureCount         int
	LatencyP50MS         int64
	LatencyP90MS         int64
	LatencyP99MS         int64
	ErrorKindCounts      map[string]int
	CacheHitRate         float64
	SubjectCounts        map[string]int
	VKPVersionCounts     map[string]int
	StorageUsageBytes    map[string]int64
	JobSummaries         map[string]JobSummary
	SchoolIDHash         string
	OverflowCount        int64
	RejectedCount        int64
	TopicUnresolvedCount int
}

// aggregate reduces a snapshot of TelemetryEvents into one hourly Summary.
// storageUsage and jobs are probed/drained by the caller at tick time.
func aggregate(hourBucket time.Time, events []models.TelemetryEvent, overflow int64, storageUsage map[string]int64, jobs map[string]JobSummary, schoolIDHash string) Summary {
	s := Summary{
		HourBucket:        hourBucket,
		ErrorKindCounts:   make(map[string]int),
		SubjectCounts:     make(map[string]int),
		VKPVersionCounts:  make(map[string]int),
		StorageUsageBytes: storageUsage,
		JobSummaries:      jobs,
		SchoolIDHash:      schoolIDHash,
		OverflowCount:     overflow,
	}
	if s.StorageUsageBytes == nil {
		s.StorageUsageBytes = make(map[string]int64)
	}
	if s.JobSummaries == nil {
		s.JobSummaries = make(map[string]JobSummary)
	}

	latencies := make([]int64, 0, len(events))
	var cacheHits int
	for _, e := range events {
		s.Count++
		if e.Success {
			s.SuccessCount++
		} else {
			s.FailureCount++
			if e.ErrorKind != "" {
				s.ErrorKindCounts[e.ErrorKind]++
			}
		}
		if e.SubjectID != "" {
			s.SubjectCounts[e.SubjectID]++
		}
		if e.ActiveVKPVersion != "" {
			s.VKPVersionCounts[e.ActiveVKPVersion]++
		}
		if e.CacheHit {
			cacheHits++
		}
		if e.TopicUnresolved {
			s.TopicUnresolvedCount++
		}
		latencies = append(latencies, e.LatencyMS)
	}

	if s.Count > 0 {
		s.CacheHitRate = float64(cacheHits) / float64(s.Count)
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	s.LatencyP50MS = percentile(latencies, 0.50)
	s.LatencyP90MS = percentile(latencies, 0.90)
	s.LatencyP99MS = percentile(latencies, 0.99)

	return s
}

// percentile returns the p-th percentile (0..1) of a pre-sorted slice using
// nearest-rank.
func percentile(sorted []int64, p float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p*float64(len(sorted)-1) + 0.5)
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
