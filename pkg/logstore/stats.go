package logstore

import (
	"sort"
	"strconv"
	"time"
)

// ErrorTypeCounts buckets errors into coarse classes: server (5xx), client
// (4xx), network (network-error flag), other.
type ErrorTypeCounts struct {
	Server  int `json:"server"`
	Client  int `json:"client"`
	Network int `json:"network"`
	Other   int `json:"other"`
}

// GroupedErrorStats is the derived aggregate over non-deleted error entries.
// Never persisted; recomputed on demand.
type GroupedErrorStats struct {
	Total        int             `json:"total"`
	ByService    map[string]int  `json:"by_service"`
	ByStatusCode map[int]int     `json:"by_status_code"`
	ByEndpoint   map[string]int  `json:"by_endpoint"`
	ByDay        map[string]int  `json:"by_day"`
	ByErrorType  ErrorTypeCounts `json:"by_error_type"`
}

// AICallStats is the derived aggregate over non-deleted AI-call entries.
type AICallStats struct {
	Total       int            `json:"total"`
	Success     int            `json:"success"`
	Failure     int            `json:"failure"`
	ByProvider  map[string]int `json:"by_provider"`
	ByModel     map[string]int `json:"by_model"`
	ByOperation map[string]int `json:"by_operation"`
	Usage       TokenUsage     `json:"usage"`
	LastCallAt  time.Time      `json:"last_call_at"`
}

// HistogramEntry is one value/count pair of a histogram, ordered by
// descending count.
type HistogramEntry struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// ErrorStats computes the grouped error aggregates in one pass.
func (s *Store) ErrorStats() GroupedErrorStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := GroupedErrorStats{
		ByService:    make(map[string]int),
		ByStatusCode: make(map[int]int),
		ByEndpoint:   make(map[string]int),
		ByDay:        make(map[string]int),
	}
	for _, e := range s.errors {
		if e.DeletedAt != nil {
			continue
		}
		stats.Total++
		if e.ServiceID != "" {
			stats.ByService[e.ServiceID]++
		}
		if e.StatusCode != 0 {
			stats.ByStatusCode[e.StatusCode]++
		}
		if e.Endpoint != "" {
			stats.ByEndpoint[e.Endpoint]++
		}
		stats.ByDay[e.Timestamp.Format("2006-01-02")]++

		switch {
		case e.NetworkError:
			stats.ByErrorType.Network++
		case e.StatusCode >= 500:
			stats.ByErrorType.Server++
		case e.StatusCode >= 400:
			stats.ByErrorType.Client++
		default:
			stats.ByErrorType.Other++
		}
	}
	return stats
}

// AIStats computes the grouped AI-call aggregates in one pass.
func (s *Store) AIStats() AICallStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := AICallStats{
		ByProvider:  make(map[string]int),
		ByModel:     make(map[string]int),
		ByOperation: make(map[string]int),
	}
	for _, e := range s.aiCalls {
		if e.DeletedAt != nil {
			continue
		}
		stats.Total++
		if e.Status == StatusSuccess {
			stats.Success++
		} else {
			stats.Failure++
		}
		if e.Provider != "" {
			stats.ByProvider[e.Provider]++
		}
		if e.Model != "" {
			stats.ByModel[e.Model]++
		}
		if e.Operation != "" {
			stats.ByOperation[e.Operation]++
		}
		if e.Usage != nil {
			stats.Usage.PromptTokens += e.Usage.PromptTokens
			stats.Usage.CompletionTokens += e.Usage.CompletionTokens
			stats.Usage.TotalTokens += e.Usage.TotalTokens
		}
		if e.Timestamp.After(stats.LastCallAt) {
			stats.LastCallAt = e.Timestamp
		}
	}
	return stats
}

// ServiceHistogram returns error counts per service id, descending.
func (s *Store) ServiceHistogram() []HistogramEntry {
	return toHistogram(s.ErrorStats().ByService)
}

// EndpointHistogram returns error counts per endpoint, descending.
func (s *Store) EndpointHistogram() []HistogramEntry {
	return toHistogram(s.ErrorStats().ByEndpoint)
}

// StatusCodeHistogram returns error counts per HTTP status code, descending.
func (s *Store) StatusCodeHistogram() []HistogramEntry {
	byCode := s.ErrorStats().ByStatusCode
	counts := make(map[string]int, len(byCode))
	for code, n := range byCode {
		counts[strconv.Itoa(code)] = n
	}
	return toHistogram(counts)
}

// AIProviderHistogram returns AI-call counts per provider, descending.
func (s *Store) AIProviderHistogram() []HistogramEntry {
	return toHistogram(s.AIStats().ByProvider)
}

// AIOperationHistogram returns AI-call counts per operation, descending.
func (s *Store) AIOperationHistogram() []HistogramEntry {
	return toHistogram(s.AIStats().ByOperation)
}

// toHistogram orders counts by descending count, ties broken by value so the
// result is stable.
func toHistogram(counts map[string]int) []HistogramEntry {
	out := make([]HistogramEntry, 0, len(counts))
	for v, c := range counts {
		out = append(out, HistogramEntry{Value: v, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	return out
}
