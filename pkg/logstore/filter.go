package logstore

import (
	"strings"
	"time"
)

// ErrorFilter selects error entries. Zero-value fields match everything;
// soft-deleted entries are excluded unless IncludeDeleted is set.
type ErrorFilter struct {
	ServiceID   string
	StatusCode  int
	ErrorCode   string
	NetworkOnly bool
	Operation   string
	// Endpoint matches as a substring.
	Endpoint string
	From, To time.Time
	// Search matches case-insensitively across message, endpoint and
	// operation.
	Search         string
	IncludeDeleted bool
}

// Match reports whether the entry passes every set predicate.
func (f ErrorFilter) Match(e *ErrorEntry) bool {
	if e.DeletedAt != nil && !f.IncludeDeleted {
		return false
	}
	if f.ServiceID != "" && e.ServiceID != f.ServiceID {
		return false
	}
	if f.StatusCode != 0 && e.StatusCode != f.StatusCode {
		return false
	}
	if f.ErrorCode != "" && e.ErrorCode != f.ErrorCode {
		return false
	}
	if f.NetworkOnly && !e.NetworkError {
		return false
	}
	if f.Operation != "" && e.Operation != f.Operation {
		return false
	}
	if f.Endpoint != "" && !strings.Contains(e.Endpoint, f.Endpoint) {
		return false
	}
	if !inRange(e.Timestamp, f.From, f.To) {
		return false
	}
	if f.Search != "" && !containsFold(f.Search, e.Message, e.Endpoint, e.Operation) {
		return false
	}
	return true
}

// AICallFilter selects AI-call entries, with the same defaults as
// ErrorFilter.
type AICallFilter struct {
	Provider  string
	Model     string
	Operation string
	Status    string
	ServiceID string
	From, To  time.Time
	// Search matches case-insensitively across provider, model, operation,
	// prompt, response and error message.
	Search         string
	IncludeDeleted bool
}

// Match reports whether the entry passes every set predicate.
func (f AICallFilter) Match(e *AICallEntry) bool {
	if e.DeletedAt != nil && !f.IncludeDeleted {
		return false
	}
	if f.Provider != "" && e.Provider != f.Provider {
		return false
	}
	if f.Model != "" && e.Model != f.Model {
		return false
	}
	if f.Operation != "" && e.Operation != f.Operation {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.ServiceID != "" && e.ServiceID != f.ServiceID {
		return false
	}
	if !inRange(e.Timestamp, f.From, f.To) {
		return false
	}
	if f.Search != "" && !containsFold(f.Search, e.Provider, e.Model, e.Operation, e.Prompt, e.Response, e.ErrorMessage) {
		return false
	}
	return true
}

// ListErrors returns the entries matching the filter, in insertion order.
// The returned entries are shared; callers must treat them as read-only.
func (s *Store) ListErrors(f ErrorFilter) []*ErrorEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*ErrorEntry, 0)
	for _, e := range s.errors {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	return out
}

// ListAICalls returns the entries matching the filter, in insertion order.
func (s *Store) ListAICalls(f AICallFilter) []*AICallEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*AICallEntry, 0)
	for _, e := range s.aiCalls {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	return out
}

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && t.After(to) {
		return false
	}
	return true
}

func containsFold(needle string, haystacks ...string) bool {
	needle = strings.ToLower(needle)
	for _, h := range haystacks {
		if h != "" && strings.Contains(strings.ToLower(h), needle) {
			return true
		}
	}
	return false
}
