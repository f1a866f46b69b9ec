package logstore

import (
	"encoding/json"
	"fmt"
	"time"
)

// ExportJSON serializes all non-deleted entries of both categories into one
// indented JSON document.
func (s *Store) ExportJSON() (string, error) {
	export := struct {
		ExportedAt time.Time      `json:"exported_at"`
		Errors     []*ErrorEntry  `json:"errors"`
		AICalls    []*AICallEntry `json:"ai_calls"`
	}{
		ExportedAt: s.now(),
		Errors:     s.ListErrors(ErrorFilter{}),
		AICalls:    s.ListAICalls(AICallFilter{}),
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to serialize export: %w", err)
	}
	return string(data), nil
}
