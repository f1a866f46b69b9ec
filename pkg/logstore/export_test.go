package logstore

import (
	"encoding/json"
	"testing"
)

func TestExportJSON(t *testing.T) {
	settings := newFakeSettings()
	store, _ := newTestStore(t, settings, Options{})

	store.RecordError(ErrorRecord{ServiceID: "svc-1", Message: "kept"})
	store.RecordError(ErrorRecord{ServiceID: "svc-2", Message: "deleted"})
	store.RecordAICall(AICallRecord{Provider: "openai", Operation: "chat", Status: StatusSuccess})

	id := store.ListErrors(ErrorFilter{})[1].ID
	store.DeleteEntries(CategoryErrors, id)

	out, err := store.ExportJSON()
	if err != nil {
		t.Fatalf("ExportJSON() error = %v", err)
	}

	var export struct {
		Errors  []*ErrorEntry  `json:"errors"`
		AICalls []*AICallEntry `json:"ai_calls"`
	}
	if err := json.Unmarshal([]byte(out), &export); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if len(export.Errors) != 1 || export.Errors[0].Message != "kept" {
		t.Errorf("exported errors = %+v, want only the non-deleted entry", export.Errors)
	}
	if len(export.AICalls) != 1 {
		t.Errorf("exported ai calls = %d, want 1", len(export.AICalls))
	}
}
