package logstore

import (
	"testing"
	"time"
)

func TestErrorStats_ByErrorType(t *testing.T) {
	settings := newFakeSettings()
	store, _ := newTestStore(t, settings, Options{})

	store.RecordError(ErrorRecord{ServiceID: "svc-1", StatusCode: 500})
	store.RecordError(ErrorRecord{ServiceID: "svc-1", StatusCode: 404})
	store.RecordError(ErrorRecord{ServiceID: "svc-1", StatusCode: 500})

	stats := store.ErrorStats()
	if stats.ByErrorType.Server != 2 {
		t.Errorf("ByErrorType.Server = %d, want 2", stats.ByErrorType.Server)
	}
	if stats.ByErrorType.Client != 1 {
		t.Errorf("ByErrorType.Client = %d, want 1", stats.ByErrorType.Client)
	}
	if stats.ByErrorType.Network != 0 {
		t.Errorf("ByErrorType.Network = %d, want 0", stats.ByErrorType.Network)
	}
	if stats.ByErrorType.Other != 0 {
		t.Errorf("ByErrorType.Other = %d, want 0", stats.ByErrorType.Other)
	}
	if stats.ByService["svc-1"] != 3 {
		t.Errorf(`ByService["svc-1"] = %d, want 3`, stats.ByService["svc-1"])
	}
}

func TestErrorStats_NetworkBeatsStatus(t *testing.T) {
	settings := newFakeSettings()
	store, _ := newTestStore(t, settings, Options{})

	// A network failure with a recorded status still counts as network.
	store.RecordError(ErrorRecord{ServiceID: "svc", StatusCode: 502, NetworkError: true})
	store.RecordError(ErrorRecord{ServiceID: "svc"})

	stats := store.ErrorStats()
	if stats.ByErrorType.Network != 1 {
		t.Errorf("ByErrorType.Network = %d, want 1", stats.ByErrorType.Network)
	}
	if stats.ByErrorType.Server != 0 {
		t.Errorf("ByErrorType.Server = %d, want 0", stats.ByErrorType.Server)
	}
	if stats.ByErrorType.Other != 1 {
		t.Errorf("ByErrorType.Other = %d, want 1 (no status, no flag)", stats.ByErrorType.Other)
	}
}

func TestErrorStats_ExcludesTombstones(t *testing.T) {
	settings := newFakeSettings()
	store, _ := newTestStore(t, settings, Options{})

	store.RecordError(ErrorRecord{ServiceID: "svc", StatusCode: 500})
	store.RecordError(ErrorRecord{ServiceID: "svc", StatusCode: 500})
	id := store.ListErrors(ErrorFilter{})[0].ID
	store.DeleteEntries(CategoryErrors, id)

	stats := store.ErrorStats()
	if stats.Total != 1 {
		t.Errorf("Total = %d, want 1 (tombstone excluded)", stats.Total)
	}
	if stats.ByService["svc"] != 1 {
		t.Errorf(`ByService["svc"] = %d, want 1`, stats.ByService["svc"])
	}
}

func TestErrorStats_ByDay(t *testing.T) {
	settings := newFakeSettings()
	clock := newFakeClock()
	store, _ := newTestStore(t, settings, Options{Now: clock.Now})

	store.RecordError(ErrorRecord{ServiceID: "svc"})
	store.RecordError(ErrorRecord{ServiceID: "svc"})
	clock.Advance(day)
	store.RecordError(ErrorRecord{ServiceID: "svc"})

	stats := store.ErrorStats()
	if got := stats.ByDay["2026-03-14"]; got != 2 {
		t.Errorf(`ByDay["2026-03-14"] = %d, want 2`, got)
	}
	if got := stats.ByDay["2026-03-15"]; got != 1 {
		t.Errorf(`ByDay["2026-03-15"] = %d, want 1`, got)
	}
}

func TestAIStats_ErrorWithoutModel(t *testing.T) {
	settings := newFakeSettings()
	store, _ := newTestStore(t, settings, Options{})

	store.RecordAICall(AICallRecord{Provider: "openai", Operation: "chat", Status: StatusError})

	stats := store.AIStats()
	if stats.Failure != 1 {
		t.Errorf("Failure = %d, want 1", stats.Failure)
	}
	if stats.Success != 0 {
		t.Errorf("Success = %d, want 0", stats.Success)
	}
	if len(stats.ByModel) != 0 {
		t.Errorf("ByModel = %v, want no entry for a model-less call", stats.ByModel)
	}
}

func TestAIStats_UsageAndLastCall(t *testing.T) {
	settings := newFakeSettings()
	clock := newFakeClock()
	store, _ := newTestStore(t, settings, Options{Now: clock.Now})

	store.RecordAICall(AICallRecord{
		Provider: "openai", Model: "gpt-4.1", Operation: "chat", Status: StatusSuccess,
		Usage: &TokenUsage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120},
	})
	clock.Advance(time.Hour)
	store.RecordAICall(AICallRecord{
		Provider: "anthropic", Model: "claude-sonnet-4-5", Operation: "chat", Status: StatusSuccess,
		Usage: &TokenUsage{PromptTokens: 50, CompletionTokens: 10, TotalTokens: 60},
	})

	stats := store.AIStats()
	if stats.Usage.TotalTokens != 180 {
		t.Errorf("Usage.TotalTokens = %d, want 180", stats.Usage.TotalTokens)
	}
	if stats.Usage.PromptTokens != 150 {
		t.Errorf("Usage.PromptTokens = %d, want 150", stats.Usage.PromptTokens)
	}
	if !stats.LastCallAt.Equal(clock.Now()) {
		t.Errorf("LastCallAt = %v, want %v", stats.LastCallAt, clock.Now())
	}
	if stats.ByProvider["openai"] != 1 || stats.ByProvider["anthropic"] != 1 {
		t.Errorf("ByProvider = %v, want one call each", stats.ByProvider)
	}
}

func TestHistograms_DescendingOrder(t *testing.T) {
	settings := newFakeSettings()
	store, _ := newTestStore(t, settings, Options{})

	for i := 0; i < 3; i++ {
		store.RecordError(ErrorRecord{ServiceID: "svc-busy", Endpoint: "/a", StatusCode: 500})
	}
	store.RecordError(ErrorRecord{ServiceID: "svc-quiet", Endpoint: "/b", StatusCode: 404})

	hist := store.ServiceHistogram()
	if len(hist) != 2 {
		t.Fatalf("histogram length = %d, want 2", len(hist))
	}
	if hist[0].Value != "svc-busy" || hist[0].Count != 3 {
		t.Errorf("hist[0] = %+v, want svc-busy/3", hist[0])
	}
	if hist[1].Value != "svc-quiet" || hist[1].Count != 1 {
		t.Errorf("hist[1] = %+v, want svc-quiet/1", hist[1])
	}

	codes := store.StatusCodeHistogram()
	if codes[0].Value != "500" || codes[0].Count != 3 {
		t.Errorf("status histogram[0] = %+v, want 500/3", codes[0])
	}
}

func TestAIHistograms(t *testing.T) {
	settings := newFakeSettings()
	store, _ := newTestStore(t, settings, Options{})

	store.RecordAICall(AICallRecord{Provider: "openai", Operation: "chat", Status: StatusSuccess})
	store.RecordAICall(AICallRecord{Provider: "openai", Operation: "embed", Status: StatusSuccess})
	store.RecordAICall(AICallRecord{Provider: "openai", Operation: "chat", Status: StatusError})

	ops := store.AIOperationHistogram()
	if ops[0].Value != "chat" || ops[0].Count != 2 {
		t.Errorf("operation histogram[0] = %+v, want chat/2", ops[0])
	}
	providers := store.AIProviderHistogram()
	if providers[0].Value != "openai" || providers[0].Count != 3 {
		t.Errorf("provider histogram[0] = %+v, want openai/3", providers[0])
	}
}
