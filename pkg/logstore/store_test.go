package logstore

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/gmorais/opslog/pkg/kv"
)

// fakeSettings is a mutable Settings implementation for tests.
type fakeSettings struct {
	mu        sync.Mutex
	errors    bool
	ai        bool
	retention map[Category]int
	capture   CaptureFlags
}

func newFakeSettings() *fakeSettings {
	return &fakeSettings{
		errors:    true,
		ai:        true,
		retention: map[Category]int{},
		capture:   CaptureFlags{Prompts: true, Responses: true, Metadata: true},
	}
}

func (f *fakeSettings) ErrorsEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errors
}

func (f *fakeSettings) AIEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ai
}

func (f *fakeSettings) RetentionDays(c Category) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.retention[c]
}

func (f *fakeSettings) CaptureFlags() CaptureFlags {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.capture
}

func (f *fakeSettings) set(fn func(*fakeSettings)) {
	f.mu.Lock()
	fn(f)
	f.mu.Unlock()
}

// fakeClock is a controllable clock for retention tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T, settings Settings, opts Options) (*Store, *kv.MemoryStore) {
	t.Helper()
	db := kv.NewMemoryStore()
	opts.Logger = zerolog.Nop()
	store, err := New(db, settings, opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, db
}

func TestRecordError_BoundInvariant(t *testing.T) {
	settings := newFakeSettings()
	store, _ := newTestStore(t, settings, Options{MaxErrorEntries: 100})

	for i := 0; i < 500; i++ {
		store.RecordError(ErrorRecord{ServiceID: "svc", Endpoint: "/a", StatusCode: 500})
		if n := store.Len(CategoryErrors); n > 100 {
			t.Fatalf("after insert %d: len = %d, want <= 100", i+1, n)
		}
	}
}

func TestRecordError_EvictionOrdering(t *testing.T) {
	settings := newFakeSettings()
	store, _ := newTestStore(t, settings, Options{MaxErrorEntries: 100})

	// High-water mark is 95; the 95th insert evicts the oldest 10.
	for i := 0; i < 95; i++ {
		store.RecordError(ErrorRecord{ServiceID: "svc", Message: msgN(i)})
	}

	if n := store.Len(CategoryErrors); n != 85 {
		t.Fatalf("len after eviction = %d, want 85", n)
	}

	entries := store.ListErrors(ErrorFilter{})
	if entries[0].Message != msgN(10) {
		t.Errorf("oldest surviving entry = %q, want %q", entries[0].Message, msgN(10))
	}
	if entries[len(entries)-1].Message != msgN(94) {
		t.Errorf("newest entry = %q, want %q", entries[len(entries)-1].Message, msgN(94))
	}
}

func msgN(i int) string {
	return fmt.Sprintf("error-%03d", i)
}

func TestRecordError_DisabledCategory(t *testing.T) {
	settings := newFakeSettings()
	settings.set(func(f *fakeSettings) { f.errors = false })
	store, _ := newTestStore(t, settings, Options{})

	store.RecordError(ErrorRecord{ServiceID: "svc"})
	if n := store.Len(CategoryErrors); n != 0 {
		t.Errorf("len = %d, want 0 when category disabled", n)
	}
}

func TestRecordAICall_DisabledCategory(t *testing.T) {
	settings := newFakeSettings()
	settings.set(func(f *fakeSettings) { f.ai = false })
	store, _ := newTestStore(t, settings, Options{})

	store.RecordAICall(AICallRecord{Provider: "openai", Operation: "chat", Status: StatusSuccess})
	if n := store.Len(CategoryAICalls); n != 0 {
		t.Errorf("len = %d, want 0 when category disabled", n)
	}
}

func TestRecordAICall_CaptureFlagsSnapshot(t *testing.T) {
	settings := newFakeSettings()
	settings.set(func(f *fakeSettings) {
		f.capture = CaptureFlags{Prompts: false, Responses: true, Metadata: false}
	})
	store, _ := newTestStore(t, settings, Options{})

	store.RecordAICall(AICallRecord{
		Provider:  "openai",
		Operation: "chat",
		Status:    StatusSuccess,
		Prompt:    "secret prompt",
		Response:  "the answer",
		Usage:     &TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	})

	entries := store.ListAICalls(AICallFilter{})
	if len(entries) != 1 {
		t.Fatalf("len = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Prompt != "" {
		t.Errorf("Prompt = %q, want empty with capture disabled", e.Prompt)
	}
	if e.Response != "the answer" {
		t.Errorf("Response = %q, want captured", e.Response)
	}
	if e.Usage != nil {
		t.Errorf("Usage = %+v, want nil with metadata capture disabled", e.Usage)
	}
	if e.Captured.Prompts || !e.Captured.Responses || e.Captured.Metadata {
		t.Errorf("Captured = %+v, want snapshot of active flags", e.Captured)
	}
}

func TestRecordAICall_PromptTruncation(t *testing.T) {
	settings := newFakeSettings()
	store, _ := newTestStore(t, settings, Options{})

	long := strings.Repeat("a", MaxCapturedTextLen+100)
	store.RecordAICall(AICallRecord{
		Provider:  "openai",
		Operation: "chat",
		Status:    StatusSuccess,
		Prompt:    long,
	})

	e := store.ListAICalls(AICallFilter{})[0]
	if !e.PromptTruncated {
		t.Error("PromptTruncated = false, want true")
	}
	if !strings.HasSuffix(e.Prompt, "…[truncated]") {
		t.Errorf("Prompt does not end with truncation marker: %q", e.Prompt[len(e.Prompt)-20:])
	}
	if len(e.Prompt) >= len(long) {
		t.Errorf("Prompt len = %d, want < %d", len(e.Prompt), len(long))
	}
}

func TestDeleteEntries_SoftDelete(t *testing.T) {
	settings := newFakeSettings()
	store, _ := newTestStore(t, settings, Options{})

	store.RecordError(ErrorRecord{ServiceID: "svc-1", Message: "first"})
	store.RecordError(ErrorRecord{ServiceID: "svc-2", Message: "second"})

	entries := store.ListErrors(ErrorFilter{})
	store.DeleteEntries(CategoryErrors, entries[0].ID)

	// Default reads exclude tombstones.
	visible := store.ListErrors(ErrorFilter{})
	if len(visible) != 1 || visible[0].Message != "second" {
		t.Fatalf("visible entries = %d, want only the second", len(visible))
	}

	// The entry is still physically present for audit views.
	all := store.ListErrors(ErrorFilter{IncludeDeleted: true})
	if len(all) != 2 {
		t.Fatalf("audit view entries = %d, want 2", len(all))
	}
	if all[0].DeletedAt == nil {
		t.Error("DeletedAt not set on soft-deleted entry")
	}
}

func TestDeleteEntries_UnknownIDIgnored(t *testing.T) {
	settings := newFakeSettings()
	store, _ := newTestStore(t, settings, Options{})

	store.RecordError(ErrorRecord{ServiceID: "svc-1"})
	store.DeleteEntries(CategoryErrors, "no-such-id")

	if n := len(store.ListErrors(ErrorFilter{})); n != 1 {
		t.Errorf("visible entries = %d, want 1", n)
	}
}

func TestDeleteEntries_UnknownCategoryIgnored(t *testing.T) {
	settings := newFakeSettings()
	store, _ := newTestStore(t, settings, Options{})

	store.RecordError(ErrorRecord{ServiceID: "svc"})
	id := store.ListErrors(ErrorFilter{})[0].ID

	// Neither call may panic or touch existing entries.
	store.DeleteEntries(Category("junk"), id)
	store.ClearAll(Category("junk"))
	store.Flush(Category("junk"))
	store.FlushWait(Category("junk"))

	entries := store.ListErrors(ErrorFilter{})
	if len(entries) != 1 {
		t.Fatalf("visible entries = %d, want 1", len(entries))
	}
	if entries[0].DeletedAt != nil {
		t.Error("entry tombstoned by unknown-category delete")
	}
}

func TestClearAll(t *testing.T) {
	settings := newFakeSettings()
	store, _ := newTestStore(t, settings, Options{})

	for i := 0; i < 5; i++ {
		store.RecordAICall(AICallRecord{Provider: "openai", Operation: "chat", Status: StatusSuccess})
	}
	store.ClearAll(CategoryAICalls)

	if n := len(store.ListAICalls(AICallFilter{})); n != 0 {
		t.Errorf("visible entries after clear = %d, want 0", n)
	}
	if n := len(store.ListAICalls(AICallFilter{IncludeDeleted: true})); n != 5 {
		t.Errorf("audit entries after clear = %d, want 5", n)
	}
}

func TestRecordError_BodyDetails(t *testing.T) {
	settings := newFakeSettings()
	store, _ := newTestStore(t, settings, Options{})

	store.RecordError(ErrorRecord{
		ServiceID:   "svc-1",
		BodyDetails: &EntryDetails{RequestBody: `{"q":1}`, ResponseBody: "oops"},
	})

	id := store.ListErrors(ErrorFilter{})[0].ID
	details, ok, err := store.Details().Get(id)
	if err != nil {
		t.Fatalf("Details().Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Details().Get() ok = false, want details stored")
	}
	if details.ResponseBody != "oops" {
		t.Errorf("ResponseBody = %q, want %q", details.ResponseBody, "oops")
	}
}

func TestOnIngestHook(t *testing.T) {
	settings := newFakeSettings()
	store, _ := newTestStore(t, settings, Options{})

	var mu sync.Mutex
	var got []Category
	store.SetOnIngest(func(c Category, entry any) {
		mu.Lock()
		got = append(got, c)
		mu.Unlock()
	})

	store.RecordError(ErrorRecord{ServiceID: "svc"})
	store.RecordAICall(AICallRecord{Provider: "openai", Operation: "chat", Status: StatusError})

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != CategoryErrors || got[1] != CategoryAICalls {
		t.Errorf("hook calls = %v, want [errors ai_calls]", got)
	}
}
