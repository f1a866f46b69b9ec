package logstore

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gmorais/opslog/pkg/kv"
)

// Default working-set ceilings per category.
const (
	DefaultMaxErrorEntries  = 10000
	DefaultMaxAICallEntries = 5000
)

// Eviction kicks in at highWaterRatio of the ceiling and removes the oldest
// evictFraction of entries outright.
const (
	highWaterRatio = 0.95
	evictFraction  = 0.10
)

// Settings is the configuration provider consulted on every ingestion and
// cleanup call. Implementations must be safe for concurrent use.
type Settings interface {
	ErrorsEnabled() bool
	AIEnabled() bool
	RetentionDays(c Category) int
	CaptureFlags() CaptureFlags
}

// StaticSettings is a fixed Settings value, useful for tools and tests.
type StaticSettings struct {
	Errors    bool
	AI        bool
	Retention map[Category]int
	Capture   CaptureFlags
}

func (s StaticSettings) ErrorsEnabled() bool          { return s.Errors }
func (s StaticSettings) AIEnabled() bool              { return s.AI }
func (s StaticSettings) RetentionDays(c Category) int { return s.Retention[c] }
func (s StaticSettings) CaptureFlags() CaptureFlags   { return s.Capture }

// Options tunes a Store. Zero values fall back to defaults.
type Options struct {
	MaxErrorEntries  int
	MaxAICallEntries int
	Logger           zerolog.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Store holds the in-memory working sets for both categories and owns their
// durability. Entries are only ever appended, trimmed from the head, stamped
// with DeletedAt, or removed by a retention/eviction pass; they are never
// edited in place.
type Store struct {
	mu       sync.RWMutex
	errors   []*ErrorEntry
	aiCalls  []*AICallEntry
	maxErr   int
	maxAI    int
	settings Settings
	details  *DetailStore
	coord    *coordinator
	logger   zerolog.Logger
	now      func() time.Time

	onIngest func(Category, any)
}

// New builds a Store over the given persistence primitive and loads both
// categories from it. The returned Store is ready for ingestion; callers
// should Close it before closing the kv.Store.
func New(db kv.Store, settings Settings, opts Options) (*Store, error) {
	if opts.MaxErrorEntries <= 0 {
		opts.MaxErrorEntries = DefaultMaxErrorEntries
	}
	if opts.MaxAICallEntries <= 0 {
		opts.MaxAICallEntries = DefaultMaxAICallEntries
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Store{
		maxErr:   opts.MaxErrorEntries,
		maxAI:    opts.MaxAICallEntries,
		settings: settings,
		details:  NewDetailStore(db, opts.Logger),
		logger:   opts.Logger.With().Str("component", "logstore").Logger(),
		now:      opts.Now,
	}
	s.coord = newCoordinator(db, s, opts.Logger)

	if err := s.load(); err != nil {
		return nil, err
	}
	s.coord.start()
	return s, nil
}

// Close flushes pending state and stops the flush workers. It does not close
// the underlying kv.Store.
func (s *Store) Close() error {
	s.coord.FlushWait(CategoryErrors)
	s.coord.FlushWait(CategoryAICalls)
	s.coord.stop()
	return nil
}

// SetOnIngest registers a hook invoked with every accepted entry. Used by the
// server's live tail.
func (s *Store) SetOnIngest(fn func(Category, any)) {
	s.mu.Lock()
	s.onIngest = fn
	s.mu.Unlock()
}

// Details exposes the detail-blob side store.
func (s *Store) Details() *DetailStore { return s.details }

// ErrorRecord is the ingestion payload for a failed HTTP call.
type ErrorRecord struct {
	Method       string
	Endpoint     string
	StatusCode   int
	ErrorCode    string
	ServiceID    string
	ServiceType  string
	Operation    string
	Message      string
	NetworkError bool
	RetryCount   int
	Context      map[string]any
	// BodyDetails, when present, is written to the detail-blob store rather
	// than the entry itself.
	BodyDetails *EntryDetails
	Sensitive   *SensitiveDataFlag
}

// AICallRecord is the ingestion payload for an AI-assistant invocation.
type AICallRecord struct {
	Provider     string
	Model        string
	Operation    string
	Status       string
	Prompt       string
	Response     string
	Usage        *TokenUsage
	ErrorMessage string
	DurationMs   int64
	ServiceID    string
	Tags         []string
}

// RecordError ingests a failed HTTP call. It never blocks on persistence and
// never returns an error to the caller; failures are logged.
func (s *Store) RecordError(rec ErrorRecord) {
	if !s.settings.ErrorsEnabled() {
		return
	}

	now := s.now()
	entry := &ErrorEntry{
		ID:           NewEntryID(now),
		Timestamp:    now,
		Method:       rec.Method,
		Endpoint:     rec.Endpoint,
		StatusCode:   rec.StatusCode,
		ErrorCode:    rec.ErrorCode,
		ServiceID:    rec.ServiceID,
		ServiceType:  rec.ServiceType,
		Operation:    rec.Operation,
		Message:      rec.Message,
		NetworkError: rec.NetworkError,
		RetryCount:   rec.RetryCount,
		Context:      rec.Context,
		Sensitive:    rec.Sensitive,
	}

	s.mu.Lock()
	s.errors = append(s.errors, entry)
	s.trimErrorsLocked()
	s.evictErrorsLocked()
	hook := s.onIngest
	s.mu.Unlock()

	if rec.BodyDetails != nil {
		if err := s.details.Put(entry.ID, *rec.BodyDetails); err != nil {
			s.logger.Warn().Err(err).Str("id", entry.ID).Msg("failed to store body details")
		}
	}

	s.coord.Flush(CategoryErrors)
	if hook != nil {
		hook(CategoryErrors, entry)
	}
}

// RecordAICall ingests an AI invocation, applying the capture flags active
// right now. Like RecordError it never blocks and never fails the caller.
func (s *Store) RecordAICall(rec AICallRecord) {
	if !s.settings.AIEnabled() {
		return
	}

	capture := s.settings.CaptureFlags()
	now := s.now()
	entry := &AICallEntry{
		ID:           NewEntryID(now),
		Timestamp:    now,
		Provider:     rec.Provider,
		Model:        rec.Model,
		Operation:    rec.Operation,
		Status:       rec.Status,
		ErrorMessage: rec.ErrorMessage,
		DurationMs:   rec.DurationMs,
		ServiceID:    rec.ServiceID,
		Tags:         rec.Tags,
		Captured:     capture,
	}
	if capture.Prompts {
		entry.Prompt, entry.PromptTruncated = capText(rec.Prompt)
	}
	if capture.Responses {
		entry.Response, entry.ResponseTruncated = capText(rec.Response)
	}
	if capture.Metadata {
		entry.Usage = rec.Usage
	}

	s.mu.Lock()
	s.aiCalls = append(s.aiCalls, entry)
	s.trimAICallsLocked()
	s.evictAICallsLocked()
	hook := s.onIngest
	s.mu.Unlock()

	s.coord.Flush(CategoryAICalls)
	if hook != nil {
		hook(CategoryAICalls, entry)
	}
}

// trimErrorsLocked enforces the hard FIFO ceiling, independent of eviction.
func (s *Store) trimErrorsLocked() {
	if over := len(s.errors) - s.maxErr; over > 0 {
		s.removeOldestErrorsLocked(over)
	}
}

func (s *Store) trimAICallsLocked() {
	if over := len(s.aiCalls) - s.maxAI; over > 0 {
		s.removeOldestAICallsLocked(over)
	}
}

// evictErrorsLocked hard-deletes the oldest entries once the working set
// reaches the high-water mark. Pressure valve only; retention and audit rules
// run elsewhere.
func (s *Store) evictErrorsLocked() {
	if len(s.errors) < highWater(s.maxErr) {
		return
	}
	n := evictCount(s.maxErr)
	s.logger.Info().Int("count", n).Msg("evicting oldest error entries")
	s.removeOldestErrorsLocked(n)
}

func (s *Store) evictAICallsLocked() {
	if len(s.aiCalls) < highWater(s.maxAI) {
		return
	}
	n := evictCount(s.maxAI)
	s.logger.Info().Int("count", n).Msg("evicting oldest ai-call entries")
	s.removeOldestAICallsLocked(n)
}

func highWater(max int) int {
	hw := int(float64(max) * highWaterRatio)
	if hw < 1 {
		hw = 1
	}
	return hw
}

func evictCount(max int) int {
	n := int(float64(max) * evictFraction)
	if n < 1 {
		n = 1
	}
	return n
}

// removeOldestErrorsLocked hard-deletes the n oldest entries, queueing their
// persisted keys for purge on the next flush and dropping their detail blobs.
func (s *Store) removeOldestErrorsLocked(n int) {
	if n > len(s.errors) {
		n = len(s.errors)
	}
	removed := s.errors[:n]
	s.errors = append([]*ErrorEntry(nil), s.errors[n:]...)

	ids := make([]string, len(removed))
	for i, e := range removed {
		ids[i] = e.ID
	}
	s.coord.queuePurge(CategoryErrors, ids)
	s.details.Remove(ids...)
}

func (s *Store) removeOldestAICallsLocked(n int) {
	if n > len(s.aiCalls) {
		n = len(s.aiCalls)
	}
	removed := s.aiCalls[:n]
	s.aiCalls = append([]*AICallEntry(nil), s.aiCalls[n:]...)

	ids := make([]string, len(removed))
	for i, e := range removed {
		ids[i] = e.ID
	}
	s.coord.queuePurge(CategoryAICalls, ids)
}

// DeleteEntries soft-deletes the given ids: it only stamps DeletedAt, so the
// entries stay recoverable for the audit window. Unknown ids are ignored.
func (s *Store) DeleteEntries(c Category, ids ...string) {
	if !c.Valid() {
		s.logger.Warn().Str("category", string(c)).Msg("ignoring delete for unknown category")
		return
	}
	if len(ids) == 0 {
		return
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	now := s.now()

	s.mu.Lock()
	changed := false
	switch c {
	case CategoryAICalls:
		for _, e := range s.aiCalls {
			if _, ok := want[e.ID]; ok && e.DeletedAt == nil {
				t := now
				e.DeletedAt = &t
				changed = true
			}
		}
	default:
		for _, e := range s.errors {
			if _, ok := want[e.ID]; ok && e.DeletedAt == nil {
				t := now
				e.DeletedAt = &t
				changed = true
			}
		}
	}
	s.mu.Unlock()

	if changed {
		s.coord.Flush(c)
	}
}

// ClearAll soft-deletes every live entry in the category.
func (s *Store) ClearAll(c Category) {
	if !c.Valid() {
		s.logger.Warn().Str("category", string(c)).Msg("ignoring clear for unknown category")
		return
	}
	now := s.now()

	s.mu.Lock()
	changed := false
	switch c {
	case CategoryAICalls:
		for _, e := range s.aiCalls {
			if e.DeletedAt == nil {
				t := now
				e.DeletedAt = &t
				changed = true
			}
		}
	default:
		for _, e := range s.errors {
			if e.DeletedAt == nil {
				t := now
				e.DeletedAt = &t
				changed = true
			}
		}
	}
	s.mu.Unlock()

	if changed {
		s.coord.Flush(c)
	}
}

// Len reports the current working-set size for a category, including
// tombstoned entries.
func (s *Store) Len(c Category) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c == CategoryAICalls {
		return len(s.aiCalls)
	}
	return len(s.errors)
}

// Flush requests an asynchronous flush of the category.
func (s *Store) Flush(c Category) { s.coord.Flush(c) }

// FlushWait flushes the category and blocks until the write has landed.
func (s *Store) FlushWait(c Category) { s.coord.FlushWait(c) }

// replaceAllErrors swaps in the cold-start working set. Only the loader calls
// it, before the store is shared.
func (s *Store) replaceAllErrors(entries []*ErrorEntry) {
	s.mu.Lock()
	s.errors = entries
	s.trimErrorsLocked()
	s.mu.Unlock()
}

func (s *Store) replaceAllAICalls(entries []*AICallEntry) {
	s.mu.Lock()
	s.aiCalls = entries
	s.trimAICallsLocked()
	s.mu.Unlock()
}
