package logstore

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/gmorais/opslog/pkg/kv"
)

// coordinator serializes persistence per category. Each category has one
// worker goroutine fed by a capacity-1 request queue: a flush requested while
// one is in flight is chained to run strictly after it, and further requests
// coalesce into that pending one. This is what keeps the persisted index from
// referencing entry keys whose write has not landed.
type coordinator struct {
	db     kv.Store
	store  *Store
	logger zerolog.Logger

	flushers map[Category]*flusher
}

type flusher struct {
	requests chan flushReq

	mu      sync.Mutex
	purge   map[string]struct{} // entry keys awaiting deletion
	stopped chan struct{}
}

type flushReq struct {
	done chan struct{}
}

func newCoordinator(db kv.Store, store *Store, logger zerolog.Logger) *coordinator {
	return &coordinator{
		db:     db,
		store:  store,
		logger: logger.With().Str("component", "persist").Logger(),
		flushers: map[Category]*flusher{
			CategoryErrors: {
				requests: make(chan flushReq, 1),
				purge:    make(map[string]struct{}),
				stopped:  make(chan struct{}),
			},
			CategoryAICalls: {
				requests: make(chan flushReq, 1),
				purge:    make(map[string]struct{}),
				stopped:  make(chan struct{}),
			},
		},
	}
}

func (c *coordinator) start() {
	for cat, f := range c.flushers {
		go c.run(cat, f)
	}
}

func (c *coordinator) stop() {
	for _, f := range c.flushers {
		close(f.requests)
		<-f.stopped
	}
}

func (c *coordinator) run(cat Category, f *flusher) {
	defer close(f.stopped)
	for req := range f.requests {
		c.flushOnce(cat, f)
		if req.done != nil {
			close(req.done)
		}
	}
}

// Flush requests an asynchronous flush. If a request is already queued the
// call coalesces into it; the queued flush will observe this caller's
// mutation because it snapshots the store when it runs.
func (c *coordinator) Flush(cat Category) {
	f := c.flushers[cat]
	if f == nil {
		return
	}
	select {
	case f.requests <- flushReq{}:
	default:
	}
}

// FlushWait enqueues a flush and blocks until it completes. The enqueued
// flush snapshots the store after this call, so the persisted state reflects
// everything written before FlushWait.
func (c *coordinator) FlushWait(cat Category) {
	f := c.flushers[cat]
	if f == nil {
		return
	}
	done := make(chan struct{})
	f.requests <- flushReq{done: done}
	<-done
}

// queuePurge marks persisted entry keys for deletion on the next flush.
func (c *coordinator) queuePurge(cat Category, ids []string) {
	f := c.flushers[cat]
	if f == nil {
		return
	}
	f.mu.Lock()
	for _, id := range ids {
		f.purge[cat.entryKey(id)] = struct{}{}
	}
	f.mu.Unlock()
}

// flushOnce serializes the full current entry list and writes the index plus
// every entry key, and any queued purges, in one atomic batch. On failure the
// in-memory state stays authoritative and the purge set is restored so the
// next flush retries.
func (c *coordinator) flushOnce(cat Category, f *flusher) {
	pairs, err := c.store.snapshotSerialized(cat)
	if err != nil {
		c.logger.Error().Err(err).Str("category", string(cat)).Msg("failed to serialize entries")
		return
	}

	f.mu.Lock()
	del := make([]string, 0, len(f.purge))
	for k := range f.purge {
		// A key the snapshot is about to rewrite stays queued: its purge was
		// requested after the snapshot was taken, so only a later flush whose
		// snapshot no longer contains it may delete it.
		if _, ok := pairs[k]; ok {
			continue
		}
		del = append(del, k)
		delete(f.purge, k)
	}
	f.mu.Unlock()

	if err := c.db.Write(pairs, del); err != nil {
		c.logger.Error().Err(err).Str("category", string(cat)).Msg("flush failed, keeping in-memory state authoritative")
		f.mu.Lock()
		for _, k := range del {
			f.purge[k] = struct{}{}
		}
		f.mu.Unlock()
	}
}

// snapshotSerialized builds the full key set for a flush: one key per entry
// plus the index key holding the ordered id list.
func (s *Store) snapshotSerialized(cat Category) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	pairs := make(map[string][]byte)

	switch cat {
	case CategoryAICalls:
		ids = make([]string, 0, len(s.aiCalls))
		for _, e := range s.aiCalls {
			data, err := e.ToJSON()
			if err != nil {
				return nil, fmt.Errorf("serialize ai-call entry %s: %w", e.ID, err)
			}
			pairs[cat.entryKey(e.ID)] = data
			ids = append(ids, e.ID)
		}
	default:
		ids = make([]string, 0, len(s.errors))
		for _, e := range s.errors {
			data, err := e.ToJSON()
			if err != nil {
				return nil, fmt.Errorf("serialize error entry %s: %w", e.ID, err)
			}
			pairs[cat.entryKey(e.ID)] = data
			ids = append(ids, e.ID)
		}
	}

	index, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("serialize index: %w", err)
	}
	pairs[cat.indexKey()] = index
	return pairs, nil
}

// load reconstructs both working sets from the persisted index and entry
// keys. A single corrupt entry is logged and skipped; it must never prevent
// the rest of the store from loading.
func (s *Store) load() error {
	ids, err := s.loadIndex(CategoryErrors)
	if err != nil {
		return err
	}
	errs := make([]*ErrorEntry, 0, len(ids))
	for _, id := range ids {
		data, ok, err := s.coord.db.Get(CategoryErrors.entryKey(id))
		if err != nil || !ok {
			s.logger.Warn().Err(err).Str("id", id).Msg("skipping missing error entry")
			continue
		}
		entry, err := ErrorEntryFromJSON(data)
		if err != nil {
			s.logger.Warn().Err(err).Str("id", id).Msg("skipping corrupt error entry")
			continue
		}
		errs = append(errs, entry)
	}
	s.replaceAllErrors(errs)

	ids, err = s.loadIndex(CategoryAICalls)
	if err != nil {
		return err
	}
	calls := make([]*AICallEntry, 0, len(ids))
	for _, id := range ids {
		data, ok, err := s.coord.db.Get(CategoryAICalls.entryKey(id))
		if err != nil || !ok {
			s.logger.Warn().Err(err).Str("id", id).Msg("skipping missing ai-call entry")
			continue
		}
		entry, err := AICallEntryFromJSON(data)
		if err != nil {
			s.logger.Warn().Err(err).Str("id", id).Msg("skipping corrupt ai-call entry")
			continue
		}
		calls = append(calls, entry)
	}
	s.replaceAllAICalls(calls)

	return nil
}

func (s *Store) loadIndex(cat Category) ([]string, error) {
	data, ok, err := s.coord.db.Get(cat.indexKey())
	if err != nil {
		return nil, fmt.Errorf("read %s index: %w", cat, err)
	}
	if !ok {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		// A corrupt index loses ordering for this category but is not fatal:
		// start empty and let the next flush rewrite it.
		s.logger.Warn().Err(err).Str("category", string(cat)).Msg("corrupt index, starting empty")
		return nil, nil
	}
	return ids, nil
}
