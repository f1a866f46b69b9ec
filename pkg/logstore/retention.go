package logstore

import "time"

// AuditWindowDays is the grace period during which a soft-deleted entry stays
// recoverable before the sweep removes it for good.
const AuditWindowDays = 30

// RunCleanup is the periodic retention pass: (a) hard-delete entries whose
// tombstone is older than the audit window, (b) hard-delete non-deleted
// entries older than the category's active-retention window, then sweep
// orphaned detail blobs. A disabled category is skipped entirely. Failures
// are logged, never propagated; the next tick retries independently.
func (s *Store) RunCleanup() {
	now := s.now()
	auditCutoff := now.AddDate(0, 0, -AuditWindowDays)

	if s.settings.ErrorsEnabled() {
		days := s.settings.RetentionDays(CategoryErrors)
		removed := s.sweepErrors(auditCutoff, retentionCutoff(now, days))
		if removed > 0 {
			s.logger.Info().Int("removed", removed).Msg("cleanup removed error entries")
			s.coord.Flush(CategoryErrors)
		}
	}

	if s.settings.AIEnabled() {
		days := s.settings.RetentionDays(CategoryAICalls)
		removed := s.sweepAICalls(auditCutoff, retentionCutoff(now, days))
		if removed > 0 {
			s.logger.Info().Int("removed", removed).Msg("cleanup removed ai-call entries")
			s.coord.Flush(CategoryAICalls)
		}
	}

	if s.settings.ErrorsEnabled() || s.settings.AIEnabled() {
		if n, err := s.details.SweepOrphans(s.liveIDs); err != nil {
			s.logger.Warn().Err(err).Msg("detail orphan sweep failed")
		} else if n > 0 {
			s.logger.Info().Int("removed", n).Msg("swept orphaned detail blobs")
		}
	}
}

// retentionCutoff returns the zero time when days is unset, meaning no
// active-retention expiry for the category.
func retentionCutoff(now time.Time, days int) time.Time {
	if days <= 0 {
		return time.Time{}
	}
	return now.AddDate(0, 0, -days)
}

// expired decides whether an entry leaves the store. An entry both tombstoned
// and past active retention is removed once, by whichever condition matches
// first.
func expired(timestamp time.Time, deletedAt *time.Time, auditCutoff, retCutoff time.Time) bool {
	if deletedAt != nil && deletedAt.Before(auditCutoff) {
		return true
	}
	if deletedAt == nil && !retCutoff.IsZero() && timestamp.Before(retCutoff) {
		return true
	}
	return false
}

func (s *Store) sweepErrors(auditCutoff, retCutoff time.Time) int {
	s.mu.Lock()
	kept := s.errors[:0:0]
	var removedIDs []string
	for _, e := range s.errors {
		if expired(e.Timestamp, e.DeletedAt, auditCutoff, retCutoff) {
			removedIDs = append(removedIDs, e.ID)
			continue
		}
		kept = append(kept, e)
	}
	s.errors = kept
	if len(removedIDs) > 0 {
		s.coord.queuePurge(CategoryErrors, removedIDs)
	}
	s.mu.Unlock()

	if len(removedIDs) > 0 {
		s.details.Remove(removedIDs...)
	}
	return len(removedIDs)
}

func (s *Store) sweepAICalls(auditCutoff, retCutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.aiCalls[:0:0]
	var removedIDs []string
	for _, e := range s.aiCalls {
		if expired(e.Timestamp, e.DeletedAt, auditCutoff, retCutoff) {
			removedIDs = append(removedIDs, e.ID)
			continue
		}
		kept = append(kept, e)
	}
	s.aiCalls = kept
	if len(removedIDs) > 0 {
		s.coord.queuePurge(CategoryAICalls, removedIDs)
	}
	return len(removedIDs)
}

// liveIDs returns the ids of every entry still present in either working set,
// tombstoned or not.
func (s *Store) liveIDs() map[string]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make(map[string]struct{}, len(s.errors)+len(s.aiCalls))
	for _, e := range s.errors {
		ids[e.ID] = struct{}{}
	}
	for _, e := range s.aiCalls {
		ids[e.ID] = struct{}{}
	}
	return ids
}
