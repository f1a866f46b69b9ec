package logstore

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/gmorais/opslog/pkg/kv"
)

const detailKeyPrefix = "detail_"

// EntryDetails holds the large request/response bodies kept out of the entry
// itself, keyed by the owning entry id.
type EntryDetails struct {
	RequestBody  string `json:"request_body,omitempty"`
	ResponseBody string `json:"response_body,omitempty"`
}

// DetailStore is the side-channel blob store. Writes and deletes are
// best-effort; the orphan sweep in the retention pass catches anything a
// failed delete left behind.
type DetailStore struct {
	db     kv.Store
	logger zerolog.Logger
}

// NewDetailStore returns a DetailStore over db.
func NewDetailStore(db kv.Store, logger zerolog.Logger) *DetailStore {
	return &DetailStore{db: db, logger: logger.With().Str("component", "details").Logger()}
}

// Put stores the details blob for an entry id.
func (d *DetailStore) Put(id string, details EntryDetails) error {
	data, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("serialize details for %s: %w", id, err)
	}
	return d.db.Set(detailKeyPrefix+id, data)
}

// Get fetches the details blob for an entry id, ok=false if none exists.
func (d *DetailStore) Get(id string) (*EntryDetails, bool, error) {
	data, ok, err := d.db.Get(detailKeyPrefix + id)
	if err != nil || !ok {
		return nil, false, err
	}
	var details EntryDetails
	if err := json.Unmarshal(data, &details); err != nil {
		return nil, false, fmt.Errorf("decode details for %s: %w", id, err)
	}
	return &details, true, nil
}

// Remove deletes the blobs for the given entry ids. Failures are logged, not
// returned: the owning entries are already gone and the sweep will retry.
func (d *DetailStore) Remove(ids ...string) {
	if len(ids) == 0 {
		return
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = detailKeyPrefix + id
	}
	if err := d.db.Delete(keys...); err != nil {
		d.logger.Warn().Err(err).Int("count", len(keys)).Msg("failed to remove detail blobs")
	}
}

// SweepOrphans deletes every detail blob whose owning entry id is not live.
// The key scan runs before live is consulted: a blob written for an entry
// recorded mid-sweep either misses the scan or has its id in the fresher live
// set, so it is never mistaken for an orphan. Returns the number removed.
func (d *DetailStore) SweepOrphans(live func() map[string]struct{}) (int, error) {
	keys, err := d.db.Keys(detailKeyPrefix)
	if err != nil {
		return 0, err
	}
	ids := live()
	var orphans []string
	for _, k := range keys {
		id := strings.TrimPrefix(k, detailKeyPrefix)
		if _, ok := ids[id]; !ok {
			orphans = append(orphans, k)
		}
	}
	if len(orphans) == 0 {
		return 0, nil
	}
	if err := d.db.Delete(orphans...); err != nil {
		return 0, err
	}
	return len(orphans), nil
}
