// Package mediastore owns the per-tab collections of captured media resources.
package mediastore

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dgnsrekt/mediasniff/internal/classify"
	"github.com/dgnsrekt/mediasniff/internal/types"
)

// MaxPerTab bounds each tab's collection. Oldest-inserted records go first.
const MaxPerTab = 200

// Persister receives full-collection snapshots after every mutation.
// Implementations must not block; they are called with the store locked.
type Persister interface {
	Save(tabID int, records []types.CapturedResource)
	Delete(tabID int)
}

// Outcome reports what InsertOrMerge did with an observation.
type Outcome int

const (
	Rejected Outcome = iota
	Inserted
	Merged
	Unchanged
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Merged:
		return "merged"
	case Unchanged:
		return "unchanged"
	default:
		return "rejected"
	}
}

// ChangeKind names a store mutation delivered to listeners.
type ChangeKind string

const (
	ChangeCaptured ChangeKind = "captured"
	ChangeMerged   ChangeKind = "merged"
	ChangeCleared  ChangeKind = "cleared"
)

// Change describes a mutation. Resource is nil for ChangeCleared.
type Change struct {
	TabID    int
	Kind     ChangeKind
	Resource *types.CapturedResource
}

type tabSession struct {
	records []*types.CapturedResource
	index   map[string]*types.CapturedResource
}

func newTabSession() *tabSession {
	return &tabSession{index: make(map[string]*types.CapturedResource)}
}

func (s *tabSession) append(r *types.CapturedResource) {
	s.records = append(s.records, r)
	s.index[r.BaseKey] = r
	for len(s.records) > MaxPerTab {
		evicted := s.records[0]
		s.records[0] = nil
		s.records = s.records[1:]
		if s.index[evicted.BaseKey] == evicted {
			delete(s.index, evicted.BaseKey)
		}
	}
}

func (s *tabSession) snapshot() []types.CapturedResource {
	out := make([]types.CapturedResource, len(s.records))
	for i, r := range s.records {
		out[i] = *r
	}
	return out
}

// Store maps tab IDs to their sessions. It is constructed once per process and
// shared by intake, the persistence bridge and the command surface.
type Store struct {
	mu        sync.Mutex
	tabs      map[int]*tabSession
	persister Persister
	listeners []func(Change)
	now       func() time.Time
}

// NewStore creates an empty store. A nil persister disables durable mirroring.
func NewStore(persister Persister) *Store {
	return &Store{
		tabs:      make(map[int]*tabSession),
		persister: persister,
		now:       time.Now,
	}
}

// SetPersister replaces the durable mirror. Used at startup once the bridge
// exists.
func (s *Store) SetPersister(p Persister) {
	s.mu.Lock()
	s.persister = p
	s.mu.Unlock()
}

// OnChange registers a listener invoked after each mutation, outside the lock.
func (s *Store) OnChange(fn func(Change)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// InsertOrMerge adds an observation to its tab's collection, or folds it into
// the existing record for the same logical resource.
func (s *Store) InsertOrMerge(obs types.Observation) Outcome {
	if classify.IsExcluded(obs.URL) || isProbe(obs.URL, obs.Site) {
		return Rejected
	}
	key := BaseKey(obs.URL, obs.Site)

	s.mu.Lock()
	session, ok := s.tabs[obs.TabID]
	if !ok {
		session = newTabSession()
		s.tabs[obs.TabID] = session
	}

	var (
		outcome Outcome
		changed types.CapturedResource
	)
	if existing, ok := session.index[key]; ok {
		if mergeInto(existing, obs) {
			outcome = Merged
		} else {
			outcome = Unchanged
		}
		changed = *existing
	} else {
		r := s.newResource(obs, key)
		session.append(r)
		outcome = Inserted
		changed = *r
	}

	if outcome != Unchanged && s.persister != nil {
		s.persister.Save(obs.TabID, session.snapshot())
	}
	listeners := s.listeners
	s.mu.Unlock()

	switch outcome {
	case Inserted:
		notify(listeners, Change{TabID: obs.TabID, Kind: ChangeCaptured, Resource: &changed})
	case Merged:
		notify(listeners, Change{TabID: obs.TabID, Kind: ChangeMerged, Resource: &changed})
	}
	return outcome
}

func (s *Store) newResource(obs types.Observation, key string) *types.CapturedResource {
	desc := classify.Describe(obs.URL, obs.ContentType, obs.Site)
	r := &types.CapturedResource{
		URL:          obs.URL,
		BaseKey:      key,
		FilenameHint: desc.FilenameHint,
		Extension:    desc.Extension,
		DetectedBy:   obs.DetectedBy,
		SizeBytes:    max(obs.SizeBytes, 0),
		IsSegment:    classify.IsSegment(obs.URL),
		Site:         obs.Site,
		Quality:      desc.Quality,
		IsAudioOnly:  desc.IsAudioOnly,
		FirstSeenAt:  s.now(),
	}
	if obs.ContentType != "" {
		ct := obs.ContentType
		r.ContentType = &ct
	}
	return r
}

// mergeInto raises size and fills unknown content type and site. Descriptive
// fields keep their first value.
func mergeInto(r *types.CapturedResource, obs types.Observation) bool {
	changed := false
	if obs.SizeBytes > r.SizeBytes {
		r.SizeBytes = obs.SizeBytes
		changed = true
	}
	if r.ContentType == nil && obs.ContentType != "" {
		ct := obs.ContentType
		r.ContentType = &ct
		changed = true
	}
	if r.Site == types.SiteNone && obs.Site != types.SiteNone {
		r.Site = obs.Site
		changed = true
	}
	return changed
}

// Clear drops a tab's collection and its durable snapshot.
func (s *Store) Clear(tabID int) {
	s.mu.Lock()
	_, existed := s.tabs[tabID]
	delete(s.tabs, tabID)
	if s.persister != nil {
		s.persister.Delete(tabID)
	}
	listeners := s.listeners
	s.mu.Unlock()

	if existed {
		notify(listeners, Change{TabID: tabID, Kind: ChangeCleared})
	}
}

// Restore replaces a tab's in-memory collection with records read back from
// durable storage. It does not write the records back out.
func (s *Store) Restore(tabID int, records []types.CapturedResource) {
	session := restoredSession(tabID, records)

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(session.records) == 0 {
		delete(s.tabs, tabID)
		return
	}
	s.tabs[tabID] = session
}

// RestoreIfAbsent installs records only when memory holds nothing for the
// tab, so a record captured while the durable copy was being read is kept.
// It reports whether the records were installed.
func (s *Store) RestoreIfAbsent(tabID int, records []types.CapturedResource) bool {
	session := restoredSession(tabID, records)
	if len(session.records) == 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if live, ok := s.tabs[tabID]; ok && len(live.records) > 0 {
		return false
	}
	s.tabs[tabID] = session
	return true
}

func restoredSession(tabID int, records []types.CapturedResource) *tabSession {
	session := newTabSession()
	for i := range records {
		r := records[i]
		if r.BaseKey == "" {
			r.BaseKey = BaseKey(r.URL, r.Site)
		}
		if _, dup := session.index[r.BaseKey]; dup {
			slog.Debug("dropping duplicate restored record", "tab_id", tabID, "base_key", r.BaseKey)
			continue
		}
		session.append(&r)
	}
	return session
}

// HasSession reports whether memory holds at least one record for the tab.
func (s *Store) HasSession(tabID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.tabs[tabID]
	return ok && len(session.records) > 0
}

// Records returns a copy of the tab's collection in insertion order.
func (s *Store) Records(tabID int) []types.CapturedResource {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.tabs[tabID]
	if !ok {
		return nil
	}
	return session.snapshot()
}

// TabIDs lists tabs with a live session, ascending.
func (s *Store) TabIDs() []int {
	s.mu.Lock()
	ids := make([]int, 0, len(s.tabs))
	for id := range s.tabs {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Ints(ids)
	return ids
}

// RankedSnapshot returns the tab's non-segment records ordered by size, then
// most recent first. When only segments exist, all records are returned in
// insertion order.
func (s *Store) RankedSnapshot(tabID int) []types.CapturedResource {
	return Rank(s.Records(tabID))
}

// Rank orders records for presentation. See RankedSnapshot.
func Rank(records []types.CapturedResource) []types.CapturedResource {
	ranked := make([]types.CapturedResource, 0, len(records))
	for _, r := range records {
		if !r.IsSegment {
			ranked = append(ranked, r)
		}
	}
	if len(ranked) == 0 {
		return append(ranked, records...)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].SizeBytes != ranked[j].SizeBytes {
			return ranked[i].SizeBytes > ranked[j].SizeBytes
		}
		return ranked[i].FirstSeenAt.After(ranked[j].FirstSeenAt)
	})
	return ranked
}

func notify(listeners []func(Change), c Change) {
	for _, fn := range listeners {
		fn(c)
	}
}
