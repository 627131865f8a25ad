package presence

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Store is the client-side presence map, keyed by user id. It is fed from
// two unordered sources (bulk snapshots and single deltas) and merges them
// so that either arrival order converges to the same state.
type Store struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{records: make(map[string]Record)}
}

// SetOne merges a single update.
func (s *Store) SetOne(u Update) {
	if u.UserID == "" {
		log.Warn().Msg("Dropping presence update without user id")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.records[u.UserID]
	s.records[u.UserID] = merge(prev, ok, u)
}

// SetMany merges a batch of updates, each user independently.
func (s *Store) SetMany(us []Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range us {
		if u.UserID == "" {
			continue
		}
		prev, ok := s.records[u.UserID]
		s.records[u.UserID] = merge(prev, ok, u)
	}
}

// EnsureOnline marks userID online/auto after a local reconnect, unless the
// user has an active manual override.
func (s *Store) EnsureOnline(userID string) {
	if userID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userID]
	if ok && rec.Manual() {
		log.Debug().Str("user_id", userID).Msg("Keeping manual presence on reconnect")
		return
	}
	rec.Status = StatusOnline
	rec.StatusSource = SourceAuto
	s.records[userID] = rec
}

// Get returns the record for userID.
func (s *Store) Get(userID string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[userID]
	return rec, ok
}

// All returns a copy of every record.
func (s *Store) All() map[string]Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Record, len(s.records))
	for k, v := range s.records {
		out[k] = v
	}
	return out
}

// Len returns the number of known users.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Clear drops every record. Only called on logout.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]Record)
}

// merge applies u on top of prev.
//
//   - status/customStatus/manualStatus/manualCustomStatus take the incoming
//     value when sent, except that an auto-sourced update never changes the
//     observable status of a record with an active manual override;
//   - lastSeenAt and timestamp keep the previous value when omitted;
//   - statusSource keeps the previous value when omitted, else auto.
func merge(prev Record, existed bool, u Update) Record {
	next := prev
	if !existed {
		next = Record{Status: StatusOffline, StatusSource: SourceAuto}
	}

	protected := existed && prev.Manual() && u.autoSourced() && u.Cleared&FieldManualStatus == 0

	if !protected {
		if u.Status != nil {
			next.Status = *u.Status
		}
		switch {
		case u.CustomStatus != nil:
			next.CustomStatus = u.CustomStatus
		case u.Cleared&FieldCustomStatus != 0:
			next.CustomStatus = nil
		}
		if u.StatusSource != nil {
			next.StatusSource = *u.StatusSource
		}
	}

	switch {
	case u.ManualStatus != nil:
		next.ManualStatus = u.ManualStatus
	case u.Cleared&FieldManualStatus != 0:
		next.ManualStatus = nil
	}
	switch {
	case u.ManualCustomStatus != nil:
		next.ManualCustomStatus = u.ManualCustomStatus
	case u.Cleared&FieldManualCustomStatus != 0:
		next.ManualCustomStatus = nil
	}

	if u.LastSeenAt != nil {
		next.LastSeenAt = u.LastSeenAt
	}
	if u.Timestamp != nil {
		next.Timestamp = u.Timestamp
	}
	if next.StatusSource == "" {
		next.StatusSource = SourceAuto
	}
	return next
}
