package authz

import (
	"context"
	"sync"
)

// StaticStore is an in-memory MembershipStore. Deployments that run the
// realtime service next to the membership database swap in their own
// implementation; this one serves local development and tests.
type StaticStore struct {
	mu         sync.RWMutex
	rehearsals map[string]map[string]struct{}
	shows      map[string]map[string]struct{}
}

var _ MembershipStore = (*StaticStore)(nil)

func NewStaticStore() *StaticStore {
	return &StaticStore{
		rehearsals: make(map[string]map[string]struct{}),
		shows:      make(map[string]map[string]struct{}),
	}
}

// GrantRehearsal marks the users as participants of the rehearsal.
func (s *StaticStore) GrantRehearsal(rehearsalID string, userIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	grant(s.rehearsals, rehearsalID, userIDs)
}

// GrantShow marks the users as having access to the show.
func (s *StaticStore) GrantShow(showID string, userIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	grant(s.shows, showID, userIDs)
}

func (s *StaticStore) IsRehearsalParticipant(_ context.Context, userID, rehearsalID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rehearsals[rehearsalID][userID]
	return ok, nil
}

func (s *StaticStore) HasShowAccess(_ context.Context, userID, showID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.shows[showID][userID]
	return ok, nil
}

func grant(m map[string]map[string]struct{}, key string, userIDs []string) {
	set, ok := m[key]
	if !ok {
		set = make(map[string]struct{})
		m[key] = set
	}
	for _, id := range userIDs {
		set[id] = struct{}{}
	}
}
