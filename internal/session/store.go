package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"syncrelay/internal/protocol"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
	ErrSessionFull     = errors.New("session is full")
	ErrInvalidTTL      = errors.New("invalid session ttl")
	ErrInvalidID       = errors.New("invalid session id")
)

// Session pairs the participants that joined under one id. Its participant
// set, metadata and timestamps are guarded by mu; join, leave, routing and
// the sweep all take it.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu           sync.Mutex
	expiresAt    time.Time
	lastActivity time.Time
	emptySince   time.Time
	metadata     map[string]any
	participants map[string]*Participant
	order        []string
	closed       bool
}

func newSession(id string, now time.Time, ttl time.Duration, metadata map[string]any) *Session {
	if metadata == nil {
		metadata = make(map[string]any)
	}
	return &Session{
		ID:           id,
		CreatedAt:    now,
		expiresAt:    now.Add(ttl),
		lastActivity: now,
		metadata:     metadata,
		participants: make(map[string]*Participant),
	}
}

func (s *Session) ExpiresAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiresAt
}

func (s *Session) IsExpired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expired(now)
}

// expired reports whether the session may be destroyed: its expiry has
// passed and nobody is connected. Caller holds mu.
func (s *Session) expired(now time.Time) bool {
	return len(s.participants) == 0 && now.After(s.expiresAt)
}

// Participants returns the client ids in join order.
func (s *Session) Participants() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

func (s *Session) Info() protocol.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta := make(map[string]any, len(s.metadata))
	for k, v := range s.metadata {
		meta[k] = v
	}
	return protocol.SessionInfo{
		SessionID:    s.ID,
		CreatedAt:    s.CreatedAt.UnixMilli(),
		ExpiresAt:    s.expiresAt.UnixMilli(),
		LastActivity: s.lastActivity.UnixMilli(),
		Metadata:     meta,
		Participants: append([]string{}, s.order...),
	}
}

// add registers p. Caller holds mu.
func (s *Session) add(p *Participant, now time.Time) {
	s.participants[p.ClientID] = p
	s.order = append(s.order, p.ClientID)
	s.lastActivity = now
	s.emptySince = time.Time{}
}

// remove unregisters p and reports whether it was still present. Caller holds mu.
func (s *Session) remove(p *Participant, now time.Time) bool {
	if cur, ok := s.participants[p.ClientID]; !ok || cur != p {
		return false
	}
	delete(s.participants, p.ClientID)
	for i, id := range s.order {
		if id == p.ClientID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if len(s.participants) == 0 {
		s.emptySince = now
	}
	return true
}

// others returns the validated participants other than p in join order.
// Caller holds mu.
func (s *Session) others(p *Participant) []*Participant {
	out := make([]*Participant, 0, len(s.order))
	for _, id := range s.order {
		q := s.participants[id]
		if q == p || !q.Validated() {
			continue
		}
		out = append(out, q)
	}
	return out
}

// detach marks the session closed and hands back every participant. Caller
// holds mu.
func (s *Session) detach() []*Participant {
	s.closed = true
	out := make([]*Participant, 0, len(s.participants))
	for _, id := range s.order {
		out = append(out, s.participants[id])
	}
	s.participants = make(map[string]*Participant)
	s.order = nil
	return out
}

func sortByCreation(infos []protocol.SessionInfo) {
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt == infos[j].CreatedAt {
			return infos[i].SessionID < infos[j].SessionID
		}
		return infos[i].CreatedAt < infos[j].CreatedAt
	})
}
