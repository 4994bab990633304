// Package session is the relay side: an in-memory registry of sessions that
// pairs participants by session id and forwards frames between them.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"syncrelay/internal/constants"
	"syncrelay/internal/protocol"
	"syncrelay/internal/transport"
)

var ErrParticipantNotFound = errors.New("participant not found")

// Registry is the session table. Lookups on the table use mu; everything
// about a single session is serialized by that session's own lock, and the
// two are never held together.
type Registry struct {
	opts    Options
	clock   clockwork.Clock
	log     *zap.Logger
	metrics Metrics

	mu       sync.RWMutex
	sessions map[string]*Session
	onExpire func(id string)
}

func NewRegistry(opts Options, log *zap.Logger, options ...Option) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Registry{
		opts:     opts,
		clock:    clockwork.NewRealClock(),
		log:      log.Named("registry"),
		metrics:  nopMetrics{},
		sessions: make(map[string]*Session),
	}
	for _, o := range options {
		o(r)
	}
	return r
}

var _ Store = (*Registry)(nil)

// OnExpire registers fn to be called with the id of every session removed by
// the sweep.
func (r *Registry) OnExpire(fn func(id string)) {
	r.mu.Lock()
	r.onExpire = fn
	r.mu.Unlock()
}

func (r *Registry) ttl(d time.Duration) (time.Duration, error) {
	if d == 0 {
		return r.opts.SessionTimeout, nil
	}
	if d < 0 ||
		(r.opts.MinSessionTimeout > 0 && d < r.opts.MinSessionTimeout) ||
		(r.opts.MaxSessionTimeout > 0 && d > r.opts.MaxSessionTimeout) {
		return 0, fmt.Errorf("%w: %s not within [%s, %s]",
			ErrInvalidTTL, d, r.opts.MinSessionTimeout, r.opts.MaxSessionTimeout)
	}
	return d, nil
}

// Create allocates a session. An empty id is replaced by a generated one.
func (r *Registry) Create(opts CreateOptions) (*Session, error) {
	ttl, err := r.ttl(opts.TTL)
	if err != nil {
		return nil, err
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}

	s := newSession(id, r.clock.Now(), ttl, opts.Metadata)
	r.mu.Lock()
	if _, ok := r.sessions[id]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, id)
	}
	r.sessions[id] = s
	r.mu.Unlock()

	r.metrics.SessionOpened()
	r.log.Info("session created", zap.String("session", id), zap.Duration("ttl", ttl))
	return s, nil
}

// Get returns a live session. An expired session is removed on lookup.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.IsExpired(r.clock.Now()) {
		r.remove(s, "expired")
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (r *Registry) List() []protocol.SessionInfo {
	now := r.clock.Now()
	infos := make([]protocol.SessionInfo, 0)
	for _, s := range r.snapshot() {
		if s.IsExpired(now) {
			continue
		}
		infos = append(infos, s.Info())
	}
	sortByCreation(infos)
	return infos
}

// Delete removes a session and closes every participant socket.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	r.closeSession(s, "deleted")
	return nil
}

// Close removes every session.
func (r *Registry) Close() {
	for _, s := range r.snapshot() {
		r.unlink(s)
		r.closeSession(s, "shutdown")
	}
}

func (r *Registry) Stats() Stats {
	var st Stats
	for _, s := range r.snapshot() {
		s.mu.Lock()
		if !s.closed {
			st.Sessions++
			st.Participants += len(s.participants)
		}
		s.mu.Unlock()
	}
	return st
}

// Join attaches conn to the session, creating the session on first join, and
// assigns it a client id unique within the session. Peers learn about the
// new participant once it completes the protocol handshake.
func (r *Registry) Join(sessionID string, conn transport.Conn) (*Participant, error) {
	if sessionID == "" {
		return nil, ErrInvalidID
	}
	for {
		s := r.getOrCreate(sessionID)
		now := r.clock.Now()

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			r.unlink(s)
			continue
		}
		if s.expired(now) {
			s.mu.Unlock()
			r.remove(s, "expired")
			continue
		}
		if len(s.participants) >= r.opts.MaxParticipants {
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrSessionFull, sessionID)
		}

		id := uuid.NewString()
		for s.participants[id] != nil {
			id = uuid.NewString()
		}
		log := r.log.With(zap.String("session", s.ID), zap.String("client", id))
		p := newParticipant(id, s, conn, r.newLimiter(), r.sendBuffer(), now, log)
		s.add(p, now)
		count := len(s.participants)
		s.mu.Unlock()

		r.metrics.ParticipantJoined()
		log.Info("participant joined", zap.Int("participants", count))
		return p, nil
	}
}

// Serve reads frames from p until its transport closes, then removes it from
// its session.
func (r *Registry) Serve(p *Participant) {
	defer r.Leave(p)
	for {
		frame, err := p.conn.ReadMessage()
		if err != nil {
			if !transport.IsNormalClose(err) && !errors.Is(err, transport.ErrClosed) {
				p.log.Debug("read failed", zap.Error(err))
			}
			return
		}
		p.MarkAlive()
		r.handleFrame(p, frame)
	}
}

// Leave removes p from its session and tells the remaining peers. Calling it
// for a participant already removed, for example by a session delete, does
// nothing.
func (r *Registry) Leave(p *Participant) {
	s := p.session
	now := r.clock.Now()

	s.mu.Lock()
	removed := s.remove(p, now)
	if removed && p.Validated() {
		notice := protocol.NewClientDisconnected(p.ClientID, protocol.PeerData{
			ClientID:     p.ClientID,
			Participants: len(s.participants),
		})
		for _, q := range s.others(p) {
			q.enqueueMessage(notice)
		}
	}
	remaining := len(s.participants)
	s.mu.Unlock()

	p.Close()
	if !removed {
		return
	}
	r.metrics.ParticipantLeft()
	p.log.Info("participant left", zap.Int("participants", remaining))
}

// Route forwards frame from the participant from to every other live
// participant of the session and returns how many received it.
func (r *Registry) Route(sessionID, from string, frame []byte) (int, error) {
	s, err := r.Get(sessionID)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	p, ok := s.participants[from]
	s.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrParticipantNotFound, from)
	}

	var t protocol.MessageType
	if msg, err := protocol.Decode(frame); err == nil {
		t = msg.Type
	}
	return r.route(p, t, frame), nil
}

func (r *Registry) route(p *Participant, t protocol.MessageType, frame []byte) int {
	s := p.session
	n := 0

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0
	}
	for _, q := range s.others(p) {
		if q.enqueue(frame) {
			n++
		}
	}
	s.lastActivity = r.clock.Now()
	s.mu.Unlock()

	r.metrics.MessageRouted(t, n)
	return n
}

func (r *Registry) handleFrame(p *Participant, frame []byte) {
	if !p.limiter.Allow() {
		r.metrics.MessageDropped("rate_limited")
		p.enqueueMessage(protocol.NewErrorMessage(constants.MsgRateLimitExceeded))
		return
	}
	msg, err := protocol.Decode(frame)
	if err != nil {
		r.metrics.MessageDropped("malformed")
		p.enqueueMessage(protocol.NewErrorMessage(constants.MsgInvalidJSON))
		return
	}

	if msg.Type == protocol.MsgProtocolHandshake {
		r.handshake(p, msg)
		return
	}
	if !p.Validated() {
		r.metrics.MessageDropped("no_handshake")
		p.enqueueMessage(protocol.NewErrorMessage(constants.MsgHandshakeRequired))
		return
	}

	switch msg.Type {
	case protocol.MsgRoleAnnounce:
		var rd protocol.RoleData
		if protocol.DecodeData(msg, &rd) == nil && rd.Role.Valid() {
			p.setRole(rd.Role)
		}
	case protocol.MsgLockScreen:
		p.setRole(protocol.RoleActive)
	case protocol.MsgReleaseControl, protocol.MsgUnlockScreen:
		p.setRole(protocol.RoleConnectedIdle)
	}
	r.route(p, msg.Type, frame)
}

// handshake answers protocol_handshake. On success the participant learns
// its own id and the peers already present, and those peers learn about it.
func (r *Registry) handshake(p *Participant, msg *protocol.Message) {
	if msg.ProtocolVersion != protocol.Version {
		r.metrics.MessageDropped("version_mismatch")
		p.log.Warn("protocol version mismatch", zap.Int("version", msg.ProtocolVersion))
		p.enqueueMessage(protocol.NewAck(false,
			fmt.Sprintf("%s %d", constants.MsgVersionMismatch, msg.ProtocolVersion)))
		return
	}

	s := p.session
	s.mu.Lock()
	defer s.mu.Unlock()

	first := p.validate()
	p.enqueueMessage(protocol.NewAck(true, ""))
	if !first {
		return
	}

	others := s.others(p)
	count := len(others) + 1
	p.enqueueMessage(protocol.NewClientConnected(p.ClientID, protocol.PeerData{
		ClientID:     p.ClientID,
		Self:         true,
		Participants: count,
	}))
	joined := protocol.NewClientConnected(p.ClientID, protocol.PeerData{
		ClientID:     p.ClientID,
		Participants: count,
		Role:         p.Role(),
	})
	for _, q := range others {
		p.enqueueMessage(protocol.NewClientConnected(q.ClientID, protocol.PeerData{
			ClientID:     q.ClientID,
			Participants: count,
			Role:         q.Role(),
		}))
		q.enqueueMessage(joined)
	}
	s.lastActivity = r.clock.Now()
	p.log.Debug("handshake accepted", zap.Int("participants", count))
}

// Run sweeps the registry every cleanup interval until ctx is done.
func (r *Registry) Run(ctx context.Context) error {
	ticker := r.clock.NewTicker(r.opts.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			r.Sweep()
		}
	}
}

// Sweep deletes empty sessions that are past their expiry or were left
// empty longer than the grace period. Connected participants keep an expired
// session alive. It also pings the participants of idle sessions. A participant
// that did not answer the previous ping is closed.
func (r *Registry) Sweep() {
	now := r.clock.Now()
	for _, s := range r.snapshot() {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			r.unlink(s)
			continue
		}

		reason := ""
		switch {
		case s.expired(now):
			reason = "expired"
		case len(s.participants) == 0 && !s.emptySince.IsZero() && now.Sub(s.emptySince) >= r.opts.EmptyGrace:
			reason = "empty"
		}
		if reason != "" {
			participants := s.detach()
			s.mu.Unlock()
			r.finishClose(s, participants, reason)
			r.unlink(s)
			r.expired(s.ID)
			continue
		}

		var probe []*Participant
		if r.opts.PingInterval > 0 && now.Sub(s.lastActivity) >= r.opts.PingInterval {
			for _, id := range s.order {
				probe = append(probe, s.participants[id])
			}
		}
		s.mu.Unlock()

		for _, p := range probe {
			if !p.probe() {
				p.log.Info("participant unresponsive, closing")
				p.Close()
			}
		}
	}
}

// remove drops a session from the table and closes it. Used by lookups that
// find an expired session.
func (r *Registry) remove(s *Session, reason string) {
	if !r.closeSession(s, reason) {
		return
	}
	r.unlink(s)
	r.expired(s.ID)
}

func (r *Registry) expired(id string) {
	r.mu.RLock()
	fn := r.onExpire
	r.mu.RUnlock()
	if fn != nil {
		fn(id)
	}
}

// closeSession closes every participant of s. It reports false if s was
// already closed.
func (r *Registry) closeSession(s *Session, reason string) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	participants := s.detach()
	s.mu.Unlock()

	r.finishClose(s, participants, reason)
	return true
}

func (r *Registry) finishClose(s *Session, participants []*Participant, reason string) {
	for _, p := range participants {
		p.Close()
		r.metrics.ParticipantLeft()
	}
	r.metrics.SessionClosed(reason)
	r.log.Info("session closed",
		zap.String("session", s.ID),
		zap.String("reason", reason),
		zap.Int("participants", len(participants)),
	)
}

func (r *Registry) unlink(s *Session) {
	r.mu.Lock()
	if r.sessions[s.ID] == s {
		delete(r.sessions, s.ID)
	}
	r.mu.Unlock()
}

func (r *Registry) getOrCreate(id string) *Session {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		s = newSession(id, r.clock.Now(), r.opts.SessionTimeout, nil)
		r.sessions[id] = s
	}
	r.mu.Unlock()

	if !ok {
		r.metrics.SessionOpened()
		r.log.Info("session created on join", zap.String("session", id))
	}
	return s
}

func (r *Registry) snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func (r *Registry) newLimiter() *rate.Limiter {
	if r.opts.RateLimit <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := r.opts.RateBurst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(r.opts.RateLimit), burst)
}

func (r *Registry) sendBuffer() int {
	if r.opts.SendBuffer > 0 {
		return r.opts.SendBuffer
	}
	return constants.SendBufferSize
}
