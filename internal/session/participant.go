package session

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"syncrelay/internal/protocol"
	"syncrelay/internal/transport"
)

type pinger interface {
	Ping() error
}

// Participant is one transport attached to a session. Writes go through a
// buffered queue drained by its own goroutine; a participant whose queue is
// full is disconnected instead of stalling the rest of the session.
type Participant struct {
	ClientID string
	JoinedAt time.Time

	session *Session
	conn    transport.Conn
	limiter *rate.Limiter
	log     *zap.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	role      protocol.Role
	validated bool
	alive     bool
}

func newParticipant(id string, s *Session, conn transport.Conn, limiter *rate.Limiter, buffer int, now time.Time, log *zap.Logger) *Participant {
	p := &Participant{
		ClientID: id,
		JoinedAt: now,
		session:  s,
		conn:     conn,
		limiter:  limiter,
		log:      log,
		send:     make(chan []byte, buffer),
		done:     make(chan struct{}),
		role:     protocol.RoleConnectedIdle,
		alive:    true,
	}
	go p.writePump()
	return p
}

func (p *Participant) SessionID() string {
	return p.session.ID
}

func (p *Participant) Role() protocol.Role {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.role
}

func (p *Participant) setRole(r protocol.Role) {
	p.mu.Lock()
	p.role = r
	p.mu.Unlock()
}

// Validated reports whether the participant completed the protocol handshake.
func (p *Participant) Validated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.validated
}

func (p *Participant) validate() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.validated {
		return false
	}
	p.validated = true
	return true
}

// MarkAlive records a sign of life: an inbound frame or a pong.
func (p *Participant) MarkAlive() {
	p.mu.Lock()
	p.alive = true
	p.mu.Unlock()
}

// probe pings the participant. It reports false when the previous probe went
// unanswered or the ping could not be written.
func (p *Participant) probe() bool {
	pg, ok := p.conn.(pinger)
	if !ok {
		return true
	}
	p.mu.Lock()
	alive := p.alive
	p.alive = false
	p.mu.Unlock()
	if !alive {
		return false
	}
	return pg.Ping() == nil
}

func (p *Participant) enqueue(frame []byte) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.send <- frame:
		return true
	default:
		p.log.Warn("send queue full, dropping participant")
		p.Close()
		return false
	}
}

func (p *Participant) enqueueMessage(msg *protocol.Message) bool {
	return p.enqueue(protocol.MustEncode(msg))
}

func (p *Participant) writePump() {
	for {
		select {
		case frame := <-p.send:
			if err := p.conn.WriteMessage(frame); err != nil {
				select {
				case <-p.done:
				default:
					p.log.Debug("write failed", zap.Error(err))
					p.Close()
				}
				return
			}
		case <-p.done:
			return
		}
	}
}

// Close closes the transport. Safe to call more than once.
func (p *Participant) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.conn.Close()
	})
}

// Done is closed once the participant has been closed.
func (p *Participant) Done() <-chan struct{} {
	return p.done
}
