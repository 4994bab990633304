package session

import (
	"context"

	"syncrelay/internal/protocol"
	"syncrelay/internal/transport"
)

// Store is the registry surface used by the HTTP layer.
type Store interface {
	Create(opts CreateOptions) (*Session, error)
	Get(id string) (*Session, error)
	List() []protocol.SessionInfo
	Delete(id string) error
	Join(sessionID string, conn transport.Conn) (*Participant, error)
	Serve(p *Participant)
	Stats() Stats
	OnExpire(fn func(id string))
	Run(ctx context.Context) error
	Close()
}

// Metrics receives registry events.
type Metrics interface {
	SessionOpened()
	SessionClosed(reason string)
	ParticipantJoined()
	ParticipantLeft()
	MessageRouted(t protocol.MessageType, recipients int)
	MessageDropped(reason string)
}

type Stats struct {
	Sessions     int `json:"sessions"`
	Participants int `json:"participants"`
}

type nopMetrics struct{}

func (nopMetrics) SessionOpened()                          {}
func (nopMetrics) SessionClosed(string)                    {}
func (nopMetrics) ParticipantJoined()                      {}
func (nopMetrics) ParticipantLeft()                        {}
func (nopMetrics) MessageRouted(protocol.MessageType, int) {}
func (nopMetrics) MessageDropped(string)                   {}
