package syncclient

import (
	"encoding/json"
	"sync"

	"syncrelay/internal/protocol"
)

// ConnectionState is the transport-level state of a Client.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	}
	return "unknown"
}

// EventHandler observes a Client. Callbacks are delivered in order on a single
// goroutine that is not the client's event loop, so handlers may call back
// into the Client.
type EventHandler interface {
	OnConnectionStateChanged(prev, next ConnectionState)
	OnClientIDAssigned(clientID string)
	OnPeerConnected(clientID string)
	OnPeerDisconnected(clientID string)
	OnTutorialState(from string, payload json.RawMessage)
	OnSyncRequested(from string)
	OnControlOffered(from string)
	OnControlRequested(from string)
	OnControlAccepted(from string)
	OnControlDeclined(from string)
	OnRoleChanged(prev, next protocol.Role)
	OnError(err error)
}

// NopHandler ignores every event. Embed it to implement only some callbacks.
type NopHandler struct{}

func (NopHandler) OnConnectionStateChanged(ConnectionState, ConnectionState) {}
func (NopHandler) OnClientIDAssigned(string)                                 {}
func (NopHandler) OnPeerConnected(string)                                    {}
func (NopHandler) OnPeerDisconnected(string)                                 {}
func (NopHandler) OnTutorialState(string, json.RawMessage)                   {}
func (NopHandler) OnSyncRequested(string)                                    {}
func (NopHandler) OnControlOffered(string)                                   {}
func (NopHandler) OnControlRequested(string)                                 {}
func (NopHandler) OnControlAccepted(string)                                  {}
func (NopHandler) OnControlDeclined(string)                                  {}
func (NopHandler) OnRoleChanged(protocol.Role, protocol.Role)                {}
func (NopHandler) OnError(error)                                             {}

// notifier delivers events to the handler in FIFO order from its own goroutine.
type notifier struct {
	handler EventHandler

	mu     sync.Mutex
	queue  []func(EventHandler)
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newNotifier(h EventHandler) *notifier {
	n := &notifier{
		handler: h,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *notifier) push(fn func(EventHandler)) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.queue = append(n.queue, fn)
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *notifier) run() {
	defer close(n.done)
	for {
		n.mu.Lock()
		batch := n.queue
		n.queue = nil
		closed := n.closed
		n.mu.Unlock()

		for _, fn := range batch {
			fn(n.handler)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-n.wake
	}
}

// close stops accepting events and waits for queued ones to be delivered.
func (n *notifier) close() {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
	<-n.done
}
