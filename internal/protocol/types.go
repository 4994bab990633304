package protocol

import "encoding/json"

// Version is the wire protocol version. Both peers and the relay must agree
// on it before any application message is exchanged.
const Version = 1

type MessageType string

const (
	MsgProtocolHandshake  MessageType = "protocol_handshake"
	MsgProtocolAck        MessageType = "protocol_ack"
	MsgClientConnected    MessageType = "client_connected"
	MsgClientDisconnected MessageType = "client_disconnected"
	MsgStateUpdate        MessageType = "state_update"
	MsgRequestSync        MessageType = "request_sync"
	MsgError              MessageType = "error"

	// Explicit role control.
	MsgRoleAnnounce   MessageType = "role_announce"
	MsgOfferControl   MessageType = "offer_control"
	MsgRequestControl MessageType = "request_control"
	MsgAcceptControl  MessageType = "accept_control"
	MsgDeclineControl MessageType = "decline_control"
	MsgReleaseControl MessageType = "release_control"

	// Legacy role takeover, translated into the explicit role messages.
	MsgLockScreen   MessageType = "lock_screen"
	MsgUnlockScreen MessageType = "unlock_screen"
)

var knownTypes = map[MessageType]bool{
	MsgProtocolHandshake:  true,
	MsgProtocolAck:        true,
	MsgClientConnected:    true,
	MsgClientDisconnected: true,
	MsgStateUpdate:        true,
	MsgRequestSync:        true,
	MsgError:              true,
	MsgRoleAnnounce:       true,
	MsgOfferControl:       true,
	MsgRequestControl:     true,
	MsgAcceptControl:      true,
	MsgDeclineControl:     true,
	MsgReleaseControl:     true,
	MsgLockScreen:         true,
	MsgUnlockScreen:       true,
}

// Known reports whether t is a message kind this build understands.
func Known(t MessageType) bool {
	return knownTypes[t]
}

// IsRoleControl reports whether t participates in role negotiation.
func IsRoleControl(t MessageType) bool {
	switch t {
	case MsgRoleAnnounce, MsgOfferControl, MsgRequestControl, MsgAcceptControl,
		MsgDeclineControl, MsgReleaseControl, MsgLockScreen, MsgUnlockScreen:
		return true
	}
	return false
}

// Message is the envelope carried in every websocket frame.
type Message struct {
	Type            MessageType     `json:"type"`
	ClientID        string          `json:"clientId,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
	Timestamp       int64           `json:"timestamp"`
	ProtocolVersion int             `json:"protocol_version"`
	Accepted        *bool           `json:"accepted,omitempty"`
	Error           string          `json:"error,omitempty"`
}

type ErrorData struct {
	Error string `json:"error"`
}

type RoleData struct {
	Role     Role `json:"role"`
	Previous Role `json:"previous,omitempty"`
}

// PeerData accompanies client_connected and client_disconnected notices.
type PeerData struct {
	ClientID     string `json:"clientId"`
	Self         bool   `json:"self,omitempty"`
	Participants int    `json:"participants"`
	Role         Role   `json:"role,omitempty"`
}

// SessionInfo is the body returned by the session HTTP surface.
type SessionInfo struct {
	SessionID    string         `json:"sessionId"`
	CreatedAt    int64          `json:"createdAt"`
	ExpiresAt    int64          `json:"expiresAt"`
	LastActivity int64          `json:"lastActivity"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Participants []string       `json:"participants"`
}

// CreateSessionRequest is the body of POST /sessions.
type CreateSessionRequest struct {
	SessionID string         `json:"sessionId,omitempty"`
	TTL       string         `json:"ttl,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type CreateSessionResponse struct {
	SessionID string `json:"sessionId"`
	ExpiresAt int64  `json:"expiresAt"`
}
