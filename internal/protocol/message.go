package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrMalformed = errors.New("malformed message")
	ErrNoData    = errors.New("message has no data")
)

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// NewMessage builds an envelope stamped with the current protocol version.
// data may be nil, a json.RawMessage, or any value encodable as JSON.
func NewMessage(t MessageType, clientID string, data any) (*Message, error) {
	msg := &Message{
		Type:            t,
		ClientID:        clientID,
		Timestamp:       nowMillis(),
		ProtocolVersion: Version,
	}
	if data == nil {
		return msg, nil
	}
	if raw, ok := data.(json.RawMessage); ok {
		msg.Data = raw
		return msg, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s data: %w", t, err)
	}
	msg.Data = raw
	return msg, nil
}

func NewHandshake() *Message {
	return &Message{
		Type:            MsgProtocolHandshake,
		Timestamp:       nowMillis(),
		ProtocolVersion: Version,
	}
}

func NewAck(accepted bool, errText string) *Message {
	return &Message{
		Type:            MsgProtocolAck,
		Timestamp:       nowMillis(),
		ProtocolVersion: Version,
		Accepted:        &accepted,
		Error:           errText,
	}
}

func NewClientConnected(clientID string, data PeerData) *Message {
	msg, _ := NewMessage(MsgClientConnected, clientID, data)
	return msg
}

func NewClientDisconnected(clientID string, data PeerData) *Message {
	msg, _ := NewMessage(MsgClientDisconnected, clientID, data)
	return msg
}

func NewErrorMessage(text string) *Message {
	msg, _ := NewMessage(MsgError, "", ErrorData{Error: text})
	msg.Error = text
	return msg
}

// Encode serializes msg for a single transport frame.
func Encode(msg *Message) ([]byte, error) {
	return json.Marshal(msg)
}

// MustEncode is Encode for messages built by this package.
func MustEncode(msg *Message) []byte {
	data, err := Encode(msg)
	if err != nil {
		panic(err)
	}
	return data
}

// Decode parses a frame. Unknown message types decode fine; callers decide
// what to do with them.
func Decode(frame []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return &msg, nil
}

// DecodeData unmarshals the data field of msg into v.
func DecodeData(msg *Message, v any) error {
	if len(msg.Data) == 0 {
		return ErrNoData
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		return fmt.Errorf("%w: %s data: %v", ErrMalformed, msg.Type, err)
	}
	return nil
}

// ErrorText extracts the error string of an error message, looking at both
// the top-level field and data.error.
func ErrorText(msg *Message) string {
	if msg.Error != "" {
		return msg.Error
	}
	var ed ErrorData
	if err := DecodeData(msg, &ed); err == nil {
		return ed.Error
	}
	return ""
}
