package websocket

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType represents the type of WebSocket message using a custom enum type for better type safety
type MessageType string

// WebSocket message types - essential realtime functionality
const (
	// Connection events (inbound)
	MessageTypeSetup     MessageType = "connection.setup"
	MessageTypeHeartbeat MessageType = "connection.heartbeat"

	// Message events (inbound)
	MessageTypeSend      MessageType = "message.send"
	MessageTypeDelivered MessageType = "message.delivered"
	MessageTypeRead      MessageType = "message.read"
	MessageTypeReadAll   MessageType = "chat.read_all"

	// Typing indicators (inbound, relayed as-is)
	MessageTypeTyping     MessageType = "typing.start"
	MessageTypeStopTyping MessageType = "typing.stop"

	// Outbound events
	MessageTypeUserOnline     MessageType = "user.online"
	MessageTypeUserOffline    MessageType = "user.offline"
	MessageTypeNewMessage     MessageType = "message.new"
	MessageTypeDeliveredAck   MessageType = "message.delivered_ack"
	MessageTypeReadAck        MessageType = "message.read_ack"
	MessageTypeDelayed        MessageType = "message.delayed"
	MessageTypeUploadProgress MessageType = "upload.progress"
	MessageTypeBatchProgress  MessageType = "upload.batch_progress"

	// Error events
	MessageTypeError MessageType = "error"
)

// String returns the string representation of the MessageType
func (mt MessageType) String() string {
	return string(mt)
}

// IsValid checks if the MessageType is a valid inbound enum value
func (mt MessageType) IsValid() bool {
	switch mt {
	case MessageTypeSetup, MessageTypeHeartbeat, MessageTypeSend,
		MessageTypeDelivered, MessageTypeRead, MessageTypeReadAll,
		MessageTypeTyping, MessageTypeStopTyping:
		return true
	default:
		return false
	}
}

// Base message structure with typed MessageType for better type safety
type Message struct {
	ID        string                 `json:"id"`
	Type      MessageType            `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"`
	UserID    uint                   `json:"user_id,omitempty"`
}

// Validate validates the message structure and type
func (m *Message) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("message ID is required")
	}
	if !m.Type.IsValid() {
		return fmt.Errorf("invalid message type: %s", m.Type)
	}
	if m.Data == nil {
		m.Data = make(map[string]interface{})
	}
	return nil
}

// Encode marshals the envelope for the wire. Marshal errors cannot occur
// for map/string/number data, so the error is intentionally swallowed.
func (m *Message) Encode() []byte {
	raw, _ := json.Marshal(m)
	return raw
}

// NewMessage creates a new message with the specified type and data
func NewMessage(id string, msgType MessageType, userID uint, data map[string]interface{}) *Message {
	if data == nil {
		data = make(map[string]interface{})
	}
	return &Message{
		ID:        id,
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().Unix(),
		UserID:    userID,
	}
}

// NewErrorMessage creates an error message answered to the originating connection
func NewErrorMessage(id string, userID uint, code, message string) *Message {
	return NewMessage(id, MessageTypeError, userID, map[string]interface{}{
		"code":    code,
		"message": message,
	})
}
