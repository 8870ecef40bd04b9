package websocket

import (
	"encoding/json"
	"testing"
)

// TestMessageValidate tests envelope validation for inbound frames
func TestMessageValidate(t *testing.T) {
	t.Run("ValidInboundTypes", func(t *testing.T) {
		inbound := []MessageType{
			MessageTypeSetup, MessageTypeHeartbeat, MessageTypeSend,
			MessageTypeDelivered, MessageTypeRead, MessageTypeReadAll,
			MessageTypeTyping, MessageTypeStopTyping,
		}
		for _, msgType := range inbound {
			msg := &Message{ID: "m1", Type: msgType}
			if err := msg.Validate(); err != nil {
				t.Errorf("Type %s should validate: %v", msgType, err)
			}
			if msg.Data == nil {
				t.Errorf("Validate should initialize Data for type %s", msgType)
			}
		}
	})

	t.Run("OutboundTypesRejectedInbound", func(t *testing.T) {
		msg := &Message{ID: "m1", Type: MessageTypeNewMessage}
		if err := msg.Validate(); err == nil {
			t.Error("Outbound type should not validate as inbound")
		}
	})

	t.Run("MissingID", func(t *testing.T) {
		msg := &Message{Type: MessageTypeSend}
		if err := msg.Validate(); err == nil {
			t.Error("Message without id should not validate")
		}
	})

	t.Run("UnknownType", func(t *testing.T) {
		msg := &Message{ID: "m1", Type: "bogus"}
		if err := msg.Validate(); err == nil {
			t.Error("Unknown type should not validate")
		}
	})
}

// TestMessageEncode tests the wire round trip
func TestMessageEncode(t *testing.T) {
	msg := NewMessage("m1", MessageTypeNewMessage, 7, map[string]interface{}{
		"message_id": 42,
	})

	var decoded Message
	if err := json.Unmarshal(msg.Encode(), &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded.ID != "m1" || decoded.Type != MessageTypeNewMessage || decoded.UserID != 7 {
		t.Errorf("Round trip lost fields: %+v", decoded)
	}
	if decoded.Timestamp == 0 {
		t.Error("Timestamp should be set")
	}
	if id, ok := decoded.Data["message_id"].(float64); !ok || id != 42 {
		t.Errorf("Data lost in round trip: %v", decoded.Data)
	}
}

// TestNewErrorMessage tests the error envelope shape
func TestNewErrorMessage(t *testing.T) {
	msg := NewErrorMessage("m1", 7, "INVALID_MESSAGE", "bad frame")
	if msg.Type != MessageTypeError {
		t.Errorf("Expected error type, got %s", msg.Type)
	}
	if msg.Data["code"] != "INVALID_MESSAGE" || msg.Data["message"] != "bad frame" {
		t.Errorf("Error payload wrong: %v", msg.Data)
	}
}
